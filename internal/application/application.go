// Package application wires the console together: stores, gateway bridge,
// chat service, fan-out hub, HTTP surface, and the leader lease.
package application

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"opconsole/internal/chat"
	"opconsole/internal/chatlog"
	"opconsole/internal/checklist"
	"opconsole/internal/config"
	"opconsole/internal/consoleapi"
	"opconsole/internal/db"
	"opconsole/internal/gateway"
	"opconsole/internal/hub"
	"opconsole/internal/leader"
	"opconsole/internal/lifecycle"
	"opconsole/internal/protocol"
	"opconsole/internal/runstate"
	"opconsole/internal/scheduled"
	"opconsole/internal/settings"
	"opconsole/internal/transcript"
	"opconsole/internal/worklog"
)

type StartOptions struct {
	Config config.Config
	Logger *slog.Logger
	// Dialer overrides the real gateway dialer (tests).
	Dialer gateway.Dialer
}

type Application struct {
	baseURL    string
	runFn      func(context.Context) error
	shutdownFn func(context.Context) error
}

func StartApplication(opts StartOptions) (*Application, error) {
	cfg := opts.Config
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	dataDir := strings.TrimSpace(cfg.DataDir)
	if dataDir == "" {
		return nil, fmt.Errorf("data dir is required")
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, err
	}

	settingsStore := settings.NewStore(dataDir)
	tuning, err := settingsStore.LoadOrInit()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	gdb, err := db.OpenSQLite(filepath.Join(dataDir, "console.db"))
	if err != nil {
		return nil, fmt.Errorf("open console db: %w", err)
	}
	closeDB := func() {
		if sqlDB, err := gdb.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}

	// The hub, the accept flow, and the API server reference each other;
	// late-bound closures break the cycle.
	var authorize func(r *http.Request) bool
	var acceptMessage func(text string, attachments []string) (chatlog.Message, error)
	var onFinalReply func(runID, text string)

	fanout := hub.New(hub.Config{
		MaxClients: cfg.MaxWSClients,
		Authorize: func(r *http.Request) bool {
			return authorize != nil && authorize(r)
		},
	}, func(text string, attachments []string) (string, error) {
		if acceptMessage == nil {
			return "", fmt.Errorf("console not ready")
		}
		msg, err := acceptMessage(text, attachments)
		if err != nil {
			return "", err
		}
		return msg.ID, nil
	}, logger)

	worklogStore, err := worklog.NewStore(gdb, func(e worklog.Entry) {
		fanout.BroadcastJSON(protocol.ConsoleWorklog, e)
	})
	if err != nil {
		closeDB()
		return nil, err
	}
	chatStore, err := chatlog.NewStore(gdb)
	if err != nil {
		closeDB()
		return nil, err
	}
	scheduledStore, err := scheduled.NewStore(gdb, func(e scheduled.Entry) {
		fanout.BroadcastJSON(protocol.ConsoleScheduled, e)
	})
	if err != nil {
		closeDB()
		return nil, err
	}
	transcriptStore := transcript.NewStore(filepath.Join(dataDir, "transcript.jsonl"))

	tracker := runstate.NewTracker(filepath.Join(dataDir, "run-state.json"),
		runstate.WithNotify(func(sessionKey string, state runstate.State) {
			fanout.BroadcastJSON(protocol.ConsoleRun, map[string]any{
				"sessionKey": sessionKey,
				"state":      state,
			})
		}))

	checklists := checklist.NewStore(filepath.Join(dataDir, "dynamic-exec.json"),
		checklist.WithNotify(func(state checklist.State, active *checklist.List) {
			fanout.Broadcast(protocol.ConsoleFrame{
				Type:   protocol.ConsoleChecklist,
				State:  protocol.MustRaw(state),
				Active: mustRawOrNull(active),
			})
		}))

	dialer := opts.Dialer
	if dialer == nil {
		dialer = gateway.RealDialer{}
	}
	bridge := gateway.New(gateway.Config{
		URL:            cfg.GatewayURL,
		Token:          cfg.ResolveGatewayToken(),
		SessionKey:     cfg.SessionKey,
		ClientID:       "opconsole-" + uuid.NewString()[:8],
		DisplayName:    cfg.DisplayName,
		ReconnectDelay: time.Duration(tuning.Gateway.ReconnectDelayMS) * time.Millisecond,
	}, dialer, logger, gateway.Hooks{
		OnFinalReply: func(runID, text string) {
			if onFinalReply != nil {
				onFinalReply(runID, text)
			}
		},
		// Liveness of anything in flight is unknowable once the socket drops.
		OnDisconnect: func(bool) { tracker.ForceIdle() },
	}, worklogStore)

	chatSvc, err := chat.NewService(chat.Config{
		SessionKey:    cfg.SessionKey,
		AskSessionKey: cfg.PlanSessionKey,
		PollInterval:  time.Duration(tuning.Poll.IntervalMS) * time.Millisecond,
		ReplyWindow:   time.Duration(tuning.Poll.ReplyWindowSec) * time.Second,
		AskWindow:     time.Duration(tuning.Poll.AskWindowSec) * time.Second,
	}, bridge, tracker, chatStore, transcriptStore, worklogStore, logger,
		chat.WithNotify(func(msg chatlog.Message) {
			fanout.BroadcastJSON(protocol.ConsoleMessage, msg)
			if msg.Role == chatlog.RoleAssistant {
				checklists.AutoCheckoff(msg.Text)
			}
		}))
	if err != nil {
		closeDB()
		return nil, err
	}
	onFinalReply = chatSvc.HandleFinalReply

	acceptMessage = func(text string, attachments []string) (chatlog.Message, error) {
		msg, err := chatSvc.Accept(text, attachments)
		if err != nil {
			return chatlog.Message{}, err
		}
		checklists.CaptureFromOperator(msg.ID, msg.Text)
		return msg, nil
	}

	leaderStore := leader.NewStore(filepath.Join(dataDir, "leader.json"))
	elector := leader.NewElector(leaderStore, "console-"+uuid.NewString()[:8], 0, logger,
		func(leading bool) {
			worklogStore.Record("leader.changed", map[string]any{"leading": leading})
		})

	apiServer := consoleapi.NewServer(consoleapi.Deps{
		AcceptMessage:    acceptMessage,
		Chat:             chatSvc,
		Messages:         chatStore,
		Worklog:          worklogStore,
		Scheduled:        scheduledStore,
		Transcript:       transcriptStore,
		Checklists:       checklists,
		RunStates:        tracker,
		Settings:         settingsStore,
		GatewayConnected: bridge.Connected,
		Leading:          elector.Leading,
		SessionKey:       cfg.SessionKey,
		AuthUser:         cfg.AuthUser,
		AuthPass:         cfg.AuthPass,
		WS:               fanout,
		Logger:           logger,
	})
	authorize = apiServer.Authorize

	addr := fmt.Sprintf("%s:%d", cfg.LocalHost, cfg.LocalPort)
	httpServer := &http.Server{
		Addr:    addr,
		Handler: apiServer.Handler(),
	}

	mgr := lifecycle.NewManager()
	mgr.AddRun("gateway-bridge", bridge.Run)
	mgr.AddRun("leader-elector", elector.Run)
	mgr.AddRun("http-server", func(runCtx context.Context) error {
		go func() {
			<-runCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_ = httpServer.Shutdown(shutdownCtx)
		}()
		err := httpServer.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	mgr.AddShutdown("close-observers", func(context.Context) error {
		fanout.CloseAll()
		return nil
	})
	mgr.AddShutdown("http-server-shutdown", func(context.Context) error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		err := httpServer.Shutdown(shutdownCtx)
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	})
	mgr.AddShutdown("close-db", func(context.Context) error {
		closeDB()
		return nil
	})

	app := &Application{
		baseURL: "http://" + addr,
		runFn: func(ctx context.Context) error {
			return mgr.StartAndWait(ctx, os.Interrupt)
		},
		shutdownFn: func(context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		},
	}
	return app, nil
}

func (a *Application) BaseURL() string {
	if a == nil {
		return ""
	}
	return a.baseURL
}

func (a *Application) Run(ctx context.Context) error {
	if a == nil || a.runFn == nil {
		return nil
	}
	return a.runFn(ctx)
}

func (a *Application) Shutdown(ctx context.Context) error {
	if a == nil || a.shutdownFn == nil {
		return nil
	}
	return a.shutdownFn(ctx)
}

func mustRawOrNull(v *checklist.List) json.RawMessage {
	if v == nil {
		return json.RawMessage("null")
	}
	return protocol.MustRaw(v)
}
