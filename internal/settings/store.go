// Package settings holds the operator-tunable console settings file.
// Everything here has a working default; the file exists so operators can
// retune polling and reconnect behavior without rebuilding.
package settings

import (
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
)

const settingsTOMLFileName = "settings.toml"

type QuickButton struct {
	Label string `json:"label" toml:"label"`
	Text  string `json:"text" toml:"text"`
}

type PollSettings struct {
	IntervalMS     int `json:"interval_ms" toml:"interval_ms"`
	ReplyWindowSec int `json:"reply_window_seconds" toml:"reply_window_seconds"`
	AskWindowSec   int `json:"ask_window_seconds" toml:"ask_window_seconds"`
}

type GatewaySettings struct {
	ReconnectDelayMS int `json:"reconnect_delay_ms" toml:"reconnect_delay_ms"`
}

type Settings struct {
	QuickButtons []QuickButton   `json:"quick_buttons" toml:"quick_buttons"`
	Poll         PollSettings    `json:"poll" toml:"poll"`
	Gateway      GatewaySettings `json:"gateway" toml:"gateway"`
}

type Store struct {
	dir string
}

func NewStore(dir string) *Store {
	return &Store{dir: dir}
}

func (s *Store) LoadOrInit() (Settings, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return Settings{}, err
	}

	path := filepath.Join(s.dir, settingsTOMLFileName)
	if b, err := os.ReadFile(path); err == nil {
		var cfg Settings
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return Settings{}, err
		}
		return normalizeSettings(cfg), nil
	} else if !os.IsNotExist(err) {
		return Settings{}, err
	}

	cfg := normalizeSettings(Settings{})
	if err := writeTOMLAtomically(path, cfg); err != nil {
		return Settings{}, err
	}
	return cfg, nil
}

func (s *Store) Save(cfg Settings) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	return writeTOMLAtomically(filepath.Join(s.dir, settingsTOMLFileName), normalizeSettings(cfg))
}

func normalizeSettings(cfg Settings) Settings {
	if cfg.Poll.IntervalMS <= 0 {
		cfg.Poll.IntervalMS = 900
	}
	if cfg.Poll.ReplyWindowSec <= 0 {
		cfg.Poll.ReplyWindowSec = 90
	}
	if cfg.Poll.AskWindowSec <= 0 {
		cfg.Poll.AskWindowSec = 45
	}
	if cfg.Gateway.ReconnectDelayMS <= 0 {
		cfg.Gateway.ReconnectDelayMS = 1500
	}

	buttons := cfg.QuickButtons[:0]
	for _, b := range cfg.QuickButtons {
		b.Label = strings.TrimSpace(b.Label)
		b.Text = strings.TrimSpace(b.Text)
		if b.Label == "" || b.Text == "" {
			continue
		}
		buttons = append(buttons, b)
	}
	cfg.QuickButtons = buttons
	if len(cfg.QuickButtons) == 0 {
		cfg.QuickButtons = defaultQuickButtons()
	}
	return cfg
}

func defaultQuickButtons() []QuickButton {
	return []QuickButton{
		{Label: "Status", Text: "Give me a short status update on the current task."},
		{Label: "Continue", Text: "Continue with the plan."},
		{Label: "Worklog", Text: "Summarize what you have done since my last message."},
	}
}

func writeTOMLAtomically(path string, v any) error {
	b, err := toml.Marshal(v)
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
