package command

import (
	"context"
	"testing"

	"opconsole/internal/config"
)

func TestBuildApp_DefaultCommandIsServe(t *testing.T) {
	serveCalled := 0
	migrateCalled := 0
	app := BuildApp(Deps{
		LoadConfig: func() config.Config {
			return config.Config{SessionKey: "agent-console"}
		},
		RunServe: func(context.Context, config.Config) error {
			serveCalled++
			return nil
		},
		RunMigrateUp: func(context.Context, config.Config) error {
			migrateCalled++
			return nil
		},
	})
	if err := app.RunContext(context.Background(), []string{"opconsole"}); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if serveCalled != 1 || migrateCalled != 0 {
		t.Fatalf("unexpected call count serve=%d migrate=%d", serveCalled, migrateCalled)
	}
}

func TestBuildApp_ServeCommand(t *testing.T) {
	serveCalled := 0
	var seen config.Config
	app := BuildApp(Deps{
		LoadConfig: func() config.Config {
			return config.Config{SessionKey: "agent:main"}
		},
		RunServe: func(_ context.Context, cfg config.Config) error {
			serveCalled++
			seen = cfg
			return nil
		},
	})
	if err := app.RunContext(context.Background(), []string{"opconsole", "serve"}); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if serveCalled != 1 {
		t.Fatalf("expected serve called once, got %d", serveCalled)
	}
	if seen.SessionKey != "agent:main" {
		t.Fatalf("loaded config not passed through: %+v", seen)
	}
}

func TestBuildApp_MigrateUpCommand(t *testing.T) {
	migrateCalled := 0
	app := BuildApp(Deps{
		LoadConfig: func() config.Config { return config.Config{} },
		RunServe:   func(context.Context, config.Config) error { return nil },
		RunMigrateUp: func(context.Context, config.Config) error {
			migrateCalled++
			return nil
		},
	})
	if err := app.RunContext(context.Background(), []string{"opconsole", "migrate", "up"}); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if migrateCalled != 1 {
		t.Fatalf("expected migrate command called once, got %d", migrateCalled)
	}
}

func TestBuildApp_MissingRunnerErrors(t *testing.T) {
	app := BuildApp(Deps{
		LoadConfig: func() config.Config { return config.Config{} },
	})
	if err := app.RunContext(context.Background(), []string{"opconsole"}); err == nil {
		t.Fatalf("expected error when serve runner is missing")
	}
}
