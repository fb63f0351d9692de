package settings

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadOrInit_WritesDefaults(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)

	cfg, err := store.LoadOrInit()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cfg.Poll.IntervalMS != 900 || cfg.Poll.ReplyWindowSec != 90 || cfg.Poll.AskWindowSec != 45 {
		t.Fatalf("unexpected poll defaults: %+v", cfg.Poll)
	}
	if cfg.Gateway.ReconnectDelayMS != 1500 {
		t.Fatalf("unexpected reconnect default: %d", cfg.Gateway.ReconnectDelayMS)
	}
	if len(cfg.QuickButtons) == 0 {
		t.Fatalf("expected default quick buttons")
	}

	raw, err := os.ReadFile(filepath.Join(dir, settingsTOMLFileName))
	if err != nil {
		t.Fatalf("settings file not written: %v", err)
	}
	if !strings.Contains(string(raw), "interval_ms") {
		t.Fatalf("unexpected file contents:\n%s", raw)
	}
}

func TestSaveAndReload(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)

	cfg, err := store.LoadOrInit()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	cfg.Poll.IntervalMS = 250
	cfg.QuickButtons = []QuickButton{{Label: "Deploy", Text: "Run the deploy checklist."}}
	if err := store.Save(cfg); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	got, err := store.LoadOrInit()
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if got.Poll.IntervalMS != 250 {
		t.Fatalf("interval did not round-trip: %d", got.Poll.IntervalMS)
	}
	if len(got.QuickButtons) != 1 || got.QuickButtons[0].Label != "Deploy" {
		t.Fatalf("quick buttons did not round-trip: %+v", got.QuickButtons)
	}
}

func TestNormalize_DropsBlankButtonsAndFixesRanges(t *testing.T) {
	cfg := normalizeSettings(Settings{
		QuickButtons: []QuickButton{{Label: " ", Text: "x"}, {Label: "Go", Text: "  run it  "}},
		Poll:         PollSettings{IntervalMS: -1},
	})
	if len(cfg.QuickButtons) != 1 || cfg.QuickButtons[0].Text != "run it" {
		t.Fatalf("unexpected buttons: %+v", cfg.QuickButtons)
	}
	if cfg.Poll.IntervalMS != 900 {
		t.Fatalf("negative interval should reset, got %d", cfg.Poll.IntervalMS)
	}
}
