package logging

import (
	"testing"
)

func TestNewObservedTestLogger(t *testing.T) {
	logger, logs := NewObservedTestLogger(t)

	logger.Debugw("状態が変わりました", "from", "opening", "to", "ready")
	logger.Warnw("設定の適用に失敗しました", "setting", "zoom")

	if logs.Len() != 2 {
		t.Fatalf("Expected 2 log entries, got %d", logs.Len())
	}

	warnings := logs.FilterMessage("設定の適用に失敗しました").All()
	if len(warnings) != 1 {
		t.Fatalf("Expected 1 warning, got %d", len(warnings))
	}
	if got := warnings[0].ContextMap()["setting"]; got != "zoom" {
		t.Errorf("Expected setting=zoom, got %v", got)
	}
}

func TestNewLoggerConfig(t *testing.T) {
	cfg := NewLoggerConfig()
	if !cfg.DisableStacktrace {
		t.Error("Expected stacktraces to be disabled")
	}
	if cfg.Encoding != "console" {
		t.Errorf("Expected console encoding, got %s", cfg.Encoding)
	}
}
