package logger

import "testing"

func TestNewRejectsUnknownLevel(t *testing.T) {
	if _, err := New("prod", "loud", "api"); err == nil {
		t.Fatalf("expected error for unknown level")
	}
}

func TestNewBuildsLoggerForKnownLevels(t *testing.T) {
	for _, level := range []string{"debug", "INFO", "warn", "error"} {
		log, err := New("dev", level, "bot")
		if err != nil {
			t.Fatalf("new logger with level %q: %v", level, err)
		}
		_ = log.Sync()
	}
}
