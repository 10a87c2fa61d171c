package framegraph

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

func TestDefaultLoggerIsSilent(t *testing.T) {
	l := Logger()
	if l == nil {
		t.Fatal("Logger() = nil")
	}
	for _, level := range []slog.Level{slog.LevelDebug, slog.LevelInfo, slog.LevelWarn, slog.LevelError} {
		if l.Enabled(context.Background(), level) {
			t.Errorf("default logger enabled at %v", level)
		}
	}
}

func TestSetLoggerRoundTrip(t *testing.T) {
	t.Cleanup(func() { SetLogger(nil) })

	var buf bytes.Buffer
	l := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))
	SetLogger(l)
	if Logger() != l {
		t.Fatal("Logger() is not the logger passed to SetLogger")
	}

	Logger().Debug("hidden")
	Logger().Info("passman: schedule instantiated", "passes", 4)
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("debug record written at info level: %q", out)
	}
	if !strings.Contains(out, "passes=4") {
		t.Errorf("info record missing: %q", out)
	}

	SetLogger(nil)
	if Logger() != silent {
		t.Error("SetLogger(nil) did not restore the silent logger")
	}
}

func TestSetLoggerWhileLogging(t *testing.T) {
	t.Cleanup(func() { SetLogger(nil) })

	var wg sync.WaitGroup
	for i := range 32 {
		wg.Go(func() { Logger().Warn("task failed", "task", i) })
		wg.Go(func() {
			SetLogger(slog.New(slog.DiscardHandler))
			SetLogger(nil)
		})
	}
	wg.Wait()
}
