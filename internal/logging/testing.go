package logging

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// TestLogger is a Logger that keeps every entry in memory, down to
// TraceLevel, for assertions.
type TestLogger struct {
	*Logger
	logs *observer.ObservedLogs
}

// NewTestLogger returns an observing logger.
func NewTestLogger() *TestLogger {
	core, logs := observer.New(TraceLevel)
	return &TestLogger{Logger: &Logger{zap: zap.New(core)}, logs: logs}
}

// All returns every recorded entry.
func (t *TestLogger) All() []observer.LoggedEntry { return t.logs.All() }

// FilterMessage returns entries whose message contains msg.
func (t *TestLogger) FilterMessage(msg string) *observer.ObservedLogs {
	return t.logs.FilterMessageSnippet(msg)
}

// Reset drops recorded entries.
func (t *TestLogger) Reset() { t.logs.TakeAll() }

func (t *TestLogger) matching(level zapcore.Level, msg string) *observer.ObservedLogs {
	return t.logs.FilterLevelExact(level).FilterMessageSnippet(msg)
}

// AssertLogged fails tb unless an entry at level contains msg.
func (t *TestLogger) AssertLogged(tb testing.TB, level zapcore.Level, msg string) {
	tb.Helper()
	if t.matching(level, msg).Len() == 0 {
		tb.Errorf("no %v entry containing %q; got %+v", level, msg, t.logs.All())
	}
}

// AssertNotLogged fails tb if an entry at level contains msg.
func (t *TestLogger) AssertNotLogged(tb testing.TB, level zapcore.Level, msg string) {
	tb.Helper()
	if n := t.matching(level, msg).Len(); n > 0 {
		tb.Errorf("found %d %v entries containing %q", n, level, msg)
	}
}

// AssertField fails tb unless an entry containing msg carries key=want.
// Integer fields compare as int64.
func (t *TestLogger) AssertField(tb testing.TB, msg, key string, want any) {
	tb.Helper()
	if t.logs.FilterMessageSnippet(msg).FilterField(zap.Any(key, want)).Len() > 0 {
		return
	}
	tb.Errorf("no entry containing %q with %s=%v", msg, key, want)
}
