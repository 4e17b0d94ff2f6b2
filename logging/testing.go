package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

// testAppender logs through `tb.Log`, so output is attributed to the running test, including
// tests that call `t.Parallel()`.
type testAppender struct {
	tb testing.TB
}

// NewTestAppender returns an appender that writes to tb. The test framework stamps each line
// itself, so entries carry no time column.
func NewTestAppender(tb testing.TB) Appender {
	return &testAppender{tb}
}

func (tapp *testAppender) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	tapp.tb.Helper()
	line, err := formatEntry(entry, fields, false)
	tapp.tb.Log(line)
	return err
}

func (tapp *testAppender) Sync() error {
	return nil
}
