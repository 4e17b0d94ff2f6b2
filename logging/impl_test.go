package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"go.viam.com/test"
)

type BasicStruct struct {
	X int
	y string
}

// assertLogMatches will fuzzy match log lines. Notably, this checks the time format, but ignores
// the exact time. And it expects a match on the filename, but the exact line number can be wrong.
func assertLogMatches(t *testing.T, actual *bytes.Buffer, expected string) {
	t.Helper()

	output, err := actual.ReadString('\n')
	test.That(t, err, test.ShouldBeNil)

	actualParts := strings.Split(strings.TrimSuffix(output, "\n"), "\t")
	expectedParts := strings.Split(expected, "\t")
	test.That(t, len(actualParts), test.ShouldEqual, len(expectedParts))
	// Use the length of the first string as a weak verification of checking that the result looks like a date.
	test.That(t, len(actualParts[0]), test.ShouldEqual, len(expectedParts[0]))
	// Log level and logger name.
	test.That(t, actualParts[1], test.ShouldEqual, expectedParts[1])
	test.That(t, actualParts[2], test.ShouldEqual, expectedParts[2])

	actualFilename, actualLineNumber, found := strings.Cut(actualParts[3], ":")
	test.That(t, found, test.ShouldBeTrue)
	expectedFilename, _, found := strings.Cut(expectedParts[3], ":")
	test.That(t, found, test.ShouldBeTrue)
	test.That(t, actualFilename, test.ShouldEqual, expectedFilename)
	_, err = strconv.Atoi(actualLineNumber)
	test.That(t, err, test.ShouldBeNil)

	test.That(t, actualParts[4], test.ShouldEqual, expectedParts[4])
	if len(actualParts) == 5 {
		return
	}

	expectedMap := make(map[string]any)
	test.That(t, json.Unmarshal([]byte(expectedParts[5]), &expectedMap), test.ShouldBeNil)
	actualMap := make(map[string]any)
	test.That(t, json.Unmarshal([]byte(actualParts[5]), &actualMap), test.ShouldBeNil)
	test.That(t, actualMap, test.ShouldResemble, expectedMap)
}

func TestConsoleOutputFormat(t *testing.T) {
	notStdout := &bytes.Buffer{}
	logger := newImpl("impl", NewAtomicLevelAt(DEBUG), true, NewWriterAppender(notStdout))

	logger.Info("impl Info log")
	assertLogMatches(t, notStdout,
		`2023-10-30T09:12:09.459Z	INFO	impl	logging/impl_test.go:60	impl Info log`)

	logger.Infof("impl %s log", "infof")
	assertLogMatches(t, notStdout,
		`2023-10-30T09:12:09.459Z	INFO	impl	logging/impl_test.go:64	impl infof log`)

	logger.Infow("impl logw", "key", "value", "BasicStruct", BasicStruct{1, "alice"})
	assertLogMatches(t, notStdout,
		`2023-10-30T09:12:09.459Z	INFO	impl	logging/impl_test.go:68	impl logw	{"key":"value","BasicStruct":{"X":1}}`)

	// Unpaired keys are reported rather than dropped.
	logger.Warnw("unpaired", "key")
	assertLogMatches(t, notStdout,
		`2023-10-30T09:12:09.459Z	WARN	impl	logging/impl_test.go:73	unpaired	{"key":"unpaired log key"}`)
}

func TestSubloggerAndFields(t *testing.T) {
	notStdout := &bytes.Buffer{}
	logger := newImpl("stereo", NewAtomicLevelAt(DEBUG), true, NewWriterAppender(notStdout))

	left := logger.Sublogger("camera").Sublogger("left").WithFields("camera_id", "0")
	left.Debugw("frame published", "seq", 3)
	assertLogMatches(t, notStdout,
		`2023-10-30T09:12:09.459Z	DEBUG	stereo.camera.left	logging/impl_test.go:83	frame published	{"camera_id":"0","seq":3}`)

	// Appenders added to the parent are seen by subloggers.
	other := &bytes.Buffer{}
	logger.AddAppender(NewWriterAppender(other))
	left.Info("second")
	test.That(t, notStdout.Len(), test.ShouldBeGreaterThan, 0)
	test.That(t, other.String(), test.ShouldContainSubstring, "second")
}

func TestLevels(t *testing.T) {
	logger, observed := NewObservedTestLogger(t)
	logger.SetLevel(WARN)
	logger.Info("dropped")
	logger.Warn("kept")
	test.That(t, observed.FilterMessage("dropped").Len(), test.ShouldEqual, 0)
	test.That(t, observed.FilterMessage("kept").Len(), test.ShouldEqual, 1)

	// Debug mode on the context bypasses the level.
	logger.CDebugw(EnableDebugMode(context.Background()), "traced", "k", 1)
	test.That(t, observed.FilterMessage("traced").Len(), test.ShouldEqual, 1)
	logger.CDebug(context.Background(), "untraced")
	test.That(t, observed.FilterMessage("untraced").Len(), test.ShouldEqual, 0)

	lvl, err := LevelFromString("WARNING")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, lvl, test.ShouldEqual, WARN)
	_, err = LevelFromString("loud")
	test.That(t, err, test.ShouldNotBeNil)

	var parsed Level
	test.That(t, json.Unmarshal([]byte(`"error"`), &parsed), test.ShouldBeNil)
	test.That(t, parsed, test.ShouldEqual, ERROR)
}

func TestFileAppender(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stereo_camera.log")
	appender := NewFileAppender(path, 1, 1)
	logger := NewBlankLogger("file")
	logger.AddAppender(appender)
	logger.Infow("written to disk", "n", 1)
	test.That(t, logger.Sync(), test.ShouldBeNil)
	test.That(t, appender.Close(), test.ShouldBeNil)

	contents, err := os.ReadFile(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, string(contents), test.ShouldContainSubstring, "written to disk")
	test.That(t, string(contents), test.ShouldContainSubstring, `{"n":1}`)
}
