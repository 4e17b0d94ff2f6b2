package pipeline

import (
	"context"
	"image"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.viam.com/test"

	"go.viam.com/stereo/camera"
	"go.viam.com/stereo/camera/fake"
	"go.viam.com/stereo/logging"
	"go.viam.com/stereo/rimage"
	"go.viam.com/stereo/rimage/chessboard"
)

func stubRig() (*stubSource, *stubSource) {
	left, right := newStubSource(), newStubSource()
	left.set(frameOf(camera.RoleLeft, fake.Render(2, 4, 0, 64, 48), 1))
	right.set(frameOf(camera.RoleRight, fake.Render(2, 4, 6, 64, 48), 1))
	return left, right
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	test.That(t, err, test.ShouldBeNil)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestRecorderTickSavesPairs(t *testing.T) {
	left, right := stubRig()
	dir := filepath.Join(t.TempDir(), "captures")
	sink := &recordingSink{}
	r, err := NewRecorder(left, right, RecorderOptions{Dir: dir}, sink, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	saved, err := r.Tick(context.Background(), false)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, saved, test.ShouldBeFalse)
	_, err = os.Stat(dir)
	test.That(t, os.IsNotExist(err), test.ShouldBeTrue)

	for i := 0; i < 3; i++ {
		saved, err := r.Tick(context.Background(), true)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, saved, test.ShouldBeTrue)
	}
	test.That(t, r.Index(), test.ShouldEqual, 3)
	test.That(t, listDir(t, dir), test.ShouldResemble, []string{
		"left_000.png", "left_001.png", "left_002.png",
		"right_000.png", "right_001.png", "right_002.png",
	})

	// Saved frames are the raw frames, not the preview.
	img, err := rimage.ReadFile(filepath.Join(dir, "right_001.png"))
	test.That(t, err, test.ShouldBeNil)
	f, _ := right.LatestFrame()
	test.That(t, img.Pix, test.ShouldResemble, f.Image.Pix)

	test.That(t, sink.count(), test.ShouldEqual, 4)
	test.That(t, sink.last[0].Name, test.ShouldEqual, ImageDual)
	test.That(t, sink.last[0].Image.Bounds(), test.ShouldResemble, image.Rect(0, 0, 128, 48))

	// Each pane is labeled along its top edge, the rest of the preview is the raw pair.
	lf, _ := left.LatestFrame()
	raw := rimage.HConcat(lf.Image, f.Image)
	preview := rimage.ToNRGBA(sink.last[0].Image)
	test.That(t, preview.Pix[preview.PixOffset(0, 47):], test.ShouldResemble, raw.Pix[raw.PixOffset(0, 47):])
	for _, x := range []int{63, 127} {
		px := preview.NRGBAAt(x, 1)
		test.That(t, int(max(px.R, px.G, px.B)), test.ShouldBeLessThanOrEqualTo, 100)
	}
}

func TestRecorderKeepsPairsAligned(t *testing.T) {
	left, right := stubRig()
	dir := t.TempDir()
	// A directory in place of the right image makes that write fail.
	test.That(t, os.Mkdir(filepath.Join(dir, "right_000.png"), 0o750), test.ShouldBeNil)
	r, err := NewRecorder(left, right, RecorderOptions{Dir: dir}, &recordingSink{}, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	saved, err := r.Tick(context.Background(), true)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, saved, test.ShouldBeFalse)
	test.That(t, r.Index(), test.ShouldEqual, 0)
	test.That(t, listDir(t, dir), test.ShouldResemble, []string{"right_000.png"})

	test.That(t, os.Remove(filepath.Join(dir, "right_000.png")), test.ShouldBeNil)
	saved, err = r.Tick(context.Background(), true)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, saved, test.ShouldBeTrue)
	test.That(t, listDir(t, dir), test.ShouldResemble, []string{"left_000.png", "right_000.png"})
}

func TestRecorderWaitsForBothFrames(t *testing.T) {
	left, right := newStubSource(), newStubSource()
	left.set(frameOf(camera.RoleLeft, fake.Render(2, 4, 0, 64, 48), 1))
	dir := t.TempDir()
	r, err := NewRecorder(left, right, RecorderOptions{Dir: dir}, nil, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	saved, err := r.Tick(context.Background(), true)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, saved, test.ShouldBeFalse)
	test.That(t, listDir(t, dir), test.ShouldBeEmpty)
	test.That(t, r.Index(), test.ShouldEqual, 0)
}

func TestRecorderRunCapturesThenQuits(t *testing.T) {
	left, right := stubRig()
	dir := t.TempDir()
	sink := &recordingSink{}
	r, err := NewRecorder(left, right, RecorderOptions{Dir: dir, WaitTimeout: 10 * time.Millisecond}, sink,
		logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	commands := make(chan Command, 3)
	commands <- CommandCapture
	commands <- CommandCapture
	commands <- CommandQuit

	test.That(t, r.Run(context.Background(), commands), test.ShouldBeNil)
	test.That(t, r.Index(), test.ShouldEqual, 2)
	test.That(t, listDir(t, dir), test.ShouldResemble, []string{
		"left_000.png", "left_001.png", "right_000.png", "right_001.png",
	})
	test.That(t, left.stopped, test.ShouldEqual, 1)
	test.That(t, right.stopped, test.ShouldEqual, 1)
	test.That(t, sink.closed, test.ShouldEqual, 1)
}

func TestRecorderRunUntilCancelled(t *testing.T) {
	left, right := startRig(t, 2, camera.Resolution{Width: 48, Height: 32}, 10*time.Millisecond)
	sink := &recordingSink{}
	r, err := NewRecorder(left, right, RecorderOptions{Dir: t.TempDir(), WaitTimeout: 20 * time.Millisecond}, sink,
		logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	ctx, cancel := context.WithCancel(context.Background())
	commands := make(chan Command)
	close(commands)
	done := make(chan error, 1)
	go func() {
		done <- r.Run(ctx, commands)
	}()
	waitForPair(t, left, right)
	cancel()
	test.That(t, <-done, test.ShouldBeNil)
	test.That(t, r.Index(), test.ShouldEqual, 0)
	test.That(t, left.State(), test.ShouldEqual, camera.StateStopped)
	test.That(t, right.State(), test.ShouldEqual, camera.StateStopped)
	test.That(t, sink.closed, test.ShouldEqual, 1)
}

func TestRecorderResume(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"left_004.png", "right_004.png", "left_002.png", "notes.txt"} {
		test.That(t, os.WriteFile(filepath.Join(dir, name), nil, 0o600), test.ShouldBeNil)
	}
	left, right := stubRig()

	r, err := NewRecorder(left, right, RecorderOptions{Dir: dir, Resume: true}, nil, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, r.Index(), test.ShouldEqual, 5)

	r, err = NewRecorder(left, right, RecorderOptions{Dir: dir}, nil, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, r.Index(), test.ShouldEqual, 0)

	r, err = NewRecorder(left, right, RecorderOptions{Dir: filepath.Join(dir, "missing"), Resume: true}, nil,
		logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, r.Index(), test.ShouldEqual, 0)
}

func TestRecorderFormats(t *testing.T) {
	for _, format := range []rimage.Format{rimage.FormatPPM, rimage.FormatQOI} {
		t.Run(string(format), func(t *testing.T) {
			left, right := stubRig()
			dir := t.TempDir()
			r, err := NewRecorder(left, right, RecorderOptions{Dir: dir, Format: format}, nil, logging.NewTestLogger(t))
			test.That(t, err, test.ShouldBeNil)
			saved, err := r.Tick(context.Background(), true)
			test.That(t, err, test.ShouldBeNil)
			test.That(t, saved, test.ShouldBeTrue)

			ext := format.Extension()
			test.That(t, listDir(t, dir), test.ShouldResemble, []string{"left_000" + ext, "right_000" + ext})
		})
	}
}

func TestRecorderPreviewWithDetector(t *testing.T) {
	left, right := stubRig()
	detector, err := chessboard.NewDetector(4, 3)
	test.That(t, err, test.ShouldBeNil)
	sink := &recordingSink{}
	r, err := NewRecorder(left, right, RecorderOptions{
		Dir:           t.TempDir(),
		Detector:      detector,
		PreviewWidth:  64,
		PreviewHeight: 64,
	}, sink, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)

	saved, err := r.Tick(context.Background(), false)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, saved, test.ShouldBeFalse)
	test.That(t, sink.count(), test.ShouldEqual, 1)
	test.That(t, sink.last[0].Image.Bounds(), test.ShouldResemble, image.Rect(0, 0, 64, 24))
}

func TestNewRecorderErrors(t *testing.T) {
	left, right := stubRig()
	_, err := NewRecorder(left, nil, RecorderOptions{Dir: "x"}, nil, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldNotBeNil)
	_, err = NewRecorder(left, right, RecorderOptions{}, nil, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldNotBeNil)
}
