package pipeline

import (
	"context"
	"image"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/goleak"
	"go.viam.com/test"
	"go.viam.com/utils/testutils"

	"go.viam.com/stereo/calibration"
	"go.viam.com/stereo/camera"
	"go.viam.com/stereo/camera/fake"
	"go.viam.com/stereo/logging"
	"go.viam.com/stereo/rimage/transform"
	"go.viam.com/stereo/stereo"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// recordingSink keeps the names of everything it was shown.
type recordingSink struct {
	mu     sync.Mutex
	shows  [][]string
	last   []NamedImage
	closed int
	err    error
}

func (s *recordingSink) Show(ctx context.Context, images []NamedImage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	names := make([]string, 0, len(images))
	for _, img := range images {
		names = append(names, img.Name)
	}
	s.shows = append(s.shows, names)
	s.last = images
	return nil
}

func (s *recordingSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.shows)
}

// stubSource is a Source whose latest frame is set by the test.
type stubSource struct {
	mu      sync.Mutex
	frame   *camera.Frame
	updates chan struct{}
	stopped int
}

func newStubSource() *stubSource {
	return &stubSource{updates: make(chan struct{}, 1)}
}

func (s *stubSource) set(f *camera.Frame) {
	s.mu.Lock()
	s.frame = f
	s.mu.Unlock()
	select {
	case s.updates <- struct{}{}:
	default:
	}
}

func (s *stubSource) LatestFrame() (*camera.Frame, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frame, s.frame != nil
}

func (s *stubSource) Updates() <-chan struct{} { return s.updates }

func (s *stubSource) State() camera.State { return camera.StateRunning }

func (s *stubSource) Err() error { return nil }

func (s *stubSource) Stop() {
	s.mu.Lock()
	s.stopped++
	s.mu.Unlock()
}

func frameOf(role camera.Role, img *image.NRGBA, seq uint64) *camera.Frame {
	return &camera.Frame{Role: role, Image: img, Seq: seq, CapturedAt: time.Now()}
}

// startRig starts a fake rig of two cameras with the given disparity.
func startRig(t *testing.T, disparity int, res camera.Resolution, period time.Duration) (*camera.FrameSource, *camera.FrameSource) {
	t.Helper()
	cfg := fake.StereoConfig(disparity)
	cfg.FramePeriod = period
	return startSources(t, cfg, res, false)
}

// startUpsideDownRig starts a rig whose cameras are mounted upside down and flipped back in both
// directions. Rotating a frame by 180 degrees mirrors the scene offsets, so the left camera looks
// further into the texture for the flipped pair to keep the given disparity.
func startUpsideDownRig(t *testing.T, disparity int, res camera.Resolution, period time.Duration) (
	*camera.FrameSource, *camera.FrameSource,
) {
	t.Helper()
	cfg := fake.StereoConfig(disparity)
	cfg.FramePeriod = period
	cfg.Cameras["0"] = fake.CameraConfig{Shift: disparity}
	cfg.Cameras["1"] = fake.CameraConfig{}
	return startSources(t, cfg, res, true)
}

func startSources(t *testing.T, cfg fake.Config, res camera.Resolution, flip bool) (*camera.FrameSource, *camera.FrameSource) {
	t.Helper()
	driver := fake.NewDriver(cfg, nil)
	logger := logging.NewTestLogger(t)

	left := camera.NewFrameSource(driver, logger)
	right := camera.NewFrameSource(driver, logger)
	t.Cleanup(left.Stop)
	t.Cleanup(right.Stop)
	for _, cc := range []struct {
		source *camera.FrameSource
		cfg    camera.Config
	}{
		{left, camera.Config{ID: "0", Role: camera.RoleLeft}},
		{right, camera.Config{ID: "1", Role: camera.RoleRight}},
	} {
		cc.cfg.Resolution = res
		cc.cfg.FlipHorizontal = flip
		cc.cfg.FlipVertical = flip
		test.That(t, cc.source.Configure(context.Background(), cc.cfg), test.ShouldEqual, camera.StateConfigured)
	}
	left.Start()
	right.Start()
	return left, right
}

func waitForPair(t *testing.T, left, right Source) {
	t.Helper()
	testutils.WaitForAssertionWithSleep(t, 20*time.Millisecond, 500, func(tb testing.TB) {
		tb.Helper()
		_, ok := LatestPair(left, right)
		test.That(tb, ok, test.ShouldBeTrue)
	})
}

func identityCalibration(t *testing.T, width, height int, f, baseline float64) *calibration.Config {
	t.Helper()
	cfg, err := calibration.NewConfig(width, height,
		transform.IdentityRectifyMap(width, height),
		transform.IdentityRectifyMap(width, height),
		calibration.NewReprojectionMatrix(f, float64(width)/2, float64(height)/2, baseline))
	test.That(t, err, test.ShouldBeNil)
	return cfg
}

func testEngine(t *testing.T, numDisparities int) *stereo.Engine {
	t.Helper()
	cfg := stereo.DefaultEngineConfig()
	cfg.Matcher.NumDisparities = numDisparities
	cfg.Matcher.BlockSize = 5
	engine, err := stereo.NewEngine(cfg, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	return engine
}

func TestParseAndReadCommands(t *testing.T) {
	test.That(t, ParseCommand(" Q "), test.ShouldEqual, CommandQuit)
	test.That(t, ParseCommand("s"), test.ShouldEqual, CommandCapture)
	test.That(t, ParseCommand("c"), test.ShouldEqual, CommandCapture)
	test.That(t, ParseCommand("p"), test.ShouldEqual, CommandSnapshot)
	test.That(t, ParseCommand("x"), test.ShouldEqual, CommandNone)

	out := make(chan Command, 10)
	err := ReadCommands(context.Background(), strings.NewReader("c\nx\n\np\nq\n"), out)
	test.That(t, err, test.ShouldBeNil)
	close(out)
	var got []Command
	for cmd := range out {
		got = append(got, cmd)
	}
	test.That(t, got, test.ShouldResemble, []Command{CommandCapture, CommandSnapshot, CommandQuit})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = ReadCommands(ctx, strings.NewReader("q\n"), make(chan Command))
	test.That(t, errors.Is(err, context.Canceled), test.ShouldBeTrue)
}

func TestMultiSink(t *testing.T) {
	a, b := &recordingSink{}, &recordingSink{}
	ms := MultiSink(a, b)
	test.That(t, ms.Show(context.Background(), []NamedImage{{Name: ImageDual}}), test.ShouldBeNil)
	test.That(t, ms.Close(), test.ShouldBeNil)
	test.That(t, b.shows, test.ShouldResemble, [][]string{{ImageDual}})
	test.That(t, a.closed, test.ShouldEqual, 1)

	a.err = errors.New("window closed")
	test.That(t, ms.Show(context.Background(), nil), test.ShouldNotBeNil)
}
