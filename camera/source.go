package camera

import (
	"context"
	"image"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/disintegration/imaging"
	"go.uber.org/atomic"
	"go.uber.org/multierr"

	"go.viam.com/stereo/logging"
	"go.viam.com/stereo/utils"
)

// Config describes how to open and configure one camera of the rig.
type Config struct {
	ID             string
	Role           Role
	Resolution     Resolution
	FlipHorizontal bool
	FlipVertical   bool
	Controls       Controls
}

// FrameSource owns one camera. Once started, a background capture loop pulls frames from the
// driver as fast as the hardware delivers them and publishes each one as the new latest frame.
// Consumers poll LatestFrame and never block the loop; frames they did not read are dropped.
type FrameSource struct {
	driver Driver
	clock  clock.Clock

	mu      sync.Mutex
	logger  logging.Logger
	cfg     Config
	handle  Handle
	workers utils.StoppableWorkers

	state   atomic.Int32
	latest  atomic.Pointer[Frame]
	seq     atomic.Uint64
	loopErr atomic.Error
	updates chan struct{}
}

// Option configures a FrameSource.
type Option func(*FrameSource)

// WithClock sets the clock used to stamp frames.
func WithClock(clk clock.Clock) Option {
	return func(fs *FrameSource) {
		fs.clock = clk
	}
}

// NewFrameSource returns an uninitialized source backed by the given driver.
func NewFrameSource(driver Driver, logger logging.Logger, opts ...Option) *FrameSource {
	fs := &FrameSource{
		driver:  driver,
		clock:   clock.New(),
		logger:  logger,
		updates: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(fs)
	}
	return fs
}

// Configure opens the camera and applies the resolution and control parameters. It reports the
// outcome through the returned state only: any failure is logged, the camera is released and the
// source moves to StateFailed, after which Start does nothing. Configure is only effective on an
// uninitialized source.
func (fs *FrameSource) Configure(ctx context.Context, cfg Config) State {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if st := fs.State(); st != StateUninitialized {
		return st
	}
	if err := cfg.Role.Validate(); err != nil {
		fs.logger.Errorw("cannot configure camera", "camera_id", cfg.ID, "error", err)
		fs.state.Store(int32(StateFailed))
		return StateFailed
	}
	fs.cfg = cfg
	fs.logger = fs.logger.Sublogger(string(cfg.Role)).WithFields("camera_id", cfg.ID)

	if err := cfg.Resolution.Validate(); err != nil {
		fs.logger.Errorw("cannot configure camera", "error", err)
		fs.state.Store(int32(StateFailed))
		return StateFailed
	}

	handle, err := fs.driver.Open(ctx, cfg.ID)
	if err != nil {
		fs.logger.Errorw("cannot open camera", "error", err)
		fs.state.Store(int32(StateFailed))
		return StateFailed
	}
	if err := handle.Configure(ctx, cfg.Resolution, cfg.Controls); err != nil {
		fs.logger.Errorw("cannot configure camera", "resolution", cfg.Resolution.String(), "error", err)
		if closeErr := handle.Close(); closeErr != nil {
			fs.logger.Warnw("error closing camera after failed configure", "error", closeErr)
		}
		fs.state.Store(int32(StateFailed))
		return StateFailed
	}

	fs.handle = handle
	fs.state.Store(int32(StateConfigured))
	fs.logger.Infow("camera configured", "resolution", cfg.Resolution.String(),
		"flip_horizontal", cfg.FlipHorizontal, "flip_vertical", cfg.FlipVertical)
	return StateConfigured
}

// Start launches the capture loop. It does nothing unless the source is configured.
func (fs *FrameSource) Start() {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if !fs.state.CompareAndSwap(int32(StateConfigured), int32(StateRunning)) {
		fs.logger.Debugw("start ignored", "state", fs.State().String())
		return
	}
	// The loop owns the handle from here on.
	handle := fs.handle
	fs.handle = nil
	fs.workers = utils.NewStoppableWorkers(func(ctx context.Context) {
		fs.captureLoop(ctx, handle)
	})
}

// Stop ends the capture loop and waits for it to exit, so the camera has been released when Stop
// returns. Stop may be called any number of times and from any state.
func (fs *FrameSource) Stop() {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	switch fs.State() {
	case StateConfigured:
		// Never started, so only close.
		if err := fs.handle.Close(); err != nil {
			fs.logger.Warnw("error closing camera", "error", err)
		}
		fs.handle = nil
		fs.state.Store(int32(StateStopped))
	case StateRunning, StateStopped:
		if fs.workers != nil {
			fs.workers.Stop()
		}
		fs.state.Store(int32(StateStopped))
	case StateUninitialized:
		fs.state.Store(int32(StateStopped))
	case StateFailed:
	}
}

// State returns the current lifecycle state.
func (fs *FrameSource) State() State {
	return State(fs.state.Load())
}

// Config returns the configuration passed to Configure.
func (fs *FrameSource) Config() Config {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.cfg
}

// Err returns the error that ended the capture loop, if any.
func (fs *FrameSource) Err() error {
	return fs.loopErr.Load()
}

// LatestFrame returns the most recently published frame. The boolean is false until the first
// frame has been published and stays true afterwards.
func (fs *FrameSource) LatestFrame() (*Frame, bool) {
	frame := fs.latest.Load()
	return frame, frame != nil
}

// Updates returns a channel that receives a value after frames are published. Notifications
// coalesce: a consumer that falls behind sees a single pending value.
func (fs *FrameSource) Updates() <-chan struct{} {
	return fs.updates
}

// Published returns the number of frames published so far.
func (fs *FrameSource) Published() uint64 {
	return fs.seq.Load()
}

func (fs *FrameSource) captureLoop(ctx context.Context, handle Handle) {
	defer fs.release(handle)

	if err := handle.Start(ctx); err != nil {
		fs.loopErr.Store(err)
		fs.logger.Errorw("cannot start camera", "error", err)
		fs.state.CompareAndSwap(int32(StateRunning), int32(StateStopped))
		return
	}
	fs.logger.Info("capture started")

	for {
		if ctx.Err() != nil {
			fs.logger.Debugw("capture stopped", "frames", fs.seq.Load())
			return
		}
		img, err := handle.CaptureNext(ctx)
		if err != nil {
			if ctx.Err() != nil {
				fs.logger.Debugw("capture stopped", "frames", fs.seq.Load())
				return
			}
			// No retries: the source stays without new frames until it is rebuilt.
			fs.loopErr.Store(err)
			fs.logger.Errorw("capture failed, loop exiting", "error", err, "frames", fs.seq.Load())
			fs.state.CompareAndSwap(int32(StateRunning), int32(StateStopped))
			return
		}
		fs.publish(img)
	}
}

func (fs *FrameSource) publish(img image.Image) {
	frame := &Frame{
		Role:           fs.cfg.Role,
		Image:          orient(img, fs.cfg.FlipHorizontal, fs.cfg.FlipVertical),
		FlipHorizontal: fs.cfg.FlipHorizontal,
		FlipVertical:   fs.cfg.FlipVertical,
		Seq:            fs.seq.Inc(),
		CapturedAt:     fs.clock.Now(),
	}
	fs.latest.Store(frame)

	select {
	case fs.updates <- struct{}{}:
	default:
	}
}

// orient copies the driver image into the working format, applying the configured flips. The
// copy detaches the frame from any buffer the driver may reuse.
func orient(img image.Image, flipH, flipV bool) *image.NRGBA {
	switch {
	case flipH && flipV:
		return imaging.Rotate180(img)
	case flipH:
		return imaging.FlipH(img)
	case flipV:
		return imaging.FlipV(img)
	default:
		return imaging.Clone(img)
	}
}

func (fs *FrameSource) release(handle Handle) {
	err := multierr.Combine(handle.Stop(context.Background()), handle.Close())
	if err != nil {
		fs.logger.Warnw("error releasing camera", "error", err)
	}
}
