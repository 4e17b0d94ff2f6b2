package pipeline

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/multierr"

	"go.viam.com/stereo/calibration"
	"go.viam.com/stereo/logging"
	"go.viam.com/stereo/pointcloud"
	"go.viam.com/stereo/rimage"
	"go.viam.com/stereo/stereo"
)

// Options tune the Coordinator. Zero values take defaults.
type Options struct {
	// UseFilter applies the edge-aware filter to every disparity map.
	UseFilter bool
	// Scale multiplies every reprojected coordinate. Defaults to 1.
	Scale float64
	// WaitTimeout bounds the wait for new frames between cycles. Defaults to 100ms.
	WaitTimeout time.Duration
	// StatsInterval is how often cycle statistics are logged. Defaults to 10s.
	StatsInterval time.Duration
	// PointCloudDir receives the clouds requested with SnapshotPointCloud.
	PointCloudDir string
	PCDType       pointcloud.PCDType
	// LASExport also writes every snapshot as a LAS file next to the pcd.
	LASExport bool
	Clock     clock.Clock
}

func (o *Options) setDefaults() {
	if o.Scale == 0 {
		o.Scale = 1
	}
	if o.WaitTimeout == 0 {
		o.WaitTimeout = 100 * time.Millisecond
	}
	if o.StatsInterval == 0 {
		o.StatsInterval = 10 * time.Second
	}
	if o.Clock == nil {
		o.Clock = clock.New()
	}
}

// Result is everything one processing cycle produced.
type Result struct {
	Pair           StereoPair
	RectifiedLeft  *image.NRGBA
	RectifiedRight *image.NRGBA
	Disparity      *stereo.DisparityMap
	Cloud          *pointcloud.Organized
	Elapsed        time.Duration
	// PointCloudFile is set when the cycle exported its cloud.
	PointCloudFile string
}

// Stats counts what the Coordinator has done so far.
type Stats struct {
	Cycles  uint64
	Skipped uint64
}

// Coordinator runs the depth pipeline on the latest frames of two sources.
type Coordinator struct {
	left, right Source
	calib       *calibration.Config
	engine      *stereo.Engine
	sink        Sink
	opts        Options
	logger      logging.Logger
	session     string

	cycles   atomic.Uint64
	skipped  atomic.Uint64
	snapshot atomic.Bool

	mu          sync.Mutex
	cycleTimes  stats.Float64Data
	medians     stats.Float64Data
	lastStats   time.Time
	exported    int
	degraded    map[Source]bool
	lastSkipped bool
}

// NewCoordinator returns a coordinator for a calibrated rig. Sources should already be started.
func NewCoordinator(
	left, right Source,
	calib *calibration.Config,
	engine *stereo.Engine,
	sink Sink,
	opts Options,
	logger logging.Logger,
) (*Coordinator, error) {
	if left == nil || right == nil {
		return nil, errors.New("coordinator needs two sources")
	}
	if calib == nil {
		return nil, errors.New("coordinator needs a calibration")
	}
	if engine == nil {
		return nil, errors.New("coordinator needs a depth engine")
	}
	if sink == nil {
		sink = DiscardSink()
	}
	opts.setDefaults()
	session := uuid.NewString()
	return &Coordinator{
		left:      left,
		right:     right,
		calib:     calib,
		engine:    engine,
		sink:      sink,
		opts:      opts,
		logger:    logger.WithFields("session", session),
		session:   session,
		lastStats: opts.Clock.Now(),
		degraded:  map[Source]bool{},
	}, nil
}

// Session identifies this coordinator in logs and exported file names.
func (c *Coordinator) Session() string {
	return c.session
}

// Stats returns the cycle counters.
func (c *Coordinator) Stats() Stats {
	return Stats{Cycles: c.cycles.Load(), Skipped: c.skipped.Load()}
}

// SnapshotPointCloud asks for the cloud of the next processed cycle to be written to
// Options.PointCloudDir.
func (c *Coordinator) SnapshotPointCloud() {
	c.snapshot.Store(true)
}

// Tick runs one cycle on the latest frames. ok is false, with no error, when either source has not
// produced a frame yet. Errors are fatal to the pipeline.
func (c *Coordinator) Tick(ctx context.Context) (*Result, bool, error) {
	c.checkSources()
	pair, ok := LatestPair(c.left, c.right)
	if !ok {
		c.skipped.Inc()
		c.mu.Lock()
		if !c.lastSkipped {
			c.logger.Info("waiting for frames")
		}
		c.lastSkipped = true
		c.mu.Unlock()
		return nil, false, nil
	}
	c.mu.Lock()
	c.lastSkipped = false
	c.mu.Unlock()

	res, err := c.Process(ctx, pair)
	if err != nil {
		return nil, true, err
	}
	return res, true, nil
}

// checkSources logs once per source that its capture loop has ended.
func (c *Coordinator) checkSources() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, s := range []Source{c.left, c.right} {
		err := s.Err()
		if err == nil || c.degraded[s] {
			continue
		}
		c.degraded[s] = true
		c.logger.Warnw("camera stopped capturing, pairing with its last frame", "state", s.State().String(), "error", err)
	}
}

// Process rectifies and matches one pair, reprojects the disparities and shows the result.
func (c *Coordinator) Process(ctx context.Context, pair StereoPair) (*Result, error) {
	start := c.opts.Clock.Now()
	if err := c.calib.CheckSize(pair.Left.Width(), pair.Left.Height()); err != nil {
		return nil, errors.Wrap(err, "left")
	}
	if err := c.calib.CheckSize(pair.Right.Width(), pair.Right.Height()); err != nil {
		return nil, errors.Wrap(err, "right")
	}
	c.logger.CDebugw(ctx, "processing pair",
		"left_seq", pair.Left.Seq, "right_seq", pair.Right.Seq, "skew", pair.Skew().String())

	rectL, rectR, err := c.calib.Rectify(ctx, pair.Left.Image, pair.Right.Image)
	if err != nil {
		return nil, err
	}
	dm, err := c.engine.ComputeDisparity(ctx, rimage.ToGray(rectL), rimage.ToGray(rectR), c.opts.UseFilter)
	if err != nil {
		return nil, err
	}
	cloud, err := stereo.Reproject(dm, c.calib.Q, c.opts.Scale)
	if err != nil {
		return nil, err
	}
	res := &Result{Pair: pair, RectifiedLeft: rectL, RectifiedRight: rectR, Disparity: dm, Cloud: cloud}

	if c.snapshot.CompareAndSwap(true, false) {
		path, err := c.exportCloud(cloud, rectL)
		if err != nil {
			c.logger.Errorw("cannot export point cloud", "error", err)
		} else {
			res.PointCloudFile = path
			c.logger.Infow("point cloud exported", "path", path)
		}
	}

	disparityImg, err := rimage.ColorizeAuto(dm.Data, dm.Width, dm.Height)
	if err != nil {
		return nil, err
	}
	depthImg, err := rimage.ColorizeAuto(cloud.Depths(), cloud.Width, cloud.Height)
	if err != nil {
		return nil, err
	}
	if err := c.sink.Show(ctx, []NamedImage{
		{Name: ImageLeft, Image: pair.Left.Image},
		{Name: ImageRight, Image: pair.Right.Image},
		{Name: ImageDisparity, Image: rimage.Label(disparityImg, "disparity")},
		{Name: ImageDepth, Image: rimage.Label(depthImg, "depth")},
	}); err != nil {
		return nil, errors.Wrap(err, "cannot show images")
	}

	res.Elapsed = c.opts.Clock.Since(start)
	c.cycles.Inc()
	c.record(res)
	return res, nil
}

func (c *Coordinator) exportCloud(cloud *pointcloud.Organized, colors image.Image) (string, error) {
	if c.opts.PointCloudDir == "" {
		return "", errors.New("no point cloud directory configured")
	}
	if err := os.MkdirAll(c.opts.PointCloudDir, 0o750); err != nil {
		return "", err
	}
	if err := cloud.SetColors(colors); err != nil {
		return "", err
	}
	c.mu.Lock()
	n := c.exported
	c.exported++
	c.mu.Unlock()
	base := filepath.Join(c.opts.PointCloudDir, fmt.Sprintf("cloud_%s_%04d", c.session[:8], n))
	path := base + ".pcd"
	if err := pointcloud.WritePCDFile(path, cloud, c.opts.PCDType); err != nil {
		return path, err
	}
	if c.opts.LASExport {
		if err := pointcloud.WriteLASFile(base+".las", cloud); err != nil {
			return path, errors.Wrap(err, "cannot write las file")
		}
	}
	return path, nil
}

const statsWindow = 100

// record keeps recent cycle timings and logs a summary every StatsInterval.
func (c *Coordinator) record(res *Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cycleTimes = appendWindow(c.cycleTimes, float64(res.Elapsed)/float64(time.Millisecond))
	if ds, err := res.Disparity.Stats(); err == nil {
		c.medians = appendWindow(c.medians, ds.Median)
	}

	now := c.opts.Clock.Now()
	if now.Sub(c.lastStats) < c.opts.StatsInterval {
		return
	}
	c.lastStats = now
	mean, _ := stats.Mean(c.cycleTimes)
	p95, _ := stats.Percentile(c.cycleTimes, 95)
	median, _ := stats.Median(c.medians)
	c.logger.Infow("pipeline stats",
		"cycles", c.cycles.Load(),
		"skipped", c.skipped.Load(),
		"cycle_ms_mean", mean,
		"cycle_ms_p95", p95,
		"median_disparity", median,
	)
}

func appendWindow(data stats.Float64Data, v float64) stats.Float64Data {
	data = append(data, v)
	if len(data) > statsWindow {
		data = data[len(data)-statsWindow:]
	}
	return data
}

// Run processes pairs until ctx is done or a cycle fails. Between cycles it waits, up to
// Options.WaitTimeout, for either source to publish a new frame. On return both sources are
// stopped and the sink is closed.
func (c *Coordinator) Run(ctx context.Context) (err error) {
	c.logger.Infow("pipeline started", "width", c.calib.Width, "height", c.calib.Height, "filter", c.opts.UseFilter)
	defer func() {
		stopSources(c.left, c.right)
		err = multierr.Combine(err, c.sink.Close())
		st := c.Stats()
		c.logger.Infow("pipeline stopped", "cycles", st.Cycles, "skipped", st.Skipped)
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}
		if _, _, err := c.Tick(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		waitForUpdate(ctx, c.opts.Clock, c.opts.WaitTimeout, c.left, c.right)
	}
}
