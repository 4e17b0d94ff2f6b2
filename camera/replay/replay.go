// Package replay implements camera.Driver over recorded image files, so captured pairs can be run
// through the depth pipeline again.
package replay

import (
	"context"
	"image"
	"io"
	"path/filepath"
	"sort"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/disintegration/imaging"
	// register ppm format.
	_ "github.com/lmittmann/ppm"
	"github.com/pkg/errors"
	// register qoi format.
	_ "github.com/xfmoulet/qoi"

	"go.viam.com/stereo/camera"
)

// Config controls playback.
type Config struct {
	// FramePeriod is the delay between frames. Zero replays as fast as frames are requested.
	FramePeriod time.Duration `json:"frame_period"`
	// Loop restarts from the first file once the last one was delivered. Without it the camera
	// reports io.EOF, which ends the capture loop.
	Loop bool `json:"loop"`
}

// Driver opens replay cameras. A camera id is a glob pattern such as "data/camera/left_*.png";
// matching files are played back in lexical order.
type Driver struct {
	cfg   Config
	clock clock.Clock
}

// NewDriver returns a replay driver. A nil clock uses the wall clock.
func NewDriver(cfg Config, clk clock.Clock) *Driver {
	if clk == nil {
		clk = clock.New()
	}
	return &Driver{cfg: cfg, clock: clk}
}

// Open implements camera.Driver.
func (d *Driver) Open(ctx context.Context, id string) (camera.Handle, error) {
	files, err := filepath.Glob(id)
	if err != nil {
		return nil, errors.Wrapf(camera.ErrInvalidCamera, "bad pattern %q: %v", id, err)
	}
	if len(files) == 0 {
		return nil, errors.Wrapf(camera.ErrInvalidCamera, "no files match %q", id)
	}
	sort.Strings(files)
	return &handle{driver: d, files: files}, nil
}

type handle struct {
	driver  *Driver
	files   []string
	res     camera.Resolution
	next    int
	running bool
}

func (h *handle) Configure(ctx context.Context, res camera.Resolution, controls camera.Controls) error {
	img, err := imaging.Open(h.files[0])
	if err != nil {
		return errors.Wrapf(err, "cannot read %q", h.files[0])
	}
	if img.Bounds().Dx() != res.Width || img.Bounds().Dy() != res.Height {
		return errors.Errorf("recorded frames are %dx%d, not %s",
			img.Bounds().Dx(), img.Bounds().Dy(), res)
	}
	h.res = res
	return nil
}

func (h *handle) Start(ctx context.Context) error {
	h.running = true
	return nil
}

func (h *handle) CaptureNext(ctx context.Context) (image.Image, error) {
	if !h.running {
		return nil, camera.ErrNotRunning
	}
	if h.driver.cfg.FramePeriod > 0 {
		timer := h.driver.clock.Timer(h.driver.cfg.FramePeriod)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	if h.next >= len(h.files) {
		if !h.driver.cfg.Loop {
			return nil, io.EOF
		}
		h.next = 0
	}
	path := h.files[h.next]
	h.next++
	img, err := imaging.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot read %q", path)
	}
	if img.Bounds().Dx() != h.res.Width || img.Bounds().Dy() != h.res.Height {
		return nil, errors.Errorf("%q is %dx%d, not %s", path, img.Bounds().Dx(), img.Bounds().Dy(), h.res)
	}
	return img, nil
}

func (h *handle) Stop(ctx context.Context) error {
	h.running = false
	return nil
}

func (h *handle) Close() error {
	return nil
}
