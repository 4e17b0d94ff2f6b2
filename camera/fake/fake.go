// Package fake implements a synthetic stereo rig. Every camera looks at the same random texture
// with its own horizontal offset, so a left/right pair has a known constant disparity.
package fake

import (
	"context"
	"image"
	"image/color"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"go.viam.com/stereo/camera"
)

// CameraConfig describes one synthetic camera.
type CameraConfig struct {
	// Shift is the horizontal offset into the scene. A right camera with Shift d paired with a
	// left camera with Shift 0 yields a disparity of d everywhere.
	Shift int `json:"shift_px"`
	// FailAfter makes CaptureNext return an error after that many frames. Zero never fails.
	FailAfter int `json:"fail_after"`
}

// Config describes the synthetic rig.
type Config struct {
	Cameras     map[string]CameraConfig `json:"cameras"`
	FramePeriod time.Duration           `json:"frame_period"`
	Seed        int64                   `json:"seed"`
	// BlockSize is the edge length of the uniformly colored squares of the texture.
	BlockSize int `json:"block_size"`
}

// StereoConfig returns a two camera rig with ids "0" and "1" and the given disparity.
func StereoConfig(disparity int) Config {
	return Config{
		Cameras: map[string]CameraConfig{
			"0": {},
			"1": {Shift: disparity},
		},
		FramePeriod: 10 * time.Millisecond,
		Seed:        1,
		BlockSize:   3,
	}
}

// Driver opens synthetic cameras.
type Driver struct {
	cfg   Config
	clock clock.Clock

	mu     sync.Mutex
	open   map[string]*handle
	closed map[string]int
}

// NewDriver returns a driver for the given rig. A nil clock uses the wall clock.
func NewDriver(cfg Config, clk clock.Clock) *Driver {
	if clk == nil {
		clk = clock.New()
	}
	if cfg.BlockSize <= 0 {
		cfg.BlockSize = 3
	}
	return &Driver{cfg: cfg, clock: clk, open: map[string]*handle{}, closed: map[string]int{}}
}

// Open implements camera.Driver.
func (d *Driver) Open(ctx context.Context, id string) (camera.Handle, error) {
	camCfg, ok := d.cfg.Cameras[id]
	if !ok {
		return nil, errors.Wrapf(camera.ErrInvalidCamera, "no fake camera with id %q", id)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, busy := d.open[id]; busy {
		return nil, errors.Errorf("fake camera %q is already open", id)
	}
	h := &handle{driver: d, id: id, cfg: camCfg}
	d.open[id] = h
	return h, nil
}

// Closed returns how many times the camera with the given id has been closed.
func (d *Driver) Closed(id string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed[id]
}

// IsOpen returns whether the camera with the given id is currently open.
func (d *Driver) IsOpen(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.open[id]
	return ok
}

type handle struct {
	driver *Driver
	id     string
	cfg    CameraConfig

	img      *image.NRGBA
	running  bool
	captured int
}

func (h *handle) Configure(ctx context.Context, res camera.Resolution, controls camera.Controls) error {
	if err := res.Validate(); err != nil {
		return err
	}
	h.img = Render(h.driver.cfg.Seed, h.driver.cfg.BlockSize, h.cfg.Shift, res.Width, res.Height)
	return nil
}

func (h *handle) Start(ctx context.Context) error {
	if h.img == nil {
		return errors.New("fake camera started before it was configured")
	}
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
	} else if err := ctx.Err(); err != nil {
		return nil, err
	}
	if h.cfg.FailAfter > 0 && h.captured >= h.cfg.FailAfter {
		return nil, errors.Errorf("fake camera %q lost connection", h.id)
	}
	h.captured++
	return h.img, nil
}

func (h *handle) Stop(ctx context.Context) error {
	h.running = false
	return nil
}

func (h *handle) Close() error {
	h.driver.mu.Lock()
	defer h.driver.mu.Unlock()
	delete(h.driver.open, h.id)
	h.driver.closed[h.id]++
	return nil
}

// Render draws a width x height window of the random texture defined by seed and blockSize,
// starting shift pixels into the texture. Pixel (x, y) of the result equals pixel (x+shift, y) of
// the texture, for any shift.
func Render(seed int64, blockSize, shift, width, height int) *image.NRGBA {
	if blockSize <= 0 {
		blockSize = 1
	}
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		by := y / blockSize
		for x := 0; x < width; x++ {
			img.SetNRGBA(x, y, textureAt(seed, floorDiv(x+shift, blockSize), by))
		}
	}
	return img
}

// textureAt returns the color of block (bx, by). It is a pure function of its inputs so that
// every camera sees the same texture regardless of its offset.
func textureAt(seed int64, bx, by int) color.NRGBA {
	h := uint64(seed)*0x9E3779B97F4A7C15 ^ uint64(int64(bx))*0xBF58476D1CE4E5B9 ^ uint64(int64(by))*0x94D049BB133111EB
	h ^= h >> 31
	h *= 0xD6E8FEB86659FD93
	h ^= h >> 32
	v := uint8(h)
	return color.NRGBA{v, uint8(int(v)/2 + 60), uint8(int(v)/3 + 40), 255}
}

func floorDiv(a, b int) int {
	q := a / b
	if a%b != 0 && a < 0 {
		q--
	}
	return q
}
