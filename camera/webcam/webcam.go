// Package webcam implements camera.Driver on top of the V4L2/AVFoundation video devices exposed
// by pion/mediadevices.
package webcam

import (
	"context"
	"image"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/pion/mediadevices/pkg/driver"
	mediadevicescamera "github.com/pion/mediadevices/pkg/driver/camera"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/io/video"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pkg/errors"

	"go.viam.com/stereo/camera"
	"go.viam.com/stereo/logging"
)

// preferredFormats are tried in order when several device modes match the requested size.
var preferredFormats = []frame.Format{
	frame.FormatMJPEG,
	frame.FormatYUY2,
	frame.FormatI420,
	frame.FormatNV12,
	frame.FormatUYVY,
	frame.FormatRGBA,
}

// Driver opens webcams. Camera ids are either the index of the device in discovery order
// ("0", "1", ...) or a device path/label such as "/dev/video2".
type Driver struct {
	logger logging.Logger
	query  func() []driver.Driver
}

// NewDriver returns a driver over the video recorders known to mediadevices.
func NewDriver(logger logging.Logger) *Driver {
	return &Driver{
		logger: logger,
		query: func() []driver.Driver {
			mediadevicescamera.Initialize()
			return driver.GetManager().Query(driver.FilterVideoRecorder())
		},
	}
}

// Labels returns the labels of the discovered video devices in discovery order.
func (d *Driver) Labels() []string {
	drivers := d.query()
	labels := make([]string, 0, len(drivers))
	for _, drv := range drivers {
		labels = append(labels, drv.Info().Label)
	}
	return labels
}

// Open implements camera.Driver.
func (d *Driver) Open(ctx context.Context, id string) (camera.Handle, error) {
	drv, err := d.find(id)
	if err != nil {
		return nil, err
	}
	if drv.Status() != driver.StateClosed {
		return nil, errors.Errorf("video device %q is busy (%s)", id, drv.Status())
	}
	if err := drv.Open(); err != nil {
		return nil, errors.Wrapf(err, "cannot open video device %q", id)
	}
	return &handle{id: id, driver: drv, logger: d.logger}, nil
}

func (d *Driver) find(id string) (driver.Driver, error) {
	drivers := d.query()
	if idx, err := strconv.Atoi(id); err == nil {
		if idx < 0 || idx >= len(drivers) {
			return nil, errors.Wrapf(camera.ErrInvalidCamera, "no video device at index %d (found %d)", idx, len(drivers))
		}
		return drivers[idx], nil
	}

	path := id
	if resolved, err := filepath.EvalSymlinks(id); err == nil {
		path = resolved
	}
	base := filepath.Base(path)
	for _, drv := range drivers {
		for _, label := range strings.Split(drv.Info().Label, mediadevicescamera.LabelSeparator) {
			if label == path || filepath.Base(label) == base {
				return drv, nil
			}
		}
	}
	return nil, errors.Wrapf(camera.ErrInvalidCamera, "no video device matching %q", id)
}

type handle struct {
	id     string
	driver driver.Driver
	logger logging.Logger

	media  prop.Media
	reader video.Reader
}

func (h *handle) Configure(ctx context.Context, res camera.Resolution, controls camera.Controls) error {
	media, ok := selectMode(h.driver.Properties(), res)
	if !ok {
		return errors.Errorf("video device %q does not support %s", h.id, res)
	}
	h.media = media
	if !controls.IsZero() {
		h.logger.Warnw("video device does not expose sensor controls, using device defaults", "camera_id", h.id)
	}
	return nil
}

// selectMode picks the device mode with exactly the requested size, preferring compressed
// formats to keep USB bandwidth low with two devices on one bus.
func selectMode(modes []prop.Media, res camera.Resolution) (prop.Media, bool) {
	var candidates []prop.Media
	for _, m := range modes {
		if m.Width == res.Width && m.Height == res.Height {
			candidates = append(candidates, m)
		}
	}
	if len(candidates) == 0 {
		return prop.Media{}, false
	}
	for _, format := range preferredFormats {
		for _, m := range candidates {
			if m.FrameFormat == format {
				return m, true
			}
		}
	}
	return candidates[0], true
}

func (h *handle) Start(ctx context.Context) error {
	recorder, ok := h.driver.(driver.VideoRecorder)
	if !ok {
		return errors.Errorf("video device %q cannot record", h.id)
	}
	reader, err := recorder.VideoRecord(h.media)
	if err != nil {
		return errors.Wrapf(err, "cannot start video device %q", h.id)
	}
	h.reader = reader
	return nil
}

func (h *handle) CaptureNext(ctx context.Context) (image.Image, error) {
	if h.reader == nil {
		return nil, camera.ErrNotRunning
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	img, release, err := h.reader.Read()
	if release != nil {
		defer release()
	}
	if err != nil {
		return nil, err
	}
	// The decoded buffer is reused once released.
	return imaging.Clone(img), nil
}

func (h *handle) Stop(ctx context.Context) error {
	h.reader = nil
	return nil
}

func (h *handle) Close() error {
	return h.driver.Close()
}
