// Package camera defines the frames produced by a stereo rig, the hardware capability surface a
// camera driver has to provide, and the FrameSource that keeps the latest frame of one camera
// available to consumers.
package camera

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/pkg/errors"
)

// Role identifies which side of the stereo rig a camera sits on.
type Role string

const (
	// RoleLeft is the reference camera of the rig.
	RoleLeft Role = "left"
	// RoleRight is the matching camera of the rig.
	RoleRight Role = "right"
)

// Validate ensures the role is one of the two sides of the rig.
func (r Role) Validate() error {
	switch r {
	case RoleLeft, RoleRight:
		return nil
	default:
		return errors.Wrapf(ErrInvalidCamera, "unknown camera role %q", string(r))
	}
}

// Frame is one captured image in the working color format. A Frame is never modified after it
// has been published, so it may be read from any goroutine.
type Frame struct {
	Role           Role
	Image          *image.NRGBA
	FlipHorizontal bool
	FlipVertical   bool
	// Seq starts at 1 and increases by one for every frame the source publishes.
	Seq        uint64
	CapturedAt time.Time
}

// Width returns the width of the frame in pixels.
func (f *Frame) Width() int {
	return f.Image.Bounds().Dx()
}

// Height returns the height of the frame in pixels.
func (f *Frame) Height() int {
	return f.Image.Bounds().Dy()
}

// Resolution is a capture size in pixels.
type Resolution struct {
	Width  int `json:"width_px"`
	Height int `json:"height_px"`
}

// Validate ensures both dimensions are positive.
func (r Resolution) Validate() error {
	if r.Width <= 0 || r.Height <= 0 {
		return errors.Errorf("invalid resolution %dx%d", r.Width, r.Height)
	}
	return nil
}

func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// Controls are the optional sensor control parameters. A nil field leaves the driver default in
// place. Drivers apply what their hardware supports and report the rest.
type Controls struct {
	ExposureTime     *time.Duration `json:"exposure_time,omitempty"`
	AnalogueGain     *float64       `json:"analogue_gain,omitempty"`
	DigitalGain      *float64       `json:"digital_gain,omitempty"`
	ColourGains      *[2]float64    `json:"colour_gains,omitempty"`
	Contrast         *float64       `json:"contrast,omitempty"`
	Saturation       *float64       `json:"saturation,omitempty"`
	LensPosition     *float64       `json:"lens_position,omitempty"`
	AutoFocus        *bool          `json:"auto_focus,omitempty"`
	AutoExposure     *bool          `json:"auto_exposure,omitempty"`
	AutoWhiteBalance *bool          `json:"auto_white_balance,omitempty"`
}

// IsZero returns true if no control is set.
func (c Controls) IsZero() bool {
	return c == Controls{}
}

// DefaultManualControls returns the fixed-exposure settings tuned for the indoor rig: 4ms
// exposure, boosted gains and a fixed lens position with auto focus disabled.
func DefaultManualControls() Controls {
	exposure := 4 * time.Millisecond
	analogue, digital := 3.0, 1.5
	colour := [2]float64{1.5, 1.5}
	contrast, saturation := 1.5, 1.3
	lens := 2.0
	off := false
	return Controls{
		ExposureTime: &exposure,
		AnalogueGain: &analogue,
		DigitalGain:  &digital,
		ColourGains:  &colour,
		Contrast:     &contrast,
		Saturation:   &saturation,
		LensPosition: &lens,
		AutoFocus:    &off,
		AutoExposure: &off,
	}
}

// ErrInvalidCamera is returned by drivers when the requested camera does not exist.
var ErrInvalidCamera = errors.New("invalid camera")

// ErrNotRunning is returned by handles asked to capture before Start or after Stop.
var ErrNotRunning = errors.New("camera is not running")

// Driver opens cameras by identifier.
type Driver interface {
	Open(ctx context.Context, id string) (Handle, error)
}

// Handle is an opened camera. CaptureNext blocks until the next frame is available and must
// return promptly once ctx is done. All other methods are called from a single goroutine at a
// time.
type Handle interface {
	Configure(ctx context.Context, res Resolution, controls Controls) error
	Start(ctx context.Context) error
	CaptureNext(ctx context.Context) (image.Image, error)
	Stop(ctx context.Context) error
	Close() error
}
