// Package pipeline drives a stereo rig: the Coordinator turns the latest pair of frames into a
// disparity map and a point cloud, and the Recorder saves raw pairs for calibration. Both read
// frames without ever blocking the capture loops and hand what they produce to a Sink.
package pipeline

import (
	"context"
	"image"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"

	"go.viam.com/stereo/camera"
)

// Source is the side of a camera.FrameSource the pipeline consumes.
type Source interface {
	LatestFrame() (*camera.Frame, bool)
	Updates() <-chan struct{}
	State() camera.State
	Err() error
	Stop()
}

// StereoPair is the left and right frame used in one processing cycle.
type StereoPair struct {
	Left  *camera.Frame
	Right *camera.Frame
}

// Skew returns how far apart the two frames were captured.
func (p StereoPair) Skew() time.Duration {
	d := p.Left.CapturedAt.Sub(p.Right.CapturedAt)
	if d < 0 {
		return -d
	}
	return d
}

// LatestPair returns the latest frame of each source. ok is false until both have published.
// Frames are paired as they are: nothing checks that they were captured together.
func LatestPair(left, right Source) (StereoPair, bool) {
	l, okL := left.LatestFrame()
	r, okR := right.LatestFrame()
	if !okL || !okR {
		return StereoPair{}, false
	}
	return StereoPair{Left: l, Right: r}, true
}

// Names of the images shown on a Sink.
const (
	ImageLeft      = "left"
	ImageRight     = "right"
	ImageDisparity = "disparity-color"
	ImageDepth     = "depth-color"
	ImageDual      = "dual"
)

// NamedImage is one image handed to a Sink.
type NamedImage struct {
	Name  string
	Image image.Image
}

// Sink presents images. Show is called from a single goroutine.
type Sink interface {
	Show(ctx context.Context, images []NamedImage) error
	Close() error
}

type multiSink []Sink

// MultiSink shows images on every sink in order.
func MultiSink(sinks ...Sink) Sink {
	return multiSink(sinks)
}

func (ms multiSink) Show(ctx context.Context, images []NamedImage) error {
	for _, s := range ms {
		if err := s.Show(ctx, images); err != nil {
			return err
		}
	}
	return nil
}

func (ms multiSink) Close() error {
	var err error
	for _, s := range ms {
		err = multierr.Combine(err, s.Close())
	}
	return err
}

type discardSink struct{}

// DiscardSink returns a sink that drops everything.
func DiscardSink() Sink {
	return discardSink{}
}

func (discardSink) Show(context.Context, []NamedImage) error { return nil }

func (discardSink) Close() error { return nil }

// waitForUpdate blocks until one of the sources publishes, timeout passes or ctx is done. A pending
// notification returns immediately.
func waitForUpdate(ctx context.Context, clk clock.Clock, timeout time.Duration, left, right Source) {
	timer := clk.Timer(timeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-left.Updates():
	case <-right.Updates():
	case <-timer.C:
	}
}

// stopSources stops both sources. Stop joins the capture loops, so both cameras are released when
// it returns.
func stopSources(left, right Source) {
	left.Stop()
	right.Stop()
}
