package pipeline

import (
	"context"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"go.viam.com/stereo/logging"
	"go.viam.com/stereo/rimage"
)

// Annotator draws detection results on a preview image.
type Annotator interface {
	Annotate(ctx context.Context, img image.Image) (*image.NRGBA, bool, error)
}

// RecorderOptions configure a Recorder.
type RecorderOptions struct {
	// Dir receives the saved pairs. It is created on the first save.
	Dir    string
	Format rimage.Format
	// Detector, when set, overlays its detections on the preview. Saved frames stay raw.
	Detector Annotator
	// Resume continues numbering after the highest index already in Dir.
	Resume bool
	// PreviewWidth and PreviewHeight bound the preview size. Default to 1920x1080.
	PreviewWidth  int
	PreviewHeight int
	// WaitTimeout bounds the wait for new frames between previews. Defaults to 100ms.
	WaitTimeout time.Duration
	Clock       clock.Clock
}

// Recorder shows a side-by-side preview of the rig and saves raw pairs on request as
// left_NNN.<ext> and right_NNN.<ext>.
type Recorder struct {
	left, right Source
	opts        RecorderOptions
	sink        Sink
	logger      logging.Logger
	index       int
	waiting     bool
}

var pairFilePattern = regexp.MustCompile(`^(?:left|right)_(\d+)\.[A-Za-z]+$`)

// NewRecorder returns a recorder writing to opts.Dir.
func NewRecorder(left, right Source, opts RecorderOptions, sink Sink, logger logging.Logger) (*Recorder, error) {
	if left == nil || right == nil {
		return nil, errors.New("recorder needs two sources")
	}
	if opts.Dir == "" {
		return nil, errors.New("recorder needs a save directory")
	}
	if opts.Format == "" {
		opts.Format = rimage.FormatPNG
	}
	if opts.PreviewWidth == 0 || opts.PreviewHeight == 0 {
		opts.PreviewWidth, opts.PreviewHeight = 1920, 1080
	}
	if opts.WaitTimeout == 0 {
		opts.WaitTimeout = 100 * time.Millisecond
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if sink == nil {
		sink = DiscardSink()
	}
	r := &Recorder{left: left, right: right, opts: opts, sink: sink, logger: logger}
	if opts.Resume {
		next, err := nextIndex(opts.Dir)
		if err != nil {
			return nil, err
		}
		r.index = next
	}
	return r, nil
}

// nextIndex returns one past the highest pair index in dir, or 0.
func nextIndex(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	next := 0
	for _, e := range entries {
		m := pairFilePattern.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		i, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if i+1 > next {
			next = i + 1
		}
	}
	return next, nil
}

// Index returns the index the next saved pair will get.
func (r *Recorder) Index() int {
	return r.index
}

// Tick shows the preview of the latest pair and, if save is set, writes the raw frames. saved is
// false, with no error, when either source has no frame yet.
func (r *Recorder) Tick(ctx context.Context, save bool) (bool, error) {
	pair, ok := LatestPair(r.left, r.right)
	if !ok {
		if !r.waiting {
			r.logger.Info("waiting for frames")
			r.waiting = true
		}
		return false, nil
	}
	r.waiting = false

	preview, err := r.preview(ctx, pair)
	if err != nil {
		return false, err
	}
	if err := r.sink.Show(ctx, []NamedImage{{Name: ImageDual, Image: preview}}); err != nil {
		return false, errors.Wrap(err, "cannot show preview")
	}
	if !save {
		return false, nil
	}
	if err := r.save(pair); err != nil {
		return false, err
	}
	return true, nil
}

func (r *Recorder) preview(ctx context.Context, pair StereoPair) (*image.NRGBA, error) {
	var l, rr image.Image = pair.Left.Image, pair.Right.Image
	leftLabel, rightLabel := ImageLeft, ImageRight
	if r.opts.Detector != nil {
		var err error
		var foundL, foundR bool
		if l, foundL, err = r.opts.Detector.Annotate(ctx, pair.Left.Image); err != nil {
			return nil, errors.Wrap(err, "left detection")
		}
		if rr, foundR, err = r.opts.Detector.Annotate(ctx, pair.Right.Image); err != nil {
			return nil, errors.Wrap(err, "right detection")
		}
		r.logger.CDebugw(ctx, "chessboard detection", "left", foundL, "right", foundR)
		leftLabel = boardLabel(leftLabel, foundL)
		rightLabel = boardLabel(rightLabel, foundR)
	}
	dual := rimage.HConcat(rimage.Label(l, leftLabel), rimage.Label(rr, rightLabel))
	return rimage.Fit(dual, r.opts.PreviewWidth, r.opts.PreviewHeight), nil
}

func boardLabel(name string, found bool) string {
	if found {
		return name + ": board found"
	}
	return name + ": no board"
}

func (r *Recorder) save(pair StereoPair) error {
	if err := os.MkdirAll(r.opts.Dir, 0o750); err != nil {
		return errors.Wrapf(err, "cannot create %q", r.opts.Dir)
	}
	ext := r.opts.Format.Extension()
	leftPath := filepath.Join(r.opts.Dir, fmt.Sprintf("left_%03d%s", r.index, ext))
	rightPath := filepath.Join(r.opts.Dir, fmt.Sprintf("right_%03d%s", r.index, ext))
	if err := rimage.WriteFile(leftPath, pair.Left.Image, r.opts.Format); err != nil {
		return errors.Wrapf(err, "cannot save pair %d", r.index)
	}
	if err := rimage.WriteFile(rightPath, pair.Right.Image, r.opts.Format); err != nil {
		// A left image without its right partner would shift the pairing of later captures.
		if rmErr := os.Remove(leftPath); rmErr != nil && !os.IsNotExist(rmErr) {
			err = multierr.Combine(err, rmErr)
		}
		return errors.Wrapf(err, "cannot save pair %d", r.index)
	}
	r.logger.Infow("saved pair", "index", r.index, "left", leftPath, "right", rightPath)
	r.index++
	return nil
}

// Run previews continuously. Every CommandCapture saves one pair as soon as both frames are
// available. CommandQuit returns after making the pending saves that can be made. Commands are
// picked up between previews, so at most WaitTimeout after they are sent. A closed commands
// channel only stops command handling. On return both sources are stopped and the sink is closed.
func (r *Recorder) Run(ctx context.Context, commands <-chan Command) (err error) {
	r.logger.Infow("recorder started", "dir", r.opts.Dir, "format", string(r.opts.Format), "next_index", r.index)
	defer func() {
		stopSources(r.left, r.right)
		err = multierr.Combine(err, r.sink.Close())
		r.logger.Infow("recorder stopped", "next_index", r.index)
	}()

	pending := 0
	quit := false
	for {
		// Drain whatever the operator sent since the last preview.
	drain:
		for commands != nil {
			select {
			case cmd, ok := <-commands:
				if !ok {
					commands = nil
					break drain
				}
				switch cmd {
				case CommandCapture:
					pending++
				case CommandQuit:
					quit = true
				case CommandNone, CommandSnapshot:
				}
			default:
				break drain
			}
		}
		if ctx.Err() != nil {
			return nil
		}

		saved, err := r.Tick(ctx, pending > 0)
		if err != nil {
			return err
		}
		if saved {
			pending--
		}
		if quit && (pending == 0 || !saved) {
			if pending > 0 {
				r.logger.Warnw("quitting with unsaved captures", "pending", pending)
			}
			return nil
		}
		if saved && pending > 0 {
			continue
		}
		waitForUpdate(ctx, r.opts.Clock, r.opts.WaitTimeout, r.left, r.right)
	}
}
