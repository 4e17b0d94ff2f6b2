// Package viewer implements presentation sinks for the stereo pipeline: a directory of
// snapshots and an HTTP server streaming every image as MJPEG.
package viewer

import (
	"context"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"go.viam.com/stereo/logging"
	"go.viam.com/stereo/pipeline"
	"go.viam.com/stereo/rimage"
)

// DirSink keeps the latest version of every shown image in a directory as <name>.<ext>.
type DirSink struct {
	dir    string
	format rimage.Format
	logger logging.Logger
}

// NewDirSink creates dir if needed and returns a sink writing into it.
func NewDirSink(dir string, format rimage.Format, logger logging.Logger) (*DirSink, error) {
	if format == "" {
		format = rimage.FormatPNG
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, errors.Wrapf(err, "cannot create %q", dir)
	}
	return &DirSink{dir: dir, format: format, logger: logger}, nil
}

// Path returns where the image with the given name is written.
func (s *DirSink) Path(name string) string {
	return filepath.Join(s.dir, name+s.format.Extension())
}

// Show writes every image. Files are replaced with a rename so readers never see a partial image.
func (s *DirSink) Show(ctx context.Context, images []pipeline.NamedImage) error {
	for _, img := range images {
		if err := ctx.Err(); err != nil {
			return err
		}
		path := s.Path(img.Name)
		tmp := path + ".tmp"
		if err := rimage.WriteFile(tmp, img.Image, s.format); err != nil {
			return err
		}
		if err := os.Rename(tmp, path); err != nil {
			return errors.Wrapf(err, "cannot replace %q", path)
		}
	}
	s.logger.CDebugw(ctx, "wrote snapshots", "dir", s.dir, "count", len(images))
	return nil
}

// Close is a no-op; the files stay behind.
func (s *DirSink) Close() error {
	return nil
}
