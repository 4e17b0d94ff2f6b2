package stereo

import (
	"context"
	"image"

	"github.com/pkg/errors"

	"go.viam.com/stereo/logging"
)

// EngineConfig is the JSON configuration of an Engine.
type EngineConfig struct {
	Matcher BlockMatcherConfig `json:"block_matcher"`
	Filter  FilterConfig       `json:"filter"`
}

// DefaultEngineConfig returns the default matcher and filter settings.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{Matcher: DefaultBlockMatcherConfig(), Filter: DefaultFilterConfig()}
}

// Engine computes disparity maps, optionally post-filtered.
type Engine struct {
	matcher Matcher
	filter  *EdgeAwareFilter
	logger  logging.Logger
}

// NewEngine builds the block matcher and filter described by cfg.
func NewEngine(cfg EngineConfig, logger logging.Logger) (*Engine, error) {
	bm, err := NewBlockMatcher(cfg.Matcher)
	if err != nil {
		return nil, err
	}
	filter, err := NewEdgeAwareFilter(cfg.Filter)
	if err != nil {
		return nil, err
	}
	return NewEngineWithMatcher(bm, filter, logger), nil
}

// NewEngineWithMatcher returns an Engine around an arbitrary matcher. filter may be nil, in which
// case filtering requests are ignored.
func NewEngineWithMatcher(matcher Matcher, filter *EdgeAwareFilter, logger logging.Logger) *Engine {
	return &Engine{matcher: matcher, filter: filter, logger: logger}
}

// ComputeDisparity matches a rectified grayscale pair. With useFilter set the edge-aware filter,
// guided by the left image, is applied to the raw map.
func (e *Engine) ComputeDisparity(ctx context.Context, left, right *image.Gray, useFilter bool) (*DisparityMap, error) {
	lb, rb := left.Bounds(), right.Bounds()
	if lb.Dx() != rb.Dx() || lb.Dy() != rb.Dy() {
		return nil, errors.Errorf("cannot match %dx%d left image with %dx%d right image", lb.Dx(), lb.Dy(), rb.Dx(), rb.Dy())
	}
	dm, err := e.matcher.Match(ctx, left, right)
	if err != nil {
		return nil, errors.Wrap(err, "block matching failed")
	}
	if !useFilter || e.filter == nil {
		return dm, nil
	}
	e.logger.CDebugw(ctx, "filtering disparity map", "width", dm.Width, "height", dm.Height)
	filtered, err := e.filter.Apply(ctx, dm, left)
	if err != nil {
		return nil, errors.Wrap(err, "disparity filter failed")
	}
	return filtered, nil
}
