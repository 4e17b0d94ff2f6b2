package stereo

import (
	"context"
	"image"
	"math"
	"testing"

	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/stereo/calibration"
	"go.viam.com/stereo/camera/fake"
	"go.viam.com/stereo/logging"
	"go.viam.com/stereo/rimage"
)

const (
	testWidth  = 80
	testHeight = 40
)

// shiftedPair renders the synthetic texture twice, the right view shifted by disparity pixels.
func shiftedPair(disparity int) (*image.Gray, *image.Gray) {
	left := fake.Render(1, 3, 0, testWidth, testHeight)
	right := fake.Render(1, 3, disparity, testWidth, testHeight)
	return rimage.ToGray(left), rimage.ToGray(right)
}

func testMatcherConfig() BlockMatcherConfig {
	cfg := DefaultBlockMatcherConfig()
	cfg.NumDisparities = 16
	cfg.BlockSize = 7
	return cfg
}

// interior calls f for every pixel whose matching window sees every candidate disparity.
func interior(dm *DisparityMap, cfg BlockMatcherConfig, f func(x, y int, d float32)) {
	r := cfg.BlockSize / 2
	for y := r; y < dm.Height-r; y++ {
		for x := cfg.MinDisparity + cfg.NumDisparities + r; x < dm.Width-r; x++ {
			f(x, y, dm.At(x, y))
		}
	}
}

func TestIdenticalImagesHaveZeroDisparity(t *testing.T) {
	cfg := testMatcherConfig()
	bm, err := NewBlockMatcher(cfg)
	test.That(t, err, test.ShouldBeNil)
	left, _ := shiftedPair(0)

	dm, err := bm.Match(context.Background(), left, left)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, dm.Width, test.ShouldEqual, testWidth)
	test.That(t, dm.Height, test.ShouldEqual, testHeight)
	interior(dm, cfg, func(x, y int, d float32) {
		test.That(t, d, test.ShouldAlmostEqual, float32(0), 1e-6)
	})
}

func TestKnownShift(t *testing.T) {
	cfg := testMatcherConfig()
	bm, err := NewBlockMatcher(cfg)
	test.That(t, err, test.ShouldBeNil)

	for _, shift := range []int{3, 5, 9} {
		left, right := shiftedPair(shift)
		dm, err := bm.Match(context.Background(), left, right)
		test.That(t, err, test.ShouldBeNil)
		interior(dm, cfg, func(x, y int, d float32) {
			test.That(t, IsValid(d), test.ShouldBeTrue)
			test.That(t, d, test.ShouldAlmostEqual, float32(shift), 0.5)
		})
		st, err := dm.Stats()
		test.That(t, err, test.ShouldBeNil)
		test.That(t, st.Median, test.ShouldAlmostEqual, float64(shift), 0.1)
	}
}

func TestFlatImageIsInvalid(t *testing.T) {
	bm, err := NewBlockMatcher(testMatcherConfig())
	test.That(t, err, test.ShouldBeNil)
	flat := image.NewGray(image.Rect(0, 0, testWidth, testHeight))
	dm, err := bm.Match(context.Background(), flat, flat)
	test.That(t, err, test.ShouldBeNil)
	for _, d := range dm.Data {
		test.That(t, d, test.ShouldEqual, InvalidDisparity)
	}
	_, err = dm.Stats()
	test.That(t, err, test.ShouldNotBeNil)
}

func TestMatchSizeMismatch(t *testing.T) {
	logger := logging.NewTestLogger(t)
	engine, err := NewEngine(EngineConfig{Matcher: testMatcherConfig()}, logger)
	test.That(t, err, test.ShouldBeNil)
	left, _ := shiftedPair(0)
	_, err = engine.ComputeDisparity(context.Background(), left, image.NewGray(image.Rect(0, 0, 10, 10)), false)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestMatcherConfigValidation(t *testing.T) {
	for _, cfg := range []BlockMatcherConfig{
		{BlockSize: 4},
		{MinDisparity: -1},
		{UniquenessRatio: 100},
		{TextureThreshold: -1},
	} {
		_, err := NewBlockMatcher(cfg)
		test.That(t, err, test.ShouldNotBeNil)
	}
	bm, err := NewBlockMatcher(BlockMatcherConfig{})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, bm.Config().NumDisparities, test.ShouldEqual, 128)
	test.That(t, bm.Config().BlockSize, test.ShouldEqual, 9)

	_, err = NewEdgeAwareFilter(FilterConfig{FillRatio: 2})
	test.That(t, err, test.ShouldNotBeNil)
}

func TestEngineWithFilter(t *testing.T) {
	cfg := testMatcherConfig()
	engine, err := NewEngine(EngineConfig{Matcher: cfg}, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	left, right := shiftedPair(5)

	dm, err := engine.ComputeDisparity(context.Background(), left, right, true)
	test.That(t, err, test.ShouldBeNil)
	interior(dm, cfg, func(x, y int, d float32) {
		test.That(t, d, test.ShouldAlmostEqual, float32(5), 0.5)
	})
}

func TestFilterFillsHoles(t *testing.T) {
	f, err := NewEdgeAwareFilter(DefaultFilterConfig())
	test.That(t, err, test.ShouldBeNil)
	guide := image.NewGray(image.Rect(0, 0, 20, 10))
	dm := NewDisparityMap(20, 10)
	for i := range dm.Data {
		dm.Data[i] = 7
	}
	dm.Set(10, 5, InvalidDisparity)
	// A region with no valid neighbors stays invalid.
	for y := 0; y < 10; y++ {
		dm.Set(0, y, InvalidDisparity)
		dm.Set(1, y, InvalidDisparity)
	}

	out, err := f.Apply(context.Background(), dm, guide)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out.At(10, 5), test.ShouldAlmostEqual, float32(7), 1e-4)
	test.That(t, out.At(15, 2), test.ShouldAlmostEqual, float32(7), 1e-4)
	test.That(t, out.At(0, 5), test.ShouldEqual, InvalidDisparity)
	test.That(t, dm.At(10, 5), test.ShouldEqual, InvalidDisparity)

	_, err = f.Apply(context.Background(), dm, image.NewGray(image.Rect(0, 0, 5, 5)))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestReproject(t *testing.T) {
	const f, baseline = 100., 0.1
	q := calibration.NewReprojectionMatrix(f, 10, 5, baseline)
	dm := NewDisparityMap(20, 10)
	dm.Set(14, 7, 10)
	dm.Set(3, 2, 4)

	pc, err := Reproject(dm, q, 1)
	test.That(t, err, test.ShouldBeNil)
	w, h, c := pc.Dims()
	test.That(t, []int{w, h, c}, test.ShouldResemble, []int{20, 10, 3})

	p := pc.At(14, 7)
	test.That(t, p.Z, test.ShouldAlmostEqual, f*baseline/10)
	test.That(t, p.X, test.ShouldAlmostEqual, (14-10)*baseline/10)
	test.That(t, p.Y, test.ShouldAlmostEqual, (7-5)*baseline/10)
	test.That(t, pc.At(3, 2).Z, test.ShouldAlmostEqual, f*baseline/4)
	test.That(t, math.IsNaN(pc.At(0, 0).Z), test.ShouldBeTrue)

	scaled, err := Reproject(dm, q, 1000)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, scaled.At(14, 7).Z, test.ShouldAlmostEqual, 1000*f*baseline/10)

	// Zero disparity puts the point at infinity, which is not a valid point.
	dm.Set(5, 5, 0)
	pc, err = Reproject(dm, q, 1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, math.IsNaN(pc.At(5, 5).Z), test.ShouldBeTrue)

	_, err = Reproject(dm, mat.NewDense(3, 3, nil), 1)
	test.That(t, err, test.ShouldNotBeNil)
}
