package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"go.viam.com/test"

	"go.viam.com/stereo/calibration"
	"go.viam.com/stereo/rimage/transform"
)

const testCalibration = "../calibration/testdata/stereo_cam.yml"

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	err := NewApp(&out, &errOut).Run(append([]string{"stereoctl"}, args...))
	return out.String(), err
}

func TestCalibShow(t *testing.T) {
	out, err := run(t, "calib", "show", testCalibration)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "64x48")
	test.That(t, out, test.ShouldContainSubstring, "100.00")
	test.That(t, out, test.ShouldContainSubstring, "baseline 0.1000")

	_, err = run(t, "calib", "show")
	test.That(t, err, test.ShouldNotBeNil)
}

func TestCalibCheck(t *testing.T) {
	out, err := run(t, "calib", "check", testCalibration)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "usable for 64x48")

	_, err = run(t, "calib", "check", "--width", "1920", "--height", "1080", testCalibration)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, transform.ErrShapeMismatch.Error())
}

func TestCalibConvert(t *testing.T) {
	dst := filepath.Join(t.TempDir(), "stereo_cam.json")
	_, err := run(t, "calib", "convert", "-o", dst, testCalibration)
	test.That(t, err, test.ShouldBeNil)

	converted, err := calibration.Load(dst)
	test.That(t, err, test.ShouldBeNil)
	original, err := calibration.Load(testCalibration)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, converted.Q.RawMatrix().Data, test.ShouldResemble, original.Q.RawMatrix().Data)
}

func TestConfigCommands(t *testing.T) {
	out, err := run(t, "config", "schema")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "view_address")

	path := filepath.Join(t.TempDir(), "rig.json")
	test.That(t, os.WriteFile(path, []byte(`{"driver": "fake", "view_address": "localhost:8080"}`), 0o600),
		test.ShouldBeNil)
	out, err = run(t, "config", "validate", path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out, test.ShouldContainSubstring, "fake")
	test.That(t, out, test.ShouldContainSubstring, "1920x1080")
	test.That(t, out, test.ShouldContainSubstring, "0..127")
	test.That(t, out, test.ShouldContainSubstring, "0 flip-h flip-v")

	test.That(t, os.WriteFile(path, []byte(`{"driver": "gopro"}`), 0o600), test.ShouldBeNil)
	_, err = run(t, "config", "validate", path)
	test.That(t, err, test.ShouldNotBeNil)
}
