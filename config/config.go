// Package config defines the JSON configuration of a stereo rig and the commands that drive it.
package config

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"

	"github.com/pkg/errors"
	"go.viam.com/utils"

	"go.viam.com/stereo/camera"
	"go.viam.com/stereo/camera/fake"
	"go.viam.com/stereo/camera/replay"
	"go.viam.com/stereo/camera/webcam"
	"go.viam.com/stereo/logging"
	"go.viam.com/stereo/pointcloud"
	"go.viam.com/stereo/stereo"
)

// Supported camera drivers.
const (
	DriverWebcam = "webcam"
	DriverFake   = "fake"
	DriverReplay = "replay"
)

// DefaultCalibrationFile is where the calibration artifact is looked up when none is configured.
const DefaultCalibrationFile = "configs/camera/stereo_cam.yml"

// CameraConfig describes one camera of the rig.
type CameraConfig struct {
	// ID is the driver specific camera id: a device index or path for webcams, a glob pattern
	// for replay.
	ID             string           `json:"id"`
	FlipHorizontal bool             `json:"flip_horizontal"`
	FlipVertical   bool             `json:"flip_vertical"`
	Controls       *camera.Controls `json:"controls,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (c *CameraConfig) Validate(path string) error {
	if c.ID == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "id")
	}
	return nil
}

// LogConfig describes where logs go besides stdout.
type LogConfig struct {
	Level logging.Level `json:"level"`
	// File, when set, also writes logs to a size-rotated file.
	File       string `json:"file,omitempty"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty"`
	MaxBackups int    `json:"max_backups,omitempty"`
}

// Validate ensures all parts of the config are valid.
func (c *LogConfig) Validate(path string) error {
	if c.MaxSizeMB < 0 {
		return utils.NewConfigValidationError(path, errors.New("max_size_mb must not be negative"))
	}
	if c.MaxBackups < 0 {
		return utils.NewConfigValidationError(path, errors.New("max_backups must not be negative"))
	}
	if c.File != "" && c.MaxSizeMB == 0 {
		c.MaxSizeMB = 10
	}
	return nil
}

// RigConfig is the configuration file of a stereo rig.
type RigConfig struct {
	Driver     string            `json:"driver"`
	Resolution camera.Resolution `json:"resolution"`
	Left       CameraConfig      `json:"left"`
	Right      CameraConfig      `json:"right"`
	// ManualControls applies the fixed exposure settings of the rig to cameras without controls.
	ManualControls bool `json:"manual_controls,omitempty"`

	CalibrationFile string              `json:"calibration_file"`
	Engine          stereo.EngineConfig `json:"engine"`
	UseFilter       bool                `json:"use_filter"`
	Scale           float64             `json:"scale,omitempty"`
	PointCloudDir   string              `json:"point_cloud_dir,omitempty"`
	PCDFormat       string              `json:"pcd_format,omitempty"`
	LASExport       bool                `json:"las_export,omitempty"`

	// ViewAddress, when set, serves the live images over HTTP on that address.
	ViewAddress string `json:"view_address,omitempty"`
	// ViewMaxFPS caps the frame rate of every viewer stream. Zero means no cap.
	ViewMaxFPS float64 `json:"view_max_fps,omitempty"`

	Fake   fake.Config   `json:"fake,omitempty"`
	Replay replay.Config `json:"replay,omitempty"`
	Log    LogConfig     `json:"log,omitempty"`
}

// Default returns the configuration of the reference rig: two 1920x1080 cameras mounted upside
// down, with the edge-aware filter enabled.
func Default() *RigConfig {
	return &RigConfig{
		Driver:          DriverWebcam,
		Resolution:      camera.Resolution{Width: 1920, Height: 1080},
		Left:            CameraConfig{ID: "0", FlipHorizontal: true, FlipVertical: true},
		Right:           CameraConfig{ID: "1", FlipHorizontal: true, FlipVertical: true},
		CalibrationFile: DefaultCalibrationFile,
		Engine:          stereo.DefaultEngineConfig(),
		UseFilter:       true,
		Scale:           1,
		Fake:            fake.StereoConfig(16),
		Log:             LogConfig{Level: logging.INFO},
	}
}

// Validate fills defaults and ensures all parts of the config are valid.
func (c *RigConfig) Validate(path string) error {
	switch c.Driver {
	case "":
		c.Driver = DriverWebcam
	case DriverWebcam, DriverFake, DriverReplay:
	default:
		return utils.NewConfigValidationError(path, errors.Errorf("unknown driver %q", c.Driver))
	}
	if err := c.Resolution.Validate(); err != nil {
		return utils.NewConfigValidationError(fmt.Sprintf("%s.resolution", path), err)
	}
	if err := c.Left.Validate(fmt.Sprintf("%s.left", path)); err != nil {
		return err
	}
	if err := c.Right.Validate(fmt.Sprintf("%s.right", path)); err != nil {
		return err
	}
	if c.Left.ID == c.Right.ID {
		return utils.NewConfigValidationError(path, errors.Errorf("left and right use the same camera %q", c.Left.ID))
	}
	if err := c.Engine.Matcher.Validate(fmt.Sprintf("%s.engine.block_matcher", path)); err != nil {
		return err
	}
	if err := c.Engine.Filter.Validate(fmt.Sprintf("%s.engine.filter", path)); err != nil {
		return err
	}
	if c.Scale == 0 {
		c.Scale = 1
	}
	if c.Scale < 0 {
		return utils.NewConfigValidationError(path, errors.Errorf("scale must be positive, got %g", c.Scale))
	}
	if _, err := pointcloud.ParsePCDType(c.PCDFormat); err != nil {
		return utils.NewConfigValidationError(path, err)
	}
	if c.ViewMaxFPS < 0 {
		return utils.NewConfigValidationError(path, errors.Errorf("view_max_fps must not be negative, got %g", c.ViewMaxFPS))
	}
	if c.ViewAddress != "" {
		if _, _, err := net.SplitHostPort(c.ViewAddress); err != nil {
			return utils.NewConfigValidationError(path, errors.Wrap(err, "error validating view_address"))
		}
	}
	return c.Log.Validate(fmt.Sprintf("%s.log", path))
}

// CameraConfigs returns the Frame Source configuration of both cameras.
func (c *RigConfig) CameraConfigs() (camera.Config, camera.Config) {
	build := func(cc CameraConfig, role camera.Role) camera.Config {
		cfg := camera.Config{
			ID:             cc.ID,
			Role:           role,
			Resolution:     c.Resolution,
			FlipHorizontal: cc.FlipHorizontal,
			FlipVertical:   cc.FlipVertical,
		}
		switch {
		case cc.Controls != nil:
			cfg.Controls = *cc.Controls
		case c.ManualControls:
			cfg.Controls = camera.DefaultManualControls()
		}
		return cfg
	}
	return build(c.Left, camera.RoleLeft), build(c.Right, camera.RoleRight)
}

// NewDriver returns the camera driver the config selects.
func (c *RigConfig) NewDriver(logger logging.Logger) (camera.Driver, error) {
	switch c.Driver {
	case DriverWebcam, "":
		return webcam.NewDriver(logger), nil
	case DriverFake:
		return fake.NewDriver(c.Fake, nil), nil
	case DriverReplay:
		return replay.NewDriver(c.Replay, nil), nil
	default:
		return nil, errors.Errorf("unknown driver %q", c.Driver)
	}
}

// FromReader reads and validates a config. Fields missing from the JSON keep their defaults.
func FromReader(r io.Reader) (*RigConfig, error) {
	cfg := Default()
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, errors.Wrap(err, "cannot parse config")
	}
	if err := cfg.Validate("rig"); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read reads and validates the config at path.
func Read(path string) (*RigConfig, error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "cannot open config")
	}
	defer utils.UncheckedErrorFunc(f.Close)
	cfg, err := FromReader(f)
	if err != nil {
		return nil, errors.Wrapf(err, "config %q", path)
	}
	return cfg, nil
}
