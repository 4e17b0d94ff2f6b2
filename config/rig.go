package config

import (
	"context"

	"github.com/pkg/errors"

	"go.viam.com/stereo/camera"
	"go.viam.com/stereo/logging"
)

// SetupLogging applies the log level and, when a log file is configured, adds a rotating file
// appender to logger. The returned function closes the file.
func SetupLogging(logger logging.Logger, cfg LogConfig) func() error {
	logger.SetLevel(cfg.Level)
	if cfg.File == "" {
		return func() error { return nil }
	}
	appender := logging.NewFileAppender(cfg.File, cfg.MaxSizeMB, cfg.MaxBackups)
	logger.AddAppender(appender)
	logger.Infow("logging to file", "file", cfg.File)
	return appender.Close
}

// StartRig opens, configures and starts both cameras of the rig. Either camera failing to
// configure is fatal: both sources are stopped and the error is returned.
func StartRig(ctx context.Context, cfg *RigConfig, driver camera.Driver, logger logging.Logger) (
	*camera.FrameSource, *camera.FrameSource, error,
) {
	leftCfg, rightCfg := cfg.CameraConfigs()
	camLogger := logger.Sublogger("camera")
	left := camera.NewFrameSource(driver, camLogger)
	right := camera.NewFrameSource(driver, camLogger)

	leftState := left.Configure(ctx, leftCfg)
	rightState := right.Configure(ctx, rightCfg)
	if leftState != camera.StateConfigured || rightState != camera.StateConfigured {
		left.Stop()
		right.Stop()
		return nil, nil, errors.Errorf("cannot configure cameras: left %s, right %s", leftState, rightState)
	}
	left.Start()
	right.Start()
	return left, right, nil
}
