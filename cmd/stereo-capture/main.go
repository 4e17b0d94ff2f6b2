// Package main previews a stereo rig side by side and saves raw left/right pairs on request,
// typically of a chessboard for calibration.
package main

import (
	"context"
	"net"
	"os"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"go.viam.com/stereo/config"
	"go.viam.com/stereo/logging"
	"go.viam.com/stereo/pipeline"
	"go.viam.com/stereo/rimage"
	"go.viam.com/stereo/rimage/chessboard"
	"go.viam.com/stereo/viewer"
)

var logger = logging.NewLogger("stereo-capture")

// Arguments for the command.
type Arguments struct {
	ConfigFile     string `flag:"config,usage=rig config file (json)"`
	Width          int    `flag:"width,default=8,usage=chessboard inner corners per row"`
	Height         int    `flag:"height,default=11,usage=chessboard inner corners per column"`
	LeftVideo      string `flag:"left_video,usage=left camera id"`
	RightVideo     string `flag:"right_video,usage=right camera id"`
	Detect         bool   `flag:"detect,usage=overlay chessboard detection on the preview"`
	SaveDir        string `flag:"save_dir,default=data/camera,usage=directory for the saved pairs"`
	Format         string `flag:"format,default=png,usage=image format: png, jpg, ppm or qoi"`
	Driver         string `flag:"driver,usage=camera driver: webcam, fake or replay"`
	CaptureWidth   int    `flag:"capture_width,usage=capture width"`
	CaptureHeight  int    `flag:"capture_height,usage=capture height"`
	View           string `flag:"view,usage=serve the preview on this address"`
	Resume         bool   `flag:"resume,usage=continue numbering after the pairs already in save_dir"`
	LogFile        string `flag:"log_file,usage=also log to this file"`
	ManualControls bool   `flag:"manual_controls,usage=use the fixed exposure settings of the rig"`
	Debug          bool   `flag:"debug"`
	Trace          bool   `flag:"trace,usage=log per-frame details without raising the log level"`
}

func main() {
	goutils.ContextualMain(mainWithArgs, logger)
}

func mainWithArgs(ctx context.Context, args []string, logger logging.Logger) (err error) {
	var argsParsed Arguments
	if err := goutils.ParseFlags(args, &argsParsed); err != nil {
		return err
	}
	if argsParsed.Trace {
		ctx = logging.EnableDebugMode(ctx)
	}
	cfg, err := loadConfig(argsParsed)
	if err != nil {
		return err
	}
	closeLog := config.SetupLogging(logger, cfg.Log)
	defer func() {
		err = multierr.Combine(err, closeLog())
	}()

	opts, err := recorderOptions(argsParsed, cfg.ViewAddress != "")
	if err != nil {
		return err
	}
	if argsParsed.Detect && opts.Detector == nil {
		logger.Warn("chessboard detection only draws on the preview, ignoring -detect without -view")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	commands := make(chan pipeline.Command)
	sink := pipeline.DiscardSink()
	if cfg.ViewAddress != "" {
		server := viewer.NewServer(commands, logger.Sublogger("viewer"))
		server.SetMaxStreamRate(cfg.ViewMaxFPS)
		listener, err := net.Listen("tcp", cfg.ViewAddress)
		if err != nil {
			return err
		}
		sink = server
		serveDone := make(chan struct{})
		goutils.PanicCapturingGo(func() {
			defer close(serveDone)
			if err := server.Serve(ctx, listener); err != nil {
				logger.Errorw("viewer stopped", "error", err)
			}
		})
		defer func() {
			cancel()
			<-serveDone
		}()
	}

	driver, err := cfg.NewDriver(logger)
	if err != nil {
		return err
	}
	left, right, err := config.StartRig(ctx, cfg, driver, logger)
	if err != nil {
		return err
	}
	recorder, err := pipeline.NewRecorder(left, right, opts, sink, logger.Sublogger("recorder"))
	if err != nil {
		left.Stop()
		right.Stop()
		return err
	}

	goutils.PanicCapturingGo(func() {
		if err := pipeline.ReadCommands(ctx, os.Stdin, commands); err != nil && !errors.Is(err, context.Canceled) {
			logger.Debugw("stopped reading commands", "error", err)
		}
	})
	logger.Infow("press c or s then enter to save a pair, q then enter to quit", "next_index", recorder.Index())
	return recorder.Run(ctx, commands)
}

// recorderOptions builds the recorder settings. The chessboard detector is only set up when the
// preview is shown somewhere.
func recorderOptions(args Arguments, viewing bool) (pipeline.RecorderOptions, error) {
	format, err := rimage.ParseFormat(args.Format)
	if err != nil {
		return pipeline.RecorderOptions{}, err
	}
	opts := pipeline.RecorderOptions{Dir: args.SaveDir, Format: format, Resume: args.Resume}
	if args.Detect && viewing {
		detector, err := chessboard.NewDetector(args.Width, args.Height)
		if err != nil {
			return pipeline.RecorderOptions{}, err
		}
		opts.Detector = detector
	}
	return opts, nil
}

// loadConfig reads the config file, if any, and applies the flags on top of it.
func loadConfig(args Arguments) (*config.RigConfig, error) {
	cfg := config.Default()
	if args.ConfigFile != "" {
		var err error
		if cfg, err = config.Read(args.ConfigFile); err != nil {
			return nil, err
		}
	}
	if args.LeftVideo != "" {
		cfg.Left.ID = args.LeftVideo
	}
	if args.RightVideo != "" {
		cfg.Right.ID = args.RightVideo
	}
	if args.Driver != "" {
		cfg.Driver = args.Driver
	}
	if args.CaptureWidth != 0 {
		cfg.Resolution.Width = args.CaptureWidth
	}
	if args.CaptureHeight != 0 {
		cfg.Resolution.Height = args.CaptureHeight
	}
	if args.View != "" {
		cfg.ViewAddress = args.View
	}
	if args.LogFile != "" {
		cfg.Log.File = args.LogFile
	}
	if args.ManualControls {
		cfg.ManualControls = true
	}
	if args.Debug {
		cfg.Log.Level = logging.DEBUG
	}
	if err := cfg.Validate("rig"); err != nil {
		return nil, err
	}
	return cfg, nil
}
