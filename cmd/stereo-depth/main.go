// Package main runs the live depth pipeline on a calibrated stereo rig: it rectifies every pair,
// computes disparity and a point cloud and shows the results until quit.
package main

import (
	"context"
	"net"
	"os"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	goutils "go.viam.com/utils"

	"go.viam.com/stereo/calibration"
	"go.viam.com/stereo/config"
	"go.viam.com/stereo/logging"
	"go.viam.com/stereo/pipeline"
	"go.viam.com/stereo/pointcloud"
	"go.viam.com/stereo/rimage"
	"go.viam.com/stereo/stereo"
	"go.viam.com/stereo/viewer"
)

var logger = logging.NewLogger("stereo-depth")

// Arguments for the command. Flags left empty keep the value of the config file.
type Arguments struct {
	ConfigFile     string `flag:"config,usage=rig config file (json)"`
	StereoFile     string `flag:"stereo_file,usage=stereo calibration file (yml or json)"`
	LeftCamera     string `flag:"left_camera,usage=left camera id"`
	RightCamera    string `flag:"right_camera,usage=right camera id"`
	Filter         bool   `flag:"filter,default=true,usage=apply the edge-aware disparity filter"`
	Driver         string `flag:"driver,usage=camera driver: webcam, fake or replay"`
	Width          int    `flag:"width,usage=capture width"`
	Height         int    `flag:"height,usage=capture height"`
	View           string `flag:"view,usage=serve the live images on this address"`
	ViewDir        string `flag:"view_dir,usage=keep the latest images in this directory"`
	PCDDir         string `flag:"pcd_dir,usage=directory for point cloud snapshots"`
	PCDFormat      string `flag:"pcd_format,usage=point cloud format: binary, binary_compressed or ascii"`
	LAS            bool   `flag:"las,usage=also write point cloud snapshots as las files"`
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

	calib, err := calibration.Load(cfg.CalibrationFile)
	if err != nil {
		return err
	}
	if err := calib.CheckSize(cfg.Resolution.Width, cfg.Resolution.Height); err != nil {
		return errors.Wrap(err, "capture resolution")
	}
	logger.Infow("calibration loaded", "file", cfg.CalibrationFile,
		"focal_length", calib.FocalLength(), "baseline", calib.Baseline())

	engine, err := stereo.NewEngine(cfg.Engine, logger.Sublogger("engine"))
	if err != nil {
		return err
	}
	pcdType, err := pointcloud.ParsePCDType(cfg.PCDFormat)
	if err != nil {
		return err
	}

	commands := make(chan pipeline.Command)
	sinks := []pipeline.Sink{}
	if argsParsed.ViewDir != "" {
		dirSink, err := viewer.NewDirSink(argsParsed.ViewDir, rimage.FormatPNG, logger.Sublogger("viewer"))
		if err != nil {
			return err
		}
		sinks = append(sinks, dirSink)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if cfg.ViewAddress != "" {
		server := viewer.NewServer(commands, logger.Sublogger("viewer"))
		server.SetMaxStreamRate(cfg.ViewMaxFPS)
		listener, err := net.Listen("tcp", cfg.ViewAddress)
		if err != nil {
			return err
		}
		sinks = append(sinks, server)
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

	coord, err := pipeline.NewCoordinator(left, right, calib, engine, pipeline.MultiSink(sinks...), pipeline.Options{
		UseFilter:     cfg.UseFilter,
		Scale:         cfg.Scale,
		PointCloudDir: cfg.PointCloudDir,
		PCDType:       pcdType,
		LASExport:     cfg.LASExport,
	}, logger.Sublogger("pipeline"))
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
	goutils.PanicCapturingGo(func() {
		dispatchCommands(ctx, cancel, coord, commands, cfg.PointCloudDir != "", logger)
	})

	logger.Info("press p then enter to save a point cloud, q then enter to quit")
	return coord.Run(ctx)
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
	if args.StereoFile != "" {
		cfg.CalibrationFile = args.StereoFile
	}
	if args.LeftCamera != "" {
		cfg.Left.ID = args.LeftCamera
	}
	if args.RightCamera != "" {
		cfg.Right.ID = args.RightCamera
	}
	// The flag defaults to true, so it can only turn the filter off.
	cfg.UseFilter = cfg.UseFilter && args.Filter
	if args.Driver != "" {
		cfg.Driver = args.Driver
	}
	if args.Width != 0 {
		cfg.Resolution.Width = args.Width
	}
	if args.Height != 0 {
		cfg.Resolution.Height = args.Height
	}
	if args.View != "" {
		cfg.ViewAddress = args.View
	}
	if args.PCDDir != "" {
		cfg.PointCloudDir = args.PCDDir
	}
	if args.PCDFormat != "" {
		cfg.PCDFormat = args.PCDFormat
	}
	if args.LAS {
		cfg.LASExport = true
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

func dispatchCommands(
	ctx context.Context,
	cancel context.CancelFunc,
	coord *pipeline.Coordinator,
	commands <-chan pipeline.Command,
	canSnapshot bool,
	logger logging.Logger,
) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-commands:
			switch cmd {
			case pipeline.CommandQuit:
				logger.Info("quit requested")
				cancel()
				return
			case pipeline.CommandSnapshot, pipeline.CommandCapture:
				if !canSnapshot {
					logger.Warn("point cloud snapshots need -pcd_dir")
					continue
				}
				coord.SnapshotPointCloud()
			case pipeline.CommandNone:
			}
		}
	}
}
