// Package cli contains the stereoctl command line tool for inspecting calibration artifacts and
// rig configs offline.
package cli

import (
	"fmt"
	"io"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
)

const (
	flagWidth  = "width"
	flagHeight = "height"
	flagOutput = "output"
)

var app = &cli.App{
	Name:            "stereoctl",
	Usage:           "inspect stereo calibration files and rig configs",
	HideHelpCommand: true,
	Commands: []*cli.Command{
		{
			Name:            "calib",
			Usage:           "work with stereo calibration files",
			HideHelpCommand: true,
			Subcommands: []*cli.Command{
				{
					Name:      "show",
					Usage:     "print the parameters of a calibration file",
					ArgsUsage: "<file>",
					Action:    CalibShowAction,
				},
				{
					Name:      "check",
					Usage:     "build the rectification maps and check them against a capture size",
					ArgsUsage: "<file>",
					Flags: []cli.Flag{
						&cli.IntFlag{
							Name:  flagWidth,
							Usage: "capture width, defaults to the calibration width",
						},
						&cli.IntFlag{
							Name:  flagHeight,
							Usage: "capture height, defaults to the calibration height",
						},
					},
					Action: CalibCheckAction,
				},
				{
					Name:      "convert",
					Usage:     "convert an OpenCV YAML calibration into the JSON format",
					ArgsUsage: "<file>",
					Flags: []cli.Flag{
						&cli.StringFlag{
							Name:     flagOutput,
							Aliases:  []string{"o"},
							Required: true,
							Usage:    "write the JSON calibration to `FILE`",
						},
					},
					Action: CalibConvertAction,
				},
			},
		},
		{
			Name:            "config",
			Usage:           "work with rig configs",
			HideHelpCommand: true,
			Subcommands: []*cli.Command{
				{
					Name:   "schema",
					Usage:  "print the JSON schema of rig configs",
					Action: ConfigSchemaAction,
				},
				{
					Name:      "validate",
					Usage:     "validate a rig config and print the effective settings",
					ArgsUsage: "<file>",
					Action:    ConfigValidateAction,
				},
			},
		},
	},
}

// NewApp returns a new app with the CLI API, Writer set to out, and ErrWriter
// set to errOut.
func NewApp(out, errOut io.Writer) *cli.App {
	app.Writer = out
	app.ErrWriter = errOut
	return app
}

func printf(w io.Writer, format string, a ...interface{}) {
	//nolint:errcheck
	fmt.Fprintf(w, format+"\n", a...)
}

func firstArg(c *cli.Context, what string) (string, error) {
	if c.Args().Len() != 1 {
		return "", errors.Errorf("expected exactly one %s argument", what)
	}
	return c.Args().First(), nil
}
