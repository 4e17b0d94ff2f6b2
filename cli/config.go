package cli

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/urfave/cli/v2"

	"go.viam.com/stereo/config"
)

// ConfigSchemaAction prints the JSON schema of rig configs.
func ConfigSchemaAction(c *cli.Context) error {
	data, err := config.SchemaJSON()
	if err != nil {
		return err
	}
	printf(c.App.Writer, "%s", data)
	return nil
}

// ConfigValidateAction reads a rig config and prints its effective settings.
func ConfigValidateAction(c *cli.Context) error {
	path, err := firstArg(c, "config file")
	if err != nil {
		return err
	}
	cfg, err := config.Read(path)
	if err != nil {
		return err
	}
	printf(c.App.Writer, "%s", ConfigTable(cfg))
	return nil
}

// ConfigTable renders the settings of a validated config.
func ConfigTable(cfg *config.RigConfig) string {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"Setting", "Value"})
	m := cfg.Engine.Matcher
	t.AppendRows([]table.Row{
		{"driver", cfg.Driver},
		{"resolution", cfg.Resolution.String()},
		{"left camera", cameraSummary(cfg.Left)},
		{"right camera", cameraSummary(cfg.Right)},
		{"manual controls", cfg.ManualControls},
		{"calibration", cfg.CalibrationFile},
		{"disparities", fmt.Sprintf("%d..%d", m.MinDisparity, m.MinDisparity+m.NumDisparities-1)},
		{"block size", m.BlockSize},
		{"filter", cfg.UseFilter},
		{"scale", cfg.Scale},
	})
	if cfg.ViewAddress != "" {
		t.AppendRow(table.Row{"view", cfg.ViewAddress})
	}
	if cfg.Log.File != "" {
		t.AppendRow(table.Row{"log file", cfg.Log.File})
	}
	return t.Render()
}

func cameraSummary(cc config.CameraConfig) string {
	s := cc.ID
	if cc.FlipHorizontal {
		s += " flip-h"
	}
	if cc.FlipVertical {
		s += " flip-v"
	}
	if cc.Controls != nil {
		s += " controls"
	}
	return s
}
