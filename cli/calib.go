package cli

import (
	"fmt"
	"math"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"

	"go.viam.com/stereo/calibration"
)

// CalibShowAction prints the camera parameters of a calibration file.
func CalibShowAction(c *cli.Context) error {
	path, err := firstArg(c, "calibration file")
	if err != nil {
		return err
	}
	params, err := calibration.ReadParams(path)
	if err != nil {
		return err
	}
	printf(c.App.Writer, "%s", ParamsTable(params))
	return nil
}

// ParamsTable renders one row per camera, followed by the rig geometry taken from Q.
func ParamsTable(params *calibration.StereoParams) string {
	t := table.NewWriter()
	t.SetTitle(fmt.Sprintf("%dx%d", params.Width, params.Height))
	t.AppendHeader(table.Row{"Camera", "Fx", "Fy", "Ppx", "Ppy", "Distortion (k1, k2, p1, p2, k3)"})
	for _, cam := range []struct {
		name   string
		params calibration.CameraParams
	}{{"left", params.Left}, {"right", params.Right}} {
		row := table.Row{cam.name, "", "", "", "", "none"}
		if in := cam.params.Intrinsics; in != nil {
			row[1] = fmt.Sprintf("%.2f", in.Fx)
			row[2] = fmt.Sprintf("%.2f", in.Fy)
			row[3] = fmt.Sprintf("%.2f", in.Ppx)
			row[4] = fmt.Sprintf("%.2f", in.Ppy)
		}
		if d := cam.params.Distortion; d != nil {
			row[5] = fmt.Sprintf("%.4f, %.4f, %.4f, %.4f, %.4f",
				d.RadialK1, d.RadialK2, d.TangentialP1, d.TangentialP2, d.RadialK3)
		}
		t.AppendRow(row)
	}
	if len(params.Reprojection) == 16 {
		f := params.Reprojection[11]
		baseline := math.Inf(1)
		if inv := params.Reprojection[14]; inv != 0 {
			baseline = math.Abs(1 / inv)
		}
		t.AppendFooter(table.Row{"rectified", fmt.Sprintf("f %.2f", f), "", "", "", fmt.Sprintf("baseline %.4f", baseline)})
	}
	return t.Render()
}

// CalibCheckAction builds the rectification maps of a calibration file and verifies that frames of
// the given size can be rectified with it.
func CalibCheckAction(c *cli.Context) error {
	path, err := firstArg(c, "calibration file")
	if err != nil {
		return err
	}
	calib, err := calibration.Load(path)
	if err != nil {
		return err
	}
	width, height := calib.Width, calib.Height
	if c.IsSet(flagWidth) {
		width = c.Int(flagWidth)
	}
	if c.IsSet(flagHeight) {
		height = c.Int(flagHeight)
	}
	if err := calib.CheckSize(width, height); err != nil {
		return err
	}
	printf(c.App.Writer, "%s is usable for %dx%d frames (f %.2f px, baseline %.4f)",
		path, width, height, calib.FocalLength(), calib.Baseline())
	return nil
}

// CalibConvertAction rewrites a calibration file as JSON.
func CalibConvertAction(c *cli.Context) error {
	path, err := firstArg(c, "calibration file")
	if err != nil {
		return err
	}
	params, err := calibration.ReadParams(path)
	if err != nil {
		return err
	}
	// Building validates the parameters before anything is written.
	if _, err := params.Build(); err != nil {
		return errors.Wrapf(err, "calibration %q", path)
	}
	out := c.String(flagOutput)
	if err := calibration.WriteJSON(out, params); err != nil {
		return err
	}
	printf(c.App.Writer, "wrote %s", out)
	return nil
}
