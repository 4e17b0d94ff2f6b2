package calibration

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"go.viam.com/utils"
	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v3"

	"go.viam.com/stereo/rimage/transform"
)

// Load reads a calibration file and builds its rectification maps. Files ending in .json hold
// StereoParams; .yml and .yaml files are OpenCV FileStorage documents with the keys written by
// stereo calibration: size, K1, D1, K2, D2, R1, R2, P1, P2 and Q.
func Load(path string) (*Config, error) {
	params, err := ReadParams(path)
	if err != nil {
		return nil, err
	}
	cfg, err := params.Build()
	if err != nil {
		return nil, errors.Wrapf(err, "calibration %q", path)
	}
	return cfg, nil
}

// ReadParams reads a calibration file without building maps.
func ReadParams(path string) (*StereoParams, error) {
	//nolint:gosec
	f, err := os.Open(path)
	if err != nil {
		return nil, newConfigError("cannot open %q: %v", path, err)
	}
	defer utils.UncheckedErrorFunc(f.Close)

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return DecodeJSON(f)
	case ".yml", ".yaml":
		return DecodeOpenCVYAML(f)
	default:
		return nil, newConfigError("unknown calibration format %q", filepath.Ext(path))
	}
}

// DecodeJSON decodes StereoParams from JSON.
func DecodeJSON(r io.Reader) (*StereoParams, error) {
	var params StereoParams
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&params); err != nil {
		return nil, newConfigError("cannot decode json: %v", err)
	}
	return &params, nil
}

// WriteJSON writes params to path as indented JSON.
func WriteJSON(path string, params *StereoParams) error {
	data, err := json.MarshalIndent(params, "", "  ")
	if err != nil {
		return err
	}
	//nolint:gosec
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

type cvMatrix struct {
	Rows int       `yaml:"rows"`
	Cols int       `yaml:"cols"`
	Dt   string    `yaml:"dt"`
	Data []float64 `yaml:"data"`
}

type cvStereoFile struct {
	Size yaml.Node `yaml:"size"`
	K1   *cvMatrix `yaml:"K1"`
	D1   *cvMatrix `yaml:"D1"`
	K2   *cvMatrix `yaml:"K2"`
	D2   *cvMatrix `yaml:"D2"`
	R1   *cvMatrix `yaml:"R1"`
	R2   *cvMatrix `yaml:"R2"`
	P1   *cvMatrix `yaml:"P1"`
	P2   *cvMatrix `yaml:"P2"`
	Q    *cvMatrix `yaml:"Q"`
}

// DecodeOpenCVYAML decodes an OpenCV FileStorage YAML document. The "%YAML:1.0" header and the
// "!!opencv-matrix" tags OpenCV writes are not standard YAML and are dropped before parsing.
func DecodeOpenCVYAML(r io.Reader) (*StereoParams, error) {
	var cleaned bytes.Buffer
	scanner := bufio.NewScanner(r)
	first := true
	for scanner.Scan() {
		line := scanner.Text()
		if first && strings.HasPrefix(line, "%YAML") {
			first = false
			continue
		}
		first = false
		cleaned.WriteString(strings.ReplaceAll(line, "!!opencv-matrix", ""))
		cleaned.WriteByte('\n')
	}
	if err := scanner.Err(); err != nil {
		return nil, newConfigError("cannot read yaml: %v", err)
	}

	var doc cvStereoFile
	if err := yaml.Unmarshal(cleaned.Bytes(), &doc); err != nil {
		return nil, newConfigError("cannot decode yaml: %v", err)
	}

	width, height, err := decodeSize(&doc.Size)
	if err != nil {
		return nil, err
	}
	left, err := cameraFromCV("left", doc.K1, doc.D1, doc.R1, doc.P1, width, height)
	if err != nil {
		return nil, err
	}
	right, err := cameraFromCV("right", doc.K2, doc.D2, doc.R2, doc.P2, width, height)
	if err != nil {
		return nil, err
	}
	q, err := doc.Q.values("Q", 4, 4)
	if err != nil {
		return nil, err
	}
	return &StereoParams{Width: width, Height: height, Left: *left, Right: *right, Reprojection: q}, nil
}

// decodeSize accepts both "size: [w, h]" and a 1x2 or 2x1 matrix.
func decodeSize(node *yaml.Node) (int, int, error) {
	var values []float64
	switch node.Kind {
	case yaml.SequenceNode:
		if err := node.Decode(&values); err != nil {
			return 0, 0, newConfigError("size: %v", err)
		}
	case yaml.MappingNode:
		var m cvMatrix
		if err := node.Decode(&m); err != nil {
			return 0, 0, newConfigError("size: %v", err)
		}
		values = m.Data
	case 0:
		return 0, 0, newConfigError("missing size")
	default:
		return 0, 0, newConfigError("size must be a [width, height] pair")
	}
	if len(values) != 2 || values[0] <= 0 || values[1] <= 0 {
		return 0, 0, newConfigError("size must be a positive [width, height] pair, got %v", values)
	}
	return int(values[0]), int(values[1]), nil
}

func (m *cvMatrix) values(name string, rows, cols int) ([]float64, error) {
	if m == nil {
		return nil, newConfigError("missing %s", name)
	}
	if m.Rows != rows || m.Cols != cols || len(m.Data) != rows*cols {
		return nil, newConfigError("%s is %dx%d with %d values, want %dx%d", name, m.Rows, m.Cols, len(m.Data), rows, cols)
	}
	return m.Data, nil
}

func cameraFromCV(side string, k, d, r, p *cvMatrix, width, height int) (*CameraParams, error) {
	kv, err := k.values(side+" camera matrix", 3, 3)
	if err != nil {
		return nil, err
	}
	rv, err := r.values(side+" rectification", 3, 3)
	if err != nil {
		return nil, err
	}
	pv, err := p.values(side+" projection", 3, 4)
	if err != nil {
		return nil, err
	}
	var coeffs []float64
	if d != nil {
		coeffs = d.Data
	}
	distortion, err := transform.NewBrownConradyFromOpenCV(coeffs)
	if err != nil {
		return nil, newConfigError("%s distortion: %v", side, err)
	}
	intrinsics, err := transform.NewPinholeCameraIntrinsicsFromMatrix(mat.NewDense(3, 3, kv), width, height)
	if err != nil {
		return nil, newConfigError("%s camera matrix: %v", side, err)
	}
	return &CameraParams{
		Intrinsics:    intrinsics,
		Distortion:    distortion,
		Rectification: rv,
		Projection:    pv,
	}, nil
}
