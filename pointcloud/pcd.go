package pointcloud

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"image/color"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	lzf "github.com/zhuyie/golzf"
	"go.uber.org/multierr"
)

// PCDType is the format of a pcd file.
type PCDType int

const (
	// PCDAscii ascii format for pcd.
	PCDAscii PCDType = iota
	// PCDBinary binary format for pcd.
	PCDBinary
	// PCDCompressed lzf compressed binary format for pcd, stored field by field.
	PCDCompressed
)

// String returns the DATA value of the pcd header.
func (t PCDType) String() string {
	switch t {
	case PCDAscii:
		return "ascii"
	case PCDBinary:
		return "binary"
	case PCDCompressed:
		return "binary_compressed"
	default:
		return fmt.Sprintf("PCDType(%d)", int(t))
	}
}

// ParsePCDType parses "ascii", "binary" or "binary_compressed".
func ParsePCDType(s string) (PCDType, error) {
	switch strings.ToLower(s) {
	case "ascii":
		return PCDAscii, nil
	case "binary", "":
		return PCDBinary, nil
	case "binary_compressed":
		return PCDCompressed, nil
	default:
		return 0, errors.Errorf("unknown pcd type %q", s)
	}
}

func colorToPCDInt(c color.NRGBA) uint32 {
	return uint32(c.R)<<16 | uint32(c.G)<<8 | uint32(c.B)
}

func pcdIntToColor(c uint32) color.NRGBA {
	return color.NRGBA{uint8(0xFF & (c >> 16)), uint8(0xFF & (c >> 8)), uint8(0xFF & c), 255}
}

// ToPCD writes the cloud as an organized pcd: WIDTH and HEIGHT are the image dimensions and
// invalid points are written as NaN.
func ToPCD(cloud *Organized, out io.Writer, outputType PCDType) error {
	if len(cloud.Points) != cloud.Width*cloud.Height {
		return errors.Errorf("cloud has %d points, want %d", len(cloud.Points), cloud.Width*cloud.Height)
	}
	switch outputType {
	case PCDAscii, PCDBinary, PCDCompressed:
	default:
		return errors.Errorf("unsupported pcd type %v", outputType)
	}
	hasColor := cloud.MetaData().HasColor
	w := bufio.NewWriter(out)

	header := "VERSION .7\n"
	if hasColor {
		header += "FIELDS x y z rgb\n" +
			"SIZE 4 4 4 4\n" +
			"TYPE F F F U\n" +
			"COUNT 1 1 1 1\n"
	} else {
		header += "FIELDS x y z\n" +
			"SIZE 4 4 4\n" +
			"TYPE F F F\n" +
			"COUNT 1 1 1\n"
	}
	if _, err := fmt.Fprintf(w, "%sWIDTH %d\nHEIGHT %d\nVIEWPOINT 0 0 0 1 0 0 0\nPOINTS %d\n",
		header, cloud.Width, cloud.Height, len(cloud.Points)); err != nil {
		return err
	}

	if _, err := fmt.Fprintf(w, "DATA %s\n", outputType); err != nil {
		return err
	}
	if outputType == PCDCompressed {
		if err := writePCDCompressed(cloud, hasColor, w); err != nil {
			return err
		}
		return w.Flush()
	}

	buf := make([]byte, 16)
	for i, p := range cloud.Points {
		var err error
		x, y, z := float32(p.X), float32(p.Y), float32(p.Z)
		switch outputType {
		case PCDBinary:
			binary.LittleEndian.PutUint32(buf, math.Float32bits(x))
			binary.LittleEndian.PutUint32(buf[4:], math.Float32bits(y))
			binary.LittleEndian.PutUint32(buf[8:], math.Float32bits(z))
			n := 12
			if hasColor {
				binary.LittleEndian.PutUint32(buf[12:], colorToPCDInt(cloud.Colors[i]))
				n = 16
			}
			_, err = w.Write(buf[:n])
		case PCDAscii:
			if hasColor {
				_, err = fmt.Fprintf(w, "%s %s %s %d\n", formatFloat(x), formatFloat(y), formatFloat(z), colorToPCDInt(cloud.Colors[i]))
			} else {
				_, err = fmt.Fprintf(w, "%s %s %s\n", formatFloat(x), formatFloat(y), formatFloat(z))
			}
		}
		if err != nil {
			return err
		}
	}
	return w.Flush()
}

// writePCDCompressed writes the compressed and uncompressed sizes followed by the lzf
// compressed fields, all x values first, then all y, z and rgb values.
func writePCDCompressed(cloud *Organized, hasColor bool, w io.Writer) error {
	fields := 3
	if hasColor {
		fields = 4
	}
	n := len(cloud.Points)
	raw := make([]byte, 4*fields*n)
	for i, p := range cloud.Points {
		binary.LittleEndian.PutUint32(raw[4*i:], math.Float32bits(float32(p.X)))
		binary.LittleEndian.PutUint32(raw[4*(n+i):], math.Float32bits(float32(p.Y)))
		binary.LittleEndian.PutUint32(raw[4*(2*n+i):], math.Float32bits(float32(p.Z)))
		if hasColor {
			binary.LittleEndian.PutUint32(raw[4*(3*n+i):], colorToPCDInt(cloud.Colors[i]))
		}
	}
	var compressed []byte
	if len(raw) > 0 {
		compressed = make([]byte, len(raw)+len(raw)/16+64)
		size, err := lzf.Compress(raw, compressed)
		if err != nil {
			return errors.Wrap(err, "cannot compress pcd data")
		}
		compressed = compressed[:size]
	}
	sizes := make([]byte, 8)
	binary.LittleEndian.PutUint32(sizes, uint32(len(compressed)))
	binary.LittleEndian.PutUint32(sizes[4:], uint32(len(raw)))
	if _, err := w.Write(sizes); err != nil {
		return err
	}
	_, err := w.Write(compressed)
	return err
}

func readPCDCompressed(in io.Reader, header pcdHeader, pc *Organized) error {
	fields := 3
	if header.hasColor {
		fields = 4
	}
	sizes := make([]byte, 8)
	if _, err := io.ReadFull(in, sizes); err != nil {
		return errors.Wrap(err, "cannot read compressed sizes")
	}
	compressedSize := binary.LittleEndian.Uint32(sizes)
	rawSize := binary.LittleEndian.Uint32(sizes[4:])
	n := header.points
	if int(rawSize) != 4*fields*n {
		return errors.Errorf("uncompressed size %d does not match %d points", rawSize, n)
	}
	if n == 0 {
		return nil
	}
	compressed := make([]byte, compressedSize)
	if _, err := io.ReadFull(in, compressed); err != nil {
		return errors.Wrap(err, "cannot read compressed data")
	}
	raw := make([]byte, rawSize)
	size, err := lzf.Decompress(compressed, raw)
	if err != nil {
		return errors.Wrap(err, "cannot decompress pcd data")
	}
	if size != len(raw) {
		return errors.Errorf("decompressed %d bytes, want %d", size, len(raw))
	}
	field := func(f, i int) uint32 {
		return binary.LittleEndian.Uint32(raw[4*(f*n+i):])
	}
	for i := 0; i < n; i++ {
		pc.Points[i].X = float64(math.Float32frombits(field(0, i)))
		pc.Points[i].Y = float64(math.Float32frombits(field(1, i)))
		pc.Points[i].Z = float64(math.Float32frombits(field(2, i)))
		if header.hasColor {
			pc.Colors[i] = pcdIntToColor(field(3, i))
		}
	}
	return nil
}

func formatFloat(f float32) string {
	if math.IsNaN(float64(f)) {
		return "nan"
	}
	return strconv.FormatFloat(float64(f), 'f', 6, 32)
}

// WritePCDFile writes the cloud to path.
func WritePCDFile(path string, cloud *Organized, outputType PCDType) (err error) {
	//nolint:gosec
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	return ToPCD(cloud, f, outputType)
}

const pcdCommentChar = "#"

var pcdHeaderFields = []string{"VERSION", "FIELDS", "SIZE", "TYPE", "COUNT", "WIDTH", "HEIGHT", "VIEWPOINT", "POINTS", "DATA"}

type pcdHeader struct {
	hasColor bool
	width    int
	height   int
	points   int
	data     PCDType
}

func parsePCDHeaderLine(line string, index int, header *pcdHeader) error {
	name := pcdHeaderFields[index]
	field, value, _ := strings.Cut(line, " ")
	if field != name {
		return errors.Errorf("line is supposed to start with %s but is %s", name, line)
	}
	var err error
	switch name {
	case "VERSION":
		if value != ".7" && value != "0.7" {
			return errors.Errorf("unsupported pcd version %s", value)
		}
	case "FIELDS":
		switch value {
		case "x y z":
		case "x y z rgb":
			header.hasColor = true
		default:
			return errors.Errorf("unsupported pcd fields %s", value)
		}
	case "WIDTH":
		if header.width, err = strconv.Atoi(value); err != nil {
			return errors.Wrapf(err, "invalid WIDTH field %s", value)
		}
	case "HEIGHT":
		if header.height, err = strconv.Atoi(value); err != nil {
			return errors.Wrapf(err, "invalid HEIGHT field %s", value)
		}
	case "POINTS":
		if header.points, err = strconv.Atoi(value); err != nil {
			return errors.Wrapf(err, "invalid POINTS field %s", value)
		}
		if header.points != header.width*header.height {
			return errors.Errorf("POINTS field %d does not match WIDTH*HEIGHT %d", header.points, header.width*header.height)
		}
	case "DATA":
		switch value {
		case "ascii":
			header.data = PCDAscii
		case "binary":
			header.data = PCDBinary
		case "binary_compressed":
			header.data = PCDCompressed
		default:
			return errors.Errorf("unsupported pcd data type %s", value)
		}
	}
	return nil
}

// ReadPCD reads an organized pcd written by ToPCD.
func ReadPCD(inRaw io.Reader) (*Organized, error) {
	var header pcdHeader
	in := bufio.NewReader(inRaw)
	for index := 0; index < len(pcdHeaderFields); {
		line, err := in.ReadString('\n')
		if err != nil {
			return nil, errors.Wrapf(err, "error reading header line %d", index)
		}
		line, _, _ = strings.Cut(line, pcdCommentChar)
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if err := parsePCDHeaderLine(line, index, &header); err != nil {
			return nil, err
		}
		index++
	}

	pc := NewOrganized(header.width, header.height)
	if header.hasColor {
		pc.Colors = make([]color.NRGBA, header.points)
	}
	if header.data == PCDCompressed {
		if err := readPCDCompressed(in, header, pc); err != nil {
			return nil, err
		}
		return pc, nil
	}
	fields := 3
	if header.hasColor {
		fields = 4
	}
	buf := make([]byte, 4*fields)
	for i := 0; i < header.points; i++ {
		vals := make([]float64, 3)
		var rgb uint32
		switch header.data {
		case PCDBinary:
			if _, err := io.ReadFull(in, buf); err != nil {
				return nil, errors.Wrapf(err, "point %d", i)
			}
			for j := range vals {
				vals[j] = float64(math.Float32frombits(binary.LittleEndian.Uint32(buf[4*j:])))
			}
			if header.hasColor {
				rgb = binary.LittleEndian.Uint32(buf[12:])
			}
		case PCDAscii:
			line, err := in.ReadString('\n')
			if err != nil && !(errors.Is(err, io.EOF) && line != "") {
				return nil, errors.Wrapf(err, "point %d", i)
			}
			tokens := strings.Fields(line)
			if len(tokens) != fields {
				return nil, errors.Errorf("unexpected number of fields in point %d", i)
			}
			for j := range vals {
				if vals[j], err = strconv.ParseFloat(tokens[j], 64); err != nil {
					return nil, errors.Wrapf(err, "invalid point %d field %s", i, tokens[j])
				}
			}
			if header.hasColor {
				c, err := strconv.ParseUint(tokens[3], 10, 32)
				if err != nil {
					return nil, errors.Wrapf(err, "invalid point %d color %s", i, tokens[3])
				}
				rgb = uint32(c)
			}
		}
		pc.Points[i].X, pc.Points[i].Y, pc.Points[i].Z = vals[0], vals[1], vals[2]
		if header.hasColor {
			pc.Colors[i] = pcdIntToColor(rgb)
		}
	}
	return pc, nil
}
