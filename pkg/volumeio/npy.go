package volumeio

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/spf13/afero"

	"lungprep/internal/models"
)

// NPYExt is the extension of persisted arrays
const NPYExt = ".npy"

var npyMagic = []byte("\x93NUMPY")

var npyDescr = map[models.DType]string{
	models.Float64: "<f8",
	models.Float32: "<f4",
	models.Int16:   "<i2",
	models.Uint16:  "<u2",
	models.Int32:   "<i4",
	models.Uint8:   "|u1",
}

// Writer persists a volume under a path given without extension and returns
// the full path written along with its size in bytes
type Writer interface {
	Write(pathWithoutExt string, v *models.Volume) (string, int64, error)
}

// NPYWriter stores volumes as version 1.0 .npy files
type NPYWriter struct {
	fs afero.Fs
}

// NewNPYWriter creates a writer backed by fs
func NewNPYWriter(fs afero.Fs) *NPYWriter {
	return &NPYWriter{fs: fs}
}

// Write encodes v to pathWithoutExt + ".npy", creating parent directories
func (w *NPYWriter) Write(pathWithoutExt string, v *models.Volume) (string, int64, error) {
	path := pathWithoutExt + NPYExt
	if err := w.fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", 0, fmt.Errorf("creating output directory: %w", err)
	}

	f, err := w.fs.Create(path)
	if err != nil {
		return "", 0, err
	}

	n, err := EncodeNPY(f, v)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", 0, fmt.Errorf("writing %s: %w", path, err)
	}
	return path, n, nil
}

// npyHeader renders the padded header dictionary. The preamble plus header
// is a multiple of 64 bytes and ends in a newline.
func npyHeader(v *models.Volume) ([]byte, error) {
	descr, ok := npyDescr[v.DType]
	if !ok {
		return nil, fmt.Errorf("no npy descriptor for %s", v.DType)
	}
	dict := fmt.Sprintf("{'descr': '%s', 'fortran_order': False, 'shape': (%d, %d, %d), }",
		descr, v.Shape[0], v.Shape[1], v.Shape[2])

	preamble := len(npyMagic) + 2 + 2
	total := preamble + len(dict) + 1
	pad := (64 - total%64) % 64
	return []byte(dict + strings.Repeat(" ", pad) + "\n"), nil
}

// EncodeNPY writes v in .npy format and returns the number of bytes written
func EncodeNPY(w io.Writer, v *models.Volume) (int64, error) {
	if err := v.Validate(); err != nil {
		return 0, err
	}
	header, err := npyHeader(v)
	if err != nil {
		return 0, err
	}
	if len(header) > math.MaxUint16 {
		return 0, fmt.Errorf("npy header of %d bytes too long", len(header))
	}

	bw := bufio.NewWriter(w)
	bw.Write(npyMagic)
	bw.Write([]byte{1, 0})
	binary.Write(bw, binary.LittleEndian, uint16(len(header)))
	bw.Write(header)

	buf := make([]byte, v.DType.Size())
	for _, val := range v.Data {
		putElement(buf, v.DType, val)
		if _, err := bw.Write(buf); err != nil {
			return 0, err
		}
	}
	if err := bw.Flush(); err != nil {
		return 0, err
	}

	n := int64(len(npyMagic)+4+len(header)) + int64(len(v.Data)*len(buf))
	return n, nil
}

func putElement(buf []byte, dtype models.DType, val float64) {
	le := binary.LittleEndian
	switch dtype {
	case models.Float64:
		le.PutUint64(buf, math.Float64bits(val))
	case models.Float32:
		le.PutUint32(buf, math.Float32bits(float32(val)))
	case models.Int16:
		le.PutUint16(buf, uint16(int16(val)))
	case models.Uint16:
		le.PutUint16(buf, uint16(val))
	case models.Int32:
		le.PutUint32(buf, uint32(int32(val)))
	case models.Uint8:
		buf[0] = uint8(val)
	}
}

var (
	descrPattern = regexp.MustCompile(`'descr':\s*'([^']+)'`)
	orderPattern = regexp.MustCompile(`'fortran_order':\s*(True|False)`)
	shapePattern = regexp.MustCompile(`'shape':\s*\(([^)]*)\)`)
)

// DecodeNPY reads a three dimensional C-ordered array written by EncodeNPY
func DecodeNPY(r io.Reader) (*models.Volume, error) {
	br := bufio.NewReader(r)
	preamble := make([]byte, len(npyMagic)+4)
	if _, err := io.ReadFull(br, preamble); err != nil {
		return nil, fmt.Errorf("reading npy preamble: %w", err)
	}
	if !bytes.Equal(preamble[:len(npyMagic)], npyMagic) {
		return nil, fmt.Errorf("not an npy file")
	}
	if preamble[6] != 1 {
		return nil, fmt.Errorf("unsupported npy version %d.%d", preamble[6], preamble[7])
	}

	header := make([]byte, binary.LittleEndian.Uint16(preamble[8:]))
	if _, err := io.ReadFull(br, header); err != nil {
		return nil, fmt.Errorf("reading npy header: %w", err)
	}

	descr := descrPattern.FindSubmatch(header)
	order := orderPattern.FindSubmatch(header)
	shapeMatch := shapePattern.FindSubmatch(header)
	if descr == nil || order == nil || shapeMatch == nil {
		return nil, fmt.Errorf("incomplete npy header %q", header)
	}
	if string(order[1]) != "False" {
		return nil, fmt.Errorf("fortran ordered arrays are not supported")
	}

	dtype, ok := dtypeForDescr(string(descr[1]))
	if !ok {
		return nil, fmt.Errorf("unsupported npy descr %s", descr[1])
	}

	var shape models.Shape
	dims := strings.FieldsFunc(string(shapeMatch[1]), func(r rune) bool { return r == ',' || r == ' ' })
	if len(dims) != 3 {
		return nil, fmt.Errorf("npy array has %d dimensions, want 3", len(dims))
	}
	for i, d := range dims {
		n, err := strconv.Atoi(d)
		if err != nil {
			return nil, fmt.Errorf("npy shape: %w", err)
		}
		shape[i] = n
	}

	v := models.NewVolume(shape, dtype)
	buf := make([]byte, dtype.Size())
	le := binary.LittleEndian
	for i := range v.Data {
		if _, err := io.ReadFull(br, buf); err != nil {
			return nil, fmt.Errorf("reading npy data: %w", err)
		}
		switch dtype {
		case models.Float64:
			v.Data[i] = math.Float64frombits(le.Uint64(buf))
		case models.Float32:
			v.Data[i] = float64(math.Float32frombits(le.Uint32(buf)))
		case models.Int16:
			v.Data[i] = float64(int16(le.Uint16(buf)))
		case models.Uint16:
			v.Data[i] = float64(le.Uint16(buf))
		case models.Int32:
			v.Data[i] = float64(int32(le.Uint32(buf)))
		case models.Uint8:
			v.Data[i] = float64(buf[0])
		}
	}
	return v, nil
}

// ReadNPY loads a .npy file from fs
func ReadNPY(fs afero.Fs, path string) (*models.Volume, error) {
	f, err := fs.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return DecodeNPY(f)
}

func dtypeForDescr(descr string) (models.DType, bool) {
	if descr == "<u1" {
		descr = "|u1"
	}
	for dtype, d := range npyDescr {
		if d == descr {
			return dtype, true
		}
	}
	return 0, false
}
