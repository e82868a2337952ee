// Package volumeio reads CT volumes stored as MetaImage (.mhd/.raw or .mha)
// and persists processed volumes as NumPy .npy arrays.
package volumeio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zlib"
	"github.com/spf13/afero"

	"lungprep/internal/models"
)

// ErrFormat is returned for MetaImage headers or payloads that cannot be decoded
var ErrFormat = errors.New("malformed metaimage")

// MaxVoxels bounds the number of voxels a header may declare. It is well
// above the largest CT volumes and keeps a corrupt DimSize from sizing an
// allocation.
const MaxVoxels = 1 << 30

// Reader loads a volume and its spacing in the file's native (x, y, z) order
type Reader interface {
	Read(path string) (*models.Volume, models.Spacing, error)
}

// Header holds the MetaImage header fields used for decoding
type Header struct {
	NDims           int
	DimSize         []int
	ElementSpacing  []float64
	ElementType     string
	BigEndian       bool
	Compressed      bool
	HeaderSize      int64
	Channels        int
	ElementDataFile string
}

type elementFormat struct {
	size   int
	dtype  models.DType
	decode func(b []byte, order binary.ByteOrder) float64
}

var elementFormats = map[string]elementFormat{
	"MET_UCHAR":  {size: 1, dtype: models.Uint8, decode: decodeUint8},
	"MET_CHAR":   {size: 1, dtype: models.Int16, decode: decodeInt8},
	"MET_SHORT":  {size: 2, dtype: models.Int16, decode: decodeInt16},
	"MET_USHORT": {size: 2, dtype: models.Uint16, decode: decodeUint16},
	"MET_INT":    {size: 4, dtype: models.Int32, decode: decodeInt32},
	"MET_FLOAT":  {size: 4, dtype: models.Float32, decode: decodeFloat32},
	"MET_DOUBLE": {size: 8, dtype: models.Float64, decode: decodeFloat64},
}

func decodeUint8(b []byte, _ binary.ByteOrder) float64 { return float64(b[0]) }
func decodeInt8(b []byte, _ binary.ByteOrder) float64  { return float64(int8(b[0])) }
func decodeInt16(b []byte, o binary.ByteOrder) float64 { return float64(int16(o.Uint16(b))) }
func decodeUint16(b []byte, o binary.ByteOrder) float64 {
	return float64(o.Uint16(b))
}
func decodeInt32(b []byte, o binary.ByteOrder) float64 { return float64(int32(o.Uint32(b))) }
func decodeFloat32(b []byte, o binary.ByteOrder) float64 {
	return float64(math.Float32frombits(o.Uint32(b)))
}
func decodeFloat64(b []byte, o binary.ByteOrder) float64 {
	return math.Float64frombits(o.Uint64(b))
}

// ParseHeader reads "Key = Value" lines up to and including ElementDataFile.
// It returns the header and the number of bytes consumed, which is where a
// LOCAL payload starts.
func ParseHeader(data []byte) (*Header, int, error) {
	h := &Header{Channels: 1}
	pos := 0
	for pos < len(data) {
		end := bytes.IndexByte(data[pos:], '\n')
		var line string
		if end < 0 {
			line = string(data[pos:])
			pos = len(data)
		} else {
			line = string(data[pos : pos+end])
			pos += end + 1
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, 0, fmt.Errorf("%w: header line %q", ErrFormat, line)
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		var err error
		switch key {
		case "NDims":
			h.NDims, err = strconv.Atoi(value)
		case "DimSize":
			h.DimSize, err = parseInts(value)
		case "ElementSpacing":
			h.ElementSpacing, err = parseFloats(value)
		case "ElementSize":
			if h.ElementSpacing == nil {
				h.ElementSpacing, err = parseFloats(value)
			}
		case "ElementType":
			h.ElementType = strings.ToUpper(value)
		case "ElementByteOrderMSB", "BinaryDataByteOrderMSB":
			h.BigEndian = parseBool(value)
		case "CompressedData":
			h.Compressed = parseBool(value)
		case "HeaderSize":
			h.HeaderSize, err = strconv.ParseInt(value, 10, 64)
		case "ElementNumberOfChannels":
			h.Channels, err = strconv.Atoi(value)
		case "ElementDataFile":
			h.ElementDataFile = value
		}
		if err != nil {
			return nil, 0, fmt.Errorf("%w: %s: %v", ErrFormat, key, err)
		}
		if key == "ElementDataFile" {
			break
		}
	}

	if h.ElementDataFile == "" {
		return nil, 0, fmt.Errorf("%w: missing ElementDataFile", ErrFormat)
	}
	return h, pos, h.validate()
}

func (h *Header) validate() error {
	if h.NDims != 3 {
		return fmt.Errorf("%w: NDims %d, want 3", ErrFormat, h.NDims)
	}
	if _, err := h.voxelCount(); err != nil {
		return err
	}
	if h.ElementSpacing == nil {
		h.ElementSpacing = []float64{1, 1, 1}
	}
	if len(h.ElementSpacing) != 3 {
		return fmt.Errorf("%w: ElementSpacing has %d entries", ErrFormat, len(h.ElementSpacing))
	}
	if _, ok := elementFormats[h.ElementType]; !ok {
		return fmt.Errorf("%w: unsupported ElementType %q", ErrFormat, h.ElementType)
	}
	if h.Channels != 1 {
		return fmt.Errorf("%w: %d channels per element", ErrFormat, h.Channels)
	}
	return nil
}

// voxelCount multiplies the DimSize extents, failing instead of overflowing
func (h *Header) voxelCount() (int, error) {
	if len(h.DimSize) != 3 {
		return 0, fmt.Errorf("%w: DimSize has %d entries", ErrFormat, len(h.DimSize))
	}
	n := 1
	for _, d := range h.DimSize {
		if d <= 0 {
			return 0, fmt.Errorf("%w: DimSize %v", ErrFormat, h.DimSize)
		}
		if d > MaxVoxels/n {
			return 0, fmt.Errorf("%w: DimSize %v exceeds %d voxels", ErrFormat, h.DimSize, MaxVoxels)
		}
		n *= d
	}
	return n, nil
}

// Shape returns the array shape (depth, row, column) = (z, y, x)
func (h *Header) Shape() models.Shape {
	return models.Shape{h.DimSize[2], h.DimSize[1], h.DimSize[0]}
}

// Spacing returns the element spacing in native (x, y, z) order
func (h *Header) Spacing() models.Spacing {
	return models.Spacing{h.ElementSpacing[0], h.ElementSpacing[1], h.ElementSpacing[2]}
}

// MetaImageReader reads MetaImage volumes from a filesystem
type MetaImageReader struct {
	fs afero.Fs
}

// NewMetaImageReader creates a reader backed by fs
func NewMetaImageReader(fs afero.Fs) *MetaImageReader {
	return &MetaImageReader{fs: fs}
}

// Read loads the volume described by the header at path
func (m *MetaImageReader) Read(path string) (*models.Volume, models.Spacing, error) {
	headerData, err := afero.ReadFile(m.fs, path)
	if err != nil {
		return nil, models.Spacing{}, err
	}

	h, consumed, err := ParseHeader(headerData)
	if err != nil {
		return nil, models.Spacing{}, fmt.Errorf("%s: %w", path, err)
	}

	var payload []byte
	if strings.EqualFold(h.ElementDataFile, "LOCAL") {
		payload = headerData[consumed:]
	} else {
		dataPath := h.ElementDataFile
		if !filepath.IsAbs(dataPath) {
			dataPath = filepath.Join(filepath.Dir(path), dataPath)
		}
		payload, err = afero.ReadFile(m.fs, dataPath)
		if err != nil {
			return nil, models.Spacing{}, fmt.Errorf("reading data file of %s: %w", path, err)
		}
	}

	v, err := Decode(h, payload)
	if err != nil {
		return nil, models.Spacing{}, fmt.Errorf("%s: %w", path, err)
	}
	return v, h.Spacing(), nil
}

// Decode converts a raw or zlib-compressed payload into a volume
func Decode(h *Header, payload []byte) (*models.Volume, error) {
	format, ok := elementFormats[h.ElementType]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported ElementType %q", ErrFormat, h.ElementType)
	}
	voxels, err := h.voxelCount()
	if err != nil {
		return nil, err
	}
	shape := h.Shape()
	need := voxels * format.size

	if h.Compressed {
		zr, err := zlib.NewReader(bytes.NewReader(payload))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFormat, err)
		}
		defer zr.Close()
		// the buffer grows with the stream, not with DimSize
		raw, err := io.ReadAll(io.LimitReader(zr, int64(need)))
		if err != nil {
			return nil, fmt.Errorf("%w: inflating payload: %v", ErrFormat, err)
		}
		payload = raw
	} else {
		switch {
		case h.HeaderSize > 0:
			if int(h.HeaderSize) > len(payload) {
				return nil, fmt.Errorf("%w: HeaderSize %d beyond payload", ErrFormat, h.HeaderSize)
			}
			payload = payload[h.HeaderSize:]
		case h.HeaderSize == -1 && len(payload) > need:
			payload = payload[len(payload)-need:]
		}
	}

	if len(payload) < need {
		return nil, fmt.Errorf("%w: payload has %d bytes, need %d", ErrFormat, len(payload), need)
	}

	var order binary.ByteOrder = binary.LittleEndian
	if h.BigEndian {
		order = binary.BigEndian
	}

	v := models.NewVolume(shape, format.dtype)
	for i := range v.Data {
		off := i * format.size
		v.Data[i] = format.decode(payload[off:off+format.size], order)
	}
	return v, nil
}

func parseInts(s string) ([]int, error) {
	fields := strings.Fields(s)
	out := make([]int, len(fields))
	for i, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	return out, nil
}

func parseFloats(s string) ([]float64, error) {
	fields := strings.Fields(s)
	out := make([]float64, len(fields))
	for i, f := range fields {
		n, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return nil, err
		}
		out[i] = n
	}
	return out, nil
}

func parseBool(s string) bool {
	switch strings.ToLower(s) {
	case "true", "1", "yes":
		return true
	}
	return false
}
