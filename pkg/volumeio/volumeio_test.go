package volumeio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/klauspost/compress/zlib"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lungprep/internal/models"
)

// writeMetaImage stores a MET_SHORT volume with x fastest, as ITK writes it
func writeMetaImage(t *testing.T, fs afero.Fs, path string, dims [3]int, spacing [3]float64, order binary.ByteOrder, extra string) []int16 {
	t.Helper()

	n := dims[0] * dims[1] * dims[2]
	values := make([]int16, n)
	var raw bytes.Buffer
	for i := range values {
		values[i] = int16(i*7 - 1000)
		require.NoError(t, binary.Write(&raw, order, values[i]))
	}

	msb := "False"
	if order == binary.BigEndian {
		msb = "True"
	}
	header := fmt.Sprintf(`ObjectType = Image
NDims = 3
BinaryData = True
BinaryDataByteOrderMSB = %s
CompressedData = False
TransformMatrix = 1 0 0 0 1 0 0 0 1
Offset = -195 -195 -378
ElementSpacing = %g %g %g
DimSize = %d %d %d
ElementType = MET_SHORT
%sElementDataFile = scan.raw
`, msb, spacing[0], spacing[1], spacing[2], dims[0], dims[1], dims[2], extra)

	require.NoError(t, afero.WriteFile(fs, path, []byte(header), 0644))
	require.NoError(t, afero.WriteFile(fs, "/data/scan.raw", raw.Bytes(), 0644))
	return values
}

func TestMetaImageReaderRawLittleEndian(t *testing.T) {
	fs := afero.NewMemMapFs()
	values := writeMetaImage(t, fs, "/data/scan.mhd", [3]int{4, 3, 2}, [3]float64{0.7, 0.7, 2.5}, binary.LittleEndian, "")

	v, spacing, err := NewMetaImageReader(fs).Read("/data/scan.mhd")
	require.NoError(t, err)

	assert.Equal(t, models.Shape{2, 3, 4}, v.Shape)
	assert.Equal(t, models.Int16, v.DType)
	assert.Equal(t, models.Spacing{0.7, 0.7, 2.5}, spacing)
	for i, want := range values {
		assert.Equal(t, float64(want), v.Data[i])
	}
	// x is the fastest axis, so it becomes the column axis
	assert.Equal(t, float64(values[1]), v.At(0, 0, 1))
	assert.Equal(t, float64(values[4]), v.At(0, 1, 0))
	assert.Equal(t, float64(values[12]), v.At(1, 0, 0))
}

func TestMetaImageReaderBigEndian(t *testing.T) {
	fs := afero.NewMemMapFs()
	values := writeMetaImage(t, fs, "/data/scan.mhd", [3]int{2, 2, 2}, [3]float64{1, 1, 1}, binary.BigEndian, "")

	v, _, err := NewMetaImageReader(fs).Read("/data/scan.mhd")
	require.NoError(t, err)
	assert.Equal(t, float64(values[5]), v.Data[5])
}

func TestMetaImageReaderCompressedLocal(t *testing.T) {
	fs := afero.NewMemMapFs()

	var raw bytes.Buffer
	floats := []float32{-1.5, 0, 2.25, 8, 16.5, -3, 7, 1}
	for _, f := range floats {
		require.NoError(t, binary.Write(&raw, binary.LittleEndian, f))
	}
	var packed bytes.Buffer
	zw := zlib.NewWriter(&packed)
	_, err := zw.Write(raw.Bytes())
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	header := "NDims = 3\nDimSize = 2 2 2\nElementSize = 0.5 0.5 1.25\nElementType = MET_FLOAT\nCompressedData = True\nElementDataFile = LOCAL\n"
	require.NoError(t, afero.WriteFile(fs, "/scan.mha", append([]byte(header), packed.Bytes()...), 0644))

	v, spacing, err := NewMetaImageReader(fs).Read("/scan.mha")
	require.NoError(t, err)
	assert.Equal(t, models.Float32, v.DType)
	assert.Equal(t, models.Spacing{0.5, 0.5, 1.25}, spacing)
	for i, f := range floats {
		assert.Equal(t, float64(f), v.Data[i])
	}
}

func TestMetaImageReaderErrors(t *testing.T) {
	fs := afero.NewMemMapFs()
	reader := NewMetaImageReader(fs)

	_, _, err := reader.Read("/missing.mhd")
	assert.Error(t, err)

	require.NoError(t, afero.WriteFile(fs, "/two.mhd", []byte("NDims = 2\nDimSize = 2 2\nElementType = MET_SHORT\nElementDataFile = two.raw\n"), 0644))
	_, _, err = reader.Read("/two.mhd")
	assert.ErrorIs(t, err, ErrFormat)

	require.NoError(t, afero.WriteFile(fs, "/short.mhd", []byte("NDims = 3\nDimSize = 4 4 4\nElementType = MET_SHORT\nElementDataFile = short.raw\n"), 0644))
	require.NoError(t, afero.WriteFile(fs, "/short.raw", make([]byte, 10), 0644))
	_, _, err = reader.Read("/short.mhd")
	assert.ErrorIs(t, err, ErrFormat)

	require.NoError(t, afero.WriteFile(fs, "/rgb.mhd", []byte("NDims = 3\nDimSize = 1 1 1\nElementType = MET_RGB\nElementDataFile = rgb.raw\n"), 0644))
	_, _, err = reader.Read("/rgb.mhd")
	assert.ErrorIs(t, err, ErrFormat)
}

// TestMetaImageReaderRejectsOversizedDimSize verifies that a header declaring
// more voxels than can be decoded fails with ErrFormat instead of allocating
func TestMetaImageReaderRejectsOversizedDimSize(t *testing.T) {
	fs := afero.NewMemMapFs()
	reader := NewMetaImageReader(fs)

	var packed bytes.Buffer
	zw := zlib.NewWriter(&packed)
	_, err := zw.Write(make([]byte, 64))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	for name, dims := range map[string]string{
		"huge":     "100000 100000 100000",
		"overflow": "2147483648 2147483648 4",
		"limit":    fmt.Sprintf("%d 2 1", MaxVoxels),
	} {
		header := "NDims = 3\nDimSize = " + dims + "\nElementType = MET_SHORT\nCompressedData = True\nElementDataFile = LOCAL\n"
		path := "/" + name + ".mha"
		require.NoError(t, afero.WriteFile(fs, path, append([]byte(header), packed.Bytes()...), 0644))

		_, _, err := reader.Read(path)
		assert.ErrorIs(t, err, ErrFormat, name)
	}

	// within the limit, but the stream is shorter than the header promises
	header := "NDims = 3\nDimSize = 1024 1024 512\nElementType = MET_SHORT\nCompressedData = True\nElementDataFile = LOCAL\n"
	require.NoError(t, afero.WriteFile(fs, "/truncated.mha", append([]byte(header), packed.Bytes()...), 0644))
	_, _, err = reader.Read("/truncated.mha")
	assert.ErrorIs(t, err, ErrFormat)

	h := &Header{NDims: 3, DimSize: []int{1 << 40, 1 << 40, 4}, ElementType: "MET_SHORT", ElementSpacing: []float64{1, 1, 1}, Channels: 1}
	_, err = Decode(h, nil)
	assert.ErrorIs(t, err, ErrFormat)
}

func TestParseHeaderStopsAtElementDataFile(t *testing.T) {
	data := []byte("NDims = 3\nDimSize = 1 1 2\nElementType = MET_UCHAR\nElementDataFile = LOCAL\n\x01\x02")
	h, consumed, err := ParseHeader(data)
	require.NoError(t, err)
	assert.Equal(t, "LOCAL", h.ElementDataFile)
	assert.Equal(t, []byte{1, 2}, data[consumed:])
	assert.Equal(t, []float64{1, 1, 1}, h.ElementSpacing)
}

func TestNPYHeaderLayout(t *testing.T) {
	v := models.NewVolume(models.Shape{2, 3, 4}, models.Int16)
	var buf bytes.Buffer
	n, err := EncodeNPY(&buf, v)
	require.NoError(t, err)

	out := buf.Bytes()
	assert.Equal(t, int64(len(out)), n)
	assert.Equal(t, []byte("\x93NUMPY\x01\x00"), out[:8])

	headerLen := int(binary.LittleEndian.Uint16(out[8:10]))
	assert.Zero(t, (10+headerLen)%64)
	header := string(out[10 : 10+headerLen])
	assert.Contains(t, header, "'descr': '<i2'")
	assert.Contains(t, header, "'fortran_order': False")
	assert.Contains(t, header, "'shape': (2, 3, 4)")
	assert.Equal(t, byte('\n'), header[len(header)-1])
	assert.Len(t, out, 10+headerLen+2*24)
}

func TestNPYWriterRoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()
	v := models.NewVolume(models.Shape{1, 2, 3}, models.Int16)
	copy(v.Data, []float64{-1024, -1, 0, 1, 512, 32767})

	path, size, err := NewNPYWriter(fs).Write("/out/subset0/scan", v)
	require.NoError(t, err)
	assert.Equal(t, "/out/subset0/scan.npy", path)

	info, err := fs.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, info.Size(), size)

	got, err := ReadNPY(fs, path)
	require.NoError(t, err)
	assert.Equal(t, v, got)
}
