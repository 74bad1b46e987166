package index

import (
	"bytes"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlat_AddAndSearch(t *testing.T) {
	f := NewFlat(2)
	require.NoError(t, f.Add([][]float32{{0, 0}, {3, 4}, {1, 1}}))
	assert.Equal(t, 3, f.Len())

	ids, dists, err := f.Search([]float32{0, 0}, 5)
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 2, 1, NotFound, NotFound}, ids)
	assert.InDelta(t, 0.0, dists[0], 1e-6)
	assert.InDelta(t, 2.0, dists[1], 1e-6)
	assert.InDelta(t, 25.0, dists[2], 1e-6)
	assert.Equal(t, float32(math.MaxFloat32), dists[3])
}

func TestFlat_SearchEmpty(t *testing.T) {
	f := NewFlat(3)
	ids, dists, err := f.Search([]float32{1, 2, 3}, 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{NotFound, NotFound}, ids)
	assert.Len(t, dists, 2)

	ids, _, err = f.Search([]float32{1, 2, 3}, 0)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestFlat_DimensionErrors(t *testing.T) {
	f := NewFlat(2)
	err := f.Add([][]float32{{1, 2}, {1, 2, 3}})
	assert.ErrorIs(t, err, ErrDimension)
	assert.Equal(t, 0, f.Len(), "a rejected batch adds nothing")

	_, _, err = f.Search([]float32{1}, 1)
	assert.ErrorIs(t, err, ErrDimension)
}

func TestFlat_Vector(t *testing.T) {
	f := NewFlat(2)
	require.NoError(t, f.Add([][]float32{{1, 2}, {3, 4}}))

	v, ok := f.Vector(1)
	require.True(t, ok)
	assert.Equal(t, []float32{3, 4}, v)

	v[0] = 99
	again, _ := f.Vector(1)
	assert.Equal(t, float32(3), again[0], "Vector returns a copy")

	_, ok = f.Vector(2)
	assert.False(t, ok)
	_, ok = f.Vector(-1)
	assert.False(t, ok)
}

func TestFlat_RoundTrip(t *testing.T) {
	f := NewFlat(3)
	require.NoError(t, f.Add([][]float32{{1, 2, 3}, {-1, 0.5, 7}}))

	path := filepath.Join(t.TempDir(), "nested", "index.bin")
	require.NoError(t, f.WriteFile(path))

	loaded, err := ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 3, loaded.Dimension())
	assert.Equal(t, 2, loaded.Len())
	v, _ := loaded.Vector(1)
	assert.Equal(t, []float32{-1, 0.5, 7}, v)

	matches, err := filepath.Glob(filepath.Join(filepath.Dir(path), "*.tmp-*"))
	require.NoError(t, err)
	assert.Empty(t, matches, "temporary files are cleaned up")
}

func TestFlat_RoundTripEmpty(t *testing.T) {
	var buf bytes.Buffer
	_, err := NewFlat(4).WriteTo(&buf)
	require.NoError(t, err)

	loaded, err := Read(&buf)
	require.NoError(t, err)
	assert.Equal(t, 4, loaded.Dimension())
	assert.Equal(t, 0, loaded.Len())
}

func TestRead_BadInput(t *testing.T) {
	_, err := Read(bytes.NewReader([]byte("nope")))
	assert.ErrorIs(t, err, ErrBadFormat)

	_, err = Read(bytes.NewReader(append([]byte("XXXX"), make([]byte, 16)...)))
	assert.ErrorIs(t, err, ErrBadFormat)

	// Header claims one 2-d vector, data is missing.
	var buf bytes.Buffer
	f := NewFlat(2)
	require.NoError(t, f.Add([][]float32{{1, 2}}))
	_, err = f.WriteTo(&buf)
	require.NoError(t, err)
	truncated := buf.Bytes()[:buf.Len()-4]
	_, err = Read(bytes.NewReader(truncated))
	assert.ErrorIs(t, err, ErrBadFormat)

	// Counts far beyond the data fail without allocating the claimed size.
	_, err = Read(bytes.NewReader(encodeHeader(t, 4, 1<<40)))
	assert.ErrorIs(t, err, ErrBadFormat)

	// dim*count would overflow.
	_, err = Read(bytes.NewReader(encodeHeader(t, 4, 1<<62)))
	assert.ErrorIs(t, err, ErrBadFormat)
	_, err = Read(bytes.NewReader(encodeHeader(t, math.MaxUint32, math.MaxUint64)))
	assert.ErrorIs(t, err, ErrBadFormat)
}

func encodeHeader(t *testing.T, dim uint32, count uint64) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, fileHeader{magic, formatVersion, dim, count}))
	return buf.Bytes()
}

func TestReadFile_SizeMismatch(t *testing.T) {
	dir := t.TempDir()

	huge := filepath.Join(dir, "huge.bin")
	require.NoError(t, os.WriteFile(huge, encodeHeader(t, 4, 1<<40), 0o644))
	_, err := ReadFile(huge)
	assert.ErrorIs(t, err, ErrBadFormat)

	var buf bytes.Buffer
	f := NewFlat(2)
	require.NoError(t, f.Add([][]float32{{1, 2}}))
	_, err = f.WriteTo(&buf)
	require.NoError(t, err)

	trailing := filepath.Join(dir, "trailing.bin")
	require.NoError(t, os.WriteFile(trailing, append(buf.Bytes(), 0, 0, 0, 0), 0o644))
	_, err = ReadFile(trailing)
	assert.ErrorIs(t, err, ErrBadFormat)
}

func TestRead_ManyBatches(t *testing.T) {
	f := NewFlat(3)
	vectors := make([][]float32, readBatch/3+7)
	for i := range vectors {
		vectors[i] = []float32{float32(i), 0, -float32(i)}
	}
	require.NoError(t, f.Add(vectors))

	var buf bytes.Buffer
	_, err := f.WriteTo(&buf)
	require.NoError(t, err)

	loaded, err := Read(&buf)
	require.NoError(t, err)
	assert.Equal(t, len(vectors), loaded.Len())
	last, _ := loaded.Vector(int64(len(vectors) - 1))
	assert.Equal(t, vectors[len(vectors)-1], last)
}

func TestFlat_Truncate(t *testing.T) {
	f := NewFlat(2)
	require.NoError(t, f.Add([][]float32{{1, 1}, {2, 2}, {3, 3}}))

	f.Truncate(5)
	assert.Equal(t, 3, f.Len())

	f.Truncate(1)
	assert.Equal(t, 1, f.Len())
	_, ok := f.Vector(1)
	assert.False(t, ok)

	require.NoError(t, f.Add([][]float32{{9, 9}}))
	v, _ := f.Vector(1)
	assert.Equal(t, []float32{9, 9}, v)
}

func TestReadFile_Missing(t *testing.T) {
	_, err := ReadFile(filepath.Join(t.TempDir(), "missing.bin"))
	assert.True(t, os.IsNotExist(err))
}
