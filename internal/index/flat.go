// Package index implements an exhaustive L2 similarity index over float32
// vectors with a compact binary on-disk form.
//
// Positions are the ids: the n-th vector added has id n. The index only grows;
// callers that need a fresh index build a new one.
package index

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"

	"gwi.com/repo-assistant/internal/utils"
)

// NotFound fills result slots when the index holds fewer than k vectors.
const NotFound int64 = -1

var (
	ErrDimension = errors.New("vector dimension mismatch")
	ErrBadFormat = errors.New("invalid index file")
)

var magic = [4]byte{'R', 'F', 'L', '2'}

const formatVersion uint32 = 1

type fileHeader struct {
	Magic   [4]byte
	Version uint32
	Dim     uint32
	Count   uint64
}

// Flat is not safe for concurrent mutation; the owner serializes Add and
// Truncate.
type Flat struct {
	dim  int
	data []float32 // row-major, len = dim * Len()
}

func NewFlat(dim int) *Flat {
	return &Flat{dim: dim}
}

func (f *Flat) Dimension() int { return f.dim }

func (f *Flat) Len() int {
	if f.dim == 0 {
		return 0
	}
	return len(f.data) / f.dim
}

// Add appends vectors in order. Nothing is added if any vector has the wrong
// dimension.
func (f *Flat) Add(vectors [][]float32) error {
	for i, v := range vectors {
		if len(v) != f.dim {
			return fmt.Errorf("%w: vector %d has %d values, index expects %d", ErrDimension, i, len(v), f.dim)
		}
	}
	for _, v := range vectors {
		f.data = append(f.data, v...)
	}
	return nil
}

// Truncate drops every vector from position n on. It is a no-op when the
// index holds n or fewer vectors.
func (f *Flat) Truncate(n int) {
	if n < 0 {
		n = 0
	}
	if n < f.Len() {
		f.data = f.data[:n*f.dim]
	}
}

// Vector returns a copy of the vector stored under id.
func (f *Flat) Vector(id int64) ([]float32, bool) {
	if id < 0 || id >= int64(f.Len()) {
		return nil, false
	}
	out := make([]float32, f.dim)
	copy(out, f.data[int(id)*f.dim:int(id+1)*f.dim])
	return out, true
}

// Search returns exactly k ids and squared L2 distances, nearest first.
// Slots beyond the number of stored vectors hold NotFound and MaxFloat32.
func (f *Flat) Search(query []float32, k int) ([]int64, []float32, error) {
	if len(query) != f.dim {
		return nil, nil, fmt.Errorf("%w: query has %d values, index expects %d", ErrDimension, len(query), f.dim)
	}
	if k <= 0 {
		return []int64{}, []float32{}, nil
	}

	type hit struct {
		id   int64
		dist float32
	}
	n := f.Len()
	hits := make([]hit, 0, n)
	for i := 0; i < n; i++ {
		d, err := utils.SquaredL2Distance(query, f.data[i*f.dim:(i+1)*f.dim])
		if err != nil {
			return nil, nil, err
		}
		hits = append(hits, hit{id: int64(i), dist: d})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].dist < hits[j].dist })

	ids := make([]int64, k)
	dists := make([]float32, k)
	for i := 0; i < k; i++ {
		if i < len(hits) {
			ids[i], dists[i] = hits[i].id, hits[i].dist
			continue
		}
		ids[i], dists[i] = NotFound, math.MaxFloat32
	}
	return ids, dists, nil
}

// WriteTo encodes the index: magic, version, dimension, count, then the
// vector data, all little-endian.
func (f *Flat) WriteTo(w io.Writer) (int64, error) {
	bw := bufio.NewWriter(w)
	header := fileHeader{magic, formatVersion, uint32(f.dim), uint64(f.Len())}

	if err := binary.Write(bw, binary.LittleEndian, header); err != nil {
		return 0, fmt.Errorf("failed to write index header: %w", err)
	}
	if err := binary.Write(bw, binary.LittleEndian, f.data); err != nil {
		return 0, fmt.Errorf("failed to write index vectors: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return 0, err
	}
	return int64(binary.Size(header) + 4*len(f.data)), nil
}

// Read decodes an index written by WriteTo. The vector data is read in
// bounded batches, so a header claiming more vectors than the stream holds
// fails with ErrBadFormat instead of allocating the claimed size up front.
func Read(r io.Reader) (*Flat, error) {
	return read(r, -1)
}

// read decodes an index. A non-negative size is the total length of the
// encoded index and must match the header exactly.
func read(r io.Reader, size int64) (*Flat, error) {
	br := bufio.NewReader(r)
	var header fileHeader
	if err := binary.Read(br, binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrBadFormat, err)
	}
	if header.Magic != magic {
		return nil, fmt.Errorf("%w: bad magic %q", ErrBadFormat, header.Magic[:])
	}
	if header.Version != formatVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrBadFormat, header.Version)
	}
	if header.Dim == 0 {
		return nil, fmt.Errorf("%w: zero dimension", ErrBadFormat)
	}
	if header.Count > uint64(math.MaxInt64/4)/uint64(header.Dim) {
		return nil, fmt.Errorf("%w: vector count %d too large for dimension %d", ErrBadFormat, header.Count, header.Dim)
	}

	values := header.Count * uint64(header.Dim)
	if size >= 0 {
		want := int64(binary.Size(header)) + 4*int64(values)
		if size != want {
			return nil, fmt.Errorf("%w: header describes %d bytes, file has %d", ErrBadFormat, want, size)
		}
	}

	data, err := readValues(br, values)
	if err != nil {
		return nil, err
	}
	return &Flat{dim: int(header.Dim), data: data}, nil
}

const readBatch = 1 << 16

func readValues(r io.Reader, n uint64) ([]float32, error) {
	data := make([]float32, 0, min(n, readBatch))
	buf := make([]float32, min(n, readBatch))
	for remaining := n; remaining > 0; {
		batch := min(remaining, readBatch)
		if err := binary.Read(r, binary.LittleEndian, buf[:batch]); err != nil {
			return nil, fmt.Errorf("%w: vectors: %v", ErrBadFormat, err)
		}
		data = append(data, buf[:batch]...)
		remaining -= batch
	}
	return data, nil
}

// WriteFile persists the index to path via a temporary file and rename, so a
// reader never sees a half-written index.
func (f *Flat) WriteFile(path string) error {
	return utils.WriteFileAtomic(path, func(w io.Writer) error {
		_, err := f.WriteTo(w)
		return err
	})
}

func ReadFile(path string) (*Flat, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, err
	}
	return read(file, info.Size())
}
