// pkg/chunker/chunker_test.go
package chunker

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func randomBytes(t *testing.T, n int, seed int64) []byte {
	t.Helper()
	r := rand.New(rand.NewSource(seed))
	b := make([]byte, n)
	_, err := r.Read(b)
	require.NoError(t, err)
	return b
}

func TestChunk_Empty(t *testing.T) {
	chunks, err := Chunk(nil, DefaultOptions())
	require.NoError(t, err)
	require.Empty(t, chunks.Pieces)
}

func TestChunk_Deterministic(t *testing.T) {
	data := randomBytes(t, 3*1024*1024, 42)

	a, err := Chunk(data, DefaultOptions())
	require.NoError(t, err)
	b, err := Chunk(data, DefaultOptions())
	require.NoError(t, err)

	require.Equal(t, a.Digest, b.Digest)
	require.Equal(t, a.Pieces, b.Pieces)
	require.NotEmpty(t, a.Pieces)
}

func TestChunk_ReassemblesInputSize(t *testing.T) {
	data := randomBytes(t, 1024*1024, 7)

	chunks, err := Chunk(data, DefaultOptions())
	require.NoError(t, err)

	var total uint64
	for _, p := range chunks.Pieces {
		total += uint64(p.Size)
	}
	require.EqualValues(t, len(data), total)
}

func TestChunk_SmallInputIsOneChunk(t *testing.T) {
	data := []byte("a small file body that's nowhere near the chunk floor")

	chunks, err := Chunk(data, DefaultOptions())
	require.NoError(t, err)
	require.Len(t, chunks.Pieces, 1)
	require.EqualValues(t, len(data), chunks.Pieces[0].Size)
}

func TestChunk_InsertionShiftsOnlyLocalBoundaries(t *testing.T) {
	base := randomBytes(t, 2*1024*1024, 99)
	mutated := make([]byte, 0, len(base)+4096)
	mutated = append(mutated, base[:len(base)/2]...)
	mutated = append(mutated, randomBytes(t, 4096, 123)...)
	mutated = append(mutated, base[len(base)/2:]...)

	before, err := Chunk(base, DefaultOptions())
	require.NoError(t, err)
	after, err := Chunk(mutated, DefaultOptions())
	require.NoError(t, err)

	require.NotEqual(t, before.Digest, after.Digest)

	shared := 0
	afterHashes := make(map[[16]byte]struct{}, len(after.Pieces))
	for _, p := range after.Pieces {
		afterHashes[p.Hash] = struct{}{}
	}
	for _, p := range before.Pieces {
		if _, ok := afterHashes[p.Hash]; ok {
			shared++
		}
	}
	require.Greater(t, shared, 0, "content-defined chunking should keep most chunks intact around a local insertion")
}

func TestChunk_DifferentOptionsDifferentBoundaries(t *testing.T) {
	data := randomBytes(t, 2*1024*1024, 5)

	small, err := Chunk(data, Options{MinSize: 16 * 1024, AvgSize: 32 * 1024, MaxSize: 64 * 1024})
	require.NoError(t, err)
	large, err := Chunk(data, Options{MinSize: 128 * 1024, AvgSize: 256 * 1024, MaxSize: 512 * 1024})
	require.NoError(t, err)

	require.Greater(t, len(small.Pieces), len(large.Pieces))
}

func TestChunk_InvalidOptions(t *testing.T) {
	_, err := Chunk([]byte("x"), Options{MinSize: 100, AvgSize: 10, MaxSize: 50})
	require.Error(t, err)
}

func TestChunk_NotAllZeroBuffer(t *testing.T) {
	data := bytes.Repeat([]byte{0}, 0)
	chunks, err := Chunk(data, DefaultOptions())
	require.NoError(t, err)
	require.Empty(t, chunks.Pieces)
}
