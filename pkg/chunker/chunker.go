// pkg/chunker/chunker.go
// Package chunker turns an opaque byte array into a sequence of
// content-addressed pieces plus a stable aggregate digest, for use as
// the tree engine's content representation for large files. Chunk
// boundaries come from github.com/whyrusleeping/chunker, a Go port of
// restic's Rabin-fingerprint rolling hash (a FastCDC-family
// algorithm). Every replica must cut the same bytes at the same
// boundaries, so the rolling-hash polynomial is a fixed constant
// rather than one negotiated or generated per run — see
// DefaultPolynomial.
package chunker

import (
	"bytes"
	"errors"
	"io"
	"math/bits"

	"github.com/cespare/xxhash/v2"
	restic "github.com/whyrusleeping/chunker"

	"golang.org/x/xerrors"
)

// DefaultPolynomial is the irreducible polynomial every treesync
// replica chunks with. It is restic's own well-known test polynomial
// (0x3DA3358B4DC173): fixed and shared rather than generated via
// restic.RandomPolynomial, since the chunker must be deterministic
// across replicas — two peers chunking the same bytes with different
// polynomials would produce different chunk boundaries and therefore
// different digests for identical content.
const DefaultPolynomial restic.Pol = 0x3DA3358B4DC173

// Options parameterizes chunk boundary selection. Chunk replaces any
// Options whose MaxSize is zero (the zero value included) with
// DefaultOptions.
type Options struct {
	// MinSize is the smallest chunk the cutter will emit (except for
	// the final chunk of the input, which may be shorter).
	MinSize uint
	// AvgSize is the target average chunk size; the cutter is
	// configured so a boundary is expected roughly every AvgSize bytes.
	AvgSize uint
	// MaxSize is the largest chunk the cutter will ever emit, forcing
	// a cut if no content-defined boundary occurs first.
	MaxSize uint
}

// DefaultOptions picks a 64 KiB floor, 128 KiB average, 256 KiB
// ceiling.
func DefaultOptions() Options {
	return Options{MinSize: 64 * 1024, AvgSize: 128 * 1024, MaxSize: 256 * 1024}
}

// Piece is one content-defined chunk of the input.
type Piece struct {
	// Size is the chunk's length in bytes.
	Size uint32
	// Hash is the chunk's own 128-bit digest (see digest128 for how
	// the 128 bits are built from xxhash's 64-bit API).
	Hash [16]byte
}

// Chunks is the result of cutting one byte array: its pieces in order,
// plus a single digest over the whole input, stable across any replica
// that chunks the same bytes with the same Options.
type Chunks struct {
	Pieces []Piece
	Digest [16]byte
}

// digest128 folds xxhash's 64-bit Sum64 into a 128-bit value using two
// independently-seeded instances, since xxhash/v2 exposes no native
// 128-bit digest.
func digest128(b []byte) [16]byte {
	var out [16]byte
	h0 := xxhash.Sum64(b)
	h1 := xxhash.NewWithSeed(1)
	h1.Write(b)
	h2 := h1.Sum64()
	putUint64(out[0:8], h0)
	putUint64(out[8:16], h2)
	return out
}

func putUint64(b []byte, v uint64) {
	b[0] = byte(v >> 56)
	b[1] = byte(v >> 48)
	b[2] = byte(v >> 40)
	b[3] = byte(v >> 32)
	b[4] = byte(v >> 24)
	b[5] = byte(v >> 16)
	b[6] = byte(v >> 8)
	b[7] = byte(v)
}

// averageBits returns the SetAverageBits argument that targets avg as
// the expected chunk size: the cutter treats a rolling-hash match
// against the low averageBits bits of its fingerprint as a boundary,
// so 2^averageBits is the expected run length between cuts.
func averageBits(avg uint) int {
	if avg < 64 {
		avg = 64
	}
	return bits.Len(avg) - 1
}

// Chunk cuts data into content-defined pieces per opts, returning each
// piece's size and digest plus one aggregate digest for the whole
// input. A nil or zero-value opts.MaxSize uses DefaultOptions.
func Chunk(data []byte, opts Options) (Chunks, error) {
	if opts.MaxSize == 0 {
		opts = DefaultOptions()
	}
	if opts.MinSize == 0 || opts.AvgSize == 0 || opts.MinSize > opts.MaxSize {
		return Chunks{}, xerrors.New("chunker: invalid Options")
	}

	if len(data) == 0 {
		return Chunks{Digest: digest128(nil)}, nil
	}

	c := restic.New(bytes.NewReader(data), DefaultPolynomial)
	c.MinSize = opts.MinSize
	c.MaxSize = opts.MaxSize
	c.SetAverageBits(averageBits(opts.AvgSize))

	buf := make([]byte, opts.MaxSize)
	var pieces []Piece
	agg := xxhash.New()

	for {
		chunk, err := c.Next(buf)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return Chunks{}, xerrors.Errorf("chunker: cutting input: %w", err)
		}
		if chunk.Length == 0 {
			break
		}
		if _, err := agg.Write(chunk.Data); err != nil {
			return Chunks{}, xerrors.Errorf("chunker: hashing chunk: %w", err)
		}
		pieces = append(pieces, Piece{
			Size: uint32(chunk.Length),
			Hash: digest128(chunk.Data),
		})
	}

	var digest [16]byte
	h1 := xxhash.NewWithSeed(1)
	for _, p := range pieces {
		var sizeBuf [4]byte
		sizeBuf[0] = byte(p.Size >> 24)
		sizeBuf[1] = byte(p.Size >> 16)
		sizeBuf[2] = byte(p.Size >> 8)
		sizeBuf[3] = byte(p.Size)
		_, _ = h1.Write(sizeBuf[:])
		_, _ = h1.Write(p.Hash[:])
	}
	putUint64(digest[0:8], agg.Sum64())
	putUint64(digest[8:16], h1.Sum64())

	return Chunks{Pieces: pieces, Digest: digest}, nil
}
