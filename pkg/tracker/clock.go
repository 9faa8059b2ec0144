// pkg/tracker/clock.go
// Clock is the tracker's own Marker: a 128-bit monotonic counter,
// persisted alongside the tree so markers stay strictly increasing
// across Apply calls. The tracker never reconciles with a peer's
// independently-minted markers (it is the sole writer of its own
// tree), so it never needs the version vector VectorMarker provides;
// a plain counter can't collide with itself.
package tracker

import (
	"encoding/binary"
	"math"

	"treesync/pkg/treeengine"
	"treesync/pkg/treeerr"
)

// Clock is a 128-bit unsigned counter, stored as two big-endian halves.
type Clock struct {
	Hi, Lo uint64
}

func (c Clock) Compare(other treeengine.Marker) treeengine.CompareResult {
	o, ok := other.(Clock)
	if !ok {
		o = Clock{}
	}
	switch {
	case c.Hi > o.Hi:
		return treeengine.Greater
	case c.Hi < o.Hi:
		return treeengine.Less
	case c.Lo > o.Lo:
		return treeengine.Greater
	case c.Lo < o.Lo:
		return treeengine.Less
	default:
		return treeengine.Equal
	}
}

func (c Clock) ByteSize() int { return 16 }

func (c Clock) Bytes() []byte {
	var b [16]byte
	binary.BigEndian.PutUint64(b[0:8], c.Hi)
	binary.BigEndian.PutUint64(b[8:16], c.Lo)
	return b[:]
}

// next returns c+1, carrying into Hi on Lo overflow.
func (c Clock) next() Clock {
	if c.Lo == math.MaxUint64 {
		return Clock{Hi: c.Hi + 1, Lo: 0}
	}
	return Clock{Hi: c.Hi, Lo: c.Lo + 1}
}

// DecodeClock is a treeengine.MarkerDecoder for Clock.
func DecodeClock(b []byte) (treeengine.Marker, error) {
	if len(b) < 16 {
		return nil, treeerr.Decode(treeerr.Invalid("short clock marker"))
	}
	return Clock{Hi: binary.BigEndian.Uint64(b[0:8]), Lo: binary.BigEndian.Uint64(b[8:16])}, nil
}
