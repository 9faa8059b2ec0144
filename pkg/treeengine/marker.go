// pkg/treeengine/marker.go
// VectorMarker is the shipped Marker implementation: a version vector
// for causal ordering, a wall-clock tiebreak, and an actor id as the
// final tiebreak.
package treeengine

import (
	"sort"

	"treesync/pkg/codec"

	"golang.org/x/xerrors"
)

// VectorMarker orders ops first by causal happens-before (the version
// vector), then by wall clock, then by actor id. The combination is a
// total order: two distinct VectorMarkers never compare Equal unless
// every field matches, which callers must avoid (the engine rejects
// duplicate markers).
type VectorMarker struct {
	Vector map[string]uint64
	Clock  uint64
	Actor  string
}

// NewVectorMarker builds a marker for actor at clock from a copy of
// vector. No entry is changed: callers bump their own entry (and clock)
// before calling.
func NewVectorMarker(vector map[string]uint64, clock uint64, actor string) VectorMarker {
	v := make(map[string]uint64, len(vector))
	for k, val := range vector {
		v[k] = val
	}
	return VectorMarker{Vector: v, Clock: clock, Actor: actor}
}

func (m VectorMarker) Compare(other Marker) CompareResult {
	o, ok := other.(VectorMarker)
	if !ok {
		// Cross-type comparison can't happen in a well-formed replica
		// set; treat as concurrent and fall through to clock/actor so
		// the ordering is at least deterministic.
		o = VectorMarker{}
	}

	actors := make(map[string]struct{}, len(m.Vector)+len(o.Vector))
	for a := range m.Vector {
		actors[a] = struct{}{}
	}
	for a := range o.Vector {
		actors[a] = struct{}{}
	}

	selfGE, otherGE := true, true
	for a := range actors {
		sv, ov := m.Vector[a], o.Vector[a]
		if sv < ov {
			selfGE = false
		}
		if ov < sv {
			otherGE = false
		}
	}

	switch {
	case selfGE && !otherGE:
		return Greater
	case otherGE && !selfGE:
		return Less
	}

	if m.Clock != o.Clock {
		if m.Clock > o.Clock {
			return Greater
		}
		return Less
	}

	if m.Actor != o.Actor {
		if m.Actor > o.Actor {
			return Greater
		}
		return Less
	}

	return Equal
}

func (m VectorMarker) ByteSize() int {
	n := 4
	for a := range m.Vector {
		n += 4 + len(a) + 8
	}
	n += 8       // clock
	n += 4 + len(m.Actor)
	return n
}

func (m VectorMarker) Bytes() []byte {
	w := codec.NewWriter(m.ByteSize())
	actors := make([]string, 0, len(m.Vector))
	for a := range m.Vector {
		actors = append(actors, a)
	}
	sort.Strings(actors)
	w.WriteUint32(uint32(len(actors)))
	for _, a := range actors {
		w.WriteString(a)
		w.WriteUint64(m.Vector[a])
	}
	w.WriteUint64(m.Clock)
	w.WriteString(m.Actor)
	return w.Bytes()
}

// DecodeVectorMarker is a MarkerDecoder for VectorMarker.
func DecodeVectorMarker(b []byte) (Marker, error) {
	r := codec.NewReader(b)
	n, err := r.ReadUint32()
	if err != nil {
		return nil, xerrors.Errorf("vector marker: %w", err)
	}
	vec := make(map[string]uint64, n)
	for i := uint32(0); i < n; i++ {
		actor, err := r.ReadString()
		if err != nil {
			return nil, xerrors.Errorf("vector marker actor: %w", err)
		}
		count, err := r.ReadUint64()
		if err != nil {
			return nil, xerrors.Errorf("vector marker count: %w", err)
		}
		vec[actor] = count
	}
	clock, err := r.ReadUint64()
	if err != nil {
		return nil, xerrors.Errorf("vector marker clock: %w", err)
	}
	actor, err := r.ReadString()
	if err != nil {
		return nil, xerrors.Errorf("vector marker actor id: %w", err)
	}
	return VectorMarker{Vector: vec, Clock: clock, Actor: actor}, nil
}
