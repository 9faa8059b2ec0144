// pkg/treeengine/types.go
// Package treeengine implements a move-only tree CRDT: a labeled
// forest under ROOT/RECYCLE, addressed by 64-bit Id locally and by
// 128-bit Ref across replicas, mutated only by moves whose conflicts
// resolve deterministically and whose effects are reversible through
// an undo/redo log.
package treeengine

import (
	"encoding/binary"

	"github.com/google/uuid"
)

// Id is a node's local, dense identity. ROOT and RECYCLE are reserved;
// fresh ids are allocated starting at 10.
type Id uint64

const (
	// ROOT is the self-parented root of the visible tree.
	ROOT Id = 0
	// RECYCLE is the self-parented bin superseded subtrees are moved
	// into; never exposed to external callers.
	RECYCLE Id = 1
	// FirstFreshID is the first id CreateID ever allocates.
	FirstFreshID Id = 10
)

func (id Id) Bytes() []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(id))
	return b[:]
}

func IdFromBytes(b []byte) Id {
	return Id(binary.BigEndian.Uint64(b))
}

// Ref is a node's portable, sparse identity: a random 128-bit value
// safe to mint without coordination. Concurrent peers that create the
// "same" logical node reference it by the same Ref.
type Ref [16]byte

// NewRef mints a fresh, random Ref (v4 UUID bytes).
func NewRef() Ref {
	var r Ref
	u := uuid.New()
	copy(r[:], u[:])
	return r
}

func RefFromBytes(b []byte) Ref {
	var r Ref
	copy(r[:], b)
	return r
}

func (r Ref) Bytes() []byte { return r[:] }

// Key is the name of a child within its parent.
type Key string

// Content is the opaque payload carried per node. The tree engine
// never interprets it beyond passing it through; treestore persists
// whatever Bytes() returns and hands callers back a RawContent on
// read. Hosts that need a richer type (the tracker's Entity) implement
// Content themselves and recover their type by decoding RawContent.
type Content interface {
	ByteSize() int
	Bytes() []byte
}

// RawContent is the default Content: an opaque byte slice, and what
// treestore always returns from storage (it has no way to know which
// concrete Content type produced the bytes it holds).
type RawContent []byte

func (c RawContent) ByteSize() int { return len(c) }
func (c RawContent) Bytes() []byte { return []byte(c) }

// CompareResult is a three-way comparison between two Markers. Equal
// is forbidden between two distinct ops the engine will ever apply —
// see Marker.
type CompareResult int

const (
	Less    CompareResult = -1
	Equal   CompareResult = 0
	Greater CompareResult = 1
)

// Marker is the operation timestamp: a value that, across every op
// two peers will ever exchange, is pairwise distinct and totally
// ordered under Compare. VectorMarker is the canonical implementation
// (version vector, then wall clock, then actor).
type Marker interface {
	Compare(other Marker) CompareResult
	ByteSize() int
	Bytes() []byte
}

// MarkerDecoder reconstructs the host's concrete Marker type from the
// bytes a previous Marker.Bytes() produced. treestore needs one to
// rehydrate log entries it reads back from the KV.
type MarkerDecoder func(b []byte) (Marker, error)

// Node is a stored node record: (parent, key, content).
type Node struct {
	Parent  Id
	Key     Key
	Content Content
}

// Placement is where a node sits in the tree — nil means "nowhere"
// (the node does not currently exist in the visible tree).
type Placement struct {
	Parent  Id
	Key     Key
	Content Content
}

// ChildEntry is one row of GetChildren: a (key, id) pair.
type ChildEntry struct {
	Key Key
	ID  Id
}

// Op is a proposed move: bind child_ref (creating it if unseen) under
// parent_ref at child_key, carrying child_content.
type Op struct {
	Marker       Marker
	ParentRef    Ref
	ChildKey     Key
	ChildRef     Ref
	ChildContent Content
}

// UndoKind distinguishes the two shapes an Undo step can take.
type UndoKind int

const (
	UndoRef UndoKind = iota
	UndoMove
)

// Undo is the inverse of one elementary action taken while doing an
// Op: either reverse a ref→id rebinding, or restore a node's previous
// placement (nil meaning the node did not exist before).
type Undo struct {
	Kind UndoKind

	// UndoRef fields.
	Ref    Ref
	PrevID *Id // nil: ref had no previous binding

	// UndoMove fields.
	ID   Id
	Prev *Placement // nil: node did not exist before
}

// LogEntry is one record in the operation log: the op as applied, and
// the undo steps sufficient to reverse it.
type LogEntry struct {
	Op    Op
	Undos []Undo
}
