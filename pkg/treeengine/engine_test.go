package treeengine_test

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"treesync/pkg/kv"
	"treesync/pkg/pathutil"
	"treesync/pkg/treeengine"
	"treesync/pkg/treeerr"
	"treesync/pkg/treestore"
)

// replica bundles a store with the per-actor clock/vector state a real
// caller would track, mirroring how a single replica mints markers for
// its own ops.
type replica struct {
	t      *testing.T
	actor  string
	clock  uint64
	vector map[string]uint64
	db     kv.KV
	store  *treestore.Store
	refs   map[string]treeengine.Ref // name -> ref, so tests can target a stable node across apply calls
}

func newReplica(t *testing.T, actor string) *replica {
	t.Helper()
	db := kv.NewMemKV()
	store := treestore.Open(db, treeengine.DecodeVectorMarker)
	require.NoError(t, store.Init())
	return &replica{t: t, actor: actor, vector: map[string]uint64{}, db: db, store: store, refs: map[string]treeengine.Ref{}}
}

// checkInvariants asserts the store's structural invariants hold for r right now.
func (r *replica) checkInvariants() {
	r.t.Helper()
	require.NoError(r.t, treestore.CheckInvariants(r.db, treeengine.DecodeVectorMarker))
}

// cloneInto replicates every op r has ever logged into dst, simulating a
// first-contact sync between two otherwise-empty replicas.
func (r *replica) cloneInto(dst *replica) {
	r.t.Helper()
	dst.syncFrom(r)
	for name, ref := range r.refs {
		dst.refs[name] = ref
	}
}

// sync applies ops (from a peer, or self) via the engine and commits.
func (r *replica) sync(ops []treeengine.Op) {
	r.t.Helper()
	if len(ops) == 0 {
		return
	}
	w, err := r.store.Write()
	require.NoError(r.t, err)
	require.NoError(r.t, treeengine.NewEngine().Apply(w, ops))
	require.NoError(r.t, w.Commit())
}

// allOps returns every op ever logged by r, oldest first.
func (r *replica) allOps() []treeengine.Op {
	r.t.Helper()
	entries, err := r.store.IterLog()
	require.NoError(r.t, err)
	ops := make([]treeengine.Op, len(entries))
	for i, e := range entries {
		ops[len(entries)-1-i] = e.Op
	}
	return ops
}

// syncFrom pulls every op peer holds that r doesn't already have (by
// marker equality, the engine's own notion of "same op") and applies
// them in marker order, exactly as a real transport round would after
// computing "what am I missing".
func (r *replica) syncFrom(peer *replica) {
	r.t.Helper()
	mine := r.allOps()
	var fresh []treeengine.Op
	for _, op := range peer.allOps() {
		known := false
		for _, have := range mine {
			if op.Marker.Compare(have.Marker) == treeengine.Equal {
				known = true
				break
			}
		}
		if !known {
			fresh = append(fresh, op)
		}
	}
	sort.Slice(fresh, func(i, j int) bool {
		return fresh[i].Marker.Compare(fresh[j].Marker) == treeengine.Less
	})
	r.sync(fresh)
}

func (r *replica) tick() uint64 {
	r.clock++
	r.vector[r.actor] = r.clock
	return r.clock
}

func (r *replica) marker(clock uint64) treeengine.VectorMarker {
	return treeengine.NewVectorMarker(r.vector, clock, r.actor)
}

// refFor returns the stable Ref for a logical name, minting one on first use.
func (r *replica) refFor(name string) treeengine.Ref {
	if ref, ok := r.refs[name]; ok {
		return ref
	}
	ref := treeengine.NewRef()
	r.refs[name] = ref
	return ref
}

// mkdir emits and applies a single op creating/moving a directory ref
// under parent (ROOT's ref is the zero Ref) with no content.
func (r *replica) mkdir(name string, parentRef treeengine.Ref, key string) {
	r.t.Helper()
	op := treeengine.Op{
		Marker:       r.marker(r.tick()),
		ParentRef:    parentRef,
		ChildKey:     treeengine.Key(key),
		ChildRef:     r.refFor(name),
		ChildContent: treeengine.RawContent(nil),
	}
	r.sync([]treeengine.Op{op})
}

func (r *replica) write(name string, parentRef treeengine.Ref, key, content string) {
	r.t.Helper()
	op := treeengine.Op{
		Marker:       r.marker(r.tick()),
		ParentRef:    parentRef,
		ChildKey:     treeengine.Key(key),
		ChildRef:     r.refFor(name),
		ChildContent: treeengine.RawContent([]byte(content)),
	}
	r.sync([]treeengine.Op{op})
}

func rootRef() treeengine.Ref { return treeengine.Ref{} }

func (r *replica) contentAt(path string) (string, bool) {
	id, found, err := r.store.GetIDByPath(pathutil.Parts(path))
	require.NoError(r.t, err)
	if !found {
		return "", false
	}
	node, err := r.store.Get(id)
	require.NoError(r.t, err)
	if node == nil {
		return "", false
	}
	return string(node.Content.Bytes()), true
}

func (r *replica) childNames(path string) []string {
	r.t.Helper()
	id, found, err := r.store.GetIDByPath(pathutil.Parts(path))
	require.NoError(r.t, err)
	require.True(r.t, found)
	children, err := r.store.GetChildren(id)
	require.NoError(r.t, err)
	names := make([]string, len(children))
	for i, c := range children {
		names[i] = string(c.Key)
	}
	return names
}

func TestS1_RenameAcrossConcurrentWrite(t *testing.T) {
	r1 := newReplica(t, "1")
	r1.mkdir("hello", rootRef(), "hello")
	r1.write("file", r1.refFor("hello"), "file", "world")

	r2 := newReplica(t, "2")
	r1.cloneInto(r2)
	r2.vector = map[string]uint64{"1": r1.clock}
	r2.clock = r1.clock

	r2.mkdir("hello", rootRef(), "dir") // rename /hello -> /dir: same ref, new key

	r1.write("file", r1.refFor("hello"), "file", "helloworld")

	// sync both directions
	r2.syncFrom(r1)
	r1.syncFrom(r2)

	for _, r := range []*replica{r1, r2} {
		content, found := r.contentAt("/dir/file")
		require.True(t, found)
		require.Equal(t, "helloworld", content)
		r.checkInvariants()
	}
}

func TestS2_TimestampIrrelevanceWithoutConflict(t *testing.T) {
	r1 := newReplica(t, "1")
	r2 := newReplica(t, "2")

	r1.write("file", rootRef(), "file", "local")
	r2.syncFrom(r1)

	r2.write("file", rootRef(), "file", "remote")
	r1.syncFrom(r2)

	r1.write("file", rootRef(), "file", "some")
	r2.syncFrom(r1)

	for _, r := range []*replica{r1, r2} {
		content, found := r.contentAt("/file")
		require.True(t, found)
		require.Equal(t, "some", content)
		r.checkInvariants()
	}
}

func TestS3_SamePathWritePeerIDTiebreak(t *testing.T) {
	r1 := newReplica(t, "1")
	r2 := newReplica(t, "2")

	r1.write("file", rootRef(), "file", "local")
	r2.write("file", rootRef(), "file", "remote")

	r2.syncFrom(r1)
	r1.syncFrom(r2)

	for _, r := range []*replica{r1, r2} {
		content, found := r.contentAt("/file")
		require.True(t, found)
		require.Equal(t, "remote", content)
		r.checkInvariants()
	}
}

func TestS4_SamePathWriteClockTiebreak(t *testing.T) {
	r1 := newReplica(t, "1")
	r2 := newReplica(t, "2")

	op1 := treeengine.Op{
		Marker:       treeengine.NewVectorMarker(map[string]uint64{"1": 2}, 2, "1"),
		ParentRef:    rootRef(),
		ChildKey:     "file",
		ChildRef:     r1.refFor("file"),
		ChildContent: treeengine.RawContent([]byte("local")),
	}
	op2 := treeengine.Op{
		Marker:       treeengine.NewVectorMarker(map[string]uint64{"2": 1}, 1, "2"),
		ParentRef:    rootRef(),
		ChildKey:     "file",
		ChildRef:     r2.refFor("file"),
		ChildContent: treeengine.RawContent([]byte("remote")),
	}
	r1.sync([]treeengine.Op{op1})
	r2.sync([]treeengine.Op{op2})

	r2.syncFrom(r1)
	r1.syncFrom(r2)

	for _, r := range []*replica{r1, r2} {
		content, found := r.contentAt("/file")
		require.True(t, found)
		require.Equal(t, "local", content)
		r.checkInvariants()
	}
}

func TestS5_FolderMerge(t *testing.T) {
	r1 := newReplica(t, "1")
	r1.mkdir("folder1", rootRef(), "folder1")
	r1.write("foo", r1.refFor("folder1"), "foo", "bar")

	r2 := newReplica(t, "2")
	r2.mkdir("folder1b", rootRef(), "folder1")
	r2.write("file", r2.refFor("folder1b"), "file", "abc")

	r1.syncFrom(r2)
	r2.syncFrom(r1)

	r2.mkdir("folder1c", rootRef(), "folder1")
	r2.write("hello", r2.refFor("folder1c"), "hello", "world")

	r1.syncFrom(r2)

	for _, r := range []*replica{r1, r2} {
		names := r.childNames("/folder1")
		require.ElementsMatch(t, []string{"file", "foo", "hello"}, names)
		content, found := r.contentAt("/folder1/foo")
		require.True(t, found)
		require.Equal(t, "bar", content)
		r.checkInvariants()
	}
}

func TestS6_DirectoryRenameConflictBothNonEmpty(t *testing.T) {
	r1 := newReplica(t, "1")
	r1.mkdir("folder1", rootRef(), "folder1")
	r1.write("foo", r1.refFor("folder1"), "foo", "bar")

	r2 := newReplica(t, "2")
	r1.cloneInto(r2)
	r2.vector = map[string]uint64{"1": r1.clock}
	r2.clock = r1.clock

	r2.mkdir("folder2", rootRef(), "folder2")
	r2.write("hello", r2.refFor("folder2"), "hello", "world")
	r2.mkdir("folder2", rootRef(), "folder3") // rename folder2 -> folder3

	r1.mkdir("folder1", rootRef(), "folder3") // rename folder1 -> folder3, conflicts

	r2.syncFrom(r1)
	r1.syncFrom(r2)

	for _, r := range []*replica{r1, r2} {
		content, found := r.contentAt("/folder3/hello")
		require.True(t, found)
		require.Equal(t, "world", content)
		_, found = r.contentAt("/folder3/foo")
		require.False(t, found)
		r.checkInvariants()
	}
}

func TestS7_DirectoryRenameWithIncomingEmptyFolder(t *testing.T) {
	r1 := newReplica(t, "1")
	r1.mkdir("folder1", rootRef(), "folder1")
	r1.write("foo", r1.refFor("folder1"), "foo", "bar")

	r2 := newReplica(t, "2")
	r1.cloneInto(r2)
	r2.vector = map[string]uint64{"1": r1.clock}
	r2.clock = r1.clock

	r2.mkdir("folder2", rootRef(), "folder2")
	r2.mkdir("folder2", rootRef(), "folder3") // rename folder2 -> folder3, still empty
	r2.write("hello", r2.refFor("folder2"), "hello", "world")

	r1.mkdir("folder1", rootRef(), "folder3") // rename folder1 -> folder3, conflicts with empty incoming

	r2.syncFrom(r1)
	r1.syncFrom(r2)

	for _, r := range []*replica{r1, r2} {
		names := r.childNames("/folder3")
		require.ElementsMatch(t, []string{"foo", "hello"}, names)
		r.checkInvariants()
	}
}

func TestDuplicateMarkerRejected(t *testing.T) {
	r := newReplica(t, "1")
	m := r.marker(r.tick())
	op := treeengine.Op{Marker: m, ParentRef: rootRef(), ChildKey: "a", ChildRef: treeengine.NewRef(), ChildContent: treeengine.RawContent(nil)}
	w, err := r.store.Write()
	require.NoError(t, err)
	require.NoError(t, treeengine.NewEngine().Apply(w, []treeengine.Op{op}))
	require.NoError(t, w.Commit())

	w2, err := r.store.Write()
	require.NoError(t, err)
	err = treeengine.NewEngine().Apply(w2, []treeengine.Op{op})
	require.Error(t, err)
	require.True(t, treeerr.Is(err, treeerr.KindInvalidOp))
	_ = w2.Rollback()
}
