// pkg/cli/session.go
// Session is the shell's only collaborator with the tree itself: it
// turns path-oriented commands into treeengine.Op batches the way
// treesync/pkg/tracker turns filesystem discoveries into them, but for
// a human typing one change at a time instead of a directory walk
// reconciling many at once.
package cli

import (
	"strconv"

	"treesync/pkg/pathutil"
	"treesync/pkg/treeengine"
	"treesync/pkg/treestore"

	"golang.org/x/xerrors"
)

// ErrNotFound is returned when a command names a path with no node.
var ErrNotFound = xerrors.New("cli: no such path")

// ErrExists is returned when a command would create an entry where
// one already sits.
var ErrExists = xerrors.New("cli: path already exists")

// Session applies single-user edits to a tree store, minting its own
// VectorMarker sequence under one fixed actor id.
type Session struct {
	store  *treestore.Store
	engine *treeengine.Engine
	actor  string
	clock  uint64
}

// NewSession wraps store for actor, resuming the clock sequence from
// the highest marker already in the log so a reopened store never
// reuses a marker.
func NewSession(store *treestore.Store, actor string) (*Session, error) {
	s := &Session{store: store, engine: treeengine.NewEngine(), actor: actor}

	entries, err := store.IterLog()
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		if vm, ok := entry.Op.Marker.(treeengine.VectorMarker); ok && vm.Actor == actor && vm.Clock > s.clock {
			s.clock = vm.Clock
		}
	}
	return s, nil
}

func (s *Session) nextMarker() treeengine.VectorMarker {
	s.clock++
	return treeengine.NewVectorMarker(map[string]uint64{s.actor: s.clock}, s.clock, s.actor)
}

// resolve splits path into its parent id and final path component,
// failing with ErrNotFound if the parent doesn't exist.
func (s *Session) resolve(path string) (parent treeengine.Id, key string, err error) {
	parts := pathutil.Parts(path)
	if len(parts) == 0 {
		return 0, "", xerrors.New("cli: cannot operate on the root")
	}
	dirParts, base := parts[:len(parts)-1], parts[len(parts)-1]

	id, found, err := s.store.GetIDByPath(dirParts)
	if err != nil {
		return 0, "", err
	}
	if !found {
		return 0, "", ErrNotFound
	}
	return id, base, nil
}

func (s *Session) refOf(id treeengine.Id) (treeengine.Ref, error) {
	refs, err := s.store.GetRefs(id)
	if err != nil {
		return treeengine.Ref{}, err
	}
	if len(refs) == 0 {
		return treeengine.Ref{}, xerrors.Errorf("cli: id %d has no ref bound", id)
	}
	return refs[0], nil
}

// apply builds and applies a single op inside its own transaction.
func (s *Session) apply(op treeengine.Op) error {
	w, err := s.store.Write()
	if err != nil {
		return err
	}
	if err := s.engine.Apply(w, []treeengine.Op{op}); err != nil {
		_ = w.Rollback()
		return err
	}
	return w.Commit()
}

// Create makes a new node at path holding content, failing if
// something already occupies that name.
func (s *Session) Create(path string, content treeengine.Content) error {
	parent, key, err := s.resolve(path)
	if err != nil {
		return err
	}
	if _, found, err := s.store.GetChild(parent, treeengine.Key(key)); err != nil {
		return err
	} else if found {
		return ErrExists
	}

	parentRef, err := s.refOf(parent)
	if err != nil {
		return err
	}
	return s.apply(treeengine.Op{
		Marker:       s.nextMarker(),
		ParentRef:    parentRef,
		ChildKey:     treeengine.Key(key),
		ChildRef:     treeengine.NewRef(),
		ChildContent: content,
	})
}

// Move relocates the node at src to dst, which may rename, reparent,
// or both.
func (s *Session) Move(src, dst string) error {
	srcParts := pathutil.Parts(src)
	if len(srcParts) == 0 {
		return xerrors.New("cli: cannot move the root")
	}
	srcID, found, err := s.store.GetIDByPath(srcParts)
	if err != nil {
		return err
	}
	if !found {
		return ErrNotFound
	}

	dstParent, dstKey, err := s.resolve(dst)
	if err != nil {
		return err
	}

	node, err := s.store.Get(srcID)
	if err != nil {
		return err
	}
	if node == nil {
		return ErrNotFound
	}

	srcRef, err := s.refOf(srcID)
	if err != nil {
		return err
	}
	dstParentRef, err := s.refOf(dstParent)
	if err != nil {
		return err
	}

	return s.apply(treeengine.Op{
		Marker:       s.nextMarker(),
		ParentRef:    dstParentRef,
		ChildKey:     treeengine.Key(dstKey),
		ChildRef:     srcRef,
		ChildContent: node.Content,
	})
}

// Remove recycles the node at path: the tree never deletes a node
// outright, it reparents it under treeengine.RECYCLE the same way
// treesync/pkg/tracker does when a discovery stops observing an
// entity.
func (s *Session) Remove(path string) error {
	parts := pathutil.Parts(path)
	if len(parts) == 0 {
		return xerrors.New("cli: cannot remove the root")
	}
	id, found, err := s.store.GetIDByPath(parts)
	if err != nil {
		return err
	}
	if !found {
		return ErrNotFound
	}

	node, err := s.store.Get(id)
	if err != nil {
		return err
	}
	ref, err := s.refOf(id)
	if err != nil {
		return err
	}
	recycleRef, err := s.refOf(treeengine.RECYCLE)
	if err != nil {
		return err
	}

	return s.apply(treeengine.Op{
		Marker:       s.nextMarker(),
		ParentRef:    recycleRef,
		ChildKey:     treeengine.Key(strconv.FormatUint(uint64(id), 10)),
		ChildRef:     ref,
		ChildContent: node.Content,
	})
}

// List returns path's children, sorted by key.
func (s *Session) List(path string) ([]treeengine.ChildEntry, error) {
	parts := pathutil.Parts(path)
	id, found, err := s.store.GetIDByPath(parts)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNotFound
	}
	return s.store.GetChildren(id)
}

// Cat returns the raw content bytes stored at path.
func (s *Session) Cat(path string) ([]byte, error) {
	parts := pathutil.Parts(path)
	id, found, err := s.store.GetIDByPath(parts)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrNotFound
	}
	node, err := s.store.Get(id)
	if err != nil {
		return nil, err
	}
	if node == nil || node.Content == nil {
		return nil, nil
	}
	return node.Content.Bytes(), nil
}

// Log returns the full operation log, newest first.
func (s *Session) Log() ([]treeengine.LogEntry, error) {
	return s.store.IterLog()
}
