// pkg/treeengine/engine.go
// Engine.Apply integrates move operations into the log and tree:
// single-op "do" semantics with the empty-merges-into-non-empty /
// last-wins conflict policy, plus the redo-queue reordering that makes
// apply commutative under any permutation of a batch.
package treeengine

import (
	"sort"

	"treesync/pkg/treeerr"
)

// Engine applies batches of Op against a TreeWriter, maintaining the
// log so later batches can be reordered against earlier ones by
// marker. Engine itself holds no state; all state lives in the store
// behind the TreeWriter it's given.
type Engine struct{}

// NewEngine returns a stateless Engine. Kept as a constructor (rather
// than calling Apply as a bare function) for symmetry with the rest of
// the package's components and room for future engine-level options
// (e.g. invariant checking toggles).
func NewEngine() *Engine { return &Engine{} }

// Apply integrates ops into w's log and tree. ops need not be
// pre-sorted by marker: the batch is sorted here, and the redo-queue
// algorithm below reorders it around whatever is already logged. Every
// incoming marker must compare strictly (never Equal) against every
// marker it's compared to, or Apply fails with treeerr.InvalidOp and w
// is left for the caller to roll back.
func (e *Engine) Apply(w TreeWriter, rawOps []Op) error {
	ops := make([]Op, len(rawOps))
	copy(ops, rawOps)
	sort.SliceStable(ops, func(i, j int) bool {
		return ops[i].Marker.Compare(ops[j].Marker) == Less
	})
	for i := 1; i < len(ops); i++ {
		if ops[i].Marker.Compare(ops[i-1].Marker) == Equal {
			return treeerr.InvalidOp("duplicate marker: every op must have a unique timestamp")
		}
	}

	var redoQueue []Op

	if len(ops) > 0 {
		first := ops[0]
	popLoop:
		for {
			last, err := w.PopLog()
			if err != nil {
				return err
			}
			if last == nil {
				break popLoop
			}
			switch first.Marker.Compare(last.Op.Marker) {
			case Equal:
				return treeerr.InvalidOp("duplicate marker: every op must have a unique timestamp")
			case Less:
				undone, err := e.undoOp(w, *last)
				if err != nil {
					return err
				}
				redoQueue = append(redoQueue, undone)
			case Greater:
				if err := w.PushLog(*last); err != nil {
					return err
				}
				break popLoop
			}
		}
	}

opsLoop:
	for _, op := range ops {
		for {
			if len(redoQueue) == 0 {
				entry, err := e.doOp(w, op)
				if err != nil {
					return err
				}
				if err := w.PushLog(entry); err != nil {
					return err
				}
				continue opsLoop
			}

			top := redoQueue[len(redoQueue)-1]
			switch op.Marker.Compare(top.Marker) {
			case Equal:
				return treeerr.InvalidOp("duplicate marker: every op must have a unique timestamp")
			case Less:
				entry, err := e.doOp(w, op)
				if err != nil {
					return err
				}
				if err := w.PushLog(entry); err != nil {
					return err
				}
				continue opsLoop
			case Greater:
				redoQueue = redoQueue[:len(redoQueue)-1]
				entry, err := e.doOp(w, top)
				if err != nil {
					return err
				}
				if err := w.PushLog(entry); err != nil {
					return err
				}
			}
		}
	}

	for i := len(redoQueue) - 1; i >= 0; i-- {
		entry, err := e.doOp(w, redoQueue[i])
		if err != nil {
			return err
		}
		if err := w.PushLog(entry); err != nil {
			return err
		}
	}

	return nil
}

// step is one elementary action do_op decides to take; executing it
// produces its own inverse, recorded as an Undo with the same Kind.
type step struct {
	kind UndoKind
	ref  Ref
	to   *Id
	id   Id
	move *Placement
}

// doOp performs op's single-op semantics and returns the LogEntry
// (op + undo steps) to push.
func (e *Engine) doOp(w TreeWriter, op Op) (LogEntry, error) {
	var steps []step

	childID, found, err := w.GetID(op.ChildRef)
	if err != nil {
		return LogEntry{}, err
	}
	if !found {
		newID, err := w.CreateID()
		if err != nil {
			return LogEntry{}, err
		}
		steps = append(steps, step{kind: UndoRef, ref: op.ChildRef, to: idPtr(newID)})
		childID = newID
	}

	parentID, found, err := w.GetID(op.ParentRef)
	if err != nil {
		return LogEntry{}, err
	}
	if !found {
		return LogEntry{}, treeerr.TreeBroken("parent ref %x not found", op.ParentRef.Bytes())
	}

	if childID != parentID {
		isAncestor, err := w.IsAncestor(parentID, childID)
		if err != nil {
			return LogEntry{}, err
		}
		if !isAncestor {
			moveSteps, err := e.resolveMove(w, parentID, childID, op.ChildKey, op.ChildRef, op.ChildContent)
			if err != nil {
				return LogEntry{}, err
			}
			steps = append(steps, moveSteps...)
		}
	}

	undos := make([]Undo, 0, len(steps))
	for _, s := range steps {
		undo, err := e.execStep(w, s)
		if err != nil {
			return LogEntry{}, err
		}
		undos = append(undos, undo)
	}

	return LogEntry{Op: op, Undos: undos}, nil
}

// resolveMove decides what steps move childID into (parentID, key)
// with content, including the conflict policy when another node
// already occupies that slot.
func (e *Engine) resolveMove(w TreeWriter, parentID, childID Id, key Key, childRef Ref, content Content) ([]step, error) {
	conflictID, hasConflict, err := w.GetChild(parentID, key)
	if err != nil {
		return nil, err
	}

	if !hasConflict || conflictID == childID {
		return []step{{
			kind: UndoMove,
			id:   childID,
			move: &Placement{Parent: parentID, Key: key, Content: content},
		}}, nil
	}

	conflictNode, err := w.Get(conflictID)
	if err != nil {
		return nil, err
	}
	if conflictNode == nil {
		return nil, treeerr.TreeBroken("conflicting child id %d has no node record", conflictID)
	}

	conflictChildren, err := w.GetChildren(conflictID)
	if err != nil {
		return nil, err
	}
	newChildren, err := w.GetChildren(childID)
	if err != nil {
		return nil, err
	}

	conflictEmpty := len(conflictChildren) == 0
	newEmpty := len(newChildren) == 0

	if !conflictEmpty && newEmpty {
		// Demote the incoming (empty) node: re-bind its ref onto the
		// existing non-empty node and recycle the empty shell.
		return []step{
			{kind: UndoRef, ref: childRef, to: idPtr(conflictID)},
			{
				kind: UndoMove,
				id:   childID,
				move: &Placement{Parent: RECYCLE, Key: Key(idString(childID)), Content: content},
			},
		}, nil
	}

	// Incoming wins: every ref on the conflicting node moves to
	// childID, the conflicting node is recycled, and childID takes the slot.
	refs, err := w.GetRefs(conflictID)
	if err != nil {
		return nil, err
	}
	steps := make([]step, 0, len(refs)+2)
	for _, r := range refs {
		steps = append(steps, step{kind: UndoRef, ref: r, to: idPtr(childID)})
	}
	steps = append(steps,
		step{
			kind: UndoMove,
			id:   conflictID,
			move: &Placement{Parent: RECYCLE, Key: Key(idString(conflictID)), Content: conflictNode.Content},
		},
		step{
			kind: UndoMove,
			id:   childID,
			move: &Placement{Parent: parentID, Key: key, Content: content},
		},
	)
	return steps, nil
}

func (e *Engine) execStep(w TreeWriter, s step) (Undo, error) {
	switch s.kind {
	case UndoRef:
		prev, err := w.SetRef(s.ref, s.to)
		if err != nil {
			return Undo{}, err
		}
		return Undo{Kind: UndoRef, Ref: s.ref, PrevID: prev}, nil
	case UndoMove:
		prev, err := w.SetTreeNode(s.id, s.move)
		if err != nil {
			return Undo{}, err
		}
		return Undo{Kind: UndoMove, ID: s.id, Prev: prev}, nil
	default:
		return Undo{}, treeerr.Invalid("unknown step kind")
	}
}

func (e *Engine) execUndo(w TreeWriter, u Undo) error {
	switch u.Kind {
	case UndoRef:
		_, err := w.SetRef(u.Ref, u.PrevID)
		return err
	case UndoMove:
		_, err := w.SetTreeNode(u.ID, u.Prev)
		return err
	default:
		return treeerr.Invalid("unknown undo kind")
	}
}

// undoOp reverses entry's undo steps newest-to-oldest, returning the
// op it reversed so the caller can push it onto the redo queue.
func (e *Engine) undoOp(w TreeWriter, entry LogEntry) (Op, error) {
	for i := len(entry.Undos) - 1; i >= 0; i-- {
		if err := e.execUndo(w, entry.Undos[i]); err != nil {
			return Op{}, err
		}
	}
	return entry.Op, nil
}

// UndoAll pops and reverses every logged entry in w, newest first,
// leaving the log empty. Used by treestore's invariant checker to
// verify log reversibility; never called from Apply itself.
func (e *Engine) UndoAll(w TreeWriter) error {
	for {
		entry, err := w.PopLog()
		if err != nil {
			return err
		}
		if entry == nil {
			return nil
		}
		if _, err := e.undoOp(w, *entry); err != nil {
			return err
		}
	}
}

func idPtr(id Id) *Id { return &id }

func idString(id Id) string {
	// Decimal; a superseded node's RECYCLE key is its id in text.
	return uintToString(uint64(id))
}

func uintToString(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}
