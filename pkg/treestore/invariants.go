// pkg/treestore/invariants.go
// CheckInvariants is a standalone diagnostic: it asserts the five
// structural invariants a converged tree must hold (no cycles, child
// index agreement, ref bijection, auto-increment monotonicity, and
// full log reversibility). It is not on Apply's hot path — scenario
// tests call it after each sync round.
package treestore

import (
	"treesync/pkg/kv"
	"treesync/pkg/treeengine"
	"treesync/pkg/treeerr"
)

// CheckInvariants walks db (read-only, except for a throwaway
// transaction used to verify log reversibility, always rolled back)
// and returns the first invariant violation found, or nil.
func CheckInvariants(db kv.KV, decodeMarker treeengine.MarkerDecoder) error {
	if err := checkNoCycles(db); err != nil {
		return err
	}
	if err := checkChildIndexAgreement(db); err != nil {
		return err
	}
	if err := checkRefBijection(db); err != nil {
		return err
	}
	if err := checkAutoIncrement(db); err != nil {
		return err
	}
	if err := checkLogReversibility(db, decodeMarker); err != nil {
		return err
	}
	return nil
}

func allNodeIDs(db kv.KV) ([]treeengine.Id, error) {
	from := []byte{tagNode, ':'}
	to := append([]byte(nil), from...)
	to[len(to)-1]++
	it, err := db.GetRange(from, to)
	if err != nil {
		return nil, treeerr.KV(err)
	}
	var ids []treeengine.Id
	for it.Next() {
		key := it.Key()
		ids = append(ids, treeengine.IdFromBytes(key[len(from):]))
	}
	return ids, it.Err()
}

// checkNoCycles asserts invariant 1: every non-reserved node reaches
// ROOT or RECYCLE within len(ids)+2 hops.
func checkNoCycles(db kv.KV) error {
	ids, err := allNodeIDs(db)
	if err != nil {
		return err
	}
	limit := len(ids) + 2
	for _, id := range ids {
		if id == treeengine.ROOT || id == treeengine.RECYCLE {
			continue
		}
		cur := id
		hops := 0
		for cur != treeengine.ROOT && cur != treeengine.RECYCLE {
			node, err := getNode(db, cur)
			if err != nil {
				return err
			}
			if node == nil {
				return treeerr.TreeBroken("node %d vanished while walking ancestors of %d", cur, id)
			}
			cur = node.Parent
			hops++
			if hops > limit {
				return treeerr.TreeBroken("cycle detected reaching node %d", id)
			}
		}
	}
	return nil
}

// checkChildIndexAgreement asserts invariant 2 in both directions.
func checkChildIndexAgreement(db kv.KV) error {
	ids, err := allNodeIDs(db)
	if err != nil {
		return err
	}
	for _, id := range ids {
		node, err := getNode(db, id)
		if err != nil {
			return err
		}
		if id == treeengine.ROOT || id == treeengine.RECYCLE {
			continue
		}
		childID, found, err := getChild(db, node.Parent, node.Key)
		if err != nil {
			return err
		}
		if !found || childID != id {
			return treeerr.TreeBroken("child index disagrees with node record for id %d", id)
		}
	}

	from := []byte{tagChild, ':'}
	to := append([]byte(nil), from...)
	to[len(to)-1]++
	it, err := db.GetRange(from, to)
	if err != nil {
		return treeerr.KV(err)
	}
	for it.Next() {
		childID := treeengine.IdFromBytes(it.Value())
		node, err := getNode(db, childID)
		if err != nil {
			return err
		}
		if node == nil {
			return treeerr.TreeBroken("child index points at missing node %d", childID)
		}
	}
	return it.Err()
}

// checkRefBijection asserts invariant 3 in both directions.
func checkRefBijection(db kv.KV) error {
	from := []byte{tagRefToID, ':'}
	to := append([]byte(nil), from...)
	to[len(to)-1]++
	it, err := db.GetRange(from, to)
	if err != nil {
		return treeerr.KV(err)
	}
	for it.Next() {
		ref := treeengine.RefFromBytes(it.Key()[len(from):])
		id := treeengine.IdFromBytes(it.Value())
		refs, err := getRefs(db, id)
		if err != nil {
			return err
		}
		if !containsRef(refs, ref) {
			return treeerr.TreeBroken("ref %x -> id %d not reflected in id->refs index", ref.Bytes(), id)
		}
	}
	if err := it.Err(); err != nil {
		return treeerr.KV(err)
	}

	fromI := []byte{tagIDToRefs, ':'}
	toI := append([]byte(nil), fromI...)
	toI[len(toI)-1]++
	itI, err := db.GetRange(fromI, toI)
	if err != nil {
		return treeerr.KV(err)
	}
	for itI.Next() {
		id := treeengine.IdFromBytes(itI.Key()[len(fromI):])
		refs, err := decodeRefs(itI.Value())
		if err != nil {
			return err
		}
		for _, ref := range refs {
			gotID, found, err := getID(db, ref)
			if err != nil {
				return err
			}
			if !found || gotID != id {
				return treeerr.TreeBroken("id->refs entry for %d references %x which maps elsewhere", id, ref.Bytes())
			}
		}
	}
	return itI.Err()
}

// checkAutoIncrement asserts invariant 5.
func checkAutoIncrement(db kv.KV) error {
	ids, err := allNodeIDs(db)
	if err != nil {
		return err
	}
	var max treeengine.Id
	for _, id := range ids {
		if id > max {
			max = id
		}
	}
	raw, err := db.Get(keyAutoIncrementID)
	if err != nil {
		return treeerr.KV(err)
	}
	if raw == nil {
		return treeerr.Invalid("auto_increment_id not initialized")
	}
	counter := treeengine.IdFromBytes(raw)
	if counter < max+1 {
		return treeerr.TreeBroken("auto_increment_id %d behind max existing id %d", counter, max)
	}
	return nil
}

// checkLogReversibility asserts invariant 4 by undoing every entry in
// a disposable transaction and verifying the result is the pristine
// initial state, then always rolling the transaction back.
func checkLogReversibility(db kv.KV, decodeMarker treeengine.MarkerDecoder) error {
	tx, err := db.StartTransaction()
	if err != nil {
		return treeerr.KV(err)
	}
	defer func() { _ = tx.Rollback() }()

	w := &Writer{tx: tx, decodeMarker: decodeMarker}
	engine := treeengine.NewEngine()
	if err := engine.UndoAll(w); err != nil {
		return err
	}

	for _, id := range []treeengine.Id{treeengine.ROOT, treeengine.RECYCLE} {
		node, err := getNode(tx, id)
		if err != nil {
			return err
		}
		if node == nil {
			return treeerr.TreeBroken("reserved node %d missing after full undo", id)
		}
		if node.Parent != id || node.Key != "" {
			return treeerr.TreeBroken("reserved node %d not self-parented after full undo", id)
		}
	}

	rootRefs, err := getRefs(tx, treeengine.ROOT)
	if err != nil {
		return err
	}
	if len(rootRefs) != 1 || rootRefs[0] != (treeengine.Ref{}) {
		return treeerr.TreeBroken("ROOT refs not reset to [Ref(0)] after full undo")
	}

	children, err := getChildren(tx, treeengine.ROOT)
	if err != nil {
		return err
	}
	if len(children) != 0 {
		return treeerr.TreeBroken("ROOT still has children after full undo")
	}
	recycleChildren, err := getChildren(tx, treeengine.RECYCLE)
	if err != nil {
		return err
	}
	if len(recycleChildren) != 0 {
		return treeerr.TreeBroken("RECYCLE still has children after full undo")
	}

	return nil
}
