// pkg/tracker/tracker.go
// Package tracker reconciles filesystem-discovery snapshots against a
// private treeengine tree, emitting the minimal move sequence that
// makes the stored tree match observation. The tracker's tree and its
// identity marker index share one underlying kv.Tx, scoped apart by
// pkg/kv's prefix adapter.
package tracker

import (
	"bytes"
	"strconv"

	"treesync/pkg/cache"
	"treesync/pkg/kv"
	"treesync/pkg/treeengine"
	"treesync/pkg/treeerr"
	"treesync/pkg/treestore"
)

var (
	treePrefix    = []byte("trie:")
	markersPrefix = []byte("mk:")
	clockKey      = []byte("current_clock")
)

// recycleRef is the Ref bound to RECYCLE the first time a Tracker is
// initialized. treeengine.Op only ever targets by Ref, so the tracker
// needs a well-known ref of its own to address RECYCLE as an op's
// parent.
var recycleRef = treeengine.Ref{0x01}

// Tracker owns a tree store (under the "trie:" prefix) and an identity
// marker index (under "mk:") inside one shared kv.KV.
type Tracker struct {
	db    kv.KV
	cache *cache.NodeCache
}

// Open wraps db as a Tracker. Call Init once on an empty db.
func Open(db kv.KV) *Tracker {
	return &Tracker{db: db}
}

// OpenCached is Open plus a NodeCache shared by every Transaction's
// tree store, so repeated Discovery reconciliations against the same
// hot directories (Apply's GetChildren/Get calls) don't re-decode a
// node record from the KV on every pass.
func OpenCached(db kv.KV, nc *cache.NodeCache) *Tracker {
	return &Tracker{db: db, cache: nc}
}

// Store returns a read-only view over the tracker's own tree, for
// callers that want to inspect it outside of a reconciling Transaction.
func (t *Tracker) Store() *treestore.Store {
	return treestore.OpenCached(kv.NewPrefixed(t.db, treePrefix), DecodeClock, t.cache)
}

// Init seeds the tree store and the clock counter, and binds recycleRef
// to RECYCLE so later transactions can target it.
func (t *Tracker) Init() error {
	store := treestore.OpenCached(kv.NewPrefixed(t.db, treePrefix), DecodeClock, t.cache)
	if err := store.Init(); err != nil {
		return err
	}

	tx, err := t.db.StartTransaction()
	if err != nil {
		return treeerr.KV(err)
	}
	treeTx := kv.NewPrefixedTx(tx, treePrefix)
	writer := treestore.NewWriter(treeTx, DecodeClock)
	if _, err := writer.SetRef(recycleRef, idPtr(treeengine.RECYCLE)); err != nil {
		_ = tx.Rollback()
		return err
	}

	existing, err := tx.Get(clockKey)
	if err != nil {
		_ = tx.Rollback()
		return treeerr.KV(err)
	}
	if existing == nil {
		if err := tx.Set(clockKey, Clock{}.Bytes()); err != nil {
			_ = tx.Rollback()
			return treeerr.KV(err)
		}
	}

	if err := tx.Commit(); err != nil {
		return treeerr.KV(err)
	}
	return nil
}

func idPtr(id treeengine.Id) *treeengine.Id { return &id }

// Begin starts a Transaction: one kv.Tx shared by the tree store (via a
// "trie:"-prefixed view) and the marker index (via raw "mk:" keys).
func (t *Tracker) Begin() (*Transaction, error) {
	tx, err := t.db.StartTransaction()
	if err != nil {
		return nil, treeerr.KV(err)
	}
	treeTx := kv.NewPrefixedTx(tx, treePrefix)
	return &Transaction{
		tx:     tx,
		writer: treestore.NewWriterCached(treeTx, DecodeClock, t.cache),
		engine: treeengine.NewEngine(),
	}, nil
}

// Transaction is one reconciliation pass: a handful of Apply calls (or
// just one), committed or rolled back together.
type Transaction struct {
	tx     kv.Tx
	writer *treestore.Writer
	engine *treeengine.Engine
	ops    []treeengine.Op
}

func (t *Transaction) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return treeerr.KV(err)
	}
	return nil
}

func (t *Transaction) Rollback() error {
	if err := t.tx.Rollback(); err != nil {
		return treeerr.KV(err)
	}
	return nil
}

func (t *Transaction) markerKey(marker []byte) []byte {
	key := make([]byte, 0, len(markersPrefix)+len(marker))
	key = append(key, markersPrefix...)
	key = append(key, marker...)
	return key
}

func (t *Transaction) getMarker(marker []byte) (treeengine.Id, bool, error) {
	raw, err := t.tx.Get(t.markerKey(marker))
	if err != nil {
		return 0, false, treeerr.KV(err)
	}
	if raw == nil {
		return 0, false, nil
	}
	return treeengine.IdFromBytes(raw), true, nil
}

func (t *Transaction) setMarker(marker []byte, id treeengine.Id) error {
	if err := t.tx.Set(t.markerKey(marker), id.Bytes()); err != nil {
		return treeerr.KV(err)
	}
	return nil
}

func (t *Transaction) deleteMarker(marker []byte) error {
	if err := t.tx.Delete(t.markerKey(marker)); err != nil {
		return treeerr.KV(err)
	}
	return nil
}

// nextClock increments and persists the tracker's own monotonic clock,
// returning the value this op should carry as its marker.
func (t *Transaction) nextClock() (Clock, error) {
	raw, err := t.tx.GetForUpdate(clockKey)
	if err != nil {
		return Clock{}, treeerr.KV(err)
	}
	if raw == nil {
		return Clock{}, treeerr.InvalidOp("tracker database not initialized")
	}
	m, err := DecodeClock(raw)
	if err != nil {
		return Clock{}, err
	}
	next := m.(Clock).next()
	if err := t.tx.Set(clockKey, next.Bytes()); err != nil {
		return Clock{}, treeerr.KV(err)
	}
	return next, nil
}

// anyRef returns some Ref bound to id. Every id this package ever
// targets was created by one of this package's own ops (or is ROOT/
// RECYCLE, both bound during Init), so the ref-set is never empty.
func (t *Transaction) anyRef(id treeengine.Id) (treeengine.Ref, error) {
	refs, err := t.writer.GetRefs(id)
	if err != nil {
		return treeengine.Ref{}, err
	}
	if len(refs) == 0 {
		return treeengine.Ref{}, treeerr.TreeBroken("id %d has no bound ref", id)
	}
	return refs[0], nil
}

func (t *Transaction) doOp(op treeengine.Op) error {
	if err := t.engine.Apply(t.writer, []treeengine.Op{op}); err != nil {
		return err
	}
	t.ops = append(t.ops, op)
	return nil
}

// recycle moves id's subtree to RECYCLE under key str(id), preserving
// its existing content (treeengine.Op has no "leave unchanged" option).
func (t *Transaction) recycle(id treeengine.Id) error {
	clock, err := t.nextClock()
	if err != nil {
		return err
	}
	ref, err := t.anyRef(id)
	if err != nil {
		return err
	}
	node, err := t.writer.Get(id)
	if err != nil {
		return err
	}
	if node == nil {
		return treeerr.TreeBroken("id %d has no node record", id)
	}
	return t.doOp(treeengine.Op{
		Marker:       clock,
		ParentRef:    recycleRef,
		ChildKey:     treeengine.Key(strconv.FormatUint(uint64(id), 10)),
		ChildRef:     ref,
		ChildContent: node.Content,
	})
}

// moveExisting re-homes an already-known id to (parent, name) carrying
// ent's markers as its new content.
func (t *Transaction) moveExisting(parent treeengine.Id, name string, ent DiscoveryEntity, id treeengine.Id) error {
	clock, err := t.nextClock()
	if err != nil {
		return err
	}
	parentRef, err := t.anyRef(parent)
	if err != nil {
		return err
	}
	childRef, err := t.anyRef(id)
	if err != nil {
		return err
	}
	return t.doOp(treeengine.Op{
		Marker:    clock,
		ParentRef: parentRef,
		ChildKey:  treeengine.Key(name),
		ChildRef:  childRef,
		ChildContent: Entity{
			IdentityMarker: ent.IdentityMarker,
			UpdateMarker:   ent.UpdateMarker,
			TypeMarker:     ent.TypeMarker,
		},
	})
}

// moveFresh allocates a brand new id for ent and installs it at
// (parent, name), returning the id the engine assigned.
func (t *Transaction) moveFresh(parent treeengine.Id, name string, ent DiscoveryEntity) (treeengine.Id, error) {
	clock, err := t.nextClock()
	if err != nil {
		return 0, err
	}
	parentRef, err := t.anyRef(parent)
	if err != nil {
		return 0, err
	}
	childRef := treeengine.NewRef()
	if err := t.doOp(treeengine.Op{
		Marker:    clock,
		ParentRef: parentRef,
		ChildKey:  treeengine.Key(name),
		ChildRef:  childRef,
		ChildContent: Entity{
			IdentityMarker: ent.IdentityMarker,
			UpdateMarker:   ent.UpdateMarker,
			TypeMarker:     ent.TypeMarker,
		},
	}); err != nil {
		return 0, err
	}
	id, found, err := t.writer.GetID(childRef)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, treeerr.TreeBroken("fresh ref unresolved immediately after apply")
	}
	return id, nil
}

// lockTouched takes row locks on target's node record and on every
// stored child key Apply is about to read or move, so a concurrent
// Apply targeting a descendant path can't race this reconciliation
// (the subtree-locking supplement; see DESIGN.md).
func (t *Transaction) lockTouched(target treeengine.Id, stored []treeengine.ChildEntry) error {
	if err := t.writer.LockNode(target); err != nil {
		return err
	}
	for _, c := range stored {
		if err := t.writer.LockChild(target, c.Key); err != nil {
			return err
		}
	}
	return nil
}

// resolveTarget finds the location Apply should reconcile: by identity
// marker if one is given, falling back to path resolution. Marker takes
// priority so an ancestor renamed between two Apply calls still
// resolves to the same stored node.
func (t *Transaction) resolveTarget(d Discovery) (treeengine.Id, error) {
	if len(d.LocationMarker) > 0 {
		id, found, err := t.getMarker(d.LocationMarker)
		if err != nil {
			return 0, err
		}
		if !found {
			return 0, treeerr.InvalidOp("location not found")
		}
		return id, nil
	}

	id, found, err := t.writer.GetIDByPath(d.LocationPath)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, treeerr.InvalidOp("location not found")
	}
	return id, nil
}

// removeChildEntry removes and returns the first entry in entries
// matching pred, reporting whether one was found.
func removeChildEntry(entries []treeengine.ChildEntry, pred func(treeengine.ChildEntry) bool) (treeengine.ChildEntry, []treeengine.ChildEntry, bool) {
	for i, e := range entries {
		if pred(e) {
			out := make([]treeengine.ChildEntry, 0, len(entries)-1)
			out = append(out, entries[:i]...)
			out = append(out, entries[i+1:]...)
			return e, out, true
		}
	}
	return treeengine.ChildEntry{}, entries, false
}

// Apply reconciles one Discovery snapshot against the stored tree:
// resolve the location, diff observed entities by name against stored
// children (identity+type match -> no-op or in-place update; mismatch
// -> recycle old, then either re-home an identity-matched id elsewhere
// in the tree or allocate a fresh one), then recycle whatever stored
// children no entity claimed. Returns the ops this call emitted.
func (t *Transaction) Apply(d Discovery) ([]treeengine.Op, error) {
	opsStart := len(t.ops)

	target, err := t.resolveTarget(d)
	if err != nil {
		return nil, err
	}

	oldEntities, err := t.writer.GetChildren(target)
	if err != nil {
		return nil, err
	}

	if err := t.lockTouched(target, oldEntities); err != nil {
		return nil, err
	}

	type pending struct {
		entity   DiscoveryEntity
		existing treeengine.Id
		hasExist bool
	}
	plan := make([]pending, 0, len(d.Entities))
	for _, ent := range d.Entities {
		if len(ent.IdentityMarker) == 0 {
			plan = append(plan, pending{entity: ent})
			continue
		}
		id, found, err := t.getMarker(ent.IdentityMarker)
		if err != nil {
			return nil, err
		}
		plan = append(plan, pending{entity: ent, existing: id, hasExist: found})
	}

	for _, p := range plan {
		entry, remaining, hadOld := removeChildEntry(oldEntities, func(e treeengine.ChildEntry) bool {
			return string(e.Key) == p.entity.Name
		})
		oldEntities = remaining

		if hadOld {
			oldNode, err := t.writer.Get(entry.ID)
			if err != nil {
				return nil, err
			}
			if oldNode == nil {
				return nil, treeerr.TreeBroken("stored child %d has no node record", entry.ID)
			}
			oldEnt, err := DecodeEntity(oldNode.Content.Bytes())
			if err != nil {
				return nil, err
			}

			// An empty observed identity marker never matches by
			// identity for the cross-tree lookup in the plan loop
			// above. But re-observing the same stored child under
			// the same name with no identity marker at all — the
			// common case for filesystems that expose no stable
			// inode id for regular files — must still compare as
			// unchanged: fall back to the stored marker itself so
			// the comparison is plain byte equality.
			marker := p.entity.IdentityMarker
			if len(marker) == 0 {
				marker = oldEnt.IdentityMarker
			}

			if bytes.Equal(marker, oldEnt.IdentityMarker) && bytes.Equal(p.entity.TypeMarker, oldEnt.TypeMarker) {
				if !bytes.Equal(p.entity.UpdateMarker, oldEnt.UpdateMarker) {
					if err := t.moveExisting(target, p.entity.Name, p.entity, entry.ID); err != nil {
						return nil, err
					}
				}
				continue
			}

			if err := t.recycle(entry.ID); err != nil {
				return nil, err
			}
		}

		if p.hasExist {
			if err := t.moveExisting(target, p.entity.Name, p.entity, p.existing); err != nil {
				return nil, err
			}
			_, remaining, _ := removeChildEntry(oldEntities, func(e treeengine.ChildEntry) bool {
				return e.ID == p.existing
			})
			oldEntities = remaining
			continue
		}

		newID, err := t.moveFresh(target, p.entity.Name, p.entity)
		if err != nil {
			return nil, err
		}
		if len(p.entity.IdentityMarker) > 0 {
			if err := t.setMarker(p.entity.IdentityMarker, newID); err != nil {
				return nil, err
			}
		}
	}

	for _, e := range oldEntities {
		if err := t.recycle(e.ID); err != nil {
			return nil, err
		}
	}

	return t.ops[opsStart:], nil
}
