// pkg/treestore/store.go
// Package treestore is the tree's only KV touchpoint: it persists node
// records, the child index, the two ref indices, the auto-increment id
// counter, and the append-only operation log as a fixed set of
// key/value shapes over a single ordered store.
package treestore

import (
	"treesync/pkg/cache"
	"treesync/pkg/kv"
	"treesync/pkg/treeengine"
	"treesync/pkg/treeerr"
)

// reader is the subset of kv.KV and kv.Tx that read-only getters need;
// defining it lets Store and Writer share one implementation of every
// read method instead of duplicating it per concrete backing type.
type reader interface {
	Get(key []byte) ([]byte, error)
	GetRange(from, to []byte) (kv.Iterator, error)
}

// Store is the read view over a tree backed directly by a kv.KV
// (outside of any transaction). Use Write to begin a mutating
// transaction.
type Store struct {
	db           kv.KV
	decodeMarker treeengine.MarkerDecoder
	cache        *cache.NodeCache
}

// Open wraps an existing KV as a tree store. Call Init once, on an
// empty KV, before using it.
func Open(db kv.KV, decodeMarker treeengine.MarkerDecoder) *Store {
	return &Store{db: db, decodeMarker: decodeMarker}
}

// OpenCached is Open plus a NodeCache front for Get/Writer.Get, the
// tree's hottest read path. The cache is a pure read accelerator: every
// Writer derived from this Store invalidates the cached entry for an
// id the moment SetTreeNode changes its placement, so a cache miss is
// the only way a read ever reaches the KV stale.
func OpenCached(db kv.KV, decodeMarker treeengine.MarkerDecoder, nc *cache.NodeCache) *Store {
	return &Store{db: db, decodeMarker: decodeMarker, cache: nc}
}

// Init seeds an empty KV with the bootstrap state a fresh tree needs:
// auto_increment_id = 10, log_total_length = 0, self-parented ROOT and
// RECYCLE node records, and Ref(0) bound to ROOT.
func (s *Store) Init() error {
	tx, err := s.db.StartTransaction()
	if err != nil {
		return treeerr.KV(err)
	}
	w := &Writer{tx: tx, decodeMarker: s.decodeMarker}

	if err := w.setRaw(keyAutoIncrementID, treeengine.FirstFreshID.Bytes()); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := w.setRaw(keyLogTotalLength, encodeUint64(0)); err != nil {
		_ = tx.Rollback()
		return err
	}
	rootNode := treeengine.Node{Parent: treeengine.ROOT, Key: "", Content: treeengine.RawContent(nil)}
	recycleNode := treeengine.Node{Parent: treeengine.RECYCLE, Key: "", Content: treeengine.RawContent(nil)}
	if err := w.setRaw(nodeKey(treeengine.ROOT), encodeNode(rootNode)); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := w.setRaw(nodeKey(treeengine.RECYCLE), encodeNode(recycleNode)); err != nil {
		_ = tx.Rollback()
		return err
	}
	zeroRef := treeengine.Ref{}
	if err := w.setRaw(refKey(zeroRef), treeengine.ROOT.Bytes()); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := w.setRaw(idRefsKey(treeengine.ROOT), encodeRefs([]treeengine.Ref{zeroRef})); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return treeerr.KV(err)
	}
	return nil
}

// Write begins a mutating transaction.
func (s *Store) Write() (*Writer, error) {
	tx, err := s.db.StartTransaction()
	if err != nil {
		return nil, treeerr.KV(err)
	}
	return &Writer{tx: tx, decodeMarker: s.decodeMarker, cache: s.cache}, nil
}

// NewWriter wraps an already-started transaction as a Writer, without
// starting a new one. Hosts that must commit tree mutations atomically
// alongside their own bookkeeping (the tracker's marker index) use this
// to share one underlying kv.Tx instead of nesting transactions.
func NewWriter(tx kv.Tx, decodeMarker treeengine.MarkerDecoder) *Writer {
	return &Writer{tx: tx, decodeMarker: decodeMarker}
}

// NewWriterCached is NewWriter plus a NodeCache shared with the Store
// that produced tx, so mutations made through this Writer invalidate
// the same cache Store.Get reads from.
func NewWriterCached(tx kv.Tx, decodeMarker treeengine.MarkerDecoder, nc *cache.NodeCache) *Writer {
	return &Writer{tx: tx, decodeMarker: decodeMarker, cache: nc}
}

func (s *Store) GetID(ref treeengine.Ref) (treeengine.Id, bool, error) { return getID(s.db, ref) }
func (s *Store) GetRefs(id treeengine.Id) ([]treeengine.Ref, error)    { return getRefs(s.db, id) }

// Get returns id's node record, consulting the NodeCache (if one was
// installed via OpenCached) before falling back to the KV.
func (s *Store) Get(id treeengine.Id) (*treeengine.Node, error) {
	if s.cache != nil {
		if n, ok := s.cache.Get(id); ok {
			return &n, nil
		}
	}
	n, err := getNode(s.db, id)
	if err != nil || n == nil {
		return n, err
	}
	if s.cache != nil {
		s.cache.Put(id, *n)
	}
	return n, nil
}
func (s *Store) GetChild(parent treeengine.Id, key treeengine.Key) (treeengine.Id, bool, error) {
	return getChild(s.db, parent, key)
}
func (s *Store) GetChildren(parent treeengine.Id) ([]treeengine.ChildEntry, error) {
	return getChildren(s.db, parent)
}
func (s *Store) IsAncestor(childID, ancestorID treeengine.Id) (bool, error) {
	return isAncestor(s.db, childID, ancestorID)
}
func (s *Store) GetIDByPath(parts []string) (treeengine.Id, bool, error) {
	return getIDByPath(s.db, parts)
}
func (s *Store) IterLog() ([]treeengine.LogEntry, error) { return iterLog(s.db, s.decodeMarker) }

// Writer is the single-writer transaction that the mutating
// operations are reserved to: SetRef, CreateID, SetTreeNode, PushLog,
// PopLog.
type Writer struct {
	tx           kv.Tx
	decodeMarker treeengine.MarkerDecoder
	cache        *cache.NodeCache

	cacheLogLen *uint64
	cacheIncID  *treeengine.Id
}

func (w *Writer) setRaw(key, value []byte) error {
	if err := w.tx.Set(key, value); err != nil {
		return treeerr.KV(err)
	}
	return nil
}

func (w *Writer) delRaw(key []byte) error {
	if err := w.tx.Delete(key); err != nil {
		return treeerr.KV(err)
	}
	return nil
}

// lockedGet reads key under a get_for_update row lock, as the writer
// must before mutating anything it has read.
func (w *Writer) lockedGet(key []byte) ([]byte, error) {
	v, err := w.tx.GetForUpdate(key)
	if err != nil {
		return nil, treeerr.KV(err)
	}
	return v, nil
}

func (w *Writer) GetID(ref treeengine.Ref) (treeengine.Id, bool, error) { return getID(w.tx, ref) }
func (w *Writer) GetRefs(id treeengine.Id) ([]treeengine.Ref, error)    { return getRefs(w.tx, id) }

// Get returns id's node record, consulting the shared NodeCache (if
// any) before the transaction's view. Unlike Store.Get it never
// populates the cache: a value read inside an uncommitted transaction
// may reflect this writer's own staged mutations, and caching it would
// survive a rollback.
func (w *Writer) Get(id treeengine.Id) (*treeengine.Node, error) {
	if w.cache != nil {
		if n, ok := w.cache.Get(id); ok {
			return &n, nil
		}
	}
	return getNode(w.tx, id)
}
func (w *Writer) GetChild(parent treeengine.Id, key treeengine.Key) (treeengine.Id, bool, error) {
	return getChild(w.tx, parent, key)
}
func (w *Writer) GetChildren(parent treeengine.Id) ([]treeengine.ChildEntry, error) {
	return getChildren(w.tx, parent)
}
func (w *Writer) IsAncestor(childID, ancestorID treeengine.Id) (bool, error) {
	return isAncestor(w.tx, childID, ancestorID)
}
func (w *Writer) GetIDByPath(parts []string) (treeengine.Id, bool, error) {
	return getIDByPath(w.tx, parts)
}

// LockChild takes a row lock on (parent, key)'s child-index entry
// without reading or mutating anything else — used by callers that
// need to serialize concurrent writers touching the same slot before
// they decide what to do with it (the tracker's subtree locking).
func (w *Writer) LockChild(parent treeengine.Id, key treeengine.Key) error {
	_, err := w.lockedGet(childKey(parent, key))
	return err
}

// LockNode takes a row lock on id's node record.
func (w *Writer) LockNode(id treeengine.Id) error {
	_, err := w.lockedGet(nodeKey(id))
	return err
}

// SetRef atomically rebinds ref -> id (id == nil deletes the binding),
// keeping the id->refs index in sync, and returns ref's previous id.
func (w *Writer) SetRef(ref treeengine.Ref, id *treeengine.Id) (*treeengine.Id, error) {
	raw, err := w.lockedGet(refKey(ref))
	if err != nil {
		return nil, err
	}

	var oldID *treeengine.Id
	if raw != nil {
		old := treeengine.IdFromBytes(raw)
		oldID = &old

		refsRaw, err := w.lockedGet(idRefsKey(old))
		if err != nil {
			return nil, err
		}
		if refsRaw != nil {
			refs, err := decodeRefs(refsRaw)
			if err != nil {
				return nil, err
			}
			refs = removeRef(refs, ref)
			if len(refs) == 0 {
				if err := w.delRaw(idRefsKey(old)); err != nil {
					return nil, err
				}
			} else if err := w.setRaw(idRefsKey(old), encodeRefs(refs)); err != nil {
				return nil, err
			}
		}
		if err := w.delRaw(refKey(ref)); err != nil {
			return nil, err
		}
	}

	if id != nil {
		if err := w.setRaw(refKey(ref), id.Bytes()); err != nil {
			return nil, err
		}
		refsRaw, err := w.lockedGet(idRefsKey(*id))
		if err != nil {
			return nil, err
		}
		if refsRaw != nil {
			refs, err := decodeRefs(refsRaw)
			if err != nil {
				return nil, err
			}
			if !containsRef(refs, ref) {
				refs = append(refs, ref)
				if err := w.setRaw(idRefsKey(*id), encodeRefs(refs)); err != nil {
					return nil, err
				}
			}
		} else if err := w.setRaw(idRefsKey(*id), encodeRefs([]treeengine.Ref{ref})); err != nil {
			return nil, err
		}
	}

	return oldID, nil
}

// CreateID allocates a fresh id, post-incrementing the stored counter
// so the first id CreateID ever returns is exactly FirstFreshID.
func (w *Writer) CreateID() (treeengine.Id, error) {
	var cur treeengine.Id
	if w.cacheIncID != nil {
		cur = *w.cacheIncID
	} else {
		raw, err := w.lockedGet(keyAutoIncrementID)
		if err != nil {
			return 0, err
		}
		if raw == nil {
			return 0, treeerr.InvalidOp("database not initialized")
		}
		cur = treeengine.IdFromBytes(raw)
	}

	next := cur + 1
	if err := w.setRaw(keyAutoIncrementID, next.Bytes()); err != nil {
		return 0, err
	}
	w.cacheIncID = &next

	return cur, nil
}

// SetTreeNode installs id at placement to (nil removes it from the
// visible tree without deleting its node record's history), returning
// whatever placement id previously held.
func (w *Writer) SetTreeNode(id treeengine.Id, to *treeengine.Placement) (*treeengine.Placement, error) {
	if w.cache != nil {
		defer w.cache.Invalidate(id)
	}

	raw, err := w.lockedGet(nodeKey(id))
	if err != nil {
		return nil, err
	}

	var prev *treeengine.Placement
	if raw != nil {
		node, err := decodeNode(raw)
		if err != nil {
			return nil, err
		}
		prev = &treeengine.Placement{Parent: node.Parent, Key: node.Key, Content: node.Content}
		if err := w.delRaw(nodeKey(id)); err != nil {
			return nil, err
		}
		if err := w.delRaw(childKey(node.Parent, node.Key)); err != nil {
			return nil, err
		}
	}

	if to != nil {
		if err := w.setRaw(childKey(to.Parent, to.Key), id.Bytes()); err != nil {
			return nil, err
		}
		node := treeengine.Node{Parent: to.Parent, Key: to.Key, Content: to.Content}
		if err := w.setRaw(nodeKey(id), encodeNode(node)); err != nil {
			return nil, err
		}
	}

	return prev, nil
}

func (w *Writer) logTotalLen() (uint64, error) {
	if w.cacheLogLen != nil {
		return *w.cacheLogLen, nil
	}
	raw, err := w.lockedGet(keyLogTotalLength)
	if err != nil {
		return 0, err
	}
	if raw == nil {
		return 0, treeerr.InvalidOp("database not initialized")
	}
	return decodeUint64(raw), nil
}

func (w *Writer) setLogTotalLen(n uint64) error {
	w.cacheLogLen = &n
	return w.setRaw(keyLogTotalLength, encodeUint64(n))
}

// PopLog removes and returns the newest log entry, or nil if the log
// is empty.
func (w *Writer) PopLog() (*treeengine.LogEntry, error) {
	n, err := w.logTotalLen()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil
	}

	key := logKeyForIndex(logIndex(n - 1))
	raw, err := w.lockedGet(key)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, treeerr.TreeBroken("log entry %d missing", n-1)
	}
	entry, err := decodeLogEntry(raw, w.decodeMarker)
	if err != nil {
		return nil, err
	}
	if err := w.delRaw(key); err != nil {
		return nil, err
	}
	if err := w.setLogTotalLen(n - 1); err != nil {
		return nil, err
	}
	return &entry, nil
}

// PushLog prepends entry as the newest log record.
func (w *Writer) PushLog(entry treeengine.LogEntry) error {
	n, err := w.logTotalLen()
	if err != nil {
		return err
	}
	key := logKeyForIndex(logIndex(n))
	if err := w.setRaw(key, encodeLogEntry(entry)); err != nil {
		return err
	}
	return w.setLogTotalLen(n + 1)
}

func (w *Writer) Commit() error {
	if err := w.tx.Commit(); err != nil {
		return treeerr.KV(err)
	}
	return nil
}

func (w *Writer) Rollback() error {
	if err := w.tx.Rollback(); err != nil {
		return treeerr.KV(err)
	}
	return nil
}

var _ treeengine.TreeWriter = (*Writer)(nil)
var _ treeengine.TreeReader = (*Store)(nil)
