// pkg/kv/diskkv/diskkv.go
// Package diskkv is the optional disk-resident kv.KV backend: a single
// page-based B+ tree (treesync/pkg/btree, or treesync/pkg/cowbtree via
// treesync/pkg/storage.Factory) living on a treesync/pkg/pager.Pager
// file, which already gets WAL-backed crash recovery from
// treesync/pkg/wal internally. Unlike treesync/pkg/kv's in-memory
// MemKV, which layers true MVCC over a lock-free copy-on-write tree
// and lets many transactions run concurrently, the pager only ever
// allows one write transaction open at a time — so DiskKV embraces
// that and serializes every write transaction start-to-finish rather
// than attempting optimistic concurrency the underlying pager can't
// support.
package diskkv

import (
	"bytes"
	"encoding/binary"
	"errors"
	"sort"
	"sync"

	"treesync/pkg/btree"
	"treesync/pkg/cowbtree"
	"treesync/pkg/kv"
	"treesync/pkg/pager"
	"treesync/pkg/storage"

	"golang.org/x/xerrors"
)

// metaPageNo is the fixed page reserved for the root-page pointer of
// the tree this store keeps. Page 0 is the pager's own header page,
// so the tree's root necessarily lands on page 2 or later and page 1
// is free for this.
const metaPageNo = 1

var (
	// ErrClosed is returned by any operation on a closed DiskKV.
	ErrClosed = xerrors.New("diskkv: store is closed")
	// ErrTxActive is returned by StartTransaction while another write
	// transaction has not yet committed or rolled back.
	ErrTxActive = xerrors.New("diskkv: a write transaction is already active")
)

// Options configures a disk-resident store.
type Options struct {
	// PageSize is the pager's page size in bytes (default 4096).
	PageSize int
	// CacheSize is the pager's page cache capacity, in pages.
	CacheSize int
	// UseCowTree selects the copy-on-write tree (treesync/pkg/cowbtree)
	// over the classic page btree for a freshly created store. Ignored
	// when opening an existing file, which records its own tree type
	// in the meta page.
	UseCowTree bool
}

// DiskKV is the disk-resident kv.KV implementation.
type DiskKV struct {
	mu      sync.Mutex
	pager   *pager.Pager
	factory *storage.Factory
	tree    storage.ExtendedTree
	closed  bool
}

// Open opens path, creating it (and an empty tree) if it doesn't
// already hold one.
func Open(path string, opts Options) (*DiskKV, error) {
	p, err := pager.Open(path, pager.Options{PageSize: opts.PageSize, CacheSize: opts.CacheSize})
	if err != nil {
		return nil, xerrors.Errorf("diskkv: opening pager: %w", err)
	}

	d := &DiskKV{pager: p}

	if p.PageCount() <= 1 {
		treeType := storage.TreeTypeClassic
		if opts.UseCowTree {
			treeType = storage.TreeTypeCow
		}
		if err := d.bootstrap(treeType); err != nil {
			p.Close()
			return nil, err
		}
	} else {
		if err := d.reopen(); err != nil {
			p.Close()
			return nil, err
		}
	}

	return d, nil
}

func (d *DiskKV) bootstrap(treeType storage.TreeType) error {
	tx, err := d.pager.BeginWrite()
	if err != nil {
		return xerrors.Errorf("diskkv: starting bootstrap transaction: %w", err)
	}

	meta, err := d.pager.Allocate()
	if err != nil {
		tx.Rollback()
		return xerrors.Errorf("diskkv: allocating meta page: %w", err)
	}
	if meta.PageNo() != metaPageNo {
		tx.Rollback()
		return xerrors.New("diskkv: meta page did not land on the expected page number")
	}

	factory := storage.NewFactory(d.pager, treeType)
	tree, err := factory.Create()
	if err != nil {
		tx.Rollback()
		return xerrors.Errorf("diskkv: creating tree: %w", err)
	}

	d.pager.MarkDirty(meta)
	binary.BigEndian.PutUint32(meta.Data()[0:4], tree.RootPage())
	meta.Data()[4] = byte(treeType)
	meta.SetDirty(true)
	d.pager.Release(meta)

	if err := tx.Commit(); err != nil {
		return xerrors.Errorf("diskkv: committing bootstrap: %w", err)
	}

	d.factory = factory
	d.tree = tree
	return d.pager.Sync()
}

func (d *DiskKV) reopen() error {
	meta, err := d.pager.Get(metaPageNo)
	if err != nil {
		return xerrors.Errorf("diskkv: reading meta page: %w", err)
	}
	rootPage := binary.BigEndian.Uint32(meta.Data()[0:4])
	treeType := storage.TreeType(meta.Data()[4])
	d.pager.Release(meta)

	factory := storage.NewFactory(d.pager, treeType)
	tree, err := factory.Open(rootPage)
	if err != nil {
		return xerrors.Errorf("diskkv: opening tree at page %d: %w", rootPage, err)
	}

	d.factory = factory
	d.tree = tree
	return nil
}

// Close flushes and closes the underlying pager. Close is not safe to
// call concurrently with an open transaction.
func (d *DiskKV) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	return d.pager.Close()
}

// Get reads key outside any transaction, as a one-shot operation.
func (d *DiskKV) Get(key []byte) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrClosed
	}
	return treeGet(d.tree, key)
}

// GetRange reads an ascending [from, to) snapshot outside any
// transaction.
func (d *DiskKV) GetRange(from, to []byte) (kv.Iterator, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrClosed
	}
	keys, values := scanTree(d.tree, from, to)
	return kv.NewSliceIterator(keys, values), nil
}

// StartTransaction begins the store's single write transaction,
// blocking (by holding DiskKV's lock) until any prior transaction has
// committed or rolled back.
func (d *DiskKV) StartTransaction() (kv.Tx, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil, ErrClosed
	}
	return &Tx{kv: d, writes: make(map[string][]byte), deleted: make(map[string]bool)}, nil
}

// Tx buffers writes in memory and applies them to the tree as one
// pager transaction at Commit, so a caller that never commits never
// disturbs the on-disk tree. Reads see the tx's own buffered writes
// layered over the last committed state.
type Tx struct {
	kv       *DiskKV
	writes   map[string][]byte
	deleted  map[string]bool
	finished bool
}

func (t *Tx) Get(key []byte) ([]byte, error) {
	ks := string(key)
	if t.deleted[ks] {
		return nil, nil
	}
	if v, ok := t.writes[ks]; ok {
		return append([]byte(nil), v...), nil
	}
	return treeGet(t.kv.tree, key)
}

// GetForUpdate is equivalent to Get: DiskKV allows only one write
// transaction at a time, so a key can never be contended the way it
// can against treesync/pkg/kv's concurrent MemKV.
func (t *Tx) GetForUpdate(key []byte) ([]byte, error) {
	return t.Get(key)
}

func (t *Tx) GetRange(from, to []byte) (kv.Iterator, error) {
	baseKeys, baseValues := scanTree(t.kv.tree, from, to)

	merged := make(map[string][]byte, len(baseKeys)+len(t.writes))
	for i, k := range baseKeys {
		merged[string(k)] = baseValues[i]
	}
	for ks := range t.deleted {
		delete(merged, ks)
	}
	for ks, v := range t.writes {
		if inRange([]byte(ks), from, to) {
			merged[ks] = v
		}
	}

	keys := make([]string, 0, len(merged))
	for ks := range merged {
		keys = append(keys, ks)
	}
	sort.Strings(keys)

	outKeys := make([][]byte, len(keys))
	outValues := make([][]byte, len(keys))
	for i, ks := range keys {
		outKeys[i] = []byte(ks)
		outValues[i] = append([]byte(nil), merged[ks]...)
	}
	return kv.NewSliceIterator(outKeys, outValues), nil
}

func (t *Tx) Set(key, value []byte) error {
	ks := string(key)
	t.writes[ks] = append([]byte(nil), value...)
	delete(t.deleted, ks)
	return nil
}

func (t *Tx) Delete(key []byte) error {
	ks := string(key)
	t.deleted[ks] = true
	delete(t.writes, ks)
	return nil
}

// Commit applies every buffered write and delete to the tree inside
// one pager write transaction, then releases the store for the next
// StartTransaction.
func (t *Tx) Commit() error {
	defer t.finish()
	if t.finished {
		return xerrors.New("diskkv: transaction already finished")
	}

	ptx, err := t.kv.pager.BeginWrite()
	if err != nil {
		return xerrors.Errorf("diskkv: starting commit: %w", err)
	}

	for ks, v := range t.writes {
		if err := t.kv.tree.Insert([]byte(ks), v); err != nil {
			ptx.Rollback()
			return xerrors.Errorf("diskkv: applying write for %q: %w", ks, err)
		}
	}
	for ks := range t.deleted {
		if err := t.kv.tree.Delete([]byte(ks)); err != nil && !errors.Is(err, btree.ErrKeyNotFound) && !errors.Is(err, cowbtree.ErrKeyNotFound) {
			ptx.Rollback()
			return xerrors.Errorf("diskkv: applying delete for %q: %w", ks, err)
		}
	}

	if err := syncMetaRootPage(t.kv); err != nil {
		ptx.Rollback()
		return err
	}

	if err := ptx.Commit(); err != nil {
		return xerrors.Errorf("diskkv: committing: %w", err)
	}
	return t.kv.pager.Sync()
}

// Rollback discards every buffered write and delete without ever
// touching the tree.
func (t *Tx) Rollback() error {
	defer t.finish()
	return nil
}

func (t *Tx) finish() {
	if !t.finished {
		t.finished = true
		t.kv.mu.Unlock()
	}
}

// syncMetaRootPage rewrites the meta page's root pointer, needed
// because a copy-on-write tree (and a classic tree that splits its
// root) may relocate its root on every write.
func syncMetaRootPage(d *DiskKV) error {
	meta, err := d.pager.Get(metaPageNo)
	if err != nil {
		return xerrors.Errorf("diskkv: reading meta page: %w", err)
	}
	d.pager.MarkDirty(meta)
	binary.BigEndian.PutUint32(meta.Data()[0:4], d.tree.RootPage())
	meta.SetDirty(true)
	d.pager.Release(meta)
	return nil
}

func treeGet(tree storage.ExtendedTree, key []byte) ([]byte, error) {
	v, err := tree.Get(key)
	if errors.Is(err, btree.ErrKeyNotFound) || errors.Is(err, cowbtree.ErrKeyNotFound) {
		return nil, nil
	}
	return v, err
}

func scanTree(tree storage.ExtendedTree, from, to []byte) (keys, values [][]byte) {
	c := tree.Cursor()
	defer c.Close()

	if from == nil {
		c.First()
	} else {
		c.Seek(from)
	}
	for c.Valid() {
		k := c.Key()
		if to != nil && bytes.Compare(k, to) >= 0 {
			break
		}
		keys = append(keys, append([]byte(nil), k...))
		values = append(values, append([]byte(nil), c.Value()...))
		c.Next()
	}
	return keys, values
}

func inRange(key, from, to []byte) bool {
	if from != nil && bytes.Compare(key, from) < 0 {
		return false
	}
	if to != nil && bytes.Compare(key, to) >= 0 {
		return false
	}
	return true
}

var _ kv.KV = (*DiskKV)(nil)
var _ kv.Tx = (*Tx)(nil)
