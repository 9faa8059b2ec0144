// pkg/kv/memkv.go
// In-memory KV implementation backed by a copy-on-write B-tree
// (treesync/pkg/cowbtree) for storage and MVCC machinery
// (treesync/pkg/mvcc) for transactions. GetForUpdate adds real
// pessimistic per-key locking on top of the underlying optimistic
// write-set conflict check, using mvcc.WaitForGraph for deadlock
// detection: CowVersionedStore on its own only detects conflicts at
// Put/Delete time, which is too late for get_for_update's caller to
// avoid doing work under a lock it never actually held.
package kv

import (
	"sync"
	"time"

	"treesync/pkg/cowbtree"
	"treesync/pkg/mvcc"

	"golang.org/x/xerrors"
)

// ErrLockTimeout is returned by GetForUpdate when a key cannot be
// locked before DefaultLockTimeout elapses and no deadlock is detected
// (the holder is simply slow). Safe for callers to retry.
var ErrLockTimeout = xerrors.New("kv: lock wait timed out")

// DefaultLockTimeout bounds how long GetForUpdate waits for a
// contended key before giving up.
const DefaultLockTimeout = mvcc.DefaultDeadlockTimeout

// MemKV is the always-available, in-memory KV backend.
type MemKV struct {
	store    *cowbtree.CowVersionedStore
	detector *mvcc.DeadlockDetector

	mu      sync.Mutex
	cond    *sync.Cond
	holders map[string]*mvcc.Transaction // key -> transaction currently holding a get_for_update lock
}

// NewMemKV creates an empty in-memory KV.
func NewMemKV() *MemKV {
	kv := &MemKV{
		store:    cowbtree.NewCowVersionedStore(),
		detector: mvcc.NewDeadlockDetector(),
		holders:  make(map[string]*mvcc.Transaction),
	}
	kv.cond = sync.NewCond(&kv.mu)
	return kv
}

func (k *MemKV) Get(key []byte) ([]byte, error) {
	tx, err := k.StartTransaction()
	if err != nil {
		return nil, err
	}
	v, err := tx.Get(key)
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	return v, tx.Rollback()
}

func (k *MemKV) GetRange(from, to []byte) (Iterator, error) {
	tx, err := k.StartTransaction()
	if err != nil {
		return nil, err
	}
	it, err := tx.GetRange(from, to)
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	// Materialize eagerly: the snapshot transaction is about to roll
	// back and the cowbtree snapshot it reads from would go with it.
	var keys, values [][]byte
	for it.Next() {
		keys = append(keys, append([]byte(nil), it.Key()...))
		values = append(values, append([]byte(nil), it.Value()...))
	}
	err = it.Err()
	if rerr := tx.Rollback(); err == nil {
		err = rerr
	}
	if err != nil {
		return nil, err
	}
	return NewSliceIterator(keys, values), nil
}

func (k *MemKV) StartTransaction() (Tx, error) {
	return &memTx{kv: k, tx: k.store.Begin()}, nil
}

type memTx struct {
	kv     *MemKV
	tx     *mvcc.Transaction
	locked map[string]bool
}

func (t *memTx) Get(key []byte) ([]byte, error) {
	v, err := t.kv.store.Get(t.tx, key)
	if err == cowbtree.ErrStoreNotFound {
		return nil, nil
	}
	return v, err
}

func (t *memTx) GetRange(from, to []byte) (Iterator, error) {
	var keys, values [][]byte
	// store.Range includes its end key; the KV contract excludes to.
	err := t.kv.store.Range(t.tx, from, to, func(key, value []byte) bool {
		if to != nil && string(key) >= string(to) {
			return false
		}
		keys = append(keys, append([]byte(nil), key...))
		values = append(values, append([]byte(nil), value...))
		return true
	})
	if err != nil {
		return nil, err
	}
	return NewSliceIterator(keys, values), nil
}

// GetForUpdate acquires a pessimistic lock on key, blocking until it
// is free, DefaultLockTimeout elapses (ErrLockTimeout), or a deadlock
// is detected (mvcc.ErrDeadlock) via the shared WaitForGraph.
func (t *memTx) GetForUpdate(key []byte) ([]byte, error) {
	k := t.kv
	ks := string(key)
	deadline := time.Now().Add(DefaultLockTimeout)

	// Wake every waiter once the deadline passes so a slow (but live)
	// holder doesn't block this call forever; deadlocked waiters are
	// woken immediately by WaitFor's caller instead.
	timer := time.AfterFunc(DefaultLockTimeout, func() {
		k.mu.Lock()
		k.cond.Broadcast()
		k.mu.Unlock()
	})
	defer timer.Stop()

	k.mu.Lock()
	defer k.mu.Unlock()
	for {
		holder, held := k.holders[ks]
		if !held || holder.ID() == t.tx.ID() {
			k.holders[ks] = t.tx
			if t.locked == nil {
				t.locked = make(map[string]bool)
			}
			t.locked[ks] = true
			k.detector.RemoveWait(t.tx.ID())
			break
		}
		if !holder.IsActive() {
			// Stale holder that never released; reclaim the key.
			delete(k.holders, ks)
			continue
		}
		if err := k.detector.WaitFor(t.tx, holder); err != nil {
			return nil, err
		}
		if time.Now().After(deadline) {
			k.detector.RemoveWait(t.tx.ID())
			return nil, ErrLockTimeout
		}
		k.cond.Wait()
	}

	return t.getLocked(key)
}

// getLocked reads key while k.mu is held; Get itself only touches the
// CowVersionedStore, which has its own locking, so this is safe.
func (t *memTx) getLocked(key []byte) ([]byte, error) {
	return t.Get(key)
}

func (t *memTx) Set(key, value []byte) error {
	return t.kv.store.Put(t.tx, key, value)
}

func (t *memTx) Delete(key []byte) error {
	return t.kv.store.Delete(t.tx, key)
}

func (t *memTx) releaseLocks() {
	k := t.kv
	if len(t.locked) == 0 {
		return
	}
	k.mu.Lock()
	for ks := range t.locked {
		if h, ok := k.holders[ks]; ok && h.ID() == t.tx.ID() {
			delete(k.holders, ks)
		}
	}
	k.detector.OnTransactionEnd(t.tx)
	k.cond.Broadcast()
	k.mu.Unlock()
}

func (t *memTx) Commit() error {
	defer t.releaseLocks()
	return t.kv.store.Commit(t.tx)
}

func (t *memTx) Rollback() error {
	defer t.releaseLocks()
	return t.kv.store.Rollback(t.tx)
}
