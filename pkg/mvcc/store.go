// pkg/mvcc/store.go
package mvcc

import (
	"errors"
	"sync"

	"treesync/pkg/btree"
)

var (
	ErrKeyNotFound = errors.New("key not found")
)

// VersionedStore provides MVCC transactions over in-memory per-key version
// chains. The B-tree it is constructed with is kept but never read or written.
type VersionedStore struct {
	mu               sync.RWMutex
	btree            *btree.BTree
	txManager        *TransactionManager
	conflictDetector *ConflictDetector
	versionChains    map[string]*VersionChain // Key -> version chain
}

// StoreStats contains statistics about the store
type StoreStats struct {
	ActiveTransactions int
	TotalVersionChains int
}

// NewVersionedStore creates a new versioned store backed by a B-tree
func NewVersionedStore(bt *btree.BTree) *VersionedStore {
	return &VersionedStore{
		btree:            bt,
		txManager:        NewTransactionManager(),
		conflictDetector: NewConflictDetector(),
		versionChains:    make(map[string]*VersionChain),
	}
}

// Begin starts a new transaction
func (s *VersionedStore) Begin() *Transaction {
	return s.txManager.Begin()
}

// Commit commits a transaction
func (s *VersionedStore) Commit(tx *Transaction) error {
	if !tx.IsActive() {
		return ErrTxNotActive
	}

	// Commit the transaction
	err := s.txManager.Commit(tx)
	if err != nil {
		return err
	}

	// Clean up conflict detector
	s.conflictDetector.OnCommit(tx)

	return nil
}

// Rollback aborts a transaction and discards its changes
func (s *VersionedStore) Rollback(tx *Transaction) error {
	if !tx.IsActive() {
		return ErrTxNotActive
	}

	// Mark versions created by this transaction as aborted
	s.rollbackVersions(tx)

	// Abort the transaction
	s.txManager.Rollback(tx)

	// Clean up conflict detector
	s.conflictDetector.OnAbort(tx)

	return nil
}

// rollbackVersions marks all versions created by the transaction as invalid
func (s *VersionedStore) rollbackVersions(tx *Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()

	txID := tx.ID()

	for _, chain := range s.versionChains {
		// Find version created by this transaction and remove it
		// We traverse the chain looking for versions created by this tx
		head := chain.Head()
		if head != nil && head.CreatedBy() == txID {
			// The head was created by this transaction - mark it as deleted
			// so it becomes invisible. In a real implementation, we might
			// actually remove it from the chain.
			head.MarkDeleted(txID)
		}
	}
}

// Get retrieves the value for a key, returning the version visible to the transaction
func (s *VersionedStore) Get(tx *Transaction, key []byte) ([]byte, error) {
	s.mu.RLock()
	chain := s.versionChains[string(key)]
	s.mu.RUnlock()

	if chain == nil {
		// No versions exist; the B-tree is not consulted
		return nil, ErrKeyNotFound
	}

	// Find visible version
	version := FindVisibleVersion(chain, tx, s.txManager)
	if version == nil {
		return nil, ErrKeyNotFound
	}

	return version.Data(), nil
}

// Put stores a key-value pair, creating a new version
func (s *VersionedStore) Put(tx *Transaction, key, value []byte) error {
	if !tx.IsActive() {
		return ErrTxNotActive
	}

	// Check for write-write conflict
	ws := NewWriteSet()
	ws.Add(key)

	err := s.conflictDetector.CheckConflict(tx, ws)
	if err != nil {
		return err
	}

	// Register the write
	s.conflictDetector.RegisterWrites(tx, ws)

	// Create new version
	s.mu.Lock()
	defer s.mu.Unlock()

	keyStr := string(key)
	chain := s.versionChains[keyStr]
	if chain == nil {
		chain = NewVersionChain(key)
		s.versionChains[keyStr] = chain
	}

	// If there's a visible version created by a different committed transaction,
	// mark it as deleted by this transaction
	oldVersion := FindVisibleVersion(chain, tx, s.txManager)
	if oldVersion != nil && oldVersion.CreatedBy() != tx.ID() {
		// The old version will be superseded by this new version
		// We don't mark it as deleted here - the version chain handles visibility
	}

	// Add new version
	version := NewValueVersion(value, tx.ID())
	chain.AddVersion(version)

	// The value lives only in the in-memory version chain; the B-tree is
	// not written, here or at commit
	return nil
}

// Delete deletes a key
func (s *VersionedStore) Delete(tx *Transaction, key []byte) error {
	if !tx.IsActive() {
		return ErrTxNotActive
	}

	// Check for write-write conflict
	ws := NewWriteSet()
	ws.Add(key)

	err := s.conflictDetector.CheckConflict(tx, ws)
	if err != nil {
		return err
	}

	// Register the write
	s.conflictDetector.RegisterWrites(tx, ws)

	s.mu.Lock()
	defer s.mu.Unlock()

	keyStr := string(key)
	chain := s.versionChains[keyStr]
	if chain == nil {
		// Key doesn't exist - nothing to delete
		return nil
	}

	// Find the visible version and mark it as deleted
	version := FindVisibleVersion(chain, tx, s.txManager)
	if version != nil {
		version.MarkDeleted(tx.ID())
	}

	return nil
}

// Stats returns statistics about the store
func (s *VersionedStore) Stats() StoreStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return StoreStats{
		ActiveTransactions: len(s.txManager.ActiveTransactions()),
		TotalVersionChains: len(s.versionChains),
	}
}
