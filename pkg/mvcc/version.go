// pkg/mvcc/version.go
package mvcc

import "sync"

// ValueVersion represents a single version of a value in the KV store
type ValueVersion struct {
	data      []byte      // The value data for this version
	createdBy uint64      // Transaction ID that created this version
	deletedBy uint64      // Transaction ID that deleted this version (0 = not deleted)
	next      *ValueVersion // Pointer to the next (older) version
}

// NewValueVersion creates a new value version with the given data and creating transaction
func NewValueVersion(data []byte, createdBy uint64) *ValueVersion {
	// Copy data to avoid external mutation
	dataCopy := make([]byte, len(data))
	copy(dataCopy, data)

	return &ValueVersion{
		data:      dataCopy,
		createdBy: createdBy,
		deletedBy: 0,
		next:      nil,
	}
}

// Data returns a copy of the value data
func (v *ValueVersion) Data() []byte {
	if v.data == nil {
		return nil
	}
	copied := make([]byte, len(v.data))
	copy(copied, v.data)
	return copied
}

// CreatedBy returns the transaction ID that created this version
func (v *ValueVersion) CreatedBy() uint64 {
	return v.createdBy
}

// DeletedBy returns the transaction ID that deleted this version (0 if not deleted)
func (v *ValueVersion) DeletedBy() uint64 {
	return v.deletedBy
}

// Next returns the next (older) version in the chain
func (v *ValueVersion) Next() *ValueVersion {
	return v.next
}

// SetNext sets the next version pointer
func (v *ValueVersion) SetNext(next *ValueVersion) {
	v.next = next
}

// IsDeleted returns true if this version has been marked as deleted
func (v *ValueVersion) IsDeleted() bool {
	return v.deletedBy != 0
}

// MarkDeleted marks this version as deleted by the given transaction
func (v *ValueVersion) MarkDeleted(txID uint64) {
	v.deletedBy = txID
}

// VersionChain manages a chain of versions for a single key
type VersionChain struct {
	mu   sync.RWMutex
	key  []byte      // The key this chain belongs to
	head *ValueVersion // Most recent version (head of the chain)
}

// NewVersionChain creates a new version chain for the given key
func NewVersionChain(key []byte) *VersionChain {
	keyCopy := make([]byte, len(key))
	copy(keyCopy, key)

	return &VersionChain{
		key:  keyCopy,
		head: nil,
	}
}

// Key returns the key for this version chain
func (c *VersionChain) Key() []byte {
	c.mu.RLock()
	defer c.mu.RUnlock()

	keyCopy := make([]byte, len(c.key))
	copy(keyCopy, c.key)
	return keyCopy
}

// Head returns the most recent version
func (c *VersionChain) Head() *ValueVersion {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.head
}

// AddVersion adds a new version to the head of the chain
func (c *VersionChain) AddVersion(v *ValueVersion) {
	c.mu.Lock()
	defer c.mu.Unlock()

	v.SetNext(c.head)
	c.head = v
}

// FindVersionByCreator finds a version created by the given transaction
func (c *VersionChain) FindVersionByCreator(txID uint64) *ValueVersion {
	c.mu.RLock()
	defer c.mu.RUnlock()

	current := c.head
	for current != nil {
		if current.CreatedBy() == txID {
			return current
		}
		current = current.Next()
	}
	return nil
}

// Length returns the number of versions in the chain
func (c *VersionChain) Length() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	count := 0
	current := c.head
	for current != nil {
		count++
		current = current.Next()
	}
	return count
}

// PruneOldVersions removes versions that are no longer needed
// A version can be pruned if:
// 1. It has been deleted by a committed transaction
// 2. No active transaction can possibly see it
// Returns the number of versions pruned
func (c *VersionChain) PruneOldVersions(mgr *TransactionManager, minActiveTS uint64) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.head == nil {
		return 0
	}

	pruned := 0

	// Find the last version that must be kept
	// We need to keep at least one committed version visible to any active transaction
	var prev *ValueVersion
	current := c.head

	for current != nil {
		next := current.Next()

		// Check if this version can be pruned
		// A version can be pruned if:
		// 1. Its creator has committed before minActiveTS
		// 2. It has been deleted by a transaction committed before minActiveTS
		// 3. There's a newer version that satisfies active transactions

		creatorTx := mgr.GetTransaction(current.CreatedBy())
		canPrune := false

		if creatorTx != nil && creatorTx.IsCommitted() {
			// Creator committed - check if deletion also committed
			if current.IsDeleted() {
				deleterTx := mgr.GetTransaction(current.DeletedBy())
				if deleterTx != nil && deleterTx.IsCommitted() && deleterTx.CommitTS() < minActiveTS {
					// This version was deleted before any active transaction started
					canPrune = true
				}
			} else if creatorTx.CommitTS() < minActiveTS && prev != nil {
				// There's a newer version and this one is old enough
				canPrune = true
			}
		}

		if canPrune {
			// Remove current from chain
			if prev != nil {
				prev.SetNext(next)
			} else {
				c.head = next
			}
			pruned++
		} else {
			prev = current
		}

		current = next
	}

	return pruned
}
