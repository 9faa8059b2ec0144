// pkg/cache/node_cache.go
// NodeCache is an LRU front for treestore's hottest read path
// (Store.Get / Writer.Get): a list-plus-map LRU with MemoryBudget-
// tracked eviction, keyed by treeengine.Id and invalidated by parent
// id, since a node's parent is the grouping that SetTreeNode touches
// on every move.
package cache

import (
	"container/list"
	"sync"
	"time"

	"treesync/pkg/treeengine"
)

// DefaultNodeCacheCapacity is the default number of node records cached.
const DefaultNodeCacheCapacity = 1000

// nodeCacheEntry holds a cached node and its LRU element.
type nodeCacheEntry struct {
	id      treeengine.Id
	node    treeengine.Node
	size    int64
	element *list.Element
}

// NodeCacheStats mirrors the shape of the pack's query-cache stats types.
type NodeCacheStats struct {
	Hits     int64
	Misses   int64
	Entries  int
	Capacity int
	HitRate  float64
}

// NodeCache is an LRU cache of treestore node records, keyed by Id.
// It is purely a read accelerator: treestore never consults it to
// decide correctness, and any caller holding a NodeCache must
// Invalidate on every SetTreeNode/SetRef so it cannot serve stale
// placements across a transaction boundary.
type NodeCache struct {
	mu         sync.RWMutex
	capacity   int
	cache      map[treeengine.Id]*nodeCacheEntry
	lru        *list.List
	parentIdx  map[treeengine.Id]map[treeengine.Id]struct{} // parent -> set of cached child ids
	hits       int64
	misses     int64
	ttl        time.Duration
	budget     *MemoryBudget
}

// NewNodeCache creates a node cache with the given capacity (0 or
// negative uses DefaultNodeCacheCapacity).
func NewNodeCache(capacity int) *NodeCache {
	return NewNodeCacheWithBudget(capacity, nil)
}

// NewNodeCacheWithBudget creates a node cache that also tracks its
// footprint against budget, if non-nil.
func NewNodeCacheWithBudget(capacity int, budget *MemoryBudget) *NodeCache {
	if capacity <= 0 {
		capacity = DefaultNodeCacheCapacity
	}
	nc := &NodeCache{
		capacity:  capacity,
		cache:     make(map[treeengine.Id]*nodeCacheEntry),
		lru:       list.New(),
		parentIdx: make(map[treeengine.Id]map[treeengine.Id]struct{}),
		budget:    budget,
	}
	if budget != nil {
		budget.RegisterComponent("node_cache")
	}
	return nc
}

// SetTTL records a time-to-live value. Entries are not expired by it:
// Get returns a cached entry regardless of its age.
func (nc *NodeCache) SetTTL(ttl time.Duration) {
	nc.mu.Lock()
	defer nc.mu.Unlock()
	nc.ttl = ttl
}

// Capacity returns the configured capacity.
func (nc *NodeCache) Capacity() int {
	nc.mu.RLock()
	defer nc.mu.RUnlock()
	return nc.capacity
}

// SetCapacity changes capacity, evicting entries if needed.
func (nc *NodeCache) SetCapacity(capacity int) {
	nc.mu.Lock()
	defer nc.mu.Unlock()
	nc.capacity = capacity
	nc.evictIfNeeded()
}

// Put caches node under id.
func (nc *NodeCache) Put(id treeengine.Id, node treeengine.Node) {
	nc.mu.Lock()
	defer nc.mu.Unlock()

	size := nc.estimateSize(node)

	if entry, ok := nc.cache[id]; ok {
		nc.untrack(entry)
		nc.removeFromParentIndex(entry.id, entry.node.Parent)
		entry.node = node
		entry.size = size
		nc.lru.MoveToFront(entry.element)
		nc.addToParentIndex(id, node.Parent)
		nc.track(id, size)
		return
	}

	elem := nc.lru.PushFront(id)
	nc.cache[id] = &nodeCacheEntry{id: id, node: node, size: size, element: elem}
	nc.addToParentIndex(id, node.Parent)
	nc.track(id, size)
	nc.evictIfNeeded()
}

// Get returns the cached node for id, if present.
func (nc *NodeCache) Get(id treeengine.Id) (treeengine.Node, bool) {
	nc.mu.Lock()
	defer nc.mu.Unlock()

	entry, ok := nc.cache[id]
	if !ok {
		nc.misses++
		return treeengine.Node{}, false
	}

	nc.lru.MoveToFront(entry.element)
	nc.hits++
	return entry.node, true
}

// Invalidate drops id from the cache, wherever it currently sits.
func (nc *NodeCache) Invalidate(id treeengine.Id) {
	nc.mu.Lock()
	defer nc.mu.Unlock()
	nc.removeEntry(id)
}

// InvalidateChildren drops every cached node known to sit under parent
// — used after a move changes which children a directory has.
func (nc *NodeCache) InvalidateChildren(parent treeengine.Id) {
	nc.mu.Lock()
	defer nc.mu.Unlock()

	ids, ok := nc.parentIdx[parent]
	if !ok {
		return
	}
	for id := range ids {
		nc.removeEntry(id)
	}
	delete(nc.parentIdx, parent)
}

// InvalidateAll clears the cache.
func (nc *NodeCache) InvalidateAll() {
	nc.mu.Lock()
	defer nc.mu.Unlock()

	for _, entry := range nc.cache {
		nc.untrack(entry)
	}
	nc.cache = make(map[treeengine.Id]*nodeCacheEntry)
	nc.lru = list.New()
	nc.parentIdx = make(map[treeengine.Id]map[treeengine.Id]struct{})
}

// Stats reports hit/miss counters and current occupancy.
func (nc *NodeCache) Stats() NodeCacheStats {
	nc.mu.RLock()
	defer nc.mu.RUnlock()

	total := nc.hits + nc.misses
	hitRate := float64(0)
	if total > 0 {
		hitRate = float64(nc.hits) / float64(total)
	}
	return NodeCacheStats{
		Hits:     nc.hits,
		Misses:   nc.misses,
		Entries:  len(nc.cache),
		Capacity: nc.capacity,
		HitRate:  hitRate,
	}
}

func (nc *NodeCache) removeEntry(id treeengine.Id) {
	entry, ok := nc.cache[id]
	if !ok {
		return
	}
	nc.untrack(entry)
	nc.removeFromParentIndex(id, entry.node.Parent)
	nc.lru.Remove(entry.element)
	delete(nc.cache, id)
}

func (nc *NodeCache) evictIfNeeded() {
	for nc.lru.Len() > nc.capacity {
		elem := nc.lru.Back()
		if elem == nil {
			break
		}
		nc.removeEntry(elem.Value.(treeengine.Id))
	}
}

func (nc *NodeCache) addToParentIndex(id, parent treeengine.Id) {
	set, ok := nc.parentIdx[parent]
	if !ok {
		set = make(map[treeengine.Id]struct{})
		nc.parentIdx[parent] = set
	}
	set[id] = struct{}{}
}

func (nc *NodeCache) removeFromParentIndex(id, parent treeengine.Id) {
	set, ok := nc.parentIdx[parent]
	if !ok {
		return
	}
	delete(set, id)
	if len(set) == 0 {
		delete(nc.parentIdx, parent)
	}
}

func (nc *NodeCache) estimateSize(node treeengine.Node) int64 {
	size := int64(8 + len(node.Key))
	if node.Content != nil {
		size += int64(node.Content.ByteSize())
	}
	return size + 32 // struct/pointer overhead
}

func (nc *NodeCache) track(id treeengine.Id, bytes int64) {
	if nc.budget == nil {
		return
	}
	nc.budget.TrackWithPriority("node_cache", idKey(id), bytes, PriorityWarm)
}

func (nc *NodeCache) untrack(entry *nodeCacheEntry) {
	if nc.budget == nil {
		return
	}
	nc.budget.Release("node_cache", entry.size)
}

func idKey(id treeengine.Id) string {
	return string(id.Bytes())
}
