// pkg/treestore/keys.go
// Key layout for every sub-table this store keeps in one ordered KV.
// A single byte tag plus a colon precedes each key's binary-encoded
// argument so one KV can hold every sub-table without namespace
// collisions, and children of one node sort contiguously under their
// "c:id:" prefix for a single range scan.
package treestore

import (
	"math"

	"treesync/pkg/treeengine"
)

const (
	tagRefToID  = 'r'
	tagNode     = 'n'
	tagChild    = 'c'
	tagIDToRefs = 'i'
	tagLog      = 'l'
)

var (
	keyAutoIncrementID = []byte("auto_increment_id:")
	keyLogTotalLength  = []byte("log_total_length:")
)

func refKey(r treeengine.Ref) []byte {
	k := make([]byte, 0, 2+16)
	k = append(k, tagRefToID, ':')
	return append(k, r.Bytes()...)
}

func nodeKey(id treeengine.Id) []byte {
	k := make([]byte, 0, 2+8)
	k = append(k, tagNode, ':')
	return append(k, id.Bytes()...)
}

func idRefsKey(id treeengine.Id) []byte {
	k := make([]byte, 0, 2+8)
	k = append(k, tagIDToRefs, ':')
	return append(k, id.Bytes()...)
}

// childPrefix is every key for id's children: "c:" + id(8) + ":".
func childPrefix(id treeengine.Id) []byte {
	k := make([]byte, 0, 2+8+1)
	k = append(k, tagChild, ':')
	k = append(k, id.Bytes()...)
	return append(k, ':')
}

func childKey(id treeengine.Id, key treeengine.Key) []byte {
	k := childPrefix(id)
	return append(k, []byte(key)...)
}

// childPrefixRange returns [from, to) bounding every child key of id.
// Children are stored under a fixed-width 8-byte id followed by ':',
// so incrementing the prefix's last byte is safe and never overflows
// across ids (':' is not 0xFF).
func childPrefixRange(id treeengine.Id) (from, to []byte) {
	from = childPrefix(id)
	to = append([]byte(nil), from...)
	to[len(to)-1]++
	return from, to
}

// logIndex returns the storage index for the log entry at position n,
// counted from the oldest (n=0 is the first entry ever pushed):
// MAX_U64 - n, so later entries get smaller keys and a forward scan of
// "l:" sees newest-first.
func logIndex(n uint64) uint64 {
	return math.MaxUint64 - n
}

func logKeyForIndex(idx uint64) []byte {
	k := make([]byte, 0, 2+8)
	k = append(k, tagLog, ':')
	var b [8]byte
	for i := 0; i < 8; i++ {
		b[i] = byte(idx >> (56 - 8*i))
	}
	return append(k, b[:]...)
}

// logPrefixRange bounds every log entry key ("l:" + 8 bytes).
func logPrefixRange() (from, to []byte) {
	from = []byte{tagLog, ':'}
	to = append([]byte(nil), from...)
	to[len(to)-1]++
	return from, to
}
