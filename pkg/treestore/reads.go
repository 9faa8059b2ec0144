// pkg/treestore/reads.go
// Shared read-path implementation for both Store (outside a
// transaction) and Writer (inside one): every getter is expressed once
// against the reader interface and reused by both.
package treestore

import (
	"encoding/binary"

	"treesync/pkg/treeengine"
	"treesync/pkg/treeerr"
)

func getID(r reader, ref treeengine.Ref) (treeengine.Id, bool, error) {
	v, err := r.Get(refKey(ref))
	if err != nil {
		return 0, false, treeerr.KV(err)
	}
	if v == nil {
		return 0, false, nil
	}
	return treeengine.IdFromBytes(v), true, nil
}

func getRefs(r reader, id treeengine.Id) ([]treeengine.Ref, error) {
	v, err := r.Get(idRefsKey(id))
	if err != nil {
		return nil, treeerr.KV(err)
	}
	if v == nil {
		return nil, nil
	}
	return decodeRefs(v)
}

func getNode(r reader, id treeengine.Id) (*treeengine.Node, error) {
	v, err := r.Get(nodeKey(id))
	if err != nil {
		return nil, treeerr.KV(err)
	}
	if v == nil {
		return nil, nil
	}
	n, err := decodeNode(v)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func getEnsure(r reader, id treeengine.Id) (*treeengine.Node, error) {
	n, err := getNode(r, id)
	if err != nil {
		return nil, err
	}
	if n == nil {
		return nil, treeerr.TreeBroken("tree id %d not found", id)
	}
	return n, nil
}

func getChild(r reader, parent treeengine.Id, key treeengine.Key) (treeengine.Id, bool, error) {
	v, err := r.Get(childKey(parent, key))
	if err != nil {
		return 0, false, treeerr.KV(err)
	}
	if v == nil {
		return 0, false, nil
	}
	return treeengine.IdFromBytes(v), true, nil
}

func getChildren(r reader, parent treeengine.Id) ([]treeengine.ChildEntry, error) {
	from, to := childPrefixRange(parent)
	it, err := r.GetRange(from, to)
	if err != nil {
		return nil, treeerr.KV(err)
	}
	prefixLen := len(from)
	var out []treeengine.ChildEntry
	for it.Next() {
		key := it.Key()
		if len(key) < prefixLen {
			return nil, treeerr.Decode(treeerr.Invalid("short child key"))
		}
		childName := treeengine.Key(key[prefixLen:])
		out = append(out, treeengine.ChildEntry{Key: childName, ID: treeengine.IdFromBytes(it.Value())})
	}
	if err := it.Err(); err != nil {
		return nil, treeerr.KV(err)
	}
	return out, nil
}

// isAncestor reports whether ancestorID appears in childID's parent
// chain, short-circuiting the moment it's found rather than always
// walking to ROOT.
func isAncestor(r reader, childID, ancestorID treeengine.Id) (bool, error) {
	target := childID
	for {
		node, err := getNode(r, target)
		if err != nil {
			return false, err
		}
		if node == nil {
			return false, nil
		}
		if node.Parent == ancestorID {
			return true, nil
		}
		target = node.Parent
		if target < treeengine.FirstFreshID {
			return false, nil
		}
	}
}

func getIDByPath(r reader, parts []string) (treeengine.Id, bool, error) {
	id := treeengine.ROOT
	for _, part := range parts {
		childID, found, err := getChild(r, id, treeengine.Key(part))
		if err != nil {
			return 0, false, err
		}
		if !found {
			return 0, false, nil
		}
		id = childID
	}
	return id, true, nil
}

func iterLog(r reader, decodeMarker treeengine.MarkerDecoder) ([]treeengine.LogEntry, error) {
	from, to := logPrefixRange()
	it, err := r.GetRange(from, to)
	if err != nil {
		return nil, treeerr.KV(err)
	}
	var out []treeengine.LogEntry
	for it.Next() {
		entry, err := decodeLogEntry(it.Value(), decodeMarker)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	if err := it.Err(); err != nil {
		return nil, treeerr.KV(err)
	}
	return out, nil
}

func removeRef(refs []treeengine.Ref, target treeengine.Ref) []treeengine.Ref {
	for i, r := range refs {
		if r == target {
			return append(refs[:i], refs[i+1:]...)
		}
	}
	return refs
}

func containsRef(refs []treeengine.Ref, target treeengine.Ref) bool {
	for _, r := range refs {
		if r == target {
			return true
		}
	}
	return false
}

func encodeUint64(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}

func decodeUint64(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}
