// pkg/treestore/encoding.go
// Binary shapes for every value this store persists, using pkg/codec's
// length-prefixed primitives: node records, ref lists, and log entries
// each get a fixed, documented byte layout.
package treestore

import (
	"treesync/pkg/codec"
	"treesync/pkg/treeengine"
	"treesync/pkg/treeerr"
)

// encodeNode writes "parent(8) | key_len(4BE) | key_bytes | content",
// with no length prefix on content since it is always the tail of the
// value.
func encodeNode(n treeengine.Node) []byte {
	content := n.Content.Bytes()
	w := codec.NewWriter(8 + 4 + len(n.Key) + len(content))
	w.WriteRaw(n.Parent.Bytes())
	w.WriteString(string(n.Key))
	w.WriteRaw(content)
	return w.Bytes()
}

func decodeNode(b []byte) (treeengine.Node, error) {
	r := codec.NewReader(b)
	parentBytes, err := r.ReadRaw(8)
	if err != nil {
		return treeengine.Node{}, treeerr.Decode(err)
	}
	key, err := r.ReadString()
	if err != nil {
		return treeengine.Node{}, treeerr.Decode(err)
	}
	rest := b[len(b)-r.Remaining():]
	return treeengine.Node{
		Parent:  treeengine.IdFromBytes(parentBytes),
		Key:     treeengine.Key(key),
		Content: treeengine.RawContent(append([]byte(nil), rest...)),
	}, nil
}

func encodeRefs(refs []treeengine.Ref) []byte {
	w := codec.NewWriter(4 + 16*len(refs))
	w.WriteUint32(uint32(len(refs)))
	for _, r := range refs {
		w.WriteRaw(r.Bytes())
	}
	return w.Bytes()
}

func decodeRefs(b []byte) ([]treeengine.Ref, error) {
	r := codec.NewReader(b)
	n, err := r.ReadUint32()
	if err != nil {
		return nil, treeerr.Decode(err)
	}
	refs := make([]treeengine.Ref, 0, n)
	for i := uint32(0); i < n; i++ {
		raw, err := r.ReadRaw(16)
		if err != nil {
			return nil, treeerr.Decode(err)
		}
		refs = append(refs, treeengine.RefFromBytes(raw))
	}
	return refs, nil
}

func encodePlacement(w *codec.Writer, p *treeengine.Placement) {
	if p == nil {
		w.WriteRaw([]byte{'n'})
		return
	}
	w.WriteRaw([]byte{'i'})
	w.WriteRaw(p.Parent.Bytes())
	w.WriteString(string(p.Key))
	content := p.Content.Bytes()
	w.WriteBytes(content)
}

func placementByteSize(p *treeengine.Placement) int {
	if p == nil {
		return 1
	}
	return 1 + 8 + 4 + len(p.Key) + 4 + len(p.Content.Bytes())
}

func decodePlacement(r *codec.Reader) (*treeengine.Placement, error) {
	tag, err := r.ReadRaw(1)
	if err != nil {
		return nil, treeerr.Decode(err)
	}
	if tag[0] == 'n' {
		return nil, nil
	}
	parentBytes, err := r.ReadRaw(8)
	if err != nil {
		return nil, treeerr.Decode(err)
	}
	key, err := r.ReadString()
	if err != nil {
		return nil, treeerr.Decode(err)
	}
	content, err := r.ReadBytes()
	if err != nil {
		return nil, treeerr.Decode(err)
	}
	return &treeengine.Placement{
		Parent:  treeengine.IdFromBytes(parentBytes),
		Key:     treeengine.Key(key),
		Content: treeengine.RawContent(append([]byte(nil), content...)),
	}, nil
}

func undoByteSize(u treeengine.Undo) int {
	switch u.Kind {
	case treeengine.UndoRef:
		n := 1 + 16 + 1
		if u.PrevID != nil {
			n += 8
		}
		return n
	default: // UndoMove
		return 1 + 8 + placementByteSize(u.Prev)
	}
}

func encodeUndo(w *codec.Writer, u treeengine.Undo) {
	switch u.Kind {
	case treeengine.UndoRef:
		w.WriteRaw([]byte{'r'})
		w.WriteRaw(u.Ref.Bytes())
		if u.PrevID != nil {
			w.WriteRaw([]byte{'i'})
			w.WriteRaw(u.PrevID.Bytes())
		} else {
			w.WriteRaw([]byte{'n'})
		}
	case treeengine.UndoMove:
		w.WriteRaw([]byte{'m'})
		w.WriteRaw(u.ID.Bytes())
		encodePlacement(w, u.Prev)
	}
}

func decodeUndo(r *codec.Reader) (treeengine.Undo, error) {
	tag, err := r.ReadRaw(1)
	if err != nil {
		return treeengine.Undo{}, treeerr.Decode(err)
	}
	switch tag[0] {
	case 'r':
		refBytes, err := r.ReadRaw(16)
		if err != nil {
			return treeengine.Undo{}, treeerr.Decode(err)
		}
		idTag, err := r.ReadRaw(1)
		if err != nil {
			return treeengine.Undo{}, treeerr.Decode(err)
		}
		var prevID *treeengine.Id
		if idTag[0] == 'i' {
			idBytes, err := r.ReadRaw(8)
			if err != nil {
				return treeengine.Undo{}, treeerr.Decode(err)
			}
			id := treeengine.IdFromBytes(idBytes)
			prevID = &id
		}
		return treeengine.Undo{Kind: treeengine.UndoRef, Ref: treeengine.RefFromBytes(refBytes), PrevID: prevID}, nil
	case 'm':
		idBytes, err := r.ReadRaw(8)
		if err != nil {
			return treeengine.Undo{}, treeerr.Decode(err)
		}
		prev, err := decodePlacement(r)
		if err != nil {
			return treeengine.Undo{}, err
		}
		return treeengine.Undo{Kind: treeengine.UndoMove, ID: treeengine.IdFromBytes(idBytes), Prev: prev}, nil
	default:
		return treeengine.Undo{}, treeerr.Decode(treeerr.Invalid("unknown undo tag"))
	}
}

func encodeOp(w *codec.Writer, op treeengine.Op) {
	w.WriteBytes(op.Marker.Bytes())
	w.WriteRaw(op.ParentRef.Bytes())
	w.WriteString(string(op.ChildKey))
	w.WriteRaw(op.ChildRef.Bytes())
	w.WriteBytes(op.ChildContent.Bytes())
}

func opByteSize(op treeengine.Op) int {
	return 4 + op.Marker.ByteSize() + 16 + 4 + len(op.ChildKey) + 16 + 4 + op.ChildContent.ByteSize()
}

func decodeOp(r *codec.Reader, decodeMarker treeengine.MarkerDecoder) (treeengine.Op, error) {
	markerBytes, err := r.ReadBytes()
	if err != nil {
		return treeengine.Op{}, treeerr.Decode(err)
	}
	marker, err := decodeMarker(markerBytes)
	if err != nil {
		return treeengine.Op{}, treeerr.Decode(err)
	}
	parentRefBytes, err := r.ReadRaw(16)
	if err != nil {
		return treeengine.Op{}, treeerr.Decode(err)
	}
	key, err := r.ReadString()
	if err != nil {
		return treeengine.Op{}, treeerr.Decode(err)
	}
	childRefBytes, err := r.ReadRaw(16)
	if err != nil {
		return treeengine.Op{}, treeerr.Decode(err)
	}
	content, err := r.ReadBytes()
	if err != nil {
		return treeengine.Op{}, treeerr.Decode(err)
	}
	return treeengine.Op{
		Marker:       marker,
		ParentRef:    treeengine.RefFromBytes(parentRefBytes),
		ChildKey:     treeengine.Key(key),
		ChildRef:     treeengine.RefFromBytes(childRefBytes),
		ChildContent: treeengine.RawContent(append([]byte(nil), content...)),
	}, nil
}

func encodeLogEntry(entry treeengine.LogEntry) []byte {
	size := opByteSize(entry.Op) + 4
	for _, u := range entry.Undos {
		size += undoByteSize(u)
	}
	w := codec.NewWriter(size)
	encodeOp(w, entry.Op)
	w.WriteUint32(uint32(len(entry.Undos)))
	for _, u := range entry.Undos {
		encodeUndo(w, u)
	}
	return w.Bytes()
}

func decodeLogEntry(b []byte, decodeMarker treeengine.MarkerDecoder) (treeengine.LogEntry, error) {
	r := codec.NewReader(b)
	op, err := decodeOp(r, decodeMarker)
	if err != nil {
		return treeengine.LogEntry{}, err
	}
	n, err := r.ReadUint32()
	if err != nil {
		return treeengine.LogEntry{}, treeerr.Decode(err)
	}
	undos := make([]treeengine.Undo, 0, n)
	for i := uint32(0); i < n; i++ {
		u, err := decodeUndo(r)
		if err != nil {
			return treeengine.LogEntry{}, err
		}
		undos = append(undos, u)
	}
	return treeengine.LogEntry{Op: op, Undos: undos}, nil
}
