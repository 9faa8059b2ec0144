// pkg/tracker/entity.go
// Entity is the Content every node in the tracker's own tree carries:
// identity, last-update, and type markers, encoded with pkg/codec the
// way treeengine's own node records are.
package tracker

import (
	"treesync/pkg/codec"
	"treesync/pkg/treeengine"
)

// Entity is the per-node payload the tracker stores: the discovered
// entity's identity marker (stable across renames), the marker it last
// changed under, and a marker identifying its type (file vs directory,
// or a content hash bucket — opaque to the tracker itself).
type Entity struct {
	IdentityMarker []byte
	UpdateMarker   []byte
	TypeMarker     []byte
}

var _ treeengine.Content = Entity{}

func (e Entity) ByteSize() int {
	return 4 + len(e.IdentityMarker) + 4 + len(e.UpdateMarker) + 4 + len(e.TypeMarker)
}

func (e Entity) Bytes() []byte {
	w := codec.NewWriter(e.ByteSize())
	w.WriteBytes(e.IdentityMarker)
	w.WriteBytes(e.UpdateMarker)
	w.WriteBytes(e.TypeMarker)
	return w.Bytes()
}

// DecodeEntity recovers an Entity from the RawContent treestore hands
// back on read.
func DecodeEntity(b []byte) (Entity, error) {
	r := codec.NewReader(b)
	identity, err := r.ReadBytes()
	if err != nil {
		return Entity{}, err
	}
	update, err := r.ReadBytes()
	if err != nil {
		return Entity{}, err
	}
	typ, err := r.ReadBytes()
	if err != nil {
		return Entity{}, err
	}
	return Entity{IdentityMarker: identity, UpdateMarker: update, TypeMarker: typ}, nil
}
