// pkg/treeengine/store_iface.go
// The engine is decoupled from the storage layer by this pair of
// interfaces rather than importing treestore directly: treestore
// already depends on treeengine for the shared data types (Id, Ref,
// Op, Undo, ...), and Go forbids the reverse import that a direct
// dependency here would need. treestore.Store and treestore.Writer
// satisfy these structurally.
package treeengine

// TreeReader is the read-only surface the engine (and CheckInvariants)
// needs from the store: typed getters over nodes, refs, and children.
type TreeReader interface {
	GetID(ref Ref) (Id, bool, error)
	GetRefs(id Id) ([]Ref, error)
	Get(id Id) (*Node, error)
	GetChild(parent Id, key Key) (Id, bool, error)
	GetChildren(parent Id) ([]ChildEntry, error)
	IsAncestor(childID, ancestorID Id) (bool, error)
}

// TreeWriter adds the operations reserved to a write transaction: ref
// rebinding, id allocation, node placement, and log push/pop.
type TreeWriter interface {
	TreeReader

	SetRef(ref Ref, id *Id) (*Id, error)
	CreateID() (Id, error)
	SetTreeNode(id Id, to *Placement) (*Placement, error)
	PushLog(entry LogEntry) error
	PopLog() (*LogEntry, error)
}
