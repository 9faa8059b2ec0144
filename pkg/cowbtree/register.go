// pkg/cowbtree/register.go
package cowbtree

import (
	"treesync/pkg/pager"
	"treesync/pkg/storage"
)

func init() {
	// Register CoW tree creators with the tree factory
	storage.RegisterCowTreeCreators(
		createPersistentWrapper,
		createPersistentAtPageWrapper,
		openPersistentWrapper,
	)
}

// cowTreeWrapper wraps PersistentCowBTree to implement storage.ExtendedTree
type cowTreeWrapper struct {
	*PersistentCowBTree
}

func (w *cowTreeWrapper) Cursor() storage.Cursor {
	return &cowCursorWrapper{w.PersistentCowBTree.Cursor()}
}

// cowCursorWrapper wraps cowbtree.Cursor to implement storage.Cursor
type cowCursorWrapper struct {
	*Cursor
}

func createPersistentWrapper(p *pager.Pager) (storage.ExtendedTree, error) {
	pt, err := CreatePersistent(p)
	if err != nil {
		return nil, err
	}
	return &cowTreeWrapper{pt}, nil
}

func createPersistentAtPageWrapper(p *pager.Pager, pageNo uint32) (storage.ExtendedTree, error) {
	pt, err := CreatePersistentAtPage(p, pageNo)
	if err != nil {
		return nil, err
	}
	return &cowTreeWrapper{pt}, nil
}

func openPersistentWrapper(p *pager.Pager, rootPage uint32) (storage.ExtendedTree, error) {
	pt, err := OpenPersistent(p, rootPage)
	if err != nil {
		return nil, err
	}
	return &cowTreeWrapper{pt}, nil
}
