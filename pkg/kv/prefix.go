// pkg/kv/prefix.go
// Key-prefix adapter: scopes one logical namespace inside a shared KV
// with a byte prefix, transparently re-keying all operations. This is
// the mechanism that lets the tree store and the tracker's marker
// index live in the same physical KV under "trie:" and "mk:"
// respectively.
package kv

// Prefixed wraps an inner KV, prepending prefix to every key.
type Prefixed struct {
	inner  KV
	prefix []byte
}

// NewPrefixed scopes inner under prefix. prefix is copied.
func NewPrefixed(inner KV, prefix []byte) *Prefixed {
	p := make([]byte, len(prefix))
	copy(p, prefix)
	return &Prefixed{inner: inner, prefix: p}
}

func (p *Prefixed) withPrefix(key []byte) []byte {
	out := make([]byte, 0, len(p.prefix)+len(key))
	out = append(out, p.prefix...)
	out = append(out, key...)
	return out
}

// prefixEnd returns the exclusive upper bound of the prefix's own
// keyspace: prefix with its last byte incremented, carrying on
// overflow (0xff -> drop and carry into the byte before it). A prefix
// of all 0xff bytes has no finite successor and scans to the end of
// the keyspace (nil upper bound).
func prefixEnd(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		if end[i] != 0xff {
			end[i]++
			return end[:i+1]
		}
	}
	return nil
}

func (p *Prefixed) Get(key []byte) ([]byte, error) {
	return p.inner.Get(p.withPrefix(key))
}

func (p *Prefixed) GetRange(from, to []byte) (Iterator, error) {
	innerFrom := p.withPrefix(from)
	var innerTo []byte
	if to == nil {
		innerTo = prefixEnd(p.prefix)
	} else {
		innerTo = p.withPrefix(to)
	}
	it, err := p.inner.GetRange(innerFrom, innerTo)
	if err != nil {
		return nil, err
	}
	return &stripPrefixIterator{inner: it, prefixLen: len(p.prefix)}, nil
}

func (p *Prefixed) StartTransaction() (Tx, error) {
	tx, err := p.inner.StartTransaction()
	if err != nil {
		return nil, err
	}
	return NewPrefixedTx(tx, p.prefix), nil
}

// NewPrefixedTx scopes an already-started Tx under prefix, without
// starting a new transaction. This is how two logical namespaces (the
// tracker's marker index and its tree store) share a single underlying
// transaction: each wraps the same Tx with its own prefix instead of
// calling StartTransaction independently.
func NewPrefixedTx(tx Tx, prefix []byte) Tx {
	p := make([]byte, len(prefix))
	copy(p, prefix)
	return &PrefixedTx{inner: tx, prefix: p}
}

// PrefixedTx is the transactional counterpart of Prefixed.
type PrefixedTx struct {
	inner  Tx
	prefix []byte
}

func (t *PrefixedTx) withPrefix(key []byte) []byte {
	out := make([]byte, 0, len(t.prefix)+len(key))
	out = append(out, t.prefix...)
	out = append(out, key...)
	return out
}

func (t *PrefixedTx) Get(key []byte) ([]byte, error) {
	return t.inner.Get(t.withPrefix(key))
}

func (t *PrefixedTx) GetRange(from, to []byte) (Iterator, error) {
	innerFrom := t.withPrefix(from)
	var innerTo []byte
	if to == nil {
		innerTo = prefixEnd(t.prefix)
	} else {
		innerTo = t.withPrefix(to)
	}
	it, err := t.inner.GetRange(innerFrom, innerTo)
	if err != nil {
		return nil, err
	}
	return &stripPrefixIterator{inner: it, prefixLen: len(t.prefix)}, nil
}

func (t *PrefixedTx) GetForUpdate(key []byte) ([]byte, error) {
	return t.inner.GetForUpdate(t.withPrefix(key))
}

func (t *PrefixedTx) Set(key, value []byte) error {
	return t.inner.Set(t.withPrefix(key), value)
}

func (t *PrefixedTx) Delete(key []byte) error {
	return t.inner.Delete(t.withPrefix(key))
}

func (t *PrefixedTx) Commit() error   { return t.inner.Commit() }
func (t *PrefixedTx) Rollback() error { return t.inner.Rollback() }

// stripPrefixIterator removes the leading prefixLen bytes from every
// key the inner iterator yields.
type stripPrefixIterator struct {
	inner     Iterator
	prefixLen int
}

func (it *stripPrefixIterator) Next() bool { return it.inner.Next() }
func (it *stripPrefixIterator) Key() []byte {
	k := it.inner.Key()
	if len(k) < it.prefixLen {
		return nil
	}
	return k[it.prefixLen:]
}
func (it *stripPrefixIterator) Value() []byte { return it.inner.Value() }
func (it *stripPrefixIterator) Err() error    { return it.inner.Err() }
