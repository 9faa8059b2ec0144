// pkg/kv/prefix_test.go
package kv

import "testing"

func TestPrefixedIsolatesNamespace(t *testing.T) {
	inner := NewMemKV()
	a := NewPrefixed(inner, []byte("a:"))
	b := NewPrefixed(inner, []byte("b:"))

	txA, _ := a.StartTransaction()
	_ = txA.Set([]byte("x"), []byte("from-a"))
	_ = txA.Commit()

	txB, _ := b.StartTransaction()
	_ = txB.Set([]byte("x"), []byte("from-b"))
	_ = txB.Commit()

	va, err := a.Get([]byte("x"))
	if err != nil || string(va) != "from-a" {
		t.Fatalf("a.Get(x) = %q, %v", va, err)
	}
	vb, err := b.Get([]byte("x"))
	if err != nil || string(vb) != "from-b" {
		t.Fatalf("b.Get(x) = %q, %v", vb, err)
	}

	raw, err := inner.Get([]byte("a:x"))
	if err != nil || string(raw) != "from-a" {
		t.Fatalf("inner.Get(a:x) = %q, %v", raw, err)
	}
}

func TestPrefixEndCarriesOverflow(t *testing.T) {
	end := prefixEnd([]byte{0x01, 0xff})
	if len(end) != 1 || end[0] != 0x02 {
		t.Fatalf("prefixEnd({0x01,0xff}) = %v", end)
	}
	if prefixEnd([]byte{0xff}) != nil {
		t.Fatalf("prefixEnd({0xff}) should have no finite successor")
	}
}

func TestPrefixedRange(t *testing.T) {
	inner := NewMemKV()
	p := NewPrefixed(inner, []byte("trie:"))

	tx, _ := p.StartTransaction()
	_ = tx.Set([]byte("n:1"), []byte("one"))
	_ = tx.Set([]byte("n:2"), []byte("two"))
	_ = tx.Commit()

	it, err := p.GetRange([]byte("n:"), nil)
	if err != nil {
		t.Fatal(err)
	}
	count := 0
	for it.Next() {
		count++
		if len(it.Key()) < 2 || it.Key()[0] != 'n' {
			t.Fatalf("unexpected key %q leaked prefix", it.Key())
		}
	}
	if count != 2 {
		t.Fatalf("expected 2 keys, got %d", count)
	}
}
