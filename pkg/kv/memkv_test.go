// pkg/kv/memkv_test.go
package kv

import "testing"

func TestMemKVSetGetCommit(t *testing.T) {
	store := NewMemKV()
	tx, err := store.StartTransaction()
	if err != nil {
		t.Fatal(err)
	}
	if err := tx.Set([]byte("a"), []byte("1")); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	v, err := store.Get([]byte("a"))
	if err != nil {
		t.Fatal(err)
	}
	if string(v) != "1" {
		t.Fatalf("got %q, want %q", v, "1")
	}
}

func TestMemKVRollbackDiscardsWrites(t *testing.T) {
	store := NewMemKV()
	tx, _ := store.StartTransaction()
	_ = tx.Set([]byte("a"), []byte("1"))
	if err := tx.Rollback(); err != nil {
		t.Fatal(err)
	}

	v, err := store.Get([]byte("a"))
	if err != nil {
		t.Fatal(err)
	}
	if v != nil {
		t.Fatalf("expected nil after rollback, got %q", v)
	}
}

func TestMemKVGetForUpdateSelfReentrant(t *testing.T) {
	store := NewMemKV()
	tx, _ := store.StartTransaction()
	_ = tx.Set([]byte("a"), []byte("1"))
	if _, err := tx.GetForUpdate([]byte("a")); err != nil {
		t.Fatalf("locking own write should not block: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
}

func TestMemKVRange(t *testing.T) {
	store := NewMemKV()
	tx, _ := store.StartTransaction()
	_ = tx.Set([]byte("a"), []byte("1"))
	_ = tx.Set([]byte("b"), []byte("2"))
	_ = tx.Set([]byte("c"), []byte("3"))
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	it, err := store.GetRange([]byte("a"), []byte("c"))
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for it.Next() {
		got = append(got, string(it.Key())+"="+string(it.Value()))
	}
	if len(got) != 2 || got[0] != "a=1" || got[1] != "b=2" {
		t.Fatalf("unexpected range result: %v", got)
	}
}
