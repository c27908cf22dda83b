package localkv

import (
	"errors"
	"os"
	"testing"
)

func exerciseKV(t *testing.T, kv KV) {
	t.Helper()
	if _, ok, err := kv.Get("backup_a"); err != nil || ok {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}
	if err := kv.Set("backup_a", []byte("one")); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if err := kv.Set("backup_b/../x", []byte("two")); err != nil {
		t.Fatalf("set with path characters failed: %v", err)
	}
	if err := kv.Set("lastUpgradePrompt", []byte("3")); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	got, ok, err := kv.Get("backup_a")
	if err != nil || !ok || string(got) != "one" {
		t.Fatalf("expected stored value, got %q ok=%v err=%v", got, ok, err)
	}
	keys, err := kv.Keys("backup_")
	if err != nil {
		t.Fatalf("keys failed: %v", err)
	}
	if len(keys) != 2 || keys[0] != "backup_a" || keys[1] != "backup_b/../x" {
		t.Fatalf("unexpected keys %v", keys)
	}
	if err := kv.Delete("backup_a"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if err := kv.Delete("backup_a"); err != nil {
		t.Fatalf("second delete should be a no-op: %v", err)
	}
	if _, ok, _ := kv.Get("backup_a"); ok {
		t.Fatalf("expected key to be gone")
	}
	if err := kv.Set(" ", nil); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("expected invalid key error, got %v", err)
	}
}

func TestMemory(t *testing.T) {
	exerciseKV(t, NewMemory())
}

func TestDir(t *testing.T) {
	root := t.TempDir()
	kv, err := NewDir(root)
	if err != nil {
		t.Fatalf("new dir: %v", err)
	}
	exerciseKV(t, kv)

	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			t.Fatalf("keys must not create subdirectories, found %s", entry.Name())
		}
	}

	reopened, err := NewDir(root)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, ok, err := reopened.Get("lastUpgradePrompt")
	if err != nil || !ok || string(got) != "3" {
		t.Fatalf("expected value to survive reopen, got %q ok=%v err=%v", got, ok, err)
	}
}

func TestMemoryReturnsCopies(t *testing.T) {
	kv := NewMemory()
	value := []byte("abc")
	_ = kv.Set("k", value)
	value[0] = 'z'
	got, _, _ := kv.Get("k")
	got[1] = 'z'
	again, _, _ := kv.Get("k")
	if string(again) != "abc" {
		t.Fatalf("expected stored value to be isolated, got %q", again)
	}
}
