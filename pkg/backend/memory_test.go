package backend

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func openMemory(t *testing.T) *MemoryEngine {
	t.Helper()
	e := NewMemoryEngine()
	if err := e.Open(); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func TestMemoryEngine_RoundTrip(t *testing.T) {
	e := openMemory(t)

	key := []byte{0, 0, 0, 1}
	val := []byte("helloworld______")
	if code := e.Put(key, val); code != CodeOK {
		t.Fatalf("Put code = %d", code)
	}

	dst := make([]byte, len(val))
	n, code := e.Get(key, dst)
	if code != CodeOK || n != len(val) {
		t.Fatalf("Get = (%d, %d)", n, code)
	}
	if !bytes.Equal(dst, val) {
		t.Errorf("value = %q, want %q", dst, val)
	}
}

func TestMemoryEngine_AbsentKey(t *testing.T) {
	e := openMemory(t)

	dst := make([]byte, 8)
	if _, code := e.Get([]byte{0xDE, 0xAD, 0xBE, 0xEF}, dst); code != CodeNotFound {
		t.Errorf("Get absent key code = %d, want %d", code, CodeNotFound)
	}
	if code := e.Delete([]byte{0xDE, 0xAD, 0xBE, 0xEF}); code != CodeNotFound {
		t.Errorf("Delete absent key code = %d, want %d", code, CodeNotFound)
	}
}

// A PUT of an existing key is an idempotent overwrite, not a conflict.
func TestMemoryEngine_OverwriteSemantics(t *testing.T) {
	e := openMemory(t)

	key := []byte("same-key")
	if code := e.Put(key, []byte("first")); code != CodeOK {
		t.Fatalf("first Put code = %d", code)
	}
	if code := e.Put(key, []byte("again")); code != CodeOK {
		t.Fatalf("second Put code = %d, want overwrite success", code)
	}

	dst := make([]byte, 5)
	if _, code := e.Get(key, dst); code != CodeOK {
		t.Fatalf("Get code = %d", code)
	}
	if string(dst) != "again" {
		t.Errorf("value after overwrite = %q", dst)
	}
	if e.Len() != 1 {
		t.Errorf("Len = %d after overwrite, want 1", e.Len())
	}
}

func TestMemoryEngine_CloseCodes(t *testing.T) {
	e := NewMemoryEngine()
	if err := e.Close(); err != ErrNotOpen {
		t.Errorf("Close before Open = %v, want ErrNotOpen", err)
	}
	if err := e.Open(); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if err := e.Open(); err != ErrAlreadyOpen {
		t.Errorf("second Open = %v, want ErrAlreadyOpen", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := e.Close(); err != ErrNotOpen {
		t.Errorf("second Close = %v, want ErrNotOpen", err)
	}
	if code := e.Put([]byte("k"), []byte("v")); code != CodeClosed {
		t.Errorf("Put on closed engine code = %d, want %d", code, CodeClosed)
	}
}

func TestMemoryEngine_ConcurrentAccess(t *testing.T) {
	e := openMemory(t)

	const workers = 8
	const perWorker = 200
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				key := []byte(fmt.Sprintf("w%d-k%d", w, i))
				val := []byte(fmt.Sprintf("v%d-%d", w, i))
				if code := e.Put(key, val); code != CodeOK {
					t.Errorf("Put code = %d", code)
					return
				}
				dst := make([]byte, len(val))
				if _, code := e.Get(key, dst); code != CodeOK {
					t.Errorf("Get code = %d", code)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	if got := e.Len(); got != workers*perWorker {
		t.Errorf("Len = %d, want %d", got, workers*perWorker)
	}
}

func TestMemoryEngine_SnapshotRoundTrip(t *testing.T) {
	e := openMemory(t)

	entries := map[string]string{}
	for i := 0; i < 100; i++ {
		k := fmt.Sprintf("key-%03d", i)
		v := fmt.Sprintf("value-%03d-%s", i, string(bytes.Repeat([]byte{'x'}, i)))
		entries[k] = v
		if code := e.Put([]byte(k), []byte(v)); code != CodeOK {
			t.Fatalf("Put code = %d", code)
		}
	}

	path := filepath.Join(t.TempDir(), "engine.snap")
	if err := e.Snapshot(path); err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}

	restored := openMemory(t)
	if err := restored.Restore(path); err != nil {
		t.Fatalf("Restore failed: %v", err)
	}
	if restored.Len() != len(entries) {
		t.Fatalf("restored %d entries, want %d", restored.Len(), len(entries))
	}
	for k, v := range entries {
		dst := make([]byte, len(v))
		n, code := restored.Get([]byte(k), dst)
		if code != CodeOK {
			t.Fatalf("restored Get(%s) code = %d", k, code)
		}
		if string(dst[:n]) != v {
			t.Errorf("restored %s = %q, want %q", k, dst[:n], v)
		}
	}
}

func TestMemoryEngine_RestoreRejectsGarbage(t *testing.T) {
	e := openMemory(t)

	path := filepath.Join(t.TempDir(), "junk.snap")
	if err := os.WriteFile(path, []byte("not a snapshot"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := e.Restore(path); err == nil {
		t.Error("Restore accepted garbage file")
	}
}
