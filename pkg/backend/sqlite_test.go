package backend

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func openSQLite(t *testing.T) *SQLiteEngine {
	t.Helper()
	e := NewSQLiteEngine(filepath.Join(t.TempDir(), "kvtest"))
	if err := e.Open(); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func TestSQLiteEngine_RoundTrip(t *testing.T) {
	e := openSQLite(t)

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

func TestSQLiteEngine_AbsentAndDelete(t *testing.T) {
	e := openSQLite(t)

	dst := make([]byte, 8)
	if _, code := e.Get([]byte("missing"), dst); code != CodeNotFound {
		t.Errorf("Get absent code = %d, want %d", code, CodeNotFound)
	}

	if code := e.Put([]byte("k"), []byte("v")); code != CodeOK {
		t.Fatal("Put failed")
	}
	if code := e.Delete([]byte("k")); code != CodeOK {
		t.Errorf("Delete code = %d", code)
	}
	if code := e.Delete([]byte("k")); code != CodeNotFound {
		t.Errorf("second Delete code = %d, want %d", code, CodeNotFound)
	}
}

func TestSQLiteEngine_Overwrite(t *testing.T) {
	e := openSQLite(t)

	key := []byte("same-key")
	e.Put(key, []byte("first"))
	if code := e.Put(key, []byte("again")); code != CodeOK {
		t.Fatalf("overwrite Put code = %d", code)
	}
	dst := make([]byte, 5)
	e.Get(key, dst)
	if string(dst) != "again" {
		t.Errorf("value after overwrite = %q", dst)
	}
}

func TestSQLiteEngine_PersistsAcrossReopen(t *testing.T) {
	identity := filepath.Join(t.TempDir(), "persist")
	e := NewSQLiteEngine(identity)
	if err := e.Open(); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	e.Put([]byte("durable"), []byte("yes"))
	if err := e.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened := NewSQLiteEngine(identity)
	if err := reopened.Open(); err != nil {
		t.Fatalf("re-Open failed: %v", err)
	}
	defer reopened.Close()

	dst := make([]byte, 3)
	if _, code := reopened.Get([]byte("durable"), dst); code != CodeOK {
		t.Fatalf("Get after reopen code = %d", code)
	}
	if string(dst) != "yes" {
		t.Errorf("value after reopen = %q", dst)
	}
}

func TestSQLiteEngine_DestroyRemovesFile(t *testing.T) {
	identity := filepath.Join(t.TempDir(), "doomed")
	e := NewSQLiteEngine(identity)
	if err := e.Open(); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	e.Put([]byte("k"), []byte("v"))

	if err := e.Destroy(); err == nil {
		t.Error("Destroy while open succeeded")
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := e.Destroy(); err != nil {
		t.Fatalf("Destroy failed: %v", err)
	}
	if _, err := os.Stat(identity + ".db"); !os.IsNotExist(err) {
		t.Error("database file still present after Destroy")
	}
	// Destroying an already-destroyed engine is fine.
	if err := e.Destroy(); err != nil {
		t.Errorf("second Destroy = %v", err)
	}
}

func TestSQLiteEngine_ClosedCodes(t *testing.T) {
	e := NewSQLiteEngine(filepath.Join(t.TempDir(), "closed"))
	if code := e.Put([]byte("k"), []byte("v")); code != CodeClosed {
		t.Errorf("Put on closed engine code = %d, want %d", code, CodeClosed)
	}
	if err := e.Close(); err != ErrNotOpen {
		t.Errorf("Close before Open = %v, want ErrNotOpen", err)
	}
}

func TestSQLiteEngine_ConcurrentAccess(t *testing.T) {
	e := openSQLite(t)

	const workers = 4
	const perWorker = 50
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				key := []byte(fmt.Sprintf("w%d-k%d", w, i))
				if code := e.Put(key, []byte("val")); code != CodeOK {
					t.Errorf("Put code = %d", code)
					return
				}
				dst := make([]byte, 3)
				if _, code := e.Get(key, dst); code != CodeOK {
					t.Errorf("Get code = %d", code)
					return
				}
			}
		}(w)
	}
	wg.Wait()
}
