package backend

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteEngine is the persistent reference engine. The identity token names
// the database file, so the same token reattaches to the same data across
// store lifetimes.
type SQLiteEngine struct {
	identity string

	mu      sync.RWMutex
	db      *sql.DB
	putStmt *sql.Stmt
	getStmt *sql.Stmt
	delStmt *sql.Stmt
}

// NewSQLiteEngine creates a closed engine bound to an identity token.
func NewSQLiteEngine(identity string) *SQLiteEngine {
	return &SQLiteEngine{identity: identity}
}

// Identity returns the engine's identity token.
func (e *SQLiteEngine) Identity() string { return e.identity }

func (e *SQLiteEngine) path() string { return e.identity + ".db" }

// Open opens (creating if needed) the database file and prepares the hot
// statements.
func (e *SQLiteEngine) Open() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.db != nil {
		return ErrAlreadyOpen
	}
	db, err := sql.Open("sqlite3", e.path())
	if err != nil {
		return fmt.Errorf("open %s: %w", e.path(), err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS kv (
		key BLOB PRIMARY KEY,
		val BLOB NOT NULL
	) WITHOUT ROWID`); err != nil {
		db.Close()
		return fmt.Errorf("create schema: %w", err)
	}

	put, err := db.Prepare(`INSERT INTO kv (key, val) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET val = excluded.val`)
	if err != nil {
		db.Close()
		return fmt.Errorf("prepare put: %w", err)
	}
	get, err := db.Prepare(`SELECT val FROM kv WHERE key = ?`)
	if err != nil {
		put.Close()
		db.Close()
		return fmt.Errorf("prepare get: %w", err)
	}
	del, err := db.Prepare(`DELETE FROM kv WHERE key = ?`)
	if err != nil {
		put.Close()
		get.Close()
		db.Close()
		return fmt.Errorf("prepare delete: %w", err)
	}

	e.db, e.putStmt, e.getStmt, e.delStmt = db, put, get, del
	return nil
}

// Close releases the prepared statements and the database handle.
func (e *SQLiteEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.db == nil {
		return ErrNotOpen
	}
	e.putStmt.Close()
	e.getStmt.Close()
	e.delStmt.Close()
	err := e.db.Close()
	e.db, e.putStmt, e.getStmt, e.delStmt = nil, nil, nil, nil
	return err
}

// Destroy removes the database file. The engine must be closed first.
func (e *SQLiteEngine) Destroy() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.db != nil {
		return errors.New("backend: destroy while open")
	}
	if err := os.Remove(e.path()); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Put upserts val under key.
func (e *SQLiteEngine) Put(key, val []byte) Code {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.db == nil {
		return CodeClosed
	}
	if _, err := e.putStmt.Exec(key, val); err != nil {
		log.Printf("sqlite put failed: %v", err)
		return CodeError
	}
	return CodeOK
}

// Get copies the value for key into dst.
func (e *SQLiteEngine) Get(key, dst []byte) (int, Code) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.db == nil {
		return 0, CodeClosed
	}
	var val []byte
	err := e.getStmt.QueryRow(key).Scan(&val)
	if err == sql.ErrNoRows {
		return 0, CodeNotFound
	}
	if err != nil {
		log.Printf("sqlite get failed: %v", err)
		return 0, CodeError
	}
	copy(dst, val)
	return len(val), CodeOK
}

// Delete removes key.
func (e *SQLiteEngine) Delete(key []byte) Code {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.db == nil {
		return CodeClosed
	}
	res, err := e.delStmt.Exec(key)
	if err != nil {
		log.Printf("sqlite delete failed: %v", err)
		return CodeError
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return CodeNotFound
	}
	return CodeOK
}
