// Package backend defines the key-value engine capability consumed by the
// host dispatcher, plus two reference engines: a persistent SQLite store and
// a sharded in-memory map.
//
// Engine operations report a small integer code space rather than errors:
// the dispatcher translates codes into per-key statuses without unwinding
// the queues.
package backend

import "errors"

// Code is the raw engine return code space shared by all engines.
type Code int32

const (
	// CodeOK means the operation completed.
	CodeOK Code = 0
	// CodeError is the generic failure code.
	CodeError Code = 1
	// CodeClosed means the engine is not open.
	CodeClosed Code = 2
	// CodeNotFound is the sentinel for an absent key on GET/DELETE.
	CodeNotFound Code = 5
)

var (
	ErrNotOpen     = errors.New("backend: not open")
	ErrAlreadyOpen = errors.New("backend: already open")
)

// Engine is the pluggable key-value store behind the dispatcher. All data
// methods must be safe for concurrent calls from the host thread pool.
type Engine interface {
	// Open readies the engine. Opening an open engine is an error.
	Open() error

	// Close releases the engine. Closing a closed engine is an error;
	// the caller sees a non-success code, never undefined behavior.
	Close() error

	// Destroy removes the engine's persisted state, if any.
	Destroy() error

	// Put stores val under key, overwriting any existing value.
	Put(key, val []byte) Code

	// Get copies the value for key into dst and reports the value's
	// actual size. Returns CodeNotFound when the key is absent.
	Get(key, dst []byte) (int, Code)

	// Delete removes key. Returns CodeNotFound when the key is absent.
	Delete(key []byte) Code
}
