// Package queue provides the lock-free request/response fabric shared
// between device thread blocks and host workers: submission queues, completion
// queues, and their paired payload data banks.
//
// Every queue is single-producer single-consumer. Head and tail are monotone
// 32-bit counters; a slot index is always `counter mod queueSize`. The
// producer endpoint and the consumer endpoint are distinct types so that the
// one-producer/one-consumer rule is visible in signatures.
package queue

import (
	"errors"

	"github.com/neurogrid/gpukv/pkg/shmem"
)

var (
	ErrBadGeometry = errors.New("queue: invalid geometry")
)

// Command identifies the operation carried by a request.
type Command uint8

const (
	CmdNone Command = iota
	CmdPut
	CmdMultiPut
	CmdGet
	CmdMultiGet
	CmdDelete
	CmdAsyncGetInitiate
	CmdAsyncGetFinalize
	CmdExit
)

var commandNames = map[Command]string{
	CmdNone:             "NONE",
	CmdPut:              "PUT",
	CmdMultiPut:         "MULTI_PUT",
	CmdGet:              "GET",
	CmdMultiGet:         "MULTI_GET",
	CmdDelete:           "DELETE",
	CmdAsyncGetInitiate: "ASYNC_GET_INITIATE",
	CmdAsyncGetFinalize: "ASYNC_GET_FINALIZE",
	CmdExit:             "EXIT",
}

func (c Command) String() string {
	if s, ok := commandNames[c]; ok {
		return s
	}
	return "UNKNOWN"
}

// Status is the per-key completion status visible to device callers.
type Status uint8

const (
	StatusSuccess Status = iota
	StatusNonExist
	StatusFail
	StatusExit
)

var statusNames = map[Status]string{
	StatusSuccess:  "SUCCESS",
	StatusNonExist: "NON_EXIST",
	StatusFail:     "FAIL",
	StatusExit:     "EXIT",
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return "UNKNOWN"
}

// CopyFunc performs a bulk byte copy. The device side installs a cooperative
// copier that spreads large copies across the block's threads; the zero value
// (nil) falls back to a serial copy.
type CopyFunc func(dst, src []byte)

func serialCopy(dst, src []byte) { copy(dst, src) }

// RequestMessage is one submission-queue slot. A batch of incrementSize slots
// is described by its leading slot; trailing slots repeat the command, request
// id and sizes and carry their own inline key, with zero batch lengths.
type RequestMessage struct {
	Cmd           Command
	RequestID     uint32
	IncrementSize uint32 // batch length in slots; set on the leading slot only
	NumKeys       uint32 // batch length in keys; differs from IncrementSize for async GETs
	KeySize       uint32
	BuffSize      uint32
	Ticket        uint32 // ASYNC_GET_FINALIZE only

	// Key is the slot's inline key buffer, carved from shared memory at
	// queue construction: maxNumKeys lanes of maxKeySize bytes. Operations
	// whose payloads travel through the data bank use one slot per key and
	// only the first lane; async GETs pack the whole batch into the
	// leading slot's lanes.
	Key []byte

	// UserBuffs and UserStatus are the caller-supplied destination buffers
	// for ASYNC_GET_INITIATE; the host backend writes into them directly.
	UserBuffs  *shmem.MultiBuffer
	UserStatus *shmem.MultiBuffer
}

// ResponseMessage is one completion-queue slot. The leading slot of a batch
// carries the per-key status arrays for the whole batch; both arrays are
// carved from shared memory and visible to host and device alike.
type ResponseMessage struct {
	Status        []Status // per-key completion status, len maxNumKeys
	Engine        []int32  // raw backend codes, len maxNumKeys
	Ticket        uint32   // ASYNC_GET_INITIATE only
	IncrementSize uint32
}

// State is a point-in-time snapshot of a queue's counters, for diagnostics.
type State struct {
	Head     uint32
	Tail     uint32
	Used     uint32
	Capacity uint32
}
