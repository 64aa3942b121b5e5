package store

import (
	"runtime"
	"sync"

	"github.com/neurogrid/gpukv/pkg/queue"
	"github.com/neurogrid/gpukv/pkg/shmem"
)

// copyParallelThreshold is the payload size below which a cooperative copy
// degenerates to a serial one; splitting tiny copies costs more than it saves.
const copyParallelThreshold = 4096

// deviceSpinBudget bounds the busy-wait before the block yields its
// processor so the paired host worker can make progress.
const deviceSpinBudget = 256

// newBlockCopier returns the block's cooperative bulk copier: large copies
// are split across up to width lanes, mirroring a thread block cooperating on
// byte transfers. Only the lead caller touches queue atomics.
func newBlockCopier(width int) queue.CopyFunc {
	if width > 8 {
		width = 8
	}
	if width < 2 {
		return nil
	}
	return func(dst, src []byte) {
		n := len(src)
		if n < copyParallelThreshold {
			copy(dst, src)
			return
		}
		chunk := (n + width - 1) / width
		var wg sync.WaitGroup
		for off := 0; off < n; off += chunk {
			end := off + chunk
			if end > n {
				end = n
			}
			wg.Add(1)
			go func(off, end int) {
				defer wg.Done()
				copy(dst[off:end], src[off:end])
			}(off, end)
		}
		wg.Wait()
	}
}

// blockResources is the per-block scratch state: the monotone request-id
// counter and the reusable status array, touched only by the block's lead
// caller.
type blockResources struct {
	requestID uint32
	status    []queue.Status
}

func newBlockResources(maxNumKeys int) *blockResources {
	return &blockResources{status: make([]queue.Status, maxNumKeys)}
}

// BlockHandle is the device-side API for one thread block. All operations
// block on the block's own queues: push-until-success, then pop-until-success.
// A handle must be driven by one goroutine at a time (the block's lead
// thread); it is the sole producer of its SQ and sole consumer of its CQ.
type BlockHandle struct {
	store *KVStore
	index int
	sq    *queue.SQProducer
	cq    *queue.CQConsumer
	res   *blockResources
}

// Index returns the block index.
func (b *BlockHandle) Index() int { return b.index }

func (b *BlockHandle) nextRequestID() uint32 {
	b.res.requestID++
	return b.res.requestID
}

// spinUntil busy-waits on a push or pop attempt. The device side has no
// host-visible condition to sleep on; backpressure is purely capacity-driven.
func spinUntil(attempt func() bool) {
	for spins := 0; !attempt(); spins++ {
		if spins >= deviceSpinBudget {
			runtime.Gosched()
		}
	}
}

// Put stores one value and blocks until its completion arrives.
func (b *BlockHandle) Put(key, val []byte) queue.Status {
	id := b.nextRequestID()
	spinUntil(func() bool {
		return b.sq.PushPut(queue.CmdPut, id, [][]byte{key}, [][]byte{val}, len(key), len(val))
	})
	st := b.res.status[:1]
	spinUntil(func() bool { return b.cq.PopDefault(st, 1) })
	return st[0]
}

// MultiPut stores a batch of n values sharing one key size and one value
// size; per-key statuses land in status. n must be <= maxNumKeys.
func (b *BlockHandle) MultiPut(keys, vals [][]byte, status []queue.Status) {
	id := b.nextRequestID()
	n := len(keys)
	spinUntil(func() bool {
		return b.sq.PushPut(queue.CmdMultiPut, id, keys, vals, len(keys[0]), len(vals[0]))
	})
	spinUntil(func() bool { return b.cq.PopDefault(status, n) })
}

// Get retrieves one value into dst and blocks until its completion arrives.
func (b *BlockHandle) Get(key, dst []byte) queue.Status {
	id := b.nextRequestID()
	spinUntil(func() bool {
		return b.sq.PushGet(queue.CmdGet, id, [][]byte{key}, len(key), len(dst))
	})
	st := b.res.status[:1]
	spinUntil(func() bool { return b.cq.PopGet([][]byte{dst}, len(dst), st, nil, 1) })
	return st[0]
}

// MultiGet retrieves a batch of n values into dsts; per-key statuses land in
// status. n must be <= maxNumKeys.
func (b *BlockHandle) MultiGet(keys, dsts [][]byte, status []queue.Status) {
	id := b.nextRequestID()
	n := len(keys)
	spinUntil(func() bool {
		return b.sq.PushGet(queue.CmdMultiGet, id, keys, len(keys[0]), len(dsts[0]))
	})
	spinUntil(func() bool { return b.cq.PopGet(dsts, len(dsts[0]), status, nil, n) })
}

// Delete removes one key and blocks until its completion arrives.
func (b *BlockHandle) Delete(key []byte) queue.Status {
	id := b.nextRequestID()
	spinUntil(func() bool { return b.sq.PushDelete(id, [][]byte{key}, len(key)) })
	st := b.res.status[:1]
	spinUntil(func() bool { return b.cq.PopDefault(st, 1) })
	return st[0]
}

// AsyncGetInitiate issues a batched GET that the host executes in the
// background and returns its ticket. Values land in vals and per-key statuses
// in status (one status byte per element) once the host future resolves;
// neither is observable until AsyncGetFinalize returns for the same ticket.
func (b *BlockHandle) AsyncGetInitiate(keys [][]byte, vals *shmem.MultiBuffer, buffSize int, status *shmem.MultiBuffer) uint32 {
	id := b.nextRequestID()
	spinUntil(func() bool {
		return b.sq.PushAsyncGetInitiate(id, keys, len(keys[0]), vals, buffSize, status)
	})
	var ticket uint32
	spinUntil(func() bool {
		var ok bool
		ticket, ok = b.cq.PopAsyncGetInit(1)
		return ok
	})
	return ticket
}

// AsyncGetFinalize blocks until the host future for ticket resolves. After it
// returns, the buffers supplied to the matching AsyncGetInitiate hold the
// values and statuses.
func (b *BlockHandle) AsyncGetFinalize(ticket uint32) {
	id := b.nextRequestID()
	spinUntil(func() bool { return b.sq.PushNoData(queue.CmdAsyncGetFinalize, id, ticket) })
	spinUntil(func() bool { return b.cq.PopNoResMsg(1) })
}

// Exit terminates the block's host worker. Any operation racing Exit on the
// same block is a caller error.
func (b *BlockHandle) Exit() {
	id := b.nextRequestID()
	spinUntil(func() bool { return b.sq.PushNoData(queue.CmdExit, id, 0) })
	spinUntil(func() bool { return b.cq.PopNoResMsg(1) })
}

// AsyncStatus reads the i-th per-key status from an async GET status buffer.
func AsyncStatus(buf *shmem.MultiBuffer, i int) queue.Status {
	return queue.Status(buf.DeviceAt(i)[0])
}
