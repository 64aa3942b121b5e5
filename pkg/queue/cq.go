package queue

import (
	"sync/atomic"
	"unsafe"

	"github.com/neurogrid/gpukv/pkg/shmem"
)

// CompletionQueue is the host-producer / device-consumer ring of response
// descriptors. The per-key status arrays of every slot are carved from shared
// memory so host writes are directly observable on the device side; GET
// payloads travel through the paired device-resident data bank.
type CompletionQueue struct {
	head atomic.Uint32
	tail atomic.Uint32

	queueSize  uint32
	maxNumKeys int
	msgs       []ResponseMessage
	statusBuf  *shmem.MultiBuffer
	engineBuf  *shmem.MultiBuffer
	bank       *DataBank
}

// NewCompletionQueue builds a ring of queueSize slots, each carrying
// maxNumKeys status and backend-code entries, plus a device-resident bank of
// maxValueSize bytes per slot.
func NewCompletionQueue(queueSize, maxNumKeys, maxValueSize int) (*CompletionQueue, error) {
	if queueSize < 1 || maxNumKeys < 1 || maxValueSize < 1 {
		return nil, ErrBadGeometry
	}
	statusBuf, err := shmem.AllocMultiBuffer(queueSize, maxNumKeys)
	if err != nil {
		return nil, err
	}
	engineBuf, err := shmem.AllocMultiBuffer(queueSize, maxNumKeys*4)
	if err != nil {
		statusBuf.Free()
		return nil, err
	}
	bank, err := NewDataBank(queueSize, maxValueSize, DeviceResident)
	if err != nil {
		statusBuf.Free()
		engineBuf.Free()
		return nil, err
	}
	q := &CompletionQueue{
		queueSize:  uint32(queueSize),
		maxNumKeys: maxNumKeys,
		msgs:       make([]ResponseMessage, queueSize),
		statusBuf:  statusBuf,
		engineBuf:  engineBuf,
		bank:       bank,
	}
	for i := range q.msgs {
		sb := statusBuf.HostAt(i)
		eb := engineBuf.HostAt(i)
		q.msgs[i].Status = unsafe.Slice((*Status)(unsafe.Pointer(&sb[0])), maxNumKeys)
		q.msgs[i].Engine = unsafe.Slice((*int32)(unsafe.Pointer(&eb[0])), maxNumKeys)
	}
	return q, nil
}

// Capacity returns the ring depth.
func (q *CompletionQueue) Capacity() uint32 { return q.queueSize }

// Bank returns the paired GET payload bank.
func (q *CompletionQueue) Bank() *DataBank { return q.bank }

// State snapshots the counters.
func (q *CompletionQueue) State() State {
	head := q.head.Load()
	tail := q.tail.Load()
	return State{Head: head, Tail: tail, Used: tail - head, Capacity: q.queueSize}
}

// Free unmaps the status arenas and the bank.
func (q *CompletionQueue) Free() error {
	if err := q.statusBuf.Free(); err != nil {
		return err
	}
	if err := q.engineBuf.Free(); err != nil {
		return err
	}
	return q.bank.Free()
}

// Producer returns the host-side endpoint. At most one per queue.
func (q *CompletionQueue) Producer() *CQProducer {
	return &CQProducer{q: q}
}

// Consumer returns the device-side endpoint. At most one per queue.
func (q *CompletionQueue) Consumer(copyFn CopyFunc) *CQConsumer {
	if copyFn == nil {
		copyFn = serialCopy
	}
	return &CQConsumer{q: q, copyFn: copyFn}
}

// CQProducer is the host-side endpoint.
type CQProducer struct {
	q *CompletionQueue
}

// Push reserves inc slots, invokes fill on the leading response slot (fill
// also writes GET payloads into the bank slots for the reserved counters),
// then publishes the batch with one release store of the tail. Returns false
// without invoking fill when the batch does not fit.
func (p *CQProducer) Push(inc uint32, fill func(lead uint32, res *ResponseMessage)) bool {
	tail := p.q.tail.Load()
	head := p.q.head.Load()
	if tail-head+inc-1 >= p.q.queueSize {
		return false
	}
	res := &p.q.msgs[tail%p.q.queueSize]
	res.Ticket = 0
	fill(tail, res)
	res.IncrementSize = inc
	p.q.tail.Store(tail + inc)
	return true
}

// Bank returns the paired GET payload bank.
func (p *CQProducer) Bank() *DataBank { return p.q.bank }

// CQConsumer is the device-side endpoint. Only the block's lead thread calls
// its methods; the remaining threads cooperate through copyFn.
type CQConsumer struct {
	q      *CompletionQueue
	copyFn CopyFunc
}

// peek snapshots the counters: head is owned (relaxed), tail is the
// producer's (acquire). Returns false when the ring is empty.
func (c *CQConsumer) peek() (uint32, bool) {
	head := c.q.head.Load()
	tail := c.q.tail.Load()
	if head == tail {
		return 0, false
	}
	return head, true
}

func (c *CQConsumer) advance(head, batch uint32) {
	c.q.head.Store(head + batch)
}

func (c *CQConsumer) lead(head uint32) *ResponseMessage {
	return &c.q.msgs[head%c.q.queueSize]
}

// PopGet consumes a GET batch: payloads from the device bank into dsts,
// per-key statuses (and raw backend codes, when engine is non-nil) into the
// caller's arrays. Returns false when no completion is published.
func (c *CQConsumer) PopGet(dsts [][]byte, buffSize int, status []Status, engine []int32, batch int) bool {
	head, ok := c.peek()
	if !ok {
		return false
	}
	for k := 0; k < batch; k++ {
		c.copyFn(dsts[k][:buffSize], c.q.bank.DeviceSlot(head+uint32(k))[:buffSize])
	}
	lead := c.lead(head)
	copy(status, lead.Status[:batch])
	if engine != nil {
		copy(engine, lead.Engine[:batch])
	}
	c.advance(head, uint32(batch))
	return true
}

// PopDefault consumes a status-only batch (PUT, DELETE).
func (c *CQConsumer) PopDefault(status []Status, batch int) bool {
	head, ok := c.peek()
	if !ok {
		return false
	}
	copy(status, c.lead(head).Status[:batch])
	c.advance(head, uint32(batch))
	return true
}

// PopNoResMsg consumes a batch without reading the response slot (EXIT,
// ASYNC_GET_FINALIZE).
func (c *CQConsumer) PopNoResMsg(batch int) bool {
	head, ok := c.peek()
	if !ok {
		return false
	}
	c.advance(head, uint32(batch))
	return true
}

// PopAsyncGetInit consumes an ASYNC_GET_INITIATE completion and returns its
// ticket. The ticket equals the queue's tail counter observed when the host
// published the slot, unique per block while the async GET is outstanding.
func (c *CQConsumer) PopAsyncGetInit(batch int) (uint32, bool) {
	head, ok := c.peek()
	if !ok {
		return 0, false
	}
	ticket := c.lead(head).Ticket
	c.advance(head, uint32(batch))
	return ticket, true
}
