package queue

import (
	"sync/atomic"

	"github.com/neurogrid/gpukv/pkg/shmem"
)

// SubmissionQueue is the device-producer / host-consumer ring of request
// descriptors. Each slot owns an inline key buffer of maxNumKeys lanes of
// maxKeySize bytes, carved from shared memory; PUT payloads travel through
// the paired host-resident data bank at the same modular index.
type SubmissionQueue struct {
	head atomic.Uint32
	tail atomic.Uint32

	queueSize  uint32
	maxKeySize int
	msgs       []RequestMessage
	keys       *shmem.MultiBuffer
	bank       *DataBank
}

// NewSubmissionQueue builds a ring of queueSize slots, each with
// maxNumKeys × maxKeySize inline key bytes, and a host-resident bank of
// maxValueSize bytes per slot.
func NewSubmissionQueue(queueSize, maxKeySize, maxNumKeys, maxValueSize int) (*SubmissionQueue, error) {
	if queueSize < 1 || maxKeySize < 1 || maxNumKeys < 1 || maxValueSize < 1 {
		return nil, ErrBadGeometry
	}
	keys, err := shmem.AllocMultiBuffer(queueSize, maxKeySize*maxNumKeys)
	if err != nil {
		return nil, err
	}
	bank, err := NewDataBank(queueSize, maxValueSize, HostResident)
	if err != nil {
		keys.Free()
		return nil, err
	}
	q := &SubmissionQueue{
		queueSize:  uint32(queueSize),
		maxKeySize: maxKeySize,
		msgs:       make([]RequestMessage, queueSize),
		keys:       keys,
		bank:       bank,
	}
	for i := range q.msgs {
		q.msgs[i].Key = keys.DeviceAt(i)
	}
	return q, nil
}

// Capacity returns the ring depth.
func (q *SubmissionQueue) Capacity() uint32 { return q.queueSize }

// KeyStride returns the byte distance between key lanes within a slot.
func (q *SubmissionQueue) KeyStride() int { return q.maxKeySize }

// Bank returns the paired PUT payload bank.
func (q *SubmissionQueue) Bank() *DataBank { return q.bank }

// State snapshots the counters.
func (q *SubmissionQueue) State() State {
	head := q.head.Load()
	tail := q.tail.Load()
	return State{Head: head, Tail: tail, Used: tail - head, Capacity: q.queueSize}
}

// Free unmaps the key arena and the bank.
func (q *SubmissionQueue) Free() error {
	if err := q.keys.Free(); err != nil {
		return err
	}
	return q.bank.Free()
}

// Producer returns the device-side endpoint. copyFn parallelizes bulk byte
// copies across the block's threads; nil selects a serial copy. There must be
// at most one producer per queue.
func (q *SubmissionQueue) Producer(copyFn CopyFunc) *SQProducer {
	if copyFn == nil {
		copyFn = serialCopy
	}
	return &SQProducer{q: q, copyFn: copyFn}
}

// Consumer returns the host-side endpoint. There must be at most one consumer
// per queue.
func (q *SubmissionQueue) Consumer() *SQConsumer {
	return &SQConsumer{q: q}
}

// SQProducer is the device-side endpoint. Only the block's lead thread calls
// its methods; the remaining threads cooperate through copyFn.
type SQProducer struct {
	q      *SubmissionQueue
	copyFn CopyFunc
}

// reserve snapshots the counters and checks capacity for a batch. The tail is
// owned by the producer (relaxed); the head is the consumer's (acquire).
func (p *SQProducer) reserve(batch uint32) (uint32, bool) {
	tail := p.q.tail.Load()
	head := p.q.head.Load()
	if tail-head+batch-1 >= p.q.queueSize {
		return 0, false
	}
	return tail, true
}

// publish makes the batch visible to the consumer with release ordering.
func (p *SQProducer) publish(tail, batch uint32) {
	p.q.tail.Store(tail + batch)
}

func (p *SQProducer) slot(c uint32) *RequestMessage {
	return &p.q.msgs[c%p.q.queueSize]
}

// fillSlots writes one descriptor per key, one key per slot. Every slot
// carries the command, request id, sizes and its inline key; only the leading
// slot carries the batch lengths (zero on trailing slots).
func (p *SQProducer) fillSlots(cmd Command, reqID uint32, tail uint32, keys [][]byte, keySize, buffSize int) {
	batch := uint32(len(keys))
	for k, key := range keys {
		msg := p.slot(tail + uint32(k))
		msg.Cmd = cmd
		msg.RequestID = reqID
		msg.KeySize = uint32(keySize)
		msg.BuffSize = uint32(buffSize)
		msg.IncrementSize = 0
		msg.NumKeys = 0
		msg.Ticket = 0
		msg.UserBuffs = nil
		msg.UserStatus = nil
		p.copyFn(msg.Key[:keySize], key[:keySize])
	}
	lead := p.slot(tail)
	lead.IncrementSize = batch
	lead.NumKeys = batch
}

// PushPut publishes a PUT or MULTI_PUT batch: descriptors and keys into the
// ring, values into the paired host bank at the same modular indices.
// Returns false without mutating state when the batch does not fit.
func (p *SQProducer) PushPut(cmd Command, reqID uint32, keys, vals [][]byte, keySize, buffSize int) bool {
	tail, ok := p.reserve(uint32(len(keys)))
	if !ok {
		return false
	}
	p.fillSlots(cmd, reqID, tail, keys, keySize, buffSize)
	for k, val := range vals {
		p.copyFn(p.q.bank.DeviceSlot(tail+uint32(k))[:buffSize], val[:buffSize])
	}
	p.publish(tail, uint32(len(keys)))
	return true
}

// PushGet publishes a GET or MULTI_GET batch.
func (p *SQProducer) PushGet(cmd Command, reqID uint32, keys [][]byte, keySize, buffSize int) bool {
	tail, ok := p.reserve(uint32(len(keys)))
	if !ok {
		return false
	}
	p.fillSlots(cmd, reqID, tail, keys, keySize, buffSize)
	p.publish(tail, uint32(len(keys)))
	return true
}

// PushAsyncGetInitiate publishes an ASYNC_GET_INITIATE batch in a single
// slot: the whole key batch packs into the leading slot's key lanes, and the
// caller's destination buffers ride along for the host backend to fill
// directly. Values never touch the data bank, so the batch length is not
// bounded by the ring depth.
func (p *SQProducer) PushAsyncGetInitiate(reqID uint32, keys [][]byte, keySize int, userBuffs *shmem.MultiBuffer, buffSize int, userStatus *shmem.MultiBuffer) bool {
	tail, ok := p.reserve(1)
	if !ok {
		return false
	}
	msg := p.slot(tail)
	msg.Cmd = CmdAsyncGetInitiate
	msg.RequestID = reqID
	msg.IncrementSize = 1
	msg.NumKeys = uint32(len(keys))
	msg.KeySize = uint32(keySize)
	msg.BuffSize = uint32(buffSize)
	msg.Ticket = 0
	msg.UserBuffs = userBuffs
	msg.UserStatus = userStatus
	for k, key := range keys {
		p.copyFn(msg.Key[k*p.q.maxKeySize:k*p.q.maxKeySize+keySize], key[:keySize])
	}
	p.publish(tail, 1)
	return true
}

// PushDelete publishes a DELETE batch.
func (p *SQProducer) PushDelete(reqID uint32, keys [][]byte, keySize int) bool {
	tail, ok := p.reserve(uint32(len(keys)))
	if !ok {
		return false
	}
	p.fillSlots(CmdDelete, reqID, tail, keys, keySize, 0)
	p.publish(tail, uint32(len(keys)))
	return true
}

// PushNoData publishes a single payload-free slot (EXIT, ASYNC_GET_FINALIZE).
func (p *SQProducer) PushNoData(cmd Command, reqID, ticket uint32) bool {
	tail, ok := p.reserve(1)
	if !ok {
		return false
	}
	msg := p.slot(tail)
	msg.Cmd = cmd
	msg.RequestID = reqID
	msg.IncrementSize = 1
	msg.NumKeys = 0
	msg.KeySize = 0
	msg.BuffSize = 0
	msg.Ticket = ticket
	msg.UserBuffs = nil
	msg.UserStatus = nil
	p.publish(tail, 1)
	return true
}

// SQConsumer is the host-side endpoint.
type SQConsumer struct {
	q *SubmissionQueue
}

// Pop claims the next published batch. It returns the leading counter value
// and advances head by the batch's incrementSize with release ordering.
// Returns false when the ring is empty.
func (c *SQConsumer) Pop() (uint32, bool) {
	head := c.q.head.Load()
	tail := c.q.tail.Load()
	if head == tail {
		return 0, false
	}
	inc := c.q.msgs[head%c.q.queueSize].IncrementSize
	if inc == 0 {
		inc = 1
	}
	c.q.head.Store(head + inc)
	return head, true
}

// Slot returns the descriptor for counter value c. The slot stays readable
// after Pop because the block cannot reuse it before consuming the matching
// completion.
func (c *SQConsumer) Slot(counter uint32) *RequestMessage {
	return &c.q.msgs[counter%c.q.queueSize]
}

// KeyStride returns the byte distance between key lanes within a slot.
func (c *SQConsumer) KeyStride() int { return c.q.maxKeySize }

// Bank returns the paired PUT payload bank.
func (c *SQConsumer) Bank() *DataBank { return c.q.bank }
