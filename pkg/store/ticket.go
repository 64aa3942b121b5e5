package store

import (
	"sync"

	"github.com/neurogrid/gpukv/pkg/workpool"
)

// ticketTable maps a block's outstanding async GET tickets to their in-flight
// futures. A ticket is the completion queue's tail counter observed when the
// initiate response was published; counters are monotone, so a ticket is
// unique while its future is outstanding.
type ticketTable struct {
	mu       sync.Mutex
	futures  map[uint32]*workpool.Future
	capacity int
}

func newTicketTable(capacity int) *ticketTable {
	return &ticketTable{
		futures:  make(map[uint32]*workpool.Future),
		capacity: capacity,
	}
}

// full reports whether another initiate must be refused.
func (t *ticketTable) full() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.futures) >= t.capacity
}

func (t *ticketTable) put(ticket uint32, f *workpool.Future) {
	t.mu.Lock()
	t.futures[ticket] = f
	t.mu.Unlock()
}

// take removes and returns the future for ticket.
func (t *ticketTable) take(ticket uint32) (*workpool.Future, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	f, ok := t.futures[ticket]
	if ok {
		delete(t.futures, ticket)
	}
	return f, ok
}

func (t *ticketTable) outstanding() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.futures)
}
