// Package store implements the GPU-initiated key-value access layer: a
// per-block request/response fabric between device thread blocks and host
// workers, a dispatcher translating dequeued commands into engine calls, and
// an asynchronous GET pipeline driven by tickets and host-side futures.
package store

import (
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/neurogrid/gpukv/pkg/backend"
	"github.com/neurogrid/gpukv/pkg/queue"
	"github.com/neurogrid/gpukv/pkg/workpool"
)

// KVStore owns the queues, data banks, per-block resources, host workers and
// ticket tables for a fixed geometry. The engine handle is injected at
// construction and must be safe for concurrent calls from the thread pool.
type KVStore struct {
	cfg    Config
	id     string
	engine backend.Engine

	sqs     []*queue.SubmissionQueue
	cqs     []*queue.CompletionQueue
	blocks  []*BlockHandle
	tickets []*ticketTable

	pool    *workpool.Pool
	workers sync.WaitGroup

	mu     sync.Mutex
	opened bool

	stats storeCounters
}

type storeCounters struct {
	puts           atomic.Int64
	gets           atomic.Int64
	deletes        atomic.Int64
	asyncInitiates atomic.Int64
	asyncFinalizes atomic.Int64
	failures       atomic.Int64
}

// Stats is a point-in-time snapshot of store activity.
type Stats struct {
	Puts             int64
	Gets             int64
	Deletes          int64
	AsyncInitiates   int64
	AsyncFinalizes   int64
	Failures         int64
	OutstandingAsync int
}

// New allocates all queues, banks and per-block resources for the given
// geometry. The store is not serving until OpenDB.
func New(cfg Config, engine backend.Engine) (*KVStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if engine == nil {
		return nil, fmt.Errorf("%w: nil engine", ErrBadConfig)
	}

	s := &KVStore{
		cfg:     cfg,
		id:      uuid.NewString(),
		engine:  engine,
		sqs:     make([]*queue.SubmissionQueue, cfg.NumBlocks),
		cqs:     make([]*queue.CompletionQueue, cfg.NumBlocks),
		blocks:  make([]*BlockHandle, cfg.NumBlocks),
		tickets: make([]*ticketTable, cfg.NumBlocks),
	}

	copier := newBlockCopier(cfg.BlockSize)
	for i := 0; i < cfg.NumBlocks; i++ {
		sq, err := queue.NewSubmissionQueue(cfg.QueueSize, cfg.MaxKeySize, cfg.MaxNumKeys, cfg.MaxValueSize)
		if err != nil {
			s.freeQueues()
			return nil, fmt.Errorf("block %d submission queue: %w", i, err)
		}
		s.sqs[i] = sq
		cq, err := queue.NewCompletionQueue(cfg.QueueSize, cfg.MaxNumKeys, cfg.MaxValueSize)
		if err != nil {
			s.freeQueues()
			return nil, fmt.Errorf("block %d completion queue: %w", i, err)
		}
		s.cqs[i] = cq
		s.tickets[i] = newTicketTable(cfg.QueueSize)
		s.blocks[i] = &BlockHandle{
			store: s,
			index: i,
			sq:    sq.Producer(copier),
			cq:    cq.Consumer(copier),
			res:   newBlockResources(cfg.MaxNumKeys),
		}
	}
	return s, nil
}

// ID returns the store instance identity.
func (s *KVStore) ID() string { return s.id }

// Config returns the store geometry.
func (s *KVStore) Config() Config { return s.cfg }

// Block returns the device-side handle for block i. The handle is the only
// producer to block i's submission queue and the only consumer of its
// completion queue.
func (s *KVStore) Block(i int) *BlockHandle { return s.blocks[i] }

// OpenDB opens the engine and starts one host worker per block plus the
// shared thread pool.
func (s *KVStore) OpenDB() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.opened {
		return ErrAlreadyOpen
	}
	if err := s.engine.Open(); err != nil {
		return fmt.Errorf("open engine: %w", err)
	}
	s.pool = workpool.New(s.cfg.poolWorkers())
	s.workers.Add(s.cfg.NumBlocks)
	for i := 0; i < s.cfg.NumBlocks; i++ {
		go s.serveBlock(i)
	}
	s.opened = true
	log.Printf("store %s: opened with %d blocks, queue depth %d", s.id, s.cfg.NumBlocks, s.cfg.QueueSize)
	return nil
}

// CloseDB broadcasts EXIT to every block, joins the workers, stops the pool
// and closes the engine. A second CloseDB without a matching OpenDB returns
// ErrNotOpen.
func (s *KVStore) CloseDB() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.opened {
		return ErrNotOpen
	}
	for _, b := range s.blocks {
		b.Exit()
	}
	s.workers.Wait()
	s.pool.Close()
	s.opened = false

	if err := s.engine.Close(); err != nil {
		return fmt.Errorf("close engine: %w", err)
	}
	log.Printf("store %s: closed", s.id)
	return nil
}

// DeleteDB removes the engine's persisted state.
func (s *KVStore) DeleteDB() error {
	return s.engine.Destroy()
}

// Close tears the store down: CloseDB if still open, then all shared
// mappings. The store is unusable afterwards.
func (s *KVStore) Close() error {
	if err := s.CloseDB(); err != nil && err != ErrNotOpen {
		return err
	}
	s.freeQueues()
	return nil
}

func (s *KVStore) freeQueues() {
	for _, q := range s.sqs {
		if q != nil {
			q.Free()
		}
	}
	for _, q := range s.cqs {
		if q != nil {
			q.Free()
		}
	}
}

// Stats returns a snapshot of store activity.
func (s *KVStore) Stats() Stats {
	outstanding := 0
	for _, t := range s.tickets {
		outstanding += t.outstanding()
	}
	return Stats{
		Puts:             s.stats.puts.Load(),
		Gets:             s.stats.gets.Load(),
		Deletes:          s.stats.deletes.Load(),
		AsyncInitiates:   s.stats.asyncInitiates.Load(),
		AsyncFinalizes:   s.stats.asyncFinalizes.Load(),
		Failures:         s.stats.failures.Load(),
		OutstandingAsync: outstanding,
	}
}

// QueueStates snapshots every queue's counters, submission then completion,
// for diagnostics.
func (s *KVStore) QueueStates() ([]queue.State, []queue.State) {
	sq := make([]queue.State, len(s.sqs))
	cq := make([]queue.State, len(s.cqs))
	for i := range s.sqs {
		sq[i] = s.sqs[i].State()
		cq[i] = s.cqs[i].State()
	}
	return sq, cq
}
