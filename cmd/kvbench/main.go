// Package main drives the GPU-initiated key-value store with a synthetic
// workload and reports throughput.
//
// Usage:
//
//	# 4 blocks, memory engine, 10k batched put/get pairs per block
//	kvbench -blocks 4 -ops 10000
//
//	# persistent engine under an explicit identity
//	kvbench -engine sqlite -db bench-run -ops 1000
//
//	# async GET pipeline instead of synchronous batches
//	kvbench -async -ops 1000
//
// QUEUE_SIZE and DB_IDENTIFY are honored as fallbacks for -queue-size and
// -db; all other geometry comes from flags.
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sugawarayuuta/sonnet"

	"github.com/neurogrid/gpukv/pkg/backend"
	"github.com/neurogrid/gpukv/pkg/queue"
	"github.com/neurogrid/gpukv/pkg/shmem"
	"github.com/neurogrid/gpukv/pkg/store"
)

// Options holds CLI configuration.
type Options struct {
	Blocks    int
	BlockSize int
	QueueSize int
	ValueSize int
	KeySize   int
	MaxKeys   int
	Ops       int
	Batch     int
	Engine    string
	Identity  string
	Async     bool
}

// Result is the JSON output format.
type Result struct {
	StoreID     string  `json:"store_id"`
	Engine      string  `json:"engine"`
	Blocks      int     `json:"blocks"`
	QueueSize   int     `json:"queue_size"`
	Batch       int     `json:"batch"`
	Ops         int64   `json:"total_ops"`
	Keys        int64   `json:"total_keys"`
	ElapsedMs   float64 `json:"elapsed_ms"`
	KeysPerSec  float64 `json:"keys_per_sec"`
	Failures    int64   `json:"failures"`
	VerifyBad   int64   `json:"verify_mismatches"`
	AsyncDepth  int     `json:"async_depth,omitempty"`
	AsyncKeys   int64   `json:"async_keys,omitempty"`
}

func main() {
	opts := parseFlags()

	engine, err := buildEngine(opts)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}

	cfg := store.Config{
		NumBlocks:    opts.Blocks,
		BlockSize:    opts.BlockSize,
		QueueSize:    opts.QueueSize,
		MaxValueSize: opts.ValueSize,
		MaxKeySize:   opts.KeySize,
		MaxNumKeys:   opts.MaxKeys,
	}
	s, err := store.New(cfg, engine)
	if err != nil {
		log.Fatalf("Error: construct store: %v", err)
	}
	if err := s.OpenDB(); err != nil {
		log.Fatalf("Error: open store: %v", err)
	}

	start := time.Now()
	var mismatches int64
	if opts.Async {
		mismatches = runAsync(s, opts)
	} else {
		mismatches = runSync(s, opts)
	}
	elapsed := time.Since(start)

	stats := s.Stats()
	if err := s.Close(); err != nil {
		log.Fatalf("Error: close store: %v", err)
	}

	keys := stats.Puts + stats.Gets + stats.Deletes
	res := Result{
		StoreID:    s.ID(),
		Engine:     opts.Engine,
		Blocks:     opts.Blocks,
		QueueSize:  opts.QueueSize,
		Batch:      opts.Batch,
		Ops:        int64(opts.Ops * opts.Blocks),
		Keys:       keys,
		ElapsedMs:  float64(elapsed.Microseconds()) / 1000.0,
		KeysPerSec: float64(keys) / elapsed.Seconds(),
		Failures:   stats.Failures,
		VerifyBad:  mismatches,
	}
	if opts.Async {
		res.AsyncDepth = opts.Ops
		if res.AsyncDepth > opts.QueueSize {
			res.AsyncDepth = opts.QueueSize
		}
		res.AsyncKeys = stats.AsyncInitiates * int64(opts.Batch)
	}

	out, err := sonnet.Marshal(res)
	if err != nil {
		log.Fatalf("Error: encode result: %v", err)
	}
	fmt.Println(string(out))
}

func parseFlags() Options {
	opts := Options{}

	flag.IntVar(&opts.Blocks, "blocks", 4, "Number of device thread blocks")
	flag.IntVar(&opts.BlockSize, "block-size", 32, "Threads per block (sizes the copy group)")
	flag.IntVar(&opts.QueueSize, "queue-size", 0, "Ring depth per block (0: $QUEUE_SIZE, then 64)")
	flag.IntVar(&opts.ValueSize, "value-size", 4096, "Value payload bytes")
	flag.IntVar(&opts.KeySize, "key-size", 16, "Key bytes")
	flag.IntVar(&opts.MaxKeys, "max-keys", 16, "Maximum keys per batch")
	flag.IntVar(&opts.Ops, "ops", 1000, "Batched operations per block")
	flag.IntVar(&opts.Batch, "batch", 8, "Keys per batch")
	flag.StringVar(&opts.Engine, "engine", "memory", "Engine: memory or sqlite")
	flag.StringVar(&opts.Identity, "db", "", "Persistent engine identity (default: $DB_IDENTIFY, then random)")
	flag.BoolVar(&opts.Async, "async", false, "Drive the async GET pipeline")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "GPU-initiated KV store benchmark\n\n")
		fmt.Fprintf(os.Stderr, "Usage:\n  %s [options]\n\nOptions:\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if opts.QueueSize == 0 {
		opts.QueueSize = 64
		if env := os.Getenv("QUEUE_SIZE"); env != "" {
			qs, err := strconv.Atoi(env)
			if err != nil || qs < 1 {
				log.Fatalf("Error: bad QUEUE_SIZE %q", env)
			}
			opts.QueueSize = qs
		}
	}
	if opts.Batch > opts.MaxKeys {
		log.Fatalf("Error: -batch %d exceeds -max-keys %d", opts.Batch, opts.MaxKeys)
	}
	if opts.KeySize < 12 || opts.ValueSize < 12 {
		log.Fatalf("Error: -key-size and -value-size must be >= 12")
	}
	return opts
}

func buildEngine(opts Options) (backend.Engine, error) {
	switch opts.Engine {
	case "memory":
		return backend.NewMemoryEngine(), nil
	case "sqlite":
		identity := opts.Identity
		if identity == "" {
			identity = os.Getenv("DB_IDENTIFY")
		}
		if identity == "" {
			identity = "kvbench-" + uuid.NewString()
		}
		return backend.NewSQLiteEngine(identity), nil
	default:
		return nil, fmt.Errorf("unknown engine %q", opts.Engine)
	}
}

// benchKey derives a distinct key for (block, op, lane).
func benchKey(opts Options, bi, op, lane int) []byte {
	key := make([]byte, opts.KeySize)
	binary.LittleEndian.PutUint32(key, uint32(bi))
	binary.LittleEndian.PutUint32(key[4:], uint32(op))
	binary.LittleEndian.PutUint32(key[8:], uint32(lane))
	return key
}

func benchVal(opts Options, bi, op, lane int) []byte {
	val := make([]byte, opts.ValueSize)
	binary.LittleEndian.PutUint32(val, uint32(bi))
	binary.LittleEndian.PutUint32(val[4:], uint32(op))
	binary.LittleEndian.PutUint32(val[8:], uint32(lane))
	return val
}

// runSync drives every block with batched put/get pairs and verifies the
// read-back bytes. Returns the mismatch count.
func runSync(s *store.KVStore, opts Options) int64 {
	var mismatches int64
	var mu sync.Mutex
	var wg sync.WaitGroup

	for bi := 0; bi < opts.Blocks; bi++ {
		wg.Add(1)
		go func(bi int) {
			defer wg.Done()
			b := s.Block(bi)
			status := make([]queue.Status, opts.Batch)
			dsts := make([][]byte, opts.Batch)
			for i := range dsts {
				dsts[i] = make([]byte, opts.ValueSize)
			}
			bad := int64(0)
			for op := 0; op < opts.Ops; op++ {
				keys := make([][]byte, opts.Batch)
				vals := make([][]byte, opts.Batch)
				for k := 0; k < opts.Batch; k++ {
					keys[k] = benchKey(opts, bi, op, k)
					vals[k] = benchVal(opts, bi, op, k)
				}
				b.MultiPut(keys, vals, status)
				b.MultiGet(keys, dsts, status)
				for k := 0; k < opts.Batch; k++ {
					if status[k] != queue.StatusSuccess ||
						binary.LittleEndian.Uint32(dsts[k][4:]) != uint32(op) {
						bad++
					}
				}
			}
			mu.Lock()
			mismatches += bad
			mu.Unlock()
		}(bi)
	}
	wg.Wait()
	return mismatches
}

// runAsync seeds each block's keys, then issues every initiate before the
// first finalize, exercising the full pipeline depth.
func runAsync(s *store.KVStore, opts Options) int64 {
	var mismatches int64
	var mu sync.Mutex
	var wg sync.WaitGroup

	for bi := 0; bi < opts.Blocks; bi++ {
		wg.Add(1)
		go func(bi int) {
			defer wg.Done()
			b := s.Block(bi)
			status := make([]queue.Status, opts.Batch)
			keys := make([][]byte, opts.Batch)
			vals := make([][]byte, opts.Batch)

			depth := opts.Ops
			if depth > opts.QueueSize {
				depth = opts.QueueSize
			}
			tickets := make([]uint32, depth)
			valBufs := make([]*shmem.MultiBuffer, depth)
			stBufs := make([]*shmem.MultiBuffer, depth)

			bad := int64(0)
			for d := 0; d < depth; d++ {
				for k := 0; k < opts.Batch; k++ {
					keys[k] = benchKey(opts, bi, d, k)
					vals[k] = benchVal(opts, bi, d, k)
				}
				b.MultiPut(keys, vals, status)

				var err error
				if valBufs[d], err = shmem.AllocMultiBuffer(opts.Batch, opts.ValueSize); err != nil {
					log.Fatalf("Error: alloc value buffer: %v", err)
				}
				if stBufs[d], err = shmem.AllocMultiBuffer(opts.Batch, 1); err != nil {
					log.Fatalf("Error: alloc status buffer: %v", err)
				}
				initKeys := make([][]byte, opts.Batch)
				for k := range initKeys {
					initKeys[k] = benchKey(opts, bi, d, k)
				}
				tickets[d] = b.AsyncGetInitiate(initKeys, valBufs[d], opts.ValueSize, stBufs[d])
			}
			for d := 0; d < depth; d++ {
				b.AsyncGetFinalize(tickets[d])
				for k := 0; k < opts.Batch; k++ {
					if store.AsyncStatus(stBufs[d], k) != queue.StatusSuccess ||
						binary.LittleEndian.Uint32(valBufs[d].DeviceAt(k)[4:]) != uint32(d) {
						bad++
					}
				}
				valBufs[d].Free()
				stBufs[d].Free()
			}
			mu.Lock()
			mismatches += bad
			mu.Unlock()
		}(bi)
	}
	wg.Wait()
	return mismatches
}
