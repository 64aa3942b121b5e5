package store

import "errors"

var (
	ErrBadConfig   = errors.New("store: invalid configuration")
	ErrNotOpen     = errors.New("store: not open")
	ErrAlreadyOpen = errors.New("store: already open")
)

// Config fixes the store geometry. All knobs are constructor parameters;
// environment variables are read only by the outermost CLI layer.
type Config struct {
	// NumBlocks is the number of device thread blocks, each paired with
	// its own submission/completion queues and host worker.
	NumBlocks int

	// BlockSize is the number of cooperating threads per block; it sizes
	// the cooperative copy group used for bulk byte transfers.
	BlockSize int

	// QueueSize is the ring depth per block, in slots.
	QueueSize int

	// MaxValueSize is the payload capacity of one data-bank slot.
	MaxValueSize int

	// MaxKeySize is the inline key capacity of one queue slot.
	MaxKeySize int

	// MaxNumKeys bounds the batch length of a single request.
	MaxNumKeys int

	// PoolWorkers sizes the shared host thread pool; 0 selects NumBlocks.
	PoolWorkers int
}

// DefaultConfig returns a geometry suitable for small workloads.
func DefaultConfig() Config {
	return Config{
		NumBlocks:    4,
		BlockSize:    32,
		QueueSize:    64,
		MaxValueSize: 4096,
		MaxKeySize:   64,
		MaxNumKeys:   16,
	}
}

// Validate checks the geometry. Violations are fatal at store construction.
func (c Config) Validate() error {
	switch {
	case c.NumBlocks < 1:
		return errors.New("store: numBlocks must be >= 1")
	case c.BlockSize < 1:
		return errors.New("store: blockSize must be >= 1")
	case c.MaxNumKeys < 1:
		return errors.New("store: maxNumKeys must be >= 1")
	case c.QueueSize < c.MaxNumKeys:
		return errors.New("store: queueSize must be >= maxNumKeys")
	case c.MaxValueSize < 1:
		return errors.New("store: maxValueSize must be >= 1")
	case c.MaxKeySize < 1:
		return errors.New("store: maxKeySize must be >= 1")
	}
	return nil
}

func (c Config) poolWorkers() int {
	if c.PoolWorkers > 0 {
		return c.PoolWorkers
	}
	return c.NumBlocks
}
