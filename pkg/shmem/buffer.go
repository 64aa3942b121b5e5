// Package shmem provides buffers mapped into both the host and device
// address spaces.
//
// A buffer is a single anonymous shared mapping exposing two views of the
// same bytes: a host view and a device view. Writes through either view
// become visible to the other side once the caller issues the appropriate
// release/acquire pair on its queue counters; the mapping itself carries no
// synchronization.
package shmem

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

var (
	ErrBufferFreed   = errors.New("shmem: buffer freed")
	ErrInvalidLayout = errors.New("shmem: invalid buffer layout")
)

// MultiBuffer is a contiguous array of count elements of elemSize bytes,
// addressable element-wise from either side.
type MultiBuffer struct {
	mem      []byte
	count    int
	elemSize int
}

// AllocMultiBuffer maps count × elemSize bytes shared between host and device.
func AllocMultiBuffer(count, elemSize int) (*MultiBuffer, error) {
	if count < 1 || elemSize < 1 {
		return nil, ErrInvalidLayout
	}
	mem, err := mapShared(count * elemSize)
	if err != nil {
		return nil, fmt.Errorf("alloc multi buffer (%d x %d): %w", count, elemSize, err)
	}
	return &MultiBuffer{mem: mem, count: count, elemSize: elemSize}, nil
}

// Count returns the number of elements.
func (b *MultiBuffer) Count() int { return b.count }

// ElemSize returns the size of one element in bytes.
func (b *MultiBuffer) ElemSize() int { return b.elemSize }

// HostAt returns the host view of the i-th element.
func (b *MultiBuffer) HostAt(i int) []byte {
	return b.mem[i*b.elemSize : (i+1)*b.elemSize : (i+1)*b.elemSize]
}

// DeviceAt returns the device view of the i-th element. Both views alias
// the same mapping.
func (b *MultiBuffer) DeviceAt(i int) []byte {
	return b.HostAt(i)
}

// HostBytes returns the host view of the whole buffer.
func (b *MultiBuffer) HostBytes() []byte { return b.mem }

// DeviceBytes returns the device view of the whole buffer.
func (b *MultiBuffer) DeviceBytes() []byte { return b.mem }

// Free unmaps the buffer. Views obtained earlier must not be used afterwards.
func (b *MultiBuffer) Free() error {
	if b.mem == nil {
		return ErrBufferFreed
	}
	err := unix.Munmap(b.mem)
	b.mem = nil
	return err
}

// SingleBuffer is a single shared allocation of raw bytes.
type SingleBuffer struct {
	mem []byte
}

// AllocSingleBuffer maps size bytes shared between host and device.
func AllocSingleBuffer(size int) (*SingleBuffer, error) {
	if size < 1 {
		return nil, ErrInvalidLayout
	}
	mem, err := mapShared(size)
	if err != nil {
		return nil, fmt.Errorf("alloc single buffer (%d bytes): %w", size, err)
	}
	return &SingleBuffer{mem: mem}, nil
}

// Size returns the buffer size in bytes.
func (b *SingleBuffer) Size() int { return len(b.mem) }

// Host returns the host view of the buffer.
func (b *SingleBuffer) Host() []byte { return b.mem }

// Device returns the device view of the buffer.
func (b *SingleBuffer) Device() []byte { return b.mem }

// Free unmaps the buffer.
func (b *SingleBuffer) Free() error {
	if b.mem == nil {
		return ErrBufferFreed
	}
	err := unix.Munmap(b.mem)
	b.mem = nil
	return err
}

// mapShared creates an anonymous shared mapping of at least size bytes.
func mapShared(size int) ([]byte, error) {
	mem, err := unix.Mmap(-1, 0, size,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_SHARED|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("mmap: %w", err)
	}
	return mem[:size], nil
}
