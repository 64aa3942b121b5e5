package queue

import "github.com/neurogrid/gpukv/pkg/shmem"

// Residence records which side produces into a data bank.
type Residence uint8

const (
	// HostResident banks stage PUT payloads: device produces, host consumes.
	HostResident Residence = iota
	// DeviceResident banks stage GET payloads: host produces, device consumes.
	DeviceResident
)

// DataBank is a slab of queueSize × maxValueSize payload bytes paired with a
// queue. The producer owns slot `tail mod queueSize` until it publishes; the
// consumer owns slot `head mod queueSize` until it advances.
type DataBank struct {
	buf       *shmem.MultiBuffer
	residence Residence
}

// NewDataBank maps a bank of queueSize slots of maxValueSize bytes each.
func NewDataBank(queueSize, maxValueSize int, residence Residence) (*DataBank, error) {
	if queueSize < 1 || maxValueSize < 1 {
		return nil, ErrBadGeometry
	}
	buf, err := shmem.AllocMultiBuffer(queueSize, maxValueSize)
	if err != nil {
		return nil, err
	}
	return &DataBank{buf: buf, residence: residence}, nil
}

// Residence reports which side produces into the bank.
func (b *DataBank) Residence() Residence { return b.residence }

// SlotSize returns the payload capacity of one slot.
func (b *DataBank) SlotSize() int { return b.buf.ElemSize() }

// HostSlot returns the host view of the slot for counter value c.
func (b *DataBank) HostSlot(c uint32) []byte {
	return b.buf.HostAt(int(c) % b.buf.Count())
}

// DeviceSlot returns the device view of the slot for counter value c.
func (b *DataBank) DeviceSlot(c uint32) []byte {
	return b.buf.DeviceAt(int(c) % b.buf.Count())
}

// Free unmaps the bank.
func (b *DataBank) Free() error { return b.buf.Free() }
