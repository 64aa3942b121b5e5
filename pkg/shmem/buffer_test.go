package shmem

import (
	"bytes"
	"testing"
)

func TestMultiBuffer_AliasedViews(t *testing.T) {
	buf, err := AllocMultiBuffer(4, 16)
	if err != nil {
		t.Fatalf("AllocMultiBuffer failed: %v", err)
	}
	defer buf.Free()

	// Write through the host view, read through the device view.
	host := buf.HostAt(2)
	for i := range host {
		host[i] = byte(i + 1)
	}

	device := buf.DeviceAt(2)
	if !bytes.Equal(host, device) {
		t.Errorf("device view differs from host view: %v vs %v", device, host)
	}

	// Neighboring elements stay untouched.
	for _, i := range []int{0, 1, 3} {
		for _, b := range buf.HostAt(i) {
			if b != 0 {
				t.Fatalf("element %d dirtied by write to element 2", i)
			}
		}
	}
}

func TestMultiBuffer_ElementAddressing(t *testing.T) {
	buf, err := AllocMultiBuffer(8, 4)
	if err != nil {
		t.Fatalf("AllocMultiBuffer failed: %v", err)
	}
	defer buf.Free()

	if buf.Count() != 8 || buf.ElemSize() != 4 {
		t.Fatalf("geometry mismatch: count=%d elemSize=%d", buf.Count(), buf.ElemSize())
	}

	for i := 0; i < buf.Count(); i++ {
		buf.HostAt(i)[0] = byte(i)
	}
	whole := buf.DeviceBytes()
	for i := 0; i < buf.Count(); i++ {
		if whole[i*4] != byte(i) {
			t.Errorf("element %d not at expected offset", i)
		}
	}
}

func TestAllocMultiBuffer_InvalidLayout(t *testing.T) {
	cases := []struct {
		name            string
		count, elemSize int
	}{
		{"zero count", 0, 16},
		{"zero elem", 4, 0},
		{"negative count", -1, 16},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := AllocMultiBuffer(tc.count, tc.elemSize); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestSingleBuffer(t *testing.T) {
	buf, err := AllocSingleBuffer(64)
	if err != nil {
		t.Fatalf("AllocSingleBuffer failed: %v", err)
	}

	if buf.Size() != 64 {
		t.Fatalf("size = %d, want 64", buf.Size())
	}

	copy(buf.Host(), []byte("shared"))
	if !bytes.Equal(buf.Device()[:6], []byte("shared")) {
		t.Error("device view does not alias host view")
	}

	if err := buf.Free(); err != nil {
		t.Fatalf("Free failed: %v", err)
	}
	if err := buf.Free(); err != ErrBufferFreed {
		t.Errorf("double free: got %v, want ErrBufferFreed", err)
	}
}
