package backend

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"

	"github.com/pierrec/lz4/v4"
	"github.com/vmihailenco/msgpack/v5"
)

// Snapshot file layout:
// [magic(4)="GKVS"] [entry_count(4)] [original_size(4)] [checksum(4)] [lz4 block]
// The lz4 block decompresses to a stream of msgpack-encoded records.

var snapshotMagic = []byte("GKVS")

var (
	ErrBadSnapshot = errors.New("backend: malformed snapshot")
)

// snapshotRecord is the wire form of one stored entry.
type snapshotRecord struct {
	Key []byte `msgpack:"k"`
	Val []byte `msgpack:"v"`
}

// Snapshot writes every entry of the engine to path. The engine stays open.
func (e *MemoryEngine) Snapshot(path string) error {
	if !e.open.Load() {
		return ErrNotOpen
	}

	var raw bytes.Buffer
	enc := msgpack.NewEncoder(&raw)
	count := uint32(0)
	for i := range e.shards {
		s := &e.shards[i]
		s.mu.RLock()
		for k, v := range s.entries {
			if err := enc.Encode(snapshotRecord{Key: []byte(k), Val: v}); err != nil {
				s.mu.RUnlock()
				return fmt.Errorf("encode record: %w", err)
			}
			count++
		}
		s.mu.RUnlock()
	}

	compressed := make([]byte, lz4.CompressBlockBound(raw.Len()))
	n, err := lz4.CompressBlock(raw.Bytes(), compressed, nil)
	if err != nil {
		return fmt.Errorf("compress snapshot: %w", err)
	}

	var out bytes.Buffer
	out.Write(snapshotMagic)
	binary.Write(&out, binary.LittleEndian, count)
	binary.Write(&out, binary.LittleEndian, uint32(raw.Len()))
	binary.Write(&out, binary.LittleEndian, crc32.ChecksumIEEE(raw.Bytes()))
	out.Write(compressed[:n])

	return os.WriteFile(path, out.Bytes(), 0o644)
}

// Restore loads the snapshot at path into the engine without clearing it
// first: restored entries overwrite same-key entries and leave the rest in
// place.
func (e *MemoryEngine) Restore(path string) error {
	if !e.open.Load() {
		return ErrNotOpen
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if len(data) < 16 || !bytes.Equal(data[:4], snapshotMagic) {
		return fmt.Errorf("%w: bad header", ErrBadSnapshot)
	}
	count := binary.LittleEndian.Uint32(data[4:8])
	originalSize := binary.LittleEndian.Uint32(data[8:12])
	wantSum := binary.LittleEndian.Uint32(data[12:16])

	if originalSize == 0 {
		return nil
	}
	raw := make([]byte, originalSize)
	n, err := lz4.UncompressBlock(data[16:], raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadSnapshot, err)
	}
	raw = raw[:n]
	if crc32.ChecksumIEEE(raw) != wantSum {
		return fmt.Errorf("%w: checksum mismatch", ErrBadSnapshot)
	}

	dec := msgpack.NewDecoder(bytes.NewReader(raw))
	for i := uint32(0); i < count; i++ {
		var rec snapshotRecord
		if err := dec.Decode(&rec); err != nil {
			if err == io.EOF {
				return fmt.Errorf("%w: truncated at record %d of %d", ErrBadSnapshot, i, count)
			}
			return fmt.Errorf("decode record %d: %w", i, err)
		}
		if code := e.Put(rec.Key, rec.Val); code != CodeOK {
			return fmt.Errorf("restore record %d: engine code %d", i, code)
		}
	}
	return nil
}
