// Package nodeindex implements the middle layer's on-disk flat-node
// backend: node locations memory-mapped from a packed array file,
// indexed by positive node ID.
package nodeindex

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/edsrzf/mmap-go"
)

const (
	// Each node record: lon (int32) + lat (int32) + presence byte,
	// padded to keep records aligned.
	entrySize   = 16
	presentByte = 0x01
)

// MmapIndex is a memory-mapped node coordinate index. Coordinates are
// stored at offset = nodeID * entrySize, giving O(1) lookup for any
// positive node ID; negative IDs are unsupported in this mode.
type MmapIndex struct {
	file *os.File
	data mmap.MMap
	size int64
}

// NewMmapIndex creates (or truncates) a flat node file sized for
// [0, capacityIDs) and opens it read-write.
func NewMmapIndex(path string, capacityIDs int64) (*MmapIndex, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("nodeindex: create %s: %w", path, err)
	}

	size := capacityIDs * entrySize
	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, fmt.Errorf("nodeindex: truncate: %w", err)
	}

	data, err := mmap.Map(f, mmap.RDWR, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("nodeindex: mmap: %w", err)
	}

	return &MmapIndex{file: f, data: data, size: size}, nil
}

// OpenMmapIndex opens an existing flat node file read-only.
func OpenMmapIndex(path string) (*MmapIndex, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("nodeindex: open %s: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("nodeindex: stat: %w", err)
	}

	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("nodeindex: mmap: %w", err)
	}

	return &MmapIndex{file: f, data: data, size: info.Size()}, nil
}

func (m *MmapIndex) offset(nodeID int64) (int64, bool) {
	if nodeID < 0 {
		return 0, false
	}
	off := nodeID * entrySize
	if off+entrySize > m.size {
		return 0, false
	}
	return off, true
}

// PutNode stores a node's scaled-integer (lon, lat) — scaled by the
// caller via middle.ScaleCoord. Returns an error if nodeID is negative
// or exceeds the file's configured capacity.
func (m *MmapIndex) PutNode(nodeID int64, lon, lat int32) error {
	off, ok := m.offset(nodeID)
	if !ok {
		return fmt.Errorf("nodeindex: node %d out of range or negative", nodeID)
	}
	binary.LittleEndian.PutUint32(m.data[off:], uint32(lon))
	binary.LittleEndian.PutUint32(m.data[off+4:], uint32(lat))
	m.data[off+8] = presentByte
	return nil
}

// GetNode retrieves a node's scaled-integer (lon, lat); ok is false for
// an id never written or out of range (a "gap").
func (m *MmapIndex) GetNode(nodeID int64) (lon, lat int32, ok bool) {
	off, inRange := m.offset(nodeID)
	if !inRange || m.data[off+8] != presentByte {
		return 0, 0, false
	}
	lon = int32(binary.LittleEndian.Uint32(m.data[off:]))
	lat = int32(binary.LittleEndian.Uint32(m.data[off+4:]))
	return lon, lat, true
}

// Sync flushes mapped pages to disk.
func (m *MmapIndex) Sync() error {
	return m.data.Flush()
}

// Close unmaps and closes the backing file.
func (m *MmapIndex) Close() error {
	if err := m.data.Unmap(); err != nil {
		m.file.Close()
		return fmt.Errorf("nodeindex: unmap: %w", err)
	}
	return m.file.Close()
}
