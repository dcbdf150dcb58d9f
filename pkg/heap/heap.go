package heap

import (
	"encoding/binary"
	"fmt"
	"os"
	"sync"

	"github.com/bobboyms/multidex/pkg/types"
)

// HeaderSize is the width of the file header: record_count as INT32.
const HeaderSize = 4

// Tombstone is the byte written at a slot's first position on delete.
const Tombstone = 0xFF

// Record is one fixed-width row, one Value per column in table order.
type Record []types.Value

// Manager is an append-only fixed-slot heap file, per §4.1: a header holding
// the slot count followed by record_size-byte slots, deletion by tombstone
// rather than removal.
type Manager struct {
	path       string
	columns    []*types.Column
	recordSize int
	file       *os.File
	count      int32
	mu         sync.RWMutex
}

// Open creates the heap file at path if absent, or loads its header if it
// already exists.
func Open(path string, columns []*types.Column) (*Manager, error) {
	recordSize := 0
	for _, c := range columns {
		recordSize += c.GetSize()
	}

	m := &Manager{path: path, columns: columns, recordSize: recordSize}

	_, statErr := os.Stat(path)
	if os.IsNotExist(statErr) {
		f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0666)
		if err != nil {
			return nil, fmt.Errorf("create heap file %s: %w", path, err)
		}
		m.file = f
		if err := m.writeHeader(); err != nil {
			f.Close()
			return nil, err
		}
		return m, nil
	}
	if statErr != nil {
		return nil, statErr
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0666)
	if err != nil {
		return nil, fmt.Errorf("open heap file %s: %w", path, err)
	}
	m.file = f
	if err := m.loadHeader(); err != nil {
		f.Close()
		return nil, err
	}
	return m, nil
}

func (m *Manager) writeHeader() error {
	if _, err := m.file.Seek(0, 0); err != nil {
		return err
	}
	return binary.Write(m.file, binary.LittleEndian, m.count)
}

func (m *Manager) loadHeader() error {
	info, err := m.file.Stat()
	if err != nil {
		return err
	}
	if info.Size() < HeaderSize {
		m.count = 0
		return m.writeHeader()
	}
	if _, err := m.file.Seek(0, 0); err != nil {
		return err
	}
	return binary.Read(m.file, binary.LittleEndian, &m.count)
}

func (m *Manager) slotOffset(slot int32) int64 {
	return int64(HeaderSize) + int64(slot)*int64(m.recordSize)
}

// Insert serializes record into the next free slot and returns its slot
// number.
func (m *Manager) Insert(record Record) (int32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	buf, err := m.serialize(record)
	if err != nil {
		return 0, err
	}
	slot := m.count
	if _, err := m.file.WriteAt(buf, m.slotOffset(slot)); err != nil {
		return 0, err
	}
	m.count++
	if err := m.writeHeader(); err != nil {
		return 0, err
	}
	return slot, nil
}

// Read returns the record at slot, or a nil Record when the slot is out of
// range or tombstoned.
func (m *Manager) Read(slot int32) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.read(slot)
}

func (m *Manager) read(slot int32) (Record, error) {
	if slot < 0 || slot >= m.count {
		return nil, nil
	}
	buf := make([]byte, m.recordSize)
	if _, err := m.file.ReadAt(buf, m.slotOffset(slot)); err != nil {
		return nil, err
	}
	if buf[0] == Tombstone {
		return nil, nil
	}
	return m.deserialize(buf)
}

// Update rewrites the record at slot in place.
func (m *Manager) Update(slot int32, record Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if slot < 0 || slot >= m.count {
		return fmt.Errorf("heap: slot %d out of range", slot)
	}
	buf, err := m.serialize(record)
	if err != nil {
		return err
	}
	_, err = m.file.WriteAt(buf, m.slotOffset(slot))
	return err
}

// Delete tombstones slot by overwriting its first byte. Idempotent; reports
// whether the slot was previously live.
func (m *Manager) Delete(slot int32) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if slot < 0 || slot >= m.count {
		return false, fmt.Errorf("heap: slot %d out of range", slot)
	}
	wasLive, err := func() (bool, error) {
		rec, err := m.read(slot)
		return rec != nil, err
	}()
	if err != nil {
		return false, err
	}
	if _, err := m.file.WriteAt([]byte{Tombstone}, m.slotOffset(slot)); err != nil {
		return false, err
	}
	return wasLive, nil
}

// IsDeleted reports whether slot carries a tombstone. Out-of-range slots
// count as deleted.
func (m *Manager) IsDeleted(slot int32) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if slot < 0 || slot >= m.count {
		return true, nil
	}
	b := make([]byte, 1)
	if _, err := m.file.ReadAt(b, m.slotOffset(slot)); err != nil {
		return false, err
	}
	return b[0] == Tombstone, nil
}

// ScanAll returns every live record in slot order, paired with its slot.
func (m *Manager) ScanAll() ([]int32, []Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var slots []int32
	var records []Record
	for s := int32(0); s < m.count; s++ {
		rec, err := m.read(s)
		if err != nil {
			return nil, nil, err
		}
		if rec != nil {
			slots = append(slots, s)
			records = append(records, rec)
		}
	}
	return slots, records, nil
}

// Count returns the total number of slots ever allocated, tombstoned or not.
func (m *Manager) Count() int32 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.count
}

// ActiveCount returns the number of live (non-tombstoned) slots.
func (m *Manager) ActiveCount() (int32, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var n int32
	for s := int32(0); s < m.count; s++ {
		rec, err := m.read(s)
		if err != nil {
			return 0, err
		}
		if rec != nil {
			n++
		}
	}
	return n, nil
}

// Compact rewrites the file keeping only live records and discarding
// tombstones, via a backup-rename-reinsert-remove cycle. Slots are
// renumbered in the process, so every index referencing old slots must be
// rebuilt by the caller afterward.
func (m *Manager) Compact() (int32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var live []Record
	for s := int32(0); s < m.count; s++ {
		rec, err := m.read(s)
		if err != nil {
			return 0, err
		}
		if rec != nil {
			live = append(live, rec)
		}
	}

	backupPath := m.path + ".bak"
	if err := m.file.Close(); err != nil {
		return 0, err
	}
	if err := os.Rename(m.path, backupPath); err != nil {
		return 0, err
	}

	f, err := os.OpenFile(m.path, os.O_RDWR|os.O_CREATE, 0666)
	if err != nil {
		return 0, err
	}
	m.file = f
	m.count = 0
	if err := m.writeHeader(); err != nil {
		return 0, err
	}

	for _, rec := range live {
		buf, err := m.serialize(rec)
		if err != nil {
			return 0, err
		}
		if _, err := m.file.WriteAt(buf, m.slotOffset(m.count)); err != nil {
			return 0, err
		}
		m.count++
	}
	if err := m.writeHeader(); err != nil {
		return 0, err
	}

	return m.count, os.Remove(backupPath)
}

// Close flushes the header and closes the underlying file.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.writeHeader(); err != nil {
		m.file.Close()
		return err
	}
	return m.file.Close()
}

// RecordSize returns the fixed width of one slot in bytes.
func (m *Manager) RecordSize() int {
	return m.recordSize
}

func (m *Manager) serialize(record Record) ([]byte, error) {
	if len(record) != len(m.columns) {
		return nil, fmt.Errorf("heap: record has %d values, table has %d columns", len(record), len(m.columns))
	}
	buf := make([]byte, 0, m.recordSize)
	for i, col := range m.columns {
		b, err := types.Serialize(record[i], col.DataType, col.GetSize())
		if err != nil {
			return nil, fmt.Errorf("heap: column %q: %w", col.Name, err)
		}
		buf = append(buf, b...)
	}
	return buf, nil
}

func (m *Manager) deserialize(buf []byte) (Record, error) {
	record := make(Record, len(m.columns))
	offset := 0
	for i, col := range m.columns {
		size := col.GetSize()
		v, err := types.Deserialize(buf[offset:offset+size], col.DataType, size)
		if err != nil {
			return nil, fmt.Errorf("heap: column %q: %w", col.Name, err)
		}
		record[i] = v
		offset += size
	}
	return record, nil
}
