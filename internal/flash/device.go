package flash

import (
	"errors"
	"fmt"
	"sync"
)

const (
	// WordSize is the read/write alignment of the NOR device, in bytes.
	WordSize = 4

	// SectorSize is the erase granularity of the NOR device, in bytes.
	SectorSize = 4096

	// Erased is the value every byte holds after an erase.
	Erased = 0xFF
)

// ErrNotAligned is returned when an access violates the device alignment.
var ErrNotAligned = errors.New("flash: access not aligned")

// Device is a byte-addressable NOR flash device with word-aligned reads and
// writes and sector-aligned erases. Writes can only clear bits; restoring
// bits to 1 requires an erase.
type Device interface {
	// Read fills buf from addr. addr and len(buf) must be word aligned.
	Read(addr uint32, buf []byte) error

	// Write programs data at addr. addr and len(data) must be word aligned.
	Write(addr uint32, data []byte) error

	// Erase resets [from, to) to 0xFF. Both bounds must be sector aligned.
	Erase(from, to uint32) error

	// Capacity returns the device size in bytes.
	Capacity() uint32
}

// OutOfBoundsError reports an access outside a device, region or page.
type OutOfBoundsError struct {
	Addr     uint32
	Length   int
	Capacity uint32
}

func (e *OutOfBoundsError) Error() string {
	return fmt.Sprintf("flash: access 0x%x+%d exceeds capacity 0x%x", e.Addr, e.Length, e.Capacity)
}

// nor implements NOR semantics on a byte slice. MemDevice and FileDevice
// differ only in where the slice lives.
type nor struct {
	mu   sync.Mutex
	data []byte
}

func (n *nor) checkRange(addr uint32, length int) error {
	if uint64(addr)+uint64(length) > uint64(len(n.data)) {
		return &OutOfBoundsError{Addr: addr, Length: length, Capacity: uint32(len(n.data))}
	}
	return nil
}

func (n *nor) read(addr uint32, buf []byte) error {
	if addr%WordSize != 0 || len(buf)%WordSize != 0 {
		return fmt.Errorf("read 0x%x+%d: %w", addr, len(buf), ErrNotAligned)
	}
	if err := n.checkRange(addr, len(buf)); err != nil {
		return err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	copy(buf, n.data[addr:])
	return nil
}

func (n *nor) write(addr uint32, data []byte) error {
	if addr%WordSize != 0 || len(data)%WordSize != 0 {
		return fmt.Errorf("write 0x%x+%d: %w", addr, len(data), ErrNotAligned)
	}
	if err := n.checkRange(addr, len(data)); err != nil {
		return err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	for i, b := range data {
		n.data[int(addr)+i] &= b
	}
	return nil
}

func (n *nor) erase(from, to uint32) error {
	if from%SectorSize != 0 || to%SectorSize != 0 || to < from {
		return fmt.Errorf("erase 0x%x..0x%x: %w", from, to, ErrNotAligned)
	}
	if err := n.checkRange(from, int(to-from)); err != nil {
		return err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := from; i < to; i++ {
		n.data[i] = Erased
	}
	return nil
}

// MemDevice is an in-memory NOR device. The Fail* hooks let tests inject
// driver errors; a hook returning non-nil aborts the operation before any
// byte changes.
type MemDevice struct {
	nor

	FailRead  func(addr uint32, length int) error
	FailWrite func(addr uint32, data []byte) error
	FailErase func(from, to uint32) error

	Reads, Writes, Erases int
}

// NewMemDevice returns an erased device of the given size.
func NewMemDevice(size uint32) *MemDevice {
	data := make([]byte, size)
	for i := range data {
		data[i] = Erased
	}
	return &MemDevice{nor: nor{data: data}}
}

// Read implements Device.
func (m *MemDevice) Read(addr uint32, buf []byte) error {
	m.Reads++
	if m.FailRead != nil {
		if err := m.FailRead(addr, len(buf)); err != nil {
			return err
		}
	}
	return m.read(addr, buf)
}

// Write implements Device.
func (m *MemDevice) Write(addr uint32, data []byte) error {
	m.Writes++
	if m.FailWrite != nil {
		if err := m.FailWrite(addr, data); err != nil {
			return err
		}
	}
	return m.write(addr, data)
}

// Erase implements Device.
func (m *MemDevice) Erase(from, to uint32) error {
	m.Erases++
	if m.FailErase != nil {
		if err := m.FailErase(from, to); err != nil {
			return err
		}
	}
	return m.erase(from, to)
}

// Capacity implements Device.
func (m *MemDevice) Capacity() uint32 { return uint32(len(m.data)) }

// Bytes returns a copy of the raw device contents.
func (m *MemDevice) Bytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]byte, len(m.data))
	copy(out, m.data)
	return out
}

// Poke overwrites raw bytes without NOR semantics. Tests use it to build
// corrupt or pre-provisioned images.
func (m *MemDevice) Poke(addr uint32, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copy(m.data[addr:], data)
}
