package flash

import "fmt"

// Region is a window onto a Device, addressed relative to its own start.
// Partitions hand out regions so a component can never touch flash outside
// the area the partition table assigned to it.
type Region struct {
	dev    Device
	offset uint32
	size   uint32
}

// NewRegion returns the window [offset, offset+size) of dev.
func NewRegion(dev Device, offset, size uint32) (*Region, error) {
	if uint64(offset)+uint64(size) > uint64(dev.Capacity()) {
		return nil, &OutOfBoundsError{Addr: offset, Length: int(size), Capacity: dev.Capacity()}
	}
	return &Region{dev: dev, offset: offset, size: size}, nil
}

func (r *Region) check(addr uint32, length int) error {
	if uint64(addr)+uint64(length) > uint64(r.size) {
		return &OutOfBoundsError{Addr: addr, Length: length, Capacity: r.size}
	}
	return nil
}

// Read implements Device.
func (r *Region) Read(addr uint32, buf []byte) error {
	if err := r.check(addr, len(buf)); err != nil {
		return err
	}
	return r.dev.Read(r.offset+addr, buf)
}

// Write implements Device.
func (r *Region) Write(addr uint32, data []byte) error {
	if err := r.check(addr, len(data)); err != nil {
		return err
	}
	return r.dev.Write(r.offset+addr, data)
}

// Erase implements Device.
func (r *Region) Erase(from, to uint32) error {
	if to < from {
		return fmt.Errorf("erase 0x%x..0x%x: %w", from, to, ErrNotAligned)
	}
	if err := r.check(from, int(to-from)); err != nil {
		return err
	}
	return r.dev.Erase(r.offset+from, r.offset+to)
}

// Capacity implements Device.
func (r *Region) Capacity() uint32 { return r.size }

// Offset returns the absolute device address of the region start.
func (r *Region) Offset() uint32 { return r.offset }
