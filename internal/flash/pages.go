package flash

import "fmt"

// PageSize is the page size the configuration store works in. It matches
// the device sector so a page erase is a single sector erase.
const PageSize = SectorSize

// PageAdapter translates the configuration store's page/offset addressing
// into device addresses: start + page*PageSize + offset.
//
// The device only accepts word-aligned accesses. Requests whose address or
// length is not aligned are staged through a page-sized buffer so callers
// always get exactly the bytes they asked for. Device errors are passed
// through unchanged; retrying is the store's business.
//
// A PageAdapter is not safe for concurrent use; the store serializes access.
type PageAdapter struct {
	dev     Device
	start   uint32
	count   int
	staging [PageSize]byte
}

// NewPageAdapter returns an adapter over count pages starting at start.
func NewPageAdapter(dev Device, start uint32, count int) (*PageAdapter, error) {
	if start%SectorSize != 0 {
		return nil, fmt.Errorf("page adapter start 0x%x: %w", start, ErrNotAligned)
	}
	if count <= 0 {
		return nil, fmt.Errorf("page adapter needs at least one page, got %d", count)
	}
	end := uint64(start) + uint64(count)*PageSize
	if end > uint64(dev.Capacity()) {
		return nil, &OutOfBoundsError{Addr: start, Length: count * PageSize, Capacity: dev.Capacity()}
	}
	return &PageAdapter{dev: dev, start: start, count: count}, nil
}

// PageCount returns the number of pages.
func (p *PageAdapter) PageCount() int { return p.count }

// PageSize returns the page size in bytes.
func (p *PageAdapter) PageSize() int { return PageSize }

// Start returns the absolute device address of page 0.
func (p *PageAdapter) Start() uint32 { return p.start }

func (p *PageAdapter) address(page, offset, length int) (uint32, error) {
	if page < 0 || page >= p.count || offset < 0 || offset+length > PageSize {
		return 0, &OutOfBoundsError{
			Addr:     uint32(page*PageSize + offset),
			Length:   length,
			Capacity: uint32(p.count * PageSize),
		}
	}
	return p.start + uint32(page*PageSize+offset), nil
}

// Erase erases one page.
func (p *PageAdapter) Erase(page int) error {
	addr, err := p.address(page, 0, PageSize)
	if err != nil {
		return err
	}
	return p.dev.Erase(addr, addr+PageSize)
}

// Read fills buf from page at offset.
func (p *PageAdapter) Read(page, offset int, buf []byte) error {
	addr, err := p.address(page, offset, len(buf))
	if err != nil {
		return err
	}
	if len(buf) == 0 {
		return nil
	}
	lo, hi := alignDown(addr), alignUp(addr+uint32(len(buf)))
	window := p.staging[:hi-lo]
	if err := p.dev.Read(lo, window); err != nil {
		return err
	}
	copy(buf, window[addr-lo:])
	return nil
}

// Write programs data into page at offset. Bytes of the aligned window that
// are outside data are written as 0xFF, which leaves NOR cells unchanged.
func (p *PageAdapter) Write(page, offset int, data []byte) error {
	addr, err := p.address(page, offset, len(data))
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	lo, hi := alignDown(addr), alignUp(addr+uint32(len(data)))
	window := p.staging[:hi-lo]
	for i := range window {
		window[i] = Erased
	}
	copy(window[addr-lo:], data)
	return p.dev.Write(lo, window)
}

func alignDown(addr uint32) uint32 { return addr &^ (WordSize - 1) }

func alignUp(addr uint32) uint32 { return (addr + WordSize - 1) &^ (WordSize - 1) }
