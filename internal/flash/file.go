//go:build darwin || linux

package flash

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// FileDevice is a NOR device backed by a memory-mapped image file. It lets
// the boot sequence and the flash tooling operate on the same image that
// would be written to the real part.
type FileDevice struct {
	nor
	fd   int
	path string
}

// OpenFile opens the image at path, creating it if it does not exist. A new
// image is sized to size bytes and filled with 0xFF like an erased part. An
// existing image must already be exactly size bytes; pass size 0 to accept
// whatever size the file has.
func OpenFile(path string, size uint32) (*FileDevice, error) {
	fd, err := unix.Open(path, unix.O_CREAT|unix.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening flash image %s: %w", path, err)
	}

	var stat unix.Stat_t
	if err := unix.Fstat(fd, &stat); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("stating flash image: %w", err)
	}

	fresh := stat.Size == 0
	switch {
	case fresh && size == 0:
		unix.Close(fd)
		return nil, fmt.Errorf("flash image %s is empty and no size was given", path)
	case fresh:
		if size%SectorSize != 0 {
			unix.Close(fd)
			return nil, fmt.Errorf("flash image size 0x%x: %w", size, ErrNotAligned)
		}
		if err := unix.Ftruncate(fd, int64(size)); err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("sizing flash image to %d bytes: %w", size, err)
		}
	case size == 0:
		size = uint32(stat.Size)
	case stat.Size != int64(size):
		unix.Close(fd)
		return nil, fmt.Errorf("flash image %s is %d bytes but %d was requested", path, stat.Size, size)
	}

	data, err := unix.Mmap(fd, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("memory-mapping flash image: %w", err)
	}
	if fresh {
		for i := range data {
			data[i] = Erased
		}
	}

	return &FileDevice{nor: nor{data: data}, fd: fd, path: path}, nil
}

// Read implements Device.
func (f *FileDevice) Read(addr uint32, buf []byte) error { return f.read(addr, buf) }

// Write implements Device.
func (f *FileDevice) Write(addr uint32, data []byte) error { return f.write(addr, data) }

// Erase implements Device.
func (f *FileDevice) Erase(from, to uint32) error { return f.erase(from, to) }

// Capacity implements Device.
func (f *FileDevice) Capacity() uint32 { return uint32(len(f.data)) }

// Path returns the image file path.
func (f *FileDevice) Path() string { return f.path }

// Sync flushes the mapping to the image file.
func (f *FileDevice) Sync() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := unix.Msync(f.data, unix.MS_SYNC); err != nil {
		return fmt.Errorf("syncing flash image: %w", err)
	}
	return nil
}

// Close flushes and unmaps the image and closes the file descriptor.
func (f *FileDevice) Close() error {
	firstErr := f.Sync()

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := unix.Munmap(f.data); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("unmapping flash image: %w", err)
	}
	if err := unix.Close(f.fd); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("closing flash image: %w", err)
	}
	f.data = nil
	f.fd = -1
	return firstErr
}
