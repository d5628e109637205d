// Package partition reads and writes the device's partition table: a list
// of 32-byte entries at a fixed flash offset, optionally terminated by an
// MD5 checksum entry, in the layout the ESP-IDF bootloader understands.
package partition

import (
	"bytes"
	"crypto/md5"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"github.com/muurk/devboot/internal/flash"
)

const (
	// TableOffset is where the bootloader expects the table.
	TableOffset = 0x8000

	// MaxTableLen is the largest table the bootloader reads.
	MaxTableLen = 0xC00

	// EntrySize is the size of one table entry.
	EntrySize = 32

	entryMagic = 0x50AA
	md5Magic   = 0xEBEB
	labelLen   = 16
)

// Type is the partition type.
type Type uint8

const (
	TypeApp  Type = 0x00
	TypeData Type = 0x01
)

// String returns a human-readable name for the type
func (t Type) String() string {
	switch t {
	case TypeApp:
		return "app"
	case TypeData:
		return "data"
	default:
		return fmt.Sprintf("0x%02x", uint8(t))
	}
}

// SubType is the partition subtype. Its meaning depends on the Type.
type SubType uint8

// App subtypes.
const (
	SubTypeFactory SubType = 0x00
	SubTypeOTA0    SubType = 0x10
	SubTypeOTA1    SubType = 0x11
)

// Data subtypes.
const (
	SubTypeOTAData SubType = 0x00
	SubTypePHY     SubType = 0x01
	SubTypeNVS     SubType = 0x02

	// SubTypeConfig is a custom data subtype for the configuration store.
	SubTypeConfig SubType = 0x81
)

// ErrChecksum is returned when the MD5 entry does not match the table.
var ErrChecksum = errors.New("partition: table checksum mismatch")

// ParseError reports a malformed table.
type ParseError struct {
	Offset int
	Reason string
}

// Error implements the error interface
func (e *ParseError) Error() string {
	return fmt.Sprintf("partition: malformed table at 0x%x: %s", e.Offset, e.Reason)
}

// NotFoundError is returned by Find when no entry has the requested type
// and subtype.
type NotFoundError struct {
	Type    Type
	SubType SubType
}

// Error implements the error interface
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("partition: no %s partition with subtype 0x%02x", e.Type, uint8(e.SubType))
}

// IsNotFound reports whether err is a *NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// Entry is one partition.
type Entry struct {
	Type    Type    `yaml:"type"`
	SubType SubType `yaml:"subtype"`
	Offset  uint32  `yaml:"offset"`
	Size    uint32  `yaml:"size"`
	Label   string  `yaml:"label"`
	Flags   uint32  `yaml:"flags,omitempty"`
}

// End returns the first address after the partition.
func (e Entry) End() uint32 { return e.Offset + e.Size }

// Region returns the partition as a window onto dev.
func (e Entry) Region(dev flash.Device) (*flash.Region, error) {
	return flash.NewRegion(dev, e.Offset, e.Size)
}

// Table is a parsed partition table.
type Table struct {
	Entries []Entry

	// Checksummed is set when the table carried a valid MD5 entry.
	Checksummed bool
}

// Parse decodes a raw table. Parsing stops at the first erased entry or
// after the MD5 entry.
func Parse(raw []byte) (*Table, error) {
	if len(raw) > MaxTableLen {
		raw = raw[:MaxTableLen]
	}

	t := &Table{}
	for off := 0; off+EntrySize <= len(raw); off += EntrySize {
		e := raw[off : off+EntrySize]
		switch binary.LittleEndian.Uint16(e[0:2]) {
		case 0xFFFF:
			return t, nil
		case md5Magic:
			sum := md5.Sum(raw[:off])
			if !bytes.Equal(e[16:32], sum[:]) {
				return nil, ErrChecksum
			}
			t.Checksummed = true
			return t, nil
		case entryMagic:
			t.Entries = append(t.Entries, Entry{
				Type:    Type(e[2]),
				SubType: SubType(e[3]),
				Offset:  binary.LittleEndian.Uint32(e[4:8]),
				Size:    binary.LittleEndian.Uint32(e[8:12]),
				Label:   strings.TrimRight(string(e[12:12+labelLen]), "\x00"),
				Flags:   binary.LittleEndian.Uint32(e[28:32]),
			})
		default:
			return nil, &ParseError{Offset: off, Reason: fmt.Sprintf("bad magic 0x%04x", binary.LittleEndian.Uint16(e[0:2]))}
		}
	}
	if len(t.Entries) == 0 {
		return nil, &ParseError{Offset: 0, Reason: "no entries"}
	}
	return t, nil
}

// Read loads and parses the table stored at offset on dev.
func Read(dev flash.Device, offset uint32) (*Table, error) {
	raw := make([]byte, MaxTableLen)
	if err := dev.Read(offset, raw); err != nil {
		return nil, fmt.Errorf("partition: reading table at 0x%x: %w", offset, err)
	}
	return Parse(raw)
}

// Find returns the first entry with the given type and subtype. A missing
// entry is a *NotFoundError; there is no default.
func (t *Table) Find(typ Type, sub SubType) (Entry, error) {
	for _, e := range t.Entries {
		if e.Type == typ && e.SubType == sub {
			return e, nil
		}
	}
	return Entry{}, &NotFoundError{Type: typ, SubType: sub}
}

// FindLabel returns the entry with the given label.
func (t *Table) FindLabel(label string) (Entry, bool) {
	for _, e := range t.Entries {
		if e.Label == label {
			return e, true
		}
	}
	return Entry{}, false
}

// Validate checks that entries are sector aligned and do not overlap.
func (t *Table) Validate() error {
	for i, e := range t.Entries {
		if e.Offset%flash.SectorSize != 0 || e.Size%flash.SectorSize != 0 {
			return fmt.Errorf("partition %q: offset 0x%x size 0x%x not sector aligned", e.Label, e.Offset, e.Size)
		}
		if len(e.Label) > labelLen {
			return fmt.Errorf("partition %q: label longer than %d bytes", e.Label, labelLen)
		}
		for _, o := range t.Entries[i+1:] {
			if e.Offset < o.End() && o.Offset < e.End() {
				return fmt.Errorf("partitions %q and %q overlap", e.Label, o.Label)
			}
		}
	}
	return nil
}

// Marshal encodes the table followed by an MD5 entry, padded with 0xFF to
// MaxTableLen.
func (t *Table) Marshal() ([]byte, error) {
	if (len(t.Entries)+1)*EntrySize > MaxTableLen {
		return nil, fmt.Errorf("partition: %d entries do not fit in the table", len(t.Entries))
	}

	raw := bytes.Repeat([]byte{0xFF}, MaxTableLen)
	off := 0
	for _, e := range t.Entries {
		if len(e.Label) > labelLen {
			return nil, fmt.Errorf("partition %q: label longer than %d bytes", e.Label, labelLen)
		}
		b := raw[off : off+EntrySize]
		binary.LittleEndian.PutUint16(b[0:2], entryMagic)
		b[2] = byte(e.Type)
		b[3] = byte(e.SubType)
		binary.LittleEndian.PutUint32(b[4:8], e.Offset)
		binary.LittleEndian.PutUint32(b[8:12], e.Size)
		label := make([]byte, labelLen)
		copy(label, e.Label)
		copy(b[12:28], label)
		binary.LittleEndian.PutUint32(b[28:32], e.Flags)
		off += EntrySize
	}

	sum := md5.Sum(raw[:off])
	b := raw[off : off+EntrySize]
	binary.LittleEndian.PutUint16(b[0:2], md5Magic)
	copy(b[16:32], sum[:])
	return raw, nil
}

// Write erases the table sector at offset and programs t into it.
func Write(dev flash.Device, offset uint32, t *Table) error {
	raw, err := t.Marshal()
	if err != nil {
		return err
	}
	if err := dev.Erase(offset, offset+flash.SectorSize); err != nil {
		return fmt.Errorf("partition: erasing table sector: %w", err)
	}
	if err := dev.Write(offset, raw); err != nil {
		return fmt.Errorf("partition: writing table: %w", err)
	}
	return nil
}
