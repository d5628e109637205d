package partition

import (
	"errors"
	"testing"

	"github.com/muurk/devboot/internal/flash"
)

func TestMarshalParseRoundTrip(t *testing.T) {
	layout := DefaultLayout()
	if err := layout.Validate(); err != nil {
		t.Fatalf("DefaultLayout().Validate() error = %v", err)
	}

	raw, err := layout.Marshal()
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if len(raw) != MaxTableLen {
		t.Errorf("Expected %d bytes, got %d", MaxTableLen, len(raw))
	}
	if raw[0] != 0xAA || raw[1] != 0x50 {
		t.Errorf("Expected entry magic AA 50, got %02x %02x", raw[0], raw[1])
	}

	parsed, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if !parsed.Checksummed {
		t.Error("Expected MD5 entry to be recognised")
	}
	if len(parsed.Entries) != len(layout.Entries) {
		t.Fatalf("Expected %d entries, got %d", len(layout.Entries), len(parsed.Entries))
	}
	for i := range layout.Entries {
		if parsed.Entries[i] != layout.Entries[i] {
			t.Errorf("entry %d = %+v, want %+v", i, parsed.Entries[i], layout.Entries[i])
		}
	}
}

func TestParse_ChecksumMismatch(t *testing.T) {
	raw, err := DefaultLayout().Marshal()
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	raw[5] ^= 0x01

	if _, err := Parse(raw); !errors.Is(err, ErrChecksum) {
		t.Errorf("Expected ErrChecksum, got %v", err)
	}
}

func TestParse_BadMagic(t *testing.T) {
	raw := make([]byte, MaxTableLen)
	_, err := Parse(raw)

	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("Expected *ParseError, got %v", err)
	}
}

func TestFind(t *testing.T) {
	table := &Table{Entries: []Entry{
		{Type: TypeData, SubType: SubTypeOTAData, Offset: 0xF000, Size: 0x2000, Label: "otadata"},
		{Type: TypeApp, SubType: SubTypeOTA0, Offset: 0x20000, Size: 0x100000, Label: "ota_0"},
	}}

	e, err := table.Find(TypeApp, SubTypeOTA0)
	if err != nil {
		t.Fatalf("Find(ota_0) error = %v", err)
	}
	if e.Offset != 0x20000 {
		t.Errorf("Expected offset 0x20000, got 0x%x", e.Offset)
	}

	_, err = table.Find(TypeApp, SubTypeOTA1)
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("Expected *NotFoundError, got %v", err)
	}
	if nf.SubType != SubTypeOTA1 || nf.Type != TypeApp {
		t.Errorf("Expected not-found for app/0x11, got %v/%v", nf.Type, nf.SubType)
	}

	if _, err := table.Find(TypeData, SubTypeNVS); !IsNotFound(err) || err.Error() == nf.Error() {
		t.Errorf("Expected a distinct not-found error for nvs, got %v", err)
	}
}

func TestValidate_Overlap(t *testing.T) {
	table := &Table{Entries: []Entry{
		{Type: TypeApp, SubType: SubTypeOTA0, Offset: 0x20000, Size: 0x20000, Label: "a"},
		{Type: TypeApp, SubType: SubTypeOTA1, Offset: 0x30000, Size: 0x20000, Label: "b"},
	}}
	if err := table.Validate(); err == nil {
		t.Error("Expected overlap error")
	}
}

func TestWriteRead(t *testing.T) {
	dev := flash.NewMemDevice(0x10000)
	if err := Write(dev, TableOffset, DefaultLayout()); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	table, err := Read(dev, TableOffset)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	cfg, ok := table.FindLabel("config")
	if !ok {
		t.Fatal("Expected config partition")
	}
	if cfg.Offset != DefaultStoreOffset {
		t.Errorf("Expected store at 0x%x, got 0x%x", DefaultStoreOffset, cfg.Offset)
	}
}
