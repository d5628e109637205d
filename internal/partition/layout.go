package partition

import "fmt"

// Default layout addresses for a 16 MiB part.
const (
	DefaultFlashSize   = 16 << 20
	DefaultStoreOffset = 0xA10000
	DefaultStorePages  = 16
)

// DefaultLayout returns the partition layout devboot images are built with:
// nvs, otadata, phy_init, two equal app slots, and the configuration store
// at DefaultStoreOffset.
func DefaultLayout() *Table {
	return &Table{Entries: []Entry{
		{Type: TypeData, SubType: SubTypeNVS, Offset: 0x9000, Size: 0x6000, Label: "nvs"},
		{Type: TypeData, SubType: SubTypeOTAData, Offset: 0xF000, Size: 0x2000, Label: "otadata"},
		{Type: TypeData, SubType: SubTypePHY, Offset: 0x11000, Size: 0x1000, Label: "phy_init"},
		{Type: TypeApp, SubType: SubTypeOTA0, Offset: 0x20000, Size: 0x4F0000, Label: "ota_0"},
		{Type: TypeApp, SubType: SubTypeOTA1, Offset: 0x510000, Size: 0x4F0000, Label: "ota_1"},
		{Type: TypeData, SubType: SubTypeConfig, Offset: DefaultStoreOffset, Size: DefaultStorePages * 0x1000, Label: "config"},
	}}
}

// Describe returns a one-line description of the entry for tooling output.
func (e Entry) Describe() string {
	return fmt.Sprintf("%-16s %-4s 0x%02x  0x%08x  0x%08x", e.Label, e.Type, uint8(e.SubType), e.Offset, e.Size)
}
