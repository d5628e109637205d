// Package flash models the device's NOR flash.
//
// A Device reads and writes whole 4-byte words and erases whole 4 KiB
// sectors; programming can only clear bits. MemDevice keeps the contents in
// memory and supports fault injection, FileDevice maps an image file.
//
// Region narrows a Device to one partition, and PageAdapter presents a
// contiguous run of sectors as numbered pages with byte-granular access for
// the configuration store:
//
//	dev, _ := flash.OpenFile("flash.img", 16<<20)
//	pages, _ := flash.NewPageAdapter(dev, 0xA10000, 16)
//	_ = pages.Write(0, 3, []byte("odd"))
package flash
