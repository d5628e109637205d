package kvstore

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"
)

// On-flash layout. All fields are little endian and every record starts on
// a 4-byte boundary.
//
//	page header: magic "DBKV" | version u16 | reserved u16 | page seq u32 | digest u32
//	record:      len u32 | digest [8]byte | CBOR payload, 0xFF padded | commit u32
const (
	headerSize    = 16
	formatVersion = 1

	lenSize      = 4
	digestSize   = 8
	commitSize   = 4
	prefixSize   = lenSize + digestSize
	recordAlign  = 4
	erasedWord   = 0xFFFFFFFF
	commitMarker = 0x54494D43 // "CMIT"

	// MaxKeyLen and MaxValueLen bound a single record.
	MaxKeyLen   = 64
	MaxValueLen = 1024

	// maxPayload bounds the CBOR payload of the largest legal record: the
	// map header, three small keys, a uint64, and two byte/text strings with
	// 2-byte length prefixes.
	maxPayload = MaxKeyLen + MaxValueLen + 32
)

var headerMagic = [4]byte{'D', 'B', 'K', 'V'}

// Domain keys for BLAKE3 keyed hashing: the ASCII domain name zero-padded to
// 32 bytes, so header and record digests never collide.
var (
	recordDomainKey = [32]byte{
		'd', 'e', 'v', 'b', 'o', 'o', 't', '.', 'k', 'v', 's', 't', 'o', 'r', 'e', '.',
		'r', 'e', 'c', 'o', 'r', 'd',
	}
	headerDomainKey = [32]byte{
		'd', 'e', 'v', 'b', 'o', 'o', 't', '.', 'k', 'v', 's', 't', 'o', 'r', 'e', '.',
		'h', 'e', 'a', 'd', 'e', 'r',
	}
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("kvstore: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		DupMapKey: cbor.DupMapKeyEnforcedAPF,
	}.DecMode()
	if err != nil {
		panic("kvstore: CBOR decoder initialization failed: " + err.Error())
	}
}

// payload is the CBOR body of a record.
type payload struct {
	Seq   uint64 `cbor:"1,keyasint"`
	Key   string `cbor:"2,keyasint"`
	Value []byte `cbor:"3,keyasint"`
}

func keyedDigest(key [32]byte, data []byte) []byte {
	hasher, err := blake3.NewKeyed(key[:])
	if err != nil {
		panic("kvstore: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(data)
	return hasher.Sum(nil)
}

func align(n int) int { return (n + recordAlign - 1) &^ (recordAlign - 1) }

// recordSize returns the total flash footprint of a record whose payload is
// n bytes, commit word included.
func recordSize(n int) int { return prefixSize + align(n) + commitSize }

// encodeRecord returns the record body (everything but the commit word).
func encodeRecord(p payload) ([]byte, error) {
	data, err := encMode.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encoding record: %w", err)
	}
	if len(data) > maxPayload {
		return nil, fmt.Errorf("encoded record is %d bytes, limit %d", len(data), maxPayload)
	}

	body := bytes.Repeat([]byte{0xFF}, prefixSize+align(len(data)))
	binary.LittleEndian.PutUint32(body[0:lenSize], uint32(len(data)))
	copy(body[lenSize:prefixSize], keyedDigest(recordDomainKey, data))
	copy(body[prefixSize:], data)
	return body, nil
}

// decodePayload verifies digest against data and decodes it.
func decodePayload(digest, data []byte) (payload, error) {
	var p payload
	if !bytes.Equal(digest, keyedDigest(recordDomainKey, data)[:digestSize]) {
		return p, fmt.Errorf("record digest mismatch")
	}
	if err := decMode.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("decoding record: %w", err)
	}
	return p, nil
}

func encodeHeader(seq uint32) []byte {
	h := make([]byte, headerSize)
	copy(h[0:4], headerMagic[:])
	binary.LittleEndian.PutUint16(h[4:6], formatVersion)
	binary.LittleEndian.PutUint16(h[6:8], 0)
	binary.LittleEndian.PutUint32(h[8:12], seq)
	copy(h[12:16], keyedDigest(headerDomainKey, h[:12])[:4])
	return h
}

// headerState classifies a raw page header.
type headerState int

const (
	headerErased headerState = iota
	headerValid
	headerCorrupt
)

func decodeHeader(h []byte) (seq uint32, state headerState, reason string) {
	if bytes.Equal(h, bytes.Repeat([]byte{0xFF}, headerSize)) {
		return 0, headerErased, ""
	}
	if !bytes.Equal(h[0:4], headerMagic[:]) {
		return 0, headerCorrupt, "bad magic"
	}
	if v := binary.LittleEndian.Uint16(h[4:6]); v != formatVersion {
		return 0, headerCorrupt, fmt.Sprintf("unsupported version %d", v)
	}
	if !bytes.Equal(h[12:16], keyedDigest(headerDomainKey, h[:12])[:4]) {
		return 0, headerCorrupt, "header digest mismatch"
	}
	return binary.LittleEndian.Uint32(h[8:12]), headerValid, ""
}
