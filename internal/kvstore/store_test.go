package kvstore

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"testing"

	"github.com/muurk/devboot/internal/flash"
)

func newTestDevice(t *testing.T, pageCount int) (*flash.MemDevice, *flash.PageAdapter) {
	t.Helper()
	dev := flash.NewMemDevice(uint32(pageCount) * flash.PageSize)
	pages, err := flash.NewPageAdapter(dev, 0, pageCount)
	if err != nil {
		t.Fatalf("NewPageAdapter() error = %v", err)
	}
	return dev, pages
}

func newFormattedStore(t *testing.T, pageCount int) (*Store, *flash.MemDevice, *flash.PageAdapter) {
	t.Helper()
	dev, pages := newTestDevice(t, pageCount)
	store := New(pages)
	if err := store.Format(); err != nil {
		t.Fatalf("Format() error = %v", err)
	}
	return store, dev, pages
}

func isCommitWrite(data []byte) bool {
	return len(data) == commitSize && binary.LittleEndian.Uint32(data) == commitMarker
}

func TestStore_WriteReadRoundTrip(t *testing.T) {
	store, _, _ := newFormattedStore(t, 4)

	tests := []struct {
		key   string
		value []byte
	}{
		{"wifi.ssid", []byte("HomeNetwork")},
		{"wifi.password", []byte("s3cret-passphrase")},
		{"mqtt.broker", []byte("tcp://broker.local:1883")},
		{"empty", []byte{}},
	}
	for _, tt := range tests {
		if err := store.Write(tt.key, tt.value); err != nil {
			t.Fatalf("Write(%q) error = %v", tt.key, err)
		}
	}
	for _, tt := range tests {
		got, err := store.Read(tt.key, 256)
		if err != nil {
			t.Fatalf("Read(%q) error = %v", tt.key, err)
		}
		if !bytes.Equal(got.Data, tt.value) {
			t.Errorf("Read(%q) = %q, want %q", tt.key, got.Data, tt.value)
		}
		if got.Truncated {
			t.Errorf("Read(%q) unexpectedly truncated", tt.key)
		}
	}

	keys := store.Keys()
	if len(keys) != len(tests) || keys[0] != "empty" {
		t.Errorf("Keys() = %v, want 4 sorted keys", keys)
	}
}

func TestStore_LastWriteWins(t *testing.T) {
	store, _, pages := newFormattedStore(t, 4)

	for i := 0; i < 5; i++ {
		if err := store.Write("wifi.ssid", []byte(fmt.Sprintf("net-%d", i))); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}

	remounted := New(pages)
	if err := remounted.Mount(); err != nil {
		t.Fatalf("Mount() error = %v", err)
	}
	got, err := remounted.Read("wifi.ssid", 32)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if got.String() != "net-4" {
		t.Errorf("Expected net-4 after remount, got %q", got.String())
	}
}

func TestStore_MountUnformatted(t *testing.T) {
	_, pages := newTestDevice(t, 4)
	store := New(pages)

	err := store.Mount()
	if !errors.Is(err, ErrUnformatted) {
		t.Fatalf("Expected ErrUnformatted, got %v", err)
	}
	if !NeedsFormat(err) {
		t.Error("NeedsFormat() should be true for an unformatted store")
	}
	if _, err := store.Read("wifi.ssid", 32); !errors.Is(err, ErrNotMounted) {
		t.Errorf("Expected ErrNotMounted before format, got %v", err)
	}
}

func TestStore_MountCorruptHeader(t *testing.T) {
	dev, pages := newTestDevice(t, 4)
	dev.Poke(2*flash.PageSize, []byte("GARBAGE!GARBAGE!"))

	err := New(pages).Mount()
	var corrupt *CorruptPageError
	if !errors.As(err, &corrupt) {
		t.Fatalf("Expected *CorruptPageError, got %v", err)
	}
	if corrupt.Page != 2 {
		t.Errorf("Expected corrupt page 2, got %d", corrupt.Page)
	}
	if !NeedsFormat(err) {
		t.Error("NeedsFormat() should be true for a corrupt page")
	}
}

func TestStore_ReadTruncates(t *testing.T) {
	store, _, _ := newFormattedStore(t, 4)
	if err := store.Write("wifi.hostname", []byte("hello world")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	got, err := store.Read("wifi.hostname", 5)
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if got.String() != "hello" {
		t.Errorf("Expected %q, got %q", "hello", got.String())
	}
	if !got.Truncated {
		t.Error("Expected Truncated to be set")
	}
	if got.Length != 11 {
		t.Errorf("Expected stored length 11, got %d", got.Length)
	}
}

func TestStore_ReadNotFound(t *testing.T) {
	store, _, _ := newFormattedStore(t, 4)

	_, err := store.Read("mqtt.broker", 256)
	if !IsNotFound(err) {
		t.Fatalf("Expected not found, got %v", err)
	}
	var storeErr *StoreError
	if !errors.As(err, &storeErr) || storeErr.Op != OpRead {
		t.Errorf("Expected *StoreError with OpRead, got %v", err)
	}
}

func TestStore_CommitFailureKeepsPreviousValue(t *testing.T) {
	store, dev, pages := newFormattedStore(t, 4)
	if err := store.Write("wifi.ssid", []byte("old")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	dev.FailWrite = func(addr uint32, data []byte) error {
		if isCommitWrite(data) {
			return errors.New("power lost")
		}
		return nil
	}
	err := store.Write("wifi.ssid", []byte("new"))
	var storeErr *StoreError
	if !errors.As(err, &storeErr) || storeErr.Op != OpCommit {
		t.Fatalf("Expected commit StoreError, got %v", err)
	}
	dev.FailWrite = nil

	got, err := store.Read("wifi.ssid", 32)
	if err != nil || got.String() != "old" {
		t.Errorf("Expected old value after failed commit, got %q, %v", got.String(), err)
	}

	remounted := New(pages)
	if err := remounted.Mount(); err != nil {
		t.Fatalf("Mount() error = %v", err)
	}
	got, err = remounted.Read("wifi.ssid", 32)
	if err != nil || got.String() != "old" {
		t.Errorf("Expected old value after remount, got %q, %v", got.String(), err)
	}

	if err := remounted.Write("wifi.ssid", []byte("newer")); err != nil {
		t.Fatalf("Write() after failed commit error = %v", err)
	}
	got, _ = remounted.Read("wifi.ssid", 32)
	if got.String() != "newer" {
		t.Errorf("Expected newer, got %q", got.String())
	}
}

func TestStore_BodyWriteFailure(t *testing.T) {
	store, dev, _ := newFormattedStore(t, 4)
	dev.FailWrite = func(addr uint32, data []byte) error { return errors.New("spi error") }

	err := store.Write("wifi.ssid", []byte("x"))
	var storeErr *StoreError
	if !errors.As(err, &storeErr) || storeErr.Op != OpWrite {
		t.Fatalf("Expected write StoreError, got %v", err)
	}
	if storeErr.Key != "wifi.ssid" {
		t.Errorf("Expected key wifi.ssid, got %q", storeErr.Key)
	}
	dev.FailWrite = nil

	if _, err := store.Read("wifi.ssid", 32); !IsNotFound(err) {
		t.Errorf("Expected not found after failed write, got %v", err)
	}
}

func TestStore_WritesAfterBodyFailureSurviveRemount(t *testing.T) {
	store, dev, pages := newFormattedStore(t, 4)

	if err := store.Write("wifi.hostname", []byte("esp-device")); err != nil {
		t.Fatalf("Write(wifi.hostname) error = %v", err)
	}
	dev.FailWrite = func(addr uint32, data []byte) error { return errors.New("spi error") }
	if err := store.Write("wifi.ssid", []byte("HomeNetwork")); err == nil {
		t.Fatal("Expected body write to fail")
	}
	dev.FailWrite = nil
	if err := store.Write("wifi.password", []byte("secret123")); err != nil {
		t.Fatalf("Write(wifi.password) error = %v", err)
	}

	remounted := New(pages)
	if err := remounted.Mount(); err != nil {
		t.Fatalf("Mount() error = %v", err)
	}
	want := map[string]string{"wifi.hostname": "esp-device", "wifi.password": "secret123"}
	for key, value := range want {
		got, err := remounted.Read(key, 64)
		if err != nil || got.String() != value {
			t.Errorf("Read(%q) after remount = %q, %v, want %q", key, got.String(), err, value)
		}
	}
	if _, err := remounted.Read("wifi.ssid", 32); !IsNotFound(err) {
		t.Errorf("Expected wifi.ssid not found after remount, got %v", err)
	}

	// Writing after the remount must not land on earlier records.
	if err := remounted.Write("wifi.ssid", []byte("again")); err != nil {
		t.Fatalf("Write(wifi.ssid) after remount error = %v", err)
	}
	again := New(pages)
	if err := again.Mount(); err != nil {
		t.Fatalf("second Mount() error = %v", err)
	}
	want["wifi.ssid"] = "again"
	for key, value := range want {
		got, err := again.Read(key, 64)
		if err != nil || got.String() != value {
			t.Errorf("Read(%q) after second remount = %q, %v, want %q", key, got.String(), err, value)
		}
	}
}

func TestStore_Bounds(t *testing.T) {
	store, _, _ := newFormattedStore(t, 4)

	tests := []struct {
		name  string
		key   string
		value []byte
		want  error
	}{
		{"empty key", "", []byte("v"), ErrEmptyKey},
		{"long key", string(bytes.Repeat([]byte("k"), MaxKeyLen+1)), nil, ErrKeyTooLong},
		{"long value", "k", make([]byte, MaxValueLen+1), ErrValueTooLong},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := store.Write(tt.key, tt.value); !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}

	if err := store.Write("max", make([]byte, MaxValueLen)); err != nil {
		t.Errorf("Write() of a maximum-size value error = %v", err)
	}
}

func TestStore_CompactionPreservesLiveKeys(t *testing.T) {
	store, _, pages := newFormattedStore(t, 3)
	keys := []string{"a", "b", "c"}

	for round := 0; round < 30; round++ {
		for _, key := range keys {
			value := bytes.Repeat([]byte{byte('0' + round%10)}, 1000)
			if err := store.Write(key, value); err != nil {
				t.Fatalf("round %d Write(%q) error = %v", round, key, err)
			}
		}
	}

	usage := store.Usage()
	if usage.ErasedPages < 1 {
		t.Errorf("Expected at least one erased reserve page, got %d", usage.ErasedPages)
	}
	if usage.LiveRecords != 3 {
		t.Errorf("Expected 3 live records, got %d", usage.LiveRecords)
	}

	remounted := New(pages)
	if err := remounted.Mount(); err != nil {
		t.Fatalf("Mount() error = %v", err)
	}
	want := bytes.Repeat([]byte{'9'}, 1000)
	for _, key := range keys {
		got, err := remounted.Read(key, MaxValueLen)
		if err != nil {
			t.Fatalf("Read(%q) error = %v", key, err)
		}
		if !bytes.Equal(got.Data, want) {
			t.Errorf("Read(%q) returned stale data starting %q", key, got.Data[:1])
		}
	}
}

func TestStore_Full(t *testing.T) {
	store, _, _ := newFormattedStore(t, 2)

	var err error
	written := 0
	for i := 0; i < 10; i++ {
		err = store.Write(fmt.Sprintf("key-%d", i), make([]byte, 1000))
		if err != nil {
			break
		}
		written++
	}
	if !errors.Is(err, ErrStoreFull) {
		t.Fatalf("Expected ErrStoreFull, got %v", err)
	}
	if written == 0 {
		t.Fatal("Expected some writes to succeed before the store filled")
	}
	for i := 0; i < written; i++ {
		if _, err := store.Read(fmt.Sprintf("key-%d", i), MaxValueLen); err != nil {
			t.Errorf("Read(key-%d) after full error = %v", i, err)
		}
	}
}

func TestWriteTxn_SingleKeyAndAbandon(t *testing.T) {
	store, _, _ := newFormattedStore(t, 4)

	txn := store.WriteTransaction()
	if err := txn.Write("wifi.ssid", []byte("staged")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := txn.Write("wifi.password", []byte("second")); !errors.Is(err, ErrTransactionDone) {
		t.Errorf("Expected ErrTransactionDone for a second key, got %v", err)
	}
	txn.Close()

	if _, err := store.Read("wifi.ssid", 32); !IsNotFound(err) {
		t.Errorf("Expected abandoned write to stay invisible, got %v", err)
	}

	txn = store.WriteTransaction()
	if err := txn.Write("wifi.ssid", []byte("committed")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if err := txn.Commit(); !errors.Is(err, ErrTransactionDone) {
		t.Errorf("Expected ErrTransactionDone on second commit, got %v", err)
	}

	read := store.ReadTransaction()
	got, err := read.Read("wifi.ssid", 32)
	read.Close()
	if err != nil || got.String() != "committed" {
		t.Errorf("Expected committed, got %q, %v", got.String(), err)
	}
	if _, err := read.Read("wifi.ssid", 32); !errors.Is(err, ErrTransactionDone) {
		t.Errorf("Expected ErrTransactionDone after Close, got %v", err)
	}
}

func TestStore_SkipsCorruptRecord(t *testing.T) {
	store, dev, pages := newFormattedStore(t, 4)
	if err := store.Write("a", []byte("first")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := store.Write("b", []byte("second")); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	// Flip a payload byte of the first record so its digest no longer matches.
	dev.Poke(headerSize+prefixSize+2, []byte{0x00})

	remounted := New(pages)
	if err := remounted.Mount(); err != nil {
		t.Fatalf("Mount() error = %v", err)
	}
	if _, err := remounted.Read("a", 32); !IsNotFound(err) {
		t.Errorf("Expected corrupt record to be skipped, got %v", err)
	}
	got, err := remounted.Read("b", 32)
	if err != nil || got.String() != "second" {
		t.Errorf("Expected second, got %q, %v", got.String(), err)
	}
}
