package kvstore

import (
	"encoding/binary"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/muurk/devboot/internal/logging"
)

// Pages is the page-addressed flash the store lives on. flash.PageAdapter
// implements it.
type Pages interface {
	PageCount() int
	PageSize() int
	Erase(page int) error
	Read(page, offset int, buf []byte) error
	Write(page, offset int, data []byte) error
}

// Value is the result of a read.
type Value struct {
	// Data holds at most the maxLen bytes the caller asked for.
	Data []byte

	// Length is the length of the stored value.
	Length int

	// Truncated is set when the stored value was longer than maxLen.
	Truncated bool
}

// String returns Data as a string.
func (v Value) String() string { return string(v.Data) }

// Usage summarizes how the store's pages are used.
type Usage struct {
	Pages       int
	ErasedPages int
	LiveRecords int
	LiveBytes   int
	Capacity    int
}

type pageInfo struct {
	seq    uint32 // 0 when the page is erased
	cursor int    // first free offset
}

type location struct {
	page   int
	offset int
	seq    uint64
	size   int
}

// Store is a transactional key-value store on raw flash pages.
//
// Records are appended to the newest page. Each record is written in two
// steps, body then commit word, and a record without its commit word is
// ignored, so an interrupted or failed write leaves the previous value
// visible. One page is always kept erased so the oldest page can be
// compacted into it.
//
// All access goes through one mutex, held for the whole of a transaction.
type Store struct {
	mu          sync.Mutex
	pages       Pages
	mounted     bool
	info        []pageInfo
	index       map[string]location
	current     int
	nextSeq     uint64
	nextPageSeq uint32
}

// New returns an unmounted store over pages. Call Mount, and Format if
// mounting fails.
func New(pages Pages) *Store {
	return &Store{pages: pages}
}

func (s *Store) pageSize() int { return s.pages.PageSize() }

func (s *Store) reset() {
	s.mounted = false
	s.info = make([]pageInfo, s.pages.PageCount())
	s.index = make(map[string]location)
	s.current = 0
	s.nextSeq = 1
	s.nextPageSeq = 1
}

// Mount scans every page and rebuilds the key index. It returns
// ErrUnformatted when no page has a header and *CorruptPageError when a
// header does not verify. The caller formats only after a failed mount.
func (s *Store) Mount() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pages.PageCount() < 2 {
		return fmt.Errorf("kvstore: need at least 2 pages, have %d", s.pages.PageCount())
	}
	s.reset()

	header := make([]byte, headerSize)
	var active []int
	for p := range s.info {
		if err := s.pages.Read(p, 0, header); err != nil {
			return fmt.Errorf("kvstore: reading page %d header: %w", p, err)
		}
		seq, state, reason := decodeHeader(header)
		switch state {
		case headerCorrupt:
			return &CorruptPageError{Page: p, Reason: reason}
		case headerValid:
			s.info[p] = pageInfo{seq: seq, cursor: headerSize}
			active = append(active, p)
		}
	}
	if len(active) == 0 {
		return ErrUnformatted
	}

	sort.Slice(active, func(i, j int) bool { return s.info[active[i]].seq < s.info[active[j]].seq })
	for _, p := range active {
		if err := s.scan(p); err != nil {
			return err
		}
	}
	s.current = active[len(active)-1]
	s.nextPageSeq = s.info[s.current].seq + 1
	for _, loc := range s.index {
		if loc.seq >= s.nextSeq {
			s.nextSeq = loc.seq + 1
		}
	}

	if s.erasedCount() == 0 {
		s.reclaim()
	}

	s.mounted = true
	logging.Debug("Configuration store mounted",
		zap.Int("pages", len(s.info)),
		zap.Int("active_pages", len(active)),
		zap.Int("keys", len(s.index)),
	)
	return nil
}

// scan walks the records of page p in order and updates the index.
// Pages must be scanned oldest first so later copies win.
func (s *Store) scan(p int) error {
	size := s.pageSize()
	off := headerSize
	word := make([]byte, lenSize)

	for off+prefixSize+commitSize <= size {
		if err := s.pages.Read(p, off, word); err != nil {
			return fmt.Errorf("kvstore: reading page %d at %d: %w", p, off, err)
		}
		n := binary.LittleEndian.Uint32(word)
		if n == erasedWord {
			break
		}
		if n == 0 || n > maxPayload || off+recordSize(int(n)) > size {
			logging.Warn("Unreadable record, ignoring rest of page",
				zap.Int("page", p),
				zap.Int("offset", off),
				zap.Uint32("length", n),
			)
			off = size
			break
		}

		recSize := recordSize(int(n))
		raw := make([]byte, recSize)
		if err := s.pages.Read(p, off, raw); err != nil {
			return fmt.Errorf("kvstore: reading page %d at %d: %w", p, off, err)
		}

		commit := binary.LittleEndian.Uint32(raw[recSize-commitSize:])
		if commit != commitMarker {
			logging.Debug("Skipping uncommitted record", zap.Int("page", p), zap.Int("offset", off))
			off += recSize
			continue
		}

		rec, err := decodePayload(raw[lenSize:prefixSize], raw[prefixSize:prefixSize+int(n)])
		if err != nil {
			logging.Warn("Skipping corrupt record",
				zap.Int("page", p),
				zap.Int("offset", off),
				zap.Error(err),
			)
			off += recSize
			continue
		}

		if prev, ok := s.index[rec.Key]; !ok || rec.Seq >= prev.seq {
			s.index[rec.Key] = location{page: p, offset: off, seq: rec.Seq, size: recSize}
		}
		off += recSize
	}

	s.info[p].cursor = off
	return nil
}

// Format erases every page and writes a fresh header to the first one.
// All data is lost.
func (s *Store) Format() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pages.PageCount() < 2 {
		return fmt.Errorf("kvstore: need at least 2 pages, have %d", s.pages.PageCount())
	}
	s.reset()

	for p := range s.info {
		if err := s.pages.Erase(p); err != nil {
			return fmt.Errorf("kvstore: erasing page %d: %w", p, err)
		}
	}
	if err := s.openPage(0); err != nil {
		return err
	}

	s.mounted = true
	logging.Info("Configuration store formatted", zap.Int("pages", len(s.info)))
	return nil
}

// openPage writes a header to the erased page p and makes it current.
func (s *Store) openPage(p int) error {
	if err := s.pages.Write(p, 0, encodeHeader(s.nextPageSeq)); err != nil {
		return fmt.Errorf("kvstore: writing page %d header: %w", p, err)
	}
	s.info[p] = pageInfo{seq: s.nextPageSeq, cursor: headerSize}
	s.nextPageSeq++
	s.current = p
	return nil
}

func (s *Store) erasedCount() int {
	n := 0
	for _, pi := range s.info {
		if pi.seq == 0 {
			n++
		}
	}
	return n
}

func (s *Store) liveBytes(p int) int {
	n := 0
	for _, loc := range s.index {
		if p < 0 || loc.page == p {
			n += loc.size
		}
	}
	return n
}

// oldest returns the active page with the lowest sequence number.
func (s *Store) oldest() int {
	victim := -1
	for p, pi := range s.info {
		if pi.seq == 0 {
			continue
		}
		if victim < 0 || pi.seq < s.info[victim].seq {
			victim = p
		}
	}
	return victim
}

// reclaim erases pages, other than the current one, that hold no live
// records. It restores the reserve page after an interrupted compaction.
func (s *Store) reclaim() {
	for p, pi := range s.info {
		if pi.seq == 0 || p == s.current || s.liveBytes(p) > 0 {
			continue
		}
		if !logging.TryAndLog(s.pages.Erase(p), "reclaiming configuration page") {
			continue
		}
		s.info[p] = pageInfo{}
	}
}

// reserve returns a page and offset with room for size bytes, opening a new
// page or compacting the oldest one as needed.
func (s *Store) reserve(size int) (int, int, error) {
	usable := (len(s.info) - 1) * (s.pageSize() - headerSize)
	if s.liveBytes(-1)+size > usable {
		return 0, 0, ErrStoreFull
	}

	for attempt := 0; attempt <= len(s.info); attempt++ {
		if cur := s.info[s.current]; cur.cursor+size <= s.pageSize() {
			return s.current, cur.cursor, nil
		}

		if s.erasedCount() == 0 {
			s.reclaim()
		}
		switch erased := s.erasedCount(); {
		case erased > 1:
			if err := s.openPage(s.nextErased()); err != nil {
				return 0, 0, err
			}
		case erased == 1:
			if err := s.compact(s.oldest()); err != nil {
				return 0, 0, err
			}
		default:
			return 0, 0, ErrStoreFull
		}
	}
	return 0, 0, ErrStoreFull
}

// nextErased returns the first erased page after the current one.
func (s *Store) nextErased() int {
	n := len(s.info)
	for i := 1; i <= n; i++ {
		p := (s.current + i) % n
		if s.info[p].seq == 0 {
			return p
		}
	}
	return -1
}

// compact copies the live records of victim into the reserve page, which
// becomes current, then erases victim to become the new reserve. Records are
// copied verbatim, so their sequence numbers and digests are preserved.
func (s *Store) compact(victim int) error {
	target := s.nextErased()
	if target < 0 || victim < 0 {
		return ErrStoreFull
	}

	var live []string
	for key, loc := range s.index {
		if loc.page == victim {
			live = append(live, key)
		}
	}
	sort.Slice(live, func(i, j int) bool { return s.index[live[i]].offset < s.index[live[j]].offset })

	if err := s.openPage(target); err != nil {
		return err
	}
	for _, key := range live {
		loc := s.index[key]
		raw := make([]byte, loc.size)
		if err := s.pages.Read(victim, loc.offset, raw); err != nil {
			return fmt.Errorf("kvstore: compacting page %d: %w", victim, err)
		}
		off := s.info[target].cursor
		if err := s.pages.Write(target, off, raw); err != nil {
			s.info[target].cursor = s.pageSize()
			return fmt.Errorf("kvstore: compacting page %d: %w", victim, err)
		}
		s.info[target].cursor += loc.size
		loc.page, loc.offset = target, off
		s.index[key] = loc
	}

	if err := s.pages.Erase(victim); err != nil {
		return fmt.Errorf("kvstore: erasing compacted page %d: %w", victim, err)
	}
	s.info[victim] = pageInfo{}
	logging.Debug("Compacted configuration page",
		zap.Int("page", victim),
		zap.Int("into", target),
		zap.Int("live_records", len(live)),
	)
	return nil
}

func (s *Store) readLocked(key string, maxLen int) (Value, error) {
	if !s.mounted {
		return Value{}, &StoreError{Op: OpRead, Key: key, Err: ErrNotMounted}
	}
	loc, ok := s.index[key]
	if !ok {
		return Value{}, &StoreError{Op: OpRead, Key: key, Err: ErrNotFound}
	}

	raw := make([]byte, loc.size)
	if err := s.pages.Read(loc.page, loc.offset, raw); err != nil {
		return Value{}, &StoreError{Op: OpRead, Key: key, Err: err}
	}
	n := int(binary.LittleEndian.Uint32(raw[:lenSize]))
	if n > loc.size-prefixSize-commitSize {
		return Value{}, &StoreError{Op: OpRead, Key: key, Err: fmt.Errorf("record length %d out of range", n)}
	}
	rec, err := decodePayload(raw[lenSize:prefixSize], raw[prefixSize:prefixSize+n])
	if err != nil {
		return Value{}, &StoreError{Op: OpRead, Key: key, Err: err}
	}

	if maxLen <= 0 {
		maxLen = MaxValueLen
	}
	v := Value{Data: rec.Value, Length: len(rec.Value)}
	if len(rec.Value) > maxLen {
		v.Data = rec.Value[:maxLen]
		v.Truncated = true
		logging.Warn("Stored value truncated to read buffer",
			zap.String("key", key),
			zap.Int("stored", len(rec.Value)),
			zap.Int("max", maxLen),
		)
	}
	if v.Data == nil {
		v.Data = []byte{}
	}
	return v, nil
}

// staged is a record body on flash awaiting its commit word.
type staged struct {
	key    string
	page   int
	offset int
	body   int
	seq    uint64
}

func validateRecord(key string, value []byte) error {
	switch {
	case key == "":
		return ErrEmptyKey
	case len(key) > MaxKeyLen:
		return ErrKeyTooLong
	case len(value) > MaxValueLen:
		return ErrValueTooLong
	}
	return nil
}

func (s *Store) writeBodyLocked(key string, value []byte) (*staged, error) {
	if !s.mounted {
		return nil, &StoreError{Op: OpWrite, Key: key, Err: ErrNotMounted}
	}
	if err := validateRecord(key, value); err != nil {
		return nil, &StoreError{Op: OpWrite, Key: key, Err: err}
	}

	seq := s.nextSeq
	body, err := encodeRecord(payload{Seq: seq, Key: key, Value: value})
	if err != nil {
		return nil, &StoreError{Op: OpWrite, Key: key, Err: err}
	}
	size := len(body) + commitSize

	page, off, err := s.reserve(size)
	if err != nil {
		return nil, &StoreError{Op: OpWrite, Key: key, Err: err}
	}

	s.nextSeq++
	if err := s.pages.Write(page, off, body); err != nil {
		// A failed body may leave an erased gap that stops Mount's scan,
		// so nothing may be appended after it on this page.
		s.info[page].cursor = s.pageSize()
		return nil, &StoreError{Op: OpWrite, Key: key, Err: err}
	}
	s.info[page].cursor = off + size
	return &staged{key: key, page: page, offset: off, body: len(body), seq: seq}, nil
}

func (s *Store) commitLocked(st *staged) error {
	marker := make([]byte, commitSize)
	binary.LittleEndian.PutUint32(marker, commitMarker)
	if err := s.pages.Write(st.page, st.offset+st.body, marker); err != nil {
		return &StoreError{Op: OpCommit, Key: st.key, Err: err}
	}
	s.index[st.key] = location{page: st.page, offset: st.offset, seq: st.seq, size: st.body + commitSize}
	return nil
}

// Read returns the value stored under key in its own read transaction.
// A value longer than maxLen comes back as its maxLen-byte prefix with
// Truncated set. maxLen <= 0 means MaxValueLen.
func (s *Store) Read(key string, maxLen int) (Value, error) {
	txn := s.ReadTransaction()
	defer txn.Close()
	return txn.Read(key, maxLen)
}

// Write stores value under key in its own write transaction.
func (s *Store) Write(key string, value []byte) error {
	txn := s.WriteTransaction()
	defer txn.Close()
	if err := txn.Write(key, value); err != nil {
		return err
	}
	return txn.Commit()
}

// Keys returns the live keys in sorted order.
func (s *Store) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	keys := make([]string, 0, len(s.index))
	for k := range s.index {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Usage reports page and record statistics.
func (s *Store) Usage() Usage {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.info == nil {
		return Usage{}
	}
	return Usage{
		Pages:       len(s.info),
		ErasedPages: s.erasedCount(),
		LiveRecords: len(s.index),
		LiveBytes:   s.liveBytes(-1),
		Capacity:    (len(s.info) - 1) * (s.pageSize() - headerSize),
	}
}

// Mounted reports whether the store is ready for transactions.
func (s *Store) Mounted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mounted
}
