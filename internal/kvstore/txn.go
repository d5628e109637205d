package kvstore

// ReadTxn is a read transaction. It holds the store lock until Close.
type ReadTxn struct {
	s    *Store
	done bool
}

// ReadTransaction locks the store and returns a read transaction.
// The caller must Close it.
func (s *Store) ReadTransaction() *ReadTxn {
	s.mu.Lock()
	return &ReadTxn{s: s}
}

// Read returns the value stored under key. See Store.Read.
func (t *ReadTxn) Read(key string, maxLen int) (Value, error) {
	if t.done {
		return Value{}, &StoreError{Op: OpRead, Key: key, Err: ErrTransactionDone}
	}
	return t.s.readLocked(key, maxLen)
}

// Close releases the store lock. It is safe to call more than once.
func (t *ReadTxn) Close() {
	if t.done {
		return
	}
	t.done = true
	t.s.mu.Unlock()
}

// WriteTxn is a write transaction for a single key. Write puts the record
// body on flash; Commit writes the commit word that makes it visible.
// Closing without committing abandons the record.
type WriteTxn struct {
	s       *Store
	pending *staged
	used    bool
	done    bool
}

// WriteTransaction locks the store and returns a write transaction.
// The caller must Close it, normally via defer after Commit.
func (s *Store) WriteTransaction() *WriteTxn {
	s.mu.Lock()
	return &WriteTxn{s: s}
}

// Write stages value under key. A transaction accepts one key.
func (t *WriteTxn) Write(key string, value []byte) error {
	if t.done || t.used {
		return &StoreError{Op: OpWrite, Key: key, Err: ErrTransactionDone}
	}
	t.used = true

	st, err := t.s.writeBodyLocked(key, value)
	if err != nil {
		return err
	}
	t.pending = st
	return nil
}

// Commit makes the staged record visible and releases the store lock.
// Committing an empty transaction is a no-op.
func (t *WriteTxn) Commit() error {
	if t.done {
		return &StoreError{Op: OpCommit, Err: ErrTransactionDone}
	}
	defer t.Close()

	if t.pending == nil {
		return nil
	}
	err := t.s.commitLocked(t.pending)
	t.pending = nil
	return err
}

// Close releases the store lock, abandoning any uncommitted record.
func (t *WriteTxn) Close() {
	if t.done {
		return
	}
	t.done = true
	t.pending = nil
	t.s.mu.Unlock()
}
