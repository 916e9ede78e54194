package store

import (
	"context"
	"errors"
	"reflect"
	"sync"

	"github.com/prefixmap/pthm/internal/log"
	"github.com/prefixmap/pthm/metrics"
)

// Manager is an in-memory Data Manager with optimistic transactional
// concurrency: transactions accumulate a read set and a write set locally
// and only touch shared state at Commit, where a version mismatch on
// anything read aborts the whole transaction for the caller to retry.
// Persistence and replication are out of scope — this is the store PTHM
// is allowed to assume, not a general-purpose database.
type Manager struct {
	mu       sync.Mutex
	objects  map[Handle]any
	versions map[Handle]uint64

	log     *log.Logger
	metrics *metrics.Recorder
}

// ManagerOption configures a Manager at construction.
type ManagerOption func(*Manager)

// WithLogger attaches a logger used for mark-for-update/create/remove
// tracing. Defaults to a no-op logger.
func WithLogger(l *log.Logger) ManagerOption {
	return func(m *Manager) { m.log = l }
}

// WithMetrics attaches a metrics.Recorder that counts transaction
// retries seen by WithRetry.
func WithMetrics(r *metrics.Recorder) ManagerOption {
	return func(m *Manager) { m.metrics = r }
}

// NewManager constructs an empty in-memory Manager.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		objects:  make(map[Handle]any),
		versions: make(map[Handle]uint64),
		log:      log.Nop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Begin starts a new transaction. Every PTHM operation runs inside
// exactly one transaction supplied by the caller.
func (m *Manager) Begin(ctx context.Context) *Tx {
	return &Tx{
		mgr:     m,
		ctx:     ctx,
		reads:   make(map[Handle]uint64),
		writes:  make(map[Handle]any),
		removed: make(map[Handle]bool),
		cache:   make(map[Handle]any),
	}
}

// WithRetry runs fn in a fresh transaction, committing on success and
// transparently retrying the whole operation if the commit is aborted by
// a concurrent writer. PTHM's own operations are idempotent with respect
// to retry, so this is safe to layer on top.
func (m *Manager) WithRetry(ctx context.Context, fn func(tx *Tx) error) error {
	const maxAttempts = 1 << 16
	for attempt := 0; attempt < maxAttempts; attempt++ {
		tx := m.Begin(ctx)
		if err := fn(tx); err != nil {
			tx.Rollback()
			return err
		}
		err := tx.Commit()
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrTransactionAborted) {
			if m.metrics != nil {
				m.metrics.AbortRetry()
			}
			continue
		}
		return err
	}
	return ErrTransactionAborted
}

// Tx is one optimistic transaction against a Manager. All of a PTHM
// operation's effects through a Tx vanish if the enclosing transaction
// is rolled back or never committed.
type Tx struct {
	mgr *Manager
	ctx context.Context

	reads   map[Handle]uint64
	writes  map[Handle]any
	removed map[Handle]bool
	cache   map[Handle]any
	done    bool
}

// CreateRef registers a newly constructed object and returns its
// durable Handle.
func (tx *Tx) CreateRef(obj Identified) Handle {
	h := newHandle()
	obj.setSelfHandle(h)
	tx.writes[h] = obj
	tx.mgr.log.Debugf("create_ref %s (%T)", h, obj)
	return h
}

// Get resolves h to the object's current state within this transaction.
// It returns ErrNotFound if h is absent or was removed earlier in this
// transaction. The first read of a handle each transaction clones the
// object (if it implements Cloneable) before handing it back, so callers
// that mutate fields directly ahead of MarkForUpdate are working against
// a private copy, not the one other transactions can still see; every
// later Get of the same handle in this transaction returns that same
// clone, so in-place mutations stay visible to the rest of the call.
func (tx *Tx) Get(h Handle) (any, error) {
	if h.IsZero() {
		return nil, ErrNotFound
	}
	if obj, ok := tx.writes[h]; ok {
		return obj, nil
	}
	if tx.removed[h] {
		return nil, ErrNotFound
	}
	if obj, ok := tx.cache[h]; ok {
		return obj, nil
	}

	tx.mgr.mu.Lock()
	obj, ok := tx.mgr.objects[h]
	ver := tx.mgr.versions[h]
	tx.mgr.mu.Unlock()

	if !ok {
		return nil, ErrNotFound
	}
	if _, seen := tx.reads[h]; !seen {
		tx.reads[h] = ver
	}

	if cl, ok := obj.(Cloneable); ok {
		obj = cl.Clone()
	}
	tx.cache[h] = obj
	return obj, nil
}

// MarkForUpdate signals intent to write obj: it is staged into the
// transaction's write set and its current version is recorded for the
// conflict check at Commit.
func (tx *Tx) MarkForUpdate(obj Identified) error {
	h := obj.SelfHandle()
	if h.IsZero() {
		return ErrNotFound
	}
	tx.writes[h] = obj
	if _, inReads := tx.reads[h]; !inReads {
		tx.mgr.mu.Lock()
		ver, ok := tx.mgr.versions[h]
		tx.mgr.mu.Unlock()
		if ok {
			tx.reads[h] = ver
		}
	}
	tx.mgr.log.Debugf("mark_for_update %s (%T)", h, obj)
	return nil
}

// RemoveObject deletes obj from the store.
func (tx *Tx) RemoveObject(obj Identified) error {
	h := obj.SelfHandle()
	if h.IsZero() {
		return ErrNotFound
	}
	delete(tx.writes, h)
	tx.removed[h] = true
	tx.mgr.log.Debugf("remove_object %s (%T)", h, obj)
	return nil
}

// IsManaged reports whether obj is itself a direct store citizen — used
// to decide whether a key or value needs boxing.
func (tx *Tx) IsManaged(obj any) bool {
	_, ok := obj.(ManagedObject)
	return ok
}

// Commit applies the transaction's writes and removals if nothing it
// read has changed since; otherwise it returns ErrTransactionAborted and
// leaves the store untouched.
func (tx *Tx) Commit() error {
	if tx.done {
		return ErrTxClosed
	}
	tx.mgr.mu.Lock()
	defer tx.mgr.mu.Unlock()

	for h, readVer := range tx.reads {
		if tx.mgr.versions[h] != readVer {
			return ErrTransactionAborted
		}
	}

	for h := range tx.removed {
		delete(tx.mgr.objects, h)
		delete(tx.mgr.versions, h)
	}
	for h, obj := range tx.writes {
		if tx.removed[h] {
			continue
		}
		stored, err := roundTrip(h, obj)
		if err != nil {
			return err
		}
		tx.mgr.objects[h] = stored
		tx.mgr.versions[h]++
	}
	tx.done = true
	return nil
}

// roundTrip exercises a Serializable object's own MarshalState/
// UnmarshalState contract before it lands in the store, so the encoding
// a real disk/wire backend would use stays load-bearing even though this
// Manager keeps objects in memory. Objects that don't implement
// Serializable are stored as-is.
func roundTrip(h Handle, obj any) (any, error) {
	ser, ok := obj.(Serializable)
	if !ok {
		return obj, nil
	}
	data, err := ser.MarshalState()
	if err != nil {
		return nil, err
	}
	clone := reflect.New(reflect.TypeOf(obj).Elem()).Interface().(Serializable)
	if err := clone.UnmarshalState(data); err != nil {
		return nil, err
	}
	if ident, ok := clone.(Identified); ok {
		ident.setSelfHandle(h)
	}
	return clone, nil
}

// Rollback discards the transaction's effects.
func (tx *Tx) Rollback() error {
	if tx.done {
		return ErrTxClosed
	}
	tx.done = true
	return nil
}
