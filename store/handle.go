// Package store implements the external Data Manager contract that PTHM
// nodes and entries are persisted through: durable handles, transactional
// resolution, mark-for-update, and removal.
package store

import (
	"fmt"

	"github.com/google/uuid"
)

// Handle is a durable, serializable identifier for an object registered
// with a Manager. The zero Handle never refers to a live object and is
// used to mean "absent" for link fields such as a node's parent or
// sibling.
type Handle struct {
	id uuid.UUID
}

// IsZero reports whether h is the absent handle.
func (h Handle) IsZero() bool {
	return h.id == uuid.Nil
}

func (h Handle) String() string {
	if h.IsZero() {
		return "<absent>"
	}
	return h.id.String()
}

func newHandle() Handle {
	return Handle{id: uuid.New()}
}

// MarshalBinary encodes h as its 16-byte UUID representation (16 zero
// bytes for the absent handle), for use by Node/Entry's own MarshalState.
func (h Handle) MarshalBinary() ([]byte, error) {
	return h.id.MarshalBinary()
}

// UnmarshalBinary decodes h from a 16-byte UUID representation.
func (h *Handle) UnmarshalBinary(data []byte) error {
	return h.id.UnmarshalBinary(data)
}

// Identified is implemented by any value that knows its own Handle once
// registered with a Manager via CreateRef. PTHM's Node and Entry both
// embed Base to satisfy it, so MarkForUpdate and RemoveObject can be
// called with just the object.
type Identified interface {
	SelfHandle() Handle
	setSelfHandle(Handle)
}

// Base is embedded by stored object types to give them a Handle once
// CreateRef assigns one: every node and entry is itself persisted and
// independently addressable.
type Base struct {
	self Handle
}

// SelfHandle returns the handle this object was registered under, or the
// zero Handle if it has not been registered yet.
func (b *Base) SelfHandle() Handle {
	return b.self
}

func (b *Base) setSelfHandle(h Handle) {
	b.self = h
}

// Cloneable is implemented by stored object types whose fields get
// mutated in place by caller code before MarkForUpdate stages them.
// Get clones on first read within a transaction and hands out that
// private copy from then on, so in-place mutation never touches the
// shared object still sitting in the Manager until Commit actually
// installs the clone. Types that don't implement it (ManagedObject
// values the caller treats as opaque) are returned as-is.
type Cloneable interface {
	Clone() any
}

// ManagedObject marks a value as a direct citizen of the store: PTHM will
// reference it by handle directly rather than boxing it. Values that do
// not implement ManagedObject are wrapped in a Box when used as a key or
// value.
type ManagedObject interface {
	isManagedObject()
}

// ManagedBase is embedded by any application type that should be treated
// as store-managed (is_managed == true) rather than boxed.
type ManagedBase struct{}

func (ManagedBase) isManagedObject() {}

// ErrNotFound is returned when a Handle no longer resolves to a live
// object within the current transaction.
var ErrNotFound = fmt.Errorf("store: object not found")
