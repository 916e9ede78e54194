package pthm

import "github.com/prefixmap/pthm/store"

// Entry is a single key/value binding plus its bucket-chain link. It is
// itself an independent store object — a leaf's serialized form need only
// carry the handles of its bucket heads, and an entry's chain link is
// likewise a handle rather than an in-memory pointer: cross-object
// references here are durable handles, never owning pointers.
type Entry struct {
	store.Base

	hash uint32

	keyRef   store.Handle
	valueRef store.Handle

	// keyBoxed/valueBoxed record whether keyRef/valueRef point at a
	// store.Box wrapper rather than directly at a ManagedObject.
	keyBoxed   bool
	valueBoxed bool

	next store.Handle
}

// Clone returns a private copy of e. Entry has no slice fields, so a
// plain struct copy is already deep enough.
func (e *Entry) Clone() any {
	clone := *e
	return &clone
}
