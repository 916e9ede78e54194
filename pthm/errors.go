package pthm

import (
	"errors"
	"fmt"

	"github.com/prefixmap/pthm/store"
)

// ErrInvalidArgument is returned by New when a construction option is out
// of range.
var ErrInvalidArgument = errors.New("pthm: invalid argument")

// ErrUnsupportedOperation is returned by LeafIterator.Remove, which is
// not implemented.
var ErrUnsupportedOperation = errors.New("pthm: unsupported operation")

// ErrObjectNotFound is store.ErrNotFound itself, re-exported under this
// package's name; PTHM operations pass it through unchanged.
var ErrObjectNotFound = store.ErrNotFound

// ErrTransactionAborted is store.ErrTransactionAborted itself,
// re-exported under this package's name.
var ErrTransactionAborted = store.ErrTransactionAborted

func invalidArgf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// corrupt panics with an assertion failure. Invariant violations detected
// internally (a node of the wrong variant, a handle resolving to the wrong
// type, an entry missing from its own bucket chain) are fatal — they
// indicate corruption, not a runtime condition to recover from, so PTHM
// never returns an error for them.
func corrupt(format string, args ...interface{}) {
	panic(fmt.Sprintf("pthm: corrupted tree: "+format, args...))
}
