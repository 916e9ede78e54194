package pthm

import "github.com/prefixmap/pthm/store"

// Handle re-exports store.Handle so callers of this package don't need
// to import store directly just to hold one (e.g. to keep a root Handle
// between transactions).
type Handle = store.Handle

// Hasher supplies the two operations PTHM needs from a key type that Go's
// comparable constraint cannot express by itself: a hash code and an
// equality test.
type Hasher[K any] interface {
	Hash(key K) uint32
	Equal(a, b K) bool
}

// mixHash re-hashes h to spread its bits into the top bits the trie
// router actually consumes, using a shift-xor cascade ported to uint32.
func mixHash(h uint32) uint32 {
	h ^= (h >> 20) ^ (h >> 12)
	return h ^ (h >> 7) ^ (h >> 4)
}

// bucketIndex returns the bucket slot for a mixed hash given the number
// of buckets in a leaf's table: hash & (length-1). length must be a power
// of two.
func bucketIndex(hash uint32, length int) int {
	return int(hash) & (length - 1)
}
