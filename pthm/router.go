package pthm

import "github.com/prefixmap/pthm/store"

// maxDepth bounds how deep a leaf may ever sit. Splitting and routing
// both stop one short of it (depth < maxDepth-1), so the deepest leaf
// reachable is maxDepth-1, not maxDepth: that keeps lookup's bit-shift
// loop from ever landing on an internal node it can't descend past. See
// DESIGN.md for why this diverges from a literal depth <= maxDepth bound.
const maxDepth = 32

// loadNode resolves h to a *Node within tx, translating a missing handle
// into the package's ObjectNotFound error and panicking on any other
// type living behind the handle (a mixed-variant or foreign object there
// would be store corruption).
func loadNode(tx *store.Tx, h Handle) (*Node, error) {
	obj, err := tx.Get(h)
	if err != nil {
		return nil, err
	}
	n, ok := obj.(*Node)
	if !ok {
		corrupt("handle %s does not resolve to a Node (got %T)", h, obj)
	}
	return n, nil
}

// loadEntry resolves h to an *Entry within tx.
func loadEntry(tx *store.Tx, h Handle) (*Entry, error) {
	obj, err := tx.Get(h)
	if err != nil {
		return nil, err
	}
	e, ok := obj.(*Entry)
	if !ok {
		corrupt("handle %s does not resolve to an Entry (got %T)", h, obj)
	}
	return e, nil
}

// lookup walks from root, while the current node is internal and its
// depth is below 31, consuming the hash's high bit (1 => left, 0 =>
// right) and shifting left by one. hash is passed by value, so the
// caller's copy is left untouched.
func lookup(tx *store.Tx, root Handle, hash uint32) (*Node, error) {
	cur, err := loadNode(tx, root)
	if err != nil {
		return nil, err
	}
	for !cur.IsLeaf() && cur.depth < maxDepth-1 {
		var next Handle
		if hash>>31 == 1 {
			next = cur.leftChild
		} else {
			next = cur.rightChild
		}
		cur, err = loadNode(tx, next)
		if err != nil {
			return nil, err
		}
		hash <<= 1
	}
	return cur, nil
}
