package pthm

import "github.com/prefixmap/pthm/store"

// LeafIterator walks the leaf chain left to right via sibling links, with
// no global lock held across the walk. A structural change (split/merge)
// racing with an in-progress iteration is never fatal: the iterator simply
// resumes from whatever leaf now owns the sibling slot it was pointed at,
// possibly skipping or repeating entries.
//
// Usage: for it.Next() { e := it.Entry(); ... }
type LeafIterator struct {
	tx  *store.Tx
	err error

	leaf *Node // leaf currently being scanned, nil once exhausted
	idx  int   // next bucket index to examine in leaf
	next Handle // handle of the entry the next call to Next() loads

	cur *Entry // entry returned by the most recent Next()
}

// newLeafIterator starts iteration at the leftmost leaf reachable from
// root.
func newLeafIterator(tx *store.Tx, root Handle) *LeafIterator {
	it := &LeafIterator{tx: tx}
	n, err := loadNode(tx, root)
	if err != nil {
		it.err = err
		return it
	}
	for !n.IsLeaf() {
		n, err = loadNode(tx, n.leftChild)
		if err != nil {
			it.err = err
			return it
		}
	}
	it.leaf = n
	it.seekNext()
	return it
}

// seekNext advances (leaf, idx) to the next occupied bucket slot,
// crossing right-sibling links as needed, and stores its head handle in
// it.next. It leaves it.leaf nil once the chain is exhausted.
func (it *LeafIterator) seekNext() {
	for it.leaf != nil {
		for it.idx < len(it.leaf.buckets) {
			if head := it.leaf.buckets[it.idx]; !head.IsZero() {
				it.next = head
				return
			}
			it.idx++
		}
		if it.leaf.rightSibling.IsZero() {
			it.leaf = nil
			return
		}
		sib, err := loadNode(it.tx, it.leaf.rightSibling)
		if err != nil {
			it.err = err
			it.leaf = nil
			return
		}
		it.leaf = sib
		it.idx = 0
	}
}

// Next advances the iterator, returning false once no entries remain or
// an error has occurred. Err reports which case it was.
func (it *LeafIterator) Next() bool {
	if it.err != nil || it.next.IsZero() {
		return false
	}

	entry, err := loadEntry(it.tx, it.next)
	if err != nil {
		it.err = err
		return false
	}
	it.cur = entry

	if !entry.next.IsZero() {
		it.next = entry.next
		return true
	}
	it.idx++
	it.next = Handle{}
	it.seekNext()
	return true
}

// Entry returns the entry the most recent successful Next() call landed
// on.
func (it *LeafIterator) Entry() *Entry {
	return it.cur
}

// Err reports any error encountered while walking the leaf chain.
func (it *LeafIterator) Err() error {
	return it.err
}

// Remove is unsupported: removal belongs on Map, which can retry against
// a structural change the way a mid-walk iterator cannot. It always
// returns ErrUnsupportedOperation.
func (it *LeafIterator) Remove() error {
	return ErrUnsupportedOperation
}
