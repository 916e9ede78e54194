package pthm

import (
	"github.com/prefixmap/pthm/internal/log"
	"github.com/prefixmap/pthm/metrics"
	"github.com/prefixmap/pthm/store"
)

// engine carries out the structural operations of the split/merge engine
// and the recursive parts of Clear. None of it needs to know the key/value
// types a Map was instantiated with — entries are moved around by handle,
// never decoded — so it is kept as a plain, non-generic type that
// Map[K, V] embeds.
type engine struct {
	log     *log.Logger
	metrics *metrics.Recorder
}

func newEngine(l *log.Logger, m *metrics.Recorder) *engine {
	if l == nil {
		l = log.Nop()
	}
	return &engine{log: l, metrics: m}
}

// ensureDepth pre-splits node (by handle) until every leaf beneath it is
// at least minDepth, top-down: split, then recurse into the right child's
// subtree before the left's. Each split repairs its neighbours' sibling
// links through handles, so the finished leaf chain is correctly wired.
func (e *engine) ensureDepth(tx *store.Tx, h Handle, minDepth int) error {
	n, err := loadNode(tx, h)
	if err != nil {
		return err
	}
	if n.depth >= minDepth {
		return nil
	}
	if err := e.splitLeaf(tx, n); err != nil {
		return err
	}
	if err := e.ensureDepth(tx, n.rightChild, minDepth); err != nil {
		return err
	}
	return e.ensureDepth(tx, n.leftChild, minDepth)
}

// splitLeaf divides a leaf in two when it outgrows its capacity.
// Precondition: self is a leaf.
func (e *engine) splitLeaf(tx *store.Tx, self *Node) error {
	if !self.IsLeaf() {
		corrupt("splitLeaf called on an internal node (handle %s)", self.SelfHandle())
	}

	if err := tx.MarkForUpdate(self); err != nil {
		return err
	}

	params := self.params()
	left := newLeaf(self.depth+1, params)
	right := newLeaf(self.depth+1, params)
	leftHandle := tx.CreateRef(left)
	rightHandle := tx.CreateRef(right)

	// Partition every entry by the top bit of (hash << depth). Insertion
	// here skips the split check entirely.
	for _, head := range self.buckets {
		for cur := head; !cur.IsZero(); {
			entry, err := loadEntry(tx, cur)
			if err != nil {
				return err
			}
			next := entry.next

			var target *Node
			if (entry.hash<<uint(self.depth))>>31 == 1 {
				target = left
			} else {
				target = right
			}
			if err := e.insertNoSplit(tx, target, entry); err != nil {
				return err
			}

			cur = next
		}
	}

	// self becomes internal: drop its bucket array and zero its count.
	self.buckets = nil
	self.occupancy = nil
	self.count = 0

	// Rewire sibling links.
	oldLeftSibling := self.leftSibling
	oldRightSibling := self.rightSibling

	if !oldLeftSibling.IsZero() {
		ls, err := loadNode(tx, oldLeftSibling)
		if err != nil {
			return err
		}
		if err := tx.MarkForUpdate(ls); err != nil {
			return err
		}
		ls.rightSibling = leftHandle
	}
	if !oldRightSibling.IsZero() {
		rs, err := loadNode(tx, oldRightSibling)
		if err != nil {
			return err
		}
		if err := tx.MarkForUpdate(rs); err != nil {
			return err
		}
		rs.leftSibling = rightHandle
	}

	selfHandle := self.SelfHandle()
	left.rightSibling = rightHandle
	left.leftSibling = oldLeftSibling
	left.parent = selfHandle
	right.leftSibling = leftHandle
	right.rightSibling = oldRightSibling
	right.parent = selfHandle

	self.leftChild = leftHandle
	self.rightChild = rightHandle
	self.leftSibling = Handle{}
	self.rightSibling = Handle{}

	if err := tx.MarkForUpdate(left); err != nil {
		return err
	}
	if err := tx.MarkForUpdate(right); err != nil {
		return err
	}

	e.log.Infof("split leaf %s at depth %d into %s/%s", selfHandle, self.depth, leftHandle, rightHandle)
	if e.metrics != nil {
		e.metrics.Split()
	}
	return nil
}

// insertNoSplit prepends entry to target's bucket chain (recomputing the
// bucket index for target's own table size) and marks both for update,
// without checking target's split threshold — used by splitLeaf and
// mergeParent, which perform their own bulk reshaping and must not
// trigger a nested split mid-reshape.
func (e *engine) insertNoSplit(tx *store.Tx, target *Node, entry *Entry) error {
	idx := bucketIndex(entry.hash, len(target.buckets))
	entry.next = target.buckets[idx]
	target.buckets[idx] = entry.SelfHandle()
	target.setOccupied(idx)
	target.count++
	if err := tx.MarkForUpdate(entry); err != nil {
		return err
	}
	return tx.MarkForUpdate(target)
}

// mergeParent collapses self's two children back into self when both are
// leaves and their average count does not exceed self's splitThreshold;
// otherwise it returns false. It does not check the children's merge
// threshold — deciding that a merge is wanted is the caller's job.
// self must be internal.
// This deliberately merges even when self is the root (self.parent is
// zero): refusing a root-level merge would stop the tree from ever
// contracting back to a single leaf after a bulk removal. See DESIGN.md.
func (e *engine) mergeParent(tx *store.Tx, self *Node) (bool, error) {
	if self.IsLeaf() {
		corrupt("mergeParent called on a leaf node (handle %s)", self.SelfHandle())
	}

	left, err := loadNode(tx, self.leftChild)
	if err != nil {
		return false, err
	}
	right, err := loadNode(tx, self.rightChild)
	if err != nil {
		return false, err
	}

	if !left.IsLeaf() || !right.IsLeaf() {
		return false, nil // only same-level leaves merge
	}
	if (left.count+right.count)/2 > self.splitThreshold {
		return false, nil // would immediately re-split
	}

	if err := tx.MarkForUpdate(self); err != nil {
		return false, err
	}

	self.buckets = make([]Handle, len(left.buckets))
	self.occupancy = newOccupancy(len(left.buckets))
	self.count = 0

	for _, head := range left.buckets {
		for cur := head; !cur.IsZero(); {
			entry, err := loadEntry(tx, cur)
			if err != nil {
				return false, err
			}
			next := entry.next
			if err := e.insertNoSplit(tx, self, entry); err != nil {
				return false, err
			}
			cur = next
		}
	}
	for _, head := range right.buckets {
		for cur := head; !cur.IsZero(); {
			entry, err := loadEntry(tx, cur)
			if err != nil {
				return false, err
			}
			next := entry.next
			if err := e.insertNoSplit(tx, self, entry); err != nil {
				return false, err
			}
			cur = next
		}
	}

	self.leftSibling = left.leftSibling
	self.rightSibling = right.rightSibling
	selfHandle := self.SelfHandle()

	if !self.leftSibling.IsZero() {
		ls, err := loadNode(tx, self.leftSibling)
		if err != nil {
			return false, err
		}
		if err := tx.MarkForUpdate(ls); err != nil {
			return false, err
		}
		ls.rightSibling = selfHandle
	}
	if !self.rightSibling.IsZero() {
		rs, err := loadNode(tx, self.rightSibling)
		if err != nil {
			return false, err
		}
		if err := tx.MarkForUpdate(rs); err != nil {
			return false, err
		}
		rs.leftSibling = selfHandle
	}

	self.leftChild = Handle{}
	self.rightChild = Handle{}

	if err := tx.RemoveObject(left); err != nil {
		return false, err
	}
	if err := tx.RemoveObject(right); err != nil {
		return false, err
	}

	e.log.Infof("merged %s/%s into %s at depth %d", left.SelfHandle(), right.SelfHandle(), selfHandle, self.depth)
	if e.metrics != nil {
		e.metrics.Merge()
	}
	return true, nil
}

// destroyEntryBoxes removes any store.Box PTHM allocated for entry's key
// or value. Managed objects (not boxed) are never touched here — their
// lifetime belongs to the caller.
func destroyEntryBoxes(tx *store.Tx, entry *Entry) error {
	if entry.keyBoxed {
		obj, err := tx.Get(entry.keyRef)
		if err != nil && err != store.ErrNotFound {
			return err
		}
		if err == nil {
			if err := tx.RemoveObject(obj.(store.Identified)); err != nil {
				return err
			}
		}
	}
	if entry.valueBoxed {
		obj, err := tx.Get(entry.valueRef)
		if err != nil && err != store.ErrNotFound {
			return err
		}
		if err == nil {
			if err := tx.RemoveObject(obj.(store.Identified)); err != nil {
				return err
			}
		}
	}
	return nil
}

// clearNode recursively clears the subtree rooted at h: leaves have their
// entries' boxes destroyed; internal nodes recurse into both children and
// then remove them from the store. h itself is never removed by
// clearNode — the caller (Map.Clear) repairs the root in place instead.
func (e *engine) clearNode(tx *store.Tx, h Handle) error {
	n, err := loadNode(tx, h)
	if err != nil {
		return err
	}
	if err := tx.MarkForUpdate(n); err != nil {
		return err
	}

	if n.IsLeaf() {
		for _, head := range n.buckets {
			for cur := head; !cur.IsZero(); {
				entry, err := loadEntry(tx, cur)
				if err != nil {
					return err
				}
				next := entry.next
				if err := destroyEntryBoxes(tx, entry); err != nil {
					return err
				}
				if err := tx.RemoveObject(entry); err != nil {
					return err
				}
				cur = next
			}
		}
		n.buckets = make([]Handle, len(n.buckets))
		n.occupancy = newOccupancy(len(n.buckets))
		n.count = 0
		return nil
	}

	left, err := loadNode(tx, n.leftChild)
	if err != nil {
		return err
	}
	right, err := loadNode(tx, n.rightChild)
	if err != nil {
		return err
	}
	if err := e.clearNode(tx, n.leftChild); err != nil {
		return err
	}
	if err := e.clearNode(tx, n.rightChild); err != nil {
		return err
	}
	if err := tx.RemoveObject(left); err != nil {
		return err
	}
	return tx.RemoveObject(right)
}
