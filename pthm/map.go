package pthm

import (
	"math/bits"
	"reflect"

	"github.com/prefixmap/pthm/store"
)

// Map is a prefix-tree hash map over key type K and value type V, backed
// by a store.Manager. It holds no state outside its own fields — root is
// a durable Handle, so a Map can be reopened by any holder of that Handle
// and a Hasher in a later transaction; its nodes are reached purely
// through handles rather than a live object graph.
type Map[K, V any] struct {
	*engine

	root   Handle
	hasher Hasher[K]
	cfg    config
}

// MapEntry is a materialized key/value pair returned by Entries.
type MapEntry[K, V any] struct {
	Key   K
	Value V
}

// New constructs a fresh, empty Map and returns its root Handle's owner.
// hasher must not be nil. minDepth is derived from WithMinConcurrency:
// the root is pre-split, top-down, until the tree has at least that
// many leaves, so that concurrent writers starting from a cold map don't
// immediately collide on a single leaf.
func New[K, V any](tx *store.Tx, hasher Hasher[K], opts ...Option) (*Map[K, V], error) {
	if hasher == nil {
		return nil, invalidArgf("hasher must not be nil")
	}
	cfg, err := buildConfig(opts)
	if err != nil {
		return nil, err
	}

	params := newParams{
		leafCapacity:   cfg.leafCapacity,
		splitFactor:    cfg.splitFactor,
		mergeFactor:    cfg.mergeFactor,
		minConcurrency: cfg.minConcurrency,
		mergeMode:      cfg.mergeMode,
	}
	params.minDepth = minDepthFor(cfg.minConcurrency)

	root := newLeaf(0, params)
	rootHandle := tx.CreateRef(root)

	m := &Map[K, V]{
		engine: newEngine(cfg.log, cfg.metrics),
		root:   rootHandle,
		hasher: hasher,
		cfg:    cfg,
	}

	if params.minDepth > 0 {
		if err := m.ensureDepth(tx, rootHandle, params.minDepth); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Open reopens a Map previously built by New, given the root Handle it
// returned. The caller is responsible for supplying the same Hasher and
// compatible options; Open does not re-derive tuning parameters, which
// live on the persisted nodes themselves.
func Open[K, V any](hasher Hasher[K], root Handle, opts ...Option) (*Map[K, V], error) {
	if hasher == nil {
		return nil, invalidArgf("hasher must not be nil")
	}
	if root.IsZero() {
		return nil, invalidArgf("root handle must not be the zero handle")
	}
	cfg, err := buildConfig(opts)
	if err != nil {
		return nil, err
	}
	return &Map[K, V]{
		engine: newEngine(cfg.log, cfg.metrics),
		root:   root,
		hasher: hasher,
		cfg:    cfg,
	}, nil
}

// Root returns the Map's root Handle, to be saved by the caller for a
// later Open.
func (m *Map[K, V]) Root() Handle {
	return m.root
}

// minDepthFor returns the smallest d such that 2^d >= n.
func minDepthFor(n int) int {
	if n <= 1 {
		return 0
	}
	return bits.Len(uint(n - 1))
}

// Get returns the value associated with key, if any.
func (m *Map[K, V]) Get(tx *store.Tx, key K) (V, bool, error) {
	var zero V
	hash := mixHash(m.hasher.Hash(key))
	leaf, err := lookup(tx, m.root, hash)
	if err != nil {
		return zero, false, err
	}
	entry, _, err := m.findInLeaf(tx, leaf, hash, key)
	if err != nil {
		return zero, false, err
	}
	if m.metrics != nil {
		m.metrics.Get()
	}
	if entry == nil {
		return zero, false, nil
	}
	v, err := resolveRef[V](tx, entry.valueRef, entry.valueBoxed)
	if err != nil {
		return zero, false, err
	}
	return v, true, nil
}

// ContainsKey reports whether key is present.
func (m *Map[K, V]) ContainsKey(tx *store.Tx, key K) (bool, error) {
	_, ok, err := m.Get(tx, key)
	return ok, err
}

// ContainsValue reports whether any entry's value equals value, under
// reflect.DeepEqual: unlike key lookup, value identity has no Hasher to
// lean on, so this is a full O(n) scan.
func (m *Map[K, V]) ContainsValue(tx *store.Tx, value V) (bool, error) {
	it := newLeafIterator(tx, m.root)
	for it.Next() {
		e := it.Entry()
		v, err := resolveRef[V](tx, e.valueRef, e.valueBoxed)
		if err != nil {
			return false, err
		}
		if reflect.DeepEqual(v, value) {
			return true, nil
		}
	}
	return false, it.Err()
}

// Put associates key with value, returning the previous value and
// whether one existed.
func (m *Map[K, V]) Put(tx *store.Tx, key K, value V) (V, bool, error) {
	var zero V
	hash := mixHash(m.hasher.Hash(key))
	leaf, err := lookup(tx, m.root, hash)
	if err != nil {
		return zero, false, err
	}
	entry, idx, err := m.findInLeaf(tx, leaf, hash, key)
	if err != nil {
		return zero, false, err
	}
	if m.metrics != nil {
		m.metrics.Put()
	}

	if entry != nil {
		old, err := resolveRef[V](tx, entry.valueRef, entry.valueBoxed)
		if err != nil {
			return zero, false, err
		}
		newRef, newBoxed, err := updateRef(tx, entry.valueRef, entry.valueBoxed, value)
		if err != nil {
			return zero, false, err
		}
		entry.valueRef, entry.valueBoxed = newRef, newBoxed
		if err := tx.MarkForUpdate(entry); err != nil {
			return zero, false, err
		}
		return old, true, nil
	}

	keyRef, keyBoxed, err := storeRef(tx, key)
	if err != nil {
		return zero, false, err
	}
	valueRef, valueBoxed, err := storeRef(tx, value)
	if err != nil {
		return zero, false, err
	}

	newEntry := &Entry{
		hash:       hash,
		keyRef:     keyRef,
		valueRef:   valueRef,
		keyBoxed:   keyBoxed,
		valueBoxed: valueBoxed,
		next:       leaf.buckets[idx],
	}
	tx.CreateRef(newEntry)
	leaf.buckets[idx] = newEntry.SelfHandle()
	leaf.setOccupied(idx)
	leaf.count++
	if err := tx.MarkForUpdate(leaf); err != nil {
		return zero, false, err
	}

	if leaf.count > leaf.splitThreshold && leaf.depth < maxDepth-1 {
		if err := m.splitLeaf(tx, leaf); err != nil {
			return zero, false, err
		}
	}
	return zero, false, nil
}

// Remove deletes key's entry, if any, returning its value. A removal
// that leaves its leaf's count below the merge threshold may trigger one
// or more merges up the tree.
func (m *Map[K, V]) Remove(tx *store.Tx, key K) (V, bool, error) {
	var zero V
	hash := mixHash(m.hasher.Hash(key))
	leaf, err := lookup(tx, m.root, hash)
	if err != nil {
		return zero, false, err
	}
	entry, idx, err := m.findInLeaf(tx, leaf, hash, key)
	if err != nil {
		return zero, false, err
	}
	if m.metrics != nil {
		m.metrics.Remove()
	}
	if entry == nil {
		return zero, false, nil
	}

	old, err := resolveRef[V](tx, entry.valueRef, entry.valueBoxed)
	if err != nil {
		return zero, false, err
	}

	if err := m.unlink(tx, leaf, idx, entry); err != nil {
		return zero, false, err
	}
	if err := destroyEntryBoxes(tx, entry); err != nil {
		return zero, false, err
	}
	if err := tx.RemoveObject(entry); err != nil {
		return zero, false, err
	}

	if err := m.maybeMerge(tx, leaf.SelfHandle()); err != nil {
		return zero, false, err
	}
	return old, true, nil
}

// unlink splices entry out of leaf's bucket idx chain.
func (m *Map[K, V]) unlink(tx *store.Tx, leaf *Node, idx int, entry *Entry) error {
	if err := tx.MarkForUpdate(leaf); err != nil {
		return err
	}
	if leaf.buckets[idx] == entry.SelfHandle() {
		leaf.buckets[idx] = entry.next
		if leaf.buckets[idx].IsZero() {
			leaf.setUnoccupied(idx)
		}
		leaf.count--
		return nil
	}
	for cur := leaf.buckets[idx]; !cur.IsZero(); {
		prev, err := loadEntry(tx, cur)
		if err != nil {
			return err
		}
		if prev.next == entry.SelfHandle() {
			if err := tx.MarkForUpdate(prev); err != nil {
				return err
			}
			prev.next = entry.next
			leaf.count--
			return nil
		}
		cur = prev.next
	}
	corrupt("entry %s not found in its own bucket chain", entry.SelfHandle())
	return nil
}

// maybeMerge walks upward from leaf h, merging each underfull node's
// parent into a leaf and continuing from there, until a node is no
// longer underfull, sits at minDepth, or has no parent. A merged parent
// that absorbed two nearly-empty children is itself very likely
// underfull with respect to its own siblings, and nothing but this walk
// ever re-examines it: once a leaf empties out, no future Remove targets
// it again to trigger a second check, so contraction after a bulk
// removal (spec scenario: insert enough to split repeatedly, then remove
// everything) depends on cascading all the way up in this one call.
func (m *Map[K, V]) maybeMerge(tx *store.Tx, h Handle) error {
	for {
		n, err := loadNode(tx, h)
		if err != nil {
			return err
		}
		if !n.IsLeaf() || n.count >= n.mergeThreshold || n.depth <= n.minDepth || n.parent.IsZero() {
			return nil
		}
		parent, err := loadNode(tx, n.parent)
		if err != nil {
			return err
		}
		merged, err := m.mergeParent(tx, parent)
		if err != nil {
			return err
		}
		if !merged {
			return nil
		}
		h = parent.SelfHandle()
	}
}

// findInLeaf scans leaf's bucket chain for a matching hash+key, using
// hasher.Equal to break hash collisions. It returns the bucket index
// regardless of whether an entry was found, since Put needs it either way.
func (m *Map[K, V]) findInLeaf(tx *store.Tx, leaf *Node, hash uint32, key K) (*Entry, int, error) {
	idx := bucketIndex(hash, len(leaf.buckets))
	for cur := leaf.buckets[idx]; !cur.IsZero(); {
		entry, err := loadEntry(tx, cur)
		if err != nil {
			return nil, idx, err
		}
		if entry.hash == hash {
			k, err := resolveRef[K](tx, entry.keyRef, entry.keyBoxed)
			if err != nil {
				return nil, idx, err
			}
			if m.hasher.Equal(k, key) {
				return entry, idx, nil
			}
		}
		cur = entry.next
	}
	return nil, idx, nil
}

// Size returns the total number of entries across every leaf.
func (m *Map[K, V]) Size(tx *store.Tx) (int, error) {
	n, err := loadNode(tx, m.root)
	if err != nil {
		return 0, err
	}
	for !n.IsLeaf() {
		n, err = loadNode(tx, n.leftChild)
		if err != nil {
			return 0, err
		}
	}
	total := 0
	for n != nil {
		total += n.count
		if n.rightSibling.IsZero() {
			break
		}
		n, err = loadNode(tx, n.rightSibling)
		if err != nil {
			return 0, err
		}
	}
	return total, nil
}

// IsEmpty reports whether the map holds no entries. This walks every leaf
// (like Size) rather than trusting a single leaf's count, since a
// leftmost-leaf-only check would be wrong whenever any other leaf is
// non-empty.
func (m *Map[K, V]) IsEmpty(tx *store.Tx) (bool, error) {
	size, err := m.Size(tx)
	return size == 0, err
}

// Clear removes every entry, destroying boxed keys/values and collapsing
// the tree back to a single leaf, which is then pre-split again to the
// root's minDepth when that is above zero. Managed keys/values are left untouched;
// only PTHM's own boxes and nodes are removed.
func (m *Map[K, V]) Clear(tx *store.Tx) error {
	root, err := loadNode(tx, m.root)
	if err != nil {
		return err
	}
	if err := tx.MarkForUpdate(root); err != nil {
		return err
	}

	if root.IsLeaf() {
		if err := m.clearNode(tx, m.root); err != nil {
			return err
		}
	} else {
		left, right := root.leftChild, root.rightChild
		if err := m.clearNode(tx, left); err != nil {
			return err
		}
		if err := m.clearNode(tx, right); err != nil {
			return err
		}
		leftNode, err := loadNode(tx, left)
		if err != nil {
			return err
		}
		rightNode, err := loadNode(tx, right)
		if err != nil {
			return err
		}
		if err := tx.RemoveObject(leftNode); err != nil {
			return err
		}
		if err := tx.RemoveObject(rightNode); err != nil {
			return err
		}
		root.buckets = make([]Handle, root.leafCapacity)
		root.occupancy = newOccupancy(root.leafCapacity)
		root.count = 0
		root.depth = 0
		root.leftChild = Handle{}
		root.rightChild = Handle{}
	}

	if root.minDepth > 0 {
		return m.ensureDepth(tx, m.root, root.minDepth)
	}
	return nil
}

// PutAll copies every entry of src into m.
func (m *Map[K, V]) PutAll(tx *store.Tx, src map[K]V) error {
	for k, v := range src {
		if _, _, err := m.Put(tx, k, v); err != nil {
			return err
		}
	}
	return nil
}

// Entries materializes every key/value pair, leaf by leaf along the
// sibling chain and in ascending bucket order within each leaf.
// There is no snapshot isolation across the walk; see LeafIterator.
func (m *Map[K, V]) Entries(tx *store.Tx) ([]MapEntry[K, V], error) {
	var out []MapEntry[K, V]
	it := newLeafIterator(tx, m.root)
	for it.Next() {
		e := it.Entry()
		k, err := resolveRef[K](tx, e.keyRef, e.keyBoxed)
		if err != nil {
			return nil, err
		}
		v, err := resolveRef[V](tx, e.valueRef, e.valueBoxed)
		if err != nil {
			return nil, err
		}
		out = append(out, MapEntry[K, V]{Key: k, Value: v})
	}
	return out, it.Err()
}

// Keys materializes every key.
func (m *Map[K, V]) Keys(tx *store.Tx) ([]K, error) {
	var out []K
	it := newLeafIterator(tx, m.root)
	for it.Next() {
		e := it.Entry()
		k, err := resolveRef[K](tx, e.keyRef, e.keyBoxed)
		if err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, it.Err()
}

// Values materializes every value.
func (m *Map[K, V]) Values(tx *store.Tx) ([]V, error) {
	var out []V
	it := newLeafIterator(tx, m.root)
	for it.Next() {
		e := it.Entry()
		v, err := resolveRef[V](tx, e.valueRef, e.valueBoxed)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, it.Err()
}

// storeRef produces a Handle for v, boxing it first unless it is itself
// a managed store object.
func storeRef[T any](tx *store.Tx, v T) (Handle, bool, error) {
	if tx.IsManaged(v) {
		ident, ok := any(v).(store.Identified)
		if !ok {
			corrupt("value implements store.ManagedObject but not store.Identified (%T)", v)
		}
		h := ident.SelfHandle()
		if h.IsZero() {
			return Handle{}, false, invalidArgf("managed value of type %T has no handle; register it with CreateRef before inserting", v)
		}
		return h, false, nil
	}
	box := store.NewBox(v)
	h := tx.CreateRef(box)
	return h, true, nil
}

// updateRef replaces the value behind ref/boxed with newVal, reusing the
// existing Box in place when possible instead of allocating a new one.
func updateRef[T any](tx *store.Tx, ref Handle, boxed bool, newVal T) (Handle, bool, error) {
	managed := tx.IsManaged(newVal)

	if boxed && !managed {
		obj, err := tx.Get(ref)
		if err != nil {
			return Handle{}, false, err
		}
		box, ok := obj.(*store.Box[T])
		if !ok {
			corrupt("handle %s does not resolve to a Box[%T] (got %T)", ref, newVal, obj)
		}
		box.Set(newVal)
		if err := tx.MarkForUpdate(box); err != nil {
			return Handle{}, false, err
		}
		return ref, true, nil
	}

	if boxed {
		if obj, err := tx.Get(ref); err == nil {
			if ident, ok := obj.(store.Identified); ok {
				if err := tx.RemoveObject(ident); err != nil {
					return Handle{}, false, err
				}
			}
		}
	}
	return storeRef(tx, newVal)
}

// resolveRef loads the value behind ref, unwrapping a Box if boxed is
// set.
func resolveRef[T any](tx *store.Tx, ref Handle, boxed bool) (T, error) {
	var zero T
	obj, err := tx.Get(ref)
	if err != nil {
		return zero, err
	}
	if boxed {
		box, ok := obj.(*store.Box[T])
		if !ok {
			corrupt("handle %s does not resolve to a Box[%T] (got %T)", ref, zero, obj)
		}
		return box.Get(), nil
	}
	v, ok := obj.(T)
	if !ok {
		corrupt("handle %s does not resolve to a %T (got %T)", ref, zero, obj)
	}
	return v, nil
}
