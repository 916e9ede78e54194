package pthm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prefixmap/pthm/store"
)

// putRaw inserts a key/value pair without going through Map, for tests
// that want to drive the engine directly.
func putRaw(t *testing.T, tx *store.Tx, e *engine, root Handle, key, value string) *Node {
	t.Helper()
	return putRawHash(t, tx, e, root, mixHash(StringHasher{}.Hash(key)), key, value)
}

// putRawHash is putRaw with an explicit hash, for tests that need to
// control exactly which side of a split an entry lands on rather than
// depend on what a real string happens to mix to.
func putRawHash(t *testing.T, tx *store.Tx, e *engine, root Handle, hash uint32, key, value string) *Node {
	t.Helper()
	leaf, err := lookup(tx, root, hash)
	require.NoError(t, err)

	idx := bucketIndex(hash, len(leaf.buckets))
	keyRef := tx.CreateRef(store.NewBox(key))
	valRef := tx.CreateRef(store.NewBox(value))
	entry := &Entry{hash: hash, keyRef: keyRef, valueRef: valRef, keyBoxed: true, valueBoxed: true, next: leaf.buckets[idx]}
	tx.CreateRef(entry)
	leaf.buckets[idx] = entry.SelfHandle()
	leaf.setOccupied(idx)
	leaf.count++
	require.NoError(t, tx.MarkForUpdate(leaf))

	if leaf.count > leaf.splitThreshold && leaf.depth < maxDepth-1 {
		require.NoError(t, e.splitLeaf(tx, leaf))
	}
	return leaf
}

func TestSplitLeaf_RoutesEntriesByTopBit(t *testing.T) {
	t.Parallel()

	mgr := store.NewManager()
	eng := newEngine(nil, nil)

	var root Handle
	require.NoError(t, mgr.WithRetry(context.Background(), func(tx *store.Tx) error {
		root = tx.CreateRef(newLeaf(0, newParams{leafCapacity: 4, splitFactor: 0.75, mergeMode: MergeThresholdCorrected}))
		return nil
	}))

	// Six hashes, alternating top bit, chosen so the triggering 4th insert
	// (leafCapacity 4, splitThreshold 3) splits root with two entries on
	// each side, and the two inserts that follow land one per side without
	// pushing either past its own threshold and re-splitting.
	hashes := []uint32{0x00000001, 0x80000001, 0x00000002, 0x80000002, 0x00000003, 0x80000003}
	require.NoError(t, mgr.WithRetry(context.Background(), func(tx *store.Tx) error {
		for i, h := range hashes {
			putRawHash(t, tx, eng, root, h, string(rune('a'+i)), "v")
		}
		return nil
	}))

	require.NoError(t, mgr.WithRetry(context.Background(), func(tx *store.Tx) error {
		rootNode, err := loadNode(tx, root)
		require.NoError(t, err)
		assert.False(t, rootNode.IsLeaf(), "root should have split into an internal node")

		left, err := loadNode(tx, rootNode.leftChild)
		require.NoError(t, err)
		right, err := loadNode(tx, rootNode.rightChild)
		require.NoError(t, err)

		assert.True(t, left.IsLeaf())
		assert.True(t, right.IsLeaf())
		assert.Equal(t, root, left.parent)
		assert.Equal(t, root, right.parent)
		assert.Equal(t, left.SelfHandle(), right.leftSibling)
		assert.Equal(t, right.SelfHandle(), left.rightSibling)

		// every entry under left must have top bit 1, every entry under
		// right must have top bit 0, at depth 0.
		checkPartition := func(n *Node, wantBit uint32) {
			for _, head := range n.buckets {
				for cur := head; !cur.IsZero(); {
					e, err := loadEntry(tx, cur)
					require.NoError(t, err)
					assert.Equal(t, wantBit, e.hash>>31)
					cur = e.next
				}
			}
		}
		checkPartition(left, 1)
		checkPartition(right, 0)
		return nil
	}))
}

func TestMergeParent_CombinesUnderfullSiblings(t *testing.T) {
	t.Parallel()

	mgr := store.NewManager()
	eng := newEngine(nil, nil)

	var root Handle
	require.NoError(t, mgr.WithRetry(context.Background(), func(tx *store.Tx) error {
		root = tx.CreateRef(newLeaf(0, newParams{leafCapacity: 4, splitFactor: 0.75, mergeMode: MergeThresholdCorrected}))
		return nil
	}))

	// Force a split: the 4th insert (leafCapacity 4, splitThreshold 3)
	// splits root, and the alternating top bits leave two entries in each
	// leaf child.
	hashes := []uint32{0x00000001, 0x80000001, 0x00000002, 0x80000002}
	require.NoError(t, mgr.WithRetry(context.Background(), func(tx *store.Tx) error {
		for i, h := range hashes {
			putRawHash(t, tx, eng, root, h, string(rune('a'+i)), "v")
		}
		return nil
	}))

	require.NoError(t, mgr.WithRetry(context.Background(), func(tx *store.Tx) error {
		rootNode, err := loadNode(tx, root)
		require.NoError(t, err)
		require.False(t, rootNode.IsLeaf())

		merged, err := eng.mergeParent(tx, rootNode)
		require.NoError(t, err)
		// (2+2)/2 does not exceed splitThreshold 3, so both leaf children
		// fold back into root.
		require.True(t, merged)
		assert.True(t, rootNode.IsLeaf())
		assert.Equal(t, len(hashes), rootNode.count)
		return nil
	}))
}

func TestMergeParent_RefusesWhenChildIsInternal(t *testing.T) {
	t.Parallel()

	mgr := store.NewManager()
	eng := newEngine(nil, nil)

	var root Handle
	require.NoError(t, mgr.WithRetry(context.Background(), func(tx *store.Tx) error {
		root = tx.CreateRef(newLeaf(0, newParams{leafCapacity: 2, splitFactor: 0.5, mergeMode: MergeThresholdCorrected}))
		return nil
	}))

	require.NoError(t, mgr.WithRetry(context.Background(), func(tx *store.Tx) error {
		for i := 0; i < 40; i++ {
			putRaw(t, tx, eng, root, string(rune('a'+i)), "v")
		}
		return nil
	}))

	require.NoError(t, mgr.WithRetry(context.Background(), func(tx *store.Tx) error {
		rootNode, err := loadNode(tx, root)
		require.NoError(t, err)
		require.False(t, rootNode.IsLeaf())

		left, err := loadNode(tx, rootNode.leftChild)
		require.NoError(t, err)
		right, err := loadNode(tx, rootNode.rightChild)
		require.NoError(t, err)
		if left.IsLeaf() && right.IsLeaf() {
			t.Skip("neither child split further under this key distribution")
		}

		merged, err := eng.mergeParent(tx, rootNode)
		require.NoError(t, err)
		assert.False(t, merged)
		return nil
	}))
}

func TestClearNode_DestroysEntriesButNotRoot(t *testing.T) {
	t.Parallel()

	mgr := store.NewManager()
	eng := newEngine(nil, nil)

	var root Handle
	require.NoError(t, mgr.WithRetry(context.Background(), func(tx *store.Tx) error {
		root = tx.CreateRef(newLeaf(0, newParams{leafCapacity: 8, splitFactor: 1, mergeMode: MergeThresholdCorrected}))
		return nil
	}))
	require.NoError(t, mgr.WithRetry(context.Background(), func(tx *store.Tx) error {
		putRaw(t, tx, eng, root, "a", "1")
		putRaw(t, tx, eng, root, "b", "2")
		return nil
	}))

	require.NoError(t, mgr.WithRetry(context.Background(), func(tx *store.Tx) error {
		return eng.clearNode(tx, root)
	}))

	require.NoError(t, mgr.WithRetry(context.Background(), func(tx *store.Tx) error {
		n, err := loadNode(tx, root)
		require.NoError(t, err)
		for _, head := range n.buckets {
			assert.True(t, head.IsZero())
		}
		return nil
	}))
}
