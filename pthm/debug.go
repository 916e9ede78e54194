package pthm

import (
	"fmt"
	"strings"

	"github.com/prefixmap/pthm/store"
)

// DebugTree renders the tree rooted at m.root as indented text: each
// internal node's handle and depth, and each leaf's handle, depth,
// occupancy, and the rank of every occupied bucket among its siblings.
// This is a diagnostic dump only, the Go equivalent of the original's
// treeString/treeDiag/treeLeaves — nothing in PTHM reads its own output.
func (m *Map[K, V]) DebugTree(tx *store.Tx) (string, error) {
	var b strings.Builder
	if err := debugNode(tx, &b, m.root, 0); err != nil {
		return "", err
	}
	return b.String(), nil
}

func debugNode(tx *store.Tx, b *strings.Builder, h Handle, indent int) error {
	n, err := loadNode(tx, h)
	if err != nil {
		return err
	}
	pad := strings.Repeat("  ", indent)

	if n.IsLeaf() {
		fmt.Fprintf(b, "%sleaf %s depth=%d count=%d occupied=%d/%d\n",
			pad, h, n.depth, n.count, n.OccupiedBuckets(), len(n.buckets))
		for idx, head := range n.buckets {
			if head.IsZero() {
				continue
			}
			fmt.Fprintf(b, "%s  bucket[%d] rank=%d -> %s\n", pad, idx, n.rankBefore(idx), head)
		}
		return nil
	}

	fmt.Fprintf(b, "%sinternal %s depth=%d\n", pad, h, n.depth)
	if err := debugNode(tx, b, n.leftChild, indent+1); err != nil {
		return err
	}
	return debugNode(tx, b, n.rightChild, indent+1)
}
