package pthm

import "github.com/prefixmap/pthm/store"

// Stats summarizes the current shape of a Map's tree, for diagnostics
// and tests; nothing in PTHM's correctness depends on it.
type Stats struct {
	Entries         int
	Leaves          int
	MaxDepth        int
	MinDepth        int
	OccupiedBuckets int
	TotalBuckets    int
}

// Stats walks every leaf and summarizes occupancy and depth.
func (m *Map[K, V]) Stats(tx *store.Tx) (Stats, error) {
	var s Stats
	s.MinDepth = -1

	n, err := loadNode(tx, m.root)
	if err != nil {
		return Stats{}, err
	}
	for !n.IsLeaf() {
		n, err = loadNode(tx, n.leftChild)
		if err != nil {
			return Stats{}, err
		}
	}

	for n != nil {
		s.Entries += n.count
		s.Leaves++
		s.OccupiedBuckets += n.OccupiedBuckets()
		s.TotalBuckets += len(n.buckets)
		if n.depth > s.MaxDepth {
			s.MaxDepth = n.depth
		}
		if s.MinDepth == -1 || n.depth < s.MinDepth {
			s.MinDepth = n.depth
		}
		if n.rightSibling.IsZero() {
			break
		}
		n, err = loadNode(tx, n.rightSibling)
		if err != nil {
			return Stats{}, err
		}
	}
	return s, nil
}
