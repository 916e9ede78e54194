package pthm

import "github.com/hideo55/go-popcount"

// occupancy.go adapts the population-count rank computation from the van
// Emde Boas bitset (teacher's own veb/set dependency on go-popcount) to a
// purely diagnostic purpose: answering "how many, and which, of a leaf's
// buckets are non-empty" without scanning the whole table. It never
// drives correctness — a leaf's bucket chains are the source of truth —
// only Stats, DebugTree (and so cmd/pthmctl's stats and dump output) and
// the occupancy-based tests in occupancy_test.go read it.

// OccupiedBuckets returns the number of non-empty bucket slots in n,
// using the same whole-word popcount technique veb/set.Has uses to count
// set bits across a bitmap.
func (n *Node) OccupiedBuckets() int {
	if !n.IsLeaf() {
		return 0
	}
	total := 0
	for _, word := range n.occupancy {
		total += int(popcount.Count(word))
	}
	return total
}

// rankBefore returns the number of occupied buckets with index strictly
// less than idx — the same "count bits below idx, then add whole
// preceding words" pattern veb/set.Add and veb/set.Has use to locate a
// child's position among sparse siblings.
func (n *Node) rankBefore(idx int) int {
	word, bit := idx/64, uint(idx%64)
	rank := int(popcount.Count(n.occupancy[word] & ((uint64(1) << bit) - 1)))
	for j := 0; j < word; j++ {
		rank += int(popcount.Count(n.occupancy[j]))
	}
	return rank
}
