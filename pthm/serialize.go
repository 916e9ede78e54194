package pthm

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/prefixmap/pthm/store"
)

// MarshalState encodes n's full persisted state: link handles, tuning
// parameters, thresholds, size, the leaf flag, and — for a leaf — its
// bucket-head handles and occupancy bitmap. Entries themselves are
// separate stored objects reached by those bucket-head handles, so their
// own content is never duplicated here. store.Manager round-trips every
// write through this and UnmarshalState at Commit.
func (n *Node) MarshalState() ([]byte, error) {
	var buf bytes.Buffer

	leafFlag := byte(0)
	if n.IsLeaf() {
		leafFlag = 1
	}
	buf.WriteByte(leafFlag)

	links := []store.Handle{n.parent, n.leftSibling, n.rightSibling, n.leftChild, n.rightChild}
	for _, h := range links {
		if err := writeHandle(&buf, h); err != nil {
			return nil, err
		}
	}

	ints := []int64{
		int64(n.depth),
		int64(n.count),
		int64(n.leafCapacity),
		int64(n.minConcurrency),
		int64(n.minDepth),
		int64(n.splitThreshold),
		int64(n.mergeThreshold),
		int64(n.mergeMode),
	}
	for _, v := range ints {
		if err := binary.Write(&buf, binary.BigEndian, v); err != nil {
			return nil, err
		}
	}
	for _, v := range []float64{n.splitFactor, n.mergeFactor} {
		if err := binary.Write(&buf, binary.BigEndian, v); err != nil {
			return nil, err
		}
	}

	if n.IsLeaf() {
		if err := binary.Write(&buf, binary.BigEndian, int64(len(n.buckets))); err != nil {
			return nil, err
		}
		for _, h := range n.buckets {
			if err := writeHandle(&buf, h); err != nil {
				return nil, err
			}
		}
		if err := binary.Write(&buf, binary.BigEndian, int64(len(n.occupancy))); err != nil {
			return nil, err
		}
		for _, w := range n.occupancy {
			if err := binary.Write(&buf, binary.BigEndian, w); err != nil {
				return nil, err
			}
		}
	}

	return buf.Bytes(), nil
}

// UnmarshalState rebuilds n's fields from data produced by MarshalState.
// It does not restore n's own Handle — the caller assigns that
// separately once decoding succeeds.
func (n *Node) UnmarshalState(data []byte) error {
	r := bytes.NewReader(data)

	leafFlag, err := r.ReadByte()
	if err != nil {
		return fmt.Errorf("pthm: decode node leaf flag: %w", err)
	}
	isLeaf := leafFlag == 1

	links := make([]store.Handle, 5)
	for i := range links {
		if links[i], err = readHandle(r); err != nil {
			return err
		}
	}
	n.parent, n.leftSibling, n.rightSibling, n.leftChild, n.rightChild =
		links[0], links[1], links[2], links[3], links[4]

	ints := make([]int64, 8)
	for i := range ints {
		if err := binary.Read(r, binary.BigEndian, &ints[i]); err != nil {
			return fmt.Errorf("pthm: decode node fields: %w", err)
		}
	}
	n.depth = int(ints[0])
	n.count = int(ints[1])
	n.leafCapacity = int(ints[2])
	n.minConcurrency = int(ints[3])
	n.minDepth = int(ints[4])
	n.splitThreshold = int(ints[5])
	n.mergeThreshold = int(ints[6])
	n.mergeMode = MergeThresholdMode(ints[7])

	floats := make([]float64, 2)
	for i := range floats {
		if err := binary.Read(r, binary.BigEndian, &floats[i]); err != nil {
			return fmt.Errorf("pthm: decode node factors: %w", err)
		}
	}
	n.splitFactor, n.mergeFactor = floats[0], floats[1]

	if !isLeaf {
		n.buckets = nil
		n.occupancy = nil
		return nil
	}

	var bucketCount int64
	if err := binary.Read(r, binary.BigEndian, &bucketCount); err != nil {
		return fmt.Errorf("pthm: decode node bucket count: %w", err)
	}
	n.buckets = make([]store.Handle, bucketCount)
	for i := range n.buckets {
		if n.buckets[i], err = readHandle(r); err != nil {
			return err
		}
	}

	var wordCount int64
	if err := binary.Read(r, binary.BigEndian, &wordCount); err != nil {
		return fmt.Errorf("pthm: decode node occupancy length: %w", err)
	}
	n.occupancy = make([]uint64, wordCount)
	for i := range n.occupancy {
		if err := binary.Read(r, binary.BigEndian, &n.occupancy[i]); err != nil {
			return fmt.Errorf("pthm: decode node occupancy: %w", err)
		}
	}
	return nil
}

// MarshalState encodes e's hash, key/value handles and boxed flags, and
// bucket-chain link.
func (e *Entry) MarshalState() ([]byte, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.BigEndian, e.hash); err != nil {
		return nil, err
	}
	for _, h := range []store.Handle{e.keyRef, e.valueRef, e.next} {
		if err := writeHandle(&buf, h); err != nil {
			return nil, err
		}
	}
	var flags byte
	if e.keyBoxed {
		flags |= 1
	}
	if e.valueBoxed {
		flags |= 2
	}
	buf.WriteByte(flags)
	return buf.Bytes(), nil
}

// UnmarshalState rebuilds e's fields from data produced by MarshalState.
func (e *Entry) UnmarshalState(data []byte) error {
	r := bytes.NewReader(data)
	if err := binary.Read(r, binary.BigEndian, &e.hash); err != nil {
		return fmt.Errorf("pthm: decode entry hash: %w", err)
	}

	links := make([]store.Handle, 3)
	for i := range links {
		var err error
		if links[i], err = readHandle(r); err != nil {
			return err
		}
	}
	e.keyRef, e.valueRef, e.next = links[0], links[1], links[2]

	flags, err := r.ReadByte()
	if err != nil {
		return fmt.Errorf("pthm: decode entry flags: %w", err)
	}
	e.keyBoxed = flags&1 != 0
	e.valueBoxed = flags&2 != 0
	return nil
}

func writeHandle(buf *bytes.Buffer, h store.Handle) error {
	data, err := h.MarshalBinary()
	if err != nil {
		return err
	}
	_, err = buf.Write(data)
	return err
}

func readHandle(r *bytes.Reader) (store.Handle, error) {
	data := make([]byte, 16)
	if _, err := io.ReadFull(r, data); err != nil {
		return store.Handle{}, fmt.Errorf("pthm: decode handle: %w", err)
	}
	var h store.Handle
	if err := h.UnmarshalBinary(data); err != nil {
		return store.Handle{}, fmt.Errorf("pthm: decode handle: %w", err)
	}
	return h, nil
}
