package pthm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStringHasher_MatchesJavaStringHashCode(t *testing.T) {
	t.Parallel()

	for _, tcase := range []*struct {
		S   string
		Exp uint32
	}{
		{"", 0},
		{"a", 97},
		{"abc", 96354},
		{"hello", 99162322},
	} {
		tcase := tcase
		t.Run(tcase.S, func(t *testing.T) {
			assert.Equal(t, tcase.Exp, StringHasher{}.Hash(tcase.S))
		})
	}
}

func TestStringHasher_Equal(t *testing.T) {
	t.Parallel()

	h := StringHasher{}
	assert.True(t, h.Equal("abc", "abc"))
	assert.False(t, h.Equal("abc", "abd"))
}

func TestBucketIndex_MasksToTableSize(t *testing.T) {
	t.Parallel()

	for _, tcase := range []*struct {
		Hash   uint32
		Length int
		Exp    int
	}{
		{0, 16, 0},
		{15, 16, 15},
		{16, 16, 0},
		{0xFFFFFFFF, 8, 7},
	} {
		assert.Equal(t, tcase.Exp, bucketIndex(tcase.Hash, tcase.Length))
	}
}

func TestMixHash_IsDeterministic(t *testing.T) {
	t.Parallel()

	a := mixHash(12345)
	b := mixHash(12345)
	assert.Equal(t, a, b)
}
