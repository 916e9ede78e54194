package pthm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBuildConfig_Defaults(t *testing.T) {
	t.Parallel()

	c, err := buildConfig(nil)
	assert.NoError(t, err)
	assert.Equal(t, defaultConfig(), c)
}

func TestWithLeafCapacity_RejectsNonPowerOfTwo(t *testing.T) {
	t.Parallel()

	_, err := buildConfig([]Option{WithLeafCapacity(17)})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = buildConfig([]Option{WithLeafCapacity(0)})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	c, err := buildConfig([]Option{WithLeafCapacity(64)})
	assert.NoError(t, err)
	assert.Equal(t, 64, c.leafCapacity)
}

func TestWithMinConcurrency_RejectsNonPositive(t *testing.T) {
	t.Parallel()

	_, err := buildConfig([]Option{WithMinConcurrency(0)})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = buildConfig([]Option{WithMinConcurrency(-1)})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestWithSplitFactor_RejectsNonPositive(t *testing.T) {
	t.Parallel()

	_, err := buildConfig([]Option{WithSplitFactor(0)})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestBuildConfig_RejectsMergeFactorAtOrAboveSplitFactor(t *testing.T) {
	t.Parallel()

	_, err := buildConfig([]Option{WithSplitFactor(0.5), WithMergeFactor(0.5)})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = buildConfig([]Option{WithSplitFactor(0.5), WithMergeFactor(0.9)})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestDeriveThresholds_CorrectedVsLiteral(t *testing.T) {
	t.Parallel()

	p := newParams{
		leafCapacity: 100,
		splitFactor:  0.75,
		mergeFactor:  0.25,
		mergeMode:    MergeThresholdCorrected,
	}
	splitT, mergeT := deriveThresholds(p)
	assert.Equal(t, 75, splitT)
	assert.Equal(t, 25, mergeT)

	p.mergeMode = MergeThresholdLiteral
	splitT, mergeT = deriveThresholds(p)
	assert.Equal(t, 75, splitT)
	assert.Equal(t, 74, mergeT) // min(splitFactor*capacity, splitThreshold-1)
}

func TestDeriveThresholds_SplitThresholdNeverZero(t *testing.T) {
	t.Parallel()

	p := newParams{leafCapacity: 1, splitFactor: 0.01, mergeMode: MergeThresholdCorrected}
	splitT, _ := deriveThresholds(p)
	assert.Equal(t, 1, splitT)
}
