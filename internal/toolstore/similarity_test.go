package toolstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSimilarityRatioIdentical(t *testing.T) {
	assert.Equal(t, 1.0, similarityRatio("calculate_sum", "calculate_sum"))
}

func TestSimilarityRatioEmptyBoth(t *testing.T) {
	assert.Equal(t, 1.0, similarityRatio("", ""))
}

func TestSimilarityRatioDisjoint(t *testing.T) {
	assert.Equal(t, 0.0, similarityRatio("abc", "xyz"))
}

func TestSimilarityRatioPartialOverlap(t *testing.T) {
	r := similarityRatio("calculate", "calculator")
	assert.Greater(t, r, 0.8)
	assert.Less(t, r, 1.0)
}
