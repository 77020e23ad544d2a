package qtext

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLevenshtein_IdenticalStringsAreZero(t *testing.T) {
	assert.Equal(t, 0, Levenshtein("revenue", "revenue"))
}

func TestLevenshtein_EmptyStringEqualsLength(t *testing.T) {
	assert.Equal(t, 5, Levenshtein("", "hello"))
	assert.Equal(t, 5, Levenshtein("hello", ""))
}

func TestLevenshtein_SingleSubstitution(t *testing.T) {
	assert.Equal(t, 1, Levenshtein("revenue", "revenve"))
}

func TestLevenshtein_SingleInsertionDeletion(t *testing.T) {
	assert.Equal(t, 1, Levenshtein("trend", "trends"))
	assert.Equal(t, 1, Levenshtein("trends", "trend"))
}

func TestLevenshtein_CountsWholeRunesNotBytes(t *testing.T) {
	assert.Equal(t, 1, Levenshtein("销售额", "销售"))
}

func TestLevenshtein_IsSymmetric(t *testing.T) {
	a, b := "analysis", "analsyis"
	assert.Equal(t, Levenshtein(a, b), Levenshtein(b, a))
}
