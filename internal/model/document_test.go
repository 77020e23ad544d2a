package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDocument_CloneIsDeepCopy(t *testing.T) {
	orig := &Document{
		ID:        "doc-1",
		Text:      "revenue trend analysis",
		Keywords:  []string{"revenue", "trend"},
		Metadata:  map[string]string{"domain": "finance"},
		Embedding: []float32{0.1, 0.2, 0.3},
		Frequency: 5,
		CreatedAt: time.Now(),
	}

	clone := orig.Clone()
	clone.Keywords[0] = "mutated"
	clone.Metadata["domain"] = "mutated"
	clone.Embedding[0] = 99

	assert.Equal(t, "revenue", orig.Keywords[0])
	assert.Equal(t, "finance", orig.Metadata["domain"])
	assert.InDelta(t, 0.1, orig.Embedding[0], 1e-9)
}

func TestDocument_CloneOfNilReturnsNil(t *testing.T) {
	var d *Document
	assert.Nil(t, d.Clone())
}

func TestDocument_CloneHandlesNilSlicesAndMaps(t *testing.T) {
	orig := &Document{ID: "doc-2", Text: "bare"}
	clone := orig.Clone()

	assert.Nil(t, clone.Keywords)
	assert.Nil(t, clone.Metadata)
	assert.Nil(t, clone.Embedding)
}
