package generation

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"brand-canvas-server/modules/common/model"
)

func TestExtractRanksByFrequency(t *testing.T) {
	images := []model.ReferenceImage{
		analyzed("a", 0, "Marble Countertop", "Edison Bulbs"),
		analyzed("b", 1, "Edison Bulbs", "Exposed Brick"),
		analyzed("c", 2, "Marble Countertop"),
	}

	got := Extract(images)
	assert.Equal(t, []string{"Marble Countertop", "Edison Bulbs", "Exposed Brick"}, got.Elements)
}

func TestExtractDeduplicatesCaseInsensitively(t *testing.T) {
	images := []model.ReferenceImage{
		analyzed("a", 0, "Neon Sign", "plants"),
		analyzed("b", 1, "neon sign", "Plants"),
		{ID: "c", AnalysisResult: map[string]interface{}{"key_elements": []interface{}{"NEON SIGN", "Terrazzo"}}},
	}

	got := Extract(images)
	assert.Equal(t, []string{"Neon Sign", "plants", "Terrazzo"}, got.Elements)
}

func TestExtractTruncatesAndKeepsOrder(t *testing.T) {
	var tags []string
	for _, c := range "abcdefghijkl" {
		tags = append(tags, "tag-"+string(c))
	}
	images := []model.ReferenceImage{
		analyzed("a", 0, tags...),
		analyzed("b", 1, "tag-l", "tag-k"),
	}

	got := Extract(images)
	assert.Len(t, got.Elements, MaxElements)
	assert.Equal(t, []string{"tag-k", "tag-l", "tag-a", "tag-b"}, got.Elements[:4])

	seen := map[string]bool{}
	for _, e := range got.Elements {
		assert.False(t, seen[e], "duplicate element %s", e)
		seen[e] = true
	}
}

func TestExtractDescriptorShapes(t *testing.T) {
	images := []model.ReferenceImage{
		{ID: "a", AnalysisResult: map[string]interface{}{
			"vibe":     "cozy",
			"lighting": "warm tungsten",
			"colors":   "amber, cream",
		}},
		{ID: "b", AnalysisResult: map[string]interface{}{
			"vibe":     "Cozy",
			"lighting": []interface{}{"soft daylight", "warm tungsten"},
			"colors":   []interface{}{"amber", "forest green", 42},
		}},
		{ID: "c", AnalysisResult: map[string]interface{}{
			"colors": map[string]interface{}{"primary": "red"},
			"tags":   true,
		}},
		{ID: "d"},
	}

	got := Extract(images)
	assert.Equal(t, []string{"cozy"}, got.Vibes)
	assert.Equal(t, []string{"warm tungsten", "soft daylight"}, got.Lighting)
	assert.Equal(t, []string{"amber, cream", "amber", "forest green", "42"}, got.Colors)
	assert.Equal(t, []string{"true"}, got.Elements)
}

func TestExtractEmpty(t *testing.T) {
	got := Extract(nil)
	assert.Empty(t, got.Elements)
	assert.Empty(t, got.Vibes)
	assert.Empty(t, got.Lighting)
	assert.Empty(t, got.Colors)
}
