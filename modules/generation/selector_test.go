package generation

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"brand-canvas-server/modules/common/model"
)

func ids(images []model.ReferenceImage) []string {
	out := make([]string, len(images))
	for i, img := range images {
		out[i] = img.ID
	}
	return out
}

func TestSelectRanksByOverlap(t *testing.T) {
	store := newFakeReferenceStore()
	store.images[datasetID] = []model.ReferenceImage{
		analyzed("brick", 0, "Exposed Brick"),
		analyzed("latte", 1, "Latte Art", "Ceramic Cup"),
		analyzed("table", 2, "Wooden Table"),
		analyzed("plant", 3, "Monstera"),
	}

	got := NewSelector(store, 5).Select(context.Background(), datasetID, "a latte on a wooden table", "", 0)
	// latte(1) == table(1) 동점이지만 table은 최신 절반 보너스
	assert.Equal(t, []string{"table", "latte", "plant", "brick"}, ids(got))
}

func TestSelectStableTies(t *testing.T) {
	store := newFakeReferenceStore()
	store.images[datasetID] = []model.ReferenceImage{
		analyzed("a", 0, "Latte"),
		analyzed("b", 1, "Latte"),
		analyzed("c", 2, "Latte"),
		analyzed("d", 3, "Latte"),
	}

	got := NewSelector(store, 5).Select(context.Background(), datasetID, "latte", "", 0)
	assert.Equal(t, []string{"c", "d", "a", "b"}, ids(got))
}

func TestSelectUsesStyleTokensAndDescriptors(t *testing.T) {
	store := newFakeReferenceStore()
	dim := analyzed("dim", 0)
	dim.AnalysisResult = map[string]interface{}{"lighting": "moody low key", "description": "bar"}
	store.images[datasetID] = []model.ReferenceImage{
		dim,
		analyzed("other", 1, "Chairs"),
		analyzed("other2", 2, "Tables"),
	}

	got := NewSelector(store, 5).Select(context.Background(), datasetID, "espresso bar", "moody", 1)
	assert.Equal(t, []string{"dim"}, ids(got))
}

func TestSelectFiltersAndCaps(t *testing.T) {
	store := newFakeReferenceStore()
	var images []model.ReferenceImage
	for i := 0; i < 20; i++ {
		images = append(images, analyzed(fmt.Sprintf("img-%02d", i), i, "Latte"))
	}
	images = append(images,
		model.ReferenceImage{ID: "pending", ImageURL: "https://cdn.example.com/pending.jpg"},
		model.ReferenceImage{ID: "failed", AnalysisResult: map[string]interface{}{"error": "timeout"}},
	)
	store.images[datasetID] = images

	selector := NewSelector(store, 5)
	ctx := context.Background()

	assert.Len(t, selector.Select(ctx, datasetID, "latte", "", 0), 5)
	assert.Len(t, selector.Select(ctx, datasetID, "latte", "", 8), 8)
	assert.Len(t, selector.Select(ctx, datasetID, "latte", "", 50), MaxReferenceImages)

	for _, img := range selector.Select(ctx, datasetID, "latte", "", 50) {
		assert.NotEqual(t, "pending", img.ID)
		assert.NotEqual(t, "failed", img.ID)
	}
}

func TestSelectEmptyCases(t *testing.T) {
	store := newFakeReferenceStore()
	store.images[datasetID] = []model.ReferenceImage{{ID: "raw"}}
	selector := NewSelector(store, 5)
	ctx := context.Background()

	assert.Empty(t, selector.Select(ctx, "", "latte", "", 0))
	assert.Empty(t, selector.Select(ctx, datasetID, "latte", "", 0))
	assert.Empty(t, selector.Select(ctx, otherDataset, "latte", "", 0))

	store.listErr = errors.New("connection refused")
	assert.Empty(t, selector.Select(ctx, datasetID, "latte", "", 0))
}

func TestSelectFromEnvironmentPoolsDatasets(t *testing.T) {
	store := newFakeReferenceStore()
	store.environments[environmentID] = []model.Dataset{{ID: datasetID}, {ID: otherDataset}}
	store.images[datasetID] = []model.ReferenceImage{analyzed("interior", 0, "Exposed Brick")}
	store.images[otherDataset] = []model.ReferenceImage{analyzed("drink", 0, "Iced Latte")}

	got := NewSelector(store, 5).SelectFromEnvironment(context.Background(), environmentID, "iced latte", "", 0)
	require.Len(t, got, 2)
	assert.Equal(t, "drink", got[0].ID)
	assert.Empty(t, NewSelector(store, 5).SelectFromEnvironment(context.Background(), "", "iced latte", "", 0))
}

func TestTokenize(t *testing.T) {
	got := tokenize("A Latte, on the TABLE! (2 cups)")
	assert.Equal(t, map[string]bool{"latte": true, "table": true, "cups": true}, got)
}
