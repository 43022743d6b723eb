package generation

import (
	"context"
	"sort"
	"strings"
	"unicode"

	"github.com/sirupsen/logrus"

	"brand-canvas-server/modules/common/fallback"
	"brand-canvas-server/modules/common/model"
)

const (
	tagMatchWeight        = 1.0
	descriptorMatchWeight = 0.5
	// recencyBonus - 최신 절반에만 부여. 태그 1개 일치보다 항상 작음
	recencyBonus = 0.25
)

// ReferenceStore - datasets / dataset_images 조회
type ReferenceStore interface {
	GetDataset(ctx context.Context, datasetID string) (*model.Dataset, error)
	ListImages(ctx context.Context, datasetID string, limit int) ([]model.ReferenceImage, error)
	ListEnvironmentDatasets(ctx context.Context, environmentID string) ([]model.Dataset, error)
}

type Selector struct {
	store      ReferenceStore
	workingSet int
}

// NewSelector - workingSet은 maxCount 미지정 시 기본 개수
func NewSelector(store ReferenceStore, workingSet int) *Selector {
	if workingSet <= 0 || workingSet > MaxReferenceImages {
		workingSet = 5
	}
	return &Selector{store: store, workingSet: workingSet}
}

// Select - 데이터셋에서 프롬프트와 관련도 높은 분석 완료 이미지를 골라 순위대로 반환
// 데이터셋이 없거나 조회 실패 시 빈 목록 (텍스트 전용 생성으로 진행)
func (s *Selector) Select(ctx context.Context, datasetID, prompt, style string, maxCount int) []model.ReferenceImage {
	if datasetID == "" {
		return nil
	}

	images, err := s.store.ListImages(ctx, datasetID, 0)
	if err != nil {
		logrus.WithError(err).WithField("dataset_id", datasetID).
			Warn("⚠️  [Selector] Could not load dataset images, continuing text-only")
		return nil
	}
	return s.rank(images, prompt, style, maxCount)
}

// SelectFromEnvironment - 폴더 미지정 시 환경 내 모든 데이터셋 이미지를 후보로 사용
func (s *Selector) SelectFromEnvironment(ctx context.Context, environmentID, prompt, style string, maxCount int) []model.ReferenceImage {
	if environmentID == "" {
		return nil
	}

	datasets, err := s.store.ListEnvironmentDatasets(ctx, environmentID)
	if err != nil {
		logrus.WithError(err).WithField("environment_id", environmentID).
			Warn("⚠️  [Selector] Could not load environment datasets, continuing text-only")
		return nil
	}

	var pool []model.ReferenceImage
	for _, d := range datasets {
		images, err := s.store.ListImages(ctx, d.ID, 0)
		if err != nil {
			logrus.WithError(err).WithField("dataset_id", d.ID).Warn("⚠️  [Selector] Skipping dataset")
			continue
		}
		pool = append(pool, images...)
	}
	return s.rank(pool, prompt, style, maxCount)
}

type scored struct {
	image model.ReferenceImage
	score float64
}

func (s *Selector) rank(images []model.ReferenceImage, prompt, style string, maxCount int) []model.ReferenceImage {
	if maxCount <= 0 {
		maxCount = s.workingSet
	}
	if maxCount > MaxReferenceImages {
		maxCount = MaxReferenceImages
	}

	candidates := make([]model.ReferenceImage, 0, len(images))
	for _, img := range images {
		if img.IsAnalyzed() {
			candidates = append(candidates, img)
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	query := tokenize(prompt + " " + style)
	half := len(candidates) / 2

	ranked := make([]scored, len(candidates))
	for i, img := range candidates {
		score := relevance(img, query)
		if len(candidates) > 1 && i >= half {
			score += recencyBonus
		}
		ranked[i] = scored{image: img, score: score}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})

	if len(ranked) > maxCount {
		ranked = ranked[:maxCount]
	}

	selected := make([]model.ReferenceImage, len(ranked))
	for i, r := range ranked {
		selected[i] = r.image
	}

	logrus.WithFields(logrus.Fields{
		"candidates": len(candidates),
		"selected":   len(selected),
		"top_score":  ranked[0].score,
	}).Info("🎯 [Selector] Reference images ranked")
	return selected
}

// relevance - 태그/키 요소 일치는 1점, vibe/lighting/theme 일치는 0.5점 (항목당 한 번)
func relevance(img model.ReferenceImage, query map[string]bool) float64 {
	if len(query) == 0 {
		return 0
	}

	var score float64
	for _, key := range []string{"tags", "key_elements"} {
		terms, _ := fallback.StringList(img.AnalysisResult[key])
		for _, term := range terms {
			if overlaps(term, query) {
				score += tagMatchWeight
			}
		}
	}
	for _, key := range []string{"vibe", "lighting", "theme"} {
		terms, _ := fallback.StringList(img.AnalysisResult[key])
		for _, term := range terms {
			if overlaps(term, query) {
				score += descriptorMatchWeight
			}
		}
	}
	return score
}

func overlaps(term string, query map[string]bool) bool {
	for token := range tokenize(term) {
		if query[token] {
			return true
		}
	}
	return false
}

var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "of": true, "on": true, "in": true, "at": true,
	"to": true, "and": true, "or": true, "with": true, "for": true, "by": true, "from": true,
	"is": true, "are": true, "it": true, "its": true, "this": true, "that": true,
}

// tokenize - 소문자 단어 집합 (불용어, 1글자 제외)
func tokenize(text string) map[string]bool {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	tokens := make(map[string]bool, len(words))
	for _, w := range words {
		if len([]rune(w)) < 2 || stopwords[w] {
			continue
		}
		tokens[w] = true
	}
	return tokens
}
