package generation

import (
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"brand-canvas-server/modules/common/fallback"
	"brand-canvas-server/modules/common/model"
)

// MaxElements - 프롬프트에 넣는 고유 요소 최대 개수
const MaxElements = 10

// Elements - 레퍼런스 이미지 분석 결과 집계
type Elements struct {
	Elements []string
	Vibes    []string
	Lighting []string
	Colors   []string
}

var unknownShapeOnce sync.Once

// Extract - tags/key_elements 빈도순 (동률은 처음 등장 순), 설명 필드는 집합
func Extract(images []model.ReferenceImage) Elements {
	type counted struct {
		label string
		count int
		first int
	}

	counts := map[string]*counted{}
	order := 0
	vibes := newOrderedSet()
	lighting := newOrderedSet()
	colors := newOrderedSet()

	for _, img := range images {
		analysis := img.AnalysisResult
		if analysis == nil {
			continue
		}

		for _, key := range []string{"tags", "key_elements"} {
			for _, term := range normalizeField(img.ID, key, analysis[key]) {
				k := strings.ToLower(term)
				if c, ok := counts[k]; ok {
					c.count++
					continue
				}
				counts[k] = &counted{label: term, count: 1, first: order}
				order++
			}
		}

		vibes.add(normalizeField(img.ID, "vibe", analysis["vibe"])...)
		lighting.add(normalizeField(img.ID, "lighting", analysis["lighting"])...)
		colors.add(normalizeField(img.ID, "colors", analysis["colors"])...)
	}

	ranked := make([]*counted, 0, len(counts))
	for _, c := range counts {
		ranked = append(ranked, c)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		return ranked[i].first < ranked[j].first
	})
	if len(ranked) > MaxElements {
		ranked = ranked[:MaxElements]
	}

	elements := make([]string, len(ranked))
	for i, c := range ranked {
		elements[i] = c.label
	}

	return Elements{
		Elements: elements,
		Vibes:    vibes.items,
		Lighting: lighting.items,
		Colors:   colors.items,
	}
}

// normalizeField - 문자열/배열/스칼라는 목록으로, 그 외 형태는 건너뜀 (프로세스당 한 번 로그)
func normalizeField(imageID, key string, value interface{}) []string {
	items, shape := fallback.StringList(value)
	if shape == fallback.ShapeUnknown {
		unknownShapeOnce.Do(func() {
			logrus.WithFields(logrus.Fields{"image_id": imageID, "field": key}).
				Info("ℹ️  [Extractor] Unrecognized analysis field shape skipped")
		})
	}
	return items
}

type orderedSet struct {
	seen  map[string]bool
	items []string
}

func newOrderedSet() *orderedSet {
	return &orderedSet{seen: map[string]bool{}}
}

func (s *orderedSet) add(values ...string) {
	for _, v := range values {
		k := strings.ToLower(v)
		if s.seen[k] {
			continue
		}
		s.seen[k] = true
		s.items = append(s.items, v)
	}
}
