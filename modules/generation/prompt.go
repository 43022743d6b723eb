package generation

import (
	"fmt"
	"strings"

	"brand-canvas-server/modules/common/fallback"
	"brand-canvas-server/modules/common/model"
)

// BusinessContext - 브랜드 문맥 (로그인 + 비즈니스 프로필이 있을 때만)
type BusinessContext struct {
	Name  string
	Vibe  string
	Theme string
}

// BusinessContextFrom - vibes/theme는 문자열 또는 배열
func BusinessContextFrom(p *model.BusinessProfile) *BusinessContext {
	if p == nil {
		return nil
	}
	bc := &BusinessContext{
		Name:  strings.TrimSpace(p.BusinessName),
		Vibe:  fallback.JoinList(p.Vibes),
		Theme: fallback.JoinList(p.Theme),
	}
	if bc.Name == "" && bc.Vibe == "" && bc.Theme == "" {
		return nil
	}
	return bc
}

// PromptInput - Compose 입력. References는 실제 첨부되는 이미지 수
type PromptInput struct {
	Business     *BusinessContext
	MasterPrompt string
	Elements     Elements
	References   int
	Scene        string
	Style        string
}

func (in PromptInput) hasDatasetContext() bool {
	return strings.TrimSpace(in.MasterPrompt) != "" ||
		len(in.Elements.Elements) > 0 ||
		len(in.Elements.Vibes) > 0 ||
		len(in.Elements.Lighting) > 0 ||
		len(in.Elements.Colors) > 0 ||
		in.References > 0
}

// Compose - 순서 고정 템플릿. 같은 입력이면 항상 같은 문자열
// 브랜드 → 스타일 가이드 → 고유 요소 → 레퍼런스 스타일 → 레퍼런스 N장 지시 → SCENE → Style
func Compose(in PromptInput) string {
	var sentences []string

	if s := businessSentence(in.Business); s != "" {
		sentences = append(sentences, s)
	}

	if in.hasDatasetContext() {
		if master := trimSentence(in.MasterPrompt); master != "" {
			sentences = append(sentences, fmt.Sprintf("Style Guidelines: %s.", master))
		}
		if len(in.Elements.Elements) > 0 {
			sentences = append(sentences, fmt.Sprintf("UNIQUE ELEMENTS TO INCLUDE: %s.", strings.Join(in.Elements.Elements, ", ")))
		}
		if s := referenceStyleSentence(in.Elements); s != "" {
			sentences = append(sentences, s)
		}
		if in.References > 0 {
			sentences = append(sentences, fmt.Sprintf(
				"Replicate the composition, texture and lighting of the %d reference image(s) provided.", in.References))
		}
	}

	sentences = append(sentences, "SCENE: "+in.Scene)

	if style := trimSentence(in.Style); style != "" {
		sentences = append(sentences, fmt.Sprintf("Style: %s.", style))
	}

	return strings.Join(sentences, " ")
}

func businessSentence(bc *BusinessContext) string {
	if bc == nil {
		return ""
	}
	var parts []string
	if bc.Name != "" {
		parts = append(parts, fmt.Sprintf("Brand: %s.", trimSentence(bc.Name)))
	}
	if bc.Vibe != "" {
		parts = append(parts, fmt.Sprintf("Vibe: %s.", trimSentence(bc.Vibe)))
	}
	if bc.Theme != "" {
		parts = append(parts, fmt.Sprintf("Theme: %s.", trimSentence(bc.Theme)))
	}
	return strings.Join(parts, " ")
}

func referenceStyleSentence(e Elements) string {
	var parts []string
	if len(e.Vibes) > 0 {
		parts = append(parts, strings.Join(e.Vibes, ", "))
	}
	if len(e.Lighting) > 0 {
		parts = append(parts, "lighting: "+strings.Join(e.Lighting, ", "))
	}
	if len(e.Colors) > 0 {
		parts = append(parts, "colors: "+strings.Join(e.Colors, ", "))
	}
	if len(parts) == 0 {
		return ""
	}
	return fmt.Sprintf("Reference style: %s.", strings.Join(parts, "; "))
}

// joinStyles - style과 image_style을 하나의 Style 문장으로
func joinStyles(style, imageStyle string) string {
	var parts []string
	for _, s := range []string{style, imageStyle} {
		if s = trimSentence(s); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ", ")
}

// trimSentence - 앞뒤 공백과 끝 마침표 제거 (중복 마침표 방지)
func trimSentence(s string) string {
	return strings.TrimRight(strings.TrimSpace(s), ". ")
}
