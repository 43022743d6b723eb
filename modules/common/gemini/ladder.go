package gemini

// LadderState - 레퍼런스 축소 재시도 상태
// Attempt는 1부터, RefCeiling은 이번 시도에 첨부할 최대 레퍼런스 수
type LadderState struct {
	Attempt     int
	RefCeiling  int
	MaxAttempts int
}

// Start - 첫 시도는 선택된 레퍼런스 전부 사용
func Start(references, maxAttempts int) LadderState {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if references < 0 {
		references = 0
	}
	return LadderState{Attempt: 1, RefCeiling: references, MaxAttempts: maxAttempts}
}

// Next - payload 거부 후 다음 단계. 절반으로 줄이고 마지막 시도는 텍스트만
// 더 줄일 수 없거나 시도 한도에 도달하면 false
func (s LadderState) Next() (LadderState, bool) {
	if s.Attempt >= s.MaxAttempts || s.RefCeiling == 0 {
		return s, false
	}

	next := LadderState{Attempt: s.Attempt + 1, MaxAttempts: s.MaxAttempts}
	if next.Attempt < s.MaxAttempts {
		next.RefCeiling = s.RefCeiling / 2
	}
	return next, true
}

// Final - 마지막 단계인지
func (s LadderState) Final() bool {
	return s.Attempt >= s.MaxAttempts || s.RefCeiling == 0
}
