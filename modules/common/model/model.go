package model

import "time"

// Dataset - datasets 테이블 구조 (프론트에서는 folder)
type Dataset struct {
	ID             string    `json:"id"`
	UserID         *string   `json:"user_id"`
	EnvironmentID  *string   `json:"environment_id"`
	Name           string    `json:"name"`
	MasterPrompt   *string   `json:"master_prompt"`
	TrainingStatus string    `json:"training_status"`
	CreatedAt      time.Time `json:"created_at"`
}

// MasterPromptText - master_prompt가 null이면 빈 문자열
func (d *Dataset) MasterPromptText() string {
	if d == nil || d.MasterPrompt == nil {
		return ""
	}
	return *d.MasterPrompt
}

// ReferenceImage - dataset_images 테이블 구조
// analysis_result는 분석 모델 출력 그대로의 JSONB (형태가 일정하지 않음)
type ReferenceImage struct {
	ID             string                 `json:"id"`
	DatasetID      string                 `json:"dataset_id"`
	ImageURL       string                 `json:"image_url"`
	AnalysisResult map[string]interface{} `json:"analysis_result"`
	CreatedAt      time.Time              `json:"created_at"`
}

// analysisKeys - 분석 완료로 판단하는 키
var analysisKeys = []string{"description", "tags", "key_elements", "lighting", "colors", "vibe", "theme"}

// IsAnalyzed - 분석 결과가 없거나 에러만 있는 이미지는 false
func (r ReferenceImage) IsAnalyzed() bool {
	if len(r.AnalysisResult) == 0 {
		return false
	}
	for _, key := range analysisKeys {
		switch v := r.AnalysisResult[key].(type) {
		case nil:
			continue
		case string:
			if v != "" {
				return true
			}
		case []interface{}:
			if len(v) > 0 {
				return true
			}
		default:
			return true
		}
	}
	return false
}

// BusinessProfile - business_profiles 테이블 구조
type BusinessProfile struct {
	ID           string      `json:"id"`
	BusinessName string      `json:"business_name"`
	Vibes        interface{} `json:"vibes"`
	Theme        interface{} `json:"theme"`
}

// GenerationRecord - generations 테이블 구조
type GenerationRecord struct {
	ID                   string     `json:"id,omitempty"`
	UserID               *string    `json:"user_id"`
	Prompt               string     `json:"prompt"`
	FullPrompt           string     `json:"full_prompt"`
	ImageURL             string     `json:"image_url"`
	DatasetID            *string    `json:"dataset_id"`
	EnvironmentID        *string    `json:"environment_id"`
	FolderID             *string    `json:"folder_id"`
	Style                *string    `json:"style"`
	AspectRatio          string     `json:"aspect_ratio"`
	Quality              string     `json:"quality"`
	Format               string     `json:"format"`
	Resolution           string     `json:"resolution"`
	ReferenceImagesCount int        `json:"reference_images_count"`
	UniqueElements       []string   `json:"unique_elements"`
	Attempts             int        `json:"attempts"`
	CreatedAt            *time.Time `json:"created_at,omitempty"`
}

// CreditBalance - credit_balances 테이블 구조
type CreditBalance struct {
	UserID           string `json:"user_id"`
	TotalCredits     int    `json:"total_credits"`
	UsedCredits      int    `json:"used_credits"`
	ReservedCredits  int    `json:"reserved_credits"`
	RemainingCredits int    `json:"remaining_credits"`
}

// Available - 예약분까지 제외한 사용 가능 크레딧
func (b CreditBalance) Available() int {
	return b.TotalCredits - b.UsedCredits - b.ReservedCredits
}

// CreditTransaction - credit_transactions 테이블 구조
type CreditTransaction struct {
	ID           string                 `json:"id,omitempty"`
	UserID       string                 `json:"user_id"`
	Amount       int                    `json:"amount"`
	Type         string                 `json:"transaction_type"`
	Description  string                 `json:"description"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	BalanceAfter int                    `json:"balance_after"`
	CreatedAt    *time.Time             `json:"created_at,omitempty"`
}

// CreditReservation - credit_reservations 테이블 구조. 커밋/해제되지 않은 예약분
type CreditReservation struct {
	ID        string    `json:"id,omitempty"`
	UserID    string    `json:"user_id"`
	Cost      int       `json:"cost"`
	ExpiresAt time.Time `json:"expires_at"`
}

const (
	TransactionUsage = "usage"

	TrainingNotTrained = "not_trained"
	TrainingTrained    = "trained"
)

// StrPtr - 빈 문자열은 nil (nullable 컬럼용)
func StrPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// GenerationFilter - 히스토리 조회 조건
// UserID가 nil이면 user_id IS NULL(익명 레코드)만 조회
type GenerationFilter struct {
	UserID    *string
	DatasetID string
}

// GenerationPage - 히스토리 페이지
type GenerationPage struct {
	Records []GenerationRecord `json:"generations"`
	Total   int64              `json:"total"`
	Limit   int                `json:"limit"`
	Offset  int                `json:"offset"`
}
