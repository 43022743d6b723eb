package generation

import (
	"time"

	"brand-canvas-server/modules/common/model"
)

// MaxReferenceImages - 모델이 받는 레퍼런스 이미지 상한
const MaxReferenceImages = 14

// GenerateRequest - POST /ai/generate
type GenerateRequest struct {
	Prompt         string `json:"prompt" validate:"required,max=4000"`
	Style          string `json:"style,omitempty" validate:"max=500"`
	ImageStyle     string `json:"image_style,omitempty" validate:"max=500"`
	AspectRatio    string `json:"aspect_ratio,omitempty" validate:"omitempty,aspectratio"`
	Quality        string `json:"quality,omitempty" validate:"omitempty,oneof=standard hd ultra"`
	Format         string `json:"format,omitempty" validate:"omitempty,oneof=png webp jpeg"`
	DatasetID      string `json:"dataset_id,omitempty" validate:"max=128"`
	FolderID       string `json:"folder_id,omitempty" validate:"max=128"`
	EnvironmentID  string `json:"environment_id,omitempty" validate:"max=128"`
	ReferenceCount int    `json:"reference_count,omitempty" validate:"min=0,max=14"`
	RequestID      string `json:"request_id,omitempty" validate:"max=128"`
}

// GenerateResponse - 생성 결과. 레코드 저장 실패 시 id 생략
type GenerateResponse struct {
	Success              bool      `json:"success"`
	ID                   string    `json:"id,omitempty"`
	UserID               *string   `json:"user_id"`
	ImageURL             string    `json:"image_url"`
	Caption              string    `json:"caption"`
	Prompt               string    `json:"prompt"`
	FullPrompt           string    `json:"full_prompt"`
	DatasetID            *string   `json:"dataset_id"`
	EnvironmentID        *string   `json:"environment_id"`
	FolderID             *string   `json:"folder_id"`
	Style                *string   `json:"style"`
	AspectRatio          string    `json:"aspect_ratio"`
	Quality              string    `json:"quality"`
	Format               string    `json:"format"`
	Resolution           string    `json:"resolution"`
	ReferenceImagesCount int       `json:"reference_images_count"`
	UniqueElements       []string  `json:"unique_elements"`
	Attempts             int       `json:"attempts"`
	CreditsUsed          int       `json:"credits_used"`
	CreatedAt            time.Time `json:"created_at"`
}

// HistoryResponse - GET /ai/generations
type HistoryResponse struct {
	Success bool `json:"success"`
	*model.GenerationPage
}

// resolutionByQuality - quality → 모델 image_size
var resolutionByQuality = map[string]string{
	"standard": "1K",
	"hd":       "2K",
	"ultra":    "4K",
}

const (
	defaultAspectRatio = "1:1"
	defaultQuality     = "hd"
	defaultResolution  = "2K"
	defaultFormat      = "png"
)

var supportedAspectRatios = map[string]bool{
	"1:1":  true,
	"16:9": true,
	"9:16": true,
	"4:3":  true,
	"3:4":  true,
	"2:3":  true,
	"3:2":  true,
	"4:5":  true,
	"5:4":  true,
	"21:9": true,
}

// normalized - 기본값이 채워진 요청
type normalized struct {
	GenerateRequest
	Resolution string
}

// normalize - validate 이후 호출. folder_id는 dataset_id 별칭
func (r GenerateRequest) normalize() normalized {
	n := normalized{GenerateRequest: r}
	if n.DatasetID == "" {
		n.DatasetID = n.FolderID
	}
	if n.FolderID == "" {
		n.FolderID = n.DatasetID
	}
	if n.AspectRatio == "" {
		n.AspectRatio = defaultAspectRatio
	}
	if n.Quality == "" {
		n.Quality = defaultQuality
	}
	n.Resolution = resolutionByQuality[n.Quality]
	if n.Resolution == "" {
		n.Resolution = defaultResolution
	}
	if n.Format == "" {
		n.Format = defaultFormat
	}
	return n
}
