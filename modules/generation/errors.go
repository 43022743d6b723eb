package generation

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"

	"brand-canvas-server/modules/common/credit"
	"brand-canvas-server/modules/common/gemini"
	"brand-canvas-server/modules/common/redis"
)

// ErrRecordNotFound - 히스토리 단건 조회 실패 (없거나 볼 권한 없음)
var ErrRecordNotFound = errors.New("generation not found")

// ValidationError - 잘못된 요청. 부수효과 없이 즉시 거절
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return strings.Join(e.Fields, "; ")
}

// UploadError - 생성은 됐지만 저장소 업로드 실패
type UploadError struct {
	Cause error
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("failed to store generated image: %v", e.Cause)
}

func (e *UploadError) Unwrap() error { return e.Cause }

// PersistenceWarning - 이미지는 반환됐지만 generations 기록 저장 실패. 로그 전용
type PersistenceWarning struct {
	Cause error
}

func (e *PersistenceWarning) Error() string {
	return fmt.Sprintf("generation record not saved: %v", e.Cause)
}

func (e *PersistenceWarning) Unwrap() error { return e.Cause }

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("aspectratio", func(fl validator.FieldLevel) bool {
		return supportedAspectRatios[fl.Field().String()]
	})
	return v
}

// validateRequest - 검증 에러를 필드별 메시지로 변환
func validateRequest(req *GenerateRequest) error {
	if strings.TrimSpace(req.Prompt) == "" {
		return &ValidationError{Fields: []string{"prompt is required"}}
	}

	err := validate.Struct(req)
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return &ValidationError{Fields: []string{err.Error()}}
	}

	fields := make([]string, 0, len(validationErrors))
	for _, e := range validationErrors {
		name := jsonFieldName(e.Field())
		switch e.Tag() {
		case "required":
			fields = append(fields, fmt.Sprintf("%s is required", name))
		case "max", "min":
			fields = append(fields, fmt.Sprintf("%s must satisfy %s=%s", name, e.Tag(), e.Param()))
		case "oneof":
			fields = append(fields, fmt.Sprintf("%s must be one of [%s]", name, e.Param()))
		case "aspectratio":
			fields = append(fields, fmt.Sprintf("%s %q is not a supported aspect ratio", name, e.Value()))
		default:
			fields = append(fields, fmt.Sprintf("%s failed %s", name, e.Tag()))
		}
	}
	return &ValidationError{Fields: fields}
}

var jsonNames = map[string]string{
	"Prompt":         "prompt",
	"Style":          "style",
	"ImageStyle":     "image_style",
	"AspectRatio":    "aspect_ratio",
	"Quality":        "quality",
	"Format":         "format",
	"DatasetID":      "dataset_id",
	"FolderID":       "folder_id",
	"EnvironmentID":  "environment_id",
	"ReferenceCount": "reference_count",
	"RequestID":      "request_id",
}

func jsonFieldName(field string) string {
	if name, ok := jsonNames[field]; ok {
		return name
	}
	return field
}

// errorResponse - 에러 종류별 HTTP status / code / 추가 필드
func errorResponse(err error) (int, map[string]interface{}) {
	body := map[string]interface{}{"success": false, "error": err.Error()}

	var (
		validationErr   *ValidationError
		insufficientErr *credit.InsufficientCreditsError
		policyErr       *gemini.ContentPolicyError
		transientErr    *gemini.TransientServiceError
		tooLargeErr     *gemini.PayloadTooLargeError
		uploadErr       *UploadError
	)

	switch {
	case errors.As(err, &validationErr):
		body["code"] = "validation_error"
		body["details"] = validationErr.Fields
		return http.StatusBadRequest, body

	case errors.As(err, &insufficientErr):
		body["code"] = "insufficient_credits"
		body["required"] = insufficientErr.Required
		body["available"] = insufficientErr.Available
		return http.StatusPaymentRequired, body

	case errors.As(err, &policyErr):
		body["code"] = "content_policy"
		body["error"] = "The request was blocked by the image model's safety policy. Try simplifying or rephrasing the prompt."
		body["reason"] = policyErr.Reason
		return http.StatusUnprocessableEntity, body

	case errors.As(err, &transientErr), errors.Is(err, redis.ErrSlotsExhausted), errors.Is(err, credit.ErrContention):
		body["code"] = "service_unavailable"
		body["error"] = "The image model is temporarily unavailable. Please try again shortly."
		return http.StatusServiceUnavailable, body

	case errors.As(err, &tooLargeErr):
		body["code"] = "payload_too_large"
		return http.StatusRequestEntityTooLarge, body

	case errors.As(err, &uploadErr):
		body["code"] = "storage_error"
		return http.StatusInternalServerError, body

	case errors.Is(err, ErrRecordNotFound):
		body["code"] = "not_found"
		return http.StatusNotFound, body
	}

	body["code"] = "internal_error"
	body["error"] = "Image generation failed"
	return http.StatusInternalServerError, body
}
