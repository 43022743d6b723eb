package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genai"
)

// ErrorKind - 재시도 정책 결정을 위한 업스트림 에러 분류
type ErrorKind int

const (
	KindPermanent ErrorKind = iota
	KindContentPolicy
	KindPayloadTooLarge
	KindTransient
)

func (k ErrorKind) String() string {
	switch k {
	case KindContentPolicy:
		return "content_policy"
	case KindPayloadTooLarge:
		return "payload_too_large"
	case KindTransient:
		return "transient"
	default:
		return "permanent"
	}
}

// ErrNoImageData - 응답에 이미지 파트가 없음 (텍스트만 반환된 경우 등)
var ErrNoImageData = errors.New("no image data in response")

// ContentPolicyError - 안전 필터 차단. 재시도하지 않음
type ContentPolicyError struct {
	Reason string
}

func (e *ContentPolicyError) Error() string {
	return fmt.Sprintf("content blocked by safety policy (%s)", e.Reason)
}

// PayloadTooLargeError - 레퍼런스 0장까지 줄여도 요청이 거부된 경우
type PayloadTooLargeError struct {
	References int
	Cause      error
}

func (e *PayloadTooLargeError) Error() string {
	return fmt.Sprintf("request payload rejected with %d reference images: %v", e.References, e.Cause)
}

func (e *PayloadTooLargeError) Unwrap() error { return e.Cause }

// TransientServiceError - 백오프 재시도 후에도 업스트림 사용 불가
type TransientServiceError struct {
	Attempts int
	Cause    error
}

func (e *TransientServiceError) Error() string {
	return fmt.Sprintf("image model temporarily unavailable after %d attempts: %v", e.Attempts, e.Cause)
}

func (e *TransientServiceError) Unwrap() error { return e.Cause }

var policyFinishReasons = map[string]bool{
	"SAFETY":                   true,
	"PROHIBITED_CONTENT":       true,
	"BLOCKLIST":                true,
	"SPII":                     true,
	"IMAGE_SAFETY":             true,
	"IMAGE_PROHIBITED_CONTENT": true,
}

// Classify - 에러를 재시도 분류로 변환
func Classify(err error) ErrorKind {
	if err == nil {
		return KindPermanent
	}

	var policyErr *ContentPolicyError
	if errors.As(err, &policyErr) {
		return KindContentPolicy
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrNoImageData) {
		return KindTransient
	}

	if code, msg, ok := apiErrorCode(err); ok {
		switch {
		case code == http.StatusRequestEntityTooLarge:
			return KindPayloadTooLarge
		case code == http.StatusBadRequest && mentionsPayloadSize(msg):
			return KindPayloadTooLarge
		case code == http.StatusTooManyRequests || code >= http.StatusInternalServerError:
			return KindTransient
		default:
			return KindPermanent
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case mentionsPayloadSize(msg) || strings.Contains(msg, "413"):
		return KindPayloadTooLarge
	case isRateLimitMessage(msg),
		strings.Contains(msg, "unavailable"),
		strings.Contains(msg, "timeout"),
		strings.Contains(msg, "deadline"),
		strings.Contains(msg, "503"),
		strings.Contains(msg, "502"),
		strings.Contains(msg, "500"):
		return KindTransient
	}
	return KindPermanent
}

// IsRateLimit - 429 Rate Limit 에러인지 확인 (API 키 교체 판단용)
func IsRateLimit(err error) bool {
	if err == nil {
		return false
	}
	if code, _, ok := apiErrorCode(err); ok {
		return code == http.StatusTooManyRequests
	}
	return isRateLimitMessage(strings.ToLower(err.Error()))
}

func apiErrorCode(err error) (int, string, bool) {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code, strings.ToLower(apiErr.Message), true
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return apiErrPtr.Code, strings.ToLower(apiErrPtr.Message), true
	}
	return 0, "", false
}

func mentionsPayloadSize(msg string) bool {
	return strings.Contains(msg, "too large") ||
		strings.Contains(msg, "payload") ||
		strings.Contains(msg, "request size") ||
		strings.Contains(msg, "exceeds the maximum")
}

func isRateLimitMessage(msg string) bool {
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "quota") ||
		strings.Contains(msg, "resource_exhausted")
}
