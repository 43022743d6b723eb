package fallback

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Shape - 느슨한 JSON 값의 형태
type Shape int

const (
	ShapeEmpty Shape = iota
	ShapeString
	ShapeList
	ShapeScalar
	ShapeUnknown
)

func (s Shape) String() string {
	switch s {
	case ShapeEmpty:
		return "empty"
	case ShapeString:
		return "string"
	case ShapeList:
		return "list"
	case ShapeScalar:
		return "scalar"
	default:
		return "unknown"
	}
}

// SafeString returns a trimmed string or the provided fallback.
func SafeString(value interface{}, fallback string) string {
	if s, ok := value.(string); ok {
		s = strings.TrimSpace(s)
		if s != "" {
			return s
		}
	}
	return fallback
}

// SafeInt converts common number shapes into int with a fallback.
func SafeInt(value interface{}, fallback int) int {
	switch v := value.(type) {
	case float64:
		if v > 0 {
			return int(v)
		}
	case int:
		if v > 0 {
			return v
		}
	case int64:
		if v > 0 {
			return int(v)
		}
	case json.Number:
		if n, err := strconv.Atoi(v.String()); err == nil && n > 0 {
			return n
		}
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

// StringList - string / []string / []interface{} / 숫자·불리언을 문자열 리스트로 정규화
// 맵처럼 해석할 수 없는 형태는 ShapeUnknown과 함께 nil 반환
func StringList(value interface{}) ([]string, Shape) {
	switch v := value.(type) {
	case nil:
		return nil, ShapeEmpty
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return nil, ShapeEmpty
		}
		return []string{s}, ShapeString
	case []string:
		return compact(v), ShapeList
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			switch iv := item.(type) {
			case string:
				out = append(out, iv)
			case float64, int, int64, bool, json.Number:
				out = append(out, fmt.Sprint(iv))
			}
		}
		return compact(out), ShapeList
	case float64, int, int64, bool, json.Number:
		return []string{fmt.Sprint(v)}, ShapeScalar
	default:
		return nil, ShapeUnknown
	}
}

// JoinList - StringList 결과를 ", "로 연결
func JoinList(value interface{}) string {
	list, _ := StringList(value)
	return strings.Join(list, ", ")
}

func compact(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
