package gemini

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

type scriptedModel struct {
	mu       sync.Mutex
	errs     []error
	requests []Request
}

func (m *scriptedModel) GenerateImage(_ context.Context, req Request) (*Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if i := len(m.requests) - 1; i < len(m.errs) && m.errs[i] != nil {
		return nil, m.errs[i]
	}
	return &Response{Data: []byte("png"), MIMEType: "image/png"}, nil
}

func refs(n int) []ImagePart {
	parts := make([]ImagePart, n)
	for i := range parts {
		parts[i] = ImagePart{Data: []byte{byte(i)}, MIMEType: "image/jpeg"}
	}
	return parts
}

func promptFor(n int) string {
	return fmt.Sprintf("Replicate %d reference image(s).", n)
}

func testInvoker(model ImageModel, slots Slots) *Invoker {
	return NewInvoker(model, slots, InvokerConfig{
		MaxAttempts:      3,
		TransientRetries: 2,
		AttemptTimeout:   time.Second,
		InitialBackoff:   time.Millisecond,
		MaxBackoff:       2 * time.Millisecond,
	})
}

var payloadErr = genai.APIError{Code: 413, Message: "Request payload size exceeds the limit", Status: "INVALID_ARGUMENT"}

func TestInvokeDegradesOnPayloadTooLarge(t *testing.T) {
	model := &scriptedModel{errs: []error{payloadErr, payloadErr}}
	var events []AttemptEvent

	result, err := testInvoker(model, nil).Invoke(context.Background(), InvokeRequest{
		BuildPrompt: promptFor,
		References:  refs(5),
		AspectRatio: "1:1",
		ImageSize:   "2K",
	}, func(e AttemptEvent) { events = append(events, e) })
	require.NoError(t, err)

	require.Len(t, model.requests, 3)
	assert.Len(t, model.requests[0].Images, 5)
	assert.Len(t, model.requests[1].Images, 2)
	assert.Len(t, model.requests[2].Images, 0)
	assert.Equal(t, "Replicate 5 reference image(s).", model.requests[0].Prompt)
	assert.Equal(t, "Replicate 2 reference image(s).", model.requests[1].Prompt)

	// 낮은 순위부터 제거
	assert.Equal(t, []byte{0}, model.requests[1].Images[0].Data)
	assert.Equal(t, []byte{1}, model.requests[1].Images[1].Data)

	assert.Equal(t, 3, result.Attempts)
	assert.Equal(t, 0, result.ReferencesUsed)
	assert.Equal(t, "Replicate 0 reference image(s).", result.Prompt)

	var degraded []int
	for _, e := range events {
		if e.Type == EventDegraded {
			degraded = append(degraded, e.References)
		}
	}
	assert.Equal(t, []int{2, 0}, degraded)
}

func TestInvokeSecondRungSucceedsWithReducedReferences(t *testing.T) {
	model := &scriptedModel{errs: []error{errors.New("request entity too large")}}

	result, err := testInvoker(model, nil).Invoke(context.Background(), InvokeRequest{
		BuildPrompt: promptFor,
		References:  refs(5),
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, result.ReferencesUsed)
	assert.Equal(t, 2, result.Attempts)
}

func TestInvokePayloadTooLargeExhausted(t *testing.T) {
	model := &scriptedModel{errs: []error{payloadErr, payloadErr, payloadErr}}

	_, err := testInvoker(model, nil).Invoke(context.Background(), InvokeRequest{
		BuildPrompt: promptFor,
		References:  refs(5),
	}, nil)

	var tooLarge *PayloadTooLargeError
	require.ErrorAs(t, err, &tooLarge)
	assert.Equal(t, 0, tooLarge.References)
	assert.Len(t, model.requests, 3)
}

func TestInvokeContentPolicyIsNotRetried(t *testing.T) {
	model := &scriptedModel{errs: []error{&ContentPolicyError{Reason: "SAFETY"}}}

	_, err := testInvoker(model, nil).Invoke(context.Background(), InvokeRequest{
		BuildPrompt: promptFor,
		References:  refs(3),
	}, nil)

	var policy *ContentPolicyError
	require.ErrorAs(t, err, &policy)
	assert.Equal(t, "SAFETY", policy.Reason)
	assert.Len(t, model.requests, 1)
}

func TestInvokeTransientRetriesSameRung(t *testing.T) {
	unavailable := genai.APIError{Code: 503, Message: "The model is overloaded", Status: "UNAVAILABLE"}

	t.Run("recovers within retry bound", func(t *testing.T) {
		model := &scriptedModel{errs: []error{unavailable, unavailable}}
		result, err := testInvoker(model, nil).Invoke(context.Background(), InvokeRequest{
			BuildPrompt: promptFor,
			References:  refs(4),
		}, nil)
		require.NoError(t, err)
		assert.Equal(t, 3, result.Attempts)
		assert.Equal(t, 4, result.ReferencesUsed)
		for _, req := range model.requests {
			assert.Len(t, req.Images, 4)
		}
	})

	t.Run("surfaces transient error after retries", func(t *testing.T) {
		model := &scriptedModel{errs: []error{unavailable, unavailable, unavailable, unavailable}}
		_, err := testInvoker(model, nil).Invoke(context.Background(), InvokeRequest{
			BuildPrompt: promptFor,
			References:  refs(4),
		}, nil)

		var transient *TransientServiceError
		require.ErrorAs(t, err, &transient)
		assert.Equal(t, 3, transient.Attempts)
		assert.Len(t, model.requests, 3)
	})
}

func TestInvokePermanentError(t *testing.T) {
	model := &scriptedModel{errs: []error{genai.APIError{Code: 400, Message: "invalid argument"}}}

	_, err := testInvoker(model, nil).Invoke(context.Background(), InvokeRequest{
		BuildPrompt: promptFor,
	}, nil)
	require.Error(t, err)
	assert.Equal(t, KindPermanent, Classify(err))
	assert.Len(t, model.requests, 1)
}

type fakeSlots struct {
	err      error
	acquired int
	released int
}

func (s *fakeSlots) Acquire(context.Context) (func(), error) {
	if s.err != nil {
		return nil, s.err
	}
	s.acquired++
	return func() { s.released++ }, nil
}

func TestInvokeSlots(t *testing.T) {
	t.Run("slot released after call", func(t *testing.T) {
		slots := &fakeSlots{}
		_, err := testInvoker(&scriptedModel{}, slots).Invoke(context.Background(), InvokeRequest{BuildPrompt: promptFor}, nil)
		require.NoError(t, err)
		assert.Equal(t, 1, slots.acquired)
		assert.Equal(t, 1, slots.released)
	})

	t.Run("exhausted slots are transient", func(t *testing.T) {
		model := &scriptedModel{}
		_, err := testInvoker(model, &fakeSlots{err: errors.New("busy")}).Invoke(context.Background(), InvokeRequest{BuildPrompt: promptFor}, nil)
		var transient *TransientServiceError
		require.ErrorAs(t, err, &transient)
		assert.Empty(t, model.requests)
	})
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"api 413", genai.APIError{Code: 413}, KindPayloadTooLarge},
		{"api 400 size", genai.APIError{Code: 400, Message: "Request payload size exceeds the limit"}, KindPayloadTooLarge},
		{"api 400 other", genai.APIError{Code: 400, Message: "bad aspect"}, KindPermanent},
		{"api 429", genai.APIError{Code: 429}, KindTransient},
		{"api 500", &genai.APIError{Code: 500}, KindTransient},
		{"wrapped api 503", fmt.Errorf("call: %w", genai.APIError{Code: 503}), KindTransient},
		{"deadline", context.DeadlineExceeded, KindTransient},
		{"no image", ErrNoImageData, KindTransient},
		{"policy", &ContentPolicyError{Reason: "IMAGE_SAFETY"}, KindContentPolicy},
		{"quota text", errors.New("Error 429, quota exceeded"), KindTransient},
		{"too large text", errors.New("request entity too large"), KindPayloadTooLarge},
		{"unknown", errors.New("boom"), KindPermanent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestIsRateLimit(t *testing.T) {
	assert.True(t, IsRateLimit(genai.APIError{Code: 429}))
	assert.False(t, IsRateLimit(genai.APIError{Code: 503}))
	assert.True(t, IsRateLimit(errors.New("RESOURCE_EXHAUSTED: rate limit")))
	assert.False(t, IsRateLimit(nil))
}

func TestParseResponse(t *testing.T) {
	t.Run("image part", func(t *testing.T) {
		resp, err := parseResponse(&genai.GenerateContentResponse{
			Candidates: []*genai.Candidate{{
				Content: &genai.Content{Parts: []*genai.Part{
					genai.NewPartFromText("here you go"),
					{InlineData: &genai.Blob{MIMEType: "image/png", Data: []byte{1, 2, 3}}},
				}},
			}},
		})
		require.NoError(t, err)
		assert.Equal(t, []byte{1, 2, 3}, resp.Data)
	})

	t.Run("blocked prompt", func(t *testing.T) {
		_, err := parseResponse(&genai.GenerateContentResponse{
			PromptFeedback: &genai.GenerateContentResponsePromptFeedback{BlockReason: genai.BlockedReasonSafety},
		})
		assert.Equal(t, KindContentPolicy, Classify(err))
	})

	t.Run("safety finish reason", func(t *testing.T) {
		_, err := parseResponse(&genai.GenerateContentResponse{
			Candidates: []*genai.Candidate{{FinishReason: genai.FinishReasonSafety}},
		})
		assert.Equal(t, KindContentPolicy, Classify(err))
	})

	t.Run("text only", func(t *testing.T) {
		_, err := parseResponse(&genai.GenerateContentResponse{
			Candidates: []*genai.Candidate{{
				FinishReason: genai.FinishReasonStop,
				Content:      &genai.Content{Parts: []*genai.Part{genai.NewPartFromText("sorry")}},
			}},
		})
		assert.ErrorIs(t, err, ErrNoImageData)
	})
}
