package gemini

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
)

const (
	EventAttemptStarted = "attempt_started"
	EventAttemptFailed  = "attempt_failed"
	EventDegraded       = "degraded"
)

// AttemptEvent - 진행 상황 알림 (websocket 전송용)
type AttemptEvent struct {
	Type       string `json:"type"`
	Attempt    int    `json:"attempt"`
	Call       int    `json:"call"`
	References int    `json:"references"`
	ErrorKind  string `json:"error_kind,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Observer - nil 허용
type Observer func(AttemptEvent)

// Slots - 업스트림 동시 호출 슬롯 (redis Limiter)
// 슬롯이 모두 사용 중일 때만 에러. 저장소 장애는 구현체가 no-op release로 흡수
type Slots interface {
	Acquire(ctx context.Context) (func(), error)
}

type InvokerConfig struct {
	MaxAttempts      int
	TransientRetries int
	AttemptTimeout   time.Duration
	InitialBackoff   time.Duration
	MaxBackoff       time.Duration
}

// InvokeRequest - References는 선택 순위 순서. 뒤에서부터 잘라냄
type InvokeRequest struct {
	BuildPrompt func(references int) string
	References  []ImagePart
	AspectRatio string
	ImageSize   string
}

// InvokeResult - Attempts는 실제 모델 호출 횟수
type InvokeResult struct {
	Image          []byte
	MIMEType       string
	Attempts       int
	ReferencesUsed int
	Prompt         string
}

type Invoker struct {
	model ImageModel
	slots Slots
	cfg   InvokerConfig
}

// NewInvoker - slots가 nil이면 동시 호출 제한 없음
func NewInvoker(model ImageModel, slots Slots, cfg InvokerConfig) *Invoker {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 3
	}
	if cfg.TransientRetries < 0 {
		cfg.TransientRetries = 0
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 90 * time.Second
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 8 * time.Second
	}
	return &Invoker{model: model, slots: slots, cfg: cfg}
}

// Invoke - 레퍼런스 축소 재시도 + 일시 장애 백오프
func (inv *Invoker) Invoke(ctx context.Context, req InvokeRequest, observe Observer) (*InvokeResult, error) {
	if observe == nil {
		observe = func(AttemptEvent) {}
	}

	if inv.slots != nil {
		release, err := inv.slots.Acquire(ctx)
		if err != nil {
			return nil, &TransientServiceError{Attempts: 0, Cause: err}
		}
		defer release()
	}

	state := Start(len(req.References), inv.cfg.MaxAttempts)
	calls := 0

	for {
		refs := req.References[:state.RefCeiling]
		prompt := req.BuildPrompt(len(refs))

		resp, err := inv.attempt(ctx, state, &calls, Request{
			Prompt:      prompt,
			Images:      refs,
			AspectRatio: req.AspectRatio,
			ImageSize:   req.ImageSize,
		}, observe)
		if err == nil {
			logrus.WithFields(logrus.Fields{"attempt": state.Attempt, "calls": calls, "references": len(refs)}).
				Info("✅ [Invoker] Image generated")
			return &InvokeResult{
				Image:          resp.Data,
				MIMEType:       resp.MIMEType,
				Attempts:       calls,
				ReferencesUsed: len(refs),
				Prompt:         prompt,
			}, nil
		}

		switch Classify(err) {
		case KindContentPolicy:
			var policyErr *ContentPolicyError
			if errors.As(err, &policyErr) {
				return nil, policyErr
			}
			return nil, &ContentPolicyError{Reason: err.Error()}

		case KindPayloadTooLarge:
			next, ok := state.Next()
			if !ok {
				return nil, &PayloadTooLargeError{References: state.RefCeiling, Cause: err}
			}
			logrus.WithFields(logrus.Fields{"attempt": state.Attempt, "from": state.RefCeiling, "to": next.RefCeiling}).
				Warn("📉 [Invoker] Payload rejected, reducing reference images")
			observe(AttemptEvent{Type: EventDegraded, Attempt: next.Attempt, Call: calls, References: next.RefCeiling})
			state = next

		case KindTransient:
			return nil, &TransientServiceError{Attempts: calls, Cause: err}

		default:
			return nil, fmt.Errorf("image generation failed: %w", err)
		}
	}
}

// attempt - 한 단계(같은 레퍼런스 수)에서 일시 장애만 백오프로 재시도
func (inv *Invoker) attempt(ctx context.Context, state LadderState, calls *int, req Request, observe Observer) (*Response, error) {
	var resp *Response

	op := func() error {
		*calls++
		observe(AttemptEvent{Type: EventAttemptStarted, Attempt: state.Attempt, Call: *calls, References: len(req.Images)})

		attemptCtx, cancel := context.WithTimeout(ctx, inv.cfg.AttemptTimeout)
		defer cancel()

		r, err := inv.model.GenerateImage(attemptCtx, req)
		if err == nil {
			resp = r
			return nil
		}

		kind := Classify(err)
		logrus.WithError(err).WithFields(logrus.Fields{
			"attempt":    state.Attempt,
			"call":       *calls,
			"references": len(req.Images),
			"kind":       kind.String(),
		}).Warn("⚠️  [Invoker] Model call failed")
		observe(AttemptEvent{
			Type:       EventAttemptFailed,
			Attempt:    state.Attempt,
			Call:       *calls,
			References: len(req.Images),
			ErrorKind:  kind.String(),
			Error:      err.Error(),
		})

		if ctx.Err() != nil || kind != KindTransient {
			return backoff.Permanent(err)
		}
		return err
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = inv.cfg.InitialBackoff
	expo.MaxInterval = inv.cfg.MaxBackoff
	expo.MaxElapsedTime = 0

	policy := backoff.WithContext(backoff.WithMaxRetries(expo, uint64(inv.cfg.TransientRetries)), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return nil, err
	}
	return resp, nil
}
