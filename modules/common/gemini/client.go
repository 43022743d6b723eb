package gemini

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"google.golang.org/genai"
)

// ImagePart - 모델에 첨부할 이미지
type ImagePart struct {
	Data     []byte
	MIMEType string
}

// Request - 단일 모델 호출 입력
type Request struct {
	Prompt      string
	Images      []ImagePart
	AspectRatio string
	ImageSize   string
}

// Response - 모델이 반환한 이미지
type Response struct {
	Data     []byte
	MIMEType string
}

// ImageModel - 외부 이미지 생성 모델
type ImageModel interface {
	GenerateImage(ctx context.Context, req Request) (*Response, error)
}

// Client - API 키별 genai 클라이언트. 429를 받으면 다음 키로 교체
// Vertex AI 백엔드는 클라이언트 하나
type Client struct {
	clients []*genai.Client
	model   string
	current atomic.Uint32
}

// NewClient - 키마다 genai 클라이언트 생성
func NewClient(ctx context.Context, apiKeys []string, model string) (*Client, error) {
	if len(apiKeys) == 0 {
		return nil, fmt.Errorf("no API keys provided")
	}

	clients := make([]*genai.Client, 0, len(apiKeys))
	for i, key := range apiKeys {
		c, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  key,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create Gemini client for key #%d: %w", i+1, err)
		}
		clients = append(clients, c)
	}

	logrus.WithFields(logrus.Fields{"model": model, "keys": len(clients)}).Info("✅ [Gemini] Client initialized")
	return NewFromClients(clients, model), nil
}

// NewFromClients - 이미 만들어진 genai 클라이언트 사용 (Vertex AI 백엔드)
func NewFromClients(clients []*genai.Client, model string) *Client {
	return &Client{clients: clients, model: model}
}

func (c *Client) GenerateImage(ctx context.Context, req Request) (*Response, error) {
	keyIndex := int(c.current.Load()) % len(c.clients)

	parts := make([]*genai.Part, 0, len(req.Images)+1)
	for _, img := range req.Images {
		parts = append(parts, &genai.Part{
			InlineData: &genai.Blob{
				MIMEType: img.MIMEType,
				Data:     img.Data,
			},
		})
	}
	parts = append(parts, genai.NewPartFromText(req.Prompt))

	imageConfig := &genai.ImageConfig{AspectRatio: req.AspectRatio}
	if req.ImageSize != "" {
		imageConfig.ImageSize = req.ImageSize
	}

	logrus.WithFields(logrus.Fields{
		"key":    keyIndex + 1,
		"parts":  len(parts),
		"images": len(req.Images),
	}).Info("📤 [Gemini] Sending request")

	result, err := c.clients[keyIndex].Models.GenerateContent(
		ctx,
		c.model,
		[]*genai.Content{{Parts: parts}},
		&genai.GenerateContentConfig{
			ResponseModalities: []string{"IMAGE"},
			ImageConfig:        imageConfig,
		},
	)
	if err != nil {
		if IsRateLimit(err) && len(c.clients) > 1 {
			c.rotate(keyIndex)
		}
		return nil, err
	}

	return parseResponse(result)
}

// rotate - 같은 키를 본 호출끼리만 교체가 한 번 일어나도록 CAS
func (c *Client) rotate(from int) {
	next := uint32((from + 1) % len(c.clients))
	if c.current.CompareAndSwap(uint32(from), next) {
		logrus.WithFields(logrus.Fields{"from": from + 1, "to": next + 1}).
			Warn("🔑 [Gemini] Rate limited, rotating API key")
	}
}

func parseResponse(result *genai.GenerateContentResponse) (*Response, error) {
	if result == nil {
		return nil, ErrNoImageData
	}
	if fb := result.PromptFeedback; fb != nil && fb.BlockReason != "" && fb.BlockReason != genai.BlockedReasonUnspecified {
		return nil, &ContentPolicyError{Reason: string(fb.BlockReason)}
	}
	if len(result.Candidates) == 0 {
		return nil, ErrNoImageData
	}

	for _, candidate := range result.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part != nil && part.InlineData != nil && len(part.InlineData.Data) > 0 {
				logrus.WithField("bytes", len(part.InlineData.Data)).Info("✅ [Gemini] Received image")
				return &Response{Data: part.InlineData.Data, MIMEType: part.InlineData.MIMEType}, nil
			}
		}
	}

	for _, candidate := range result.Candidates {
		if candidate != nil && policyFinishReasons[string(candidate.FinishReason)] {
			return nil, &ContentPolicyError{Reason: string(candidate.FinishReason)}
		}
	}
	return nil, ErrNoImageData
}
