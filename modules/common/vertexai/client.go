package vertexai

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"cloud.google.com/go/auth"
	"cloud.google.com/go/auth/credentials"
	"github.com/sirupsen/logrus"
	"google.golang.org/genai"
)

const cloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

// Credentials - 서비스 계정 인증 정보
// 1. VERTEXAI_CREDENTIALS_JSON (Render 배포용)
// 2. VERTEXAI_CREDENTIALS_PATH (로컬 테스트용)
// 둘 다 없으면 nil 반환 → Application Default Credentials 사용
func Credentials(credsJSON, credsPath string) (*auth.Credentials, error) {
	var data []byte
	switch {
	case credsJSON != "":
		logrus.Info("✅ [VertexAI] Using VERTEXAI_CREDENTIALS_JSON from environment")
		data = []byte(credsJSON)
	case credsPath != "":
		logrus.WithField("path", credsPath).Info("✅ [VertexAI] Using credentials from file")
		fileData, err := os.ReadFile(credsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read credentials file: %w", err)
		}
		data = fileData
	default:
		logrus.Warn("⚠️  [VertexAI] No explicit credentials found, using Application Default Credentials")
		return nil, nil
	}

	// JSON 유효성 검사
	var creds map[string]interface{}
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("invalid JSON credentials: %w", err)
	}

	detected, err := credentials.DetectDefault(&credentials.DetectOptions{
		Scopes:          []string{cloudPlatformScope},
		CredentialsJSON: data,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load Vertex AI credentials: %w", err)
	}
	return detected, nil
}

// NewClient - Vertex AI 백엔드 genai 클라이언트. creds가 nil이면 ADC
func NewClient(ctx context.Context, project, location string, creds *auth.Credentials) (*genai.Client, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Backend:     genai.BackendVertexAI,
		Project:     project,
		Location:    location,
		Credentials: creds,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Vertex AI client: %w", err)
	}

	logrus.WithFields(logrus.Fields{"project": project, "location": location}).Info("✅ [VertexAI] Client initialized")
	return client, nil
}
