package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/supabase-community/postgrest-go"
	"github.com/supabase-community/supabase-go"

	"brand-canvas-server/modules/common/config"
	"brand-canvas-server/modules/common/model"
)

// ErrNotFound - 조회 대상 row 없음
var ErrNotFound = errors.New("not found")

// candidatePoolSize - 데이터셋당 선택 후보로 읽어오는 최대 이미지 수
const candidatePoolSize = 200

type Client struct {
	supabase *supabase.Client
}

// NewClient - Database 클라이언트 생성
func NewClient(cfg *config.Config) (*Client, error) {
	supabaseClient, err := supabase.NewClient(cfg.SupabaseURL, cfg.SupabaseServiceKey, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to create Supabase client: %w", err)
	}
	return &Client{supabase: supabaseClient}, nil
}

// Supabase - 다른 모듈(credit, storage)과 클라이언트 공유
func (c *Client) Supabase() *supabase.Client {
	return c.supabase
}

// GetDataset - datasets 테이블에서 단건 조회
func (c *Client) GetDataset(ctx context.Context, datasetID string) (*model.Dataset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var datasets []model.Dataset
	data, _, err := c.supabase.From("datasets").
		Select("*", "", false).
		Eq("id", datasetID).
		Execute()
	if err != nil {
		return nil, fmt.Errorf("failed to query datasets: %w", err)
	}
	if err := json.Unmarshal(data, &datasets); err != nil {
		return nil, fmt.Errorf("failed to parse dataset response: %w", err)
	}
	if len(datasets) == 0 {
		return nil, fmt.Errorf("dataset %s: %w", datasetID, ErrNotFound)
	}
	return &datasets[0], nil
}

// ListImages - 데이터셋 이미지를 삽입 순서(created_at 오름차순)로 조회
// 최신 limit장을 읽은 뒤 뒤집어서 오래된 것부터 반환
func (c *Client) ListImages(ctx context.Context, datasetID string, limit int) ([]model.ReferenceImage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > candidatePoolSize {
		limit = candidatePoolSize
	}

	var images []model.ReferenceImage
	data, _, err := c.supabase.From("dataset_images").
		Select("id, dataset_id, image_url, analysis_result, created_at", "", false).
		Eq("dataset_id", datasetID).
		Order("created_at", &postgrest.OrderOpts{Ascending: false}).
		Limit(limit, "").
		Execute()
	if err != nil {
		return nil, fmt.Errorf("failed to query dataset_images: %w", err)
	}
	if err := json.Unmarshal(data, &images); err != nil {
		return nil, fmt.Errorf("failed to parse dataset_images response: %w", err)
	}

	for i, j := 0, len(images)-1; i < j; i, j = i+1, j-1 {
		images[i], images[j] = images[j], images[i]
	}

	logrus.WithFields(logrus.Fields{"dataset_id": datasetID, "images": len(images)}).
		Debug("🔍 [Database] Dataset images fetched")
	return images, nil
}

// ListEnvironmentDatasets - 환경에 속한 폴더(데이터셋) 목록, 생성 순
func (c *Client) ListEnvironmentDatasets(ctx context.Context, environmentID string) ([]model.Dataset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var datasets []model.Dataset
	data, _, err := c.supabase.From("datasets").
		Select("*", "", false).
		Eq("environment_id", environmentID).
		Order("created_at", &postgrest.OrderOpts{Ascending: true}).
		Execute()
	if err != nil {
		return nil, fmt.Errorf("failed to query environment datasets: %w", err)
	}
	if err := json.Unmarshal(data, &datasets); err != nil {
		return nil, fmt.Errorf("failed to parse environment datasets: %w", err)
	}
	return datasets, nil
}

// GetBusinessProfile - business_profiles 조회 (id = user id)
func (c *Client) GetBusinessProfile(ctx context.Context, userID string) (*model.BusinessProfile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var profiles []model.BusinessProfile
	data, _, err := c.supabase.From("business_profiles").
		Select("id, business_name, vibes, theme", "", false).
		Eq("id", userID).
		Execute()
	if err != nil {
		return nil, fmt.Errorf("failed to query business_profiles: %w", err)
	}
	if err := json.Unmarshal(data, &profiles); err != nil {
		return nil, fmt.Errorf("failed to parse business profile: %w", err)
	}
	if len(profiles) == 0 {
		return nil, fmt.Errorf("business profile %s: %w", userID, ErrNotFound)
	}
	return &profiles[0], nil
}
