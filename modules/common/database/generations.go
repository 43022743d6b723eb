package database

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/supabase-community/postgrest-go"

	"brand-canvas-server/modules/common/model"
)

const generationsTable = "generations"

// CreateGeneration - generations 테이블에 레코드 생성, DB가 채운 id / created_at 포함 레코드 반환
func (c *Client) CreateGeneration(ctx context.Context, record *model.GenerationRecord) (*model.GenerationRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, _, err := c.supabase.From(generationsTable).
		Insert(record, false, "", "representation", "").
		Execute()
	if err != nil {
		return nil, fmt.Errorf("failed to insert generation record: %w", err)
	}

	var created []model.GenerationRecord
	if err := json.Unmarshal(data, &created); err != nil {
		return nil, fmt.Errorf("failed to parse generation insert response: %w", err)
	}
	if len(created) == 0 || created[0].ID == "" {
		return nil, fmt.Errorf("no generation record returned")
	}

	logrus.WithField("generation_id", created[0].ID).Info("💾 [Database] Generation record created")
	return &created[0], nil
}

// ListGenerations - 최신순 페이지 조회
func (c *Client) ListGenerations(ctx context.Context, filter model.GenerationFilter, limit, offset int) (*model.GenerationPage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	query := c.supabase.From(generationsTable).Select("*", "exact", false)
	if filter.UserID != nil {
		query = query.Eq("user_id", *filter.UserID)
	} else {
		query = query.Is("user_id", "null")
	}
	if filter.DatasetID != "" {
		query = query.Eq("dataset_id", filter.DatasetID)
	}

	data, total, err := query.
		Order("created_at", &postgrest.OrderOpts{Ascending: false}).
		Range(offset, offset+limit-1, "").
		Execute()
	if err != nil {
		return nil, fmt.Errorf("failed to query generations: %w", err)
	}

	var records []model.GenerationRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to parse generations: %w", err)
	}

	return &model.GenerationPage{
		Records: records,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
	}, nil
}

// GetGeneration - 단건 조회
func (c *Client) GetGeneration(ctx context.Context, id string) (*model.GenerationRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, _, err := c.supabase.From(generationsTable).
		Select("*", "", false).
		Eq("id", id).
		Execute()
	if err != nil {
		return nil, fmt.Errorf("failed to query generation %s: %w", id, err)
	}

	var records []model.GenerationRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to parse generation: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("generation %s: %w", id, ErrNotFound)
	}
	return &records[0], nil
}
