package credit

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/supabase-community/postgrest-go"
	"github.com/supabase-community/supabase-go"

	"brand-canvas-server/modules/common/model"
)

// SupabaseStore - credit_balances / credit_transactions 테이블 기반 BalanceStore
type SupabaseStore struct {
	supabase *supabase.Client
}

// NewSupabaseStore - Credit 저장소 생성
func NewSupabaseStore(client *supabase.Client) *SupabaseStore {
	return &SupabaseStore{supabase: client}
}

func (s *SupabaseStore) GetBalance(ctx context.Context, userID string) (*model.CreditBalance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var balances []model.CreditBalance
	data, _, err := s.supabase.From("credit_balances").
		Select("user_id, total_credits, used_credits, reserved_credits, remaining_credits", "", false).
		Eq("user_id", userID).
		Execute()
	if err != nil {
		return nil, fmt.Errorf("failed to query credit_balances: %w", err)
	}
	if err := json.Unmarshal(data, &balances); err != nil {
		return nil, fmt.Errorf("failed to parse credit balance: %w", err)
	}
	if len(balances) == 0 {
		return nil, ErrNoBalance
	}
	return &balances[0], nil
}

// SwapBalance - 기존 카운터 값을 조건으로 거는 단일 UPDATE (PATCH + eq 필터)
// 다른 요청이 먼저 바꿨다면 0 row가 갱신되고 false 반환
func (s *SupabaseStore) SwapBalance(ctx context.Context, expected, next model.CreditBalance) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	update := map[string]interface{}{
		"used_credits":      next.UsedCredits,
		"reserved_credits":  next.ReservedCredits,
		"remaining_credits": next.TotalCredits - next.UsedCredits,
		"updated_at":        time.Now().UTC(),
	}

	data, _, err := s.supabase.From("credit_balances").
		Update(update, "representation", "").
		Eq("user_id", expected.UserID).
		Eq("total_credits", strconv.Itoa(expected.TotalCredits)).
		Eq("used_credits", strconv.Itoa(expected.UsedCredits)).
		Eq("reserved_credits", strconv.Itoa(expected.ReservedCredits)).
		Execute()
	if err != nil {
		return false, fmt.Errorf("failed to update credit_balances: %w", err)
	}

	var updated []model.CreditBalance
	if err := json.Unmarshal(data, &updated); err != nil {
		return false, fmt.Errorf("failed to parse credit update: %w", err)
	}
	return len(updated) == 1, nil
}

func (s *SupabaseStore) InsertTransaction(ctx context.Context, tx *model.CreditTransaction) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	data, _, err := s.supabase.From("credit_transactions").
		Insert(tx, false, "", "representation", "").
		Execute()
	if err != nil {
		return "", fmt.Errorf("failed to insert credit transaction: %w", err)
	}

	var inserted []model.CreditTransaction
	if err := json.Unmarshal(data, &inserted); err != nil {
		return "", fmt.Errorf("failed to parse credit transaction: %w", err)
	}
	if len(inserted) == 0 {
		return "", fmt.Errorf("no credit transaction returned")
	}
	return inserted[0].ID, nil
}

func (s *SupabaseStore) InsertReservation(ctx context.Context, r *model.CreditReservation) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	data, _, err := s.supabase.From("credit_reservations").
		Insert(r, false, "", "representation", "").
		Execute()
	if err != nil {
		return "", fmt.Errorf("failed to insert credit reservation: %w", err)
	}

	var inserted []model.CreditReservation
	if err := json.Unmarshal(data, &inserted); err != nil {
		return "", fmt.Errorf("failed to parse credit reservation: %w", err)
	}
	if len(inserted) == 0 {
		return "", fmt.Errorf("no credit reservation returned")
	}
	return inserted[0].ID, nil
}

// DeleteReservation - DELETE ... RETURNING. 동시에 지운 쪽이 있으면 0 row
func (s *SupabaseStore) DeleteReservation(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	data, _, err := s.supabase.From("credit_reservations").
		Delete("representation", "").
		Eq("id", id).
		Execute()
	if err != nil {
		return false, fmt.Errorf("failed to delete credit reservation: %w", err)
	}

	var deleted []model.CreditReservation
	if err := json.Unmarshal(data, &deleted); err != nil {
		return false, fmt.Errorf("failed to parse credit reservation delete: %w", err)
	}
	return len(deleted) == 1, nil
}

func (s *SupabaseStore) ListExpiredReservations(ctx context.Context, before time.Time, limit int) ([]model.CreditReservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, _, err := s.supabase.From("credit_reservations").
		Select("id, user_id, cost, expires_at", "", false).
		Lte("expires_at", before.UTC().Format(time.RFC3339Nano)).
		Order("expires_at", &postgrest.OrderOpts{Ascending: true}).
		Limit(limit, "").
		Execute()
	if err != nil {
		return nil, fmt.Errorf("failed to query credit_reservations: %w", err)
	}

	var reservations []model.CreditReservation
	if err := json.Unmarshal(data, &reservations); err != nil {
		return nil, fmt.Errorf("failed to parse credit reservations: %w", err)
	}
	return reservations, nil
}
