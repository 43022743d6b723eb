package credit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"brand-canvas-server/modules/common/model"
)

// ErrNoBalance - credit_balances row 없음
var ErrNoBalance = errors.New("credit balance not found")

// ErrContention - CAS 재시도 한도 초과
var ErrContention = errors.New("credit balance contention, retry later")

const (
	defaultSwapRetries    = 8
	defaultReservationTTL = 30 * time.Minute
	reclaimBatchSize      = 100
)

// BalanceStore - 잔액 저장소. SwapBalance는 expected와 저장된 값이 같을 때만 next로 교체 (storage 레벨 CAS)
type BalanceStore interface {
	GetBalance(ctx context.Context, userID string) (*model.CreditBalance, error)
	SwapBalance(ctx context.Context, expected, next model.CreditBalance) (bool, error)
	InsertTransaction(ctx context.Context, tx *model.CreditTransaction) (string, error)

	InsertReservation(ctx context.Context, r *model.CreditReservation) (string, error)
	// DeleteReservation - 실제로 삭제했을 때만 true. 커밋/해제/회수 중 하나만 예약을 가져감
	DeleteReservation(ctx context.Context, id string) (bool, error)
	ListExpiredReservations(ctx context.Context, before time.Time, limit int) ([]model.CreditReservation, error)
}

// InsufficientCreditsError - 필요 크레딧 / 사용 가능 크레딧
type InsufficientCreditsError struct {
	Required  int
	Available int
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: required %d, available %d", e.Required, e.Available)
}

// Reservation - Reserve 결과. 익명 요청은 anonymous=true 로 모든 작업이 no-op
type Reservation struct {
	ID        string
	UserID    string
	Cost      int
	ExpiresAt time.Time
	anonymous bool
	claimed   bool
	settled   bool
}

// Anonymous - 원장을 거치지 않는 예약인지
func (r *Reservation) Anonymous() bool {
	return r == nil || r.anonymous
}

// Charged - 실제 차감 크레딧 (익명은 0)
func (r *Reservation) Charged() int {
	if r.Anonymous() {
		return 0
	}
	return r.Cost
}

type Ledger struct {
	store          BalanceStore
	swapRetries    int
	reservationTTL time.Duration
	now            func() time.Time
}

// NewLedger - Credit 원장 생성
func NewLedger(store BalanceStore) *Ledger {
	return &Ledger{
		store:          store,
		swapRetries:    defaultSwapRetries,
		reservationTTL: defaultReservationTTL,
		now:            time.Now,
	}
}

// WithReservationTTL - 예약 만료 시간. 가장 오래 걸리는 생성 요청보다 길어야 함
func (l *Ledger) WithReservationTTL(ttl time.Duration) *Ledger {
	if ttl > 0 {
		l.reservationTTL = ttl
	}
	return l
}

// Reserve - 사용 가능 크레딧 확인과 예약을 하나의 CAS로 처리
// 잔액 부족이면 모델 호출 전에 InsufficientCreditsError 반환
// 예약은 credit_reservations에 만료 시각과 함께 기록되고, 커밋/해제 없이 만료되면 ReclaimExpired가 회수
func (l *Ledger) Reserve(ctx context.Context, userID string, cost int) (*Reservation, error) {
	if userID == "" || cost <= 0 {
		return &Reservation{UserID: userID, anonymous: true}, nil
	}

	reserved := false
	for attempt := 1; attempt <= l.swapRetries && !reserved; attempt++ {
		current, err := l.store.GetBalance(ctx, userID)
		if errors.Is(err, ErrNoBalance) {
			return nil, &InsufficientCreditsError{Required: cost, Available: 0}
		}
		if err != nil {
			return nil, fmt.Errorf("failed to fetch credit balance: %w", err)
		}

		available := current.Available()
		if available < cost {
			logrus.WithFields(logrus.Fields{"user_id": userID, "required": cost, "available": available}).
				Warn("💸 [Credit] Insufficient credits")
			return nil, &InsufficientCreditsError{Required: cost, Available: available}
		}

		next := *current
		next.ReservedCredits += cost
		reserved, err = l.store.SwapBalance(ctx, *current, next)
		if err != nil {
			return nil, fmt.Errorf("failed to reserve credits: %w", err)
		}
		if !reserved {
			logrus.WithFields(logrus.Fields{"user_id": userID, "attempt": attempt}).
				Debug("🔁 [Credit] Balance changed concurrently, retrying reserve")
		}
	}
	if !reserved {
		return nil, ErrContention
	}

	expiresAt := l.now().Add(l.reservationTTL).UTC()
	id, err := l.store.InsertReservation(ctx, &model.CreditReservation{UserID: userID, Cost: cost, ExpiresAt: expiresAt})
	if err != nil {
		// 만료 기록이 없는 예약은 회수할 수 없으므로 바로 되돌림
		if undoErr := l.adjustReserved(context.WithoutCancel(ctx), userID, cost); undoErr != nil {
			logrus.WithError(undoErr).WithField("user_id", userID).Error("❌ [Credit] Failed to undo unrecorded reservation")
		}
		return nil, fmt.Errorf("failed to record credit reservation: %w", err)
	}

	logrus.WithFields(logrus.Fields{"user_id": userID, "cost": cost, "reservation_id": id, "expires_at": expiresAt}).
		Info("🔒 [Credit] Credits reserved")
	return &Reservation{ID: id, UserID: userID, Cost: cost, ExpiresAt: expiresAt}, nil
}

// claim - 예약 row 삭제. 이미 회수된 예약이면 false
func (l *Ledger) claim(ctx context.Context, r *Reservation) (bool, error) {
	if r.claimed {
		return true, nil
	}
	claimed, err := l.store.DeleteReservation(ctx, r.ID)
	if err != nil {
		return false, fmt.Errorf("failed to claim credit reservation: %w", err)
	}
	r.claimed = claimed
	return claimed, nil
}

// Commit - 생성 성공 후 예약분을 used_credits로 이동하고 거래 내역 기록
// 예약이 이미 만료 회수됐다면 남은 잔액에서 바로 차감
func (l *Ledger) Commit(ctx context.Context, r *Reservation, description string, metadata map[string]interface{}) (string, error) {
	if r.Anonymous() {
		return "", nil
	}
	if r.settled {
		return "", fmt.Errorf("reservation for %s already settled", r.UserID)
	}

	claimed, err := l.claim(ctx, r)
	if err != nil {
		return "", err
	}
	if !claimed {
		logrus.WithFields(logrus.Fields{"user_id": r.UserID, "reservation_id": r.ID}).
			Warn("⚠️  [Credit] Reservation already reclaimed, charging available balance")
	}

	var balanceAfter int
	committed := false
	for attempt := 1; attempt <= l.swapRetries && !committed; attempt++ {
		current, err := l.store.GetBalance(ctx, r.UserID)
		if err != nil {
			return "", fmt.Errorf("failed to fetch credit balance: %w", err)
		}

		next := *current
		if claimed {
			next.ReservedCredits -= r.Cost
			if next.ReservedCredits < 0 {
				next.ReservedCredits = 0
			}
		}
		next.UsedCredits += r.Cost
		next.RemainingCredits = next.TotalCredits - next.UsedCredits
		if next.Available() < 0 {
			return "", &InsufficientCreditsError{Required: r.Cost, Available: current.Available()}
		}

		committed, err = l.store.SwapBalance(ctx, *current, next)
		if err != nil {
			return "", fmt.Errorf("failed to commit credits: %w", err)
		}
		balanceAfter = next.RemainingCredits
	}
	if !committed {
		return "", ErrContention
	}
	r.settled = true

	logrus.WithFields(logrus.Fields{"user_id": r.UserID, "cost": r.Cost, "remaining": balanceAfter}).
		Info("💰 [Credit] Credits deducted")

	txID, err := l.store.InsertTransaction(ctx, &model.CreditTransaction{
		UserID:       r.UserID,
		Amount:       -r.Cost,
		Type:         model.TransactionUsage,
		Description:  description,
		Metadata:     metadata,
		BalanceAfter: balanceAfter,
	})
	if err != nil {
		// 차감은 이미 반영됨. 거래 내역만 누락
		logrus.WithError(err).WithField("user_id", r.UserID).
			Warn("⚠️  [Credit] Failed to record credit transaction")
		return "", nil
	}
	return txID, nil
}

// Release - 생성 실패 시 예약 해제 (실패한 생성은 무료)
func (l *Ledger) Release(ctx context.Context, r *Reservation) error {
	if r.Anonymous() || r.settled {
		return nil
	}

	claimed, err := l.claim(ctx, r)
	if err != nil {
		// row가 남아 있으면 만료 후 회수됨
		return err
	}
	if !claimed {
		r.settled = true
		return nil
	}

	if err := l.adjustReserved(ctx, r.UserID, r.Cost); err != nil {
		l.requeue(ctx, r.UserID, r.Cost)
		return err
	}
	r.settled = true
	logrus.WithFields(logrus.Fields{"user_id": r.UserID, "cost": r.Cost}).
		Info("🔓 [Credit] Reservation released")
	return nil
}

// ReclaimExpired - 만료된 예약을 reserved_credits에서 회수. 회수한 예약 수 반환
func (l *Ledger) ReclaimExpired(ctx context.Context) (int, error) {
	expired, err := l.store.ListExpiredReservations(ctx, l.now().UTC(), reclaimBatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list expired reservations: %w", err)
	}

	reclaimed := 0
	for _, res := range expired {
		claimed, err := l.store.DeleteReservation(ctx, res.ID)
		if err != nil {
			logrus.WithError(err).WithField("reservation_id", res.ID).Warn("⚠️  [Credit] Failed to claim expired reservation")
			continue
		}
		if !claimed {
			continue
		}
		if err := l.adjustReserved(ctx, res.UserID, res.Cost); err != nil {
			logrus.WithError(err).WithField("user_id", res.UserID).Error("❌ [Credit] Failed to reclaim reservation")
			l.requeue(ctx, res.UserID, res.Cost)
			continue
		}
		reclaimed++
		logrus.WithFields(logrus.Fields{"user_id": res.UserID, "cost": res.Cost, "reservation_id": res.ID}).
			Warn("♻️  [Credit] Expired reservation reclaimed")
	}
	return reclaimed, nil
}

// StartReclaimRoutine - interval마다 ReclaimExpired. stop이 닫히면 종료
func (l *Ledger) StartReclaimRoutine(stop <-chan struct{}, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), interval)
				if _, err := l.ReclaimExpired(ctx); err != nil {
					logrus.WithError(err).Error("❌ [Credit] Reservation reclaim failed")
				}
				cancel()
			case <-stop:
				return
			}
		}
	}()
	logrus.WithField("interval", interval.String()).Info("🔄 [Credit] Started reservation reclaim routine")
}

// adjustReserved - reserved_credits에서 amount 만큼 CAS 차감 (0 아래로 내려가지 않음)
func (l *Ledger) adjustReserved(ctx context.Context, userID string, amount int) error {
	for attempt := 1; attempt <= l.swapRetries; attempt++ {
		current, err := l.store.GetBalance(ctx, userID)
		if err != nil {
			return fmt.Errorf("failed to fetch credit balance: %w", err)
		}

		next := *current
		next.ReservedCredits -= amount
		if next.ReservedCredits < 0 {
			next.ReservedCredits = 0
		}
		swapped, err := l.store.SwapBalance(ctx, *current, next)
		if err != nil {
			return fmt.Errorf("failed to release credits: %w", err)
		}
		if swapped {
			return nil
		}
	}
	return ErrContention
}

// requeue - 가져간 예약을 돌려주지 못했을 때 즉시 만료된 row로 다시 기록해 다음 회수 대상으로 둠
func (l *Ledger) requeue(ctx context.Context, userID string, cost int) {
	_, err := l.store.InsertReservation(context.WithoutCancel(ctx), &model.CreditReservation{
		UserID:    userID,
		Cost:      cost,
		ExpiresAt: l.now().UTC(),
	})
	if err != nil {
		logrus.WithError(err).WithFields(logrus.Fields{"user_id": userID, "cost": cost}).
			Error("❌ [Credit] Failed to requeue reservation, reserved credits need manual repair")
	}
}
