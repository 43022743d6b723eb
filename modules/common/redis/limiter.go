package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// ErrSlotsExhausted - 동시 생성 슬롯이 모두 사용 중
var ErrSlotsExhausted = errors.New("generation slots exhausted")

// acquireScript - 만료된 holder 정리 후 남은 수가 상한 미만일 때만 추가
// KEYS[1] = slot zset, ARGV = now(ms), max, holder 만료 시각(ms), holder id, key ttl(ms)
var acquireScript = redis.NewScript(`
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
local count = redis.call('ZCARD', KEYS[1])
if count >= tonumber(ARGV[2]) then
	return -1
end
redis.call('ZADD', KEYS[1], ARGV[3], ARGV[4])
redis.call('PEXPIRE', KEYS[1], ARGV[5])
return count + 1`)

// Limiter - 여러 서버 인스턴스가 공유하는 업스트림 모델 동시 호출 제한
// 슬롯마다 만료 시각을 score로 가진 holder가 zset에 들어가므로 죽은 인스턴스의 슬롯은 ttl 후 사라짐
type Limiter struct {
	client *redis.Client
	key    string
	max    int
	ttl    time.Duration
	now    func() time.Time
}

// NewLimiter - ttl은 한 슬롯을 잡고 있을 수 있는 최대 시간
func NewLimiter(client *redis.Client, key string, max int, ttl time.Duration) *Limiter {
	return &Limiter{client: client, key: key, max: max, ttl: ttl, now: time.Now}
}

// Acquire - 슬롯 획득. 모두 사용 중이면 ErrSlotsExhausted
// Redis 장애 시에는 제한 없이 진행 (no-op release)
func (l *Limiter) Acquire(ctx context.Context) (func(), error) {
	holder := uuid.NewString()
	now := l.now()

	count, err := acquireScript.Run(ctx, l.client, []string{l.key},
		now.UnixMilli(), l.max, now.Add(l.ttl).UnixMilli(), holder, l.ttl.Milliseconds()).Int()
	if err != nil {
		logrus.WithError(err).WithField("key", l.key).Warn("⚠️  [Limiter] Redis unavailable, proceeding without slot")
		return func() {}, nil
	}
	if count < 0 {
		logrus.WithFields(logrus.Fields{"key": l.key, "max": l.max}).Warn("🚦 [Limiter] All generation slots in use")
		return nil, ErrSlotsExhausted
	}

	logrus.WithFields(logrus.Fields{"key": l.key, "in_use": count, "max": l.max}).Debug("🚦 [Limiter] Slot acquired")
	return func() { l.release(holder) }, nil
}

func (l *Limiter) release(holder string) {
	// 요청 컨텍스트가 이미 취소됐어도 반납은 수행
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := l.client.ZRem(ctx, l.key, holder).Err(); err != nil {
		logrus.WithError(err).WithField("key", l.key).Error("❌ [Limiter] Failed to release slot, it expires with its ttl")
	}
}

// InUse - 만료되지 않은 슬롯 수 (health 응답용)
func (l *Limiter) InUse(ctx context.Context) (int, error) {
	n, err := l.client.ZCount(ctx, l.key, "("+strconv.FormatInt(l.now().UnixMilli(), 10), "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read slot count: %w", err)
	}
	return int(n), nil
}
