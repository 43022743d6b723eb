package progress

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	sendBuffer = 64

	// 구독자 없이 남아있는 채널 정리 기준
	idleThreshold = 10 * time.Minute
	// 생성 요청 하나가 이보다 오래 걸리지 않음
	expiredThreshold = 2 * time.Hour
)

// subscriber - request_id 하나를 구독 중인 websocket 연결
type subscriber struct {
	conn *websocket.Conn
	send chan []byte
}

// channel - request_id 별 구독자 목록과 마지막 이벤트
type channel struct {
	id           string
	subscribers  map[*subscriber]struct{}
	last         []byte
	createdAt    time.Time
	lastActivity time.Time
}

// Metrics - /metrics 응답
type Metrics struct {
	TotalChannels    int       `json:"totalChannels"`
	ActiveChannels   int       `json:"activeChannels"`
	TotalConnections int       `json:"totalConnections"`
	Published        int       `json:"published"`
	StartTime        time.Time `json:"startTime"`
}

// Hub - 생성 진행 이벤트를 request_id 구독자에게 전달
type Hub struct {
	mutex    sync.RWMutex
	channels map[string]*channel
	metrics  Metrics
}

func NewHub() *Hub {
	return &Hub{
		channels: make(map[string]*channel),
		metrics:  Metrics{StartTime: time.Now()},
	}
}

// getOrCreate - 호출자가 mutex를 잡고 있어야 함
func (h *Hub) getOrCreate(requestID string) *channel {
	ch, exists := h.channels[requestID]
	if !exists {
		now := time.Now()
		ch = &channel{
			id:           requestID,
			subscribers:  make(map[*subscriber]struct{}),
			createdAt:    now,
			lastActivity: now,
		}
		h.channels[requestID] = ch
		h.metrics.TotalChannels++
		h.metrics.ActiveChannels++
	}
	ch.lastActivity = time.Now()
	return ch
}

// Publish - 구독자가 없으면 마지막 이벤트만 보관 (늦게 붙은 구독자에게 전달)
func (h *Hub) Publish(requestID string, event interface{}) {
	if requestID == "" {
		return
	}

	payload, err := json.Marshal(event)
	if err != nil {
		logrus.WithError(err).WithField("request_id", requestID).Error("❌ [Progress] Failed to marshal event")
		return
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()

	ch := h.getOrCreate(requestID)
	ch.last = payload
	h.metrics.Published++

	for sub := range ch.subscribers {
		select {
		case sub.send <- payload:
		default:
			// 느린 구독자는 끊음
			close(sub.send)
			delete(ch.subscribers, sub)
			logrus.WithField("request_id", requestID).Warn("⚠️  [Progress] Dropped slow subscriber")
		}
	}
}

// subscribe - 보관된 마지막 이벤트가 있으면 바로 전달
func (h *Hub) subscribe(requestID string, conn *websocket.Conn) *subscriber {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	sub := &subscriber{conn: conn, send: make(chan []byte, sendBuffer)}
	ch := h.getOrCreate(requestID)
	ch.subscribers[sub] = struct{}{}
	if ch.last != nil {
		sub.send <- ch.last
	}
	h.metrics.TotalConnections++

	logrus.WithFields(logrus.Fields{
		"request_id":  requestID,
		"subscribers": len(ch.subscribers),
	}).Info("🔌 [Progress] Subscriber connected")
	return sub
}

func (h *Hub) unsubscribe(requestID string, sub *subscriber) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	ch, exists := h.channels[requestID]
	if !exists {
		return
	}
	if _, ok := ch.subscribers[sub]; ok {
		close(sub.send)
		delete(ch.subscribers, sub)
	}
	ch.lastActivity = time.Now()
}

// Subscribers - request_id 구독자 수
func (h *Hub) Subscribers(requestID string) int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	if ch, ok := h.channels[requestID]; ok {
		return len(ch.subscribers)
	}
	return 0
}

func (h *Hub) Metrics() Metrics {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.metrics
}

// Cleanup - 구독자가 없고 오래된 채널, 만료된 채널 정리
func (h *Hub) Cleanup(now time.Time) int {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	cleaned := 0
	for requestID, ch := range h.channels {
		idle := len(ch.subscribers) == 0 && now.Sub(ch.lastActivity) > idleThreshold
		expired := now.Sub(ch.createdAt) > expiredThreshold
		if !idle && !expired {
			continue
		}
		for sub := range ch.subscribers {
			close(sub.send)
		}
		delete(h.channels, requestID)
		h.metrics.ActiveChannels--
		cleaned++
	}

	if cleaned > 0 {
		logrus.WithFields(logrus.Fields{
			"cleaned": cleaned,
			"active":  h.metrics.ActiveChannels,
		}).Info("🧹 [Progress] Cleaned up channels")
	}
	return cleaned
}

// StartCleanupRoutine - 5분마다 Cleanup. stop이 닫히면 종료
func (h *Hub) StartCleanupRoutine(stop <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()

		for {
			select {
			case now := <-ticker.C:
				h.Cleanup(now)
			case <-stop:
				return
			}
		}
	}()
	logrus.Info("🔄 [Progress] Started channel cleanup routine (5min)")
}
