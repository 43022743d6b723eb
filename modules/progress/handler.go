package progress

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// CORS와 동일하게 모든 origin 허용
	CheckOrigin: func(r *http.Request) bool { return true },
}

// RegisterRoutes - 진행 이벤트 websocket + 메트릭
func (h *Hub) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/ws/generations/{requestId}", h.HandleWebSocket)
	r.HandleFunc("/metrics", h.HandleMetrics).Methods(http.MethodGet)
}

// HandleWebSocket - GET /ws/generations/{requestId}
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	requestID := mux.Vars(r)["requestId"]

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logrus.WithError(err).Warn("❌ [Progress] WebSocket upgrade failed")
		return
	}

	sub := h.subscribe(requestID, conn)
	go h.writePump(sub)
	go h.readPump(requestID, sub)
}

// readPump - 클라이언트 메시지는 무시. 연결 종료 감지용
func (h *Hub) readPump(requestID string, sub *subscriber) {
	defer func() {
		h.unsubscribe(requestID, sub)
		sub.conn.Close()
	}()

	sub.conn.SetReadLimit(512)
	_ = sub.conn.SetReadDeadline(time.Now().Add(pongWait))
	sub.conn.SetPongHandler(func(string) error {
		return sub.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logrus.WithError(err).WithField("request_id", requestID).Warn("⚠️  [Progress] WebSocket error")
			}
			return
		}
	}
}

func (h *Hub) writePump(sub *subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		sub.conn.Close()
	}()

	for {
		select {
		case message, ok := <-sub.send:
			_ = sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = sub.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := sub.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logrus.WithError(err).Warn("❌ [Progress] WebSocket write error")
				return
			}
		case <-ticker.C:
			_ = sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sub.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// HandleMetrics - GET /metrics
func (h *Hub) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	metrics := h.Metrics()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"uptime":   time.Since(metrics.StartTime).String(),
		"progress": metrics,
	})
}
