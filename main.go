package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"google.golang.org/genai"

	"brand-canvas-server/modules/common/auth"
	"brand-canvas-server/modules/common/config"
	"brand-canvas-server/modules/common/credit"
	"brand-canvas-server/modules/common/database"
	"brand-canvas-server/modules/common/gemini"
	"brand-canvas-server/modules/common/logger"
	slots "brand-canvas-server/modules/common/redis"
	"brand-canvas-server/modules/common/storage"
	"brand-canvas-server/modules/common/vertexai"
	"brand-canvas-server/modules/generation"
	"brand-canvas-server/modules/progress"
)

const slotKey = "generation:slots"

// CORS 헤더 추가
func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// statusRecorder - 응답 status 기록용
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// logRequests - method / path / status / latency
func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// websocket 업그레이드는 Hijacker가 필요
		if r.Header.Get("Upgrade") == "websocket" {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		logrus.WithFields(logrus.Fields{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     rec.status,
			"latency_ms": time.Since(start).Milliseconds(),
		}).Info("📨 Request handled")
	})
}

// healthCheck - 슬롯 limiter가 있으면 사용 중인 슬롯 수 포함
func healthCheck(limiter *slots.Limiter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body := map[string]interface{}{
			"status":  "healthy",
			"service": "brand-canvas-generation",
		}
		if limiter != nil {
			if inUse, err := limiter.InUse(r.Context()); err == nil {
				body["generation_slots_in_use"] = inUse
			} else {
				body["generation_slots_error"] = err.Error()
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(body)
	}
}

// newImageModel - GEMINI_BACKEND에 따라 API 키 또는 Vertex AI
func newImageModel(ctx context.Context, cfg *config.Config) (*gemini.Client, error) {
	if cfg.GeminiBackend != config.BackendVertex {
		return gemini.NewClient(ctx, cfg.GeminiAPIKeys, cfg.GeminiModel)
	}

	creds, err := vertexai.Credentials(cfg.VertexCredentialsJSON, cfg.VertexCredentialsPath)
	if err != nil {
		return nil, err
	}
	client, err := vertexai.NewClient(ctx, cfg.VertexProject, cfg.VertexLocation, creds)
	if err != nil {
		return nil, err
	}
	return gemini.NewFromClients([]*genai.Client{client}, cfg.GeminiModel), nil
}

func main() {
	// 환경변수 로드
	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.Fatalf("❌ Failed to load config: %v", err)
	}
	logger.Setup(cfg.LogLevel)

	db, err := database.NewClient(cfg)
	if err != nil {
		logrus.Fatalf("❌ Failed to create database client: %v", err)
	}

	model, err := newImageModel(context.Background(), cfg)
	if err != nil {
		logrus.Fatalf("❌ Failed to create Gemini client: %v", err)
	}

	// Redis는 선택. 비활성/연결 실패 시 동시 호출 제한 없음
	var limiter *slots.Limiter
	var invokerSlots gemini.Slots
	if cfg.RedisEnabled {
		if rdb := slots.Connect(cfg); rdb != nil {
			limiter = slots.NewLimiter(rdb, slotKey, cfg.GenerationMaxConcurrency, cfg.GenerationWorstCase()+time.Minute)
			invokerSlots = limiter
		} else {
			logrus.Warn("⚠️  Redis unavailable, generation concurrency is not limited")
		}
	}

	invoker := gemini.NewInvoker(model, invokerSlots, gemini.InvokerConfig{
		MaxAttempts:      cfg.GeminiMaxAttempts,
		TransientRetries: cfg.GeminiTransientRetries,
		AttemptTimeout:   cfg.GeminiAttemptTimeout,
	})

	hub := progress.NewHub()
	stopCleanup := make(chan struct{})
	hub.StartCleanupRoutine(stopCleanup)

	// 커밋/해제 없이 종료된 요청의 예약 크레딧 회수
	ledger := credit.NewLedger(credit.NewSupabaseStore(db.Supabase())).WithReservationTTL(cfg.CreditReservationTTL)
	ledger.StartReclaimRoutine(stopCleanup, cfg.CreditReclaimInterval)

	service := generation.NewService(generation.Dependencies{
		References: db,
		Profiles:   db,
		Records:    db,
		Fetcher:    storage.NewFetcher(cfg.ReferenceFetchTimeout),
		Invoker:    invoker,
		Uploader:   storage.NewUploader(db.Supabase(), cfg.GeneratedBucket),
		Ledger:     ledger,
		Progress:   hub,
	}, generation.Options{
		ImagePrice:              cfg.ImagePerPrice,
		ReferenceWorkingSet:     cfg.ReferenceWorkingSet,
		WebPQuality:             cfg.WebPQuality,
		HistoryAnonymousVisible: cfg.HistoryAnonymousVisible,
	})

	// 라우터 설정
	r := mux.NewRouter()
	r.Use(enableCORS)
	r.Use(logRequests)

	r.HandleFunc("/", healthCheck(limiter)).Methods(http.MethodGet)
	r.HandleFunc("/health", healthCheck(limiter)).Methods(http.MethodGet)
	hub.RegisterRoutes(r)

	// /ai 하위만 토큰 검증
	api := r.NewRoute().Subrouter()
	api.Use(auth.NewVerifier(cfg.SupabaseJWTSecret).Middleware)
	generation.NewHandler(service).RegisterRoutes(api)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logrus.WithField("port", cfg.Port).Info("🚀 Brand Canvas Generation Server starting")
		logrus.Infof("🎨 Generate: http://localhost:%s/ai/generate", cfg.Port)
		logrus.Infof("📡 Progress: ws://localhost:%s/ws/generations/{requestId}", cfg.Port)
		logrus.Infof("❤️  Health check: http://localhost:%s/health", cfg.Port)

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("Server failed to start: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("🛑 Shutting down server")
	close(stopCleanup)

	// 진행 중인 생성 요청이 모든 재시도를 마치고 커밋/해제할 시간
	grace := cfg.GenerationWorstCase() + time.Minute
	logrus.WithField("grace", grace.String()).Info("⏳ Waiting for in-flight generations")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Error("❌ Graceful shutdown failed")
	}
}
