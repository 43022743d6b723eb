package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Config 구조체 - 모든 환경변수를 담음
type Config struct {
	// Server
	Port     string
	LogLevel string

	// Redis
	RedisEnabled  bool
	RedisHost     string
	RedisPort     string
	RedisUsername string
	RedisPassword string
	RedisUseTLS   bool

	// Supabase
	SupabaseURL        string
	SupabaseServiceKey string
	SupabaseJWTSecret  string
	GeneratedBucket    string

	// Gemini API ("gemini" = API 키, "vertex" = Vertex AI)
	GeminiBackend          string
	GeminiAPIKeys          []string
	GeminiModel            string
	GeminiAttemptTimeout   time.Duration
	GeminiMaxAttempts      int
	GeminiTransientRetries int

	// Vertex AI (GEMINI_BACKEND=vertex)
	VertexProject         string
	VertexLocation        string
	VertexCredentialsJSON string
	VertexCredentialsPath string

	// Generation
	ImagePerPrice            int
	ReferenceWorkingSet      int
	ReferenceFetchTimeout    time.Duration
	GenerationMaxConcurrency int
	WebPQuality              float32

	// Credit
	CreditReservationTTL  time.Duration
	CreditReclaimInterval time.Duration

	// History
	HistoryAnonymousVisible bool
}

const (
	BackendGemini = "gemini"
	BackendVertex = "vertex"
)

var globalConfig *Config

// maxInvokeBackoff - 일시 장애 재시도 사이 최대 대기 (gemini.Invoker 기본값)
const maxInvokeBackoff = 8 * time.Second

// GenerationWorstCase - 한 생성 요청이 레퍼런스 다운로드와 모든 모델 재시도를 다 쓰는 시간
func (c *Config) GenerationWorstCase() time.Duration {
	calls := time.Duration(c.GeminiMaxAttempts * (c.GeminiTransientRetries + 1))
	return c.ReferenceFetchTimeout + calls*(c.GeminiAttemptTimeout+maxInvokeBackoff)
}

// LoadConfig - 환경변수 로드
func LoadConfig() (*Config, error) {
	// .env 파일 로드 (있으면)
	if err := godotenv.Load(); err != nil {
		logrus.Info("⚠️  .env file not found, using environment variables")
	}

	cfg := &Config{
		Port:     getEnv("PORT", "8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		RedisEnabled:  getBool("REDIS_ENABLED", false),
		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisUsername: getEnv("REDIS_USERNAME", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisUseTLS:   getBool("REDIS_USE_TLS", true),

		SupabaseURL:        getEnv("SUPABASE_URL", ""),
		SupabaseServiceKey: getEnv("SUPABASE_SERVICE_KEY", ""),
		SupabaseJWTSecret:  getEnv("SUPABASE_JWT_SECRET", ""),
		GeneratedBucket:    getEnv("GENERATED_BUCKET", "generated-images"),

		GeminiBackend:          strings.ToLower(getEnv("GEMINI_BACKEND", BackendGemini)),
		GeminiAPIKeys:          parseKeys(getEnv("GEMINI_API_KEYS", ""), getEnv("GEMINI_API_KEY", "")),
		GeminiModel:            getEnv("GEMINI_MODEL", "gemini-3-pro-image-preview"),
		GeminiAttemptTimeout:   getDuration("GEMINI_ATTEMPT_TIMEOUT", 90*time.Second),
		GeminiMaxAttempts:      getInt("GEMINI_MAX_ATTEMPTS", 3),
		GeminiTransientRetries: getInt("GEMINI_TRANSIENT_RETRIES", 2),

		VertexProject:         getEnv("VERTEXAI_PROJECT", ""),
		VertexLocation:        getEnv("VERTEXAI_LOCATION", "global"),
		VertexCredentialsJSON: os.Getenv("VERTEXAI_CREDENTIALS_JSON"),
		VertexCredentialsPath: os.Getenv("VERTEXAI_CREDENTIALS_PATH"),

		// 5 크레딧 = 이미지 1장
		ImagePerPrice:            getInt("IMAGE_PER_PRICE", 5),
		ReferenceWorkingSet:      getInt("REFERENCE_WORKING_SET", 5),
		ReferenceFetchTimeout:    getDuration("REFERENCE_FETCH_TIMEOUT", 10*time.Second),
		GenerationMaxConcurrency: getInt("GENERATION_MAX_CONCURRENCY", 8),
		WebPQuality:              float32(getInt("WEBP_QUALITY", 90)),

		CreditReservationTTL:  getDuration("CREDIT_RESERVATION_TTL", 0),
		CreditReclaimInterval: getDuration("CREDIT_RECLAIM_INTERVAL", time.Minute),

		HistoryAnonymousVisible: getBool("HISTORY_ANONYMOUS_VISIBLE", false),
	}

	// 예약은 가장 오래 걸리는 생성 요청보다 늦게 만료
	if cfg.CreditReservationTTL < cfg.GenerationWorstCase() {
		cfg.CreditReservationTTL = cfg.GenerationWorstCase() + 10*time.Minute
	}

	// 필수 환경변수 검증
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	globalConfig = cfg

	logrus.WithFields(logrus.Fields{
		"supabase":       cfg.SupabaseURL,
		"gemini_backend": cfg.GeminiBackend,
		"gemini_model":   cfg.GeminiModel,
		"gemini_keys":    len(cfg.GeminiAPIKeys),
		"redis_enabled":  cfg.RedisEnabled,
		"redis":          cfg.GetRedisAddr(),
		"credit_per_img": cfg.ImagePerPrice,
		"working_set":    cfg.ReferenceWorkingSet,
	}).Info("✅ Configuration loaded successfully")

	return cfg, nil
}

// GetConfig - 로드된 설정 가져오기
func GetConfig() *Config {
	if globalConfig == nil {
		logrus.Fatal("❌ Config not loaded. Call LoadConfig() first.")
	}
	return globalConfig
}

// validate - 필수 환경변수 검증
func (c *Config) validate() error {
	if c.SupabaseURL == "" {
		return fmt.Errorf("SUPABASE_URL is required")
	}
	if c.SupabaseServiceKey == "" {
		return fmt.Errorf("SUPABASE_SERVICE_KEY is required")
	}
	switch c.GeminiBackend {
	case BackendGemini:
		if len(c.GeminiAPIKeys) == 0 {
			return fmt.Errorf("GEMINI_API_KEY or GEMINI_API_KEYS is required")
		}
	case BackendVertex:
		if c.VertexProject == "" {
			return fmt.Errorf("VERTEXAI_PROJECT is required when GEMINI_BACKEND=vertex")
		}
	default:
		return fmt.Errorf("unknown GEMINI_BACKEND %q", c.GeminiBackend)
	}
	if c.RedisEnabled && c.RedisHost == "" {
		return fmt.Errorf("REDIS_HOST is required when REDIS_ENABLED is set")
	}
	if c.GeminiMaxAttempts < 1 {
		return fmt.Errorf("GEMINI_MAX_ATTEMPTS must be at least 1")
	}
	if c.ReferenceWorkingSet < 0 || c.ReferenceWorkingSet > 14 {
		return fmt.Errorf("REFERENCE_WORKING_SET must be between 0 and 14")
	}
	return nil
}

// GetRedisAddr - Redis 연결 문자열 생성
func (c *Config) GetRedisAddr() string {
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}

// getEnv - 환경변수 가져오기 (기본값 지원)
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if raw := os.Getenv(key); raw != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil {
			return parsed
		}
		logrus.Warnf("⚠️  Invalid integer for %s: %q, using %d", key, raw, defaultValue)
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	if raw := os.Getenv(key); raw != "" {
		if parsed, err := strconv.ParseBool(raw); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getDuration - "90s" 형식 또는 초 단위 정수
func getDuration(key string, defaultValue time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}

// parseKeys - GEMINI_API_KEYS(콤마 구분)가 우선, 없으면 단일 키
func parseKeys(list, single string) []string {
	var keys []string
	for _, k := range strings.Split(list, ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 && strings.TrimSpace(single) != "" {
		keys = append(keys, strings.TrimSpace(single))
	}
	return keys
}
