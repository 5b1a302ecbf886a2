// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes server timeouts,
// logging, storage, WhatsApp and AI provider credentials, pipeline tuning,
// rate limiting and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-wa-commerce")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// WhatsAppConfig holds the platform-level messaging credentials. Merchants may
// carry their own access token, which takes precedence.
type WhatsAppConfig struct {
	VerifyToken  string // WHATSAPP_VERIFY_TOKEN
	AppSecret    string // WHATSAPP_APP_SECRET; empty disables signature checks
	AccessToken  string // WHATSAPP_ACCESS_TOKEN
	GraphBaseURL string // WHATSAPP_GRAPH_URL
}

// AIConfig selects and configures the reply generator and the embedder.
type AIConfig struct {
	Provider       string  // AI_PROVIDER: http|gemini
	ServiceURL     string  // AI_SERVICE_URL
	APIKey         string  // AI_API_KEY
	GeminiAPIKey   string  // GEMINI_API_KEY; also enables embeddings
	GeminiModel    string  // GEMINI_MODEL
	EmbeddingModel string  // GEMINI_EMBEDDING_MODEL
	Temperature    float32 // AI_TEMPERATURE
}

// PipelineConfig tunes message processing.
type PipelineConfig struct {
	AITimeout         time.Duration // AI_TIMEOUT
	SendTimeout       time.Duration // SEND_TIMEOUT
	ProcessTimeout    time.Duration // PROCESS_TIMEOUT
	QuoteTTL          time.Duration // QUOTE_TTL
	DedupeTTL         time.Duration // DEDUPE_TTL
	Async             bool          // WEBHOOK_ASYNC
	WorkerConcurrency int           // WORKER_CONCURRENCY
	Currency          string        // CURRENCY
	MaxBodyBytes      int64         // WEBHOOK_MAX_BODY_BYTES
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	// Storage
	DBPath string // SQLite path

	// Messaging, AI and pipeline
	WhatsApp WhatsAppConfig
	AI       AIConfig
	Pipeline PipelineConfig

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// Storage
		DBPath: getenv("DB_PATH", "app.db"),

		WhatsApp: WhatsAppConfig{
			VerifyToken:  getenv("WHATSAPP_VERIFY_TOKEN", ""),
			AppSecret:    getenv("WHATSAPP_APP_SECRET", ""),
			AccessToken:  getenv("WHATSAPP_ACCESS_TOKEN", ""),
			GraphBaseURL: strings.TrimRight(getenv("WHATSAPP_GRAPH_URL", "https://graph.facebook.com/v18.0"), "/"),
		},
		AI: AIConfig{
			Provider:       strings.ToLower(getenv("AI_PROVIDER", "http")),
			ServiceURL:     strings.TrimRight(getenv("AI_SERVICE_URL", "http://localhost:8000"), "/"),
			APIKey:         getenv("AI_API_KEY", ""),
			GeminiAPIKey:   getenv("GEMINI_API_KEY", ""),
			GeminiModel:    getenv("GEMINI_MODEL", "gemini-2.0-flash"),
			EmbeddingModel: getenv("GEMINI_EMBEDDING_MODEL", "text-embedding-004"),
			Temperature:    float32(getfloat("AI_TEMPERATURE", 0.4)),
		},
		Pipeline: PipelineConfig{
			AITimeout:         getdur("AI_TIMEOUT", 25*time.Second),
			SendTimeout:       getdur("SEND_TIMEOUT", 10*time.Second),
			ProcessTimeout:    getdur("PROCESS_TIMEOUT", 60*time.Second),
			QuoteTTL:          getdur("QUOTE_TTL", 30*time.Minute),
			DedupeTTL:         getdur("DEDUPE_TTL", 24*time.Hour),
			Async:             getbool("WEBHOOK_ASYNC", true),
			WorkerConcurrency: getint("WORKER_CONCURRENCY", 16),
			Currency:          getenv("CURRENCY", "FCFA"),
			MaxBodyBytes:      int64(getint("WEBHOOK_MAX_BODY_BYTES", 1<<20)),
		},

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-wa-commerce"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
	}
	switch cfg.AI.Provider {
	case "http":
		if cfg.AI.ServiceURL == "" {
			return cfg, errors.New("AI_SERVICE_URL must not be empty")
		}
	case "gemini":
		if cfg.AI.GeminiAPIKey == "" {
			return cfg, errors.New("GEMINI_API_KEY is required when AI_PROVIDER=gemini")
		}
	default:
		return cfg, errors.New("AI_PROVIDER must be one of: http, gemini")
	}
	if cfg.AI.Temperature < 0 || cfg.AI.Temperature > 2 {
		return cfg, errors.New("AI_TEMPERATURE must be in [0,2]")
	}
	p := cfg.Pipeline
	if p.AITimeout <= 0 || p.SendTimeout <= 0 || p.ProcessTimeout <= 0 {
		return cfg, errors.New("AI_TIMEOUT, SEND_TIMEOUT and PROCESS_TIMEOUT must be positive")
	}
	if p.QuoteTTL <= 0 {
		return cfg, errors.New("QUOTE_TTL must be > 0")
	}
	if p.DedupeTTL <= 0 {
		return cfg, errors.New("DEDUPE_TTL must be > 0")
	}
	if p.WorkerConcurrency < 1 {
		return cfg, errors.New("WORKER_CONCURRENCY must be >= 1")
	}
	if p.MaxBodyBytes <= 0 {
		return cfg, errors.New("WEBHOOK_MAX_BODY_BYTES must be > 0")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}
	return cfg, nil
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
