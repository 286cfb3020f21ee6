package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Brief backend の種別
const (
	BackendREST     = "rest"
	BackendPostgres = "postgres"
)

// Realtime source の種別
const (
	RealtimeSupabase = "supabase"
	RealtimePostgres = "postgres"
	RealtimeNone     = "none"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Supabase
	SupabaseURL     string
	SupabaseAnonKey string

	// Database
	BriefBackend string
	DatabaseURL  string

	// Brief
	DefaultLanguage string
	FetchWindow     int
	CacheMaxAge     time.Duration
	SourceCodesFile string

	// Cache
	RedisURL string

	// Realtime
	RealtimeSource           string
	RealtimeLanguages        []string
	RealtimeSubscribeTimeout time.Duration

	// Notification
	NotifyPermission string
	NotifyWebhookURL string

	// Rate Limit
	RateLimitGeneral int

	// Server
	ServerPort        string
	CORSAllowedOrigin string
	SiteURL           string

	// Logging
	LogLevel string
}

// HasSupabaseCredentials はSupabaseのURLと公開キーが両方設定されているかを返す。
func (c *Config) HasSupabaseCredentials() bool {
	return c.SupabaseURL != "" && c.SupabaseAnonKey != ""
}

// Load は環境変数からConfigを読み込む。
// SUPABASE_URL / SUPABASE_ANON_KEY の欠落はここではエラーにしない。
// 取得エンドポイント側で設定エラーとして扱い、診断エンドポイントは起動できるようにする。
// 選択されたバックエンドが要求する変数が未設定の場合や、列挙値が不正な場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.SupabaseURL = strings.TrimRight(os.Getenv("SUPABASE_URL"), "/")
	cfg.SupabaseAnonKey = os.Getenv("SUPABASE_ANON_KEY")
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")

	cfg.BriefBackend = getEnvString("BRIEF_BACKEND", BackendREST)
	cfg.RealtimeSource = getEnvString("REALTIME_SOURCE", RealtimeSupabase)
	cfg.NotifyPermission = getEnvString("NOTIFY_PERMISSION", "default")

	var invalid []string
	switch cfg.BriefBackend {
	case BackendREST, BackendPostgres:
	default:
		invalid = append(invalid, "BRIEF_BACKEND")
	}
	switch cfg.RealtimeSource {
	case RealtimeSupabase, RealtimePostgres, RealtimeNone:
	default:
		invalid = append(invalid, "REALTIME_SOURCE")
	}
	switch cfg.NotifyPermission {
	case "default", "granted", "denied":
	default:
		invalid = append(invalid, "NOTIFY_PERMISSION")
	}
	if len(invalid) > 0 {
		return nil, fmt.Errorf("environment variables have invalid values: %v", invalid)
	}

	// Required fields（選択されたバックエンドに依存する）
	var missing []string
	if cfg.BriefBackend == BackendPostgres && cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if cfg.RealtimeSource == RealtimePostgres && cfg.DatabaseURL == "" && !contains(missing, "DATABASE_URL") {
		missing = append(missing, "DATABASE_URL")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.DefaultLanguage = getEnvString("BRIEF_DEFAULT_LANGUAGE", "he")
	cfg.FetchWindow = getEnvInt("BRIEF_FETCH_WINDOW", 100)
	cfg.CacheMaxAge = getEnvDuration("BRIEF_CACHE_MAX_AGE", 10*time.Minute)
	cfg.SourceCodesFile = getEnvString("SOURCE_CODES_FILE", "")
	cfg.RedisURL = getEnvString("REDIS_URL", "")
	cfg.RealtimeLanguages = getEnvList("REALTIME_LANGUAGES", []string{"he", "ar", "en"})
	cfg.RealtimeSubscribeTimeout = getEnvDuration("REALTIME_SUBSCRIBE_TIMEOUT", 10*time.Second)
	cfg.NotifyWebhookURL = getEnvString("NOTIFY_WEBHOOK_URL", "")
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")
	cfg.SiteURL = getEnvString("SITE_URL", cfg.CORSAllowedOrigin)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")

	if cfg.FetchWindow <= 0 {
		cfg.FetchWindow = 100
	}

	return cfg, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

// getEnvList はカンマ区切りの環境変数を空要素を除いたスライスとして返す。
func getEnvList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
