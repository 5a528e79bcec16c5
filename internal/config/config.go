package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config contains all runtime settings for the assistant service.
type Config struct {
	BindAddr         string
	PublicBaseURL    string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	AllowAnyOrigin   bool

	LogLevel  string
	LogFormat string

	StorageBackend string
	DatabaseURL    string
	SQLitePath     string

	MemoryCacheEnabled     bool
	MemoryRecentLimit      int
	MemoryRedactPII        bool
	SessionMaxAge          time.Duration
	SessionCleanupSchedule string

	TurnTimeout        time.Duration
	MaxConcurrentTurns int

	CompletionProvider string
	CompletionURL      string
	CompletionAPIKey   string
	CompletionModel    string
	CompletionTimeout  time.Duration

	VoiceProvider       string
	ElevenLabsAPIKey    string
	ElevenLabsBaseURL   string
	ElevenLabsWSBaseURL string
	ElevenLabsTTSVoice  string
	ElevenLabsTTSModel  string
	ElevenLabsSTTModel  string
	AudioClipTTL        time.Duration

	CalendarProvider string
	CalendarBaseURL  string

	AgentName   string
	AgentAvatar string
}

// Load reads .env files and environment variables and applies safe defaults.
// Values already present in the environment win over .env entries.
func Load() (Config, error) {
	loadEnvFiles()

	cfg := Config{
		BindAddr:               envOrDefault("APP_BIND_ADDR", ":8080"),
		PublicBaseURL:          stringsTrimSpace("APP_PUBLIC_BASE_URL"),
		MetricsNamespace:       envOrDefault("APP_METRICS_NAMESPACE", "tempo"),
		LogLevel:               envOrDefault("LOG_LEVEL", "info"),
		LogFormat:              envOrDefault("LOG_FORMAT", "json"),
		StorageBackend:         envOrDefault("STORAGE_BACKEND", "auto"),
		DatabaseURL:            stringsTrimSpace("DATABASE_URL"),
		SQLitePath:             stringsTrimSpace("SQLITE_PATH"),
		SessionCleanupSchedule: stringsTrimSpace("SESSION_CLEANUP_SCHEDULE"),
		CompletionProvider:     envOrDefault("COMPLETION_PROVIDER", "auto"),
		CompletionURL:          stringsTrimSpace("COMPLETION_URL"),
		CompletionAPIKey:       stringsTrimSpace("COMPLETION_API_KEY"),
		CompletionModel:        envOrDefault("COMPLETION_MODEL", "gpt-4o-mini"),
		VoiceProvider:          envOrDefault("VOICE_PROVIDER", "auto"),
		ElevenLabsAPIKey:       stringsTrimSpace("ELEVENLABS_API_KEY"),
		ElevenLabsBaseURL:      envOrDefault("ELEVENLABS_BASE_URL", "https://api.elevenlabs.io"),
		ElevenLabsWSBaseURL:    envOrDefault("ELEVENLABS_WS_BASE_URL", "wss://api.elevenlabs.io"),
		ElevenLabsTTSVoice:     envOrDefault("ELEVENLABS_TTS_VOICE_ID", "21m00Tcm4TlvDq8ikWAM"),
		ElevenLabsTTSModel:     envOrDefault("ELEVENLABS_TTS_MODEL_ID", "eleven_turbo_v2_5"),
		ElevenLabsSTTModel:     envOrDefault("ELEVENLABS_STT_MODEL_ID", "scribe_v1"),
		CalendarProvider:       envOrDefault("CALENDAR_PROVIDER", "none"),
		CalendarBaseURL:        envOrDefault("CALENDAR_BASE_URL", "https://www.googleapis.com/calendar/v3"),
		AgentName:              envOrDefault("AGENT_NAME", "Tempo"),
		AgentAvatar:            stringsTrimSpace("AGENT_AVATAR_URL"),
		MemoryCacheEnabled:     true,
		MemoryRedactPII:        true,
		MemoryRecentLimit:      20,
		MaxConcurrentTurns:     16,
		ShutdownTimeout:        15 * time.Second,
		SessionMaxAge:          24 * time.Hour,
		TurnTimeout:            60 * time.Second,
		CompletionTimeout:      45 * time.Second,
		AudioClipTTL:           10 * time.Minute,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionMaxAge, err = durationFromEnv("SESSION_MAX_AGE", cfg.SessionMaxAge)
	if err != nil {
		return Config{}, err
	}
	cfg.TurnTimeout, err = durationFromEnv("TURN_TIMEOUT", cfg.TurnTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.CompletionTimeout, err = durationFromEnv("COMPLETION_TIMEOUT", cfg.CompletionTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AudioClipTTL, err = durationFromEnv("AUDIO_CLIP_TTL", cfg.AudioClipTTL)
	if err != nil {
		return Config{}, err
	}
	cfg.MemoryRecentLimit, err = intFromEnv("MEMORY_RECENT_LIMIT", cfg.MemoryRecentLimit)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxConcurrentTurns, err = intFromEnv("MAX_CONCURRENT_TURNS", cfg.MaxConcurrentTurns)
	if err != nil {
		return Config{}, err
	}
	cfg.MemoryCacheEnabled, err = boolFromEnv("MEMORY_CACHE_ENABLED", cfg.MemoryCacheEnabled)
	if err != nil {
		return Config{}, err
	}
	cfg.MemoryRedactPII, err = boolFromEnv("MEMORY_REDACT_PII", cfg.MemoryRedactPII)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints. Load calls it; callers that tweak a
// loaded Config (CLI flags) should call it again.
func (c Config) Validate() error {
	if c.MemoryRecentLimit <= 0 {
		return fmt.Errorf("MEMORY_RECENT_LIMIT must be positive")
	}
	if c.MaxConcurrentTurns <= 0 {
		return fmt.Errorf("MAX_CONCURRENT_TURNS must be positive")
	}
	if c.SessionMaxAge < time.Minute {
		return fmt.Errorf("SESSION_MAX_AGE must be at least 1m")
	}
	if c.TurnTimeout < 0 {
		return fmt.Errorf("TURN_TIMEOUT must be >= 0")
	}
	switch strings.ToLower(c.StorageBackend) {
	case "auto", "memory", "sqlite", "postgres":
	default:
		return fmt.Errorf("invalid STORAGE_BACKEND: %q (expected auto|memory|sqlite|postgres)", c.StorageBackend)
	}
	switch strings.ToLower(c.CalendarProvider) {
	case "none", "google":
	default:
		return fmt.Errorf("invalid CALENDAR_PROVIDER: %q (expected none|google)", c.CalendarProvider)
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "console":
	default:
		return fmt.Errorf("invalid LOG_FORMAT: %q (expected json|console)", c.LogFormat)
	}
	return nil
}

func loadEnvFiles() {
	if v, _ := boolFromEnv("APP_SKIP_DOTENV", false); v {
		return
	}
	for _, f := range []string{".env", ".env.local"} {
		// godotenv.Load does not overwrite variables that are already set.
		_ = godotenv.Load(f)
	}
}

func envOrDefault(key, fallback string) string {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
