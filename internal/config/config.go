package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration
type Config struct {
	Port        string
	MongoURI    string
	RedisURL    string
	Environment string

	// Auth
	JWTSecretKey   string
	JWTTokenExpiry time.Duration

	// Gemini configuration
	GeminiAPIKey   string
	GeminiModel    string
	GeminiSTTModel string

	// AI pipeline tuning
	AIUserCooldownSec      float64
	AudioBatchTriggerCount int
	AudioBatchMaxWaitHours float64
	AIQueueMaxEventsPerRun int
	GeminiRequestTimeout   time.Duration
	GeminiRetryMaxAttempts int
	GeminiRetryBaseDelay   time.Duration
	GeminiRateLimitRPS     float64
	STTMaxAudioBytes       int64
	TriggerTranscriptOnly  bool
	EventDebugEnabled      bool

	// Background jobs
	SweepInterval        time.Duration
	SweepStuckGrace      time.Duration
	CommentRetentionDays int

	// Uploads
	UploadDir     string
	UploadExpires time.Duration
}

// Load loads configuration from environment variables with defaults
func Load() *Config {
	return &Config{
		Port:        getEnv("PORT", "3001"),
		MongoURI:    getEnv("MONGODB_URI", ""),
		RedisURL:    getEnv("REDIS_URL", ""),
		Environment: getEnv("ENVIRONMENT", "development"),

		JWTSecretKey:   getEnv("JWT_SECRET_KEY", ""),
		JWTTokenExpiry: time.Duration(getIntEnv("JWT_TOKEN_EXPIRY_DAYS", 30)) * 24 * time.Hour,

		GeminiAPIKey:   getEnv("GEMINI_API_KEY", ""),
		GeminiModel:    getEnv("GEMINI_MODEL", "gemini-3-pro-preview"),
		GeminiSTTModel: getEnv("GEMINI_STT_MODEL", getEnv("GEMINI_MODEL", "gemini-3-pro-preview")),

		AIUserCooldownSec:      getFloatEnv("AI_USER_COOLDOWN_SEC", 8),
		AudioBatchTriggerCount: getIntEnv("AUDIO_BATCH_TRIGGER_COUNT", 5),
		AudioBatchMaxWaitHours: getFloatEnv("AUDIO_BATCH_MAX_WAIT_HOURS", 12),
		AIQueueMaxEventsPerRun: getIntEnv("AI_QUEUE_MAX_EVENTS_PER_RUN", 20),
		GeminiRequestTimeout:   secondsEnv("GEMINI_REQUEST_TIMEOUT_SEC", 60),
		GeminiRetryMaxAttempts: getIntEnv("GEMINI_RETRY_MAX_ATTEMPTS", 4),
		GeminiRetryBaseDelay:   secondsEnv("GEMINI_RETRY_BASE_DELAY_SEC", 1),
		GeminiRateLimitRPS:     getFloatEnv("GEMINI_RATE_LIMIT_RPS", 4),
		STTMaxAudioBytes:       int64(getIntEnv("STT_MAX_AUDIO_BYTES", 10*1024*1024)),
		TriggerTranscriptOnly:  getBoolEnv("AI_TRIGGER_TRANSCRIPT_ONLY", false),
		EventDebugEnabled:      getBoolEnv("EVENT_DEBUG_ENABLED", false),

		SweepInterval:        secondsEnv("SWEEP_INTERVAL_SEC", 300),
		SweepStuckGrace:      secondsEnv("SWEEP_STUCK_GRACE_SEC", 900),
		CommentRetentionDays: getIntEnv("COMMENT_RETENTION_DAYS", 7),

		UploadDir:     getEnv("UPLOAD_DIR", "/tmp/egg_uploads"),
		UploadExpires: time.Duration(getIntEnv("UPLOAD_EXPIRES_MINUTES", 15)) * time.Minute,
	}
}

// AIEnabled reports whether the Gemini-backed pipeline can run at all.
func (c *Config) AIEnabled() bool {
	return c.GeminiAPIKey != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.Atoi(value)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		parsed, err := strconv.ParseFloat(value, 64)
		if err == nil {
			return parsed
		}
	}
	return defaultValue
}

// secondsEnv reads a float number of seconds into a time.Duration.
func secondsEnv(key string, defaultSeconds float64) time.Duration {
	return time.Duration(getFloatEnv(key, defaultSeconds) * float64(time.Second))
}
