package config

import (
	"crypto/rand"
	"encoding/hex"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds everything the service needs. It is built once in main
// and passed into each component's constructor; nothing reads the
// environment after startup.
type Config struct {
	Addr          string
	DataPath      string
	BlobPath      string
	InboxPath     string
	DBPath        string
	JWTSecret     string
	AdminUsername string
	AdminPassword string
	CORSOrigins   []string

	// Pipeline
	ChunkDuration time.Duration // max duration of one audio chunk
	MaxWorkers    int           // concurrent transcription jobs per recording
	SummaryPrefix string        // blob prefix for final summary documents

	// Speech-to-text service
	STTBaseURL   string
	STTLanguage  string
	PollInterval time.Duration
	PollTimeout  time.Duration

	// Summarizer
	GeminiAPIKey string
	GeminiModel  string

	MaxUploadBytes int64
}

func Load() *Config {
	dataPath := getEnv("DATA_PATH", "/data")

	// JWT secret: require explicit setting or generate random
	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		b := make([]byte, 32)
		if _, err := rand.Read(b); err != nil {
			log.Fatalf("Failed to generate random JWT secret: %v", err)
		}
		jwtSecret = hex.EncodeToString(b)
		log.Println("WARNING: JWT_SECRET not set, using random secret. Sessions will not survive restarts. Set JWT_SECRET env var for persistent sessions.")
	}

	// CORS origins: comma-separated list or "*" (default)
	corsOrigins := []string{"*"}
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		origins := strings.Split(v, ",")
		corsOrigins = make([]string, 0, len(origins))
		for _, o := range origins {
			o = strings.TrimSpace(o)
			if o != "" {
				corsOrigins = append(corsOrigins, o)
			}
		}
	}

	return &Config{
		Addr:          ":" + getEnv("PORT", "8080"),
		DataPath:      dataPath,
		BlobPath:      getEnv("BLOB_PATH", dataPath+"/blobs"),
		InboxPath:     getEnv("INBOX_PATH", ""),
		DBPath:        getEnv("DB_PATH", dataPath+"/voicebrief.db"),
		JWTSecret:     jwtSecret,
		AdminUsername: getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword: getEnv("ADMIN_PASSWORD", "admin"),
		CORSOrigins:   corsOrigins,

		ChunkDuration: getEnvSeconds("CHUNK_SECONDS", 60),
		MaxWorkers:    getEnvInt("MAX_WORKERS", 8),
		SummaryPrefix: getEnv("SUMMARY_PREFIX", "summaries/"),

		STTBaseURL:   getEnv("STT_URL", ""),
		STTLanguage:  getEnv("STT_LANGUAGE", "he-IL"),
		PollInterval: getEnvSeconds("STT_POLL_SECONDS", 5),
		PollTimeout:  getEnvSeconds("STT_TIMEOUT_SECONDS", 600),

		GeminiAPIKey: getEnv("GEMINI_API_KEY", ""),
		GeminiModel:  getEnv("GEMINI_MODEL", "gemini-2.5-flash"),

		MaxUploadBytes: int64(getEnvInt("MAX_UPLOAD_MB", 200)) * 1024 * 1024,
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvSeconds(key string, fallback int) time.Duration {
	return time.Duration(getEnvInt(key, fallback)) * time.Second
}
