package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the runtime configuration of the signage server.
type Config struct {
	Port      string
	LogLevel  string
	LogFormat string

	KeyRoot          string
	PublicBaseURL    string
	PlayerBaseURL    string
	OnlineTTL        time.Duration
	ImageDurationSec int

	ObjectStore string // "memory" or "bolt"
	BoltPath    string
	StatusStore string // "memory" or "sqlite"
	SQLiteDSN   string

	CORSAllowedOrigins  []string
	HeartbeatRatePerMin int
	MaxUploadBytes      int64
}

// Load reads the .env file from the current working directory and sets
// environment variables. If .env does not exist, Load returns an error but
// callers can ignore it and use system env or defaults. Pass one or more paths
// to load from specific files (e.g. ".env"); with no paths, ".env" is used.
func Load(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	return godotenv.Load(paths...)
}

// FromEnv assembles a Config from the environment, applying defaults for
// anything unset or malformed.
func FromEnv() Config {
	ttlSec := GetEnvInt("ONLINE_TTL_SEC", 120)
	if ttlSec <= 0 {
		ttlSec = 120
	}
	imageSec := GetEnvInt("IMAGE_DURATION_SEC", 10)
	if imageSec <= 0 {
		imageSec = 10
	}
	maxMB := GetEnvInt("MAX_UPLOAD_MB", 200)
	if maxMB <= 0 {
		maxMB = 200
	}

	return Config{
		Port:      GetEnv("PORT", "8080"),
		LogLevel:  GetEnv("LOG_LEVEL", "info"),
		LogFormat: GetEnv("LOG_FORMAT", "json"),

		KeyRoot:          strings.Trim(GetEnv("KEY_ROOT", "stores"), "/"),
		PublicBaseURL:    GetEnv("PUBLIC_BASE_URL", "http://localhost:8080/media"),
		PlayerBaseURL:    GetEnv("PLAYER_BASE_URL", ""),
		OnlineTTL:        time.Duration(ttlSec) * time.Second,
		ImageDurationSec: imageSec,

		ObjectStore: strings.ToLower(GetEnv("OBJECT_STORE", "memory")),
		BoltPath:    GetEnv("BOLT_PATH", "data/media.db"),
		StatusStore: strings.ToLower(GetEnv("STATUS_STORE", "memory")),
		SQLiteDSN:   GetEnv("SQLITE_DSN", "file:data/status.db"),

		CORSAllowedOrigins:  GetEnvList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		HeartbeatRatePerMin: GetEnvInt("HEARTBEAT_RATE_PER_MIN", 60),
		MaxUploadBytes:      int64(maxMB) << 20,
	}
}

// GetEnv returns the value of the environment variable named by key, or fallback
// if the variable is unset or empty.
func GetEnv(key, fallback string) string {
	if s := strings.TrimSpace(os.Getenv(key)); s != "" {
		return s
	}
	return fallback
}

// GetEnvInt returns the integer value of the environment variable named by key,
// or fallback if the variable is unset, empty, or not a valid integer.
func GetEnvInt(key string, fallback int) int {
	if s := strings.TrimSpace(os.Getenv(key)); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			return n
		}
	}
	return fallback
}

// GetEnvList splits a comma-separated variable, dropping blank entries.
func GetEnvList(key string, fallback []string) []string {
	s := os.Getenv(key)
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
