package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config stores the application configuration.
type Config struct {
	Host string
	Port string

	// Directory scanned for local audio files and served via /api/audio.
	SongsDir string

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// Deezer chart API, the source of round songs.
	DeezerAPIURL   string
	DeezerTimeout  time.Duration
	ChartPositions int // random index range when picking a chart track

	JWTSecret string

	// Game pacing.
	MaxRounds        int
	MaxPlayers       int
	GuessDuration    time.Duration
	TransitionPause  time.Duration
	FetchRetries     int
	FetchRetryPause  time.Duration
	SimilarityCutoff float64

	// Optional MinIO preview cache. Disabled when Endpoint is empty.
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioRegion    string
	MinioUseSSL    bool

	LogPath string
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// getEnvInt gets an environment variable as int or returns a default value.
func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

// getEnvBool gets an environment variable as bool or returns a default value.
func getEnvBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return fallback
}

// Load loads configuration from environment variables (via .env file) or defaults.
func Load() *Config {
	// godotenv.Load() will not override existing env vars.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, relying on environment variables and defaults.")
	}

	return &Config{
		Host: getEnv("HOST", "0.0.0.0"),
		Port: getEnv("PORT", "8000"),

		SongsDir: getEnv("SONGS_DIR", "songs"),

		DBHost:     getEnv("DB_HOST", "127.0.0.1"),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBUser:     getEnv("DB_USER", "root"),
		DBPassword: os.Getenv("DB_PASSWORD"),
		DBName:     getEnv("DB_NAME", "beatquiz"),

		RedisHost:     getEnv("REDIS_HOST", "127.0.0.1"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		DeezerAPIURL:   getEnv("DEEZER_API_URL", "https://api.deezer.com"),
		DeezerTimeout:  time.Duration(getEnvInt("DEEZER_TIMEOUT_SECONDS", 10)) * time.Second,
		ChartPositions: getEnvInt("CHART_POSITIONS", 100),

		JWTSecret: getEnv("JWT_SECRET", "beatquiz-dev-secret"),

		MaxRounds:        getEnvInt("MAX_ROUNDS", 10),
		MaxPlayers:       getEnvInt("MAX_PLAYERS", 8),
		GuessDuration:    time.Duration(getEnvInt("GUESS_SECONDS", 30)) * time.Second,
		TransitionPause:  time.Duration(getEnvInt("TRANSITION_SECONDS", 5)) * time.Second,
		FetchRetries:     getEnvInt("FETCH_RETRIES", 3),
		FetchRetryPause:  time.Second,
		SimilarityCutoff: 0.7,

		MinioEndpoint:  getEnv("MINIO_ENDPOINT", ""),
		MinioAccessKey: getEnv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey: getEnv("MINIO_SECRET_KEY", ""),
		MinioBucket:    getEnv("MINIO_BUCKET", "beatquiz"),
		MinioRegion:    getEnv("MINIO_REGION", "us-east-1"),
		MinioUseSSL:    getEnvBool("MINIO_USE_SSL", true),

		LogPath: getEnv("LOG_PATH", ""),
	}
}
