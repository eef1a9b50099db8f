package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/teamclash/backend/internal/game"
)

const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"

	// DefaultJWTSecret is only acceptable outside production
	DefaultJWTSecret = "change-me-in-production"
)

// ErrDefaultJWTSecret is returned by Validate in production when JWT_SECRET is unset
var ErrDefaultJWTSecret = errors.New("JWT_SECRET must be set in production")

type Config struct {
	// Environment
	Environment string
	LogLevel    string

	// Storage
	StoreDriver    string
	DatabaseURL    string
	MigrateOnStart bool

	// Redis; empty disables the event relay and sweep lease
	RedisURL string

	// Server
	Port            string
	FrontendURL     string
	ShutdownTimeout time.Duration

	// Security
	JWTSecret      string
	AdminTokenHash string

	// Matchmaking
	MatchCostDiamonds   int
	MatchCapacity       int
	MatchTeamCount      int
	MatchTimeoutSeconds int
	RoomTimeoutSeconds  int
	SweepIntervalSecs   int
	MaxMatchesPerTick   int

	// Settlement rewards
	RewardRankWin      int
	RewardRankLose     int
	RewardDiamondsWin  int
	RewardDiamondsLose int
}

func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	queueTimeout := getEnvInt("MATCH_TIMEOUT_SECONDS", 300)

	return &Config{
		Environment: getEnv("APP_ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		StoreDriver:    strings.ToLower(getEnv("STORE_DRIVER", StoreDriverPostgres)),
		DatabaseURL:    getEnv("DATABASE_URL", "postgres://localhost:5432/teamclash?sslmode=disable"),
		MigrateOnStart: getEnvBool("MIGRATE_ON_START", true),

		RedisURL: getEnv("REDIS_URL", ""),

		Port:            getEnv("APP_PORT", "8080"),
		FrontendURL:     getEnv("FRONTEND_URL", "http://localhost:5173"),
		ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),

		JWTSecret:      getEnv("JWT_SECRET", DefaultJWTSecret),
		AdminTokenHash: getEnv("ADMIN_TOKEN_HASH", ""),

		MatchCostDiamonds:   getEnvInt("MATCH_COST_DIAMONDS", 10),
		MatchCapacity:       getEnvInt("MATCH_CAPACITY", 16),
		MatchTeamCount:      getEnvInt("MATCH_TEAM_COUNT", 8),
		MatchTimeoutSeconds: queueTimeout,
		RoomTimeoutSeconds:  getEnvInt("ROOM_TIMEOUT_SECONDS", queueTimeout),
		SweepIntervalSecs:   getEnvInt("SWEEP_INTERVAL_SECONDS", 5),
		MaxMatchesPerTick:   getEnvInt("MAX_MATCHES_PER_TICK", 4),

		RewardRankWin:      getEnvInt("REWARD_RANK_WIN", 30),
		RewardRankLose:     getEnvInt("REWARD_RANK_LOSE", -20),
		RewardDiamondsWin:  getEnvInt("REWARD_DIAMONDS_WIN", 20),
		RewardDiamondsLose: getEnvInt("REWARD_DIAMONDS_LOSE", 0),
	}
}

// Rules builds the matchmaking rules. Callers should Validate the result.
func (c *Config) Rules() game.Rules {
	return game.Rules{
		EntryCost:         int64(c.MatchCostDiamonds),
		Capacity:          c.MatchCapacity,
		TeamCount:         c.MatchTeamCount,
		QueueTimeout:      time.Duration(c.MatchTimeoutSeconds) * time.Second,
		RoomTimeout:       time.Duration(c.RoomTimeoutSeconds) * time.Second,
		MaxMatchesPerTick: c.MaxMatchesPerTick,
		Rewards: game.Rewards{
			WinRankChange:  c.RewardRankWin,
			LoseRankChange: c.RewardRankLose,
			WinDiamonds:    int64(c.RewardDiamondsWin),
			LoseDiamonds:   int64(c.RewardDiamondsLose),
		},
	}
}

func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSecs) * time.Second
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// Validate rejects settings that are only safe for local development.
func (c *Config) Validate() error {
	if c.IsProduction() && (c.JWTSecret == "" || c.JWTSecret == DefaultJWTSecret) {
		return ErrDefaultJWTSecret
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go duration strings such as "15s" or "2m"
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
	}
	return defaultValue
}
