package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Mode string

const (
	ModeOffline Mode = "offline"
	ModeOnline  Mode = "online"
)

type Config struct {
	Mode     Mode
	HTTPAddr string

	DBDriver string
	DBDSN    string

	RedisURL     string // empty disables result publishing
	RedisChannel string

	AuthHMACSecret string

	LogMode string
	LogFile string

	Timezone string

	TxMaxAttempts      int
	InstanceRetryDelay time.Duration

	TickInterval     time.Duration
	InactivityWindow time.Duration
	GraceWindow      time.Duration

	InactivityFixed   bool
	InactivityDynamic bool
	InactivityLive    bool

	SessionSweepAfter    time.Duration
	SessionFinishedGrace time.Duration

	CORSOrigins []string
}

// Load reads a .env file when one is present, then the environment.
func Load(files ...string) Config {
	_ = godotenv.Load(files...)
	return FromEnv()
}

func FromEnv() Config {
	mode := Mode(envOr("MODE", string(ModeOffline)))
	defLog := "dev"
	defCORS := "http://localhost:3000,http://localhost:3010"
	if mode == ModeOnline {
		defLog = "prod"
		defCORS = "https://examprep.mindengage.ai"
	}
	return Config{
		Mode:     mode,
		HTTPAddr: envOr("HTTP_ADDR", ":8080"),

		DBDriver: envOr("DB_DRIVER", "sqlite"),
		DBDSN:    envOr("DB_DSN", ""),

		RedisURL:     os.Getenv("REDIS_URL"),
		RedisChannel: envOr("REDIS_CHANNEL", "examprep.results"),

		AuthHMACSecret: envOr("AUTH_HMAC_SECRET", "dev-secret-change-me"),

		LogMode: envOr("LOG_MODE", defLog),
		LogFile: os.Getenv("LOG_FILE"),

		Timezone: envOr("TIMEZONE", "UTC"),

		TxMaxAttempts:      envInt("TX_MAX_ATTEMPTS", 5),
		InstanceRetryDelay: envDuration("INSTANCE_RETRY_DELAY", 1500*time.Millisecond),

		TickInterval:     envDuration("TICK_INTERVAL", time.Second),
		InactivityWindow: envDuration("INACTIVITY_WINDOW", 5*time.Minute),
		GraceWindow:      envDuration("GRACE_WINDOW", 30*time.Second),

		InactivityFixed:   envBool("INACTIVITY_FIXED", false),
		InactivityDynamic: envBool("INACTIVITY_DYNAMIC", true),
		InactivityLive:    envBool("INACTIVITY_LIVE", false),

		SessionSweepAfter:    envDuration("SESSION_SWEEP_AFTER", 2*time.Hour),
		SessionFinishedGrace: envDuration("SESSION_FINISHED_GRACE", 5*time.Minute),

		CORSOrigins: csvOr("CORS_ORIGINS", defCORS),
	}
}

// Location resolves Timezone, falling back to UTC.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func envOr(k, def string) string {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	return v
}
func envBool(k string, def bool) bool {
	switch os.Getenv(k) {
	case "1", "true", "TRUE", "yes", "YES":
		return true
	case "0", "false", "FALSE", "no", "NO":
		return false
	default:
		return def
	}
}
func envInt(k string, def int) int {
	n, err := strconv.Atoi(os.Getenv(k))
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// envDuration accepts Go durations ("750ms") or plain seconds ("30").
func envDuration(k string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	return def
}
func csvOr(k, def string) []string {
	v := envOr(k, def)
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
