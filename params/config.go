package params

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type HTTP struct {
	Addr string
	// Per-IP command budgets, per minute. Zero disables limiting.
	OrdersPerMin  int
	CancelsPerMin int
	// TrustProxy honors X-Forwarded-For for rate limiting. Only set when a
	// trusted proxy fronts the server.
	TrustProxy bool
}

type Blotter struct {
	// ReassociateOnLogon controls whether orders from a previous logon
	// epoch accept commands again after the session reconnects.
	ReassociateOnLogon bool
}

type Sim struct {
	Seed         int64
	StartPrice   float64
	Step         float64
	FillInterval time.Duration
}

type Config struct {
	HTTP    HTTP
	Blotter Blotter
	Sim     Sim

	FixConfig string // quickfix settings file
	AuditDB   string // pebble audit journal path
	LogFile   string
	LogLevel  string
}

func Default() Config {
	return Config{
		HTTP: HTTP{
			Addr:          ":8080",
			OrdersPerMin:  60,
			CancelsPerMin: 30,
		},
		Blotter: Blotter{
			ReassociateOnLogon: true,
		},
		Sim: Sim{
			Seed:         42,
			StartPrice:   100.0,
			Step:         0.25,
			FillInterval: 500 * time.Millisecond,
		},
		FixConfig: "config/initiator.cfg",
		AuditDB:   "data/audit",
		LogFile:   "data/blotter.log",
		LogLevel:  "info",
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	// Try to load .env file (optional - won't fail if not exists)
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load() // loads .env from current directory
	}

	cfg.HTTP.Addr = getEnv("HTTP_ADDR", cfg.HTTP.Addr)
	cfg.FixConfig = getEnv("FIX_CONFIG", cfg.FixConfig)
	cfg.AuditDB = getEnv("AUDIT_DB", cfg.AuditDB)
	cfg.LogFile = getEnv("LOG_FILE", cfg.LogFile)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)

	if v := os.Getenv("ORDERS_PER_MIN"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.HTTP.OrdersPerMin = n
		}
	}
	if v := os.Getenv("CANCELS_PER_MIN"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.HTTP.CancelsPerMin = n
		}
	}
	if v := os.Getenv("HTTP_TRUST_PROXY"); v != "" {
		cfg.HTTP.TrustProxy = v == "true"
	}
	if v := os.Getenv("BLOTTER_REASSOCIATE_ON_LOGON"); v != "" {
		cfg.Blotter.ReassociateOnLogon = v == "true"
	}

	if v := os.Getenv("SIM_SEED"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Sim.Seed = n
		}
	}
	if v := os.Getenv("SIM_START_PRICE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Sim.StartPrice = f
		}
	}
	if v := os.Getenv("SIM_STEP"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Sim.Step = f
		}
	}
	if v := os.Getenv("SIM_FILL_INTERVAL_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			cfg.Sim.FillInterval = time.Duration(ms) * time.Millisecond
		}
	}

	return cfg
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
