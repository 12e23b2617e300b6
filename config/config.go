package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// HTTP
	ListenAddr string

	// Infrastructure
	RedisAddr      string
	RedisPassword  string
	BinanceBaseURL string

	// Scan universe: comma-separated pairs ("BTC/USDT,ETH/USDT").
	// Empty means discover from the exchange.
	Symbols string

	// Alerts (all optional)
	TelegramBotToken string
	TelegramChatID   string
	AlertWebhookURL  string

	// Scan behaviour
	ScanInterval   time.Duration // wall time between scan starts
	WRThreshPct    float64       // admission win-rate threshold
	DistMaxPct     float64       // admission level-distance ceiling
	WorkerPoolSize int

	// Simulation
	InitialBalance   float64
	TradeNotional    float64
	MaxOpenPositions int
	MaxNewPerScan    int
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		ListenAddr: getEnv("LISTEN_ADDR", ":8080"),

		RedisAddr:      getEnv("REDIS_ADDR", ""),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		BinanceBaseURL: getEnv("BINANCE_BASE_URL", ""),

		Symbols: getEnv("SYMBOLS", ""),

		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:   getEnv("TELEGRAM_CHAT_ID", ""),
		AlertWebhookURL:  getEnv("ALERT_WEBHOOK_URL", ""),

		ScanInterval:   time.Duration(getEnvInt("SCAN_INTERVAL_MIN", 30)) * time.Minute,
		WRThreshPct:    getEnvFloat("WR_THRESH_PCT", 50),
		DistMaxPct:     getEnvFloat("DIST_MAX_PCT", 5),
		WorkerPoolSize: getEnvInt("WORKER_POOL_SIZE", 15),

		InitialBalance:   getEnvFloat("INITIAL_BALANCE", 50000),
		TradeNotional:    getEnvFloat("TRADE_NOTIONAL", 500),
		MaxOpenPositions: getEnvInt("MAX_OPEN_POSITIONS", 15),
		MaxNewPerScan:    getEnvInt("MAX_NEW_PER_SCAN", 5),
	}
}

// ParseSymbols splits the Symbols list, dropping empty entries.
func (c *Config) ParseSymbols() []string {
	if c.Symbols == "" {
		return nil
	}
	parts := strings.Split(c.Symbols, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %g", key, v, fallback)
		return fallback
	}
	return f
}
