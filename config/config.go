package config

import (
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

const (
	ModeTest       = "test"
	ModeProduction = "production"
)

const (
	testPayBaseURL    = "https://rest-api-test.bank.example/v2/"
	prodPayBaseURL    = "https://securepay.bank.example/v2/"
	testPayoutBaseURL = "https://rest-api-test.bank.example/e2c/v2/"
	prodPayoutBaseURL = "https://securepay.bank.example/e2c/v2/"
)

// Gateway holds the credentials and endpoints for both Bank terminals.
// Built once at startup and passed to the clients, never read from the
// environment after that.
type Gateway struct {
	Mode string

	// BaseURL / PayoutURL override the mode-selected endpoints when set.
	BaseURL   string
	PayoutURL string

	TerminalKey      string
	TerminalPassword string

	PayoutTerminalKey      string
	PayoutTerminalPassword string

	NotificationURL     string
	SuccessURL          string
	FailURL             string
	CardNotificationURL string

	Timeout time.Duration
}

func (g Gateway) PayBaseURL() string {
	if g.BaseURL != "" {
		return g.BaseURL
	}
	if g.Mode == ModeProduction {
		return prodPayBaseURL
	}
	return testPayBaseURL
}

func (g Gateway) PayoutBaseURL() string {
	if g.PayoutURL != "" {
		return g.PayoutURL
	}
	if g.Mode == ModeProduction {
		return prodPayoutBaseURL
	}
	return testPayoutBaseURL
}

type AntiFraud struct {
	DailyLimit decimal.Decimal
	MaxPerDay  int
}

type App struct {
	Host     string
	Port     string
	APIToken string

	Gateway   Gateway
	AntiFraud AntiFraud

	DealSyncInterval time.Duration
	EventRetention   time.Duration
}

func Load() App {
	return App{
		Host:     getEnv("HOST", "127.0.0.1"),
		Port:     getEnv("PORT", "3000"),
		APIToken: os.Getenv("API_TOKEN"),

		Gateway: Gateway{
			Mode:                   getEnv("PAY_MODE", ModeTest),
			BaseURL:                os.Getenv("PAY_BASE_URL"),
			PayoutURL:              os.Getenv("PAYOUT_BASE_URL"),
			TerminalKey:            os.Getenv("PAY_TERMINAL_KEY"),
			TerminalPassword:       os.Getenv("PAY_TERMINAL_PASSWORD"),
			PayoutTerminalKey:      os.Getenv("PAYOUT_TERMINAL_KEY"),
			PayoutTerminalPassword: os.Getenv("PAYOUT_TERMINAL_PASSWORD"),
			NotificationURL:        os.Getenv("PAY_NOTIFICATION_URL"),
			SuccessURL:             os.Getenv("PAY_SUCCESS_URL"),
			FailURL:                os.Getenv("PAY_FAIL_URL"),
			CardNotificationURL:    os.Getenv("CARD_NOTIFICATION_URL"),
			Timeout:                getDuration("PAY_TIMEOUT", 10*time.Second),
		},

		AntiFraud: AntiFraud{
			DailyLimit: getDecimal("ANTIFRAUD_DAILY_LIMIT", "150000"),
			MaxPerDay:  getInt("ANTIFRAUD_MAX_PER_DAY", 10),
		},

		DealSyncInterval: getDuration("DEALSYNC_INTERVAL", 5*time.Minute),
		EventRetention:   getDuration("EVENT_RETENTION", 30*24*time.Hour),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v, err := time.ParseDuration(os.Getenv(key))
	if err != nil {
		return fallback
	}
	return v
}

func getDecimal(key, fallback string) decimal.Decimal {
	v, err := decimal.NewFromString(os.Getenv(key))
	if err != nil {
		v, _ = decimal.NewFromString(fallback)
	}
	return v
}
