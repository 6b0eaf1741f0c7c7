package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/harborbank/fundsflow/internal/domain"
)

// Config carries every tunable of the funds-movement engine. Amounts are in
// minor units (cents).
type Config struct {
	DBSource string
	Port     string
	Env      string

	KafkaBrokers []string
	KafkaTopic   string

	// Per-transaction caps by kind. Zero means uncapped.
	PerTxnLimits map[domain.TransferKind]int64
	// Cumulative cap on external debits per account per calendar day.
	DailyExternalLimit int64

	// Amount at which a kind requires one-time code verification.
	// Zero means every operation of that kind is gated.
	VerifyThresholds map[domain.TransferKind]int64

	OTPTTL            time.Duration
	OTPMaxAttempts    int
	OTPResendCooldown time.Duration
}

// Load reads configuration from the environment, with .env support for local
// development. Only DB_SOURCE is mandatory.
func Load() (*Config, error) {
	_ = godotenv.Load()

	dbSource := os.Getenv("DB_SOURCE")
	if dbSource == "" {
		return nil, fmt.Errorf("DB_SOURCE environment variable is required")
	}

	cfg := &Config{
		DBSource: dbSource,
		Port:     getEnv("SERVER_PORT", "8080"),
		Env:      getEnv("ENVIRONMENT", "development"),

		KafkaBrokers: []string{getEnv("KAFKA_BROKER", "localhost:9092")},
		KafkaTopic:   getEnv("KAFKA_NOTIFICATIONS_TOPIC", "customer-notifications"),

		PerTxnLimits: map[domain.TransferKind]int64{
			domain.KindP2P:               getEnvCents("LIMIT_P2P", 250000),         // $2,500
			domain.KindDebitCard:         getEnvCents("LIMIT_WITHDRAWAL", 1000000), // $10,000
			domain.KindExternalACH:       getEnvCents("LIMIT_EXTERNAL", 2500000),   // $25,000
			domain.KindWireDomestic:      getEnvCents("LIMIT_EXTERNAL", 2500000),
			domain.KindWireInternational: getEnvCents("LIMIT_EXTERNAL", 2500000),
			domain.KindInternal:          getEnvCents("LIMIT_INTERNAL", 0), // uncapped
		},
		DailyExternalLimit: getEnvCents("LIMIT_DAILY_EXTERNAL", 2500000), // $25,000/day

		VerifyThresholds: map[domain.TransferKind]int64{
			domain.KindP2P:               getEnvCents("VERIFY_THRESHOLD_P2P", 0), // always gated
			domain.KindInternal:          getEnvCents("VERIFY_THRESHOLD_DEFAULT", 500000),
			domain.KindExternalACH:       getEnvCents("VERIFY_THRESHOLD_DEFAULT", 500000),
			domain.KindWireDomestic:      getEnvCents("VERIFY_THRESHOLD_DEFAULT", 500000),
			domain.KindWireInternational: getEnvCents("VERIFY_THRESHOLD_DEFAULT", 500000),
			domain.KindDebitCard:         getEnvCents("VERIFY_THRESHOLD_DEFAULT", 500000), // $5,000
		},

		OTPTTL:            getEnvDuration("OTP_TTL", 10*time.Minute),
		OTPMaxAttempts:    getEnvInt("OTP_MAX_ATTEMPTS", 3),
		OTPResendCooldown: getEnvDuration("OTP_RESEND_COOLDOWN", time.Minute),
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvCents(key string, fallback int64) int64 {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
