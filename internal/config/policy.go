package config

import (
	"os"
	"strconv"
	"time"
)

// PolicyConfig carries the ledger policy constants. Values are operational
// knobs, not per-request inputs; they are read once at service construction.
type PolicyConfig struct {
	AdminPrincipal string

	// Exchanges
	MinExchangeDuration time.Duration
	MaxExchangeDuration time.Duration

	// Escrows
	MinEscrowDuration time.Duration

	// Governance
	MinProposalPower int64
	VotingPeriod     time.Duration
	ExecutionDelay   time.Duration
	Quorum           int64

	// Rewards
	MinActivityScore  int64
	SilverThreshold   int64
	GoldThreshold     int64
	PlatinumThreshold int64
}

func LoadPolicyConfig() *PolicyConfig {
	return &PolicyConfig{
		AdminPrincipal:      getEnv("ADMIN_PRINCIPAL", "timebank-admin"),
		MinExchangeDuration: getEnvAsDuration("EXCHANGE_MIN_DURATION", 1*time.Hour),
		MaxExchangeDuration: getEnvAsDuration("EXCHANGE_MAX_DURATION", 30*24*time.Hour),
		MinEscrowDuration:   getEnvAsDuration("ESCROW_MIN_DURATION", 1*time.Hour),
		MinProposalPower:    getEnvAsInt64("GOV_MIN_PROPOSAL_POWER", 100),
		VotingPeriod:        getEnvAsDuration("GOV_VOTING_PERIOD", 7*24*time.Hour),
		ExecutionDelay:      getEnvAsDuration("GOV_EXECUTION_DELAY", 2*24*time.Hour),
		Quorum:              getEnvAsInt64("GOV_QUORUM", 1000),
		MinActivityScore:    getEnvAsInt64("REWARDS_MIN_ACTIVITY_SCORE", 10),
		SilverThreshold:     getEnvAsInt64("REWARDS_SILVER_THRESHOLD", 200),
		GoldThreshold:       getEnvAsInt64("REWARDS_GOLD_THRESHOLD", 500),
		PlatinumThreshold:   getEnvAsInt64("REWARDS_PLATINUM_THRESHOLD", 1000),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvAsInt64(key string, defaultVal int64) int64 {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.ParseInt(val, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			return duration
		}
	}
	return defaultVal
}
