package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// CreditsConfig carries the fee schedule and top-up policy for the Ficore
// Credit ledger.
type CreditsConfig struct {
	SignupBonus          int64
	AllowedTopUpAmounts  []int64
	CredentialTTL        time.Duration
	CredentialLength     int
	HashIterations       int
	ReaperInterval       time.Duration
	MaxSubmissionsPerDay int
	ActionCosts          map[string]int64
}

// Fee-bearing action names. Each maps to a fixed unit cost; the set is
// static so handlers never invent costs at call sites.
const (
	ActionCreateDebtor     = "create_debtor"
	ActionCreateCreditor   = "create_creditor"
	ActionSendReminder     = "send_reminder"
	ActionSnoozeReminder   = "snooze_reminder"
	ActionGeneratePDF      = "generate_pdf"
	ActionAddInventoryItem = "add_inventory_item"
	ActionUploadReceipt    = "upload_receipt"
)

func LoadCreditsConfig() *CreditsConfig {
	return &CreditsConfig{
		SignupBonus:          getEnvAsInt64("CREDITS_SIGNUP_BONUS", 20),
		AllowedTopUpAmounts:  getEnvAsInt64Slice("CREDITS_TOPUP_AMOUNTS", []int64{10, 50, 100}),
		CredentialTTL:        getEnvAsDuration("CREDITS_CREDENTIAL_TTL", 24*time.Hour),
		CredentialLength:     getEnvAsInt("CREDITS_CREDENTIAL_LENGTH", 10),
		HashIterations:       getEnvAsInt("CREDITS_HASH_ITERATIONS", 10000),
		ReaperInterval:       getEnvAsDuration("CREDITS_REAPER_INTERVAL", 1*time.Hour),
		MaxSubmissionsPerDay: getEnvAsInt("CREDITS_MAX_TOPUPS_PER_DAY", 10),
		ActionCosts: map[string]int64{
			ActionCreateDebtor:     1,
			ActionCreateCreditor:   1,
			ActionSendReminder:     2,
			ActionSnoozeReminder:   1,
			ActionGeneratePDF:      1,
			ActionAddInventoryItem: 1,
			ActionUploadReceipt:    1,
		},
	}
}

// Cost returns the unit cost of a fee-bearing action. Unknown actions cost
// one unit rather than zero so a misnamed action can never be free.
func (c *CreditsConfig) Cost(action string) int64 {
	if cost, ok := c.ActionCosts[action]; ok {
		return cost
	}
	return 1
}

// AmountAllowed reports whether amount is in the enumerated top-up set.
func (c *CreditsConfig) AmountAllowed(amount int64) bool {
	for _, a := range c.AllowedTopUpAmounts {
		if a == amount {
			return true
		}
	}
	return false
}

func getEnvAsInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
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

func getEnvAsInt64Slice(key string, defaultVal []int64) []int64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var out []int64
	for _, part := range strings.Split(val, ",") {
		intVal, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return defaultVal
		}
		out = append(out, intVal)
	}
	return out
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if duration, err := time.ParseDuration(val); err == nil {
			return duration
		}
	}
	return defaultVal
}
