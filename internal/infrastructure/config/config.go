// Package config provides centralized configuration management.
//
// Configuration can be loaded from:
//  1. YAML file (config.yaml)
//  2. Environment variables (fallback)
//
// Example usage:
//
//	cfg := config.LoadOrEnv()
//	dbPath := cfg.Storage.DatabasePath
//	threshold := cfg.Matching.LineItems.AutoApproveThreshold
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the entire application configuration
type Config struct {
	Storage       StorageConfig       `yaml:"storage"`
	Matching      MatchingConfig      `yaml:"matching"`
	Duplicates    DuplicatesConfig    `yaml:"duplicates"`
	API           APIConfig           `yaml:"api"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// StorageConfig holds database configuration
type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// MatchingConfig holds the line item and credit card matching settings
type MatchingConfig struct {
	BaseCurrency string            `yaml:"base_currency"`
	LineItems    LineItemsConfig   `yaml:"line_items"`
	CreditCards  CreditCardsConfig `yaml:"credit_cards"`

	// Run card matching after every statement import
	MatchAfterImport bool `yaml:"match_after_import"`

	// Auto-match an invoice right after its line items are imported
	MatchAfterLineItemImport bool `yaml:"match_after_line_item_import"`
}

// LineItemsConfig holds the line item scorer settings
type LineItemsConfig struct {
	AutoApproveThreshold   float64       `yaml:"auto_approve_threshold"`
	CandidateThreshold     float64       `yaml:"candidate_threshold"`
	DateRangeDays          int           `yaml:"date_range_days"`
	AmountTolerancePercent float64       `yaml:"amount_tolerance_percent"`
	Weights                WeightsConfig `yaml:"weights"`
	EligibleTypes          []string      `yaml:"eligible_types"`
}

// WeightsConfig holds the maximum credit of each scoring component
type WeightsConfig struct {
	Reference float64 `yaml:"reference"`
	Amount    float64 `yaml:"amount"`
	Date      float64 `yaml:"date"`
	Vendor    float64 `yaml:"vendor"`
}

// CreditCardsConfig holds the settlement tolerances
type CreditCardsConfig struct {
	DateToleranceDays      int     `yaml:"date_tolerance_days"`
	AmountTolerancePercent float64 `yaml:"amount_tolerance_percent"`
}

// DuplicatesConfig holds duplicate detection settings
type DuplicatesConfig struct {
	HashStrategy          string  `yaml:"hash_strategy"` // base64 or sha256
	SemanticPolicy        string  `yaml:"semantic_policy"`
	SemanticAmountPercent float64 `yaml:"semantic_amount_percent"`
	SemanticDateDays      int     `yaml:"semantic_date_days"`
}

// APIConfig holds HTTP server settings
type APIConfig struct {
	Port           int      `yaml:"port"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	Logging LoggingConfig `yaml:"logging"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the documented defaults.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{DatabasePath: "reconcile.db"},
		Matching: MatchingConfig{
			BaseCurrency: "ILS",
			LineItems: LineItemsConfig{
				AutoApproveThreshold:   85,
				CandidateThreshold:     50,
				DateRangeDays:          7,
				AmountTolerancePercent: 10,
				Weights:                WeightsConfig{Reference: 40, Amount: 40, Date: 20, Vendor: 25},
				EligibleTypes:          []string{"bank_regular", "cc_purchase"},
			},
			CreditCards: CreditCardsConfig{DateToleranceDays: 2, AmountTolerancePercent: 2},
		},
		Duplicates: DuplicatesConfig{
			HashStrategy:          "base64",
			SemanticPolicy:        "warn",
			SemanticAmountPercent: 2,
			SemanticDateDays:      2,
		},
		API: APIConfig{
			Port:           8080,
			AllowedOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Observability: ObservabilityConfig{
			Logging: LoggingConfig{Level: "info", Format: "text"},
		},
	}
}

// Load reads and parses the config file. Keys missing from the file keep
// their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables (e.g., ${RECONCILE_DB_PATH})
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables only
func LoadFromEnv() *Config {
	cfg := Default()
	cfg.Storage.DatabasePath = getEnv("RECONCILE_DB_PATH", cfg.Storage.DatabasePath)
	cfg.Matching.BaseCurrency = getEnv("RECONCILE_BASE_CURRENCY", cfg.Matching.BaseCurrency)
	cfg.Matching.MatchAfterImport = getEnvBool("RECONCILE_MATCH_AFTER_IMPORT", false)
	cfg.Matching.MatchAfterLineItemImport = getEnvBool("RECONCILE_MATCH_AFTER_LINE_ITEM_IMPORT", false)
	cfg.Matching.LineItems.AutoApproveThreshold = getEnvFloat("RECONCILE_AUTO_APPROVE_THRESHOLD", cfg.Matching.LineItems.AutoApproveThreshold)
	cfg.Matching.LineItems.CandidateThreshold = getEnvFloat("RECONCILE_CANDIDATE_THRESHOLD", cfg.Matching.LineItems.CandidateThreshold)
	cfg.Matching.LineItems.DateRangeDays = getEnvInt("RECONCILE_DATE_RANGE_DAYS", cfg.Matching.LineItems.DateRangeDays)
	cfg.Matching.CreditCards.DateToleranceDays = getEnvInt("RECONCILE_CC_DATE_TOLERANCE_DAYS", cfg.Matching.CreditCards.DateToleranceDays)
	cfg.Duplicates.HashStrategy = getEnv("RECONCILE_HASH_STRATEGY", cfg.Duplicates.HashStrategy)
	cfg.Duplicates.SemanticPolicy = getEnv("RECONCILE_SEMANTIC_POLICY", cfg.Duplicates.SemanticPolicy)
	cfg.API.Port = getEnvInt("RECONCILE_PORT", cfg.API.Port)
	if origins := os.Getenv("RECONCILE_ALLOWED_ORIGINS"); origins != "" {
		cfg.API.AllowedOrigins = splitList(origins)
	}
	cfg.Observability.Logging.Level = getEnv("LOG_LEVEL", cfg.Observability.Logging.Level)
	cfg.Observability.Logging.Format = getEnv("LOG_FORMAT", cfg.Observability.Logging.Format)
	return cfg
}

// LoadOrEnv tries to load from config.yaml, falls back to environment variables
func LoadOrEnv() *Config {
	return LoadOrEnvWithPath("config.yaml")
}

// LoadOrEnvWithPath tries to load from specified path, falls back to environment variables
func LoadOrEnvWithPath(path string) *Config {
	if cfg, err := Load(path); err == nil {
		return cfg
	}
	return LoadFromEnv()
}

// getEnv retrieves an environment variable with a fallback default
func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

// getEnvInt retrieves an integer environment variable with a fallback default
func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		var result int
		if _, err := fmt.Sscanf(val, "%d", &result); err == nil {
			return result
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		var result float64
		if _, err := fmt.Sscanf(val, "%g", &result); err == nil {
			return result
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	switch strings.ToLower(os.Getenv(key)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
