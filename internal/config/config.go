// Copyright 2026 The switchAIOrchestrator Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package config provides configuration management for the orchestrator server.
// It loads the YAML configuration file, applies defaults for absent keys and
// sanitizes values so every downstream component receives a usable setting.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

// DefaultPort is the HTTP port used when none is configured.
const DefaultPort = 8417

// Config represents the application's configuration, loaded from a YAML file.
type Config struct {
	// Host is the network host/interface on which the API server will bind.
	// Default is empty ("") to bind all interfaces.
	Host string `yaml:"host" json:"-"`
	// Port is the network port on which the API server will listen.
	Port int `yaml:"port" json:"-"`

	// Debug enables or disables debug-level logging.
	Debug bool `yaml:"debug" json:"debug"`

	// LoggingToFile controls whether application logs are written to rotating files or stdout.
	LoggingToFile bool `yaml:"logging-to-file" json:"logging-to-file"`

	// LogDir is the directory for rotating log files.
	LogDir string `yaml:"log-dir" json:"log-dir"`

	// LogsMaxTotalSizeMB limits the total size (in MB) of log files under LogDir. 0 disables the limit.
	LogsMaxTotalSizeMB int `yaml:"logs-max-total-size-mb" json:"logs-max-total-size-mb"`

	// RemoteManagement guards the provider administration endpoints.
	RemoteManagement RemoteManagement `yaml:"remote-management" json:"-"`

	// Database selects the SQL backend for history, profiles, usage log and context chunks.
	Database DatabaseConfig `yaml:"database" json:"database"`

	// Providers lists the upstream language-model providers.
	Providers []ProviderEntry `yaml:"providers" json:"providers"`

	// Heartbeat configures the provider health monitor.
	Heartbeat HeartbeatConfig `yaml:"heartbeat" json:"heartbeat"`

	// Routing configures the provider router.
	Routing RoutingConfig `yaml:"routing" json:"routing"`

	// Ledger configures cost and rate accounting.
	Ledger LedgerConfig `yaml:"ledger" json:"ledger"`

	// Context configures context assembly and compression.
	Context ContextConfig `yaml:"context" json:"context"`

	// Embedding configures the embedding-generation service.
	Embedding EmbeddingConfig `yaml:"embedding" json:"embedding"`
}

// RemoteManagement holds management API configuration.
type RemoteManagement struct {
	// SecretKey is the management key (plaintext or bcrypt hashed). Empty disables management routes.
	SecretKey string `yaml:"secret-key"`
}

// DatabaseConfig selects the SQL driver and DSN.
type DatabaseConfig struct {
	// Driver is "sqlite3" or "pgx".
	Driver string `yaml:"driver" json:"driver"`
	// DSN is the data source name (a file path for sqlite3).
	DSN string `yaml:"dsn" json:"-"`
}

// ModelPrice is the USD price per one million tokens.
type ModelPrice struct {
	Input  float64 `yaml:"input" json:"input"`
	Output float64 `yaml:"output" json:"output"`
}

// ProviderEntry is a provider as written in the configuration file.
type ProviderEntry struct {
	ID                   string                `yaml:"id" json:"id"`
	Name                 string                `yaml:"name" json:"name"`
	Type                 string                `yaml:"type" json:"type"`
	Enabled              *bool                 `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Priority             int                   `yaml:"priority" json:"priority"`
	BaseURL              string                `yaml:"base-url" json:"base-url"`
	Credential           string                `yaml:"credential" json:"-"`
	Models               []string              `yaml:"models" json:"models"`
	MaxRequestsPerMinute int                   `yaml:"max-requests-per-minute" json:"max-requests-per-minute"`
	MaxCostPerDay        float64               `yaml:"max-cost-per-day" json:"max-cost-per-day"`
	Timeout              string                `yaml:"timeout" json:"timeout"`
	RetryAttempts        int                   `yaml:"retry-attempts" json:"retry-attempts"`
	ProxyURL             string                `yaml:"proxy-url" json:"proxy-url"`
	CheckInterval        string                `yaml:"check-interval" json:"check-interval"`
	Headers              map[string]string     `yaml:"headers,omitempty" json:"headers,omitempty"`
	Pricing              map[string]ModelPrice `yaml:"pricing,omitempty" json:"pricing,omitempty"`
}

// IsEnabled reports whether the entry is enabled; absent means enabled.
func (p ProviderEntry) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

// RoutingConfig configures the provider router.
type RoutingConfig struct {
	// MaxTotalAttempts is the global ceiling on attempts within one routing decision.
	MaxTotalAttempts int `yaml:"max-total-attempts" json:"max-total-attempts"`
	// PolicyDir holds routing policy YAML files. Empty disables routing policies.
	PolicyDir string `yaml:"policy-dir" json:"policy-dir"`
}

// LedgerConfig configures cost and rate accounting.
type LedgerConfig struct {
	// Timezone is the IANA zone whose midnight resets daily cost. Default "UTC".
	Timezone string `yaml:"timezone" json:"timezone"`
	// QueueSize bounds the async usage-log write queue.
	QueueSize int `yaml:"queue-size" json:"queue-size"`
}

// ContextConfig configures context assembly.
type ContextConfig struct {
	HistoryLimit        int     `yaml:"history-limit" json:"history-limit"`
	SemanticLimit       int     `yaml:"semantic-limit" json:"semantic-limit"`
	MinScore            float64 `yaml:"min-score" json:"min-score"`
	PreserveRecentTurns int     `yaml:"preserve-recent-turns" json:"preserve-recent-turns"`
	RecapAfter          string  `yaml:"recap-after" json:"recap-after"`
	TokenEstimator      string  `yaml:"token-estimator" json:"token-estimator"`
	MaxTokens           int     `yaml:"max-tokens" json:"max-tokens"`
}

// EmbeddingConfig configures the embedding-generation service.
type EmbeddingConfig struct {
	Enabled    bool   `yaml:"enabled" json:"enabled"`
	BaseURL    string `yaml:"base-url" json:"base-url"`
	Credential string `yaml:"credential" json:"-"`
	Model      string `yaml:"model" json:"model"`
	Dimension  int    `yaml:"dimension" json:"dimension"`
}

// LoadConfig reads a YAML configuration file from the given path,
// unmarshals it into a Config struct, applies defaults and sanitizes values.
func LoadConfig(configFile string) (*Config, error) {
	return LoadConfigOptional(configFile, false)
}

// LoadConfigOptional reads YAML from configFile.
// If optional is true and the file is missing, it returns a default Config.
func LoadConfigOptional(configFile string, optional bool) (*Config, error) {
	data, err := os.ReadFile(configFile)
	if err != nil {
		if optional && (os.IsNotExist(err) || errors.Is(err, syscall.EISDIR)) {
			cfg := defaultConfig()
			cfg.sanitize()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := ParseConfig(data)
	if err != nil {
		return nil, err
	}

	// Hash remote management key if plaintext is detected and persist it so the
	// next start does not re-hash.
	if cfg.RemoteManagement.SecretKey != "" && !looksLikeBcrypt(cfg.RemoteManagement.SecretKey) {
		hashed, errHash := hashSecret(cfg.RemoteManagement.SecretKey)
		if errHash != nil {
			return nil, fmt.Errorf("failed to hash remote management key: %w", errHash)
		}
		cfg.RemoteManagement.SecretKey = hashed
		if errSave := SaveConfigUpdateNestedScalar(configFile, []string{"remote-management", "secret-key"}, hashed); errSave != nil {
			log.Warnf("config: could not persist hashed management key: %v", errSave)
		}
	}

	return cfg, nil
}

// ParseConfig parses YAML bytes into a sanitized Config.
func ParseConfig(data []byte) (*Config, error) {
	// Set defaults before unmarshal so that absent keys keep defaults.
	cfg := defaultConfig()
	if len(bytes.TrimSpace(data)) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}
	cfg.sanitize()
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Host:     "",
		Port:     DefaultPort,
		LogDir:   "logs",
		Database: DatabaseConfig{Driver: "sqlite3", DSN: "./data/orchestrator.db"},
		Heartbeat: HeartbeatConfig{
			Enabled:             true,
			Interval:            "5m",
			Timeout:             "5s",
			SlowThreshold:       "2s",
			FreshnessWindow:     "10m",
			RetryAttempts:       1,
			RetryDelay:          "1s",
			MaxConcurrentChecks: 10,
		},
		Routing: RoutingConfig{MaxTotalAttempts: 5},
		Ledger:  LedgerConfig{Timezone: "UTC", QueueSize: 1000},
		Context: ContextConfig{
			HistoryLimit:        20,
			SemanticLimit:       5,
			MinScore:            0.75,
			PreserveRecentTurns: 4,
			RecapAfter:          "6h",
			TokenEstimator:      "tiktoken",
			MaxTokens:           6000,
		},
		Embedding: EmbeddingConfig{
			Model:     "text-embedding-3-small",
			Dimension: 1536,
		},
	}
}

func (cfg *Config) sanitize() {
	if cfg.Port <= 0 || cfg.Port > 65535 {
		cfg.Port = DefaultPort
	}
	if cfg.LogsMaxTotalSizeMB < 0 {
		cfg.LogsMaxTotalSizeMB = 0
	}
	if strings.TrimSpace(cfg.LogDir) == "" {
		cfg.LogDir = "logs"
	}
	cfg.SanitizeDatabase()
	cfg.SanitizeHeartbeat()
	cfg.SanitizeProviders()
	cfg.SanitizeRouting()
	cfg.SanitizeLedger()
	cfg.SanitizeContext()
	cfg.SanitizeEmbedding()
}

// SanitizeDatabase normalizes the driver name.
func (cfg *Config) SanitizeDatabase() {
	driver := strings.ToLower(strings.TrimSpace(cfg.Database.Driver))
	switch driver {
	case "sqlite", "sqlite3", "":
		cfg.Database.Driver = "sqlite3"
	case "postgres", "postgresql", "pgx":
		cfg.Database.Driver = "pgx"
	default:
		log.Warnf("config: unknown database driver %q, falling back to sqlite3", cfg.Database.Driver)
		cfg.Database.Driver = "sqlite3"
	}
	if strings.TrimSpace(cfg.Database.DSN) == "" && cfg.Database.Driver == "sqlite3" {
		cfg.Database.DSN = "./data/orchestrator.db"
	}
}

// SanitizeProviders trims identifiers, lowercases types, normalizes headers and models,
// and drops entries without an id. Validation of priority and limits happens in the registry.
func (cfg *Config) SanitizeProviders() {
	if len(cfg.Providers) == 0 {
		return
	}
	out := make([]ProviderEntry, 0, len(cfg.Providers))
	seen := make(map[string]struct{}, len(cfg.Providers))
	for i := range cfg.Providers {
		entry := cfg.Providers[i]
		entry.ID = strings.TrimSpace(entry.ID)
		if entry.ID == "" {
			log.Warnf("config: dropping provider entry #%d without id", i)
			continue
		}
		if _, dup := seen[entry.ID]; dup {
			log.Warnf("config: dropping duplicate provider id %q", entry.ID)
			continue
		}
		seen[entry.ID] = struct{}{}
		entry.Name = strings.TrimSpace(entry.Name)
		if entry.Name == "" {
			entry.Name = entry.ID
		}
		entry.Type = strings.ToLower(strings.TrimSpace(entry.Type))
		entry.BaseURL = strings.TrimRight(strings.TrimSpace(entry.BaseURL), "/")
		entry.ProxyURL = strings.TrimSpace(entry.ProxyURL)
		entry.Headers = NormalizeHeaders(entry.Headers)
		entry.Models = NormalizeModels(entry.Models)
		if entry.RetryAttempts <= 0 {
			entry.RetryAttempts = 1
		}
		if _, err := time.ParseDuration(entry.Timeout); err != nil {
			entry.Timeout = "30s"
		}
		entry.CheckInterval = cfg.Heartbeat.ClampCheckInterval(entry.CheckInterval)
		out = append(out, entry)
	}
	cfg.Providers = out
}

// SanitizeRouting clamps routing values.
func (cfg *Config) SanitizeRouting() {
	if cfg.Routing.MaxTotalAttempts <= 0 {
		cfg.Routing.MaxTotalAttempts = 5
	}
	if cfg.Routing.MaxTotalAttempts > 20 {
		cfg.Routing.MaxTotalAttempts = 20
	}
	cfg.Routing.PolicyDir = strings.TrimSpace(cfg.Routing.PolicyDir)
}

// SanitizeLedger validates the timezone and queue size.
func (cfg *Config) SanitizeLedger() {
	if strings.TrimSpace(cfg.Ledger.Timezone) == "" {
		cfg.Ledger.Timezone = "UTC"
	}
	if _, err := time.LoadLocation(cfg.Ledger.Timezone); err != nil {
		log.Warnf("config: invalid ledger timezone %q, using UTC", cfg.Ledger.Timezone)
		cfg.Ledger.Timezone = "UTC"
	}
	if cfg.Ledger.QueueSize <= 0 {
		cfg.Ledger.QueueSize = 1000
	}
}

// SanitizeContext clamps context assembly settings.
func (cfg *Config) SanitizeContext() {
	c := &cfg.Context
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 20
	}
	if c.SemanticLimit < 0 {
		c.SemanticLimit = 0
	}
	if c.MinScore < 0 || c.MinScore > 1 {
		c.MinScore = 0.75
	}
	if c.PreserveRecentTurns <= 0 {
		c.PreserveRecentTurns = 1
	}
	if _, err := time.ParseDuration(c.RecapAfter); err != nil {
		c.RecapAfter = "6h"
	}
	if c.TokenEstimator != "simple" && c.TokenEstimator != "tiktoken" {
		c.TokenEstimator = "tiktoken"
	}
	if c.MaxTokens < 0 {
		c.MaxTokens = 0
	}
}

// SanitizeEmbedding clamps the embedding dimension.
func (cfg *Config) SanitizeEmbedding() {
	cfg.Embedding.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.Embedding.BaseURL), "/")
	if cfg.Embedding.Dimension <= 0 {
		cfg.Embedding.Dimension = 1536
	}
	if strings.TrimSpace(cfg.Embedding.Model) == "" {
		cfg.Embedding.Model = "text-embedding-3-small"
	}
}

// Location returns the ledger timezone location.
func (cfg *Config) Location() *time.Location {
	loc, err := time.LoadLocation(cfg.Ledger.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ParseDurationOr parses s, returning def when s is empty or invalid.
func ParseDurationOr(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// looksLikeBcrypt returns true if the provided string appears to be a bcrypt hash.
func looksLikeBcrypt(s string) bool {
	return len(s) > 4 && (s[:4] == "$2a$" || s[:4] == "$2b$" || s[:4] == "$2y$")
}

// NormalizeHeaders trims header keys and values and removes empty pairs.
func NormalizeHeaders(headers map[string]string) map[string]string {
	if len(headers) == 0 {
		return nil
	}
	clean := make(map[string]string, len(headers))
	for k, v := range headers {
		key := strings.TrimSpace(k)
		val := strings.TrimSpace(v)
		if key == "" || val == "" {
			continue
		}
		clean[key] = val
	}
	if len(clean) == 0 {
		return nil
	}
	return clean
}

// NormalizeModels trims and deduplicates model identifiers, preserving first-seen order.
func NormalizeModels(models []string) []string {
	if len(models) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(models))
	out := make([]string, 0, len(models))
	for _, raw := range models {
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" {
			continue
		}
		if _, exists := seen[trimmed]; exists {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// hashSecret hashes the given secret using bcrypt.
func hashSecret(secret string) (string, error) {
	hashedBytes, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashedBytes), nil
}

// CheckManagementKey compares a presented key with the configured bcrypt hash.
func (cfg *Config) CheckManagementKey(presented string) bool {
	hash := cfg.RemoteManagement.SecretKey
	if hash == "" || presented == "" {
		return false
	}
	if !looksLikeBcrypt(hash) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(presented)) == nil
}

// SaveConfigUpdateNestedScalar updates a nested scalar key path like ["a","b"]
// while preserving comments and positions.
func SaveConfigUpdateNestedScalar(configFile string, path []string, value string) error {
	data, err := os.ReadFile(configFile)
	if err != nil {
		return err
	}
	var root yaml.Node
	if err = yaml.Unmarshal(data, &root); err != nil {
		return err
	}
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 {
		return fmt.Errorf("invalid yaml document structure")
	}
	node := root.Content[0]
	for i, key := range path {
		if i == len(path)-1 {
			v := getOrCreateMapValue(node, key)
			v.Kind = yaml.ScalarNode
			v.Tag = "!!str"
			v.Value = value
		} else {
			next := getOrCreateMapValue(node, key)
			if next.Kind != yaml.MappingNode {
				next.Kind = yaml.MappingNode
				next.Tag = "!!map"
				next.Value = ""
			}
			node = next
		}
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err = enc.Encode(&root); err != nil {
		_ = enc.Close()
		return err
	}
	if err = enc.Close(); err != nil {
		return err
	}
	return os.WriteFile(configFile, buf.Bytes(), 0o600)
}

// getOrCreateMapValue finds the value node for a given key in a mapping node.
// If not found, it appends a new key/value pair and returns the new value node.
func getOrCreateMapValue(mapNode *yaml.Node, key string) *yaml.Node {
	if mapNode.Kind != yaml.MappingNode {
		mapNode.Kind = yaml.MappingNode
		mapNode.Tag = "!!map"
		mapNode.Content = nil
	}
	for i := 0; i+1 < len(mapNode.Content); i += 2 {
		if mapNode.Content[i].Value == key {
			return mapNode.Content[i+1]
		}
	}
	mapNode.Content = append(mapNode.Content, &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key})
	val := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: ""}
	mapNode.Content = append(mapNode.Content, val)
	return val
}
