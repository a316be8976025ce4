package config

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is stripped from environment variables before they are mapped
// onto config keys: CARECORE_SERVER_ADDR -> server.addr.
const EnvPrefix = "CARECORE_"

// MinMasterSecretBytes is the shortest accepted master secret after base64
// decoding.
const MinMasterSecretBytes = 32

type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Redis    RedisConfig    `koanf:"redis"`
	Kafka    KafkaConfig    `koanf:"kafka"`
	Log      LogConfig      `koanf:"log"`
	Crypto   CryptoConfig   `koanf:"crypto"`
	Auth     AuthConfig     `koanf:"auth"`
	Audit    AuditConfig    `koanf:"audit"`
	Consent  ConsentConfig  `koanf:"consent"`
	Tenant   TenantConfig   `koanf:"tenant"`
}

// ServerConfig captures HTTP server level configuration.
type ServerConfig struct {
	Addr            string        `koanf:"addr"`
	ShutdownTimeout time.Duration `koanf:"shutdowntimeout"`
}

// DatabaseConfig selects the Postgres backend. An empty URL keeps every store
// in memory.
type DatabaseConfig struct {
	URL      string `koanf:"url"`
	MaxConns int    `koanf:"maxconns"`
	Migrate  bool   `koanf:"migrate"`
}

// RedisConfig holds connection settings for the sweep lease. An empty URL
// falls back to a process-local lease.
type RedisConfig struct {
	URL          string        `koanf:"url"`
	PoolSize     int           `koanf:"poolsize"`
	MinIdleConns int           `koanf:"minidleconns"`
	DialTimeout  time.Duration `koanf:"dialtimeout"`
	ReadTimeout  time.Duration `koanf:"readtimeout"`
	WriteTimeout time.Duration `koanf:"writetimeout"`
}

// KafkaConfig enables the audit mirror when Brokers is non-empty.
type KafkaConfig struct {
	Brokers    []string `koanf:"brokers"`
	AuditTopic string   `koanf:"audittopic"`
	Partitions int32    `koanf:"partitions"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// CryptoConfig carries the base64 master secret every per-org key is derived
// from.
type CryptoConfig struct {
	MasterSecret string `koanf:"mastersecret"`
}

type AuthConfig struct {
	SigningKey string        `koanf:"signingkey"`
	Issuer     string        `koanf:"issuer"`
	Audience   string        `koanf:"audience"`
	TokenTTL   time.Duration `koanf:"tokenttl"`
}

type AuditConfig struct {
	Shards        int `koanf:"shards"`
	QueueSize     int `koanf:"queuesize"`
	RetryAttempts int `koanf:"retryattempts"`
}

type ConsentConfig struct {
	SweepInterval time.Duration `koanf:"sweepinterval"`
	LeaseTTL      time.Duration `koanf:"leasettl"`
}

// TenantConfig lists organization names created at startup when absent.
type TenantConfig struct {
	Bootstrap []string `koanf:"bootstrap"`
}

func defaults() map[string]any {
	return map[string]any{
		"server.addr":            ":8080",
		"server.shutdowntimeout": "15s",
		"database.maxconns":      25,
		"database.migrate":       true,
		"redis.poolsize":         10,
		"redis.minidleconns":     2,
		"redis.dialtimeout":      "5s",
		"redis.readtimeout":      "3s",
		"redis.writetimeout":     "3s",
		"kafka.audittopic":       "carecore.audit.entries",
		"kafka.partitions":       6,
		"log.level":              "info",
		"log.format":             "json",
		"auth.issuer":            "carecore",
		"auth.audience":          "carecore-api",
		"auth.tokenttl":          "1h",
		"audit.shards":           8,
		"audit.queuesize":        1024,
		"audit.retryattempts":    5,
		"consent.sweepinterval":  "1m",
		"consent.leasettl":       "50s",
	}
}

// Load merges defaults, optional YAML files and CARECORE_* environment
// variables, in that order of precedence (env wins), then validates.
func Load(configPaths ...string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	for _, path := range configPaths {
		if path == "" {
			continue
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "_", ".")
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	// Comma separated lists arrive from env as a single string.
	if raw, ok := k.Get("kafka.brokers").(string); ok && raw != "" {
		_ = k.Set("kafka.brokers", splitList(raw))
	}
	if raw, ok := k.Get("tenant.bootstrap").(string); ok && raw != "" {
		_ = k.Set("tenant.bootstrap", splitList(raw))
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations the process must not start with.
func (c *Config) Validate() error {
	if _, err := c.Crypto.MasterKey(); err != nil {
		return err
	}
	if c.Audit.Shards <= 0 {
		return fmt.Errorf("audit.shards must be positive, got %d", c.Audit.Shards)
	}
	if c.Audit.QueueSize <= 0 {
		return fmt.Errorf("audit.queuesize must be positive, got %d", c.Audit.QueueSize)
	}
	if c.Audit.RetryAttempts <= 0 {
		return fmt.Errorf("audit.retryattempts must be positive, got %d", c.Audit.RetryAttempts)
	}
	if c.Consent.SweepInterval <= 0 {
		return fmt.Errorf("consent.sweepinterval must be positive")
	}
	if c.Consent.LeaseTTL <= 0 || c.Consent.LeaseTTL > c.Consent.SweepInterval {
		return fmt.Errorf("consent.leasettl must be positive and no longer than consent.sweepinterval")
	}
	if c.Auth.SigningKey == "" {
		return fmt.Errorf("auth.signingkey is required")
	}
	return nil
}

// MasterKey decodes the master secret and enforces its minimum length.
func (c CryptoConfig) MasterKey() ([]byte, error) {
	if c.MasterSecret == "" {
		return nil, fmt.Errorf("crypto.mastersecret is required")
	}
	key, err := base64.StdEncoding.DecodeString(c.MasterSecret)
	if err != nil {
		return nil, fmt.Errorf("crypto.mastersecret is not valid base64: %w", err)
	}
	if len(key) < MinMasterSecretBytes {
		return nil, fmt.Errorf("crypto.mastersecret must decode to at least %d bytes, got %d", MinMasterSecretBytes, len(key))
	}
	return key, nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
