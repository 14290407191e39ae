package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const EnvPrefix = "POLKAAGENTS_"

type Config struct {
	GRPC      ListenConfig    `koanf:"grpc"`
	HTTP      ListenConfig    `koanf:"http"`
	Store     StoreConfig     `koanf:"store"`
	Auth      AuthConfig      `koanf:"auth"`
	Platform  PlatformConfig  `koanf:"platform"`
	Ledger    LedgerConfig    `koanf:"ledger"`
	Events    EventsConfig    `koanf:"events"`
	Log       LogConfig       `koanf:"log"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

type ListenConfig struct {
	Addr       string `koanf:"addr"`
	Reflection bool   `koanf:"reflection"`
}

type StoreConfig struct {
	Driver      string `koanf:"driver"` // memory, file, postgres, sqlite
	DataFile    string `koanf:"data_file"`
	DatabaseURL string `koanf:"database_url"`
	SQLitePath  string `koanf:"sqlite_path"`
}

type AuthConfig struct {
	Token string `koanf:"token"`
	// Identities maps a write token to the only caller it may act as.
	Identities map[string]string `koanf:"identities"`
}

type PlatformConfig struct {
	Owner          string `koanf:"owner"`
	FeePercentage  uint64 `koanf:"fee_percentage"`
	TransferPolicy string `koanf:"transfer_policy"` // record, abort
}

type LedgerConfig struct {
	EscrowAccount string `koanf:"escrow_account"`
	// Faucet enables FundAccount. Keep it off outside development.
	Faucet bool `koanf:"faucet"`
}

type EventsConfig struct {
	Sink          string `koanf:"sink"` // log, nats, none
	NATSURL       string `koanf:"nats_url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

type TelemetryConfig struct {
	Exporter     string `koanf:"exporter"` // none, stdout, otlp
	OTLPEndpoint string `koanf:"otlp_endpoint"`
	OTLPInsecure bool   `koanf:"otlp_insecure"`
}

var defaults = map[string]any{
	"grpc.addr":                "127.0.0.1:50051",
	"grpc.reflection":          false,
	"http.addr":                "127.0.0.1:8080",
	"store.driver":             "file",
	"store.data_file":          "./data/polkaagents.json",
	"store.sqlite_path":        "./data/polkaagents.db",
	"platform.owner":           "platform",
	"platform.fee_percentage":  10,
	"platform.transfer_policy": "record",
	"ledger.escrow_account":    "polkaagents:escrow",
	"ledger.faucet":            false,
	"events.sink":              "log",
	"events.nats_url":          "nats://127.0.0.1:4222",
	"events.subject_prefix":    "polkaagents.events",
	"log.level":                "info",
	"log.format":               "text",
	"telemetry.exporter":       "none",
}

// Load layers defaults, the optional YAML file at path and POLKAAGENTS_*
// environment variables, in that order.
func Load(path string) (Config, error) {
	k := koanf.New(".")
	for key, value := range defaults {
		if err := k.Set(key, value); err != nil {
			return Config{}, err
		}
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return Config{}, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.normalize()
	return cfg, cfg.Validate()
}

// envKey maps POLKAAGENTS_STORE_DATA_FILE to store.data_file: the first
// underscore after the prefix separates the section from the key.
func envKey(raw string) string {
	key := strings.ToLower(strings.TrimPrefix(raw, EnvPrefix))
	return strings.Replace(key, "_", ".", 1)
}

func (c *Config) normalize() {
	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	c.Platform.Owner = strings.TrimSpace(c.Platform.Owner)
	c.Platform.TransferPolicy = strings.ToLower(strings.TrimSpace(c.Platform.TransferPolicy))
	c.Events.Sink = strings.ToLower(strings.TrimSpace(c.Events.Sink))
	c.Telemetry.Exporter = strings.ToLower(strings.TrimSpace(c.Telemetry.Exporter))
	c.Auth.Token = strings.TrimSpace(c.Auth.Token)
	if len(c.Auth.Identities) > 0 {
		identities := make(map[string]string, len(c.Auth.Identities))
		for token, identity := range c.Auth.Identities {
			identities[strings.TrimSpace(token)] = strings.TrimSpace(identity)
		}
		c.Auth.Identities = identities
	}
}

func (c Config) Validate() error {
	var errs []error
	switch c.Store.Driver {
	case "memory", "file", "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("unsupported store.driver %q; expected memory|file|postgres|sqlite", c.Store.Driver))
	}
	if c.Store.Driver == "postgres" && strings.TrimSpace(c.Store.DatabaseURL) == "" {
		errs = append(errs, errors.New("store.database_url is required when store.driver=postgres"))
	}
	if c.Platform.Owner == "" {
		errs = append(errs, errors.New("platform.owner is required"))
	}
	if c.Platform.FeePercentage > 100 {
		errs = append(errs, fmt.Errorf("platform.fee_percentage must be between 0 and 100, got %d", c.Platform.FeePercentage))
	}
	switch c.Platform.TransferPolicy {
	case "", "record", "abort":
	default:
		errs = append(errs, fmt.Errorf("unsupported platform.transfer_policy %q; expected record|abort", c.Platform.TransferPolicy))
	}
	for token, identity := range c.Auth.Identities {
		if token == "" || identity == "" {
			errs = append(errs, errors.New("auth.identities entries need a non-empty token and identity"))
			break
		}
	}
	switch c.Events.Sink {
	case "", "none", "log", "nats":
	default:
		errs = append(errs, fmt.Errorf("unsupported events.sink %q; expected none|log|nats", c.Events.Sink))
	}
	switch c.Telemetry.Exporter {
	case "", "none", "stdout", "otlp":
	default:
		errs = append(errs, fmt.Errorf("unsupported telemetry.exporter %q; expected none|stdout|otlp", c.Telemetry.Exporter))
	}
	return errors.Join(errs...)
}
