// Package nodeconfig loads the node's yaml configuration and layers
// environment overrides on top of built-in defaults.
package nodeconfig

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the resolved runtime configuration.
type Config struct {
	LedgerRPCURLs     []string
	NetworkID         uint32
	RequestsPerSecond float64

	WriteGateURL       string
	WriteGateTokenPath string
	GatewayURLs        []string

	DataDir        string
	ScanInterval   time.Duration
	MetricsAddr    string
	MetricsEnabled bool
	EncryptState   bool
	LogLevel       string
}

type fileConfig struct {
	Ledger fileLedgerConfig `yaml:"ledger"`
	Blob   fileBlobConfig   `yaml:"blob"`
	Node   fileNodeConfig   `yaml:"node"`
}

type fileLedgerConfig struct {
	RPCURLs           []string `yaml:"rpcUrls"`
	NetworkID         uint32   `yaml:"networkId"`
	RequestsPerSecond float64  `yaml:"requestsPerSecond"`
}

type fileBlobConfig struct {
	WriteGateURL       string   `yaml:"writeGateUrl"`
	WriteGateTokenPath string   `yaml:"writeGateTokenPath"`
	GatewayURLs        []string `yaml:"gatewayUrls"`
}

type fileNodeConfig struct {
	DataDir        string        `yaml:"dataDir"`
	ScanInterval   time.Duration `yaml:"scanInterval"`
	MetricsAddr    string        `yaml:"metricsAddr"`
	MetricsEnabled *bool         `yaml:"metricsEnabled"`
	EncryptState   *bool         `yaml:"encryptState"`
	LogLevel       string        `yaml:"logLevel"`
}

func DefaultConfig() Config {
	return Config{
		LedgerRPCURLs:     []string{"http://localhost:5005"},
		RequestsPerSecond: 10,
		ScanInterval:      15 * time.Second,
		MetricsAddr:       "127.0.0.1:9464",
		MetricsEnabled:    true,
		EncryptState:      true,
		LogLevel:          "info",
	}
}

// LoadFromPath resolves the effective configuration. An explicit path
// must load cleanly; with none given, the candidate files are tried in
// order and the first readable one wins. Environment overrides apply in
// every case.
func LoadFromPath(configPath string) (Config, error) {
	cfg := DefaultConfig()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return Config{}, fmt.Errorf("nodeconfig: read %s: %w", configPath, err)
		}
		var parsed fileConfig
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			return Config{}, fmt.Errorf("nodeconfig: parse %s: %w", configPath, err)
		}
		merge(&cfg, parsed)
		ApplyEnvOverrides(&cfg)
		return cfg, nil
	}

	for _, path := range []string{"configs/config.yaml", "config.yaml"} {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var parsed fileConfig
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			return Config{}, fmt.Errorf("nodeconfig: parse %s: %w", path, err)
		}
		merge(&cfg, parsed)
		break
	}
	ApplyEnvOverrides(&cfg)
	return cfg, nil
}

// Merge returns c with every non-zero field of override applied on top.
// Boolean false is a zero value and keeps the receiver's setting; the
// yaml and env layers carry explicit false through *bool instead.
func (c Config) Merge(override Config) Config {
	if override.LedgerRPCURLs != nil {
		c.LedgerRPCURLs = override.LedgerRPCURLs
	}
	if override.NetworkID != 0 {
		c.NetworkID = override.NetworkID
	}
	if override.RequestsPerSecond != 0 {
		c.RequestsPerSecond = override.RequestsPerSecond
	}
	if override.WriteGateURL != "" {
		c.WriteGateURL = override.WriteGateURL
	}
	if override.WriteGateTokenPath != "" {
		c.WriteGateTokenPath = override.WriteGateTokenPath
	}
	if override.GatewayURLs != nil {
		c.GatewayURLs = override.GatewayURLs
	}
	if override.DataDir != "" {
		c.DataDir = override.DataDir
	}
	if override.ScanInterval != 0 {
		c.ScanInterval = override.ScanInterval
	}
	if override.MetricsAddr != "" {
		c.MetricsAddr = override.MetricsAddr
	}
	if override.MetricsEnabled {
		c.MetricsEnabled = true
	}
	if override.EncryptState {
		c.EncryptState = true
	}
	if override.LogLevel != "" {
		c.LogLevel = override.LogLevel
	}
	return c
}

func merge(dst *Config, src fileConfig) {
	if src.Ledger.RPCURLs != nil {
		dst.LedgerRPCURLs = src.Ledger.RPCURLs
	}
	if src.Ledger.NetworkID != 0 {
		dst.NetworkID = src.Ledger.NetworkID
	}
	if src.Ledger.RequestsPerSecond != 0 {
		dst.RequestsPerSecond = src.Ledger.RequestsPerSecond
	}
	if src.Blob.WriteGateURL != "" {
		dst.WriteGateURL = src.Blob.WriteGateURL
	}
	if src.Blob.WriteGateTokenPath != "" {
		dst.WriteGateTokenPath = src.Blob.WriteGateTokenPath
	}
	if src.Blob.GatewayURLs != nil {
		dst.GatewayURLs = src.Blob.GatewayURLs
	}
	if src.Node.DataDir != "" {
		dst.DataDir = src.Node.DataDir
	}
	if src.Node.ScanInterval != 0 {
		dst.ScanInterval = src.Node.ScanInterval
	}
	if src.Node.MetricsAddr != "" {
		dst.MetricsAddr = src.Node.MetricsAddr
	}
	if src.Node.MetricsEnabled != nil {
		dst.MetricsEnabled = *src.Node.MetricsEnabled
	}
	if src.Node.EncryptState != nil {
		dst.EncryptState = *src.Node.EncryptState
	}
	if src.Node.LogLevel != "" {
		dst.LogLevel = src.Node.LogLevel
	}
}

// ApplyEnvOverrides layers LEDGERMSG_* variables over cfg. Values that
// fail to parse are ignored rather than fatal.
func ApplyEnvOverrides(cfg *Config) {
	if raw := strings.TrimSpace(os.Getenv("LEDGERMSG_RPC_URLS")); raw != "" {
		urls := make([]string, 0, 2)
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				urls = append(urls, part)
			}
		}
		if len(urls) > 0 {
			cfg.LedgerRPCURLs = urls
		}
	}
	if raw := strings.TrimSpace(os.Getenv("LEDGERMSG_NETWORK_ID")); raw != "" {
		if v, err := strconv.ParseUint(raw, 10, 32); err == nil {
			cfg.NetworkID = uint32(v)
		}
	}
	if raw := strings.TrimSpace(os.Getenv("LEDGERMSG_DATA_DIR")); raw != "" {
		cfg.DataDir = raw
	}
	if raw := strings.TrimSpace(os.Getenv("LEDGERMSG_SCAN_INTERVAL")); raw != "" {
		if v, err := time.ParseDuration(raw); err == nil && v > 0 {
			cfg.ScanInterval = v
		}
	}
	if raw := strings.TrimSpace(os.Getenv("LEDGERMSG_METRICS_ADDR")); raw != "" {
		cfg.MetricsAddr = raw
	}
	if raw := strings.TrimSpace(os.Getenv("LEDGERMSG_METRICS_ENABLED")); raw != "" {
		if v, err := strconv.ParseBool(raw); err == nil {
			cfg.MetricsEnabled = v
		}
	}
	if raw := strings.TrimSpace(os.Getenv("LEDGERMSG_LOG_LEVEL")); raw != "" {
		cfg.LogLevel = raw
	}
}

// Validate reports the first configuration problem that would keep the
// node from starting.
func (c Config) Validate() error {
	if len(c.LedgerRPCURLs) == 0 {
		return errors.New("nodeconfig: at least one ledger rpc url is required")
	}
	for _, u := range c.LedgerRPCURLs {
		if strings.TrimSpace(u) == "" {
			return errors.New("nodeconfig: ledger rpc urls must not be blank")
		}
	}
	if c.ScanInterval <= 0 {
		return errors.New("nodeconfig: scan interval must be positive")
	}
	if c.MetricsEnabled && strings.TrimSpace(c.MetricsAddr) == "" {
		return errors.New("nodeconfig: metrics address is required when metrics are enabled")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("nodeconfig: unknown log level %q", c.LogLevel)
	}
	return nil
}

// SlogLevel maps the configured level name onto its slog value,
// falling back to info for anything Validate would reject.
func (c Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
