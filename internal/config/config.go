package config

import (
	"errors"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"substratescope/internal/endpoints"
)

type Config struct {
	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
	Chain struct {
		// SS58 network prefix: 0 Polkadot, 2 Kusama, 42 generic/dev.
		SS58Prefix            uint16               `yaml:"ss58_prefix"`
		Endpoints             []endpoints.Endpoint `yaml:"endpoints"`
		ConnectTimeoutSeconds int                  `yaml:"connect_timeout_seconds"`
		ProbeTimeoutSeconds   int                  `yaml:"probe_timeout_seconds"`
	} `yaml:"chain"`
	Scan struct {
		MaxBlocks       int     `yaml:"max_blocks"`
		RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	} `yaml:"scan"`
	Aggregate struct {
		TopAccounts int `yaml:"top_accounts"`
		Validators  int `yaml:"validators"`
	} `yaml:"aggregate"`
	Wallet struct {
		AppName string `yaml:"app_name"`
	} `yaml:"wallet"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = "configs/config.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if cfg.Server.Addr == "" {
		return nil, errors.New("server.addr is required")
	}
	if len(cfg.Chain.Endpoints) == 0 {
		return nil, errors.New("chain.endpoints is required")
	}
	for _, ep := range cfg.Chain.Endpoints {
		if ep.ID == "" || ep.URL == "" {
			return nil, errors.New("every endpoint needs id and url")
		}
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Chain.ConnectTimeoutSeconds <= 0 {
		cfg.Chain.ConnectTimeoutSeconds = 15
	}
	if cfg.Chain.ProbeTimeoutSeconds <= 0 {
		cfg.Chain.ProbeTimeoutSeconds = 5
	}
	if cfg.Scan.MaxBlocks <= 0 {
		cfg.Scan.MaxBlocks = 256
	}
	if cfg.Aggregate.TopAccounts <= 0 {
		cfg.Aggregate.TopAccounts = 25
	}
	if cfg.Aggregate.Validators <= 0 {
		cfg.Aggregate.Validators = 50
	}
	if cfg.Wallet.AppName == "" {
		cfg.Wallet.AppName = "substratescope"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("SS58_PREFIX"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 16); err == nil {
			cfg.Chain.SS58Prefix = uint16(n)
		}
	}
	if v := os.Getenv("RPC_ENDPOINTS"); v != "" {
		cfg.Chain.Endpoints = endpointsFromList(v)
	}
	if v := os.Getenv("CONNECT_TIMEOUT_SECONDS"); v != "" {
		cfg.Chain.ConnectTimeoutSeconds = atoiOr(cfg.Chain.ConnectTimeoutSeconds, v)
	}
	if v := os.Getenv("SCAN_MAX_BLOCKS"); v != "" {
		cfg.Scan.MaxBlocks = atoiOr(cfg.Scan.MaxBlocks, v)
	}
}

// endpointsFromList turns "wss://a,wss://b" into a synthetic catalog;
// identifiers are positional.
func endpointsFromList(v string) []endpoints.Endpoint {
	parts := strings.Split(v, ",")
	out := make([]endpoints.Endpoint, 0, len(parts))
	for i, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, endpoints.Endpoint{
			ID:          "env-" + strconv.Itoa(i),
			DisplayName: p,
			URL:         p,
		})
	}
	return out
}

func atoiOr(fallback int, v string) int {
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}
