package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"packchain/native/mysterypack"
)

const (
	EnvRPCAddress = "PACKCHAIN_RPC_ADDRESS"
	EnvLogLevel   = "PACKCHAIN_LOG_LEVEL"
)

type Config struct {
	GenesisFile string    `toml:"GenesisFile"`
	RPC         RPC       `toml:"rpc"`
	Storage     Storage   `toml:"storage"`
	Logging     Logging   `toml:"logging"`
	Telemetry   Telemetry `toml:"telemetry"`
	Indexer     Indexer   `toml:"indexer"`
	Vault       Vault     `toml:"vault"`
}

// Default returns the configuration written for a fresh node.
func Default() *Config {
	return &Config{
		RPC: RPC{
			Address:          "127.0.0.1:8545",
			AuthTokenEnv:     "PACKCHAIN_RPC_TOKEN",
			ReadTimeoutSecs:  15,
			WriteTimeoutSecs: 15,
			TxPerMinute:      60,
			TxBurst:          10,
		},
		Storage: Storage{DataDir: "./packchain-data/ledger"},
		Logging: Logging{Level: "info", Env: "local", MaxSizeMB: 100, MaxBackups: 5, MaxAgeDays: 28},
		Telemetry: Telemetry{
			SampleRatio: 1,
		},
		Indexer: Indexer{Enabled: true, Driver: "sqlite", DSN: "./packchain-data/index.db"},
		Vault:   Vault{Reserve: mysterypack.DefaultReserve},
	}
}

// Load loads the configuration from the given path, writing the defaults
// there first when the file does not exist. Environment overrides are
// applied last.
func Load(path string) (*Config, error) {
	var cfg *Config
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg, err = createDefault(path)
		if err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	} else {
		cfg = Default()
		meta, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("decode config %s: %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("config file %s has unknown key %q", path, undecoded[0].String())
		}
	}

	applyEnv(cfg)
	if cfg.GenesisFile != "" && !filepath.IsAbs(cfg.GenesisFile) {
		cfg.GenesisFile = filepath.Join(filepath.Dir(path), cfg.GenesisFile)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if addr := strings.TrimSpace(os.Getenv(EnvRPCAddress)); addr != "" {
		cfg.RPC.Address = addr
	}
	if level := strings.TrimSpace(os.Getenv(EnvLogLevel)); level != "" {
		cfg.Logging.Level = level
	}
}

// AuthToken resolves the RPC bearer token from the configured environment
// variable.
func (c *Config) AuthToken() string {
	if c.RPC.AuthTokenEnv == "" {
		return ""
	}
	return strings.TrimSpace(os.Getenv(c.RPC.AuthTokenEnv))
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
