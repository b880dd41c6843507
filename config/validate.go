package config

import (
	"fmt"
	"strings"
)

var validDrivers = map[string]struct{}{"sqlite": {}, "postgres": {}}

// Validate reports the first inconsistent setting.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.RPC.Address) == "" {
		return fmt.Errorf("rpc: Address must be set")
	}
	if c.RPC.TxPerMinute < 0 {
		return fmt.Errorf("rpc: TxPerMinute must not be negative")
	}
	if c.RPC.TxBurst < 0 {
		return fmt.Errorf("rpc: TxBurst must not be negative")
	}
	if c.RPC.ReadTimeoutSecs < 0 || c.RPC.WriteTimeoutSecs < 0 {
		return fmt.Errorf("rpc: timeouts must not be negative")
	}
	if c.Telemetry.SampleRatio < 0 || c.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry: SampleRatio must be within [0, 1]")
	}
	if (c.Telemetry.Metrics || c.Telemetry.Traces) && strings.TrimSpace(c.Telemetry.Endpoint) == "" {
		return fmt.Errorf("telemetry: Endpoint required when exporters are enabled")
	}
	if c.Indexer.Enabled {
		if _, ok := validDrivers[strings.ToLower(c.Indexer.Driver)]; !ok {
			return fmt.Errorf("indexer: unsupported driver %q", c.Indexer.Driver)
		}
		if strings.EqualFold(c.Indexer.Driver, "postgres") && strings.TrimSpace(c.Indexer.DSN) == "" {
			return fmt.Errorf("indexer: DSN required for postgres")
		}
	}
	if c.Logging.MaxSizeMB < 0 || c.Logging.MaxBackups < 0 || c.Logging.MaxAgeDays < 0 {
		return fmt.Errorf("logging: rotation limits must not be negative")
	}
	return nil
}
