package config

// RPC configures the JSON-RPC listener.
type RPC struct {
	Address           string  `toml:"Address"`
	AuthTokenEnv      string  `toml:"AuthTokenEnv"`
	TrustProxyHeaders bool    `toml:"TrustProxyHeaders"`
	ReadTimeoutSecs   int     `toml:"ReadTimeoutSecs"`
	WriteTimeoutSecs  int     `toml:"WriteTimeoutSecs"`
	TxPerMinute       float64 `toml:"TxPerMinute"`
	TxBurst           int     `toml:"TxBurst"`
}

// Storage selects where ledger state lives. An empty DataDir keeps state in
// memory.
type Storage struct {
	DataDir string `toml:"DataDir"`
}

type Logging struct {
	Level      string `toml:"Level"`
	Env        string `toml:"Env"`
	File       string `toml:"File"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
}

// Telemetry configures the OTLP exporters.
type Telemetry struct {
	Endpoint    string  `toml:"Endpoint"`
	Insecure    bool    `toml:"Insecure"`
	Headers     string  `toml:"Headers"`
	Metrics     bool    `toml:"Metrics"`
	Traces      bool    `toml:"Traces"`
	SampleRatio float64 `toml:"SampleRatio"`
}

// Indexer configures the SQL projection of pack events.
type Indexer struct {
	Enabled bool   `toml:"Enabled"`
	Driver  string `toml:"Driver"`
	DSN     string `toml:"DSN"`
}

// Vault holds the custody policy shared by every campaign.
type Vault struct {
	Reserve uint64 `toml:"Reserve"`
}
