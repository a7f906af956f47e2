package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"path/filepath"
	"strconv"
	"time"
)

const (
	// LogFormatPlain is a format for colored text
	LogFormatPlain = "plain"
	// LogFormatJSON is a format for json output
	LogFormatJSON = "json"

	// DefaultLogLevel defines a default log level as INFO.
	DefaultLogLevel = "info"
)

// NOTE: Most of the structs & relevant comments + the
// default configuration options were used to manually
// generate the config.toml. Please reflect any changes
// made here in the defaultConfigTemplate constant in
// config/toml.go
var (
	DefaultRegtestDir = ".regtest"

	defaultConfigFileName = "config.toml"
	defaultIndexerConfig  = "botcore-node.json"
)

// Config defines the top level configuration for a regression run.
type Config struct {
	// Top level options use an anonymous struct
	BaseConfig `mapstructure:",squash"`

	Daemon          *DaemonConfig          `mapstructure:"daemon"`
	Indexer         *IndexerConfig         `mapstructure:"indexer"`
	Supervisor      *SupervisorConfig      `mapstructure:"supervisor"`
	Poll            *PollConfig            `mapstructure:"poll"`
	Chain           *ChainConfig           `mapstructure:"chain"`
	Correlation     *CorrelationConfig     `mapstructure:"correlation"`
	Instrumentation *InstrumentationConfig `mapstructure:"instrumentation"`
}

// DefaultConfig returns the configuration matching a local botcoind/botcored
// installation on the PATH.
func DefaultConfig() *Config {
	return &Config{
		BaseConfig:      DefaultBaseConfig(),
		Daemon:          DefaultDaemonConfig(),
		Indexer:         DefaultIndexerConfig(),
		Supervisor:      DefaultSupervisorConfig(),
		Poll:            DefaultPollConfig(),
		Chain:           DefaultChainConfig(),
		Correlation:     DefaultCorrelationConfig(),
		Instrumentation: DefaultInstrumentationConfig(),
	}
}

// TestConfig returns a configuration with short timings, for unit tests.
func TestConfig() *Config {
	return &Config{
		BaseConfig:      DefaultBaseConfig(),
		Daemon:          DefaultDaemonConfig(),
		Indexer:         DefaultIndexerConfig(),
		Supervisor:      TestSupervisorConfig(),
		Poll:            TestPollConfig(),
		Chain:           DefaultChainConfig(),
		Correlation:     TestCorrelationConfig(),
		Instrumentation: DefaultInstrumentationConfig(),
	}
}

// SetRoot sets the RootDir for all Config structs
func (cfg *Config) SetRoot(root string) *Config {
	cfg.BaseConfig.RootDir = root
	return cfg
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *Config) ValidateBasic() error {
	if err := cfg.BaseConfig.ValidateBasic(); err != nil {
		return err
	}
	if err := cfg.Daemon.ValidateBasic(); err != nil {
		return fmt.Errorf("error in [daemon] section: %w", err)
	}
	if err := cfg.Indexer.ValidateBasic(); err != nil {
		return fmt.Errorf("error in [indexer] section: %w", err)
	}
	if err := cfg.Supervisor.ValidateBasic(); err != nil {
		return fmt.Errorf("error in [supervisor] section: %w", err)
	}
	if err := cfg.Poll.ValidateBasic(); err != nil {
		return fmt.Errorf("error in [poll] section: %w", err)
	}
	if err := cfg.Chain.ValidateBasic(); err != nil {
		return fmt.Errorf("error in [chain] section: %w", err)
	}
	if err := cfg.Correlation.ValidateBasic(); err != nil {
		return fmt.Errorf("error in [correlation] section: %w", err)
	}
	if err := cfg.Instrumentation.ValidateBasic(); err != nil {
		return fmt.Errorf("error in [instrumentation] section: %w", err)
	}
	return nil
}

//-----------------------------------------------------------------------------
// BaseConfig

// BaseConfig defines the base configuration for the runner itself.
type BaseConfig struct {
	// The root directory holding config.toml.
	// This should be set in viper so it can unmarshal into this struct
	RootDir string `mapstructure:"home"`

	// Output level for logging
	LogLevel string `mapstructure:"log-level"`

	// Output format: 'plain' (colored text) or 'json'
	LogFormat string `mapstructure:"log-format"`
}

// DefaultBaseConfig returns a default base configuration.
func DefaultBaseConfig() BaseConfig {
	return BaseConfig{
		LogLevel:  DefaultLogLevel,
		LogFormat: LogFormatPlain,
	}
}

// ConfigFile returns the full path to config.toml.
func (cfg BaseConfig) ConfigFile() string {
	return filepath.Join(cfg.RootDir, defaultConfigFileName)
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg BaseConfig) ValidateBasic() error {
	switch cfg.LogFormat {
	case LogFormatJSON, LogFormatPlain, "text":
	default:
		return errors.New("unknown log format (must be 'plain', 'text' or 'json')")
	}
	return nil
}

//-----------------------------------------------------------------------------
// DaemonConfig

// DaemonConfig describes how the full-node daemons are launched and reached.
type DaemonConfig struct {
	// Executable, resolved against PATH when not absolute.
	Exec string `mapstructure:"exec"`

	// Data directory of the primary peer. Secondary peer i uses DataDir + i.
	DataDir string `mapstructure:"data-dir"`

	// Number of peers in the topology. Peer 0 is the only listener.
	Peers int `mapstructure:"peers"`

	// Network mode flag passed as -<network>=1
	Network string `mapstructure:"network"`

	RPCHost     string `mapstructure:"rpc-host"`
	RPCPort     int    `mapstructure:"rpc-port"`
	RPCUser     string `mapstructure:"rpc-user"`
	RPCPassword string `mapstructure:"rpc-password"`

	// P2P port the primary listens on; the indexer peers with it.
	P2PPort int `mapstructure:"p2p-port"`

	// Address secondary peers connect out to.
	ConnectAddress string `mapstructure:"connect-address"`

	// Additional -key=value flags for every peer.
	ExtraArgs map[string]string `mapstructure:"extra-args"`
}

// DefaultDaemonConfig returns a default configuration for the daemons.
func DefaultDaemonConfig() *DaemonConfig {
	return &DaemonConfig{
		Exec:           "botcoind",
		DataDir:        "/tmp/botcoin",
		Peers:          1,
		Network:        "regtest",
		RPCHost:        "127.0.0.1",
		RPCPort:        58332,
		RPCUser:        "local",
		RPCPassword:    "localtest",
		P2PPort:        18444,
		ConnectAddress: "127.0.0.1",
		ExtraArgs:      map[string]string{},
	}
}

// BaseArgs returns the flag map of the primary peer.
func (cfg *DaemonConfig) BaseArgs() map[string]string {
	args := map[string]string{
		"datadir":     cfg.DataDir,
		"listen":      "1",
		cfg.Network:   "1",
		"server":      "1",
		"rpcuser":     cfg.RPCUser,
		"rpcpassword": cfg.RPCPassword,
		"rpcport":     strconv.Itoa(cfg.RPCPort),
	}
	for k, v := range cfg.ExtraArgs {
		args[k] = v
	}
	return args
}

// RPCAddress returns the host:port of peer 0's RPC endpoint.
func (cfg *DaemonConfig) RPCAddress() string {
	return net.JoinHostPort(cfg.RPCHost, strconv.Itoa(cfg.RPCPort))
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *DaemonConfig) ValidateBasic() error {
	if cfg.Exec == "" {
		return errors.New("exec can't be empty")
	}
	if cfg.DataDir == "" {
		return errors.New("data-dir can't be empty")
	}
	if cfg.Peers < 1 {
		return errors.New("peers must be at least 1")
	}
	if cfg.Network == "" {
		return errors.New("network can't be empty")
	}
	if err := validatePort("rpc-port", cfg.RPCPort); err != nil {
		return err
	}
	if cfg.RPCPort+cfg.Peers-1 > 65535 {
		return fmt.Errorf("rpc-port %d leaves no room for %d peers", cfg.RPCPort, cfg.Peers)
	}
	if err := validatePort("p2p-port", cfg.P2PPort); err != nil {
		return err
	}
	if cfg.RPCUser == "" || cfg.RPCPassword == "" {
		return errors.New("rpc-user and rpc-password are required")
	}
	return nil
}

//-----------------------------------------------------------------------------
// IndexerConfig

// IndexerConfig describes the indexer service under test.
type IndexerConfig struct {
	Exec    string   `mapstructure:"exec"`
	Args    []string `mapstructure:"args"`
	DataDir string   `mapstructure:"data-dir"`

	// Name of the node configuration file written into DataDir.
	ConfigFile string `mapstructure:"config-file"`

	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	RoutePrefix string `mapstructure:"route-prefix"`

	Services            []string `mapstructure:"services"`
	ReadAheadBlockCount int      `mapstructure:"read-ahead-block-count"`

	// Socket.IO path of the push surface.
	SocketPath string `mapstructure:"socket-path"`
}

// DefaultIndexerConfig returns a default configuration for the indexer.
func DefaultIndexerConfig() *IndexerConfig {
	return &IndexerConfig{
		Exec:        "botcored",
		Args:        []string{"start"},
		DataDir:     "/tmp/botcore",
		ConfigFile:  defaultIndexerConfig,
		Host:        "localhost",
		Port:        53001,
		RoutePrefix: "api",
		Services: []string{
			"p2p",
			"db",
			"header",
			"block",
			"address",
			"transaction",
			"mempool",
			"web",
			"insight-api",
			"fee",
			"timestamp",
		},
		ReadAheadBlockCount: 1,
		SocketPath:          "/socket.io/",
	}
}

// ConfigFilePath returns the path of the indexer's node configuration.
func (cfg *IndexerConfig) ConfigFilePath() string {
	return rootify(cfg.ConfigFile, cfg.DataDir)
}

// BaseURL returns the root URL of the query surface.
func (cfg *IndexerConfig) BaseURL() string {
	u := url.URL{
		Scheme: "http",
		Host:   net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
	}
	return u.String()
}

// WebsocketURL returns the URL of the push surface.
func (cfg *IndexerConfig) WebsocketURL() string {
	u := url.URL{
		Scheme:   "ws",
		Host:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Path:     cfg.SocketPath,
		RawQuery: "EIO=3&transport=websocket",
	}
	return u.String()
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *IndexerConfig) ValidateBasic() error {
	if cfg.Exec == "" {
		return errors.New("exec can't be empty")
	}
	if cfg.DataDir == "" {
		return errors.New("data-dir can't be empty")
	}
	if cfg.ConfigFile == "" {
		return errors.New("config-file can't be empty")
	}
	if err := validatePort("port", cfg.Port); err != nil {
		return err
	}
	if cfg.ReadAheadBlockCount < 0 {
		return errors.New("read-ahead-block-count can't be negative")
	}
	return nil
}

//-----------------------------------------------------------------------------
// SupervisorConfig

// SupervisorConfig controls process startup and shutdown timing.
type SupervisorConfig struct {
	// A process exiting within this window after start is a startup failure.
	StartupGrace time.Duration `mapstructure:"startup-grace"`

	// Time every process is given to shut down after SIGTERM.
	DrainInterval time.Duration `mapstructure:"drain-interval"`

	// Time allowed for reaping processes after SIGKILL.
	KillWait time.Duration `mapstructure:"kill-wait"`

	// Stream process stdout/stderr into the log.
	StreamOutput bool `mapstructure:"stream-output"`
}

// DefaultSupervisorConfig returns a default configuration for the supervisor.
func DefaultSupervisorConfig() *SupervisorConfig {
	return &SupervisorConfig{
		StartupGrace:  500 * time.Millisecond,
		DrainInterval: 3 * time.Second,
		KillWait:      5 * time.Second,
		StreamOutput:  true,
	}
}

// TestSupervisorConfig returns a configuration for testing the supervisor.
func TestSupervisorConfig() *SupervisorConfig {
	return &SupervisorConfig{
		StartupGrace:  100 * time.Millisecond,
		DrainInterval: 50 * time.Millisecond,
		KillWait:      2 * time.Second,
		StreamOutput:  true,
	}
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *SupervisorConfig) ValidateBasic() error {
	if cfg.StartupGrace < 0 {
		return errors.New("startup-grace can't be negative")
	}
	if cfg.DrainInterval < 0 {
		return errors.New("drain-interval can't be negative")
	}
	if cfg.KillWait <= 0 {
		return errors.New("kill-wait must be positive")
	}
	return nil
}

//-----------------------------------------------------------------------------
// PollConfig

// PollConfig holds the retry budgets of the convergence probes.
type PollConfig struct {
	DaemonReadyInterval time.Duration `mapstructure:"daemon-ready-interval"`
	DaemonReadyAttempts int           `mapstructure:"daemon-ready-attempts"`

	// Pause after the daemon first answers, before driving it.
	DaemonSettle time.Duration `mapstructure:"daemon-settle"`

	IndexerSyncInterval time.Duration `mapstructure:"indexer-sync-interval"`
	IndexerSyncAttempts int           `mapstructure:"indexer-sync-attempts"`

	// Per-request timeout for every request/response round trip.
	RequestTimeout time.Duration `mapstructure:"request-timeout"`
}

// DefaultPollConfig returns a default configuration for the probes.
func DefaultPollConfig() *PollConfig {
	return &PollConfig{
		DaemonReadyInterval: time.Second,
		DaemonReadyAttempts: 1000,
		DaemonSettle:        2 * time.Second,
		IndexerSyncInterval: time.Second,
		IndexerSyncAttempts: 100,
		RequestTimeout:      30 * time.Second,
	}
}

// TestPollConfig returns a configuration for testing the probes.
func TestPollConfig() *PollConfig {
	return &PollConfig{
		DaemonReadyInterval: 10 * time.Millisecond,
		DaemonReadyAttempts: 50,
		DaemonSettle:        0,
		IndexerSyncInterval: 10 * time.Millisecond,
		IndexerSyncAttempts: 50,
		RequestTimeout:      5 * time.Second,
	}
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *PollConfig) ValidateBasic() error {
	if cfg.DaemonReadyInterval < 0 || cfg.IndexerSyncInterval < 0 {
		return errors.New("intervals can't be negative")
	}
	if cfg.DaemonReadyAttempts < 1 || cfg.IndexerSyncAttempts < 1 {
		return errors.New("attempts must be at least 1")
	}
	if cfg.DaemonSettle < 0 {
		return errors.New("daemon-settle can't be negative")
	}
	if cfg.RequestTimeout <= 0 {
		return errors.New("request-timeout must be positive")
	}
	return nil
}

//-----------------------------------------------------------------------------
// ChainConfig

// ChainConfig fixes the transaction policy so expected values are predictable.
type ChainConfig struct {
	// Flat fee in satoshis for every transaction the driver builds.
	Fee int64 `mapstructure:"fee"`

	// Amount paid to the first local key by the funding transaction.
	FundAmount int64 `mapstructure:"fund-amount"`

	// Amount paid to the second local key by the spend transaction.
	SpendAmount int64 `mapstructure:"spend-amount"`

	// Seed for the deterministic local keys.
	KeySeed  string `mapstructure:"key-seed"`
	KeyCount int    `mapstructure:"key-count"`
}

// DefaultChainConfig returns a default transaction policy.
func DefaultChainConfig() *ChainConfig {
	return &ChainConfig{
		Fee:         50000,
		FundAmount:  20 * 1e8,
		SpendAmount: 1e8,
		KeySeed:     "regtest",
		KeyCount:    20,
	}
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *ChainConfig) ValidateBasic() error {
	if cfg.Fee < 0 {
		return errors.New("fee can't be negative")
	}
	if cfg.FundAmount <= 0 || cfg.SpendAmount <= 0 {
		return errors.New("amounts must be positive")
	}
	if cfg.SpendAmount+cfg.Fee > cfg.FundAmount {
		return errors.New("spend-amount plus fee exceeds fund-amount")
	}
	if cfg.KeyCount < 2 {
		return errors.New("key-count must be at least 2")
	}
	return nil
}

//-----------------------------------------------------------------------------
// CorrelationConfig

// CorrelationConfig bounds the push/query correlation window.
type CorrelationConfig struct {
	// Overall time allowed between subscribing and receiving the push.
	Timeout time.Duration `mapstructure:"timeout"`

	// Capacity of the subscription's event queue.
	QueueSize int `mapstructure:"queue-size"`

	HandshakeTimeout time.Duration `mapstructure:"handshake-timeout"`

	// Pause between subscribing and running the trigger, so the server has
	// joined the subscription before the first notification is produced.
	SubscribeSettle time.Duration `mapstructure:"subscribe-settle"`
}

// DefaultCorrelationConfig returns a default correlation configuration.
func DefaultCorrelationConfig() *CorrelationConfig {
	return &CorrelationConfig{
		Timeout:          60 * time.Second,
		QueueSize:        16,
		HandshakeTimeout: 10 * time.Second,
		SubscribeSettle:  500 * time.Millisecond,
	}
}

// TestCorrelationConfig returns a correlation configuration for tests.
func TestCorrelationConfig() *CorrelationConfig {
	return &CorrelationConfig{
		Timeout:          2 * time.Second,
		QueueSize:        4,
		HandshakeTimeout: time.Second,
		SubscribeSettle:  50 * time.Millisecond,
	}
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *CorrelationConfig) ValidateBasic() error {
	if cfg.Timeout <= 0 {
		return errors.New("timeout must be positive")
	}
	if cfg.QueueSize < 1 {
		return errors.New("queue-size must be at least 1")
	}
	if cfg.HandshakeTimeout <= 0 {
		return errors.New("handshake-timeout must be positive")
	}
	if cfg.SubscribeSettle < 0 {
		return errors.New("subscribe-settle can't be negative")
	}
	return nil
}

//-----------------------------------------------------------------------------
// InstrumentationConfig

// InstrumentationConfig defines the configuration for metrics reporting.
type InstrumentationConfig struct {
	// When true, Prometheus metrics are served under /metrics on
	// PrometheusListenAddr.
	Prometheus bool `mapstructure:"prometheus"`

	// Address to listen for Prometheus collector(s) connections.
	PrometheusListenAddr string `mapstructure:"prometheus-listen-addr"`

	// Instrumentation namespace.
	Namespace string `mapstructure:"namespace"`
}

// DefaultInstrumentationConfig returns a default configuration for metrics
// reporting.
func DefaultInstrumentationConfig() *InstrumentationConfig {
	return &InstrumentationConfig{
		Prometheus:           false,
		PrometheusListenAddr: ":26660",
		Namespace:            "regtest",
	}
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *InstrumentationConfig) ValidateBasic() error {
	if cfg.Prometheus && cfg.PrometheusListenAddr == "" {
		return errors.New("prometheus-listen-addr can't be empty when prometheus is enabled")
	}
	return nil
}

//-----------------------------------------------------------------------------
// Utils

// helper function to make config creation independent of root dir
func rootify(path, root string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root, path)
}

func validatePort(name string, port int) error {
	if port <= 0 || port > 65535 {
		return fmt.Errorf("%s %d out of range", name, port)
	}
	return nil
}
