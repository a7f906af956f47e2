package config

import (
	"bytes"
	"os"
	"text/template"

	rtos "github.com/botcore/regtest/libs/os"
)

// defaultDirPerm is the default permissions used when creating directories.
const defaultDirPerm = 0700

var configTemplate *template.Template

func init() {
	var err error
	tmpl := template.New("configFileTemplate")
	if configTemplate, err = tmpl.Parse(defaultConfigTemplate); err != nil {
		panic(err)
	}
}

// EnsureRoot creates the root directory and writes a default config.toml
// into it if none exists.
func EnsureRoot(rootDir string) error {
	if err := rtos.EnsureDir(rootDir, defaultDirPerm); err != nil {
		return err
	}
	return writeDefaultConfigFileIfNone(rootDir)
}

// WriteConfigFile renders config using the template and writes it to
// config.toml under rootDir.
func WriteConfigFile(rootDir string, config *Config) error {
	return config.SetRoot(rootDir).WriteToTemplate(config.ConfigFile())
}

// WriteToTemplate writes the config to the exact file specified by
// the path, in the default toml template and does not mangle the path
// or filename at all.
func (cfg *Config) WriteToTemplate(path string) error {
	bz, err := cfg.Render()
	if err != nil {
		return err
	}
	return os.WriteFile(path, bz, 0644)
}

// Render returns the config rendered with the default toml template.
func (cfg *Config) Render() ([]byte, error) {
	var buffer bytes.Buffer
	if err := configTemplate.Execute(&buffer, cfg); err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}

func writeDefaultConfigFileIfNone(rootDir string) error {
	cfg := DefaultConfig().SetRoot(rootDir)
	if !rtos.FileExists(cfg.ConfigFile()) {
		return WriteConfigFile(rootDir, cfg)
	}
	return nil
}

// Note: any changes to the comments/variables/mapstructure
// must be reflected in the appropriate struct in config/config.go
const defaultConfigTemplate = `# This is a TOML config file.
# For more information, see https://github.com/toml-lang/toml

#######################################################################
###                   Main Base Config Options                      ###
#######################################################################

# Output level for logging, including package level options
log-level = "{{ .BaseConfig.LogLevel }}"

# Output format: 'plain' (colored text), 'text' or 'json'
log-format = "{{ .BaseConfig.LogFormat }}"

#######################################################################
###                 Advanced Configuration Options                  ###
#######################################################################

#######################################################
###             Full-Node Daemon Options            ###
#######################################################
[daemon]

# Daemon executable, looked up on PATH when not absolute
exec = "{{ .Daemon.Exec }}"

# Data directory of the primary peer. Peer i > 0 uses this path with i appended.
# The directory is wiped at the start of every run.
data-dir = "{{ .Daemon.DataDir }}"

# Number of peers to launch. Only the primary accepts inbound connections.
peers = {{ .Daemon.Peers }}

# Network mode, passed to the daemon as -<network>=1
network = "{{ .Daemon.Network }}"

rpc-host = "{{ .Daemon.RPCHost }}"

# Peer i listens for RPC on rpc-port + i
rpc-port = {{ .Daemon.RPCPort }}
rpc-user = "{{ .Daemon.RPCUser }}"
rpc-password = "{{ .Daemon.RPCPassword }}"

# P2P port of the primary; the indexer connects here
p2p-port = {{ .Daemon.P2PPort }}

# Address secondary peers connect to
connect-address = "{{ .Daemon.ConnectAddress }}"

# Additional -key=value flags passed to every peer
[daemon.extra-args]
{{- range $k, $v := .Daemon.ExtraArgs }}
{{ printf "%q" $k }} = {{ printf "%q" $v }}
{{- end }}

#######################################################
###                Indexer Options                  ###
#######################################################
[indexer]

exec = "{{ .Indexer.Exec }}"
args = [{{ range $i, $a := .Indexer.Args }}{{ if $i }}, {{ end }}{{ printf "%q" $a }}{{ end }}]

# Working directory of the indexer. Wiped at the start of every run.
data-dir = "{{ .Indexer.DataDir }}"

# Node configuration written into data-dir before launch
config-file = "{{ .Indexer.ConfigFile }}"

host = "{{ .Indexer.Host }}"
port = {{ .Indexer.Port }}

# Prefix of the query API routes
route-prefix = "{{ .Indexer.RoutePrefix }}"

services = [{{ range $i, $s := .Indexer.Services }}{{ if $i }}, {{ end }}{{ printf "%q" $s }}{{ end }}]

read-ahead-block-count = {{ .Indexer.ReadAheadBlockCount }}

# Path of the push notification endpoint
socket-path = "{{ .Indexer.SocketPath }}"

#######################################################
###              Supervisor Options                 ###
#######################################################
[supervisor]

# A process exiting within this window after launch fails the run
startup-grace = "{{ .Supervisor.StartupGrace }}"

# Time processes are given to exit after SIGTERM
drain-interval = "{{ .Supervisor.DrainInterval }}"

# Time allowed to reap processes after SIGKILL
kill-wait = "{{ .Supervisor.KillWait }}"

# Copy process stdout and stderr into the log
stream-output = {{ .Supervisor.StreamOutput }}

#######################################################
###                 Polling Options                 ###
#######################################################
[poll]

daemon-ready-interval = "{{ .Poll.DaemonReadyInterval }}"
daemon-ready-attempts = {{ .Poll.DaemonReadyAttempts }}

# Pause after the daemon first answers
daemon-settle = "{{ .Poll.DaemonSettle }}"

indexer-sync-interval = "{{ .Poll.IndexerSyncInterval }}"
indexer-sync-attempts = {{ .Poll.IndexerSyncAttempts }}

# Timeout of a single request/response round trip
request-timeout = "{{ .Poll.RequestTimeout }}"

#######################################################
###               Transaction Policy                ###
#######################################################
[chain]

# Flat fee in satoshis
fee = {{ .Chain.Fee }}

# Satoshis paid to the first local key by the funding transaction
fund-amount = {{ .Chain.FundAmount }}

# Satoshis paid to the second local key by the spend transaction
spend-amount = {{ .Chain.SpendAmount }}

# Seed and number of deterministic local keys
key-seed = "{{ .Chain.KeySeed }}"
key-count = {{ .Chain.KeyCount }}

#######################################################
###              Correlation Options                ###
#######################################################
[correlation]

# Time allowed between subscribing and receiving the notification
timeout = "{{ .Correlation.Timeout }}"

# Capacity of the notification queue
queue-size = {{ .Correlation.QueueSize }}

handshake-timeout = "{{ .Correlation.HandshakeTimeout }}"

# Pause between subscribing and triggering the notification
subscribe-settle = "{{ .Correlation.SubscribeSettle }}"

#######################################################
###       Instrumentation Configuration Options     ###
#######################################################
[instrumentation]

# When true, Prometheus metrics are served under /metrics on
# prometheus-listen-addr.
prometheus = {{ .Instrumentation.Prometheus }}

# Address to listen for Prometheus collector(s) connections
prometheus-listen-addr = "{{ .Instrumentation.PrometheusListenAddr }}"

# Instrumentation namespace
namespace = "{{ .Instrumentation.Namespace }}"
`
