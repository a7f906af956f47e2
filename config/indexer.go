package config

import (
	"encoding/json"
	"fmt"

	"github.com/creachadair/atomicfile"
)

// IndexerNodeConfig is the node configuration file the indexer reads from
// its working directory at startup.
type IndexerNodeConfig struct {
	Network        string         `json:"network"`
	Port           int            `json:"port"`
	DataDir        string         `json:"datadir"`
	Services       []string       `json:"services"`
	ServicesConfig ServicesConfig `json:"servicesConfig"`
}

// ServicesConfig holds per-service settings of the indexer.
type ServicesConfig struct {
	P2P        P2PServiceConfig        `json:"p2p"`
	InsightAPI InsightAPIServiceConfig `json:"insight-api"`
	Block      BlockServiceConfig      `json:"block"`
}

type P2PServiceConfig struct {
	Peers []PeerAddress `json:"peers"`
}

type PeerAddress struct {
	IP   PeerIP `json:"ip"`
	Port int    `json:"port"`
}

type PeerIP struct {
	V4 string `json:"v4"`
}

type InsightAPIServiceConfig struct {
	RoutePrefix string `json:"routePrefix"`
}

type BlockServiceConfig struct {
	ReadAheadBlockCount int `json:"readAheadBlockCount"`
}

// NodeConfig builds the indexer's node configuration. The indexer peers with
// the primary daemon only.
func (cfg *Config) NodeConfig() IndexerNodeConfig {
	services := make([]string, len(cfg.Indexer.Services))
	copy(services, cfg.Indexer.Services)

	return IndexerNodeConfig{
		Network:  cfg.Daemon.Network,
		Port:     cfg.Indexer.Port,
		DataDir:  cfg.Indexer.DataDir,
		Services: services,
		ServicesConfig: ServicesConfig{
			P2P: P2PServiceConfig{
				Peers: []PeerAddress{{
					IP:   PeerIP{V4: cfg.Daemon.ConnectAddress},
					Port: cfg.Daemon.P2PPort,
				}},
			},
			InsightAPI: InsightAPIServiceConfig{RoutePrefix: cfg.Indexer.RoutePrefix},
			Block:      BlockServiceConfig{ReadAheadBlockCount: cfg.Indexer.ReadAheadBlockCount},
		},
	}
}

// WriteIndexerConfig writes the indexer's node configuration into its data
// directory. The file is replaced atomically so a crashed run never leaves
// a truncated config behind.
func (cfg *Config) WriteIndexerConfig() error {
	bz, err := json.MarshalIndent(cfg.NodeConfig(), "", "  ")
	if err != nil {
		return fmt.Errorf("encoding indexer config: %w", err)
	}

	f, err := atomicfile.New(cfg.Indexer.ConfigFilePath(), 0644)
	if err != nil {
		return err
	}
	defer f.Cancel()

	if _, err := f.Write(append(bz, '\n')); err != nil {
		return err
	}
	return f.Close()
}
