package scenario

import (
	"fmt"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/google/uuid"

	"github.com/botcore/regtest/config"
	"github.com/botcore/regtest/internal/chain"
	"github.com/botcore/regtest/internal/correlate"
	"github.com/botcore/regtest/internal/indexer"
	"github.com/botcore/regtest/internal/supervisor"
	"github.com/botcore/regtest/internal/transport"
	"github.com/botcore/regtest/libs/log"
)

// Env carries everything a run's phases and cases share. It is created per
// run and owned by the goroutine executing it.
type Env struct {
	Config  *config.Config
	Logger  log.Logger
	Metrics *Metrics
	RunID   string

	Supervisor *supervisor.Supervisor
	Topology   *supervisor.Topology

	Params     *chaincfg.Params
	Daemon     *transport.RPCClient
	State      *chain.State
	Driver     *chain.Driver
	Indexer    *indexer.Client
	Correlator *correlate.Correlator

	// Set by the wallet and funding phases.
	Wallet  *chain.Wallet
	Funding *chain.Funding

	// Transactions submitted so far, in order.
	Pending []*chain.PendingTransaction
}

// NewEnv wires the clients of a run from cfg.
func NewEnv(cfg *config.Config, logger log.Logger, metrics *Metrics) (*Env, error) {
	if metrics == nil {
		metrics = NopMetrics()
	}
	params, err := ChainParams(cfg.Daemon.Network)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	logger = logger.With("run", runID)

	daemonHTTP, err := transport.NewHTTPClient("http://"+cfg.Daemon.RPCAddress(),
		transport.WithBasicAuth(cfg.Daemon.RPCUser, cfg.Daemon.RPCPassword),
		transport.WithTimeout(cfg.Poll.RequestTimeout))
	if err != nil {
		return nil, fmt.Errorf("daemon client: %w", err)
	}
	daemon := transport.NewRPCClient(daemonHTTP)

	ix, err := indexer.NewClient(cfg.Indexer.BaseURL(), cfg.Indexer.RoutePrefix,
		transport.WithTimeout(cfg.Poll.RequestTimeout))
	if err != nil {
		return nil, fmt.Errorf("indexer client: %w", err)
	}

	state := chain.NewState()
	subscribe := correlate.Subscriber(cfg.Indexer.WebsocketURL(), transport.SubscribeOptions{
		QueueSize:        cfg.Correlation.QueueSize,
		HandshakeTimeout: cfg.Correlation.HandshakeTimeout,
		Logger:           logger.With("module", "subscription"),
	})

	return &Env{
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics,
		RunID:   runID,
		Supervisor: supervisor.New(logger.With("module", "supervisor"), supervisor.Options{
			StartupGrace:  cfg.Supervisor.StartupGrace,
			DrainInterval: cfg.Supervisor.DrainInterval,
			KillWait:      cfg.Supervisor.KillWait,
			StreamOutput:  cfg.Supervisor.StreamOutput,
		}),
		Params: params,
		Daemon: daemon,
		State:  state,
		Driver: chain.NewDriver(daemon, state, chain.DriverOptions{
			Params: params,
			Logger: logger.With("module", "chain"),
		}),
		Indexer: ix,
		Correlator: correlate.New(subscribe, correlate.Options{
			Timeout: cfg.Correlation.Timeout,
			Settle:  cfg.Correlation.SubscribeSettle,
			Logger:  logger.With("module", "correlate"),
		}),
	}, nil
}

// ChainParams returns the network parameters for a daemon network flag.
func ChainParams(network string) (*chaincfg.Params, error) {
	switch network {
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	case "testnet":
		return &chaincfg.TestNet3Params, nil
	case "simnet":
		return &chaincfg.SimNetParams, nil
	default:
		return nil, fmt.Errorf("unknown network %q", network)
	}
}
