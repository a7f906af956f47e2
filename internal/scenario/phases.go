package scenario

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcutil"
	"github.com/go-kit/kit/metrics"

	"github.com/botcore/regtest/internal/chain"
	"github.com/botcore/regtest/internal/poll"
	"github.com/botcore/regtest/internal/supervisor"
	"github.com/botcore/regtest/internal/transport"
	rtos "github.com/botcore/regtest/libs/os"
)

// ResetDirs empties the data directory of every peer and of the indexer.
func ResetDirs() Phase {
	return Phase{Name: "reset-dirs", Run: func(_ context.Context, env *Env) error {
		dirs := make([]string, 0, env.Config.Daemon.Peers+1)
		for i := 0; i < env.Config.Daemon.Peers; i++ {
			dirs = append(dirs, supervisor.PeerDataDir(env.Config.Daemon.DataDir, i))
		}
		dirs = append(dirs, env.Config.Indexer.DataDir)
		return rtos.ResetDirs(0o755, dirs...)
	}}
}

// WriteIndexerConfig writes the indexer's node configuration file.
func WriteIndexerConfig() Phase {
	return Phase{Name: "write-indexer-config", Run: func(_ context.Context, env *Env) error {
		return env.Config.WriteIndexerConfig()
	}}
}

// LaunchDaemons starts the peer topology.
func LaunchDaemons() Phase {
	return Phase{Name: "launch-daemons", Run: func(ctx context.Context, env *Env) error {
		cfg := env.Config.Daemon
		topo, err := env.Supervisor.LaunchTopology(ctx, supervisor.PeerSpec{
			Exec:           cfg.Exec,
			Args:           supervisor.Args(cfg.BaseArgs()),
			DataDir:        cfg.DataDir,
			ConnectAddress: cfg.ConnectAddress,
		}, cfg.Peers)
		if err != nil {
			return err
		}
		env.Topology = topo
		env.Metrics.ProcessesLaunched.With("role", string(supervisor.RolePeer)).Add(float64(topo.Len()))
		return nil
	}}
}

// WaitDaemonReady polls the primary peer until it answers RPC, then waits
// the configured settle time.
func WaitDaemonReady() Phase {
	return Phase{Name: "wait-daemon-ready", Run: func(ctx context.Context, env *Env) error {
		cfg := env.Config.Poll
		policy := poll.Policy{Interval: cfg.DaemonReadyInterval, MaxAttempts: cfg.DaemonReadyAttempts}
		probe := func(ctx context.Context) error {
			_, err := env.Driver.BlockCount(ctx)
			return daemonProbeOutcome(err)
		}
		if err := converge(ctx, env, "daemon-ready", policy, env.primary(), probe); err != nil {
			return err
		}
		return sleep(ctx, cfg.DaemonSettle)
	}}
}

// daemonProbeOutcome classifies a readiness call. Connection failures and
// the daemon's warmup error are expected while it starts.
func daemonProbeOutcome(err error) error {
	if err == nil {
		return nil
	}
	if transport.IsTransportError(err) {
		return poll.Transient(err)
	}
	if code, ok := transport.RPCErrorCode(err); ok && code == btcjson.ErrRPCInWarmup {
		return poll.Transient(err)
	}
	return err
}

// AdvanceChain mines the scenario's block count.
func AdvanceChain(n int) Phase {
	return Phase{Name: "advance-chain", Run: func(ctx context.Context, env *Env) error {
		_, err := env.Driver.AdvanceChain(ctx, n)
		return err
	}}
}

// LaunchIndexer starts the indexer in its data directory.
func LaunchIndexer() Phase {
	return Phase{Name: "launch-indexer", Run: func(ctx context.Context, env *Env) error {
		cfg := env.Config.Indexer
		if _, err := env.Supervisor.LaunchDependent(ctx, env.Topology, supervisor.ServiceSpec{
			Name: "indexer",
			Exec: cfg.Exec,
			Args: cfg.Args,
			Dir:  cfg.DataDir,
		}); err != nil {
			return err
		}
		env.Metrics.ProcessesLaunched.With("role", string(supervisor.RoleService)).Add(1)
		return nil
	}}
}

// WaitIndexerSynced polls the indexer status until it counts every block
// the driver produced.
func WaitIndexerSynced() Phase {
	return Phase{Name: "wait-indexer-synced", Run: func(ctx context.Context, env *Env) error {
		cfg := env.Config.Poll
		policy := poll.Policy{Interval: cfg.IndexerSyncInterval, MaxAttempts: cfg.IndexerSyncAttempts}
		var service *supervisor.Handle
		if env.Topology != nil {
			service = env.Topology.Service()
		}
		return converge(ctx, env, "indexer-synced", policy, service,
			env.Indexer.SyncedProbe(env.State.BlockCount()))
	}}
}

// MakeWallet derives the local keys.
func MakeWallet() Phase {
	return Phase{Name: "make-wallet", Run: func(_ context.Context, env *Env) error {
		cfg := env.Config.Chain
		w, err := chain.NewWallet(env.Params, cfg.KeySeed, cfg.KeyCount)
		if err != nil {
			return err
		}
		env.Wallet = w
		return nil
	}}
}

// Fund takes the daemon wallet's oldest spendable output and sends part of
// it to the first local key through the indexer.
func Fund() Phase {
	return Phase{Name: "fund", Run: func(ctx context.Context, env *Env) error {
		if env.Wallet == nil {
			return errors.New("no wallet")
		}
		funding, err := env.Driver.FundingSource(ctx)
		if err != nil {
			return err
		}
		env.Funding = funding

		cfg := env.Config.Chain
		p, err := chain.BuildTransaction(
			[]chain.Spendable{funding.Spendable},
			[]chain.Output{{Address: env.Wallet.Address(0), Amount: btcutil.Amount(cfg.FundAmount)}},
			funding.Address,
			btcutil.Amount(cfg.Fee),
		)
		if err != nil {
			return err
		}
		if _, err := chain.Submit(ctx, env.Indexer, p); err != nil {
			return err
		}
		env.Pending = append(env.Pending, p)
		env.Logger.Info("sent funding transaction", "txid", p.Hash)
		return nil
	}}
}

// primary returns peer 0, if running.
func (env *Env) primary() *supervisor.Handle {
	if env.Topology == nil {
		return nil
	}
	if peers := env.Topology.Peers(); len(peers) > 0 {
		return peers[0]
	}
	return nil
}

// converge retries probe under policy, counting attempts and recording the
// time to success. When h is set, its exit ends the wait at once.
func converge(ctx context.Context, env *Env, name string, policy poll.Policy, h *supervisor.Handle, probe poll.Probe) error {
	attempts := env.Metrics.ProbeAttempts.With("probe", name)
	start := time.Now()
	err := poll.Retry(ctx, policy, func(ctx context.Context) error {
		attempts.Add(1)
		if h != nil && !h.Running() {
			return fmt.Errorf("%s exited while waiting: %w", h.Name, exitReason(h))
		}
		return probe(ctx)
	})
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	observe(env.Metrics.ConvergenceSeconds.With("probe", name), time.Since(start))
	env.Logger.Info("converged", "probe", name, "elapsed", time.Since(start))
	return nil
}

func exitReason(h *supervisor.Handle) error {
	if err := h.ExitErr(); err != nil {
		return err
	}
	return errors.New("exit status 0")
}

func observe(h metrics.Histogram, d time.Duration) {
	h.Observe(d.Seconds())
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
