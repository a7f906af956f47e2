package scenario

import (
	"context"
	"errors"

	"github.com/btcsuite/btcutil"

	"github.com/botcore/regtest/internal/chain"
	"github.com/botcore/regtest/internal/correlate"
)

// Push channels of the indexer.
const (
	ChannelTransaction = "mempool/transaction"
	ChannelBlock       = "block/block"
)

// SubscriptionsScenario funds a local key, then checks that transaction and
// block notifications name objects the query API can immediately serve.
func SubscriptionsScenario() *Scenario {
	// Coinbase outputs mature after 100 confirmations.
	const blocks = 101
	return &Scenario{
		Name:        "subscriptions",
		Description: "push notifications agree with the query API",
		Blocks:      blocks,
		Setup: append(standardSetup(blocks),
			MakeWallet(),
			Fund(),
		),
		Cases: []Case{
			{Name: "mempool-transaction-notification", Run: correlateTransaction},
			{Name: "block-notification", Run: correlateBlock},
		},
	}
}

// correlateTransaction spends the funded output to the second local key and
// expects a mempool notification for it.
func correlateTransaction(ctx context.Context, env *Env) error {
	if env.Wallet == nil || env.Funding == nil || len(env.Pending) == 0 {
		return errors.New("no funded wallet")
	}
	funded := env.Pending[0]
	cfg := env.Config.Chain

	return correlateRun(ctx, env, correlate.Request{
		Channel: ChannelTransaction,
		Trigger: func(ctx context.Context) (string, error) {
			in, err := funded.OutputTo(env.Wallet.Address(0), env.Wallet.Key(0))
			if err != nil {
				return "", err
			}
			p, err := chain.BuildTransaction(
				[]chain.Spendable{in},
				[]chain.Output{{Address: env.Wallet.Address(1), Amount: btcutil.Amount(cfg.SpendAmount)}},
				env.Funding.Address,
				btcutil.Amount(cfg.Fee),
			)
			if err != nil {
				return "", err
			}
			if _, err := chain.Submit(ctx, env.Indexer, p); err != nil {
				return "", err
			}
			env.Pending = append(env.Pending, p)
			return p.Hash, nil
		},
		Confirm: func(ctx context.Context, txid string) (string, error) {
			tx, err := env.Indexer.Tx(ctx, txid)
			if err != nil {
				return "", err
			}
			return tx.TxID, nil
		},
	})
}

// correlateBlock mines one block and expects a block notification for it.
func correlateBlock(ctx context.Context, env *Env) error {
	return correlateRun(ctx, env, correlate.Request{
		Channel: ChannelBlock,
		Trigger: func(ctx context.Context) (string, error) {
			hashes, err := env.Driver.AdvanceChain(ctx, 1)
			if err != nil {
				return "", err
			}
			return hashes[0], nil
		},
		Confirm: func(ctx context.Context, hash string) (string, error) {
			block, err := env.Indexer.Block(ctx, hash)
			if err != nil {
				return "", err
			}
			return block.Hash, nil
		},
	})
}

func correlateRun(ctx context.Context, env *Env, req correlate.Request) error {
	res, err := env.Correlator.Run(ctx, req)
	if err != nil {
		return err
	}
	observe(env.Metrics.CorrelationSeconds.With("channel", req.Channel), res.Latency)
	env.Logger.Info("correlated", "channel", req.Channel, "hash", res.Pushed, "latency", res.Latency, "dropped", res.Dropped)
	return nil
}
