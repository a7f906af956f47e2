package scenario

import (
	"context"
	"fmt"

	"github.com/botcore/regtest/internal/check"
)

// BlockScenario mines blocks before the indexer starts and checks that the
// indexer's block queries agree with what the daemon produced.
func BlockScenario() *Scenario {
	const blocks = 10
	return &Scenario{
		Name:        "block",
		Description: "block queries agree with the mined chain",
		Blocks:      blocks,
		Setup:       standardSetup(blocks),
		Cases: []Case{
			{Name: "blocks", Run: checkBlockList},
			{Name: "block-by-hash", Run: checkBlockByHash(1)},
			{Name: "block-index", Run: checkBlockIndex(7)},
			{Name: "raw-block", Run: checkRawBlock(5)},
			{Name: "status-count", Run: checkStatusCount},
			{Name: "every-block-index", Run: checkEveryBlockIndex},
			{Name: "every-raw-block", Run: checkEveryRawBlock},
			{Name: "block-parents", Run: checkBlockParents},
		},
	}
}

// standardSetup brings up the topology with n mined blocks and a synced
// indexer.
func standardSetup(n int) []Phase {
	return []Phase{
		ResetDirs(),
		WriteIndexerConfig(),
		LaunchDaemons(),
		WaitDaemonReady(),
		AdvanceChain(n),
		LaunchIndexer(),
		WaitIndexerSynced(),
	}
}

func checkBlockList(ctx context.Context, env *Env) error {
	list, err := env.Indexer.Blocks(ctx)
	if err != nil {
		return err
	}
	want := env.State.BlockCount()
	if err := check.Equal("blocks length", want, list.Length); err != nil {
		return err
	}
	if err := check.Equal("blocks entries", want, len(list.Blocks)); err != nil {
		return err
	}

	// newest first
	hashes := env.State.Hashes()
	expected := make([]string, 0, len(hashes))
	for i := len(hashes) - 1; i >= 0; i-- {
		expected = append(expected, hashes[i])
	}
	got := make([]string, 0, len(list.Blocks))
	for _, b := range list.Blocks {
		got = append(got, b.Hash)
	}
	return check.Diff("blocks order", expected, got)
}

func checkBlockByHash(height int) func(context.Context, *Env) error {
	return func(ctx context.Context, env *Env) error {
		hash, err := env.State.HashAt(height)
		if err != nil {
			return err
		}
		block, err := env.Indexer.Block(ctx, hash)
		if err != nil {
			return err
		}
		if err := check.Equal("block hash", hash, block.Hash); err != nil {
			return err
		}
		return check.Equal("block height", height, block.Height)
	}
}

func checkBlockIndex(height int) func(context.Context, *Env) error {
	return func(ctx context.Context, env *Env) error {
		want, err := env.State.HashAt(height)
		if err != nil {
			return err
		}
		got, err := env.Indexer.BlockIndex(ctx, height)
		if err != nil {
			return err
		}
		return check.Equal("block-index hash", want, got)
	}
}

func checkRawBlock(height int) func(context.Context, *Env) error {
	return func(ctx context.Context, env *Env) error {
		want, err := env.State.HashAt(height)
		if err != nil {
			return err
		}
		raw, err := env.Indexer.RawBlock(ctx, want)
		if err != nil {
			return err
		}
		block, err := raw.Decode()
		if err != nil {
			return check.Failf("raw block %s does not decode: %v", want, err)
		}
		return check.Equal("raw block hash", want, block.Hash().String())
	}
}

func checkStatusCount(ctx context.Context, env *Env) error {
	status, err := env.Indexer.Status(ctx)
	if err != nil {
		return err
	}
	return check.Equal("status block count", env.State.BlockCount(), status.Info.Blocks)
}

func checkEveryBlockIndex(ctx context.Context, env *Env) error {
	for h := 1; h <= env.State.BlockCount(); h++ {
		if err := checkBlockIndex(h)(ctx, env); err != nil {
			return err
		}
	}
	return nil
}

func checkEveryRawBlock(ctx context.Context, env *Env) error {
	for h := 1; h <= env.State.BlockCount(); h++ {
		if err := checkRawBlock(h)(ctx, env); err != nil {
			return err
		}
	}
	return nil
}

func checkBlockParents(ctx context.Context, env *Env) error {
	hashes := env.State.Hashes()
	for i := 1; i < len(hashes); i++ {
		block, err := env.Indexer.Block(ctx, hashes[i])
		if err != nil {
			return err
		}
		if err := check.Equal(fmt.Sprintf("previous block of height %d", i+1), hashes[i-1], block.PreviousBlockHash); err != nil {
			return err
		}
	}
	return nil
}
