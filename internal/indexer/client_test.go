package indexer

import (
	"bytes"
	"context"
	"encoding/hex"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/botcore/regtest/internal/poll"
	"github.com/botcore/regtest/internal/test/mockcoreserver"
	"github.com/botcore/regtest/internal/transport"
)

func startIndexer(t *testing.T, chain *mockcoreserver.Chain, opts mockcoreserver.IndexerOptions) (*Client, *mockcoreserver.Indexer) {
	t.Helper()
	srv, ix := mockcoreserver.StartIndexer(t, chain, opts)
	prefix := opts.RoutePrefix
	if prefix == "" {
		prefix = "api"
	}
	c, err := NewClient(srv.URL(), prefix)
	require.NoError(t, err)
	return c, ix
}

func TestClientQueries(t *testing.T) {
	chain := mockcoreserver.NewChain(&chaincfg.RegressionNetParams)
	hashes, err := chain.Generate(10)
	require.NoError(t, err)
	c, _ := startIndexer(t, chain, mockcoreserver.IndexerOptions{})
	ctx := context.Background()

	status, err := c.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, status.Info.Blocks)

	list, err := c.Blocks(ctx)
	require.NoError(t, err)
	assert.Equal(t, 10, list.Length)
	assert.Len(t, list.Blocks, 10)

	block, err := c.Block(ctx, hashes[0])
	require.NoError(t, err)
	assert.Equal(t, hashes[0], block.Hash)
	assert.Equal(t, 1, block.Height)

	hash, err := c.BlockIndex(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, hashes[6], hash)

	raw, err := c.RawBlock(ctx, hashes[4])
	require.NoError(t, err)
	decoded, err := raw.Decode()
	require.NoError(t, err)
	assert.Equal(t, hashes[4], decoded.Hash().String())

	tx, err := c.Tx(ctx, block.Tx[0])
	require.NoError(t, err)
	assert.Equal(t, block.Tx[0], tx.TxID)
	assert.Equal(t, 1, tx.BlockHeight)

	_, err = c.Block(ctx, strings.Repeat("0", 64))
	code, ok := transport.StatusCode(err)
	require.True(t, ok, err)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestRawBlockDecodeErrors(t *testing.T) {
	_, err := (&RawBlock{RawBlock: "zz"}).Decode()
	assert.Error(t, err)
	_, err = (&RawBlock{RawBlock: hex.EncodeToString(bytes.Repeat([]byte{1}, 10))}).Decode()
	assert.Error(t, err)
}

func TestClientSendTxRejected(t *testing.T) {
	chain := mockcoreserver.NewChain(&chaincfg.RegressionNetParams)
	c, _ := startIndexer(t, chain, mockcoreserver.IndexerOptions{RoutePrefix: "insight-api"})

	_, err := c.SendTx(context.Background(), "00")
	code, ok := transport.StatusCode(err)
	require.True(t, ok, err)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestSyncedProbe(t *testing.T) {
	chain := mockcoreserver.NewChain(&chaincfg.RegressionNetParams)
	_, err := chain.Generate(5)
	require.NoError(t, err)
	c, _ := startIndexer(t, chain, mockcoreserver.IndexerOptions{SyncStep: 1})

	attempts := 0
	probe := c.SyncedProbe(5)
	err = poll.Retry(context.Background(), poll.Policy{Interval: time.Millisecond, MaxAttempts: 10},
		func(ctx context.Context) error {
			attempts++
			return probe(ctx)
		})
	require.NoError(t, err)
	assert.Equal(t, 5, attempts)

	err = poll.Retry(context.Background(), poll.Policy{Interval: time.Millisecond, MaxAttempts: 3}, c.SyncedProbe(6))
	var timeout *poll.TimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, 3, timeout.Attempts)
}

func TestSyncedProbeUnreachableIsTransient(t *testing.T) {
	srv := mockcoreserver.NewHTTPServer(t)
	srv.Start()
	url := srv.URL()
	srv.Stop()

	c, err := NewClient(url, "api")
	require.NoError(t, err)
	err = c.SyncedProbe(1)(context.Background())
	assert.True(t, poll.IsTransient(err), err)
}

func TestSyncedProbeServerErrorIsFatal(t *testing.T) {
	srv := mockcoreserver.NewHTTPServer(t)
	srv.On("/api/status").Forever().Respond(mockcoreserver.Status(http.StatusInternalServerError), mockcoreserver.JSONBody(map[string]string{}))
	srv.Start()

	c, err := NewClient(srv.URL(), "api")
	require.NoError(t, err)
	err = c.SyncedProbe(1)(context.Background())
	require.Error(t, err)
	assert.False(t, poll.IsTransient(err))
}
