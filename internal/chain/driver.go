// Package chain drives the daemon to a known chain state and builds the
// transactions scenarios submit to the indexer.
package chain

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcutil"

	"github.com/botcore/regtest/internal/check"
	"github.com/botcore/regtest/libs/log"
)

// Caller issues JSON-RPC calls to a daemon.
type Caller interface {
	Call(ctx context.Context, method string, params []interface{}, result interface{}) error
}

// DriverOptions configures a Driver.
type DriverOptions struct {
	// Params of the network the daemon runs, regtest when nil.
	Params *chaincfg.Params
	Logger log.Logger
}

// Driver issues chain commands to the primary daemon and records what it
// produced in a State.
type Driver struct {
	rpc    Caller
	state  *State
	params *chaincfg.Params
	logger log.Logger
}

// NewDriver returns a Driver appending to state.
func NewDriver(rpc Caller, state *State, opts DriverOptions) *Driver {
	if opts.Params == nil {
		opts.Params = &chaincfg.RegressionNetParams
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNopLogger()
	}
	return &Driver{
		rpc:    rpc,
		state:  state,
		params: opts.Params,
		logger: opts.Logger,
	}
}

// State returns the driver's chain state.
func (d *Driver) State() *State { return d.state }

// Params returns the network parameters.
func (d *Driver) Params() *chaincfg.Params { return d.params }

// BlockCount returns the daemon's current block count.
func (d *Driver) BlockCount(ctx context.Context) (int, error) {
	var count int
	if err := d.rpc.Call(ctx, "getblockcount", nil, &count); err != nil {
		return 0, err
	}
	return count, nil
}

// AdvanceChain mines n blocks and appends their hashes to the state. The
// daemon must return exactly n well-formed hashes and agree on the new block
// count.
func (d *Driver) AdvanceChain(ctx context.Context, n int) ([]string, error) {
	if n < 0 {
		return nil, fmt.Errorf("negative block count %d", n)
	}
	if n == 0 {
		return nil, nil
	}

	var hashes []string
	if err := d.rpc.Call(ctx, "generate", []interface{}{n}, &hashes); err != nil {
		return nil, fmt.Errorf("generate %d: %w", n, err)
	}
	if err := check.Equal("generated block count", n, len(hashes)); err != nil {
		return nil, err
	}
	for i, hash := range hashes {
		if _, err := chainhash.NewHashFromStr(hash); err != nil {
			return nil, check.Failf("generated hash %d %q is malformed: %v", i, hash, err)
		}
	}
	d.state.Append(hashes...)

	count, err := d.BlockCount(ctx)
	if err != nil {
		return nil, err
	}
	if err := check.Equal("daemon block count", d.state.BlockCount(), count); err != nil {
		return nil, err
	}

	d.logger.Info("advanced chain", "blocks", n, "height", count, "tip", hashes[len(hashes)-1])
	return hashes, nil
}

// Funding is a daemon wallet output the scenario can spend with a local
// copy of its key.
type Funding struct {
	Spendable
	Address btcutil.Address
}

// FundingSource picks the most confirmed spendable output of the daemon
// wallet and exports its key. Ties are broken by txid then vout.
func (d *Driver) FundingSource(ctx context.Context) (*Funding, error) {
	var unspent []btcjson.ListUnspentResult
	if err := d.rpc.Call(ctx, "listunspent", nil, &unspent); err != nil {
		return nil, fmt.Errorf("listunspent: %w", err)
	}
	if len(unspent) == 0 {
		return nil, check.Failf("daemon wallet has no spendable outputs")
	}
	sort.SliceStable(unspent, func(i, j int) bool {
		a, b := unspent[i], unspent[j]
		if a.Confirmations != b.Confirmations {
			return a.Confirmations > b.Confirmations
		}
		if a.TxID != b.TxID {
			return a.TxID < b.TxID
		}
		return a.Vout < b.Vout
	})
	u := unspent[0]

	var wifStr string
	if err := d.rpc.Call(ctx, "dumpprivkey", []interface{}{u.Address}, &wifStr); err != nil {
		return nil, fmt.Errorf("dumpprivkey %s: %w", u.Address, err)
	}
	wif, err := btcutil.DecodeWIF(wifStr)
	if err != nil {
		return nil, fmt.Errorf("decode key for %s: %w", u.Address, err)
	}
	if !wif.IsForNet(d.params) {
		return nil, check.Failf("key for %s is not for %s", u.Address, d.params.Name)
	}

	addr, err := btcutil.NewAddressPubKeyHash(btcutil.Hash160(wif.SerializePubKey()), d.params)
	if err != nil {
		return nil, err
	}
	if err := check.Equal("funding address", u.Address, addr.EncodeAddress()); err != nil {
		return nil, err
	}
	script, err := hex.DecodeString(u.ScriptPubKey)
	if err != nil {
		return nil, fmt.Errorf("decode script of %s:%d: %w", u.TxID, u.Vout, err)
	}
	want, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(script, want) {
		return nil, errors.New("funding output is not pay-to-pubkey-hash of its key")
	}

	hash, err := chainhash.NewHashFromStr(u.TxID)
	if err != nil {
		return nil, fmt.Errorf("funding txid: %w", err)
	}
	amount, err := btcutil.NewAmount(u.Amount)
	if err != nil {
		return nil, fmt.Errorf("funding amount: %w", err)
	}

	d.logger.Info("funding source", "txid", u.TxID, "vout", u.Vout, "amount", amount, "confirmations", u.Confirmations)
	return &Funding{
		Spendable: Spendable{
			OutPoint: *wire.NewOutPoint(hash, u.Vout),
			PkScript: script,
			Amount:   amount,
			Key:      wif,
		},
		Address: addr,
	}, nil
}
