package mockcoreserver

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/btcsuite/btcd/blockchain"
	"github.com/btcsuite/btcd/btcec"
	"github.com/btcsuite/btcd/btcjson"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcutil"
)

// Push channels of the indexer.
const (
	ChannelTransaction = "mempool/transaction"
	ChannelBlock       = "block/block"
)

// Notification is a push event produced by the chain.
type Notification struct {
	Channel string
	Hash    string
}

// TxRecord is a known transaction. Height is 0 while it is in the mempool.
type TxRecord struct {
	Tx     *wire.MsgTx
	Height int
}

type utxo struct {
	pkScript []byte
	amount   int64
	height   int
	coinbase bool
}

// Chain simulates a regression chain mined by a single wallet key. Blocks
// carry no proof of work; everything else (hashes, merkle roots, scripts,
// coinbase maturity) is real.
type Chain struct {
	mtx sync.Mutex

	params      *chaincfg.Params
	miner       *btcutil.WIF
	minerAddr   *btcutil.AddressPubKeyHash
	minerScript []byte

	blocks  []*wire.MsgBlock
	heights map[chainhash.Hash]int
	txs     map[chainhash.Hash]*TxRecord
	utxos   map[wire.OutPoint]*utxo
	mempool []*wire.MsgTx

	subs    map[int]func(Notification)
	nextSub int
}

// ChainOption customizes a Chain.
type ChainOption func(*chainOptions)

type chainOptions struct {
	minerSeed string
}

// WithMinerSeed derives the coinbase key from seed. Chains with different
// seeds never produce the same blocks.
func WithMinerSeed(seed string) ChainOption {
	return func(o *chainOptions) { o.minerSeed = seed }
}

// NewChain returns an empty chain (genesis only) on params.
func NewChain(params *chaincfg.Params, opts ...ChainOption) *Chain {
	o := chainOptions{minerSeed: "mockcoreserver miner"}
	for _, opt := range opts {
		opt(&o)
	}
	priv, _ := btcec.PrivKeyFromBytes(btcec.S256(), chainhash.HashB([]byte(o.minerSeed)))
	wif, err := btcutil.NewWIF(priv, params, true)
	if err != nil {
		panic(err)
	}
	addr, err := btcutil.NewAddressPubKeyHash(btcutil.Hash160(wif.SerializePubKey()), params)
	if err != nil {
		panic(err)
	}
	script, err := txscript.PayToAddrScript(addr)
	if err != nil {
		panic(err)
	}

	return &Chain{
		params:      params,
		miner:       wif,
		minerAddr:   addr,
		minerScript: script,
		heights:     make(map[chainhash.Hash]int),
		txs:         make(map[chainhash.Hash]*TxRecord),
		utxos:       make(map[wire.OutPoint]*utxo),
		subs:        make(map[int]func(Notification)),
	}
}

// Params returns the network parameters of the chain.
func (c *Chain) Params() *chaincfg.Params { return c.params }

// MinerAddress returns the address coinbase outputs pay to.
func (c *Chain) MinerAddress() string { return c.minerAddr.EncodeAddress() }

// Subscribe registers fn for every notification. fn is called without the
// chain lock held. The returned func unregisters it.
func (c *Chain) Subscribe(fn func(Notification)) func() {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	return func() {
		c.mtx.Lock()
		defer c.mtx.Unlock()
		delete(c.subs, id)
	}
}

func (c *Chain) notify(ns []Notification) {
	c.mtx.Lock()
	subs := make([]func(Notification), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	c.mtx.Unlock()

	for _, n := range ns {
		for _, fn := range subs {
			fn(n)
		}
	}
}

// Height returns the number of blocks above genesis.
func (c *Chain) Height() int {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return len(c.blocks)
}

// Generate mines n blocks, the first of which includes the mempool.
func (c *Chain) Generate(n int) ([]string, error) {
	hashes := make([]string, 0, n)
	ns := make([]Notification, 0, n)

	c.mtx.Lock()
	for i := 0; i < n; i++ {
		block, err := c.mineLocked()
		if err != nil {
			c.mtx.Unlock()
			return nil, err
		}
		hash := block.BlockHash().String()
		hashes = append(hashes, hash)
		ns = append(ns, Notification{Channel: ChannelBlock, Hash: hash})
	}
	c.mtx.Unlock()

	c.notify(ns)
	return hashes, nil
}

func (c *Chain) mineLocked() (*wire.MsgBlock, error) {
	height := len(c.blocks) + 1
	prev := *c.params.GenesisHash
	if height > 1 {
		prev = c.blocks[height-2].BlockHash()
	}

	var fees int64
	for _, tx := range c.mempool {
		fees += c.feeLocked(tx)
	}

	sigScript, err := txscript.NewScriptBuilder().AddInt64(int64(height)).AddInt64(0).Script()
	if err != nil {
		return nil, err
	}
	coinbase := wire.NewMsgTx(wire.TxVersion)
	coinbase.AddTxIn(&wire.TxIn{
		PreviousOutPoint: *wire.NewOutPoint(&chainhash.Hash{}, wire.MaxPrevOutIndex),
		SignatureScript:  sigScript,
		Sequence:         wire.MaxTxInSequenceNum,
	})
	subsidy := blockchain.CalcBlockSubsidy(int32(height), c.params)
	coinbase.AddTxOut(wire.NewTxOut(subsidy+fees, c.minerScript))

	txs := append([]*wire.MsgTx{coinbase}, c.mempool...)
	utilTxs := make([]*btcutil.Tx, len(txs))
	for i, tx := range txs {
		utilTxs[i] = btcutil.NewTx(tx)
	}
	merkles := blockchain.BuildMerkleTreeStore(utilTxs, false)

	header := wire.NewBlockHeader(1, &prev, merkles[len(merkles)-1], c.params.PowLimitBits, uint32(height))
	header.Timestamp = c.params.GenesisBlock.Header.Timestamp.Add(time.Duration(height) * 10 * time.Minute)
	block := wire.NewMsgBlock(header)
	for _, tx := range txs {
		if err := block.AddTransaction(tx); err != nil {
			return nil, err
		}
	}

	c.blocks = append(c.blocks, block)
	c.heights[block.BlockHash()] = height

	coinbaseHash := coinbase.TxHash()
	c.txs[coinbaseHash] = &TxRecord{Tx: coinbase, Height: height}
	c.utxos[wire.OutPoint{Hash: coinbaseHash, Index: 0}] = &utxo{
		pkScript: c.minerScript,
		amount:   subsidy + fees,
		height:   height,
		coinbase: true,
	}
	for _, tx := range c.mempool {
		hash := tx.TxHash()
		c.txs[hash].Height = height
		for i := range tx.TxOut {
			if u, ok := c.utxos[wire.OutPoint{Hash: hash, Index: uint32(i)}]; ok {
				u.height = height
			}
		}
	}
	c.mempool = nil
	return block, nil
}

func (c *Chain) feeLocked(tx *wire.MsgTx) int64 {
	var in, out int64
	for _, txIn := range tx.TxIn {
		prev, ok := c.txs[txIn.PreviousOutPoint.Hash]
		if ok {
			in += prev.Tx.TxOut[txIn.PreviousOutPoint.Index].Value
		}
	}
	for _, txOut := range tx.TxOut {
		out += txOut.Value
	}
	return in - out
}

// BlockAt returns the block at height (1-indexed).
func (c *Chain) BlockAt(height int) (*wire.MsgBlock, bool) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if height < 1 || height > len(c.blocks) {
		return nil, false
	}
	return c.blocks[height-1], true
}

// Block returns the block with hash and its height.
func (c *Chain) Block(hash string) (*wire.MsgBlock, int, bool) {
	h, err := chainhash.NewHashFromStr(hash)
	if err != nil {
		return nil, 0, false
	}
	c.mtx.Lock()
	defer c.mtx.Unlock()
	height, ok := c.heights[*h]
	if !ok {
		return nil, 0, false
	}
	return c.blocks[height-1], height, true
}

// Tx returns a known transaction.
func (c *Chain) Tx(txid string) (*TxRecord, bool) {
	h, err := chainhash.NewHashFromStr(txid)
	if err != nil {
		return nil, false
	}
	c.mtx.Lock()
	defer c.mtx.Unlock()
	rec, ok := c.txs[*h]
	if !ok {
		return nil, false
	}
	return &TxRecord{Tx: rec.Tx, Height: rec.Height}, true
}

// Mempool returns the ids of unconfirmed transactions.
func (c *Chain) Mempool() []string {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	ids := make([]string, len(c.mempool))
	for i, tx := range c.mempool {
		ids[i] = tx.TxHash().String()
	}
	return ids
}

// ListUnspent returns the miner's spendable outputs, like the daemon's
// wallet does: immature coinbase outputs are left out.
func (c *Chain) ListUnspent() []btcjson.ListUnspentResult {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	tip := len(c.blocks)
	var out []btcjson.ListUnspentResult
	for op, u := range c.utxos {
		if !bytes.Equal(u.pkScript, c.minerScript) || u.height == 0 {
			continue
		}
		confs := int64(tip - u.height + 1)
		if u.coinbase && confs < int64(c.params.CoinbaseMaturity) {
			continue
		}
		out = append(out, btcjson.ListUnspentResult{
			TxID:          op.Hash.String(),
			Vout:          op.Index,
			Address:       c.minerAddr.EncodeAddress(),
			ScriptPubKey:  hex.EncodeToString(u.pkScript),
			Amount:        btcutil.Amount(u.amount).ToBTC(),
			Confirmations: confs,
			Spendable:     true,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TxID != out[j].TxID {
			return out[i].TxID < out[j].TxID
		}
		return out[i].Vout < out[j].Vout
	})
	return out
}

// DumpPrivKey returns the WIF key of a wallet address.
func (c *Chain) DumpPrivKey(address string) (string, error) {
	if address != c.minerAddr.EncodeAddress() {
		return "", btcjson.NewRPCError(btcjson.ErrRPCWallet, "Private key for address is not known")
	}
	return c.miner.String(), nil
}

// ErrRejected is returned for transactions that fail validation.
var ErrRejected = errors.New("transaction rejected")

// SendRawTransaction validates a hex-encoded transaction and adds it to
// the mempool.
func (c *Chain) SendRawTransaction(rawHex string) (string, error) {
	bz, err := hex.DecodeString(rawHex)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRejected, err)
	}
	var tx wire.MsgTx
	if err := tx.Deserialize(bytes.NewReader(bz)); err != nil {
		return "", fmt.Errorf("%w: %v", ErrRejected, err)
	}
	hash := tx.TxHash()

	c.mtx.Lock()
	if _, ok := c.txs[hash]; ok {
		c.mtx.Unlock()
		return "", fmt.Errorf("%w: %s already known", ErrRejected, hash)
	}
	if err := c.validateLocked(&tx); err != nil {
		c.mtx.Unlock()
		return "", err
	}
	for _, txIn := range tx.TxIn {
		delete(c.utxos, txIn.PreviousOutPoint)
	}
	for i, txOut := range tx.TxOut {
		c.utxos[wire.OutPoint{Hash: hash, Index: uint32(i)}] = &utxo{pkScript: txOut.PkScript, amount: txOut.Value}
	}
	c.txs[hash] = &TxRecord{Tx: &tx}
	c.mempool = append(c.mempool, &tx)
	c.mtx.Unlock()

	c.notify([]Notification{{Channel: ChannelTransaction, Hash: hash.String()}})
	return hash.String(), nil
}

func (c *Chain) validateLocked(tx *wire.MsgTx) error {
	if len(tx.TxIn) == 0 || len(tx.TxOut) == 0 {
		return fmt.Errorf("%w: no inputs or outputs", ErrRejected)
	}
	tip := len(c.blocks)
	var in, out int64
	for i, txIn := range tx.TxIn {
		u, ok := c.utxos[txIn.PreviousOutPoint]
		if !ok {
			return fmt.Errorf("%w: input %d spends unknown or spent output %v", ErrRejected, i, txIn.PreviousOutPoint)
		}
		if u.coinbase && tip-u.height+1 < int(c.params.CoinbaseMaturity) {
			return fmt.Errorf("%w: input %d spends immature coinbase", ErrRejected, i)
		}
		vm, err := txscript.NewEngine(u.pkScript, tx, i, txscript.StandardVerifyFlags, nil, nil, u.amount)
		if err != nil {
			return fmt.Errorf("%w: input %d: %v", ErrRejected, i, err)
		}
		if err := vm.Execute(); err != nil {
			return fmt.Errorf("%w: input %d: %v", ErrRejected, i, err)
		}
		in += u.amount
	}
	for _, txOut := range tx.TxOut {
		out += txOut.Value
	}
	if out > in {
		return fmt.Errorf("%w: outputs %d exceed inputs %d", ErrRejected, out, in)
	}
	return nil
}

// RawBlock returns the serialized block.
func RawBlock(block *wire.MsgBlock) (string, error) {
	var buf bytes.Buffer
	if err := block.Serialize(&buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf.Bytes()), nil
}
