package chain

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/btcsuite/btcutil"

	"github.com/botcore/regtest/internal/check"
)

// ErrInsufficientFunds is returned when inputs do not cover outputs plus fee.
var ErrInsufficientFunds = errors.New("insufficient funds")

// Spendable is an unspent output together with the key that can sign for it.
type Spendable struct {
	OutPoint wire.OutPoint
	PkScript []byte
	Amount   btcutil.Amount
	Key      *btcutil.WIF
}

// Output pays Amount to Address.
type Output struct {
	Address btcutil.Address
	Amount  btcutil.Amount
}

// PendingTransaction is a signed transaction built locally. SubmittedID is
// set once the indexer accepted it.
type PendingTransaction struct {
	Inputs  []Spendable
	Outputs []Output
	Change  btcutil.Address
	Fee     btcutil.Amount

	Tx          *wire.MsgTx
	Hash        string
	SubmittedID string
}

// BuildTransaction signs a pay-to-pubkey-hash transaction spending inputs to
// outputs, with whatever remains after fee sent to change. The change output
// is left out only when it would be zero.
func BuildTransaction(inputs []Spendable, outputs []Output, change btcutil.Address, fee btcutil.Amount) (*PendingTransaction, error) {
	if len(inputs) == 0 {
		return nil, errors.New("no inputs")
	}
	if len(outputs) == 0 {
		return nil, errors.New("no outputs")
	}
	if fee < 0 {
		return nil, fmt.Errorf("negative fee %v", fee)
	}

	var in, out btcutil.Amount
	tx := wire.NewMsgTx(wire.TxVersion)
	for i, input := range inputs {
		if input.Key == nil {
			return nil, fmt.Errorf("input %d has no key", i)
		}
		op := input.OutPoint
		tx.AddTxIn(wire.NewTxIn(&op, nil, nil))
		in += input.Amount
	}
	for i, output := range outputs {
		if output.Amount <= 0 {
			return nil, fmt.Errorf("output %d: non-positive amount %v", i, output.Amount)
		}
		script, err := txscript.PayToAddrScript(output.Address)
		if err != nil {
			return nil, fmt.Errorf("output %d: %w", i, err)
		}
		tx.AddTxOut(wire.NewTxOut(int64(output.Amount), script))
		out += output.Amount
	}

	if in < out+fee {
		return nil, fmt.Errorf("%w: inputs %v, outputs %v, fee %v", ErrInsufficientFunds, in, out, fee)
	}
	if rest := in - out - fee; rest > 0 {
		if change == nil {
			return nil, fmt.Errorf("change of %v but no change address", rest)
		}
		script, err := txscript.PayToAddrScript(change)
		if err != nil {
			return nil, fmt.Errorf("change: %w", err)
		}
		tx.AddTxOut(wire.NewTxOut(int64(rest), script))
	}

	for i, input := range inputs {
		sig, err := txscript.SignatureScript(tx, i, input.PkScript, txscript.SigHashAll,
			input.Key.PrivKey, input.Key.CompressPubKey)
		if err != nil {
			return nil, fmt.Errorf("sign input %d: %w", i, err)
		}
		tx.TxIn[i].SignatureScript = sig
	}

	return &PendingTransaction{
		Inputs:  inputs,
		Outputs: outputs,
		Change:  change,
		Fee:     fee,
		Tx:      tx,
		Hash:    tx.TxHash().String(),
	}, nil
}

// Serialize returns the hex encoding of the signed transaction.
func (p *PendingTransaction) Serialize() (string, error) {
	var buf bytes.Buffer
	buf.Grow(p.Tx.SerializeSize())
	if err := p.Tx.Serialize(&buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf.Bytes()), nil
}

// OutputTo returns the first output paying addr as a Spendable signed by key.
func (p *PendingTransaction) OutputTo(addr btcutil.Address, key *btcutil.WIF) (Spendable, error) {
	script, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return Spendable{}, err
	}
	hash := p.Tx.TxHash()
	for i, out := range p.Tx.TxOut {
		if bytes.Equal(out.PkScript, script) {
			return Spendable{
				OutPoint: *wire.NewOutPoint(&hash, uint32(i)),
				PkScript: out.PkScript,
				Amount:   btcutil.Amount(out.Value),
				Key:      key,
			}, nil
		}
	}
	return Spendable{}, fmt.Errorf("transaction %s has no output to %s", p.Hash, addr)
}

// Submitter posts a raw transaction and returns the id the receiver
// assigned to it.
type Submitter interface {
	SendTx(ctx context.Context, rawTx string) (string, error)
}

// Submit sends p through s and records the returned id. An id different
// from the local hash is a *check.Failure.
func Submit(ctx context.Context, s Submitter, p *PendingTransaction) (string, error) {
	raw, err := p.Serialize()
	if err != nil {
		return "", fmt.Errorf("serialize %s: %w", p.Hash, err)
	}
	id, err := s.SendTx(ctx, raw)
	if err != nil {
		return "", fmt.Errorf("submit %s: %w", p.Hash, err)
	}
	p.SubmittedID = id
	if err := check.Equal("submitted transaction id", p.Hash, id); err != nil {
		return id, err
	}
	return id, nil
}
