package chain

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcutil"
)

// Wallet is a set of local keys derived from a seed. The same seed always
// yields the same keys, which keeps runs reproducible.
type Wallet struct {
	keys  []*btcutil.WIF
	addrs []*btcutil.AddressPubKeyHash
}

// NewWallet derives n compressed keys for params from seed.
func NewWallet(params *chaincfg.Params, seed string, n int) (*Wallet, error) {
	if n < 1 {
		return nil, errors.New("wallet needs at least one key")
	}
	w := &Wallet{
		keys:  make([]*btcutil.WIF, n),
		addrs: make([]*btcutil.AddressPubKeyHash, n),
	}
	for i := 0; i < n; i++ {
		priv, _ := btcec.PrivKeyFromBytes(btcec.S256(), chainhash.HashB([]byte(fmt.Sprintf("%s/%d", seed, i))))
		wif, err := btcutil.NewWIF(priv, params, true)
		if err != nil {
			return nil, fmt.Errorf("key %d: %w", i, err)
		}
		addr, err := btcutil.NewAddressPubKeyHash(btcutil.Hash160(wif.SerializePubKey()), params)
		if err != nil {
			return nil, fmt.Errorf("address %d: %w", i, err)
		}
		w.keys[i] = wif
		w.addrs[i] = addr
	}
	return w, nil
}

// Len returns the number of keys.
func (w *Wallet) Len() int { return len(w.keys) }

// Key returns the i-th key.
func (w *Wallet) Key(i int) *btcutil.WIF { return w.keys[i] }

// Address returns the pay-to-pubkey-hash address of the i-th key.
func (w *Wallet) Address(i int) *btcutil.AddressPubKeyHash { return w.addrs[i] }
