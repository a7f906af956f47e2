// Package indexer is a client for the indexer's HTTP query API.
package indexer

import (
	"context"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/btcsuite/btcutil"

	"github.com/botcore/regtest/internal/poll"
	"github.com/botcore/regtest/internal/transport"
)

// Status is the response of GET /status.
type Status struct {
	Info struct {
		Version         int     `json:"version"`
		Blocks          int     `json:"blocks"`
		Network         string  `json:"network"`
		RelayFee        float64 `json:"relayfee"`
		ProtocolVersion int     `json:"protocolversion"`
	} `json:"info"`
}

// BlockSummary is one entry of GET /blocks.
type BlockSummary struct {
	Height   int    `json:"height"`
	Size     int    `json:"size"`
	Hash     string `json:"hash"`
	Time     int64  `json:"time"`
	TxLength int    `json:"txlength"`
}

// BlockList is the response of GET /blocks.
type BlockList struct {
	Blocks []BlockSummary `json:"blocks"`
	Length int            `json:"length"`
}

// Block is the response of GET /block/{hash}.
type Block struct {
	Hash              string   `json:"hash"`
	Size              int      `json:"size"`
	Height            int      `json:"height"`
	Version           int32    `json:"version"`
	MerkleRoot        string   `json:"merkleroot"`
	Tx                []string `json:"tx"`
	Time              int64    `json:"time"`
	Nonce             uint32   `json:"nonce"`
	Bits              string   `json:"bits"`
	PreviousBlockHash string   `json:"previousblockhash"`
	Confirmations     int      `json:"confirmations"`
}

// Tx is the response of GET /tx/{txid}. BlockHeight is -1 while the
// transaction is unconfirmed.
type Tx struct {
	TxID        string `json:"txid"`
	Version     int32  `json:"version"`
	LockTime    uint32 `json:"locktime"`
	BlockHeight int    `json:"blockheight"`
	Size        int    `json:"size"`
}

// RawBlock is the response of GET /rawblock/{hash}.
type RawBlock struct {
	RawBlock string `json:"rawblock"`
}

// Decode parses the hex encoded block.
func (r *RawBlock) Decode() (*btcutil.Block, error) {
	bz, err := hex.DecodeString(r.RawBlock)
	if err != nil {
		return nil, fmt.Errorf("raw block is not hex: %w", err)
	}
	return btcutil.NewBlockFromBytes(bz)
}

// Client queries the indexer.
type Client struct {
	http   *transport.HTTPClient
	prefix string
}

// NewClient returns a client for the API served under routePrefix of
// remote.
func NewClient(remote, routePrefix string, opts ...transport.HTTPOption) (*Client, error) {
	hc, err := transport.NewHTTPClient(remote, opts...)
	if err != nil {
		return nil, err
	}
	return &Client{http: hc, prefix: "/" + strings.Trim(routePrefix, "/")}, nil
}

func (c *Client) get(ctx context.Context, path string, result interface{}) error {
	_, err := c.http.Call(ctx, transport.Endpoint{Path: c.prefix + path}, result)
	return err
}

// Status returns the indexer status.
func (c *Client) Status(ctx context.Context) (*Status, error) {
	var s Status
	if err := c.get(ctx, "/status", &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Blocks lists indexed blocks, newest first.
func (c *Client) Blocks(ctx context.Context) (*BlockList, error) {
	var l BlockList
	if err := c.get(ctx, "/blocks", &l); err != nil {
		return nil, err
	}
	return &l, nil
}

// Block returns the block with hash.
func (c *Client) Block(ctx context.Context, hash string) (*Block, error) {
	var b Block
	if err := c.get(ctx, "/block/"+url.PathEscape(hash), &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// BlockIndex returns the hash of the block at height.
func (c *Client) BlockIndex(ctx context.Context, height int) (string, error) {
	var res struct {
		BlockHash string `json:"blockHash"`
	}
	if err := c.get(ctx, "/block-index/"+strconv.Itoa(height), &res); err != nil {
		return "", err
	}
	return res.BlockHash, nil
}

// RawBlock returns the serialized block with hash.
func (c *Client) RawBlock(ctx context.Context, hash string) (*RawBlock, error) {
	var r RawBlock
	if err := c.get(ctx, "/rawblock/"+url.PathEscape(hash), &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Tx returns the transaction with txid.
func (c *Client) Tx(ctx context.Context, txid string) (*Tx, error) {
	var tx Tx
	if err := c.get(ctx, "/tx/"+url.PathEscape(txid), &tx); err != nil {
		return nil, err
	}
	return &tx, nil
}

// SendTx broadcasts a hex encoded transaction and returns the id the
// indexer reports for it.
func (c *Client) SendTx(ctx context.Context, rawTx string) (string, error) {
	var res struct {
		TxID string `json:"txid"`
	}
	_, err := c.http.Call(ctx, transport.Endpoint{
		Method: http.MethodPost,
		Path:   c.prefix + "/tx/send",
		Body:   map[string]string{"rawtx": rawTx},
	}, &res)
	if err != nil {
		return "", err
	}
	return res.TxID, nil
}

// SyncedProbe reports success once the indexer's status counts want blocks.
// An unreachable or unavailable indexer and a different count are transient;
// any other failure is fatal.
func (c *Client) SyncedProbe(want int) poll.Probe {
	return func(ctx context.Context) error {
		s, err := c.Status(ctx)
		switch {
		case err == nil:
		case transport.IsTransportError(err):
			return poll.Transient(err)
		default:
			if code, ok := transport.StatusCode(err); ok && code == http.StatusServiceUnavailable {
				return poll.Transient(err)
			}
			return err
		}
		if s.Info.Blocks != want {
			return poll.Transientf("indexer at %d blocks, want %d", s.Info.Blocks, want)
		}
		return nil
	}
}
