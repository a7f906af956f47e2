package mockcoreserver

import (
	"errors"
	"testing"

	"github.com/btcsuite/btcd/btcjson"
)

// RegisterChain answers the daemon methods used by the runner from chain.
// Expectations registered on srv before this call take precedence, which
// lets a test script a warmup period or a failure.
func RegisterChain(srv *JRPCServer, chain *Chain) {
	srv.On("getblockcount").Forever().Respond(OnMethod(func(Request) (interface{}, error) {
		return chain.Height(), nil
	}))
	srv.On("generate").Forever().Respond(OnMethod(func(req Request) (interface{}, error) {
		var n int
		if err := req.Param(0, &n); err != nil || n < 0 {
			return nil, btcjson.NewRPCError(btcjson.ErrRPCInvalidParameter, "invalid block count")
		}
		return chain.Generate(n)
	}))
	srv.On("getblockhash").Forever().Respond(OnMethod(func(req Request) (interface{}, error) {
		var height int
		if err := req.Param(0, &height); err != nil {
			return nil, btcjson.NewRPCError(btcjson.ErrRPCInvalidParameter, err.Error())
		}
		block, ok := chain.BlockAt(height)
		if !ok {
			return nil, btcjson.NewRPCError(btcjson.ErrRPCOutOfRange, "Block height out of range")
		}
		return block.BlockHash().String(), nil
	}))
	srv.On("listunspent").Forever().Respond(OnMethod(func(Request) (interface{}, error) {
		unspent := chain.ListUnspent()
		if unspent == nil {
			unspent = []btcjson.ListUnspentResult{}
		}
		return unspent, nil
	}))
	srv.On("dumpprivkey").Forever().Respond(OnMethod(func(req Request) (interface{}, error) {
		var addr string
		if err := req.Param(0, &addr); err != nil {
			return nil, btcjson.NewRPCError(btcjson.ErrRPCInvalidParameter, err.Error())
		}
		return chain.DumpPrivKey(addr)
	}))
	srv.On("sendrawtransaction").Forever().Respond(OnMethod(func(req Request) (interface{}, error) {
		var raw string
		if err := req.Param(0, &raw); err != nil {
			return nil, btcjson.NewRPCError(btcjson.ErrRPCInvalidParameter, err.Error())
		}
		txid, err := chain.SendRawTransaction(raw)
		if errors.Is(err, ErrRejected) {
			return nil, btcjson.NewRPCError(btcjson.ErrRPCVerify, err.Error())
		}
		return txid, err
	}))
}

// StartDaemon starts a JSON-RPC server backed by chain after warmup calls of
// getblockcount have been answered with the daemon's warmup error.
func StartDaemon(t testing.TB, chain *Chain, warmup int) *JRPCServer {
	srv := NewJRPCServer(t)
	if warmup > 0 {
		srv.On("getblockcount").Times(warmup).Respond(JRPCError(btcjson.ErrRPCInWarmup, "Loading block index..."))
	}
	RegisterChain(srv, chain)
	srv.Start()
	return srv
}
