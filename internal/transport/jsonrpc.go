package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/btcsuite/btcd/btcjson"
)

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      uint64        `json:"id"`
}

type rpcResponse struct {
	Result json.RawMessage   `json:"result"`
	Error  *btcjson.RPCError `json:"error"`
	ID     *uint64           `json:"id"`
}

// RPCClient is a JSON-RPC 1.0 client for a full-node daemon.
//
// RPCClient is safe for concurrent use by multiple goroutines.
type RPCClient struct {
	http   *HTTPClient
	nextID uint64
}

// NewRPCClient returns a JSON-RPC client posting to the root of c's base
// URL. Credentials are taken from c.
func NewRPCClient(c *HTTPClient) *RPCClient {
	return &RPCClient{http: c}
}

// Call invokes method with positional params and decodes the result into
// result, unless result is nil.
//
// An error object returned by the daemon is reported as a *ProtocolError
// wrapping a *btcjson.RPCError, whatever the HTTP status it came with.
func (c *RPCClient) Call(ctx context.Context, method string, params []interface{}, result interface{}) error {
	if params == nil {
		params = []interface{}{}
	}
	id := atomic.AddUint64(&c.nextID, 1)
	req := rpcRequest{
		JSONRPC: "1.0",
		ID:      id,
		Method:  method,
		Params:  params,
	}

	resp, err := c.http.Call(ctx, Endpoint{Method: http.MethodPost, Path: "/", Body: req}, nil)
	if err != nil {
		var pe *ProtocolError
		if resp == nil || !errors.As(err, &pe) {
			return err
		}
		// The daemon reports RPC failures with a non-200 status and the
		// error object in the body.
		var rpcResp rpcResponse
		if jerr := json.Unmarshal(resp.Body, &rpcResp); jerr != nil || rpcResp.Error == nil {
			return err
		}
		pe.Err = rpcResp.Error
		pe.Body = ""
		return pe
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(resp.Body, &rpcResp); err != nil {
		return &ProtocolError{
			StatusCode: resp.StatusCode,
			URL:        c.http.BaseURL(),
			Body:       truncate(resp.Body),
			Err:        fmt.Errorf("decoding %s response: %w", method, err),
		}
	}
	if rpcResp.Error != nil {
		return &ProtocolError{StatusCode: resp.StatusCode, URL: c.http.BaseURL(), Err: rpcResp.Error}
	}
	if rpcResp.ID == nil || *rpcResp.ID != id {
		return &ProtocolError{
			StatusCode: resp.StatusCode,
			URL:        c.http.BaseURL(),
			Err:        fmt.Errorf("%s: response id does not match request id %d", method, id),
		}
	}
	if result == nil {
		return nil
	}
	if err := json.Unmarshal(rpcResp.Result, result); err != nil {
		return &ProtocolError{
			StatusCode: resp.StatusCode,
			URL:        c.http.BaseURL(),
			Body:       truncate(rpcResp.Result),
			Err:        fmt.Errorf("decoding %s result: %w", method, err),
		}
	}
	return nil
}

// RPCErrorCode returns the daemon error code carried in err's chain.
func RPCErrorCode(err error) (btcjson.RPCErrorCode, bool) {
	var re *btcjson.RPCError
	if errors.As(err, &re) {
		return re.Code, true
	}
	return 0, false
}
