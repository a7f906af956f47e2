package mockcoreserver

import (
	"bytes"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/btcsuite/btcd/btcjson"
)

type response struct {
	Result json.RawMessage   `json:"result"`
	Error  *btcjson.RPCError `json:"error"`
	ID     json.RawMessage   `json:"id"`
}

func mustMarshal(v interface{}) []byte {
	j, err := json.Marshal(v)
	if err != nil {
		log.Panicf("unable to encode: %v", err)
	}
	return j
}

// Body ...
func Body(body []byte) HandlerOptionFunc {
	return func(opts *respOption, _ *http.Request) error {
		opts.body = bytes.NewReader(body)
		return nil
	}
}

// JSONBody ...
func JSONBody(v interface{}) HandlerOptionFunc {
	return Body(mustMarshal(v))
}

// Status ...
func Status(code int) HandlerOptionFunc {
	return func(opts *respOption, _ *http.Request) error {
		opts.status = code
		return nil
	}
}

// Header ...
func Header(key string, values ...string) HandlerOptionFunc {
	return func(opts *respOption, _ *http.Request) error {
		opts.header[key] = values
		return nil
	}
}

// JSONContentType ...
func JSONContentType() HandlerOptionFunc {
	return Header("Content-Type", "application/json")
}

// JRPCResult answers a JSON-RPC request with v.
func JRPCResult(v interface{}) HandlerOptionFunc {
	return func(opts *respOption, req *http.Request) error {
		jReq, _ := RequestFromContext(req.Context())
		opts.header.Set("Content-Type", "application/json")
		opts.body = bytes.NewReader(mustMarshal(&response{
			Result: mustMarshal(v),
			ID:     jReq.ID,
		}))
		return nil
	}
}

// JRPCError answers a JSON-RPC request with an error object, with the
// status the daemon uses for it.
func JRPCError(code btcjson.RPCErrorCode, message string) HandlerOptionFunc {
	return func(opts *respOption, req *http.Request) error {
		jReq, _ := RequestFromContext(req.Context())
		opts.status = errorStatus(code)
		opts.header.Set("Content-Type", "application/json")
		opts.body = bytes.NewReader(mustMarshal(&response{
			Result: json.RawMessage("null"),
			Error:  btcjson.NewRPCError(code, message),
			ID:     jReq.ID,
		}))
		return nil
	}
}

// OnMethod answers a JSON-RPC request with the result of fn. A
// *btcjson.RPCError returned by fn is sent as an error object.
func OnMethod(fn func(req Request) (interface{}, error)) HandlerOptionFunc {
	return func(opts *respOption, req *http.Request) error {
		jReq, ok := RequestFromContext(req.Context())
		if !ok {
			return errors.New("not a JSON-RPC request")
		}
		val, err := fn(jReq)
		var rpcErr *btcjson.RPCError
		if errors.As(err, &rpcErr) {
			return JRPCError(rpcErr.Code, rpcErr.Message)(opts, req)
		}
		if err != nil {
			return err
		}
		return JRPCResult(val)(opts, req)
	}
}

func errorStatus(code btcjson.RPCErrorCode) int {
	switch code {
	case btcjson.ErrRPCMethodNotFound.Code:
		return http.StatusNotFound
	case btcjson.ErrRPCInvalidRequest.Code:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
