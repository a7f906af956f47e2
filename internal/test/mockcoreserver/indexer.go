package mockcoreserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/btcsuite/btcd/wire"
	"github.com/gorilla/websocket"
)

// IndexerOptions tunes a simulated indexer.
type IndexerOptions struct {
	// RoutePrefix of the query API, "api" when empty.
	RoutePrefix string

	// SyncStep is how many blocks the reported status advances per status
	// request. Zero reports the chain height at once.
	SyncStep int
}

// Indexer serves the indexer's query API and socket.io push surface from a
// Chain.
type Indexer struct {
	chain    *Chain
	prefix   string
	syncStep int

	mtx     sync.Mutex
	indexed int
	muted   bool
	conns   map[*socketConn]struct{}

	upgrader    websocket.Upgrader
	unsubscribe func()
}

// NewIndexer returns an Indexer following chain.
func NewIndexer(chain *Chain, opts IndexerOptions) *Indexer {
	prefix := strings.Trim(opts.RoutePrefix, "/")
	if prefix == "" {
		prefix = "api"
	}
	ix := &Indexer{
		chain:    chain,
		prefix:   "/" + prefix + "/",
		syncStep: opts.SyncStep,
		conns:    make(map[*socketConn]struct{}),
	}
	ix.unsubscribe = chain.Subscribe(ix.push)
	return ix
}

// StartIndexer serves a new Indexer on a loopback port for the duration of
// the test.
func StartIndexer(t testing.TB, chain *Chain, opts IndexerOptions) (*HTTPServer, *Indexer) {
	ix := NewIndexer(chain, opts)
	srv := NewHTTPServer(t)
	srv.Handle("/", ix)
	srv.Start()
	t.Cleanup(ix.Close)
	return srv, ix
}

// Close drops every push connection and stops following the chain.
func (ix *Indexer) Close() {
	ix.unsubscribe()
	ix.DropConnections()
}

// SetMuted stops (or resumes) push notifications.
func (ix *Indexer) SetMuted(muted bool) {
	ix.mtx.Lock()
	defer ix.mtx.Unlock()
	ix.muted = muted
}

// DropConnections closes every push connection.
func (ix *Indexer) DropConnections() {
	ix.mtx.Lock()
	conns := make([]*socketConn, 0, len(ix.conns))
	for c := range ix.conns {
		conns = append(conns, c)
	}
	ix.mtx.Unlock()
	for _, c := range conns {
		c.conn.Close()
	}
}

// Subscribers returns how many connections subscribed to channel.
func (ix *Indexer) Subscribers(channel string) int {
	ix.mtx.Lock()
	defer ix.mtx.Unlock()
	n := 0
	for c := range ix.conns {
		if c.subscribed(channel) {
			n++
		}
	}
	return n
}

// Inject pushes an arbitrary notification to subscribers, bypassing mute.
func (ix *Indexer) Inject(n Notification) {
	ix.broadcast(n)
}

func (ix *Indexer) push(n Notification) {
	ix.mtx.Lock()
	muted := ix.muted
	ix.mtx.Unlock()
	if !muted {
		ix.broadcast(n)
	}
}

func (ix *Indexer) broadcast(n Notification) {
	ix.mtx.Lock()
	conns := make([]*socketConn, 0, len(ix.conns))
	for c := range ix.conns {
		if c.subscribed(n.Channel) {
			conns = append(conns, c)
		}
	}
	ix.mtx.Unlock()

	frame := mustMarshal([]interface{}{n.Channel, map[string]string{"hash": n.Hash}})
	for _, c := range conns {
		_ = c.write(append([]byte("42"), frame...))
	}
}

// ServeHTTP implements http.Handler.
func (ix *Indexer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if strings.HasPrefix(r.URL.Path, "/socket.io/") {
		ix.serveSocket(w, r)
		return
	}
	if !strings.HasPrefix(r.URL.Path, ix.prefix) {
		http.NotFound(w, r)
		return
	}

	parts := strings.Split(strings.TrimPrefix(r.URL.Path, ix.prefix), "/")
	switch {
	case r.Method == http.MethodGet && len(parts) == 1 && parts[0] == "status":
		ix.status(w)
	case r.Method == http.MethodGet && len(parts) == 1 && parts[0] == "blocks":
		ix.blocks(w)
	case r.Method == http.MethodGet && len(parts) == 2 && parts[0] == "block":
		ix.block(w, parts[1])
	case r.Method == http.MethodGet && len(parts) == 2 && parts[0] == "block-index":
		ix.blockIndex(w, parts[1])
	case r.Method == http.MethodGet && len(parts) == 2 && parts[0] == "rawblock":
		ix.rawBlock(w, parts[1])
	case r.Method == http.MethodPost && len(parts) == 2 && parts[0] == "tx" && parts[1] == "send":
		ix.sendTx(w, r)
	case r.Method == http.MethodGet && len(parts) == 2 && parts[0] == "tx":
		ix.tx(w, parts[1])
	default:
		notFound(w)
	}
}

func notFound(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNotFound)
	_, _ = io.WriteString(w, "Not found")
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(mustMarshal(v))
}

func (ix *Indexer) status(w http.ResponseWriter) {
	height := ix.chain.Height()

	ix.mtx.Lock()
	if ix.syncStep <= 0 {
		ix.indexed = height
	} else if ix.indexed < height {
		ix.indexed += ix.syncStep
		if ix.indexed > height {
			ix.indexed = height
		}
	}
	indexed := ix.indexed
	ix.mtx.Unlock()

	writeJSON(w, map[string]interface{}{
		"info": map[string]interface{}{
			"version":         120100,
			"blocks":          indexed,
			"network":         "testnet",
			"relayfee":        0.00001,
			"protocolversion": 70012,
		},
	})
}

type blockSummary struct {
	Height   int    `json:"height"`
	Size     int    `json:"size"`
	Hash     string `json:"hash"`
	Time     int64  `json:"time"`
	TxLength int    `json:"txlength"`
}

func (ix *Indexer) blocks(w http.ResponseWriter) {
	height := ix.chain.Height()
	summaries := make([]blockSummary, 0, height)
	for h := height; h >= 1; h-- {
		block, ok := ix.chain.BlockAt(h)
		if !ok {
			break
		}
		summaries = append(summaries, blockSummary{
			Height:   h,
			Size:     block.SerializeSize(),
			Hash:     block.BlockHash().String(),
			Time:     block.Header.Timestamp.Unix(),
			TxLength: len(block.Transactions),
		})
	}
	writeJSON(w, map[string]interface{}{
		"blocks": summaries,
		"length": len(summaries),
	})
}

func (ix *Indexer) block(w http.ResponseWriter, hash string) {
	block, height, ok := ix.chain.Block(hash)
	if !ok {
		notFound(w)
		return
	}
	txids := make([]string, len(block.Transactions))
	for i, tx := range block.Transactions {
		txids[i] = tx.TxHash().String()
	}
	writeJSON(w, map[string]interface{}{
		"hash":              block.BlockHash().String(),
		"size":              block.SerializeSize(),
		"height":            height,
		"version":           block.Header.Version,
		"merkleroot":        block.Header.MerkleRoot.String(),
		"tx":                txids,
		"time":              block.Header.Timestamp.Unix(),
		"nonce":             block.Header.Nonce,
		"bits":              strconv.FormatUint(uint64(block.Header.Bits), 16),
		"previousblockhash": block.Header.PrevBlock.String(),
		"confirmations":     ix.chain.Height() - height + 1,
	})
}

func (ix *Indexer) blockIndex(w http.ResponseWriter, heightStr string) {
	height, err := strconv.Atoi(heightStr)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, "Invalid height")
		return
	}
	block, ok := ix.chain.BlockAt(height)
	if !ok {
		notFound(w)
		return
	}
	writeJSON(w, map[string]string{"blockHash": block.BlockHash().String()})
}

func (ix *Indexer) rawBlock(w http.ResponseWriter, hash string) {
	block, _, ok := ix.chain.Block(hash)
	if !ok {
		notFound(w)
		return
	}
	raw, err := RawBlock(block)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]string{"rawblock": raw})
}

func (ix *Indexer) tx(w http.ResponseWriter, txid string) {
	rec, ok := ix.chain.Tx(txid)
	if !ok {
		notFound(w)
		return
	}
	writeJSON(w, map[string]interface{}{
		"txid":        rec.Tx.TxHash().String(),
		"version":     rec.Tx.Version,
		"locktime":    rec.Tx.LockTime,
		"blockheight": blockHeight(rec),
		"vin":         len(rec.Tx.TxIn),
		"vout":        txOutputs(rec.Tx),
		"size":        rec.Tx.SerializeSize(),
	})
}

func blockHeight(rec *TxRecord) int {
	if rec.Height == 0 {
		return -1
	}
	return rec.Height
}

func txOutputs(tx *wire.MsgTx) []map[string]interface{} {
	outs := make([]map[string]interface{}, len(tx.TxOut))
	for i, out := range tx.TxOut {
		outs[i] = map[string]interface{}{
			"n":     i,
			"value": fmt.Sprintf("%.8f", float64(out.Value)/1e8),
		}
	}
	return outs
}

func (ix *Indexer) sendTx(w http.ResponseWriter, r *http.Request) {
	var body struct {
		RawTx string `json:"rawtx"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.RawTx == "" {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, "Missing rawtx")
		return
	}
	txid, err := ix.chain.SendRawTransaction(body.RawTx)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrRejected) {
			status = http.StatusBadRequest
		}
		w.WriteHeader(status)
		_, _ = io.WriteString(w, err.Error())
		return
	}
	writeJSON(w, map[string]string{"txid": txid})
}
