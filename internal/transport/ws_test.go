package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/botcore/regtest/libs/log"
)

var upgrader = websocket.Upgrader{}

// socketServer speaks just enough socket.io v2 to accept a subscription
// and then hands the connection to script.
func socketServer(t *testing.T, script func(conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "3", r.URL.Query().Get("EIO"))
		conn, err := upgrader.Upgrade(w, r, nil)
		if !assert.NoError(t, err) {
			return
		}
		defer conn.Close()

		send := func(msg string) {
			assert.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(msg)))
		}
		send(`0{"sid":"abc","upgrades":[],"pingInterval":50,"pingTimeout":1000}`)
		send(`40`)

		_, msg, err := conn.ReadMessage()
		if !assert.NoError(t, err) {
			return
		}
		assert.Equal(t, `42["subscribe","block/block"]`, string(msg))

		script(conn)
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/socket.io/?EIO=3&transport=websocket"
}

func TestSubscribeReceivesEvents(t *testing.T) {
	defer leaktest.Check(t)()

	srv := socketServer(t, func(conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`42["mempool/transaction",{"hash":"other"}]`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`42["block/block",{"hash":"00ff"}]`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`42/insight,7["block/block",{"hash":"00fe"}]`))
		// answer pings until the client goes away
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if string(msg) == "2" {
				_ = conn.WriteMessage(websocket.TextMessage, []byte("3"))
			}
		}
	})
	defer srv.Close()

	sub, err := Subscribe(context.Background(), wsURL(srv), "block/block", SubscribeOptions{Logger: log.TestingLogger()})
	require.NoError(t, err)

	for _, want := range []string{"00ff", "00fe"} {
		select {
		case ev := <-sub.Events():
			assert.Equal(t, "block/block", ev.Channel)
			assert.Equal(t, want, ev.Hash)
			assert.JSONEq(t, `{"hash":"`+want+`"}`, string(ev.Payload))
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for event")
		}
	}

	// survive a few ping intervals
	time.Sleep(200 * time.Millisecond)
	assert.NoError(t, sub.Err())

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close())
	assert.Equal(t, ErrSubscriptionClosed, sub.Err())
}

func TestSubscribeConnectionLost(t *testing.T) {
	defer leaktest.Check(t)()

	srv := socketServer(t, func(conn *websocket.Conn) {
		conn.Close()
	})
	defer srv.Close()

	sub, err := Subscribe(context.Background(), wsURL(srv), "block/block", SubscribeOptions{})
	require.NoError(t, err)
	defer sub.Close()

	select {
	case <-sub.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("subscription did not end")
	}
	assert.True(t, IsTransportError(sub.Err()), "got %v", sub.Err())
}

func TestSubscribeQueueBounded(t *testing.T) {
	defer leaktest.Check(t)()

	sent := make(chan struct{})
	srv := socketServer(t, func(conn *websocket.Conn) {
		for i := 0; i < 5; i++ {
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`42["block/block",{"hash":"h"}]`))
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte("6"))
		close(sent)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer srv.Close()

	sub, err := Subscribe(context.Background(), wsURL(srv), "block/block", SubscribeOptions{QueueSize: 2})
	require.NoError(t, err)
	defer sub.Close()

	<-sent
	assert.Eventually(t, func() bool { return sub.Dropped() == 3 }, 5*time.Second, 10*time.Millisecond)
	assert.Len(t, sub.Events(), 2)
}

func TestSubscribeDialFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := wsURL(srv)

	_, err := Subscribe(context.Background(), url, "block/block", SubscribeOptions{})
	code, ok := StatusCode(err)
	assert.True(t, ok, "got %v", err)
	assert.Equal(t, http.StatusNotFound, code)

	srv.Close()
	_, err = Subscribe(context.Background(), url, "block/block", SubscribeOptions{})
	assert.True(t, IsTransportError(err), "got %v", err)
}

func TestSubscribeHandshakeTimeout(t *testing.T) {
	defer leaktest.Check(t)()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		<-release
	}))
	defer srv.Close()
	defer close(release)

	_, err := Subscribe(context.Background(), wsURL(srv), "block/block",
		SubscribeOptions{HandshakeTimeout: 100 * time.Millisecond})
	var te *TransportError
	require.True(t, errors.As(err, &te), "got %v", err)
	assert.Equal(t, "handshake", te.Op)
}

func TestDecodeEvent(t *testing.T) {
	testCases := []struct {
		body    string
		name    string
		nargs   int
		wantErr bool
	}{
		{`["block/block",{"hash":"x"}]`, "block/block", 1, false},
		{`12["ack"]`, "ack", 0, false},
		{`/ns,["a",1,2]`, "a", 2, false},
		{`[]`, "", 0, true},
		{`/ns`, "", 0, true},
		{`[1]`, "", 0, true},
		{`{}`, "", 0, true},
	}
	for _, tc := range testCases {
		name, args, err := decodeEvent([]byte(tc.body))
		if tc.wantErr {
			assert.Error(t, err, tc.body)
			continue
		}
		require.NoError(t, err, tc.body)
		assert.Equal(t, tc.name, name)
		assert.Len(t, args, tc.nargs)
	}

	bz, err := encodeEvent("subscribe", "mempool/transaction")
	require.NoError(t, err)
	assert.Equal(t, `42["subscribe","mempool/transaction"]`, string(bz))
}
