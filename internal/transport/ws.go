package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/botcore/regtest/libs/log"
)

const (
	defaultQueueSize        = 16
	defaultHandshakeTimeout = 10 * time.Second
	defaultWriteWait        = 10 * time.Second
	defaultPingInterval     = 25 * time.Second
	defaultPingTimeout      = 60 * time.Second
)

// ErrSubscriptionClosed is reported by Err after Close.
var ErrSubscriptionClosed = errors.New("subscription closed")

// Event is a single push notification received on a subscribed channel.
type Event struct {
	Channel  string
	Hash     string
	Payload  []byte
	Received time.Time
}

// SubscribeOptions tunes a Subscription. Zero values select defaults.
type SubscribeOptions struct {
	// Capacity of the event queue. Events arriving while it is full are
	// dropped.
	QueueSize        int
	HandshakeTimeout time.Duration
	WriteWait        time.Duration
	Logger           log.Logger
}

// Subscription is a live push channel on a socket.io server.
//
// Events are delivered on Events until the connection ends, at which point
// Done is closed and Err reports why. There is no reconnect.
type Subscription struct {
	channel string
	url     string
	conn    *websocket.Conn
	logger  log.Logger

	writeWait    time.Duration
	pingInterval time.Duration
	readWait     time.Duration

	events chan Event
	quit   chan struct{}
	done   chan struct{}

	writeMtx  sync.Mutex
	mtx       sync.Mutex
	err       error
	closeOnce sync.Once
	dropped   uint64
}

// Subscribe dials the socket.io endpoint at rawURL, completes the
// handshake and subscribes to channel. ctx bounds the dial and handshake
// only; the subscription lives until Close or until the connection ends.
func Subscribe(ctx context.Context, rawURL, channel string, opts SubscribeOptions) (*Subscription, error) {
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = defaultHandshakeTimeout
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = defaultWriteWait
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNopLogger()
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: opts.HandshakeTimeout,
	}
	conn, resp, err := dialer.DialContext(ctx, rawURL, nil)
	if err != nil {
		if resp != nil {
			return nil, &ProtocolError{StatusCode: resp.StatusCode, URL: rawURL, Err: err}
		}
		return nil, &TransportError{Op: "dial", URL: rawURL, Err: err}
	}

	s := &Subscription{
		channel:   channel,
		url:       rawURL,
		conn:      conn,
		logger:    opts.Logger.With("channel", channel),
		writeWait: opts.WriteWait,
		events:    make(chan Event, opts.QueueSize),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
	}

	deadline := time.Now().Add(opts.HandshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := s.handshake(deadline); err != nil {
		conn.Close()
		return nil, err
	}

	subscribe, err := encodeEvent("subscribe", channel)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := s.write(subscribe); err != nil {
		conn.Close()
		return nil, &TransportError{Op: "subscribe", URL: rawURL, Err: err}
	}
	s.logger.Debug("subscribed")

	var wg sync.WaitGroup
	readQuit := make(chan struct{})
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer close(readQuit)
		s.readRoutine()
	}()
	go func() {
		defer wg.Done()
		s.pingRoutine(readQuit)
	}()
	go func() {
		wg.Wait()
		close(s.done)
	}()

	return s, nil
}

// handshake reads the engine.io open packet and waits for the server to
// acknowledge the default namespace.
func (s *Subscription) handshake(deadline time.Time) error {
	if err := s.conn.SetReadDeadline(deadline); err != nil {
		return &TransportError{Op: "handshake", URL: s.url, Err: err}
	}

	_, msg, err := s.conn.ReadMessage()
	if err != nil {
		return &TransportError{Op: "handshake", URL: s.url, Err: err}
	}
	h, err := decodeHandshake(msg)
	if err != nil {
		return &ProtocolError{URL: s.url, Err: err}
	}

	s.pingInterval = h.pingInterval()
	if s.pingInterval <= 0 {
		s.pingInterval = defaultPingInterval
	}
	pingTimeout := h.pingTimeout()
	if pingTimeout <= 0 {
		pingTimeout = defaultPingTimeout
	}
	s.readWait = s.pingInterval + pingTimeout

	for {
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			return &TransportError{Op: "handshake", URL: s.url, Err: err}
		}
		switch {
		case len(msg) >= 2 && msg[0] == engineMessage && msg[1] == socketConnect:
			return s.conn.SetReadDeadline(time.Time{})
		case len(msg) >= 2 && msg[0] == engineMessage && msg[1] == socketError:
			return &ProtocolError{URL: s.url, Body: truncate(msg[2:]), Err: errors.New("connect refused")}
		case len(msg) >= 1 && msg[0] == engineClose:
			return &TransportError{Op: "handshake", URL: s.url, Err: errors.New("server closed the session")}
		default:
			s.logger.Debug("ignoring packet before connect", "packet", truncate(msg))
		}
	}
}

// Events returns the queue of received events. It is never closed; select
// on Done as well.
func (s *Subscription) Events() <-chan Event { return s.events }

// Done is closed once the connection has ended.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Err reports why the subscription ended. It returns nil while it is live.
func (s *Subscription) Err() error {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return s.err
}

// Dropped returns how many events were discarded because the queue was full.
func (s *Subscription) Dropped() uint64 { return atomic.LoadUint64(&s.dropped) }

// Close ends the subscription and waits for its goroutines to exit. It is
// safe to call more than once.
func (s *Subscription) Close() error {
	s.closeOnce.Do(func() {
		s.setErr(ErrSubscriptionClosed)
		close(s.quit)

		s.writeMtx.Lock()
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.writeWait))
		_ = s.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		s.writeMtx.Unlock()

		s.conn.Close()
	})
	<-s.done
	return nil
}

func (s *Subscription) setErr(err error) {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *Subscription) write(msg []byte) error {
	s.writeMtx.Lock()
	defer s.writeMtx.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeWait)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, msg)
}

// The subscription ensures that there is at most one reader of the
// connection by executing all reads from this goroutine.
func (s *Subscription) readRoutine() {
	defer s.conn.Close()

	for {
		if err := s.conn.SetReadDeadline(time.Now().Add(s.readWait)); err != nil {
			s.setErr(&TransportError{Op: "read", URL: s.url, Err: err})
			return
		}
		mt, msg, err := s.conn.ReadMessage()
		if err != nil {
			s.setErr(&TransportError{Op: "read", URL: s.url, Err: err})
			return
		}
		if mt != websocket.TextMessage || len(msg) == 0 {
			continue
		}

		switch msg[0] {
		case enginePong, engineNoop:
		case enginePing:
			if err := s.write([]byte{enginePong}); err != nil {
				s.setErr(&TransportError{Op: "write", URL: s.url, Err: err})
				return
			}
		case engineClose:
			s.setErr(&TransportError{Op: "read", URL: s.url, Err: errors.New("server closed the session")})
			return
		case engineMessage:
			if err := s.handleMessage(msg[1:]); err != nil {
				s.setErr(err)
				return
			}
		default:
			s.logger.Debug("ignoring packet", "packet", truncate(msg))
		}
	}
}

func (s *Subscription) handleMessage(body []byte) error {
	if len(body) == 0 {
		return nil
	}
	switch body[0] {
	case socketEvent:
		name, args, err := decodeEvent(body[1:])
		if err != nil {
			s.logger.Error("failed to parse event", "err", err, "data", truncate(body))
			return nil
		}
		if name != s.channel {
			s.logger.Debug("ignoring event for another channel", "event", name)
			return nil
		}
		ev := Event{Channel: name, Received: time.Now()}
		if len(args) > 0 {
			ev.Payload = args[0]
			ev.Hash = eventHash(args[0])
		}
		select {
		case s.events <- ev:
		default:
			atomic.AddUint64(&s.dropped, 1)
			s.logger.Debug("event queue full, dropping event", "hash", ev.Hash)
		}
	case socketDisconnect:
		return &TransportError{Op: "read", URL: s.url, Err: errors.New("server disconnected the namespace")}
	case socketError:
		return &ProtocolError{URL: s.url, Body: truncate(body[1:]), Err: fmt.Errorf("socket error")}
	}
	return nil
}

// pingRoutine keeps the engine.io session alive. engine.io v3 clients ping
// and the server answers with a pong.
func (s *Subscription) pingRoutine(readQuit <-chan struct{}) {
	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.write([]byte{enginePing}); err != nil {
				s.setErr(&TransportError{Op: "write", URL: s.url, Err: err})
				s.conn.Close()
				return
			}
		case <-readQuit:
			return
		case <-s.quit:
			return
		}
	}
}
