// Package correlate ties a push notification to the action that caused it
// and to the query API's view of the same object.
package correlate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/botcore/regtest/internal/check"
	"github.com/botcore/regtest/internal/transport"
	"github.com/botcore/regtest/libs/log"
)

// State of a correlation.
type State int

const (
	Idle State = iota
	Subscribed
	Triggered
	Correlated
	TimedOut
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Subscribed:
		return "subscribed"
	case Triggered:
		return "triggered"
	case Correlated:
		return "correlated"
	case TimedOut:
		return "timed-out"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Stream is a live subscription to one channel.
type Stream interface {
	Events() <-chan transport.Event
	Done() <-chan struct{}
	Err() error
	Close() error

	// Dropped counts notifications discarded because the queue was full.
	Dropped() uint64
}

// SubscribeFunc opens a Stream for channel.
type SubscribeFunc func(ctx context.Context, channel string) (Stream, error)

// Subscriber returns a SubscribeFunc dialing the socket.io endpoint at url.
func Subscriber(url string, opts transport.SubscribeOptions) SubscribeFunc {
	return func(ctx context.Context, channel string) (Stream, error) {
		sub, err := transport.Subscribe(ctx, url, channel, opts)
		if err != nil {
			return nil, err
		}
		return sub, nil
	}
}

// Request describes one correlation.
type Request struct {
	Channel string

	// Trigger performs the action expected to produce a notification and
	// returns the identifier the notification must carry.
	Trigger func(ctx context.Context) (string, error)

	// Confirm looks the pushed identifier up through the query API and
	// returns the identifier the API reports for it.
	Confirm func(ctx context.Context, id string) (string, error)
}

// Result of a successful correlation.
type Result struct {
	Channel   string
	Expected  string
	Pushed    string
	Confirmed string

	// Latency between the trigger returning and the notification arriving.
	Latency time.Duration

	// Notifications lost to a full queue during the run.
	Dropped uint64
}

// TimeoutError is returned when no notification arrived in time.
type TimeoutError struct {
	Channel  string
	Expected string
	Timeout  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("no %s notification for %s within %v", e.Channel, e.Expected, e.Timeout)
}

// Options configures a Correlator.
type Options struct {
	// Timeout bounds the time between subscribing and receiving the
	// notification.
	Timeout time.Duration

	// Settle is waited between subscribing and triggering.
	Settle time.Duration

	Logger log.Logger
}

// Correlator runs correlations one at a time.
type Correlator struct {
	subscribe SubscribeFunc
	opts      Options

	mtx   sync.Mutex
	state State
}

// New returns a Correlator opening streams with subscribe.
func New(subscribe SubscribeFunc, opts Options) *Correlator {
	if opts.Logger == nil {
		opts.Logger = log.NewNopLogger()
	}
	return &Correlator{subscribe: subscribe, opts: opts}
}

// State returns the state of the last (or running) correlation.
func (c *Correlator) State() State {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.state
}

func (c *Correlator) setState(s State) {
	c.mtx.Lock()
	c.state = s
	c.mtx.Unlock()
}

// Run subscribes to req.Channel, runs the trigger and waits for the first
// notification on the channel. The notification must carry the identifier
// the trigger returned, and confirming it through the query API must yield
// the same identifier. Later notifications are ignored.
//
// No notification within the timeout yields a *TimeoutError. A mismatch
// yields a *check.Failure. The confirm query is made once.
func (c *Correlator) Run(ctx context.Context, req Request) (res *Result, err error) {
	if req.Trigger == nil || req.Confirm == nil {
		return nil, errors.New("correlation needs a trigger and a confirm query")
	}
	logger := c.opts.Logger.With("channel", req.Channel)

	c.setState(Idle)
	defer func() {
		var timeout *TimeoutError
		switch {
		case err == nil:
			c.setState(Correlated)
		case errors.As(err, &timeout):
			c.setState(TimedOut)
		default:
			c.setState(Failed)
		}
	}()

	stream, err := c.subscribe(ctx, req.Channel)
	if err != nil {
		return nil, fmt.Errorf("subscribe to %s: %w", req.Channel, err)
	}
	defer stream.Close()
	c.setState(Subscribed)
	logger.Debug("subscribed")

	waitCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	if c.opts.Settle > 0 {
		select {
		case <-time.After(c.opts.Settle):
		case <-waitCtx.Done():
			return nil, c.waitErr(ctx, req.Channel, "")
		}
	}

	expected, err := req.Trigger(waitCtx)
	if err != nil {
		if waitCtx.Err() != nil && ctx.Err() == nil {
			return nil, c.waitErr(ctx, req.Channel, "")
		}
		return nil, fmt.Errorf("trigger %s: %w", req.Channel, err)
	}
	triggered := time.Now()
	c.setState(Triggered)
	logger.Debug("triggered", "expected", expected)

	var ev transport.Event
	select {
	case ev = <-stream.Events():
	case <-stream.Done():
		// events may have been queued before the connection went away
		select {
		case ev = <-stream.Events():
		default:
			return nil, fmt.Errorf("subscription to %s lost before notification: %w", req.Channel, stream.Err())
		}
	case <-waitCtx.Done():
		return nil, c.waitErr(ctx, req.Channel, expected)
	}
	latency := ev.Received.Sub(triggered)
	if latency < 0 {
		latency = 0
	}
	logger.Debug("notified", "hash", ev.Hash, "latency", latency)

	if err := check.Equal(req.Channel+" notification hash", expected, ev.Hash); err != nil {
		return nil, err
	}

	confirmed, err := req.Confirm(ctx, ev.Hash)
	if err != nil {
		return nil, fmt.Errorf("confirm %s %s: %w", req.Channel, ev.Hash, err)
	}
	if err := check.Equal(req.Channel+" confirmed id", ev.Hash, confirmed); err != nil {
		return nil, err
	}

	c.drain(logger, stream)
	dropped := stream.Dropped()
	if dropped > 0 {
		logger.Info("notifications dropped from a full queue", "dropped", dropped)
	}
	return &Result{
		Channel:   req.Channel,
		Expected:  expected,
		Pushed:    ev.Hash,
		Confirmed: confirmed,
		Latency:   latency,
		Dropped:   dropped,
	}, nil
}

func (c *Correlator) waitErr(ctx context.Context, channel, expected string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return &TimeoutError{Channel: channel, Expected: expected, Timeout: c.opts.Timeout}
}

// drain logs notifications that arrived after the first one.
func (c *Correlator) drain(logger log.Logger, stream Stream) {
	for {
		select {
		case ev := <-stream.Events():
			logger.Debug("ignoring later notification", "hash", ev.Hash)
		default:
			return
		}
	}
}
