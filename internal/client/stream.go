package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"staking-ledger/internal/domain"
)

// StreamConfig configures event subscriptions.
type StreamConfig struct {
	// ReconnectDelay is initial delay before reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// ReadTimeout is how long the server may stay silent, pings included.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing control frames.
	WriteTimeout time.Duration
	// Buffer is the capacity of the events channel.
	Buffer int
}

// DefaultStreamConfig returns default subscription configuration.
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		ReadTimeout:       90 * time.Second,
		WriteTimeout:      10 * time.Second,
		Buffer:            1024,
	}
}

// Subscription delivers the events of one pool in Seq order. After a dropped
// connection it reconnects and resumes after the last delivered Seq, so no
// event is missed or repeated.
type Subscription struct {
	config  StreamConfig
	baseURL string
	pool    domain.Pubkey

	events chan *domain.Event
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	conn    *websocket.Conn
	lastSeq uint64
	err     error
}

// Subscribe streams the events of pool with Seq > afterSeq. The first
// connection is made before Subscribe returns.
func (c *Client) Subscribe(ctx context.Context, pool domain.Pubkey, afterSeq uint64, config *StreamConfig) (*Subscription, error) {
	cfg := DefaultStreamConfig()
	if config != nil {
		cfg = *config
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &Subscription{
		config:  cfg,
		baseURL: "ws" + strings.TrimPrefix(c.baseURL, "http"),
		pool:    pool,
		events:  make(chan *domain.Event, cfg.Buffer),
		cancel:  cancel,
		done:    make(chan struct{}),
		lastSeq: afterSeq,
	}

	conn, err := s.dial(ctx)
	if err != nil {
		cancel()
		return nil, err
	}

	go s.run(ctx, conn)
	return s, nil
}

// Events returns the channel of received events. It is closed when the
// subscription ends.
func (s *Subscription) Events() <-chan *domain.Event {
	return s.events
}

// Err returns the error that ended the subscription, if any.
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// LastSeq returns the Seq of the last delivered event.
func (s *Subscription) LastSeq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeq
}

// Close ends the subscription and waits for it to stop.
func (s *Subscription) Close() {
	s.cancel()
	s.mu.Lock()
	if s.conn != nil {
		s.conn.Close()
	}
	s.mu.Unlock()
	<-s.done
}

func (s *Subscription) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	endpoint := s.baseURL + poolPath(s.pool, "/events/stream") + "?after_seq=" + strconv.FormatUint(s.LastSeq(), 10)
	conn, resp, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		if resp != nil {
			// The server answered: retrying will not help.
			return nil, &permanentError{fmt.Errorf("websocket dial: %w (status %d)", err, resp.StatusCode)}
		}
		return nil, fmt.Errorf("websocket dial: %w", err)
	}

	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(s.config.WriteTimeout))
	})

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	return conn, nil
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func (s *Subscription) run(ctx context.Context, conn *websocket.Conn) {
	defer close(s.done)
	defer close(s.events)

	delay := s.config.ReconnectDelay
	for {
		err := s.readLoop(ctx, conn)
		conn.Close()
		if ctx.Err() != nil {
			return
		}

		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}

			conn, err = s.dial(ctx)
			if err == nil {
				delay = s.config.ReconnectDelay
				break
			}
			var perm *permanentError
			if errors.As(err, &perm) {
				s.fail(err)
				return
			}
			delay *= 2
			if delay > s.config.MaxReconnectDelay {
				delay = s.config.MaxReconnectDelay
			}
		}
	}
}

func (s *Subscription) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var ev domain.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			return fmt.Errorf("decode event: %w", err)
		}

		s.mu.Lock()
		if ev.Seq <= s.lastSeq {
			s.mu.Unlock()
			continue
		}
		s.lastSeq = ev.Seq
		s.mu.Unlock()

		select {
		case s.events <- &ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Subscription) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}
