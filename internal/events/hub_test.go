package events

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"staking-ledger/internal/domain"
)

func poolEvent(pool domain.Pubkey, seq uint64) *domain.Event {
	return &domain.Event{
		ID:        "ev",
		Pool:      pool,
		Seq:       seq,
		Kind:      domain.EventStake,
		Timestamp: int64(seq),
		Payload:   domain.StakeEvent{Amount: seq},
	}
}

func startHub(t *testing.T, pool domain.Pubkey, backlog Backlog) (*Hub, *websocket.Conn) {
	t.Helper()

	hub := NewHub(nil, log.New(io.Discard, "", 0))
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.Serve(w, r, pool, 0, backlog)
	}))
	t.Cleanup(server.Close)

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return hub, conn
}

func readEvent(t *testing.T, conn *websocket.Conn) *domain.Event {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}
	var e domain.Event
	if err := json.Unmarshal(data, &e); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	return &e
}

// eventLog is an in-memory event log that backlogs read from.
type eventLog struct {
	mu     sync.Mutex
	events []*domain.Event
}

func (l *eventLog) append(events ...*domain.Event) {
	l.mu.Lock()
	l.events = append(l.events, events...)
	l.mu.Unlock()
}

func (l *eventLog) backlog(_ context.Context, afterSeq uint64) ([]*domain.Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*domain.Event
	for _, e := range l.events {
		if e.Seq > afterSeq {
			out = append(out, e)
		}
	}
	return out, nil
}

func logOf(events ...*domain.Event) Backlog {
	l := &eventLog{}
	l.append(events...)
	return l.backlog
}

func waitForClients(t *testing.T, hub *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for hub.Clients() != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d clients, have %d", n, hub.Clients())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHub_StreamsBacklogThenLiveEvents(t *testing.T) {
	var pool, other domain.Pubkey
	pool[0], other[0] = 1, 2

	backlog := logOf(poolEvent(pool, 1), poolEvent(pool, 2))
	hub, conn := startHub(t, pool, backlog)

	for want := uint64(1); want <= 2; want++ {
		if e := readEvent(t, conn); e.Seq != want {
			t.Fatalf("backlog seq = %d, want %d", e.Seq, want)
		}
	}

	// seq 2 is already covered by the backlog; other pools are filtered.
	if err := hub.Publish(context.Background(), []*domain.Event{
		poolEvent(pool, 2),
		poolEvent(other, 3),
		poolEvent(pool, 3),
	}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	e := readEvent(t, conn)
	if e.Seq != 3 || e.Pool != pool {
		t.Fatalf("got pool=%s seq=%d, want pool=%s seq=3", e.Pool, e.Seq, pool)
	}
	payload, ok := e.Payload.(domain.StakeEvent)
	if !ok || payload.Amount != 3 {
		t.Errorf("unexpected payload %#v", e.Payload)
	}
}

func TestHub_ClientDisconnect(t *testing.T) {
	var pool domain.Pubkey
	pool[0] = 1

	hub, conn := startHub(t, pool, nil)
	waitForClients(t, hub, 1)

	conn.Close()
	waitForClients(t, hub, 0)
}

func TestHub_Close(t *testing.T) {
	var pool domain.Pubkey
	pool[0] = 1

	hub, conn := startHub(t, pool, nil)
	waitForClients(t, hub, 1)

	hub.Close()
	if hub.Clients() != 0 {
		t.Fatalf("expected no clients after Close, have %d", hub.Clients())
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Fatalf("expected going-away close, got %v", err)
	}
}

func TestHub_OutOfOrderPublishFillsGapFromLog(t *testing.T) {
	var pool domain.Pubkey
	pool[0] = 1

	store := &eventLog{}
	hub, conn := startHub(t, pool, store.backlog)
	waitForClients(t, hub, 1)

	// Three commits land in the log; their batches reach the hub as 2, 1, 3.
	e1, e2, e3 := poolEvent(pool, 1), poolEvent(pool, 2), poolEvent(pool, 3)
	store.append(e1, e2)
	for _, batch := range [][]*domain.Event{{e2}, {e1}} {
		if err := hub.Publish(context.Background(), batch); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
	}
	store.append(e3)
	if err := hub.Publish(context.Background(), []*domain.Event{e3}); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	for want := uint64(1); want <= 3; want++ {
		if e := readEvent(t, conn); e.Seq != want {
			t.Fatalf("seq = %d, want %d", e.Seq, want)
		}
	}

	// Nothing is delivered twice.
	conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, data, err := conn.ReadMessage(); err == nil {
		t.Fatalf("unexpected extra frame %s", data)
	}
}

func TestHub_ResumesAfterSeq(t *testing.T) {
	var pool domain.Pubkey
	pool[0] = 1

	store := &eventLog{}
	store.append(poolEvent(pool, 1), poolEvent(pool, 2), poolEvent(pool, 3))

	hub := NewHub(nil, nil)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.Serve(w, r, pool, 2, store.backlog)
	}))
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()

	if e := readEvent(t, conn); e.Seq != 3 {
		t.Fatalf("first seq = %d, want 3", e.Seq)
	}
}
