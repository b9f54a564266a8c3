package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/calldeck/calldeck/internal/protocol"
)

var testUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// pongServer answers every ping envelope with a pong echoing its timestamp.
func pongServer(t *testing.T) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		defer conn.Close()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			env, err := protocol.Decode(data)
			if err != nil || env.Type != protocol.TypePing {
				continue
			}
			reply, _ := protocol.NewPong(env.Timestamp).Encode()
			if err := conn.WriteMessage(websocket.TextMessage, reply); err != nil {
				return
			}
		}
	}))
}

// dropServer upgrades each connection, records its arrival time, and closes
// it immediately, driving the client's reconnect path.
func dropServer(t *testing.T) (*httptest.Server, func() []time.Time) {
	t.Helper()
	var mu sync.Mutex
	var arrivals []time.Time
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		arrivals = append(arrivals, time.Now())
		mu.Unlock()
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.Close()
	}))
	return srv, func() []time.Time {
		mu.Lock()
		defer mu.Unlock()
		out := make([]time.Time, len(arrivals))
		copy(out, arrivals)
		return out
	}
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestChannel_ConnectPingPong(t *testing.T) {
	srv := pongServer(t)
	defer srv.Close()

	ch := NewChannel(Options{ServerURL: wsURL(srv), Logger: zap.NewNop()})

	pongs := make(chan protocol.Envelope, 1)
	ch.On(protocol.TypePong, func(env protocol.Envelope) { pongs <- env })

	if err := ch.Connect(context.Background(), "session-ping"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer ch.Disconnect()

	if got := ch.State(); got != StateOpen {
		t.Fatalf("expected state open after connect, got %s", got)
	}

	ping := protocol.NewPing()
	if err := ch.Send(ping); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	select {
	case pong := <-pongs:
		if pong.Timestamp != ping.Timestamp {
			t.Errorf("expected pong timestamp %d, got %d", ping.Timestamp, pong.Timestamp)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("pong not received within timeout")
	}
}

func TestChannel_SendWhileNotOpenIsNoOp(t *testing.T) {
	ch := NewChannel(Options{ServerURL: "ws://localhost:1", Logger: zap.NewNop()})

	if err := ch.Send(protocol.NewPing()); err != nil {
		t.Errorf("Send on idle channel must be a no-op, got error: %v", err)
	}
	if err := ch.SendBinary([]byte{1, 2, 3}); err != nil {
		t.Errorf("SendBinary on idle channel must be a no-op, got error: %v", err)
	}
	if ch.BytesSent() != 0 {
		t.Errorf("dropped sends must not count as sent bytes, got %d", ch.BytesSent())
	}
}

func TestChannel_ConnectFailureDoesNotRetry(t *testing.T) {
	// Nothing listens on this port; the initial dial must reject without
	// entering the reconnect loop.
	ch := NewChannel(Options{
		ServerURL:   "ws://127.0.0.1:1",
		BaseDelay:   10 * time.Millisecond,
		MaxAttempts: 3,
		Logger:      zap.NewNop(),
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := ch.Connect(ctx, "session-refused"); err == nil {
		t.Fatal("expected connect error")
	}
	if got := ch.State(); got != StateIdle {
		t.Errorf("expected idle state after failed connect, got %s", got)
	}
}

// failAfterFirstDial wires the channel to a drop server for its first dial
// and fails every later dial at the transport level, recording when each
// dial happened. A successful re-open would reset the attempt counter, so
// exhaustion is only reachable through failing dials.
func failAfterFirstDial(ch *Channel) func() []time.Time {
	var mu sync.Mutex
	var times []time.Time
	realDial := ch.dialFn
	first := true

	ch.dialFn = func(ctx context.Context, url string, header http.Header) (*websocket.Conn, error) {
		mu.Lock()
		times = append(times, time.Now())
		isFirst := first
		first = false
		mu.Unlock()
		if isFirst {
			return realDial(ctx, url, header)
		}
		return nil, context.DeadlineExceeded
	}
	return func() []time.Time {
		mu.Lock()
		defer mu.Unlock()
		out := make([]time.Time, len(times))
		copy(out, times)
		return out
	}
}

func TestChannel_ReconnectBackoffAndTerminalError(t *testing.T) {
	srv, _ := dropServer(t)
	defer srv.Close()

	base := 20 * time.Millisecond
	maxAttempts := 3
	ch := NewChannel(Options{
		ServerURL:   wsURL(srv),
		BaseDelay:   base,
		MaxAttempts: maxAttempts,
		Logger:      zap.NewNop(),
	})
	dialTimes := failAfterFirstDial(ch)

	terminal := make(chan protocol.Envelope, 1)
	ch.On(protocol.TypeError, func(env protocol.Envelope) { terminal <- env })

	if err := ch.Connect(context.Background(), "session-drop"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	select {
	case env := <-terminal:
		if env.Message == "" {
			t.Error("terminal error envelope missing message")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("terminal error not surfaced after reconnect exhaustion")
	}

	if got := ch.State(); got != StateClosed {
		t.Errorf("expected closed state after exhaustion, got %s", got)
	}

	// Initial dial plus exactly maxAttempts reconnect dials.
	times := dialTimes()
	if len(times) != maxAttempts+1 {
		t.Fatalf("expected %d dials, got %d", maxAttempts+1, len(times))
	}

	// Linear backoff: reconnect attempt n fires no earlier than n*base
	// after the previous failure. Timers never fire early, so lower bounds
	// are safe to assert even on a loaded machine.
	for i := 1; i < len(times); i++ {
		gap := times[i].Sub(times[i-1])
		minGap := time.Duration(i) * base
		if gap < minGap {
			t.Errorf("attempt %d fired after %v, expected at least %v", i, gap, minGap)
		}
	}
}

func TestChannel_DisconnectCancelsPendingReconnect(t *testing.T) {
	srv, _ := dropServer(t)
	defer srv.Close()

	ch := NewChannel(Options{
		ServerURL:   wsURL(srv),
		BaseDelay:   80 * time.Millisecond,
		MaxAttempts: 5,
		Logger:      zap.NewNop(),
	})
	dialTimes := failAfterFirstDial(ch)

	if err := ch.Connect(context.Background(), "session-cancel"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	// Wait for the drop to be observed and a reconnect to be pending.
	deadline := time.Now().Add(2 * time.Second)
	for ch.State() != StateConnecting && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	ch.Disconnect()

	if got := ch.State(); got != StateClosed {
		t.Fatalf("expected closed state after disconnect, got %s", got)
	}

	// The pending timer must be cancelled: only the initial dial happened.
	time.Sleep(300 * time.Millisecond)
	if got := len(dialTimes()); got != 1 {
		t.Errorf("expected no reconnect dial after disconnect, got %d", got)
	}
}

func TestChannel_DisconnectIsIdempotent(t *testing.T) {
	srv := pongServer(t)
	defer srv.Close()

	ch := NewChannel(Options{ServerURL: wsURL(srv), Logger: zap.NewNop()})
	if err := ch.Connect(context.Background(), "session-idem"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	ch.Disconnect()
	ch.Disconnect()

	if got := ch.State(); got != StateClosed {
		t.Errorf("expected closed state, got %s", got)
	}
}

func TestChannel_ReconnectReusesSessionID(t *testing.T) {
	var mu sync.Mutex
	var paths []string
	firstDropped := false

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		dropThis := !firstDropped
		firstDropped = true
		mu.Unlock()

		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		if dropThis {
			conn.Close()
			return
		}
		// Hold the second connection open.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				conn.Close()
				return
			}
		}
	}))
	defer srv.Close()

	ch := NewChannel(Options{
		ServerURL:   wsURL(srv),
		BaseDelay:   10 * time.Millisecond,
		MaxAttempts: 5,
		Logger:      zap.NewNop(),
	})
	if err := ch.Connect(context.Background(), "session-sticky"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer ch.Disconnect()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(paths)
		mu.Unlock()
		if n >= 2 && ch.State() == StateOpen {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(paths) < 2 {
		t.Fatalf("expected a reconnect, saw %d connections", len(paths))
	}
	for _, p := range paths {
		if p != "/ws/session-sticky" {
			t.Errorf("reconnect used path %q, expected /ws/session-sticky", p)
		}
	}
}
