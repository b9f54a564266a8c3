package wsserver

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/calldeck/calldeck/internal/auth"
	"github.com/calldeck/calldeck/internal/journal"
	"github.com/calldeck/calldeck/internal/metrics"
	"github.com/calldeck/calldeck/internal/protocol"
	"github.com/calldeck/calldeck/internal/registry"
	"github.com/calldeck/calldeck/internal/transcribe"
	"github.com/calldeck/calldeck/internal/transport"
)

type testServer struct {
	http    *httptest.Server
	factory *transcribe.MockFactory
	journal *journal.Memory
}

func newTestServer(t *testing.T, secret string) *testServer {
	t.Helper()

	factory := transcribe.NewMockFactory()
	mem := journal.NewMemory()
	reg := registry.New(registry.Options{
		Transcriber: factory,
		Journal:     mem,
		Metrics:     metrics.New(prometheus.NewRegistry()),
		Logger:      zap.NewNop(),
	})

	e := echo.New()
	srv := New(reg, auth.NewVerifier(secret), zap.NewNop())
	e.GET("/ws/:session_id", srv.Handle)

	ts := httptest.NewServer(e)
	t.Cleanup(ts.Close)
	return &testServer{http: ts, factory: factory, journal: mem}
}

func (s *testServer) wsURL() string {
	return "ws" + strings.TrimPrefix(s.http.URL, "http")
}

func newTestChannel(s *testServer, token string) *transport.Channel {
	return transport.NewChannel(transport.Options{
		ServerURL:   s.wsURL(),
		Token:       token,
		BaseDelay:   20 * time.Millisecond,
		MaxAttempts: 1,
		Logger:      zap.NewNop(),
	})
}

func collect(ch *transport.Channel, t protocol.Type) chan protocol.Envelope {
	out := make(chan protocol.Envelope, 16)
	ch.On(t, func(env protocol.Envelope) { out <- env })
	return out
}

func waitEnvelope(t *testing.T, ch chan protocol.Envelope, what string) protocol.Envelope {
	t.Helper()
	select {
	case env := <-ch:
		return env
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
		return protocol.Envelope{}
	}
}

func TestServer_ConnectStreamAndStop(t *testing.T) {
	srv := newTestServer(t, "")
	ch := newTestChannel(srv, "")

	conns := collect(ch, protocol.TypeConnection)
	acks := collect(ch, protocol.TypeAudioAck)
	transcripts := collect(ch, protocol.TypeTranscription)
	stopped := collect(ch, protocol.TypeStopped)

	if err := ch.Connect(context.Background(), "it-1"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer ch.Disconnect()

	conn := waitEnvelope(t, conns, "connection envelope")
	if conn.SessionID != "it-1" {
		t.Errorf("expected session it-1, got %q", conn.SessionID)
	}
	if conn.TranscriptionEnabled == nil || !*conn.TranscriptionEnabled {
		t.Error("expected transcription advertised on the connection envelope")
	}

	// Ten chunks trigger exactly one acknowledgement.
	for i := 0; i < 10; i++ {
		if err := ch.SendBinary(make([]byte, 320)); err != nil {
			t.Fatalf("SendBinary failed: %v", err)
		}
	}
	ack := waitEnvelope(t, acks, "audio ack")
	if ack.ChunksReceived != 10 || ack.TotalBytes != 3200 {
		t.Errorf("unexpected ack: %+v", ack)
	}

	// A recognition event flows back as a transcription envelope.
	bridge := srv.factory.Bridge("it-1")
	if bridge == nil {
		t.Fatal("expected a bridge for the session")
	}
	bridge.Emit(transcribe.Result{Transcript: "hello there", IsFinal: true, Confidence: 0.9})
	tr := waitEnvelope(t, transcripts, "transcription envelope")
	if tr.Transcript != "hello there" || !tr.IsFinal {
		t.Errorf("unexpected transcription: %+v", tr)
	}

	// Stop is confirmed before the connection goes away.
	if err := ch.Send(protocol.NewStop()); err != nil {
		t.Fatalf("Send stop failed: %v", err)
	}
	waitEnvelope(t, stopped, "stopped envelope")

	if rec := srv.journal.Call("it-1"); rec == nil || len(rec.Lines) != 1 {
		t.Errorf("expected one journaled final line, got %+v", rec)
	}
}

func TestServer_PingPongRoundTrip(t *testing.T) {
	srv := newTestServer(t, "")
	ch := newTestChannel(srv, "")

	pongs := collect(ch, protocol.TypePong)

	if err := ch.Connect(context.Background(), "it-ping"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer ch.Disconnect()

	ping := protocol.NewPing()
	if err := ch.Send(ping); err != nil {
		t.Fatalf("Send ping failed: %v", err)
	}
	pong := waitEnvelope(t, pongs, "pong")
	if pong.Timestamp != ping.Timestamp {
		t.Errorf("expected echoed timestamp %d, got %d", ping.Timestamp, pong.Timestamp)
	}
}

func TestServer_RejectsInvalidToken(t *testing.T) {
	srv := newTestServer(t, "integration-secret")

	ch := newTestChannel(srv, "bogus")
	if err := ch.Connect(context.Background(), "it-auth"); err == nil {
		ch.Disconnect()
		t.Fatal("expected handshake rejection with a bogus token")
	}
}

func TestServer_AcceptsValidToken(t *testing.T) {
	srv := newTestServer(t, "integration-secret")

	token, err := auth.NewVerifier("integration-secret").GenerateCallToken("user-7")
	if err != nil {
		t.Fatalf("GenerateCallToken failed: %v", err)
	}

	ch := newTestChannel(srv, token)
	conns := collect(ch, protocol.TypeConnection)
	if err := ch.Connect(context.Background(), "it-auth"); err != nil {
		t.Fatalf("Connect with valid token failed: %v", err)
	}
	defer ch.Disconnect()
	waitEnvelope(t, conns, "connection envelope")
}

func TestServer_DuplicateSessionRejected(t *testing.T) {
	srv := newTestServer(t, "")

	first := newTestChannel(srv, "")
	if err := first.Connect(context.Background(), "it-dup"); err != nil {
		t.Fatalf("first Connect failed: %v", err)
	}
	defer first.Disconnect()

	second := newTestChannel(srv, "")
	errs := collect(second, protocol.TypeError)
	if err := second.Connect(context.Background(), "it-dup"); err != nil {
		t.Fatalf("second Connect failed at handshake: %v", err)
	}
	defer second.Disconnect()

	env := waitEnvelope(t, errs, "duplicate session error envelope")
	if env.Message == "" {
		t.Error("expected an error message on the duplicate claim")
	}
}
