package bus

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"matchday-chat/go-client/internal/stomp"
)

func testConfig() Config {
	return Config{
		Endpoint:             "ws://bus.test/ws",
		HandshakeTimeout:     200 * time.Millisecond,
		ReconnectInterval:    10 * time.Millisecond,
		ReconnectBackoffMax:  20 * time.Millisecond,
		ReconnectJitterRatio: 0,
		MaxReconnectAttempts: 4,
	}
}

type staticTokens string

func (s staticTokens) Token() (string, error) {
	if s == "" {
		return "", errors.New("no stored token")
	}
	return string(s), nil
}

type validatorFunc func(ctx context.Context, token string) error

func (f validatorFunc) Validate(ctx context.Context, token string) error { return f(ctx, token) }

type fakeSocket struct {
	autoAck bool

	in        chan *stomp.Frame
	closed    chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	written []*stomp.Frame
}

func newFakeSocket(autoAck bool) *fakeSocket {
	return &fakeSocket{
		autoAck: autoAck,
		in:      make(chan *stomp.Frame, 32),
		closed:  make(chan struct{}),
	}
}

func (s *fakeSocket) ReadFrame() (*stomp.Frame, error) {
	select {
	case frame := <-s.in:
		return frame, nil
	case <-s.closed:
		return nil, errors.New("socket closed")
	}
}

func (s *fakeSocket) WriteFrame(frame *stomp.Frame) error {
	select {
	case <-s.closed:
		return errors.New("socket closed")
	default:
	}
	s.mu.Lock()
	s.written = append(s.written, frame)
	s.mu.Unlock()
	if s.autoAck && frame.Command == stomp.CommandConnect {
		s.in <- stomp.NewFrame(stomp.CommandConnected).Set(stomp.HeaderVersion, "1.2")
	}
	return nil
}

func (s *fakeSocket) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

func (s *fakeSocket) deliver(frame *stomp.Frame) {
	s.in <- frame
}

func (s *fakeSocket) writtenFrames() []*stomp.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*stomp.Frame(nil), s.written...)
}

type fakeDialer struct {
	mu     sync.Mutex
	dials  int
	script func(attempt int) (Socket, error)
}

func (d *fakeDialer) Dial(_ context.Context, _, _ string) (Socket, error) {
	d.mu.Lock()
	d.dials++
	attempt := d.dials
	d.mu.Unlock()
	return d.script(attempt)
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func messageFrame(body string) *stomp.Frame {
	frame := stomp.NewFrame(stomp.CommandMessage).
		Set(stomp.HeaderMessageID, "srv-1").
		Set(stomp.HeaderSubscription, "sub-1")
	frame.Body = []byte(body)
	return frame
}

func waitForState(t *testing.T, c *Conn, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.Status().State == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("state never reached %s, last=%s", want, c.Status().State)
}

func TestConnectAuthMissingIsTerminal(t *testing.T) {
	t.Parallel()

	dialer := &fakeDialer{script: func(int) (Socket, error) {
		return newFakeSocket(true), nil
	}}
	conn := New(testConfig(), Options{Dialer: dialer, Tokens: staticTokens("")})
	defer conn.Disconnect()

	err := conn.Connect(context.Background(), "c42")
	if ReasonOf(err) != ReasonAuthMissing {
		t.Fatalf("reason mismatch: got=%s want=%s", ReasonOf(err), ReasonAuthMissing)
	}

	status := conn.Status()
	if status.State != StateFailed || status.Reason != ReasonAuthMissing {
		t.Fatalf("status mismatch: %+v", status)
	}
	// Terminal: no dial may ever happen without a fresh Connect.
	time.Sleep(50 * time.Millisecond)
	if dialer.dialCount() != 0 {
		t.Fatalf("auth failure must not retry, dials=%d", dialer.dialCount())
	}
}

func TestConnectAuthInvalidIsTerminal(t *testing.T) {
	t.Parallel()

	dialer := &fakeDialer{script: func(int) (Socket, error) {
		return newFakeSocket(true), nil
	}}
	rejected := errors.New("session rejected")
	conn := New(testConfig(), Options{
		Dialer:    dialer,
		Tokens:    staticTokens("tok"),
		Validator: validatorFunc(func(context.Context, string) error { return rejected }),
	})
	defer conn.Disconnect()

	err := conn.Connect(context.Background(), "c42")
	if ReasonOf(err) != ReasonAuthInvalid {
		t.Fatalf("reason mismatch: got=%s want=%s", ReasonOf(err), ReasonAuthInvalid)
	}
	time.Sleep(50 * time.Millisecond)
	if dialer.dialCount() != 0 {
		t.Fatalf("auth failure must not retry, dials=%d", dialer.dialCount())
	}
	if state := conn.Status().State; state != StateFailed {
		t.Fatalf("expected failed state, got %s", state)
	}
}

func TestConnectSubscribesAndDeliversInOrder(t *testing.T) {
	t.Parallel()

	sock := newFakeSocket(true)
	dialer := &fakeDialer{script: func(int) (Socket, error) { return sock, nil }}

	var mu sync.Mutex
	var bodies []string
	conn := New(testConfig(), Options{
		Dialer:  dialer,
		Tokens:  staticTokens("tok"),
		Metrics: NewMetrics(prometheus.NewRegistry()),
		OnMessage: func(body []byte) {
			mu.Lock()
			bodies = append(bodies, string(body))
			mu.Unlock()
		},
	})
	defer conn.Disconnect()

	if err := conn.Connect(context.Background(), "c42"); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	waitForState(t, conn, StateConnected)

	frames := sock.writtenFrames()
	if len(frames) < 2 || frames[0].Command != stomp.CommandConnect || frames[1].Command != stomp.CommandSubscribe {
		t.Fatalf("handshake sequence wrong: %+v", frames)
	}
	if got := frames[1].Get(stomp.HeaderDestination); got != "/topic/community/c42" {
		t.Fatalf("subscribe destination mismatch: got=%q", got)
	}
	if auth := frames[0].Get(stomp.HeaderAuthorization); auth != "Bearer tok" {
		t.Fatalf("connect frame missing bearer: got=%q", auth)
	}

	sock.deliver(messageFrame(`{"id":"1","content":"a"}`))
	sock.deliver(messageFrame(`{"id":"2","content":"b"}`))
	sock.deliver(messageFrame(`{"id":"3","content":"c"}`))

	deadline := time.Now().Add(time.Second)
	for {
		mu.Lock()
		n := len(bodies)
		mu.Unlock()
		if n == 3 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("messages not delivered, got %d", n)
		}
		time.Sleep(2 * time.Millisecond)
	}
	mu.Lock()
	defer mu.Unlock()
	for i, want := range []string{`{"id":"1","content":"a"}`, `{"id":"2","content":"b"}`, `{"id":"3","content":"c"}`} {
		if bodies[i] != want {
			t.Fatalf("delivery order broken at %d: got=%q want=%q", i, bodies[i], want)
		}
	}
}

func TestSendRejectedWhileNotConnected(t *testing.T) {
	t.Parallel()

	conn := New(testConfig(), Options{
		Dialer: &fakeDialer{script: func(int) (Socket, error) { return nil, errors.New("down") }},
		Tokens: staticTokens("tok"),
	})
	defer conn.Disconnect()

	if err := conn.Send("hello"); ReasonOf(err) != ReasonSendRejected {
		t.Fatalf("idle send: got=%v want send-rejected", err)
	}
	if err := conn.Send("   "); ReasonOf(err) != ReasonSendRejected {
		t.Fatalf("blank send: got=%v want send-rejected", err)
	}
}

func TestSendPublishesContentOnly(t *testing.T) {
	t.Parallel()

	sock := newFakeSocket(true)
	conn := New(testConfig(), Options{
		Dialer: &fakeDialer{script: func(int) (Socket, error) { return sock, nil }},
		Tokens: staticTokens("tok"),
	})
	defer conn.Disconnect()

	if err := conn.Connect(context.Background(), "c42"); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	waitForState(t, conn, StateConnected)

	if err := conn.Send("match starts soon"); err != nil {
		t.Fatalf("send failed: %v", err)
	}

	frames := sock.writtenFrames()
	sendFrame := frames[len(frames)-1]
	if sendFrame.Command != stomp.CommandSend {
		t.Fatalf("last frame is %s, want SEND", sendFrame.Command)
	}
	if got := sendFrame.Get(stomp.HeaderDestination); got != "/app/community/c42/send" {
		t.Fatalf("send destination mismatch: got=%q", got)
	}
	var payload map[string]any
	if err := json.Unmarshal(sendFrame.Body, &payload); err != nil {
		t.Fatalf("send body is not JSON: %v", err)
	}
	if payload["content"] != "match starts soon" {
		t.Fatalf("content mismatch: %v", payload)
	}
	if len(payload) != 1 {
		t.Fatalf("outbound payload must carry content only, got %v", payload)
	}
}

func TestHandshakeTimeoutThenRecovers(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.HandshakeTimeout = 30 * time.Millisecond
	dialer := &fakeDialer{script: func(attempt int) (Socket, error) {
		// First socket never acks the CONNECT frame.
		return newFakeSocket(attempt > 1), nil
	}}
	conn := New(cfg, Options{Dialer: dialer, Tokens: staticTokens("tok")})
	defer conn.Disconnect()

	if err := conn.Connect(context.Background(), "c42"); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	waitForState(t, conn, StateConnected)
	if dialer.dialCount() < 2 {
		t.Fatalf("expected a retry after handshake timeout, dials=%d", dialer.dialCount())
	}
}

func TestReconnectAfterTransportError(t *testing.T) {
	t.Parallel()

	var socks []*fakeSocket
	var mu sync.Mutex
	dialer := &fakeDialer{script: func(int) (Socket, error) {
		sock := newFakeSocket(true)
		mu.Lock()
		socks = append(socks, sock)
		mu.Unlock()
		return sock, nil
	}}
	conn := New(testConfig(), Options{Dialer: dialer, Tokens: staticTokens("tok")})
	defer conn.Disconnect()

	if err := conn.Connect(context.Background(), "c42"); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	waitForState(t, conn, StateConnected)

	mu.Lock()
	first := socks[0]
	mu.Unlock()
	_ = first.Close()

	deadline := time.Now().Add(2 * time.Second)
	for dialer.dialCount() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("no reconnect after socket drop")
		}
		time.Sleep(2 * time.Millisecond)
	}
	waitForState(t, conn, StateConnected)
}

func TestRetriesExhaustedBecomeOffline(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.MaxReconnectAttempts = 3
	dialer := &fakeDialer{script: func(int) (Socket, error) { return nil, errors.New("backend down") }}
	conn := New(cfg, Options{Dialer: dialer, Tokens: staticTokens("tok")})
	defer conn.Disconnect()

	if err := conn.Connect(context.Background(), "c42"); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	waitForState(t, conn, StateFailed)

	status := conn.Status()
	if status.Reason != ReasonOffline {
		t.Fatalf("reason mismatch: got=%s want=%s", status.Reason, ReasonOffline)
	}
	if dialer.dialCount() != 3 {
		t.Fatalf("dial count mismatch: got=%d want=3", dialer.dialCount())
	}
}

func TestDisconnectIsIdempotentAndFinal(t *testing.T) {
	t.Parallel()

	sock := newFakeSocket(true)
	var mu sync.Mutex
	delivered := 0
	conn := New(testConfig(), Options{
		Dialer: &fakeDialer{script: func(int) (Socket, error) { return sock, nil }},
		Tokens: staticTokens("tok"),
		OnMessage: func([]byte) {
			mu.Lock()
			delivered++
			mu.Unlock()
		},
	})

	if err := conn.Connect(context.Background(), "c42"); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	waitForState(t, conn, StateConnected)

	conn.Disconnect()
	conn.Disconnect()

	if state := conn.Status().State; state != StateClosing {
		t.Fatalf("expected closing state, got %s", state)
	}

	// A frame buffered in the transport after teardown must not surface.
	select {
	case sock.in <- messageFrame(`{"id":"late","content":"x"}`):
	default:
	}
	time.Sleep(30 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if delivered != 0 {
		t.Fatalf("messages delivered after disconnect: %d", delivered)
	}
}

func TestConnectReuseRejected(t *testing.T) {
	t.Parallel()

	conn := New(testConfig(), Options{
		Dialer: &fakeDialer{script: func(int) (Socket, error) { return newFakeSocket(true), nil }},
		Tokens: staticTokens("tok"),
	})
	defer conn.Disconnect()

	if err := conn.Connect(context.Background(), ""); !errors.Is(err, errEmptyTopic) {
		t.Fatalf("empty topic: got=%v", err)
	}
	if err := conn.Connect(context.Background(), "c42"); err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	if err := conn.Connect(context.Background(), "c42"); !errors.Is(err, errAlreadyStarted) {
		t.Fatalf("reuse: got=%v", err)
	}
}
