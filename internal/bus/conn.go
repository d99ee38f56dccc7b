// Package bus owns the lifecycle of one live message-bus connection per
// community topic: authenticate, dial, STOMP handshake, subscribe, publish,
// reconnect with capped backoff, tear down. One Conn serves one screen
// instance; a remounted screen builds a fresh Conn.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"matchday-chat/go-client/internal/stomp"
)

type State string

const (
	StateIdle           State = "idle"
	StateAuthenticating State = "authenticating"
	StateConnecting     State = "connecting"
	StateConnected      State = "connected"
	StateReconnecting   State = "reconnecting"
	StateClosing        State = "closing"
	StateFailed         State = "failed"
)

// Status is a snapshot for the owning screen. LastError is a readable
// string because the consumer is a UI layer, not a caller that branches
// on error values.
type Status struct {
	State            State
	Reason           Reason
	LastError        string
	TopicID          string
	Attempts         int
	ConnectedAt      time.Time
	StateTransitions int
}

// TokenSource yields the persisted bearer token; credstore.Store satisfies
// it. Absence must be reported as an error.
type TokenSource interface {
	Token() (string, error)
}

// SessionValidator performs the single authenticated read that proves the
// token is still accepted before the socket is opened.
type SessionValidator interface {
	Validate(ctx context.Context, token string) error
}

type Options struct {
	Dialer    Dialer
	Tokens    TokenSource
	Validator SessionValidator
	Logger    *slog.Logger
	Metrics   *Metrics

	// OnMessage receives MESSAGE frame bodies sequentially in arrival
	// order, from a single goroutine.
	OnMessage func(body []byte)
}

type Conn struct {
	cfg       Config
	dialer    Dialer
	tokens    TokenSource
	validator SessionValidator
	logger    *slog.Logger
	metrics   *Metrics
	onMessage func(body []byte)

	mu        sync.RWMutex
	status    Status
	sock      Socket
	subID     string
	closed    bool
	runCancel context.CancelFunc
	runWG     sync.WaitGroup
}

func New(cfg Config, opts Options) *Conn {
	cfg = normalizeConfig(cfg)
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = NewWebSocketDialer(cfg.HandshakeTimeout)
	}
	return &Conn{
		cfg:       cfg,
		dialer:    dialer,
		tokens:    opts.Tokens,
		validator: opts.Validator,
		logger:    logger.With("component", "bus"),
		metrics:   opts.Metrics,
		onMessage: opts.OnMessage,
		status:    Status{State: StateIdle},
	}
}

// Connect authenticates and brings the connection up for topicID.
// Terminal failures (missing or rejected credential, reuse of a finished
// Conn) are returned; transport-level failures are not — they move the
// connection into the reconnect loop, observable through Status.
func (c *Conn) Connect(ctx context.Context, topicID string) error {
	topicID = strings.TrimSpace(topicID)
	if topicID == "" {
		return errEmptyTopic
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errClosed
	}
	if c.status.State != StateIdle {
		c.mu.Unlock()
		return errAlreadyStarted
	}
	c.status.TopicID = topicID
	c.transitionLocked(StateAuthenticating)
	c.mu.Unlock()

	token, err := c.tokens.Token()
	if err != nil {
		c.fail(ReasonAuthMissing, err)
		return connErr(ReasonAuthMissing, err)
	}
	if c.validator != nil {
		if err := c.validator.Validate(ctx, token); err != nil {
			c.fail(ReasonAuthInvalid, err)
			return connErr(ReasonAuthInvalid, err)
		}
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		cancel()
		return errClosed
	}
	c.runCancel = cancel
	c.transitionLocked(StateConnecting)
	c.mu.Unlock()

	c.runWG.Add(1)
	go c.run(runCtx, token)
	return nil
}

// Send publishes one fire-and-forget text message on the live connection.
// There is no queueing: while not Connected the send is rejected and the
// message is dropped from the sender's perspective.
func (c *Conn) Send(text string) error {
	if strings.TrimSpace(text) == "" {
		c.metrics.incSendsRejected()
		return connErr(ReasonSendRejected, errEmptyMessage)
	}

	c.mu.RLock()
	state := c.status.State
	sock := c.sock
	topicID := c.status.TopicID
	c.mu.RUnlock()

	if state != StateConnected || sock == nil {
		c.metrics.incSendsRejected()
		return connErr(ReasonSendRejected, errNotConnected)
	}

	body, err := json.Marshal(struct {
		Content string `json:"content"`
	}{Content: text})
	if err != nil {
		return err
	}
	frame := stomp.NewFrame(stomp.CommandSend).
		Set(stomp.HeaderDestination, sendDestination(topicID)).
		Set(stomp.HeaderContentType, "application/json")
	frame.Body = body

	if err := sock.WriteFrame(frame); err != nil {
		c.metrics.incSendsRejected()
		return connErr(ReasonSendRejected, err)
	}
	c.metrics.incSends()
	return nil
}

// Disconnect unsubscribes and tears the connection down. Idempotent; safe
// on a connection that never came up.
func (c *Conn) Disconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	sock := c.sock
	subID := c.subID
	cancel := c.runCancel
	c.sock = nil
	c.runCancel = nil
	c.transitionLocked(StateClosing)
	c.mu.Unlock()

	if sock != nil {
		// Best effort; the socket may already be gone.
		if subID != "" {
			_ = sock.WriteFrame(stomp.NewFrame(stomp.CommandUnsubscribe).Set(stomp.HeaderID, subID))
		}
		_ = sock.WriteFrame(stomp.NewFrame(stomp.CommandDisconnect))
		_ = sock.Close()
	}
	if cancel != nil {
		cancel()
	}
	c.runWG.Wait()
	c.logger.Info("bus disconnected", "topic", c.Status().TopicID)
}

func (c *Conn) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// run supervises the socket: (re)connect with bounded backoff, then pump
// frames until the socket fails or the connection is closed.
func (c *Conn) run(ctx context.Context, token string) {
	defer c.runWG.Done()

	for {
		sock := c.establish(ctx, token)
		if sock == nil {
			return
		}
		err := c.readLoop(ctx, sock)
		_ = sock.Close()
		c.detachSocket(sock)
		if ctx.Err() != nil || c.isClosed() {
			return
		}
		c.metrics.incTransportErrors()
		c.metrics.incReconnects()
		c.setOutage(ReasonTransportError, err, 0)
		c.logger.Warn("bus transport error", "topic", c.Status().TopicID, "error", errString(err))
	}
}

// establish runs the dial/handshake/subscribe attempt loop. It returns a
// live socket, or nil when the connection was closed or retries were
// exhausted (terminal Failed(offline)).
func (c *Conn) establish(ctx context.Context, token string) Socket {
	attempt := 0
	for {
		if ctx.Err() != nil || c.isClosed() {
			return nil
		}
		attempt++
		c.setConnecting(attempt)

		sock, err := c.dialAndHandshake(ctx, token)
		if err == nil {
			subID := uuid.NewString()
			subErr := sock.WriteFrame(stomp.NewFrame(stomp.CommandSubscribe).
				Set(stomp.HeaderID, subID).
				Set(stomp.HeaderDestination, topicDestination(c.Status().TopicID)))
			if subErr == nil {
				if !c.attachSocket(sock, subID) {
					_ = sock.Close()
					return nil
				}
				c.metrics.incConnects()
				c.logger.Info("bus connected", "topic", c.Status().TopicID, "attempt", attempt)
				return sock
			}
			_ = sock.Close()
			err = subErr
		}

		reason := ReasonTransportError
		if errors.Is(err, errHandshake) {
			reason = ReasonHandshakeTimeout
			c.metrics.incHandshakeTimeouts()
		}
		if c.cfg.MaxReconnectAttempts > 0 && attempt >= c.cfg.MaxReconnectAttempts {
			c.fail(ReasonOffline, err)
			c.logger.Warn("bus gave up reconnecting", "topic", c.Status().TopicID, "attempts", attempt, "error", errString(err))
			return nil
		}
		c.setOutage(reason, err, attempt)
		c.logger.Warn("bus connect attempt failed", "topic", c.Status().TopicID, "attempt", attempt, "error", errString(err))

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(c.cfg.backoffDelay(attempt)):
		}
	}
}

// dialAndHandshake opens the socket and completes the STOMP CONNECT
// exchange. The connect timer bounds the wait for the CONNECTED ack.
func (c *Conn) dialAndHandshake(ctx context.Context, token string) (Socket, error) {
	sock, err := c.dialer.Dial(ctx, c.cfg.Endpoint, token)
	if err != nil {
		return nil, err
	}

	connect := stomp.NewFrame(stomp.CommandConnect).
		Set(stomp.HeaderAcceptVersion, "1.2").
		Set(stomp.HeaderHost, endpointHost(c.cfg.Endpoint)).
		Set(stomp.HeaderAuthorization, "Bearer "+token)
	if err := sock.WriteFrame(connect); err != nil {
		_ = sock.Close()
		return nil, err
	}

	type readResult struct {
		frame *stomp.Frame
		err   error
	}
	ack := make(chan readResult, 1)
	go func() {
		frame, err := sock.ReadFrame()
		ack <- readResult{frame: frame, err: err}
	}()

	timer := time.NewTimer(c.cfg.HandshakeTimeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		_ = sock.Close()
		return nil, ctx.Err()
	case <-timer.C:
		_ = sock.Close()
		return nil, errHandshake
	case res := <-ack:
		if res.err != nil {
			_ = sock.Close()
			return nil, res.err
		}
		switch res.frame.Command {
		case stomp.CommandConnected:
			return sock, nil
		case stomp.CommandError:
			_ = sock.Close()
			return nil, &serverError{message: res.frame.Get(stomp.HeaderMessage)}
		default:
			_ = sock.Close()
			return nil, &serverError{message: "unexpected " + string(res.frame.Command) + " during handshake"}
		}
	}
}

// readLoop pumps frames until the socket fails. Message append order is
// exactly frame arrival order; no reordering buffer exists.
func (c *Conn) readLoop(ctx context.Context, sock Socket) error {
	for {
		frame, err := sock.ReadFrame()
		if err != nil {
			return err
		}
		// Frames that race teardown are dropped, never dispatched.
		if ctx.Err() != nil || c.isClosed() {
			return ctx.Err()
		}
		switch frame.Command {
		case stomp.CommandMessage:
			c.metrics.incFramesReceived()
			if c.onMessage != nil {
				c.onMessage(frame.Body)
			}
		case stomp.CommandError:
			return &serverError{message: frame.Get(stomp.HeaderMessage)}
		default:
			// RECEIPT and anything else the server may add: ignored.
		}
	}
}

func (c *Conn) attachSocket(sock Socket, subID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.sock = sock
	c.subID = subID
	c.status.Attempts = 0
	c.status.Reason = ""
	c.status.LastError = ""
	c.status.ConnectedAt = time.Now().UTC()
	c.transitionLocked(StateConnected)
	return true
}

func (c *Conn) detachSocket(sock Socket) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sock == sock {
		c.sock = nil
		c.subID = ""
	}
}

func (c *Conn) setConnecting(attempt int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.status.Attempts = attempt
	c.transitionLocked(StateConnecting)
}

func (c *Conn) setOutage(reason Reason, err error, attempts int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.status.Reason = reason
	c.status.LastError = errString(err)
	if attempts > 0 {
		c.status.Attempts = attempts
	}
	c.transitionLocked(StateReconnecting)
}

func (c *Conn) fail(reason Reason, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.status.Reason = reason
	c.status.LastError = errString(err)
	c.transitionLocked(StateFailed)
}

func (c *Conn) transitionLocked(next State) {
	if next == "" || c.status.State == next {
		return
	}
	c.status.StateTransitions++
	c.status.State = next
}

func (c *Conn) isClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

type serverError struct {
	message string
}

func (e *serverError) Error() string {
	if e.message == "" {
		return "bus: server error frame"
	}
	return "bus: server error: " + e.message
}

func topicDestination(communityID string) string {
	return "/topic/community/" + communityID
}

func sendDestination(communityID string) string {
	return "/app/community/" + communityID + "/send"
}

func endpointHost(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return endpoint
	}
	return u.Host
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
