package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"matchday-chat/go-client/internal/bus"
	"matchday-chat/go-client/internal/platform/ratelimiter"
	"matchday-chat/go-client/pkg/models"
)

var (
	errSessionClosed  = errors.New("chat: session closed")
	errSessionStarted = errors.New("chat: session already started")
	errNoConnFactory  = errors.New("chat: connection factory is required")
)

// HistoryLoader is the one-shot read of prior messages for a topic,
// oldest first. backend.Client satisfies it.
type HistoryLoader interface {
	History(ctx context.Context, communityID string) ([]models.Message, error)
}

// Conn is the live bus connection surface the session drives.
type Conn interface {
	Connect(ctx context.Context, topicID string) error
	Send(text string) error
	Disconnect()
	Status() bus.Status
}

// ConnFactory builds the bus connection with the session's inbound handler
// attached. The session owns the returned connection exclusively.
type ConnFactory func(onMessage func(body []byte)) Conn

type SessionOptions struct {
	Community models.Community
	SelfID    string
	NewConn   ConnFactory
	History   HistoryLoader
	Limiter   *ratelimiter.KeyLimiter
	Logger    *slog.Logger
	Metrics   *Metrics

	// EventBuffer bounds the hub's replayable history; 0 means default.
	EventBuffer int
}

// Session owns one community chat screen's state: the ordered timeline,
// the live connection, and the event feed. One session per screen mount;
// re-entering a community builds a fresh, fully independent session.
type Session struct {
	community models.Community
	selfID    string
	newConn   ConnFactory
	history   HistoryLoader
	limiter   *ratelimiter.KeyLimiter
	logger    *slog.Logger
	metrics   *Metrics

	timeline *Timeline
	hub      *Hub

	mu           sync.Mutex
	conn         Conn
	started      bool
	closed       bool
	pendingReply *models.ReplyRef
}

func NewSession(opts SessionOptions) *Session {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	buffer := opts.EventBuffer
	if buffer <= 0 {
		buffer = 256
	}
	return &Session{
		community: opts.Community,
		selfID:    opts.SelfID,
		newConn:   opts.NewConn,
		history:   opts.History,
		limiter:   opts.Limiter,
		logger:    logger.With("component", "chat"),
		metrics:   opts.Metrics,
		timeline:  NewTimeline(),
		hub:       NewHub(buffer),
	}
}

// Start loads history, then brings the live connection up. History always
// completes before the subscription activates, so history messages precede
// live ones; messages published in between are missed by design (no replay
// cursor exists on the backend).
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errSessionClosed
	}
	if s.started {
		s.mu.Unlock()
		return errSessionStarted
	}
	if s.newConn == nil {
		s.mu.Unlock()
		return errNoConnFactory
	}
	s.started = true
	s.mu.Unlock()

	if s.history != nil {
		msgs, err := s.history.History(ctx, s.community.ID)
		if err != nil {
			return fmt.Errorf("chat: history load: %w", err)
		}
		s.timeline.ReplaceHistory(msgs)
	}

	conn := s.newConn(s.handleInbound)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Disconnect()
		return errSessionClosed
	}
	s.conn = conn
	s.mu.Unlock()

	return conn.Connect(ctx, s.community.ID)
}

// Send publishes one fire-and-forget message. The reply snapshot, when
// given, is client-local decoration: it is attached to the server echo of
// this send and never transmitted.
func (s *Session) Send(text string, reply *models.ReplyRef) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return &bus.ConnError{Reason: bus.ReasonSendRejected, Err: errSessionClosed}
	}
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return &bus.ConnError{Reason: bus.ReasonSendRejected, Err: errors.New("chat: session not started")}
	}

	if !s.limiter.Allow("community:"+s.community.ID, time.Now()) {
		s.logger.Warn("send rate limited", "community_id", s.community.ID)
		return &bus.ConnError{Reason: bus.ReasonSendRejected, Err: errors.New("chat: send rate limit exceeded")}
	}

	if reply != nil && reply.TargetID != "" {
		s.mu.Lock()
		s.pendingReply = reply
		s.mu.Unlock()
	}
	if err := conn.Send(text); err != nil {
		s.mu.Lock()
		s.pendingReply = nil
		s.mu.Unlock()
		return err
	}
	return nil
}

// AppendLocal inserts a client-constructed message (system notice or
// shared match card). Returns false if the session is closed or the ID
// already exists.
func (s *Session) AppendLocal(msg models.Message) bool {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return false
	}
	if !s.timeline.Append(msg) {
		s.metrics.incDuplicates()
		return false
	}
	s.metrics.incAppended()
	s.hub.Publish(msg)
	return true
}

// Snapshot returns the current ordered timeline.
func (s *Session) Snapshot() []models.Message {
	return s.timeline.Snapshot()
}

// Events returns buffered appends after fromSeq plus a live feed.
func (s *Session) Events(fromSeq int64) ([]Event, <-chan Event, func()) {
	return s.hub.Subscribe(fromSeq)
}

func (s *Session) Status() bus.Status {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return bus.Status{State: bus.StateIdle, TopicID: s.community.ID}
	}
	return conn.Status()
}

// IsMine reports whether msg was sent by this session's identity.
func (s *Session) IsMine(msg models.Message) bool {
	return s.selfID != "" && msg.Sender.ID == s.selfID
}

// Close tears the session down. Idempotent; no messages are appended and
// no state transitions happen afterwards.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	conn := s.conn
	s.mu.Unlock()
	if conn != nil {
		conn.Disconnect()
	}
}

// handleInbound runs on the connection's single delivery goroutine, so
// append order equals arrival order.
func (s *Session) handleInbound(body []byte) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	pending := s.pendingReply
	s.mu.Unlock()

	payload, err := ParseInbound(body)
	if err != nil {
		s.metrics.incMalformed()
		s.logger.Warn("malformed bus payload dropped", "community_id", s.community.ID, "error", err.Error())
		return
	}
	msg := payload.Message(time.Now().UTC())

	// The server echo of our own send carries the compose-time reply
	// snapshot; it exists only in the local timeline.
	if pending != nil && s.IsMine(msg) {
		msg.ReplyRef = pending
		s.mu.Lock()
		if s.pendingReply == pending {
			s.pendingReply = nil
		}
		s.mu.Unlock()
	}

	if !s.timeline.Append(msg) {
		s.metrics.incDuplicates()
		s.logger.Debug("duplicate message dropped", "community_id", s.community.ID, "message_id", msg.ID)
		return
	}
	s.metrics.incAppended()
	s.hub.Publish(msg)
}
