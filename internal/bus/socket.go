package bus

import (
	"bytes"
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"matchday-chat/go-client/internal/stomp"
)

// Socket is one framed bidirectional connection to the message bus.
// ReadFrame blocks until a frame arrives or the socket fails; Close
// unblocks any pending read.
type Socket interface {
	ReadFrame() (*stomp.Frame, error)
	WriteFrame(frame *stomp.Frame) error
	Close() error
}

// Dialer opens a socket against the bus endpoint. The bearer token is
// attached to the HTTP upgrade request; the STOMP-level handshake is the
// connection manager's job.
type Dialer interface {
	Dial(ctx context.Context, endpoint, bearerToken string) (Socket, error)
}

type WebSocketDialer struct {
	handshakeTimeout time.Duration
}

func NewWebSocketDialer(handshakeTimeout time.Duration) *WebSocketDialer {
	if handshakeTimeout <= 0 {
		handshakeTimeout = 10 * time.Second
	}
	return &WebSocketDialer{handshakeTimeout: handshakeTimeout}
}

func (d *WebSocketDialer) Dial(ctx context.Context, endpoint, bearerToken string) (Socket, error) {
	dialer := &websocket.Dialer{HandshakeTimeout: d.handshakeTimeout}
	header := http.Header{}
	if bearerToken != "" {
		header.Set("Authorization", "Bearer "+bearerToken)
	}
	conn, _, err := dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		return nil, err
	}
	return &wsSocket{conn: conn}, nil
}

type wsSocket struct {
	conn *websocket.Conn

	// gorilla/websocket allows only one concurrent writer.
	writeMu sync.Mutex
}

func (s *wsSocket) ReadFrame() (*stomp.Frame, error) {
	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}
		// A bare LF is a STOMP heartbeat, not a frame.
		if len(bytes.Trim(data, "\r\n\x00")) == 0 {
			continue
		}
		return stomp.Parse(data)
	}
}

func (s *wsSocket) WriteFrame(frame *stomp.Frame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, frame.Marshal())
}

func (s *wsSocket) Close() error {
	return s.conn.Close()
}
