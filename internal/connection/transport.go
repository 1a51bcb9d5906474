package connection

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Dialer opens sockets. Dial must honor ctx cancellation.
type Dialer interface {
	Dial(ctx context.Context, url string, header http.Header) (Socket, error)
}

// Socket is one open, message-oriented connection.
type Socket interface {
	// Read blocks until the next message or an error. It returns an error
	// once the socket is closed.
	Read() ([]byte, error)

	// Write sends one text message. Safe for concurrent use.
	Write(data []byte) error

	// Close releases the socket. Safe to call more than once.
	Close() error
}

// WebsocketDialer dials gorilla websocket connections.
type WebsocketDialer struct {
	dialer       *websocket.Dialer
	writeTimeout time.Duration
	readLimit    int64
}

// NewWebsocketDialer creates a dialer with the given handshake and write timeouts.
func NewWebsocketDialer(handshakeTimeout, writeTimeout time.Duration) *WebsocketDialer {
	if handshakeTimeout <= 0 {
		handshakeTimeout = 10 * time.Second
	}
	if writeTimeout <= 0 {
		writeTimeout = 5 * time.Second
	}

	return &WebsocketDialer{
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: handshakeTimeout,
		},
		writeTimeout: writeTimeout,
		readLimit:    1 << 20,
	}
}

// Dial establishes the websocket connection.
// A 401/403 handshake response is reported as ErrAuth.
func (d *WebsocketDialer) Dial(ctx context.Context, url string, header http.Header) (Socket, error) {
	if header == nil {
		header = http.Header{}
	}
	header.Set("Accept", "application/json")

	conn, resp, err := d.dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: handshake status %d", ErrAuth, resp.StatusCode)
		}
		return nil, err
	}

	conn.SetReadLimit(d.readLimit)

	return &websocketSocket{
		conn:         conn,
		writeTimeout: d.writeTimeout,
	}, nil
}

// websocketSocket adapts a gorilla connection to Socket.
type websocketSocket struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	// gorilla allows one concurrent writer
	writeMu   sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func (s *websocketSocket) Read() ([]byte, error) {
	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if msgType == websocket.TextMessage || msgType == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (s *websocketSocket) Write(data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *websocketSocket) Close() error {
	// WriteControl may run concurrently with Write.
	s.closeOnce.Do(func() {
		_ = s.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}
