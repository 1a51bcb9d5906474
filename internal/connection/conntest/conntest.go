// Package conntest provides an in-memory Dialer and Socket for exercising
// connection lifecycles without a network.
package conntest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/rickgao/livefeed/internal/connection"
	"github.com/rickgao/livefeed/internal/protocol"
)

// ErrClosed is returned by Read and Write after Close or Drop.
var ErrClosed = errors.New("conntest: socket closed")

// Dialer is a fake connection.Dialer. Zero value opens immediately and
// answers pings.
type Dialer struct {
	mu        sync.Mutex
	openDelay time.Duration
	failWith  error
	noPong    bool
	urls      []string
	headers   []http.Header
	sockets   []*Socket
	dials     int
}

var _ connection.Dialer = (*Dialer)(nil)

// NewDialer returns a Dialer that opens after delay.
func NewDialer(delay time.Duration) *Dialer {
	return &Dialer{openDelay: delay}
}

// SetOpenDelay changes how long future dials take.
func (d *Dialer) SetOpenDelay(delay time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.openDelay = delay
}

// FailWith makes future dials fail with err. nil restores success.
func (d *Dialer) FailWith(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failWith = err
}

// SetAutoPong controls whether new sockets answer pings.
func (d *Dialer) SetAutoPong(on bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.noPong = !on
}

// Dial implements connection.Dialer.
func (d *Dialer) Dial(ctx context.Context, url string, header http.Header) (connection.Socket, error) {
	d.mu.Lock()
	d.dials++
	d.urls = append(d.urls, url)
	d.headers = append(d.headers, header.Clone())
	delay, failWith, noPong := d.openDelay, d.failWith, d.noPong
	d.mu.Unlock()

	if delay > 0 {
		t := time.NewTimer(delay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-t.C:
		}
	}

	if failWith != nil {
		return nil, failWith
	}

	s := newSocket(!noPong)
	d.mu.Lock()
	d.sockets = append(d.sockets, s)
	d.mu.Unlock()
	return s, nil
}

// Dials returns the number of Dial calls.
func (d *Dialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// URLs returns the dialed URLs in order.
func (d *Dialer) URLs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.urls...)
}

// Headers returns the handshake headers in dial order.
func (d *Dialer) Headers() []http.Header {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]http.Header(nil), d.headers...)
}

// Sockets returns every socket opened so far.
func (d *Dialer) Sockets() []*Socket {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Socket(nil), d.sockets...)
}

// Last returns the most recently opened socket, or nil.
func (d *Dialer) Last() *Socket {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.sockets) == 0 {
		return nil
	}
	return d.sockets[len(d.sockets)-1]
}

// OpenSockets counts sockets that have not been closed.
func (d *Dialer) OpenSockets() int {
	n := 0
	for _, s := range d.Sockets() {
		if !s.Closed() {
			n++
		}
	}
	return n
}

// Socket is an in-memory connection.Socket.
type Socket struct {
	autoPong bool
	inbound  chan []byte
	done     chan struct{}

	mu      sync.Mutex
	closed  bool
	dropErr error
	written [][]byte
}

var _ connection.Socket = (*Socket)(nil)

func newSocket(autoPong bool) *Socket {
	return &Socket{
		autoPong: autoPong,
		inbound:  make(chan []byte, 64),
		done:     make(chan struct{}),
	}
}

// Read implements connection.Socket.
func (s *Socket) Read() ([]byte, error) {
	select {
	case data := <-s.inbound:
		return data, nil
	case <-s.done:
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.dropErr != nil {
			return nil, s.dropErr
		}
		return nil, ErrClosed
	}
}

// Write implements connection.Socket. Pings are answered when auto-pong is on.
func (s *Socket) Write(data []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.written = append(s.written, append([]byte(nil), data...))
	s.mu.Unlock()

	if s.autoPong {
		if f, err := protocol.Decode(data); err == nil && f.IsPing() {
			pong, _ := protocol.Encode(protocol.Frame{Type: protocol.TypePong})
			s.Inject(pong)
		}
	}
	return nil
}

// Close implements connection.Socket.
func (s *Socket) Close() error {
	s.shut(nil)
	return nil
}

// Drop simulates the server or network closing the socket.
func (s *Socket) Drop(err error) {
	if err == nil {
		err = errors.New("conntest: connection dropped")
	}
	s.shut(err)
}

func (s *Socket) shut(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.dropErr = err
	close(s.done)
}

// Inject queues a raw inbound message. Dropped if the socket is closed.
func (s *Socket) Inject(data []byte) {
	select {
	case <-s.done:
	case s.inbound <- data:
	}
}

// InjectFrame queues an inbound frame carrying data.
func (s *Socket) InjectFrame(channel, typ string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	b, err := protocol.Encode(protocol.Frame{Channel: channel, Type: typ, Data: raw})
	if err != nil {
		return err
	}
	s.Inject(b)
	return nil
}

// Written returns every message written to the socket.
func (s *Socket) Written() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.written...)
}

// Pings counts ping frames written to the socket.
func (s *Socket) Pings() int {
	n := 0
	for _, w := range s.Written() {
		if f, err := protocol.Decode(w); err == nil && f.IsPing() {
			n++
		}
	}
	return n
}

// Closed reports whether the socket was closed or dropped.
func (s *Socket) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
