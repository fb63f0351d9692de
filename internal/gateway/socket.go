package gateway

import (
	"context"
	"io"
	"sync"

	"github.com/coder/websocket"
)

// Socket is the minimal transport the bridge needs. The real implementation
// wraps a websocket connection; tests inject a FakeSocket.
type Socket interface {
	ReadText(ctx context.Context) (string, error)
	WriteText(ctx context.Context, text string) error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, url string) (Socket, error)
}

type RealDialer struct{}

func (RealDialer) Dial(ctx context.Context, url string) (Socket, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(1 << 20)
	return &realSocket{conn: conn}, nil
}

type realSocket struct {
	conn *websocket.Conn
}

func (s *realSocket) ReadText(ctx context.Context) (string, error) {
	_, data, err := s.conn.Read(ctx)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (s *realSocket) WriteText(ctx context.Context, text string) error {
	return s.conn.Write(ctx, websocket.MessageText, []byte(text))
}

func (s *realSocket) Close() error {
	return s.conn.Close(websocket.StatusNormalClosure, "")
}

// FakeSocket is an in-memory Socket for tests: the test feeds inbound
// frames with EmitText and inspects outbound frames on Sent.
type FakeSocket struct {
	inbound chan string
	Sent    chan string

	mu     sync.Mutex
	closed bool
}

func NewFakeSocket() *FakeSocket {
	return &FakeSocket{
		inbound: make(chan string, 32),
		Sent:    make(chan string, 32),
	}
}

func (f *FakeSocket) EmitText(text string) {
	f.mu.Lock()
	closed := f.closed
	f.mu.Unlock()
	if closed {
		return
	}
	f.inbound <- text
}

func (f *FakeSocket) ReadText(ctx context.Context) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case text, ok := <-f.inbound:
		if !ok {
			return "", io.EOF
		}
		return text, nil
	}
}

func (f *FakeSocket) WriteText(_ context.Context, text string) error {
	f.mu.Lock()
	closed := f.closed
	f.mu.Unlock()
	if closed {
		return io.ErrClosedPipe
	}
	f.Sent <- text
	return nil
}

func (f *FakeSocket) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	close(f.inbound)
	return nil
}

// FakeDialer hands out a scripted sequence of sockets, one per dial.
type FakeDialer struct {
	mu      sync.Mutex
	sockets []Socket
	Dials   int
}

func NewFakeDialer(sockets ...Socket) *FakeDialer {
	return &FakeDialer{sockets: sockets}
}

func (d *FakeDialer) Dial(ctx context.Context, _ string) (Socket, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Dials++
	if len(d.sockets) == 0 {
		return nil, io.EOF
	}
	sock := d.sockets[0]
	d.sockets = d.sockets[1:]
	return sock, nil
}
