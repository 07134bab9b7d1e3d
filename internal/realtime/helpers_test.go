package realtime

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/willowchat/realtime-service/pkg/chat"
)

// fakeSocket is an in-memory socket. Written frames are recorded; reads block
// until a frame is queued with push or the socket closes.
type fakeSocket struct {
	mu       sync.Mutex
	frames   [][]byte
	writeErr error

	inbound   chan []byte
	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{
		inbound: make(chan []byte, 16),
		closed:  make(chan struct{}),
	}
}

func (s *fakeSocket) ReadMessage() (int, []byte, error) {
	select {
	case data := <-s.inbound:
		return 1, data, nil
	case <-s.closed:
		return 0, nil, errors.New("socket closed")
	}
}

func (s *fakeSocket) WriteMessage(_ int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.writeErr != nil {
		return s.writeErr
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	s.frames = append(s.frames, buf)
	return nil
}

func (s *fakeSocket) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

func (s *fakeSocket) push(data []byte) { s.inbound <- data }

func (s *fakeSocket) written() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.frames))
	copy(out, s.frames)
	return out
}

// events decodes every written frame.
func (s *fakeSocket) events(t *testing.T) []chat.Event {
	t.Helper()
	var out []chat.Event
	for _, frame := range s.written() {
		var ev chat.Event
		require.NoError(t, json.Unmarshal(frame, &ev))
		out = append(out, ev)
	}
	return out
}

// waitForEvents polls until the socket has received at least n frames.
func (s *fakeSocket) waitForEvents(t *testing.T, n int) []chat.Event {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(s.written()) >= n
	}, 2*time.Second, 5*time.Millisecond, "expected %d frames", n)
	return s.events(t)
}

// newTestConn creates a joined connection with its write pump running.
func newTestConn(t *testing.T, id string, identity chat.Identity) (*Conn, *fakeSocket) {
	t.Helper()
	sock := newFakeSocket()
	c := newConn(id, identity, sock, zerolog.Nop())
	c.setState(StateJoined)
	go c.writePump()
	t.Cleanup(c.close)
	return c, sock
}
