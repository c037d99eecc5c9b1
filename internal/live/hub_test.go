package live

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/skydesk/internal/identity"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

type fakeSource struct {
	mu       sync.Mutex
	push     func(Frame)
	err      error
	unsubbed chan struct{}
}

func newFakeSource() *fakeSource {
	return &fakeSource{unsubbed: make(chan struct{})}
}

func (s *fakeSource) Subscribe(_ context.Context, _ string, fn func(Frame)) (func(), error) {
	if s.err != nil {
		return nil, s.err
	}
	fn(Frame{Type: FrameChat, Snapshot: map[string]any{"version": 0}})
	fn(Frame{Type: FrameTickets, Snapshot: map[string]any{"version": 0}})
	s.mu.Lock()
	s.push = fn
	s.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(s.unsubbed) }) }, nil
}

func (s *fakeSource) send(f Frame) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.push(f)
}

func TestHub_Register(t *testing.T) {
	t.Parallel()
	h := NewHub(newFakeSource(), nil, true, nil)
	conn1 := &websocket.Conn{}
	conn2 := &websocket.Conn{}

	h.Register("user123", conn1)
	h.Register("user123", conn2)
	if got := h.Count("user123"); got != 2 {
		t.Fatalf("Count() = %d, want 2", got)
	}

	h.Unregister("user123", conn1)
	if got := h.Count("user123"); got != 1 {
		t.Fatalf("Count() after unregister = %d, want 1", got)
	}
	// Unregistering an unknown connection is ignored.
	h.Unregister("user123", &websocket.Conn{})
	h.Unregister("nobody", conn1)
	if got := h.Count("user123"); got != 1 {
		t.Fatalf("Count() after stale unregister = %d, want 1", got)
	}

	h.Unregister("user123", conn2)
	if got := h.Count("user123"); got != 0 {
		t.Fatalf("Count() = %d, want 0", got)
	}
}

func TestHub_ConcurrentAccess(t *testing.T) {
	t.Parallel()
	h := NewHub(newFakeSource(), nil, true, nil)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			h.Register("user-"+strconv.Itoa(i%7), &websocket.Conn{})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			h.Count("user-" + strconv.Itoa(i%7))
		}
	}()
	wg.Wait()
}

func TestEnqueueDropsOldest(t *testing.T) {
	t.Parallel()
	ch := make(chan Frame, 2)
	for i := 0; i < 5; i++ {
		enqueue(ch, Frame{Type: FrameChat, Snapshot: i})
	}
	first, second := <-ch, <-ch
	if first.Snapshot != 3 || second.Snapshot != 4 {
		t.Fatalf("buffer = %v, %v; want the two newest frames", first.Snapshot, second.Snapshot)
	}
}

func startHub(t *testing.T, src Source) (*Hub, *httptest.Server) {
	t.Helper()
	h := NewHub(src, []string{"https://desk.example.com"}, false, nil)
	srv := httptest.NewServer(identity.Middleware(true)(h))
	t.Cleanup(srv.Close)
	return h, srv
}

func TestHub_StreamsInitialAndLaterFrames(t *testing.T) {
	t.Parallel()
	src := newFakeSource()
	_, srv := startHub(t, src)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, srv.URL, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.CloseNow()

	var got []string
	for i := 0; i < 2; i++ {
		var f Frame
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			t.Fatalf("read initial frame %d: %v", i, err)
		}
		got = append(got, f.Type)
	}
	if got[0] != FrameChat || got[1] != FrameTickets {
		t.Fatalf("initial frames = %v, want [chat tickets]", got)
	}

	src.send(Frame{Type: FrameTickets, Snapshot: map[string]any{"version": 7}})
	var f Frame
	if err := wsjson.Read(ctx, conn, &f); err != nil {
		t.Fatalf("read update: %v", err)
	}
	snap, _ := f.Snapshot.(map[string]any)
	if f.Type != FrameTickets || snap["version"] != float64(7) {
		t.Fatalf("update frame = %+v", f)
	}

	if err := conn.Close(websocket.StatusNormalClosure, "done"); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	select {
	case <-src.unsubbed:
	case <-ctx.Done():
		t.Fatal("subscription not released after client disconnect")
	}
}

func TestHub_RejectsForeignOrigin(t *testing.T) {
	t.Parallel()
	_, srv := startHub(t, newFakeSource())

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Origin", "https://evil.example.com")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request error = %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", resp.StatusCode)
	}
}

func TestHub_SubscriptionFailureClosesStream(t *testing.T) {
	t.Parallel()
	src := newFakeSource()
	src.err = errors.New("loop closed")
	_, srv := startHub(t, src)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, srv.URL, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.CloseNow()

	var f Frame
	err = wsjson.Read(ctx, conn, &f)
	if got := websocket.CloseStatus(err); got != websocket.StatusInternalError {
		t.Fatalf("close status = %v (err %v), want StatusInternalError", got, err)
	}
}

func TestHub_CloseUser(t *testing.T) {
	t.Parallel()
	src := newFakeSource()
	h, srv := startHub(t, src)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, srv.URL, nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.CloseNow()

	var f Frame
	if err := wsjson.Read(ctx, conn, &f); err != nil {
		t.Fatalf("read initial frame: %v", err)
	}

	h.mu.RLock()
	var userID string
	for id := range h.active {
		userID = id
	}
	h.mu.RUnlock()
	if userID == "" {
		t.Fatal("connection not registered")
	}

	h.CloseUser(userID)
	for {
		if err := wsjson.Read(ctx, conn, &f); err != nil {
			if got := websocket.CloseStatus(err); got != websocket.StatusGoingAway {
				t.Fatalf("close status = %v (err %v), want StatusGoingAway", got, err)
			}
			break
		}
	}
	if got := h.Count(userID); got != 0 {
		t.Fatalf("Count() = %d, want 0", got)
	}
}
