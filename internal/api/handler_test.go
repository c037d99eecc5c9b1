//nolint:revive // "api" package name is intentionally concise for this layer.
package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/skydesk/internal/chat"
	"github.com/ashureev/skydesk/internal/domain"
	"github.com/ashureev/skydesk/internal/identity"
	"github.com/ashureev/skydesk/internal/remote"
	"github.com/ashureev/skydesk/internal/workspace"
	"github.com/go-chi/chi/v5"
)

func TestJSON(t *testing.T) {
	w := httptest.NewRecorder()
	data := map[string]string{"foo": "bar"}

	JSON(w, http.StatusOK, data)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var got map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}

	if got["foo"] != "bar" {
		t.Errorf("Expected foo=bar, got %v", got["foo"])
	}
}

func TestError(t *testing.T) {
	w := httptest.NewRecorder()

	Error(w, http.StatusConflict, "no active chat session")

	if w.Code != http.StatusConflict {
		t.Errorf("Expected status 409, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	var got map[string]string
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if got["error"] != "no active chat session" {
		t.Errorf("error = %q", got["error"])
	}
}

func TestWorkspaceRequiresIdentity(t *testing.T) {
	reg := workspace.NewRegistry(&fakeRemote{}, nil, workspace.Options{}, nil)
	t.Cleanup(func() { reg.Close(context.Background()) })
	h := NewChatHandler(NewHandler(reg, 0, nil))

	w := httptest.NewRecorder()
	h.Get(w, httptest.NewRequest(http.MethodGet, "/api/chat", nil))

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestClosedRegistryIsUnavailable(t *testing.T) {
	reg := workspace.NewRegistry(&fakeRemote{}, nil, workspace.Options{}, nil)
	reg.Close(context.Background())
	h := NewChatHandler(NewHandler(reg, 0, nil))

	req := httptest.NewRequest(http.MethodGet, "/api/chat", nil)
	req = req.WithContext(identity.WithUser(req.Context(), "anon-closed"))
	w := httptest.NewRecorder()
	h.Get(w, req)

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
}

// fakeRemote answers every support API call successfully and records the
// calls it saw.
type fakeRemote struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeRemote) record(call string) {
	f.mu.Lock()
	f.calls = append(f.calls, call)
	f.mu.Unlock()
}

func (f *fakeRemote) seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeRemote) SendMessage(_ context.Context, req remote.SendMessageRequest) (*remote.SendMessageResult, error) {
	f.record("send:" + string(req.Platform))
	return &remote.SendMessageResult{
		Message:   domain.Message{Content: req.Content, Sender: domain.SenderUser, SessionID: "sess-1"},
		SessionID: "sess-1",
	}, nil
}

func (f *fakeRemote) GetHistory(_ context.Context, sessionID string) ([]domain.Message, error) {
	f.record("history:" + sessionID)
	return []domain.Message{
		{Content: "hello", Sender: domain.SenderUser, SessionID: sessionID},
		{Content: "how can I help?", Sender: domain.SenderAgent, SessionID: sessionID},
	}, nil
}

func (f *fakeRemote) CloseSession(_ context.Context, sessionID string) error {
	f.record("close:" + sessionID)
	return nil
}

func (f *fakeRemote) EscalateSession(_ context.Context, sessionID string) error {
	f.record("escalate:" + sessionID)
	return nil
}

func (f *fakeRemote) GetTicket(_ context.Context, n string) (*domain.Ticket, error) {
	f.record("details:" + n)
	return &domain.Ticket{TicketNumber: n, Status: domain.TicketStatusActive, Airline: "SkyAir", Price: 199}, nil
}

func (f *fakeRemote) CancelTicket(_ context.Context, n, reason string) (*remote.CancelResult, error) {
	f.record("cancel:" + n + ":" + reason)
	return &remote.CancelResult{Status: domain.TicketStatusCancelled}, nil
}

func (f *fakeRemote) GetRefundStatus(_ context.Context, n string) (*domain.RefundRequest, error) {
	f.record("refund:" + n)
	return &domain.RefundRequest{TicketNumber: n, Status: domain.RefundStatusPending, Amount: 199}, nil
}

func (f *fakeRemote) UpdateRefundStatus(_ context.Context, n string, status domain.RefundStatus, processedBy string) (*domain.RefundRequest, error) {
	f.record("update:" + n + ":" + string(status) + ":" + processedBy)
	return &domain.RefundRequest{TicketNumber: n, Status: status, Amount: 199}, nil
}

func (f *fakeRemote) SearchTickets(_ context.Context, q string) ([]domain.Ticket, error) {
	f.record("search:" + q)
	return []domain.Ticket{{TicketNumber: "TK-1"}, {TicketNumber: "TK-2"}}, nil
}

func (f *fakeRemote) GetTicketHistory(_ context.Context, n string) ([]domain.TicketEvent, error) {
	f.record("ticket-history:" + n)
	return []domain.TicketEvent{{Action: "created"}}, nil
}

// testServer mounts the bridge API behind the identity middleware and returns
// a client that keeps the anonymous cookie between requests.
type testServer struct {
	t      *testing.T
	srv    *httptest.Server
	client *http.Client
	remote *fakeRemote
	reg    *workspace.Registry
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	fake := &fakeRemote{}
	reg := workspace.NewRegistry(fake, nil, workspace.Options{
		TTL:  time.Hour,
		Chat: chat.Options{DisableHistorySync: true},
	}, nil)
	t.Cleanup(func() { reg.Close(context.Background()) })

	r := chi.NewRouter()
	r.Use(identity.Middleware(true))
	Mount(r, NewHandler(reg, 5*time.Second, nil), nil, time.Hour)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookiejar.New() error = %v", err)
	}
	return &testServer{t: t, srv: srv, client: &http.Client{Jar: jar}, remote: fake, reg: reg}
}

// do sends a request and decodes the JSON response into out when non-nil.
func (s *testServer) do(method, path, body string, out interface{}) int {
	s.t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, s.srv.URL+path, rd)
	if err != nil {
		s.t.Fatalf("NewRequest() error = %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := s.client.Do(req)
	if err != nil {
		s.t.Fatalf("%s %s error = %v", method, path, err)
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			s.t.Fatalf("%s %s: decode response: %v", method, path, err)
		}
	}
	return resp.StatusCode
}

func TestMeAndReady(t *testing.T) {
	s := newTestServer(t)

	var me map[string]interface{}
	if status := s.do(http.MethodGet, "/api/me", "", &me); status != http.StatusOK {
		t.Fatalf("GET /api/me status = %d", status)
	}
	userID, _ := me["user_id"].(string)
	if !identity.IsValidAnonID(userID) {
		t.Fatalf("user_id = %q", userID)
	}
	if me["username"] != identity.DeriveUsername(userID) {
		t.Fatalf("username = %v", me["username"])
	}
	if me["default_platform"] != string(domain.PlatformWeb) {
		t.Fatalf("default_platform = %v", me["default_platform"])
	}
	if me["workspace_ttl"] != float64(3600) {
		t.Fatalf("workspace_ttl = %v", me["workspace_ttl"])
	}

	// The cookie jar keeps the same identity.
	var again map[string]interface{}
	s.do(http.MethodGet, "/api/me", "", &again)
	if again["user_id"] != userID {
		t.Fatalf("user_id changed from %q to %v", userID, again["user_id"])
	}

	var ready map[string]interface{}
	if status := s.do(http.MethodGet, "/ready", "", &ready); status != http.StatusOK {
		t.Fatalf("GET /ready status = %d", status)
	}
	if ready["status"] != "ready" || ready["workspaces"] != float64(1) {
		t.Fatalf("ready = %v", ready)
	}
}
