package remote

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/skydesk/internal/domain"
)

type recorded struct {
	mu     sync.Mutex
	method string
	path   string
	raw    string
	query  string
	auth   string
	body   map[string]string
}

// newTestClient starts a fake support API that answers with respond and
// records the last request.
func newTestClient(t *testing.T, token string, respond func(w http.ResponseWriter, r *http.Request)) (*Client, *recorded) {
	t.Helper()
	rec := &recorded{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		rec.method = r.Method
		rec.path = r.URL.Path
		rec.raw = r.URL.EscapedPath()
		rec.query = r.URL.Query().Get("q")
		rec.auth = r.Header.Get("Authorization")
		rec.body = nil
		if data, _ := io.ReadAll(r.Body); len(data) > 0 {
			_ = json.Unmarshal(data, &rec.body)
		}
		respond(w, r)
	}))
	t.Cleanup(srv.Close)

	c, err := NewClient(Config{BaseURL: srv.URL + "/api/v1/", Token: token, Timeout: 5 * time.Second}, nil)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return c, rec
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = io.WriteString(w, body)
}

func TestNewClientRejectsBadURL(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"ftp://example.com", "://bad"} {
		if _, err := NewClient(Config{BaseURL: raw}, nil); err == nil {
			t.Errorf("NewClient(%q) error = nil", raw)
		}
	}
}

func TestSendMessage(t *testing.T) {
	t.Parallel()
	c, rec := newTestClient(t, "tok", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"content":"hi","role":"assistant","session_id":"s1","created_at":"2024-03-01T12:00:00Z"}`)
	})

	res, err := c.SendMessage(context.Background(), SendMessageRequest{Content: "hello", Platform: domain.PlatformWeb, UserID: "u1"})
	if err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	if rec.method != http.MethodPost || rec.path != "/api/v1/chat/message" {
		t.Fatalf("request = %s %s", rec.method, rec.path)
	}
	if rec.auth != "Bearer tok" {
		t.Fatalf("Authorization = %q", rec.auth)
	}
	if rec.body["content"] != "hello" || rec.body["platform"] != "web" || rec.body["user_id"] != "u1" {
		t.Fatalf("body = %v", rec.body)
	}
	if res.SessionID != "s1" || res.Message.Content != "hi" || res.Message.Sender != domain.SenderAgent {
		t.Fatalf("result = %+v", res)
	}
}

func TestSendMessageWithoutContentEchoesRequest(t *testing.T) {
	t.Parallel()
	c, rec := newTestClient(t, "", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"session_id":"s1"}`)
	})

	res, err := c.SendMessage(context.Background(), SendMessageRequest{Content: "hello"})
	if err != nil {
		t.Fatalf("SendMessage() error = %v", err)
	}
	if rec.auth != "" {
		t.Fatalf("Authorization sent without a token: %q", rec.auth)
	}
	if res.Message.Content != "hello" {
		t.Fatalf("content = %q, want request content", res.Message.Content)
	}
}

func TestPathSegmentsAreEscaped(t *testing.T) {
	t.Parallel()
	c, rec := newTestClient(t, "", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, `{"messages":null}`)
	})

	msgs, err := c.GetHistory(context.Background(), "a/b c")
	if err != nil {
		t.Fatalf("GetHistory() error = %v", err)
	}
	if rec.raw != "/api/v1/chat/history/a%2Fb%20c" {
		t.Fatalf("escaped path = %q", rec.raw)
	}
	if msgs == nil || len(msgs) != 0 {
		t.Fatalf("messages = %v, want empty non-nil slice", msgs)
	}
}

func TestAPIErrorCarriesErrorField(t *testing.T) {
	t.Parallel()
	c, _ := newTestClient(t, "", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, `{"error":"Ticket not found"}`)
	})

	_, err := c.GetTicket(context.Background(), "TK-404")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("GetTicket() error = %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusNotFound || apiErr.Message != "Ticket not found" {
		t.Fatalf("APIError = %+v", apiErr)
	}
	if errors.Is(err, ErrTransport) {
		t.Fatal("rejection classified as transport failure")
	}
}

func TestAPIErrorWithoutErrorField(t *testing.T) {
	t.Parallel()
	c, _ := newTestClient(t, "", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusInternalServerError, `{"detail":{"error":"nested"}}`)
	})

	_, err := c.GetRefundStatus(context.Background(), "TK-1")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Message != "" {
		t.Fatalf("error = %v, want APIError with empty message", err)
	}
	if !strings.Contains(apiErr.Error(), "500") {
		t.Fatalf("Error() = %q", apiErr.Error())
	}
}

func TestTransportError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	c, err := NewClient(Config{BaseURL: base, Timeout: time.Second}, nil)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	_, err = c.GetTicket(context.Background(), "TK-1")
	if !errors.Is(err, ErrTransport) {
		t.Fatalf("GetTicket() error = %v, want ErrTransport", err)
	}
}

func TestTicketEndpoints(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		response   string
		call       func(c *Client) (any, error)
		wantMethod string
		wantPath   string
		check      func(t *testing.T, got any, rec *recorded)
	}{
		{
			name:     "details",
			response: `{"ticket":{"ticket_number":"TK-1","status":"active","airline":"SkyAir","price":120.5}}`,
			call: func(c *Client) (any, error) {
				return c.GetTicket(context.Background(), "TK-1")
			},
			wantMethod: http.MethodGet,
			wantPath:   "/api/v1/tickets/TK-1",
			check: func(t *testing.T, got any, _ *recorded) {
				tk := got.(*domain.Ticket)
				if tk.TicketNumber != "TK-1" || tk.Price != 120.5 {
					t.Fatalf("ticket = %+v", tk)
				}
			},
		},
		{
			name:     "cancel defaults status",
			response: `{}`,
			call: func(c *Client) (any, error) {
				return c.CancelTicket(context.Background(), "TK-1", "sick")
			},
			wantMethod: http.MethodPost,
			wantPath:   "/api/v1/tickets/TK-1/cancel",
			check: func(t *testing.T, got any, rec *recorded) {
				if got.(*CancelResult).Status != domain.TicketStatusCancelled {
					t.Fatalf("status = %q", got.(*CancelResult).Status)
				}
				if rec.body["reason"] != "sick" {
					t.Fatalf("body = %v", rec.body)
				}
			},
		},
		{
			name:     "refund status",
			response: `{"refund_request":{"status":"approved","amount":99}}`,
			call: func(c *Client) (any, error) {
				return c.GetRefundStatus(context.Background(), "TK-1")
			},
			wantMethod: http.MethodGet,
			wantPath:   "/api/v1/tickets/TK-1/refund-status",
			check: func(t *testing.T, got any, _ *recorded) {
				if got.(*domain.RefundRequest).Status != domain.RefundStatusApproved {
					t.Fatalf("refund = %+v", got)
				}
			},
		},
		{
			name:     "update refund",
			response: `{"refund_request":{"status":"processed"}}`,
			call: func(c *Client) (any, error) {
				return c.UpdateRefundStatus(context.Background(), "TK-1", domain.RefundStatusProcessed, "agent-7")
			},
			wantMethod: http.MethodPut,
			wantPath:   "/api/v1/tickets/TK-1/refund-status",
			check: func(t *testing.T, _ any, rec *recorded) {
				if rec.body["status"] != "processed" || rec.body["processed_by"] != "agent-7" {
					t.Fatalf("body = %v", rec.body)
				}
			},
		},
		{
			name:     "search",
			response: `{"tickets":[{"ticket_number":"TK-1"},{"ticket_number":"TK-2"}]}`,
			call: func(c *Client) (any, error) {
				return c.SearchTickets(context.Background(), "smith & co")
			},
			wantMethod: http.MethodGet,
			wantPath:   "/api/v1/tickets/search",
			check: func(t *testing.T, got any, rec *recorded) {
				if len(got.([]domain.Ticket)) != 2 {
					t.Fatalf("tickets = %v", got)
				}
				if rec.query != "smith & co" {
					t.Fatalf("q = %q", rec.query)
				}
			},
		},
		{
			name:     "history",
			response: `{"history":[{"action":"created"}]}`,
			call: func(c *Client) (any, error) {
				return c.GetTicketHistory(context.Background(), "TK-1")
			},
			wantMethod: http.MethodGet,
			wantPath:   "/api/v1/tickets/TK-1/history",
			check: func(t *testing.T, got any, _ *recorded) {
				if ev := got.([]domain.TicketEvent); len(ev) != 1 || ev[0].Action != "created" {
					t.Fatalf("history = %v", got)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c, rec := newTestClient(t, "", func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusOK, tt.response)
			})
			got, err := tt.call(c)
			if err != nil {
				t.Fatalf("call error = %v", err)
			}
			if rec.method != tt.wantMethod || rec.path != tt.wantPath {
				t.Fatalf("request = %s %s, want %s %s", rec.method, rec.path, tt.wantMethod, tt.wantPath)
			}
			tt.check(t, got, rec)
		})
	}
}

func TestSessionCommandsWrapErrors(t *testing.T) {
	t.Parallel()
	c, rec := newTestClient(t, "", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusConflict, `{"error":"already closed"}`)
	})

	err := c.CloseSession(context.Background(), "s1")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Message != "already closed" {
		t.Fatalf("CloseSession() error = %v", err)
	}
	if rec.path != "/api/v1/chat/session/s1/close" {
		t.Fatalf("path = %q", rec.path)
	}

	if err := c.EscalateSession(context.Background(), "s1"); err == nil || rec.path != "/api/v1/chat/session/s1/escalate" {
		t.Fatalf("EscalateSession() error = %v, path = %q", err, rec.path)
	}
}
