package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMiddlewareIssuesCookie(t *testing.T) {
	t.Parallel()

	var gotUser, gotName string
	h := Middleware(true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = UserIDFromContext(r.Context())
		gotName = UsernameFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/me", nil))

	if !IsValidAnonID(gotUser) {
		t.Fatalf("user id %q is not an anonymous id", gotUser)
	}
	if gotName != DeriveUsername(gotUser) {
		t.Fatalf("username = %q, want %q", gotName, DeriveUsername(gotUser))
	}

	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != AnonCookieName || cookies[0].Value != gotUser {
		t.Fatalf("cookies = %+v, want %s=%s", cookies, AnonCookieName, gotUser)
	}
	if cookies[0].Secure {
		t.Fatal("cookie is Secure in development mode")
	}
}

func TestMiddlewareReusesValidCookie(t *testing.T) {
	t.Parallel()

	existing := "anon_0123456789abcdef0123456789abcdef"
	var gotUser string
	h := Middleware(false)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = UserIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/chat", nil)
	req.AddCookie(&http.Cookie{Name: AnonCookieName, Value: existing})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if gotUser != existing {
		t.Fatalf("user id = %q, want %q", gotUser, existing)
	}
	cookies := rec.Result().Cookies()
	if len(cookies) != 1 || !cookies[0].Secure {
		t.Fatalf("cookies = %+v, want refreshed Secure cookie", cookies)
	}
}

func TestMiddlewareReplacesForgedCookie(t *testing.T) {
	t.Parallel()

	var gotUser string
	h := Middleware(true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = UserIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/chat", nil)
	req.AddCookie(&http.Cookie{Name: AnonCookieName, Value: "admin"})
	h.ServeHTTP(httptest.NewRecorder(), req)

	if gotUser == "admin" || !IsValidAnonID(gotUser) {
		t.Fatalf("user id = %q, want a freshly generated id", gotUser)
	}
}

func TestWithUser(t *testing.T) {
	t.Parallel()

	ctx := WithUser(context.Background(), "anon_0123456789abcdef0123456789abcdef")
	if got := UsernameFromContext(ctx); got != "anon-89abcdef" {
		t.Fatalf("UsernameFromContext() = %q", got)
	}
	if got := UserIDFromContext(context.Background()); got != "" {
		t.Fatalf("UserIDFromContext(empty) = %q, want empty", got)
	}
}

func TestIPFromRequest(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.1.2.3:5555"
	if got := IPFromRequest(req); got != "10.1.2.3" {
		t.Fatalf("IPFromRequest() = %q", got)
	}
	req.RemoteAddr = "unix"
	if got := IPFromRequest(req); got != "unix" {
		t.Fatalf("IPFromRequest() = %q", got)
	}
}
