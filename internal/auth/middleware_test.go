package auth

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAuthMiddleware_NoTokenOnDismiss(t *testing.T) {
	mw := NewMiddleware([]byte("test-secret"), NewDefaultPolicy("/api", nil, nil))
	req := httptest.NewRequest(http.MethodPost, "/api/dismiss", nil)
	resp := httptest.NewRecorder()
	mw.Wrap(okHandler()).ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
}

func TestAuthMiddleware_ViewerForbiddenDismiss(t *testing.T) {
	secret := []byte("test-secret")
	token := mustToken(t, secret, RoleViewer)
	mw := NewMiddleware(secret, NewDefaultPolicy("/api", nil, nil))

	req := httptest.NewRequest(http.MethodPost, "/api/dismiss", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	mw.Wrap(okHandler()).ServeHTTP(resp, req)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", resp.Code)
	}
}

func TestAuthMiddleware_OperatorDismissCarriesIdentity(t *testing.T) {
	secret := []byte("test-secret")
	token := mustToken(t, secret, RoleOperator)
	mw := NewMiddleware(secret, NewDefaultPolicy("/api", nil, nil))

	var subject string
	var role Role
	handler := mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject = SubjectFromContext(r.Context())
		role = RoleFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))
	req := httptest.NewRequest(http.MethodPost, "/api/dismiss", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if subject != "user-1" || role != RoleOperator {
		t.Fatalf("unexpected identity %q %q", subject, role)
	}
}

func TestAuthMiddleware_ReadsArePublic(t *testing.T) {
	mw := NewMiddleware([]byte("test-secret"), NewDefaultPolicy("/api", nil, nil))
	for _, path := range []string{"/api/status", "/api/history", "/api/alert"} {
		resp := httptest.NewRecorder()
		mw.Wrap(okHandler()).ServeHTTP(resp, httptest.NewRequest(http.MethodGet, path, nil))
		if resp.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, resp.Code)
		}
	}
}

func TestAuthMiddleware_DisabledWithoutSecret(t *testing.T) {
	if mw := NewMiddleware(nil, NewDefaultPolicy("/api", nil, nil)); mw != nil {
		t.Fatalf("expected nil middleware without secret")
	}
	var mw *Middleware
	resp := httptest.NewRecorder()
	mw.Wrap(okHandler()).ServeHTTP(resp, httptest.NewRequest(http.MethodPost, "/api/dismiss", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected pass-through, got %d", resp.Code)
	}
}

func TestIngestAuth(t *testing.T) {
	secret := []byte("ingest-secret")
	mw := NewIngestAuthMiddleware(secret, time.Minute)
	var seen []byte
	handler := mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	body := []byte(`{"sensor1":1,"sensor2":2,"sensor3":3}`)
	ts := strconv.FormatInt(time.Now().Unix(), 10)

	req := httptest.NewRequest(http.MethodPost, "/api/data", bytes.NewReader(body))
	req.Header.Set(HeaderIngestTimestamp, ts)
	req.Header.Set(HeaderIngestSignature, SignIngest(secret, ts, body))
	resp := httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK || !bytes.Equal(seen, body) {
		t.Fatalf("expected signed request to pass with body intact, got %d %s", resp.Code, seen)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/data", bytes.NewReader(body))
	req.Header.Set(HeaderIngestTimestamp, ts)
	req.Header.Set(HeaderIngestSignature, SignIngest([]byte("other"), ts, body))
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad signature, got %d", resp.Code)
	}

	old := strconv.FormatInt(time.Now().Add(-time.Hour).Unix(), 10)
	req = httptest.NewRequest(http.MethodPost, "/api/data", bytes.NewReader(body))
	req.Header.Set(HeaderIngestTimestamp, old)
	req.Header.Set(HeaderIngestSignature, SignIngest(secret, old, body))
	resp = httptest.NewRecorder()
	handler.ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for stale timestamp, got %d", resp.Code)
	}
}

func mustToken(t *testing.T, secret []byte, role Role) string {
	t.Helper()
	signed, err := IssueJWT(secret, "user-1", role, time.Hour)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestRoles(t *testing.T) {
	if role, ok := NormalizeRole(" Operator "); !ok || role != RoleOperator {
		t.Fatalf("expected operator, got %q %v", role, ok)
	}
	if _, ok := NormalizeRole("root"); ok {
		t.Fatalf("unknown role must not normalize")
	}
	cases := map[Role]bool{RoleViewer: false, RoleOperator: true, RoleAdmin: true, Role("root"): false}
	for role, want := range cases {
		if got := RoleAtLeast(role, DismissRole); got != want {
			t.Fatalf("role %q: expected dismiss allowed=%v, got %v", role, want, got)
		}
	}
}

func TestAuthMiddleware_MixedCaseAdminDismisses(t *testing.T) {
	secret := []byte("test-secret")
	token := mustToken(t, secret, Role("Admin"))
	mw := NewMiddleware(secret, NewDefaultPolicy("/api", nil, nil))
	req := httptest.NewRequest(http.MethodPost, "/api/dismiss", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp := httptest.NewRecorder()
	var role Role
	mw.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		role = RoleFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})).ServeHTTP(resp, req)
	if resp.Code != http.StatusOK || role != RoleAdmin {
		t.Fatalf("expected admin to dismiss, got %d role=%q", resp.Code, role)
	}
}
