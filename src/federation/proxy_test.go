package federation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNewProxyAttachesBearerToken(t *testing.T) {
	var gotAuth string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	remote := &Remote{ID: "r1", URL: upstream.URL, Token: "tok-123", sessions: make(map[string]struct{})}
	proxy, err := NewProxy(remote)
	if err != nil {
		t.Fatalf("NewProxy: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	rec := httptest.NewRecorder()
	proxy.ServeHTTP(rec, req)

	if gotAuth != "Bearer tok-123" {
		t.Fatalf("Authorization = %q, want \"Bearer tok-123\"", gotAuth)
	}
}

func TestNewProxyErrorHandlerOnUnreachable(t *testing.T) {
	remote := &Remote{ID: "r1", URL: "http://127.0.0.1:1", Token: "tok", sessions: make(map[string]struct{})}
	proxy, err := NewProxy(remote)
	if err != nil {
		t.Fatalf("NewProxy: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
	rec := httptest.NewRecorder()
	proxy.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestNewProxyRejectsBadURL(t *testing.T) {
	remote := &Remote{ID: "r1", URL: "://bad-url", Token: "tok", sessions: make(map[string]struct{})}
	if _, err := NewProxy(remote); err == nil {
		t.Fatalf("expected error parsing malformed remote URL")
	}
}

func TestRefresherRefreshOneUpdatesSessionsAndHealth(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := sessionsListResponse{{ID: "s1"}, {ID: "s2"}}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer upstream.Close()

	reg := NewRegistry()
	remote, err := reg.Register("r1", "remote-a", upstream.URL, "tok")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	refresher := NewRefresher(reg)
	refresher.RefreshOne(context.Background(), remote)

	if !remote.Healthy() {
		t.Fatalf("expected remote to be healthy after a successful refresh")
	}
	ids := remote.SessionIDs()
	if len(ids) != 2 {
		t.Fatalf("SessionIDs() = %v, want 2 entries", ids)
	}
}

func TestRefresherRefreshOneMarksUnhealthyOnFailure(t *testing.T) {
	reg := NewRegistry()
	remote, err := reg.Register("r1", "remote-a", "http://127.0.0.1:1", "tok")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	refresher := NewRefresher(reg)
	refresher.RefreshOne(context.Background(), remote)

	if remote.Healthy() {
		t.Fatalf("expected remote to be unhealthy after a failed refresh")
	}
}
