package federation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHQClientRegisterSuccess(t *testing.T) {
	var gotReq registerRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "admin" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("decode register request: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewHQClient(srv.URL, "admin", "secret", "remote-1", "http://localhost:4021")
	if err := c.Register(context.Background()); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if gotReq.Name != "remote-1" || gotReq.URL != "http://localhost:4021" {
		t.Fatalf("server received %+v, want name/url to match", gotReq)
	}
}

func TestHQClientRegisterConflict(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))
	defer srv.Close()

	c := NewHQClient(srv.URL, "admin", "secret", "remote-1", "http://localhost:4021")
	err := c.Register(context.Background())
	if err == nil {
		t.Fatalf("expected conflict error")
	}
}

func TestHQClientDeregister(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewHQClient(srv.URL, "admin", "secret", "remote-1", "http://localhost:4021")
	if err := c.Deregister(context.Background()); err != nil {
		t.Fatalf("Deregister: %v", err)
	}
	if gotPath != "/api/remotes/"+c.SelfID {
		t.Fatalf("path = %q, want /api/remotes/%s", gotPath, c.SelfID)
	}
}
