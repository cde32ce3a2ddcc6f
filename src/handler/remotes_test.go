package handler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"vibetunnel/server/src/federation"
	"vibetunnel/server/src/session"
)

func TestHandleListWithoutRegistryReturns404(t *testing.T) {
	h := NewRemotesHandler(nil, nil)
	c, w := newTestContext()
	h.HandleList(c)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestHandleListReturnsRegisteredRemotes(t *testing.T) {
	reg := federation.NewRegistry()
	if _, err := reg.Register("r1", "remote-a", "http://localhost:5000", "tok"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	h := NewRemotesHandler(reg, nil)
	c, w := newTestContext()
	h.HandleList(c)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestHandleRegisterRequiresAllFields(t *testing.T) {
	reg := federation.NewRegistry()
	h := NewRemotesHandler(reg, nil)
	c, w := newTestContext()
	c.Request = httptest.NewRequest(http.MethodPost, "/api/remotes/register", strings.NewReader(`{"id":"r1"}`))
	c.Request.Header.Set("Content-Type", "application/json")
	h.HandleRegister(c)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestHandleRegisterSucceeds(t *testing.T) {
	reg := federation.NewRegistry()
	h := NewRemotesHandler(reg, nil)
	c, w := newTestContext()
	body := `{"id":"r1","name":"remote-a","url":"http://localhost:5000","token":"tok"}`
	c.Request = httptest.NewRequest(http.MethodPost, "/api/remotes/register", strings.NewReader(body))
	c.Request.Header.Set("Content-Type", "application/json")
	h.HandleRegister(c)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if _, ok := reg.Get("r1"); !ok {
		t.Fatal("expected remote r1 to be registered")
	}
}

func TestHandleUnregisterUnknownIDFails(t *testing.T) {
	reg := federation.NewRegistry()
	h := NewRemotesHandler(reg, nil)
	c, w := newTestContext()
	c.Params = []gin.Param{{Key: "id", Value: "missing"}}
	h.HandleUnregister(c)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestHandleUnregisterRemovesKnownRemote(t *testing.T) {
	reg := federation.NewRegistry()
	if _, err := reg.Register("r1", "remote-a", "http://localhost:5000", "tok"); err != nil {
		t.Fatalf("Register: %v", err)
	}
	h := NewRemotesHandler(reg, nil)
	c, w := newTestContext()
	c.Params = []gin.Param{{Key: "id", Value: "r1"}}
	h.HandleUnregister(c)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if _, ok := reg.Get("r1"); ok {
		t.Fatal("expected r1 to be unregistered")
	}
}

func TestHandleCleanupExitedWithNoRegistry(t *testing.T) {
	store, err := session.NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	h := NewRemotesHandler(nil, store)
	c, w := newTestContext()
	h.HandleCleanupExited(c)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}
