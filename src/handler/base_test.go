package handler

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"vibetunnel/server/src/errs"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestContext() (*gin.Context, *httptest.ResponseRecorder) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	return c, w
}

func TestStatusForKind(t *testing.T) {
	cases := []struct {
		kind errs.Kind
		want int
	}{
		{errs.KindSessionNotFound, http.StatusNotFound},
		{errs.KindSessionExited, http.StatusGone},
		{errs.KindInvalidDimensions, http.StatusBadRequest},
		{errs.KindInvalidRequest, http.StatusBadRequest},
		{errs.KindAuthRequired, http.StatusUnauthorized},
		{errs.KindAuthRejected, http.StatusUnauthorized},
		{errs.KindRemoteUnreachable, http.StatusServiceUnavailable},
		{errs.KindRemoteConflict, http.StatusConflict},
		{errs.KindAlreadyRegistered, http.StatusConflict},
		{errs.KindPTYCreationFailed, http.StatusInternalServerError},
		{errs.KindFileSystemError, http.StatusInternalServerError},
		{errs.Kind("unknown"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := statusForKind(tc.kind); got != tc.want {
			t.Errorf("statusForKind(%s) = %d, want %d", tc.kind, got, tc.want)
		}
	}
}

func TestSendTypedErrorSessionExitedReturnsGoneSuccess(t *testing.T) {
	h := NewBaseHandler()
	c, w := newTestContext()
	h.SendTypedError(c, errs.New(errs.KindSessionExited, "already exited"))
	if w.Code != http.StatusGone {
		t.Fatalf("status = %d, want 410", w.Code)
	}
}

func TestSendTypedErrorResizeDisabledReturnsOKWithFalseSuccess(t *testing.T) {
	h := NewBaseHandler()
	c, w := newTestContext()
	h.SendTypedError(c, errs.New(errs.KindResizeDisabled, "resize disabled"))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestSendTypedErrorUnknownKindFallsBackTo500(t *testing.T) {
	h := NewBaseHandler()
	c, w := newTestContext()
	h.SendTypedError(c, errors.New("boom"))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
}

func TestSendErrorWritesErrorBody(t *testing.T) {
	h := NewBaseHandler()
	c, w := newTestContext()
	h.SendError(c, http.StatusBadRequest, errors.New("bad input"))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if !strings.Contains(w.Body.String(), "bad input") {
		t.Fatalf("body = %q, want it to contain the error message", w.Body.String())
	}
}

func TestSendSuccessWritesSuccessBody(t *testing.T) {
	h := NewBaseHandler()
	c, w := newTestContext()
	h.SendSuccess(c, "done")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), "done") {
		t.Fatalf("body = %q, want it to contain the message", w.Body.String())
	}
}

func TestGetPathParamMissingFails(t *testing.T) {
	h := NewBaseHandler()
	c, _ := newTestContext()
	if _, err := h.GetPathParam(c, "id"); err == nil {
		t.Fatal("expected an error for a missing path parameter")
	}
}

func TestGetQueryParamDefaultsWhenAbsent(t *testing.T) {
	h := NewBaseHandler()
	c, _ := newTestContext()
	if got := h.GetQueryParam(c, "format", "binary"); got != "binary" {
		t.Fatalf("GetQueryParam = %q, want default %q", got, "binary")
	}
}

