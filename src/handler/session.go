package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"vibetunnel/server/src/config"
	"vibetunnel/server/src/errs"
	"vibetunnel/server/src/fanout"
	"vibetunnel/server/src/federation"
	"vibetunnel/server/src/lib"
	"vibetunnel/server/src/ptyhost"
	"vibetunnel/server/src/session"
	"vibetunnel/server/src/snapshot"
	"vibetunnel/server/src/terminal"
)

// idleModelTimeout tears down a Terminal Model's file handle once no
// observer has touched it for this long.
const idleModelTimeout = 2 * time.Minute

// live bundles the in-memory pieces a running session needs beyond what
// session.Info persists to disk: the PTY host, its terminal model, and a
// cancel func for both their background goroutines.
type live struct {
	host   *ptyhost.Host
	model  *terminal.Model
	cancel context.CancelFunc
}

// SessionHandler implements the Session API: it owns the
// Session Store and, for locally-spawned sessions, their PTY hosts and
// terminal models; remote sessions are proxied through the federation
// registry. The store is an explicit constructor argument, not a package global.
type SessionHandler struct {
	*BaseHandler

	store     *session.Store
	cfg       *config.Config
	registry  *federation.Registry // non-nil only in HQ mode
	bufferHub *fanout.BufferHub
	version   string

	mu   sync.Mutex
	live map[string]*live
}

// NewSessionHandler wires a SessionHandler over store. registry may be nil
// when this node is not running as HQ.
func NewSessionHandler(store *session.Store, cfg *config.Config, registry *federation.Registry, hub *fanout.BufferHub, version string) *SessionHandler {
	return &SessionHandler{
		BaseHandler: NewBaseHandler(),
		store:       store,
		cfg:         cfg,
		registry:    registry,
		bufferHub:   hub,
		version:     version,
		live:        make(map[string]*live),
	}
}

type createRequest struct {
	Command       []string          `json:"command"`
	WorkingDir    string            `json:"workingDir"`
	Name          string            `json:"name"`
	Cols          int               `json:"cols"`
	Rows          int               `json:"rows"`
	Term          string            `json:"term"`
	SpawnTerminal bool              `json:"spawn_terminal"`
	RemoteID      string            `json:"remoteId"`
	Env           map[string]string `json:"env"`
}

// HandleCreate implements POST /api/sessions.
func (h *SessionHandler) HandleCreate(c *gin.Context) {
	var req createRequest
	if err := h.BindJSON(c, &req); err != nil {
		h.SendError(c, http.StatusBadRequest, err)
		return
	}
	if len(req.Command) == 0 {
		h.SendError(c, http.StatusBadRequest, errs.New(errs.KindInvalidRequest, "command must be non-empty"))
		return
	}
	if req.Cols == 0 {
		req.Cols = 80
	}
	if req.Rows == 0 {
		req.Rows = 24
	}

	if req.RemoteID != "" {
		h.createOnRemote(c, req)
		return
	}

	cwd := lib.ExpandHome(req.WorkingDir)
	if cwd == "" {
		cwd, _ = os.Getwd()
	} else if _, err := os.Stat(cwd); err != nil {
		logrus.WithField("workingDir", cwd).Warn("session create: working dir inaccessible, substituting home directory")
		home, herr := os.UserHomeDir()
		if herr == nil {
			cwd = home
		}
	}

	term := req.Term
	if term == "" {
		term = "xterm-256color"
	}

	info := &session.Info{
		Name:    req.Name,
		Cmdline: req.Command,
		Cwd:     cwd,
		Status:  session.StatusStarting,
		Term:    term,
		Width:   req.Cols,
		Height:  req.Rows,
		Env:     req.Env,
	}
	info, err := h.store.Create(info)
	if err != nil {
		h.SendTypedError(c, err)
		return
	}

	host, err := ptyhost.Spawn(req.Command, cwd, req.Env, uint16(req.Cols), uint16(req.Rows))
	if err != nil {
		_ = h.store.Remove(info.ID)
		h.SendTypedError(c, err)
		return
	}
	info.Pid = host.Pid()
	info.Status = session.StatusRunning
	_ = info.Save(h.store.Dir(info.ID))

	ctx, cancel := context.WithCancel(context.Background())
	model := terminal.NewModel(filepath.Join(h.store.Dir(info.ID), "stream-out"), req.Cols, req.Rows, idleModelTimeout)

	h.mu.Lock()
	h.live[info.ID] = &live{host: host, model: model, cancel: cancel}
	h.mu.Unlock()
	h.bufferHub.SetSource(info.ID, model)

	go h.pumpOutput(ctx, info.ID, host)
	go model.Run(ctx)
	go h.publishOnChange(ctx, info.ID, model)
	go h.tailStdin(ctx, info.ID, host)

	h.SendJSON(c, http.StatusOK, gin.H{"sessionId": info.ID})
}

// pumpOutput copies PTY output into stream-out until the child exits,
// appending the terminal exit event to the log.
func (h *SessionHandler) pumpOutput(ctx context.Context, id string, host *ptyhost.Host) {
	streamPath := filepath.Join(h.store.Dir(id), "stream-out")
	buf := make([]byte, 32*1024)
	for {
		n, err := host.Read(buf)
		if n > 0 {
			if werr := session.AppendOutput(streamPath, buf[:n]); werr != nil {
				logrus.WithError(werr).WithField("session", id).Warn("session: failed to append stream-out")
			}
		}
		if err != nil {
			break
		}
		select {
		case <-ctx.Done():
			return
		default:
		}
	}

	<-host.Done()
	code := host.ExitCode()
	_ = session.AppendExit(streamPath, id, code)
	_ = h.store.UpdateStatus(id, session.StatusExited, &code)
}

// tailStdin forwards everything written to the session's stdin FIFO into
// the PTY, so HandleInput's FIFO writes (and any external CLI writing into
// the control directory directly) reach the child the same way.
func (h *SessionHandler) tailStdin(ctx context.Context, id string, host *ptyhost.Host) {
	if err := session.TailStdin(h.store.Dir(id), ctx.Done(), host.Write); err != nil {
		logrus.WithError(err).WithField("session", id).Debug("session: stdin fifo tail ended")
	}
}

// publishOnChange pushes a fresh binary snapshot to the buffer hub every
// time the model's debounced "changed" signal fires.
func (h *SessionHandler) publishOnChange(ctx context.Context, id string, model *terminal.Model) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-model.Changed():
			grid, cx, cy, bell := model.Snapshot()
			frame := snapshot.Encode(grid, 0, cx, cy, bell)
			h.bufferHub.Publish(id, fanout.EncodeFrame(id, frame))
		}
	}
}

// createOnRemote forwards a forced-placement create and records the
// resulting session id in that remote's ownership set.
func (h *SessionHandler) createOnRemote(c *gin.Context, req createRequest) {
	if h.registry == nil {
		h.SendError(c, http.StatusBadRequest, errs.New(errs.KindInvalidRequest, "remoteId is only valid against an HQ node"))
		return
	}
	remote, ok := h.registry.Get(req.RemoteID)
	if !ok {
		h.SendError(c, http.StatusBadRequest, errs.New(errs.KindInvalidRequest, "unknown remoteId: "+req.RemoteID))
		return
	}

	// The remote creates the session locally, so it must not see remoteId.
	req.RemoteID = ""
	body, _ := json.Marshal(req)
	httpReq, err := http.NewRequestWithContext(c.Request.Context(), http.MethodPost, remote.URL+"/api/sessions", bytes.NewReader(body))
	if err != nil {
		h.SendTypedError(c, errs.Wrap(errs.KindRemoteUnreachable, "build remote create request", err))
		return
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+remote.Token)

	resp, err := (&http.Client{Timeout: 10 * time.Second}).Do(httpReq)
	if err != nil {
		h.SendTypedError(c, errs.Wrap(errs.KindRemoteUnreachable, "create on remote", err))
		return
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		c.Data(resp.StatusCode, "application/json", respBody)
		return
	}

	var parsed struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(respBody, &parsed); err == nil && parsed.SessionID != "" {
		remote.AddSession(parsed.SessionID)
	}
	c.Data(http.StatusOK, "application/json", respBody)
}

// HandleList implements GET /api/sessions.
func (h *SessionHandler) HandleList(c *gin.Context) {
	local := h.store.List()
	rows := make([]session.Row, 0, len(local))
	for _, info := range local {
		rows = append(rows, session.Row{Info: *info, Source: "local"})
	}

	if h.registry != nil {
		var wg sync.WaitGroup
		var mu sync.Mutex
		for _, remote := range h.registry.All() {
			if !remote.Healthy() {
				continue
			}
			wg.Add(1)
			go func(remote *federation.Remote) {
				defer wg.Done()
				remoteRows := h.fetchRemoteSessions(c.Request.Context(), remote)
				mu.Lock()
				rows = append(rows, remoteRows...)
				mu.Unlock()
			}(remote)
		}
		wg.Wait()
	}

	h.SendJSON(c, http.StatusOK, rows)
}

func (h *SessionHandler) fetchRemoteSessions(ctx context.Context, remote *federation.Remote) []session.Row {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, remote.URL+"/api/sessions", nil)
	if err != nil {
		return nil
	}
	req.Header.Set("Authorization", "Bearer "+remote.Token)

	resp, err := (&http.Client{Timeout: 5 * time.Second}).Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil
	}

	var rows []session.Row
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil
	}
	for i := range rows {
		rows[i].Source = "remote"
		rows[i].RemoteID = remote.ID
		rows[i].RemoteName = remote.Name
	}
	return rows
}

// HandleGet implements GET /api/sessions/:id.
func (h *SessionHandler) HandleGet(c *gin.Context) {
	id := c.Param("id")
	if info, err := h.store.Get(id); err == nil {
		h.SendJSON(c, http.StatusOK, session.Row{Info: *info, Source: "local"})
		return
	}
	h.proxyOrNotFound(c, id)
}

func (h *SessionHandler) proxyOrNotFound(c *gin.Context, id string) {
	if h.registry != nil {
		if remote, ok := h.registry.OwnerOf(id); ok {
			proxy, err := federation.NewProxy(remote)
			if err == nil {
				proxy.ServeHTTP(c.Writer, c.Request)
				return
			}
		}
	}
	h.SendTypedError(c, errs.New(errs.KindSessionNotFound, "no such session: "+id))
}

// HandleKill implements DELETE /api/sessions/:id.
func (h *SessionHandler) HandleKill(c *gin.Context) {
	id := c.Param("id")

	h.mu.Lock()
	l, ok := h.live[id]
	h.mu.Unlock()

	info, err := h.store.Get(id)
	if err != nil {
		h.proxyOrNotFound(c, id)
		return
	}
	if info.Status == session.StatusExited {
		h.SendTypedError(c, errs.New(errs.KindSessionExited, "already exited"))
		return
	}

	if ok {
		_ = l.host.Kill()
		l.cancel()
		h.mu.Lock()
		delete(h.live, id)
		h.mu.Unlock()
		h.bufferHub.RemoveSource(id)
	}

	h.SendJSON(c, http.StatusOK, gin.H{"success": true})
}

// HandleCleanup implements DELETE/POST /api/sessions/:id/cleanup.
func (h *SessionHandler) HandleCleanup(c *gin.Context) {
	id := c.Param("id")
	if _, err := h.store.Get(id); err != nil {
		h.SendTypedError(c, err)
		return
	}
	h.mu.Lock()
	if l, ok := h.live[id]; ok {
		_ = l.host.Kill()
		l.cancel()
		delete(h.live, id)
	}
	h.mu.Unlock()
	h.bufferHub.RemoveSource(id)

	if err := h.store.Remove(id); err != nil {
		h.SendTypedError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type inputRequest struct {
	Input string `json:"input"`
	Text  string `json:"text"`
	Type  string `json:"type"`
}

// HandleInput implements POST /api/sessions/:id/input.
func (h *SessionHandler) HandleInput(c *gin.Context) {
	id := c.Param("id")
	var req inputRequest
	if err := h.BindJSON(c, &req); err != nil {
		h.SendError(c, http.StatusBadRequest, err)
		return
	}
	if req.Input != "" && req.Text != "" {
		h.SendError(c, http.StatusBadRequest, errs.New(errs.KindInvalidRequest, "input and text are mutually exclusive"))
		return
	}

	h.mu.Lock()
	_, ok := h.live[id]
	h.mu.Unlock()
	if !ok {
		h.proxyOrNotFound(c, id)
		return
	}

	var payload []byte
	switch {
	case req.Type != "":
		seq, err := ptyhost.TranslateKey(req.Type)
		if err != nil {
			h.SendTypedError(c, err)
			return
		}
		payload = seq
	case req.Text != "":
		payload = []byte(req.Text)
	default:
		payload = []byte(req.Input)
	}

	if err := session.WriteStdin(h.store.Dir(id), payload); err != nil {
		h.SendTypedError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type resizeRequest struct {
	Cols int `json:"cols"`
	Rows int `json:"rows"`
}

// HandleResize implements POST /api/sessions/:id/resize.
func (h *SessionHandler) HandleResize(c *gin.Context) {
	id := c.Param("id")
	var req resizeRequest
	if err := h.BindJSON(c, &req); err != nil {
		h.SendError(c, http.StatusBadRequest, err)
		return
	}

	if !h.cfg.AllowResize {
		h.SendJSON(c, http.StatusOK, gin.H{"success": false, "error": "resize_disabled_by_server"})
		return
	}

	h.mu.Lock()
	l, ok := h.live[id]
	h.mu.Unlock()
	if !ok {
		h.proxyOrNotFound(c, id)
		return
	}

	if err := l.host.Resize(uint16(req.Cols), uint16(req.Rows)); err != nil {
		h.SendTypedError(c, err)
		return
	}
	streamPath := filepath.Join(h.store.Dir(id), "stream-out")
	_ = session.AppendResize(streamPath, req.Cols, req.Rows)
	_ = h.store.UpdateStatus(id, session.StatusRunning, nil)

	h.SendJSON(c, http.StatusOK, gin.H{"success": true, "cols": req.Cols, "rows": req.Rows})
}

// HandleStream implements GET /api/sessions/:id/stream.
func (h *SessionHandler) HandleStream(c *gin.Context) {
	id := c.Param("id")
	info, err := h.store.Get(id)
	if err != nil {
		h.proxyOrNotFound(c, id)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		h.SendError(c, http.StatusInternalServerError, fmt.Errorf("streaming unsupported"))
		return
	}

	stream := fanout.NewTextStream(filepath.Join(h.store.Dir(info.ID), "stream-out"))
	if err := stream.Serve(c.Request.Context(), c.Writer, flusher); err != nil {
		logrus.WithError(err).WithField("session", id).Debug("session: stream ended")
	}
}

// HandleSnapshot implements GET /api/sessions/:id/snapshot. It returns the
// binary grid snapshot by default, or the asciinema replay when the client
// negotiates text via ?format=asciinema.
func (h *SessionHandler) HandleSnapshot(c *gin.Context) {
	id := c.Param("id")
	info, err := h.store.Get(id)
	if err != nil {
		h.proxyOrNotFound(c, id)
		return
	}

	if c.Query("format") == "asciinema" {
		data, err := os.ReadFile(filepath.Join(h.store.Dir(id), "stream-out"))
		if err != nil {
			h.SendTypedError(c, errs.Wrap(errs.KindFileSystemError, "read stream-out", err))
			return
		}
		c.Data(http.StatusOK, "application/x-ndjson", data)
		return
	}

	h.mu.Lock()
	l, ok := h.live[id]
	h.mu.Unlock()
	if !ok {
		grid := terminal.NewGrid(info.Width, info.Height, 0)
		c.Data(http.StatusOK, "application/octet-stream", snapshot.Encode(grid, 0, 0, 0, false))
		return
	}

	grid, cx, cy, bell := l.model.Snapshot()
	c.Data(http.StatusOK, "application/octet-stream", snapshot.Encode(grid, 0, cx, cy, bell))
}

// HandleMultistream implements GET /api/sessions/multistream?session_id=...,
// concatenating several sessions' SSE streams over one connection with
// per-event sessionId attribution.
func (h *SessionHandler) HandleMultistream(c *gin.Context) {
	ids := c.QueryArray("session_id")
	if len(ids) == 0 {
		h.SendError(c, http.StatusBadRequest, errs.New(errs.KindInvalidRequest, "session_id is required"))
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		h.SendError(c, http.StatusInternalServerError, fmt.Errorf("streaming unsupported"))
		return
	}

	ctx := c.Request.Context()
	aw := &attributedWriter{w: c.Writer, f: flusher}
	var wg sync.WaitGroup
	for _, id := range ids {
		info, err := h.store.Get(id)
		if err != nil {
			continue
		}
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			h.pumpAttributed(ctx, aw, id)
		}(info.ID)
	}
	wg.Wait()
}

// attributedWriter serializes concurrent SSE writes from multiple
// TextStream.Serve goroutines sharing one response body.
type attributedWriter struct {
	mu sync.Mutex
	w  io.Writer
	f  http.Flusher
}

func (a *attributedWriter) Write(p []byte) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.w.Write(p)
}

func (a *attributedWriter) Flush() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.f.Flush()
}

// pumpAttributed tails one session's stream-out into the shared multistream
// connection, reusing the same replay/poll/heartbeat behavior HandleStream
// gives a single-session subscriber, tagging every record with id.
func (h *SessionHandler) pumpAttributed(ctx context.Context, w *attributedWriter, id string) {
	stream := fanout.NewAttributedTextStream(filepath.Join(h.store.Dir(id), "stream-out"), id)
	if err := stream.Serve(ctx, w, w); err != nil {
		logrus.WithError(err).WithField("session", id).Debug("session: multistream ended")
	}
}
