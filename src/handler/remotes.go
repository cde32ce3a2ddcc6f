package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"vibetunnel/server/src/errs"
	"vibetunnel/server/src/federation"
	"vibetunnel/server/src/session"
)

// RemotesHandler implements the HQ-only remote-registry endpoints:
// register/unregister/list/refresh, plus the aggregating cleanup-exited
// endpoint, which runs whether or not this node is HQ.
type RemotesHandler struct {
	*BaseHandler
	registry *federation.Registry // nil when this node is not HQ
	store    *session.Store
}

// NewRemotesHandler wires a RemotesHandler. registry is nil on a node not
// running in HQ mode; HQ-only routes then answer 404.
func NewRemotesHandler(registry *federation.Registry, store *session.Store) *RemotesHandler {
	return &RemotesHandler{BaseHandler: NewBaseHandler(), registry: registry, store: store}
}

type remoteView struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	URL     string `json:"url"`
	Healthy bool   `json:"healthy"`
}

// HandleList implements GET /api/remotes (HQ only).
func (h *RemotesHandler) HandleList(c *gin.Context) {
	if h.registry == nil {
		h.SendError(c, http.StatusNotFound, errs.New(errs.KindInvalidRequest, "this node is not running as hq"))
		return
	}
	remotes := h.registry.All()
	out := make([]remoteView, 0, len(remotes))
	for _, r := range remotes {
		out = append(out, remoteView{ID: r.ID, Name: r.Name, URL: r.URL, Healthy: r.Healthy()})
	}
	h.SendJSON(c, http.StatusOK, out)
}

type registerRequest struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	URL   string `json:"url"`
	Token string `json:"token"`
}

// HandleRegister implements POST /api/remotes/register.
func (h *RemotesHandler) HandleRegister(c *gin.Context) {
	if h.registry == nil {
		h.SendError(c, http.StatusNotFound, errs.New(errs.KindInvalidRequest, "this node is not running as hq"))
		return
	}
	var req registerRequest
	if err := h.BindJSON(c, &req); err != nil {
		h.SendError(c, http.StatusBadRequest, err)
		return
	}
	if req.ID == "" || req.Name == "" || req.URL == "" || req.Token == "" {
		h.SendError(c, http.StatusBadRequest, errs.New(errs.KindInvalidRequest, "id, name, url and token are required"))
		return
	}

	remote, err := h.registry.Register(req.ID, req.Name, req.URL, req.Token)
	if err != nil {
		h.SendTypedError(c, err)
		return
	}
	h.SendJSON(c, http.StatusOK, gin.H{"success": true, "remote": remoteView{ID: remote.ID, Name: remote.Name, URL: remote.URL, Healthy: remote.Healthy()}})
}

// HandleUnregister implements DELETE /api/remotes/:id.
func (h *RemotesHandler) HandleUnregister(c *gin.Context) {
	if h.registry == nil {
		h.SendError(c, http.StatusNotFound, errs.New(errs.KindInvalidRequest, "this node is not running as hq"))
		return
	}
	id := c.Param("id")
	if _, ok := h.registry.Get(id); !ok {
		h.SendError(c, http.StatusNotFound, errs.New(errs.KindSessionNotFound, "no such remote: "+id))
		return
	}
	h.registry.Unregister(id)
	h.SendJSON(c, http.StatusOK, gin.H{"success": true})
}

// HandleRefreshSessions implements POST /api/remotes/:name/refresh-sessions.
func (h *RemotesHandler) HandleRefreshSessions(c *gin.Context) {
	if h.registry == nil {
		h.SendError(c, http.StatusNotFound, errs.New(errs.KindInvalidRequest, "this node is not running as hq"))
		return
	}
	name := c.Param("name")
	var target *federation.Remote
	for _, r := range h.registry.All() {
		if r.Name == name {
			target = r
			break
		}
	}
	if target == nil {
		h.SendError(c, http.StatusNotFound, errs.New(errs.KindSessionNotFound, "no such remote: "+name))
		return
	}

	refresher := federation.NewRefresher(h.registry)
	refresher.RefreshOne(c.Request.Context(), target)

	h.SendJSON(c, http.StatusOK, gin.H{"success": true, "sessionCount": len(target.SessionIDs())})
}

type remoteCleanupResult struct {
	RemoteName string `json:"remoteName"`
	Cleaned    int    `json:"cleaned"`
	Error      string `json:"error,omitempty"`
}

// HandleCleanupExited implements POST /api/cleanup-exited:
// cleans the local store and every remote concurrently, aggregating counts
// and per-remote errors.
func (h *RemotesHandler) HandleCleanupExited(c *gin.Context) {
	localIDs, err := h.store.RemoveAllExited()
	if err != nil {
		h.SendTypedError(c, err)
		return
	}

	var remoteResults []remoteCleanupResult
	if h.registry != nil {
		var wg sync.WaitGroup
		var mu sync.Mutex
		for _, remote := range h.registry.All() {
			wg.Add(1)
			go func(remote *federation.Remote) {
				defer wg.Done()
				result := cleanupRemote(c.Request.Context(), remote)
				mu.Lock()
				remoteResults = append(remoteResults, result)
				mu.Unlock()
			}(remote)
		}
		wg.Wait()
	}

	h.SendJSON(c, http.StatusOK, gin.H{
		"success":       true,
		"localCleaned":  len(localIDs),
		"remoteResults": remoteResults,
	})
}

// cleanupRemote posts /api/cleanup-exited to remote with its bearer token
// and reports how many sessions it reported cleaning.
func cleanupRemote(ctx context.Context, remote *federation.Remote) remoteCleanupResult {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, remote.URL+"/api/cleanup-exited", nil)
	if err != nil {
		return remoteCleanupResult{RemoteName: remote.Name, Error: err.Error()}
	}
	req.Header.Set("Authorization", "Bearer "+remote.Token)

	resp, err := (&http.Client{Timeout: 10 * time.Second}).Do(req)
	if err != nil {
		return remoteCleanupResult{RemoteName: remote.Name, Error: err.Error()}
	}
	defer resp.Body.Close()

	var parsed struct {
		LocalCleaned int `json:"localCleaned"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return remoteCleanupResult{RemoteName: remote.Name, Error: err.Error()}
	}
	return remoteCleanupResult{RemoteName: remote.Name, Cleaned: parsed.LocalCleaned}
}
