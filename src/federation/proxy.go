package federation

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"vibetunnel/server/src/errs"
)

// refreshInterval bounds how often HQ re-fetches each remote's session
// list; every remote is refreshed in parallel on this cadence.
const refreshInterval = 15 * time.Second

// NewProxy builds a reverse proxy forwarding to remote verbatim (method,
// body, headers) with the remote's bearer token attached, streaming bytes
// through unparsed for SSE/WebSocket bodies — net/http/httputil already
// does exactly this, so the proxy layer doesn't hand-roll stream copying.
func NewProxy(remote *Remote) (*httputil.ReverseProxy, error) {
	target, err := url.Parse(remote.URL)
	if err != nil {
		return nil, errs.Wrap(errs.KindRemoteUnreachable, "parse remote url", err)
	}
	proxy := httputil.NewSingleHostReverseProxy(target)
	originalDirector := proxy.Director
	proxy.Director = func(req *http.Request) {
		originalDirector(req)
		req.Header.Set("Authorization", "Bearer "+remote.Token)
	}
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logrus.WithError(err).WithField("remote", remote.ID).Warn("federation: proxy request failed")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"remote_unreachable"}`))
	}
	return proxy, nil
}

// sessionsListResponse mirrors GET /api/sessions, which answers with a bare
// JSON array of session rows.
type sessionsListResponse []struct {
	ID string `json:"id"`
}

// Refresher periodically re-fetches each remote's /api/sessions and health
// state.
type Refresher struct {
	registry *Registry
	client   *http.Client
}

// NewRefresher builds a refresher sharing one HTTP client across remotes.
func NewRefresher(registry *Registry) *Refresher {
	return &Refresher{registry: registry, client: &http.Client{Timeout: 5 * time.Second}}
}

// Run refreshes every registered remote in parallel every refreshInterval
// until ctx is canceled.
func (r *Refresher) Run(ctx context.Context) {
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.refreshAll(ctx)
		}
	}
}

func (r *Refresher) refreshAll(ctx context.Context) {
	remotes := r.registry.All()
	var wg sync.WaitGroup
	for _, remote := range remotes {
		wg.Add(1)
		go func(remote *Remote) {
			defer wg.Done()
			r.refreshOne(ctx, remote)
		}(remote)
	}
	wg.Wait()
}

// RefreshOne re-fetches a single remote's session list and health state
// immediately, outside the periodic Run loop (used by the manual
// refresh-sessions endpoint).
func (r *Refresher) RefreshOne(ctx context.Context, remote *Remote) {
	r.refreshOne(ctx, remote)
}

func (r *Refresher) refreshOne(ctx context.Context, remote *Remote) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, remote.URL+"/api/sessions", nil)
	if err != nil {
		remote.setHealth(false)
		return
	}
	req.Header.Set("Authorization", "Bearer "+remote.Token)

	resp, err := r.client.Do(req)
	if err != nil {
		remote.setHealth(false)
		logrus.WithError(err).WithField("remote", remote.ID).Debug("federation: health probe failed")
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		remote.setHealth(false)
		return
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		remote.setHealth(false)
		return
	}
	var parsed sessionsListResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		remote.setHealth(false)
		return
	}

	ids := make([]string, 0, len(parsed))
	for _, s := range parsed {
		ids = append(ids, s.ID)
	}
	remote.replaceSessions(ids)
	remote.setHealth(true)
}
