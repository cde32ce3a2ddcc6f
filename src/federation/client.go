package federation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"vibetunnel/server/src/errs"
)

// HQClient runs on a remote node configured with an HQ URL: it registers
// itself at startup and deregisters on graceful shutdown.
type HQClient struct {
	hqURL      string
	hqUsername string
	hqPassword string

	SelfID    string
	SelfName  string
	SelfURL   string
	Token     string

	httpClient *http.Client
}

// NewHQClient builds a client that will register selfURL/selfName with hqURL
// using HQ basic-auth credentials, generating a fresh bearer token.
func NewHQClient(hqURL, hqUsername, hqPassword, selfName, selfURL string) *HQClient {
	return &HQClient{
		hqURL:      hqURL,
		hqUsername: hqUsername,
		hqPassword: hqPassword,
		SelfID:     uuid.NewString(),
		SelfName:   selfName,
		SelfURL:    selfURL,
		Token:      uuid.NewString(),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

type registerRequest struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	URL   string `json:"url"`
	Token string `json:"token"`
}

// Register POSTs this node's identity to HQ's /api/remotes/register.
func (c *HQClient) Register(ctx context.Context) error {
	body, err := json.Marshal(registerRequest{ID: c.SelfID, Name: c.SelfName, URL: c.SelfURL, Token: c.Token})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.hqURL+"/api/remotes/register", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.hqUsername, c.hqPassword)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errs.Wrap(errs.KindRemoteUnreachable, "register with hq", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict {
		return errs.New(errs.KindRemoteConflict, "hq rejected registration: identity conflict")
	}
	if resp.StatusCode >= 300 {
		return errs.New(errs.KindRemoteUnreachable, fmt.Sprintf("hq register returned %d", resp.StatusCode))
	}

	logrus.WithFields(logrus.Fields{"hq": c.hqURL, "id": c.SelfID}).Info("federation: registered with hq")
	return nil
}

// Deregister posts DELETE /api/remotes/<id> to HQ on graceful shutdown.
func (c *HQClient) Deregister(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.hqURL+"/api/remotes/"+c.SelfID, nil)
	if err != nil {
		return err
	}
	req.SetBasicAuth(c.hqUsername, c.hqPassword)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errs.Wrap(errs.KindRemoteUnreachable, "deregister from hq", err)
	}
	defer resp.Body.Close()
	return nil
}
