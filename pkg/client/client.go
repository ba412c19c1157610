// Package client is a small JSON client for the nasd HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/naskit/nasd/pkg/api"
)

type ErrorResponse struct {
	StatusCode int
	ErrorMsg   string `json:"error"`
}

func (e *ErrorResponse) Error() string {
	return fmt.Sprintf("unexpected status code: %d, error: %s", e.StatusCode, e.ErrorMsg)
}

type Client struct {
	daemonURL        string
	adminAccessToken string
	httpClient       *http.Client
}

func New(daemonURL, adminAccessToken string) *Client {
	return &Client{
		daemonURL:        daemonURL,
		adminAccessToken: adminAccessToken,
		httpClient: &http.Client{
			Timeout: 5 * time.Minute,
		},
	}
}

func setAuth(adminAccessToken string) func(r *http.Request) {
	return func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+adminAccessToken)
	}
}

func (c *Client) sendRequest(ctx context.Context, method, endpoint string, body io.Reader, modifyRequestFns ...func(r *http.Request)) (*http.Response, error) {
	apiEndpoint, err := url.JoinPath(c.daemonURL, "api/v1", endpoint)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, apiEndpoint, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json; charset=utf-8")
	for _, f := range modifyRequestFns {
		f(req)
	}
	return c.httpClient.Do(req)
}

func (c *Client) sendJSON(ctx context.Context, method, endpoint string, body any, modifyRequestFns ...func(r *http.Request)) (*http.Response, error) {
	var bodyBuffer bytes.Buffer
	if err := json.NewEncoder(&bodyBuffer).Encode(body); err != nil {
		return nil, err
	}
	return c.sendRequest(ctx, method, endpoint, &bodyBuffer, modifyRequestFns...)
}

func (c *Client) decodeResponse(resp *http.Response, v any) error {
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		errResp := ErrorResponse{StatusCode: resp.StatusCode}
		err := json.NewDecoder(resp.Body).Decode(&errResp)
		if err != nil {
			return err
		}
		return &errResp
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

// ListPlugins returns the installed plugins.
func (c *Client) ListPlugins(ctx context.Context) ([]api.PluginInfo, error) {
	resp, err := c.sendRequest(ctx, http.MethodGet, "plugins", nil)
	if err != nil {
		return nil, err
	}
	var plugins []api.PluginInfo
	if err := c.decodeResponse(resp, &plugins); err != nil {
		return nil, err
	}
	return plugins, nil
}

// CheckUpdates returns the installed-vs-available comparison table.
func (c *Client) CheckUpdates(ctx context.Context, forceRefresh bool) ([]api.UpdateStatus, error) {
	endpoint := "plugins/updates"
	if forceRefresh {
		endpoint += "?refresh=1"
	}
	resp, err := c.sendRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	var statuses []api.UpdateStatus
	if err := c.decodeResponse(resp, &statuses); err != nil {
		return nil, err
	}
	return statuses, nil
}

// ListReleases returns the release listing of a source repository.
func (c *Client) ListReleases(ctx context.Context, repoURL string) (*api.ReleaseIndex, error) {
	resp, err := c.sendRequest(ctx, http.MethodGet, "releases?repo="+url.QueryEscape(repoURL), nil)
	if err != nil {
		return nil, err
	}
	var idx api.ReleaseIndex
	if err := c.decodeResponse(resp, &idx); err != nil {
		return nil, err
	}
	return &idx, nil
}

// Install asks the daemon to install one plugin release. The returned
// operation runs in the background.
func (c *Client) Install(ctx context.Context, repoURL, tag string) (*api.OperationAck, error) {
	resp, err := c.sendJSON(ctx, http.MethodPost, "plugins/install", api.InstallRequest{RepoURL: repoURL, Tag: tag}, setAuth(c.adminAccessToken))
	if err != nil {
		return nil, err
	}
	var ack api.OperationAck
	if err := c.decodeResponse(resp, &ack); err != nil {
		return nil, err
	}
	return &ack, nil
}

// Update asks the daemon to update one plugin, or every plugin with a
// pending update when name is empty.
func (c *Client) Update(ctx context.Context, name string) (*api.OperationAck, error) {
	resp, err := c.sendJSON(ctx, http.MethodPost, "plugins/update", api.UpdateRequest{Name: name}, setAuth(c.adminAccessToken))
	if err != nil {
		return nil, err
	}
	var ack api.OperationAck
	if err := c.decodeResponse(resp, &ack); err != nil {
		return nil, err
	}
	return &ack, nil
}

// Uninstall removes an installed plugin and returns the removed paths.
func (c *Client) Uninstall(ctx context.Context, name string) ([]string, error) {
	resp, err := c.sendRequest(ctx, http.MethodDelete, "plugins/"+url.PathEscape(name), nil, setAuth(c.adminAccessToken))
	if err != nil {
		return nil, err
	}
	var res struct {
		OK      bool     `json:"ok"`
		Removed []string `json:"removed"`
	}
	if err := c.decodeResponse(resp, &res); err != nil {
		return nil, err
	}
	if !res.OK {
		return nil, fmt.Errorf("uninstall of %s failed: reason unknown", name)
	}
	return res.Removed, nil
}

// RunHook executes an ad-hoc plugin function on the daemon.
func (c *Client) RunHook(ctx context.Context, name, hookName string) error {
	resp, err := c.sendRequest(ctx, http.MethodPost, fmt.Sprintf("plugins/%s/hooks/%s", url.PathEscape(name), url.PathEscape(hookName)), nil, setAuth(c.adminAccessToken))
	if err != nil {
		return err
	}
	var res map[string]bool
	if err := c.decodeResponse(resp, &res); err != nil {
		return err
	}
	if !res["ok"] {
		return fmt.Errorf("hook %s of %s failed: reason unknown", hookName, name)
	}
	return nil
}
