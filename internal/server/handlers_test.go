package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/naskit/nasd/internal/config"
	"github.com/naskit/nasd/internal/descriptor"
	"github.com/naskit/nasd/internal/engine"
	"github.com/naskit/nasd/internal/metrics"
	"github.com/naskit/nasd/internal/release"
	"github.com/naskit/nasd/internal/tasks"
	"github.com/naskit/nasd/pkg/api"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

type stubEngine struct {
	installFn      func(ctx context.Context, repoURL, tag string) error
	updateFn       func(ctx context.Context, name string) error
	updateAllFn    func(ctx context.Context) error
	uninstallFn    func(ctx context.Context, name string) ([]string, error)
	listFn         func() ([]engine.InstalledPlugin, error)
	checkUpdatesFn func(ctx context.Context, forceRefresh bool) ([]api.UpdateStatus, error)
	listReleasesFn func(ctx context.Context, repoURL string, forceRefresh bool) (*release.Index, error)
	runHookFn      func(ctx context.Context, name, hookName string) error
}

func (s *stubEngine) Install(ctx context.Context, repoURL, tag string) error {
	return s.installFn(ctx, repoURL, tag)
}

func (s *stubEngine) Update(ctx context.Context, name string) error {
	return s.updateFn(ctx, name)
}

func (s *stubEngine) UpdateAll(ctx context.Context) error { return s.updateAllFn(ctx) }

func (s *stubEngine) Uninstall(ctx context.Context, name string) ([]string, error) {
	return s.uninstallFn(ctx, name)
}

func (s *stubEngine) ListInstalled() ([]engine.InstalledPlugin, error) { return s.listFn() }

func (s *stubEngine) CheckUpdates(ctx context.Context, forceRefresh bool) ([]api.UpdateStatus, error) {
	return s.checkUpdatesFn(ctx, forceRefresh)
}

func (s *stubEngine) ListReleases(ctx context.Context, repoURL string, forceRefresh bool) (*release.Index, error) {
	return s.listReleasesFn(ctx, repoURL, forceRefresh)
}

func (s *stubEngine) RunUserHook(ctx context.Context, name, hookName string) error {
	return s.runHookFn(ctx, name, hookName)
}

const testAccessToken = "secret-token"

var descriptorFixture = descriptor.Descriptor{
	Name:    "sonarr",
	Version: "1.0.0",
	Tag:     "v1.0.0",
	RepoURL: "https://github.com/acme/sonarr",
}

func newTestServer(t *testing.T, eng *stubEngine) *Server {
	t.Helper()
	log := logrus.New()
	log.Out = io.Discard
	cfg := &config.Config{
		AdminAccessToken: testAccessToken,
		Version:          "test",
	}
	srv := New(log, eng, tasks.NewRunner(log), &metrics.NoopRecorder{}, nil, cfg)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.tasks.Shutdown(ctx)
	})
	return srv
}

func doRequest(srv *Server, method, path string, body any, token string) *httptest.ResponseRecorder {
	var buf io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		buf = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, buf)
	if token != "" {
		req.Header.Set("Authorization", token)
	}
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	return w
}

func TestIndexHandler(t *testing.T) {
	srv := newTestServer(t, &stubEngine{})
	w := doRequest(srv, http.MethodGet, "/", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "nasd")
}

func TestListPlugins(t *testing.T) {
	eng := &stubEngine{
		listFn: func() ([]engine.InstalledPlugin, error) {
			return []engine.InstalledPlugin{
				{Name: "sonarr", Descriptor: &descriptorFixture},
			}, nil
		},
	}
	srv := newTestServer(t, eng)

	w := doRequest(srv, http.MethodGet, "/api/v1/plugins", nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	var res []api.PluginInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.Len(t, res, 1)
	require.Equal(t, "sonarr", res[0].Name)
	require.Equal(t, "v1.0.0", res[0].Tag)
}

func TestCheckUpdatesPassesRefreshFlag(t *testing.T) {
	var gotForce bool
	eng := &stubEngine{
		checkUpdatesFn: func(_ context.Context, forceRefresh bool) ([]api.UpdateStatus, error) {
			gotForce = forceRefresh
			return []api.UpdateStatus{}, nil
		},
	}
	srv := newTestServer(t, eng)

	w := doRequest(srv, http.MethodGet, "/api/v1/plugins/updates", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	require.False(t, gotForce)

	w = doRequest(srv, http.MethodGet, "/api/v1/plugins/updates?refresh=1", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, gotForce)
}

func TestListReleases(t *testing.T) {
	calls := 0
	eng := &stubEngine{
		listReleasesFn: func(_ context.Context, repoURL string, _ bool) (*release.Index, error) {
			calls++
			require.Equal(t, "https://github.com/acme/sonarr", repoURL)
			return &release.Index{
				Owner: "acme",
				Repo:  "sonarr",
				Releases: []release.Release{
					{Tag: "v1.1.0", Latest: true, Architectures: []string{"amd64"}},
				},
			}, nil
		},
	}
	srv := newTestServer(t, eng)

	w := doRequest(srv, http.MethodGet, "/api/v1/releases?repo=https%3A%2F%2Fgithub.com%2Facme%2Fsonarr", nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	var res api.ReleaseIndex
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	require.Equal(t, "acme", res.Owner)
	require.Len(t, res.Releases, 1)
	require.Equal(t, "v1.1.0", res.Releases[0].Tag)

	// second request is served from the response cache
	w = doRequest(srv, http.MethodGet, "/api/v1/releases?repo=https%3A%2F%2Fgithub.com%2Facme%2Fsonarr", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "HIT", w.Header().Get("X-Go-Cache"))
	require.Equal(t, 1, calls)
}

func TestInstallLeavesReleaseCacheIntact(t *testing.T) {
	calls := 0
	eng := &stubEngine{
		listReleasesFn: func(context.Context, string, bool) (*release.Index, error) {
			calls++
			return &release.Index{Owner: "acme", Repo: "sonarr"}, nil
		},
		installFn: func(context.Context, string, string) error { return nil },
	}
	srv := newTestServer(t, eng)

	w := doRequest(srv, http.MethodGet, "/api/v1/releases?repo=https%3A%2F%2Fgithub.com%2Facme%2Fsonarr", nil, "")
	require.Equal(t, http.StatusOK, w.Code)

	w = doRequest(srv, http.MethodPost, "/api/v1/plugins/install", api.InstallRequest{RepoURL: "https://github.com/acme/sonarr", Tag: "v1.0.0"}, testAccessToken)
	require.Equal(t, http.StatusAccepted, w.Code)

	// installing does not change any repository's release listing
	w = doRequest(srv, http.MethodGet, "/api/v1/releases?repo=https%3A%2F%2Fgithub.com%2Facme%2Fsonarr", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "HIT", w.Header().Get("X-Go-Cache"))
	require.Equal(t, 1, calls)
}

func TestListReleasesRequiresRepo(t *testing.T) {
	srv := newTestServer(t, &stubEngine{})
	w := doRequest(srv, http.MethodGet, "/api/v1/releases", nil, "")
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestInstallRequiresAuth(t *testing.T) {
	srv := newTestServer(t, &stubEngine{})

	w := doRequest(srv, http.MethodPost, "/api/v1/plugins/install", api.InstallRequest{RepoURL: "https://github.com/acme/sonarr", Tag: "v1.0.0"}, "")
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = doRequest(srv, http.MethodPost, "/api/v1/plugins/install", nil, "wrong-token")
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestInstallAcceptsBearerToken(t *testing.T) {
	installed := make(chan struct{})
	eng := &stubEngine{
		installFn: func(context.Context, string, string) error {
			close(installed)
			return nil
		},
	}
	srv := newTestServer(t, eng)

	w := doRequest(srv, http.MethodPost, "/api/v1/plugins/install", api.InstallRequest{RepoURL: "https://github.com/acme/sonarr", Tag: "v1.0.0"}, "Bearer "+testAccessToken)
	require.Equal(t, http.StatusAccepted, w.Code)

	select {
	case <-installed:
	case <-time.After(2 * time.Second):
		t.Fatal("install was never executed")
	}
}

func TestInstallValidatesBeforeAccepting(t *testing.T) {
	installCalled := false
	srv := newTestServer(t, &stubEngine{
		installFn: func(context.Context, string, string) error {
			installCalled = true
			return nil
		},
	})

	w := doRequest(srv, http.MethodPost, "/api/v1/plugins/install", api.InstallRequest{}, testAccessToken)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = doRequest(srv, http.MethodPost, "/api/v1/plugins/install", api.InstallRequest{RepoURL: "https://example.com/a/b", Tag: "v1.0.0"}, testAccessToken)
	require.Equal(t, http.StatusBadRequest, w.Code)

	// a tag that could escape the version directory is rejected up front,
	// not handed to a background task
	w = doRequest(srv, http.MethodPost, "/api/v1/plugins/install", api.InstallRequest{RepoURL: "https://github.com/acme/sonarr", Tag: "../../etc"}, testAccessToken)
	require.Equal(t, http.StatusBadRequest, w.Code)

	require.False(t, installCalled)
}

func TestInstallAcceptsAndRunsInBackground(t *testing.T) {
	done := make(chan struct{})
	eng := &stubEngine{
		installFn: func(_ context.Context, repoURL, tag string) error {
			defer close(done)
			require.Equal(t, "https://github.com/acme/sonarr", repoURL)
			require.Equal(t, "v1.0.0", tag)
			return nil
		},
	}
	srv := newTestServer(t, eng)

	w := doRequest(srv, http.MethodPost, "/api/v1/plugins/install", api.InstallRequest{RepoURL: "https://github.com/acme/sonarr", Tag: "v1.0.0"}, testAccessToken)
	require.Equal(t, http.StatusAccepted, w.Code)

	var ack api.OperationAck
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &ack))
	require.True(t, ack.Accepted)
	require.NotEmpty(t, ack.OperationID)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("install was never executed")
	}
}

func TestUpdateDispatchesSingleOrAll(t *testing.T) {
	single := make(chan string, 1)
	all := make(chan struct{}, 1)
	eng := &stubEngine{
		updateFn: func(_ context.Context, name string) error {
			single <- name
			return nil
		},
		updateAllFn: func(context.Context) error {
			all <- struct{}{}
			return nil
		},
	}
	srv := newTestServer(t, eng)

	w := doRequest(srv, http.MethodPost, "/api/v1/plugins/update", api.UpdateRequest{Name: "sonarr"}, testAccessToken)
	require.Equal(t, http.StatusAccepted, w.Code)
	select {
	case name := <-single:
		require.Equal(t, "sonarr", name)
	case <-time.After(2 * time.Second):
		t.Fatal("single update was never executed")
	}

	w = doRequest(srv, http.MethodPost, "/api/v1/plugins/update", api.UpdateRequest{}, testAccessToken)
	require.Equal(t, http.StatusAccepted, w.Code)
	select {
	case <-all:
	case <-time.After(2 * time.Second):
		t.Fatal("update-all was never executed")
	}
}

func TestUninstall(t *testing.T) {
	eng := &stubEngine{
		uninstallFn: func(_ context.Context, name string) ([]string, error) {
			require.Equal(t, "sonarr", name)
			return []string{"/var/lib/nasd/plugins/sonarr"}, nil
		},
	}
	srv := newTestServer(t, eng)

	w := doRequest(srv, http.MethodDelete, "/api/v1/plugins/sonarr", nil, testAccessToken)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "/var/lib/nasd/plugins/sonarr")
}

func TestUninstallNotFound(t *testing.T) {
	eng := &stubEngine{
		uninstallFn: func(_ context.Context, name string) ([]string, error) {
			return nil, fmt.Errorf("%w: %s", engine.ErrPluginNotFound, name)
		},
	}
	srv := newTestServer(t, eng)

	w := doRequest(srv, http.MethodDelete, "/api/v1/plugins/ghost", nil, testAccessToken)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestRunPluginHook(t *testing.T) {
	var gotPlugin, gotHook string
	eng := &stubEngine{
		runHookFn: func(_ context.Context, name, hookName string) error {
			gotPlugin, gotHook = name, hookName
			return nil
		},
	}
	srv := newTestServer(t, eng)

	w := doRequest(srv, http.MethodPost, "/api/v1/plugins/sonarr/hooks/refresh_feeds", nil, testAccessToken)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "sonarr", gotPlugin)
	require.Equal(t, "refresh_feeds", gotHook)
}

func TestStatusForError(t *testing.T) {
	require.Equal(t, http.StatusBadRequest, statusForError(engine.ErrInvalidRequest))
	require.Equal(t, http.StatusNotFound, statusForError(engine.ErrPluginNotFound))
	require.Equal(t, http.StatusNotFound, statusForError(fmt.Errorf("wrapped: %w", engine.ErrReleaseNotFound)))
	require.Equal(t, http.StatusConflict, statusForError(engine.ErrAlreadyInstalled))
	require.Equal(t, http.StatusTooManyRequests, statusForError(release.ErrRateLimited))
	require.Equal(t, http.StatusBadGateway, statusForError(engine.ErrIntegrityFailure))
	require.Equal(t, http.StatusInternalServerError, statusForError(fmt.Errorf("boom")))
}
