package release

import (
	"context"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/google/go-github/v59/github"
	"github.com/migueleliasweb/go-github-mock/src/mock"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestParseRepoRef(t *testing.T) {
	owner, repo, err := ParseRepoRef("https://github.com/acme/nas-plugin")
	require.NoError(t, err)
	require.Equal(t, "acme", owner)
	require.Equal(t, "nas-plugin", repo)

	owner, repo, err = ParseRepoRef("https://github.com/acme/nas-plugin.git")
	require.NoError(t, err)
	require.Equal(t, "acme", owner)
	require.Equal(t, "nas-plugin", repo)

	for _, ref := range []string{
		"https://gitlab.com/acme/nas-plugin",
		"https://github.com/acme",
		"https://github.com/acme/nas-plugin/releases",
		"not a url at all ::",
	} {
		_, _, err = ParseRepoRef(ref)
		require.ErrorIs(t, err, ErrInvalidReference, ref)
	}
}

type fakeClock struct {
	now time.Time
}

func (f *fakeClock) Now() time.Time { return f.now }

func newTestResolver(t *testing.T, httpClient *http.Client) (*Resolver, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	cache := NewCache(&DiskStore{Dir: t.TempDir()}, clock, 5*time.Minute)
	log := logrus.New()
	log.Out = io.Discard
	return NewResolver(github.NewClient(httpClient), cache, log), clock
}

func testReleases() []*github.RepositoryRelease {
	return []*github.RepositoryRelease{
		{
			Draft:   github.Bool(false),
			TagName: github.String("v1.1.0"),
			Assets: []*github.ReleaseAsset{
				{Name: github.String("nas-plugin_1.1.0_amd64.deb"), Size: github.Int(2048)},
				{Name: github.String("nas-plugin_1.1.0_arm64.deb"), Size: github.Int(2048)},
				{Name: github.String("nas-plugin_1.1.0_amd64.deb.sha256"), Size: github.Int(64)},
			},
		},
		{Draft: github.Bool(true), TagName: github.String("v1.1.0-rc1")},
		{
			Draft:   github.Bool(false),
			TagName: github.String("v1.0.0"),
			Assets: []*github.ReleaseAsset{
				{Name: github.String("nas-plugin_1.0.0_all.deb"), Size: github.Int(1024)},
			},
		},
	}
}

func TestResolveAnnotatesArchitectures(t *testing.T) {
	mockedHTTPClient := mock.NewMockedHTTPClient(
		mock.WithRequestMatch(mock.GetReposReleasesByOwnerByRepo, testReleases()),
	)
	r, _ := newTestResolver(t, mockedHTTPClient)

	idx, err := r.Resolve(context.Background(), "https://github.com/acme/nas-plugin", false)
	require.NoError(t, err)
	require.Equal(t, "acme", idx.Owner)
	require.Len(t, idx.Releases, 2) // drafts are skipped

	require.True(t, idx.Releases[0].Latest)
	require.Equal(t, "v1.1.0", idx.Releases[0].Tag)
	require.Equal(t, []string{"amd64", "arm64"}, idx.Releases[0].Architectures)
	require.Empty(t, idx.Releases[0].FindAsset("nas-plugin_1.1.0_amd64.deb.sha256").Arch)

	require.False(t, idx.Releases[1].Latest)
	require.Equal(t, []string{"all"}, idx.Releases[1].Architectures)
}

func TestResolveUsesCacheUntilTTL(t *testing.T) {
	mockedHTTPClient := mock.NewMockedHTTPClient(
		mock.WithRequestMatch(mock.GetReposReleasesByOwnerByRepo, testReleases(), testReleases()),
	)
	r, clock := newTestResolver(t, mockedHTTPClient)

	idx1, err := r.Resolve(context.Background(), "https://github.com/acme/nas-plugin", false)
	require.NoError(t, err)

	// second call within the TTL is served from the disk cache
	idx2, err := r.Resolve(context.Background(), "https://github.com/acme/nas-plugin", false)
	require.NoError(t, err)
	require.Equal(t, idx1.FetchedAt, idx2.FetchedAt)

	// after the TTL the index is fetched again
	clock.now = clock.now.Add(6 * time.Minute)
	idx3, err := r.Resolve(context.Background(), "https://github.com/acme/nas-plugin", false)
	require.NoError(t, err)
	require.Equal(t, clock.now, idx3.FetchedAt)
}

func TestResolveForceRefreshBypassesCache(t *testing.T) {
	mockedHTTPClient := mock.NewMockedHTTPClient(
		mock.WithRequestMatch(mock.GetReposReleasesByOwnerByRepo, testReleases(), testReleases()),
	)
	r, clock := newTestResolver(t, mockedHTTPClient)

	_, err := r.Resolve(context.Background(), "https://github.com/acme/nas-plugin", false)
	require.NoError(t, err)

	clock.now = clock.now.Add(time.Minute)
	idx, err := r.Resolve(context.Background(), "https://github.com/acme/nas-plugin", true)
	require.NoError(t, err)
	require.Equal(t, clock.now, idx.FetchedAt)
}

func TestResolveErrorMapping(t *testing.T) {
	for status, wantErr := range map[int]error{
		http.StatusNotFound:            ErrNotFound,
		http.StatusForbidden:           ErrRateLimited,
		http.StatusInternalServerError: ErrUpstream,
	} {
		mockedHTTPClient := mock.NewMockedHTTPClient(
			mock.WithRequestMatchHandler(
				mock.GetReposReleasesByOwnerByRepo,
				http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					mock.WriteError(w, status, "nope")
				}),
			),
		)
		r, _ := newTestResolver(t, mockedHTTPClient)
		_, err := r.Resolve(context.Background(), "https://github.com/acme/missing", false)
		require.ErrorIs(t, err, wantErr, "status %d", status)
	}
}
