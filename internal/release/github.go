package release

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strings"

	"github.com/google/go-github/v59/github"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"
)

const listPageSize = 100

// debArchRe extracts the Debian architecture embedded in a binary package
// filename, e.g. nas-plugin_1.2.0_arm64.deb.
var debArchRe = regexp.MustCompile(`(?i)[_-](amd64|arm64|armhf|armel|i386|riscv64|all)\.deb$`)

// ParseRepoRef parses a GitHub repository URL into owner and repo.
func ParseRepoRef(ref string) (string, string, error) {
	u, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return "", "", fmt.Errorf("%w: %s", ErrInvalidReference, ref)
	}
	if u.Host != "github.com" && u.Host != "www.github.com" {
		return "", "", fmt.Errorf("%w: unsupported host %q", ErrInvalidReference, u.Host)
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("%w: %s", ErrInvalidReference, ref)
	}
	return parts[0], strings.TrimSuffix(parts[1], ".git"), nil
}

// Resolver lists releases of plugin source repositories and keeps a disk
// cache in front of the API.
type Resolver struct {
	gh    *github.Client
	cache *Cache
	sem   *semaphore.Weighted
	log   *logrus.Logger
}

func NewResolver(gh *github.Client, cache *Cache, log *logrus.Logger) *Resolver {
	return &Resolver{
		gh:    gh,
		cache: cache,
		sem:   semaphore.NewWeighted(2),
		log:   log,
	}
}

// Resolve returns the release index for the given repository reference. A
// cached index younger than the TTL is returned unless forceRefresh is set.
func (r *Resolver) Resolve(ctx context.Context, repoRef string, forceRefresh bool) (*Index, error) {
	owner, repo, err := ParseRepoRef(repoRef)
	if err != nil {
		return nil, err
	}
	key := owner + "/" + repo
	if !forceRefresh {
		if idx, ok := r.cache.Get(key); ok {
			return idx, nil
		}
	}

	if err := r.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer r.sem.Release(1)

	ghReleases, err := r.listAll(ctx, owner, repo)
	if err != nil {
		return nil, err
	}

	idx := &Index{
		Owner:     owner,
		Repo:      repo,
		FetchedAt: r.cache.clock.Now(),
		Releases:  make([]Release, 0, len(ghReleases)),
	}
	for _, ghr := range ghReleases {
		idx.Releases = append(idx.Releases, toRelease(ghr))
	}
	if len(idx.Releases) > 0 {
		idx.Releases[0].Latest = true
	}

	if err := r.cache.Put(key, idx); err != nil {
		// cache write failures are non-fatal, the in-memory index is
		// still returned
		r.log.Warnf("could not write release cache for %s: %v", key, err)
	}
	return idx, nil
}

func (r *Resolver) listAll(ctx context.Context, owner, repo string) ([]*github.RepositoryRelease, error) {
	ret := make([]*github.RepositoryRelease, 0)
	opts := &github.ListOptions{Page: 1, PerPage: listPageSize}
	for {
		releases, resp, err := r.gh.Repositories.ListReleases(ctx, owner, repo, opts)
		if err != nil {
			return nil, mapGitHubError(owner, repo, err)
		}
		for _, release := range releases {
			// ignore drafts
			if release.GetDraft() {
				continue
			}
			ret = append(ret, release)
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return ret, nil
}

func mapGitHubError(owner, repo string, err error) error {
	var rateErr *github.RateLimitError
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &rateErr) || errors.As(err, &abuseErr) {
		return fmt.Errorf("%w: %s/%s", ErrRateLimited, owner, repo)
	}
	var ghErr *github.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		switch ghErr.Response.StatusCode {
		case http.StatusNotFound:
			return fmt.Errorf("%w: repository %s/%s", ErrNotFound, owner, repo)
		case http.StatusForbidden:
			return fmt.Errorf("%w: %s/%s", ErrRateLimited, owner, repo)
		}
	}
	return fmt.Errorf("%w: listing releases of %s/%s: %v", ErrUpstream, owner, repo, err)
}

func toRelease(ghr *github.RepositoryRelease) Release {
	rel := Release{
		Tag:         ghr.GetTagName(),
		Name:        ghr.GetName(),
		PublishedAt: ghr.GetPublishedAt().Time,
		Prerelease:  ghr.GetPrerelease(),
		TarballURL:  ghr.GetTarballURL(),
		Assets:      make([]Asset, 0, len(ghr.Assets)),
	}
	archSet := make(map[string]struct{})
	for _, gha := range ghr.Assets {
		asset := Asset{
			Name:        gha.GetName(),
			Size:        int64(gha.GetSize()),
			DownloadURL: gha.GetBrowserDownloadURL(),
			APIURL:      gha.GetURL(),
		}
		if m := debArchRe.FindStringSubmatch(asset.Name); m != nil {
			asset.Arch = strings.ToLower(m[1])
			archSet[asset.Arch] = struct{}{}
		}
		rel.Assets = append(rel.Assets, asset)
	}
	for arch := range archSet {
		rel.Architectures = append(rel.Architectures, arch)
	}
	sort.Strings(rel.Architectures)
	return rel
}
