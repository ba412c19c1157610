// Package fetch downloads a release's binary package, checksum side-file and
// source tarball into a per-operation staging directory.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/naskit/nasd/internal/proc"
	"github.com/naskit/nasd/internal/release"
	"github.com/sirupsen/logrus"
)

var (
	// ErrNoCompatibleArtifact marks a release with no binary package for the
	// target architecture and no architecture-independent fallback.
	ErrNoCompatibleArtifact = errors.New("no compatible artifact")
	// ErrAmbiguousArtifact marks a release with more than one binary package
	// for the same architecture. Guessing is refused.
	ErrAmbiguousArtifact = errors.New("ambiguous artifact")
	// ErrPayloadTooLarge marks a download exceeding the configured ceiling.
	ErrPayloadTooLarge = errors.New("payload too large")
)

const sourceFileName = "source.tar.gz"

var (
	defaultRetryableClient     *retryablehttp.Client
	defaultRetryableClientInit sync.Once
)

func getDefaultRetryableClient() *retryablehttp.Client {
	defaultRetryableClientInit.Do(func() {
		defaultRetryableClient = retryablehttp.NewClient()
		defaultRetryableClient.Logger = nil
		defaultRetryableClient.HTTPClient.Timeout = 3 * time.Minute
	})
	return defaultRetryableClient
}

// Artifact locates the staged files of one fetched release.
type Artifact struct {
	PackagePath  string
	ChecksumPath string // empty when the release publishes no checksum
	SourcePath   string
}

// SelectAsset picks the binary package matching the target architecture. An
// exact match wins, an architecture-independent "all" package is the
// fallback, more than one candidate on either tier is refused.
func SelectAsset(rel *release.Release, targetArch string) (*release.Asset, error) {
	for _, arch := range []string{targetArch, "all"} {
		var found *release.Asset
		for n := range rel.Assets {
			if rel.Assets[n].Arch != arch {
				continue
			}
			if found != nil {
				return nil, fmt.Errorf("%w: release %s has multiple %s packages", ErrAmbiguousArtifact, rel.Tag, arch)
			}
			found = &rel.Assets[n]
		}
		if found != nil {
			return found, nil
		}
	}
	return nil, fmt.Errorf("%w: release %s has no %s or all package", ErrNoCompatibleArtifact, rel.Tag, targetArch)
}

type Fetcher struct {
	client         *retryablehttp.Client
	run            proc.Runner
	token          string
	maxSourceSize  int64
	extractTimeout time.Duration
	log            *logrus.Logger
}

func New(token string, maxSourceSize int64, extractTimeout time.Duration, run proc.Runner, log *logrus.Logger) *Fetcher {
	return &Fetcher{
		client:         getDefaultRetryableClient(),
		run:            run,
		token:          token,
		maxSourceSize:  maxSourceSize,
		extractTimeout: extractTimeout,
		log:            log,
	}
}

// Fetch downloads the release's binary package, its checksum side-file and
// the source tarball into destDir. The checksum download is best-effort, the
// source tarball is subject to the size ceiling.
func (f *Fetcher) Fetch(ctx context.Context, rel *release.Release, targetArch, destDir string) (*Artifact, error) {
	asset, err := SelectAsset(rel, targetArch)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, err
	}

	artifact := &Artifact{PackagePath: filepath.Join(destDir, asset.Name)}
	if err := f.download(ctx, asset.APIURL, artifact.PackagePath, 0, true); err != nil {
		return nil, fmt.Errorf("downloading %s: %w", asset.Name, err)
	}

	if cs := rel.FindAsset(asset.Name + ".sha256"); cs != nil {
		csPath := filepath.Join(destDir, cs.Name)
		if err := f.download(ctx, cs.APIURL, csPath, 0, true); err != nil {
			// absence of a verifiable checksum is decided by the caller,
			// a failed side-file download is not fatal here
			f.log.Warnf("could not download checksum file %s: %v", cs.Name, err)
		} else {
			artifact.ChecksumPath = csPath
		}
	}

	artifact.SourcePath = filepath.Join(destDir, sourceFileName)
	if err := f.download(ctx, rel.TarballURL, artifact.SourcePath, f.maxSourceSize, false); err != nil {
		return nil, fmt.Errorf("downloading source tarball of %s: %w", rel.Tag, err)
	}
	return artifact, nil
}

func (f *Fetcher) download(ctx context.Context, url, dest string, maxSize int64, binary bool) error {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	if binary {
		req.Header.Set("Accept", "application/octet-stream")
	}
	if f.token != "" {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}
	if maxSize > 0 && resp.ContentLength > maxSize {
		return fmt.Errorf("%w: declared %d bytes, ceiling %d", ErrPayloadTooLarge, resp.ContentLength, maxSize)
	}

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	body := io.Reader(resp.Body)
	if maxSize > 0 {
		body = io.LimitReader(resp.Body, maxSize+1)
	}
	n, err := io.Copy(out, body)
	closeErr := out.Close()
	if err == nil {
		err = closeErr
	}
	if err == nil && maxSize > 0 && n > maxSize {
		err = fmt.Errorf("%w: observed more than %d bytes", ErrPayloadTooLarge, maxSize)
	}
	if err != nil {
		_ = os.Remove(dest)
		return err
	}
	return nil
}

// ExtractSource unpacks a downloaded source tarball into destDir, dropping
// the repository-name top-level directory.
func (f *Fetcher) ExtractSource(ctx context.Context, tarballPath, destDir string) error {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, f.extractTimeout)
	defer cancel()
	out, err := f.run.Run(ctx, "tar", "--extract", "--gzip", "--strip-components=1",
		"--file", tarballPath, "--directory", destDir)
	if err != nil {
		return fmt.Errorf("extracting %s: %w: %s", tarballPath, err, string(out))
	}
	return nil
}
