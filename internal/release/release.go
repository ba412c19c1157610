// Package release resolves the set of published releases of a plugin source
// repository and caches the result on disk.
package release

import (
	"errors"
	"time"
)

var (
	// ErrInvalidReference marks a repository reference that does not name a
	// supported source host repository.
	ErrInvalidReference = errors.New("invalid repository reference")
	// ErrNotFound marks a repository or release that does not exist upstream.
	ErrNotFound = errors.New("not found")
	// ErrRateLimited marks an upstream API rate limit rejection.
	ErrRateLimited = errors.New("rate limited")
	// ErrUpstream marks any other upstream API failure.
	ErrUpstream = errors.New("upstream error")
)

// Asset is one downloadable file attached to a release.
type Asset struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
	// DownloadURL is the public download locator.
	DownloadURL string `json:"downloadUrl"`
	// APIURL is the authenticated locator used for binary downloads.
	APIURL string `json:"apiUrl"`
	// Arch is the Debian architecture embedded in the filename, empty when
	// the asset is not a binary package.
	Arch string `json:"arch,omitempty"`
}

// Release is one published release tag of a source repository.
type Release struct {
	Tag           string    `json:"tag"`
	Name          string    `json:"name,omitempty"`
	PublishedAt   time.Time `json:"publishedAt"`
	Prerelease    bool      `json:"prerelease"`
	Latest        bool      `json:"latest"`
	Architectures []string  `json:"architectures,omitempty"`
	// TarballURL locates the source tarball of the tagged tree.
	TarballURL string  `json:"tarballUrl,omitempty"`
	Assets     []Asset `json:"assets"`
}

// Index is the ordered release listing of one repository. The first release
// is always the most recently published one.
type Index struct {
	Owner     string    `json:"owner"`
	Repo      string    `json:"repo"`
	FetchedAt time.Time `json:"fetchedAt"`
	Releases  []Release `json:"releases"`
}

// FindTag returns the release with the given tag, or nil.
func (i *Index) FindTag(tag string) *Release {
	for n := range i.Releases {
		if i.Releases[n].Tag == tag {
			return &i.Releases[n]
		}
	}
	return nil
}

// FindAsset returns the asset with the given name, or nil.
func (r *Release) FindAsset(name string) *Asset {
	for n := range r.Assets {
		if r.Assets[n].Name == name {
			return &r.Assets[n]
		}
	}
	return nil
}
