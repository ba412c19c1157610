package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/Masterminds/semver/v3"
	"github.com/naskit/nasd/internal/descriptor"
	"github.com/naskit/nasd/internal/release"
	"github.com/naskit/nasd/pkg/api"
	gocache "github.com/patrickmn/go-cache"
)

const updateStatusCacheKey = "update-status"

// InstalledPlugin pairs a plugin's on-disk identity with its descriptor.
type InstalledPlugin struct {
	Name string
	*descriptor.Descriptor
}

// ListInstalled returns every installed plugin, ordered by name.
func (e *Engine) ListInstalled() ([]InstalledPlugin, error) {
	entries, err := os.ReadDir(e.paths.ConfigRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	installed := make([]InstalledPlugin, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		desc, err := descriptor.Load(filepath.Join(e.paths.ConfigRoot, entry.Name()))
		if err != nil {
			if !os.IsNotExist(err) {
				e.log.Warnf("skipping %s: %v", entry.Name(), err)
			}
			continue
		}
		installed = append(installed, InstalledPlugin{Name: entry.Name(), Descriptor: desc})
	}
	sort.Slice(installed, func(i, j int) bool { return installed[i].Name < installed[j].Name })
	return installed, nil
}

// CheckUpdates refreshes the installed-vs-available comparison table. The
// table is cached; forceRefresh bypasses both this cache and the release
// cache TTL.
func (e *Engine) CheckUpdates(ctx context.Context, forceRefresh bool) ([]api.UpdateStatus, error) {
	if !forceRefresh {
		if cached, ok := e.statusCache.Get(updateStatusCacheKey); ok {
			e.rec.IncCacheHit(updateStatusCacheKey)
			return cached.([]api.UpdateStatus), nil
		}
	}
	e.rec.IncCacheMiss(updateStatusCacheKey)

	installed, err := e.ListInstalled()
	if err != nil {
		return nil, err
	}

	statuses := make([]api.UpdateStatus, 0, len(installed))
	for _, p := range installed {
		idx, err := e.resolver.Resolve(ctx, p.RepoURL, forceRefresh)
		if err != nil {
			e.log.Warnf("could not resolve releases of %s: %v", p.Name, err)
			continue
		}
		if len(idx.Releases) == 0 {
			continue
		}
		latest := idx.Releases[0].Tag
		statuses = append(statuses, api.UpdateStatus{
			Name:            p.Name,
			InstalledTag:    p.Tag,
			AvailableTag:    latest,
			UpdateAvailable: tagNewer(p.Tag, latest),
		})
	}

	e.statusCache.Set(updateStatusCacheKey, statuses, gocache.DefaultExpiration)
	return statuses, nil
}

// tagNewer reports whether available is newer than installed. Tags that parse
// as semantic versions are compared numerically, anything else falls back to
// plain inequality.
func tagNewer(installed, available string) bool {
	iv, iErr := semver.NewVersion(installed)
	av, aErr := semver.NewVersion(available)
	if iErr == nil && aErr == nil {
		return av.GreaterThan(iv)
	}
	return installed != available
}

// ListReleases returns the release listing of a source repository, without
// touching any installed state.
func (e *Engine) ListReleases(ctx context.Context, repoURL string, forceRefresh bool) (*release.Index, error) {
	if _, _, err := release.ParseRepoRef(repoURL); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return e.resolver.Resolve(ctx, repoURL, forceRefresh)
}

// Update brings one installed plugin to the latest available release.
func (e *Engine) Update(ctx context.Context, name string) error {
	if !validName(name) {
		return fmt.Errorf("%w: invalid plugin name %q", ErrInvalidRequest, name)
	}

	unlock := e.lockName(name)
	defer unlock()

	desc, err := descriptor.Load(e.baseDir(name))
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrPluginNotFound, name)
		}
		return err
	}

	idx, err := e.resolver.Resolve(ctx, desc.RepoURL, true)
	if err != nil {
		return err
	}
	if len(idx.Releases) == 0 {
		return fmt.Errorf("%w: %s has no releases", ErrReleaseNotFound, desc.RepoURL)
	}
	return e.apply(ctx, name, desc.RepoURL, idx.Releases[0].Tag)
}

// UpdateAll updates every plugin with a pending update. Individual failures
// are collected, one plugin's failure does not stop the rest.
func (e *Engine) UpdateAll(ctx context.Context) error {
	statuses, err := e.CheckUpdates(ctx, true)
	if err != nil {
		return err
	}
	var errs []error
	for _, status := range statuses {
		if !status.UpdateAvailable {
			continue
		}
		if err := e.Update(ctx, status.Name); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", status.Name, err))
		}
	}
	return errors.Join(errs...)
}

// RunUserHook executes an ad-hoc plugin function in the plugin's current
// version directory. Core lifecycle names are refused.
func (e *Engine) RunUserHook(ctx context.Context, name, hookName string) error {
	if !validName(name) {
		return fmt.Errorf("%w: invalid plugin name %q", ErrInvalidRequest, name)
	}
	desc, err := descriptor.Load(e.baseDir(name))
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrPluginNotFound, name)
		}
		return err
	}
	return e.hooks.RunUserHook(ctx, filepath.Join(e.baseDir(name), desc.Tag), hookName)
}
