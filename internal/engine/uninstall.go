package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/naskit/nasd/internal/descriptor"
)

// Uninstall removes a plugin: uninstall hook, package-manager entry, driver
// resources, config and web directories, and its cache. Only the hard absence
// of the plugin in both expected locations is fatal; individual removal steps
// are best-effort and the list of removed paths is reported.
func (e *Engine) Uninstall(ctx context.Context, name string) ([]string, error) {
	if !validName(name) {
		return nil, fmt.Errorf("%w: invalid plugin name %q", ErrInvalidRequest, name)
	}

	unlock := e.lockName(name)
	defer unlock()

	baseDir := e.baseDir(name)
	webDir := e.webDir(name)
	baseExists := dirExists(baseDir)
	webExists := dirExists(webDir)
	if !baseExists && !webExists {
		return nil, fmt.Errorf("%w: %s", ErrPluginNotFound, name)
	}

	desc, err := descriptor.Load(baseDir)
	if err != nil && !os.IsNotExist(err) {
		e.log.Warnf("could not read descriptor of %s: %v", name, err)
	}

	if desc != nil {
		versionDir := filepath.Join(baseDir, desc.Tag)
		if err := e.hooks.Run(ctx, versionDir, "uninstall"); err != nil {
			e.log.Warnf("uninstall hook of %s failed: %v", name, err)
			e.notifyWarning("Plugin hook failed", fmt.Sprintf("%s uninstall: %v", name, err))
		}
		e.purgePackage(ctx, name, versionDir)
	}

	removed := make([]string, 0, 4)
	if desc != nil && desc.IsDriver {
		removed = e.removePath(e.driverDir(name), removed)
	}
	if baseExists {
		removed = e.removePath(baseDir, removed)
	}
	if webExists {
		removed = e.removePath(webDir, removed)
	}
	if err := os.RemoveAll(filepath.Join(e.paths.CacheDir, "plugins", name)); err != nil {
		e.log.Warnf("could not purge cache of %s: %v", name, err)
	}

	e.rec.IncOperation("uninstall", "success")
	e.statusCache.Delete(updateStatusCacheKey)
	e.notifyInfo("Plugin removed", fmt.Sprintf("%s (removed: %s)", name, strings.Join(removed, ", ")))
	return removed, nil
}

// purgePackage removes the plugin's package-manager entry, best-effort. The
// package name is read from the staged .deb of the current version.
func (e *Engine) purgePackage(ctx context.Context, name, versionDir string) {
	debPath := findDeb(versionDir)
	if debPath == "" {
		e.log.Warnf("no package file in %s, skipping purge", versionDir)
		return
	}
	pkgName, err := e.pkg.PackageName(ctx, debPath)
	if err != nil {
		e.log.Warnf("could not read package name of %s: %v", debPath, err)
		return
	}
	if err := e.pkg.Purge(ctx, pkgName); err != nil {
		e.log.Warnf("could not purge package %s: %v", pkgName, err)
	}
}

func (e *Engine) removePath(path string, removed []string) []string {
	if !dirExists(path) {
		return removed
	}
	if err := os.RemoveAll(path); err != nil {
		e.log.Errorf("could not remove %s: %v", path, err)
		return removed
	}
	return append(removed, path)
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func findDeb(dir string) string {
	matches, err := filepath.Glob(filepath.Join(dir, "*.deb"))
	if err != nil || len(matches) == 0 {
		return ""
	}
	return matches[0]
}
