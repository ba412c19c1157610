package engine

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/naskit/nasd/internal/descriptor"
	"github.com/naskit/nasd/internal/release"
	"github.com/naskit/nasd/internal/verify"
)

// operation carries the staging state of one install/update so every exit
// path can clean up exactly what it created.
type operation struct {
	name string
	tag  string

	cacheDir string // binary package + checksum staging
	srcDir   string // temp source extraction

	versionDir        string
	createdVersionDir bool
}

// ValidateInstall checks an install request's shape: both fields present, a
// usable tag, and a supported repository URL whose name can serve as the
// plugin directory. It performs no I/O, so callers can reject bad requests
// before any background work starts.
func ValidateInstall(repoURL, tag string) error {
	_, err := validateInstall(repoURL, tag)
	return err
}

func validateInstall(repoURL, tag string) (string, error) {
	if repoURL == "" || tag == "" {
		return "", fmt.Errorf("%w: repository URL and tag are required", ErrInvalidRequest)
	}
	if !validName(tag) {
		return "", fmt.Errorf("%w: invalid tag %q", ErrInvalidRequest, tag)
	}
	_, repo, err := release.ParseRepoRef(repoURL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if !validName(repo) {
		return "", fmt.Errorf("%w: repository name %q is not a usable plugin name", ErrInvalidRequest, repo)
	}
	return repo, nil
}

// Install installs the given release tag of a plugin source repository. The
// request shape is validated before any I/O; everything after that reports
// failure through the notification sink and the unchanged on-disk state.
func (e *Engine) Install(ctx context.Context, repoURL, tag string) error {
	name, err := validateInstall(repoURL, tag)
	if err != nil {
		return err
	}

	unlock := e.lockName(name)
	defer unlock()
	return e.apply(ctx, name, repoURL, tag)
}

// apply runs the install/update pipeline for one plugin. The caller holds the
// per-name lock.
func (e *Engine) apply(ctx context.Context, name, repoURL, tag string) error {
	prev, err := descriptor.Load(e.baseDir(name))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	if prev != nil && prev.Tag == tag {
		return fmt.Errorf("%w: %s %s", ErrAlreadyInstalled, name, tag)
	}

	kind := "install"
	hookName := "install"
	if prev != nil {
		kind = "update"
		hookName = "plugin_update"
	}

	start := time.Now()
	err = e.run(ctx, kind, hookName, name, repoURL, tag, prev)
	e.rec.ObserveOperationDuration(kind, time.Since(start))
	if err != nil {
		e.rec.IncOperation(kind, "failure")
		e.notifyError(fmt.Sprintf("Plugin %s failed", kind), fmt.Sprintf("%s %s: %v", name, tag, err))
		return err
	}
	e.rec.IncOperation(kind, "success")
	e.notifyInfo(fmt.Sprintf("Plugin %s complete", kind), fmt.Sprintf("%s %s", name, tag))
	return nil
}

func (e *Engine) run(ctx context.Context, kind, hookName, name, repoURL, tag string, prev *descriptor.Descriptor) error {
	// Resolving
	idx, err := e.resolver.Resolve(ctx, repoURL, false)
	if err != nil {
		return err
	}
	rel := idx.FindTag(tag)
	if rel == nil {
		return fmt.Errorf("%w: %s has no release %s", ErrReleaseNotFound, repoURL, tag)
	}

	op := &operation{name: name, tag: tag, cacheDir: e.cacheDir(name, tag)}
	srcDir, err := os.MkdirTemp("", "nasd-src-")
	if err != nil {
		return err
	}
	op.srcDir = srcDir

	if err := e.stageAndInstall(ctx, op, rel, repoURL, prev); err != nil {
		e.rollback(op)
		return err
	}

	// a broken post-install script does not roll back a package that is
	// already installed
	if err := e.hooks.Run(ctx, op.versionDir, hookName); err != nil {
		e.log.Warnf("hook %s of %s failed: %v", hookName, name, err)
		e.notifyWarning("Plugin hook failed", fmt.Sprintf("%s %s: %v", name, hookName, err))
	}

	e.cleanupStaging(op)
	e.statusCache.Delete(updateStatusCacheKey)
	return nil
}

func (e *Engine) stageAndInstall(ctx context.Context, op *operation, rel *release.Release, repoURL string, prev *descriptor.Descriptor) error {
	// Fetching
	artifact, err := e.fetcher.Fetch(ctx, rel, e.arch, op.cacheDir)
	if err != nil {
		return err
	}

	// Verifying
	if artifact.ChecksumPath == "" {
		if e.requireChecksum {
			return fmt.Errorf("%w: %s publishes no checksum and checksums are required", ErrIntegrityFailure, rel.Tag)
		}
		e.log.Warnf("release %s of %s publishes no checksum, skipping verification", rel.Tag, op.name)
	} else if !verify.File(artifact.PackagePath, artifact.ChecksumPath) {
		return fmt.Errorf("%w: %s does not match its published checksum", ErrIntegrityFailure, filepath.Base(artifact.PackagePath))
	}

	if err := e.fetcher.ExtractSource(ctx, artifact.SourcePath, op.srcDir); err != nil {
		return err
	}
	desc, err := descriptor.Extract(op.srcDir, op.tag)
	if err != nil {
		return err
	}

	// Staged
	if err := e.promoteStaging(op, artifact.PackagePath, artifact.ChecksumPath, desc); err != nil {
		return err
	}

	// PackageInstalling
	debPath := filepath.Join(op.versionDir, filepath.Base(artifact.PackagePath))
	pkgName, err := e.pkg.PackageName(ctx, debPath)
	if err != nil {
		return err
	}
	if prev != nil {
		// the previous entry is purged before the new install only when
		// an existing installation was detected
		if err := e.pkg.Purge(ctx, pkgName); err != nil {
			return err
		}
	}
	if err := e.pkg.Install(ctx, debPath); err != nil {
		return err
	}

	// the previous version directory goes away only after the new install
	// succeeded, so one fully-installed version exists on disk at all times
	if prev != nil && prev.Tag != op.tag {
		if err := os.RemoveAll(filepath.Join(e.baseDir(op.name), prev.Tag)); err != nil {
			e.log.Warnf("could not remove previous version directory %s/%s: %v", op.name, prev.Tag, err)
		}
	}

	now := time.Now()
	desc.Tag = op.tag
	desc.RepoURL = repoURL
	desc.InstalledAt = now
	if prev != nil {
		desc.InstalledAt = prev.InstalledAt
	}
	desc.UpdatedAt = now
	if err := descriptor.Save(e.baseDir(op.name), desc); err != nil {
		return fmt.Errorf("writing descriptor of %s: %w", op.name, err)
	}
	return nil
}

// promoteStaging creates the version directory and moves the staged files
// into their permanent locations.
func (e *Engine) promoteStaging(op *operation, pkgPath, checksumPath string, desc *descriptor.Descriptor) error {
	baseDir := e.baseDir(op.name)
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}

	op.versionDir = filepath.Join(baseDir, op.tag)
	if err := os.MkdirAll(op.versionDir, 0o755); err != nil {
		return err
	}
	op.createdVersionDir = true

	if err := copyFile(pkgPath, filepath.Join(op.versionDir, filepath.Base(pkgPath))); err != nil {
		return err
	}
	if checksumPath != "" {
		if err := copyFile(checksumPath, filepath.Join(op.versionDir, filepath.Base(checksumPath))); err != nil {
			return err
		}
	}
	functionsSrc := filepath.Join(op.srcDir, descriptor.FunctionsFileName)
	if _, err := os.Stat(functionsSrc); err == nil {
		if err := copyFile(functionsSrc, filepath.Join(op.versionDir, descriptor.FunctionsFileName)); err != nil {
			return err
		}
	}

	// version-independent state lives at the plugin root and survives
	// updates: seed it only when absent
	settingsSrc := filepath.Join(op.srcDir, "settings.json")
	settingsDst := filepath.Join(baseDir, "settings.json")
	if _, err := os.Stat(settingsSrc); err == nil {
		if _, err := os.Stat(settingsDst); os.IsNotExist(err) {
			if err := copyFile(settingsSrc, settingsDst); err != nil {
				return err
			}
		}
	}
	return nil
}

// rollback removes everything the failed operation created. Cleanup failures
// are logged, never returned, so they cannot mask the originating error.
func (e *Engine) rollback(op *operation) {
	e.rec.IncRollback()
	e.cleanupStaging(op)

	if op.createdVersionDir {
		if err := os.RemoveAll(op.versionDir); err != nil {
			e.log.Errorf("rollback: could not remove version directory %s: %v", op.versionDir, err)
		}
	}
	baseDir := e.baseDir(op.name)
	if entries, err := os.ReadDir(baseDir); err == nil && len(entries) == 0 {
		if err := os.Remove(baseDir); err != nil {
			e.log.Errorf("rollback: could not remove empty plugin directory %s: %v", baseDir, err)
		}
	}
}

func (e *Engine) cleanupStaging(op *operation) {
	if op.srcDir != "" {
		if err := os.RemoveAll(op.srcDir); err != nil {
			e.log.Errorf("could not remove staging directory %s: %v", op.srcDir, err)
		}
	}
	if err := os.RemoveAll(op.cacheDir); err != nil {
		e.log.Errorf("could not remove cache directory %s: %v", op.cacheDir, err)
	}
	if parent := filepath.Dir(op.cacheDir); parent != "" {
		if entries, err := os.ReadDir(parent); err == nil && len(entries) == 0 {
			_ = os.Remove(parent)
		}
	}
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
