// Package engine orchestrates the plugin package lifecycle: version
// resolution, artifact staging, integrity verification, package-manager
// invocation, hook execution and rollback.
package engine

import (
	"context"
	"errors"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/naskit/nasd/internal/fetch"
	"github.com/naskit/nasd/internal/metrics"
	"github.com/naskit/nasd/internal/notify"
	"github.com/naskit/nasd/internal/release"
	gocache "github.com/patrickmn/go-cache"
	"github.com/sirupsen/logrus"
)

var (
	// ErrInvalidRequest marks malformed caller input, rejected before any
	// I/O happens.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrReleaseNotFound marks a requested tag missing from the remote
	// release list.
	ErrReleaseNotFound = errors.New("release not found")
	// ErrAlreadyInstalled marks a request for the tag that is already the
	// current version.
	ErrAlreadyInstalled = errors.New("already installed")
	// ErrIntegrityFailure marks a checksum mismatch, or a missing checksum
	// under the require-checksum policy.
	ErrIntegrityFailure = errors.New("integrity failure")
	// ErrPluginNotFound marks an uninstall of a plugin that exists in
	// neither of its expected locations.
	ErrPluginNotFound = errors.New("plugin not found")
)

// ReleaseResolver lists the releases of a source repository.
type ReleaseResolver interface {
	Resolve(ctx context.Context, repoRef string, forceRefresh bool) (*release.Index, error)
}

// ArtifactFetcher stages a release's files on local disk.
type ArtifactFetcher interface {
	Fetch(ctx context.Context, rel *release.Release, targetArch, destDir string) (*fetch.Artifact, error)
	ExtractSource(ctx context.Context, tarballPath, destDir string) error
}

// PackageManager drives the system package manager.
type PackageManager interface {
	PackageName(ctx context.Context, debPath string) (string, error)
	Install(ctx context.Context, debPath string) error
	Purge(ctx context.Context, pkgName string) error
}

// HookRunner executes plugin lifecycle functions.
type HookRunner interface {
	Run(ctx context.Context, versionDir, hookName string) error
	RunUserHook(ctx context.Context, versionDir, hookName string) error
}

// Paths is the persistent filesystem layout the engine owns.
type Paths struct {
	ConfigRoot string
	WebRoot    string
	DriverRoot string
	CacheDir   string
}

type Options struct {
	Paths           Paths
	Arch            string // defaults to the running platform
	RequireChecksum bool
	Resolver        ReleaseResolver
	Fetcher         ArtifactFetcher
	Packages        PackageManager
	Hooks           HookRunner
	Sink            notify.Sink
	Recorder        metrics.Recorder
	Log             *logrus.Logger
}

type Engine struct {
	paths           Paths
	arch            string
	requireChecksum bool

	resolver ReleaseResolver
	fetcher  ArtifactFetcher
	pkg      PackageManager
	hooks    HookRunner
	sink     notify.Sink
	rec      metrics.Recorder
	log      *logrus.Logger

	statusCache *gocache.Cache

	// locksMu guards locks; each entry serializes operations on one
	// plugin name.
	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(opts Options) *Engine {
	arch := opts.Arch
	if arch == "" {
		arch = debArch(runtime.GOARCH)
	}
	rec := opts.Recorder
	if rec == nil {
		rec = metrics.NoopRecorder{}
	}
	sink := opts.Sink
	if sink == nil {
		sink = notify.NewNoopSink()
	}
	log := opts.Log
	if log == nil {
		log = logrus.New()
	}
	return &Engine{
		paths:           opts.Paths,
		arch:            arch,
		requireChecksum: opts.RequireChecksum,
		resolver:        opts.Resolver,
		fetcher:         opts.Fetcher,
		pkg:             opts.Packages,
		hooks:           opts.Hooks,
		sink:            sink,
		rec:             rec,
		log:             log,
		statusCache:     gocache.New(5*time.Minute, 10*time.Minute),
		locks:           make(map[string]*sync.Mutex),
	}
}

// debArch maps the Go architecture to the Debian one.
func debArch(goarch string) string {
	switch goarch {
	case "amd64":
		return "amd64"
	case "arm64":
		return "arm64"
	case "arm":
		return "armhf"
	case "386":
		return "i386"
	case "riscv64":
		return "riscv64"
	}
	return goarch
}

var pluginNameRe = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)

// validName reports whether name is safe to use as a directory name and a
// process argument. Path separators and parent references are rejected.
func validName(name string) bool {
	return pluginNameRe.MatchString(name) && !strings.Contains(name, "..")
}

// lockName serializes operations on one plugin name. The returned function
// releases the lock.
func (e *Engine) lockName(name string) func() {
	e.locksMu.Lock()
	l, ok := e.locks[name]
	if !ok {
		l = &sync.Mutex{}
		e.locks[name] = l
	}
	e.locksMu.Unlock()
	l.Lock()
	return l.Unlock
}

func (e *Engine) baseDir(name string) string {
	return filepath.Join(e.paths.ConfigRoot, name)
}

func (e *Engine) webDir(name string) string {
	return filepath.Join(e.paths.WebRoot, name)
}

func (e *Engine) driverDir(name string) string {
	return filepath.Join(e.paths.DriverRoot, name)
}

func (e *Engine) cacheDir(name, tag string) string {
	return filepath.Join(e.paths.CacheDir, "plugins", name, tag)
}

func (e *Engine) notifyInfo(title, message string) {
	e.sink.Send(notify.Notification{Title: title, Message: message, Priority: notify.PriorityInfo})
}

func (e *Engine) notifyWarning(title, message string) {
	e.sink.Send(notify.Notification{Title: title, Message: message, Priority: notify.PriorityWarning})
}

func (e *Engine) notifyError(title, message string) {
	e.sink.Send(notify.Notification{Title: title, Message: message, Priority: notify.PriorityError})
}
