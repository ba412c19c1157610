// Package pkgmgr drives dpkg through the process-invocation boundary. All
// invocations are serialized behind one lock since dpkg does not support
// concurrent runs.
package pkgmgr

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/naskit/nasd/internal/proc"
	"github.com/sirupsen/logrus"
)

// ErrPackageManager marks a failed dpkg invocation. The dpkg output is
// carried verbatim in the wrapping error.
var ErrPackageManager = errors.New("package manager failure")

type Manager struct {
	run     proc.Runner
	timeout time.Duration
	log     *logrus.Logger

	// mu serializes every dpkg invocation process-wide, regardless of
	// which plugin the operation belongs to.
	mu sync.Mutex
}

func New(run proc.Runner, timeout time.Duration, log *logrus.Logger) *Manager {
	return &Manager{run: run, timeout: timeout, log: log}
}

func (m *Manager) invoke(ctx context.Context, name string, args ...string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	out, err := m.run.Run(ctx, name, args...)
	if err != nil {
		return out, fmt.Errorf("%w: %v: %s", ErrPackageManager, err, strings.TrimSpace(string(out)))
	}
	return out, nil
}

// PackageName returns the package name embedded in a local .deb file.
func (m *Manager) PackageName(ctx context.Context, debPath string) (string, error) {
	out, err := m.invoke(ctx, "dpkg-deb", "--field", debPath, "Package")
	if err != nil {
		return "", err
	}
	name := strings.TrimSpace(string(out))
	if name == "" {
		return "", fmt.Errorf("%w: %s carries no package name", ErrPackageManager, debPath)
	}
	return name, nil
}

// Install installs a local .deb in force mode. Downgrades and same-version
// reinstalls are tolerated, idempotent re-application is a supported case.
func (m *Manager) Install(ctx context.Context, debPath string) error {
	m.log.Infof("installing package %s", debPath)
	_, err := m.invoke(ctx, "dpkg", "--install", "--force-confdef", "--force-downgrade", debPath)
	return err
}

// Purge removes an installed package including its configuration files.
func (m *Manager) Purge(ctx context.Context, pkgName string) error {
	m.log.Infof("purging package %s", pkgName)
	_, err := m.invoke(ctx, "dpkg", "--purge", pkgName)
	return err
}
