// Package hook executes plugin-contributed lifecycle shell functions.
package hook

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/naskit/nasd/internal/descriptor"
	"github.com/naskit/nasd/internal/proc"
	"github.com/sirupsen/logrus"
)

var (
	// ErrReserved marks an ad-hoc execution request naming a core
	// lifecycle hook. Those are only run by the install coordinator itself.
	ErrReserved = errors.New("reserved hook name")
	// ErrFailed marks a hook that ran and failed, or was killed on timeout.
	ErrFailed = errors.New("hook failure")
	// ErrInvalidName marks a hook name outside the allowed pattern.
	ErrInvalidName = errors.New("invalid hook name")
)

// reserved aliases of core lifecycle events and the platform-owned boot
// hooks, refused on the ad-hoc execution path.
var reserved = map[string]struct{}{
	"install":       {},
	"uninstall":     {},
	"plugin_update": {},
	"boot":          {},
	"shutdown":      {},
}

var hookNameRe = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// hookScript sources the plugin's function file with the version directory as
// working directory and invokes the named function only if it is defined.
// The file path and function name arrive as positional parameters, never
// interpolated into the script text.
const hookScript = `cd "$(dirname "$1")" || exit 1
. "./$(basename "$1")" || exit 1
if declare -F "$2" >/dev/null; then "$2"; fi`

type Runner struct {
	run     proc.Runner
	timeout time.Duration
	log     *logrus.Logger
}

func New(run proc.Runner, timeout time.Duration, log *logrus.Logger) *Runner {
	return &Runner{run: run, timeout: timeout, log: log}
}

// Run executes the named hook function from the plugin's function file in the
// given version directory. A missing function file or an undefined function
// is silently skipped.
func (r *Runner) Run(ctx context.Context, versionDir, hookName string) error {
	if !hookNameRe.MatchString(hookName) {
		return fmt.Errorf("%w: %q", ErrInvalidName, hookName)
	}
	scriptPath := filepath.Join(versionDir, descriptor.FunctionsFileName)
	if _, err := os.Stat(scriptPath); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	r.log.Infof("running hook %s in %s", hookName, versionDir)
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	out, err := r.run.Run(ctx, "bash", "-c", hookScript, "hook", scriptPath, hookName)
	if err != nil {
		return fmt.Errorf("%w: %s: %v: %s", ErrFailed, hookName, err, strings.TrimSpace(string(out)))
	}
	return nil
}

// RunUserHook executes an ad-hoc plugin function, refusing the reserved
// lifecycle names.
func (r *Runner) RunUserHook(ctx context.Context, versionDir, hookName string) error {
	if _, ok := reserved[hookName]; ok {
		return fmt.Errorf("%w: %s", ErrReserved, hookName)
	}
	return r.Run(ctx, versionDir, hookName)
}
