package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/naskit/nasd/internal/config"
	"github.com/naskit/nasd/internal/engine"
	"github.com/naskit/nasd/internal/fetch"
	"github.com/naskit/nasd/internal/hook"
	"github.com/naskit/nasd/internal/metrics"
	"github.com/naskit/nasd/internal/notify"
	"github.com/naskit/nasd/internal/pkgmgr"
	"github.com/naskit/nasd/internal/proc"
	"github.com/naskit/nasd/internal/release"
	"github.com/naskit/nasd/internal/server"
	"github.com/naskit/nasd/internal/tasks"
	"github.com/sirupsen/logrus"
)

var version = "dev"

func setupLogger() *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	return log
}

func run(log *logrus.Logger) error {
	cfg, err := config.FromEnv()
	if err != nil {
		return err
	}
	cfg.Version = version

	releaseCacheDir := filepath.Join(cfg.CacheDir, "releases")
	if err := os.MkdirAll(releaseCacheDir, 0o755); err != nil {
		return err
	}

	runner := proc.NewRunner()
	releaseCache := release.NewCache(&release.DiskStore{Dir: releaseCacheDir}, release.SystemClock(), cfg.ReleaseCacheTTL)
	resolver := release.NewResolver(cfg.GitHubClient(), releaseCache, log)
	fetcher := fetch.New(cfg.GitHubToken, cfg.MaxSourceSize, cfg.ExtractTimeout, runner, log)
	packages := pkgmgr.New(runner, cfg.PackageTimeout, log)
	hooks := hook.New(runner, cfg.HookTimeout, log)
	sink := notify.NewDatagramSink(cfg.NotifySocket, log)
	rec := metrics.NewPrometheusRecorder()

	eng := engine.New(engine.Options{
		Paths: engine.Paths{
			ConfigRoot: cfg.ConfigRoot,
			WebRoot:    cfg.WebRoot,
			DriverRoot: cfg.DriverRoot,
			CacheDir:   cfg.CacheDir,
		},
		RequireChecksum: cfg.RequireChecksum,
		Resolver:        resolver,
		Fetcher:         fetcher,
		Packages:        packages,
		Hooks:           hooks,
		Sink:            sink,
		Recorder:        rec,
		Log:             log,
	})

	taskRunner := tasks.NewRunner(log)

	log.Println("starting server...")
	srv := &http.Server{
		Addr:    cfg.ServerAddr(),
		Handler: server.New(log, eng, taskRunner, rec, rec.Handler(), cfg),
	}
	go func() {
		log.Printf("listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Error(err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	log.Println("waiting for running operations...")
	taskCtx, taskCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer taskCancel()
	if err := taskRunner.Shutdown(taskCtx); err != nil {
		log.Errorf("task runner shutdown: %v", err)
	}

	log.Println("stopping server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); errors.Is(err, context.DeadlineExceeded) {
		log.Println("closing server...")
		if closeErr := srv.Close(); closeErr != nil {
			return closeErr
		}
	} else if err != nil {
		return err
	}
	log.Println("server stopped!")
	return nil
}

func main() {
	log := setupLogger()
	if err := run(log); err != nil {
		log.Fatal(err)
	}
}
