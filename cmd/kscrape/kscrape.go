package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kantan-tools/kscrape/internal/api"
	"github.com/kantan-tools/kscrape/internal/jobs"
	"github.com/kantan-tools/kscrape/internal/log"
	"github.com/kantan-tools/kscrape/internal/metrics"
	"github.com/kantan-tools/kscrape/internal/model"
	"github.com/kantan-tools/kscrape/internal/service"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

var (
	flagYear  int
	flagMonth int
	flagDay   int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "serve runs the HTTP gateway, scrapes are started through POST /api/jobs",
	RunE:  doServe,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "run executes one scrape in the foreground and prints the final job",
	RunE:  doRun,
}

func doServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	attrs := slog.Group("kscrape",
		slog.String("cmd", "serve"),
		slog.Int("pid", os.Getpid()),
	)
	ctx = log.ContextAttrs(ctx, attrs)

	metrics.MustRegister(nil)

	creds := service.LoadCredentials()
	if creds.Username == "" || creds.Password == "" {
		slog.WarnContext(ctx, "kantan credentials are not set: scrapes will fail to log in")
	}
	slog.DebugContext(ctx, "credentials loaded", "credentials", creds)

	registry := jobs.NewRegistry()
	runner := service.NewTaskRunner(registry, config.Task, creds)
	supervisor, err := service.NewSupervisor(ctx, config.Sweep, registry, runner)
	if err != nil {
		return err
	}

	srv, err := api.NewServer(supervisor, registry, config.Service.Artifacts)
	if err != nil {
		_ = supervisor.Close()
		return err
	}
	defer func() {
		_ = srv.Close()
	}()

	httpServer := &http.Server{
		Addr:              config.Service.Listen,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// keep log attributes, Shutdown drains requests on its own
		BaseContext: func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return supervisor.Do(gctx)
	})
	g.Go(func() error {
		slog.InfoContext(ctx, "listening", "addr", httpServer.Addr, "artifacts", config.Service.Artifacts)
		err := httpServer.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	})
	g.Go(func() error {
		<-gctx.Done()
		shCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		slog.InfoContext(ctx, "shutting down")
		return httpServer.Shutdown(shCtx)
	})
	return g.Wait()
}

func doRun(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	attrs := slog.Group("kscrape",
		slog.String("cmd", "run"),
		slog.Int("pid", os.Getpid()),
	)
	ctx = log.ContextAttrs(ctx, attrs)

	params := model.TaskParams{Year: flagYear, Month: flagMonth, Day: flagDay}
	if params.Month < 1 || params.Month > 12 {
		return fmt.Errorf("--month must be within 1-12, got %d", params.Month)
	}
	if params.Day < 0 || params.Day > 31 {
		return fmt.Errorf("--day must be within 1-31, got %d", params.Day)
	}

	job, err := service.Run(ctx, config, params, service.LoadCredentials())
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(job); err != nil {
		return fmt.Errorf("printing job: %w", err)
	}

	if job.Status != model.StatusCompleted {
		msg := job.Message
		if job.Error != nil {
			msg = *job.Error
		}
		return fmt.Errorf("job %s %s: %s", job.ID, job.Status, msg)
	}
	return nil
}
