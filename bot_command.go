package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	httprouter "tunegrab/internal/infrastructure/delivery/http"
	"tunegrab/internal/infrastructure/delivery/telegram"
	"tunegrab/internal/session"
	httpserver "tunegrab/pkg/http/server"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

func newBotCommand(flags *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "bot",
		Short: "Run the chat bot with the ops HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBot(cmd.Context(), flags)
		},
	}
}

func runBot(ctx context.Context, flags *globalFlags) error {
	a, err := newApp(ctx, flags, appOptions{registerer: prometheus.DefaultRegisterer, logOutput: os.Stdout})
	if err != nil {
		return err
	}

	log := a.log

	api, err := telegram.NewAPI(a.cfg)
	if err != nil {
		return fmt.Errorf("telegram: %w", err)
	}

	sessions, err := session.New(ctx, log, a.cfg, a.metrics)
	if err != nil {
		return fmt.Errorf("sessions: %w", err)
	}
	defer sessions.Close()

	if mem, ok := sessions.(*session.Memory); ok {
		go mem.StartJanitor(ctx, a.cfg.Session.TTL)
	}

	go a.ws.StartJanitor(ctx, a.cfg.Storage.CleanupInterval, a.cfg.Storage.OrphanTTL)

	a.proxies.StartHealthChecker(ctx)

	router := httprouter.New(log, httprouter.Deps{
		Service:        a.svc,
		Proxies:        a.proxies,
		Metrics:        a.metrics,
		Ready:          a.ready,
		HandlerTimeout: a.cfg.HTTP.HandlerTimeout,
	})

	httpSrv := httpserver.New(router, httpserver.Options{
		Addr:            a.cfg.HTTP.Port,
		ShutdownTimeout: a.cfg.HTTP.ShutdownTimeout,
	})

	bot := telegram.New(log, a.cfg, api, a.svc, sessions)

	botCtx, stopBot := context.WithCancel(ctx)
	defer stopBot()

	botErr := make(chan error, 1)

	go func() {
		botErr <- bot.Run(botCtx)
	}()

	log.InfoContext(ctx, "tunegrab started", slog.String("port", a.cfg.HTTP.Port), slog.String("bot", api.Self.UserName))

	var (
		runErr  error
		botDone bool
	)

	select {
	case <-ctx.Done():
	case err := <-httpSrv.Notify():
		runErr = fmt.Errorf("http server: %w", err)
	case err := <-botErr:
		botDone = true

		if err != nil {
			runErr = fmt.Errorf("bot: %w", err)
		}
	}

	stopBot()

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.Bot.DrainTimeout)
	defer cancel()

	if err := a.svc.Shutdown(shutdownCtx); err != nil {
		log.WarnContext(shutdownCtx, "acquisitions still running at shutdown", slog.Any("error", err))
	}

	if !botDone {
		<-botErr
	}

	if err := httpSrv.Shutdown(); err != nil {
		log.ErrorContext(shutdownCtx, "http shutdown", slog.Any("error", err))
	}

	log.InfoContext(shutdownCtx, "tunegrab shut down gracefully")

	return runErr
}
