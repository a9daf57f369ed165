package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/zhouzirui/tavern-chat/internal/config"
	"github.com/zhouzirui/tavern-chat/internal/handler"
	"github.com/zhouzirui/tavern-chat/internal/logging"
	"github.com/zhouzirui/tavern-chat/internal/middleware"
	"github.com/zhouzirui/tavern-chat/internal/service/ai"
	"github.com/zhouzirui/tavern-chat/internal/service/chat"
	"github.com/zhouzirui/tavern-chat/internal/service/stream"
	"github.com/zhouzirui/tavern-chat/web"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the chat web server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, opts)
		},
	}
}

func serve(ctx context.Context, opts *rootOptions) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if opts.logLevel == "" {
		logging.Setup(cfg.Log.Level, cfg.Log.Format)
	}
	if err := cfg.Session.Validate(); err != nil {
		return err
	}

	store, err := chat.NewStore(ctx, cfg.Session)
	if err != nil {
		return err
	}
	defer store.Close()

	// Without a model the history endpoints keep working and submits answer 503.
	var bridge *stream.Bridge
	if cfg.AI.Enabled() {
		generator, err := ai.NewGenerator(ctx, cfg.AI)
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize language model, continuing without it")
		} else {
			bridge = stream.New(store, generator)
			log.Info().Str("provider", cfg.AI.Provider).Msg("language model initialized")
		}
	} else {
		log.Warn().Str("provider", cfg.AI.Provider).Msg("model credentials not configured, skipping language model")
	}

	sessions := middleware.NewSessionManager(cfg.Session.Secret, cfg.Session.TTL, store)
	router := handler.NewRouter(store, bridge, sessions, web.Static())

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Info().Str("addr", cfg.Server.Addr).Msg("tavern listening")
	return runServer(ctx, srv)
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
