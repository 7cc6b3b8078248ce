package main

import (
	"context"
	"net/http"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/chaos-io/cutout/server"
	"github.com/chaos-io/cutout/session"
	"github.com/chaos-io/cutout/util"
)

func newServeCmd(load configLoader) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup(load)
			if err != nil {
				return err
			}
			defer util.Sync(rt.logger)
			return serve(rt)
		},
	}
}

func serve(rt *app) error {
	cfg, logger := rt.cfg, rt.logger

	logger.Info("starting cutout server",
		zap.String("version", Version),
		zap.String("build_time", BuildTime),
		zap.String("git_commit", GitCommit),
		zap.String("segmenter", cfg.Segmenter.Kind))

	store := session.NewStore(rt.deps, cfg.Session.TTL)
	if err := store.StartSweeper(cfg.Session.SweepSpec); err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		store.Stop(ctx)
	}()

	srv := server.New(store, server.Options{
		Mode:          cfg.Server.Mode,
		MaxUploadSize: cfg.Server.MaxUploadSize,
		Version:       Version,
	}, logger)

	httpServer := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      srv.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	logger.Info("server starting", zap.String("port", cfg.Server.Port))
	if err := server.Serve(httpServer, cfg.Server.ShutdownTimeout, logger); err != nil {
		logger.Error("server stopped", zap.Error(err))
		return err
	}
	logger.Info("server stopped")
	return nil
}
