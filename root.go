package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/chaos-io/cutout/config"
	"github.com/chaos-io/cutout/export"
	"github.com/chaos-io/cutout/imaging"
	"github.com/chaos-io/cutout/rembg"
	"github.com/chaos-io/cutout/session"
	"github.com/chaos-io/cutout/util"
	nhttp "github.com/chaos-io/cutout/util/http"
)

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "cutout",
		Short:         "Remove image backgrounds and composite new ones",
		Version:       Version,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config.yaml (defaults to ./config.yaml when present)")

	loadConfig := func() (*config.Config, error) {
		if configPath == "" {
			return config.New(), nil
		}
		return config.Load(configPath)
	}

	root.AddCommand(newServeCmd(loadConfig))
	root.AddCommand(newRemoveCmd(loadConfig))
	return root
}

type configLoader func() (*config.Config, error)

// app 一次命令运行所需的全部组件
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	client nhttp.IClient
	deps   session.Deps
}

func setup(load configLoader) (*app, error) {
	cfg, err := load()
	if err != nil {
		return nil, err
	}

	logger, err := util.NewLogger(cfg.Log.Mode)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	client := nhttp.NewHTTPClientWithTimeout(cfg.Segmenter.Timeout)
	segmenter, err := newSegmenter(cfg.Segmenter, client, logger)
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:    cfg,
		logger: logger,
		client: client,
		deps: session.Deps{
			Loader: &imaging.Loader{
				MaxDimension: cfg.Loader.MaxDimension,
				MaxBytes:     cfg.Loader.MaxBytes,
			},
			Adapter:  rembg.NewAdapter(segmenter, logger),
			Exporter: export.NewExporter(logger),
			Logger:   logger,
		},
	}, nil
}

func newSegmenter(cfg config.SegmenterConfig, cli nhttp.IClient, logger *zap.Logger) (rembg.Segmenter, error) {
	switch cfg.Kind {
	case "birefnet":
		return rembg.NewBiRefNet(rembg.BiRefNetConfig{
			BaseURL:      cfg.BaseURL,
			PollInterval: cfg.PollInterval,
			MaxPolls:     cfg.MaxPolls,
		}, cli, logger), nil
	case "passthrough":
		logger.Warn("using passthrough segmenter, backgrounds will not be removed")
		return rembg.NewPassthrough(), nil
	default:
		return nil, fmt.Errorf("unknown segmenter kind %q", cfg.Kind)
	}
}
