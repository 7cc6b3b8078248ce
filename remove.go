package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/chaos-io/cutout/compose"
	"github.com/chaos-io/cutout/export"
	"github.com/chaos-io/cutout/imaging"
	"github.com/chaos-io/cutout/session"
	"github.com/chaos-io/cutout/util"
)

type removeOptions struct {
	background string
	bgImage    string
	format     string
	quality    float64
	out        string
}

func newRemoveCmd(load configLoader) *cobra.Command {
	var opts removeOptions

	cmd := &cobra.Command{
		Use:   "remove <file|url>",
		Short: "Remove the background of one image and save the result",
		Long: `Remove the background of a local file or http(s) URL.

The result is composited onto --bg (transparent, white, black, blue,
gradient or #rrggbb) or onto --bg-image, then saved to --out as
<name>-no-bg.png or <name>-no-bg.jpg.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := setup(load)
			if err != nil {
				return err
			}
			defer util.Sync(rt.logger)

			if !cmd.Flags().Changed("format") {
				opts.format = rt.cfg.Export.Format
			}
			if !cmd.Flags().Changed("quality") {
				opts.quality = rt.cfg.Export.Quality
			}
			if !cmd.Flags().Changed("out") {
				opts.out = rt.cfg.Export.OutputDir
			}

			path, err := runRemove(cmd.Context(), rt, args[0], opts)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), path)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.background, "bg", "", "background: transparent, white, black, blue, gradient or #rrggbb")
	cmd.Flags().StringVar(&opts.bgImage, "bg-image", "", "custom background image file or URL, overrides --bg")
	cmd.Flags().StringVar(&opts.format, "format", "lossless", "export format: lossless (png) or lossy (jpg)")
	cmd.Flags().Float64Var(&opts.quality, "quality", export.DefaultQuality, "lossy quality in [0, 1]")
	cmd.Flags().StringVar(&opts.out, "out", "./output", "output directory")
	return cmd
}

// runRemove 跑完一次完整会话，返回保存的文件路径
func runRemove(ctx context.Context, rt *app, src string, opts removeOptions) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	logger := rt.logger

	format, err := export.ParseFormat(opts.format)
	if err != nil {
		return "", err
	}
	exportOpts := export.Options{Format: format, Quality: opts.quality}
	if err := exportOpts.Validate(); err != nil {
		return "", err
	}

	input, err := loadFile(ctx, rt, src)
	if err != nil {
		return "", err
	}

	sess := session.New("cli", rt.deps)
	defer sess.Reset()

	done := util.Trace(logger, "remove background")
	if err := sess.Dispatch(ctx, session.FileSelected{File: input}); err != nil {
		return "", err
	}
	done()

	switch {
	case opts.bgImage != "":
		bg, err := loadFile(ctx, rt, opts.bgImage)
		if err != nil {
			return "", err
		}
		if err := sess.Dispatch(ctx, session.CustomBackgroundSelected{File: bg}); err != nil {
			return "", err
		}
	case opts.background != "":
		bg, err := compose.ParseBackground(opts.background)
		if err != nil {
			return "", err
		}
		if err := sess.Dispatch(ctx, session.BackgroundChanged{Background: bg}); err != nil {
			return "", err
		}
	}

	if err := sess.Dispatch(ctx, session.FormatChanged{Options: exportOpts}); err != nil {
		return "", err
	}

	saver := export.NewDirSaver(opts.out)
	name, err := sess.Export(ctx, saver, nil)
	if err != nil {
		return "", err
	}

	logger.Info("saved", zap.String("path", saver.Path(name)), zap.String("background", sess.Background()))
	return saver.Path(name), nil
}

func loadFile(ctx context.Context, rt *app, src string) (imaging.File, error) {
	data, name, err := util.Load(ctx, rt.client, src)
	if err != nil {
		return imaging.File{}, fmt.Errorf("load %s: %w", src, err)
	}
	return imaging.File{
		Name: name,
		Size: int64(len(data)),
		Data: data,
	}, nil
}
