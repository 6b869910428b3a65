package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/user/note-enricher/internal/bootstrap"
	"github.com/user/note-enricher/internal/entity"
	"github.com/user/note-enricher/internal/usecase"
	"github.com/user/note-enricher/pkg/config"
	"github.com/user/note-enricher/pkg/logger"
	"go.uber.org/zap"
)

// deps are the collaborators of the command, swapped in tests.
type deps struct {
	loadConfig   func() (*config.Config, error)
	newExtractor func(cfg *config.Config, log *zap.Logger) (usecase.Extractor, func())
	stdout       io.Writer
	stderr       io.Writer
}

func defaultDeps() deps {
	return deps{
		loadConfig: config.Load,
		newExtractor: func(cfg *config.Config, log *zap.Logger) (usecase.Extractor, func()) {
			e := bootstrap.NewExtractor(cfg, log)
			return e, e.Close
		},
		stdout: os.Stdout,
		stderr: os.Stderr,
	}
}

type flags struct {
	maxChars   int
	format     string
	timestamps bool
	noYouTube  bool
	noPodcast  bool
	rescue     bool
	strategies []string
	quiet      bool
}

func newRootCmd(d deps) *cobra.Command {
	var f flags
	cmd := &cobra.Command{
		Use:   "extract <url>",
		Short: "Extract readable content or a transcript from a URL",
		Long: `Extract classifies the URL and runs its extraction cascade until a step succeeds.

Examples:
  # Article text
  extract https://example.com/post

  # YouTube transcript with timestamps, markdown output
  extract --timestamps --format markdown https://youtu.be/dQw4w9WgXcQ

  # Only the readability step, no paid rescue
  extract --strategy html-readability --rescue=false https://example.com/post`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), d, f, cmd.Flags().Changed("rescue"), args[0])
		},
	}

	fl := cmd.Flags()
	fl.IntVar(&f.maxChars, "max-chars", 0, "maximum characters of content (default from MAX_CHARACTERS)")
	fl.StringVar(&f.format, "format", string(entity.FormatText), "content format: text or markdown")
	fl.BoolVar(&f.timestamps, "timestamps", false, "prefix transcript lines with [mm:ss]")
	fl.BoolVar(&f.noYouTube, "no-youtube", false, "treat YouTube URLs as ordinary pages")
	fl.BoolVar(&f.noPodcast, "no-podcast", false, "treat podcast pages as ordinary pages")
	fl.BoolVar(&f.rescue, "rescue", true, "allow the rescue fetchers for blocked pages")
	fl.StringSliceVar(&f.strategies, "strategy", nil, "run only these steps, in order (repeatable)")
	fl.BoolVarP(&f.quiet, "quiet", "q", false, "do not print progress")
	return cmd
}

func run(ctx context.Context, d deps, f flags, rescueSet bool, rawURL string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	format := entity.ContentFormat(f.format)
	if format != entity.FormatText && format != entity.FormatMarkdown {
		return fmt.Errorf("unknown format %q", f.format)
	}

	cfg, err := d.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	// Logs would interleave with progress on stderr.
	log = log.WithOptions(zap.IncreaseLevel(zap.WarnLevel))
	defer func() { _ = log.Sync() }()

	opts := bootstrap.DefaultOptions(cfg)
	if f.maxChars > 0 {
		opts.MaxCharacters = f.maxChars
	}
	opts.Format = format
	opts.IncludeTimestamps = f.timestamps
	if f.noYouTube {
		off := false
		opts.EnableYouTube = &off
	}
	if f.noPodcast {
		off := false
		opts.EnablePodcast = &off
	}
	if rescueSet {
		on := f.rescue
		opts.EnableRescue = &on
	}
	opts.Strategies = f.strategies

	extractor, closeFn := d.newExtractor(cfg, log)
	defer closeFn()

	var emitter entity.ProgressEmitter = entity.NopEmitter{}
	if !f.quiet {
		emitter = entity.ProgressFunc(func(ev entity.ProgressEvent) {
			fmt.Fprintf(d.stderr, "[%3d%%] %s: %s\n", ev.Progress, ev.Step, ev.Message)
		})
	}

	res, err := extractor.Extract(ctx, rawURL, opts, emitter)
	if err != nil {
		fmt.Fprintf(d.stderr, "error: %v\n", err)
		return err
	}

	enc := json.NewEncoder(d.stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return errors.Join(errors.New("write result"), err)
	}
	return nil
}
