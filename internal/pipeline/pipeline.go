// Package pipeline runs one build: read playtime, scan the catalogue,
// aggregate, render and optionally publish.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"gameshelf/internal/cache"
	"gameshelf/internal/catalogue"
	"gameshelf/internal/collection"
	"gameshelf/internal/config"
	"gameshelf/internal/history"
	"gameshelf/internal/playtime"
	"gameshelf/internal/publish"
	"gameshelf/internal/render"
	"gameshelf/internal/report"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Options controls a single run
type Options struct {
	Publish bool
	Logger  *logrus.Logger
	// History receives one row per run when set.
	History        *history.Store
	PublishOptions []publish.Option
	// Placeholders keeps blurhash previews between runs in watch mode.
	Placeholders *cache.MemoryCache[string]
}

// Summary is what a run produced
type Summary struct {
	RunID        string
	Games        int
	Systems      int
	Warnings     []report.Warning
	OutputDir    string
	PageBytes    int
	IndexChanged bool
	Publish      *publish.Result
}

// Run executes every stage in order. Missing inputs only add warnings; an
// error is returned when the output cannot be written or the transfer fails.
func Run(ctx context.Context, cfg *config.Config, opts Options) (*Summary, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}

	started := time.Now()
	sum := &Summary{RunID: uuid.NewString(), OutputDir: cfg.Paths.OutputDir}
	log := logger.WithField("run_id", sum.RunID)

	err := build(ctx, cfg, opts, logger, sum)
	if err == nil && opts.Publish {
		err = publishOutput(ctx, cfg, opts, logger, sum)
	}

	report.Log(logger, sum.Warnings)
	record(opts.History, sum, started, opts.Publish, err, log)

	if err != nil {
		return sum, err
	}
	log.WithFields(logrus.Fields{
		"games":    sum.Games,
		"systems":  sum.Systems,
		"warnings": len(sum.Warnings),
		"took":     time.Since(started).Round(time.Millisecond),
	}).Info("Run complete")
	return sum, nil
}

// Publish transfers an existing output directory without rebuilding it
func Publish(ctx context.Context, cfg *config.Config, opts Options) (*Summary, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
	}

	started := time.Now()
	sum := &Summary{RunID: uuid.NewString(), OutputDir: cfg.Paths.OutputDir}
	err := publishOutput(ctx, cfg, opts, logger, sum)

	report.Log(logger, sum.Warnings)
	record(opts.History, sum, started, true, err, logger.WithField("run_id", sum.RunID))
	return sum, err
}

func build(ctx context.Context, cfg *config.Config, opts Options, logger *logrus.Logger, sum *Summary) error {
	reader := playtime.NewReader(cfg.Systems.Aliases, logger)
	records := reader.Read(cfg.Paths.PlaytimeFile)
	sum.Warnings = append(sum.Warnings, records.Warnings...)
	if err := ctx.Err(); err != nil {
		return err
	}

	scanner := catalogue.NewScanner(cfg.Catalogue.ImageFormats, cfg.Catalogue.BoxSubdir, logger)
	assets := scanner.Scan(cfg.Paths.CatalogueDir)
	sum.Warnings = append(sum.Warnings, assets.Warnings...)
	if err := ctx.Err(); err != nil {
		return err
	}

	view := collection.Build(records.Value, assets.Value)
	sum.Games = view.TotalGames
	sum.Systems = len(view.Systems)

	renderer, err := render.NewRenderer(cfg.Render, cfg.Systems, logger)
	if err != nil {
		return err
	}
	if opts.Placeholders != nil {
		renderer.SetPlaceholderCache(opts.Placeholders)
	}
	site, err := renderer.WriteSite(view, cfg.Paths.OutputDir)
	sum.Warnings = append(sum.Warnings, site.Warnings...)
	if err != nil {
		return err
	}
	sum.PageBytes = site.Value.PageBytes
	sum.IndexChanged = site.Value.IndexChanged
	return ctx.Err()
}

func publishOutput(ctx context.Context, cfg *config.Config, opts Options, logger *logrus.Logger, sum *Summary) error {
	publisher, err := publish.NewPublisher(cfg.Publish, logger, opts.PublishOptions...)
	if err != nil {
		sum.Warnings = append(sum.Warnings, report.Warning{Kind: report.TransferFailed, Subject: "publish", Err: err})
		return err
	}

	res, err := publisher.Publish(ctx, cfg.Paths.OutputDir)
	if err != nil {
		sum.Warnings = append(sum.Warnings, report.Warning{
			Kind:    report.TransferFailed,
			Subject: cfg.Publish.Destination(),
			Err:     err,
		})
		return fmt.Errorf("publish failed: %w", err)
	}
	sum.Publish = res
	return nil
}

func record(store *history.Store, sum *Summary, started time.Time, published bool, runErr error, log *logrus.Entry) {
	if store == nil {
		return
	}

	run := history.Run{
		ID:         sum.RunID,
		StartedAt:  started,
		FinishedAt: time.Now(),
		Games:      sum.Games,
		Systems:    sum.Systems,
		Warnings:   len(sum.Warnings),
		Published:  published && runErr == nil,
	}
	if sum.Publish != nil {
		run.Transferred = len(sum.Publish.Transferred)
	}
	if runErr != nil {
		run.Error = runErr.Error()
	}

	if err := store.Record(run); err != nil {
		log.WithError(err).Warn("Failed to record run history")
	}
}
