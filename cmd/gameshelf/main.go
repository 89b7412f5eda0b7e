package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"gameshelf/internal/cache"
	"gameshelf/internal/config"
	"gameshelf/internal/history"
	"gameshelf/internal/pipeline"
	"gameshelf/internal/preview"
	"gameshelf/internal/watcher"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
	"gopkg.in/alecthomas/kingpin.v2"
)

var (
	app        = kingpin.New("gameshelf", "Publishes a handheld's playtime and box art as a static web page")
	configPath = app.Flag("config", "Path to the TOML configuration file").Short('c').Default("./gameshelf.toml").String()
	verbose    = app.Flag("verbose", "Enable debug logging").Short('v').Bool()

	buildCmd     = app.Command("build", "Render the collection page").Default()
	buildPublish = buildCmd.Flag("publish", "Publish after building").Short('p').Bool()

	publishCmd = app.Command("publish", "Publish the existing output directory")

	watchCmd     = app.Command("watch", "Rebuild whenever playtime data or box art changes")
	watchPublish = watchCmd.Flag("publish", "Publish after each rebuild").Short('p').Bool()

	previewCmd   = app.Command("preview", "Serve the output directory locally")
	previewAddr  = previewCmd.Flag("addr", "Listen address").String()
	previewShare = previewCmd.Flag("share", "Also expose the preview through an ngrok tunnel").Bool()

	historyCmd   = app.Command("history", "Show recent runs")
	historyLimit = historyCmd.Flag("limit", "Number of runs to show").Short('n').Default("20").Int()
)

func main() {
	app.HelpFlag.Short('h')
	app.UsageTemplate(kingpin.CompactUsageTemplate)

	fullCmd := kingpin.MustParse(app.Parse(os.Args[1:]))

	// Initialize basic logger for startup
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.WithError(err).Fatal("Error loading configuration")
	}

	closeLog, err := setupLogger(logger, cfg.Logging, *verbose)
	if err != nil {
		logger.WithError(err).Fatal("Error configuring logging")
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch fullCmd {
	case buildCmd.FullCommand():
		err = build(ctx, cfg, logger, *buildPublish)
	case publishCmd.FullCommand():
		err = publishOnly(ctx, cfg, logger)
	case watchCmd.FullCommand():
		err = watch(ctx, cfg, logger, *watchPublish || cfg.Watch.Publish)
	case previewCmd.FullCommand():
		err = serve(ctx, cfg, logger)
	case historyCmd.FullCommand():
		err = showHistory(cfg, logger, *historyLimit)
	}

	if err != nil {
		logger.WithError(err).Error("Command failed")
		closeLog()
		os.Exit(1)
	}
}

// setupLogger applies the logging section. The returned func closes the log
// file, if any.
func setupLogger(logger *logrus.Logger, cfg config.LoggingConfig, verbose bool) (func(), error) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return func() {}, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	if verbose {
		level = logrus.DebugLevel
	}
	logger.SetLevel(level)

	if strings.EqualFold(cfg.Format, "json") {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	if cfg.File == "" {
		return func() {}, nil
	}
	f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return func() {}, fmt.Errorf("failed to open log file: %w", err)
	}
	logger.SetOutput(io.MultiWriter(os.Stderr, f))
	return func() { f.Close() }, nil
}

func openHistory(cfg *config.Config, logger *logrus.Logger) *history.Store {
	if !cfg.History.Enabled {
		return nil
	}
	store, err := history.Open(cfg.History.Path, logger)
	if err != nil {
		logger.WithError(err).Warn("Run history unavailable")
		return nil
	}
	if cfg.History.KeepDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -cfg.History.KeepDays)
		if n, err := store.Prune(cutoff); err != nil {
			logger.WithError(err).Warn("Failed to prune run history")
		} else if n > 0 {
			logger.WithField("removed", n).Debug("Pruned run history")
		}
	}
	return store
}

func build(ctx context.Context, cfg *config.Config, logger *logrus.Logger, publish bool) error {
	store := openHistory(cfg, logger)
	if store != nil {
		defer store.Close()
	}

	sum, err := pipeline.Run(ctx, cfg, pipeline.Options{
		Publish: publish,
		Logger:  logger,
		History: store,
	})
	if err != nil {
		return err
	}
	printSummary(cfg, sum)
	return nil
}

func publishOnly(ctx context.Context, cfg *config.Config, logger *logrus.Logger) error {
	store := openHistory(cfg, logger)
	if store != nil {
		defer store.Close()
	}

	sum, err := pipeline.Publish(ctx, cfg, pipeline.Options{Logger: logger, History: store})
	if err != nil {
		return err
	}
	printSummary(cfg, sum)
	return nil
}

func watch(ctx context.Context, cfg *config.Config, logger *logrus.Logger, publish bool) error {
	store := openHistory(cfg, logger)
	if store != nil {
		defer store.Close()
	}

	placeholders := cache.NewMemoryCache[string](24 * time.Hour)
	defer placeholders.Close()

	rebuild := func(ctx context.Context) error {
		sum, err := pipeline.Run(ctx, cfg, pipeline.Options{
			Publish:      publish,
			Logger:       logger,
			History:      store,
			Placeholders: placeholders,
		})
		if err == nil {
			printSummary(cfg, sum)
		}
		return err
	}

	debounce := time.Duration(cfg.Watch.DebounceMillis) * time.Millisecond
	w := watcher.New(cfg.Paths.PlaytimeFile, cfg.Paths.CatalogueDir, debounce, rebuild, logger)
	return w.Run(ctx)
}

func serve(ctx context.Context, cfg *config.Config, logger *logrus.Logger) error {
	addr := cfg.Preview.Addr
	if *previewAddr != "" {
		addr = *previewAddr
	}
	if _, err := os.Stat(cfg.Paths.OutputDir); os.IsNotExist(err) {
		logger.WithField("output_dir", cfg.Paths.OutputDir).Warn("Output directory does not exist yet. Run gameshelf build first.")
	}
	srv := preview.NewServer(cfg.Paths.OutputDir, addr, logger)
	if *previewShare {
		tunnel, err := preview.NewTunnel(cfg.Tunnel, logger)
		if err != nil {
			return err
		}
		srv.Share(tunnel)
	}
	return srv.Run(ctx)
}

func showHistory(cfg *config.Config, logger *logrus.Logger, limit int) error {
	store, err := history.Open(cfg.History.Path, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.Recent(limit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded yet.")
		return nil
	}
	history.WriteTable(os.Stdout, runs, time.Now())
	return nil
}

func printSummary(cfg *config.Config, sum *pipeline.Summary) {
	if sum.PageBytes > 0 {
		fmt.Printf("%d games across %d systems, page %s", sum.Games, sum.Systems, humanize.Bytes(uint64(sum.PageBytes)))
		if len(sum.Warnings) > 0 {
			fmt.Printf(", %d warnings", len(sum.Warnings))
		}
		fmt.Println()
	}

	if sum.Publish != nil {
		fmt.Printf("Published to %s: %d files sent, %d removed\n",
			sum.Publish.Destination, len(sum.Publish.Transferred), len(sum.Publish.Deleted))
		if cfg.Publish.URL != "" {
			fmt.Println(cfg.Publish.URL)
		}
	}
}
