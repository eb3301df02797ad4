package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"github.com/spf13/afero"
	"golang.org/x/term"

	"github.com/iconidentify/xstitch/internal/config"
	"github.com/iconidentify/xstitch/internal/domain"
	"github.com/iconidentify/xstitch/internal/downloader"
	"github.com/iconidentify/xstitch/internal/repository"
	"github.com/iconidentify/xstitch/internal/service"
	"github.com/iconidentify/xstitch/internal/worker"
	"github.com/iconidentify/xstitch/pkg/ffmpeg"
	"github.com/iconidentify/xstitch/pkg/twitter"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: xstitch [flags] <tweet-url-or-id> <output.mp4>")
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "Stitches a video posted as a chain of replies into one file.")
	fmt.Fprintln(os.Stderr)
	flag.PrintDefaults()
}

func main() {
	configPath := flag.String("config", "", "Path to config file")
	envFile := flag.String("env", ".env", "Path to a .env file to load if present")
	concurrency := flag.Int("concurrency", 0, "Parallel segment downloads (overrides STITCH_CONCURRENCY)")
	order := flag.String("order", "", "Segment order: page or timestamp (overrides STITCH_ORDER)")
	history := flag.Int("history", 0, "Print the last n recorded runs and exit (needs STITCH_HISTORY_DB)")
	runID := flag.String("run", "", "Print one recorded run and exit (needs STITCH_HISTORY_DB)")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Usage = usage
	flag.Parse()

	if *showVersion {
		fmt.Printf("xstitch %s (built %s)\n", Version, BuildTime)
		if v, err := ffmpeg.GetVersion(context.Background(), os.Getenv("FFMPEG_PATH")); err == nil {
			fmt.Println(v)
		}
		os.Exit(0)
	}

	lookup := *history != 0 || *runID != ""
	if !lookup && flag.NArg() != 2 {
		usage()
		os.Exit(2)
	}

	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Error: load %s: %v\n", *envFile, err)
		os.Exit(1)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)

	var runs repository.RunRepository
	if cfg.Stitch.HistoryDB != "" {
		repo, err := repository.NewSQLiteRunRepository(cfg.Stitch.HistoryDB)
		if err != nil {
			logger.Error("failed to open run history", "path", cfg.Stitch.HistoryDB, "error", err)
			os.Exit(1)
		}
		defer repo.Close()
		runs = repo
	}

	// Run history is local; it needs no API credentials.
	if lookup {
		if runs == nil {
			fmt.Fprintln(os.Stderr, "Error: -history and -run need STITCH_HISTORY_DB")
			os.Exit(1)
		}
		ctx := context.Background()
		if *runID != "" {
			err = printRun(ctx, os.Stdout, runs, domain.RunID(*runID))
		} else {
			err = printHistory(ctx, os.Stdout, runs, *history)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			runs.Close()
			os.Exit(1)
		}
		return
	}

	if *concurrency != 0 {
		cfg.Stitch.Concurrency = *concurrency
	}
	if *order != "" {
		cfg.Stitch.Order = *order
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ref, output := flag.Arg(0), flag.Arg(1)

	pipeline, err := buildPipeline(cfg, logger)
	if err != nil {
		logger.Error("failed to initialize", "error", err)
		os.Exit(1)
	}
	if runs != nil {
		pipeline.SetRecorder(runs)
	}

	// Setup context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "\nStitch cancelled")
		cancel()
	}()

	result, err := pipeline.Run(ctx, ref, output)
	if err != nil {
		code := 1
		if ctx.Err() != nil {
			logger.Info("stitch was cancelled")
			code = 130 // Cancelled by signal
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		if runs != nil {
			runs.Close()
		}
		os.Exit(code)
	}

	size := "unknown size"
	if st, err := os.Stat(result.Output); err == nil {
		size = humanize.Bytes(uint64(st.Size()))
	}
	fmt.Printf("Wrote %s (%d segments, %s)\n", result.Output, len(result.Segments), size)
}

func buildPipeline(cfg *config.Config, logger *slog.Logger) (*service.Pipeline, error) {
	osFs := afero.NewOsFs()

	tokens := twitter.NewAppOnlyTokenSource(twitter.AppOnlyTokenSourceConfig{
		TokenURL:    cfg.X.TokenURL,
		APIKey:      cfg.X.APIKey,
		APISecret:   cfg.X.APISecret,
		BearerToken: cfg.X.BearerToken,
		HTTPTimeout: cfg.X.Timeout,
		UserAgent:   cfg.X.UserAgent,
	})
	client := twitter.NewClient(twitter.ClientConfig{
		BaseURL:   cfg.X.BaseURL,
		Tokens:    tokens,
		Timeout:   cfg.X.Timeout,
		UserAgent: cfg.X.UserAgent,
	}, logger)

	queryRetry := downloader.RetryConfigFrom(cfg.Download)
	queryRetry.MaxAttempts = cfg.Stitch.QueryMaxAttempts

	traverser := service.NewThreadTraverser(client, service.TraverserConfig{
		PageSize: cfg.Stitch.PageSize,
		MaxPages: cfg.Stitch.MaxPages,
		Retry:    queryRetry,
	}, logger)

	dl := downloader.NewHTTPDownloader(cfg.Download, osFs)
	dl.SetLogger(logger)
	pool := worker.NewPool(worker.Config{Workers: cfg.Stitch.Concurrency}, logger)
	fetcher := service.NewSegmentFetcher(dl, pool, logger)

	concat, err := ffmpeg.NewConcatenator(ffmpeg.ConcatConfig{
		FFmpegPath:  cfg.Stitch.FFmpegPath,
		ManifestDir: cfg.Stitch.ScratchDir,
	}, osFs, logger)
	if err != nil {
		return nil, err
	}

	return service.NewPipeline(traverser, fetcher, concat, osFs, service.PipelineConfig{
		Order:        cfg.Stitch.Order,
		ScratchDir:   cfg.Stitch.ScratchDir,
		MinFreeBytes: uint64(cfg.Stitch.MinFree),
	}, logger), nil
}

func printHistory(ctx context.Context, w io.Writer, runs repository.RunRepository, n int) error {
	recent, err := runs.Recent(ctx, n)
	if err != nil {
		return err
	}
	if len(recent) == 0 {
		fmt.Fprintln(w, "No runs recorded")
		return nil
	}
	for _, r := range recent {
		line := fmt.Sprintf("%s  %s  %-6s  %-15s  %s",
			r.StartedAt.Local().Format("2006-01-02 15:04:05"),
			r.ID, r.State, r.Stage, humanize.Time(r.StartedAt))
		if r.State == domain.RunStateDone {
			line += fmt.Sprintf("  %d segments -> %s", r.Segments, r.Output)
		} else if r.LastError != "" {
			line += "  " + r.LastError
		}
		fmt.Fprintf(w, "%s\n    %s\n", line, r.Ref)
	}
	return nil
}

func printRun(ctx context.Context, w io.Writer, runs repository.RunRepository, id domain.RunID) error {
	r, err := runs.Get(ctx, id)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Run:       %s\n", r.ID)
	fmt.Fprintf(w, "Ref:       %s\n", r.Ref)
	fmt.Fprintf(w, "State:     %s (stage %s)\n", r.State, r.Stage)
	fmt.Fprintf(w, "Started:   %s (%s)\n", r.StartedAt.Local().Format("2006-01-02 15:04:05"), humanize.Time(r.StartedAt))
	if r.Terminal() {
		fmt.Fprintf(w, "Elapsed:   %s\n", r.Elapsed().Round(time.Millisecond))
	}
	fmt.Fprintf(w, "Output:    %s\n", r.Output)
	fmt.Fprintf(w, "Pages:     %d\n", r.Pages)
	fmt.Fprintf(w, "Segments:  %d\n", r.Segments)
	if r.LastError != "" {
		fmt.Fprintf(w, "Error:     %s\n", r.LastError)
	}
	return nil
}

// newLogger builds a text logger for terminals and a JSON logger otherwise,
// unless the format is set explicitly.
func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	format := strings.ToLower(cfg.Format)
	if format == "" || format == "auto" {
		format = "json"
		if term.IsTerminal(int(os.Stderr.Fd())) {
			format = "text"
		}
	}

	if format == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
