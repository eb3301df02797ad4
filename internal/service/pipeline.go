package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/iconidentify/xstitch/internal/config"
	"github.com/iconidentify/xstitch/internal/domain"
	"github.com/iconidentify/xstitch/pkg/twitter"
)

// Concatenator joins local clips into one output file.
type Concatenator interface {
	Concat(ctx context.Context, paths []string, outputPath string) error
}

// RunRecorder stores finished runs.
type RunRecorder interface {
	Save(ctx context.Context, run *domain.Run) error
}

// PipelineConfig configures a Pipeline.
type PipelineConfig struct {
	Order        string // config.OrderPage or config.OrderTimestamp
	ScratchDir   string // Parent of the per-run scratch directory; empty means OS temp
	MinFreeBytes uint64 // Free space the scratch directory needs before fetching; 0 skips the check
}

// Pipeline stitches a thread's clips into one video:
// resolve, paginate, order, select variants, fetch, concatenate.
type Pipeline struct {
	traverser *ThreadTraverser
	fetcher   *SegmentFetcher
	concat    Concatenator
	fs        afero.Fs
	cfg       PipelineConfig
	recorder  RunRecorder
	logger    *slog.Logger
}

// NewPipeline creates a new pipeline. fs holds the scratch directory and must
// be the filesystem the fetcher's downloader writes to.
func NewPipeline(
	traverser *ThreadTraverser,
	fetcher *SegmentFetcher,
	concat Concatenator,
	fs afero.Fs,
	cfg PipelineConfig,
	logger *slog.Logger,
) *Pipeline {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if cfg.Order == "" {
		cfg.Order = config.OrderPage
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		traverser: traverser,
		fetcher:   fetcher,
		concat:    concat,
		fs:        fs,
		cfg:       cfg,
		logger:    logger,
	}
}

// SetRecorder enables run history. Recording failures are logged, never
// returned.
func (p *Pipeline) SetRecorder(r RunRecorder) {
	p.recorder = r
}

func (p *Pipeline) record(ctx context.Context, run *domain.Run, logger *slog.Logger) {
	if p.recorder == nil {
		return
	}
	// Interrupted runs are still recorded.
	if err := p.recorder.Save(context.WithoutCancel(ctx), run); err != nil {
		logger.Warn("failed to record run", "error", err)
	}
}

// Result describes a successful run.
type Result struct {
	Run      *domain.Run
	Output   string
	Thread   *domain.Thread
	Segments domain.SegmentSet
}

// Run stitches the thread rooted at rootRef (a status URL or post ID) into
// outputPath. Every failure is returned as a *domain.StageError. The scratch
// directory is removed before Run returns, and outputPath is only written
// when every stage succeeds.
func (p *Pipeline) Run(ctx context.Context, rootRef, outputPath string) (*Result, error) {
	run := domain.NewRun(domain.RunID(uuid.NewString()), rootRef)
	run.Output = outputPath
	logger := p.logger.With("run_id", run.ID.String())
	defer p.record(ctx, run, logger)
	fail := func(err error) (*Result, error) {
		var se *domain.StageError
		if !errors.As(err, &se) {
			se = domain.NewStageError(run.Stage, rootRef, err)
		}
		run.Enter(se.Stage)
		run.MarkFailed(se.Error())
		logger.Error("stitch failed",
			"stage", se.Stage.String(),
			"error", se.Err,
			"elapsed", run.Elapsed().Round(time.Millisecond),
		)
		return nil, se
	}

	logger.Info("starting stitch", "ref", rootRef, "output", outputPath)

	run.Enter(domain.StageResolve)
	rootID, err := twitter.ParseTweetRef(rootRef)
	if err != nil {
		return fail(err)
	}

	thread, err := p.traverser.Traverse(ctx, rootID)
	if err != nil {
		return fail(err)
	}
	run.Pages = thread.Pages

	run.Enter(domain.StageOrder)
	segs := OrderSegments(thread.RootMedia, thread.Replies, p.cfg.Order)
	if len(segs) == 0 {
		return fail(domain.ErrNoSegments)
	}
	run.Segments = len(segs)
	if !segs.Chronological() {
		logger.Warn("segments are not in post-time order; output may be shuffled",
			"order", p.cfg.Order,
			"segments", len(segs),
		)
	}

	// Every clip must be downloadable before anything is fetched.
	run.Enter(domain.StageSelectVariants)
	segs, err = SelectVariants(segs)
	if err != nil {
		return fail(err)
	}

	run.Enter(domain.StageFetch)
	scratch, err := afero.TempDir(p.fs, p.cfg.ScratchDir, "xstitch-")
	if err != nil {
		return fail(fmt.Errorf("create scratch dir: %w", err))
	}
	defer func() {
		if err := p.fs.RemoveAll(scratch); err != nil {
			logger.Warn("failed to remove scratch dir", "path", scratch, "error", err)
		}
	}()
	if err := p.checkFreeSpace(scratch, logger); err != nil {
		return fail(err)
	}

	paths, err := p.fetcher.Fetch(ctx, segs.URLs(), scratch)
	if err != nil {
		return fail(err)
	}
	for i := range segs {
		segs[i].LocalPath = paths[i]
	}

	run.Enter(domain.StageConcatenate)
	if err := p.concat.Concat(ctx, segs.Paths(), outputPath); err != nil {
		return fail(err)
	}

	run.MarkDone()
	logger.Info("stitch complete",
		"output", outputPath,
		"segments", len(segs),
		"pages", thread.Pages,
		"elapsed", run.Elapsed().Round(time.Millisecond),
	)

	return &Result{
		Run:      run,
		Output:   outputPath,
		Thread:   thread,
		Segments: segs,
	}, nil
}

// checkFreeSpace fails when dir has less than MinFreeBytes available. A
// filesystem that cannot report its free space is not treated as full.
func (p *Pipeline) checkFreeSpace(dir string, logger *slog.Logger) error {
	if p.cfg.MinFreeBytes == 0 {
		return nil
	}
	free, err := freeDiskSpace(dir)
	if err != nil {
		logger.Warn("cannot determine free space", "path", dir, "error", err)
		return nil
	}
	logger.Debug("scratch dir ready", "path", dir, "free", humanize.IBytes(free))
	if free < p.cfg.MinFreeBytes {
		return fmt.Errorf("%w: %s free under %s, need %s",
			domain.ErrInsufficientSpace, humanize.IBytes(free), dir, humanize.IBytes(p.cfg.MinFreeBytes))
	}
	return nil
}
