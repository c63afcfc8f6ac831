package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"hls2mp4/internal/assemble"
	"hls2mp4/internal/config"
	"hls2mp4/internal/decrypt"
	"hls2mp4/internal/fetch"
	"hls2mp4/internal/fileutil"
	"hls2mp4/internal/history"
	"hls2mp4/internal/keys"
	"hls2mp4/internal/logging"
	"hls2mp4/internal/notifications"
	"hls2mp4/internal/playlist"
	"hls2mp4/internal/progress"
	"hls2mp4/internal/services"
	"hls2mp4/internal/services/ffmpeg"
	"hls2mp4/internal/transcode"
)

// Phase names used for progress events and log context.
const (
	PhaseResolve   = "resolve"
	PhaseFetch     = "fetch"
	PhaseAssemble  = "assemble"
	PhaseTranscode = "transcode"
)

// Result summarizes a completed run.
type Result struct {
	RunID      string
	Output     string
	MergedPath string
	Segments   int
	Bytes      int64
	Backend    string
	Duration   time.Duration
}

// Runner executes the download pipeline: resolve, fetch and decrypt,
// assemble, transcode.
type Runner struct {
	cfg      *config.Config
	logger   *slog.Logger
	notifier notifications.Service
	journal  *history.Store
}

// NewRunner wires a Runner from configuration. The run journal is opened
// only when history is enabled; a journal failure is fatal here rather than
// silently dropping records.
func NewRunner(cfg *config.Config, logger *slog.Logger) (*Runner, error) {
	r := &Runner{
		cfg:      cfg,
		logger:   logging.WithComponent(logger, "workflow"),
		notifier: notifications.NewService(cfg),
	}
	if cfg.History.Enabled {
		path, err := config.ExpandPath(cfg.History.Path)
		if err != nil {
			return nil, services.Wrap(services.ErrConfiguration, "workflow", "history", cfg.History.Path, err)
		}
		store, err := history.Open(path)
		if err != nil {
			return nil, services.Wrap(services.ErrConfiguration, "workflow", "history", path, err)
		}
		r.journal = store
	}
	return r, nil
}

// Close releases the run journal.
func (r *Runner) Close() error {
	return r.journal.Close()
}

// Run executes one download. The emitter receives phase events and exactly
// one terminal event; a nil emitter is replaced with a drained one.
func (r *Runner) Run(ctx context.Context, req Request, emitter *progress.Emitter) (*Result, error) {
	if emitter == nil {
		emitter = progress.NewEmitter()
		go func() {
			for range emitter.Events() {
			}
		}()
	}

	result, err := r.run(ctx, req, emitter)
	if err != nil {
		emitter.Fail(services.Category(err), err)
		if notifyErr := r.notifier.NotifyRunFailed(ctx, req.Source, err); notifyErr != nil {
			r.logger.Warn("failure notification", logging.Error(notifyErr))
		}
		return nil, err
	}

	emitter.Done(PhaseTranscode, fmt.Sprintf("saved %s", result.Output))
	if notifyErr := r.notifier.NotifyRunCompleted(ctx, result.Output, result.Duration); notifyErr != nil {
		r.logger.Warn("completion notification", logging.Error(notifyErr))
	}
	return result, nil
}

func (r *Runner) run(ctx context.Context, req Request, emitter *progress.Emitter) (*Result, error) {
	started := time.Now()
	if err := req.normalize(r.cfg); err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	logger := r.logger.With(logging.String(logging.FieldRunID, runID))
	ctx = logging.WithRunID(ctx, runID)

	runDir, unlock, err := r.prepareStaging(runID)
	if err != nil {
		return nil, err
	}
	defer unlock()
	defer func() {
		if !req.KeepIntermediate {
			if removeErr := os.RemoveAll(runDir); removeErr != nil {
				logger.Warn("staging cleanup", logging.Error(removeErr))
			}
		}
	}()

	client := fetch.NewClient(r.cfg.HTTP.UserAgent, r.cfg.HTTP.Referer,
		time.Duration(r.cfg.HTTP.RequestTimeout)*time.Second)

	emitter.Emit(PhaseResolve, "resolving playlist", 0)
	resolved, err := playlist.NewResolver(client).Resolve(ctx, req.Source)
	if err != nil {
		return nil, err
	}
	media := resolved.Media
	if v := resolved.Variant; v != nil {
		logger.Info("variant selected",
			logging.Int("variants", resolved.VariantCount),
			logging.Int64("bandwidth", int64(v.Bandwidth)),
			logging.String("resolution", v.Resolution))
		emitter.Emit(PhaseResolve,
			fmt.Sprintf("selected %d bps variant (%d available)", v.Bandwidth, resolved.VariantCount), 0.5)
	}
	total := len(media.Segments)
	emitter.Emit(PhaseResolve, fmt.Sprintf("%d segments", total), 1)

	transform, err := r.buildTransform(ctx, client, media, logger)
	if err != nil {
		return nil, err
	}

	if r.journal != nil {
		if journalErr := r.journal.RecordStart(ctx, runID, req.Source, req.Output, total); journalErr != nil {
			logger.Warn("history record", logging.Error(journalErr))
		}
	}
	result, err := r.download(ctx, req, runDir, media, transform, client, emitter, logger)
	if r.journal != nil {
		outcome := history.Outcome{Status: history.StatusCompleted}
		if err != nil {
			outcome.Status = history.StatusFailed
			outcome.Error = err.Error()
		} else {
			outcome.Bytes = result.Bytes
			outcome.Backend = result.Backend
		}
		if journalErr := r.journal.RecordFinish(ctx, runID, outcome); journalErr != nil {
			logger.Warn("history record", logging.Error(journalErr))
		}
	}
	if err != nil {
		return nil, err
	}

	result.RunID = runID
	result.Segments = total
	result.Duration = time.Since(started)
	if req.KeepIntermediate {
		result.MergedPath = filepath.Join(runDir, "merged.ts")
	}
	logger.Info("run complete",
		logging.String("output", result.Output),
		logging.Int("segments", result.Segments),
		logging.Int64("bytes", result.Bytes),
		logging.String("backend", result.Backend),
		logging.Duration("elapsed", result.Duration))
	return result, nil
}

// download runs fetch, assembly and transcode for an already resolved
// playlist, returning a partially filled Result.
func (r *Runner) download(
	ctx context.Context,
	req Request,
	runDir string,
	media *playlist.Media,
	transform fetch.Transform,
	client *http.Client,
	emitter *progress.Emitter,
	logger *slog.Logger,
) (*Result, error) {
	total := len(media.Segments)

	scheduler, err := fetch.NewScheduler(fetch.Options{
		Client:      client,
		Concurrency: req.Concurrency,
		Retries:     req.Retries,
		RetryDelay:  retryDelay(r.cfg),
		Transform:   transform,
		Logger:      logger,
		OnComplete: func(completed, total int) {
			emitter.Emit(PhaseFetch,
				fmt.Sprintf("%d/%d segments", completed, total),
				float64(completed)/float64(total))
		},
	})
	if err != nil {
		return nil, err
	}

	mergedPath := filepath.Join(runDir, "merged.ts")
	assembler, err := assemble.New(mergedPath, total, logger)
	if err != nil {
		return nil, err
	}

	fetchCtx, cancelFetch := context.WithCancel(ctx)
	defer cancelFetch()

	results := make(chan fetch.Result, req.Concurrency)
	fetchErr := make(chan error, 1)
	go func() {
		fetchErr <- scheduler.Run(fetchCtx, media.Segments, results)
		close(results)
	}()

	emitter.Emit(PhaseFetch, fmt.Sprintf("downloading %d segments", total), 0)
	bytes, assembleErr := assembler.Consume(results)
	if assembleErr != nil {
		// Consume stopped reading; release any workers parked on the
		// results channel so the scheduler can wind down.
		cancelFetch()
	}
	schedulerErr := <-fetchErr

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	// The scheduler error names the root cause; the assembler only sees a
	// truncated stream when fetching aborted. A bare cancellation is our
	// own shutdown after an assembly failure.
	if schedulerErr != nil && !errors.Is(schedulerErr, context.Canceled) {
		return nil, schedulerErr
	}
	if assembleErr != nil {
		return nil, assembleErr
	}
	if schedulerErr != nil {
		return nil, schedulerErr
	}
	emitter.Emit(PhaseAssemble, fmt.Sprintf("merged %d segments", total), 1)

	backend, err := transcode.Select(ctx, ffmpeg.NewCLI(ffmpeg.WithBinary(r.cfg.Transcode.FFmpegBinary)), logger)
	if err != nil {
		return nil, err
	}

	videoBitrate := req.VideoBitrate
	if videoBitrate == 0 {
		videoBitrate = r.cfg.Transcode.VideoBitrate
	}
	audioBitrate := req.AudioBitrate
	if audioBitrate == 0 {
		audioBitrate = r.cfg.Transcode.AudioBitrate
	}

	emitter.Emit(PhaseTranscode, fmt.Sprintf("transcoding via %s", backend.Name()), 0)
	if err := os.MkdirAll(filepath.Dir(req.Output), 0o755); err != nil {
		return nil, services.Wrap(services.ErrTranscode, "transcode", "output",
			fmt.Sprintf("creating %s", filepath.Dir(req.Output)), err)
	}
	job := transcode.Job{
		Input:        mergedPath,
		Output:       req.Output,
		VideoBitrate: videoBitrate,
		AudioBitrate: audioBitrate,
	}
	if err := backend.Transcode(ctx, job); err != nil {
		if removeErr := fileutil.RemoveIfExists(req.Output); removeErr != nil {
			logger.Warn("removing failed output", logging.Error(removeErr))
		}
		return nil, err
	}

	return &Result{Output: req.Output, Bytes: bytes, Backend: backend.Name()}, nil
}

// buildTransform returns the per-segment decryption step, or nil for clear
// content.
func (r *Runner) buildTransform(ctx context.Context, client *http.Client, media *playlist.Media, logger *slog.Logger) (fetch.Transform, error) {
	material, err := keys.NewResolver(client).Resolve(ctx, media)
	if err != nil {
		return nil, err
	}
	if material == nil {
		return nil, nil
	}
	logger.Info("content encrypted", logging.String("key_uri", material.KeyURI))

	decryptor, err := decrypt.New(material.Key)
	if err != nil {
		return nil, err
	}
	return func(seg playlist.Segment, data []byte) ([]byte, error) {
		return decryptor.Decrypt(material.IVFor(seg), data)
	}, nil
}

// prepareStaging picks a writable staging root, locks it against concurrent
// runs, and creates the per-run directory.
func (r *Runner) prepareStaging(runID string) (string, func(), error) {
	configured, err := config.ExpandPath(r.cfg.Paths.StagingDir)
	if err != nil {
		return "", nil, services.Wrap(services.ErrConfiguration, "workflow", "staging", r.cfg.Paths.StagingDir, err)
	}
	root, err := fileutil.FirstWritableDir([]string{configured, os.TempDir(), "."})
	if err != nil {
		return "", nil, services.Wrap(services.ErrConfiguration, "workflow", "staging", "no writable staging directory", err)
	}

	lock := flock.New(filepath.Join(root, ".hls2mp4.lock"))
	ok, err := lock.TryLock()
	if err != nil {
		return "", nil, services.Wrap(services.ErrConfiguration, "workflow", "staging", "acquire lock", err)
	}
	if !ok {
		return "", nil, services.Wrap(services.ErrConfiguration, "workflow", "staging",
			fmt.Sprintf("another run is using %s", root), nil)
	}

	runDir := filepath.Join(root, "run-"+runID)
	if err := fileutil.EnsureDir(runDir); err != nil {
		_ = lock.Unlock()
		return "", nil, services.Wrap(services.ErrConfiguration, "workflow", "staging", runDir, err)
	}
	return runDir, func() { _ = lock.Unlock() }, nil
}
