package worker

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/foxzi/adcraft/internal/campaign"
	"github.com/foxzi/adcraft/internal/models"
	"github.com/foxzi/adcraft/internal/notify"
	"github.com/foxzi/adcraft/internal/repository"
	"github.com/foxzi/adcraft/internal/storage"
)

// Worker runs queued generation jobs in the background
type Worker struct {
	logger    *slog.Logger
	jobs      *repository.JobRepository
	generator *campaign.Generator
	publisher storage.Publisher
	notifier  notify.Notifier

	pollInterval    time.Duration
	concurrency     int
	outputMaxAge    time.Duration
	cleanupInterval time.Duration

	slots chan struct{}
	wake  chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Config holds worker configuration
type Config struct {
	PollInterval time.Duration
	Concurrency  int
	// OutputMaxAge removes finished jobs and their output after this age (0 = keep)
	OutputMaxAge    time.Duration
	CleanupInterval time.Duration
}

// DefaultConfig returns default worker configuration
func DefaultConfig() Config {
	return Config{
		PollInterval:    2 * time.Second,
		Concurrency:     2,
		CleanupInterval: time.Hour,
	}
}

// New creates a worker. publisher may be nil; notifier nil means no notifications.
// The worker installs its own progress hooks on the generator.
func New(db *sql.DB, generator *campaign.Generator, publisher storage.Publisher, notifier notify.Notifier, logger *slog.Logger, cfg Config) *Worker {
	def := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = def.CleanupInterval
	}
	if notifier == nil {
		notifier = notify.Noop{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		logger:          logger.With("component", "worker"),
		jobs:            repository.NewJobRepository(db),
		generator:       generator,
		publisher:       publisher,
		notifier:        notifier,
		pollInterval:    cfg.PollInterval,
		concurrency:     cfg.Concurrency,
		outputMaxAge:    cfg.OutputMaxAge,
		cleanupInterval: cfg.CleanupInterval,
		slots:           make(chan struct{}, cfg.Concurrency),
		wake:            make(chan struct{}, 1),
		ctx:             ctx,
		cancel:          cancel,
	}
	generator.OnStart = w.saveAssets
	generator.OnAssetDone = w.saveProgress
	return w
}

// Start fails jobs interrupted by a previous run and starts polling
func (w *Worker) Start() {
	if n, err := w.jobs.FailInterrupted(); err != nil {
		w.logger.Error("failed to mark interrupted jobs", "error", err)
	} else if n > 0 {
		w.logger.Warn("marked interrupted jobs as failed", "count", n)
	}

	w.wg.Add(1)
	go w.run()
	w.logger.Info("worker started", "poll_interval", w.pollInterval, "concurrency", w.concurrency)
}

// Stop cancels running jobs and waits for them to be recorded
func (w *Worker) Stop() {
	w.logger.Info("stopping worker...")
	w.cancel()
	w.wg.Wait()
	w.logger.Info("worker stopped")
}

// Wake asks the worker to poll now instead of waiting for the next tick
func (w *Worker) Wake() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *Worker) run() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	cleanup := time.NewTicker(w.cleanupInterval)
	defer cleanup.Stop()

	w.processJobs()
	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.processJobs()
		case <-w.wake:
			w.processJobs()
		case <-cleanup.C:
			w.cleanup()
		}
	}
}

func (w *Worker) processJobs() {
	free := w.concurrency - len(w.slots)
	if free <= 0 {
		return
	}

	jobs, err := w.jobs.GetQueued(free)
	if err != nil {
		w.logger.Error("failed to get queued jobs", "error", err)
		return
	}

	for i := range jobs {
		job := jobs[i]
		claimed, err := w.jobs.MarkRunning(job.ID)
		if err != nil {
			w.logger.Error("failed to claim job", "job_id", job.ID, "error", err)
			continue
		}
		if !claimed {
			continue
		}

		select {
		case w.slots <- struct{}{}:
		case <-w.ctx.Done():
			return
		}
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			defer func() { <-w.slots }()
			w.processJob(&job)
		}()
	}
}

// processJob runs a claimed job to completion and records the outcome
func (w *Worker) processJob(job *models.GenerationJob) {
	logger := w.logger.With("job_id", job.ID, "campaign_id", job.CampaignID)

	if job.Campaign == nil {
		w.failJob(job, errors.New("job has no campaign snapshot"))
		return
	}

	if err := w.generator.Run(w.ctx, job); err != nil {
		logger.Error("generation could not start", "error", err)
		w.failJob(job, err)
		return
	}

	if job.ZipPath != "" && w.publisher != nil {
		w.publish(job, logger)
	}

	if err := w.jobs.Finish(job); err != nil {
		logger.Error("failed to record job result", "error", err)
	}

	// notifications outlive worker cancellation so shutdown still reports the result
	ctx, cancel := context.WithTimeout(context.WithoutCancel(w.ctx), 30*time.Second)
	defer cancel()
	if err := w.notifier.JobFinished(ctx, job); err != nil {
		logger.Warn("failed to send job notification", "error", err)
	}
}

func (w *Worker) publish(job *models.GenerationJob, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(w.ctx), 5*time.Minute)
	defer cancel()

	object := path.Join(job.CampaignID, job.ID, filepath.Base(job.ZipPath))
	pub, err := w.publisher.Publish(ctx, job.ZipPath, object)
	if err != nil {
		logger.Warn("failed to publish archive", "error", err)
		return
	}
	job.ArchiveObject = pub.Object
	job.ArchiveURL = pub.URL
}

func (w *Worker) failJob(job *models.GenerationJob, err error) {
	now := time.Now()
	job.Status = models.JobFailed
	job.Error = err.Error()
	job.CompletedAt = &now
	if ferr := w.jobs.Finish(job); ferr != nil {
		w.logger.Error("failed to record job failure", "job_id", job.ID, "error", ferr)
	}
}

func (w *Worker) saveAssets(job *models.GenerationJob) {
	if err := w.jobs.SaveAssets(job); err != nil {
		w.logger.Error("failed to save job assets", "job_id", job.ID, "error", err)
	}
}

func (w *Worker) saveProgress(job *models.GenerationJob, asset *models.CampaignAsset) {
	if err := w.jobs.SaveProgress(job, asset); err != nil {
		w.logger.Error("failed to save job progress", "job_id", job.ID, "asset_id", asset.ID, "error", err)
	}
}

// cleanup deletes finished jobs older than the output max age along with their files
func (w *Worker) cleanup() {
	if w.outputMaxAge <= 0 {
		return
	}
	removed, err := CleanupOutput(w.jobs, time.Now().Add(-w.outputMaxAge), false)
	if err != nil {
		w.logger.Error("output cleanup failed", "error", err)
		return
	}
	if removed > 0 {
		w.logger.Info("removed old job output", "jobs", removed)
	}
}

// CleanupOutput deletes finished jobs completed before cutoff and their output directories.
// With dryRun set nothing is deleted and the number of matching jobs is returned.
func CleanupOutput(jobs *repository.JobRepository, cutoff time.Time, dryRun bool) (int, error) {
	if dryRun {
		finished, _, err := jobs.List(models.JobListFilter{})
		if err != nil {
			return 0, err
		}
		n := 0
		for _, j := range finished {
			if j.Finished() && j.CompletedAt != nil && j.CompletedAt.Before(cutoff) {
				n++
			}
		}
		return n, nil
	}

	deleted, err := jobs.DeleteFinishedBefore(cutoff)
	if err != nil {
		return 0, err
	}
	var errs []error
	for _, j := range deleted {
		if j.OutputDir == "" {
			continue
		}
		if err := os.RemoveAll(j.OutputDir); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", j.OutputDir, err))
		}
	}
	return len(deleted), errors.Join(errs...)
}
