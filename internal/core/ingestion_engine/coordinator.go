package ingestion_engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/markdave123-py/docindex/internal/core"
	"github.com/markdave123-py/docindex/internal/models"
	"github.com/markdave123-py/docindex/internal/telemetry"
)

// JobCounts is the number of jobs in each state.
type JobCounts struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// JobProgress describes a job that has not finished yet.
type JobProgress struct {
	DocumentID string `json:"documentId"`
	Progress   string `json:"progress"`
}

type CoordinatorOptions struct {
	ScanInterval time.Duration
	JobTimeout   time.Duration
	// MaxFinished caps how many terminal jobs are kept for inspection.
	MaxFinished int
	Metrics     *telemetry.Metrics
	Logger      zerolog.Logger
}

// Coordinator owns the job table. Submit adds pending jobs, a fixed-interval
// scan moves them to processing and runs each in its own goroutine, and the
// terminal outcome is reported to the document registry exactly once.
type Coordinator struct {
	mu    sync.Mutex
	jobs  map[string]*models.IngestJob
	order []string

	ingestor Ingestor
	registry core.DocumentRegistry
	opts     CoordinatorOptions
	log      zerolog.Logger

	scheduler *gocron.Scheduler
	wg        sync.WaitGroup

	// jobCtx outlives the scan loop so Stop can let in-flight jobs finish.
	jobCtx    context.Context
	cancelJob context.CancelFunc
}

func NewCoordinator(ingestor Ingestor, registry core.DocumentRegistry, opts CoordinatorOptions) *Coordinator {
	if opts.ScanInterval <= 0 {
		opts.ScanInterval = 2 * time.Second
	}
	if opts.MaxFinished <= 0 {
		opts.MaxFinished = 1000
	}
	jobCtx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		jobs:      make(map[string]*models.IngestJob),
		ingestor:  ingestor,
		registry:  registry,
		opts:      opts,
		log:       opts.Logger,
		jobCtx:    jobCtx,
		cancelJob: cancel,
	}
}

// Submit registers a pending job. A document can have at most one pending or
// processing job at a time.
func (c *Coordinator) Submit(documentID, blobKey string) (models.IngestJob, error) {
	documentID = strings.TrimSpace(documentID)
	blobKey = strings.TrimSpace(blobKey)
	if documentID == "" || blobKey == "" {
		return models.IngestJob{}, fmt.Errorf("%w: documentId and blobKey are required", core.ErrInvalidRequest)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, j := range c.jobs {
		if j.DocumentID == documentID && !j.State.Terminal() {
			return *j, fmt.Errorf("%w: %s (%s)", core.ErrJobActive, j.ID, j.State)
		}
	}

	job := &models.IngestJob{
		ID:         "job_" + uuid.NewString(),
		DocumentID: documentID,
		BlobKey:    blobKey,
		State:      models.JobPending,
		Progress:   "Queued",
		CreatedAt:  time.Now().UTC(),
	}
	c.jobs[job.ID] = job
	c.order = append(c.order, job.ID)

	c.log.Info().Str("job_id", job.ID).Str("document_id", documentID).Msg("job queued")
	return *job, nil
}

// Scan starts every pending job and returns how many it started. The
// pending-to-processing move happens under the lock, so overlapping scans never
// pick up the same job twice.
func (c *Coordinator) Scan(ctx context.Context) int {
	now := time.Now().UTC()

	c.mu.Lock()
	var picked []models.IngestJob
	for _, id := range c.order {
		j := c.jobs[id]
		if !j.State.CanTransition(models.JobProcessing) {
			continue
		}
		j.State = models.JobProcessing
		j.StartedAt = &now
		j.Progress = "Starting..."
		picked = append(picked, *j)
	}
	c.mu.Unlock()

	for _, job := range picked {
		c.wg.Add(1)
		go c.run(ctx, job)
	}
	if len(picked) > 0 {
		c.log.Debug().Int("jobs", len(picked)).Msg("scan started jobs")
	}
	return len(picked)
}

// Start runs Scan every ScanInterval until ctx is done or Stop is called.
func (c *Coordinator) Start(ctx context.Context) error {
	s := gocron.NewScheduler(time.UTC)
	_, err := s.Every(c.opts.ScanInterval).SingletonMode().Do(func() {
		c.Scan(c.jobCtx)
	})
	if err != nil {
		return fmt.Errorf("schedule scan: %w", err)
	}
	c.scheduler = s
	s.StartAsync()

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	c.log.Info().Dur("interval", c.opts.ScanInterval).Msg("coordinator started")
	return nil
}

// Stop halts scanning and waits for in-flight jobs. If ctx expires first the
// remaining jobs are cancelled and fail.
func (c *Coordinator) Stop(ctx context.Context) error {
	if c.scheduler != nil {
		c.scheduler.Stop()
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.cancelJob()
		return nil
	case <-ctx.Done():
		c.cancelJob()
		<-done
		return ctx.Err()
	}
}

func (c *Coordinator) run(ctx context.Context, job models.IngestJob) {
	defer c.wg.Done()
	start := time.Now()

	var (
		res *Result
		err error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("pipeline panic: %v", r)
				c.log.Error().Str("job_id", job.ID).Str("stack", string(debug.Stack())).Msg("recovered panic")
			}
		}()

		runCtx := ctx
		if c.opts.JobTimeout > 0 {
			var cancel context.CancelFunc
			runCtx, cancel = context.WithTimeout(ctx, c.opts.JobTimeout)
			defer cancel()
		}
		res, err = c.ingestor.Run(runCtx, job, func(phase string) { c.setProgress(job.ID, phase) })
	}()

	c.finish(ctx, job, res, err, time.Since(start))
}

func (c *Coordinator) setProgress(jobID, phase string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if j, ok := c.jobs[jobID]; ok && j.State == models.JobProcessing {
		j.Progress = phase
	}
}

func (c *Coordinator) finish(ctx context.Context, job models.IngestJob, res *Result, runErr error, took time.Duration) {
	now := time.Now().UTC()
	secs := took.Seconds()
	if runErr == nil && res == nil {
		runErr = fmt.Errorf("pipeline returned no result")
	}

	next := models.JobCompleted
	if runErr != nil {
		next = models.JobFailed
	}

	c.mu.Lock()
	j, ok := c.jobs[job.ID]
	if !ok || !j.State.CanTransition(next) {
		c.mu.Unlock()
		return
	}
	j.State = next
	j.FinishedAt = &now
	if runErr == nil {
		j.PageCount = res.PageCount
		j.ChunkCount = res.ChunkCount
		j.Progress = fmt.Sprintf("Ready! Processed in %.1fs", secs)
	} else {
		j.Error = runErr.Error()
		j.FailureKind = core.KindOf(runErr).String()
		j.Progress = "Failed: " + runErr.Error()
	}
	snap := *j
	c.evictFinishedLocked()
	c.mu.Unlock()

	logger := c.log.With().Str("job_id", snap.ID).Str("document_id", snap.DocumentID).Dur("duration", took).Logger()
	status := models.DocumentReady
	if snap.State == models.JobFailed {
		status = models.DocumentFailed
		logger.Error().Str("kind", snap.FailureKind).Str("error", snap.Error).Msg("job failed")
	} else {
		logger.Info().Int("pages", snap.PageCount).Int("chunks", snap.ChunkCount).Msg("job completed")
	}
	c.opts.Metrics.RecordJob(ctx, string(snap.State), secs)

	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := c.registry.ReportStatus(rctx, snap.DocumentID, status, snap.PageCount, snap.Error); err != nil {
		logger.Error().Err(err).Str("status", string(status)).Msg("status report failed")
	}
}

// evictFinishedLocked drops the oldest terminal jobs beyond MaxFinished.
func (c *Coordinator) evictFinishedLocked() {
	finished := 0
	for _, id := range c.order {
		if c.jobs[id].State.Terminal() {
			finished++
		}
	}
	if finished <= c.opts.MaxFinished {
		return
	}
	drop := finished - c.opts.MaxFinished
	kept := c.order[:0]
	for _, id := range c.order {
		if drop > 0 && c.jobs[id].State.Terminal() {
			delete(c.jobs, id)
			drop--
			continue
		}
		kept = append(kept, id)
	}
	c.order = kept
}

// Job returns a snapshot of one job.
func (c *Coordinator) Job(id string) (models.IngestJob, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	j, ok := c.jobs[id]
	if !ok {
		return models.IngestJob{}, core.ErrJobNotFound
	}
	return *j, nil
}

// Jobs returns snapshots of all known jobs in submission order.
func (c *Coordinator) Jobs() []models.IngestJob {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.IngestJob, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, *c.jobs[id])
	}
	return out
}

// Outstanding lists pending and processing jobs with their current phase.
func (c *Coordinator) Outstanding() []JobProgress {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []JobProgress
	for _, id := range c.order {
		j := c.jobs[id]
		if !j.State.Terminal() {
			out = append(out, JobProgress{DocumentID: j.DocumentID, Progress: j.Progress})
		}
	}
	return out
}

func (c *Coordinator) Counts() JobCounts {
	c.mu.Lock()
	defer c.mu.Unlock()
	var n JobCounts
	for _, j := range c.jobs {
		switch j.State {
		case models.JobPending:
			n.Pending++
		case models.JobProcessing:
			n.Processing++
		case models.JobCompleted:
			n.Completed++
		case models.JobFailed:
			n.Failed++
		}
	}
	return n
}
