// Package daemon runs the background job system: a polling worker pool
// that claims queued jobs under global and per-repo concurrency caps,
// heartbeats its liveness, reaps jobs orphaned by dead instances, and
// expires old queue rows.
package daemon

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/robomonkey/robomonkey/internal/config"
	"github.com/robomonkey/robomonkey/internal/rmerr"
	"github.com/robomonkey/robomonkey/internal/store"
)

// cleanupInterval spaces out retention sweeps.
const cleanupInterval = time.Hour

// Queue is the control-schema surface the daemon needs.
type Queue interface {
	Claim(ctx context.Context, instanceID string, excludeRepos []string) (*store.Job, error)
	ClaimedCountByRepo(ctx context.Context) (map[string]int, error)
	Complete(ctx context.Context, jobID int64, instanceID string) error
	Fail(ctx context.Context, jobID int64, instanceID string, jobErr error) error
	ReapDead(ctx context.Context, threshold time.Duration) (int, error)
	Cleanup(ctx context.Context, retention time.Duration) (int, error)
	RegisterInstance(ctx context.Context, instanceID, hostname string, pid int) error
	Heartbeat(ctx context.Context, instanceID string) error
	SetInstanceStatus(ctx context.Context, instanceID, status string) error
}

// Handler executes one job type.
type Handler func(ctx context.Context, job *store.Job) error

// Daemon is one worker-pool instance.
type Daemon struct {
	queue      Queue
	cfg        config.DaemonConfig
	instanceID string
	handlers   map[store.JobType]Handler
	log        *slog.Logger

	global *semaphore.Weighted

	mu      sync.Mutex
	perRepo map[string]int

	wg sync.WaitGroup
}

// New builds a daemon with a fresh instance identity.
func New(q Queue, cfg config.DaemonConfig, log *slog.Logger) *Daemon {
	return &Daemon{
		queue:      q,
		cfg:        cfg,
		instanceID: uuid.NewString(),
		handlers:   make(map[store.JobType]Handler),
		log:        log,
		global:     semaphore.NewWeighted(int64(cfg.GlobalMaxConcurrent)),
		perRepo:    make(map[string]int),
	}
}

// InstanceID returns this daemon's identity as recorded in the store.
func (d *Daemon) InstanceID() string { return d.instanceID }

// Register binds a handler to a job type. Must be called before Run.
func (d *Daemon) Register(jt store.JobType, h Handler) {
	d.handlers[jt] = h
}

// Run polls and dispatches until ctx is cancelled, then drains running
// jobs before returning.
func (d *Daemon) Run(ctx context.Context) error {
	hostname, _ := os.Hostname()
	if err := d.queue.RegisterInstance(ctx, d.instanceID, hostname, os.Getpid()); err != nil {
		return err
	}
	d.log.Info("daemon started",
		slog.String("instance_id", d.instanceID),
		slog.Int("global_max", d.cfg.GlobalMaxConcurrent),
		slog.Int("per_repo_max", d.cfg.MaxConcurrentPerRepo))

	poll := time.NewTicker(time.Duration(d.cfg.PollIntervalSec) * time.Second)
	heartbeat := time.NewTicker(time.Duration(d.cfg.HeartbeatIntervalSec) * time.Second)
	cleanup := time.NewTicker(cleanupInterval)
	defer poll.Stop()
	defer heartbeat.Stop()
	defer cleanup.Stop()

	// Claim eagerly on startup rather than waiting a full poll interval.
	d.drainQueue(ctx)

	for {
		select {
		case <-ctx.Done():
			return d.shutdown()
		case <-poll.C:
			d.drainQueue(ctx)
		case <-heartbeat.C:
			if err := d.queue.Heartbeat(ctx, d.instanceID); err != nil {
				d.log.Warn("heartbeat failed", slog.String("error", err.Error()))
			}
			d.reap(ctx)
		case <-cleanup.C:
			retention := time.Duration(d.cfg.RetentionDays) * 24 * time.Hour
			if n, err := d.queue.Cleanup(ctx, retention); err != nil {
				d.log.Warn("queue cleanup failed", slog.String("error", err.Error()))
			} else if n > 0 {
				d.log.Info("queue cleanup", slog.Int("removed", n))
			}
		}
	}
}

// shutdown transitions the instance through STOPPING while running
// jobs drain, then marks it STOPPED.
func (d *Daemon) shutdown() error {
	// The run context is gone; shutdown bookkeeping gets its own.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := d.queue.SetInstanceStatus(ctx, d.instanceID, "STOPPING"); err != nil {
		d.log.Warn("set STOPPING failed", slog.String("error", err.Error()))
	}
	d.wg.Wait()
	if err := d.queue.SetInstanceStatus(ctx, d.instanceID, "STOPPED"); err != nil {
		d.log.Warn("set STOPPED failed", slog.String("error", err.Error()))
	}
	d.log.Info("daemon stopped", slog.String("instance_id", d.instanceID))
	return nil
}

// drainQueue claims runnable jobs until the queue is empty or all
// worker slots are busy.
func (d *Daemon) drainQueue(ctx context.Context) {
	for {
		if !d.global.TryAcquire(1) {
			return
		}

		job, err := d.queue.Claim(ctx, d.instanceID, d.reposAtCap(ctx))
		if err != nil {
			d.global.Release(1)
			if !rmerr.IsNotFound(err) {
				d.log.Warn("claim failed", slog.String("error", err.Error()))
			}
			return
		}

		d.trackRepo(job.RepoName, 1)
		d.wg.Add(1)
		go d.work(ctx, job)
	}
}

// work runs one claimed job and records its outcome.
func (d *Daemon) work(ctx context.Context, job *store.Job) {
	defer d.wg.Done()
	defer d.global.Release(1)
	defer d.trackRepo(job.RepoName, -1)

	jobsActive.Inc()
	defer jobsActive.Dec()

	log := d.log.With(
		slog.Int64("job_id", job.ID),
		slog.String("job_type", string(job.Type)),
		slog.String("repo", job.RepoName),
		slog.Int("attempt", job.Attempts))
	log.Info("job started")
	start := time.Now()

	err := d.dispatch(ctx, job)
	jobDuration.WithLabelValues(string(job.Type)).Observe(time.Since(start).Seconds())

	// Outcome writes must land even when the run context is cancelled.
	doneCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err != nil {
		jobsProcessed.WithLabelValues(string(job.Type), "failed").Inc()
		log.Warn("job failed",
			slog.String("error", err.Error()),
			slog.Bool("retryable", rmerr.IsRetryable(err)),
			slog.Duration("took", time.Since(start)))
		if ferr := d.queue.Fail(doneCtx, job.ID, d.instanceID, err); ferr != nil {
			log.Warn("recording failure failed", slog.String("error", ferr.Error()))
		}
		return
	}

	jobsProcessed.WithLabelValues(string(job.Type), "done").Inc()
	log.Info("job done", slog.Duration("took", time.Since(start)))
	if cerr := d.queue.Complete(doneCtx, job.ID, d.instanceID); cerr != nil {
		log.Warn("recording completion failed", slog.String("error", cerr.Error()))
	}
}

func (d *Daemon) dispatch(ctx context.Context, job *store.Job) (err error) {
	h, ok := d.handlers[job.Type]
	if !ok {
		return rmerr.New(rmerr.KindValidation, "no handler for job type %s", job.Type)
	}
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("job handler panicked",
				slog.Int64("job_id", job.ID), slog.Any("panic", r))
			err = rmerr.New(rmerr.KindInternal, "handler panic: %v", r)
		}
	}()
	return h(ctx, job)
}

// reposAtCap lists repos with no claim headroom, excluded from the
// next claim. Jobs running in this instance and CLAIMED rows held by
// other instances both count toward the per-repo limit.
func (d *Daemon) reposAtCap(ctx context.Context) []string {
	atCap := make(map[string]bool)
	d.mu.Lock()
	for repo, n := range d.perRepo {
		if n >= d.cfg.MaxConcurrentPerRepo {
			atCap[repo] = true
		}
	}
	d.mu.Unlock()

	counts, err := d.queue.ClaimedCountByRepo(ctx)
	if err != nil {
		d.log.Warn("claimed counts unavailable", slog.String("error", err.Error()))
	}
	for repo, n := range counts {
		if n >= d.cfg.MaxConcurrentPerRepo {
			atCap[repo] = true
		}
	}

	out := make([]string, 0, len(atCap))
	for repo := range atCap {
		out = append(out, repo)
	}
	return out
}

func (d *Daemon) trackRepo(repo string, delta int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.perRepo[repo] += delta
	if d.perRepo[repo] <= 0 {
		delete(d.perRepo, repo)
	}
}

func (d *Daemon) reap(ctx context.Context) {
	threshold := time.Duration(d.cfg.DeadThresholdSec) * time.Second
	n, err := d.queue.ReapDead(ctx, threshold)
	if err != nil {
		d.log.Warn("reap failed", slog.String("error", err.Error()))
		return
	}
	if n > 0 {
		jobsReaped.Add(float64(n))
		d.log.Info("reaped orphaned jobs", slog.Int("count", n))
	}
}

// Status summarizes the daemon for the control API.
type Status struct {
	InstanceID  string `json:"instance_id"`
	ActiveJobs  int    `json:"active_jobs"`
	GlobalLimit int    `json:"global_limit"`
	PerRepo     int    `json:"per_repo_limit"`
}

// CurrentStatus reports live worker occupancy.
func (d *Daemon) CurrentStatus() Status {
	d.mu.Lock()
	active := 0
	for _, n := range d.perRepo {
		active += n
	}
	d.mu.Unlock()
	return Status{
		InstanceID:  d.instanceID,
		ActiveJobs:  active,
		GlobalLimit: d.cfg.GlobalMaxConcurrent,
		PerRepo:     d.cfg.MaxConcurrentPerRepo,
	}
}
