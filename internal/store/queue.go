package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/robomonkey/robomonkey/internal/rmerr"
)

// retryBaseDelay is the first retry backoff; each further attempt doubles it.
const retryBaseDelay = 60 * time.Second

// RetryDelay returns the backoff before the next run of a job that has
// failed `attempts` times.
func RetryDelay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	return retryBaseDelay * (1 << (attempts - 1))
}

// EnqueueRequest describes a job to add to the queue.
type EnqueueRequest struct {
	RepoName    string
	SchemaName  string
	Type        JobType
	Payload     []byte
	Priority    int
	MaxAttempts int
	RunAfter    time.Time
	// DedupKey, when non-empty, suppresses the enqueue if an equivalent
	// PENDING or CLAIMED job already exists.
	DedupKey string
}

// Enqueue adds a job. Returns (0, nil) when a dedup key collided with a
// live job, the job id otherwise.
func (p *Pool) Enqueue(ctx context.Context, req EnqueueRequest) (int64, error) {
	if req.MaxAttempts <= 0 {
		req.MaxAttempts = 5
	}
	if req.RunAfter.IsZero() {
		req.RunAfter = time.Now()
	}
	payload := req.Payload
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	var dedup *string
	if req.DedupKey != "" {
		dedup = &req.DedupKey
	}

	var id int64
	err := p.pool.QueryRow(ctx, fmt.Sprintf(`
		INSERT INTO %s.job_queue
			(repo_name, schema_name, job_type, payload, priority, max_attempts, run_after, dedup_key)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (repo_name, job_type, dedup_key)
			WHERE status IN ('PENDING','CLAIMED') AND dedup_key IS NOT NULL
			DO NOTHING
		RETURNING id`, p.controlSchema),
		req.RepoName, req.SchemaName, req.Type, payload,
		req.Priority, req.MaxAttempts, req.RunAfter, dedup).Scan(&id)
	if err == pgx.ErrNoRows {
		// Deduplicated: a live equivalent job already exists.
		return 0, nil
	}
	if err != nil {
		return 0, rmerr.Wrap(rmerr.KindTransientIO, err, "enqueue %s for %s", req.Type, req.RepoName)
	}
	return id, nil
}

// Claim atomically takes the highest-priority runnable job not belonging
// to a repo in excludeRepos, marks it CLAIMED by instanceID, and returns
// it. Returns NotFound when nothing is runnable. Concurrent claimers
// never receive the same job (FOR UPDATE SKIP LOCKED).
func (p *Pool) Claim(ctx context.Context, instanceID string, excludeRepos []string) (*Job, error) {
	if excludeRepos == nil {
		excludeRepos = []string{}
	}
	job := &Job{}
	var (
		errText  *string
		dedupKey *string
	)
	err := p.pool.QueryRow(ctx, fmt.Sprintf(`
		WITH next AS (
			SELECT id FROM %s.job_queue
			WHERE status = 'PENDING'
			  AND run_after <= now()
			  AND NOT (repo_name = ANY($2))
			ORDER BY priority DESC, run_after ASC, created_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		UPDATE %s.job_queue q SET
			status     = 'CLAIMED',
			attempts   = q.attempts + 1,
			claimed_at = now(),
			started_at = now(),
			claimed_by = $1
		FROM next WHERE q.id = next.id
		RETURNING q.id, q.repo_name, q.schema_name, q.job_type, q.payload,
			q.priority, q.status, q.attempts, q.max_attempts, q.run_after,
			q.created_at, q.claimed_by, q.error, q.dedup_key`,
		p.controlSchema, p.controlSchema),
		instanceID, excludeRepos).Scan(
		&job.ID, &job.RepoName, &job.SchemaName, &job.Type, &job.Payload,
		&job.Priority, &job.Status, &job.Attempts, &job.MaxAttempts,
		&job.RunAfter, &job.CreatedAt, &job.ClaimedBy, &errText, &dedupKey)
	if err == pgx.ErrNoRows {
		return nil, rmerr.NotFound("job", "runnable")
	}
	if err != nil {
		return nil, rmerr.Wrap(rmerr.KindTransientIO, err, "claim job")
	}
	if errText != nil {
		job.Error = *errText
	}
	if dedupKey != nil {
		job.DedupKey = *dedupKey
	}
	return job, nil
}

// Complete marks a claimed job DONE. The claimed_by guard prevents a
// worker whose job was reaped from overwriting another worker's claim.
func (p *Pool) Complete(ctx context.Context, jobID int64, instanceID string) error {
	tag, err := p.pool.Exec(ctx, fmt.Sprintf(`
		UPDATE %s.job_queue SET status = 'DONE', completed_at = now(), error = NULL
		WHERE id = $1 AND claimed_by = $2 AND status = 'CLAIMED'`, p.controlSchema),
		jobID, instanceID)
	if err != nil {
		return rmerr.Wrap(rmerr.KindTransientIO, err, "complete job %d", jobID)
	}
	if tag.RowsAffected() == 0 {
		return rmerr.New(rmerr.KindQueueContention, "job %d no longer claimed by %s", jobID, instanceID)
	}
	p.bumpStats(ctx, jobID, true)
	return nil
}

// Fail records a job failure. Transient failures below the attempt
// limit go back to PENDING with exponential backoff; otherwise the job
// lands in FAILED with the error preserved.
func (p *Pool) Fail(ctx context.Context, jobID int64, instanceID string, jobErr error) error {
	msg := ""
	if jobErr != nil {
		msg = jobErr.Error()
	}
	retryable := rmerr.IsRetryable(jobErr)

	var status string
	var runAfter time.Time
	err := p.pool.QueryRow(ctx, fmt.Sprintf(`
		UPDATE %s.job_queue SET
			status = CASE
				WHEN $3 AND attempts < max_attempts THEN 'PENDING'
				ELSE 'FAILED' END,
			run_after = CASE
				WHEN $3 AND attempts < max_attempts
				THEN now() + ($5 * power(2, attempts - 1)) * interval '1 second'
				ELSE run_after END,
			completed_at = CASE
				WHEN $3 AND attempts < max_attempts THEN NULL
				ELSE now() END,
			error = $4,
			error_detail = jsonb_build_object('attempt', attempts, 'message', $4)
		WHERE id = $1 AND claimed_by = $2 AND status = 'CLAIMED'
		RETURNING status, run_after`, p.controlSchema),
		jobID, instanceID, retryable, msg, int(retryBaseDelay.Seconds())).
		Scan(&status, &runAfter)
	if err == pgx.ErrNoRows {
		return rmerr.New(rmerr.KindQueueContention, "job %d no longer claimed by %s", jobID, instanceID)
	}
	if err != nil {
		return rmerr.Wrap(rmerr.KindTransientIO, err, "fail job %d", jobID)
	}
	if status == "FAILED" {
		p.bumpStats(ctx, jobID, false)
	}
	return nil
}

// bumpStats increments the daily per-type counter. Best effort; stats
// loss never fails the job transition.
func (p *Pool) bumpStats(ctx context.Context, jobID int64, done bool) {
	col := "failed"
	if done {
		col = "done"
	}
	_, _ = p.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s.job_stats (day, job_type, %s)
		SELECT current_date, job_type, 1 FROM %s.job_queue WHERE id = $1
		ON CONFLICT (day, job_type) DO UPDATE SET %s = %s.job_stats.%s + 1`,
		p.controlSchema, col, p.controlSchema, col, p.controlSchema, col),
		jobID)
}

// ReapDead returns CLAIMED jobs of dead daemon instances to PENDING.
// An instance is dead once its heartbeat is older than threshold.
// Attempts are not reset; already-exhausted jobs go to FAILED instead.
func (p *Pool) ReapDead(ctx context.Context, threshold time.Duration) (int, error) {
	tag, err := p.pool.Exec(ctx, fmt.Sprintf(`
		UPDATE %s.job_queue q SET
			status = CASE WHEN q.attempts >= q.max_attempts THEN 'FAILED' ELSE 'PENDING' END,
			claimed_by = NULL,
			claimed_at = NULL,
			error = coalesce(q.error, 'worker died')
		WHERE q.status = 'CLAIMED'
		  AND NOT EXISTS (
			SELECT 1 FROM %s.daemon_instance d
			WHERE d.instance_id = q.claimed_by
			  AND d.last_heartbeat > now() - $1::interval
		  )`, p.controlSchema, p.controlSchema),
		fmt.Sprintf("%d seconds", int(threshold.Seconds())))
	if err != nil {
		return 0, rmerr.Wrap(rmerr.KindTransientIO, err, "reap dead jobs")
	}
	return int(tag.RowsAffected()), nil
}

// Cleanup deletes terminal jobs older than the retention window and
// daemon instance rows long past their last heartbeat.
func (p *Pool) Cleanup(ctx context.Context, retention time.Duration) (int, error) {
	interval := fmt.Sprintf("%d seconds", int(retention.Seconds()))
	tag, err := p.pool.Exec(ctx, fmt.Sprintf(`
		DELETE FROM %s.job_queue
		WHERE status IN ('DONE','FAILED')
		  AND coalesce(completed_at, created_at) < now() - $1::interval`,
		p.controlSchema), interval)
	if err != nil {
		return 0, rmerr.Wrap(rmerr.KindTransientIO, err, "cleanup jobs")
	}
	_, err = p.pool.Exec(ctx, fmt.Sprintf(`
		DELETE FROM %s.daemon_instance
		WHERE last_heartbeat < now() - $1::interval AND status <> 'RUNNING'`,
		p.controlSchema), interval)
	if err != nil {
		return 0, rmerr.Wrap(rmerr.KindTransientIO, err, "cleanup daemon instances")
	}
	return int(tag.RowsAffected()), nil
}

// RegisterInstance records a daemon instance as RUNNING.
func (p *Pool) RegisterInstance(ctx context.Context, instanceID, hostname string, pid int) error {
	return p.exec(ctx, fmt.Sprintf(`
		INSERT INTO %s.daemon_instance (instance_id, hostname, pid)
		VALUES ($1, $2, $3)
		ON CONFLICT (instance_id) DO UPDATE SET
			hostname = EXCLUDED.hostname,
			pid = EXCLUDED.pid,
			status = 'RUNNING',
			started_at = now(),
			last_heartbeat = now()`, p.controlSchema),
		instanceID, hostname, pid)
}

// Heartbeat refreshes an instance's liveness timestamp.
func (p *Pool) Heartbeat(ctx context.Context, instanceID string) error {
	return p.exec(ctx, fmt.Sprintf(`
		UPDATE %s.daemon_instance SET last_heartbeat = now()
		WHERE instance_id = $1`, p.controlSchema), instanceID)
}

// SetInstanceStatus transitions an instance between RUNNING, STOPPING,
// and STOPPED.
func (p *Pool) SetInstanceStatus(ctx context.Context, instanceID, status string) error {
	return p.exec(ctx, fmt.Sprintf(`
		UPDATE %s.daemon_instance SET status = $2, last_heartbeat = now()
		WHERE instance_id = $1`, p.controlSchema), instanceID, status)
}

// InstanceInfo describes one daemon instance row.
type InstanceInfo struct {
	InstanceID    string
	Hostname      string
	PID           int
	Status        string
	StartedAt     time.Time
	LastHeartbeat time.Time
}

// ListInstances returns all daemon instance rows, newest heartbeat first.
func (p *Pool) ListInstances(ctx context.Context) ([]InstanceInfo, error) {
	rows, err := p.pool.Query(ctx, fmt.Sprintf(`
		SELECT instance_id, hostname, pid, status, started_at, last_heartbeat
		FROM %s.daemon_instance ORDER BY last_heartbeat DESC`, p.controlSchema))
	if err != nil {
		return nil, rmerr.Wrap(rmerr.KindTransientIO, err, "list instances")
	}
	defer rows.Close()

	var out []InstanceInfo
	for rows.Next() {
		var info InstanceInfo
		if err := rows.Scan(&info.InstanceID, &info.Hostname, &info.PID,
			&info.Status, &info.StartedAt, &info.LastHeartbeat); err != nil {
			return nil, rmerr.Wrap(rmerr.KindTransientIO, err, "scan instance")
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

// QueueDepths returns job counts per status, optionally filtered by repo.
func (p *Pool) QueueDepths(ctx context.Context, repoName string) (map[JobStatus]int, error) {
	sql := fmt.Sprintf(`SELECT status, count(*) FROM %s.job_queue`, p.controlSchema)
	args := []any{}
	if repoName != "" {
		sql += ` WHERE repo_name = $1`
		args = append(args, repoName)
	}
	sql += ` GROUP BY status`

	rows, err := p.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, rmerr.Wrap(rmerr.KindTransientIO, err, "queue depths")
	}
	defer rows.Close()

	out := make(map[JobStatus]int)
	for rows.Next() {
		var (
			status JobStatus
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, rmerr.Wrap(rmerr.KindTransientIO, err, "scan queue depth")
		}
		out[status] = n
	}
	return out, rows.Err()
}

// ClaimedCountByRepo counts CLAIMED jobs grouped by repo, used to
// enforce per-repo concurrency caps at claim time.
func (p *Pool) ClaimedCountByRepo(ctx context.Context) (map[string]int, error) {
	rows, err := p.pool.Query(ctx, fmt.Sprintf(`
		SELECT repo_name, count(*) FROM %s.job_queue
		WHERE status = 'CLAIMED' GROUP BY repo_name`, p.controlSchema))
	if err != nil {
		return nil, rmerr.Wrap(rmerr.KindTransientIO, err, "claimed counts")
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var (
			repo string
			n    int
		)
		if err := rows.Scan(&repo, &n); err != nil {
			return nil, rmerr.Wrap(rmerr.KindTransientIO, err, "scan claimed count")
		}
		out[repo] = n
	}
	return out, rows.Err()
}
