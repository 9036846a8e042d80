package daemon

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robomonkey/robomonkey/internal/config"
	"github.com/robomonkey/robomonkey/internal/rmerr"
	"github.com/robomonkey/robomonkey/internal/store"
)

// fakeQueue hands out queued jobs and records transitions.
type fakeQueue struct {
	mu        sync.Mutex
	pending   []*store.Job
	completed []int64
	failed    map[int64]error
	excluded  [][]string
	status    []string
	// remoteClaimed simulates CLAIMED rows held by other instances.
	remoteClaimed map[string]int
}

func newFakeQueue(jobs ...*store.Job) *fakeQueue {
	return &fakeQueue{pending: jobs, failed: make(map[int64]error)}
}

func (q *fakeQueue) Claim(_ context.Context, instanceID string, excludeRepos []string) (*store.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.excluded = append(q.excluded, append([]string(nil), excludeRepos...))

	skip := make(map[string]bool, len(excludeRepos))
	for _, r := range excludeRepos {
		skip[r] = true
	}
	for i, j := range q.pending {
		if skip[j.RepoName] {
			continue
		}
		q.pending = append(q.pending[:i], q.pending[i+1:]...)
		j.Status = store.JobClaimed
		j.ClaimedBy = instanceID
		j.Attempts++
		return j, nil
	}
	return nil, rmerr.NotFound("job", "runnable")
}

func (q *fakeQueue) Complete(_ context.Context, jobID int64, _ string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.completed = append(q.completed, jobID)
	return nil
}

func (q *fakeQueue) Fail(_ context.Context, jobID int64, _ string, jobErr error) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.failed[jobID] = jobErr
	return nil
}

func (q *fakeQueue) ClaimedCountByRepo(context.Context) (map[string]int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make(map[string]int, len(q.remoteClaimed))
	for repo, n := range q.remoteClaimed {
		out[repo] = n
	}
	return out, nil
}

func (q *fakeQueue) ReapDead(context.Context, time.Duration) (int, error) { return 0, nil }
func (q *fakeQueue) Cleanup(context.Context, time.Duration) (int, error)  { return 0, nil }

func (q *fakeQueue) RegisterInstance(context.Context, string, string, int) error { return nil }
func (q *fakeQueue) Heartbeat(context.Context, string) error                     { return nil }

func (q *fakeQueue) SetInstanceStatus(_ context.Context, _ string, status string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.status = append(q.status, status)
	return nil
}

func (q *fakeQueue) snapshot() (completed []int64, failed map[int64]error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	completed = append([]int64(nil), q.completed...)
	failed = make(map[int64]error, len(q.failed))
	for k, v := range q.failed {
		failed[k] = v
	}
	return
}

func daemonCfg() config.DaemonConfig {
	return config.DaemonConfig{
		GlobalMaxConcurrent:  4,
		MaxConcurrentPerRepo: 2,
		PollIntervalSec:      1,
		HeartbeatIntervalSec: 1,
		DeadThresholdSec:     120,
		RetentionDays:        7,
	}
}

func testLog() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func job(id int64, repo string, jt store.JobType) *store.Job {
	return &store.Job{ID: id, RepoName: repo, SchemaName: "rm_" + repo, Type: jt, Status: store.JobPending}
}

func runDaemonUntil(t *testing.T, d *Daemon, done func() bool) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan error, 1)
	go func() { finished <- d.Run(ctx) }()

	deadline := time.After(5 * time.Second)
	for !done() {
		select {
		case <-deadline:
			cancel()
			t.Fatal("daemon did not reach expected state in time")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	require.NoError(t, <-finished)
}

func TestDaemonProcessesJobs(t *testing.T) {
	q := newFakeQueue(
		job(1, "alpha", store.JobFullIndex),
		job(2, "beta", store.JobEmbedMissing),
	)

	var handled sync.Map
	d := New(q, daemonCfg(), testLog())
	d.Register(store.JobFullIndex, func(_ context.Context, j *store.Job) error {
		handled.Store(j.ID, true)
		return nil
	})
	d.Register(store.JobEmbedMissing, func(_ context.Context, j *store.Job) error {
		handled.Store(j.ID, true)
		return nil
	})

	runDaemonUntil(t, d, func() bool {
		completed, _ := q.snapshot()
		return len(completed) == 2
	})
	completed, failed := q.snapshot()
	assert.ElementsMatch(t, []int64{1, 2}, completed)
	assert.Empty(t, failed)
}

func TestDaemonRecordsFailure(t *testing.T) {
	q := newFakeQueue(job(1, "alpha", store.JobFullIndex))

	d := New(q, daemonCfg(), testLog())
	d.Register(store.JobFullIndex, func(context.Context, *store.Job) error {
		return rmerr.New(rmerr.KindTransientIO, "index blew up")
	})

	runDaemonUntil(t, d, func() bool {
		_, failed := q.snapshot()
		return len(failed) == 1
	})
	_, failed := q.snapshot()
	require.Contains(t, failed, int64(1))
	assert.True(t, rmerr.IsRetryable(failed[1]))
}

func TestDaemonUnknownJobTypeFails(t *testing.T) {
	q := newFakeQueue(job(1, "alpha", store.JobType("MYSTERY")))

	d := New(q, daemonCfg(), testLog())
	runDaemonUntil(t, d, func() bool {
		_, failed := q.snapshot()
		return len(failed) == 1
	})
	_, failed := q.snapshot()
	assert.Equal(t, rmerr.KindValidation, rmerr.KindOf(failed[1]))
}

func TestDaemonHandlerPanicFailsJob(t *testing.T) {
	q := newFakeQueue(job(1, "alpha", store.JobFullIndex))

	d := New(q, daemonCfg(), testLog())
	d.Register(store.JobFullIndex, func(context.Context, *store.Job) error {
		panic("boom")
	})

	runDaemonUntil(t, d, func() bool {
		_, failed := q.snapshot()
		return len(failed) == 1
	})
	_, failed := q.snapshot()
	assert.Equal(t, rmerr.KindInternal, rmerr.KindOf(failed[1]))
}

func TestDaemonPerRepoCap(t *testing.T) {
	// Three jobs for one repo with a per-repo cap of 2: while the first
	// two block, claims must exclude the saturated repo.
	q := newFakeQueue(
		job(1, "alpha", store.JobFullIndex),
		job(2, "alpha", store.JobFullIndex),
		job(3, "alpha", store.JobFullIndex),
	)

	release := make(chan struct{})
	var started sync.WaitGroup
	started.Add(2)

	d := New(q, daemonCfg(), testLog())
	d.Register(store.JobFullIndex, func(_ context.Context, _ *store.Job) error {
		started.Done()
		<-release
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan error, 1)
	go func() { finished <- d.Run(ctx) }()

	started.Wait()
	// Two jobs are running; the repo is at cap.
	assert.Equal(t, 2, d.CurrentStatus().ActiveJobs)

	started.Add(1)
	close(release)

	deadline := time.After(5 * time.Second)
	for {
		completed, _ := q.snapshot()
		if len(completed) == 3 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("third job never completed")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	require.NoError(t, <-finished)

	// At least one claim attempt excluded the saturated repo.
	q.mu.Lock()
	defer q.mu.Unlock()
	sawExclusion := false
	for _, ex := range q.excluded {
		for _, repo := range ex {
			if repo == "alpha" {
				sawExclusion = true
			}
		}
	}
	assert.True(t, sawExclusion)
}

func TestDaemonHonorsClaimsHeldByOtherInstances(t *testing.T) {
	// Another instance already holds two alpha jobs, which is the
	// per-repo limit: this instance must not claim alpha work.
	q := newFakeQueue(
		job(1, "alpha", store.JobFullIndex),
		job(2, "beta", store.JobFullIndex),
	)
	q.remoteClaimed = map[string]int{"alpha": 2}

	var handled sync.Map
	d := New(q, daemonCfg(), testLog())
	d.Register(store.JobFullIndex, func(_ context.Context, j *store.Job) error {
		handled.Store(j.RepoName, true)
		return nil
	})

	runDaemonUntil(t, d, func() bool {
		completed, _ := q.snapshot()
		return len(completed) == 1
	})

	_, ok := handled.Load("beta")
	assert.True(t, ok)
	_, ok = handled.Load("alpha")
	assert.False(t, ok)
}

func TestDaemonShutdownMarksStopped(t *testing.T) {
	q := newFakeQueue()
	d := New(q, daemonCfg(), testLog())

	ctx, cancel := context.WithCancel(context.Background())
	finished := make(chan error, 1)
	go func() { finished <- d.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	require.NoError(t, <-finished)

	q.mu.Lock()
	defer q.mu.Unlock()
	assert.Equal(t, []string{"STOPPING", "STOPPED"}, q.status)
}
