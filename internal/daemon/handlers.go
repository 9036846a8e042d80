package daemon

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/robomonkey/robomonkey/internal/config"
	"github.com/robomonkey/robomonkey/internal/docs"
	"github.com/robomonkey/robomonkey/internal/embed"
	"github.com/robomonkey/robomonkey/internal/index"
	"github.com/robomonkey/robomonkey/internal/parser"
	"github.com/robomonkey/robomonkey/internal/rmerr"
	"github.com/robomonkey/robomonkey/internal/store"
	"github.com/robomonkey/robomonkey/internal/tag"
)

// Deps carries the shared components job handlers need.
type Deps struct {
	Pool     *store.Pool
	Parser   *parser.Facade
	Embedder embed.Embedder
	Cfg      *config.Config
	Log      *slog.Logger
	// OnDataChanged fires after a job altered repo data, letting the
	// server invalidate per-repo query caches.
	OnDataChanged func(repoName string)
}

// reindexFilePayload is the REINDEX_FILE job payload.
type reindexFilePayload struct {
	Path string `json:"path"`
}

// reindexManyPayload is the REINDEX_MANY job payload.
type reindexManyPayload struct {
	Paths []string `json:"paths"`
}

// embedChunkPayload is the EMBED_CHUNK job payload.
type embedChunkPayload struct {
	ChunkID int64 `json:"chunk_id"`
}

// RegisterHandlers binds every job type to its implementation.
func RegisterHandlers(d *Daemon, deps *Deps) {
	d.Register(store.JobFullIndex, deps.handleFullIndex)
	d.Register(store.JobReindexFile, deps.handleReindexFile)
	d.Register(store.JobReindexMany, deps.handleReindexMany)
	d.Register(store.JobEmbedMissing, deps.handleEmbedMissing)
	d.Register(store.JobEmbedChunk, deps.handleEmbedChunk)
	d.Register(store.JobDocsScan, deps.handleDocsScan)
	d.Register(store.JobSummarizeMissing, deps.handleSummarizeMissing)
	d.Register(store.JobTagRulesSync, deps.handleTagRulesSync)
}

// withSession resolves the job's repo and runs fn with a schema-scoped
// session.
func (deps *Deps) withSession(ctx context.Context, job *store.Job,
	fn func(ref *store.RepoRef, sess *store.Session) error) error {

	ref, err := deps.Pool.ResolveRepo(ctx, job.RepoName)
	if err != nil {
		return err
	}
	sess, err := deps.Pool.Scoped(ctx, ref.SchemaName)
	if err != nil {
		return err
	}
	defer sess.Release()
	return fn(ref, sess)
}

func (deps *Deps) notify(repoName string) {
	if deps.OnDataChanged != nil {
		deps.OnDataChanged(repoName)
	}
}

func (deps *Deps) handleFullIndex(ctx context.Context, job *store.Job) error {
	return deps.withSession(ctx, job, func(ref *store.RepoRef, sess *store.Session) error {
		ix := index.New(index.NewSessionStore(sess), ref.RootPath, deps.Parser, deps.Log)
		stats, err := ix.FullIndex(ctx)
		if err != nil {
			return err
		}
		deps.notify(ref.Name)
		deps.Log.Info("full index job finished",
			slog.String("repo", ref.Name),
			slog.Int("indexed", stats.FilesIndexed),
			slog.Int("errors", stats.Errors))

		// Newly indexed content needs embeddings and fresh summaries.
		if ref.AutoEmbed {
			deps.enqueueFollowup(ctx, ref, store.JobEmbedMissing, nil, "embed-missing")
		}
		deps.enqueueFollowup(ctx, ref, store.JobDocsScan, nil, "docs-scan")
		deps.enqueueFollowup(ctx, ref, store.JobSummarizeMissing, nil, "summarize")
		return nil
	})
}

func (deps *Deps) handleReindexFile(ctx context.Context, job *store.Job) error {
	var payload reindexFilePayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil || payload.Path == "" {
		return rmerr.New(rmerr.KindValidation, "bad REINDEX_FILE payload: %s", string(job.Payload))
	}
	return deps.withSession(ctx, job, func(ref *store.RepoRef, sess *store.Session) error {
		ix := index.New(index.NewSessionStore(sess), ref.RootPath, deps.Parser, deps.Log)
		if _, err := ix.IndexOne(ctx, payload.Path); err != nil {
			return err
		}
		deps.notify(ref.Name)
		if ref.AutoEmbed {
			deps.enqueueFollowup(ctx, ref, store.JobEmbedMissing, nil, "embed-missing")
		}
		return nil
	})
}

func (deps *Deps) handleReindexMany(ctx context.Context, job *store.Job) error {
	var payload reindexManyPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil || len(payload.Paths) == 0 {
		return rmerr.New(rmerr.KindValidation, "bad REINDEX_MANY payload: %s", string(job.Payload))
	}
	return deps.withSession(ctx, job, func(ref *store.RepoRef, sess *store.Session) error {
		ix := index.New(index.NewSessionStore(sess), ref.RootPath, deps.Parser, deps.Log)
		for _, path := range payload.Paths {
			if err := ctx.Err(); err != nil {
				return rmerr.Wrap(rmerr.KindCancelled, err, "reindex interrupted")
			}
			if _, err := ix.IndexOne(ctx, path); err != nil {
				return err
			}
		}
		deps.notify(ref.Name)
		if ref.AutoEmbed {
			deps.enqueueFollowup(ctx, ref, store.JobEmbedMissing, nil, "embed-missing")
		}
		return nil
	})
}

func (deps *Deps) handleEmbedMissing(ctx context.Context, job *store.Job) error {
	if deps.Embedder == nil {
		return rmerr.New(rmerr.KindValidation, "no embedder configured")
	}
	return deps.withSession(ctx, job, func(ref *store.RepoRef, sess *store.Session) error {
		bf := embed.NewBackfiller(sess, deps.Embedder,
			deps.Cfg.Embeddings.BatchSize, deps.Cfg.Embeddings.MaxChars, deps.Log)
		if _, err := bf.Run(ctx); err != nil {
			return err
		}
		deps.notify(ref.Name)
		return nil
	})
}

func (deps *Deps) handleEmbedChunk(ctx context.Context, job *store.Job) error {
	if deps.Embedder == nil {
		return rmerr.New(rmerr.KindValidation, "no embedder configured")
	}
	var payload embedChunkPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil || payload.ChunkID == 0 {
		return rmerr.New(rmerr.KindValidation, "bad EMBED_CHUNK payload: %s", string(job.Payload))
	}
	return deps.withSession(ctx, job, func(ref *store.RepoRef, sess *store.Session) error {
		meta, err := sess.ChunkByID(ctx, payload.ChunkID)
		if err != nil {
			return err
		}
		text := meta.Content
		if len(text) > deps.Cfg.Embeddings.MaxChars {
			text = text[:deps.Cfg.Embeddings.MaxChars]
		}
		vectors, err := deps.Embedder.Embed(ctx, []string{text})
		if err != nil {
			return err
		}
		if err := sess.StoreChunkEmbeddings(ctx, deps.Embedder.Model(),
			[]int64{meta.ID}, vectors); err != nil {
			return err
		}
		deps.notify(ref.Name)
		return nil
	})
}

func (deps *Deps) handleDocsScan(ctx context.Context, job *store.Job) error {
	return deps.withSession(ctx, job, func(ref *store.RepoRef, sess *store.Session) error {
		p := docs.New(ref.RootPath, sess, deps.Log)
		if _, err := p.ScanDocs(ctx); err != nil {
			return err
		}
		deps.notify(ref.Name)
		if ref.AutoEmbed {
			deps.enqueueFollowup(ctx, ref, store.JobEmbedMissing, nil, "embed-missing")
		}
		return nil
	})
}

func (deps *Deps) handleSummarizeMissing(ctx context.Context, job *store.Job) error {
	return deps.withSession(ctx, job, func(ref *store.RepoRef, sess *store.Session) error {
		p := docs.New(ref.RootPath, sess, deps.Log)
		if _, err := p.SummarizeMissing(ctx); err != nil {
			return err
		}
		deps.notify(ref.Name)
		return nil
	})
}

func (deps *Deps) handleTagRulesSync(ctx context.Context, job *store.Job) error {
	if deps.Cfg.TagRules == "" {
		return rmerr.New(rmerr.KindValidation, "no tag rules file configured")
	}
	rf, err := tag.LoadRules(deps.Cfg.TagRules)
	if err != nil {
		return err
	}
	return deps.withSession(ctx, job, func(ref *store.RepoRef, sess *store.Session) error {
		tg := tag.NewTagger(sess, deps.Log)
		if err := tg.SyncRules(ctx, rf); err != nil {
			return err
		}
		if _, err := tg.ApplyRules(ctx); err != nil {
			return err
		}
		if deps.Embedder != nil {
			if _, err := tg.ApplySemantic(ctx, deps.Embedder, rf); err != nil {
				return err
			}
		}
		deps.notify(ref.Name)
		return nil
	})
}

// enqueueFollowup queues a dependent job, logging instead of failing
// the parent when the enqueue itself fails.
func (deps *Deps) enqueueFollowup(ctx context.Context, ref *store.RepoRef,
	jt store.JobType, payload []byte, dedupKey string) {

	if _, err := deps.Pool.Enqueue(ctx, store.EnqueueRequest{
		RepoName:   ref.Name,
		SchemaName: ref.SchemaName,
		Type:       jt,
		Payload:    payload,
		DedupKey:   dedupKey,
	}); err != nil {
		deps.Log.Warn("followup enqueue failed",
			slog.String("repo", ref.Name),
			slog.String("job_type", string(jt)),
			slog.String("error", err.Error()))
	}
}
