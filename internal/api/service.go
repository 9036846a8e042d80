// Package api implements the typed control operations behind the
// JSON-RPC surface: repository status, hybrid and document search,
// symbol lookup and graph context, tagging, and job enqueueing.
package api

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/robomonkey/robomonkey/internal/config"
	"github.com/robomonkey/robomonkey/internal/daemon"
	"github.com/robomonkey/robomonkey/internal/embed"
	"github.com/robomonkey/robomonkey/internal/graph"
	"github.com/robomonkey/robomonkey/internal/rmerr"
	"github.com/robomonkey/robomonkey/internal/search"
	"github.com/robomonkey/robomonkey/internal/store"
)

// RepoSession is the schema-scoped store surface the service uses.
// *store.Session satisfies it.
type RepoSession interface {
	Release()

	IndexState(ctx context.Context) (*store.IndexState, error)
	EmbeddingCoverage(ctx context.Context) (chunksDone, chunksTotal, docsDone, docsTotal int, err error)

	SymbolByFQN(ctx context.Context, fqn string) (*store.Symbol, error)
	SymbolsByName(ctx context.Context, name string) ([]store.Symbol, error)
	Callers(ctx context.Context, symbolID int64) ([]store.Neighbor, error)
	Callees(ctx context.Context, symbolID int64) ([]store.Neighbor, error)
	ChunksForSymbol(ctx context.Context, symbolID int64) ([]store.ChunkMeta, error)
	FileHeaderChunk(ctx context.Context, fileID int64) (*store.ChunkMeta, error)
	FileByID(ctx context.Context, id int64) (*store.File, error)

	VectorSearchChunks(ctx context.Context, vec []float32, k int, f store.SearchFilters) ([]store.Hit, error)
	FTSSearchChunks(ctx context.Context, query string, k int, f store.SearchFilters) ([]store.Hit, error)
	VectorSearchDocuments(ctx context.Context, vec []float32, k int, f store.SearchFilters) ([]store.Hit, error)
	FTSSearchDocuments(ctx context.Context, query string, k int, f store.SearchFilters) ([]store.Hit, error)
	EntityTagMatches(ctx context.Context, et store.EntityType, ids []int64, tagNames []string) (map[int64]int, error)
	ChunkByID(ctx context.Context, id int64) (*store.ChunkMeta, error)
	DocumentByID(ctx context.Context, id int64) (*store.Document, error)

	ListTags(ctx context.Context) ([]store.Tag, map[string]int, error)
	EnsureTag(ctx context.Context, name, description string) (int64, error)
	AttachTag(ctx context.Context, entityType store.EntityType, entityID int64,
		tagID int64, source store.TagSource, confidence float32) error
}

// Backend is the control-plane surface the service uses. *store.Pool
// satisfies everything except Session; PoolBackend bridges that.
type Backend interface {
	ResolveRepo(ctx context.Context, repoName string) (*store.RepoRef, error)
	ListRepos(ctx context.Context) ([]store.RepoRef, error)
	Enqueue(ctx context.Context, req store.EnqueueRequest) (int64, error)
	QueueDepths(ctx context.Context, repoName string) (map[store.JobStatus]int, error)
	ListInstances(ctx context.Context) ([]store.InstanceInfo, error)
	Session(ctx context.Context, schema string) (RepoSession, error)
}

// PoolBackend adapts *store.Pool to the Backend interface.
type PoolBackend struct {
	*store.Pool
}

func (b PoolBackend) Session(ctx context.Context, schema string) (RepoSession, error) {
	return b.Scoped(ctx, schema)
}

// Service implements the control API operations.
type Service struct {
	backend  Backend
	embedder embed.Embedder
	cfg      *config.Config
	log      *slog.Logger

	// Workers reports live daemon occupancy when a daemon runs in this
	// process; nil otherwise.
	Workers func() daemon.Status

	startedAt time.Time

	mu      sync.Mutex
	handles map[string]*repoHandle
}

// repoHandle holds the long-lived query machinery for one repository.
type repoHandle struct {
	retriever *search.Retriever
	expander  *graph.Expander
}

// New builds the service. embedder may be nil; searches then degrade
// to full text.
func New(backend Backend, embedder embed.Embedder, cfg *config.Config, log *slog.Logger) *Service {
	return &Service{
		backend:   backend,
		embedder:  embedder,
		cfg:       cfg,
		log:       log,
		startedAt: time.Now(),
		handles:   make(map[string]*repoHandle),
	}
}

// InvalidateRepo drops cached query state after jobs change a repo's
// data. Safe to call for repos never queried.
func (s *Service) InvalidateRepo(repoName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.handles[repoName]; ok {
		h.retriever.InvalidateCache()
	}
}

// handle returns the query machinery for a repo, building it on first
// use. The underlying store opens a scoped session per call, so the
// handle itself holds no connection.
func (s *Service) handle(ref *store.RepoRef) *repoHandle {
	s.mu.Lock()
	defer s.mu.Unlock()
	if h, ok := s.handles[ref.Name]; ok {
		return h
	}
	st := &repoStore{backend: s.backend, schema: ref.SchemaName}
	h := &repoHandle{
		retriever: search.NewRetriever(st, s.embedder, s.cfg.Search, s.log),
		expander:  graph.New(st),
	}
	s.handles[ref.Name] = h
	return h
}

// PingResult answers ping.
type PingResult struct {
	Status    string `json:"status"`
	UptimeSec int64  `json:"uptime_sec"`
}

// Ping reports liveness.
func (s *Service) Ping(context.Context) (*PingResult, error) {
	return &PingResult{Status: "ok", UptimeSec: int64(time.Since(s.startedAt).Seconds())}, nil
}

// RepoInfo is one registered repository.
type RepoInfo struct {
	Name       string `json:"name"`
	SchemaName string `json:"schema_name"`
	RootPath   string `json:"root_path"`
	Enabled    bool   `json:"enabled"`
	AutoIndex  bool   `json:"auto_index"`
	AutoEmbed  bool   `json:"auto_embed"`
	AutoWatch  bool   `json:"auto_watch"`
}

// ListReposResult answers list_repos.
type ListReposResult struct {
	Repos []RepoInfo `json:"repos"`
}

// ListRepos returns every registered repository.
func (s *Service) ListRepos(ctx context.Context) (*ListReposResult, error) {
	refs, err := s.backend.ListRepos(ctx)
	if err != nil {
		return nil, err
	}
	out := &ListReposResult{Repos: make([]RepoInfo, 0, len(refs))}
	for _, r := range refs {
		out.Repos = append(out.Repos, RepoInfo{
			Name: r.Name, SchemaName: r.SchemaName, RootPath: r.RootPath,
			Enabled: r.Enabled, AutoIndex: r.AutoIndex,
			AutoEmbed: r.AutoEmbed, AutoWatch: r.AutoWatch,
		})
	}
	return out, nil
}

// IndexStatusResult answers index_status.
type IndexStatusResult struct {
	Repo          string     `json:"repo"`
	SchemaName    string     `json:"schema_name"`
	LastIndexedAt *time.Time `json:"last_indexed_at,omitempty"`
	Marker        string     `json:"marker,omitempty"`
	Files         int        `json:"files"`
	Symbols       int        `json:"symbols"`
	Chunks        int        `json:"chunks"`
	Edges         int        `json:"edges"`
	LastError     string     `json:"last_error,omitempty"`

	ChunksEmbedded int `json:"chunks_embedded"`
	ChunksTotal    int `json:"chunks_total"`
	DocsEmbedded   int `json:"docs_embedded"`
	DocsTotal      int `json:"docs_total"`

	Queue map[store.JobStatus]int `json:"queue"`
}

// IndexStatus reports index and embedding progress for one repository.
func (s *Service) IndexStatus(ctx context.Context, p *RepoParams) (*IndexStatusResult, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	ref, err := s.backend.ResolveRepo(ctx, p.Repo)
	if err != nil {
		return nil, err
	}
	sess, err := s.backend.Session(ctx, ref.SchemaName)
	if err != nil {
		return nil, err
	}
	defer sess.Release()

	state, err := sess.IndexState(ctx)
	if err != nil {
		return nil, err
	}
	chunksDone, chunksTotal, docsDone, docsTotal, err := sess.EmbeddingCoverage(ctx)
	if err != nil {
		return nil, err
	}
	depths, err := s.backend.QueueDepths(ctx, ref.Name)
	if err != nil {
		return nil, err
	}

	return &IndexStatusResult{
		Repo:          ref.Name,
		SchemaName:    ref.SchemaName,
		LastIndexedAt: state.LastIndexedAt,
		Marker:        state.LastMarker,
		Files:         state.FileCount,
		Symbols:       state.SymbolCount,
		Chunks:        state.ChunkCount,
		Edges:         state.EdgeCount,
		LastError:     state.LastError,

		ChunksEmbedded: chunksDone,
		ChunksTotal:    chunksTotal,
		DocsEmbedded:   docsDone,
		DocsTotal:      docsTotal,

		Queue: depths,
	}, nil
}

// SearchResult answers hybrid_search and doc_search.
type SearchResult struct {
	Repo       string `json:"repo"`
	SchemaName string `json:"schema_name"`
	*search.Response
}

// HybridSearch runs a fused vector + full-text query over chunks and
// documents.
func (s *Service) HybridSearch(ctx context.Context, p *SearchParams) (*SearchResult, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	defer observe("hybrid_search", time.Now())
	return s.runSearch(ctx, p, p.EntityTypes)
}

// DocSearch runs the same pipeline restricted to documents.
func (s *Service) DocSearch(ctx context.Context, p *SearchParams) (*SearchResult, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	defer observe("doc_search", time.Now())
	return s.runSearch(ctx, p, []string{"document"})
}

func observe(operation string, start time.Time) {
	daemon.SearchDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func (s *Service) runSearch(ctx context.Context, p *SearchParams, entityTypes []string) (*SearchResult, error) {
	ref, err := s.backend.ResolveRepo(ctx, p.Repo)
	if err != nil {
		return nil, err
	}
	resp, err := s.handle(ref).retriever.Search(ctx, search.Request{
		Query:       p.Query,
		EntityTypes: entityTypes,
		Filters:     p.filters(),
		TopK:        p.TopK,
	})
	if err != nil {
		return nil, err
	}
	return &SearchResult{Repo: ref.Name, SchemaName: ref.SchemaName, Response: resp}, nil
}

// SymbolInfo is one resolved symbol.
type SymbolInfo struct {
	ID        int64  `json:"id"`
	FQN       string `json:"fqn"`
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	Signature string `json:"signature,omitempty"`
	Docstring string `json:"docstring,omitempty"`
	Path      string `json:"path"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
}

// SymbolLookupResult answers symbol_lookup.
type SymbolLookupResult struct {
	Repo       string       `json:"repo"`
	SchemaName string       `json:"schema_name"`
	Symbols    []SymbolInfo `json:"symbols"`
}

// SymbolLookup resolves a fully qualified or bare name to its
// definitions. An exact FQN match wins; a bare name may return several.
func (s *Service) SymbolLookup(ctx context.Context, p *SymbolParams) (*SymbolLookupResult, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	ref, err := s.backend.ResolveRepo(ctx, p.Repo)
	if err != nil {
		return nil, err
	}
	sess, err := s.backend.Session(ctx, ref.SchemaName)
	if err != nil {
		return nil, err
	}
	defer sess.Release()

	var matches []store.Symbol
	sym, err := sess.SymbolByFQN(ctx, p.Symbol)
	switch {
	case err == nil:
		matches = []store.Symbol{*sym}
	case rmerr.IsNotFound(err):
		name := p.Symbol
		if i := strings.LastIndex(name, "."); i >= 0 {
			name = name[i+1:]
		}
		matches, err = sess.SymbolsByName(ctx, name)
		if err != nil {
			return nil, err
		}
		if len(matches) == 0 {
			return nil, rmerr.NotFound("symbol", p.Symbol)
		}
	default:
		return nil, err
	}

	out := &SymbolLookupResult{Repo: ref.Name, SchemaName: ref.SchemaName}
	for _, m := range matches {
		info := SymbolInfo{
			ID: m.ID, FQN: m.FQN, Name: m.Name, Kind: m.Kind,
			Signature: m.Signature, Docstring: m.Docstring,
			StartLine: m.StartLine, EndLine: m.EndLine,
		}
		if f, ferr := sess.FileByID(ctx, m.FileID); ferr == nil {
			info.Path = f.RelPath
		}
		out.Symbols = append(out.Symbols, info)
	}
	return out, nil
}

// ContextResult answers symbol_context.
type ContextResult struct {
	Repo       string `json:"repo"`
	SchemaName string `json:"schema_name"`
	*graph.Response
}

// SymbolContext expands the call graph around a symbol and packs the
// surrounding source under the token budget.
func (s *Service) SymbolContext(ctx context.Context, p *ContextParams) (*ContextResult, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	ref, err := s.backend.ResolveRepo(ctx, p.Repo)
	if err != nil {
		return nil, err
	}
	budget := p.BudgetTokens
	if budget == 0 {
		budget = s.cfg.Search.ContextBudgetTokens
	}
	resp, err := s.handle(ref).expander.Expand(ctx, graph.Request{
		Symbol:       p.Symbol,
		Direction:    graph.Direction(p.Direction),
		Depth:        p.Depth,
		BudgetTokens: budget,
	})
	if err != nil {
		return nil, err
	}
	return &ContextResult{Repo: ref.Name, SchemaName: ref.SchemaName, Response: resp}, nil
}

// NeighborInfo is one symbol one edge away.
type NeighborInfo struct {
	SymbolInfo
	EdgeType   store.EdgeType `json:"edge_type"`
	Confidence float32        `json:"confidence"`
}

// NeighborsResult answers callers and callees.
type NeighborsResult struct {
	Repo       string         `json:"repo"`
	SchemaName string         `json:"schema_name"`
	Symbol     string         `json:"symbol"`
	Neighbors  []NeighborInfo `json:"neighbors"`
}

// Callers lists symbols with an edge into the given symbol.
func (s *Service) Callers(ctx context.Context, p *SymbolParams) (*NeighborsResult, error) {
	return s.neighbors(ctx, p, true)
}

// Callees lists symbols the given symbol has an edge to.
func (s *Service) Callees(ctx context.Context, p *SymbolParams) (*NeighborsResult, error) {
	return s.neighbors(ctx, p, false)
}

func (s *Service) neighbors(ctx context.Context, p *SymbolParams, callers bool) (*NeighborsResult, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	ref, err := s.backend.ResolveRepo(ctx, p.Repo)
	if err != nil {
		return nil, err
	}
	sess, err := s.backend.Session(ctx, ref.SchemaName)
	if err != nil {
		return nil, err
	}
	defer sess.Release()

	sym, err := resolveSymbol(ctx, sess, p.Symbol)
	if err != nil {
		return nil, err
	}

	var list []store.Neighbor
	if callers {
		list, err = sess.Callers(ctx, sym.ID)
	} else {
		list, err = sess.Callees(ctx, sym.ID)
	}
	if err != nil {
		return nil, err
	}

	out := &NeighborsResult{Repo: ref.Name, SchemaName: ref.SchemaName, Symbol: sym.FQN}
	for _, n := range list {
		out.Neighbors = append(out.Neighbors, NeighborInfo{
			SymbolInfo: SymbolInfo{
				ID: n.ID, FQN: n.FQN, Name: n.Name, Kind: n.Kind,
				Signature: n.Signature, Path: n.RelPath,
				StartLine: n.StartLine, EndLine: n.EndLine,
			},
			EdgeType:   n.EdgeType,
			Confidence: n.Confidence,
		})
	}
	return out, nil
}

// resolveSymbol tries an exact FQN, then the lexicographically first
// bare-name match.
func resolveSymbol(ctx context.Context, sess RepoSession, symbol string) (*store.Symbol, error) {
	sym, err := sess.SymbolByFQN(ctx, symbol)
	if err == nil {
		return sym, nil
	}
	if !rmerr.IsNotFound(err) {
		return nil, err
	}
	name := symbol
	if i := strings.LastIndex(symbol, "."); i >= 0 {
		name = symbol[i+1:]
	}
	matches, err := sess.SymbolsByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, rmerr.NotFound("symbol", symbol)
	}
	return &matches[0], nil
}

// TagInfo is one tag with its usage count.
type TagInfo struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Entities    int    `json:"entities"`
}

// ListTagsResult answers list_tags.
type ListTagsResult struct {
	Repo       string    `json:"repo"`
	SchemaName string    `json:"schema_name"`
	Tags       []TagInfo `json:"tags"`
}

// ListTags returns every tag in the repo with attachment counts.
func (s *Service) ListTags(ctx context.Context, p *RepoParams) (*ListTagsResult, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	ref, err := s.backend.ResolveRepo(ctx, p.Repo)
	if err != nil {
		return nil, err
	}
	sess, err := s.backend.Session(ctx, ref.SchemaName)
	if err != nil {
		return nil, err
	}
	defer sess.Release()

	tags, counts, err := sess.ListTags(ctx)
	if err != nil {
		return nil, err
	}
	out := &ListTagsResult{Repo: ref.Name, SchemaName: ref.SchemaName}
	for _, t := range tags {
		out.Tags = append(out.Tags, TagInfo{
			ID: t.ID, Name: t.Name, Description: t.Description,
			Entities: counts[t.Name],
		})
	}
	return out, nil
}

// TagEntityResult answers tag_entity.
type TagEntityResult struct {
	Repo       string `json:"repo"`
	SchemaName string `json:"schema_name"`
	TagID      int64  `json:"tag_id"`
}

// TagEntity attaches a tag to an entity, creating the tag on first use.
// Tag names are normalized to lowercase.
func (s *Service) TagEntity(ctx context.Context, p *TagEntityParams) (*TagEntityResult, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	ref, err := s.backend.ResolveRepo(ctx, p.Repo)
	if err != nil {
		return nil, err
	}
	sess, err := s.backend.Session(ctx, ref.SchemaName)
	if err != nil {
		return nil, err
	}
	defer sess.Release()

	tagID, err := sess.EnsureTag(ctx, strings.ToLower(p.Tag), "")
	if err != nil {
		return nil, err
	}
	source := store.TagSource(p.Source)
	if source == "" {
		source = store.TagSourceManual
	}
	confidence := p.Confidence
	if confidence == 0 {
		confidence = 1
	}
	if err := sess.AttachTag(ctx, store.EntityType(p.EntityType), p.EntityID,
		tagID, source, confidence); err != nil {
		return nil, err
	}
	return &TagEntityResult{Repo: ref.Name, SchemaName: ref.SchemaName, TagID: tagID}, nil
}

// EnqueueResult answers the enqueue operations. Deduped is set when an
// equivalent job was already pending and no new row was created.
type EnqueueResult struct {
	Repo       string `json:"repo"`
	SchemaName string `json:"schema_name"`
	JobID      int64  `json:"job_id,omitempty"`
	Deduped    bool   `json:"deduped,omitempty"`
}

// EnqueueReindexFile queues a single-file reindex, deduped by path.
func (s *Service) EnqueueReindexFile(ctx context.Context, p *ReindexFileParams) (*EnqueueResult, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return s.enqueue(ctx, p.Repo, store.JobReindexFile,
		mustJSON(map[string]string{"path": p.Path}), p.Path)
}

// EnqueueReindexMany queues a multi-file reindex.
func (s *Service) EnqueueReindexMany(ctx context.Context, p *ReindexManyParams) (*EnqueueResult, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return s.enqueue(ctx, p.Repo, store.JobReindexMany,
		mustJSON(map[string][]string{"paths": p.Paths}), "")
}

func (s *Service) enqueue(ctx context.Context, repo string, jt store.JobType,
	payload []byte, dedupKey string) (*EnqueueResult, error) {

	ref, err := s.backend.ResolveRepo(ctx, repo)
	if err != nil {
		return nil, err
	}
	id, err := s.backend.Enqueue(ctx, store.EnqueueRequest{
		RepoName:   ref.Name,
		SchemaName: ref.SchemaName,
		Type:       jt,
		Payload:    payload,
		DedupKey:   dedupKey,
	})
	if err != nil {
		return nil, err
	}
	return &EnqueueResult{
		Repo: ref.Name, SchemaName: ref.SchemaName,
		JobID: id, Deduped: id == 0,
	}, nil
}

// InstanceStatus is one daemon instance row.
type InstanceStatus struct {
	InstanceID    string    `json:"instance_id"`
	Hostname      string    `json:"hostname"`
	PID           int       `json:"pid"`
	Status        string    `json:"status"`
	StartedAt     time.Time `json:"started_at"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

// DaemonStatusResult answers daemon_status.
type DaemonStatusResult struct {
	Instances []InstanceStatus        `json:"instances"`
	Queue     map[store.JobStatus]int `json:"queue"`
	Worker    *daemon.Status          `json:"worker,omitempty"`
}

// DaemonStatus reports registered instances, global queue depths, and
// local worker occupancy when a daemon runs in-process.
func (s *Service) DaemonStatus(ctx context.Context) (*DaemonStatusResult, error) {
	instances, err := s.backend.ListInstances(ctx)
	if err != nil {
		return nil, err
	}
	depths, err := s.backend.QueueDepths(ctx, "")
	if err != nil {
		return nil, err
	}
	out := &DaemonStatusResult{Queue: depths}
	for _, inst := range instances {
		out.Instances = append(out.Instances, InstanceStatus{
			InstanceID: inst.InstanceID, Hostname: inst.Hostname, PID: inst.PID,
			Status: inst.Status, StartedAt: inst.StartedAt, LastHeartbeat: inst.LastHeartbeat,
		})
	}
	if s.Workers != nil {
		st := s.Workers()
		out.Worker = &st
	}
	return out, nil
}
