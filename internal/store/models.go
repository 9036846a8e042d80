package store

import (
	"time"
)

// EdgeType classifies a directed relation between symbols.
type EdgeType string

const (
	EdgeCalls      EdgeType = "CALLS"
	EdgeImports    EdgeType = "IMPORTS"
	EdgeInherits   EdgeType = "INHERITS"
	EdgeImplements EdgeType = "IMPLEMENTS"
)

// EntityType names the taggable/searchable entity kinds.
type EntityType string

const (
	EntityChunk    EntityType = "chunk"
	EntityDocument EntityType = "document"
	EntitySymbol   EntityType = "symbol"
	EntityFile     EntityType = "file"
)

// TagSource records how an entity_tag row came to be.
type TagSource string

const (
	TagSourceRule     TagSource = "RULE_BASED"
	TagSourceSemantic TagSource = "SEMANTIC_MATCH"
	TagSourceLLM      TagSource = "LLM_SUGGESTION"
	TagSourceManual   TagSource = "MANUAL"
)

// DocType classifies documents.
type DocType string

const (
	DocTypeFile    DocType = "DOC_FILE"
	DocTypeSummary DocType = "GENERATED_SUMMARY"
)

// DocSource records document provenance.
type DocSource string

const (
	DocSourceHuman     DocSource = "HUMAN"
	DocSourceGenerated DocSource = "GENERATED"
)

// File is one tracked source file inside a repo schema.
type File struct {
	ID         int64
	RelPath    string
	Language   string
	ContentSHA string
	ModTime    time.Time
	IndexedAt  time.Time
}

// Symbol is one extracted definition.
type Symbol struct {
	ID          int64
	FileID      int64
	FQN         string
	Name        string
	Kind        string
	Signature   string
	Docstring   string
	StartLine   int
	EndLine     int
	ContentHash string
}

// Edge is a typed relation between two symbols with evidence.
type Edge struct {
	ID            int64
	SrcSymbolID   int64
	DstSymbolID   int64
	Type          EdgeType
	EvidenceFile  int64
	EvidenceStart int
	EvidenceEnd   int
	Confidence    float32
}

// Chunk is the unit of embedding and retrieval.
type Chunk struct {
	ID          int64
	FileID      int64
	SymbolID    *int64
	StartLine   int
	EndLine     int
	Content     string
	ContentHash string
}

// Document is a documentation record.
type Document struct {
	ID          int64
	DocType     DocType
	Source      DocSource
	Path        string
	Title       string
	Content     string
	ContentHash string
	UpdatedAt   time.Time
}

// Tag is a global label.
type Tag struct {
	ID          int64
	Name        string
	Description string
}

// TagRule matches entities to a tag.
type TagRule struct {
	ID        int64
	TagID     int64
	TagName   string
	MatchType string // PATH, IMPORT, REGEX, SYMBOL
	Pattern   string
	Weight    float32
}

// IndexState aggregates per-repo index progress.
type IndexState struct {
	LastIndexedAt *time.Time
	LastMarker    string
	FileCount     int
	SymbolCount   int
	ChunkCount    int
	EdgeCount     int
	LastError     string
}

// JobType enumerates queue job kinds.
type JobType string

const (
	JobFullIndex        JobType = "FULL_INDEX"
	JobReindexFile      JobType = "REINDEX_FILE"
	JobReindexMany      JobType = "REINDEX_MANY"
	JobEmbedMissing     JobType = "EMBED_MISSING"
	JobEmbedChunk       JobType = "EMBED_CHUNK"
	JobDocsScan         JobType = "DOCS_SCAN"
	JobSummarizeMissing JobType = "SUMMARIZE_MISSING"
	JobTagRulesSync     JobType = "TAG_RULES_SYNC"
)

// JobStatus enumerates queue states.
type JobStatus string

const (
	JobPending JobStatus = "PENDING"
	JobClaimed JobStatus = "CLAIMED"
	JobDone    JobStatus = "DONE"
	JobFailed  JobStatus = "FAILED"
	JobRetry   JobStatus = "RETRY"
)

// Job is one queue row.
type Job struct {
	ID          int64
	RepoName    string
	SchemaName  string
	Type        JobType
	Payload     []byte
	Priority    int
	Status      JobStatus
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	ClaimedBy   string
	Error       string
	DedupKey    string
}
