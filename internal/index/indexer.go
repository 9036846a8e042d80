// Package index turns scanned source files into the persisted code
// facts: file rows, symbols, chunks, and resolved graph edges. Each
// file is indexed inside one transaction so readers never observe a
// half-indexed file.
package index

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robomonkey/robomonkey/internal/chunk"
	"github.com/robomonkey/robomonkey/internal/parser"
	"github.com/robomonkey/robomonkey/internal/rmerr"
	"github.com/robomonkey/robomonkey/internal/scanner"
	"github.com/robomonkey/robomonkey/internal/store"
)

// maxCallCandidates caps fan-out when a bare callee name matches many
// definitions; beyond this the reference is too ambiguous to keep.
const maxCallCandidates = 8

// TxStore is the transactional surface the indexer needs for one file.
type TxStore interface {
	UpsertFile(ctx context.Context, f *store.File) (int64, error)
	DeleteFileChildren(ctx context.Context, fileID int64) error
	InsertSymbol(ctx context.Context, sym *store.Symbol) (int64, error)
	InsertChunk(ctx context.Context, c *store.Chunk) (int64, error)
	InsertEdge(ctx context.Context, e *store.Edge) error
	SymbolIDsByName(ctx context.Context, name string) ([]int64, error)
}

// RepoStore is the per-repo persistence surface the indexer needs.
type RepoStore interface {
	FileSHA(ctx context.Context, relPath string) (string, error)
	InTx(ctx context.Context, fn func(TxStore) error) error
	ListFilePaths(ctx context.Context) ([]string, error)
	PruneStaleFiles(ctx context.Context, livePaths []string) (int, error)
	DeleteFile(ctx context.Context, relPath string) error
	UpdateIndexState(ctx context.Context, marker, lastErr string) error
}

// Stats summarizes one index run.
type Stats struct {
	FilesScanned int
	FilesIndexed int
	FilesSkipped int
	FilesDeleted int
	Symbols      int
	Chunks       int
	Edges        int
	Errors       int
}

// Indexer drives scanning, parsing, chunking, and persistence for one
// repository.
type Indexer struct {
	store   RepoStore
	root    string
	scanner *scanner.Scanner
	parser  *parser.Facade
	split   *chunk.Splitter
	log     *slog.Logger
}

// New builds an indexer for the repository rooted at root.
func New(st RepoStore, root string, pf *parser.Facade, log *slog.Logger) *Indexer {
	return &Indexer{
		store:   st,
		root:    root,
		scanner: scanner.New(root, nil),
		parser:  pf,
		split:   chunk.NewSplitter(),
		log:     log,
	}
}

// fileRefs carries unresolved references out of a file's symbol pass,
// resolved to edges after every changed file's symbols exist.
type fileRefs struct {
	fileID   int64
	calls    []pendingCall
	inherits []pendingInherit
}

type pendingCall struct {
	callerID  int64
	callee    string
	startLine int
	endLine   int
}

type pendingInherit struct {
	childID   int64
	parent    string
	iface     bool
	startLine int
}

// FullIndex scans the repository root and (re)indexes every changed
// file, prunes files that vanished from disk, resolves edges, and
// refreshes the aggregate index state. Per-file failures are logged
// and counted, not fatal.
func (ix *Indexer) FullIndex(ctx context.Context) (*Stats, error) {
	files, err := ix.scanner.Scan(ctx)
	if err != nil {
		return nil, err
	}

	stats := &Stats{FilesScanned: len(files)}
	var (
		refs      []*fileRefs
		lastError string
	)
	livePaths := make([]string, 0, len(files))

	for _, fi := range files {
		if err := ctx.Err(); err != nil {
			return stats, rmerr.Wrap(rmerr.KindCancelled, err, "index interrupted")
		}
		livePaths = append(livePaths, fi.RelPath)

		fr, changed, err := ix.indexFile(ctx, fi, stats)
		if err != nil {
			stats.Errors++
			lastError = fmt.Sprintf("%s: %v", fi.RelPath, err)
			ix.log.Warn("index file failed",
				slog.String("path", fi.RelPath), slog.String("error", err.Error()))
			continue
		}
		if !changed {
			stats.FilesSkipped++
			continue
		}
		stats.FilesIndexed++
		refs = append(refs, fr)
	}

	deleted, err := ix.store.PruneStaleFiles(ctx, livePaths)
	if err != nil {
		return stats, err
	}
	stats.FilesDeleted = deleted

	for _, fr := range refs {
		if err := ix.resolveEdges(ctx, fr, stats); err != nil {
			stats.Errors++
			lastError = err.Error()
			ix.log.Warn("edge resolution failed", slog.String("error", err.Error()))
		}
	}

	marker := fmt.Sprintf("full:%d/%d", stats.FilesIndexed, stats.FilesScanned)
	if err := ix.store.UpdateIndexState(ctx, marker, lastError); err != nil {
		return stats, err
	}
	ix.log.Info("full index complete",
		slog.Int("scanned", stats.FilesScanned),
		slog.Int("indexed", stats.FilesIndexed),
		slog.Int("skipped", stats.FilesSkipped),
		slog.Int("deleted", stats.FilesDeleted),
		slog.Int("errors", stats.Errors))
	return stats, nil
}

// IndexOne reindexes a single path. If the file no longer exists on
// disk its rows are removed instead.
func (ix *Indexer) IndexOne(ctx context.Context, relPath string) (*Stats, error) {
	stats := &Stats{FilesScanned: 1}

	abs := filepath.Join(ix.root, relPath)
	st, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			if err := ix.store.DeleteFile(ctx, relPath); err != nil {
				return stats, err
			}
			stats.FilesDeleted = 1
			return stats, ix.store.UpdateIndexState(ctx, "file:"+relPath, "")
		}
		return stats, rmerr.Wrap(rmerr.KindPermanentIO, err, "stat %s", relPath)
	}

	lang, ok := scanner.DetectLanguage(relPath)
	if !ok {
		stats.FilesSkipped = 1
		return stats, nil
	}
	fi := scanner.FileInfo{
		RelPath:  relPath,
		Language: lang,
		Size:     st.Size(),
		ModTime:  st.ModTime().Unix(),
	}
	fr, changed, err := ix.indexFile(ctx, fi, stats)
	if err != nil {
		return stats, err
	}
	if !changed {
		stats.FilesSkipped = 1
		return stats, nil
	}
	stats.FilesIndexed = 1
	if err := ix.resolveEdges(ctx, fr, stats); err != nil {
		return stats, err
	}
	return stats, ix.store.UpdateIndexState(ctx, "file:"+relPath, "")
}

// indexFile hashes the file, short-circuits when unchanged, and
// otherwise rebuilds its rows inside one transaction.
func (ix *Indexer) indexFile(ctx context.Context, fi scanner.FileInfo,
	stats *Stats) (*fileRefs, bool, error) {

	content, err := os.ReadFile(filepath.Join(ix.root, fi.RelPath))
	if err != nil {
		return nil, false, rmerr.Wrap(rmerr.KindPermanentIO, err, "read %s", fi.RelPath)
	}
	sha := chunk.HashContent(string(content))

	stored, err := ix.store.FileSHA(ctx, fi.RelPath)
	if err != nil && !rmerr.IsNotFound(err) {
		return nil, false, err
	}
	if stored == sha {
		return nil, false, nil
	}

	parsed, err := ix.parser.Parse(ctx, fi.Language, content)
	if err != nil {
		return nil, false, err
	}

	fr := &fileRefs{}
	err = ix.store.InTx(ctx, func(tx TxStore) error {
		fileID, err := tx.UpsertFile(ctx, &store.File{
			RelPath:    fi.RelPath,
			Language:   fi.Language,
			ContentSHA: sha,
			ModTime:    time.Unix(fi.ModTime, 0),
		})
		if err != nil {
			return err
		}
		fr.fileID = fileID

		if err := tx.DeleteFileChildren(ctx, fileID); err != nil {
			return err
		}

		localID := make(map[string]int64, len(parsed.Symbols))
		for i := range parsed.Symbols {
			sym := &parsed.Symbols[i]
			id, err := tx.InsertSymbol(ctx, &store.Symbol{
				FileID:      fileID,
				FQN:         FQN(fi.RelPath, sym.Local),
				Name:        sym.Name,
				Kind:        string(sym.Kind),
				Signature:   sym.Signature,
				Docstring:   sym.Docstring,
				StartLine:   sym.StartLine,
				EndLine:     sym.EndLine,
				ContentHash: chunk.HashContent(sym.Body),
			})
			if err != nil {
				return err
			}
			localID[sym.Local] = id
			stats.Symbols++

			n, err := ix.insertSymbolChunks(ctx, tx, fileID, id, sym)
			if err != nil {
				return err
			}
			stats.Chunks += n
		}

		if n, err := ix.insertHeaderChunk(ctx, tx, fileID, parsed); err != nil {
			return err
		} else {
			stats.Chunks += n
		}

		// Files without extractable symbols (configs, languages the
		// parser has no grammar for) are chunked whole so full-text and
		// vector search still reach their content.
		if len(parsed.Symbols) == 0 && len(content) > 0 {
			for _, p := range ix.split.Split(string(content)) {
				if _, err := tx.InsertChunk(ctx, &store.Chunk{
					FileID:      fileID,
					StartLine:   p.StartLine,
					EndLine:     p.EndLine,
					Content:     p.Content,
					ContentHash: p.ContentHash,
				}); err != nil {
					return err
				}
				stats.Chunks++
			}
		}

		for _, c := range parsed.Calls {
			callerID, ok := localID[c.CallerLocal]
			if !ok {
				continue
			}
			fr.calls = append(fr.calls, pendingCall{
				callerID: callerID, callee: c.CalleeName,
				startLine: c.StartLine, endLine: c.EndLine,
			})
		}
		for _, in := range parsed.Inherits {
			childID, ok := localID[in.ChildLocal]
			if !ok {
				continue
			}
			fr.inherits = append(fr.inherits, pendingInherit{
				childID: childID, parent: in.ParentName, iface: in.Interface,
			})
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return fr, true, nil
}

// insertSymbolChunks stores the symbol body as one chunk, or as
// overlapping pieces when the body exceeds the chunk size limit.
func (ix *Indexer) insertSymbolChunks(ctx context.Context, tx TxStore,
	fileID, symbolID int64, sym *parser.Symbol) (int, error) {

	if sym.Body == "" {
		return 0, nil
	}
	sid := symbolID
	pieces := ix.split.Split(sym.Body)
	for _, p := range pieces {
		_, err := tx.InsertChunk(ctx, &store.Chunk{
			FileID:      fileID,
			SymbolID:    &sid,
			StartLine:   sym.StartLine + p.StartLine - 1,
			EndLine:     sym.StartLine + p.EndLine - 1,
			Content:     p.Content,
			ContentHash: p.ContentHash,
		})
		if err != nil {
			return 0, err
		}
	}
	return len(pieces), nil
}

// insertHeaderChunk stores a file-level chunk holding the module doc
// and import block, so path- and dependency-level queries have
// something to hit even in files whose symbols are all small.
func (ix *Indexer) insertHeaderChunk(ctx context.Context, tx TxStore,
	fileID int64, parsed *parser.Result) (int, error) {

	var parts []string
	if parsed.ModuleDoc != "" {
		parts = append(parts, parsed.ModuleDoc)
	}
	endLine := 1
	for _, imp := range parsed.Imports {
		parts = append(parts, imp.Text)
		if imp.EndLine > endLine {
			endLine = imp.EndLine
		}
	}
	if len(parts) == 0 {
		return 0, nil
	}
	content := strings.Join(parts, "\n")
	_, err := tx.InsertChunk(ctx, &store.Chunk{
		FileID:      fileID,
		StartLine:   1,
		EndLine:     endLine,
		Content:     content,
		ContentHash: chunk.HashContent(content),
	})
	if err != nil {
		return 0, err
	}
	return 1, nil
}

// resolveEdges turns pending name references into edges. A bare name
// matching n definitions yields n edges at confidence 1/n; names with
// more than maxCallCandidates matches are dropped as noise.
func (ix *Indexer) resolveEdges(ctx context.Context, fr *fileRefs, stats *Stats) error {
	return ix.store.InTx(ctx, func(tx TxStore) error {
		for _, pc := range fr.calls {
			ids, err := tx.SymbolIDsByName(ctx, pc.callee)
			if err != nil {
				return err
			}
			if len(ids) == 0 || len(ids) > maxCallCandidates {
				continue
			}
			conf := float32(1) / float32(len(ids))
			for _, dst := range ids {
				if dst == pc.callerID {
					continue
				}
				if err := tx.InsertEdge(ctx, &store.Edge{
					SrcSymbolID:   pc.callerID,
					DstSymbolID:   dst,
					Type:          store.EdgeCalls,
					EvidenceFile:  fr.fileID,
					EvidenceStart: pc.startLine,
					EvidenceEnd:   pc.endLine,
					Confidence:    conf,
				}); err != nil {
					return err
				}
				stats.Edges++
			}
		}
		for _, pi := range fr.inherits {
			ids, err := tx.SymbolIDsByName(ctx, pi.parent)
			if err != nil {
				return err
			}
			if len(ids) == 0 || len(ids) > maxCallCandidates {
				continue
			}
			edgeType := store.EdgeInherits
			if pi.iface {
				edgeType = store.EdgeImplements
			}
			conf := float32(1) / float32(len(ids))
			for _, dst := range ids {
				if dst == pi.childID {
					continue
				}
				if err := tx.InsertEdge(ctx, &store.Edge{
					SrcSymbolID:   pi.childID,
					DstSymbolID:   dst,
					Type:          edgeType,
					EvidenceFile:  fr.fileID,
					EvidenceStart: pi.startLine,
					EvidenceEnd:   pi.startLine,
					Confidence:    conf,
				}); err != nil {
					return err
				}
				stats.Edges++
			}
		}
		return nil
	})
}

// FQN derives the fully qualified name for a symbol: the file path
// with its extension stripped and separators dotted, joined with the
// symbol's file-local name.
func FQN(relPath, local string) string {
	base := strings.TrimSuffix(relPath, filepath.Ext(relPath))
	base = strings.ReplaceAll(base, "/", ".")
	return base + "." + local
}
