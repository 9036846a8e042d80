// Package docs maintains the documentation table: human docs scanned
// from the repository tree (README files, docs/ markdown) and
// generated per-file summaries derived from extracted symbols.
package docs

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/robomonkey/robomonkey/internal/chunk"
	"github.com/robomonkey/robomonkey/internal/rmerr"
	"github.com/robomonkey/robomonkey/internal/scanner"
	"github.com/robomonkey/robomonkey/internal/store"
)

// maxDocSize skips pathological documentation files.
const maxDocSize = 1 << 20 // 1 MiB

// Store is the persistence surface the pipeline needs.
type Store interface {
	UpsertDocument(ctx context.Context, d *store.Document) (int64, bool, error)
	ListFileHeaders(ctx context.Context) ([]store.FileHeader, error)
	ListSymbols(ctx context.Context) ([]store.Symbol, error)
}

// Stats counts one pipeline run.
type Stats struct {
	Scanned   int
	Updated   int
	Unchanged int
}

// Pipeline scans and summarizes documentation for one repository.
type Pipeline struct {
	root  string
	store Store
	log   *slog.Logger
}

// New builds a pipeline for the repository rooted at root.
func New(root string, st Store, log *slog.Logger) *Pipeline {
	return &Pipeline{root: root, store: st, log: log}
}

// ScanDocs walks the tree for documentation files and upserts each as
// a document row. Unchanged content is detected by hash and skipped.
func (p *Pipeline) ScanDocs(ctx context.Context) (*Stats, error) {
	stats := &Stats{}
	sc := scanner.New(p.root, nil)

	err := filepath.WalkDir(p.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		rel, relErr := filepath.Rel(p.root, path)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			if rel != "." && sc.Ignored(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if sc.Ignored(rel) || !scanner.IsDocPath(rel) {
			return nil
		}
		if info, ierr := d.Info(); ierr != nil || info.Size() > maxDocSize {
			return nil
		}

		content, rerr := os.ReadFile(path)
		if rerr != nil {
			p.log.Warn("doc read failed", slog.String("path", rel), slog.String("error", rerr.Error()))
			return nil
		}
		stats.Scanned++

		doc := &store.Document{
			DocType:     store.DocTypeFile,
			Source:      store.DocSourceHuman,
			Path:        rel,
			Title:       docTitle(rel, string(content)),
			Content:     string(content),
			ContentHash: chunk.HashBytes(content),
		}
		_, changed, uerr := p.store.UpsertDocument(ctx, doc)
		if uerr != nil {
			return uerr
		}
		if changed {
			stats.Updated++
		} else {
			stats.Unchanged++
		}
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return stats, rmerr.Wrap(rmerr.KindCancelled, err, "docs scan interrupted")
		}
		return stats, err
	}

	p.log.Info("docs scan complete",
		slog.Int("scanned", stats.Scanned),
		slog.Int("updated", stats.Updated))
	return stats, nil
}

// SummarizeMissing writes one generated summary document per indexed
// source file, describing the symbols it defines. Summaries are
// deterministic, so re-running after no changes is a no-op by hash.
func (p *Pipeline) SummarizeMissing(ctx context.Context) (*Stats, error) {
	stats := &Stats{}

	headers, err := p.store.ListFileHeaders(ctx)
	if err != nil {
		return stats, err
	}
	symbols, err := p.store.ListSymbols(ctx)
	if err != nil {
		return stats, err
	}

	byFile := make(map[int64][]store.Symbol)
	for _, s := range symbols {
		byFile[s.FileID] = append(byFile[s.FileID], s)
	}

	for _, fh := range headers {
		if cerr := ctx.Err(); cerr != nil {
			return stats, cerr
		}
		syms := byFile[fh.FileID]
		if len(syms) == 0 {
			continue
		}
		stats.Scanned++

		content := summarize(fh.RelPath, syms)
		doc := &store.Document{
			DocType:     store.DocTypeSummary,
			Source:      store.DocSourceGenerated,
			Path:        fh.RelPath,
			Title:       "Summary of " + fh.RelPath,
			Content:     content,
			ContentHash: chunk.HashContent(content),
		}
		_, changed, uerr := p.store.UpsertDocument(ctx, doc)
		if uerr != nil {
			return stats, uerr
		}
		if changed {
			stats.Updated++
		} else {
			stats.Unchanged++
		}
	}

	p.log.Info("summaries refreshed",
		slog.Int("files", stats.Scanned),
		slog.Int("updated", stats.Updated))
	return stats, nil
}

// summarize renders a deterministic description of a file's symbols.
func summarize(relPath string, syms []store.Symbol) string {
	sort.Slice(syms, func(i, j int) bool { return syms[i].StartLine < syms[j].StartLine })

	var b strings.Builder
	fmt.Fprintf(&b, "%s defines %d symbol(s).\n\n", relPath, len(syms))
	for _, s := range syms {
		fmt.Fprintf(&b, "- %s %s", s.Kind, s.FQN)
		if s.Signature != "" {
			fmt.Fprintf(&b, ": %s", s.Signature)
		}
		b.WriteByte('\n')
		if s.Docstring != "" {
			fmt.Fprintf(&b, "  %s\n", firstLine(s.Docstring))
		}
	}
	return b.String()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// docTitle prefers the first markdown heading, falling back to the
// file name.
func docTitle(relPath, content string) string {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "#") {
			return strings.TrimSpace(strings.TrimLeft(line, "#"))
		}
		if line != "" {
			break
		}
	}
	return filepath.Base(relPath)
}
