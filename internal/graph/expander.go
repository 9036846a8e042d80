// Package graph walks the symbol edge graph outward from an entry
// symbol, collecting the source context of callers and callees within
// a bounded depth and token budget.
package graph

import (
	"context"
	"sort"
	"strings"

	"github.com/robomonkey/robomonkey/internal/rmerr"
	"github.com/robomonkey/robomonkey/internal/store"
)

// MaxDepth bounds expansion; beyond two hops the context is mostly
// noise.
const MaxDepth = 2

// Direction selects which way edges are followed.
type Direction string

const (
	DirCallers Direction = "callers"
	DirCallees Direction = "callees"
	DirBoth    Direction = "both"
)

// Store is the persistence surface the expander needs.
type Store interface {
	SymbolByFQN(ctx context.Context, fqn string) (*store.Symbol, error)
	SymbolsByName(ctx context.Context, name string) ([]store.Symbol, error)
	Callers(ctx context.Context, symbolID int64) ([]store.Neighbor, error)
	Callees(ctx context.Context, symbolID int64) ([]store.Neighbor, error)
	ChunksForSymbol(ctx context.Context, symbolID int64) ([]store.ChunkMeta, error)
	FileHeaderChunk(ctx context.Context, fileID int64) (*store.ChunkMeta, error)
	FileByID(ctx context.Context, id int64) (*store.File, error)
}

// Request describes one expansion.
type Request struct {
	// Symbol is a fully qualified name, or a bare name when no FQN
	// matches exactly.
	Symbol    string
	Direction Direction
	// Depth in [1, MaxDepth]; zero means MaxDepth.
	Depth int
	// BudgetTokens bounds the total snippet size; zero means unlimited.
	BudgetTokens int
}

// Node is one symbol reached during expansion.
type Node struct {
	FQN        string         `json:"fqn"`
	Name       string         `json:"name"`
	Kind       string         `json:"kind"`
	Path       string         `json:"path"`
	StartLine  int            `json:"start_line"`
	EndLine    int            `json:"end_line"`
	Depth      int            `json:"depth"`
	EdgeType   store.EdgeType `json:"edge_type,omitempty"`
	Confidence float32        `json:"confidence,omitempty"`
}

// Snippet is one deduplicated span of source context.
type Snippet struct {
	Path      string `json:"path"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
	Content   string `json:"content"`
	Depth     int    `json:"depth"`
}

// Response is the expansion result.
type Response struct {
	Root              Node      `json:"root"`
	Nodes             []Node    `json:"nodes"`
	Snippets          []Snippet `json:"snippets"`
	TruncatedByBudget bool      `json:"truncated_by_budget,omitempty"`
}

// Expander walks the edge graph of one repository.
type Expander struct {
	store Store
}

// New builds an expander.
func New(st Store) *Expander {
	return &Expander{store: st}
}

// Expand resolves the entry symbol and walks outward breadth-first.
// Each symbol is visited once even when reachable along several paths.
func (e *Expander) Expand(ctx context.Context, req Request) (*Response, error) {
	if req.Symbol == "" {
		return nil, rmerr.New(rmerr.KindValidation, "empty symbol")
	}
	depth := req.Depth
	if depth <= 0 || depth > MaxDepth {
		depth = MaxDepth
	}
	dir := req.Direction
	if dir == "" {
		dir = DirBoth
	}

	root, err := e.resolveEntry(ctx, req.Symbol)
	if err != nil {
		return nil, err
	}
	rootFile, err := e.store.FileByID(ctx, root.FileID)
	if err != nil {
		return nil, err
	}

	resp := &Response{
		Root: Node{
			FQN: root.FQN, Name: root.Name, Kind: root.Kind,
			Path: rootFile.RelPath, StartLine: root.StartLine, EndLine: root.EndLine,
		},
	}

	visited := map[int64]bool{root.ID: true}
	frontier := []int64{root.ID}
	seenSpans := make(map[spanKey]bool)

	// The root's own context comes first.
	if err := e.collectSnippets(ctx, root.ID, root.FileID, 0, seenSpans, resp); err != nil {
		return nil, err
	}

	for layer := 1; layer <= depth; layer++ {
		var next []int64
		var layerNodes []Node

		for _, id := range frontier {
			var neighbors []store.Neighbor
			if dir == DirCallers || dir == DirBoth {
				callers, err := e.store.Callers(ctx, id)
				if err != nil {
					return nil, err
				}
				neighbors = append(neighbors, callers...)
			}
			if dir == DirCallees || dir == DirBoth {
				callees, err := e.store.Callees(ctx, id)
				if err != nil {
					return nil, err
				}
				neighbors = append(neighbors, callees...)
			}

			for _, n := range neighbors {
				if visited[n.ID] {
					continue
				}
				visited[n.ID] = true
				next = append(next, n.ID)
				layerNodes = append(layerNodes, Node{
					FQN: n.FQN, Name: n.Name, Kind: n.Kind,
					Path: n.RelPath, StartLine: n.StartLine, EndLine: n.EndLine,
					Depth: layer, EdgeType: n.EdgeType, Confidence: n.Confidence,
				})
			}
		}

		sort.Slice(layerNodes, func(i, j int) bool {
			if layerNodes[i].Path != layerNodes[j].Path {
				return layerNodes[i].Path < layerNodes[j].Path
			}
			return layerNodes[i].StartLine < layerNodes[j].StartLine
		})
		resp.Nodes = append(resp.Nodes, layerNodes...)
		frontier = next
		if len(frontier) == 0 {
			break
		}
	}

	// Snippets follow node order: layer, then path, then line.
	for _, n := range resp.Nodes {
		sym, err := e.store.SymbolByFQN(ctx, n.FQN)
		if err != nil {
			continue
		}
		if err := e.collectSnippets(ctx, sym.ID, sym.FileID, n.Depth, seenSpans, resp); err != nil {
			return nil, err
		}
	}

	if req.BudgetTokens > 0 {
		resp.applyBudget(req.BudgetTokens)
	}
	return resp, nil
}

// resolveEntry tries an exact FQN first, then a bare name. Ambiguous
// bare names resolve to the lexicographically first match.
func (e *Expander) resolveEntry(ctx context.Context, symbol string) (*store.Symbol, error) {
	sym, err := e.store.SymbolByFQN(ctx, symbol)
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
	matches, err := e.store.SymbolsByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, rmerr.NotFound("symbol", symbol)
	}
	return &matches[0], nil
}

// spanKey identifies a source span for deduplication.
type spanKey struct {
	fileID     int64
	start, end int
}

// collectSnippets adds the symbol's definition chunks and its file's
// header chunk, skipping spans already collected.
func (e *Expander) collectSnippets(ctx context.Context, symbolID, fileID int64, depth int,
	seen map[spanKey]bool, resp *Response) error {

	chunks, err := e.store.ChunksForSymbol(ctx, symbolID)
	if err != nil {
		return err
	}
	if header, herr := e.store.FileHeaderChunk(ctx, fileID); herr == nil {
		chunks = append(chunks, *header)
	} else if !rmerr.IsNotFound(herr) {
		return herr
	}
	for _, c := range chunks {
		key := spanKey{c.FileID, c.StartLine, c.EndLine}
		if seen[key] {
			continue
		}
		seen[key] = true
		resp.Snippets = append(resp.Snippets, Snippet{
			Path:      c.RelPath,
			StartLine: c.StartLine,
			EndLine:   c.EndLine,
			Content:   c.Content,
			Depth:     depth,
		})
	}
	return nil
}

// applyBudget trims snippets once the cumulative approximate token
// count (length/4) exceeds the budget, keeping earlier layers.
func (r *Response) applyBudget(budgetTokens int) {
	remaining := budgetTokens
	for i, s := range r.Snippets {
		cost := (len(s.Content) + 3) / 4
		if cost > remaining {
			r.Snippets = r.Snippets[:i]
			r.TruncatedByBudget = true
			return
		}
		remaining -= cost
	}
}
