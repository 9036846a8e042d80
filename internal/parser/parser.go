package parser

import (
	"context"
	"fmt"
	"log/slog"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

// Facade parses files and extracts code facts. Safe for sequential use;
// create one per worker.
type Facade struct {
	parser *sitter.Parser
}

// New creates a parsing facade.
func New() *Facade {
	return &Facade{parser: sitter.NewParser()}
}

// Close releases parser resources.
func (f *Facade) Close() {
	if f.parser != nil {
		f.parser.Close()
	}
}

// Supported reports whether the facade can extract facts for language.
func Supported(language string) bool {
	return grammarFor(language) != nil
}

func grammarFor(language string) *sitter.Language {
	switch language {
	case "go":
		return golang.GetLanguage()
	case "python":
		return python.GetLanguage()
	case "javascript":
		return javascript.GetLanguage()
	case "typescript":
		return typescript.GetLanguage()
	default:
		return nil
	}
}

// Parse extracts symbols, imports, calls, and inherits from source.
// Unsupported languages return an empty result.
func (f *Facade) Parse(ctx context.Context, language string, source []byte) (*Result, error) {
	grammar := grammarFor(language)
	if grammar == nil {
		return &Result{}, nil
	}
	if len(source) == 0 {
		return &Result{}, nil
	}

	f.parser.SetLanguage(grammar)
	tsTree, err := f.parser.ParseCtx(ctx, nil, source)
	if err != nil {
		return nil, fmt.Errorf("parse %s source: %w", language, err)
	}
	if tsTree == nil {
		return nil, fmt.Errorf("parse %s source: nil tree", language)
	}
	defer tsTree.Close()

	tree := &Tree{
		Root:     convertNode(tsTree.RootNode()),
		Source:   source,
		Language: language,
	}

	var res *Result
	switch language {
	case "go":
		res = extractGo(tree)
	case "python":
		res = extractPython(tree)
	case "javascript", "typescript":
		res = extractJS(tree)
	default:
		res = &Result{}
	}

	slog.Debug("parsed file",
		slog.String("language", language),
		slog.Int("symbols", len(res.Symbols)),
		slog.Int("calls", len(res.Calls)))
	return res, nil
}
