// Package parser is the parsing facade: given a file's language and
// bytes it returns symbols, imports, call sites, and inheritance
// relations. Extraction is best-effort; unsupported languages yield
// empty results, never errors.
package parser

import (
	sitter "github.com/smacker/go-tree-sitter"
)

// Kind classifies a symbol.
type Kind string

const (
	KindFunction  Kind = "function"
	KindMethod    Kind = "method"
	KindClass     Kind = "class"
	KindInterface Kind = "interface"
)

// Symbol is one extracted definition. Name is the simple name; Local is
// the file-local qualified name (Class.method for members). The indexer
// derives the repository-wide FQN from Local and the file path.
type Symbol struct {
	Name      string
	Local     string
	Kind      Kind
	StartLine int
	EndLine   int
	Signature string
	Docstring string
	Body      string
}

// Import is one import statement.
type Import struct {
	Target    string
	Text      string
	StartLine int
	EndLine   int
}

// Call is one call site attributed to its enclosing symbol.
type Call struct {
	CallerLocal string
	CalleeName  string
	StartLine   int
	EndLine     int
}

// Inherit records a subtype relation by parent simple name.
type Inherit struct {
	ChildLocal string
	ParentName string
	// Interface marks implements-style relations (extends otherwise).
	Interface bool
}

// Result is the complete parse output for one file.
type Result struct {
	Symbols   []Symbol
	Imports   []Import
	Calls     []Call
	Inherits  []Inherit
	ModuleDoc string
}

// Point is a row/column position (0-indexed rows).
type Point struct {
	Row    uint32
	Column uint32
}

// Node is a language-neutral view of a tree-sitter node.
type Node struct {
	Type       string
	StartByte  uint32
	EndByte    uint32
	StartPoint Point
	EndPoint   Point
	Children   []*Node
}

// Tree holds a parsed file.
type Tree struct {
	Root     *Node
	Source   []byte
	Language string
}

func convertNode(ts *sitter.Node) *Node {
	if ts == nil {
		return nil
	}
	n := &Node{
		Type:       ts.Type(),
		StartByte:  ts.StartByte(),
		EndByte:    ts.EndByte(),
		StartPoint: Point{Row: ts.StartPoint().Row, Column: ts.StartPoint().Column},
		EndPoint:   Point{Row: ts.EndPoint().Row, Column: ts.EndPoint().Column},
		Children:   make([]*Node, 0, int(ts.ChildCount())),
	}
	for i := 0; i < int(ts.ChildCount()); i++ {
		if c := ts.Child(i); c != nil {
			n.Children = append(n.Children, convertNode(c))
		}
	}
	return n
}

// Content returns the source text covered by the node.
func (n *Node) Content(source []byte) string {
	if n == nil || n.StartByte >= n.EndByte || int(n.EndByte) > len(source) {
		return ""
	}
	return string(source[n.StartByte:n.EndByte])
}

// Child returns the first child of the given type, or nil.
func (n *Node) Child(nodeType string) *Node {
	for _, c := range n.Children {
		if c.Type == nodeType {
			return c
		}
	}
	return nil
}

// ChildrenOf returns all direct children of the given type.
func (n *Node) ChildrenOf(nodeType string) []*Node {
	var out []*Node
	for _, c := range n.Children {
		if c.Type == nodeType {
			out = append(out, c)
		}
	}
	return out
}

// Walk visits the node and its descendants depth-first. The visitor
// returns false to prune the subtree.
func (n *Node) Walk(visit func(*Node) bool) {
	if n == nil {
		return
	}
	if !visit(n) {
		return
	}
	for _, c := range n.Children {
		c.Walk(visit)
	}
}

// startLine and endLine convert 0-indexed rows to 1-indexed lines.
func (n *Node) startLine() int { return int(n.StartPoint.Row) + 1 }
func (n *Node) endLine() int   { return int(n.EndPoint.Row) + 1 }
