// Package chunk implements the deterministic sliding-window splitter.
// Chunks are the unit of embedding and retrieval; their content hashes
// must be byte-stable across re-runs so that unchanged content is never
// re-embedded.
package chunk

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Default window parameters. Changing these changes every chunk content
// hash, which forces a full re-embed on the next index pass.
const (
	// DefaultWindowChars is the window width W.
	DefaultWindowChars = 7000
	// DefaultOverlapChars is the window overlap O.
	DefaultOverlapChars = 500
)

// Piece is one chunk produced by the splitter. Offsets are byte positions
// into the input; lines are 1-indexed and relative to the input.
type Piece struct {
	Content     string
	Start       int
	End         int
	StartLine   int
	EndLine     int
	ContentHash string
}

// Splitter splits content into overlapping windows.
type Splitter struct {
	Window  int
	Overlap int
}

// NewSplitter returns a splitter with the default window parameters.
func NewSplitter() *Splitter {
	return &Splitter{Window: DefaultWindowChars, Overlap: DefaultOverlapChars}
}

// Split breaks content into windows. Content of length <= W yields exactly
// one piece equal to the input. Otherwise piece k spans
// [max(0, k*W-O), min(L, k*W+W+O)) for k = 0,1,... while k*W < L.
// Consecutive pieces overlap by at least min(O, remaining) characters and
// no piece exceeds W+2*O characters.
func (s *Splitter) Split(content string) []Piece {
	w, o := s.Window, s.Overlap
	if w <= 0 {
		w = DefaultWindowChars
	}
	if o < 0 {
		o = DefaultOverlapChars
	}

	l := len(content)
	if l == 0 {
		return nil
	}
	if l <= w {
		return []Piece{makePiece(content, 0, l)}
	}

	var pieces []Piece
	for k := 0; k*w < l; k++ {
		start := k*w - o
		if start < 0 {
			start = 0
		}
		end := k*w + w + o
		if end > l {
			end = l
		}
		pieces = append(pieces, makePiece(content, start, end))
	}
	return pieces
}

func makePiece(content string, start, end int) Piece {
	body := content[start:end]
	return Piece{
		Content:     body,
		Start:       start,
		End:         end,
		StartLine:   1 + strings.Count(content[:start], "\n"),
		EndLine:     1 + strings.Count(content[:end], "\n"),
		ContentHash: HashContent(body),
	}
}

// HashContent returns the truncated SHA-256 (16 hex chars) of s. This is
// the content hash used for chunks, files, and symbol bodies.
func HashContent(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:16]
}

// HashBytes is HashContent over raw bytes.
func HashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])[:16]
}
