// Package scanner walks a repository tree and yields the files eligible
// for indexing, honoring gitignore patterns and configured excludes.
package scanner

import (
	"bufio"
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// MaxFileSize is the largest file the scanner will emit. Larger files are
// almost always generated artifacts and blow up parsing and chunking.
const MaxFileSize = 2 << 20 // 2 MiB

// FileInfo describes one scannable file.
type FileInfo struct {
	// RelPath is the path relative to the repository root, with forward
	// slashes.
	RelPath  string
	Language string
	Size     int64
	ModTime  int64 // unix seconds
}

// defaultExcludes are always skipped regardless of gitignore content.
var defaultExcludes = []string{
	"**/.git/**",
	"**/node_modules/**",
	"**/vendor/**",
	"**/__pycache__/**",
	"**/dist/**",
	"**/build/**",
	"**/target/**",
	"**/*.min.js",
	"**/*.min.css",
	"**/package-lock.json",
	"**/yarn.lock",
	"**/go.sum",
}

// languageByExt maps file extensions to language identifiers understood
// by the parser facade. Unknown extensions are skipped unless they are
// documentation files.
var languageByExt = map[string]string{
	".go":   "go",
	".py":   "python",
	".js":   "javascript",
	".jsx":  "javascript",
	".mjs":  "javascript",
	".ts":   "typescript",
	".tsx":  "typescript",
	".md":   "markdown",
	".rst":  "markdown",
	".java": "java",
	".rb":   "ruby",
	".rs":   "rust",
	".c":    "c",
	".h":    "c",
	".cpp":  "cpp",
	".cc":   "cpp",
	".hpp":  "cpp",
	".cs":   "csharp",
	".php":  "php",
	".sh":   "shell",
	".yaml": "yaml",
	".yml":  "yaml",
	".sql":  "sql",
}

// Scanner walks one repository root.
type Scanner struct {
	root     string
	excludes []string
	ignores  []ignorePattern
}

type ignorePattern struct {
	pattern string
	negate  bool
}

// New creates a scanner for root with optional extra exclude globs.
func New(root string, extraExcludes []string) *Scanner {
	s := &Scanner{
		root:     root,
		excludes: append(append([]string{}, defaultExcludes...), extraExcludes...),
	}
	s.loadGitignore()
	return s
}

// loadGitignore reads the root .gitignore. Nested gitignore files are not
// consulted; the defaults cover the common generated directories.
func (s *Scanner) loadGitignore() {
	f, err := os.Open(filepath.Join(s.root, ".gitignore"))
	if err != nil {
		return
	}
	defer func() { _ = f.Close() }()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		negate := strings.HasPrefix(line, "!")
		if negate {
			line = line[1:]
		}
		s.ignores = append(s.ignores, ignorePattern{pattern: gitignoreToGlob(line), negate: negate})
	}
}

// gitignoreToGlob converts a gitignore line to a doublestar glob matched
// against the slash-separated relative path.
func gitignoreToGlob(line string) string {
	line = strings.TrimSuffix(line, "/")
	if strings.HasPrefix(line, "/") {
		return strings.TrimPrefix(line, "/") + "{,/**}"
	}
	return "**/" + line + "{,/**}"
}

// Ignored reports whether relPath is excluded by defaults, extra
// excludes, or gitignore rules.
func (s *Scanner) Ignored(relPath string) bool {
	for _, pat := range s.excludes {
		if ok, _ := doublestar.Match(pat, relPath); ok {
			return true
		}
	}
	ignored := false
	for _, ip := range s.ignores {
		if ok, _ := doublestar.Match(ip.pattern, relPath); ok {
			ignored = !ip.negate
		}
	}
	return ignored
}

// Scan walks the tree and returns eligible files in lexicographic order
// of relative path.
func (s *Scanner) Scan(ctx context.Context) ([]FileInfo, error) {
	var files []FileInfo

	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable entries are skipped, not fatal.
			slog.Debug("scan skip", slog.String("path", path), slog.String("error", err.Error()))
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		rel, relErr := filepath.Rel(s.root, path)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if rel == "." {
			return nil
		}

		if d.IsDir() {
			if s.Ignored(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if s.Ignored(rel) {
			return nil
		}

		lang, ok := DetectLanguage(rel)
		if !ok {
			return nil
		}

		info, infoErr := d.Info()
		if infoErr != nil {
			return nil
		}
		if info.Size() > MaxFileSize {
			slog.Debug("scan skip oversized", slog.String("path", rel), slog.Int64("size", info.Size()))
			return nil
		}

		files = append(files, FileInfo{
			RelPath:  rel,
			Language: lang,
			Size:     info.Size(),
			ModTime:  info.ModTime().Unix(),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// DetectLanguage maps a relative path to a language identifier. Returns
// false for files that should not be indexed.
func DetectLanguage(relPath string) (string, bool) {
	base := filepath.Base(relPath)
	if base == "Dockerfile" || base == "Makefile" {
		return "shell", true
	}
	lang, ok := languageByExt[strings.ToLower(filepath.Ext(base))]
	return lang, ok
}

// IsDocPath reports whether relPath belongs to the documentation set
// (README files and docs/ markdown).
func IsDocPath(relPath string) bool {
	base := strings.ToLower(filepath.Base(relPath))
	if strings.HasPrefix(base, "readme") {
		return true
	}
	if !strings.HasSuffix(base, ".md") && !strings.HasSuffix(base, ".rst") {
		return false
	}
	return strings.HasPrefix(relPath, "docs/") || strings.Contains(relPath, "/docs/")
}
