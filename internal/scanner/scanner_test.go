package scanner

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func relPaths(files []FileInfo) []string {
	out := make([]string, len(files))
	for i, f := range files {
		out[i] = f.RelPath
	}
	return out
}

func TestScanBasic(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "main.go", "package main\n")
	writeFile(t, root, "lib/util.py", "def f():\n    pass\n")
	writeFile(t, root, "README.md", "# hello\n")
	writeFile(t, root, "image.png", "not source")

	files, err := New(root, nil).Scan(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"README.md", "lib/util.py", "main.go"}, relPaths(files))
}

func TestScanLanguageDetection(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.go", "package a\n")
	writeFile(t, root, "b.ts", "export const b = 1\n")

	files, err := New(root, nil).Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, files, 2)

	byPath := map[string]string{}
	for _, f := range files {
		byPath[f.RelPath] = f.Language
	}
	assert.Equal(t, "go", byPath["a.go"])
	assert.Equal(t, "typescript", byPath["b.ts"])
}

func TestScanDefaultExcludes(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "src/main.go", "package main\n")
	writeFile(t, root, "node_modules/dep/index.js", "module.exports = 1\n")
	writeFile(t, root, "vendor/lib/lib.go", "package lib\n")
	writeFile(t, root, ".git/config.yaml", "x: 1\n")

	files, err := New(root, nil).Scan(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"src/main.go"}, relPaths(files))
}

func TestScanGitignore(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, ".gitignore", "generated/\n*.gen.go\n!keep.gen.go\n")
	writeFile(t, root, "generated/out.go", "package out\n")
	writeFile(t, root, "api.gen.go", "package api\n")
	writeFile(t, root, "keep.gen.go", "package keep\n")
	writeFile(t, root, "main.go", "package main\n")

	files, err := New(root, nil).Scan(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"keep.gen.go", "main.go"}, relPaths(files))
}

func TestScanExtraExcludes(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "main.go", "package main\n")
	writeFile(t, root, "testdata/fixture.go", "package fixture\n")

	files, err := New(root, []string{"testdata/**"}).Scan(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"main.go"}, relPaths(files))
}

func TestScanSkipsOversized(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "big.go", "package big\n//"+strings.Repeat("x", MaxFileSize))
	writeFile(t, root, "small.go", "package small\n")

	files, err := New(root, nil).Scan(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"small.go"}, relPaths(files))
}

func TestScanDeterministicOrder(t *testing.T) {
	root := t.TempDir()
	for _, p := range []string{"z.go", "a.go", "m/mid.go", "b/deep/x.go"} {
		writeFile(t, root, p, "package p\n")
	}

	first, err := New(root, nil).Scan(context.Background())
	require.NoError(t, err)
	second, err := New(root, nil).Scan(context.Background())
	require.NoError(t, err)

	assert.Equal(t, relPaths(first), relPaths(second))
}

func TestDetectLanguage(t *testing.T) {
	tests := []struct {
		path string
		lang string
		ok   bool
	}{
		{"x/y/main.go", "go", true},
		{"script.PY", "python", true},
		{"Dockerfile", "shell", true},
		{"notes.txt", "", false},
		{"binary.exe", "", false},
	}
	for _, tt := range tests {
		lang, ok := DetectLanguage(tt.path)
		assert.Equal(t, tt.ok, ok, tt.path)
		assert.Equal(t, tt.lang, lang, tt.path)
	}
}

func TestIsDocPath(t *testing.T) {
	assert.True(t, IsDocPath("README.md"))
	assert.True(t, IsDocPath("readme.rst"))
	assert.True(t, IsDocPath("docs/guide.md"))
	assert.True(t, IsDocPath("sub/docs/api.md"))
	assert.False(t, IsDocPath("src/main.go"))
	assert.False(t, IsDocPath("CHANGELOG.txt"))
}
