// Package snapshot selects workspace files for a sandbox and produces the
// gzipped JSON snapshot format used for fast-path restore (C7).
package snapshot

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"
)

const snapshotVersion = 1

var excludedSegments = map[string]bool{
	"node_modules": true, ".next": true, "dist": true, "build": true,
	"out": true, ".git": true, ".cache": true, "coverage": true,
	".turbo": true, ".vercel": true,
}

var snapshotExtraExcludedSegments = map[string]bool{
	".output": true, "preview": true, "previews": true,
}

var textExtensions = map[string]bool{
	".ts": true, ".tsx": true, ".js": true, ".jsx": true, ".json": true,
	".css": true, ".scss": true, ".html": true, ".md": true, ".yml": true,
	".yaml": true, ".toml": true, ".env": true, ".mjs": true, ".cjs": true,
	".svg": true, ".txt": true,
}

// priorityNames are read before any other file, in listing order, matching
// what a developer would open first: layout, entrypoints, and config.
var priorityNames = []string{
	"package.json", "tsconfig.json", "next.config.js", "next.config.ts",
	"vite.config.ts", "vite.config.js", "tailwind.config.ts", "tailwind.config.js",
	"app/layout.tsx", "app/page.tsx", "src/App.tsx", "src/main.tsx", "src/index.tsx",
}

const (
	maxFilesDefault = 500
	maxBytesDefault = 5 * 1024 * 1024
	maxFileBytes    = 512 * 1024

	maxFilesSnapshot = 2000
	maxBytesSnapshot = 20 * 1024 * 1024

	binarySniffLen = 2048
)

// FileReader lists and reads files inside a sandbox workspace. Satisfied by
// an adapter over pkg/container.Driver (ls/cat via pkg/gateway, or direct
// tar extraction — implementations are free to choose).
type FileReader interface {
	ListFiles(ctx context.Context) ([]string, error)
	ReadFile(ctx context.Context, relPath string) ([]byte, error)
}

// Selection is the result of a priority-first traversal: a set of relative
// paths with their contents, bounded by count and total size.
type Selection struct {
	Files      map[string]string
	Truncated  bool
	TotalBytes int64
}

// Document is the on-disk snapshot format: gzipped JSON
// {version, generatedAt, fileCount, files: {relPath: utf8}}.
type Document struct {
	Version     int               `json:"version"`
	GeneratedAt time.Time         `json:"generatedAt"`
	FileCount   int               `json:"fileCount"`
	Files       map[string]string `json:"files"`
}

// Select walks the workspace priority-first, returning UTF-8 file contents
// up to the regular caps (500 files / 5 MiB / 512 KiB-per-file).
func Select(ctx context.Context, r FileReader) (*Selection, error) {
	return selectWithCaps(ctx, r, maxFilesDefault, maxBytesDefault, excludedSegments)
}

// Snapshot walks the workspace with the broader snapshot caps (2000 files /
// 20 MiB) and additional excludes, returning a Document ready for gzip+JSON
// encoding.
func Snapshot(ctx context.Context, r FileReader, now time.Time) (*Document, error) {
	excludes := mergeExcludes(excludedSegments, snapshotExtraExcludedSegments)
	sel, err := selectWithCaps(ctx, r, maxFilesSnapshot, maxBytesSnapshot, excludes)
	if err != nil {
		return nil, err
	}
	return &Document{
		Version:     snapshotVersion,
		GeneratedAt: now,
		FileCount:   len(sel.Files),
		Files:       sel.Files,
	}, nil
}

func selectWithCaps(ctx context.Context, r FileReader, maxFiles int, maxBytes int64, excludes map[string]bool) (*Selection, error) {
	all, err := r.ListFiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("list workspace files: %w", err)
	}

	included := make([]string, 0, len(all))
	for _, p := range all {
		if !isExcluded(p, excludes) {
			included = append(included, p)
		}
	}

	ordered := orderByPriority(included)

	sel := &Selection{Files: make(map[string]string)}
	for _, rel := range ordered {
		if len(sel.Files) >= maxFiles || sel.TotalBytes >= maxBytes {
			sel.Truncated = true
			break
		}

		data, err := r.ReadFile(ctx, rel)
		if err != nil {
			continue
		}
		if int64(len(data)) > maxFileBytes {
			data = data[:maxFileBytes]
		}
		if isBinary(data) {
			continue
		}
		if !hasTextExtension(rel) {
			continue
		}

		remaining := maxBytes - sel.TotalBytes
		if int64(len(data)) > remaining {
			data = data[:remaining]
			sel.Truncated = true
		}

		sel.Files[rel] = string(data)
		sel.TotalBytes += int64(len(data))
	}

	return sel, nil
}

func orderByPriority(paths []string) []string {
	priority := make([]string, 0, len(priorityNames))
	rest := make([]string, 0, len(paths))

	seen := make(map[string]bool, len(priorityNames))
	byPath := make(map[string]bool, len(paths))
	for _, p := range paths {
		byPath[p] = true
	}

	for _, name := range priorityNames {
		if byPath[name] && !seen[name] {
			priority = append(priority, name)
			seen[name] = true
		}
	}

	for _, p := range paths {
		if !seen[p] {
			rest = append(rest, p)
		}
	}
	sort.Strings(rest)

	return append(priority, rest...)
}

func isExcluded(relPath string, excludes map[string]bool) bool {
	for _, seg := range strings.Split(path.Clean(relPath), "/") {
		if excludes[seg] {
			return true
		}
	}
	return false
}

func hasTextExtension(relPath string) bool {
	return textExtensions[path.Ext(relPath)]
}

func isBinary(data []byte) bool {
	n := len(data)
	if n > binarySniffLen {
		n = binarySniffLen
	}
	return bytes.IndexByte(data[:n], 0) != -1
}

func mergeExcludes(sets ...map[string]bool) map[string]bool {
	out := make(map[string]bool)
	for _, s := range sets {
		for k := range s {
			out[k] = true
		}
	}
	return out
}

// Encode gzips the JSON encoding of doc.
func Encode(doc *Document) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if err := json.NewEncoder(gz).Encode(doc); err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	if err := gz.Close(); err != nil {
		return nil, fmt.Errorf("close gzip writer: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode reverses Encode.
func Decode(data []byte) (*Document, error) {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open gzip reader: %w", err)
	}
	defer gz.Close()

	var doc Document
	if err := json.NewDecoder(gz).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &doc, nil
}
