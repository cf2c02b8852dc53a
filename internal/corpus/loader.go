// Package corpus loads tenant passage corpora from JSONL files and
// rebuilds the retrieval indexes, optionally watching the corpus
// directory for changes. One <scope>.jsonl file per tenant scope, one
// passage object per line.
package corpus

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	coreerrors "github.com/lorekeep/retrieval/internal/errors"
	"github.com/lorekeep/retrieval/internal/passage"
)

// maxLineBytes bounds a single JSONL line; passages are short text
// snippets, not documents.
const maxLineBytes = 1 << 20

// corpusLine is the on-disk passage record.
type corpusLine struct {
	ID     string `json:"id"`
	Text   string `json:"text"`
	Source string `json:"source"`
}

// LoadFile reads one scope's passages from a JSONL file. Blank lines
// are skipped; a malformed line or a line missing id or text fails the
// whole file so a partial corpus never goes live.
func LoadFile(path, scope string) ([]passage.Passage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, coreerrors.New(coreerrors.ErrCodeCorpusCorrupt,
			fmt.Sprintf("open corpus file %s", path), err)
	}
	defer func() { _ = f.Close() }()

	var passages []passage.Passage
	seen := make(map[string]int)

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}

		var line corpusLine
		if err := json.Unmarshal([]byte(raw), &line); err != nil {
			return nil, corruptLine(path, lineNo, "invalid JSON", err)
		}
		if line.ID == "" {
			return nil, corruptLine(path, lineNo, "missing id", nil)
		}
		if line.Text == "" {
			return nil, corruptLine(path, lineNo, "missing text", nil)
		}
		if prev, dup := seen[line.ID]; dup {
			return nil, corruptLine(path, lineNo,
				fmt.Sprintf("duplicate id %q (first seen on line %d)", line.ID, prev), nil)
		}
		seen[line.ID] = lineNo

		passages = append(passages, passage.Passage{
			ID:     line.ID,
			Scope:  scope,
			Text:   line.Text,
			Source: line.Source,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, coreerrors.New(coreerrors.ErrCodeCorpusCorrupt,
			fmt.Sprintf("read corpus file %s", path), err)
	}
	return passages, nil
}

func corruptLine(path string, lineNo int, msg string, cause error) error {
	return coreerrors.New(coreerrors.ErrCodeCorpusCorrupt,
		fmt.Sprintf("%s line %d: %s", path, lineNo, msg), cause).
		WithDetail("file", path).
		WithDetail("line", fmt.Sprintf("%d", lineNo))
}

// ScopeFromFilename derives the tenant scope from a corpus file name:
// "tenant-1.jsonl" -> "tenant-1".
func ScopeFromFilename(path string) string {
	return strings.TrimSuffix(filepath.Base(path), ".jsonl")
}

// ListFiles returns the corpus JSONL files in dir, sorted by name so
// startup indexing order is stable.
func ListFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, coreerrors.New(coreerrors.ErrCodeCorpusCorrupt,
			fmt.Sprintf("read corpus directory %s", dir), err)
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".jsonl") {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}
