package cli

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/custodia-labs/mizan/internal/core/domain"
)

// defaultIncludes matches every extractable file type.
var defaultIncludes = []string{"**/*.{pdf,docx,txt,text,md,markdown}"}

// fileMatcher selects files by doublestar patterns relative to the walk root.
type fileMatcher struct {
	includes []string
	excludes []string
}

func newFileMatcher(includes, excludes []string) (*fileMatcher, error) {
	if len(includes) == 0 {
		includes = defaultIncludes
	}
	for _, p := range slices.Concat(includes, excludes) {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid pattern %q", p)
		}
	}
	return &fileMatcher{includes: includes, excludes: excludes}, nil
}

func (m *fileMatcher) match(rel string) bool {
	rel = filepath.ToSlash(rel)
	return matchAny(m.includes, rel) && !matchAny(m.excludes, rel)
}

func (m *fileMatcher) skipDir(rel string) bool {
	return matchAny(m.excludes, filepath.ToSlash(rel)+"/")
}

func matchAny(patterns []string, path string) bool {
	for _, p := range patterns {
		if ok, err := doublestar.Match(p, path); err == nil && ok {
			return true
		}
	}
	return false
}

// collectFiles expands paths into the files to ingest. Files named
// directly are always taken; directories are walked and filtered.
func collectFiles(paths []string, m *fileMatcher) ([]string, error) {
	var files []string
	seen := make(map[string]bool)
	add := func(p string) {
		if !seen[p] {
			seen[p] = true
			files = append(files, p)
		}
	}

	for _, root := range paths {
		root, err := filepath.Abs(root)
		if err != nil {
			return nil, fmt.Errorf("invalid path: %w", err)
		}
		info, err := os.Stat(root)
		if err != nil {
			return nil, fmt.Errorf("path does not exist: %w", err)
		}
		if !info.IsDir() {
			add(root)
			continue
		}

		err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			rel, err := filepath.Rel(root, path)
			if err != nil {
				return err
			}
			if d.IsDir() {
				if rel != "." && m.skipDir(rel) {
					return filepath.SkipDir
				}
				return nil
			}
			if m.match(rel) {
				add(path)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("walking %s: %w", root, err)
		}
	}
	return files, nil
}

// titleFromPath turns "murabaha-guide_v2.pdf" into "murabaha guide v2".
func titleFromPath(path string) string {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return strings.Join(strings.FieldsFunc(base, func(r rune) bool {
		return r == '-' || r == '_' || r == ' ' || r == '.'
	}), " ")
}

// ingestRequestForFile reads path into an ingest request.
func ingestRequestForFile(path, title, description string, category domain.Category) (domain.IngestRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.IngestRequest{}, fmt.Errorf("reading %s: %w", path, err)
	}
	if title == "" {
		title = titleFromPath(path)
	}
	return domain.IngestRequest{
		Title:       title,
		Description: description,
		Category:    category,
		FileType:    domain.ParseFileType(path),
		FilePath:    path,
		Content:     data,
	}, nil
}
