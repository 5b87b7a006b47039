package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/custodia-labs/mizan/internal/core/domain"
	"github.com/custodia-labs/mizan/internal/logger"
)

// watchDebounce is how long a file must stay quiet before it is re-ingested.
const watchDebounce = 500 * time.Millisecond

var (
	ingestCategory    string
	ingestTitle       string
	ingestDescription string
	ingestIncludes    []string
	ingestExcludes    []string
	ingestWatch       bool
	ingestJSON        bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [path...]",
	Short: "Ingest documents for question answering",
	Long: `Extracts, chunks, embeds and indexes PDF, DOCX, Markdown and text files.
Directories are walked and filtered with --include and --exclude patterns.

Examples:
  mizan ingest --category products guides/murabaha.pdf
  mizan ingest --category principles --include "**/*.md" notes/
  mizan ingest --category compliance --watch standards/`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVarP(&ingestCategory, "category", "c", "",
		"document category: "+categoryList())
	ingestCmd.Flags().StringVar(&ingestTitle, "title", "", "document title (single file only, default from file name)")
	ingestCmd.Flags().StringVar(&ingestDescription, "description", "", "short description stored with the document")
	ingestCmd.Flags().StringArrayVar(&ingestIncludes, "include", nil, "glob of files to take from directories (repeatable)")
	ingestCmd.Flags().StringArrayVar(&ingestExcludes, "exclude", nil, "glob of files or directories to skip (repeatable)")
	ingestCmd.Flags().BoolVarP(&ingestWatch, "watch", "w", false, "keep running and re-ingest files when they change")
	ingestCmd.Flags().BoolVar(&ingestJSON, "json", false, "output the resulting documents as JSON")
	_ = ingestCmd.MarkFlagRequired("category")
	rootCmd.AddCommand(ingestCmd)
}

func categoryList() string {
	names := make([]string, 0, len(domain.AllCategories()))
	for _, c := range domain.AllCategories() {
		names = append(names, c.String())
	}
	return strings.Join(names, ", ")
}

func runIngest(cmd *cobra.Command, args []string) error {
	if ingestionService == nil || documentService == nil {
		return errors.New("ingestion service not configured")
	}

	category, ok := domain.ParseCategory(ingestCategory)
	if !ok {
		return fmt.Errorf("unknown category %q (want one of %s)", ingestCategory, categoryList())
	}
	matcher, err := newFileMatcher(ingestIncludes, ingestExcludes)
	if err != nil {
		return err
	}
	files, err := collectFiles(args, matcher)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		cmd.Println("No matching files found.")
		return nil
	}
	if ingestTitle != "" && len(files) > 1 {
		return errors.New("--title can only be used with a single file")
	}

	ctx := cmd.Context()
	ids, err := ingestFiles(ctx, cmd, files, category)
	if err != nil {
		return err
	}
	docs, err := waitForDocuments(ctx, ids)
	if err != nil {
		return err
	}
	if err := outputIngestResults(cmd, docs); err != nil {
		return err
	}

	if !ingestWatch {
		return nil
	}
	byPath := make(map[string]string, len(docs))
	for _, d := range docs {
		byPath[d.FilePath] = d.ID
	}
	return watchFiles(ctx, cmd, args, matcher, category, byPath)
}

// ingestFiles submits every file and returns the accepted document IDs.
func ingestFiles(ctx context.Context, cmd *cobra.Command, files []string, category domain.Category) ([]string, error) {
	bar := progressbar.NewOptions(len(files),
		progressbar.OptionSetWriter(cmd.ErrOrStderr()),
		progressbar.OptionSetVisibility(!ingestJSON),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription("Submitting"),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprintln(cmd.ErrOrStderr())
		}),
	)

	ids := make([]string, 0, len(files))
	for _, path := range files {
		req, err := ingestRequestForFile(path, ingestTitle, ingestDescription, category)
		if err != nil {
			return ids, err
		}
		ack, err := ingestionService.Ingest(ctx, req)
		if err != nil {
			return ids, fmt.Errorf("ingest %s: %w", filepath.Base(path), err)
		}
		ids = append(ids, ack.ID)
		_ = bar.Add(1)
	}
	return ids, nil
}

// waitForDocuments blocks until background ingestion settles and returns
// the final state of each document.
func waitForDocuments(ctx context.Context, ids []string) ([]domain.Document, error) {
	if err := ingestionService.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for ingestion: %w", err)
	}
	docs := make([]domain.Document, 0, len(ids))
	for _, id := range ids {
		doc, err := documentService.Get(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to get document: %w", err)
		}
		docs = append(docs, *doc)
	}
	return docs, nil
}

func outputIngestResults(cmd *cobra.Command, docs []domain.Document) error {
	if ingestJSON {
		data, err := json.MarshalIndent(docs, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal documents: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}

	var indexed, failed int
	for i := range docs {
		switch docs[i].Status {
		case domain.StatusIndexed:
			indexed++
			cmd.Printf("  ✓ %s (%d chunks)\n", docs[i].Title, docs[i].ChunkCount)
		default:
			failed++
			cmd.Printf("  ✗ %s: %s\n", docs[i].Title, docs[i].StatusReason)
		}
	}
	cmd.Printf("\nIngested %d of %d documents", indexed, len(docs))
	if failed > 0 {
		cmd.Printf(", %d failed", failed)
	}
	cmd.Println(".")
	return nil
}

// watchFiles re-ingests matching files under paths whenever they are
// created or written, replacing the document ingested for the same path.
func watchFiles(
	ctx context.Context,
	cmd *cobra.Command,
	paths []string,
	m *fileMatcher,
	category domain.Category,
	byPath map[string]string,
) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	var roots []watchRoot
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return fmt.Errorf("invalid path: %w", err)
		}
		if info, err := os.Stat(abs); err == nil && !info.IsDir() {
			roots = append(roots, watchRoot{path: abs})
			if err := watcher.Add(filepath.Dir(abs)); err != nil {
				return fmt.Errorf("watching %s: %w", abs, err)
			}
			continue
		}
		roots = append(roots, watchRoot{path: abs, dir: true})
		if err := addWatchDirs(watcher, abs, m); err != nil {
			return err
		}
	}

	cmd.Println("Watching for changes. Press Ctrl+C to stop.")

	pending := make(map[string]time.Time)
	ticker := time.NewTicker(watchDebounce / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watch error: %v", err)

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
				if ev.Op&fsnotify.Create != 0 {
					_ = addWatchDirs(watcher, ev.Name, m)
				}
				continue
			}
			if watchedFile(roots, ev.Name, m) {
				pending[ev.Name] = time.Now()
			}

		case now := <-ticker.C:
			for path, at := range pending {
				if now.Sub(at) < watchDebounce {
					continue
				}
				delete(pending, path)
				reingest(ctx, cmd, path, category, byPath)
			}
		}
	}
}

func addWatchDirs(w *fsnotify.Watcher, root string, m *fileMatcher) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return err
		}
		if rel, _ := filepath.Rel(root, path); rel != "." && m.skipDir(rel) {
			return filepath.SkipDir
		}
		if err := w.Add(path); err != nil {
			return fmt.Errorf("watching %s: %w", path, err)
		}
		return nil
	})
}

// watchRoot is one command line path being watched.
type watchRoot struct {
	path string
	dir  bool
}

// watchedFile reports whether an event path belongs to the ingested set:
// either a file named on the command line or a match under a directory.
func watchedFile(roots []watchRoot, path string, m *fileMatcher) bool {
	for _, r := range roots {
		if !r.dir {
			if path == r.path {
				return true
			}
			continue
		}
		rel, err := filepath.Rel(r.path, path)
		if err == nil && !strings.HasPrefix(rel, "..") && m.match(rel) {
			return true
		}
	}
	return false
}

func reingest(ctx context.Context, cmd *cobra.Command, path string, category domain.Category, byPath map[string]string) {
	if old, ok := byPath[path]; ok {
		if err := documentService.Delete(ctx, old); err != nil && !errors.Is(err, domain.ErrNotFound) {
			logger.Warn("removing previous version of %s: %v", path, err)
		}
		delete(byPath, path)
	}

	req, err := ingestRequestForFile(path, ingestTitle, ingestDescription, category)
	if err != nil {
		cmd.PrintErrf("  ✗ %s: %v\n", filepath.Base(path), err)
		return
	}
	ack, err := ingestionService.Ingest(ctx, req)
	if err != nil {
		cmd.PrintErrf("  ✗ %s: %v\n", filepath.Base(path), err)
		return
	}
	docs, err := waitForDocuments(ctx, []string{ack.ID})
	if err != nil {
		cmd.PrintErrf("  ✗ %s: %v\n", filepath.Base(path), err)
		return
	}
	byPath[path] = ack.ID
	_ = outputIngestResults(cmd, docs)
}
