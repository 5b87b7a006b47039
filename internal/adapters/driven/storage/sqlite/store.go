package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/custodia-labs/mizan/internal/adapters/driven/storage/sqlite/migrations"
	"github.com/custodia-labs/mizan/internal/core/domain"
	"github.com/custodia-labs/mizan/internal/core/ports/driven"
)

// Store is a SQLite database holding documents and their chunks.
type Store struct {
	db   *sql.DB
	path string
}

// NewStore creates a new SQLite store at the specified data directory.
// If dataDir is empty, defaults to ~/.mizan/data/metadata.db.
func NewStore(dataDir string) (*Store, error) {
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("getting home directory: %w", err)
		}
		dataDir = filepath.Join(home, ".mizan", "data")
	}

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "metadata.db")

	// Pragmas in the DSN apply to every pooled connection.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{
		db:   db,
		path: dbPath,
	}

	if err := s.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// DocumentStore returns a DocumentStore interface backed by this store.
func (s *Store) DocumentStore() driven.DocumentStore {
	return &documentStore{store: s}
}

// migrate runs all pending migrations.
func (s *Store) migrate(fsys embed.FS) error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var currentVersion int
	row := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	var upFiles []string
	for _, entry := range entries {
		if name := entry.Name(); strings.HasSuffix(name, ".up.sql") {
			upFiles = append(upFiles, name)
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		// "001_documents.up.sql" -> 1
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}
		if version <= currentVersion {
			continue
		}

		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}
		if _, err := s.db.Exec(string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
	}

	return nil
}

// documentStore implements driven.DocumentStore.
type documentStore struct {
	store *Store
}

var _ driven.DocumentStore = (*documentStore)(nil)

const documentColumns = `id, title, description, category, file_path, file_type,
	status, status_reason, chunk_count, created_at, updated_at`

const chunkColumns = `id, document_id, position, content, span_start, span_end, overlap`

// SaveDocument stores or updates a document.
func (s *documentStore) SaveDocument(ctx context.Context, doc *domain.Document) error {
	_, err := s.store.db.ExecContext(ctx, `
		INSERT INTO documents (`+documentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			category = excluded.category,
			file_path = excluded.file_path,
			file_type = excluded.file_type,
			status = excluded.status,
			status_reason = excluded.status_reason,
			chunk_count = excluded.chunk_count,
			updated_at = excluded.updated_at
	`, doc.ID, doc.Title, doc.Description, string(doc.Category), doc.FilePath, string(doc.FileType),
		string(doc.Status), doc.StatusReason, doc.ChunkCount,
		toUnix(doc.CreatedAt), toUnix(doc.UpdatedAt))
	if err != nil {
		return fmt.Errorf("saving document: %w", err)
	}
	return nil
}

// UpdateStatus changes the status fields of a document still in from.
func (s *documentStore) UpdateStatus(ctx context.Context, doc *domain.Document, from domain.DocumentStatus) error {
	res, err := s.store.db.ExecContext(ctx, `
		UPDATE documents
		SET status = ?, status_reason = ?, chunk_count = ?, updated_at = ?
		WHERE id = ? AND status = ?
	`, string(doc.Status), doc.StatusReason, doc.ChunkCount, toUnix(doc.UpdatedAt), doc.ID, string(from))
	if err != nil {
		return fmt.Errorf("updating document status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating document status: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("document %s in status %s: %w", doc.ID, from, domain.ErrNotFound)
	}
	return nil
}

// GetDocument retrieves a document by ID.
func (s *documentStore) GetDocument(ctx context.Context, id string) (*domain.Document, error) {
	row := s.store.db.QueryRowContext(ctx,
		"SELECT "+documentColumns+" FROM documents WHERE id = ?", id)

	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", id, domain.ErrNotFound)
	}
	return doc, err
}

// ListDocuments returns documents newest first, optionally of one category.
func (s *documentStore) ListDocuments(ctx context.Context, category *domain.Category) ([]domain.Document, error) {
	query := "SELECT " + documentColumns + " FROM documents"
	var args []any
	if category != nil {
		query += " WHERE category = ?"
		args = append(args, string(*category))
	}
	query += " ORDER BY created_at DESC, id ASC"

	rows, err := s.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying documents: %w", err)
	}
	defer rows.Close()

	docs := []domain.Document{}
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating documents: %w", err)
	}
	return docs, nil
}

// DeleteDocument removes a document. Its chunks go with it through the
// foreign key cascade.
func (s *documentStore) DeleteDocument(ctx context.Context, id string) error {
	res, err := s.store.db.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting document: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting document: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("document %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// SaveChunks stores chunks, replacing the earlier chunks of every document
// they belong to. Embeddings are not persisted.
func (s *documentStore) SaveChunks(ctx context.Context, chunks []domain.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	tx, err := s.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	cleared := make(map[string]bool)
	for _, c := range chunks {
		if cleared[c.DocumentID] {
			continue
		}
		var one int
		err := tx.QueryRowContext(ctx, "SELECT 1 FROM documents WHERE id = ?", c.DocumentID).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("document %s: %w", c.DocumentID, domain.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("checking document: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM chunks WHERE document_id = ?", c.DocumentID); err != nil {
			return fmt.Errorf("clearing chunks: %w", err)
		}
		cleared[c.DocumentID] = true
	}

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO chunks ("+chunkColumns+") VALUES (?, ?, ?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		if _, err := stmt.ExecContext(ctx, c.ID, c.DocumentID, c.Position, c.Content,
			c.Span.Start, c.Span.End, c.Overlap); err != nil {
			return fmt.Errorf("saving chunk %s: %w", c.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// GetChunks retrieves all chunks for a document ordered by position.
func (s *documentStore) GetChunks(ctx context.Context, documentID string) ([]domain.Chunk, error) {
	rows, err := s.store.db.QueryContext(ctx,
		"SELECT "+chunkColumns+" FROM chunks WHERE document_id = ? ORDER BY position", documentID)
	if err != nil {
		return nil, fmt.Errorf("querying chunks: %w", err)
	}
	defer rows.Close()

	var chunks []domain.Chunk //nolint:prealloc // size unknown from query
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, *chunk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating chunks: %w", err)
	}
	return chunks, nil
}

// GetChunk retrieves a specific chunk by ID.
func (s *documentStore) GetChunk(ctx context.Context, id string) (*domain.Chunk, error) {
	row := s.store.db.QueryRowContext(ctx,
		"SELECT "+chunkColumns+" FROM chunks WHERE id = ?", id)

	chunk, err := scanChunk(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("chunk %s: %w", id, domain.ErrNotFound)
	}
	return chunk, err
}

// DeleteChunks removes every chunk of a document.
func (s *documentStore) DeleteChunks(ctx context.Context, documentID string) error {
	if _, err := s.store.db.ExecContext(ctx, "DELETE FROM chunks WHERE document_id = ?", documentID); err != nil {
		return fmt.Errorf("deleting chunks: %w", err)
	}
	return nil
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(row scanner) (*domain.Document, error) {
	var doc domain.Document
	var category, fileType, status string
	var createdAt, updatedAt int64

	err := row.Scan(&doc.ID, &doc.Title, &doc.Description, &category, &doc.FilePath, &fileType,
		&status, &doc.StatusReason, &doc.ChunkCount, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scanning document: %w", err)
	}

	doc.Category = domain.Category(category)
	doc.FileType = domain.FileType(fileType)
	doc.Status = domain.DocumentStatus(status)
	doc.CreatedAt = fromUnix(createdAt)
	doc.UpdatedAt = fromUnix(updatedAt)
	return &doc, nil
}

func scanChunk(row scanner) (*domain.Chunk, error) {
	var c domain.Chunk
	err := row.Scan(&c.ID, &c.DocumentID, &c.Position, &c.Content, &c.Span.Start, &c.Span.End, &c.Overlap)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scanning chunk: %w", err)
	}
	return &c, nil
}

// Timestamps are stored as Unix nanoseconds so ordering happens in SQL.
func toUnix(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnix(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}
