package indexstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/root-indexer/ridx/filesystem/crawler"
	"github.com/ZanzyTHEbar/root-indexer/ridx/roots"

	_ "github.com/tursodatabase/go-libsql"
)

// Store is the libsql backed Provider
type Store struct {
	db *sql.DB
}

// Open connects to dsn and creates the schema. Local "file:" databases get
// their parent directory created.
func Open(dsn string) (*Store, error) {
	if path, ok := strings.CutPrefix(dsn, "file:"); ok {
		if i := strings.IndexByte(path, '?'); i >= 0 {
			path = path[:i]
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("could not create store directory: %w", err)
		}
	}

	db, err := sql.Open("libsql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create database connector: %w", err)
	}
	s := &Store{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	slog.Debug("Index store opened", "dsn", dsn)
	return s, nil
}

// init sets up the store tables
func (s *Store) init() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS documents (
		root TEXT NOT NULL,
		path TEXT NOT NULL,
		url TEXT NOT NULL,
		mime_type TEXT,
		size INTEGER,
		mod_time INTEGER,
		indexed_at INTEGER NOT NULL,
		PRIMARY KEY (root, path)
	)`)
	if err != nil {
		return fmt.Errorf("failed to create documents table: %w", err)
	}

	_, err = s.db.Exec(`CREATE TABLE IF NOT EXISTS binaries (
		root TEXT PRIMARY KEY,
		size INTEGER,
		indexed_at INTEGER NOT NULL
	)`)
	if err != nil {
		return fmt.Errorf("failed to create binaries table: %w", err)
	}

	_, err = s.db.Exec(`CREATE TABLE IF NOT EXISTS scans (
		root TEXT PRIMARY KEY,
		started_at INTEGER NOT NULL,
		completed_at INTEGER NOT NULL DEFAULT 0,
		all_files INTEGER NOT NULL DEFAULT 0
	)`)
	if err != nil {
		return fmt.Errorf("failed to create scans table: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Index upserts a document for every item still present on disk
func (s *Store) Index(ctx context.Context, root roots.Root, items []crawler.Indexable) error {
	if len(items) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() // no-op once committed

	now := time.Now().UnixMilli()
	indexed := 0
	for _, item := range items {
		file, ok := item.File()
		if !ok {
			continue
		}
		info, err := os.Stat(file)
		if err != nil {
			slog.Debug("Skipping vanished file", "root", root, "path", item.RelativePath(), "error", err)
			continue
		}
		_, err = tx.ExecContext(ctx, `INSERT INTO documents (root, path, url, mime_type, size, mod_time, indexed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (root, path) DO UPDATE SET
				url = excluded.url,
				mime_type = excluded.mime_type,
				size = excluded.size,
				mod_time = excluded.mod_time,
				indexed_at = excluded.indexed_at`,
			string(root), item.RelativePath(), item.URL(), item.MimeType(), info.Size(), info.ModTime().UnixMilli(), now)
		if err != nil {
			return fmt.Errorf("failed to index %s: %w", item.RelativePath(), err)
		}
		indexed++
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	slog.Debug("Indexed documents", "root", root, "count", indexed)
	return nil
}

// Delete removes the documents of paths
func (s *Store) Delete(ctx context.Context, root roots.Root, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, p := range paths {
		if _, err := tx.ExecContext(ctx, "DELETE FROM documents WHERE root = ? AND path = ?", string(root), p); err != nil {
			return fmt.Errorf("failed to delete %s: %w", p, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	slog.Debug("Deleted documents", "root", root, "count", len(paths))
	return nil
}

// DeleteRoot removes every document of root and its scan history
func (s *Store) DeleteRoot(ctx context.Context, root roots.Root) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM documents WHERE root = ?", string(root)); err != nil {
		return fmt.Errorf("failed to delete root %s: %w", root, err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM scans WHERE root = ?", string(root)); err != nil {
		return fmt.Errorf("failed to delete scans of %s: %w", root, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ScanStarted records the start of a crawl. The documents of root are only
// trusted when an earlier crawl completed against this database.
func (s *Store) ScanStarted(ctx context.Context, root roots.Root) bool {
	var completed int64
	err := s.db.QueryRowContext(ctx, "SELECT completed_at FROM scans WHERE root = ?", string(root)).Scan(&completed)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		slog.Warn("Cannot read scan history, keeping documents", "root", root, "error", err)
		return true
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO scans (root, started_at) VALUES (?, ?)
		ON CONFLICT (root) DO UPDATE SET started_at = excluded.started_at`,
		string(root), time.Now().UnixMilli())
	if err != nil {
		slog.Warn("Cannot record scan start", "root", root, "error", err)
	}
	return completed > 0
}

// ScanFinished records a completed crawl; abandoned crawls leave the history as is
func (s *Store) ScanFinished(ctx context.Context, root roots.Root, info ScanInfo) {
	if !info.Finished {
		return
	}
	_, err := s.db.ExecContext(ctx, "UPDATE scans SET completed_at = ?, all_files = ? WHERE root = ?",
		time.Now().UnixMilli(), info.AllFiles, string(root))
	if err != nil {
		slog.Warn("Cannot record scan end", "root", root, "error", err)
	}
}

// IndexBinary records a binary root. Local binaries must exist.
func (s *Store) IndexBinary(ctx context.Context, root roots.Root) error {
	size, err := binarySize(root)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO binaries (root, size, indexed_at) VALUES (?, ?, ?)
		ON CONFLICT (root) DO UPDATE SET size = excluded.size, indexed_at = excluded.indexed_at`,
		string(root), size, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to index binary %s: %w", root, err)
	}
	return nil
}

// DeleteBinary forgets a binary root
func (s *Store) DeleteBinary(ctx context.Context, root roots.Root) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM binaries WHERE root = ?", string(root)); err != nil {
		return fmt.Errorf("failed to delete binary %s: %w", root, err)
	}
	return nil
}

// Documents lists the documents of root ordered by path
func (s *Store) Documents(ctx context.Context, root roots.Root) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT path, url, mime_type, size, mod_time, indexed_at
		FROM documents WHERE root = ? ORDER BY path`, string(root))
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var (
			d                  Document
			mime               sql.NullString
			modTime, indexedAt int64
		)
		if err := rows.Scan(&d.Path, &d.URL, &mime, &d.Size, &modTime, &indexedAt); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		d.Root = root
		d.MimeType = mime.String
		d.ModTime = time.UnixMilli(modTime)
		d.IndexedAt = time.UnixMilli(indexedAt)
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// Binaries lists the indexed binary roots ordered by root
func (s *Store) Binaries(ctx context.Context) ([]Binary, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT root, size, indexed_at FROM binaries ORDER BY root")
	if err != nil {
		return nil, fmt.Errorf("failed to query binaries: %w", err)
	}
	defer rows.Close()

	var out []Binary
	for rows.Next() {
		var (
			b         Binary
			root      string
			indexedAt int64
		)
		if err := rows.Scan(&root, &b.Size, &indexedAt); err != nil {
			return nil, fmt.Errorf("failed to scan binary: %w", err)
		}
		b.Root = roots.Root(root)
		b.IndexedAt = time.UnixMilli(indexedAt)
		out = append(out, b)
	}
	return out, rows.Err()
}

// binarySize stats local binary roots; non-local roots report zero
func binarySize(root roots.Root) (int64, error) {
	path, ok := root.Path()
	if !ok {
		return 0, nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", root, ErrBinaryMissing)
	}
	return info.Size(), nil
}
