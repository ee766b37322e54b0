package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/pondera-systems/pondera/core"
	"github.com/pondera-systems/pondera/storage"
	"github.com/pondera-systems/pondera/storage/sqlite/migrations"
)

// Store is a SQLite-backed storage.MetadataStore. One database file holds
// sources, content items, and the ingestion job ledger.
type Store struct {
	db   *sql.DB
	path string
}

// NewStore creates a SQLite store in the given data directory. The
// directory is created if missing.
//
// Returns storage.MetadataStore to enforce abstraction.
func NewStore(dataDir string) (storage.MetadataStore, error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "metadata.db")

	// WAL mode for concurrent readers during ingestion
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &Store{db: db, path: dbPath}

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

// migrate runs all pending .up.sql migrations in filename order.
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
		if strings.HasSuffix(entry.Name(), ".up.sql") {
			upFiles = append(upFiles, entry.Name())
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
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

// isUniqueViolation reports whether err is a SQLite unique constraint
// failure.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// ==================== Sources ====================

// CreateSource persists a new source.
func (s *Store) CreateSource(ctx context.Context, source *core.Source) error {
	if err := core.ValidateSource(source); err != nil {
		return err
	}

	now := time.Now().UTC()
	if source.CreatedAt.IsZero() {
		source.CreatedAt = now
	}
	source.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sources (id, kind, key, title, description, last_fetched_at, item_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, source.ID, string(source.Kind), source.Key, source.Title, source.Description,
		nullTime(source.LastFetchedAt), source.ItemCount, source.CreatedAt, source.UpdatedAt)

	if isUniqueViolation(err) {
		return fmt.Errorf("source %s/%s: %w", source.Kind, source.Key, core.ErrDuplicateItem)
	}
	if err != nil {
		return fmt.Errorf("inserting source: %w", err)
	}
	return nil
}

// GetSource retrieves a source by ID.
func (s *Store) GetSource(ctx context.Context, id string) (*core.Source, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, kind, key, title, description, last_fetched_at, item_count, created_at, updated_at
		FROM sources WHERE id = ?
	`, id)
	return scanSource(row)
}

// GetSourceByKey retrieves a source by its (kind, key) identity.
func (s *Store) GetSourceByKey(ctx context.Context, kind core.SourceKind, key string) (*core.Source, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, kind, key, title, description, last_fetched_at, item_count, created_at, updated_at
		FROM sources WHERE kind = ? AND key = ?
	`, string(kind), key)
	return scanSource(row)
}

// ListSources retrieves all registered sources ordered by creation time.
func (s *Store) ListSources(ctx context.Context) ([]*core.Source, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, key, title, description, last_fetched_at, item_count, created_at, updated_at
		FROM sources ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("listing sources: %w", err)
	}
	defer rows.Close()

	var sources []*core.Source
	for rows.Next() {
		source, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		sources = append(sources, source)
	}
	return sources, rows.Err()
}

// UpdateSource updates a source's mutable fields.
func (s *Store) UpdateSource(ctx context.Context, source *core.Source) error {
	source.UpdatedAt = time.Now().UTC()

	res, err := s.db.ExecContext(ctx, `
		UPDATE sources
		SET title = ?, description = ?, last_fetched_at = ?, item_count = ?, updated_at = ?
		WHERE id = ?
	`, source.Title, source.Description, nullTime(source.LastFetchedAt),
		source.ItemCount, source.UpdatedAt, source.ID)
	if err != nil {
		return fmt.Errorf("updating source: %w", err)
	}
	return requireRow(res, source.ID)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSource(row rowScanner) (*core.Source, error) {
	var source core.Source
	var kind string
	var lastFetched sql.NullTime
	err := row.Scan(&source.ID, &kind, &source.Key, &source.Title, &source.Description,
		&lastFetched, &source.ItemCount, &source.CreatedAt, &source.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning source: %w", err)
	}
	source.Kind = core.SourceKind(kind)
	if lastFetched.Valid {
		source.LastFetchedAt = lastFetched.Time
	}
	return &source, nil
}

// ==================== Content items ====================

// CreateItem persists a new content item. The UNIQUE(source_id,
// identity_key) constraint is the deduplication ledger; a violation maps to
// core.ErrDuplicateItem.
func (s *Store) CreateItem(ctx context.Context, item *core.ContentItem) error {
	if err := core.ValidateItem(item); err != nil {
		return err
	}

	now := time.Now().UTC()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = now
	if item.Status == "" {
		item.Status = core.ItemStatusPending
	}

	chunkIDs, err := json.Marshal(item.ChunkIDs)
	if err != nil {
		return fmt.Errorf("%w: chunk ids", storage.ErrSerializationFailed)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO content_items (id, source_id, identity_key, title, media_url, doc_type,
			published_at, status, chunk_ids, attempts, last_error, processed_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, item.ID, item.SourceID, item.IdentityKey, item.Title, item.MediaURL, item.DocType,
		nullTime(item.PublishedAt), string(item.Status), string(chunkIDs),
		item.Attempts, item.LastError, nullTime(item.ProcessedAt), item.CreatedAt, item.UpdatedAt)

	if isUniqueViolation(err) {
		return fmt.Errorf("item %s: %w", item.IdentityKey, core.ErrDuplicateItem)
	}
	if err != nil {
		return fmt.Errorf("inserting content item: %w", err)
	}
	return nil
}

// GetItem retrieves a content item by ID.
func (s *Store) GetItem(ctx context.Context, id string) (*core.ContentItem, error) {
	row := s.db.QueryRowContext(ctx, itemSelect+` WHERE id = ?`, id)
	return scanItem(row)
}

// GetItemByIdentity retrieves an item by its dedup identity.
func (s *Store) GetItemByIdentity(ctx context.Context, sourceID, identityKey string) (*core.ContentItem, error) {
	row := s.db.QueryRowContext(ctx, itemSelect+` WHERE source_id = ? AND identity_key = ?`, sourceID, identityKey)
	return scanItem(row)
}

// ListItemsBySource retrieves all items for a source, newest first.
func (s *Store) ListItemsBySource(ctx context.Context, sourceID string) ([]*core.ContentItem, error) {
	rows, err := s.db.QueryContext(ctx, itemSelect+` WHERE source_id = ? ORDER BY published_at DESC, created_at DESC`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("listing items: %w", err)
	}
	defer rows.Close()
	return collectItems(rows)
}

// ListItemsByStatus retrieves all items in the given status.
func (s *Store) ListItemsByStatus(ctx context.Context, status core.ItemStatus) ([]*core.ContentItem, error) {
	rows, err := s.db.QueryContext(ctx, itemSelect+` WHERE status = ? ORDER BY created_at`, string(status))
	if err != nil {
		return nil, fmt.Errorf("listing items by status: %w", err)
	}
	defer rows.Close()
	return collectItems(rows)
}

// UpdateItem updates an item's processing state.
func (s *Store) UpdateItem(ctx context.Context, item *core.ContentItem) error {
	item.UpdatedAt = time.Now().UTC()

	chunkIDs, err := json.Marshal(item.ChunkIDs)
	if err != nil {
		return fmt.Errorf("%w: chunk ids", storage.ErrSerializationFailed)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE content_items
		SET title = ?, media_url = ?, doc_type = ?, published_at = ?, status = ?,
			chunk_ids = ?, attempts = ?, last_error = ?, processed_at = ?, updated_at = ?
		WHERE id = ?
	`, item.Title, item.MediaURL, item.DocType, nullTime(item.PublishedAt), string(item.Status),
		string(chunkIDs), item.Attempts, item.LastError, nullTime(item.ProcessedAt),
		item.UpdatedAt, item.ID)
	if err != nil {
		return fmt.Errorf("updating content item: %w", err)
	}
	return requireRow(res, item.ID)
}

const itemSelect = `
	SELECT id, source_id, identity_key, title, media_url, doc_type, published_at,
		status, chunk_ids, attempts, last_error, processed_at, created_at, updated_at
	FROM content_items`

func scanItem(row rowScanner) (*core.ContentItem, error) {
	var item core.ContentItem
	var status, chunkIDs string
	var publishedAt, processedAt sql.NullTime
	err := row.Scan(&item.ID, &item.SourceID, &item.IdentityKey, &item.Title, &item.MediaURL,
		&item.DocType, &publishedAt, &status, &chunkIDs, &item.Attempts, &item.LastError,
		&processedAt, &item.CreatedAt, &item.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning content item: %w", err)
	}
	item.Status = core.ItemStatus(status)
	if publishedAt.Valid {
		item.PublishedAt = publishedAt.Time
	}
	if processedAt.Valid {
		item.ProcessedAt = processedAt.Time
	}
	if err := json.Unmarshal([]byte(chunkIDs), &item.ChunkIDs); err != nil {
		return nil, fmt.Errorf("%w: chunk ids", storage.ErrSerializationFailed)
	}
	return &item, nil
}

func collectItems(rows *sql.Rows) ([]*core.ContentItem, error) {
	var items []*core.ContentItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// ==================== Ingestion jobs ====================

// CreateJob persists a new job. At most one non-terminal job may exist per
// item; a second scheduling attempt returns core.ErrItemInFlight.
func (s *Store) CreateJob(ctx context.Context, job *core.IngestionJob) error {
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = now
	if job.State == "" {
		job.State = core.JobStateQueued
	}

	// Insert guarded by the in-flight check in one statement so two
	// schedulers racing on the same item cannot both succeed.
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO ingestion_jobs (id, item_id, state, attempts, last_error, created_at, updated_at)
		SELECT ?, ?, ?, ?, ?, ?, ?
		WHERE NOT EXISTS (
			SELECT 1 FROM ingestion_jobs
			WHERE item_id = ? AND state NOT IN (?, ?)
		)
	`, job.ID, job.ItemID, string(job.State), job.Attempts, job.LastError, job.CreatedAt, job.UpdatedAt,
		job.ItemID, string(core.JobStateSucceeded), string(core.JobStateFailedTerminal))
	if err != nil {
		return fmt.Errorf("inserting job: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("inserting job: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("item %s: %w", job.ItemID, core.ErrItemInFlight)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, id string) (*core.IngestionJob, error) {
	row := s.db.QueryRowContext(ctx, jobSelect+` WHERE id = ?`, id)
	return scanJob(row)
}

// GetActiveJobForItem retrieves the item's non-terminal job, if any.
func (s *Store) GetActiveJobForItem(ctx context.Context, itemID string) (*core.IngestionJob, error) {
	row := s.db.QueryRowContext(ctx, jobSelect+`
		WHERE item_id = ? AND state NOT IN (?, ?)
		ORDER BY created_at DESC LIMIT 1
	`, itemID, string(core.JobStateSucceeded), string(core.JobStateFailedTerminal))
	return scanJob(row)
}

// ListJobsByState retrieves all jobs in the given state.
func (s *Store) ListJobsByState(ctx context.Context, state core.JobState) ([]*core.IngestionJob, error) {
	rows, err := s.db.QueryContext(ctx, jobSelect+` WHERE state = ? ORDER BY created_at`, string(state))
	if err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*core.IngestionJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// UpdateJob updates a job's state, attempts, and error message.
func (s *Store) UpdateJob(ctx context.Context, job *core.IngestionJob) error {
	job.UpdatedAt = time.Now().UTC()

	res, err := s.db.ExecContext(ctx, `
		UPDATE ingestion_jobs
		SET state = ?, attempts = ?, last_error = ?, updated_at = ?
		WHERE id = ?
	`, string(job.State), job.Attempts, job.LastError, job.UpdatedAt, job.ID)
	if err != nil {
		return fmt.Errorf("updating job: %w", err)
	}
	return requireRow(res, job.ID)
}

const jobSelect = `
	SELECT id, item_id, state, attempts, last_error, created_at, updated_at
	FROM ingestion_jobs`

func scanJob(row rowScanner) (*core.IngestionJob, error) {
	var job core.IngestionJob
	var state string
	err := row.Scan(&job.ID, &job.ItemID, &state, &job.Attempts, &job.LastError,
		&job.CreatedAt, &job.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning job: %w", err)
	}
	job.State = core.JobState(state)
	return &job, nil
}

// ==================== Helpers ====================

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

func requireRow(res sql.Result, id string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%s: %w", id, core.ErrNotFound)
	}
	return nil
}
