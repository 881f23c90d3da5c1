package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database holding notebooks, sources, segments,
// chat messages, and the segment vector index.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending
// migrations. Pass ":memory:" as dataDir for an in-memory database (used
// by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "notebookd.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode so status polls are never blocked by ingestion writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying connection for the vector store, which shares
// this database.
func (s *Store) DB() *sql.DB {
	return s.db
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// --- Notebooks ---

func (s *Store) CreateNotebook(nb Notebook) error {
	_, err := s.db.Exec(`INSERT INTO notebooks (id, title, created_at) VALUES (?, ?, ?)`,
		nb.ID, nb.Title, nb.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("creating notebook: %w", err)
	}
	// Fresh notebooks greet the user.
	return s.AppendMessage(Message{
		ID:         nb.ID + "-seed",
		NotebookID: nb.ID,
		Role:       "assistant",
		Content:    SeedGreeting,
		CreatedAt:  nb.CreatedAt,
	})
}

func (s *Store) GetNotebook(id string) (Notebook, error) {
	var nb Notebook
	var createdAt string
	err := s.db.QueryRow(`SELECT id, title, created_at FROM notebooks WHERE id = ?`, id).
		Scan(&nb.ID, &nb.Title, &createdAt)
	if err == sql.ErrNoRows {
		return Notebook{}, ErrNotFound
	}
	if err != nil {
		return Notebook{}, err
	}
	nb.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return Notebook{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return nb, nil
}

func (s *Store) ListNotebooks() ([]Notebook, error) {
	rows, err := s.db.Query(`SELECT id, title, created_at FROM notebooks ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notebooks []Notebook
	for rows.Next() {
		var nb Notebook
		var createdAt string
		if err := rows.Scan(&nb.ID, &nb.Title, &createdAt); err != nil {
			return nil, err
		}
		if nb.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		notebooks = append(notebooks, nb)
	}
	return notebooks, rows.Err()
}

func (s *Store) RenameNotebook(id, title string) error {
	res, err := s.db.Exec(`UPDATE notebooks SET title = ? WHERE id = ?`, title, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteNotebook removes a notebook and everything it owns: sources,
// segments, messages, and vector records. One transaction, so a reader
// never observes a half-deleted notebook.
func (s *Store) DeleteNotebook(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning delete transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`DELETE FROM notebooks WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}

	for _, q := range []string{
		`DELETE FROM sources WHERE notebook_id = ?`,
		`DELETE FROM segments WHERE notebook_id = ?`,
		`DELETE FROM messages WHERE notebook_id = ?`,
		`DELETE FROM segment_vectors WHERE notebook_id = ?`,
	} {
		if _, err := tx.Exec(q, id); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// --- Sources ---

// CreateSource inserts a source in queued status. An existing source with
// the same name is replaced: re-upload supersedes.
func (s *Store) CreateSource(src Source, raw []byte) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning source transaction: %w", err)
	}
	defer tx.Rollback()

	// Replacement clears previous segments; vectors are cleared by the
	// indexer before new ones are written.
	if _, err := tx.Exec(`DELETE FROM segments WHERE notebook_id = ? AND source_name = ?`,
		src.NotebookID, src.Name); err != nil {
		return err
	}

	_, err = tx.Exec(`
		INSERT OR REPLACE INTO sources (notebook_id, name, kind, status, error, content, raw, byte_size, created_at)
		VALUES (?, ?, ?, ?, '', '', ?, ?, ?)`,
		src.NotebookID, src.Name, src.Kind, StatusQueued, raw, int64(len(raw)),
		src.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return err
	}
	return tx.Commit()
}

const sourceColumns = `notebook_id, name, kind, status, error, content, byte_size, created_at`

func scanSource(scan func(...any) error) (Source, error) {
	var src Source
	var createdAt string
	if err := scan(&src.NotebookID, &src.Name, &src.Kind, &src.Status, &src.Error,
		&src.Content, &src.ByteSize, &createdAt); err != nil {
		return Source{}, err
	}
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return Source{}, fmt.Errorf("parsing created_at: %w", err)
	}
	src.CreatedAt = t
	return src, nil
}

func (s *Store) GetSource(notebookID, name string) (Source, error) {
	row := s.db.QueryRow(`SELECT `+sourceColumns+` FROM sources WHERE notebook_id = ? AND name = ?`,
		notebookID, name)
	src, err := scanSource(row.Scan)
	if err == sql.ErrNoRows {
		return Source{}, ErrNotFound
	}
	return src, err
}

func (s *Store) GetSourceRaw(notebookID, name string) ([]byte, error) {
	var raw []byte
	err := s.db.QueryRow(`SELECT raw FROM sources WHERE notebook_id = ? AND name = ?`,
		notebookID, name).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return raw, err
}

func (s *Store) ListSources(notebookID string) ([]Source, error) {
	rows, err := s.db.Query(`SELECT `+sourceColumns+` FROM sources WHERE notebook_id = ? ORDER BY created_at ASC, name ASC`,
		notebookID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sources []Source
	for rows.Next() {
		src, err := scanSource(rows.Scan)
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
	}
	return sources, rows.Err()
}

func (s *Store) SetSourceStatus(notebookID, name, status string) error {
	res, err := s.db.Exec(`UPDATE sources SET status = ? WHERE notebook_id = ? AND name = ?`,
		status, notebookID, name)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetSourceError marks a source failed with a human-readable reason.
func (s *Store) SetSourceError(notebookID, name, reason string) error {
	res, err := s.db.Exec(`UPDATE sources SET status = ?, error = ? WHERE notebook_id = ? AND name = ?`,
		StatusError, reason, notebookID, name)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetSourceReady stores the extracted text and marks the source ready.
// Kind is updated too: a URL declared "web" may resolve to "audio".
func (s *Store) SetSourceReady(notebookID, name, kind, content string) error {
	res, err := s.db.Exec(`
		UPDATE sources SET status = ?, error = '', kind = ?, content = ?
		WHERE notebook_id = ? AND name = ?`,
		StatusReady, kind, content, notebookID, name)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteSource removes the source row, its segments, and its vector
// records in one transaction. A retrieval that commits after this one
// can never return the removed source.
func (s *Store) DeleteSource(notebookID, name string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning delete transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`DELETE FROM sources WHERE notebook_id = ? AND name = ?`, notebookID, name)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}

	if _, err := tx.Exec(`DELETE FROM segments WHERE notebook_id = ? AND source_name = ?`, notebookID, name); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM segment_vectors WHERE notebook_id = ? AND source_name = ?`, notebookID, name); err != nil {
		return err
	}

	return tx.Commit()
}

// FailInFlightSources marks all non-terminal sources as errored. Called on
// startup: ingestion jobs are transient and do not survive a restart.
func (s *Store) FailInFlightSources(reason string) error {
	_, err := s.db.Exec(`UPDATE sources SET status = ?, error = ? WHERE status IN (?, ?, ?)`,
		StatusError, reason, StatusQueued, StatusParsing, StatusEmbedding)
	return err
}

// --- Segments ---

// ReplaceSegments swaps a source's segment rows for a fresh set.
func (s *Store) ReplaceSegments(notebookID, sourceName string, segs []SegmentRow) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning segments transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM segments WHERE notebook_id = ? AND source_name = ?`,
		notebookID, sourceName); err != nil {
		return err
	}

	stmt, err := tx.Prepare(`INSERT INTO segments (notebook_id, source_name, seq, text, locator) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing segment insert: %w", err)
	}
	defer stmt.Close()

	for _, seg := range segs {
		if _, err := stmt.Exec(notebookID, sourceName, seg.Seq, seg.Text, seg.Locator); err != nil {
			return fmt.Errorf("inserting segment %d: %w", seg.Seq, err)
		}
	}

	return tx.Commit()
}

func (s *Store) ListSegments(notebookID, sourceName string) ([]SegmentRow, error) {
	rows, err := s.db.Query(`
		SELECT notebook_id, source_name, seq, text, locator
		FROM segments WHERE notebook_id = ? AND source_name = ? ORDER BY seq ASC`,
		notebookID, sourceName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var segs []SegmentRow
	for rows.Next() {
		var seg SegmentRow
		if err := rows.Scan(&seg.NotebookID, &seg.SourceName, &seg.Seq, &seg.Text, &seg.Locator); err != nil {
			return nil, err
		}
		segs = append(segs, seg)
	}
	return segs, rows.Err()
}

func (s *Store) CountSegments(notebookID, sourceName string) (int, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM segments WHERE notebook_id = ? AND source_name = ?`,
		notebookID, sourceName).Scan(&count)
	return count, err
}

// --- Messages ---

func (s *Store) AppendMessage(m Message) error {
	createdAt := m.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO messages (id, notebook_id, role, content, citations, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		m.ID, m.NotebookID, m.Role, m.Content, m.Citations, createdAt.UTC().Format(time.RFC3339))
	return err
}

func (s *Store) ListMessages(notebookID string) ([]Message, error) {
	rows, err := s.db.Query(`
		SELECT id, notebook_id, role, content, citations, created_at
		FROM messages WHERE notebook_id = ? ORDER BY created_at ASC, id ASC`,
		notebookID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		var createdAt string
		if err := rows.Scan(&m.ID, &m.NotebookID, &m.Role, &m.Content, &m.Citations, &createdAt); err != nil {
			return nil, err
		}
		if m.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// ClearMessages replaces a notebook's history with the seed greeting.
func (s *Store) ClearMessages(notebookID string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning clear transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM messages WHERE notebook_id = ?`, notebookID); err != nil {
		return err
	}
	now := time.Now().UTC()
	if _, err := tx.Exec(`
		INSERT INTO messages (id, notebook_id, role, content, citations, created_at)
		VALUES (?, ?, 'assistant', ?, '', ?)`,
		notebookID+"-seed-"+now.Format("20060102150405"), notebookID, SeedGreeting,
		now.Format(time.RFC3339)); err != nil {
		return err
	}
	return tx.Commit()
}

// --- Stats ---

func (s *Store) GetStats() (Stats, error) {
	var st Stats
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM notebooks`).Scan(&st.Notebooks); err != nil {
		return Stats{}, err
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM sources`).Scan(&st.Sources); err != nil {
		return Stats{}, err
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&st.Messages); err != nil {
		return Stats{}, err
	}
	if err := s.db.QueryRow(`SELECT COALESCE(SUM(byte_size), 0) FROM sources`).Scan(&st.StorageBytes); err != nil {
		return Stats{}, err
	}
	return st, nil
}
