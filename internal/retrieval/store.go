package retrieval

import (
	"container/heap"
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"time"
)

// Compile-time check that SQLiteStore implements VectorStore.
var _ VectorStore = (*SQLiteStore)(nil)

// SQLiteStore provides vector storage and brute-force cosine similarity
// search backed by SQLite. Scope filtering happens in SQL, so the linear
// scan only ever touches one notebook's vectors.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore wraps an existing *sql.DB for vector operations.
// The segment_vectors table must already exist (created via migrations).
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Insert adds records to the segment_vectors table in one transaction.
func (s *SQLiteStore) Insert(ctx context.Context, records []Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning insert transaction: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO segment_vectors (id, notebook_id, source_name, seq, text_chunk, locator, embedding, embedding_model, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("preparing insert statement: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		blob := encodeFloat32s(r.Embedding)
		createdAt := r.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		if _, err := stmt.Exec(r.ID, r.NotebookID, r.SourceName, r.Seq, r.TextChunk, r.Locator, blob, r.EmbeddingModel, createdAt.Format(time.RFC3339)); err != nil {
			tx.Rollback()
			return fmt.Errorf("inserting record %s: %w", r.ID, err)
		}
	}

	return tx.Commit()
}

// idScore holds only the ID and score during the scan phase of Search.
// Full record details are fetched only for top-K winners.
type idScore struct {
	ID    string
	Score float32
}

// Search performs brute-force cosine similarity search over the scoped
// vectors, returning the top-K most similar records.
func (s *SQLiteStore) Search(ctx context.Context, vector []float32, topK int, scope Scope) ([]ScoredRecord, error) {
	if topK <= 0 || len(scope.SourceNames) == 0 {
		return nil, nil
	}

	queryNorm := norm(vector)
	if queryNorm == 0 {
		return nil, nil
	}

	// Phase 1: scan only id + embedding within the scope to find
	// top-K candidates.
	where, args := scopeClause(scope)
	rows, err := s.db.QueryContext(ctx, `SELECT id, embedding FROM segment_vectors WHERE `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("querying vectors: %w", err)
	}
	defer rows.Close()

	h := &idScoreHeap{}
	heap.Init(h)

	// Reusable buffer for decoding embeddings to avoid per-row allocations.
	var buf []float32

	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}

		buf, err = decodeFloat32sInto(buf, blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding for %s: %w", id, err)
		}

		score := dotProduct(vector, buf, queryNorm)
		if h.Len() < topK {
			heap.Push(h, idScore{ID: id, Score: score})
		} else if score > (*h)[0].Score {
			(*h)[0] = idScore{ID: id, Score: score}
			heap.Fix(h, 0)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}

	if h.Len() == 0 {
		return nil, nil
	}

	// Phase 2: fetch full records only for the top-K IDs.
	topIDs := make([]string, h.Len())
	scores := make(map[string]float32, h.Len())
	for i := len(topIDs) - 1; i >= 0; i-- {
		item := heap.Pop(h).(idScore)
		topIDs[i] = item.ID
		scores[item.ID] = item.Score
	}

	queryArgs := make([]any, len(topIDs))
	for i, id := range topIDs {
		queryArgs[i] = id
	}
	fullQuery := `SELECT id, notebook_id, source_name, seq, text_chunk, locator, embedding, embedding_model, created_at
		FROM segment_vectors WHERE id IN (?` + strings.Repeat(",?", len(topIDs)-1) + `)`

	fullRows, err := s.db.QueryContext(ctx, fullQuery, queryArgs...)
	if err != nil {
		return nil, fmt.Errorf("fetching top-K records: %w", err)
	}
	defer fullRows.Close()

	var results []ScoredRecord
	for fullRows.Next() {
		r, err := scanRecord(fullRows)
		if err != nil {
			return nil, err
		}
		results = append(results, ScoredRecord{Record: r, Score: scores[r.ID]})
	}
	if err := fullRows.Err(); err != nil {
		return nil, fmt.Errorf("iterating full records: %w", err)
	}

	// Sort by score descending, ties by segment order, so results are
	// stable (the IN query does not preserve order).
	sortScored(results)

	return results, nil
}

// scopeClause builds the WHERE predicate for a scope.
func scopeClause(scope Scope) (string, []any) {
	args := []any{scope.NotebookID, scope.EmbeddingModel}
	clause := `notebook_id = ? AND embedding_model = ? AND source_name IN (?` +
		strings.Repeat(",?", len(scope.SourceNames)-1) + `)`
	for _, name := range scope.SourceNames {
		args = append(args, name)
	}
	return clause, args
}

func scanRecord(rows *sql.Rows) (Record, error) {
	var r Record
	var blob []byte
	var createdAt string
	if err := rows.Scan(&r.ID, &r.NotebookID, &r.SourceName, &r.Seq, &r.TextChunk, &r.Locator, &blob, &r.EmbeddingModel, &createdAt); err != nil {
		return Record{}, fmt.Errorf("scanning record: %w", err)
	}
	embedding, err := decodeFloat32s(blob)
	if err != nil {
		return Record{}, fmt.Errorf("decoding embedding for %s: %w", r.ID, err)
	}
	r.Embedding = embedding
	t, err := time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return Record{}, fmt.Errorf("parsing created_at for %s: %w", r.ID, err)
	}
	r.CreatedAt = t
	return r, nil
}

// sortScored sorts by Score descending, ties broken by ascending segment
// sequence. Used for small slices (topK).
func sortScored(results []ScoredRecord) {
	less := func(a, b ScoredRecord) bool {
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		return a.Seq < b.Seq
	}
	for i := 1; i < len(results); i++ {
		for j := i; j > 0 && less(results[j], results[j-1]); j-- {
			results[j], results[j-1] = results[j-1], results[j]
		}
	}
}

// DeleteSource removes all records of one source in a notebook.
func (s *SQLiteStore) DeleteSource(ctx context.Context, notebookID, sourceName string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM segment_vectors WHERE notebook_id = ? AND source_name = ?", notebookID, sourceName)
	if err != nil {
		return 0, fmt.Errorf("deleting vectors for %s/%s: %w", notebookID, sourceName, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// DeleteNotebook removes all records of a notebook.
func (s *SQLiteStore) DeleteNotebook(ctx context.Context, notebookID string) error {
	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM segment_vectors WHERE notebook_id = ?", notebookID); err != nil {
		return fmt.Errorf("deleting vectors for notebook %s: %w", notebookID, err)
	}
	return nil
}

// Count returns the number of records stored for a notebook.
func (s *SQLiteStore) Count(ctx context.Context, notebookID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM segment_vectors WHERE notebook_id = ?", notebookID).Scan(&count)
	return count, err
}

// encodeFloat32s serializes a float32 slice to little-endian bytes.
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32s deserializes little-endian bytes into a new float32 slice.
// Returns an error if the byte slice length is not a multiple of 4 (indicates data corruption).
func decodeFloat32s(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	v := make([]float32, n)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}

// decodeFloat32sInto decodes little-endian bytes into the provided buffer,
// reusing it to avoid per-row allocations during search scans.
func decodeFloat32sInto(buf []float32, b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	if cap(buf) < n {
		buf = make([]float32, n)
	} else {
		buf = buf[:n]
	}
	for i := range buf {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return buf, nil
}

// norm returns the L2 norm of a vector.
func norm(v []float32) float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return float32(math.Sqrt(sum))
}

// dotProduct computes cosine similarity as dot(a,b) / (aNorm * bNorm).
// aNorm is the precomputed L2 norm of vector a.
func dotProduct(a, b []float32, aNorm float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot float64
	var bNormSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		bNormSq += float64(b[i]) * float64(b[i])
	}
	bNorm := math.Sqrt(bNormSq)
	if bNorm == 0 {
		return 0
	}
	return float32(dot / (float64(aNorm) * bNorm))
}

// idScoreHeap is a min-heap of idScore ordered by Score.
// Used during the scan phase of Search to track top-K candidates by ID only.
type idScoreHeap []idScore

func (h idScoreHeap) Len() int           { return len(h) }
func (h idScoreHeap) Less(i, j int) bool { return h[i].Score < h[j].Score }
func (h idScoreHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *idScoreHeap) Push(x any)        { *h = append(*h, x.(idScore)) }
func (h *idScoreHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
