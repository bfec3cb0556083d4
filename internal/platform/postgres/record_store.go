package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/scribe/internal/domain"
	"github.com/phrazzld/scribe/internal/generation"
	"github.com/phrazzld/scribe/internal/platform/logger"
	"github.com/phrazzld/scribe/internal/store"
)

// RecordStore implements the store.RecordStore interface using PostgreSQL.
// Claim, commit, and release run as single transactions so the status
// column doubles as the work-assignment lock: FOR UPDATE SKIP LOCKED keeps
// two concurrent claims from ever selecting overlapping rows.
type RecordStore struct {
	// db is the connection pool, used to open claim/commit transactions.
	// It is nil when the store is scoped to a caller-managed transaction.
	db *sql.DB

	// q is the active query target: the pool itself, or the transaction
	// provided via WithTx.
	q store.DBTX
}

// NewRecordStore creates a new RecordStore backed by the given pool.
func NewRecordStore(db *sql.DB) *RecordStore {
	return &RecordStore{db: db, q: db}
}

// Verify that RecordStore implements store.RecordStore.
var _ store.RecordStore = (*RecordStore)(nil)

// WithTx returns a new RecordStore instance that uses the provided
// transaction. Operations on the returned store join the caller's
// transaction instead of opening their own.
func (s *RecordStore) WithTx(tx *sql.Tx) store.RecordStore {
	return &RecordStore{db: nil, q: tx}
}

// recordColumns is the scan-order column list shared by every SELECT.
const recordColumns = "id, source_text, result_text, metadata, status, attempts, created_at, updated_at"

// Create saves a new record to the store in unprocessed state.
func (s *RecordStore) Create(ctx context.Context, record *domain.Record) error {
	log := logger.FromContext(ctx)

	if err := record.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	query := `
		INSERT INTO records (id, source_text, result_text, metadata, status, attempts, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	now := time.Now().UTC()

	_, err := s.q.ExecContext(ctx, query,
		record.ID,
		record.SourceText,
		nullString(record.ResultText),
		nullBytes(record.Metadata),
		record.Status,
		record.Attempts,
		now,
		now,
	)

	if err != nil {
		log.Error("failed to create record",
			"record_id", record.ID,
			"error", err)
		return MapError(err)
	}

	return nil
}

// ClaimBatch atomically selects up to n schedulable records, marks them
// claimed, and returns their full payload. The select-and-mark sequence is
// one transaction; SKIP LOCKED makes concurrent claims disjoint without
// blocking on each other. An empty slice means no work remains.
func (s *RecordStore) ClaimBatch(ctx context.Context, n int) ([]*domain.Record, error) {
	log := logger.FromContext(ctx)

	if n <= 0 {
		return nil, nil
	}

	var batch []*domain.Record

	claim := func(ctx context.Context, q store.DBTX) error {
		query := fmt.Sprintf(`
			SELECT %s
			FROM records
			WHERE status IN ($1, $2)
			ORDER BY created_at
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		`, recordColumns)

		rows, err := q.QueryContext(ctx, query,
			domain.RecordStatusUnprocessed,
			domain.RecordStatusFailedRetryable,
			n,
		)
		if err != nil {
			return fmt.Errorf("failed to select claimable records: %w", err)
		}

		batch, err = scanRecords(rows)
		if err != nil {
			return err
		}

		if len(batch) == 0 {
			return nil
		}

		ids := recordIDs(batch)
		update := fmt.Sprintf(`
			UPDATE records
			SET status = $1, updated_at = $2
			WHERE id IN (%s)
		`, idPlaceholders(len(ids), 3))

		args := []any{domain.RecordStatusClaimed, time.Now().UTC()}
		for _, id := range ids {
			args = append(args, id)
		}

		if _, err := q.ExecContext(ctx, update, args...); err != nil {
			return fmt.Errorf("failed to mark records claimed: %w", err)
		}

		for _, rec := range batch {
			rec.Status = domain.RecordStatusClaimed
		}
		return nil
	}

	if err := s.inTransaction(ctx, claim); err != nil {
		log.Error("claim batch failed", "requested", n, "error", MapError(err))
		return nil, MapError(err)
	}

	return batch, nil
}

// CommitBatch transactionally writes the generated results and sets
// status=done for every record in the batch. The caller is expected to
// have validated the results already; the one-result-per-record contract
// is still re-checked here because violating it silently would corrupt
// the table.
func (s *RecordStore) CommitBatch(ctx context.Context, batch []*domain.Record, results []generation.Result) error {
	log := logger.FromContext(ctx)

	if len(results) != len(batch) {
		return fmt.Errorf("%w: %d results for %d records",
			store.ErrBatchResultMismatch, len(results), len(batch))
	}
	if len(batch) == 0 {
		return nil
	}

	commit := func(ctx context.Context, q store.DBTX) error {
		query := `
			UPDATE records
			SET result_text = $1, metadata = $2, status = $3, updated_at = $4
			WHERE id = $5 AND status = $6
		`

		now := time.Now().UTC()
		for i, rec := range batch {
			res, err := q.ExecContext(ctx, query,
				results[i].Text,
				nullBytes(results[i].Metadata),
				domain.RecordStatusDone,
				now,
				rec.ID,
				domain.RecordStatusClaimed,
			)
			if err != nil {
				return fmt.Errorf("failed to commit record %s: %w", rec.ID, err)
			}

			affected, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("failed to get rows affected for %s: %w", rec.ID, err)
			}
			if affected == 0 {
				return fmt.Errorf("%w: record %s not in claimed state",
					store.ErrUpdateFailed, rec.ID)
			}
		}
		return nil
	}

	if err := s.inTransaction(ctx, commit); err != nil {
		log.Error("commit batch failed",
			"batch_size", len(batch),
			"error", MapError(err))
		return MapError(err)
	}

	return nil
}

// ReleaseBatch sets every record in the batch back to failed_retryable and
// increments its attempt counter, making it eligible for re-claim by any
// worker, including the one that released it.
func (s *RecordStore) ReleaseBatch(ctx context.Context, batch []*domain.Record) error {
	log := logger.FromContext(ctx)

	if len(batch) == 0 {
		return nil
	}

	ids := recordIDs(batch)
	query := fmt.Sprintf(`
		UPDATE records
		SET status = $1, attempts = attempts + 1, updated_at = $2
		WHERE id IN (%s)
	`, idPlaceholders(len(ids), 3))

	args := []any{domain.RecordStatusFailedRetryable, time.Now().UTC()}
	for _, id := range ids {
		args = append(args, id)
	}

	if _, err := s.q.ExecContext(ctx, query, args...); err != nil {
		log.Error("release batch failed",
			"batch_size", len(batch),
			"error", err)
		return MapError(err)
	}

	return nil
}

// ResetStuckRecords flips any record left in claimed state by a prior
// crashed run back to unprocessed. It must complete before the first
// ClaimBatch of a run; the pool coordinator enforces that ordering.
func (s *RecordStore) ResetStuckRecords(ctx context.Context) (int64, error) {
	log := logger.FromContext(ctx)

	query := `
		UPDATE records
		SET status = $1, updated_at = $2
		WHERE status = $3
	`

	res, err := s.q.ExecContext(ctx, query,
		domain.RecordStatusUnprocessed,
		time.Now().UTC(),
		domain.RecordStatusClaimed,
	)
	if err != nil {
		log.Error("failed to reset stuck records", "error", err)
		return 0, MapError(err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if affected > 0 {
		log.Info("reset stuck records from previous run", "count", affected)
	}
	return affected, nil
}

// CountByStatus returns the number of records with the given status.
func (s *RecordStore) CountByStatus(ctx context.Context, status domain.RecordStatus) (int64, error) {
	var count int64
	err := s.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM records WHERE status = $1`, status,
	).Scan(&count)
	if err != nil {
		return 0, MapError(err)
	}
	return count, nil
}

// CountSchedulable returns the number of records currently eligible for
// claiming.
func (s *RecordStore) CountSchedulable(ctx context.Context) (int64, error) {
	var count int64
	err := s.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM records WHERE status IN ($1, $2)`,
		domain.RecordStatusUnprocessed,
		domain.RecordStatusFailedRetryable,
	).Scan(&count)
	if err != nil {
		return 0, MapError(err)
	}
	return count, nil
}

// CountAll returns the total number of records.
func (s *RecordStore) CountAll(ctx context.Context) (int64, error) {
	var count int64
	err := s.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM records`).Scan(&count)
	if err != nil {
		return 0, MapError(err)
	}
	return count, nil
}

// inTransaction runs fn inside a new transaction when the store owns the
// pool, or directly against the caller's transaction when scoped by WithTx.
func (s *RecordStore) inTransaction(ctx context.Context, fn func(ctx context.Context, q store.DBTX) error) error {
	if s.db == nil {
		return fn(ctx, s.q)
	}
	return store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		return fn(ctx, tx)
	})
}

// scanRecords reads all rows into domain records, closing the rows.
func scanRecords(rows *sql.Rows) ([]*domain.Record, error) {
	defer func() { _ = rows.Close() }()

	var records []*domain.Record
	for rows.Next() {
		var rec domain.Record
		var resultText sql.NullString
		var metadata []byte

		err := rows.Scan(
			&rec.ID,
			&rec.SourceText,
			&resultText,
			&metadata,
			&rec.Status,
			&rec.Attempts,
			&rec.CreatedAt,
			&rec.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}

		if resultText.Valid {
			rec.ResultText = resultText.String
		}
		if len(metadata) > 0 {
			rec.Metadata = metadata
		}
		records = append(records, &rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating records: %w", err)
	}
	return records, nil
}

// recordIDs extracts the IDs of a batch in order.
func recordIDs(batch []*domain.Record) []uuid.UUID {
	ids := make([]uuid.UUID, len(batch))
	for i, rec := range batch {
		ids[i] = rec.ID
	}
	return ids
}

// idPlaceholders builds an "$n, $n+1, ..." list for IN clauses, starting
// at the given placeholder index.
func idPlaceholders(n, start int) string {
	parts := make([]string, n)
	for i := 0; i < n; i++ {
		parts[i] = fmt.Sprintf("$%d", start+i)
	}
	return strings.Join(parts, ", ")
}

// nullString maps an empty string to SQL NULL.
func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullBytes maps an empty byte slice to SQL NULL, keeping jsonb columns
// NULL instead of storing empty strings that would fail JSON parsing.
func nullBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}
