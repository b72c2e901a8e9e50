package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sqlc-dev/pqtype"

	"github.com/vistorialab/vistoria/internal/domain"
)

const queueRecordColumns = `
	id, report_id, owner_id, status, position, total_images, processed_images,
	current_image_id, error_message, error_detail, created_at, started_at, completed_at
`

func scanQueueRecord(row interface{ Scan(...interface{}) error }) (domain.QueueRecord, error) {
	var r domain.QueueRecord
	var position sql.NullInt32
	var errorMessage sql.NullString
	var errorDetail pqtype.NullRawMessage
	var startedAt, completedAt sql.NullTime

	err := row.Scan(
		&r.ID, &r.ReportID, &r.OwnerID, &r.Status, &position,
		&r.TotalImages, &r.ProcessedImages, &r.CurrentImageID,
		&errorMessage, &errorDetail, &r.CreatedAt, &startedAt, &completedAt,
	)
	if err != nil {
		return domain.QueueRecord{}, err
	}

	if position.Valid {
		r.Position = int(position.Int32)
	}
	r.ErrorMessage = errorMessage.String
	if errorDetail.Valid {
		r.ErrorDetail = errorDetail.RawMessage
	}
	if startedAt.Valid {
		t := startedAt.Time
		r.StartedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		r.CompletedAt = &t
	}
	return r, nil
}

// CreateQueueRecord inserts a pending record at the given position.
func (q *Queries) CreateQueueRecord(ctx context.Context, reportID, ownerID uuid.UUID, position, totalImages int) (domain.QueueRecord, error) {
	row := q.db.QueryRowContext(ctx, `
		INSERT INTO queue_records (id, report_id, owner_id, status, position, total_images, processed_images, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, now())
		RETURNING `+queueRecordColumns,
		uuid.New(), reportID, ownerID, domain.QueueStatusPending, position, totalImages,
	)
	return scanQueueRecord(row)
}

// GetQueueRecord loads one record by id.
func (q *Queries) GetQueueRecord(ctx context.Context, id uuid.UUID) (domain.QueueRecord, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+queueRecordColumns+` FROM queue_records WHERE id = $1`, id)
	return scanQueueRecord(row)
}

// GetQueueRecordByReportID loads the record for a report, if any.
func (q *Queries) GetQueueRecordByReportID(ctx context.Context, reportID uuid.UUID) (domain.QueueRecord, error) {
	row := q.db.QueryRowContext(ctx,
		`SELECT `+queueRecordColumns+` FROM queue_records WHERE report_id = $1`, reportID)
	return scanQueueRecord(row)
}

// DeleteQueueRecord removes a record outright.
func (q *Queries) DeleteQueueRecord(ctx context.Context, id uuid.UUID) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM queue_records WHERE id = $1`, id)
	return err
}

// MaxPendingPosition returns the highest position among pending records, 0
// when none are pending.
func (q *Queries) MaxPendingPosition(ctx context.Context) (int, error) {
	var max sql.NullInt32
	err := q.db.QueryRowContext(ctx,
		`SELECT MAX(position) FROM queue_records WHERE status = $1`, domain.QueueStatusPending,
	).Scan(&max)
	if err != nil {
		return 0, err
	}
	return int(max.Int32), nil
}

// RecomputePositions compacts pending positions to 1..N ordered by creation
// time. Called after every mutation of the pending set.
func (q *Queries) RecomputePositions(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE queue_records q SET position = ranked.rn
		FROM (
			SELECT id, ROW_NUMBER() OVER (ORDER BY created_at) AS rn
			FROM queue_records WHERE status = $1
		) ranked
		WHERE q.id = ranked.id`,
		domain.QueueStatusPending,
	)
	return err
}

// SetQueueRecordProcessing transitions a record to processing and stamps
// started_at on the first transition only.
func (q *Queries) SetQueueRecordProcessing(ctx context.Context, id uuid.UUID) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE queue_records
		SET status = $2, position = NULL, started_at = COALESCE(started_at, now())
		WHERE id = $1`,
		id, domain.QueueStatusProcessing,
	)
	return err
}

// SetQueueRecordCompleted marks a record done.
func (q *Queries) SetQueueRecordCompleted(ctx context.Context, id uuid.UUID) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE queue_records
		SET status = $2, position = NULL, current_image_id = NULL, completed_at = now()
		WHERE id = $1`,
		id, domain.QueueStatusCompleted,
	)
	return err
}

// SetQueueRecordCancelled marks a processing record cancelled; the execution
// loop observes this between photos and stops.
func (q *Queries) SetQueueRecordCancelled(ctx context.Context, id uuid.UUID) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE queue_records SET status = $2, position = NULL WHERE id = $1`,
		id, domain.QueueStatusCancelled,
	)
	return err
}

// SetQueueRecordError marks a record failed unless the circuit breaker moved
// it to paused first; pause always wins over error for the same record.
func (q *Queries) SetQueueRecordError(ctx context.Context, id uuid.UUID, message string, detail []byte) error {
	errorDetail := pqtype.NullRawMessage{RawMessage: detail, Valid: len(detail) > 0}
	_, err := q.db.ExecContext(ctx, `
		UPDATE queue_records
		SET status = $2, position = NULL, error_message = $3, error_detail = $4, completed_at = now()
		WHERE id = $1 AND status <> $5`,
		id, domain.QueueStatusError, message, errorDetail, domain.QueueStatusPaused,
	)
	return err
}

// SetQueueRecordCurrentImage records which photo is being analyzed.
func (q *Queries) SetQueueRecordCurrentImage(ctx context.Context, id uuid.UUID, imageID uuid.NullUUID) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE queue_records SET current_image_id = $2 WHERE id = $1`, id, imageID)
	return err
}

// IncrementProcessedImages bumps the progress counter after one photo.
func (q *Queries) IncrementProcessedImages(ctx context.Context, id uuid.UUID) (domain.QueueRecord, error) {
	row := q.db.QueryRowContext(ctx, `
		UPDATE queue_records
		SET processed_images = processed_images + 1, current_image_id = NULL
		WHERE id = $1
		RETURNING `+queueRecordColumns, id)
	return scanQueueRecord(row)
}

// DemoteQueueRecordToPending returns a processing record to the pending set.
// Used by startup recovery for runs interrupted mid-flight.
func (q *Queries) DemoteQueueRecordToPending(ctx context.Context, id uuid.UUID) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE queue_records
		SET status = $2, current_image_id = NULL
		WHERE id = $1`,
		id, domain.QueueStatusPending,
	)
	return err
}

// ListQueueRecordsByStatus returns records in the given statuses, pending
// order first.
func (q *Queries) ListQueueRecordsByStatus(ctx context.Context, statuses []domain.QueueStatus) ([]domain.QueueRecord, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+queueRecordColumns+`
		FROM queue_records
		WHERE status = ANY($1)
		ORDER BY position NULLS LAST, created_at`,
		pq.Array(statusStrings(statuses)),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.QueueRecord
	for rows.Next() {
		r, err := scanQueueRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// BulkTransitionStatus moves every record in the from statuses to the target
// status and returns how many were touched. The circuit breaker uses this for
// pause (pending/processing -> paused) and resume (paused -> pending).
func (q *Queries) BulkTransitionStatus(ctx context.Context, from []domain.QueueStatus, to domain.QueueStatus) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
		UPDATE queue_records SET status = $2 WHERE status = ANY($1)`,
		pq.Array(statusStrings(from)), to,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CountQueueRecordsByStatus returns the record count per given status.
func (q *Queries) CountQueueRecordsByStatus(ctx context.Context, status domain.QueueStatus) (int, error) {
	var count int
	err := q.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM queue_records WHERE status = $1`, status).Scan(&count)
	return count, err
}

// CountQueueRecordsCompletedSince counts completions after the given time.
func (q *Queries) CountQueueRecordsCompletedSince(ctx context.Context, since time.Time) (int, error) {
	var count int
	err := q.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM queue_records
		WHERE status = $1 AND completed_at >= $2`,
		domain.QueueStatusCompleted, since).Scan(&count)
	return count, err
}

// CountQueueRecords returns the total number of records.
func (q *Queries) CountQueueRecords(ctx context.Context) (int, error) {
	var count int
	err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM queue_records`).Scan(&count)
	return count, err
}

// SumPendingImagesBefore sums remaining images across pending records ahead
// of the given position. Feeds the per-user ETA estimate.
func (q *Queries) SumPendingImagesBefore(ctx context.Context, position int) (int, error) {
	var sum sql.NullInt64
	err := q.db.QueryRowContext(ctx, `
		SELECT SUM(total_images - processed_images) FROM queue_records
		WHERE status = $1 AND position < $2`,
		domain.QueueStatusPending, position).Scan(&sum)
	if err != nil {
		return 0, err
	}
	return int(sum.Int64), nil
}

// ListQueueEntries returns the operator view of all pending, processing and
// paused records joined with report and owner details.
func (q *Queries) ListQueueEntries(ctx context.Context) ([]domain.QueueEntry, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT qr.id, qr.report_id, r.address, u.name, u.email, qr.status,
		       COALESCE(qr.position, 0), qr.total_images, qr.processed_images,
		       qr.created_at, qr.started_at
		FROM queue_records qr
		JOIN reports r ON r.id = qr.report_id
		JOIN users u ON u.id = qr.owner_id
		WHERE qr.status = ANY($1)
		ORDER BY qr.position NULLS FIRST, qr.created_at`,
		pq.Array(statusStrings([]domain.QueueStatus{
			domain.QueueStatusPending, domain.QueueStatusProcessing, domain.QueueStatusPaused,
		})),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []domain.QueueEntry
	for rows.Next() {
		var e domain.QueueEntry
		var startedAt sql.NullTime
		err := rows.Scan(
			&e.ID, &e.ReportID, &e.Address, &e.OwnerName, &e.OwnerEmail,
			&e.Status, &e.Position, &e.TotalImages, &e.ProcessedImages,
			&e.CreatedAt, &startedAt,
		)
		if err != nil {
			return nil, err
		}
		if startedAt.Valid {
			t := startedAt.Time
			e.StartedAt = &t
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// Global Pause State
// =============================================================================

// GetPauseState reads the single circuit-breaker row.
func (q *Queries) GetPauseState(ctx context.Context) (domain.PauseState, error) {
	var s domain.PauseState
	var reason sql.NullString
	var pausedAt sql.NullTime
	err := q.db.QueryRowContext(ctx,
		`SELECT paused, reason, paused_at FROM queue_state WHERE id = 1`,
	).Scan(&s.Paused, &reason, &pausedAt)
	if err != nil {
		return domain.PauseState{}, err
	}
	s.Reason = reason.String
	if pausedAt.Valid {
		t := pausedAt.Time
		s.PausedAt = &t
	}
	return s, nil
}

// SetPaused flips the global pause flag on with the given reason.
func (q *Queries) SetPaused(ctx context.Context, reason string) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE queue_state SET paused = true, reason = $1, paused_at = now() WHERE id = 1`,
		reason,
	)
	return err
}

// ClearPaused flips the global pause flag off.
func (q *Queries) ClearPaused(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE queue_state SET paused = false, reason = NULL, paused_at = NULL WHERE id = 1`)
	return err
}

func statusStrings(statuses []domain.QueueStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = s.String()
	}
	return out
}

// IsNoRows reports whether err is the no-rows sentinel.
func IsNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// IsNoRows satisfies the store interfaces that carry the check as a method.
func (q *Queries) IsNoRows(err error) bool {
	return IsNoRows(err)
}
