package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/vistorialab/vistoria/internal/domain"
)

// GetReport loads the queue's minimal view of a report.
func (q *Queries) GetReport(ctx context.Context, id uuid.UUID) (domain.Report, error) {
	var r domain.Report
	err := q.db.QueryRowContext(ctx, `
		SELECT id, owner_id, address, analysis_status, created_at
		FROM reports WHERE id = $1`, id,
	).Scan(&r.ID, &r.OwnerID, &r.Address, &r.AnalysisStatus, &r.CreatedAt)
	return r, err
}

// SetReportAnalysisStatus flips the report-level analysis status field.
func (q *Queries) SetReportAnalysisStatus(ctx context.Context, id uuid.UUID, status domain.ReportAnalysisStatus) error {
	_, err := q.db.ExecContext(ctx,
		`UPDATE reports SET analysis_status = $2 WHERE id = $1`, id, status)
	return err
}

// GetUserPhotoQuota reads a user's photo quota without locking the row.
func (q *Queries) GetUserPhotoQuota(ctx context.Context, userID uuid.UUID) (used, limit int64, err error) {
	err = q.db.QueryRowContext(ctx, `
		SELECT photo_quota_used, photo_quota_limit FROM users
		WHERE id = $1`, userID,
	).Scan(&used, &limit)
	return used, limit, err
}

// GetUserPhotoQuotaForUpdate reads a user's photo quota inside the current
// transaction with a row-level exclusive lock, serializing concurrent
// read-modify-write cycles so quota units cannot be double-spent.
func (q *Queries) GetUserPhotoQuotaForUpdate(ctx context.Context, userID uuid.UUID) (used, limit int64, err error) {
	err = q.db.QueryRowContext(ctx, `
		SELECT photo_quota_used, photo_quota_limit FROM users
		WHERE id = $1 FOR UPDATE`, userID,
	).Scan(&used, &limit)
	return used, limit, err
}

// AddUserPhotoQuotaUsed adjusts a user's consumed quota by delta, which may
// be negative for refunds.
func (q *Queries) AddUserPhotoQuotaUsed(ctx context.Context, userID uuid.UUID, delta int64) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE users SET photo_quota_used = GREATEST(photo_quota_used + $2, 0)
		WHERE id = $1`, userID, delta)
	return err
}
