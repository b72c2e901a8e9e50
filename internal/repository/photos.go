package repository

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"github.com/vistorialab/vistoria/internal/domain"
)

const photoColumns = `
	id, report_id, storage_key, sort_order, environment_name, item_name,
	analyzed, caption, created_at
`

func scanPhoto(row interface{ Scan(...interface{}) error }) (domain.Photo, error) {
	var p domain.Photo
	var caption sql.NullString
	err := row.Scan(
		&p.ID, &p.ReportID, &p.StorageKey, &p.SortOrder,
		&p.EnvironmentName, &p.ItemName, &p.Analyzed, &caption, &p.CreatedAt,
	)
	if err != nil {
		return domain.Photo{}, err
	}
	p.Caption = caption.String
	return p, nil
}

// CountUnanalyzedPhotos counts the photos of a report still awaiting
// analysis.
func (q *Queries) CountUnanalyzedPhotos(ctx context.Context, reportID uuid.UUID) (int, error) {
	var count int
	err := q.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM photos WHERE report_id = $1 AND analyzed = $2`,
		reportID, domain.AnalyzedNo).Scan(&count)
	return count, err
}

// NextUnanalyzedPhoto returns the first unanalyzed photo of a report in sort
// order, or sql.ErrNoRows when every photo is done.
func (q *Queries) NextUnanalyzedPhoto(ctx context.Context, reportID uuid.UUID) (domain.Photo, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT `+photoColumns+`
		FROM photos
		WHERE report_id = $1 AND analyzed = $2
		ORDER BY sort_order, created_at
		LIMIT 1`,
		reportID, domain.AnalyzedNo)
	return scanPhoto(row)
}

// MarkPhotoAnalyzed writes the caption and flips the analyzed flag.
func (q *Queries) MarkPhotoAnalyzed(ctx context.Context, photoID uuid.UUID, caption string) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE photos SET analyzed = $2, caption = $3 WHERE id = $1`,
		photoID, domain.AnalyzedYes, caption)
	return err
}

// ResetPhotosForReport flips every photo of a report back to unanalyzed and
// clears previously written captions, so a forced re-run starts clean.
func (q *Queries) ResetPhotosForReport(ctx context.Context, reportID uuid.UUID) (int64, error) {
	res, err := q.db.ExecContext(ctx, `
		UPDATE photos SET analyzed = $2, caption = NULL WHERE report_id = $1`,
		reportID, domain.AnalyzedNo)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ListPhotosByReport returns all photos of a report in sort order.
func (q *Queries) ListPhotosByReport(ctx context.Context, reportID uuid.UUID) ([]domain.Photo, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT `+photoColumns+`
		FROM photos
		WHERE report_id = $1
		ORDER BY sort_order, created_at`,
		reportID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var photos []domain.Photo
	for rows.Next() {
		p, err := scanPhoto(rows)
		if err != nil {
			return nil, err
		}
		photos = append(photos, p)
	}
	return photos, rows.Err()
}
