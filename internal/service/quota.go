// Package service holds business logic that sits between the HTTP layer and
// the repository.
//
// This file implements photo-quota accounting. The upload subsystem spends a
// quota unit per stored photo and refunds on deletion; the read-modify-write
// runs under a row-level lock so two concurrent uploads cannot double-spend
// the same unit.
package service

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/vistorialab/vistoria/internal/domain"
	"github.com/vistorialab/vistoria/internal/repository"
)

// QuotaService tracks per-user photo quota.
type QuotaService interface {
	// Spend consumes units from the user's quota, failing with a quota
	// error when the limit would be exceeded. Returns the remaining units.
	Spend(ctx context.Context, userID uuid.UUID, units int64) (int64, error)

	// Refund returns units to the user's quota, e.g. after a photo is
	// deleted. Never drives usage below zero.
	Refund(ctx context.Context, userID uuid.UUID, units int64) error

	// Usage reports current used and limit values.
	Usage(ctx context.Context, userID uuid.UUID) (used, limit int64, err error)
}

type quotaService struct {
	db      *sql.DB
	queries *repository.Queries
	logger  *slog.Logger
}

// NewQuotaService creates a QuotaService backed by Postgres.
func NewQuotaService(db *sql.DB, queries *repository.Queries, logger *slog.Logger) QuotaService {
	return &quotaService{
		db:      db,
		queries: queries,
		logger:  logger,
	}
}

func (s *quotaService) Spend(ctx context.Context, userID uuid.UUID, units int64) (int64, error) {
	const op = "quota.spend"

	if units <= 0 {
		return 0, domain.Invalid(op, "units must be positive")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, domain.Internal(err, op, "failed to begin transaction")
	}
	defer tx.Rollback()

	q := s.queries.WithTx(tx)
	used, limit, err := q.GetUserPhotoQuotaForUpdate(ctx, userID)
	if err != nil {
		return 0, domain.Internal(err, op, "failed to read quota")
	}

	if used+units > limit {
		s.logger.Info("Photo quota exceeded",
			"user_id", userID,
			"used", used,
			"limit", limit,
			"requested", units,
		)
		return 0, domain.QuotaExceeded(op, used, limit)
	}

	if err := q.AddUserPhotoQuotaUsed(ctx, userID, units); err != nil {
		return 0, domain.Internal(err, op, "failed to update quota")
	}
	if err := tx.Commit(); err != nil {
		return 0, domain.Internal(err, op, "failed to commit quota update")
	}

	return limit - used - units, nil
}

func (s *quotaService) Refund(ctx context.Context, userID uuid.UUID, units int64) error {
	const op = "quota.refund"

	if units <= 0 {
		return domain.Invalid(op, "units must be positive")
	}
	if err := s.queries.AddUserPhotoQuotaUsed(ctx, userID, -units); err != nil {
		return domain.Internal(err, op, fmt.Sprintf("failed to refund %d units", units))
	}
	return nil
}

func (s *quotaService) Usage(ctx context.Context, userID uuid.UUID) (used, limit int64, err error) {
	const op = "quota.usage"

	used, limit, err = s.queries.GetUserPhotoQuota(ctx, userID)
	if err != nil {
		return 0, 0, domain.Internal(err, op, "failed to read quota")
	}
	return used, limit, nil
}
