package repositories

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/healthdash/backend/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const maxAuditPage = 100

type AuditRepo struct {
	pool *pgxpool.Pool
}

func NewAuditRepo(pool *pgxpool.Pool) *AuditRepo {
	return &AuditRepo{pool: pool}
}

// Log appends one entry. ID and Meta are filled in when unset.
func (r *AuditRepo) Log(ctx context.Context, entry models.AuditLog) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.Meta == nil {
		entry.Meta = map[string]any{}
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO audit_log (id, actor_user_id, actor_type, action, entity_type, entity_id, meta)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, entry.ID, entry.ActorUserID, entry.ActorType, entry.Action, entry.EntityType, entry.EntityID, entry.Meta)
	if err != nil {
		return fmt.Errorf("insert audit %s: %w", entry.Action, err)
	}
	return nil
}

// ListByActor returns the newest entries made by userID first.
func (r *AuditRepo) ListByActor(ctx context.Context, userID int64, limit, offset int) ([]models.AuditLog, error) {
	if limit <= 0 || limit > maxAuditPage {
		limit = maxAuditPage
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, actor_user_id, actor_type, action, entity_type, entity_id, meta, created_at
		FROM audit_log
		WHERE actor_user_id = $1
		ORDER BY created_at DESC, id
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}

	logs, err := pgx.CollectRows(rows, scanAudit)
	if err != nil {
		return nil, fmt.Errorf("scan audit log: %w", err)
	}
	return logs, nil
}

func scanAudit(row pgx.CollectableRow) (models.AuditLog, error) {
	var (
		l    models.AuditLog
		meta map[string]any
	)
	err := row.Scan(&l.ID, &l.ActorUserID, &l.ActorType, &l.Action, &l.EntityType, &l.EntityID, &meta, &l.CreatedAt)
	l.Meta = meta
	return l, err
}
