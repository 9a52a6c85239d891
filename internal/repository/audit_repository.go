package repository

import (
	"database/sql"
	"time"

	"github.com/unclebandit/wacampaign-backend/internal/model"
)

// AuditRepositoryInterface is the append-only sink for cascading
// cancellation records. It is the only record of why a scheduled send
// disappeared, so writes here are a hard requirement of the cascade path.
type AuditRepositoryInterface interface {
	Append(entry model.AuditEntry) error
	ListByPlan(planID string) ([]model.AuditEntry, error)
}

type AuditRepository struct {
	DB *sql.DB
}

func (r *AuditRepository) Append(entry model.AuditEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	_, err := r.DB.Exec(
		`INSERT INTO audit_log (plan_id, recipient_handle, reason, created_at) VALUES ($1,$2,$3,$4)`,
		entry.PlanID, entry.RecipientHandle, entry.Reason, entry.CreatedAt,
	)
	return err
}

func (r *AuditRepository) ListByPlan(planID string) ([]model.AuditEntry, error) {
	rows, err := r.DB.Query(
		`SELECT plan_id, recipient_handle, reason, created_at FROM audit_log WHERE plan_id=$1 ORDER BY created_at ASC`,
		planID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []model.AuditEntry{}
	for rows.Next() {
		var e model.AuditEntry
		if err := rows.Scan(&e.PlanID, &e.RecipientHandle, &e.Reason, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

var _ AuditRepositoryInterface = (*AuditRepository)(nil)
