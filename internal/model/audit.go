package model

import "time"

// AuditEntry records a cascading cancellation: which recipient disappeared
// from which plan, and why.
type AuditEntry struct {
	PlanID          string    `db:"plan_id" json:"plan_id"`
	RecipientHandle string    `db:"recipient_handle" json:"recipient_handle"`
	Reason          string    `db:"reason" json:"reason"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}

// Cascade reasons.
const (
	AuditReasonOptOut         = "opt_out"
	AuditReasonContactDeleted = "contact_deleted"
	AuditReasonUserCancelled  = "user_cancelled"
)
