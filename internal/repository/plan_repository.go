package repository

import (
	"database/sql"
	"encoding/json"
	"time"

	appErrors "github.com/unclebandit/wacampaign-backend/internal/errors"
	"github.com/unclebandit/wacampaign-backend/internal/model"
)

type PlanRepositoryInterface interface {
	Create(p *model.CampaignPlan) error
	GetByID(id string) (*model.CampaignPlan, error)
	ListPlans(offset, limit int, status string) ([]*model.CampaignPlan, int, error)
	ListDue(now time.Time) ([]*model.CampaignPlan, error)
	ListByRecipientHandle(handle string) ([]*model.CampaignPlan, error)
	Update(p *model.CampaignPlan) error
	Delete(id string) error
	GetPlanStats(planID string) (map[string]int, error)
}

type PlanRepository struct {
	DB *sql.DB
}

const planColumns = `id, body_text, media_url, document_url, document_filename, mime_type,
		batch_size, min_delay_seconds, max_delay_seconds, sleep_after_messages, sleep_duration_seconds,
		active_hours_start, active_hours_end, repeat_every, repeat_unit, infinite_loop,
		phone_line, cycle, status, scheduled_start, created_at, last_mutated_at`

func (r *PlanRepository) Create(p *model.CampaignPlan) error {
	tx, err := r.DB.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
        INSERT INTO campaign_plans (` + planColumns + `)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)
    `
	_, err = tx.Exec(query,
		p.ID, p.Template.BodyText, p.Template.MediaURL, p.Template.DocumentURL,
		p.Template.DocumentFilename, p.Template.MimeType,
		p.Pacing.BatchSize, p.Pacing.MinDelaySeconds, p.Pacing.MaxDelaySeconds,
		p.Pacing.SleepAfterMessages, p.Pacing.SleepDurationSeconds,
		p.Pacing.ActiveHoursStart, p.Pacing.ActiveHoursEnd,
		p.Pacing.RepeatEvery, string(p.Pacing.RepeatUnit), p.Pacing.InfiniteLoop,
		p.PhoneLine, p.Cycle, string(p.Status), p.ScheduledStart, p.CreatedAt, p.LastMutatedAt,
	)
	if err != nil {
		return err
	}

	if err := insertRecipients(tx, p.ID, p.Recipients); err != nil {
		return err
	}
	return tx.Commit()
}

// Update rewrites the plan row and its recipient set. Narrowing, status
// transitions and replans all go through here so a tick's mutations commit
// atomically.
func (r *PlanRepository) Update(p *model.CampaignPlan) error {
	tx, err := r.DB.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
        UPDATE campaign_plans
        SET body_text=$1, media_url=$2, document_url=$3, document_filename=$4, mime_type=$5,
            batch_size=$6, min_delay_seconds=$7, max_delay_seconds=$8,
            sleep_after_messages=$9, sleep_duration_seconds=$10,
            active_hours_start=$11, active_hours_end=$12,
            repeat_every=$13, repeat_unit=$14, infinite_loop=$15,
            phone_line=$16, cycle=$17, status=$18, scheduled_start=$19, last_mutated_at=$20
        WHERE id=$21
    `
	res, err := tx.Exec(query,
		p.Template.BodyText, p.Template.MediaURL, p.Template.DocumentURL,
		p.Template.DocumentFilename, p.Template.MimeType,
		p.Pacing.BatchSize, p.Pacing.MinDelaySeconds, p.Pacing.MaxDelaySeconds,
		p.Pacing.SleepAfterMessages, p.Pacing.SleepDurationSeconds,
		p.Pacing.ActiveHoursStart, p.Pacing.ActiveHoursEnd,
		p.Pacing.RepeatEvery, string(p.Pacing.RepeatUnit), p.Pacing.InfiniteLoop,
		p.PhoneLine, p.Cycle, string(p.Status), p.ScheduledStart, p.LastMutatedAt,
		p.ID,
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return appErrors.NewPlanNotFound(p.ID)
	}

	if _, err := tx.Exec(`DELETE FROM plan_recipients WHERE plan_id=$1`, p.ID); err != nil {
		return err
	}
	if err := insertRecipients(tx, p.ID, p.Recipients); err != nil {
		return err
	}
	return tx.Commit()
}

func insertRecipients(tx *sql.Tx, planID string, recipients []model.PlanRecipient) error {
	query := `
        INSERT INTO plan_recipients
        (plan_id, position, handle, source_id, display_fields, custom_fields, status, send_at)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
    `
	for i, rec := range recipients {
		display, err := json.Marshal(rec.DisplayFields)
		if err != nil {
			return err
		}
		custom, err := json.Marshal(rec.CustomFields)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(query, planID, i, rec.Handle, rec.SourceID,
			display, custom, string(rec.Status), rec.SendAt); err != nil {
			return err
		}
	}
	return nil
}

func (r *PlanRepository) GetByID(id string) (*model.CampaignPlan, error) {
	query := `SELECT ` + planColumns + ` FROM campaign_plans WHERE id=$1`
	p, err := scanPlan(r.DB.QueryRow(query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.NewPlanNotFound(id)
		}
		return nil, err
	}
	if err := r.loadRecipients(p); err != nil {
		return nil, err
	}
	return p, nil
}

func (r *PlanRepository) ListPlans(offset, limit int, status string) ([]*model.CampaignPlan, int, error) {
	query := `SELECT ` + planColumns + ` FROM campaign_plans`
	args := []interface{}{}
	if status != "" {
		query += ` WHERE status=$1 ORDER BY scheduled_start ASC LIMIT $2 OFFSET $3`
		args = append(args, status, limit, offset)
	} else {
		query += ` ORDER BY scheduled_start ASC LIMIT $1 OFFSET $2`
		args = append(args, limit, offset)
	}

	plans, err := r.queryPlans(query, args...)
	if err != nil {
		return nil, 0, err
	}

	countQuery := `SELECT COUNT(*) FROM campaign_plans`
	countArgs := []interface{}{}
	if status != "" {
		countQuery += ` WHERE status=$1`
		countArgs = append(countArgs, status)
	}
	var total int
	if err := r.DB.QueryRow(countQuery, countArgs...).Scan(&total); err != nil {
		return nil, 0, err
	}
	return plans, total, nil
}

// ListDue returns plans with at least one pending recipient whose send
// time has arrived.
func (r *PlanRepository) ListDue(now time.Time) ([]*model.CampaignPlan, error) {
	query := `
        SELECT ` + planColumns + ` FROM campaign_plans
        WHERE id IN (
            SELECT DISTINCT plan_id FROM plan_recipients
            WHERE status='pending' AND send_at <= $1
        )
        ORDER BY scheduled_start ASC
    `
	return r.queryPlans(query, now)
}

// ListByRecipientHandle returns every plan that still carries the handle,
// used by the opt-out cascade.
func (r *PlanRepository) ListByRecipientHandle(handle string) ([]*model.CampaignPlan, error) {
	query := `
        SELECT ` + planColumns + ` FROM campaign_plans
        WHERE id IN (SELECT plan_id FROM plan_recipients WHERE handle=$1)
        ORDER BY scheduled_start ASC
    `
	return r.queryPlans(query, handle)
}

func (r *PlanRepository) Delete(id string) error {
	// plan_recipients rows go with the plan via ON DELETE CASCADE
	_, err := r.DB.Exec(`DELETE FROM campaign_plans WHERE id=$1`, id)
	return err
}

func (r *PlanRepository) GetPlanStats(planID string) (map[string]int, error) {
	query := `SELECT status, COUNT(*) FROM plan_recipients WHERE plan_id=$1 GROUP BY status`
	rows, err := r.DB.Query(query, planID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := map[string]int{"pending": 0, "sent": 0, "failed": 0, "cancelled": 0}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
		stats["total"] += count
	}
	return stats, rows.Err()
}

func (r *PlanRepository) queryPlans(query string, args ...interface{}) ([]*model.CampaignPlan, error) {
	rows, err := r.DB.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	plans := []*model.CampaignPlan{}
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, err
		}
		plans = append(plans, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, p := range plans {
		if err := r.loadRecipients(p); err != nil {
			return nil, err
		}
	}
	return plans, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPlan(row rowScanner) (*model.CampaignPlan, error) {
	var p model.CampaignPlan
	var repeatUnit, status string
	err := row.Scan(
		&p.ID, &p.Template.BodyText, &p.Template.MediaURL, &p.Template.DocumentURL,
		&p.Template.DocumentFilename, &p.Template.MimeType,
		&p.Pacing.BatchSize, &p.Pacing.MinDelaySeconds, &p.Pacing.MaxDelaySeconds,
		&p.Pacing.SleepAfterMessages, &p.Pacing.SleepDurationSeconds,
		&p.Pacing.ActiveHoursStart, &p.Pacing.ActiveHoursEnd,
		&p.Pacing.RepeatEvery, &repeatUnit, &p.Pacing.InfiniteLoop,
		&p.PhoneLine, &p.Cycle, &status, &p.ScheduledStart, &p.CreatedAt, &p.LastMutatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Pacing.RepeatUnit = model.RepeatUnit(repeatUnit)
	p.Status = model.PlanStatus(status)
	return &p, nil
}

func (r *PlanRepository) loadRecipients(p *model.CampaignPlan) error {
	query := `
        SELECT handle, source_id, display_fields, custom_fields, status, send_at
        FROM plan_recipients WHERE plan_id=$1 ORDER BY position ASC
    `
	rows, err := r.DB.Query(query, p.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	p.Recipients = []model.PlanRecipient{}
	for rows.Next() {
		var rec model.PlanRecipient
		var display, custom []byte
		var status string
		if err := rows.Scan(&rec.Handle, &rec.SourceID, &display, &custom, &status, &rec.SendAt); err != nil {
			return err
		}
		if err := json.Unmarshal(display, &rec.DisplayFields); err != nil {
			return err
		}
		if err := json.Unmarshal(custom, &rec.CustomFields); err != nil {
			return err
		}
		rec.Status = model.RecipientStatus(status)
		p.Recipients = append(p.Recipients, rec)
	}
	return rows.Err()
}

var _ PlanRepositoryInterface = (*PlanRepository)(nil)
