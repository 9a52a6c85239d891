package repository

import (
	"database/sql/driver"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/wacampaign-backend/internal/errors"
	"github.com/unclebandit/wacampaign-backend/internal/model"
)

var planTestColumns = []string{
	"id", "body_text", "media_url", "document_url", "document_filename", "mime_type",
	"batch_size", "min_delay_seconds", "max_delay_seconds", "sleep_after_messages", "sleep_duration_seconds",
	"active_hours_start", "active_hours_end", "repeat_every", "repeat_unit", "infinite_loop",
	"phone_line", "cycle", "status", "scheduled_start", "created_at", "last_mutated_at",
}

func planRow(id string, start time.Time) []driver.Value {
	return []driver.Value{
		id, "hello @{firstName}", "", "", "", "",
		2, 5, 10, 0, 0,
		"", "", 0, "minutes", false,
		0, 0, "scheduled", start, start, start,
	}
}

func TestGetByIDLoadsPlanWithOrderedRecipients(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := &PlanRepository{DB: db}

	start := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT (.+) FROM campaign_plans WHERE id=\$1`).
		WithArgs("plan-1").
		WillReturnRows(sqlmock.NewRows(planTestColumns).AddRow(planRow("plan-1", start)...))

	mock.ExpectQuery(`FROM plan_recipients WHERE plan_id=\$1 ORDER BY position ASC`).
		WithArgs("plan-1").
		WillReturnRows(sqlmock.NewRows([]string{"handle", "source_id", "display_fields", "custom_fields", "status", "send_at"}).
			AddRow("254700000001@c.us", "1", `{"first_name":"Alice"}`, `{}`, "pending", start).
			AddRow("254700000002@c.us", "2", `{"first_name":"Bob"}`, `{}`, "sent", start.Add(5*time.Second)))

	plan, err := repo.GetByID("plan-1")
	require.NoError(t, err)

	assert.Equal(t, "hello @{firstName}", plan.Template.BodyText)
	assert.Equal(t, model.PlanScheduled, plan.Status)
	require.Len(t, plan.Recipients, 2)
	assert.Equal(t, "254700000001@c.us", plan.Recipients[0].Handle)
	assert.Equal(t, "Alice", plan.Recipients[0].DisplayFields[model.FieldFirstName])
	assert.Equal(t, model.RecipientSent, plan.Recipients[1].Status)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByIDUnknownPlan(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := &PlanRepository{DB: db}

	mock.ExpectQuery(`SELECT (.+) FROM campaign_plans WHERE id=\$1`).
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows(planTestColumns))

	_, err = repo.GetByID("nope")
	var notFound *appErrors.ErrPlanNotFound
	assert.ErrorAs(t, err, &notFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateMissingPlanRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := &PlanRepository{DB: db}

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE campaign_plans`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	plan := &model.CampaignPlan{ID: "gone", Pacing: model.PacingPolicy{BatchSize: 1}}
	err = repo.Update(plan)
	var notFound *appErrors.ErrPlanNotFound
	assert.ErrorAs(t, err, &notFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateRewritesRecipientSetAtomically(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := &PlanRepository{DB: db}

	start := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	plan := &model.CampaignPlan{
		ID:       "plan-1",
		Template: model.MessageTemplate{BodyText: "hi"},
		Pacing:   model.PacingPolicy{BatchSize: 1},
		Status:   model.PlanSending,
		Recipients: []model.PlanRecipient{
			{Recipient: model.Recipient{Handle: "254700000001@c.us", SourceID: "1"}, Status: model.RecipientSent, SendAt: start},
		},
	}

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE campaign_plans`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM plan_recipients WHERE plan_id=\$1`).
		WithArgs("plan-1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO plan_recipients`).
		WithArgs("plan-1", 0, "254700000001@c.us", "1", []byte("null"), []byte("null"), "sent", start).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Update(plan))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListDueFiltersOnPendingSendTimes(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := &PlanRepository{DB: db}

	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT DISTINCT plan_id FROM plan_recipients\s+WHERE status='pending' AND send_at <= \$1`).
		WithArgs(now).
		WillReturnRows(sqlmock.NewRows(planTestColumns).AddRow(planRow("due-1", now)...))
	mock.ExpectQuery(`FROM plan_recipients WHERE plan_id=\$1 ORDER BY position ASC`).
		WithArgs("due-1").
		WillReturnRows(sqlmock.NewRows([]string{"handle", "source_id", "display_fields", "custom_fields", "status", "send_at"}).
			AddRow("254700000001@c.us", "1", `{}`, `{}`, "pending", now))

	plans, err := repo.ListDue(now)
	require.NoError(t, err)
	require.Len(t, plans, 1)
	assert.Equal(t, "due-1", plans[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetPlanStatsAggregatesByStatus(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := &PlanRepository{DB: db}

	mock.ExpectQuery(`SELECT status, COUNT\(\*\) FROM plan_recipients WHERE plan_id=\$1 GROUP BY status`).
		WithArgs("plan-1").
		WillReturnRows(sqlmock.NewRows([]string{"status", "count"}).
			AddRow("pending", 3).
			AddRow("sent", 2))

	stats, err := repo.GetPlanStats("plan-1")
	require.NoError(t, err)
	assert.Equal(t, 3, stats["pending"])
	assert.Equal(t, 2, stats["sent"])
	assert.Equal(t, 0, stats["failed"])
	assert.Equal(t, 5, stats["total"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAddTagRetriesOnVersionConflict(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := &ContactRepository{DB: db}

	contactRows := func(version int) *sqlmock.Rows {
		return sqlmock.NewRows([]string{"id", "phone", "first_name", "last_name", "company", "custom", "tags", "version"}).
			AddRow(1, "254700000001", "Alice", "", "", nil, "{}", version)
	}

	// first attempt loses the version race
	mock.ExpectQuery(`SELECT (.+) FROM contacts WHERE id=\$1`).
		WithArgs(1).WillReturnRows(contactRows(1))
	mock.ExpectExec(`UPDATE contacts SET tags=\$1, version=version\+1 WHERE id=\$2 AND version=\$3`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	// second attempt sees the new version and wins
	mock.ExpectQuery(`SELECT (.+) FROM contacts WHERE id=\$1`).
		WithArgs(1).WillReturnRows(contactRows(2))
	mock.ExpectExec(`UPDATE contacts SET tags=\$1, version=version\+1 WHERE id=\$2 AND version=\$3`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	contact, err := repo.AddTag(1, model.OptOutTag)
	require.NoError(t, err)
	assert.True(t, contact.HasTag(model.OptOutTag))
	assert.Equal(t, 3, contact.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteContactMissingRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := &ContactRepository{DB: db}

	mock.ExpectExec(`DELETE FROM contacts WHERE id=\$1`).
		WithArgs(99).WillReturnResult(sqlmock.NewResult(0, 0))

	err = repo.Delete(99)
	var notFound *appErrors.ErrContactNotFound
	assert.ErrorAs(t, err, &notFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAddTagGivesUpAfterRepeatedConflicts(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := &ContactRepository{DB: db}

	for i := 0; i < tagCASRetries; i++ {
		mock.ExpectQuery(`SELECT (.+) FROM contacts WHERE id=\$1`).
			WithArgs(1).
			WillReturnRows(sqlmock.NewRows([]string{"id", "phone", "first_name", "last_name", "company", "custom", "tags", "version"}).
				AddRow(1, "254700000001", "Alice", "", "", nil, "{}", i+1))
		mock.ExpectExec(`UPDATE contacts SET tags=`).
			WillReturnResult(sqlmock.NewResult(0, 0))
	}

	_, err = repo.AddTag(1, model.OptOutTag)
	var conflict *appErrors.PersistenceConflictError
	assert.ErrorAs(t, err, &conflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}
