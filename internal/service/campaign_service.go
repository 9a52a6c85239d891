package service

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/unclebandit/wacampaign-backend/internal/dispatch"
	appErrors "github.com/unclebandit/wacampaign-backend/internal/errors"
	"github.com/unclebandit/wacampaign-backend/internal/metrics"
	"github.com/unclebandit/wacampaign-backend/internal/model"
	"github.com/unclebandit/wacampaign-backend/internal/planner"
	"github.com/unclebandit/wacampaign-backend/internal/queue"
	"github.com/unclebandit/wacampaign-backend/internal/recipient"
	"github.com/unclebandit/wacampaign-backend/internal/repository"
	"github.com/unclebandit/wacampaign-backend/internal/template"
)

// CampaignService owns plan creation and every mutation of a pending plan:
// cancellation, edits, send-now handoff and the cascades driven by contact
// events.
type CampaignService struct {
	Plans    repository.PlanRepositoryInterface
	Contacts repository.ContactRepositoryInterface
	Audit    repository.AuditRepositoryInterface
	Queue    queue.Queue
	Planner  *planner.Planner
	Locks    dispatch.PlanLocker
	Logger   zerolog.Logger
	LockWait time.Duration
}

// CreatePlanRequest selects recipients either explicitly, by tag, or via
// select-all over the directory listing.
type CreatePlanRequest struct {
	ContactIDs     []int                 `json:"contact_ids,omitempty"`
	Tag            string                `json:"tag,omitempty"`
	SelectAll      bool                  `json:"select_all,omitempty"`
	Template       model.MessageTemplate `json:"template"`
	Pacing         model.PacingPolicy    `json:"pacing"`
	ScheduledStart time.Time             `json:"scheduled_start"`
	PhoneLine      int                   `json:"phone_line"`
}

type CreatePlanResult struct {
	Plan     *model.CampaignPlan `json:"plan"`
	Rejected int                 `json:"rejected"`
	Excluded int                 `json:"excluded"`
}

// CreatePlan builds the recipient set, runs the planner and persists the
// plan. Contacts without a resolvable address are counted in Rejected;
// opted-out contacts are excluded up front and counted in Excluded.
func (s *CampaignService) CreatePlan(req CreatePlanRequest) (*CreatePlanResult, error) {
	var contacts []model.Contact
	var err error
	switch {
	case req.SelectAll:
		contacts, err = s.Contacts.ListAll()
	case req.Tag != "":
		contacts, err = s.Contacts.ListByTag(req.Tag)
	default:
		contacts, err = s.Contacts.ListByIDs(req.ContactIDs)
	}
	if err != nil {
		return nil, err
	}

	eligible := contacts[:0:0]
	excluded := 0
	for _, c := range contacts {
		if c.HasTag(model.OptOutTag) {
			excluded++
			continue
		}
		eligible = append(eligible, c)
	}

	var recipients []model.Recipient
	var rejected []model.Contact
	if req.SelectAll {
		recipients, rejected = recipient.BuildFromSelectAll(eligible)
	} else {
		recipients, rejected = recipient.Build(eligible)
	}

	plan, err := s.Planner.Plan(recipients, req.Template, req.Pacing, req.ScheduledStart, req.PhoneLine)
	if err != nil {
		return nil, err
	}
	if err := s.Plans.Create(plan); err != nil {
		return nil, err
	}

	s.Logger.Info().Str("plan_id", plan.ID).
		Int("recipients", len(recipients)).Int("rejected", len(rejected)).Int("excluded", excluded).
		Time("start", plan.ScheduledStart).Msg("plan created")

	return &CreatePlanResult{Plan: plan, Rejected: len(rejected), Excluded: excluded}, nil
}

// Preview renders the template for one contact without sending anything.
func (s *CampaignService) Preview(contactID int, body string) (string, error) {
	contact, err := s.Contacts.GetByID(contactID)
	if err != nil {
		return "", err
	}
	recipients, rejected := recipient.Build([]model.Contact{*contact})
	if len(rejected) > 0 {
		return "", appErrors.NewRecipientResolutionError(contact.Phone, "contact has no valid address")
	}
	return template.Resolve(body, recipients[0]), nil
}

// Cancel removes the given still-pending recipients from a plan, or
// deletes the whole plan when no handles are given. A plan left with no
// recipients is deleted too.
func (s *CampaignService) Cancel(planID string, handles []string) error {
	release, err := s.Locks.Acquire(planID, s.LockWait)
	if err != nil {
		return err
	}
	defer release()

	if len(handles) == 0 {
		if err := s.Plans.Delete(planID); err != nil {
			return err
		}
		s.Locks.Forget(planID)
		s.Logger.Info().Str("plan_id", planID).Msg("plan cancelled")
		return nil
	}

	plan, err := s.Plans.GetByID(planID)
	if err != nil {
		return err
	}

	// Audit only what actually leaves the plan: handles not in the plan,
	// or already terminal, are not removals and must not appear in the
	// trail.
	requested := make(map[string]bool, len(handles))
	for _, h := range handles {
		requested[h] = true
	}
	var removed []string
	for _, r := range plan.Recipients {
		if requested[r.Handle] && r.Status == model.RecipientPending {
			removed = append(removed, r.Handle)
		}
	}
	if len(removed) == 0 {
		return nil
	}
	plan.RemoveRecipients(removed)
	for _, h := range removed {
		s.appendAudit(planID, h, model.AuditReasonUserCancelled)
	}
	if len(plan.Recipients) == 0 {
		if err := s.Plans.Delete(planID); err != nil {
			return err
		}
		s.Locks.Forget(planID)
		return nil
	}
	plan.Status = plan.DeriveStatus()
	plan.LastMutatedAt = time.Now()
	return s.Plans.Update(plan)
}

// SendNowJob is the queue payload handed to the dispatcher.
type SendNowJob struct {
	PlanID  string   `json:"plan_id"`
	Handles []string `json:"handles"`
}

// SendNow queues an immediate dispatch for a subset of the plan. The
// worker performs the sends; the remaining recipients keep their schedule.
func (s *CampaignService) SendNow(planID string, handles []string) error {
	if _, err := s.Plans.GetByID(planID); err != nil {
		return err
	}
	payload, err := json.Marshal(SendNowJob{PlanID: planID, Handles: handles})
	if err != nil {
		return err
	}
	return s.Queue.Publish(queue.SendNowTopic, payload)
}

// Edit replaces the plan's template, pacing and start time. Recipients
// already sent or failed keep their status and are never resent; pending
// recipients are replanned under the new settings.
func (s *CampaignService) Edit(planID string, tmpl model.MessageTemplate, pacing model.PacingPolicy, start time.Time) (*model.CampaignPlan, error) {
	release, err := s.Locks.Acquire(planID, s.LockWait)
	if err != nil {
		return nil, err
	}
	defer release()

	plan, err := s.Plans.GetByID(planID)
	if err != nil {
		return nil, err
	}
	if err := s.Planner.Replan(plan, tmpl, pacing, start); err != nil {
		return nil, err
	}
	if err := s.Plans.Update(plan); err != nil {
		return nil, err
	}
	return plan, nil
}

// HandleOptOut tags the contact as opted out and cancels the contact from
// every plan that still carries its handle. It blocks on each plan's lock,
// so a tick already sending to that recipient finishes first; the cascade
// then takes precedence for anything not yet started.
func (s *CampaignService) HandleOptOut(contactID int) (int, error) {
	contact, err := s.Contacts.AddTag(contactID, model.OptOutTag)
	if err != nil {
		return 0, err
	}
	handle, err := recipient.Handle(contact.Phone)
	if err != nil {
		// no valid address means no plans can carry the contact
		return 0, nil
	}
	return s.CascadeCancel(handle, model.AuditReasonOptOut)
}

// HandleContactDeleted removes the contact from the directory and cancels
// its handle out of every plan still carrying it, with its own audit
// reason so the trail distinguishes deletion from opt-out.
func (s *CampaignService) HandleContactDeleted(contactID int) (int, error) {
	contact, err := s.Contacts.GetByID(contactID)
	if err != nil {
		return 0, err
	}
	if err := s.Contacts.Delete(contactID); err != nil {
		return 0, err
	}
	handle, err := recipient.Handle(contact.Phone)
	if err != nil {
		// no valid address means no plans can carry the contact
		return 0, nil
	}
	return s.CascadeCancel(handle, model.AuditReasonContactDeleted)
}

// CascadeCancel removes the handle from every plan that contains it,
// writing one audit entry per removal. Recipients already terminal are
// left untouched: a send already made cannot be rolled back, and the audit
// trail records why the pending ones disappeared.
func (s *CampaignService) CascadeCancel(handle, reason string) (int, error) {
	plans, err := s.Plans.ListByRecipientHandle(handle)
	if err != nil {
		return 0, err
	}

	touched := 0
	for _, stale := range plans {
		release := s.Locks.AcquireBlocking(stale.ID)

		plan, err := s.Plans.GetByID(stale.ID)
		if err != nil {
			release()
			var notFound *appErrors.ErrPlanNotFound
			if errors.As(err, &notFound) {
				continue // completed and deleted while we waited
			}
			return touched, err
		}

		removed := false
		for _, r := range plan.Recipients {
			if r.Handle == handle && r.Status == model.RecipientPending {
				removed = true
			}
		}
		if removed {
			plan.RemoveRecipients([]string{handle})
			s.appendAudit(plan.ID, handle, reason)
			metrics.CascadeCancellations.Inc()
			touched++

			if len(plan.Recipients) == 0 {
				if err := s.Plans.Delete(plan.ID); err != nil {
					release()
					return touched, err
				}
				s.Locks.Forget(plan.ID)
			} else {
				plan.Status = plan.DeriveStatus()
				plan.LastMutatedAt = time.Now()
				if err := s.Plans.Update(plan); err != nil {
					release()
					return touched, err
				}
			}
		}
		release()
	}

	s.Logger.Info().Str("handle", handle).Str("reason", reason).
		Int("plans", touched).Msg("cascading cancellation applied")
	return touched, nil
}

// PlanDetails is a plan plus its per-status recipient counts.
type PlanDetails struct {
	*model.CampaignPlan
	Stats map[string]int `json:"stats"`
}

func (s *CampaignService) GetPlanDetails(planID string) (*PlanDetails, error) {
	plan, err := s.Plans.GetByID(planID)
	if err != nil {
		return nil, err
	}
	stats, err := s.Plans.GetPlanStats(planID)
	if err != nil {
		return nil, err
	}
	return &PlanDetails{CampaignPlan: plan, Stats: stats}, nil
}

// ListPlans fetches plans with pagination.
func (s *CampaignService) ListPlans(page, pageSize int, status string) ([]*model.CampaignPlan, map[string]int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	if pageSize > 100 {
		pageSize = 100
	}
	offset := (page - 1) * pageSize

	plans, total, err := s.Plans.ListPlans(offset, pageSize, status)
	if err != nil {
		return nil, nil, err
	}

	totalPages := (total + pageSize - 1) / pageSize
	pagination := map[string]int{
		"page":        page,
		"page_size":   pageSize,
		"total_count": total,
		"total_pages": totalPages,
	}
	return plans, pagination, nil
}

func (s *CampaignService) appendAudit(planID, handle, reason string) {
	entry := model.AuditEntry{
		PlanID:          planID,
		RecipientHandle: handle,
		Reason:          reason,
		CreatedAt:       time.Now(),
	}
	if err := s.Audit.Append(entry); err != nil {
		// the audit trail is the only record of why a scheduled send
		// disappeared; a failed write is loud
		s.Logger.Error().Err(err).Str("plan_id", planID).Str("handle", handle).
			Msg("failed to append audit entry")
	}
}
