package model

import "time"

// PlanStatus is the derived lifecycle state of a campaign plan.
type PlanStatus string

const (
	PlanScheduled     PlanStatus = "scheduled"
	PlanSending       PlanStatus = "sending"
	PlanPartiallySent PlanStatus = "partially_sent"
	PlanSent          PlanStatus = "sent"
	PlanFailed        PlanStatus = "failed"
	PlanCancelled     PlanStatus = "cancelled"
)

// RecipientStatus tracks one recipient inside a plan.
type RecipientStatus string

const (
	RecipientPending   RecipientStatus = "pending"
	RecipientSent      RecipientStatus = "sent"
	RecipientFailed    RecipientStatus = "failed"
	RecipientCancelled RecipientStatus = "cancelled"
)

// Terminal reports whether the status can no longer change.
func (s RecipientStatus) Terminal() bool {
	return s == RecipientSent || s == RecipientFailed || s == RecipientCancelled
}

// PlanRecipient is one recipient row of a plan, with its computed send time.
type PlanRecipient struct {
	Recipient
	Status RecipientStatus `db:"status" json:"status"`
	SendAt time.Time       `db:"send_at" json:"send_at"`
}

// CampaignPlan is a persisted, cancellable send plan for one recipient set.
type CampaignPlan struct {
	ID             string          `db:"id" json:"id"`
	Recipients     []PlanRecipient `json:"recipients"`
	Template       MessageTemplate `json:"template"`
	Pacing         PacingPolicy    `json:"pacing"`
	ScheduledStart time.Time       `db:"scheduled_start" json:"scheduled_start"`
	Status         PlanStatus      `db:"status" json:"status"`
	PhoneLine      int             `db:"phone_line" json:"phone_line"`
	Cycle          int             `db:"cycle" json:"cycle"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
	LastMutatedAt  time.Time       `db:"last_mutated_at" json:"last_mutated_at"`
}

// DeriveStatus computes the plan status from the recipient statuses:
// sent iff all sent, failed iff all failed, cancelled iff all cancelled,
// partially_sent for any other all-terminal mix, scheduled/sending otherwise.
func (p *CampaignPlan) DeriveStatus() PlanStatus {
	var pending, sent, failed, cancelled int
	for _, r := range p.Recipients {
		switch r.Status {
		case RecipientPending:
			pending++
		case RecipientSent:
			sent++
		case RecipientFailed:
			failed++
		case RecipientCancelled:
			cancelled++
		}
	}
	total := len(p.Recipients)
	switch {
	case total == 0:
		return PlanCancelled
	case pending == total:
		return PlanScheduled
	case pending > 0:
		return PlanSending
	case sent == total:
		return PlanSent
	case failed == total:
		return PlanFailed
	case cancelled == total:
		return PlanCancelled
	default:
		return PlanPartiallySent
	}
}

// Pending returns every recipient still awaiting dispatch.
func (p *CampaignPlan) Pending() []PlanRecipient {
	var out []PlanRecipient
	for _, r := range p.Recipients {
		if r.Status == RecipientPending {
			out = append(out, r)
		}
	}
	return out
}

// PendingDue returns the recipients still pending whose send time has arrived.
func (p *CampaignPlan) PendingDue(now time.Time) []PlanRecipient {
	var due []PlanRecipient
	for _, r := range p.Recipients {
		if r.Status == RecipientPending && !r.SendAt.After(now) {
			due = append(due, r)
		}
	}
	return due
}

// PendingByHandle returns the pending recipients among the given handles.
// Terminal recipients are never re-included.
func (p *CampaignPlan) PendingByHandle(handles []string) []PlanRecipient {
	want := make(map[string]bool, len(handles))
	for _, h := range handles {
		want[h] = true
	}
	var out []PlanRecipient
	for _, r := range p.Recipients {
		if r.Status == RecipientPending && want[r.Handle] {
			out = append(out, r)
		}
	}
	return out
}

// SetRecipientStatus updates one recipient's status in place.
func (p *CampaignPlan) SetRecipientStatus(handle string, status RecipientStatus) {
	for i := range p.Recipients {
		if p.Recipients[i].Handle == handle {
			p.Recipients[i].Status = status
			return
		}
	}
}

// RemoveRecipients drops the given handles from the plan.
func (p *CampaignPlan) RemoveRecipients(handles []string) {
	drop := make(map[string]bool, len(handles))
	for _, h := range handles {
		drop[h] = true
	}
	kept := p.Recipients[:0]
	for _, r := range p.Recipients {
		if !drop[r.Handle] {
			kept = append(kept, r)
		}
	}
	p.Recipients = kept
}

// AllTerminal reports whether every recipient reached a terminal status.
func (p *CampaignPlan) AllTerminal() bool {
	for _, r := range p.Recipients {
		if !r.Status.Terminal() {
			return false
		}
	}
	return true
}
