package planner

import (
	"math/rand"
	"time"

	"github.com/google/uuid"

	appErrors "github.com/unclebandit/wacampaign-backend/internal/errors"
	"github.com/unclebandit/wacampaign-backend/internal/model"
)

// Planner turns a recipient set, a template snapshot and a pacing policy
// into a concrete per-recipient send-time plan. Delays are drawn once at
// plan-creation time so a plan replays deterministically; dispatch retries
// never redraw them.
type Planner struct {
	rng *rand.Rand
	now func() time.Time
}

// New builds a planner with its own seeded random source.
func New() *Planner {
	return &Planner{
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
		now: time.Now,
	}
}

// NewWithSource builds a planner over the given source and clock, for
// deterministic tests.
func NewWithSource(src rand.Source, now func() time.Time) *Planner {
	return &Planner{rng: rand.New(src), now: now}
}

// Plan computes the full plan. Invalid pacing is rejected here, never
// silently repaired.
func (pl *Planner) Plan(recipients []model.Recipient, tmpl model.MessageTemplate, pacing model.PacingPolicy, start time.Time, phoneLine int) (*model.CampaignPlan, error) {
	if err := pacing.Validate(); err != nil {
		return nil, err
	}
	if len(recipients) == 0 {
		return nil, appErrors.NewConfigurationError("recipients", "at least one recipient required")
	}

	times := pl.sendTimes(len(recipients), pacing, start)
	rows := make([]model.PlanRecipient, len(recipients))
	for i, r := range recipients {
		rows[i] = model.PlanRecipient{
			Recipient: r,
			Status:    model.RecipientPending,
			SendAt:    times[i],
		}
	}

	created := pl.now()
	return &model.CampaignPlan{
		ID:             uuid.NewString(),
		Recipients:     rows,
		Template:       tmpl,
		Pacing:         pacing,
		ScheduledStart: start,
		Status:         model.PlanScheduled,
		PhoneLine:      phoneLine,
		CreatedAt:      created,
		LastMutatedAt:  created,
	}, nil
}

// Replan recomputes send times for the plan's pending recipients under new
// template/pacing/start settings. Recipients already sent or failed keep
// their status and are not resent.
func (pl *Planner) Replan(plan *model.CampaignPlan, tmpl model.MessageTemplate, pacing model.PacingPolicy, start time.Time) error {
	if err := pacing.Validate(); err != nil {
		return err
	}

	var pending []int
	for i, r := range plan.Recipients {
		if r.Status == model.RecipientPending {
			pending = append(pending, i)
		}
	}
	times := pl.sendTimes(len(pending), pacing, start)
	for n, i := range pending {
		plan.Recipients[i].SendAt = times[n]
	}

	plan.Template = tmpl
	plan.Pacing = pacing
	plan.ScheduledStart = start
	plan.LastMutatedAt = pl.now()
	return nil
}

// NextCycle re-enters planning for an infinite-loop plan: every recipient
// goes back to pending with fresh send times, one repeat interval after the
// previous cycle's start. Cancellation is the only exit from the loop.
func (pl *Planner) NextCycle(plan *model.CampaignPlan) {
	start := plan.ScheduledStart.Add(plan.Pacing.RepeatInterval())
	times := pl.sendTimes(len(plan.Recipients), plan.Pacing, start)
	for i := range plan.Recipients {
		plan.Recipients[i].Status = model.RecipientPending
		plan.Recipients[i].SendAt = times[i]
	}
	plan.ScheduledStart = start
	plan.Status = model.PlanScheduled
	plan.Cycle++
	plan.LastMutatedAt = pl.now()
}

// sendTimes computes one send time per recipient index:
//   - batch k is offset by k * repeat interval from start,
//   - within a batch the drawn delays accumulate, so recipient i fires at
//     batch offset + sum of delays of recipients 0..i-1,
//   - a sleep pause is added after every SleepAfterMessages cumulative
//     messages, shifting everything that follows,
//   - the active-hours clamp runs last.
func (pl *Planner) sendTimes(n int, pacing model.PacingPolicy, start time.Time) []time.Time {
	interval := pacing.RepeatInterval()
	window, hasWindow := parseActiveHours(pacing)

	times := make([]time.Time, n)
	var cum, sleepShift time.Duration
	for i := 0; i < n; i++ {
		batch := i / pacing.BatchSize
		// With no repeat interval, batches run back-to-back and the
		// per-message delay alone paces the whole sequence.
		if interval > 0 && i%pacing.BatchSize == 0 {
			cum = 0
		}
		t := start.Add(time.Duration(batch)*interval + cum + sleepShift)
		if hasWindow {
			t = window.clamp(t)
		}
		times[i] = t

		cum += pl.drawDelay(pacing)
		if pacing.SleepAfterMessages > 0 && (i+1)%pacing.SleepAfterMessages == 0 {
			sleepShift += time.Duration(pacing.SleepDurationSeconds) * time.Second
		}
	}
	return times
}

func (pl *Planner) drawDelay(pacing model.PacingPolicy) time.Duration {
	d := pacing.MinDelaySeconds
	if span := pacing.MaxDelaySeconds - pacing.MinDelaySeconds; span > 0 {
		d += pl.rng.Intn(span + 1)
	}
	return time.Duration(d) * time.Second
}

type activeWindow struct {
	startH, startM int
	endH, endM     int
}

func parseActiveHours(pacing model.PacingPolicy) (activeWindow, bool) {
	if !pacing.HasActiveHours() {
		return activeWindow{}, false
	}
	// validated in PacingPolicy.Validate
	s, _ := time.Parse("15:04", pacing.ActiveHoursStart)
	e, _ := time.Parse("15:04", pacing.ActiveHoursEnd)
	return activeWindow{
		startH: s.Hour(), startM: s.Minute(),
		endH: e.Hour(), endM: e.Minute(),
	}, true
}

// clamp defers a time outside the wall-clock window to the next window
// start: same day when the shift is forward within the day, else the next
// day. A start later than the end is treated as an overnight window.
func (w activeWindow) clamp(t time.Time) time.Time {
	dayStart := time.Date(t.Year(), t.Month(), t.Day(), w.startH, w.startM, 0, 0, t.Location())
	dayEnd := time.Date(t.Year(), t.Month(), t.Day(), w.endH, w.endM, 0, 0, t.Location())

	if !dayStart.After(dayEnd) {
		if t.Before(dayStart) {
			return dayStart
		}
		if t.After(dayEnd) {
			return dayStart.AddDate(0, 0, 1)
		}
		return t
	}

	// overnight window, e.g. 22:00-06:00
	if t.After(dayEnd) && t.Before(dayStart) {
		return dayStart
	}
	return t
}
