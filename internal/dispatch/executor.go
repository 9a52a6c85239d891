package dispatch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	appErrors "github.com/unclebandit/wacampaign-backend/internal/errors"
	"github.com/unclebandit/wacampaign-backend/internal/metrics"
	"github.com/unclebandit/wacampaign-backend/internal/model"
	"github.com/unclebandit/wacampaign-backend/internal/planner"
	"github.com/unclebandit/wacampaign-backend/internal/template"
	"github.com/unclebandit/wacampaign-backend/internal/transport"
)

// PlanStore is the slice of the plan repository the executor needs.
type PlanStore interface {
	ListDue(now time.Time) ([]*model.CampaignPlan, error)
	GetByID(id string) (*model.CampaignPlan, error)
	Update(p *model.CampaignPlan) error
	Delete(id string) error
}

// Executor consumes plans whose recipients are due and performs the sends
// with bounded concurrency. Per-plan mutation is serialized through Locks;
// all narrowing for a tick commits atomically at the end of the tick.
type Executor struct {
	Store   PlanStore
	Sender  transport.Sender
	Locks   PlanLocker
	Planner *planner.Planner
	Logger  zerolog.Logger

	Workers    int
	MaxElapsed time.Duration
	LockWait   time.Duration
}

// Run drives the scheduler tick until the context is cancelled.
func (e *Executor) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			e.Tick(ctx, now)
		}
	}
}

// Tick scans pending plans for recipients whose send time has arrived and
// dispatches them.
func (e *Executor) Tick(ctx context.Context, now time.Time) {
	started := time.Now()
	defer func() { metrics.TickDuration.Observe(time.Since(started).Seconds()) }()

	plans, err := e.Store.ListDue(now)
	if err != nil {
		e.Logger.Error().Err(err).Msg("failed to list due plans")
		return
	}

	for _, plan := range plans {
		if err := e.dispatchDue(ctx, plan.ID, now); err != nil {
			var conflict *appErrors.PersistenceConflictError
			if errors.As(err, &conflict) {
				// another writer holds the plan, the next tick retries
				e.Logger.Debug().Str("plan_id", plan.ID).Msg("plan locked, skipping this tick")
				continue
			}
			e.Logger.Error().Err(err).Str("plan_id", plan.ID).Msg("dispatch failed")
		}
	}
}

func (e *Executor) dispatchDue(ctx context.Context, planID string, now time.Time) error {
	release, err := e.Locks.Acquire(planID, e.LockWait)
	if err != nil {
		return err
	}
	defer release()

	// Reload under the lock: a send-now or cascade may have narrowed the
	// pending set since the scan.
	plan, err := e.Store.GetByID(planID)
	if err != nil {
		return err
	}
	due := plan.PendingDue(now)
	if len(due) == 0 {
		return nil
	}
	return e.execute(ctx, plan, due)
}

// SendNow dispatches the given subset of a plan immediately, regardless of
// the computed send times; with no handles, every pending recipient goes.
// Only recipients still pending are sent; narrowing never re-includes a
// terminal recipient.
func (e *Executor) SendNow(ctx context.Context, planID string, handles []string) error {
	release, err := e.Locks.Acquire(planID, e.LockWait)
	if err != nil {
		return err
	}
	defer release()

	plan, err := e.Store.GetByID(planID)
	if err != nil {
		return err
	}
	subset := plan.Pending()
	if len(handles) > 0 {
		subset = plan.PendingByHandle(handles)
	}
	if len(subset) == 0 {
		return nil
	}
	return e.execute(ctx, plan, subset)
}

type outcome struct {
	handle string
	status model.RecipientStatus
	err    error
}

// execute runs the sends with a bounded worker pool, then commits all
// resulting status changes in one mutation.
func (e *Executor) execute(ctx context.Context, plan *model.CampaignPlan, targets []model.PlanRecipient) error {
	workers := e.Workers
	if workers < 1 {
		workers = 1
	}
	if workers > len(targets) {
		workers = len(targets)
	}

	jobs := make(chan model.PlanRecipient)
	results := make(chan outcome, len(targets))

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for rec := range jobs {
				results <- e.sendOne(ctx, plan, rec)
			}
		}()
	}
	for _, rec := range targets {
		jobs <- rec
	}
	close(jobs)
	wg.Wait()
	close(results)

	for out := range results {
		plan.SetRecipientStatus(out.handle, out.status)
		metrics.SendsTotal.WithLabelValues(string(out.status)).Inc()
		if out.err != nil {
			e.Logger.Warn().Err(out.err).
				Str("plan_id", plan.ID).Str("handle", out.handle).
				Msg("recipient send failed")
		}
	}
	return e.commit(plan)
}

func (e *Executor) sendOne(ctx context.Context, plan *model.CampaignPlan, rec model.PlanRecipient) outcome {
	body := template.Resolve(plan.Template.BodyText, rec.Recipient)

	op := func() error {
		err := e.send(ctx, plan, rec.Handle, body)
		if err == nil {
			return nil
		}
		if appErrors.IsTransient(err) {
			metrics.SendRetries.Inc()
			return err
		}
		return backoff.Permanent(err)
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = e.MaxElapsed
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return outcome{handle: rec.Handle, status: model.RecipientFailed, err: err}
	}
	return outcome{handle: rec.Handle, status: model.RecipientSent}
}

// send picks the transport operation from the template attachments.
func (e *Executor) send(ctx context.Context, plan *model.CampaignPlan, handle, body string) error {
	tmpl := plan.Template
	line := plan.PhoneLine
	switch {
	case tmpl.HasDocument():
		return e.Sender.SendDocument(ctx, handle, line, tmpl.DocumentURL, body, tmpl.DocumentFilename)
	case tmpl.HasMedia() && strings.HasPrefix(tmpl.MimeType, "video"):
		return e.Sender.SendVideo(ctx, handle, line, tmpl.MediaURL, body)
	case tmpl.HasMedia():
		return e.Sender.SendImage(ctx, handle, line, tmpl.MediaURL, body)
	default:
		return e.Sender.SendText(ctx, handle, line, body)
	}
}

// commit persists the narrowed plan. A fully terminal plan is deleted —
// unless it loops, in which case it re-enters planning for the next cycle.
func (e *Executor) commit(plan *model.CampaignPlan) error {
	plan.LastMutatedAt = time.Now()

	if plan.AllTerminal() {
		if plan.Pacing.InfiniteLoop {
			e.Planner.NextCycle(plan)
			e.Logger.Info().Str("plan_id", plan.ID).Int("cycle", plan.Cycle).
				Time("next_start", plan.ScheduledStart).Msg("plan re-entered planning")
			return e.Store.Update(plan)
		}
		final := plan.DeriveStatus()
		e.Logger.Info().Str("plan_id", plan.ID).Str("status", string(final)).
			Msg("plan complete, removing persisted entry")
		if err := e.Store.Delete(plan.ID); err != nil {
			return err
		}
		e.Locks.Forget(plan.ID)
		return nil
	}

	plan.Status = plan.DeriveStatus()
	return e.Store.Update(plan)
}
