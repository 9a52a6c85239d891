package service

import (
	"sort"
	"time"

	"github.com/unclebandit/wacampaign-backend/internal/model"
)

// ConsolidatedGroup is the read-side view of plans sharing identical
// content and scheduled time. Each underlying plan keeps its own identity
// and per-recipient statuses; bulk actions fan out to the plan IDs.
type ConsolidatedGroup struct {
	Representative *model.CampaignPlan `json:"representative"`
	PlanIDs        []string            `json:"plan_ids"`
	Count          int                 `json:"count"`
}

type consolidationKey struct {
	body  string
	start time.Time
}

// Consolidate partitions plans by (body text, scheduled start), sorted
// ascending by start time. It never mutates or merges the inputs.
func Consolidate(plans []*model.CampaignPlan) []ConsolidatedGroup {
	index := make(map[consolidationKey]int)
	groups := []ConsolidatedGroup{}

	for _, p := range plans {
		key := consolidationKey{body: p.Template.BodyText, start: p.ScheduledStart.UTC()}
		if i, ok := index[key]; ok {
			groups[i].Count++
			groups[i].PlanIDs = append(groups[i].PlanIDs, p.ID)
			continue
		}
		index[key] = len(groups)
		groups = append(groups, ConsolidatedGroup{
			Representative: p,
			PlanIDs:        []string{p.ID},
			Count:          1,
		})
	}

	sort.SliceStable(groups, func(i, j int) bool {
		return groups[i].Representative.ScheduledStart.Before(groups[j].Representative.ScheduledStart)
	})
	return groups
}
