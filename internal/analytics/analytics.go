package analytics

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"wardenbot/internal/storage"
)

type Service struct {
	store *storage.Store
}

func New(store *storage.Store) *Service {
	return &Service{store: store}
}

type Report struct {
	Total   int
	ByLevel map[string]int
	ByEvent map[string]int
}

func (s *Service) Report(ctx context.Context, guildID string, since time.Time) (Report, error) {
	logs, err := s.store.ListAuditLogs(ctx, guildID, since)
	if err != nil {
		return Report{}, err
	}

	report := Report{ByLevel: make(map[string]int), ByEvent: make(map[string]int)}
	for _, log := range logs {
		report.Total++
		report.ByLevel[log.Level]++
		report.ByEvent[log.Event]++
	}
	return report, nil
}

// Summary renders a report as a short operator-facing text block.
func (r Report) Summary() string {
	if r.Total == 0 {
		return "No moderation activity in this period."
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d moderation events", r.Total)

	events := make([]string, 0, len(r.ByEvent))
	for event := range r.ByEvent {
		events = append(events, event)
	}
	sort.Strings(events)
	for _, event := range events {
		fmt.Fprintf(&b, "\n- %s: %d", event, r.ByEvent[event])
	}
	return b.String()
}
