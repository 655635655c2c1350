package ledger

import (
	"sort"
	"strings"
	"time"

	"github.com/epiintel/drkb/internal/event"
)

// topN caps the ranked hazard and location lists.
const topN = 10

// ComputeStatistics summarizes a validated event set for the ledger.
func ComputeStatistics(events []event.Event, totalChunks int) Statistics {
	stats := Statistics{
		TotalEvents: len(events),
		TotalChunks: totalChunks,
	}
	if len(events) == 0 {
		return stats
	}

	hazards := make(map[string]int)
	locations := make(map[string]int)
	oldest, newest := events[0].Date, events[0].Date

	for _, e := range events {
		hazards[e.Hazard]++
		for _, part := range strings.Split(e.ReportedLocation, ",") {
			if loc := strings.TrimSpace(part); loc != "" && loc != "N/A" {
				locations[loc]++
			}
		}
		if e.Date.Before(oldest) {
			oldest = e.Date
		}
		if e.Date.After(newest) {
			newest = e.Date
		}
	}

	stats.TopHazards = rank(hazards)
	stats.TopLocations = rank(locations)
	stats.DateRange = DateRange{
		From: oldest.Format(time.DateOnly),
		To:   newest.Format(time.DateOnly),
	}
	return stats
}

// rank sorts counts descending, name ascending on ties, truncated to topN.
func rank(counts map[string]int) []NameCount {
	ranked := make([]NameCount, 0, len(counts))
	for name, count := range counts {
		ranked = append(ranked, NameCount{Name: name, Count: count})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Count != ranked[j].Count {
			return ranked[i].Count > ranked[j].Count
		}
		return ranked[i].Name < ranked[j].Name
	})
	if len(ranked) > topN {
		ranked = ranked[:topN]
	}
	return ranked
}
