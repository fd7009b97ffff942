package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rewired-gh/skywatch/internal/calibrate"
	"github.com/rewired-gh/skywatch/internal/models"
)

// printSummary displays a backtest summary
func printSummary(title string, s Summary) {
	fmt.Println()
	fmt.Println(title)
	fmt.Println(strings.Repeat("-", 80))
	fmt.Printf("Readings replayed: %d (%d rejected)\n", s.Readings, s.Rejected)
	fmt.Printf("Predictions: %d\n", s.Predictions)

	fmt.Println("\nDominant conditions:")
	conds := make([]models.Condition, 0, len(s.Dominant))
	for c := range s.Dominant {
		conds = append(conds, c)
	}
	sort.Slice(conds, func(i, j int) bool { return s.Dominant[conds[i]] > s.Dominant[conds[j]] })
	for _, c := range conds {
		pct := float64(s.Dominant[c]) / float64(s.Predictions) * 100
		fmt.Printf("  %-14s %6d (%.1f%%)\n", c, s.Dominant[c], pct)
	}

	fmt.Println("\nTagged events:")
	if len(s.Outcomes) == 0 {
		fmt.Println("  none")
	}
	for _, l := range models.Labels {
		hits, misses := s.Hits[l], s.Misses[l]
		if hits+misses == 0 {
			continue
		}
		fmt.Printf("  %-14s %d/%d detected (%.0f%%)\n", l, hits, hits+misses, float64(hits)/float64(hits+misses)*100)
	}
	for _, o := range s.Outcomes {
		status := "MISSED"
		if o.Matched {
			status = fmt.Sprintf("hit, %.0f%%, lead %v", o.Confidence*100, o.Lead)
		}
		fmt.Printf("    %s  %-12s %s\n", o.Event.Timestamp.Format("2006-01-02 15:04"), o.Event.Label, status)
	}

	if len(s.Unconfirmed) > 0 {
		fmt.Println("\nAlerts without a matching tag:")
		for _, c := range []models.Condition{models.ConditionThunderstorm, models.ConditionFog, models.ConditionFrost, models.ConditionFire} {
			if n := s.Unconfirmed[c]; n > 0 {
				fmt.Printf("  %-14s %d\n", c, n)
			}
		}
	}
}

// printReport displays a calibration report
func printReport(r calibrate.Report) {
	fmt.Printf("\nCalibration v%d: %d events, %d TP, %d FN, %d FP, %d skipped, %d divergences (%v)\n",
		r.Version, r.Events, r.TruePositives, r.FalseNegatives, r.FalsePositives, r.Skipped, len(r.Divergences), r.Duration)
	for _, d := range r.Divergences {
		fmt.Printf("  %v\n", d)
	}
}
