package flowlog

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"
)

// Stats summarizes the successful durations of one stage, in milliseconds.
type Stats struct {
	Stage    Stage   `json:"stage"`
	Count    int     `json:"count"`
	Failures int     `json:"failures"`
	Mean     float64 `json:"mean_ms"`
	Median   float64 `json:"median_ms"`
	StdDev   float64 `json:"stdev_ms"`
	Min      float64 `json:"min_ms"`
	Max      float64 `json:"max_ms"`
}

// SuccessRate is the share of recorded executions that succeeded.
func (s Stats) SuccessRate() float64 {
	total := s.Count + s.Failures
	if total == 0 {
		return 0
	}
	return float64(s.Count) / float64(total)
}

// Report summarizes every stage recorded since the given time, in flow order.
// Stages with no events are omitted.
func (s *Store) Report(ctx context.Context, since time.Time) ([]Stats, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT stage, duration_ms, ok FROM flow_events WHERE started_at >= ?`, since.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	durations := make(map[Stage][]float64)
	failures := make(map[Stage]int)
	for rows.Next() {
		var (
			stage string
			ms    float64
			ok    bool
		)
		if err := rows.Scan(&stage, &ms, &ok); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		if ok {
			durations[Stage(stage)] = append(durations[Stage(stage)], ms)
		} else {
			failures[Stage(stage)]++
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var report []Stats
	for _, stage := range orderedStages(durations, failures) {
		st := Summarize(durations[stage])
		st.Stage = stage
		st.Failures = failures[stage]
		report = append(report, st)
	}
	return report, nil
}

// orderedStages returns the known stages first, in flow order, then any
// others alphabetically.
func orderedStages(durations map[Stage][]float64, failures map[Stage]int) []Stage {
	present := make(map[Stage]bool)
	for s := range durations {
		present[s] = true
	}
	for s := range failures {
		present[s] = true
	}

	var out []Stage
	for _, s := range Stages {
		if present[s] {
			out = append(out, s)
			delete(present, s)
		}
	}
	var extra []Stage
	for s := range present {
		extra = append(extra, s)
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i] < extra[j] })
	return append(out, extra...)
}

// Summarize computes count, mean, median, sample standard deviation, min
// and max of ms. The standard deviation is zero for fewer than two samples.
func Summarize(ms []float64) Stats {
	st := Stats{Count: len(ms)}
	if len(ms) == 0 {
		return st
	}

	sorted := append([]float64(nil), ms...)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	st.Mean = sum / float64(len(sorted))
	st.Min = sorted[0]
	st.Max = sorted[len(sorted)-1]

	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		st.Median = (sorted[mid-1] + sorted[mid]) / 2
	} else {
		st.Median = sorted[mid]
	}

	if len(sorted) > 1 {
		var sq float64
		for _, v := range sorted {
			d := v - st.Mean
			sq += d * d
		}
		st.StdDev = math.Sqrt(sq / float64(len(sorted)-1))
	}

	return st
}
