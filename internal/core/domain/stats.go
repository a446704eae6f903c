package domain

import "time"

// RunStats aggregates one pipeline run. Failed counts documents aborted by a
// stage error; Skipped counts documents rejected before or during the run
// (unchanged content, quality gate).
type RunStats struct {
	Source     string                   `json:"source"`
	Total      int                      `json:"total"`
	Processed  int                      `json:"processed"`
	Failed     int                      `json:"failed"`
	Skipped    int                      `json:"skipped"`
	Chunks     int                      `json:"chunks"`
	Duration   time.Duration            `json:"duration"`
	StageTimes map[string]time.Duration `json:"stage_times,omitempty"`
}

// Merge folds another run's counters into this one. Stage timings are summed
// per stage name.
func (s *RunStats) Merge(other RunStats) {
	s.Total += other.Total
	s.Processed += other.Processed
	s.Failed += other.Failed
	s.Skipped += other.Skipped
	s.Chunks += other.Chunks
	s.Duration += other.Duration
	if len(other.StageTimes) == 0 {
		return
	}
	if s.StageTimes == nil {
		s.StageTimes = make(map[string]time.Duration, len(other.StageTimes))
	}
	for name, d := range other.StageTimes {
		s.StageTimes[name] += d
	}
}
