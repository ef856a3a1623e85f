package domain

import "time"

// RunSummary describes one finished harvest of one source.
type RunSummary struct {
	SourceID   int64           `json:"source_id"`
	Title      string          `json:"title"`
	Format     Format          `json:"format"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Full       bool            `json:"full"`
	Success    bool            `json:"success"`
	Error      string          `json:"error,omitempty"`
	Pages      int             `json:"pages"`
	Outcomes   map[Outcome]int `json:"outcomes,omitempty"`
	Extracted  map[string]int  `json:"extracted,omitempty"`
}

// Duration returns how long the run took.
func (s RunSummary) Duration() time.Duration {
	return s.FinishedAt.Sub(s.StartedAt)
}
