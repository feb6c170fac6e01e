package models

// QueryFilter narrows signal list projections. Empty sets mean "no
// restriction", matching the dashboard's default-empty filter state; the
// confidence range is inclusive on both ends.
type QueryFilter struct {
	Sources       []string `json:"sources"`
	Categories    []string `json:"categories"`
	Severities    []string `json:"severities"`
	ConfidenceMin float64  `json:"confidenceMin"`
	ConfidenceMax float64  `json:"confidenceMax"`
}

// Unrestricted reports whether the confidence range is the default full span.
func (f QueryFilter) Unrestricted() bool {
	return f.ConfidenceMin <= 0 && f.ConfidenceMax >= 100
}

// Overview is the live counters snapshot backing the dashboard header.
type Overview struct {
	SignalsTracked    int   `json:"signalsTracked"`
	SignalsProcessed  int64 `json:"signalsProcessed"`
	DataPoints        int   `json:"dataPoints"`
	ActiveAlerts      int   `json:"activeAlerts"`
	AutomationActions int64 `json:"automationActions"`
	ActiveWorkflows   int   `json:"activeWorkflows"`
}
