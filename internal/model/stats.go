package model

// Statistics aggregates the stored executions for GET /api/stats.
type Statistics struct {
	TotalExecutions     int            `json:"total_executions"`
	OpenExecutions      int            `json:"open_executions"`
	CompletedExecutions int            `json:"completed_executions"`
	TotalSteps          int            `json:"total_steps"`
	AvgStepsPerRun      float64        `json:"avg_steps_per_run"`
	AvgDurationMS       float64        `json:"avg_duration_ms"` // completed executions only
	StepNameCounts      map[string]int `json:"step_name_counts"`
}

// ExecutionDiff is the response for GET /api/executions/compare. Step
// names are compared as sets; per-step payloads are left to the caller
// to fetch from the full execution views.
type ExecutionDiff struct {
	A           ExecutionSummary `json:"a"`
	B           ExecutionSummary `json:"b"`
	CommonSteps []string         `json:"common_steps"`
	OnlyA       []string         `json:"only_a"`
	OnlyB       []string         `json:"only_b"`
}
