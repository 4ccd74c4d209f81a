package core

import "time"

// ScoreRun records one scored optimization step for history and replay.
type ScoreRun struct {
	ID        string         `json:"id"`
	Profile   string         `json:"profile,omitempty"`
	T         float64        `json:"t"`
	Total     float64        `json:"total"`
	Prompts   []PromptResult `json:"prompts"`
	CreatedAt time.Time      `json:"created_at"`
}

// PromptResult is the persisted outcome of scoring one prompt.
type PromptResult struct {
	Prompt    string  `json:"prompt"`
	Raw       string  `json:"raw"`
	Value     float64 `json:"value"`
	Unclamped float64 `json:"unclamped"`
}
