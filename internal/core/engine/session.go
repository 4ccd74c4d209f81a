// Package engine drives prompt scoring across optimization steps. A Session
// owns the evaluation context so time-varying weights and stops resolve
// against the current step without any process-wide state.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/promptsteer/promptsteer/internal/core"
	"github.com/promptsteer/promptsteer/internal/core/expr"
	"github.com/promptsteer/promptsteer/internal/core/prompt"
	"github.com/promptsteer/promptsteer/internal/core/tensor"
)

// ErrNoPrompts is returned by Step when the session has nothing to score.
var ErrNoPrompts = errors.New("session has no prompts")

// RunRecorder persists scored steps.
type RunRecorder interface {
	RecordScoreRun(ctx context.Context, run *core.ScoreRun) error
}

// Session scores a fixed set of prompts step after step.
type Session struct {
	Prompts  []prompt.Scorer
	Context  *expr.Context
	Profile  string
	Recorder RunRecorder
	Clock    func() time.Time
}

// NewSession returns a session with a fresh evaluation context.
func NewSession(prompts ...prompt.Scorer) *Session {
	return &Session{Prompts: prompts, Context: expr.NewContext()}
}

// PromptLoss is one prompt's share of a step.
type PromptLoss struct {
	Prompt string      `json:"prompt"`
	Loss   prompt.Loss `json:"loss"`
}

// StepResult aggregates a step. Total is the sum of prompt loss values and
// Grad the sum of their gradients with respect to the candidate rows.
type StepResult struct {
	T       float64       `json:"t"`
	Prompts []PromptLoss  `json:"prompts"`
	Total   float64       `json:"total"`
	Grad    tensor.Matrix `json:"grad,omitempty"`
}

// Step sets the session time to t and scores every prompt against c. When a
// Recorder is configured the step is persisted; recording failures are
// returned alongside the result.
func (s *Session) Step(ctx context.Context, t float64, c prompt.Candidate) (*StepResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if s == nil || len(s.Prompts) == 0 {
		return nil, ErrNoPrompts
	}
	if c.Embeddings.Rows() == 0 {
		return nil, prompt.ErrEmptyCandidate
	}
	if s.Context == nil {
		s.Context = expr.NewContext()
	}
	s.Context.SetT(t)

	result := &StepResult{
		T:       t,
		Prompts: make([]PromptLoss, 0, len(s.Prompts)),
		Grad:    tensor.Zeros(c.Embeddings.Rows(), c.Embeddings.Dim()),
	}
	for _, p := range s.Prompts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		loss, err := p.Score(s.Context, c)
		if err != nil {
			return nil, fmt.Errorf("score %q: %w", p.String(), err)
		}
		result.Prompts = append(result.Prompts, PromptLoss{Prompt: p.String(), Loss: loss})
		result.Total += loss.Value
		addInto(result.Grad, loss.Grad)
	}

	if s.Recorder != nil {
		if err := s.Recorder.RecordScoreRun(ctx, s.toRun(result)); err != nil {
			return result, fmt.Errorf("record score run: %w", err)
		}
	}
	return result, nil
}

// Run scores c at each t in order and returns one result per step.
func (s *Session) Run(ctx context.Context, ts []float64, c prompt.Candidate) ([]*StepResult, error) {
	results := make([]*StepResult, 0, len(ts))
	for _, t := range ts {
		res, err := s.Step(ctx, t, c)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

func (s *Session) toRun(res *StepResult) *core.ScoreRun {
	run := &core.ScoreRun{
		Profile:   s.Profile,
		T:         res.T,
		Total:     res.Total,
		CreatedAt: s.now(),
	}
	for i, pl := range res.Prompts {
		raw := ""
		if r, ok := s.Prompts[i].(interface{ Raw() string }); ok {
			raw = r.Raw()
		}
		run.Prompts = append(run.Prompts, core.PromptResult{
			Prompt:    pl.Prompt,
			Raw:       raw,
			Value:     pl.Loss.Value,
			Unclamped: pl.Loss.Raw,
		})
	}
	return run
}

func (s *Session) now() time.Time {
	if s != nil && s.Clock != nil {
		return s.Clock()
	}
	return time.Now().UTC()
}

func addInto(dst, src tensor.Matrix) {
	for i := range src {
		if i >= len(dst) {
			return
		}
		for j := range src[i] {
			if j < len(dst[i]) {
				dst[i][j] += src[i][j]
			}
		}
	}
}
