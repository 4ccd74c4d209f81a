package output

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/promptsteer/promptsteer/internal/core"
	"github.com/promptsteer/promptsteer/internal/core/assign"
	"github.com/promptsteer/promptsteer/internal/core/encoder"
	"github.com/promptsteer/promptsteer/internal/core/engine"
	"github.com/promptsteer/promptsteer/internal/core/parse"
	"github.com/promptsteer/promptsteer/internal/core/store"
)

// FormatSpecs renders parsed prompt directives.
func FormatSpecs(format Format, specs []parse.Spec) (string, error) {
	return Render(format, specs, func() Sheet {
		s := Sheet{Header: []string{"Text", "Weight", "Stop", "Mask", "Cutoff"}}
		for _, spec := range specs {
			s.Rows = append(s.Rows, []string{
				spec.Text,
				spec.Weight.String(),
				spec.Stop.String(),
				spec.Direction.String(),
				formatFloat(spec.Cutoff),
			})
		}
		return s
	})
}

// FormatSteps renders one row per prompt per step, with the summed loss of
// each step as a note and the last step's total in the footer.
func FormatSteps(format Format, steps []*engine.StepResult) (string, error) {
	return Render(format, steps, func() Sheet {
		s := Sheet{Header: []string{"T", "Prompt", "Loss", "Unclamped", "Active"}}
		for _, step := range steps {
			if step == nil {
				continue
			}
			for _, pl := range step.Prompts {
				active := 0
				for _, row := range pl.Loss.Rows {
					if row.Active {
						active++
					}
				}
				s.Rows = append(s.Rows, []string{
					formatFloat(step.T),
					pl.Prompt,
					formatFloat(pl.Loss.Value),
					formatFloat(pl.Loss.Raw),
					fmt.Sprintf("%d/%d", active, len(pl.Loss.Rows)),
				})
			}
			if len(steps) > 1 {
				s.Notes = append(s.Notes, fmt.Sprintf("t=%s total=%s", formatFloat(step.T), formatFloat(step.Total)))
			}
		}
		if n := len(steps); n > 0 && steps[n-1] != nil {
			s.Footer = []string{"", "total", formatFloat(steps[n-1].Total), "", ""}
		}
		return s
	})
}

// FormatAssignment renders matched region pairs and the total cost.
func FormatAssignment(format Format, a assign.Assignment) (string, error) {
	return Render(format, a, func() Sheet {
		s := Sheet{Header: []string{"Target", "Candidate"}}
		for _, p := range a.Pairs {
			s.Rows = append(s.Rows, []string{strconv.Itoa(p.Target), strconv.Itoa(p.Candidate)})
		}
		s.Footer = []string{"cost", formatFloat(a.Cost)}
		return s
	})
}

// FormatRegions renders the regions an embedder produced for an image.
func FormatRegions(format Format, embedder string, regions encoder.Regions) (string, error) {
	value := struct {
		Embedder string `json:"embedder"`
		encoder.Regions
	}{embedder, regions}
	return Render(format, value, func() Sheet {
		s := Sheet{
			Title:  embedder,
			Header: []string{"Region", "Position", "Size", "Dim"},
		}
		for i := range regions.Embeddings {
			s.Rows = append(s.Rows, []string{
				strconv.Itoa(i),
				formatVector(rowAt(regions.Positions, i)),
				formatVector(rowAt(regions.Sizes, i)),
				strconv.Itoa(len(regions.Embeddings[i])),
			})
		}
		return s
	})
}

// FormatEval renders an expression result.
func FormatEval(format Format, expression string, t, value float64) (string, error) {
	v := struct {
		Expression string  `json:"expression"`
		T          float64 `json:"t"`
		Value      string  `json:"value"`
	}{expression, t, formatFloat(value)}
	return Render(format, v, func() Sheet {
		return Sheet{
			Header: []string{"Expression", "T", "Value"},
			Rows:   [][]string{{expression, formatFloat(t), formatFloat(value)}},
		}
	})
}

// FormatRuns renders recorded score runs, newest first as stored.
func FormatRuns(format Format, runs []core.ScoreRun) (string, error) {
	return Render(format, runs, func() Sheet {
		s := Sheet{Header: []string{"ID", "Profile", "T", "Total", "Prompts", "Created"}}
		for _, run := range runs {
			s.Rows = append(s.Rows, []string{
				shortID(run.ID),
				orDash(run.Profile),
				formatFloat(run.T),
				formatFloat(run.Total),
				strconv.Itoa(len(run.Prompts)),
				formatTime(run.CreatedAt),
			})
		}
		return s
	})
}

// FormatProfiles renders profile summaries.
func FormatProfiles(format Format, records []core.ProfileRecord) (string, error) {
	return Render(format, records, func() Sheet {
		s := Sheet{Header: []string{"Name", "Source", "Prompts", "Images", "Description"}}
		for _, r := range records {
			source := "user"
			if r.IsBuiltin {
				source = "builtin"
			}
			s.Rows = append(s.Rows, []string{
				r.Profile.Name,
				source,
				strconv.Itoa(len(r.Profile.Prompts)),
				strconv.Itoa(len(r.Profile.ImagePrompts)),
				r.Profile.Description,
			})
		}
		return s
	})
}

// FormatProfile renders every prompt of one profile.
func FormatProfile(format Format, profile core.Profile) (string, error) {
	return Render(format, profile, func() Sheet {
		s := Sheet{Title: profile.Name, Header: []string{"Kind", "Prompt"}}
		for _, p := range profile.Prompts {
			s.Rows = append(s.Rows, []string{"text", p})
		}
		for _, p := range profile.ImagePrompts {
			s.Rows = append(s.Rows, []string{"image", p})
		}
		if profile.Description != "" {
			s.Notes = append(s.Notes, profile.Description)
		}
		if profile.LocationAware {
			s.Notes = append(s.Notes, "image prompts are location-aware")
		}
		return s
	})
}

// FormatRateLimits renders persisted per-host fetch windows.
func FormatRateLimits(format Format, entries []store.RateLimitEntry) (string, error) {
	return Render(format, entries, func() Sheet {
		s := Sheet{Header: []string{"Host", "Requests", "Window Start", "Backoff Until", "Last 429"}}
		for _, e := range entries {
			s.Rows = append(s.Rows, []string{
				e.Host,
				strconv.Itoa(e.State.RequestCount),
				formatTime(e.State.WindowStart),
				formatTimePtr(e.State.BackoffUntil),
				formatTimePtr(e.State.Last429At),
			})
		}
		return s
	})
}

func formatFloat(v float64) string {
	switch {
	case math.IsInf(v, 1):
		return "inf"
	case math.IsInf(v, -1):
		return "-inf"
	}
	return strconv.FormatFloat(v, 'g', 6, 64)
}

func formatVector(v []float64) string {
	if len(v) == 0 {
		return "-"
	}
	parts := make([]string, len(v))
	for i, x := range v {
		parts[i] = formatFloat(x)
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

func rowAt(m [][]float64, i int) []float64 {
	if i < len(m) {
		return m[i]
	}
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return formatTime(*t)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func orDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}
