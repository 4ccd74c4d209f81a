package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/promptsteer/promptsteer/internal/core"
	"github.com/promptsteer/promptsteer/internal/core/assign"
	"github.com/promptsteer/promptsteer/internal/core/engine"
	"github.com/promptsteer/promptsteer/internal/core/expr"
	"github.com/promptsteer/promptsteer/internal/core/parse"
	"github.com/promptsteer/promptsteer/internal/core/prompt"
	"github.com/promptsteer/promptsteer/internal/core/tensor"
	apperrors "github.com/promptsteer/promptsteer/internal/errors"
	"github.com/promptsteer/promptsteer/internal/metrics"
	"github.com/promptsteer/promptsteer/internal/observability"
)

// Store is the persistence behind run history and stored profiles.
type Store interface {
	engine.RunRecorder
	ListScoreRuns(ctx context.Context, limit int) ([]core.ScoreRun, error)
	GetProfile(ctx context.Context, name string) (*core.ProfileRecord, error)
	ListProfiles(ctx context.Context) ([]core.ProfileRecord, error)
}

// API serves the /v1 scoring endpoints. Every request gets its own
// evaluation context. Store may be nil, in which case built-in profiles
// still resolve and run history is unavailable.
type API struct {
	Builder *engine.Builder
	Store   Store
}

// NewAPI returns an API backed by builder and store.
func NewAPI(builder *engine.Builder, store Store) *API {
	return &API{Builder: builder, Store: store}
}

// Routes mounts the API on r.
func (a *API) Routes(r chi.Router) {
	r.Post("/prompts/parse", a.ParsePrompts)
	r.Post("/score", a.Score)
	r.Post("/assign", a.Assign)
	r.Post("/eval", a.Eval)
	r.Get("/runs", a.ListRuns)
	r.Get("/profiles", a.ListProfiles)
	r.Get("/profiles/{name}", a.GetProfile)
}

// PromptInput is a text prompt string, optionally with precomputed target
// embeddings that bypass the encoders. It decodes from either a JSON string
// or an object.
type PromptInput struct {
	Prompt     string        `json:"prompt"`
	Embeddings tensor.Matrix `json:"embeddings,omitempty"`
}

func (p *PromptInput) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*p = PromptInput{Prompt: s}
		return nil
	}
	type plain PromptInput
	var v plain
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*p = PromptInput(v)
	return nil
}

// ParseRequest asks for prompt strings to be parsed without encoding.
// Kind is "text" (default) or "image".
type ParseRequest struct {
	Prompts []string `json:"prompts"`
	Kind    string   `json:"kind,omitempty"`
}

type ParseResponse struct {
	Specs []parse.Spec `json:"specs"`
}

// ScoreRequest scores a candidate against text prompts, image prompts and
// an optional named profile. Steps lists the times to score at; when empty
// the single time T is used.
type ScoreRequest struct {
	Prompts       []PromptInput    `json:"prompts,omitempty"`
	ImagePrompts  []string         `json:"image_prompts,omitempty"`
	LocationAware bool             `json:"location_aware,omitempty"`
	Profile       string           `json:"profile,omitempty"`
	Candidate     prompt.Candidate `json:"candidate"`
	T             float64          `json:"t"`
	Steps         []float64        `json:"steps,omitempty"`
	Gradient      bool             `json:"gradient,omitempty"`
	Record        bool             `json:"record,omitempty"`
}

type ScoreResponse struct {
	Steps []*engine.StepResult `json:"steps"`
}

// RegionSet describes regions by position and size. Without sizes the
// positions are taken as centres.
type RegionSet struct {
	Positions tensor.Matrix `json:"positions"`
	Sizes     tensor.Matrix `json:"sizes,omitempty"`
}

func (s RegionSet) centers() (tensor.Matrix, error) {
	if len(s.Sizes) == 0 {
		return s.Positions.Clone(), s.Positions.Validate()
	}
	return tensor.Centers(s.Positions, s.Sizes)
}

type AssignRequest struct {
	Candidates RegionSet `json:"candidates"`
	Targets    RegionSet `json:"targets"`
}

// EvalRequest evaluates an expression at time T.
type EvalRequest struct {
	Expression string             `json:"expression"`
	T          float64            `json:"t"`
	Vals       map[string]float64 `json:"vals,omitempty"`
}

type EvalResponse struct {
	Expression string     `json:"expression"`
	T          float64    `json:"t"`
	Value      expr.Param `json:"value"`
}

type RunsResponse struct {
	Runs []core.ScoreRun `json:"runs"`
}

type ProfilesResponse struct {
	Profiles []core.ProfileRecord `json:"profiles"`
}

// ParsePrompts handles POST /v1/prompts/parse.
func (a *API) ParsePrompts(w http.ResponseWriter, r *http.Request) {
	var req ParseRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	parseFn := parse.Text
	switch strings.ToLower(strings.TrimSpace(req.Kind)) {
	case "", "text":
	case "image":
		parseFn = parse.Image
	default:
		respondWithError(w, r, apperrors.NewInvalidInputError(fmt.Sprintf("unknown prompt kind %q", req.Kind)))
		return
	}

	resp := ParseResponse{Specs: make([]parse.Spec, 0, len(req.Prompts))}
	for _, raw := range req.Prompts {
		spec, err := parseFn(raw)
		if err != nil {
			respondWithError(w, r, apperrors.FromError(r.Context(), err, "invalid prompt"))
			return
		}
		resp.Specs = append(resp.Specs, spec)
	}
	writeJSON(w, http.StatusOK, resp)
}

// Score handles POST /v1/score.
func (a *API) Score(w http.ResponseWriter, r *http.Request) {
	var req ScoreRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ctx := r.Context()

	if req.Record && a.Store == nil {
		respondWithError(w, r, apperrors.New(apperrors.CodeServiceUnavailable, "run history requires a configured store"))
		return
	}

	scorers, profile, err := a.buildScorers(ctx, req)
	if err != nil {
		respondWithError(w, r, apperrors.FromError(ctx, err, "failed to build prompts"))
		return
	}

	session := engine.NewSession(scorers...)
	session.Profile = profile
	if req.Record {
		session.Recorder = a.Store
	}

	steps := req.Steps
	if len(steps) == 0 {
		steps = []float64{req.T}
	}

	start := time.Now()
	results, err := session.Run(ctx, steps, req.Candidate)
	metrics.RecordScore(len(scorers), err == nil, time.Since(start))
	if err != nil {
		respondWithError(w, r, apperrors.FromError(ctx, err, "scoring failed"))
		return
	}

	if !req.Gradient {
		for _, res := range results {
			res.Grad = nil
			for i := range res.Prompts {
				res.Prompts[i].Loss.Grad = nil
			}
		}
	}
	writeJSON(w, http.StatusOK, ScoreResponse{Steps: results})
}

// Assign handles POST /v1/assign.
func (a *API) Assign(w http.ResponseWriter, r *http.Request) {
	var req AssignRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	ctx := r.Context()

	if req.Candidates.Positions.Rows() == 0 || req.Targets.Positions.Rows() == 0 {
		respondWithError(w, r, apperrors.NewInvalidInputError("candidates and targets need at least one region each"))
		return
	}

	candidates, err := req.Candidates.centers()
	if err != nil {
		respondWithError(w, r, apperrors.FromError(ctx, err, "invalid candidate regions"))
		return
	}
	targets, err := req.Targets.centers()
	if err != nil {
		respondWithError(w, r, apperrors.FromError(ctx, err, "invalid target regions"))
		return
	}

	result, err := assign.Match(candidates, targets)
	metrics.RecordAssignment(err == nil)
	if err != nil {
		respondWithError(w, r, apperrors.FromError(ctx, err, "assignment failed"))
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Eval handles POST /v1/eval.
func (a *API) Eval(w http.ResponseWriter, r *http.Request) {
	var req EvalRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	ec := expr.NewContext()
	ec.SetT(req.T)
	value, err := ec.Eval(req.Expression, req.Vals)
	if err != nil {
		respondWithError(w, r, apperrors.FromError(r.Context(), err, "expression evaluation failed"))
		return
	}
	writeJSON(w, http.StatusOK, EvalResponse{
		Expression: req.Expression,
		T:          req.T,
		Value:      expr.Number(value),
	})
}

// ListRuns handles GET /v1/runs?limit=N.
func (a *API) ListRuns(w http.ResponseWriter, r *http.Request) {
	if a.Store == nil {
		respondWithError(w, r, apperrors.New(apperrors.CodeServiceUnavailable, "run history requires a configured store"))
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondWithError(w, r, apperrors.NewInvalidInputError("limit must be a non-negative integer"))
			return
		}
		limit = n
	}

	runs, err := a.Store.ListScoreRuns(r.Context(), limit)
	if err != nil {
		respondWithError(w, r, apperrors.WrapDatabaseError(r.Context(), err, "failed to list score runs"))
		return
	}
	if runs == nil {
		runs = []core.ScoreRun{}
	}
	writeJSON(w, http.StatusOK, RunsResponse{Runs: runs})
}

// ListProfiles handles GET /v1/profiles.
func (a *API) ListProfiles(w http.ResponseWriter, r *http.Request) {
	var records []core.ProfileRecord
	if a.Store != nil {
		stored, err := a.Store.ListProfiles(r.Context())
		if err != nil {
			respondWithError(w, r, apperrors.WrapDatabaseError(r.Context(), err, "failed to list profiles"))
			return
		}
		records = stored
	} else {
		for _, p := range core.BuiltInProfiles {
			records = append(records, core.ProfileRecord{Profile: p, IsBuiltin: true})
		}
	}
	if records == nil {
		records = []core.ProfileRecord{}
	}
	writeJSON(w, http.StatusOK, ProfilesResponse{Profiles: records})
}

// GetProfile handles GET /v1/profiles/{name}.
func (a *API) GetProfile(w http.ResponseWriter, r *http.Request) {
	profile, err := a.resolveProfile(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		respondWithError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (a *API) resolveProfile(ctx context.Context, name string) (*core.Profile, error) {
	if a.Store != nil {
		record, err := a.Store.GetProfile(ctx, name)
		if err != nil {
			return nil, apperrors.WrapDatabaseError(ctx, err, "failed to load profile")
		}
		if record != nil {
			return &record.Profile, nil
		}
	}
	if profile, ok := core.FindBuiltInProfile(name); ok {
		return profile, nil
	}
	return nil, apperrors.NewNotFoundError(fmt.Sprintf("profile %q not found", name))
}

func (a *API) buildScorers(ctx context.Context, req ScoreRequest) ([]prompt.Scorer, string, error) {
	if a.Builder == nil {
		return nil, "", errors.New("prompt builder is not configured")
	}

	var (
		out         []prompt.Scorer
		profileName string
	)
	if req.Profile != "" {
		profile, err := a.resolveProfile(ctx, req.Profile)
		if err != nil {
			return nil, "", err
		}
		built, err := a.Builder.BuildProfile(ctx, *profile)
		metrics.RecordPromptBuild("profile", err == nil)
		if err != nil {
			return nil, "", err
		}
		out = append(out, built...)
		profileName = profile.Name
	}

	for _, in := range req.Prompts {
		p, err := a.buildPrompt(ctx, in)
		metrics.RecordPromptBuild("text", err == nil)
		if err != nil {
			return nil, "", err
		}
		out = append(out, p)
	}

	if len(req.ImagePrompts) > 0 {
		images, err := a.Builder.BuildImage(ctx, req.LocationAware, req.ImagePrompts...)
		metrics.RecordPromptBuild("image", err == nil)
		if err != nil {
			return nil, "", err
		}
		out = append(out, images...)
	}

	if len(out) == 0 {
		return nil, "", engine.ErrNoPrompts
	}
	return out, profileName, nil
}

func (a *API) buildPrompt(ctx context.Context, in PromptInput) (prompt.Scorer, error) {
	if len(in.Embeddings) == 0 {
		built, err := a.Builder.BuildText(ctx, in.Prompt)
		if err != nil {
			return nil, err
		}
		if len(built) == 0 {
			return nil, fmt.Errorf("prompt %q: %w", in.Prompt, engine.ErrNoPrompts)
		}
		return built[0], nil
	}

	spec, err := parse.Text(in.Prompt)
	if err != nil {
		return nil, err
	}
	return prompt.New(spec, in.Embeddings, spec.Text)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var maxBytes *http.MaxBytesError
		if errors.As(err, &maxBytes) {
			respondWithError(w, r, apperrors.FromError(r.Context(), err, "request body too large"))
			return false
		}
		respondWithError(w, r, apperrors.WrapInvalidInput(r.Context(), err, "invalid JSON request body"))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil && observability.ServerLogger != nil {
		observability.ServerLogger.Warn("Failed to encode response", zap.Error(err))
	}
}
