package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/promptsteer/promptsteer/internal/core"
	"github.com/promptsteer/promptsteer/internal/core/encoder"
	"github.com/promptsteer/promptsteer/internal/core/engine"
	"github.com/promptsteer/promptsteer/internal/core/prompt"
	"github.com/promptsteer/promptsteer/internal/core/store"
	"github.com/promptsteer/promptsteer/internal/core/tensor"
	"github.com/promptsteer/promptsteer/internal/observability"
	"github.com/promptsteer/promptsteer/internal/output"
)

var (
	scoreFile           string
	scorePrompts        []string
	scoreImages         []string
	scoreProfile        string
	scoreLocationAware  bool
	scoreCandidateFile  string
	scoreCandidateText  string
	scoreCandidateImage string
	scoreT              float64
	scoreSteps          []float64
	scoreRecord         bool
	scoreGradient       bool
)

// promptFile is the YAML layout read by score --file. JSON works too.
type promptFile struct {
	Profile       string         `yaml:"profile"`
	Prompts       []string       `yaml:"prompts"`
	ImagePrompts  []string       `yaml:"image_prompts"`
	LocationAware bool           `yaml:"location_aware"`
	Candidate     *candidateFile `yaml:"candidate"`
	Steps         []float64      `yaml:"steps"`
}

type candidateFile struct {
	Embeddings tensor.Matrix `yaml:"embeddings"`
	Positions  tensor.Matrix `yaml:"positions,omitempty"`
	Sizes      tensor.Matrix `yaml:"sizes,omitempty"`
}

func (c *candidateFile) candidate() prompt.Candidate {
	return prompt.Candidate{Embeddings: c.Embeddings, Positions: c.Positions, Sizes: c.Sizes}
}

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Score a candidate embedding set against steering prompts",
	Long: `Build prompts from text, images and profiles, then score a candidate at
one or more times t. The candidate comes from a file, from encoding a text
with the configured encoders, or from the region grid of an image.

Examples:
  promptsteer score --prompt "a red barn:1" --prompt "blurry:-0.5:-0.1" --candidate-text "a barn at dusk"
  promptsteer score --profile landscape --candidate-text "mountains" --steps 0,0.5,1
  promptsteer score --file prompts.yaml --record -o json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg, err := loadConfig(ctx)
		if err != nil {
			return err
		}

		spec, err := loadPromptFile(scoreFile)
		if err != nil {
			return err
		}
		spec.Prompts = append(spec.Prompts, scorePrompts...)
		spec.ImagePrompts = append(spec.ImagePrompts, scoreImages...)
		if scoreProfile != "" {
			spec.Profile = scoreProfile
		}
		if scoreLocationAware {
			spec.LocationAware = true
		}
		if len(scoreSteps) > 0 {
			spec.Steps = scoreSteps
		}
		if len(spec.Steps) == 0 {
			spec.Steps = []float64{scoreT}
		}

		var db *store.Store
		if scoreRecord {
			if db, err = openStore(ctx, cfg); err != nil {
				return fmt.Errorf("--record needs a store: %w", err)
			}
		} else {
			db = openStoreOptional(ctx, cfg)
		}
		if db != nil {
			defer db.Close() // nolint:errcheck // best-effort cleanup
		}

		builder, err := buildBuilder(cfg, db, false)
		if err != nil {
			return err
		}

		scorers, profileName, err := buildScorers(ctx, builder, db, spec)
		if err != nil {
			return err
		}

		candidate, err := resolveCandidate(ctx, builder, spec.Candidate)
		if err != nil {
			return err
		}

		session := engine.NewSession(scorers...)
		session.Profile = profileName
		if scoreRecord {
			session.Recorder = db
		}

		start := time.Now()
		results, err := session.Run(ctx, spec.Steps, candidate)
		if err != nil {
			return err
		}
		if observability.CLILogger != nil {
			observability.CLILogger.Debug("Scored candidate",
				zap.Int("prompts", len(scorers)),
				zap.Int("steps", len(results)),
				zap.Duration("duration", time.Since(start)))
		}

		if !scoreGradient {
			for _, res := range results {
				res.Grad = nil
				for i := range res.Prompts {
					res.Prompts[i].Loss.Grad = nil
				}
			}
		}

		return writeOutput(cmd, func(format output.Format) (string, error) {
			return output.FormatSteps(format, results)
		})
	},
}

func loadPromptFile(path string) (promptFile, error) {
	var spec promptFile
	path = strings.TrimSpace(path)
	if path == "" {
		return spec, nil
	}
	// #nosec G304 -- prompt files are user supplied paths
	data, err := os.ReadFile(path)
	if err != nil {
		return spec, fmt.Errorf("read prompt file: %w", err)
	}
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return spec, fmt.Errorf("decode prompt file %s: %w", path, err)
	}
	return spec, nil
}

// resolveProfile prefers stored profiles and falls back to the built-ins.
func resolveProfile(ctx context.Context, db *store.Store, name string) (*core.Profile, error) {
	if db != nil {
		record, err := db.GetProfile(ctx, name)
		if err != nil {
			return nil, err
		}
		if record != nil {
			return &record.Profile, nil
		}
	}
	if profile, ok := core.FindBuiltInProfile(name); ok {
		return profile, nil
	}
	return nil, fmt.Errorf("profile %q not found", name)
}

func buildScorers(ctx context.Context, builder *engine.Builder, db *store.Store, spec promptFile) ([]prompt.Scorer, string, error) {
	var (
		out         []prompt.Scorer
		profileName string
	)
	if spec.Profile != "" {
		profile, err := resolveProfile(ctx, db, spec.Profile)
		if err != nil {
			return nil, "", err
		}
		built, err := builder.BuildProfile(ctx, *profile)
		if err != nil {
			return nil, "", err
		}
		out = append(out, built...)
		profileName = profile.Name
	}

	texts, err := builder.BuildText(ctx, spec.Prompts...)
	if err != nil {
		return nil, "", err
	}
	out = append(out, texts...)

	images, err := builder.BuildImage(ctx, spec.LocationAware, spec.ImagePrompts...)
	if err != nil {
		return nil, "", err
	}
	out = append(out, images...)

	if len(out) == 0 {
		return nil, "", errors.New("no prompts given (use --prompt, --image, --profile or --file)")
	}
	return out, profileName, nil
}

func resolveCandidate(ctx context.Context, builder *engine.Builder, fromFile *candidateFile) (prompt.Candidate, error) {
	set := 0
	for _, v := range []string{scoreCandidateFile, scoreCandidateText, scoreCandidateImage} {
		if v != "" {
			set++
		}
	}
	if set > 1 {
		return prompt.Candidate{}, errors.New("--candidate, --candidate-text and --candidate-image are mutually exclusive")
	}
	// Flags override the prompt file.
	if set == 0 {
		if fromFile == nil {
			return prompt.Candidate{}, errors.New("a candidate is required (--candidate, --candidate-text or --candidate-image)")
		}
		return fromFile.candidate(), nil
	}

	switch {
	case scoreCandidateFile != "":
		// #nosec G304 -- candidate files are user supplied paths
		data, err := os.ReadFile(scoreCandidateFile)
		if err != nil {
			return prompt.Candidate{}, fmt.Errorf("read candidate: %w", err)
		}
		var c candidateFile
		if err := yaml.Unmarshal(data, &c); err != nil {
			return prompt.Candidate{}, fmt.Errorf("decode candidate %s: %w", scoreCandidateFile, err)
		}
		return c.candidate(), nil
	case scoreCandidateText != "":
		rows, err := encoder.EncodeAll(ctx, scoreCandidateText, builder.Encoders...)
		if err != nil {
			return prompt.Candidate{}, err
		}
		return prompt.Candidate{Embeddings: rows}, nil
	default:
		img, err := builder.Loader.LoadImage(ctx, scoreCandidateImage)
		if err != nil {
			return prompt.Candidate{}, err
		}
		regions, err := builder.Embedder.Embed(ctx, img)
		if err != nil {
			return prompt.Candidate{}, err
		}
		return prompt.Candidate{Embeddings: regions.Embeddings, Positions: regions.Positions, Sizes: regions.Sizes}, nil
	}
}

func init() {
	rootCmd.AddCommand(scoreCmd)
	scoreCmd.Flags().StringVarP(&scoreFile, "file", "f", "", "YAML or JSON prompt file")
	scoreCmd.Flags().StringArrayVar(&scorePrompts, "prompt", nil, "text prompt (repeatable)")
	scoreCmd.Flags().StringArrayVar(&scoreImages, "image", nil, "image prompt, path or URL (repeatable)")
	scoreCmd.Flags().StringVar(&scoreProfile, "profile", "", "named prompt profile")
	scoreCmd.Flags().BoolVar(&scoreLocationAware, "location-aware", false, "match image prompt regions to candidate regions")
	scoreCmd.Flags().StringVar(&scoreCandidateFile, "candidate", "", "YAML or JSON file with candidate embeddings")
	scoreCmd.Flags().StringVar(&scoreCandidateText, "candidate-text", "", "encode this text as the candidate")
	scoreCmd.Flags().StringVar(&scoreCandidateImage, "candidate-image", "", "use the region grid of this image as the candidate")
	scoreCmd.Flags().Float64Var(&scoreT, "t", 0, "time value when --steps is not given")
	scoreCmd.Flags().Float64SliceVar(&scoreSteps, "steps", nil, "comma-separated times to score at")
	scoreCmd.Flags().BoolVar(&scoreRecord, "record", false, "persist each step to the run history")
	scoreCmd.Flags().BoolVar(&scoreGradient, "gradient", false, "include gradients in JSON output")
	addOutputFlags(scoreCmd)
}
