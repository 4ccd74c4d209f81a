package cmd

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/promptsteer/promptsteer/internal/core/assign"
	"github.com/promptsteer/promptsteer/internal/core/tensor"
	"github.com/promptsteer/promptsteer/internal/output"
)

var (
	assignFile       string
	assignCandidates string
	assignTargets    string
)

// regionFile is the on-disk form read by assign --file.
type regionFile struct {
	Candidates regionSet `yaml:"candidates"`
	Targets    regionSet `yaml:"targets"`
}

type regionSet struct {
	Positions tensor.Matrix `yaml:"positions"`
	Sizes     tensor.Matrix `yaml:"sizes,omitempty"`
}

func (s regionSet) centers() (tensor.Matrix, error) {
	if len(s.Sizes) == 0 {
		return s.Positions.Clone(), s.Positions.Validate()
	}
	return tensor.Centers(s.Positions, s.Sizes)
}

var assignCmd = &cobra.Command{
	Use:   "assign",
	Short: "Match candidate regions to target regions at minimum distance",
	Long: `Solve the region assignment used by location-aware image prompts.

Regions come from a YAML/JSON file with candidates and targets, each a set
of positions with optional sizes, or inline as semicolon-separated points.

Examples:
  promptsteer assign --candidates "0.9,0.1;0.1,0.1" --targets "0.1,0.1;0.9,0.1"
  promptsteer assign --file regions.yaml -o json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		regions, err := loadRegions()
		if err != nil {
			return err
		}
		candidates, err := regions.Candidates.centers()
		if err != nil {
			return fmt.Errorf("candidates: %w", err)
		}
		targets, err := regions.Targets.centers()
		if err != nil {
			return fmt.Errorf("targets: %w", err)
		}

		result, err := assign.Match(candidates, targets)
		if err != nil {
			return err
		}
		return writeOutput(cmd, func(format output.Format) (string, error) {
			return output.FormatAssignment(format, result)
		})
	},
}

func loadRegions() (regionFile, error) {
	var regions regionFile
	if path := strings.TrimSpace(assignFile); path != "" {
		// #nosec G304 -- region files are user supplied paths
		data, err := os.ReadFile(path)
		if err != nil {
			return regionFile{}, fmt.Errorf("read regions: %w", err)
		}
		if err := yaml.Unmarshal(data, &regions); err != nil {
			return regionFile{}, fmt.Errorf("decode regions %s: %w", path, err)
		}
	}

	if strings.TrimSpace(assignCandidates) != "" {
		m, err := parseMatrix(assignCandidates)
		if err != nil {
			return regionFile{}, fmt.Errorf("--candidates: %w", err)
		}
		regions.Candidates = regionSet{Positions: m}
	}
	if strings.TrimSpace(assignTargets) != "" {
		m, err := parseMatrix(assignTargets)
		if err != nil {
			return regionFile{}, fmt.Errorf("--targets: %w", err)
		}
		regions.Targets = regionSet{Positions: m}
	}

	if regions.Candidates.Positions.Rows() == 0 || regions.Targets.Positions.Rows() == 0 {
		return regionFile{}, errors.New("candidates and targets are required (--file or --candidates/--targets)")
	}
	return regions, nil
}

// parseMatrix reads rows separated by ';' with comma-separated values.
func parseMatrix(s string) (tensor.Matrix, error) {
	var m tensor.Matrix
	for _, rowText := range strings.Split(s, ";") {
		rowText = strings.TrimSpace(rowText)
		if rowText == "" {
			continue
		}
		var row []float64
		for _, field := range strings.Split(rowText, ",") {
			v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
			if err != nil {
				return nil, fmt.Errorf("invalid value %q", field)
			}
			row = append(row, v)
		}
		m = append(m, row)
	}
	return m, m.Validate()
}

func init() {
	rootCmd.AddCommand(assignCmd)
	assignCmd.Flags().StringVarP(&assignFile, "file", "f", "", "YAML or JSON file with candidates and targets")
	assignCmd.Flags().StringVar(&assignCandidates, "candidates", "", "candidate centres, e.g. \"0.1,0.2;0.5,0.5\"")
	assignCmd.Flags().StringVar(&assignTargets, "targets", "", "target centres, e.g. \"0.1,0.2;0.5,0.5\"")
	addOutputFlags(assignCmd)
}
