package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/promptsteer/promptsteer/internal/core/expr"
	"github.com/promptsteer/promptsteer/internal/output"
)

var (
	evalT    float64
	evalVars []string
)

var evalCmd = &cobra.Command{
	Use:   "eval <expression>",
	Short: "Evaluate a time-varying prompt expression",
	Long: `Evaluate an expression as used in parametric weights and stops.
The variable t is the step time; further variables are bound with --var.

Examples:
  promptsteer eval "sin(t*pi)" --t 0.5
  promptsteer eval "max(x, t)" --var x=0.3`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		vals, err := parseVars(evalVars)
		if err != nil {
			return err
		}

		ec := expr.NewContext()
		ec.SetT(evalT)
		value, err := ec.Eval(args[0], vals)
		if err != nil {
			return err
		}

		return writeOutput(cmd, func(format output.Format) (string, error) {
			return output.FormatEval(format, args[0], evalT, value)
		})
	},
}

func parseVars(pairs []string) (map[string]float64, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	vals := make(map[string]float64, len(pairs))
	for _, pair := range pairs {
		name, raw, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("invalid --var %q (expected name=value)", pair)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid --var %q: %w", pair, err)
		}
		vals[strings.TrimSpace(name)] = v
	}
	return vals, nil
}

func init() {
	rootCmd.AddCommand(evalCmd)
	evalCmd.Flags().Float64Var(&evalT, "t", 0, "time value bound to t")
	evalCmd.Flags().StringArrayVar(&evalVars, "var", nil, "extra variable as name=value (repeatable)")
	addOutputFlags(evalCmd)
}
