// Package parse implements the prompt mini-language:
//
//	text[:weight[_direction[_cutoff]][:stop]]
//	text:weight:stop[_direction[_cutoff]]
//
// e.g. "cat:1:-inf", "a red door:-1:-0.1_l_0.3" or
// "https://example.com/ref.png:2_r_0.4".
package parse

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/promptsteer/promptsteer/internal/core/expr"
	"github.com/promptsteer/promptsteer/internal/core/mask"
)

var (
	ErrInvalidWeight = errors.New("invalid prompt weight")
	ErrInvalidStop   = errors.New("invalid prompt stop")
	ErrInvalidCutoff = errors.New("invalid mask cutoff")
)

// Field defaults for text:weight:stop and weight_direction_cutoff.
var (
	FieldDefaults    = []string{"", "1", "-inf"}
	ModifierDefaults = []string{"1", "a", "0.5"}
)

// Splitter cuts s into at most n pieces. *regexp.Regexp satisfies it.
type Splitter interface {
	Split(s string, n int) []string
}

var (
	// Colon splits on every ':'.
	Colon Splitter = regexp.MustCompile(`:`)
	// Underscore separates weight, direction and cutoff.
	Underscore Splitter = regexp.MustCompile(`_`)
	// URLSafeColon splits on ':' except the scheme colon of http:// and
	// https:// references.
	URLSafeColon Splitter = urlSafeColon{}
)

// Split splits input at most len(defaults)-1 times and pads the result with
// the remaining defaults.
func Split(input string, delimiter Splitter, defaults []string) []string {
	if len(defaults) == 0 {
		return []string{input}
	}
	tokens := delimiter.Split(input, len(defaults))
	if len(tokens) < len(defaults) {
		tokens = append(tokens, defaults[len(tokens):]...)
	}
	return tokens
}

// urlSafeColon keeps a ':' when it is followed by "//" and preceded either
// by a leading "http" or "file", or by "s" (as in "https").
type urlSafeColon struct{}

func (urlSafeColon) Split(s string, n int) []string {
	if n == 0 {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if n > 0 && len(out) == n-1 {
			break
		}
		if s[i] != ':' || isSchemeColon(s, i) {
			continue
		}
		out = append(out, s[start:i])
		start = i + 1
	}
	return append(out, s[start:])
}

func isSchemeColon(s string, i int) bool {
	if !strings.HasPrefix(s[i+1:], "//") {
		return false
	}
	if i == 4 && (s[:i] == "http" || s[:i] == "file") {
		return true
	}
	return i > 0 && s[i-1] == 's'
}

// Spec is a parsed prompt directive.
type Spec struct {
	Text      string         `json:"text"`
	Weight    expr.Param     `json:"weight"`
	Stop      expr.Param     `json:"stop"`
	Direction mask.Direction `json:"direction"`
	Cutoff    float64        `json:"cutoff"`
	Raw       string         `json:"raw"`
}

// Mask builds the mask closure for the spec.
func (s Spec) Mask() (mask.Func, error) {
	return mask.New(s.Direction, s.Cutoff)
}

// Text parses a text prompt. The scheme colon of an http(s) reference in the
// text field is not a delimiter.
func Text(raw string) (Spec, error) {
	return parseWith(raw, URLSafeColon)
}

// Image parses an image prompt, whose text field is a path or URL.
func Image(raw string) (Spec, error) {
	return parseWith(raw, URLSafeColon)
}

func parseWith(raw string, fields Splitter) (Spec, error) {
	parts := Split(raw, fields, FieldDefaults)
	text := strings.TrimSpace(parts[0])

	// The direction/cutoff modifiers normally trail the weight, but a
	// trailing stop may carry them instead ("cat:-1:-0.1_l_0.3").
	mods := Split(orDefault(parts[1], FieldDefaults[1]), Underscore, ModifierDefaults)
	stops := Split(orDefault(parts[2], FieldDefaults[2]), Underscore, []string{FieldDefaults[2], "", ""})
	weightField := orDefault(mods[0], ModifierDefaults[0])
	stopField := orDefault(stops[0], FieldDefaults[2])
	directionField := orDefault(mods[1], ModifierDefaults[1])
	cutoffField := orDefault(mods[2], ModifierDefaults[2])
	if strings.TrimSpace(stops[1]) != "" || strings.TrimSpace(stops[2]) != "" {
		if strings.Contains(parts[1], "_") {
			return Spec{}, fmt.Errorf("prompt %q: %w: modifiers given on both weight and stop", raw, ErrInvalidStop)
		}
		directionField = orDefault(stops[1], ModifierDefaults[1])
		cutoffField = orDefault(stops[2], ModifierDefaults[2])
	}

	direction, err := mask.ParseDirection(directionField)
	if err != nil {
		return Spec{}, fmt.Errorf("prompt %q: %w", raw, err)
	}

	cutoff, err := strconv.ParseFloat(cutoffField, 64)
	if err != nil {
		return Spec{}, fmt.Errorf("prompt %q: %w: %q", raw, ErrInvalidCutoff, cutoffField)
	}
	if cutoff < 0 || cutoff > 1 || math.IsNaN(cutoff) {
		return Spec{}, fmt.Errorf("prompt %q: %w: %v outside [0,1]", raw, ErrInvalidCutoff, cutoff)
	}

	spec := Spec{
		Text:      text,
		Weight:    expr.ParseParam(weightField),
		Stop:      expr.ParseParam(stopField),
		Direction: direction,
		Cutoff:    cutoff,
		Raw:       raw,
	}

	if err := checkParams(spec.Weight, spec.Stop); err != nil {
		return Spec{}, fmt.Errorf("prompt %q: %w", raw, err)
	}

	return spec, nil
}

// checkParams validates weight and stop as far as possible without a time
// value. Expressions must compile; those that do not depend on t are
// evaluated and checked like literals. Time-varying values are checked again
// when resolved at score time.
func checkParams(weight, stop expr.Param) error {
	w, wStatic, err := staticValue(weight, ErrInvalidWeight)
	if err != nil {
		return err
	}
	s, sStatic, err := staticValue(stop, ErrInvalidStop)
	if err != nil {
		return err
	}
	switch {
	case wStatic && sStatic:
		return CheckWeights(w, s)
	case wStatic:
		return CheckWeights(w, math.Inf(-1))
	case sStatic:
		return CheckWeights(math.Copysign(1, s), s)
	}
	return nil
}

func staticValue(p expr.Param, kind error) (float64, bool, error) {
	if p.IsLiteral() {
		return p.Literal, true, nil
	}
	varying, err := expr.Check(p.Expr)
	if err != nil {
		return 0, false, fmt.Errorf("%w: %w", kind, err)
	}
	if varying {
		return 0, false, nil
	}
	v, err := expr.NewContext().Eval(p.Expr, nil)
	if err != nil {
		return 0, false, fmt.Errorf("%w: %w", kind, err)
	}
	return v, true, nil
}

// CheckWeights rejects a zero or non-finite weight, a finite stop outside
// [-1, 1], and a finite non-zero stop whose sign disagrees with the weight.
// A stop of -Inf disables the floor and is accepted for either sign.
func CheckWeights(weight, stop float64) error {
	if weight == 0 || math.IsNaN(weight) || math.IsInf(weight, 0) {
		return fmt.Errorf("%w: %v (must be finite and non-zero)", ErrInvalidWeight, weight)
	}
	if math.IsNaN(stop) || math.IsInf(stop, 1) {
		return fmt.Errorf("%w: %v", ErrInvalidStop, stop)
	}
	if math.IsInf(stop, -1) || stop == 0 {
		return nil
	}
	if stop < -1 || stop > 1 {
		return fmt.Errorf("%w: %v outside [-1,1]", ErrInvalidStop, stop)
	}
	if math.Signbit(stop) != math.Signbit(weight) {
		return fmt.Errorf("%w: sign of stop %v does not match weight %v", ErrInvalidStop, stop, weight)
	}
	return nil
}

func orDefault(value, fallback string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return fallback
	}
	return value
}
