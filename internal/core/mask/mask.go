// Package mask provides the directional region masks that restrict a prompt's
// influence to part of the frame.
//
// A mask returns one bias per region. The prompt adds that bias, plus -1 for
// negative weights, to its stop floor. -Inf leaves the floor to the stop
// value. A bias of 1.0 raises a positive prompt's floor to 1, so the region
// stops pulling once its distance is below 1; for a negative prompt it
// raises the floor to 0 and the region gets no gradient.
package mask

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/promptsteer/promptsteer/internal/core/tensor"
)

// ErrUnknownDirection is returned for direction letters outside {a,l,r,u,d}.
var ErrUnknownDirection = errors.New("unknown mask direction")

// DefaultCutoff is the threshold used when a prompt names no cutoff.
const DefaultCutoff = 0.5

// Axis indices into position and size rows.
const (
	AxisX = 0
	AxisY = 1
)

// Direction selects a member of the mask family.
type Direction int

const (
	All Direction = iota
	Left
	Right
	Up
	Down
)

var directionNames = map[Direction]string{
	All:   "all",
	Left:  "left",
	Right: "right",
	Up:    "up",
	Down:  "down",
}

// ParseDirection accepts the single-letter form used in prompt strings
// (a, l, r, u, d) as well as the full names.
func ParseDirection(value string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "a", "all":
		return All, nil
	case "l", "left":
		return Left, nil
	case "r", "right":
		return Right, nil
	case "u", "up":
		return Up, nil
	case "d", "down":
		return Down, nil
	default:
		return All, fmt.Errorf("%w: %q", ErrUnknownDirection, value)
	}
}

// String returns the full direction name.
func (d Direction) String() string {
	if name, ok := directionNames[d]; ok {
		return name
	}
	return fmt.Sprintf("direction(%d)", int(d))
}

// Letter returns the prompt-string letter for d.
func (d Direction) Letter() string {
	return d.String()[:1]
}

// MarshalText implements encoding.TextMarshaler.
func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Direction) UnmarshalText(text []byte) error {
	parsed, err := ParseDirection(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Func maps region positions and sizes to a per-region bias.
type Func func(positions, sizes tensor.Matrix) []float64

// New binds the family member for direction to a fixed threshold.
func New(direction Direction, threshold float64) (Func, error) {
	var member func(positions, sizes tensor.Matrix, threshold float64) []float64
	switch direction {
	case All:
		member = AllRegions
	case Left:
		member = LeftOf
	case Right:
		member = RightOf
	case Up:
		member = UpOf
	case Down:
		member = DownOf
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownDirection, direction)
	}
	return func(positions, sizes tensor.Matrix) []float64 {
		return member(positions, sizes, threshold)
	}, nil
}

// AllRegions suppresses nothing: every region gets -Inf.
func AllRegions(_, sizes tensor.Matrix, _ float64) []float64 {
	out := make([]float64, sizes.Rows())
	for i := range out {
		out[i] = math.Inf(-1)
	}
	return out
}

// RightOf activates regions whose centre lies left of threshold on x.
func RightOf(positions, sizes tensor.Matrix, threshold float64) []float64 {
	return compare(positions, sizes, AxisX, threshold, true)
}

// LeftOf activates regions whose centre lies right of threshold on x.
func LeftOf(positions, sizes tensor.Matrix, threshold float64) []float64 {
	return compare(positions, sizes, AxisX, threshold, false)
}

// DownOf activates regions whose centre lies below threshold on y.
func DownOf(positions, sizes tensor.Matrix, threshold float64) []float64 {
	return compare(positions, sizes, AxisY, threshold, true)
}

// UpOf activates regions whose centre lies above threshold on y.
func UpOf(positions, sizes tensor.Matrix, threshold float64) []float64 {
	return compare(positions, sizes, AxisY, threshold, false)
}

func compare(positions, sizes tensor.Matrix, axis int, threshold float64, less bool) []float64 {
	out := make([]float64, sizes.Rows())
	for i, size := range sizes {
		center := coord(size, axis) / 2
		if i < len(positions) {
			center += coord(positions[i], axis)
		}
		var active bool
		if less {
			active = center < threshold
		} else {
			active = center > threshold
		}
		if active {
			out[i] = 1
		}
	}
	return out
}

func coord(row []float64, axis int) float64 {
	if axis < len(row) {
		return row[axis]
	}
	return 0
}
