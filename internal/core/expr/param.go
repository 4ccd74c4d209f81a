package expr

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Param is a prompt value that is either a number or an expression resolved
// against a Context.
type Param struct {
	Literal float64
	Expr    string
}

// Number returns a literal Param.
func Number(v float64) Param {
	return Param{Literal: v}
}

// ParseParam reads a literal when s is a float ("inf" and "-inf" included),
// otherwise keeps s as an expression.
func ParseParam(s string) Param {
	s = strings.TrimSpace(s)
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return Param{Literal: v}
	}
	return Param{Expr: s}
}

// IsLiteral reports whether p needs no evaluation.
func (p Param) IsLiteral() bool {
	return p.Expr == ""
}

func (p Param) String() string {
	if p.IsLiteral() {
		return strconv.FormatFloat(p.Literal, 'g', -1, 64)
	}
	return p.Expr
}

// MarshalJSON writes finite literals as numbers and everything else as a
// string, since JSON has no infinities.
func (p Param) MarshalJSON() ([]byte, error) {
	if p.IsLiteral() && !math.IsInf(p.Literal, 0) && !math.IsNaN(p.Literal) {
		return json.Marshal(p.Literal)
	}
	return json.Marshal(p.String())
}

// UnmarshalJSON accepts either form written by MarshalJSON.
func (p *Param) UnmarshalJSON(data []byte) error {
	var f float64
	if err := json.Unmarshal(data, &f); err == nil {
		*p = Number(f)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*p = ParseParam(s)
	return nil
}
