package runner

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"sort"
	"strings"
)

// ParamType is the JSON type a parameter accepts.
type ParamType string

const (
	ParamNumber  ParamType = "number"
	ParamInteger ParamType = "integer"
	ParamString  ParamType = "string"
	ParamBool    ParamType = "bool"
)

// ParameterDescriptor documents one tunable runner parameter.
type ParameterDescriptor struct {
	Name        string    `json:"name"`
	Type        ParamType `json:"type"`
	Description string    `json:"description,omitempty"`
	Default     any       `json:"default,omitempty"`
	Min         *float64  `json:"min,omitempty"`
	Max         *float64  `json:"max,omitempty"`
	Enum        []string  `json:"enum,omitempty"`
	Required    bool      `json:"required,omitempty"`
}

// ValidationResult is returned by Runner.ValidateParameters.
type ValidationResult struct {
	Valid  bool
	Errors []string
}

// Err returns nil for a valid result, otherwise one error listing all
// problems.
func (v ValidationResult) Err() error {
	if v.Valid {
		return nil
	}
	if len(v.Errors) == 0 {
		return errors.New("invalid parameters")
	}
	return errors.New(strings.Join(v.Errors, "; "))
}

// Valid is the zero-problem result.
func Valid() ValidationResult { return ValidationResult{Valid: true} }

// Bound is a helper for literal Min/Max values.
func Bound(v float64) *float64 { return &v }

// ValidateAgainst checks params against schema. Keys absent from the schema
// are ignored so orchestration parameters such as "model" pass through.
func ValidateAgainst(schema []ParameterDescriptor, params map[string]any) ValidationResult {
	var errs []string
	for _, p := range schema {
		v, ok := params[p.Name]
		if !ok || v == nil {
			if p.Required {
				errs = append(errs, fmt.Sprintf("%s: required", p.Name))
			}
			continue
		}
		if msg := checkParam(p, v); msg != "" {
			errs = append(errs, fmt.Sprintf("%s: %s", p.Name, msg))
		}
	}
	if len(errs) == 0 {
		return Valid()
	}
	sort.Strings(errs)
	return ValidationResult{Errors: errs}
}

func checkParam(p ParameterDescriptor, v any) string {
	switch p.Type {
	case ParamString:
		s, ok := v.(string)
		if !ok {
			return fmt.Sprintf("want string, got %T", v)
		}
		if len(p.Enum) > 0 && !slices.Contains(p.Enum, s) {
			return fmt.Sprintf("must be one of %s", strings.Join(p.Enum, ", "))
		}
	case ParamBool:
		if _, ok := v.(bool); !ok {
			return fmt.Sprintf("want bool, got %T", v)
		}
	case ParamNumber, ParamInteger:
		f, ok := AsFloat(v)
		if !ok {
			return fmt.Sprintf("want %s, got %T", p.Type, v)
		}
		if p.Type == ParamInteger && f != math.Trunc(f) {
			return "want integer"
		}
		if p.Min != nil && f < *p.Min {
			return fmt.Sprintf("must be >= %g", *p.Min)
		}
		if p.Max != nil && f > *p.Max {
			return fmt.Sprintf("must be <= %g", *p.Max)
		}
	}
	return ""
}

// AsFloat converts the numeric types JSON, YAML and TOML decoders produce.
func AsFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

// FloatParam returns params[key] as float64, or def.
func FloatParam(params map[string]any, key string, def float64) float64 {
	if f, ok := AsFloat(params[key]); ok {
		return f
	}
	return def
}

// IntParam returns params[key] as int, or def.
func IntParam(params map[string]any, key string, def int) int {
	if f, ok := AsFloat(params[key]); ok {
		return int(f)
	}
	return def
}

// MergeParams overlays layers left to right into a fresh map.
func MergeParams(layers ...map[string]any) map[string]any {
	out := map[string]any{}
	for _, l := range layers {
		for k, v := range l {
			out[k] = v
		}
	}
	return out
}
