// internal/registry/params.go
package registry

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ParamKind is the expected type of a declared parameter.
type ParamKind int

const (
	String ParamKind = iota
	Number
	Integer
	Bool
)

func (k ParamKind) String() string {
	switch k {
	case Number:
		return "number"
	case Integer:
		return "integer"
	case Bool:
		return "bool"
	default:
		return "string"
	}
}

// Param declares one parameter of a trigger or action.
type Param struct {
	Name     string
	Kind     ParamKind
	Required bool
	// Default is applied when an optional parameter is absent. Nil leaves it
	// absent.
	Default any
}

// Req declares a required parameter.
func Req(name string, kind ParamKind) Param {
	return Param{Name: name, Kind: kind, Required: true}
}

// Opt declares an optional parameter with a default (nil for none).
func Opt(name string, kind ParamKind, def any) Param {
	return Param{Name: name, Kind: kind, Default: def}
}

// Args holds bound, type-coerced parameter values.
type Args map[string]any

// Has reports whether name is bound to a value.
func (a Args) Has(name string) bool {
	_, ok := a[name]
	return ok
}

func (a Args) String(name string) string {
	s, _ := a[name].(string)
	return s
}

func (a Args) Float(name string) float64 {
	f, _ := a[name].(float64)
	return f
}

func (a Args) Int(name string) int {
	i, _ := a[name].(int)
	return i
}

func (a Args) Bool(name string) bool {
	b, _ := a[name].(bool)
	return b
}

// bind validates provided against specs. Unknown or missing names are
// rejected, never dropped or defaulted. Nil values count as absent.
func bind(kind Kind, name string, specs []Param, provided map[string]any) (Args, error) {
	declared := make(map[string]Param, len(specs))
	for _, p := range specs {
		declared[p.Name] = p
	}

	fail := func(reason string) error {
		return &InvalidParamsError{
			Kind:     kind,
			Name:     name,
			Expected: paramNames(specs, false),
			Required: paramNames(specs, true),
			Provided: providedNames(provided),
			Reason:   reason,
		}
	}

	var unknown []string
	for k := range provided {
		if _, ok := declared[k]; !ok {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, fail("unexpected parameter(s) " + strings.Join(unknown, ", "))
	}

	args := make(Args, len(specs))
	var missing []string
	for _, p := range specs {
		raw, ok := provided[p.Name]
		if !ok || raw == nil {
			if p.Required {
				missing = append(missing, p.Name)
			} else if p.Default != nil {
				args[p.Name] = p.Default
			}
			continue
		}
		v, err := coerce(p.Kind, raw)
		if err != nil {
			return nil, fail(fmt.Sprintf("parameter %s: %v", p.Name, err))
		}
		args[p.Name] = v
	}
	if len(missing) > 0 {
		return nil, fail("missing required parameter(s) " + strings.Join(missing, ", "))
	}
	return args, nil
}

// coerce converts raw into the Go type for kind. Strings are accepted for
// scalar kinds because parameter substitution always yields strings.
func coerce(kind ParamKind, raw any) (any, error) {
	switch kind {
	case String:
		switch v := raw.(type) {
		case string:
			return v, nil
		case json.Number:
			return v.String(), nil
		case int, int64, float64, float32, bool:
			return fmt.Sprint(v), nil
		}
	case Number:
		switch v := raw.(type) {
		case float64:
			return v, nil
		case float32:
			return float64(v), nil
		case int:
			return float64(v), nil
		case int64:
			return float64(v), nil
		case json.Number:
			return v.Float64()
		case string:
			return strconv.ParseFloat(strings.TrimSpace(v), 64)
		}
	case Integer:
		switch v := raw.(type) {
		case int:
			return v, nil
		case int64:
			return int(v), nil
		case float64:
			if v != float64(int(v)) {
				return nil, fmt.Errorf("%v is not an integer", v)
			}
			return int(v), nil
		case json.Number:
			i, err := v.Int64()
			return int(i), err
		case string:
			return strconv.Atoi(strings.TrimSpace(v))
		}
	case Bool:
		switch v := raw.(type) {
		case bool:
			return v, nil
		case string:
			return strconv.ParseBool(strings.TrimSpace(v))
		}
	}
	return nil, fmt.Errorf("expected %s, got %T", kind, raw)
}

func paramNames(specs []Param, requiredOnly bool) []string {
	names := make([]string, 0, len(specs))
	for _, p := range specs {
		if requiredOnly && !p.Required {
			continue
		}
		names = append(names, p.Name)
	}
	return names
}

func providedNames(provided map[string]any) []string {
	names := make([]string, 0, len(provided))
	for k := range provided {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
