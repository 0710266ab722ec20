package executor

import (
	"regexp"

	"github.com/xkilldash9x/statepilot/api/schemas"
)

// parameterRef matches %KEY% and parameters['KEY'] / parameters["KEY"].
var parameterRef = regexp.MustCompile(`%([A-Za-z0-9_.\-]+)%|parameters\[\s*(?:'([^']+)'|"([^"]+)")\s*\]`)

// SubstituteString replaces parameter references in s. References with no
// value in params are left untouched.
func SubstituteString(s string, params schemas.Parameters) string {
	if len(params) == 0 {
		return s
	}
	return parameterRef.ReplaceAllStringFunc(s, func(ref string) string {
		m := parameterRef.FindStringSubmatch(ref)
		key := m[1]
		if key == "" {
			key = m[2]
		}
		if key == "" {
			key = m[3]
		}
		if v, ok := params[key]; ok {
			return v
		}
		return ref
	})
}

// Substitute returns a copy of inv with references resolved in every string
// param value, including strings nested in lists and maps.
func Substitute(inv schemas.Invocation, params schemas.Parameters) schemas.Invocation {
	out := schemas.Invocation{Type: inv.Type, Params: make(map[string]any, len(inv.Params))}
	for k, v := range inv.Params {
		out.Params[k] = substituteValue(v, params)
	}
	return out
}

func substituteValue(v any, params schemas.Parameters) any {
	switch t := v.(type) {
	case string:
		return SubstituteString(t, params)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = substituteValue(e, params)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = substituteValue(e, params)
		}
		return out
	default:
		return v
	}
}
