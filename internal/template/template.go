// Package template substitutes {{name}} markers into custom tool
// request bodies and response text.
//
// Both renderers are total: markers without a matching value are left
// in place so a broken template shows up in the tool result instead of
// failing the call.
package template

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
)

// Format values for ResponseMapping.
const (
	FormatJSON     = "json"
	FormatTemplate = "template"
)

// ResponseMapping controls how a custom tool's response body is turned
// into text for the model.
type ResponseMapping struct {
	Format   string `json:"format"`
	Template string `json:"template"`
}

var markerRE = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.\-]+)\s*\}\}`)

// RenderRequest walks tmpl and replaces {{name}} markers in every string
// value with the string form of args[name]. Object keys and non-string
// values are copied as-is. A nil tmpl returns args unchanged.
func RenderRequest(tmpl any, args map[string]any) any {
	if tmpl == nil {
		return args
	}
	return renderValue(tmpl, args)
}

func renderValue(v any, args map[string]any) any {
	switch t := v.(type) {
	case string:
		return substitute(t, func(name string) (string, bool) {
			val, ok := args[name]
			if !ok {
				return "", false
			}
			return Stringify(val), true
		})
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, child := range t {
			out[k] = renderValue(child, args)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, child := range t {
			out[i] = renderValue(child, args)
		}
		return out
	default:
		return v
	}
}

// RenderResponse formats a decoded response body. With no mapping, or
// a mapping whose format is not "template", it returns indented JSON.
// Otherwise the body is flattened to dot paths and substituted into
// mapping.Template.
func RenderResponse(data any, mapping *ResponseMapping) string {
	if mapping == nil || mapping.Format != FormatTemplate {
		return prettyJSON(data)
	}
	flat := Flatten(data)
	return substitute(mapping.Template, func(path string) (string, bool) {
		val, ok := flat[path]
		return val, ok
	})
}

// Flatten maps every leaf of data to its dot path. Only objects are
// descended into; arrays are rendered as compact JSON at their path.
// A non-object root is stored under the empty path.
func Flatten(data any) map[string]string {
	out := map[string]string{}
	flattenInto(out, "", data)
	return out
}

func flattenInto(out map[string]string, prefix string, v any) {
	obj, ok := v.(map[string]any)
	if !ok {
		out[prefix] = Stringify(v)
		return
	}
	for k, child := range obj {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		flattenInto(out, key, child)
	}
}

func substitute(s string, lookup func(string) (string, bool)) string {
	return markerRE.ReplaceAllStringFunc(s, func(m string) string {
		name := markerRE.FindStringSubmatch(m)[1]
		if val, ok := lookup(name); ok {
			return val
		}
		return m
	})
}

// Stringify renders strings verbatim, integral floats without a
// decimal point, and everything else as compact JSON.
func Stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return "null"
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

func prettyJSON(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
