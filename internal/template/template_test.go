package template

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderRequest(t *testing.T) {
	tests := []struct {
		name string
		tmpl any
		args map[string]any
		want any
	}{
		{
			name: "simple substitution",
			tmpl: map[string]any{"msg": "{{x}}"},
			args: map[string]any{"x": "hi"},
			want: map[string]any{"msg": "hi"},
		},
		{
			name: "missing arg left intact",
			tmpl: map[string]any{"msg": "{{x}}"},
			args: map[string]any{},
			want: map[string]any{"msg": "{{x}}"},
		},
		{
			name: "nested objects and arrays",
			tmpl: map[string]any{
				"query": map[string]any{"q": "find {{term}} now", "n": float64(3)},
				"tags":  []any{"{{tag}}", "static", true},
			},
			args: map[string]any{"term": "go", "tag": "lang"},
			want: map[string]any{
				"query": map[string]any{"q": "find go now", "n": float64(3)},
				"tags":  []any{"lang", "static", true},
			},
		},
		{
			name: "repeated marker",
			tmpl: "{{a}}-{{a}}",
			args: map[string]any{"a": "x"},
			want: "x-x",
		},
		{
			name: "non-string args are JSON encoded",
			tmpl: map[string]any{"n": "{{n}}", "obj": "{{o}}", "b": "{{b}}"},
			args: map[string]any{"n": float64(42), "o": map[string]any{"k": "v"}, "b": true},
			want: map[string]any{"n": "42", "obj": `{"k":"v"}`, "b": "true"},
		},
		{
			name: "keys are not substituted",
			tmpl: map[string]any{"{{x}}": "v"},
			args: map[string]any{"x": "k"},
			want: map[string]any{"{{x}}": "v"},
		},
		{
			name: "nil template returns args",
			tmpl: nil,
			args: map[string]any{"x": "hi"},
			want: map[string]any{"x": "hi"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RenderRequest(tt.tmpl, tt.args))
		})
	}
}

func TestRenderRequest_DoesNotMutateTemplate(t *testing.T) {
	tmpl := map[string]any{"msg": "{{x}}"}
	_ = RenderRequest(tmpl, map[string]any{"x": "hi"})
	assert.Equal(t, "{{x}}", tmpl["msg"])
}

func TestRenderResponse(t *testing.T) {
	var nested any
	require.NoError(t, json.Unmarshal([]byte(`{"a":{"b":5},"list":[1,2],"name":"x"}`), &nested))

	tests := []struct {
		name    string
		data    any
		mapping *ResponseMapping
		want    string
	}{
		{
			name:    "dot path substitution",
			data:    map[string]any{"a": map[string]any{"b": float64(5)}},
			mapping: &ResponseMapping{Format: FormatTemplate, Template: "val={{a.b}}"},
			want:    "val=5",
		},
		{
			name:    "arrays stay JSON at the leaf",
			data:    nested,
			mapping: &ResponseMapping{Format: FormatTemplate, Template: "{{name}}: {{list}}"},
			want:    "x: [1,2]",
		},
		{
			name:    "unresolved marker intact",
			data:    nested,
			mapping: &ResponseMapping{Format: FormatTemplate, Template: "{{missing.path}}"},
			want:    "{{missing.path}}",
		},
		{
			name:    "array index is not a path",
			data:    nested,
			mapping: &ResponseMapping{Format: FormatTemplate, Template: "{{list.0}}"},
			want:    "{{list.0}}",
		},
		{
			name: "nil mapping pretty prints",
			data: map[string]any{"a": float64(1)},
			want: "{\n  \"a\": 1\n}",
		},
		{
			name:    "json format pretty prints",
			data:    map[string]any{"a": float64(1)},
			mapping: &ResponseMapping{Format: FormatJSON, Template: "ignored {{a}}"},
			want:    "{\n  \"a\": 1\n}",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RenderResponse(tt.data, tt.mapping))
		})
	}
}

func TestFlatten(t *testing.T) {
	got := Flatten(map[string]any{
		"user": map[string]any{"name": "ada", "address": map[string]any{"city": "London"}},
		"ids":  []any{float64(1), float64(2)},
		"none": nil,
	})
	assert.Equal(t, map[string]string{
		"user.name":         "ada",
		"user.address.city": "London",
		"ids":               "[1,2]",
		"none":              "null",
	}, got)

	assert.Equal(t, map[string]string{"": "plain"}, Flatten("plain"))
}

func TestRenderRequest_MissingArgsProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("markers without args are left unchanged", prop.ForAll(
		func(name, text string) bool {
			tmpl := map[string]any{"msg": text + "{{" + name + "}}"}
			got := RenderRequest(tmpl, map[string]any{})
			return assert.ObjectsAreEqual(tmpl, got)
		},
		gen.Identifier(),
		gen.AlphaString(),
	))

	properties.Property("strings without markers are copied verbatim", prop.ForAll(
		func(text string, arg string) bool {
			if strings.Contains(text, "{{") {
				return true
			}
			got := RenderRequest(map[string]any{"k": text}, map[string]any{"x": arg})
			return got.(map[string]any)["k"] == text
		},
		gen.AnyString(),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
