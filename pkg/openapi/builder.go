// Package openapi assembles a minimal OpenAPI 3.1 document from a list of
// registered operations.
package openapi

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"
)

// Operation is a single HTTP operation surfaced in the document.
type Operation struct {
	Method      string
	Path        string
	Summary     string
	Tags        []string
	Params      []Param
	Responses   map[string]string // status -> description
	Destructive bool              // requires the admin role
}

// Param is a path parameter.
type Param struct {
	Name        string
	Description string
}

type Registry struct {
	ops []Operation
}

func NewRegistry() *Registry { return &Registry{} }

func (r *Registry) Register(ops ...Operation) {
	for _, op := range ops {
		op.Method = strings.ToLower(op.Method)
		r.ops = append(r.ops, op)
	}
}

// Build renders the document. serverURL becomes the single servers entry when
// non-empty.
func (r *Registry) Build(title, version, serverURL string) map[string]any {
	paths := map[string]any{}
	for _, op := range r.ops {
		item, ok := paths[op.Path].(map[string]any)
		if !ok {
			item = map[string]any{}
			paths[op.Path] = item
		}
		responses := map[string]any{}
		for code, desc := range op.Responses {
			responses[code] = map[string]any{"description": desc}
		}
		responses["401"] = map[string]any{"$ref": "#/components/responses/Problem"}
		responses["403"] = map[string]any{"$ref": "#/components/responses/Problem"}
		m := map[string]any{
			"summary":   op.Summary,
			"tags":      op.Tags,
			"responses": responses,
		}
		if len(op.Params) > 0 {
			params := make([]map[string]any, 0, len(op.Params))
			for _, p := range op.Params {
				params = append(params, map[string]any{
					"name":        p.Name,
					"in":          "path",
					"required":    true,
					"description": p.Description,
					"schema":      map[string]string{"type": "string"},
				})
			}
			m["parameters"] = params
		}
		if op.Destructive {
			m["x-required-role"] = "admin"
		}
		item[op.Method] = m
	}
	doc := map[string]any{
		"openapi": "3.1.0",
		"info":    map[string]any{"title": title, "version": version},
		"paths":   paths,
		"components": map[string]any{
			"securitySchemes": map[string]any{
				"bearer": map[string]any{"type": "http", "scheme": "bearer"},
			},
			"responses": map[string]any{
				"Problem": map[string]any{
					"description": "RFC 7807 problem",
					"content":     map[string]any{"application/problem+json": map[string]any{}},
				},
			},
		},
		"security": []map[string]any{{"bearer": []string{}}},
	}
	if serverURL != "" {
		doc["servers"] = []map[string]string{{"url": serverURL}}
	}
	return doc
}

// Paths lists the registered paths, sorted.
func (r *Registry) Paths() []string {
	seen := map[string]bool{}
	var out []string
	for _, op := range r.ops {
		if !seen[op.Path] {
			seen[op.Path] = true
			out = append(out, op.Path)
		}
	}
	sort.Strings(out)
	return out
}

// ServeHandler serves the built document as JSON.
func (r *Registry) ServeHandler(title, version, serverURL string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(r.Build(title, version, serverURL))
	}
}
