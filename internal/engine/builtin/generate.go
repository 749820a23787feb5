package builtin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"text/template"
)

// scaffoldTemplate is the markdown skeleton the generator emits. Its
// output round-trips through the parsing engine: front matter, one h1,
// and one h2 per requested section.
const scaffoldTemplate = `---
title: {{.Title}}
kind: {{.DocKind}}
---

# {{.Title}}
{{- if .Summary}}

{{.Summary}}
{{- end}}
{{- range .Sections}}

## {{.}}

_To be written._
{{- end}}
`

// docKinds is the set of scaffold layouts the generator accepts.
var docKinds = map[string]bool{"guide": true, "reference": true, "notes": true}

// Generator produces a markdown document scaffold from a title and a
// list of section names.
type Generator struct {
	tmpl *template.Template
}

// NewGenerator returns the scaffold generation engine.
func NewGenerator() *Generator {
	return &Generator{
		tmpl: template.Must(template.New("scaffold").Parse(scaffoldTemplate)),
	}
}

func (g *Generator) Name() string { return "template-generator" }

type generateInput struct {
	Title    string   `json:"title"`
	DocKind  string   `json:"doc_kind"`
	Summary  string   `json:"summary"`
	Sections []string `json:"sections"`
}

type generateOutput struct {
	Content  string `json:"content"`
	Sections int    `json:"sections"`
}

// Process renders the scaffold template with the payload's fields.
func (g *Generator) Process(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
	var in generateInput
	if err := json.Unmarshal(payload, &in); err != nil {
		return nil, fmt.Errorf("decode generate payload: %w", err)
	}
	if in.Title == "" {
		return nil, errors.New("generate payload has no title")
	}
	if in.DocKind == "" {
		in.DocKind = "guide"
	}
	if !docKinds[in.DocKind] {
		return nil, fmt.Errorf("unknown doc_kind %q", in.DocKind)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := g.tmpl.Execute(&buf, in); err != nil {
		return nil, fmt.Errorf("render scaffold: %w", err)
	}

	out := generateOutput{Content: buf.String(), Sections: len(in.Sections)}
	return json.Marshal(out)
}
