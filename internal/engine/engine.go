package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/seantiz/docpipe/internal/model"
)

// Engine is the interface every document processor implements. One
// engine handles exactly one job kind.
type Engine interface {
	// Name identifies the engine implementation in listings and logs.
	Name() string

	// Process runs one job attempt. The payload is the job's opaque
	// document payload; the returned bytes become the job's output.
	// The context carries the per-attempt deadline and cancellation.
	Process(ctx context.Context, payload json.RawMessage) (json.RawMessage, error)
}

// Dispatch errors. ErrUnknownKind marks a job type outside the closed
// set and ErrNotRegistered a known type with no engine bound. Both are
// terminal: the retry path never reschedules them.
var (
	ErrUnknownKind   = errors.New("unknown job type")
	ErrNotRegistered = errors.New("no engine registered")
)

// Registry binds engines to job kinds. One exported field per kind
// keeps the set closed: a new kind cannot be wired without extending
// the struct and the dispatch switch together. Fields are fixed after
// construction, so the registry is safe for concurrent readers.
type Registry struct {
	Parse    Engine
	Render   Engine
	Index    Engine
	Generate Engine
	Convert  Engine
	Validate Engine
}

// ForKind returns the engine bound to a kind. It fails with
// ErrUnknownKind for a kind outside the closed set and with
// ErrNotRegistered when the kind has no engine bound.
func (r *Registry) ForKind(k model.Kind) (Engine, error) {
	var eng Engine
	switch k {
	case model.KindParse:
		eng = r.Parse
	case model.KindRender:
		eng = r.Render
	case model.KindIndex:
		eng = r.Index
	case model.KindGenerate:
		eng = r.Generate
	case model.KindConvert:
		eng = r.Convert
	case model.KindValidate:
		eng = r.Validate
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, k)
	}
	if eng == nil {
		return nil, fmt.Errorf("%w for job type %q", ErrNotRegistered, k)
	}
	return eng, nil
}

// Info describes one kind slot of the registry.
type Info struct {
	Kind  model.Kind `json:"type"`
	Name  string     `json:"name,omitempty"`
	Bound bool       `json:"bound"`
}

// List reports every kind in dispatch order with the engine bound to
// it, for a stable API response.
func (r *Registry) List() []Info {
	infos := make([]Info, 0, len(model.Kinds()))
	for _, k := range model.Kinds() {
		info := Info{Kind: k}
		if eng, err := r.ForKind(k); err == nil {
			info.Name = eng.Name()
			info.Bound = true
		}
		infos = append(infos, info)
	}
	return infos
}
