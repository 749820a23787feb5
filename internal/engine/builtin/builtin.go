// Package builtin provides the reference engines for each job kind:
// markdown parsing, HTML rendering, term indexing, document scaffold
// generation, format conversion, and metadata validation. They are
// deterministic, operate entirely in memory, and honor context
// cancellation between processing stages.
package builtin

import "github.com/seantiz/docpipe/internal/engine"

// NewRegistry returns a registry with every kind bound to its
// reference engine.
func NewRegistry() *engine.Registry {
	return &engine.Registry{
		Parse:    NewParser(),
		Render:   NewRenderer(),
		Index:    NewIndexer(),
		Generate: NewGenerator(),
		Convert:  NewConverter(),
		Validate: NewValidator(),
	}
}
