// Package engine defines the common interface that all document
// processors (parse, render, index, generate, convert, validate) must
// implement, along with the closed registry that binds exactly one
// engine to each job kind.
package engine
