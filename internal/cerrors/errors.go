// Package cerrors defines the coordination-wide error taxonomy so every
// component returns errors that are errors.Is-comparable across package
// boundaries.
package cerrors

import "errors"

var (
	// ErrTransientStore means the coordination DB is temporarily
	// unavailable; callers retry with exponential backoff.
	ErrTransientStore = errors.New("transient store error")

	// ErrTransientSource means a content fetch failed in a way that
	// should be retried; the item goes to retry.
	ErrTransientSource = errors.New("transient source error")

	// ErrPermanentSource means the document is not found, unauthorized,
	// or malformed beyond recovery (HTTP 4xx, a missing file); the item
	// goes straight to failed without consuming a retry.
	ErrPermanentSource = errors.New("permanent source error")

	// ErrPipeline means parse/embed failed; treated as transient unless
	// the pipeline explicitly reports a permanent failure.
	ErrPipeline = errors.New("pipeline error")

	// ErrConfigInvalid means fingerprinting failed before any run was
	// created.
	ErrConfigInvalid = errors.New("config invalid")

	// ErrRunTerminal means a worker attempted to attach to a run already
	// in a terminal status.
	ErrRunTerminal = errors.New("run terminal")
)
