// Package errors contains domain errors that different layers can use to add
// meaning to an error and that the HTTP handlers and the Temporal activities
// transform to a status code or a retry decision. It lives in its own package
// to avoid import cycles.
package errors

import "errors"

// The following errors serve as domain errors that can be used by the
// different layers.
var (
	// ErrInvalidArgument is used when the provided argument is incorrect
	// (e.g. an empty channel ID).
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrNotFound is used when a resource doesn't exist.
	ErrNotFound = errors.New("not found")
	// ErrNotPDF is used when downloaded content doesn't carry the PDF
	// signature or can't be parsed as a PDF.
	ErrNotPDF = errors.New("content is not a valid PDF")
	// ErrMalformedMetadata is used when the AI model returns output that
	// doesn't match the metadata schema.
	ErrMalformedMetadata = errors.New("malformed metadata response")
	// ErrUnavailable is used when an upstream dependency (Slack, the AI API,
	// the store) can't be reached.
	ErrUnavailable = errors.New("upstream unavailable")
)
