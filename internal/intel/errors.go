package intel

import "fmt"

// ValidationError means a feed returned structurally implausible data. The
// run is reported as a failure with zero ingested items; nothing reaches
// storage.
type ValidationError struct {
	Feed   string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("feed %s failed validation: %s", e.Feed, e.Reason)
}

// ParseError marks a single malformed record. It is skipped, never fatal to
// the batch.
type ParseError struct {
	Feed   string
	Detail string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %s", e.Feed, e.Detail)
}

// ExecutionError wraps any other failure during a feed run so the pipeline
// boundary can report it uniformly.
type ExecutionError struct {
	Feed string
	Err  error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execute feed %s: %v", e.Feed, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// TruncateError shortens error text for run summaries and stats rows.
func TruncateError(msg string, limit int) string {
	if limit <= 0 || len(msg) <= limit {
		return msg
	}
	return msg[:limit]
}
