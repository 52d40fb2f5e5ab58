// Package errs defines the error taxonomy shared across the ingestion
// pipeline. Every per-file failure is reported with one of these codes so
// that a run can be reproduced from its report alone.
package errs

import "fmt"

// Deterministic error codes for pipeline failures.
const (
	CodeStructure        = "ERR_STRUCTURE"
	CodeSchemaLoad       = "ERR_SCHEMA_LOAD"
	CodeSchemaShape      = "ERR_SCHEMA_SHAPE"
	CodeValidation       = "ERR_VALIDATION"
	CodeLinkResolution   = "ERR_LINK_RESOLUTION"
	CodeIdentifierFormat = "ERR_IDENTIFIER_FORMAT"
	CodeIO               = "ERR_IO"
	CodeUpload           = "ERR_UPLOAD"
)

// FileError is a typed per-file pipeline error. It carries enough context
// (path, property, schema, JSON pointer) to reproduce the failure without
// re-running the pipeline.
type FileError struct {
	Code       string
	Path       string
	PropertyID string
	SchemaID   string
	Pointer    string
	Message    string
	Err        error
}

func (e *FileError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Path != "" {
		msg += fmt.Sprintf(" (file: %s)", e.Path)
	}
	if e.Pointer != "" {
		msg += fmt.Sprintf(" (at: %s)", e.Pointer)
	}
	return msg
}

func (e *FileError) Unwrap() error { return e.Err }

// StructureError is fatal: it aborts the whole run after the report sink
// has been finalized.
type StructureError struct {
	Root   string
	Issues []string
}

func (e *StructureError) Error() string {
	return fmt.Sprintf("%s: invalid directory structure under %s (%d issue(s))",
		CodeStructure, e.Root, len(e.Issues))
}
