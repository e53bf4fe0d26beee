package manifest

import "fmt"

// ParseError reports input that is not a well-formed MPD document.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing manifest: %v", e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// SchemaError reports a well-formed manifest that lacks the elements needed
// for key identifier extraction. Content is presumed unencrypted.
type SchemaError struct {
	Reason string
}

func (e *SchemaError) Error() string {
	return "manifest schema: " + e.Reason
}

var errNoProtection = &SchemaError{Reason: "no ContentProtection element for any scheme"}
