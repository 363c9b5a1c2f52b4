package wire

import "fmt"

// ParseError is the single structured error variant the codec returns.
// Parse errors never escape the codec as anything richer than this: the
// caller drops the frame, logs, and continues.
type ParseError struct {
	// Stage names the TLV or frame field being decoded when the failure
	// occurred, e.g. "tlv-body", "object-header", "object-chunk".
	Stage string
	Err   error
}

func (e *ParseError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("wire: parse error at %s", e.Stage)
	}
	return fmt.Sprintf("wire: parse error at %s: %v", e.Stage, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

func parseErrf(stage, format string, args ...any) *ParseError {
	return &ParseError{Stage: stage, Err: fmt.Errorf(format, args...)}
}
