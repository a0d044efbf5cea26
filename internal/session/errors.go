package session

import "fmt"

// Party identifies which peer a ProtocolMismatchError blames.
type Party string

const (
	PartyClient    Party = "client"
	PartyConnector Party = "connector"
)

// ProtocolMismatchError reports that a party sent an unexpected frame, or
// omitted a required field. Fatal to the session.
type ProtocolMismatchError struct {
	Party    Party
	Expected string
	Got      string
}

func (e *ProtocolMismatchError) Error() string {
	return fmt.Sprintf("protocol mismatch: expected %s from %s, got %s", e.Expected, e.Party, e.Got)
}

func mismatch(party Party, expected, got string) error {
	return &ProtocolMismatchError{Party: party, Expected: expected, Got: got}
}

// ParseError reports a JSON parse failure on state or a captured document.
// Fatal to the session.
type ParseError struct {
	Context string
	Err     error
}

func (e *ParseError) Error() string { return fmt.Sprintf("parse error (%s): %v", e.Context, e.Err) }
func (e *ParseError) Unwrap() error { return e.Err }

// StoreError reports a checkpoint-store open/read/write failure. Fatal.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return fmt.Sprintf("store error (%s): %v", e.Op, e.Err) }
func (e *StoreError) Unwrap() error { return e.Err }

// ResourceError reports a temp-file or allocation failure. Fatal.
type ResourceError struct {
	Op  string
	Err error
}

func (e *ResourceError) Error() string { return fmt.Sprintf("resource error (%s): %v", e.Op, e.Err) }
func (e *ResourceError) Unwrap() error { return e.Err }

// ActionAbortedError reports a user/supervisor-requested shutdown. Fatal,
// but not logged as a failure.
type ActionAbortedError struct {
	Reason string
}

func (e *ActionAbortedError) Error() string { return fmt.Sprintf("action aborted: %s", e.Reason) }
