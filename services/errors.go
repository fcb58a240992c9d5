package services

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when an operation references an order id that does
// not exist (anymore). Bulk operations report it per id and keep going.
var ErrNotFound = errors.New("order not found")

// ParseError reports unparseable pickup time or date text. Lenient pipelines
// substitute a sentinel value instead of surfacing it.
type ParseError struct {
	Input  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %q: %s", e.Input, e.Reason)
}

// TemplateError reports a placeholder in a subject or body template that has
// no value in the order's placeholder map. The affected order stays pending.
type TemplateError struct {
	Placeholder string
}

func (e *TemplateError) Error() string {
	return fmt.Sprintf("template references unknown placeholder {%s}", e.Placeholder)
}

// DispatchError wraps a transport failure. The order stays pending and no
// automatic retry happens.
type DispatchError struct {
	Recipient string
	Err       error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatch to %s: %v", e.Recipient, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }
