package result

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// ValidationError is a single user-correctable reason a transaction was refused.
type ValidationError struct {
	Message    string            `json:"message"`
	Parameters map[string]string `json:"parameters,omitempty"`
}

// ValidationFailure carries one or more validation errors.
type ValidationFailure struct {
	Errors []ValidationError
}

// Validation builds a failure with a single message and one parameter.
func Validation(message, key, value string) *ValidationFailure {
	return &ValidationFailure{Errors: []ValidationError{{
		Message:    message,
		Parameters: map[string]string{key: value},
	}}}
}

// ValidationErrors builds a failure from an already accumulated list.
func ValidationErrors(errs ...ValidationError) *ValidationFailure {
	return &ValidationFailure{Errors: append([]ValidationError(nil), errs...)}
}

func (f *ValidationFailure) Error() string {
	messages := make([]string, 0, len(f.Errors))
	for _, e := range f.Errors {
		messages = append(messages, e.Message)
	}
	return "validation failed: " + strings.Join(messages, "; ")
}

// HasMessage reports whether any of the errors carries the given message.
func (f *ValidationFailure) HasMessage(message string) bool {
	for _, e := range f.Errors {
		if e.Message == message {
			return true
		}
	}
	return false
}

// NotFoundFailure reports a referenced record that does not exist.
type NotFoundFailure struct {
	Kind string
	ID   string
}

func NotFound(kind, id string) *NotFoundFailure {
	return &NotFoundFailure{Kind: kind, ID: id}
}

func (f *NotFoundFailure) Error() string {
	return fmt.Sprintf("%s with ID %s not found", f.Kind, f.ID)
}

// ServerFailure is an unexpected internal condition. It is never user-correctable.
type ServerFailure struct {
	Reason string
	Err    error
}

func Server(format string, args ...any) *ServerFailure {
	return &ServerFailure{Reason: fmt.Sprintf(format, args...)}
}

// ServerFrom wraps a lower-layer error.
func ServerFrom(err error) *ServerFailure {
	return &ServerFailure{Reason: err.Error(), Err: err}
}

func (f *ServerFailure) Error() string {
	return f.Reason
}

func (f *ServerFailure) Unwrap() error {
	return f.Err
}

// ConflictFailure reports a write rejected because the record changed since it was read.
type ConflictFailure struct {
	Kind string
	ID   string
}

func Conflict(kind, id string) *ConflictFailure {
	return &ConflictFailure{Kind: kind, ID: id}
}

func (f *ConflictFailure) Error() string {
	return fmt.Sprintf("%s %s was modified by another transaction", f.Kind, f.ID)
}

// UpstreamFailure is a collaborator response that is forwarded largely unchanged.
type UpstreamFailure struct {
	StatusCode  int
	ContentType string
	Body        string
}

func (f *UpstreamFailure) Error() string {
	return fmt.Sprintf("unexpected status code: %d", f.StatusCode)
}

// Status returns the status to forward, treating nonsense codes as a bad gateway.
func (f *UpstreamFailure) Status() int {
	if f.StatusCode < 400 || f.StatusCode > 599 {
		return http.StatusBadGateway
	}
	return f.StatusCode
}

// SortedParameters returns the parameters ordered by key, for stable wire output.
func (e ValidationError) SortedParameters() []Parameter {
	params := make([]Parameter, 0, len(e.Parameters))
	for k, v := range e.Parameters {
		params = append(params, Parameter{Key: k, Value: v})
	}
	sort.Slice(params, func(i, j int) bool { return params[i].Key < params[j].Key })
	return params
}

// Parameter is a key/value pair as rendered on the wire.
type Parameter struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}
