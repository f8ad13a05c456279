package infrahub

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// Sentinel errors for common SDK error conditions.
// These errors can be used with errors.Is() for error checking.
var (
	// ErrNodeNotFound indicates a query matched no node.
	ErrNodeNotFound = errors.New("node not found")

	// ErrBranchNotFound indicates the requested branch does not exist on the server.
	ErrBranchNotFound = errors.New("branch not found")

	// ErrSchemaNotFound indicates the requested kind is not part of the schema.
	ErrSchemaNotFound = errors.New("schema not found")

	// ErrInvalidFilters indicates the provided filters are not defined for the kind.
	ErrInvalidFilters = errors.New("invalid filters")

	// ErrInvalidConfig indicates the provided configuration is invalid or incomplete.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrServerNotReachable indicates the server could not be reached at all.
	ErrServerNotReachable = errors.New("server not reachable")

	// ErrServerNotResponsive indicates the server accepted the connection but
	// did not answer within the configured timeout.
	ErrServerNotResponsive = errors.New("server not responsive")

	// ErrAmbiguousResult indicates a lookup expected a single node but matched
	// more than one.
	ErrAmbiguousResult = errors.New("multiple nodes returned")
)

// Error kinds categorize errors by their type.
const (
	// KindNotFound represents errors where a node, branch, or schema was not found.
	KindNotFound = "not_found"

	// KindValidation represents errors related to input validation.
	KindValidation = "validation"

	// KindAuthentication represents errors related to login or token refresh.
	KindAuthentication = "authentication"

	// KindUnreachable represents errors where the server could not be reached.
	KindUnreachable = "unreachable"

	// KindUnresponsive represents errors where the server did not answer in time.
	KindUnresponsive = "unresponsive"

	// KindGraphQL represents errors reported by the GraphQL endpoint itself.
	KindGraphQL = "graphql"

	// KindInternal represents internal SDK errors.
	KindInternal = "internal"
)

// Error is a structured error type that wraps underlying errors with
// additional context about the operation that failed and the category of
// error.
//
// Error implements the error interface and supports error unwrapping, making
// it compatible with errors.Is() and errors.As().
//
// Example usage:
//
//	err := &Error{
//		Op:   "Client.Get",
//		Kind: KindNotFound,
//		Err:  ErrNodeNotFound,
//	}
type Error struct {
	// Op is the operation that failed (e.g., "Client.Get", "Branch.Create").
	Op string

	// Kind categorizes the error (e.g., KindNotFound, KindValidation).
	Kind string

	// Err is the underlying error that caused this error.
	Err error

	// Context provides additional context about the error (optional).
	// This can include node kinds, branch names, or other debugging information.
	Context map[string]any
}

// Error implements the error interface, returning a formatted error message
// that includes the operation, kind, and underlying error.
func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("infrahub: %s: %s", e.Op, e.Kind)
	}

	if len(e.Context) > 0 {
		return fmt.Sprintf("infrahub: %s (%s): %v [context: %+v]", e.Op, e.Kind, e.Err, e.Context)
	}

	return fmt.Sprintf("infrahub: %s (%s): %v", e.Op, e.Kind, e.Err)
}

// Unwrap returns the underlying error, allowing errors.Is() and errors.As()
// to work correctly with wrapped errors.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is implements error matching for Error, allowing comparison based on the
// underlying error or the Error itself.
func (e *Error) Is(target error) bool {
	if target == nil {
		return false
	}

	// Check if target is an Error with matching Kind
	if t, ok := target.(*Error); ok {
		if t.Kind != "" && e.Kind == t.Kind {
			if t.Op == "" || e.Op == t.Op {
				return true
			}
		}
	}

	// Delegate to underlying error
	return errors.Is(e.Err, target)
}

// WithContext returns a new Error with the provided context added.
// This is useful for adding debugging information to errors.
//
// Example:
//
//	err := &Error{
//		Op:   "Client.Get",
//		Kind: KindNotFound,
//		Err:  ErrNodeNotFound,
//	}
//	err = err.WithContext(map[string]any{
//		"kind":   "TestPerson",
//		"branch": "main",
//	})
func (e *Error) WithContext(ctx map[string]any) *Error {
	newErr := *e
	if newErr.Context == nil {
		newErr.Context = make(map[string]any)
	}
	for k, v := range ctx {
		newErr.Context[k] = v
	}
	return &newErr
}

// NewNotFoundError creates a new Error with KindNotFound.
func NewNotFoundError(op string, err error) *Error {
	return &Error{
		Op:   op,
		Kind: KindNotFound,
		Err:  err,
	}
}

// NewValidationError creates a new Error with KindValidation.
func NewValidationError(op string, err error) *Error {
	return &Error{
		Op:   op,
		Kind: KindValidation,
		Err:  err,
	}
}

// NewAuthenticationError creates a new Error with KindAuthentication.
func NewAuthenticationError(op string, err error) *Error {
	return &Error{
		Op:   op,
		Kind: KindAuthentication,
		Err:  err,
	}
}

// NewUnreachableError creates a new Error with KindUnreachable.
func NewUnreachableError(op string, err error) *Error {
	return &Error{
		Op:   op,
		Kind: KindUnreachable,
		Err:  err,
	}
}

// NewUnresponsiveError creates a new Error with KindUnresponsive.
func NewUnresponsiveError(op string, err error) *Error {
	return &Error{
		Op:   op,
		Kind: KindUnresponsive,
		Err:  err,
	}
}

// NewGraphQLError creates a new Error with KindGraphQL.
func NewGraphQLError(op string, err error) *Error {
	return &Error{
		Op:   op,
		Kind: KindGraphQL,
		Err:  err,
	}
}

// NewInternalError creates a new Error with KindInternal.
func NewInternalError(op string, err error) *Error {
	return &Error{
		Op:   op,
		Kind: KindInternal,
		Err:  err,
	}
}

// GraphQLErrorEntry is a single error object returned by the GraphQL
// endpoint.
type GraphQLErrorEntry struct {
	Message string `json:"message"`
	Path    []any  `json:"path,omitempty"`
}

// GraphQLError is returned when the GraphQL endpoint answers with one or
// more errors in the response payload.
type GraphQLError struct {
	// Entries holds the raw error objects from the response.
	Entries []GraphQLErrorEntry

	// Query is the document that triggered the errors, kept for debugging.
	Query string
}

// Error implements the error interface, joining the individual error
// messages.
func (e *GraphQLError) Error() string {
	messages := make([]string, 0, len(e.Entries))
	for _, entry := range e.Entries {
		messages = append(messages, entry.Message)
	}
	return fmt.Sprintf("graphql query failed: %s", strings.Join(messages, " | "))
}

// AuthenticationError is returned when the server rejects the provided
// credentials or token.
type AuthenticationError struct {
	// Messages holds the error messages reported by the server.
	Messages []string
}

// Error implements the error interface.
func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication failed: %s", strings.Join(e.Messages, " | "))
}

// CloseWithLog attempts to close the provided resource and logs any error
// at warning level. This is intended for use in defer statements to ensure
// cleanup errors are not silently ignored.
//
// The name parameter should describe the resource being closed (e.g.,
// "response body", "file"). If logger is nil, slog.Default() is used.
func CloseWithLog(closer io.Closer, logger *slog.Logger, name string) {
	if closer == nil {
		return
	}

	if logger == nil {
		logger = slog.Default()
	}

	if err := closer.Close(); err != nil {
		logger.Warn("failed to close resource",
			"resource", name,
			"error", err)
	}
}
