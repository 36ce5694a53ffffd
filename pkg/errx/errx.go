package errx

import (
	"errors"
	"fmt"
	"sync"
)

// Type classifies an error for handling and reporting purposes
type Type string

const (
	TypeValidation Type = "validation"
	TypeNotFound   Type = "not_found"
	TypeBusiness   Type = "business"
	TypeInternal   Type = "internal"
	TypeExternal   Type = "external"
)

// Code identifies a registered error within a registry
type Code string

// Error is a rich error with code, type and HTTP mapping
type Error struct {
	Code       string         `json:"code"`
	Type       Type           `json:"type"`
	HTTPStatus int            `json:"-"`
	Message    string         `json:"message"`
	Details    map[string]any `json:"details,omitempty"`
	Cause      error          `json:"-"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap exposes the cause to errors.Is / errors.As
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithDetail attaches a key/value pair to the error
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

type definition struct {
	code       Code
	errType    Type
	httpStatus int
	message    string
}

// Registry holds error definitions for one package, all codes
// prefixed with the registry name (e.g. "SESSION_NOT_FOUND")
type Registry struct {
	mu     sync.RWMutex
	prefix string
	defs   map[Code]definition
}

// NewRegistry creates a registry with the given code prefix
func NewRegistry(prefix string) *Registry {
	return &Registry{
		prefix: prefix,
		defs:   make(map[Code]definition),
	}
}

// Register adds an error definition and returns its code
func (r *Registry) Register(code string, errType Type, httpStatus int, message string) Code {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := Code(r.prefix + "_" + code)
	r.defs[c] = definition{
		code:       c,
		errType:    errType,
		httpStatus: httpStatus,
		message:    message,
	}
	return c
}

// New creates an error from a registered code
func (r *Registry) New(code Code) *Error {
	return r.build(code, "", nil)
}

// NewWithCause creates an error wrapping an underlying cause
func (r *Registry) NewWithCause(code Code, cause error) *Error {
	return r.build(code, "", cause)
}

// NewWithMessage creates an error with an overridden message
func (r *Registry) NewWithMessage(code Code, message string) *Error {
	return r.build(code, message, nil)
}

func (r *Registry) build(code Code, message string, cause error) *Error {
	r.mu.RLock()
	def, ok := r.defs[code]
	r.mu.RUnlock()

	if !ok {
		// Unregistered codes still produce a usable error
		def = definition{
			code:       code,
			errType:    TypeInternal,
			httpStatus: 500,
			message:    "Unknown error",
		}
	}

	if message == "" {
		message = def.message
	}

	return &Error{
		Code:       string(def.code),
		Type:       def.errType,
		HTTPStatus: def.httpStatus,
		Message:    message,
		Cause:      cause,
	}
}

// IsCode reports whether err (or anything it wraps) carries the given code
func IsCode(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == string(code)
	}
	return false
}

// As extracts an *Error from err if present
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}
