package errors

import (
	"fmt"
	"strings"
)

// Phase indicates which handle operation produced the error
type Phase string

const (
	PhaseRegister  Phase = "register"  // dispatch table registration
	PhaseConstruct Phase = "construct" // handle construction
	PhaseDeref     Phase = "deref"     // interface recovery
	PhaseDowncast  Phase = "downcast"  // concrete type recovery
	PhaseDestroy   Phase = "destroy"   // drop and release
	PhaseRecover   Phase = "recover"   // downcast reference back to handle
	PhaseEmbed     Phase = "embed"     // inline union embedding
	PhaseAlloc     Phase = "alloc"     // allocator acquire
	PhaseFree      Phase = "free"      // allocator release
	PhaseTable     Phase = "table"     // handle table operations
)

// Kind categorizes the error
type Kind string

const (
	KindAllocation       Kind = "allocation"
	KindUnsupported      Kind = "unsupported"
	KindTypeMismatch     Kind = "type_mismatch"
	KindAlignment        Kind = "alignment"
	KindDestroyed        Kind = "destroyed"
	KindDoubleFree       Kind = "double_free"
	KindForeignReference Kind = "foreign_reference"
	KindNilHandle        Kind = "nil_handle"
	KindInvalidInput     Kind = "invalid_input"
	KindClosed           Kind = "closed"
	KindNotFound         Kind = "not_found"
)

// Error is the structured error type used throughout the module
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	GoType string
	Detail string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.GoType != "" {
		b.WriteString(": Go type ")
		b.WriteString(e.GoType)
	}

	if e.Detail != "" {
		if e.GoType != "" {
			b.WriteString(" - ")
		} else {
			b.WriteString(": ")
		}
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// GoType sets the Go type name
func (b *Builder) GoType(t string) *Builder {
	b.err.GoType = t
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// AllocationFailed creates an allocation failure error
func AllocationFailed(phase Phase, size, align uintptr) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindAllocation,
		Detail: fmt.Sprintf("failed to allocate %d bytes (align %d)", size, align),
	}
}

// TypeMismatch creates an error for a concrete type that does not satisfy an interface
func TypeMismatch(phase Phase, goType, iface string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindTypeMismatch,
		GoType: goType,
		Detail: fmt.Sprintf("does not implement %s", iface),
	}
}

// Alignment creates an alignment violation error
func Alignment(phase Phase, goType string, align, limit uintptr) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindAlignment,
		GoType: goType,
		Detail: fmt.Sprintf("alignment %d exceeds limit %d", align, limit),
		Value:  align,
	}
}

// Destroyed creates an error for an operation on an already destroyed handle
func Destroyed(phase Phase, goType string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindDestroyed,
		GoType: goType,
		Detail: "handle already destroyed",
	}
}

// DoubleFree creates an error for a release of a block that is not live
func DoubleFree(phase Phase, addr uintptr) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindDoubleFree,
		Detail: fmt.Sprintf("block %#x is not live", addr),
		Value:  addr,
	}
}

// NilHandle creates an error for an operation on a zero handle
func NilHandle(phase Phase) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNilHandle,
		Detail: "nil handle",
	}
}

// Unsupported creates an unsupported operation error
func Unsupported(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindUnsupported,
		Detail: what,
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// Closed creates an error for use of a released allocator or table
func Closed(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindClosed,
		Detail: fmt.Sprintf("%s closed", what),
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what string, id any) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s %v not found", what, id),
		Value:  id,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}
