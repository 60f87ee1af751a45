// Package errors provides structured error types for narrow handles.
//
// Errors are categorized by Phase (which handle operation failed) and Kind
// (error category). The Error type carries the concrete Go type involved,
// a human-readable detail and an optional cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseEmbed, errors.KindAlignment).
//		GoType("main.Vec4").
//		Detail("alignment %d exceeds dispatch slot alignment %d", 16, 8).
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.AllocationFailed(errors.PhaseAlloc, 64, 8)
//	err := errors.Destroyed(errors.PhaseDestroy, "main.Counter")
//
// All errors implement the standard error interface and support errors.Is/As.
package errors
