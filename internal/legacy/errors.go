package legacy

import "fmt"

// Kind classifies a failure for transport-layer mapping.
type Kind int

const (
	KindInvalidInput Kind = iota + 1
	KindNotFound
	KindConflict
	KindForbidden
	KindInternal
)

// Error is the caller-visible failure of a legacy operation: a kind for
// status mapping, a stable machine code for client-side branching, and a
// user-facing message (Spanish, as in the rest of the platform).
type Error struct {
	Kind    Kind
	Code    string
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.cause)
	}
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.cause }

var (
	ErrMissingFields = &Error{
		Kind:    KindInvalidInput,
		Code:    "INVALID_INPUT",
		Message: "Casillero, correo y contraseña son obligatorios",
	}
	ErrBoxNotFound = &Error{
		Kind:    KindNotFound,
		Code:    "BOX_NOT_FOUND",
		Message: "No encontramos ese casillero en el sistema anterior",
	}
	ErrAlreadyClaimed = &Error{
		Kind:    KindConflict,
		Code:    "ALREADY_CLAIMED",
		Message: "Este casillero ya fue reclamado. Si es tuyo, inicia sesión.",
	}
	ErrEmailExists = &Error{
		Kind:    KindConflict,
		Code:    "EMAIL_EXISTS",
		Message: "Ya existe una cuenta con ese correo",
	}
	ErrDataMismatch = &Error{
		Kind:    KindForbidden,
		Code:    "DATA_MISMATCH",
		Message: "Los datos no coinciden con nuestros registros",
	}
	ErrRecordNotFound = &Error{
		Kind:    KindNotFound,
		Code:    "RECORD_NOT_FOUND",
		Message: "Registro no encontrado",
	}
	ErrRecordClaimed = &Error{
		Kind:    KindConflict,
		Code:    "RECORD_CLAIMED",
		Message: "No se puede eliminar un registro ya reclamado",
	}
)

// internalError wraps an unexpected failure with a generic user message;
// the cause stays available for operator logs only.
func internalError(cause error) *Error {
	return &Error{
		Kind:    KindInternal,
		Code:    "INTERNAL",
		Message: "Ocurrió un error inesperado, intenta de nuevo",
		cause:   cause,
	}
}
