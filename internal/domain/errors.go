package domain

import "fmt"

type ErrorCode string

const (
	CodeInvalidArgument    ErrorCode = "invalid_argument"
	CodeNotFound           ErrorCode = "not_found"
	CodeConflict           ErrorCode = "conflict"
	CodeUnauthenticated    ErrorCode = "unauthenticated"
	CodePermissionDenied   ErrorCode = "permission_denied"
	CodeFailedPrecondition ErrorCode = "failed_precondition"
	CodeAborted            ErrorCode = "aborted"
	CodeInternal           ErrorCode = "internal"
)

// ErrorKind names one member of the registry's flat error taxonomy.
type ErrorKind string

const (
	KindAgentNotFound        ErrorKind = "AgentNotFound"
	KindAgentAlreadyExists   ErrorKind = "AgentAlreadyExists"
	KindAgentNotActive       ErrorKind = "AgentNotActive"
	KindUnauthorizedOwner    ErrorKind = "UnauthorizedOwner"
	KindInsufficientPayment  ErrorKind = "InsufficientPayment"
	KindInteractionNotFound  ErrorKind = "InteractionNotFound"
	KindInvalidStakeAmount   ErrorKind = "InvalidStakeAmount"
	KindInvalidFeePercentage ErrorKind = "InvalidFeePercentage"
	KindTransferFailed       ErrorKind = "TransferFailed"
)

// Registry sentinels. Compare with errors.Is; the Kind decides equality.
var (
	ErrAgentNotFound        = newKindError(CodeNotFound, KindAgentNotFound, "agent not found")
	ErrAgentAlreadyExists   = newKindError(CodeConflict, KindAgentAlreadyExists, "agent already exists")
	ErrAgentNotActive       = newKindError(CodeFailedPrecondition, KindAgentNotActive, "agent is not active")
	ErrUnauthorizedOwner    = newKindError(CodePermissionDenied, KindUnauthorizedOwner, "caller is not the owner")
	ErrInsufficientPayment  = newKindError(CodeFailedPrecondition, KindInsufficientPayment, "payment is below the agent price")
	ErrInteractionNotFound  = newKindError(CodeNotFound, KindInteractionNotFound, "interaction not found")
	ErrInvalidStakeAmount   = newKindError(CodeInvalidArgument, KindInvalidStakeAmount, "stake is below the minimum")
	ErrInvalidFeePercentage = newKindError(CodeInvalidArgument, KindInvalidFeePercentage, "fee percentage must be between 0 and 100")
	ErrTransferFailed       = newKindError(CodeAborted, KindTransferFailed, "value transfer failed")
)

type AppError struct {
	Code    ErrorCode
	Kind    ErrorKind
	Message string
	Cause   error
}

func newKindError(code ErrorCode, kind ErrorKind, message string) *AppError {
	return &AppError{Code: code, Kind: kind, Message: message}
}

func (e *AppError) Error() string {
	label := string(e.Code)
	if e.Kind != "" {
		label = string(e.Kind)
	}
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", label, e.Message)
	}
	return fmt.Sprintf("%s: %s (%v)", label, e.Message, e.Cause)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is matches taxonomy errors by kind so wrapped copies still compare equal to
// the sentinels.
func (e *AppError) Is(target error) bool {
	other, ok := target.(*AppError)
	if !ok || e.Kind == "" {
		return false
	}
	return e.Kind == other.Kind
}

// WithCause returns a copy of a taxonomy error carrying the underlying cause.
func (e *AppError) WithCause(cause error) *AppError {
	out := *e
	out.Cause = cause
	return &out
}

func InvalidArgument(message string) *AppError {
	return &AppError{Code: CodeInvalidArgument, Message: message}
}

func NotFound(message string) *AppError {
	return &AppError{Code: CodeNotFound, Message: message}
}

func Unauthenticated(message string) *AppError {
	return &AppError{Code: CodeUnauthenticated, Message: message}
}

func PermissionDenied(message string) *AppError {
	return &AppError{Code: CodePermissionDenied, Message: message}
}

func FailedPrecondition(message string) *AppError {
	return &AppError{Code: CodeFailedPrecondition, Message: message}
}

func Internal(message string, cause error) *AppError {
	return &AppError{Code: CodeInternal, Message: message, Cause: cause}
}

func AsAppError(err error) (*AppError, bool) {
	if err == nil {
		return nil, false
	}
	typed, ok := err.(*AppError)
	return typed, ok
}
