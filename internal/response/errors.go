package response

// ErrCode is a typed error code enum for consistent API error identification.
type ErrCode string

const (
	// ─── Authentication ────────────────────────────────────────────────
	ErrTokenRequired ErrCode = "TOKEN_REQUIRED"
	ErrTokenInvalid  ErrCode = "TOKEN_INVALID"

	// ─── Authorization ─────────────────────────────────────────────────
	ErrForbidden         ErrCode = "FORBIDDEN"
	ErrAdminAccessOnly   ErrCode = "ADMIN_ACCESS_ONLY"
	ErrAttemptAccessOnly ErrCode = "ATTEMPT_ACCESS_ONLY"
	ErrCandidateRequired ErrCode = "CANDIDATE_REQUIRED"
	ErrAttemptNotAllowed ErrCode = "ATTEMPT_NOT_ALLOWED"

	// ─── Validation ────────────────────────────────────────────────────
	ErrValidation     ErrCode = "VALIDATION_ERROR"
	ErrInvalidID      ErrCode = "INVALID_ID"
	ErrInvalidPayload ErrCode = "INVALID_PAYLOAD"
	ErrOutOfRange     ErrCode = "OUT_OF_RANGE"

	// ─── Resources ─────────────────────────────────────────────────────
	ErrNotFound ErrCode = "NOT_FOUND"
	ErrConflict ErrCode = "CONFLICT"

	// ─── Attempt lifecycle ─────────────────────────────────────────────
	ErrInvalidState   ErrCode = "INVALID_STATE"
	ErrAttemptExpired ErrCode = "ATTEMPT_EXPIRED"
	ErrAttemptBusy    ErrCode = "ATTEMPT_BUSY"

	// ─── Rate Limiting ─────────────────────────────────────────────────
	ErrRateLimitExceeded ErrCode = "RATE_LIMIT_EXCEEDED"

	// ─── Server ────────────────────────────────────────────────────────
	ErrInternal ErrCode = "INTERNAL_ERROR"
)

// GetMessage returns a human-readable message for a given error code.
func GetMessage(code ErrCode) string {
	switch code {
	// ─── Authentication ────────────────────────────────────────────────
	case ErrTokenRequired:
		return "Authentication token is required."
	case ErrTokenInvalid:
		return "Authentication token is invalid or expired."

	// ─── Authorization ─────────────────────────────────────────────────
	case ErrForbidden:
		return "You do not have permission to access this resource."
	case ErrAdminAccessOnly:
		return "This resource is restricted to graders."
	case ErrAttemptAccessOnly:
		return "This token does not grant access to the attempt."
	case ErrCandidateRequired:
		return "Sign in or provide your email to take this exam."
	case ErrAttemptNotAllowed:
		return "You cannot start an attempt on this exam."

	// ─── Validation ────────────────────────────────────────────────────
	case ErrValidation:
		return "Validation failed. Please check your input."
	case ErrInvalidID:
		return "Invalid ID format."
	case ErrInvalidPayload:
		return "Invalid request payload."
	case ErrOutOfRange:
		return "Value is outside the allowed range."

	// ─── Resources ─────────────────────────────────────────────────────
	case ErrNotFound:
		return "Resource not found."
	case ErrConflict:
		return "Resource already exists."

	// ─── Attempt lifecycle ─────────────────────────────────────────────
	case ErrInvalidState:
		return "The attempt is not in a state that allows this action."
	case ErrAttemptExpired:
		return "The time limit for this attempt has passed. It was submitted automatically."
	case ErrAttemptBusy:
		return "The attempt is being updated. Please retry."

	// ─── Rate Limiting ─────────────────────────────────────────────────
	case ErrRateLimitExceeded:
		return "Too many requests. Please try again later."

	// ─── Server ────────────────────────────────────────────────────────
	case ErrInternal:
		return "Internal server error."
	default:
		return "An unexpected error occurred."
	}
}
