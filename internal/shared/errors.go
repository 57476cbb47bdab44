package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates a malformed request payload. Never retried.
	ErrValidation = errors.New("validation failed")
	// ErrUnauthorized indicates the store context is missing or unreadable.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden indicates the caller's store does not own the resource.
	ErrForbidden = errors.New("forbidden")
	// ErrBusinessRule indicates a domain rule rejected the operation.
	ErrBusinessRule = errors.New("business rule violated")
	// ErrDuplicate indicates a conflicting or replayed write.
	ErrDuplicate = errors.New("duplicate entry")
)

// UserSafeMessage returns an error message safe to show to end users.
func UserSafeMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrBusinessRule),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrDuplicate):
		return err.Error()
	case errors.Is(err, ErrForbidden):
		return "access to this store is not allowed"
	case errors.Is(err, ErrUnauthorized):
		return "store context required"
	default:
		return "internal error"
	}
}
