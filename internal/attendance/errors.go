package attendance

import "errors"

// Business-rule rejections. Callers surface these as structured results, never as system errors.
var (
	ErrNotEnoughSlots        = errors.New("attendance: not enough slots available")
	ErrTooManyDays           = errors.New("attendance: weekly day allowance reached")
	ErrStripcardLimitReached = errors.New("attendance: strip card limit reached")
	ErrAlreadySeen           = errors.New("attendance: presence already confirmed")
)

var (
	// ErrForbidden is returned when the principal may not perform the operation.
	ErrForbidden = errors.New("attendance: forbidden")
	// ErrNotFound is returned by stores when a record does not exist.
	ErrNotFound = errors.New("attendance: not found")
	// ErrInvalidInput wraps transport values that cannot be interpreted.
	ErrInvalidInput = errors.New("attendance: invalid input")
	// errDuplicate is returned by stores on a (user, date, pod) uniqueness conflict.
	errDuplicate = errors.New("attendance: duplicate presence")
)

// IsRejection reports whether err is an expected business-rule rejection.
func IsRejection(err error) bool {
	return errors.Is(err, ErrNotEnoughSlots) ||
		errors.Is(err, ErrTooManyDays) ||
		errors.Is(err, ErrStripcardLimitReached) ||
		errors.Is(err, ErrAlreadySeen)
}

// ErrorKind maps sentinel errors to a stable label for logs, metrics and API responses.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotEnoughSlots):
		return "not_enough_slots"
	case errors.Is(err, ErrTooManyDays):
		return "too_many_days"
	case errors.Is(err, ErrStripcardLimitReached):
		return "stripcard_limit_reached"
	case errors.Is(err, ErrAlreadySeen):
		return "already_seen"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	}
	return "unexpected"
}
