package occlient

import (
	"errors"
	"fmt"
)

// ErrAccountNotFound is returned by account stores that have no saved state
// for the requested account.
var ErrAccountNotFound = errors.New("account not found")

// ErrNoRefreshSource is returned by OAuth-backed stores when an account has
// no token source to refresh from.
var ErrNoRefreshSource = errors.New("no token source registered for account")

// OperationError represents a failure inside the session layer with enough
// context to log it usefully.
type OperationError struct {
	Op       string // Operation that failed
	Account  string // Account name involved, may be empty
	Err      error  // Underlying error
	Attempts int    // Number of attempts spent
}

func (e *OperationError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("%s %s: %v (after %d attempts)", e.Op, e.Account, e.Err, e.Attempts)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Account, e.Err)
}

func (e *OperationError) Unwrap() error {
	return e.Err
}

// causeOf finds the first cause of type T in the error chain.
func causeOf[T any](err error) (T, bool) {
	var t T
	ok := errors.As(err, &t)
	return t, ok
}

// isCause reports whether target appears anywhere in the error chain.
func isCause(err, target error) bool {
	return errors.Is(err, target)
}
