package rabbitmq

import "errors"

// permanentError marks a handler failure that retrying cannot fix, such
// as an invalid spec or a crop outside the source bounds. The consumer
// dead-letters these immediately instead of burning the retry budget.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps an error so the consumer treats it as non-retryable.
// A nil error stays nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether the error chain contains a permanent mark.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}
