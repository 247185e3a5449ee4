package risk

import (
	"errors"
	"fmt"
)

// ErrUnreachable covers transport failures and elapsed timeouts when talking
// to the scoring service.
var ErrUnreachable = errors.New("risk service unreachable")

type ServiceError struct {
	Status int
	Err    error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("risk service error (status %d): %v", e.Status, e.Err)
	}
	return fmt.Sprintf("risk service error (status %d)", e.Status)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// StatusOf returns the HTTP status carried by a ServiceError anywhere in the
// chain, or 0.
func StatusOf(err error) int {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Status
	}
	return 0
}
