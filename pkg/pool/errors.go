package pool

import (
	"errors"
	"fmt"
)

var ErrUnsupportedCreationMode = errors.New("unsupported creation mode")

// MalformedInstanceError is returned when a pod carrying the pool labels
// cannot be read back as an instance.
type MalformedInstanceError struct {
	Name   string
	Reason string
	Err    error
}

func (e *MalformedInstanceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed instance %s: %s: %s", e.Name, e.Reason, e.Err)
	}
	return fmt.Sprintf("malformed instance %s: %s", e.Name, e.Reason)
}

func (e *MalformedInstanceError) Unwrap() error {
	return e.Err
}
