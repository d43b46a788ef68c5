package protocol

import (
	"errors"
	"fmt"
)

// ErrMalformed is returned when a frame is not a JSON object
var ErrMalformed = errors.New("malformed envelope")

// UnknownTypeError is returned for an envelope whose type is not recognized
type UnknownTypeError struct {
	Type MessageType
}

func (e *UnknownTypeError) Error() string {
	return "unrecognized command: " + string(e.Type)
}

// InvalidFieldError is returned when a recognized envelope has a missing
// required field or a field of the wrong JSON type.
type InvalidFieldError struct {
	Type   MessageType
	Field  string
	Reason string
}

func (e *InvalidFieldError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid %s message: %s", e.Type, e.Reason)
	}
	return fmt.Sprintf("invalid %s message: field %q %s", e.Type, e.Field, e.Reason)
}

// IsUnknownType reports whether err is an *UnknownTypeError
func IsUnknownType(err error) bool {
	var ute *UnknownTypeError
	return errors.As(err, &ute)
}

// IsInvalidField reports whether err is an *InvalidFieldError
func IsInvalidField(err error) bool {
	var ife *InvalidFieldError
	return errors.As(err, &ife)
}
