package roles

import (
	"errors"
	"fmt"
)

// ErrConfiguration marks a malformed host capability table.
var ErrConfiguration = errors.New("configuration error")

type ConfigurationError struct {
	Op  string
	Msg string
	Err error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("roles %s: %s: %v", e.Op, e.Msg, e.Err)
	}
	return fmt.Sprintf("roles %s: %s", e.Op, e.Msg)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

func configErr(op, msg string, err error) error {
	return &ConfigurationError{Op: op, Msg: msg, Err: err}
}
