package process

import (
	"errors"
	"fmt"

	"github.com/andrej220/rolectl/pkg/roles"
)

var (
	// ErrConfiguration is shared with the roles package so a driver can
	// test both tables with a single errors.Is.
	ErrConfiguration    = roles.ErrConfiguration
	ErrUnknownOperation = errors.New("unknown operation")
)

type ConfigurationError struct {
	Role string
	Name string
	Err  error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("process %q under role %q: %v", e.Name, e.Role, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }

// UnknownOperationError means no command can be resolved for an operation.
type UnknownOperationError struct {
	Process   string
	Operation Operation
}

func (e *UnknownOperationError) Error() string {
	if e.Process == "" {
		return fmt.Sprintf("unknown operation %q", string(e.Operation))
	}
	return fmt.Sprintf("process %q has no %q command", e.Process, string(e.Operation))
}

func (e *UnknownOperationError) Is(target error) bool { return target == ErrUnknownOperation }
