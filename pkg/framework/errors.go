package framework

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingHandler is returned at registration when a declared command has no handler.
	ErrMissingHandler = errors.New("missing command handler")
	// ErrTooManyArguments is returned when a call supplies more positional values than declared names.
	ErrTooManyArguments = errors.New("too many positional arguments")
	// ErrInvalidTransition is returned when a lifecycle hook is driven out of order.
	ErrInvalidTransition = errors.New("invalid lifecycle transition")
	// ErrNoSuchMember is returned when a namespace or namespace member does not exist.
	ErrNoSuchMember = errors.New("no such member")
	// ErrMissingRetval is returned when a peer result bag has no retval entry.
	ErrMissingRetval = errors.New("result has no retval")
	// ErrMissingArgument is returned by Args accessors for absent arguments.
	ErrMissingArgument = errors.New("missing argument to command call")
	// ErrInvalidArgument is returned by Args accessors for arguments of the wrong type.
	ErrInvalidArgument = errors.New("invalid argument to command call")
	// ErrUnencodable is returned when a command result cannot be represented as a JSON value.
	ErrUnencodable = errors.New("result is not encodable")
	// ErrErrorActive is returned when raising an error type that is already active.
	ErrErrorActive = errors.New("error is already active")
	// ErrErrorNotActive is returned when clearing an error type that is not active.
	ErrErrorNotActive = errors.New("error is not active")
)

type (
	// MissingHandlerError names the declared command that has no handler.
	MissingHandlerError struct {
		ImplementationID string
		CommandName      string
	}

	// TransitionError reports a lifecycle call made in the wrong state.
	TransitionError struct {
		Op    string
		State State
	}

	// HookError wraps a failure returned by one of the module's lifecycle hooks.
	HookError struct {
		Hook string
		Err  error
	}
)

func (e *MissingHandlerError) Error() string {
	return fmt.Sprintf("no handler %q for command %s.%s", HandlerName(e.ImplementationID, e.CommandName), e.ImplementationID, e.CommandName)
}

func (e *MissingHandlerError) Unwrap() error {
	return ErrMissingHandler
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s in state %s", e.Op, e.State)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

func (e *HookError) Error() string {
	return fmt.Sprintf("module %s hook failed: %v", e.Hook, e.Err)
}

func (e *HookError) Unwrap() error {
	return e.Err
}
