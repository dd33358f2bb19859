package shared

import "fmt"

var (
	ErrNotImplemented = fmt.Errorf("not implemented")

	// Configuration errors
	ErrMissingConfig = fmt.Errorf("configuration not found")
	ErrInvalidConfig = fmt.Errorf("invalid configuration")

	// Project selection errors
	ErrProjectResolve = fmt.Errorf("project could not be resolved")
	ErrNotFound       = fmt.Errorf("not found")
	ErrInvalidState   = fmt.Errorf("invalid state")

	// Execution errors
	ErrBusy         = fmt.Errorf("an action is already in flight")
	ErrExecution    = fmt.Errorf("action execution failed")
	ErrTypeMismatch = fmt.Errorf("option value kind could not be classified")

	// Authentication errors
	ErrInvalidToken = fmt.Errorf("invalid token")

	// Input validation errors
	ErrInvalidInput    = fmt.Errorf("invalid input")
	ErrMissingArgument = fmt.Errorf("missing required argument")
	ErrInvalidFlag     = fmt.Errorf("invalid flag value")
)
