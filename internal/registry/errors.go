package registry

import "errors"

var (
	// ErrNotFound reports a type, method or entry point that does not exist
	// or has an unsupported signature.
	ErrNotFound = errors.New("not found")

	// ErrModuleLoad reports a module that could not be loaded.
	ErrModuleLoad = errors.New("module load failed")

	// ErrContractViolation reports a caller request that breaks the calling
	// contract, such as an unknown application id or a malformed body.
	ErrContractViolation = errors.New("contract violation")

	// ErrCancelled is returned when the application cancelled the request.
	ErrCancelled = errors.New("the application has cancelled processing of the request")
)
