package rawgadget

import "errors"

// Transient, typed outcomes a caller is expected to handle without
// treating them as fatal.
var (
	// ErrHalted indicates the endpoint answered STALL; the caller may
	// clear the halt and retry per its transfer-class policy.
	ErrHalted = errors.New("rawgadget: endpoint halted")
	// ErrTimeout indicates the call's soft deadline elapsed with no
	// event or data pending; the caller should poll its shutdown signal
	// and retry.
	ErrTimeout = errors.New("rawgadget: timeout")
	// ErrShutdown indicates the port was closed, either by explicit
	// Close or because the kernel reported ESHUTDOWN on the underlying
	// character device; blocking calls unwind with this error.
	ErrShutdown = errors.New("rawgadget: shutdown")
)

// Fatal setup/transport failures: the port cannot continue and the
// caller should tear down and exit.
var (
	ErrAlreadyInitialized = errors.New("rawgadget: port already initialized")
	ErrNotInitialized     = errors.New("rawgadget: port not initialized")
)
