package errs

import "errors"

// Error kinds surfaced to RPC callers. Services wrap these with
// fmt.Errorf("%s: %w", op, err); handlers map them to HTTP status codes.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrInvalidInput  = errors.New("invalid input")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrUnreachable   = errors.New("unreachable")
	ErrProtocol      = errors.New("protocol error")
	ErrProcessFailed = errors.New("process failed")
	ErrTimeout       = errors.New("timeout")
	ErrConflict      = errors.New("conflict")
	ErrInternal      = errors.New("internal error")
)
