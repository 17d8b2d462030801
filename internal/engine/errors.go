package engine

import (
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
)

// ErrNotListening reports that the engine is not accepting connections yet.
// Callers treat this as "still starting", not as a liveness failure.
var ErrNotListening = errors.New("engine not listening")

// StatusError reports a non-2xx response from the engine.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("engine returned status %d: %s", e.Code, e.Body)
}

// classify maps transport errors onto the client's error kinds so callers
// never have to match on error text. A refused connection (nothing bound to
// the port yet) becomes ErrNotListening; everything else passes through.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		var sysErr *os.SyscallError
		if errors.As(opErr.Err, &sysErr) && errors.Is(sysErr.Err, syscall.ECONNREFUSED) {
			return fmt.Errorf("%w: %v", ErrNotListening, err)
		}
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return fmt.Errorf("%w: %v", ErrNotListening, err)
	}

	return err
}
