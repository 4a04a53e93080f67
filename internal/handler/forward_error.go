package handler

import (
	"context"
	"errors"
	"net"
)

type forwardErrorKind int

const (
	forwardUnreachable forwardErrorKind = iota
	forwardTimeout
	forwardClientCanceled
)

func (k forwardErrorKind) String() string {
	switch k {
	case forwardTimeout:
		return "timeout"
	case forwardClientCanceled:
		return "client_canceled"
	default:
		return "unreachable"
	}
}

// classifyForwardError maps a transport error to the failure it represents.
// Cancellation is attributed to the client because the forward timeout
// surfaces as a deadline, never as a plain cancel.
func classifyForwardError(ctx context.Context, err error) forwardErrorKind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return forwardTimeout
	}

	if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
		return forwardClientCanceled
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return forwardTimeout
	}

	return forwardUnreachable
}
