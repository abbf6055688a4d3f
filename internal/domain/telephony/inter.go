package telephony

import (
	"context"
	"errors"
)

// ErrCallHungUp is returned by media and signaling operations once the
// remote side has ended the call. Callers treat it as a normal shutdown,
// not a failure.
var ErrCallHungUp = errors.New("telephony: call hung up")

// IsHangUp reports whether err means the call is over.
func IsHangUp(err error) bool {
	return errors.Is(err, ErrCallHungUp)
}

// Signaling is the boundary to the carrier side of a call. Protocol
// internals live behind it; the server only drives call state.
type Signaling interface {
	// Answer accepts the inbound call and unblocks media flow.
	Answer(ctx context.Context) error
	// HangUp ends the call. Idempotent.
	HangUp(ctx context.Context, reason string) error
	// Transfer moves the caller to another destination and ends this
	// leg of the call.
	Transfer(ctx context.Context, destination string) error
	// SendSMS asks the carrier to deliver a text message.
	SendSMS(ctx context.Context, to, body string) error
}
