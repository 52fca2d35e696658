package gatt

import (
	"errors"
	"fmt"
)

// Registration errors, raised while the database is being built.
var (
	ErrDuplicateToken       = errors.New("token already registered")
	ErrNoService            = errors.New("no service declared yet")
	ErrNoCharacteristic     = errors.New("no characteristic declared yet")
	ErrRegistrationFinished = errors.New("registration already built")
	ErrHandlesExhausted     = errors.New("attribute handle space exhausted")
	ErrValueTooLong         = errors.New("attribute value longer than 512 octets")
	ErrInvalidUUID          = errors.New("UUID must be 16 or 128 bits")
)

// Connection errors, returned to the application.
var (
	ErrUnknownToken         = errors.New("unknown token")
	ErrPropertyNotSupported = errors.New("characteristic does not support this operation")
	ErrNotSubscribed        = errors.New("peer is not subscribed")
	ErrIndicationQueueFull  = errors.New("indication queue full")
	ErrConnectionClosed     = errors.New("connection closed")
	ErrTransactionTimeout   = errors.New("ATT transaction timed out")
	ErrAlreadyRunning       = errors.New("connection already running")
)

// TokenError reports a failure tied to an application token.
type TokenError[T comparable] struct {
	Token T
	Err   error
}

func (e *TokenError[T]) Error() string {
	return fmt.Sprintf("%v: %v", e.Err, e.Token)
}

func (e *TokenError[T]) Unwrap() error {
	return e.Err
}
