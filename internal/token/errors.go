package token

import "errors"

var (
	// ErrNotFound is returned when no token exists for the presented value.
	ErrNotFound = errors.New("token not found")

	// ErrExpired is returned when the token's expiry has passed.
	ErrExpired = errors.New("token has expired")

	// ErrAlreadyConsumed is returned when the token was already used.
	// Under concurrent presentation of the same value, exactly one caller
	// succeeds and every other caller receives this error.
	ErrAlreadyConsumed = errors.New("token already consumed")

	// ErrStoreUnavailable is returned when the durable backing cannot be
	// read or written within the configured timeout.
	ErrStoreUnavailable = errors.New("token store unavailable")
)
