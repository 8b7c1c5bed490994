package token

import (
	"context"
	"time"
)

// Store defines the interface for action token storage operations.
// All mutating operations are atomic at the granularity of a single
// token record with respect to concurrent callers.
type Store interface {
	// Issue generates a new token for the (subjectID, kind) pair,
	// invalidating any prior live token for the same pair. The
	// invalidate-old and insert-new steps appear atomic to concurrent
	// issuers of the same pair.
	Issue(ctx context.Context, subjectID int64, kind ActionKind) (*ActionToken, error)

	// ValidateAndConsume looks up the token by value and, if it is live,
	// marks it consumed and returns it. Exactly one concurrent caller
	// presenting the same value succeeds; the rest receive
	// ErrAlreadyConsumed. Dead tokens yield ErrNotFound, ErrExpired or
	// ErrAlreadyConsumed.
	ValidateAndConsume(ctx context.Context, value string) (*ActionToken, error)

	// Invalidate marks any live token for the pair as expired without
	// consuming it. Invalidating a pair with no live token is a no-op.
	Invalidate(ctx context.Context, subjectID int64, kind ActionKind) error

	// GetLive returns the live token for the pair, or ErrNotFound if
	// none exists. Used by the resend path, which never reissues.
	GetLive(ctx context.Context, subjectID int64, kind ActionKind) (*ActionToken, error)

	// DeleteExpired removes dead tokens. Consumed tokens are retained
	// for retainConsumed past their consumption so that replays still
	// classify as AlreadyConsumed rather than NotFound.
	DeleteExpired(ctx context.Context, retainConsumed time.Duration) (int64, error)

	// Close releases the store's resources.
	Close() error
}
