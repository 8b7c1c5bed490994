// Package authorizer couples token issuance and consumption to the guarded
// account actions and to the external notifier.
package authorizer

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/tokengate-io/tokengate/internal/notify"
	"github.com/tokengate-io/tokengate/internal/token"
)

var (
	// ErrActionMismatch is returned when a presented token's kind does not
	// match the requested action. The token is still consumed; the guarded
	// mutation is not applied.
	ErrActionMismatch = errors.New("token does not authorize this action")

	// ErrApplyFailed is returned when the guarded mutation fails after the
	// token was already consumed. The caller must restart the whole flow.
	ErrApplyFailed = errors.New("failed to apply guarded action")
)

// CompletionPayload carries the action-specific state for CompleteAction.
type CompletionPayload struct {
	NewPassword string
}

// Authorizer orchestrates the token lifecycle. All collaborators are
// injected at construction; it holds no global state.
type Authorizer struct {
	tokens   token.Store
	users    UserDirectory
	notifier notify.Notifier
	baseURL  string
	logger   *zap.Logger
}

// New creates a new Authorizer. baseURL is the public prefix for action
// links, e.g. "https://accounts.example.com".
func New(tokens token.Store, users UserDirectory, notifier notify.Notifier, baseURL string, logger *zap.Logger) *Authorizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Authorizer{
		tokens:   tokens,
		users:    users,
		notifier: notifier,
		baseURL:  baseURL,
		logger:   logger,
	}
}

// RequestAction mints a token for the subject behind the email address and
// delivers the action link. An unknown address reports success without
// issuing anything, so callers cannot probe which accounts exist.
func (a *Authorizer) RequestAction(ctx context.Context, email string, kind token.ActionKind) error {
	user, err := a.users.FindByEmail(ctx, email)
	if errors.Is(err, ErrUserNotFound) {
		a.logger.Info("action requested for unknown address",
			zap.String("kind", string(kind)),
		)
		return nil
	}
	if err != nil {
		return fmt.Errorf("subject lookup: %w", err)
	}

	tok, err := a.tokens.Issue(ctx, user.ID, kind)
	if err != nil {
		return err
	}

	a.logger.Info("action token issued",
		zap.String("token_id", tok.ID),
		zap.Int64("subject_id", tok.SubjectID),
		zap.String("kind", string(kind)),
		zap.Time("expires_at", tok.ExpiresAt),
	)

	return a.deliver(ctx, user.Email, tok)
}

// ResendAction re-delivers the live token for the pair, if one exists.
// It never issues a new token; unknown addresses and pairs with nothing
// outstanding report success for the same enumeration-safety reason.
func (a *Authorizer) ResendAction(ctx context.Context, email string, kind token.ActionKind) error {
	user, err := a.users.FindByEmail(ctx, email)
	if errors.Is(err, ErrUserNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("subject lookup: %w", err)
	}

	tok, err := a.tokens.GetLive(ctx, user.ID, kind)
	if errors.Is(err, token.ErrNotFound) {
		a.logger.Info("resend requested with no live token",
			zap.Int64("subject_id", user.ID),
			zap.String("kind", string(kind)),
		)
		return nil
	}
	if err != nil {
		return err
	}

	return a.deliver(ctx, user.Email, tok)
}

// CompleteAction consumes the presented token and applies the guarded
// mutation. Consumption happens first: a token that fails the kind check or
// whose mutation fails stays consumed, and the caller must restart the flow.
func (a *Authorizer) CompleteAction(ctx context.Context, value string, kind token.ActionKind, payload CompletionPayload) error {
	tok, err := a.tokens.ValidateAndConsume(ctx, value)
	if err != nil {
		a.logger.Info("token rejected",
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
		return err
	}

	if tok.Kind != kind {
		a.logger.Warn("token presented for wrong action kind",
			zap.String("token_id", tok.ID),
			zap.Int64("subject_id", tok.SubjectID),
			zap.String("token_kind", string(tok.Kind)),
			zap.String("requested_kind", string(kind)),
		)
		return ErrActionMismatch
	}

	if err := a.apply(ctx, tok, payload); err != nil {
		a.logger.Error("guarded action failed after consumption",
			zap.String("token_id", tok.ID),
			zap.Int64("subject_id", tok.SubjectID),
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
		return fmt.Errorf("%w: %v", ErrApplyFailed, err)
	}

	a.logger.Info("guarded action completed",
		zap.String("token_id", tok.ID),
		zap.Int64("subject_id", tok.SubjectID),
		zap.String("kind", string(kind)),
	)
	return nil
}

// InvalidateActions expires any live token for the pair without consuming
// it. Used when an account is locked or its address changes.
func (a *Authorizer) InvalidateActions(ctx context.Context, subjectID int64, kind token.ActionKind) error {
	return a.tokens.Invalidate(ctx, subjectID, kind)
}

// apply performs the kind-specific guarded mutation.
func (a *Authorizer) apply(ctx context.Context, tok *token.ActionToken, payload CompletionPayload) error {
	switch tok.Kind {
	case token.KindPasswordReset:
		hash, err := bcrypt.GenerateFromPassword([]byte(payload.NewPassword), bcrypt.DefaultCost)
		if err != nil {
			return err
		}
		return a.users.UpdateCredential(ctx, tok.SubjectID, string(hash))
	case token.KindEmailVerification:
		return a.users.SetEmailVerified(ctx, tok.SubjectID)
	default:
		return fmt.Errorf("unknown action kind %q", tok.Kind)
	}
}

// deliver renders and sends the action link. Delivery failures do not roll
// back issuance; the token stays valid for the resend path.
func (a *Authorizer) deliver(ctx context.Context, email string, tok *token.ActionToken) error {
	msg := notify.RenderActionMessage(tok.Kind, email, a.actionURL(tok.Value), tok.ExpiresAt)
	if err := a.notifier.Deliver(ctx, msg); err != nil {
		a.logger.Warn("action link delivery failed",
			zap.String("token_id", tok.ID),
			zap.Int64("subject_id", tok.SubjectID),
			zap.String("kind", string(tok.Kind)),
			zap.Error(err),
		)
		if errors.Is(err, notify.ErrDeliveryFailed) {
			return err
		}
		return fmt.Errorf("%w: %v", notify.ErrDeliveryFailed, err)
	}
	return nil
}

func (a *Authorizer) actionURL(value string) string {
	return fmt.Sprintf("%s/actions/complete?token=%s", a.baseURL, url.QueryEscape(value))
}
