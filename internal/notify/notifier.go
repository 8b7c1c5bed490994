// Package notify delivers action links to users out-of-band. The core
// supplies only the token-bearing URL and templating variables; transport
// is the notifier's concern.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tokengate-io/tokengate/internal/token"
)

// ErrDeliveryFailed is returned when the notifier could not hand the
// message off to its transport.
var ErrDeliveryFailed = fmt.Errorf("notification delivery failed")

// Message is a rendered notification ready for delivery.
type Message struct {
	ID        string
	To        string
	Subject   string
	HTMLBody  string
	TextBody  string
	ActionURL string
}

// Notifier delivers a rendered message to its destination address.
type Notifier interface {
	Deliver(ctx context.Context, msg Message) error
}

// RenderActionMessage builds the delivery payload for a token of the given
// kind. actionURL embeds the raw token value; nothing else in the message
// carries it.
func RenderActionMessage(kind token.ActionKind, to, actionURL string, expiresAt time.Time) Message {
	msg := Message{
		ID:        uuid.New().String(),
		To:        to,
		ActionURL: actionURL,
	}

	expiry := expiresAt.UTC().Format("Jan 2, 2006 15:04 MST")

	switch kind {
	case token.KindPasswordReset:
		msg.Subject = "Reset your password"
		msg.TextBody = fmt.Sprintf(
			"A password reset was requested for this address.\n\n"+
				"Open the link below to choose a new password. The link can be used once and expires at %s.\n\n%s\n\n"+
				"If you did not request this, you can ignore this message.\n",
			expiry, actionURL)
		msg.HTMLBody = renderHTML("Reset your password",
			"A password reset was requested for this address. The link can be used once and expires at "+expiry+".",
			actionURL, "Choose a new password")
	case token.KindEmailVerification:
		msg.Subject = "Verify your email address"
		msg.TextBody = fmt.Sprintf(
			"Confirm this email address by opening the link below. The link can be used once and expires at %s.\n\n%s\n",
			expiry, actionURL)
		msg.HTMLBody = renderHTML("Verify your email address",
			"Confirm this email address by clicking the button below. The link can be used once and expires at "+expiry+".",
			actionURL, "Verify email")
	default:
		msg.Subject = "Confirm your request"
		msg.TextBody = fmt.Sprintf("Open the link below to confirm your request. It expires at %s.\n\n%s\n", expiry, actionURL)
		msg.HTMLBody = renderHTML("Confirm your request",
			"Open the link below to confirm your request. It expires at "+expiry+".",
			actionURL, "Confirm")
	}

	return msg
}

// renderHTML produces a minimal inline-styled HTML body for maximum client
// compatibility.
func renderHTML(title, intro, actionURL, buttonLabel string) string {
	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>%s</title></head>
<body style="margin:0;padding:0;font-family:Helvetica,Arial,sans-serif;background-color:#f7f9fc;">
	<table border="0" cellpadding="0" cellspacing="0" width="100%%">
		<tr><td align="center" style="padding:40px 0;">
			<table border="0" cellpadding="0" cellspacing="0" width="600" style="background-color:#ffffff;border-radius:8px;">
				<tr><td style="padding:30px;color:#333333;font-size:16px;line-height:1.6;">
					<h1 style="margin-top:0;font-size:22px;">%s</h1>
					<p>%s</p>
					<p style="text-align:center;padding:20px 0;">
						<a href="%s" style="background-color:#5271ff;color:#ffffff;padding:12px 32px;border-radius:6px;text-decoration:none;font-weight:bold;">%s</a>
					</p>
					<p style="font-size:13px;color:#888888;">If the button does not work, copy this link into your browser:<br>%s</p>
				</td></tr>
			</table>
		</td></tr>
	</table>
</body>
</html>`, title, title, intro, actionURL, buttonLabel, actionURL)
}
