package notify

import (
	"context"

	"go.uber.org/zap"
)

// LogNotifier logs the action link instead of sending it. Used in
// development when no SMTP host is configured.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a new LogNotifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Deliver(ctx context.Context, msg Message) error {
	n.logger.Info("notification issued",
		zap.String("message_id", msg.ID),
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.String("action_url", msg.ActionURL),
	)
	return nil
}
