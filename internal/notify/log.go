package notify

import (
	"context"

	"github.com/ignite/leadflow/internal/automation"
	"github.com/ignite/leadflow/internal/pkg/logger"
)

// LogNotifier writes notifications to the log. Used when Redis is not
// configured.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, n automation.Notification) error {
	logger.Info("notification",
		"component", "notify", "user_id", n.UserID.String(), "type", n.Type, "title", n.Title)
	return nil
}
