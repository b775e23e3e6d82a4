// Package notify posts milestone notifications to Slack.
package notify

import (
	"fmt"
	"time"

	"github.com/phaseline/phaseline/internal/models"
	"github.com/slack-go/slack"
	"go.uber.org/zap"
)

// Notifier posts milestone lifecycle messages to a Slack incoming webhook.
// Best-effort: delivery failures are logged, never returned, and never block
// a committed mutation.
type Notifier struct {
	webhookURL string
	logger     *zap.Logger

	// post is swapped out in tests.
	post func(url string, msg *slack.WebhookMessage) error
}

// New builds a Notifier. An empty webhook URL yields a disabled notifier.
func New(webhookURL string, logger *zap.Logger) *Notifier {
	return &Notifier{
		webhookURL: webhookURL,
		logger:     logger,
		post:       slack.PostWebhook,
	}
}

// MilestoneCompleted announces a completed milestone and, when the cascade
// activated a successor, names it.
func (n *Notifier) MilestoneCompleted(tl models.Timeline, m models.Milestone, next *models.Milestone) {
	if n.webhookURL == "" {
		return
	}

	text := fmt.Sprintf("Milestone *%s* of timeline *%s* completed on %s.",
		m.Name, tl.Name, completedOn(m))
	if next != nil {
		text += fmt.Sprintf(" Up next: *%s* (due %s).", next.Name, next.EndDate.Format(time.DateOnly))
	}

	if err := n.post(n.webhookURL, &slack.WebhookMessage{Text: text}); err != nil {
		n.logger.Warn("slack notification failed",
			zap.Uint("milestone_id", m.ID),
			zap.Error(err))
	}
}

func completedOn(m models.Milestone) string {
	if m.CompletionDate != nil {
		return m.CompletionDate.Format(time.DateOnly)
	}
	return m.EndDate.Format(time.DateOnly)
}
