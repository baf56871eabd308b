package intervention

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	goslack "github.com/slack-go/slack"

	"github.com/k-shibuki/lyra/pkg/models"
)

// SlackNotifier pages a Slack channel when a job parks awaiting a human to
// clear an auth wall. Nil-safe: a zero-value SlackNotifier whose client is
// nil is never constructed by NewSlackNotifier — callers that don't
// configure Slack simply pass a nil Notifier to New instead.
type SlackNotifier struct {
	api       *goslack.Client
	channelID string
	logger    *slog.Logger
}

// NewSlackNotifier constructs a SlackNotifier, or returns nil if token or
// channelID is empty so the caller can wire a no-op Notifier.
func NewSlackNotifier(token, channelID string) *SlackNotifier {
	if token == "" || channelID == "" {
		return nil
	}
	return &SlackNotifier{
		api:       goslack.New(token),
		channelID: channelID,
		logger:    slog.Default().With("component", "intervention-slack"),
	}
}

// NotifyPending posts a message naming the URL and auth type blocking a
// job, so an operator knows to open a headful session. Fail-open: errors
// are logged, never returned, since a missed page must not fail the job.
func (n *SlackNotifier) NotifyPending(ctx context.Context, iv models.Intervention) {
	if n == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	text := fmt.Sprintf(":lock: auth required for `%s` (%s) — queue_id `%s`", iv.Domain, iv.AuthType, iv.ID)
	block := goslack.NewSectionBlock(goslack.NewTextBlockObject(goslack.MarkdownType, text, false, false), nil, nil)

	if _, _, err := n.api.PostMessageContext(ctx, n.channelID, goslack.MsgOptionBlocks(block)); err != nil {
		n.logger.Error("failed to send intervention notification", "queue_id", iv.ID, "domain", iv.Domain, "error", err)
	}
}
