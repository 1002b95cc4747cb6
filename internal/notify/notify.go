// Package notify delivers operator messages. Delivery is best effort:
// failures are logged and never returned to the caller.
package notify

import (
	"context"
	"strings"
	"time"

	"github.com/slack-go/slack"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// DefaultInterval minimum spacing between two Slack posts.
	DefaultInterval = time.Second
	burst           = 3
)

// Notifier operator channel.
type Notifier interface {
	Send(ctx context.Context, text string)
}

// poster is the part of *slack.Client the notifier needs.
type poster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// SlackNotifier posts plain text messages to one Slack channel.
type SlackNotifier struct {
	client  poster
	channel string
	limiter *rate.Limiter
	logger  *zap.Logger
}

// NewSlackNotifier creates a notifier for channel using a bot token.
func NewSlackNotifier(token, channel string, interval time.Duration, logger *zap.Logger) *SlackNotifier {
	return newSlackNotifier(slack.New(token), channel, interval, logger)
}

func newSlackNotifier(client poster, channel string, interval time.Duration, logger *zap.Logger) *SlackNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &SlackNotifier{
		client:  client,
		channel: channel,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger,
	}
}

// Send posts text to the channel.
func (n *SlackNotifier) Send(ctx context.Context, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	if err := n.limiter.Wait(ctx); err != nil {
		n.logger.Warn("notification dropped", zap.Error(err), zap.String("text", text))
		return
	}
	if _, _, err := n.client.PostMessageContext(ctx, n.channel, slack.MsgOptionText(text, false)); err != nil {
		n.logger.Error("failed to post notification",
			zap.String("channel", n.channel),
			zap.Error(err),
			zap.String("text", text))
		return
	}
	n.logger.Debug("notification sent", zap.String("channel", n.channel))
}

// LogNotifier writes messages to the log only.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a log-only notifier.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger}
}

// Send logs text.
func (n *LogNotifier) Send(_ context.Context, text string) {
	n.logger.Info("notification", zap.String("text", text))
}

// New returns a Slack notifier when a token and channel are configured and
// a log-only notifier otherwise.
func New(token, channel string, interval time.Duration, logger *zap.Logger) Notifier {
	if token == "" || channel == "" {
		if logger != nil {
			logger.Warn("slack is not configured, notifications go to the log only")
		}
		return NewLogNotifier(logger)
	}
	return NewSlackNotifier(token, channel, interval, logger)
}
