package errorhandler

import (
	"fmt"

	"github.com/unilink/unilink-go/utils"
)

// NewDiscordSubscriber returns a Subscriber that forwards every report at or
// above minLevel to a Discord webhook via utils.SendDiscordNotification.
// Delivery is best-effort and asynchronous from the subscriber's point of
// view: SendDiscordNotification performs its own HTTP round trip and
// discards failures, so a slow or unreachable webhook never blocks the
// reactor thread that triggered the report.
func NewDiscordSubscriber(webhook string, minLevel Level) Subscriber {
	return func(info ErrorInfo) {
		if info.Level < minLevel {
			return
		}

		content := fmt.Sprintf("[%s] %s %s.%s: %s", info.Level, info.Category, info.Component, info.Operation, info.Message)
		go utils.SendDiscordNotification(webhook, content)
	}
}
