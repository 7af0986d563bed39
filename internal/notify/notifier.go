// Package notify pushes settlement outcomes to operators. Notifications are
// dispatched to every registered sender and filtered by event type.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Event types.
const (
	EventApplied           = "settlement.applied"
	EventRejected          = "settlement.rejected"
	EventFatal             = "settlement.fatal"
	EventMarketInitialized = "market.initialized"
)

// Notification is one message for operators. Payload is the structured form
// that machine receivers (webhooks) get; chat senders render Title and Text.
type Notification struct {
	Event   string `json:"event"`
	Title   string `json:"title"`
	Text    string `json:"text"`
	Payload any    `json:"payload,omitempty"`
}

// Sender is one notification channel.
type Sender interface {
	Send(ctx context.Context, n Notification) error
	Name() string
}

// Notifier fans a notification out to its senders.
type Notifier struct {
	senders []Sender
	events  map[string]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. An empty events list allows every event.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Enabled reports whether any sender is registered. A nil Notifier is
// disabled.
func (n *Notifier) Enabled() bool {
	return n != nil && len(n.senders) > 0
}

// Allows reports whether event passes the filter.
func (n *Notifier) Allows(event string) bool {
	return len(n.events) == 0 || n.events[event]
}

// Notify delivers to every sender if the event passes the filter. One failed
// sender does not stop the others; failures are joined.
func (n *Notifier) Notify(ctx context.Context, note Notification) error {
	if !n.Enabled() {
		return nil
	}
	if !n.Allows(note.Event) {
		n.logger.DebugContext(ctx, "notify: event filtered out", slog.String("event", note.Event))
		return nil
	}

	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, note); err != nil {
			n.logger.ErrorContext(ctx, "notify: sender failed",
				slog.String("sender", s.Name()),
				slog.String("event", note.Event),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		n.logger.DebugContext(ctx, "notify: sent",
			slog.String("sender", s.Name()),
			slog.String("event", note.Event),
		)
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %d sender(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}
