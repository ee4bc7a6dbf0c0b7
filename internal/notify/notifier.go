// Package notify fans operator alerts out to chat channels (Telegram,
// Discord). Events carry the same names as the engine's bus signals
// (liquidation_triggered, liquidation_settled, liquidation_failed,
// interest_accrued) plus "error", so the allow-list in the config maps
// one-to-one onto what the protocol publishes.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Sender is one delivery channel.
type Sender interface {
	// Send delivers one alert with a short title and a message body.
	Send(ctx context.Context, title, message string) error
	// Name identifies the channel in logs ("telegram", "discord").
	Name() string
}

// Notifier filters alerts by event name and delivers the ones that
// pass to every configured channel.
type Notifier struct {
	senders []Sender
	allowed map[string]bool
	log     *slog.Logger
}

// NewNotifier builds a notifier. An empty events list allows every
// event; otherwise only the named events are delivered by Notify.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	allowed := make(map[string]bool, len(events))
	for _, e := range events {
		if e = strings.TrimSpace(e); e != "" {
			allowed[e] = true
		}
	}
	return &Notifier{
		senders: senders,
		allowed: allowed,
		log:     logger.With("component", "notifier"),
	}
}

// Notify delivers an alert for one event, subject to the allow-list.
func (n *Notifier) Notify(ctx context.Context, event, title, message string) error {
	if len(n.allowed) > 0 && !n.allowed[event] {
		n.log.Debug("event filtered", "event", event)
		return nil
	}
	return n.dispatch(ctx, title, message)
}

// NotifyAll delivers an alert on every channel regardless of the
// allow-list. Used for startup and shutdown notices.
func (n *Notifier) NotifyAll(ctx context.Context, title, message string) error {
	return n.dispatch(ctx, title, message)
}

// dispatch tries every channel; one failing channel does not stop the
// others, and all failures come back joined.
func (n *Notifier) dispatch(ctx context.Context, title, message string) error {
	var errs []error
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.log.Error("send alert", "sender", s.Name(), "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("notify: %w", errors.Join(errs...))
	}
	return nil
}
