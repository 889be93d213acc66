package notification

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/claims-gateway/claims_gateway/internal/identity"
)

// Message describes a one-time code delivery.
type Message struct {
	Channel     identity.Channel
	Destination string
	Subject     string
	Body        string
}

// Notifier delivers messages to an out-of-band channel.
type Notifier interface {
	Send(ctx context.Context, message Message) error
}

// LoggerNotifier is a stub implementation that writes notifications to the logger.
type LoggerNotifier struct {
	logger *slog.Logger
}

// NewLoggerNotifier constructs a logging notifier stub.
func NewLoggerNotifier(logger *slog.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Send writes the message to the structured logger.
func (n *LoggerNotifier) Send(_ context.Context, message Message) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.Info("notification",
		slog.String("channel", string(message.Channel)),
		slog.String("destination", message.Destination),
		slog.String("body", message.Body),
	)
	return nil
}

// Router dispatches a message to the notifier registered for its channel.
type Router struct {
	routes   map[identity.Channel]Notifier
	fallback Notifier
}

// NewRouter builds a router. Channels without a registered notifier use fallback;
// a nil fallback makes such sends fail.
func NewRouter(fallback Notifier) *Router {
	return &Router{routes: make(map[identity.Channel]Notifier), fallback: fallback}
}

// Handle registers n for the channel.
func (r *Router) Handle(ch identity.Channel, n Notifier) *Router {
	r.routes[ch] = n
	return r
}

// Send implements Notifier.
func (r *Router) Send(ctx context.Context, message Message) error {
	n, ok := r.routes[message.Channel]
	if !ok {
		n = r.fallback
	}
	if n == nil {
		return fmt.Errorf("no notifier for channel %q", message.Channel)
	}
	return n.Send(ctx, message)
}
