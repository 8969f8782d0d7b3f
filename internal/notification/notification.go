package notification

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/idregistry/idregistry/internal/registry"
)

const (
	// KindIdentityVerified tells an account its identity was accepted.
	KindIdentityVerified = "identity_verified"
	// KindIdentityRevoked tells an account its verification was withdrawn.
	KindIdentityRevoked = "identity_revoked"
)

// Message describes a notification payload.
type Message struct {
	Kind        string
	Destination string
	Body        string
}

// Notifier delivers notifications to downstream systems.
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
	n.logger.Info("notification", "kind", message.Kind, "destination", message.Destination, "body", message.Body)
	return nil
}

// ForEvent renders the message an account receives for a registry event.
func ForEvent(ev registry.Event) Message {
	switch ev.Kind {
	case registry.KindVerified:
		return Message{
			Kind:        KindIdentityVerified,
			Destination: ev.Subject.String(),
			Body:        fmt.Sprintf("identity verified at %s", ev.Timestamp.Format("2006-01-02 15:04:05 MST")),
		}
	default:
		return Message{
			Kind:        KindIdentityRevoked,
			Destination: ev.Subject.String(),
			Body:        "identity verification revoked by the registry owner",
		}
	}
}

// Sink adapts a Notifier to the relay.
type Sink struct {
	notifier Notifier
}

// NewSink wraps n.
func NewSink(n Notifier) *Sink {
	return &Sink{notifier: n}
}

func (s *Sink) Name() string { return "notification" }

func (s *Sink) Handle(ctx context.Context, events []registry.Event) error {
	for _, ev := range events {
		if err := s.notifier.Send(ctx, ForEvent(ev)); err != nil {
			return fmt.Errorf("notify %s: %w", ev.Subject, err)
		}
	}
	return nil
}
