package billing

import (
	"context"
	"log/slog"
	"time"

	"github.com/isadetaseek/andrea/internal/apperror"
	"github.com/isadetaseek/andrea/internal/plugins/identity"
)

// Notifier is the slice of the notification gateway the service needs.
type Notifier interface {
	Publish(visitorID, event string, payload any)
}

// notification events published during the simulated checkout.
const eventNotification = "notification"

// notification is the payload for user-facing notices.
type notification struct {
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

// Service runs the simulated checkout. A real integration would hand off to
// the payment provider where waitPayment sleeps.
type Service struct {
	identities   *identity.Registry
	notifier     Notifier
	paymentDelay time.Duration
}

// NewService creates a billing service.
func NewService(identities *identity.Registry, notifier Notifier, paymentDelay time.Duration) *Service {
	return &Service{
		identities:   identities,
		notifier:     notifier,
		paymentDelay: paymentDelay,
	}
}

// Upgrade runs the simulated payment for the visitor and, on completion,
// drives the identity machine to Premium. Only a Registered identity can
// upgrade; the machine enforces the precondition.
func (s *Service) Upgrade(ctx context.Context, visitorID, planID string) (identity.Identity, error) {
	if !ValidPlan(planID) {
		return identity.Identity{}, apperror.NewValidation("unknown plan")
	}

	machine := s.identities.Machine(visitorID)
	if machine.Current().State != identity.StateRegistered {
		return identity.Identity{}, apperror.NewConflict("only a registered account can upgrade to premium")
	}

	s.notify(visitorID, "Redirigiendo a PayPal para completar el pago...", "info")

	if err := s.waitPayment(ctx); err != nil {
		return identity.Identity{}, err
	}

	if err := machine.UpgradeCompleted(ctx, planID); err != nil {
		return identity.Identity{}, err
	}

	s.notify(visitorID, "¡Ahora eres usuario Premium!", "success")

	slog.Info("premium upgrade completed",
		slog.String("visitor_id", visitorID),
		slog.String("plan", planID),
	)

	return machine.Current(), nil
}

// waitPayment simulates the checkout round trip, respecting cancellation.
func (s *Service) waitPayment(ctx context.Context) error {
	timer := time.NewTimer(s.paymentDelay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// notify publishes a user-facing notice if a gateway is wired.
func (s *Service) notify(visitorID, message, severity string) {
	if s.notifier != nil {
		s.notifier.Publish(visitorID, eventNotification, notification{
			Message:  message,
			Severity: severity,
		})
	}
}
