// Package notify delivers operator alerts over the message transport.
package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/IanOtollo/whatsapp-ai-bot/internal/transport"
	"github.com/IanOtollo/whatsapp-ai-bot/pkg/logging"
)

// Service sends notifications to bot owners.
type Service struct {
	messenger transport.Messenger
	logger    *logging.Logger
}

// NewService creates a notification service.
func NewService(messenger transport.Messenger, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{
		messenger: messenger,
		logger:    logger,
	}
}

// NotifyOwner sends one alert to one owner address.
func (s *Service) NotifyOwner(ctx context.Context, recipient, text string) error {
	if s.messenger == nil {
		s.logger.Debug("notify: messenger not configured, skipping notification", "recipient", recipient)
		return nil
	}
	if strings.TrimSpace(recipient) == "" {
		return fmt.Errorf("notify: empty recipient")
	}

	if err := s.messenger.SendMessage(ctx, recipient, text); err != nil {
		return fmt.Errorf("notify: send to owner %s: %w", recipient, err)
	}
	s.logger.Info("owner notified", "recipient", recipient)
	return nil
}

// NotifyAll fans one alert out to every owner. Per-owner failures are logged
// and do not stop the remaining sends; the last failure is returned.
func (s *Service) NotifyAll(ctx context.Context, owners []string, text string) error {
	var lastErr error
	for _, owner := range owners {
		if err := s.NotifyOwner(ctx, owner, text); err != nil {
			s.logger.Error("owner notification failed", "recipient", owner, "error", err)
			lastErr = err
		}
	}
	return lastErr
}
