// Package notify delivers slot alerts to subscribed chats through a
// pluggable provider.
package notify

import (
	"context"
	"log/slog"
)

// Provider sends one message to one chat.
type Provider interface {
	Send(ctx context.Context, chatID int64, text string) error
}

// Sender fans a message out to every subscriber.
type Sender struct {
	provider Provider
	logger   *slog.Logger
}

// New creates a sender with the given provider.
func New(provider Provider, logger *slog.Logger) *Sender {
	return &Sender{
		provider: provider,
		logger:   logger,
	}
}

// Broadcast sends text to every chat. Delivery is independent per
// recipient: a failure is logged and the loop continues with the rest.
func (s *Sender) Broadcast(ctx context.Context, chatIDs []int64, text string) {
	if len(chatIDs) == 0 {
		s.logger.Info("No subscribers; skipping notification")
		return
	}

	var delivered int
	for _, chatID := range chatIDs {
		if err := s.provider.Send(ctx, chatID, text); err != nil {
			s.logger.Warn("Failed to notify chat", "chat_id", chatID, "error", err)
			continue
		}
		delivered++
	}

	s.logger.Info("Notification fan-out completed",
		"delivered", delivered,
		"failed", len(chatIDs)-delivered)
}
