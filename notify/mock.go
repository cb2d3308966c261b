package notify

import (
	"context"
	"log/slog"
)

// MockProvider logs messages instead of delivering them. Useful for local
// runs without a bot token.
type MockProvider struct {
	logger *slog.Logger
}

// NewMockProvider creates a provider that only logs.
func NewMockProvider(logger *slog.Logger) *MockProvider {
	return &MockProvider{logger: logger}
}

// Send logs the message that would have been delivered.
func (p *MockProvider) Send(_ context.Context, chatID int64, text string) error {
	p.logger.Info("MOCK notification", "chat_id", chatID, "text", text)
	return nil
}
