package fake

import (
	"context"
	"log/slog"

	"github.com/BearBump/SentryBox/internal/models"
)

// Sender — заглушка Bot API для dry-run: ничего не отправляет, только пишет в лог.
type Sender struct{}

func New() *Sender { return &Sender{} }

func (s *Sender) SendMessageToUser(ctx context.Context, userID, text string, kb *models.Keyboard) (bool, error) {
	buttons := 0
	if kb != nil {
		for _, r := range kb.Rows {
			buttons += len(r)
		}
	}
	slog.Info("dry-run telegram message", "user_id", userID, "text", text, "buttons", buttons)
	return true, nil
}
