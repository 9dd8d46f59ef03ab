package bot

import (
	"fmt"

	"github.com/sliceline/pizzabot/internal/models"
)

// Registry routes outbound sends to the transport owning the chat.
type Registry map[models.Transport]models.Sender

// SenderFor implements models.SenderRegistry.
func (r Registry) SenderFor(chat models.ChatID) (models.Sender, error) {
	sender, ok := r[chat.Transport()]
	if !ok {
		return nil, fmt.Errorf("%w: no transport serves chat %q", models.ErrInvalidChatID, chat)
	}
	return sender, nil
}
