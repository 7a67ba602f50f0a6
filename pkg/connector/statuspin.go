// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
)

// StatusPin keeps one pinned message per control chat that shows the current
// selection.
type StatusPin struct {
	control ControlClient
	log     zerolog.Logger

	mu        sync.Mutex
	chatID    int64
	messageID int
	text      string
}

func NewStatusPin(control ControlClient, log zerolog.Logger) *StatusPin {
	return &StatusPin{control: control, log: log}
}

// Show displays text in the pinned status message of chatID. Showing the
// text already displayed does not call the control client.
func (p *StatusPin) Show(ctx context.Context, chatID int64, text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.chatID != chatID {
		p.chatID = chatID
		p.messageID = 0
		p.text = ""
		pinned, err := p.control.PinnedMessage(ctx, chatID)
		if err != nil {
			p.log.Debug().Err(err).Int64("chat_id", chatID).Msg("Failed to look up pinned message")
		}
		p.messageID = pinned
	}

	if p.messageID != 0 {
		if p.text == text {
			return nil
		}
		err := p.control.EditMessageText(ctx, chatID, p.messageID, text)
		switch {
		case err == nil, errors.Is(err, ErrMessageNotModified):
			p.text = text
			return nil
		case errors.Is(err, ErrMessageNotFound):
			p.log.Debug().Int("message_id", p.messageID).Msg("Pinned status message is gone, sending a new one")
		default:
			return fmt.Errorf("failed to edit status message: %w", err)
		}
	}

	msgID, err := p.control.SendText(ctx, chatID, OutgoingText{Text: text})
	if err != nil {
		return fmt.Errorf("failed to send status message: %w", err)
	}
	p.messageID = msgID
	p.text = text
	if err = p.control.PinMessage(ctx, chatID, msgID); err != nil {
		return fmt.Errorf("failed to pin status message: %w", err)
	}
	return nil
}

// Forget drops the cached status message so the next Show looks it up again.
func (p *StatusPin) Forget() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.chatID = 0
	p.messageID = 0
	p.text = ""
}
