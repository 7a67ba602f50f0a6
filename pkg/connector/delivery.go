// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"errors"
	"fmt"
)

// errNoControlChat is returned when no operator has claimed the bot yet.
var errNoControlChat = errors.New("no control chat configured")

// sendFunc performs one delivery attempt to chatID.
type sendFunc func(ctx context.Context, chatID int64) (int, error)

// deliver sends to dest and falls back to the default chat once. A forbidden
// destination also loses its bind entries. When both attempts fail the
// operator gets a single failure notice naming kind.
func (b *Bridge) deliver(ctx context.Context, dest int64, kind string, send sendFunc) (int64, int, error) {
	defaultChat := b.DefaultChat()
	if dest == 0 {
		dest = defaultChat
	}
	if dest == 0 {
		return 0, 0, errNoControlChat
	}

	msgID, err := send(ctx, dest)
	if err == nil {
		return dest, msgID, nil
	}
	log := b.log.With().Str("kind", kind).Int64("chat_id", dest).Logger()
	log.Warn().Err(err).Msg("Delivery failed")
	if errors.Is(err, ErrDestinationForbidden) {
		b.Binds.Invalidate(ctx, dest)
	}

	if dest != defaultChat && defaultChat != 0 {
		msgID, err = send(ctx, defaultChat)
		if err == nil {
			log.Debug().Int64("fallback_chat_id", defaultChat).Msg("Delivered to default chat instead")
			return defaultChat, msgID, nil
		}
		log.Warn().Err(err).Int64("fallback_chat_id", defaultChat).Msg("Fallback delivery failed")
	}

	b.notifyFailure(ctx, kind)
	return 0, 0, fmt.Errorf("failed to deliver %s: %w", kind, err)
}

// notifyFailure posts the compact delivery failure notice. It is never
// retried.
func (b *Bridge) notifyFailure(ctx context.Context, kind string) {
	chatID := b.DefaultChat()
	if chatID == 0 {
		return
	}
	text := fmt.Sprintf("[%s] delivery failed, check source network", kind)
	if _, err := b.control.SendText(ctx, chatID, OutgoingText{Text: text}); err != nil {
		b.log.Err(err).Str("kind", kind).Msg("Failed to send delivery failure notice")
	}
}

// deliverText delivers an HTML text message.
func (b *Bridge) deliverText(ctx context.Context, dest int64, kind, text string) (int64, int, error) {
	return b.deliver(ctx, dest, kind, func(ctx context.Context, chatID int64) (int, error) {
		return b.control.SendText(ctx, chatID, OutgoingText{Text: text, HTML: true})
	})
}

// correlate remembers which source message a delivered control message
// carries so that operator replies find their way back.
func (b *Bridge) correlate(chatID int64, msgID int, ref SourceMessageRef) {
	if chatID == 0 || msgID == 0 || ref.MessageID == "" {
		return
	}
	b.Correlation.Put(ControlMessageKey{ChatID: chatID, MessageID: msgID}, ref)
}
