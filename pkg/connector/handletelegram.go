// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/aiku/wechat-tg-bridge/pkg/connector/telegramfmt"
)

const unselectedHint = "No conversation selected. Use /user, /room or /recent first, or reply to a relayed message."

// HandleOperatorMessage sends an operator message to the source network. All
// failures are reported to the operator and never returned.
func (b *Bridge) HandleOperatorMessage(ctx context.Context, msg *OperatorMessage) {
	b.sessionMu.RLock()
	defer b.sessionMu.RUnlock()

	log := b.log.With().
		Int64("chat_id", msg.ChatID).
		Int("message_id", msg.MessageID).
		Logger()

	if msg.IsRetraction() {
		b.retract(ctx, msg, &log)
		return
	}

	var conversationID string
	if msg.ReplyTo != 0 {
		key := ControlMessageKey{ChatID: msg.ChatID, MessageID: msg.ReplyTo}
		ref, ok := b.Correlation.Get(key)
		if !ok {
			ref, ok = b.Undo.Get(key)
		}
		if !ok {
			log.Debug().Int("reply_to", msg.ReplyTo).Msg("Reply target is not a relayed message")
			b.reply(ctx, msg, "Cannot find the conversation of the replied message, nothing was sent", false)
			return
		}
		conversationID = ref.ConversationID
	} else {
		state, ok := b.Selection.Current()
		if !ok {
			log.Debug().Msg("No conversation selected, dropping operator message")
			if b.settings.Get().WarnUnselected {
				b.reply(ctx, msg, unselectedHint, false)
			}
			return
		}
		conversationID = state.Conversation.NetworkID
	}

	b.pendingSends.Add(1)
	defer b.pendingSends.Add(-1)

	sourceID, err := b.sendToSource(ctx, conversationID, msg)
	if err != nil {
		log.Err(err).Str("conversation_id", conversationID).Msg("Failed to send to source network")
		b.reportSendFailure(ctx, msg)
		return
	}
	log.Debug().Str("source_message_id", sourceID).Msg("Operator message sent")
	if sourceID != "" {
		b.Undo.Put(ControlMessageKey{ChatID: msg.ChatID, MessageID: msg.MessageID},
			SourceMessageRef{MessageID: sourceID, ConversationID: conversationID})
	}
	if b.settings.Get().ConfirmSends {
		b.reply(ctx, msg, "Sent", false)
	}
}

// sendToSource sends the media, if any, and then the text. The returned ID
// is the last message that reached the source network.
func (b *Bridge) sendToSource(ctx context.Context, conversationID string, msg *OperatorMessage) (string, error) {
	var sourceID string
	if msg.Media != nil {
		media, err := b.prepareOutbound(ctx, *msg.Media)
		if err != nil {
			return "", err
		}
		sourceID, err = b.source.SendMedia(ctx, conversationID, media)
		if err != nil {
			return "", err
		}
	}
	if text := strings.TrimSpace(msg.Text); text != "" {
		id, err := b.source.SendText(ctx, conversationID, text)
		if err != nil {
			return "", err
		}
		sourceID = id
	}
	return sourceID, nil
}

func (b *Bridge) retract(ctx context.Context, msg *OperatorMessage, log *zerolog.Logger) {
	key := ControlMessageKey{ChatID: msg.ChatID, MessageID: msg.ReplyTo}
	ref, ok := b.Undo.Get(key)
	if !ok {
		b.reply(ctx, msg, "Cannot retract: the message is too old or was not sent from here", false)
		return
	}
	if err := b.source.Retract(ctx, ref); err != nil {
		log.Err(err).Str("source_message_id", ref.MessageID).Msg("Failed to retract message")
		b.reply(ctx, msg, "Retract failed: "+telegramfmt.Escape(err.Error()), true)
		return
	}
	b.Undo.Delete(key)
	log.Info().Str("source_message_id", ref.MessageID).Msg("Message retracted")
	b.reply(ctx, msg, "Retracted", false)
}

// reportSendFailure replaces the operator's message with a quoted failure
// notice.
func (b *Bridge) reportSendFailure(ctx context.Context, msg *OperatorMessage) {
	if err := b.control.DeleteMessage(ctx, msg.ChatID, msg.MessageID); err != nil {
		b.log.Debug().Err(err).Int("message_id", msg.MessageID).Msg("Failed to delete failed operator message")
	}
	text := "Send failed"
	if msg.Media != nil {
		text += " (" + msg.Media.Kind.String() + ")"
	}
	if quoted := strings.TrimSpace(msg.Text); quoted != "" {
		text += "\n" + telegramfmt.Quote(quoted)
	}
	if _, err := b.control.SendText(ctx, msg.ChatID, OutgoingText{Text: text, HTML: true}); err != nil {
		b.log.Err(err).Msg("Failed to send failure notice")
	}
}

func (b *Bridge) reply(ctx context.Context, msg *OperatorMessage, text string, html bool) {
	if !html {
		text = telegramfmt.Escape(text)
	}
	_, err := b.control.SendText(ctx, msg.ChatID, OutgoingText{Text: text, HTML: true, ReplyTo: msg.MessageID})
	if err != nil {
		b.log.Err(err).Msg("Failed to reply to operator")
	}
}
