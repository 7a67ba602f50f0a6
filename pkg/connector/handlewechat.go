// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/skip2/go-qrcode"

	"github.com/aiku/wechat-tg-bridge/pkg/connector/telegramfmt"
	"github.com/aiku/wechat-tg-bridge/pkg/connector/wechatfmt"
)

// noticeTexts are the fixed notices sent for system messages that cannot be
// relayed as content.
var noticeTexts = map[MessageKind]string{
	MsgRedEnvelope: "[red envelope] received, check source network",
	MsgCall:        "[call] voice or video call, check source network",
	MsgTransfer:    "[transfer] received, check source network",
	MsgRecall:      "[recall] a message was recalled",
	MsgMiniProgram: "[mini program] shared, check source network",
}

// QueueSourceEvent schedules evt for handling. Events of the same
// conversation are handled in arrival order.
func (b *Bridge) QueueSourceEvent(ctx context.Context, evt SourceEvent) {
	key := "session"
	if msg, ok := evt.(MessageEvent); ok {
		key = msg.Sender.NetworkID
		if msg.Group != nil {
			key = msg.Group.NetworkID
		}
	}
	b.queue.Go(key, func() {
		if err := b.HandleSourceEvent(ctx, evt); err != nil {
			b.log.Err(err).Type("event_type", evt).Msg("Failed to handle source event")
		}
	})
}

// HandleSourceEvent dispatches one source network event.
func (b *Bridge) HandleSourceEvent(ctx context.Context, evt SourceEvent) error {
	switch e := evt.(type) {
	case LoginEvent:
		return b.handleLogin(ctx, e)
	case LogoutEvent:
		return b.handleLogout(ctx, e)
	case ScanEvent:
		return b.handleScan(ctx, e)
	case ReadyEvent:
		return b.handleReady(ctx)
	case MessageEvent:
		b.relayMessage(ctx, &e)
		return nil
	case RoomJoinEvent:
		return b.handleRoomJoin(ctx, e)
	case RoomLeaveEvent:
		return b.handleRoomLeave(ctx, e)
	case RoomTopicEvent:
		return b.handleRoomTopic(ctx, e)
	case FriendRequestEvent:
		return b.handleFriendRequest(ctx, e)
	case FriendConfirmEvent:
		return b.handleFriendConfirm(ctx, e)
	case FriendRemoveEvent:
		if b.Directory.Upsert(e) {
			b.forgetConversation(ctx, e.Contact.Kind, e.Contact.NetworkID)
		}
		b.log.Info().Str("network_id", e.Contact.NetworkID).Msg("Contact removed")
		return nil
	default:
		return fmt.Errorf("unknown source event %T", evt)
	}
}

// notify posts a bridge notice to the default chat.
func (b *Bridge) notify(ctx context.Context, text string) (int, error) {
	chatID := b.DefaultChat()
	if chatID == 0 {
		return 0, errNoControlChat
	}
	return b.control.SendText(ctx, chatID, OutgoingText{Text: text, HTML: true})
}

func (b *Bridge) dropQRMessage(ctx context.Context) {
	if b.qrMessageID == 0 {
		return
	}
	if err := b.control.DeleteMessage(ctx, b.DefaultChat(), b.qrMessageID); err != nil {
		b.log.Debug().Err(err).Int("message_id", b.qrMessageID).Msg("Failed to delete QR message")
	}
	b.qrMessageID = 0
}

func (b *Bridge) handleScan(ctx context.Context, evt ScanEvent) error {
	b.loginMu.Lock()
	defer b.loginMu.Unlock()
	b.dropQRMessage(ctx)
	if evt.Code == "" {
		b.log.Info().Msg("Login QR code scanned")
		return nil
	}
	chatID := b.DefaultChat()
	if chatID == 0 {
		return errNoControlChat
	}
	png, err := qrcode.Encode(evt.Code, qrcode.Medium, 256)
	if err != nil {
		return fmt.Errorf("failed to render login QR code: %w", err)
	}
	msgID, err := b.control.SendMedia(ctx, chatID, OutgoingMedia{
		Type:    MediaPhoto,
		Name:    "login.png",
		Data:    png,
		Caption: "Scan this QR code with the source network app to log in",
	})
	if err != nil {
		return fmt.Errorf("failed to send login QR code: %w", err)
	}
	b.qrMessageID = msgID
	return nil
}

func (b *Bridge) handleLogin(ctx context.Context, evt LoginEvent) error {
	b.loggedIn.Store(true)
	b.loginMu.Lock()
	defer b.loginMu.Unlock()
	b.dropQRMessage(ctx)
	b.log.Info().Str("network_id", evt.Self.NetworkID).Str("name", evt.Self.Name).Msg("Logged in to source network")
	if _, err := b.notify(ctx, "Logged in as "+telegramfmt.Code(evt.Self.Name)); err != nil {
		return fmt.Errorf("failed to send login notice: %w", err)
	}
	msgID, err := b.notify(ctx, "Loading contacts…")
	if err != nil {
		return fmt.Errorf("failed to send loading notice: %w", err)
	}
	b.loadingMessageID = msgID
	return nil
}

func (b *Bridge) handleReady(ctx context.Context) error {
	if err := b.RefreshDirectory(ctx); err != nil {
		return err
	}
	text := fmt.Sprintf("Contacts loaded: %d conversations", b.Directory.Len())
	b.loginMu.Lock()
	defer b.loginMu.Unlock()
	if b.loadingMessageID != 0 {
		err := b.control.EditMessageText(ctx, b.DefaultChat(), b.loadingMessageID, text)
		b.loadingMessageID = 0
		if err == nil {
			return nil
		}
		b.log.Debug().Err(err).Msg("Failed to edit loading message")
	}
	_, err := b.notify(ctx, text)
	return err
}

func (b *Bridge) handleLogout(ctx context.Context, evt LogoutEvent) error {
	b.loggedIn.Store(false)
	b.clearSession(ctx)
	b.log.Warn().Str("reason", evt.Reason).Msg("Logged out of source network")
	text := "Logged out of the source network"
	if evt.Reason != "" {
		text += ": " + telegramfmt.Escape(evt.Reason)
	}
	_, err := b.notify(ctx, text)
	return err
}

func (b *Bridge) handleRoomJoin(ctx context.Context, evt RoomJoinEvent) error {
	b.Directory.Upsert(evt)
	if !evt.SelfJoined {
		b.log.Debug().
			Str("group_id", evt.Group.NetworkID).
			Strs("invitees", evt.Invitees).
			Msg("Members joined group")
		return nil
	}
	text := "🌐" + telegramfmt.Escape(evt.Group.Name) + " : you were added to this group"
	if evt.Inviter != "" {
		text += " by " + telegramfmt.Escape(evt.Inviter)
	}
	_, err := b.notify(ctx, text)
	return err
}

func (b *Bridge) handleRoomLeave(ctx context.Context, evt RoomLeaveEvent) error {
	if !evt.SelfRemoved {
		return nil
	}
	if b.Directory.Upsert(evt) {
		b.forgetConversation(ctx, KindGroup, evt.Group.NetworkID)
	}
	_, err := b.notify(ctx, "🌐"+telegramfmt.Escape(evt.Group.Name)+" : you were removed from this group")
	return err
}

func (b *Bridge) handleRoomTopic(ctx context.Context, evt RoomTopicEvent) error {
	if !b.Directory.Upsert(evt) {
		return nil
	}
	conv, ok := b.Directory.FindByNetworkID(KindGroup, evt.Group.NetworkID)
	if !ok {
		return nil
	}
	text := fmt.Sprintf("🌐%s : renamed from %s",
		telegramfmt.Escape(evt.NewTopic), telegramfmt.Escape(evt.OldTopic))
	if evt.ChangedBy != "" {
		text += " by " + telegramfmt.Escape(evt.ChangedBy)
	}
	_, _, err := b.deliverText(ctx, b.Binds.ResolveDestination(conv), "topic", text)
	return err
}

func (b *Bridge) handleFriendRequest(ctx context.Context, evt FriendRequestEvent) error {
	key := NewLocalID()
	b.friendMu.Lock()
	b.friendRequests[key] = evt.Ticket
	b.friendMu.Unlock()

	text := "👤" + telegramfmt.Escape(evt.Contact.Name) + " : friend request"
	if evt.Hello != "" {
		text += "\n" + telegramfmt.Quote(evt.Hello)
	}
	chatID := b.DefaultChat()
	if chatID == 0 {
		return errNoControlChat
	}
	_, err := b.control.SendText(ctx, chatID, OutgoingText{
		Text:    text,
		HTML:    true,
		Buttons: [][]Button{{{Text: "Accept", Data: MakeCallbackData(CallbackAcceptFriend, key)}}},
	})
	return err
}

func (b *Bridge) handleFriendConfirm(ctx context.Context, evt FriendConfirmEvent) error {
	evt.Contact.Kind = KindIndividual
	b.Directory.Upsert(evt)
	_, err := b.notify(ctx, "👤"+telegramfmt.Escape(evt.Contact.Name)+" : is now your friend")
	return err
}

// awaitReady gives the source client a bounded number of chances to finish
// syncing an entity. The best data available is returned either way.
func (b *Bridge) awaitReady(ctx context.Context, e Entity, log *zerolog.Logger) Entity {
	for attempt := 0; !e.Ready && attempt < maxSyncAttempts; attempt++ {
		synced, err := b.source.SyncContact(ctx, e.NetworkID)
		if err != nil {
			log.Debug().Err(err).Int("attempt", attempt+1).Msg("Sender sync failed")
			continue
		}
		if synced.Kind == KindUnknown {
			synced.Kind = e.Kind
		}
		e = synced
	}
	if !e.Ready {
		log.Debug().Str("network_id", e.NetworkID).Msg("Proceeding with partially synced sender")
	}
	return e
}

// relayMessage forwards one source message to the control network.
func (b *Bridge) relayMessage(ctx context.Context, evt *MessageEvent) {
	b.sessionMu.RLock()
	defer b.sessionMu.RUnlock()

	log := b.log.With().
		Str("message_id", evt.MessageID).
		Str("sender_id", evt.Sender.NetworkID).
		Stringer("kind", evt.Kind).
		Logger()
	policy := b.settings.Get()

	if evt.Echo {
		if !policy.RelayOwnSends {
			return
		}
		if evt.Kind != MsgText {
			log.Debug().Msg("Not relaying echoed media")
			return
		}
	}
	if evt.Sender.Kind == KindOfficial && !policy.AcceptOfficialAccounts {
		log.Debug().Msg("Dropping official account message")
		return
	}
	sender := evt.Sender
	if !evt.Echo {
		sender = b.awaitReady(ctx, sender, &log)
	}
	if evt.Group != nil && !AllowGroupMessage(policy, evt.Group.Name, evt.MentionsSelf) {
		log.Debug().Str("group", evt.Group.Name).Msg("Group message filtered")
		return
	}

	var target Conversation
	id := telegramfmt.Identity{Echo: evt.Echo, Recipient: evt.Recipient}
	switch {
	case evt.Group != nil:
		group := *evt.Group
		group.Kind = KindGroup
		target = b.Directory.Observe(group)
		id.Room = target.DisplayName()
	case evt.Echo:
		target = Conversation{NetworkID: evt.RecipientID, Kind: KindIndividual, Name: evt.Recipient}
		if evt.RecipientID != "" {
			if conv, ok := b.Directory.FindByNetworkID(KindIndividual, evt.RecipientID); ok {
				target = conv
				id.Recipient = conv.DisplayName()
			}
		}
	default:
		target = b.Directory.Observe(sender)
	}
	if !evt.Echo {
		senderConv := target
		if evt.Group != nil {
			senderConv = Conversation{Name: sender.Name, Alias: sender.Alias}
		}
		id.Sender = senderConv.DisplayName()
		id.Official = sender.Kind == KindOfficial
	}

	if !evt.Echo && sender.Kind == KindIndividual {
		if _, bound := b.Binds.Lookup(target.NetworkID); !bound {
			if policy.AutoSwitch && b.pendingSends.Load() == 0 {
				b.selectConversation(ctx, target)
			}
			b.Recent.Touch(target)
		}
	}

	dest := b.Binds.ResolveDestination(target)
	ref := SourceMessageRef{MessageID: evt.MessageID, ConversationID: target.NetworkID}
	kind := evt.Kind.String()

	var body string
	switch evt.Kind {
	case MsgText:
		text := wechatfmt.Normalize(evt.Text)
		if wechatfmt.IsLocation(text) {
			body = telegramfmt.Code(wechatfmt.LocationLabel(text))
		} else {
			body = telegramfmt.Escape(text)
		}
	case MsgImage, MsgAudio, MsgVideo, MsgFile, MsgSticker:
		b.relayMedia(ctx, dest, evt, id, ref)
		return
	case MsgContactCard:
		b.relayContactCard(ctx, dest, evt, id, ref)
		return
	case MsgLink:
		if evt.Link == nil {
			log.Warn().Msg("Link message without payload")
			return
		}
		body = telegramfmt.Link(evt.Link.Title, evt.Link.URL)
		if evt.Link.Description != "" {
			body += "\n" + telegramfmt.Quote(evt.Link.Description)
		}
	case MsgRedEnvelope, MsgCall, MsgTransfer, MsgRecall, MsgMiniProgram:
		body = telegramfmt.Escape(noticeTexts[evt.Kind])
	case MsgLocation, MsgGroupNote, MsgChatHistory, MsgPost:
		log.Debug().Msg("Ignoring unhandled message kind")
		return
	default:
		log.Debug().Msg("Ignoring unsupported message")
		return
	}

	chatID, msgID, err := b.deliverText(ctx, dest, kind, telegramfmt.Message(id, body, true))
	if err != nil {
		log.Err(err).Msg("Failed to relay message")
		return
	}
	b.correlate(chatID, msgID, ref)
}

// relayContactCard sends a shared contact as its avatar with a caption, or
// as a text notice when the avatar cannot be fetched.
func (b *Bridge) relayContactCard(ctx context.Context, dest int64, evt *MessageEvent, id telegramfmt.Identity, ref SourceMessageRef) {
	if evt.Card == nil {
		b.log.Warn().Str("message_id", evt.MessageID).Msg("Contact card without payload")
		return
	}
	caption := id.Header() + "shared contact " + evt.Card.Nickname
	var avatar []byte
	if evt.Card.AvatarURL != "" {
		var err error
		avatar, err = b.source.FetchMedia(ctx, MediaHandle{FileID: evt.Card.AvatarURL, Name: "avatar.jpg"})
		if err != nil {
			b.log.Debug().Err(err).Msg("Failed to fetch contact card avatar")
		}
	}
	var chatID int64
	var msgID int
	var err error
	if len(avatar) > 0 {
		chatID, msgID, err = b.deliver(ctx, dest, "contact card", func(ctx context.Context, chatID int64) (int, error) {
			return b.control.SendMedia(ctx, chatID, OutgoingMedia{Type: MediaPhoto, Name: "avatar.jpg", Data: avatar, Caption: caption})
		})
	} else {
		body := "shared contact " + telegramfmt.Code(evt.Card.Nickname)
		chatID, msgID, err = b.deliverText(ctx, dest, "contact card", telegramfmt.Message(id, body, true))
	}
	if err != nil {
		b.log.Err(err).Str("message_id", evt.MessageID).Msg("Failed to relay contact card")
		return
	}
	b.correlate(chatID, msgID, ref)
}

// selectConversation makes conv the reply target and updates the pinned
// status message.
func (b *Bridge) selectConversation(ctx context.Context, conv Conversation) SelectionState {
	state := SelectionState{Conversation: conv, Mode: ModeForKind(conv.Kind)}
	if b.Selection.Select(conv) {
		b.log.Debug().Str("local_id", conv.LocalID).Stringer("mode", state.Mode).Msg("Selection changed")
	}
	if chatID := b.DefaultChat(); chatID != 0 {
		if err := b.Status.Show(ctx, chatID, state.StatusText()); err != nil {
			b.log.Warn().Err(err).Msg("Failed to update status message")
		}
	}
	return state
}

// displayNames renders a list of conversations for command replies.
func displayNames(convs []Conversation) string {
	names := make([]string, len(convs))
	for i, c := range convs {
		names[i] = c.DisplayName()
	}
	return strings.Join(names, ", ")
}
