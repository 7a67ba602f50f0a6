// Copyright 2024-2026 Aiku AI

package onebot

import (
	"context"
	"strings"

	"github.com/aiku/wechat-tg-bridge/pkg/connector"
)

// convert turns a gateway event into bridge events. Unknown events yield
// nothing.
func (c *Client) convert(ctx context.Context, evt Event) []connector.SourceEvent {
	switch evt.Type {
	case TypeMeta:
		return c.convertMeta(ctx, evt)
	case TypeMessage:
		if msg, ok := c.convertMessage(ctx, evt); ok {
			return []connector.SourceEvent{msg}
		}
	case TypeNotice:
		return c.convertNotice(ctx, evt)
	case TypeRequest:
		if evt.DetailType == DetailFriendRequest {
			contact := c.lookupUser(evt.UserID)
			if evt.Nickname != "" {
				contact.Name = evt.Nickname
			}
			return []connector.SourceEvent{connector.FriendRequestEvent{
				Ticket:  friendTicket(evt.V3, evt.V4),
				Contact: contact,
				Hello:   evt.Content,
			}}
		}
	}
	c.log.Debug().Str("type", evt.Type).Str("detail_type", evt.DetailType).Msg("Ignoring onebot event")
	return nil
}

func (c *Client) convertMeta(ctx context.Context, evt Event) []connector.SourceEvent {
	switch evt.DetailType {
	case DetailQRCode:
		return []connector.SourceEvent{connector.ScanEvent{Code: evt.Code}}
	case DetailStatusUpdate:
		if evt.Status == nil {
			return nil
		}
		online := evt.Status.Good
		for _, bot := range evt.Status.Bots {
			online = online && bot.Online
		}
		if len(evt.Status.Bots) == 0 {
			online = false
		}
		return c.setOnline(ctx, online)
	case DetailConnect:
		return nil
	}
	return nil
}

// setOnline emits login or logout events on status transitions.
func (c *Client) setOnline(ctx context.Context, online bool) []connector.SourceEvent {
	c.cacheMu.Lock()
	changed := c.online != online
	c.online = online
	c.cacheMu.Unlock()
	if !changed {
		return nil
	}
	if !online {
		c.cacheMu.Lock()
		c.self = connector.Entity{}
		c.cacheMu.Unlock()
		return []connector.SourceEvent{connector.LogoutEvent{Reason: "gateway reported the account offline"}}
	}
	var info UserInfo
	if err := c.call(ctx, "get_self_info", struct{}{}, &info); err != nil {
		c.log.Err(err).Msg("Failed to get self info")
	}
	self := userEntity(info)
	c.cacheMu.Lock()
	c.self = self
	c.cacheMu.Unlock()
	return []connector.SourceEvent{connector.LoginEvent{Self: self}, connector.ReadyEvent{}}
}

// messageContent classifies a message by its first content segment.
func messageContent(msg *connector.MessageEvent, segments []Segment, selfID string) {
	var text strings.Builder
	msg.Kind = connector.MsgUnsupported
	for _, seg := range segments {
		switch seg.Type {
		case SegText:
			text.WriteString(seg.Str("text"))
			if msg.Kind == connector.MsgUnsupported {
				msg.Kind = connector.MsgText
			}
			continue
		case SegMention:
			if selfID != "" && seg.Str("user_id") == selfID {
				msg.MentionsSelf = true
			}
			continue
		case SegReply:
			continue
		}
		if msg.Kind != connector.MsgUnsupported && msg.Kind != connector.MsgText {
			continue
		}
		switch seg.Type {
		case SegImage:
			msg.Kind = connector.MsgImage
			msg.Media = mediaHandle(seg, "image.jpg")
		case SegVoice:
			msg.Kind = connector.MsgAudio
			msg.Media = mediaHandle(seg, "voice.mp3")
		case SegVideo:
			msg.Kind = connector.MsgVideo
			msg.Media = mediaHandle(seg, "video.mp4")
		case SegFile:
			msg.Kind = connector.MsgFile
			msg.Media = mediaHandle(seg, "file")
		case SegEmoji:
			msg.Kind = connector.MsgSticker
			msg.Media = mediaHandle(seg, "sticker.gif")
			msg.Sticker = seg.Str("file_id")
		case SegLink:
			msg.Kind = connector.MsgLink
			msg.Link = &connector.LinkPayload{
				Title:       seg.Str("title"),
				Description: seg.Str("about"),
				URL:         seg.Str("url"),
			}
		case SegApp:
			msg.Kind = connector.MsgMiniProgram
		case SegLocation:
			msg.Kind = connector.MsgLocation
		}
	}
	if msg.Kind == connector.MsgText || msg.Kind.IsMedia() {
		msg.Text = text.String()
	}
}

func mediaHandle(seg Segment, fallbackName string) *connector.MediaHandle {
	name := seg.Str("name")
	if name == "" {
		name = fallbackName
	}
	h := &connector.MediaHandle{FileID: seg.Str("file_id"), Name: name}
	if size, ok := seg.Data["size"].(float64); ok {
		h.Size = int64(size)
	}
	return h
}

// baseMessage fills the routing fields shared by messages and message-like
// notices.
func (c *Client) baseMessage(ctx context.Context, evt Event) connector.MessageEvent {
	selfID := c.selfID()
	msg := connector.MessageEvent{
		MessageID: evt.MessageID,
		Sender:    c.lookupUser(evt.UserID),
	}
	if evt.GroupID != "" {
		group := c.lookupGroup(ctx, evt.GroupID)
		msg.Group = &group
	}
	if selfID != "" && evt.UserID == selfID {
		msg.Echo = true
		if msg.Group == nil && evt.ToUserID != "" {
			recipient := c.lookupUser(evt.ToUserID)
			msg.RecipientID = recipient.NetworkID
			msg.Recipient = recipient.Name
		}
	}
	return msg
}

func (c *Client) convertMessage(ctx context.Context, evt Event) (connector.MessageEvent, bool) {
	if evt.DetailType != DetailPrivate && evt.DetailType != DetailGroup {
		return connector.MessageEvent{}, false
	}
	msg := c.baseMessage(ctx, evt)
	messageContent(&msg, evt.Message, c.selfID())
	if msg.Kind == connector.MsgUnsupported && evt.AltMessage != "" && len(evt.Message) == 0 {
		msg.Kind = connector.MsgText
		msg.Text = evt.AltMessage
	}
	return msg, true
}

func (c *Client) convertNotice(ctx context.Context, evt Event) []connector.SourceEvent {
	selfID := c.selfID()
	switch evt.DetailType {
	case DetailFriendIncrease:
		contact, err := c.SyncContact(ctx, evt.UserID)
		if err != nil {
			contact = c.lookupUser(evt.UserID)
		}
		return []connector.SourceEvent{connector.FriendConfirmEvent{Contact: contact}}
	case DetailFriendDecrease:
		contact := c.lookupUser(evt.UserID)
		c.cacheMu.Lock()
		delete(c.contacts, evt.UserID)
		c.cacheMu.Unlock()
		return []connector.SourceEvent{connector.FriendRemoveEvent{Contact: contact}}
	case DetailGroupMemberIncrease:
		group := c.lookupGroup(ctx, evt.GroupID)
		inviter := ""
		if evt.OperatorID != "" {
			inviter = c.lookupUser(evt.OperatorID).Name
		}
		return []connector.SourceEvent{connector.RoomJoinEvent{
			Group:      group,
			Inviter:    inviter,
			Invitees:   []string{c.lookupUser(evt.UserID).Name},
			SelfJoined: selfID != "" && evt.UserID == selfID,
		}}
	case DetailGroupMemberDecrease:
		group := c.lookupGroup(ctx, evt.GroupID)
		self := selfID != "" && evt.UserID == selfID
		if self {
			c.cacheMu.Lock()
			delete(c.groups, evt.GroupID)
			c.cacheMu.Unlock()
		}
		return []connector.SourceEvent{connector.RoomLeaveEvent{
			Group:       group,
			Removed:     []string{c.lookupUser(evt.UserID).Name},
			SelfRemoved: self,
		}}
	case DetailGroupNameChange:
		group := c.lookupGroup(ctx, evt.GroupID)
		old := group.Name
		group.Name = evt.Name
		c.cacheMu.Lock()
		c.groups[evt.GroupID] = group
		c.cacheMu.Unlock()
		return []connector.SourceEvent{connector.RoomTopicEvent{
			Group:     group,
			OldTopic:  old,
			NewTopic:  evt.Name,
			ChangedBy: c.lookupUser(evt.OperatorID).Name,
		}}
	case DetailPrivateCard, DetailGroupCard:
		msg := c.baseMessage(ctx, evt)
		msg.Kind = connector.MsgContactCard
		msg.Card = &connector.ContactCard{Nickname: evt.Nickname, AvatarURL: evt.HeadURL}
		return []connector.SourceEvent{msg}
	case DetailPrivateRedBag, DetailGroupRedBag:
		return c.notice(ctx, evt, connector.MsgRedEnvelope)
	case DetailPrivateTransfer:
		return c.notice(ctx, evt, connector.MsgTransfer)
	case DetailPrivateCall:
		return c.notice(ctx, evt, connector.MsgCall)
	case DetailPrivateMessageDelete, DetailGroupMessageDelete:
		return c.notice(ctx, evt, connector.MsgRecall)
	}
	c.log.Debug().Str("detail_type", evt.DetailType).Msg("Ignoring onebot notice")
	return nil
}

func (c *Client) notice(ctx context.Context, evt Event, kind connector.MessageKind) []connector.SourceEvent {
	msg := c.baseMessage(ctx, evt)
	msg.Kind = kind
	return []connector.SourceEvent{msg}
}
