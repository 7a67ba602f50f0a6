// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/aiku/wechat-tg-bridge/pkg/connector/telegramfmt"
	"github.com/aiku/wechat-tg-bridge/pkg/settings"
)

// maxSearchResults caps the buttons of one search reply.
const maxSearchResults = 30

// ErrUnknownConversation is returned for local IDs the directory does not
// know.
var ErrUnknownConversation = errors.New("unknown conversation")

const helpText = `<b>Commands</b>
/user <i>text</i> search contacts
/room <i>text</i> search groups
/official <i>text</i> search official accounts
/recent recently active conversations
/bind [<i>id</i>] route a conversation to this chat
/unbind remove the routes to this chat
/set [<i>option</i> on|off] show or change options
/mode black|white group notification mode
/black, /white [add <i>name</i> | del <i>id</i>] edit group lists
/status show bridge status
/reset log out and start over`

// HandleCommand runs an operator command issued in chatID and returns the
// reply. args is the text after the command name.
func (b *Bridge) HandleCommand(ctx context.Context, chatID int64, command, args string) OutgoingText {
	args = strings.TrimSpace(args)
	switch strings.ToLower(command) {
	case "user":
		return b.searchReply(KindIndividual, args)
	case "room":
		return b.searchReply(KindGroup, args)
	case "official":
		return b.searchReply(KindOfficial, args)
	case "recent":
		return b.recentReply()
	case "bind":
		return b.bindCommand(ctx, chatID, args)
	case "unbind":
		n, err := b.UnbindChat(ctx, chatID)
		if err != nil {
			return errorReply(err)
		}
		return textReply(fmt.Sprintf("Removed %d bind entries", n))
	case "set":
		return b.setCommand(args)
	case "mode":
		if err := b.SetMode(settings.NotificationMode(args)); err != nil {
			return errorReply(err)
		}
		return textReply("Notification mode set to " + args)
	case "black":
		return b.listCommand(settings.ModeBlacklist, args)
	case "white":
		return b.listCommand(settings.ModeWhitelist, args)
	case "status":
		return OutgoingText{Text: b.StatusReport(), HTML: true}
	case "reset":
		if err := b.Reset(ctx); err != nil {
			return errorReply(err)
		}
		return textReply("Logged out, a new login QR code will follow")
	default:
		return OutgoingText{Text: helpText, HTML: true}
	}
}

// HandleCallback runs an inline button action and returns the short answer
// shown to the operator.
func (b *Bridge) HandleCallback(ctx context.Context, data string) (string, error) {
	prefix, payload, err := ParseCallbackData(data)
	if err != nil {
		return "", err
	}
	switch prefix {
	case CallbackSelect:
		state, err := b.SelectByID(ctx, payload)
		if err != nil {
			return "", err
		}
		return "Selected " + state.Conversation.DisplayName(), nil
	case CallbackAcceptFriend:
		if err = b.AcceptFriend(ctx, payload); err != nil {
			return "", err
		}
		return "Friend request accepted", nil
	default:
		return "", fmt.Errorf("unknown callback %q", prefix)
	}
}

// SelectByID makes the conversation with the given local ID the reply
// target.
func (b *Bridge) SelectByID(ctx context.Context, localID string) (SelectionState, error) {
	b.sessionMu.RLock()
	defer b.sessionMu.RUnlock()
	conv, ok := b.Directory.Find(localID)
	if !ok {
		return SelectionState{}, fmt.Errorf("%w %s", ErrUnknownConversation, localID)
	}
	return b.selectConversation(ctx, conv), nil
}

// AcceptFriend accepts a pending friend request by the key stored on its
// button.
func (b *Bridge) AcceptFriend(ctx context.Context, key string) error {
	b.friendMu.Lock()
	ticket, ok := b.friendRequests[key]
	b.friendMu.Unlock()
	if !ok {
		return errors.New("friend request expired")
	}
	if err := b.source.AcceptFriend(ctx, ticket); err != nil {
		return fmt.Errorf("failed to accept friend request: %w", err)
	}
	b.friendMu.Lock()
	delete(b.friendRequests, key)
	b.friendMu.Unlock()
	return nil
}

// BindChat routes the conversation with the given local ID to chatID.
func (b *Bridge) BindChat(ctx context.Context, localID string, chatID int64) (Conversation, error) {
	conv, ok := b.Directory.Find(localID)
	if !ok {
		return Conversation{}, fmt.Errorf("%w %s", ErrUnknownConversation, localID)
	}
	if err := b.Binds.Bind(ctx, conv, chatID); err != nil {
		return Conversation{}, err
	}
	return conv, nil
}

// UnbindChat removes every bind entry that points at chatID.
func (b *Bridge) UnbindChat(ctx context.Context, chatID int64) (int, error) {
	removed := 0
	for _, entry := range b.Binds.BoundTo(chatID) {
		ok, err := b.Binds.Unbind(ctx, entry.NetworkID)
		if err != nil {
			return removed, err
		}
		if ok {
			removed++
		}
	}
	return removed, nil
}

// SetOption changes one boolean option and persists it.
func (b *Bridge) SetOption(name string, value bool) error {
	var optErr error
	err := b.settings.Update(func(s *settings.Settings) {
		optErr = s.SetOption(name, value)
	})
	if optErr != nil {
		return optErr
	}
	return err
}

// SetMode switches the group notification mode.
func (b *Bridge) SetMode(mode settings.NotificationMode) error {
	var modeErr error
	err := b.settings.Update(func(s *settings.Settings) {
		modeErr = s.SetMode(mode)
	})
	if modeErr != nil {
		return modeErr
	}
	return err
}

// StatusReport renders the bridge state for the /status command.
func (b *Bridge) StatusReport() string {
	var sb strings.Builder
	if b.IsLoggedIn() {
		sb.WriteString("Source network: logged in\n")
	} else {
		sb.WriteString("Source network: logged out\n")
	}
	fmt.Fprintf(&sb, "Conversations: %d\n", b.Directory.Len())
	if state, ok := b.Selection.Current(); ok {
		sb.WriteString("Selected: " + telegramfmt.Escape(state.StatusText()) + "\n")
	} else {
		sb.WriteString("Selected: none\n")
	}
	if recent := b.Recent.List(); len(recent) > 0 {
		sb.WriteString("Recent: " + telegramfmt.Escape(displayNames(recent)) + "\n")
	}
	fmt.Fprintf(&sb, "Bind entries: %d\n", len(b.Binds.Entries()))
	s := b.settings.Get()
	fmt.Fprintf(&sb, "Notification mode: %s", s.NotificationMode)
	for _, name := range settings.OptionNames() {
		value, _ := s.Option(name)
		fmt.Fprintf(&sb, "\n%s: %s", name, onOff(value))
	}
	return sb.String()
}

func (b *Bridge) searchReply(kind ConversationKind, text string) OutgoingText {
	if !b.IsLoggedIn() {
		return textReply("Not logged in to the source network")
	}
	results := b.Directory.Search(kind, text)
	if len(results) == 0 {
		return textReply("No " + kind.String() + " conversation matches " + strconv.Quote(text))
	}
	reply := conversationButtons(results)
	reply.Text = fmt.Sprintf("%d %s conversations match", len(results), kind)
	if len(results) > maxSearchResults {
		reply.Text += fmt.Sprintf(", showing the first %d", maxSearchResults)
	}
	return reply
}

func (b *Bridge) recentReply() OutgoingText {
	recent := b.Recent.List()
	if len(recent) == 0 {
		return textReply("No recent conversations")
	}
	reply := conversationButtons(recent)
	reply.Text = "Recent conversations"
	return reply
}

func conversationButtons(convs []Conversation) OutgoingText {
	if len(convs) > maxSearchResults {
		convs = convs[:maxSearchResults]
	}
	rows := make([][]Button, 0, len(convs))
	for _, c := range convs {
		rows = append(rows, []Button{{
			Text: ModeForKind(c.Kind).icon() + " " + c.DisplayName(),
			Data: MakeCallbackData(CallbackSelect, c.LocalID),
		}})
	}
	return OutgoingText{Buttons: rows}
}

func (b *Bridge) bindCommand(ctx context.Context, chatID int64, args string) OutgoingText {
	localID := args
	if localID == "" {
		state, ok := b.Selection.Current()
		if !ok {
			return textReply("Select a conversation first or pass its ID")
		}
		localID = state.Conversation.LocalID
	}
	conv, err := b.BindChat(ctx, localID, chatID)
	if err != nil {
		return errorReply(err)
	}
	return OutgoingText{Text: "Messages from " + telegramfmt.Escape(conv.DisplayName()) + " now go to this chat", HTML: true}
}

func (b *Bridge) setCommand(args string) OutgoingText {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		s := b.settings.Get()
		var sb strings.Builder
		for i, name := range settings.OptionNames() {
			value, _ := s.Option(name)
			if i > 0 {
				sb.WriteByte('\n')
			}
			sb.WriteString(name + ": " + onOff(value))
		}
		return textReply(sb.String())
	}
	if len(fields) != 2 {
		return textReply("Usage: /set <option> on|off")
	}
	var value bool
	switch strings.ToLower(fields[1]) {
	case "on", "true", "yes", "1":
		value = true
	case "off", "false", "no", "0":
	default:
		return textReply("Usage: /set <option> on|off")
	}
	if err := b.SetOption(fields[0], value); err != nil {
		return errorReply(err)
	}
	return textReply(fields[0] + " is now " + onOff(value))
}

func (b *Bridge) listCommand(mode settings.NotificationMode, args string) OutgoingText {
	action, value, _ := strings.Cut(args, " ")
	value = strings.TrimSpace(value)
	switch action {
	case "":
		entries := b.settings.Get().Blacklist
		if mode == settings.ModeWhitelist {
			entries = b.settings.Get().Whitelist
		}
		if len(entries) == 0 {
			return textReply("The " + string(mode) + " list is empty")
		}
		lines := make([]string, len(entries))
		for i, e := range entries {
			lines[i] = fmt.Sprintf("%d. %s", e.ID, e.Name)
		}
		return textReply(strings.Join(lines, "\n"))
	case "add":
		if value == "" {
			return textReply("Usage: /" + string(mode) + " add <group name>")
		}
		var entry settings.ListEntry
		var added bool
		if err := b.settings.Update(func(s *settings.Settings) {
			entry, added = s.AddToList(mode, value)
		}); err != nil {
			return errorReply(err)
		}
		if !added {
			return textReply(fmt.Sprintf("%s is already listed as %d", entry.Name, entry.ID))
		}
		return textReply(fmt.Sprintf("Added %s as %d", entry.Name, entry.ID))
	case "del":
		id, err := strconv.Atoi(value)
		if err != nil {
			return textReply("Usage: /" + string(mode) + " del <id>")
		}
		var removed bool
		if err = b.settings.Update(func(s *settings.Settings) {
			removed = s.RemoveFromList(mode, id)
		}); err != nil {
			return errorReply(err)
		}
		if !removed {
			return textReply(fmt.Sprintf("No entry %d", id))
		}
		return textReply(fmt.Sprintf("Removed entry %d", id))
	default:
		return OutgoingText{Text: helpText, HTML: true}
	}
}

func textReply(text string) OutgoingText {
	return OutgoingText{Text: telegramfmt.Escape(text), HTML: true}
}

func errorReply(err error) OutgoingText {
	return textReply("Error: " + err.Error())
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}
