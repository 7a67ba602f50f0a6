// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/aiku/wechat-tg-bridge/pkg/settings"
)

func TestCommandSearch(t *testing.T) {
	t.Parallel()
	env := newLoggedInBridge(t)
	ctx := context.Background()

	tests := []struct {
		command, args string
		wantButtons   []string
	}{
		{"user", "Al", []string{"👤 [al] Alice"}},
		{"user", "al", []string{"👤 [al] Alice"}},
		{"room", "Team", []string{"🌐 Design Team"}},
		{"official", "", []string{"📣 News"}},
		{"ROOM", "o", []string{"🌐 Noisy"}},
	}
	for _, tt := range tests {
		reply := env.bridge.HandleCommand(ctx, testDefaultChat, tt.command, tt.args)
		var got []string
		for _, row := range reply.Buttons {
			for _, btn := range row {
				got = append(got, btn.Text)
				prefix, _, err := ParseCallbackData(btn.Data)
				if err != nil || prefix != CallbackSelect {
					t.Errorf("/%s %s: button data %q", tt.command, tt.args, btn.Data)
				}
			}
		}
		if strings.Join(got, "|") != strings.Join(tt.wantButtons, "|") {
			t.Errorf("/%s %q: got %v, want %v", tt.command, tt.args, got, tt.wantButtons)
		}
	}
}

func TestCommandSearchNoMatch(t *testing.T) {
	t.Parallel()
	env := newLoggedInBridge(t)
	reply := env.bridge.HandleCommand(context.Background(), testDefaultChat, "user", "Zed")
	if len(reply.Buttons) != 0 {
		t.Errorf("buttons: got %d, want 0", len(reply.Buttons))
	}
	if !strings.HasPrefix(reply.Text, "No individual conversation matches") {
		t.Errorf("text: got %q", reply.Text)
	}
}

func TestCommandSearchLoggedOut(t *testing.T) {
	t.Parallel()
	env := newTestBridge(t)
	reply := env.bridge.HandleCommand(context.Background(), testDefaultChat, "user", "Alice")
	if reply.Text != "Not logged in to the source network" {
		t.Errorf("text: got %q", reply.Text)
	}
}

func TestCallbackSelect(t *testing.T) {
	t.Parallel()
	env := newLoggedInBridge(t)
	ctx := context.Background()
	bob := env.conversation(t, KindIndividual, "wxid_bob")

	answer, err := env.bridge.HandleCallback(ctx, MakeCallbackData(CallbackSelect, bob.LocalID))
	if err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}
	if answer != "Selected Bob" {
		t.Errorf("answer: got %q", answer)
	}
	state, ok := env.bridge.Selection.Current()
	if !ok || state.Conversation.NetworkID != "wxid_bob" || state.Mode != ModeUser {
		t.Errorf("selection: got %+v, %v", state, ok)
	}
	pins := env.control.callsOf("pin")
	if len(pins) != 1 || pins[0].ChatID != testDefaultChat {
		t.Errorf("status pin: got %+v", pins)
	}
}

func TestCallbackErrors(t *testing.T) {
	t.Parallel()
	env := newLoggedInBridge(t)
	ctx := context.Background()

	if _, err := env.bridge.HandleCallback(ctx, MakeCallbackData(CallbackSelect, NewLocalID())); !errors.Is(err, ErrUnknownConversation) {
		t.Errorf("unknown local ID: got %v", err)
	}
	if _, err := env.bridge.HandleCallback(ctx, "zzz:payload"); err == nil {
		t.Error("unknown prefix: expected error")
	}
	if _, err := env.bridge.HandleCallback(ctx, "garbage"); err == nil {
		t.Error("malformed data: expected error")
	}
	if _, err := env.bridge.HandleCallback(ctx, MakeCallbackData(CallbackAcceptFriend, "nope")); err == nil {
		t.Error("unknown friend request: expected error")
	}
	if _, ok := env.bridge.Selection.Current(); ok {
		t.Error("failed callbacks must not change the selection")
	}
}

func TestCommandRecent(t *testing.T) {
	t.Parallel()
	env := newLoggedInBridge(t)
	ctx := context.Background()

	reply := env.bridge.HandleCommand(ctx, testDefaultChat, "recent", "")
	if reply.Text != "No recent conversations" {
		t.Errorf("empty: got %q", reply.Text)
	}

	relay(t, env, textFrom(aliceEntity, "m1", "hi"))
	relay(t, env, textFrom(bobEntity, "m2", "yo"))
	reply = env.bridge.HandleCommand(ctx, testDefaultChat, "recent", "")
	if len(reply.Buttons) != 2 {
		t.Fatalf("buttons: got %d, want 2", len(reply.Buttons))
	}
	if reply.Buttons[0][0].Text != "👤 Bob" {
		t.Errorf("most recent first: got %q", reply.Buttons[0][0].Text)
	}
}

func TestCommandBind(t *testing.T) {
	t.Parallel()
	env := newLoggedInBridge(t)
	ctx := context.Background()
	const groupChat int64 = -2000
	team := env.conversation(t, KindGroup, "100@chatroom")

	reply := env.bridge.HandleCommand(ctx, groupChat, "bind", "")
	if reply.Text != "Select a conversation first or pass its ID" {
		t.Errorf("no selection: got %q", reply.Text)
	}

	reply = env.bridge.HandleCommand(ctx, groupChat, "bind", team.LocalID)
	if reply.Text != "Messages from Design Team now go to this chat" {
		t.Errorf("bind by ID: got %q", reply.Text)
	}
	if got := env.bridge.Binds.ResolveDestination(team); got != groupChat {
		t.Errorf("destination: got %d, want %d", got, groupChat)
	}
	if e, ok := env.store.binds["100@chatroom"]; !ok || e.ChatID != groupChat || e.Name != "Design Team" {
		t.Errorf("persisted entry: got %+v, %v", e, ok)
	}

	env.selectEntity(t, KindIndividual, "wxid_alice")
	env.bridge.HandleCommand(ctx, groupChat, "bind", "")
	alice := env.conversation(t, KindIndividual, "wxid_alice")
	if got := env.bridge.Binds.ResolveDestination(alice); got != groupChat {
		t.Errorf("bind selection: got %d, want %d", got, groupChat)
	}

	reply = env.bridge.HandleCommand(ctx, groupChat, "bind", "missing")
	if !strings.HasPrefix(reply.Text, "Error: unknown conversation") {
		t.Errorf("unknown ID: got %q", reply.Text)
	}

	reply = env.bridge.HandleCommand(ctx, groupChat, "unbind", "")
	if reply.Text != "Removed 2 bind entries" {
		t.Errorf("unbind: got %q", reply.Text)
	}
	if got := env.bridge.Binds.ResolveDestination(team); got != testDefaultChat {
		t.Errorf("after unbind: got %d, want default", got)
	}
	if len(env.store.binds) != 0 {
		t.Errorf("persisted after unbind: got %v", env.store.binds)
	}
	reply = env.bridge.HandleCommand(ctx, groupChat, "unbind", "")
	if reply.Text != "Removed 0 bind entries" {
		t.Errorf("second unbind: got %q", reply.Text)
	}
}

func TestCommandSet(t *testing.T) {
	t.Parallel()
	env := newTestBridge(t)
	ctx := context.Background()

	reply := env.bridge.HandleCommand(ctx, testDefaultChat, "set", "")
	lines := strings.Split(reply.Text, "\n")
	if len(lines) != len(settings.OptionNames()) {
		t.Fatalf("option list: got %d lines, want %d", len(lines), len(settings.OptionNames()))
	}
	if lines[1] != "auto_switch: on" {
		t.Errorf("auto_switch line: got %q", lines[1])
	}

	tests := []struct {
		args, want string
	}{
		{"auto_switch off", "auto_switch is now off"},
		{"confirm_sends ON", "confirm_sends is now on"},
		{"warn_unselected 1", "warn_unselected is now on"},
		{"auto_switch maybe", "Usage: /set &lt;option&gt; on|off"},
		{"auto_switch", "Usage: /set &lt;option&gt; on|off"},
	}
	for _, tt := range tests {
		reply = env.bridge.HandleCommand(ctx, testDefaultChat, "set", tt.args)
		if reply.Text != tt.want {
			t.Errorf("/set %s: got %q, want %q", tt.args, reply.Text, tt.want)
		}
	}
	s := env.settings.Get()
	if s.AutoSwitch || !s.ConfirmSends || !s.WarnUnselected {
		t.Errorf("settings after /set: got %+v", s)
	}

	reply = env.bridge.HandleCommand(ctx, testDefaultChat, "set", "bogus on")
	if !strings.Contains(reply.Text, "unknown option") {
		t.Errorf("unknown option: got %q", reply.Text)
	}
}

func TestCommandMode(t *testing.T) {
	t.Parallel()
	env := newTestBridge(t)
	ctx := context.Background()

	reply := env.bridge.HandleCommand(ctx, testDefaultChat, "mode", "white")
	if reply.Text != "Notification mode set to white" {
		t.Errorf("white: got %q", reply.Text)
	}
	if env.settings.Get().NotificationMode != settings.ModeWhitelist {
		t.Error("mode not persisted")
	}
	reply = env.bridge.HandleCommand(ctx, testDefaultChat, "mode", "grey")
	if !strings.Contains(reply.Text, "unknown notification mode") {
		t.Errorf("invalid mode: got %q", reply.Text)
	}
	if env.settings.Get().NotificationMode != settings.ModeWhitelist {
		t.Error("invalid mode must not change the setting")
	}
}

func TestCommandGroupLists(t *testing.T) {
	t.Parallel()
	env := newTestBridge(t)
	ctx := context.Background()

	steps := []struct {
		command, args, want string
	}{
		{"black", "", "The black list is empty"},
		{"black", "add Noisy", "Added Noisy as 1"},
		{"black", "add Spam Group", "Added Spam Group as 2"},
		{"black", "add Noisy", "Noisy is already listed as 1"},
		{"black", "", "1. Noisy\n2. Spam Group"},
		{"black", "del 1", "Removed entry 1"},
		{"black", "del 1", "No entry 1"},
		{"black", "del x", "Usage: /black del &lt;id&gt;"},
		{"black", "add", "Usage: /black add &lt;group name&gt;"},
		{"white", "", "The white list is empty"},
		{"white", "add Design Team", "Added Design Team as 1"},
		{"white", "", "1. Design Team"},
	}
	for _, st := range steps {
		reply := env.bridge.HandleCommand(ctx, testDefaultChat, st.command, st.args)
		if reply.Text != st.want {
			t.Errorf("/%s %s: got %q, want %q", st.command, st.args, reply.Text, st.want)
		}
	}
	s := env.settings.Get()
	if !s.ListContains(settings.ModeBlacklist, "Spam Group") || s.ListContains(settings.ModeBlacklist, "Noisy") {
		t.Errorf("blacklist: got %+v", s.Blacklist)
	}
	if !s.ListContains(settings.ModeWhitelist, "Design Team") {
		t.Errorf("whitelist: got %+v", s.Whitelist)
	}
}

func TestCommandStatus(t *testing.T) {
	t.Parallel()
	env := newLoggedInBridge(t)
	ctx := context.Background()
	env.selectEntity(t, KindGroup, "100@chatroom")

	reply := env.bridge.HandleCommand(ctx, testDefaultChat, "status", "")
	for _, want := range []string{
		"Source network: logged in",
		"Conversations: ",
		"Selected: 🌐 Design Team",
		"Bind entries: 0",
		"Notification mode: black",
		"auto_switch: on",
	} {
		if !strings.Contains(reply.Text, want) {
			t.Errorf("status missing %q:\n%s", want, reply.Text)
		}
	}
}

func TestCommandReset(t *testing.T) {
	t.Parallel()
	env := newLoggedInBridge(t)
	ctx := context.Background()
	env.selectEntity(t, KindIndividual, "wxid_alice")
	relay(t, env, textFrom(bobEntity, "m1", "hi"))

	reply := env.bridge.HandleCommand(ctx, testDefaultChat, "reset", "")
	if reply.Text != "Logged out, a new login QR code will follow" {
		t.Errorf("reset: got %q", reply.Text)
	}
	if env.source.logouts != 1 {
		t.Errorf("logouts: got %d, want 1", env.source.logouts)
	}
	if env.bridge.IsLoggedIn() {
		t.Error("still logged in after reset")
	}
	if env.bridge.Directory.Len() != 0 {
		t.Errorf("directory: got %d entries, want 0", env.bridge.Directory.Len())
	}
	if _, ok := env.bridge.Selection.Current(); ok {
		t.Error("selection survived reset")
	}
	if len(env.bridge.Recent.List()) != 0 {
		t.Error("recent list survived reset")
	}
}

func TestCommandHelp(t *testing.T) {
	t.Parallel()
	env := newTestBridge(t)
	for _, cmd := range []string{"help", "start", "whatever"} {
		reply := env.bridge.HandleCommand(context.Background(), testDefaultChat, cmd, "")
		if !reply.HTML || !strings.HasPrefix(reply.Text, "<b>Commands</b>") {
			t.Errorf("/%s: got %q", cmd, reply.Text)
		}
	}
}
