// Copyright 2024-2026 Aiku AI

package connector

import (
	"fmt"
	"testing"
)

func TestNewLocalIDUnique(t *testing.T) {
	t.Parallel()
	seen := make(map[string]bool)
	for range 1000 {
		id := NewLocalID()
		if seen[id] {
			t.Fatalf("NewLocalID returned %q twice", id)
		}
		if !ValidLocalID(id) {
			t.Fatalf("ValidLocalID(%q) = false", id)
		}
		seen[id] = true
	}
}

func TestValidLocalID(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   string
		want bool
	}{
		{"", false},
		{"wxid_alice", false},
		{"100@chatroom", false},
		{"9m4e2mr0ui3e8a215n4g", true},
	}
	for _, tt := range tests {
		if got := ValidLocalID(tt.in); got != tt.want {
			t.Errorf("ValidLocalID(%q): got %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestControlMessageKeyString(t *testing.T) {
	t.Parallel()
	key := ControlMessageKey{ChatID: -1001234, MessageID: 77}
	if got := key.String(); got != "-1001234:77" {
		t.Errorf("String: got %q, want %q", got, "-1001234:77")
	}
	other := ControlMessageKey{ChatID: -1001235, MessageID: 77}
	if key == other {
		t.Error("keys in different chats should differ")
	}
}

func TestCallbackDataRoundTrip(t *testing.T) {
	t.Parallel()
	data := MakeCallbackData(CallbackSelect, "9m4e2mr0ui3e8a215n4g")
	prefix, payload, err := ParseCallbackData(data)
	if err != nil {
		t.Fatalf("ParseCallbackData: %v", err)
	}
	if prefix != CallbackSelect || payload != "9m4e2mr0ui3e8a215n4g" {
		t.Errorf("got (%q, %q)", prefix, payload)
	}
}

func TestParseCallbackDataMalformed(t *testing.T) {
	t.Parallel()
	for _, data := range []string{"", "sel", "sel:", ":abc", "no-separator"} {
		if _, _, err := ParseCallbackData(data); err == nil {
			t.Errorf("ParseCallbackData(%q): expected error", data)
		}
	}
}

func ExampleMakeCallbackData() {
	data := MakeCallbackData(CallbackAcceptFriend, "ticket1")
	fmt.Println(data)
	prefix, payload, _ := ParseCallbackData(data)
	fmt.Println(prefix, payload)
	// Output:
	// acc:ticket1
	// acc ticket1
}
