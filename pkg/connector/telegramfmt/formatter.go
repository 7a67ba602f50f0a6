// Copyright 2024-2026 Aiku AI

// Package telegramfmt renders relayed messages as Telegram HTML.
package telegramfmt

import (
	"html"
	"strings"
)

// Identity describes who a relayed message comes from.
type Identity struct {
	Sender   string
	Room     string
	Official bool
	// Echo marks the operator's own sends. Recipient names the other side
	// of an echoed private message.
	Echo      bool
	Recipient string
}

// Header is the plain text identity prefix, also used as a media caption.
func (id Identity) Header() string {
	switch {
	case id.Echo && id.Room != "":
		return "👤me -> 🌐" + id.Room + " : "
	case id.Echo:
		recipient := id.Recipient
		if recipient == "" {
			recipient = "unknown"
		}
		return "👤me -> 👤" + recipient + " : "
	case id.Official:
		return "📣" + id.Sender + " : "
	case id.Room != "":
		return "🌐" + id.Room + " --- 👤" + id.Sender + " : "
	default:
		return "👤" + id.Sender + " : "
	}
}

// Escape escapes the characters Telegram HTML treats specially.
func Escape(s string) string {
	return html.EscapeString(s)
}

// Message renders the identity header in bold followed by body. body is
// escaped unless bodyIsHTML is set.
func Message(id Identity, body string, bodyIsHTML bool) string {
	if !bodyIsHTML {
		body = Escape(body)
	}
	return "<b>" + Escape(strings.TrimSuffix(id.Header(), " ")) + "</b> " + body
}

// Code wraps text in an inline code span.
func Code(text string) string {
	return "<code>" + Escape(text) + "</code>"
}

// Quote wraps text in a blockquote.
func Quote(text string) string {
	return "<blockquote>" + Escape(text) + "</blockquote>"
}

// Link renders an anchor. Empty titles fall back to the URL.
func Link(title, url string) string {
	if title == "" {
		title = url
	}
	return `<a href="` + html.EscapeString(url) + `">` + Escape(title) + "</a>"
}
