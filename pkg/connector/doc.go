// Copyright 2024-2026 Aiku AI

// Package connector relays a WeChat account into the Telegram chat of a
// single operator and routes the operator's replies back.
//
// # Core Types
//
// [Bridge] owns the routing state of one source session. It consumes
// [SourceEvent] values from a [SourceClient] and drives a [ControlClient].
//
// [Directory] enumerates contacts and groups and hands out stable local IDs
// for use in inline buttons. IDs never leak network identities to the
// control chat.
//
// [BindTable] sends a conversation to a dedicated chat. When a bound chat
// becomes unreachable its entries are invalidated and delivery falls back
// to the default chat.
//
// [CorrelationCache] maps relayed control messages to the source messages
// they carry, so replying in the control chat answers the right sender.
// [UndoCache] remembers the operator's own sends for a short time so they
// can be retracted with [RetractionKeyword].
//
// [Selection] is the single reply target. It is mirrored in a pinned status
// message ([StatusPin]) and changes automatically when a new individual
// message arrives, unless a send is in flight.
//
// # Ordering
//
// Inbound events are processed one at a time in arrival order. Callers that
// receive events on a network goroutine use [Bridge.QueueSourceEvent].
//
// # Sub-packages
//
//   - telegramfmt renders message headers and bodies as Telegram HTML.
//   - wechatfmt normalizes source network text and location payloads.
//   - stickercache converts and caches animated stickers on disk.
package connector
