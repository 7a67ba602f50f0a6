// Copyright 2024-2026 Aiku AI

package telegram

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/mymmrac/telego"
	"github.com/rs/zerolog"

	"github.com/aiku/wechat-tg-bridge/pkg/connector"
	"github.com/aiku/wechat-tg-bridge/pkg/store"
)

// Operator is the bridge surface driven by control chat updates.
type Operator interface {
	Owner() int64
	DefaultChat() int64
	SetControlChat(ownerID, chatID int64)
	HandleCommand(ctx context.Context, chatID int64, command, args string) connector.OutgoingText
	HandleCallback(ctx context.Context, data string) (string, error)
	HandleOperatorMessage(ctx context.Context, msg *connector.OperatorMessage)
}

// OwnerStore persists the claimed operator.
type OwnerStore interface {
	GetOwner(ctx context.Context) (store.Owner, bool, error)
	SetOwner(ctx context.Context, owner store.Owner) error
}

// Downloader fetches operator uploads by file ID.
type Downloader interface {
	DownloadFile(ctx context.Context, fileID string) ([]byte, error)
}

// MenuCommands is the command list registered with the bot.
var MenuCommands = []telego.BotCommand{
	{Command: "start", Description: "Claim the bridge and use this chat"},
	{Command: "user", Description: "Search contacts"},
	{Command: "room", Description: "Search groups"},
	{Command: "official", Description: "Search official accounts"},
	{Command: "recent", Description: "Recently active conversations"},
	{Command: "bind", Description: "Bind a conversation to this chat"},
	{Command: "unbind", Description: "Remove binds of this chat"},
	{Command: "set", Description: "Show or change options"},
	{Command: "mode", Description: "Group notification mode"},
	{Command: "black", Description: "Manage the blacklist"},
	{Command: "white", Description: "Manage the whitelist"},
	{Command: "status", Description: "Bridge status"},
	{Command: "reset", Description: "Log out and clear the session"},
	{Command: "help", Description: "Show help"},
}

// Router turns control network updates into bridge operations.
type Router struct {
	bot      *Bot
	files    Downloader
	operator Operator
	owners   OwnerStore
	// fixedChat pins the default chat regardless of where /start is sent.
	fixedChat int64
	log       zerolog.Logger
}

func NewRouter(bot *Bot, operator Operator, owners OwnerStore, fixedChat int64, log zerolog.Logger) *Router {
	return &Router{
		bot:       bot,
		files:     bot,
		operator:  operator,
		owners:    owners,
		fixedChat: fixedChat,
		log:       log,
	}
}

// RestoreOwner applies a previously claimed owner when none is configured.
func (r *Router) RestoreOwner(ctx context.Context) error {
	if r.owners == nil {
		return nil
	}
	owner, ok, err := r.owners.GetOwner(ctx)
	if err != nil {
		return fmt.Errorf("load owner: %w", err)
	}
	if !ok {
		return nil
	}
	if configured := r.operator.Owner(); configured != 0 && configured != owner.UserID {
		r.log.Warn().Int64("stored", owner.UserID).Int64("configured", configured).
			Msg("Ignoring stored owner that differs from configuration")
		return nil
	}
	r.operator.SetControlChat(owner.UserID, r.chatFor(owner.ChatID))
	return nil
}

func (r *Router) chatFor(chatID int64) int64 {
	if r.fixedChat != 0 {
		return r.fixedChat
	}
	return chatID
}

// Run long-polls for updates until ctx is done. Updates are handled one at
// a time so operator messages reach the source network in order.
func (r *Router) Run(ctx context.Context) error {
	if err := r.bot.api.SetMyCommands(ctx, &telego.SetMyCommandsParams{Commands: MenuCommands}); err != nil {
		r.log.Warn().Err(err).Msg("Failed to register bot commands")
	}
	updates, err := r.bot.api.UpdatesViaLongPolling(ctx, &telego.GetUpdatesParams{
		Timeout:        30,
		AllowedUpdates: []string{"message", "callback_query"},
	})
	if err != nil {
		return fmt.Errorf("start long polling: %w", err)
	}
	r.log.Info().Msg("Telegram long polling started")
	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				r.log.Info().Msg("Telegram updates channel closed")
				return nil
			}
			r.HandleUpdate(ctx, update)
		}
	}
}

// HandleUpdate dispatches one update.
func (r *Router) HandleUpdate(ctx context.Context, update telego.Update) {
	switch {
	case update.Message != nil:
		r.handleMessage(ctx, update.Message)
	case update.CallbackQuery != nil:
		r.handleCallback(ctx, update.CallbackQuery)
	default:
		r.log.Debug().Int("update_id", update.UpdateID).Msg("Telegram update skipped")
	}
}

func (r *Router) handleMessage(ctx context.Context, msg *telego.Message) {
	if msg.From == nil {
		return
	}
	log := r.log.With().Int64("chat_id", msg.Chat.ID).Int("message_id", msg.MessageID).Logger()
	command, args, isCommand := parseCommand(msg.Text)
	if isCommand && command == "start" {
		r.handleStart(ctx, msg, &log)
		return
	}
	owner := r.operator.Owner()
	if owner == 0 || msg.From.ID != owner {
		log.Debug().Int64("sender_id", msg.From.ID).Msg("Ignoring message from non-owner")
		return
	}
	if isCommand {
		reply := r.operator.HandleCommand(ctx, msg.Chat.ID, command, args)
		if reply.Text == "" {
			return
		}
		if _, err := r.bot.SendText(ctx, msg.Chat.ID, reply); err != nil {
			log.Err(err).Str("command", command).Msg("Failed to send command reply")
		}
		return
	}

	op := &connector.OperatorMessage{
		ChatID:    msg.Chat.ID,
		MessageID: msg.MessageID,
		SenderID:  msg.From.ID,
		Text:      msg.Text,
	}
	if msg.ReplyToMessage != nil {
		op.ReplyTo = msg.ReplyToMessage.MessageID
	}
	if fileID, media := operatorMedia(msg); media != nil {
		data, err := r.files.DownloadFile(ctx, fileID)
		if err != nil {
			log.Err(err).Msg("Failed to download operator media")
			if _, err = r.bot.SendText(ctx, msg.Chat.ID, connector.OutgoingText{
				Text:    "Failed to download the attachment, nothing was sent",
				ReplyTo: msg.MessageID,
			}); err != nil {
				log.Err(err).Msg("Failed to report download failure")
			}
			return
		}
		media.Data = data
		op.Media = media
		op.Text = msg.Caption
	}
	if op.Media == nil && strings.TrimSpace(op.Text) == "" {
		return
	}
	r.operator.HandleOperatorMessage(ctx, op)
}

func (r *Router) handleStart(ctx context.Context, msg *telego.Message, log *zerolog.Logger) {
	owner := r.operator.Owner()
	if owner != 0 && owner != msg.From.ID {
		log.Warn().Int64("sender_id", msg.From.ID).Msg("Rejected /start from non-owner")
		return
	}
	chatID := r.chatFor(msg.Chat.ID)
	r.operator.SetControlChat(msg.From.ID, chatID)
	if r.owners != nil {
		if err := r.owners.SetOwner(ctx, store.Owner{UserID: msg.From.ID, ChatID: msg.Chat.ID}); err != nil {
			log.Err(err).Msg("Failed to persist owner")
		}
	}
	text := "Bridge claimed, this chat is now the control chat"
	if owner != 0 {
		text = "This chat is now the control chat"
	}
	if chatID != msg.Chat.ID {
		text = "Bridge claimed, messages go to the configured control chat"
	}
	if _, err := r.bot.SendText(ctx, msg.Chat.ID, connector.OutgoingText{Text: text}); err != nil {
		log.Err(err).Msg("Failed to confirm /start")
	}
}

func (r *Router) handleCallback(ctx context.Context, query *telego.CallbackQuery) {
	log := r.log.With().Str("callback_id", query.ID).Logger()
	var text string
	if owner := r.operator.Owner(); owner == 0 || query.From.ID != owner {
		log.Debug().Int64("sender_id", query.From.ID).Msg("Ignoring callback from non-owner")
		text = "Not allowed"
	} else {
		var err error
		text, err = r.operator.HandleCallback(ctx, query.Data)
		if err != nil {
			log.Err(err).Str("data", query.Data).Msg("Callback failed")
			text = err.Error()
		}
	}
	if err := r.bot.api.AnswerCallbackQuery(ctx, &telego.AnswerCallbackQueryParams{
		CallbackQueryID: query.ID,
		Text:            text,
	}); err != nil {
		log.Err(err).Msg("Failed to answer callback query")
	}
}

// parseCommand splits "/cmd@bot args" into its lowercased name and args.
func parseCommand(text string) (command, args string, ok bool) {
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}
	head, rest, _ := strings.Cut(text[1:], " ")
	head, _, _ = strings.Cut(head, "@")
	if head == "" {
		return "", "", false
	}
	return strings.ToLower(head), strings.TrimSpace(rest), true
}

// operatorMedia picks the attachment of msg, returning its file ID and a
// media descriptor without data.
func operatorMedia(msg *telego.Message) (string, *connector.OutboundMedia) {
	switch {
	case len(msg.Photo) > 0:
		photo := msg.Photo[len(msg.Photo)-1]
		return photo.FileID, &connector.OutboundMedia{Kind: connector.MsgImage, Name: photo.FileUniqueID + ".jpg"}
	case msg.Sticker != nil:
		ext := ".webp"
		switch {
		case msg.Sticker.IsAnimated:
			ext = ".tgs"
		case msg.Sticker.IsVideo:
			ext = ".webm"
		}
		return msg.Sticker.FileID, &connector.OutboundMedia{Kind: connector.MsgSticker, Name: msg.Sticker.FileUniqueID + ext}
	case msg.Animation != nil:
		return msg.Animation.FileID, &connector.OutboundMedia{Kind: connector.MsgVideo, Name: orDefault(msg.Animation.FileName, "animation.mp4")}
	case msg.Video != nil:
		return msg.Video.FileID, &connector.OutboundMedia{Kind: connector.MsgVideo, Name: orDefault(msg.Video.FileName, "video.mp4")}
	case msg.Voice != nil:
		return msg.Voice.FileID, &connector.OutboundMedia{Kind: connector.MsgAudio, Name: "voice.ogg"}
	case msg.Audio != nil:
		return msg.Audio.FileID, &connector.OutboundMedia{Kind: connector.MsgAudio, Name: orDefault(msg.Audio.FileName, "audio.mp3")}
	case msg.Document != nil:
		return msg.Document.FileID, &connector.OutboundMedia{Kind: connector.MsgFile, Name: orDefault(path.Base(msg.Document.FileName), "file")}
	}
	return "", nil
}

func orDefault(s, fallback string) string {
	if s == "" || s == "." {
		return fallback
	}
	return s
}
