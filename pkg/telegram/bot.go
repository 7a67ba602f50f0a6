// Copyright 2024-2026 Aiku AI

// Package telegram is the control network side of the bridge: a Bot API
// client that implements the connector's control interfaces and a long
// polling router that feeds operator input back into the bridge.
package telegram

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/mymmrac/telego"
	"github.com/mymmrac/telego/telegoapi"
	tu "github.com/mymmrac/telego/telegoutil"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/aiku/wechat-tg-bridge/pkg/connector"
)

// maxDownloadSize is the Bot API download limit for operator media.
const maxDownloadSize = 20 * 1024 * 1024

// BotConfig configures a [Bot].
type BotConfig struct {
	Token string
	// APIURL overrides the Bot API server, e.g. for a self-hosted server
	// with a higher upload limit.
	APIURL            string
	Proxy             string
	MessagesPerSecond int
}

// Bot wraps a telego bot with request pacing and error classification. It
// implements [connector.ControlClient] and [connector.LargeFileTransport].
type Bot struct {
	api     *telego.Bot
	limiter *rate.Limiter
	http    *http.Client
	log     zerolog.Logger
}

var (
	_ connector.ControlClient      = (*Bot)(nil)
	_ connector.LargeFileTransport = (*Bot)(nil)
)

func NewBot(cfg BotConfig, log zerolog.Logger) (*Bot, error) {
	httpClient := &http.Client{}
	if cfg.Proxy != "" {
		proxyURL, err := url.Parse(cfg.Proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL %q: %w", cfg.Proxy, err)
		}
		httpClient.Transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
	}
	opts := []telego.BotOption{telego.WithHTTPClient(httpClient), telego.WithDiscardLogger()}
	if cfg.APIURL != "" {
		opts = append(opts, telego.WithAPIServer(strings.TrimSuffix(cfg.APIURL, "/")))
	}
	api, err := telego.NewBot(cfg.Token, opts...)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	perSecond := cfg.MessagesPerSecond
	if perSecond <= 0 {
		perSecond = 20
	}
	return &Bot{
		api:     api,
		limiter: rate.NewLimiter(rate.Limit(perSecond), perSecond),
		http:    httpClient,
		log:     log,
	}, nil
}

// API exposes the underlying telego bot.
func (b *Bot) API() *telego.Bot {
	return b.api
}

// classify maps Bot API failures onto the connector's error classes.
func classify(err error) error {
	var apiErr *telegoapi.Error
	if !errors.As(err, &apiErr) {
		return err
	}
	desc := strings.ToLower(apiErr.Description)
	switch {
	case apiErr.ErrorCode == http.StatusForbidden,
		strings.Contains(desc, "chat not found"),
		strings.Contains(desc, "bot was kicked"),
		strings.Contains(desc, "not enough rights"),
		strings.Contains(desc, "have no rights"):
		return fmt.Errorf("%w: %w", connector.ErrDestinationForbidden, err)
	case strings.Contains(desc, "message is not modified"):
		return fmt.Errorf("%w: %w", connector.ErrMessageNotModified, err)
	case strings.Contains(desc, "message to edit not found"),
		strings.Contains(desc, "message to pin not found"),
		strings.Contains(desc, "message to delete not found"),
		strings.Contains(desc, "message can't be edited"):
		return fmt.Errorf("%w: %w", connector.ErrMessageNotFound, err)
	}
	return err
}

func (b *Bot) wait(ctx context.Context) error {
	if err := b.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	return nil
}

func keyboard(rows [][]connector.Button) *telego.InlineKeyboardMarkup {
	if len(rows) == 0 {
		return nil
	}
	out := make([][]telego.InlineKeyboardButton, 0, len(rows))
	for _, row := range rows {
		buttons := make([]telego.InlineKeyboardButton, 0, len(row))
		for _, btn := range row {
			buttons = append(buttons, tu.InlineKeyboardButton(btn.Text).WithCallbackData(btn.Data))
		}
		out = append(out, tu.InlineKeyboardRow(buttons...))
	}
	return tu.InlineKeyboard(out...)
}

func parseMode(html bool) string {
	if html {
		return telego.ModeHTML
	}
	return ""
}

func (b *Bot) SendText(ctx context.Context, chatID int64, msg connector.OutgoingText) (int, error) {
	if err := b.wait(ctx); err != nil {
		return 0, err
	}
	params := tu.Message(tu.ID(chatID), msg.Text)
	params.ParseMode = parseMode(msg.HTML)
	params.LinkPreviewOptions = &telego.LinkPreviewOptions{IsDisabled: true}
	if msg.ReplyTo != 0 {
		params.ReplyParameters = &telego.ReplyParameters{MessageID: msg.ReplyTo, AllowSendingWithoutReply: true}
	}
	if kb := keyboard(msg.Buttons); kb != nil {
		params.ReplyMarkup = kb
	}
	sent, err := b.api.SendMessage(ctx, params)
	if err != nil {
		return 0, classify(err)
	}
	return sent.MessageID, nil
}

func (b *Bot) SendMedia(ctx context.Context, chatID int64, media connector.OutgoingMedia) (int, error) {
	if err := b.wait(ctx); err != nil {
		return 0, err
	}
	id := tu.ID(chatID)
	file := tu.File(tu.NameReader(bytes.NewReader(media.Data), media.Name))
	mode := parseMode(media.HTML)
	var sent *telego.Message
	var err error
	switch media.Type {
	case connector.MediaPhoto:
		sent, err = b.api.SendPhoto(ctx, &telego.SendPhotoParams{ChatID: id, Photo: file, Caption: media.Caption, ParseMode: mode})
	case connector.MediaVideo:
		sent, err = b.api.SendVideo(ctx, &telego.SendVideoParams{ChatID: id, Video: file, Caption: media.Caption, ParseMode: mode})
	case connector.MediaAudio:
		sent, err = b.api.SendAudio(ctx, &telego.SendAudioParams{ChatID: id, Audio: file, Caption: media.Caption, ParseMode: mode})
	case connector.MediaVoice:
		sent, err = b.api.SendVoice(ctx, &telego.SendVoiceParams{ChatID: id, Voice: file, Caption: media.Caption, ParseMode: mode})
	case connector.MediaAnimation:
		sent, err = b.api.SendAnimation(ctx, &telego.SendAnimationParams{ChatID: id, Animation: file, Caption: media.Caption, ParseMode: mode})
	default:
		sent, err = b.api.SendDocument(ctx, &telego.SendDocumentParams{ChatID: id, Document: file, Caption: media.Caption, ParseMode: mode})
	}
	if err != nil {
		return 0, classify(err)
	}
	return sent.MessageID, nil
}

func (b *Bot) EditMessageText(ctx context.Context, chatID int64, messageID int, text string) error {
	if err := b.wait(ctx); err != nil {
		return err
	}
	_, err := b.api.EditMessageText(ctx, &telego.EditMessageTextParams{
		ChatID:    tu.ID(chatID),
		MessageID: messageID,
		Text:      text,
	})
	return classify(err)
}

func (b *Bot) PinMessage(ctx context.Context, chatID int64, messageID int) error {
	if err := b.wait(ctx); err != nil {
		return err
	}
	return classify(b.api.PinChatMessage(ctx, &telego.PinChatMessageParams{
		ChatID:              tu.ID(chatID),
		MessageID:           messageID,
		DisableNotification: true,
	}))
}

func (b *Bot) DeleteMessage(ctx context.Context, chatID int64, messageID int) error {
	if err := b.wait(ctx); err != nil {
		return err
	}
	return classify(b.api.DeleteMessage(ctx, &telego.DeleteMessageParams{
		ChatID:    tu.ID(chatID),
		MessageID: messageID,
	}))
}

func (b *Bot) PinnedMessage(ctx context.Context, chatID int64) (int, error) {
	chat, err := b.api.GetChat(ctx, &telego.GetChatParams{ChatID: tu.ID(chatID)})
	if err != nil {
		return 0, classify(err)
	}
	if chat.PinnedMessage == nil {
		return 0, nil
	}
	return chat.PinnedMessage.MessageID, nil
}

// DownloadFile fetches an operator upload by file ID.
func (b *Bot) DownloadFile(ctx context.Context, fileID string) ([]byte, error) {
	file, err := b.api.GetFile(ctx, &telego.GetFileParams{FileID: fileID})
	if err != nil {
		return nil, fmt.Errorf("get file info: %w", classify(err))
	}
	if file.FilePath == "" {
		return nil, fmt.Errorf("empty file path for file_id %s", fileID)
	}
	if file.FileSize > maxDownloadSize {
		return nil, fmt.Errorf("file too large: %d bytes", file.FileSize)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.api.FileDownloadURL(file.FilePath), nil)
	if err != nil {
		return nil, err
	}
	resp, err := b.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download failed with status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxDownloadSize))
}
