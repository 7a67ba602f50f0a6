// Copyright 2024-2026 Aiku AI

package connector

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/disintegration/imaging"

	"github.com/aiku/wechat-tg-bridge/pkg/connector/telegramfmt"
)

const (
	// maxPhotoSize and maxPhotoDimensions are the control network's limits
	// for compressed photos. Larger images are downscaled first.
	maxPhotoSize       = 10 * 1024 * 1024
	maxPhotoDimensions = 10000
	photoFitSize       = 2560
	photoJPEGQuality   = 85
)

// mediaTypeFor picks the closest native media kind for a payload.
func mediaTypeFor(kind MessageKind, name string, compress bool) MediaType {
	ext := strings.ToLower(path.Ext(name))
	switch kind {
	case MsgImage:
		if ext == ".gif" {
			return MediaAnimation
		}
		if !compress {
			return MediaDocument
		}
		return MediaPhoto
	case MsgSticker:
		return MediaAnimation
	case MsgVideo:
		return MediaVideo
	case MsgAudio:
		if ext == ".mp3" || ext == ".m4a" {
			return MediaAudio
		}
		return MediaVoice
	default:
		return MediaDocument
	}
}

// preparePhoto downscales images the control network would reject as
// photos. It returns ok=false when the data cannot be decoded, in which case
// the payload should go out as a document.
func preparePhoto(data []byte) ([]byte, bool) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, false
	}
	bounds := img.Bounds()
	if len(data) <= maxPhotoSize && bounds.Dx()+bounds.Dy() <= maxPhotoDimensions {
		return data, true
	}
	resized := imaging.Fit(img, photoFitSize, photoFitSize, imaging.Lanczos)
	var buf bytes.Buffer
	if err = imaging.Encode(&buf, resized, imaging.JPEG, imaging.JPEGQuality(photoJPEGQuality)); err != nil {
		return nil, false
	}
	return buf.Bytes(), true
}

// fetchInbound materializes an inbound payload. Stickers go through the
// sticker converter when one is configured.
func (b *Bridge) fetchInbound(ctx context.Context, evt *MessageEvent) ([]byte, string, error) {
	handle := *evt.Media
	if evt.Kind == MsgSticker && b.stickers != nil {
		key := evt.Sticker
		if key == "" {
			key = handle.FileID
		}
		data, err := b.stickers.Convert(ctx, key, func(ctx context.Context) ([]byte, error) {
			return b.source.FetchMedia(ctx, handle)
		})
		return data, key + ".gif", err
	}
	data, err := b.source.FetchMedia(ctx, handle)
	return data, handle.Name, err
}

// relayMedia delivers an image, audio, video, file or sticker message.
// Captions follow as a separate message, even when the media send failed.
func (b *Bridge) relayMedia(ctx context.Context, dest int64, evt *MessageEvent, id telegramfmt.Identity, ref SourceMessageRef) {
	kind := evt.Kind.String()
	log := b.log.With().Str("kind", kind).Str("message_id", evt.MessageID).Logger()
	defer b.relayCaption(ctx, dest, evt, id, ref)

	if evt.Media == nil {
		log.Warn().Msg("Media message without payload handle")
		return
	}
	tooLarge := func() {
		log.Info().Int64("size", evt.Media.Size).Msg("Payload above the large file threshold")
		notice := telegramfmt.Message(id, fmt.Sprintf("[%s] too large, check source network", kind), false)
		chatID, msgID, err := b.deliverText(ctx, dest, kind, notice)
		if err == nil {
			b.correlate(chatID, msgID, ref)
		}
	}
	if b.large == nil && evt.Media.Size > b.largeFileThreshold {
		tooLarge()
		return
	}

	data, name, err := b.fetchInbound(ctx, evt)
	if err != nil {
		log.Err(err).Msg("Failed to fetch media")
		b.notifyFailure(ctx, kind)
		return
	}
	oversized := int64(len(data)) > b.largeFileThreshold
	if oversized && b.large == nil {
		tooLarge()
		return
	}

	compress := b.settings.Get().MediaCompression
	media := OutgoingMedia{
		Type:    mediaTypeFor(evt.Kind, name, compress),
		Name:    name,
		Data:    data,
		Caption: strings.TrimSuffix(id.Header(), " : "),
	}
	if media.Type == MediaPhoto {
		if prepared, ok := preparePhoto(data); ok {
			media.Data = prepared
		} else {
			media.Type = MediaDocument
		}
	}

	chatID, msgID, err := b.deliver(ctx, dest, kind, func(ctx context.Context, chatID int64) (int, error) {
		if oversized {
			return b.large.SendMedia(ctx, chatID, media)
		}
		return b.control.SendMedia(ctx, chatID, media)
	})
	if err != nil {
		log.Err(err).Msg("Failed to relay media")
		return
	}
	b.correlate(chatID, msgID, ref)
}

func (b *Bridge) relayCaption(ctx context.Context, dest int64, evt *MessageEvent, id telegramfmt.Identity, ref SourceMessageRef) {
	text := strings.TrimSpace(evt.Text)
	if text == "" {
		return
	}
	chatID, msgID, err := b.deliverText(ctx, dest, "caption", telegramfmt.Message(id, text, false))
	if err != nil {
		b.log.Err(err).Str("message_id", evt.MessageID).Msg("Failed to relay caption")
		return
	}
	b.correlate(chatID, msgID, ref)
}

// prepareOutbound converts operator stickers to an animation the source
// network can display.
func (b *Bridge) prepareOutbound(ctx context.Context, media OutboundMedia) (OutboundMedia, error) {
	if media.Kind != MsgSticker || b.stickers == nil {
		return media, nil
	}
	key := strings.TrimSuffix(media.Name, path.Ext(media.Name))
	data, err := b.stickers.Convert(ctx, key, func(context.Context) ([]byte, error) {
		return media.Data, nil
	})
	if err != nil {
		return media, fmt.Errorf("failed to convert sticker: %w", err)
	}
	return OutboundMedia{Kind: MsgImage, Name: key + ".gif", Data: data}, nil
}
