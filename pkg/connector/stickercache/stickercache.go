// Copyright 2024-2026 Aiku AI

// Package stickercache converts animated stickers to GIF once and keeps the
// result on disk, keyed by a content-stable sticker identifier.
package stickercache

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"go.mau.fi/util/ffmpeg"
	"golang.org/x/sync/singleflight"
)

// ErrFFmpegMissing is returned by the default converter when ffmpeg is not
// installed.
var ErrFFmpegMissing = errors.New("ffmpeg is not installed")

// ConvertFunc turns sticker data into a GIF.
type ConvertFunc func(ctx context.Context, data []byte) ([]byte, error)

var gifOutputArgs = []string{
	"-vf", "fps=15,scale=320:-1:flags=lanczos,split[a][b];[a]palettegen[p];[b][p]paletteuse",
	"-loop", "0",
}

// FFmpegGIF converts any animation ffmpeg can read into a looping GIF.
func FFmpegGIF(ctx context.Context, data []byte) ([]byte, error) {
	if !ffmpeg.Supported() {
		return nil, ErrFFmpegMissing
	}
	return ffmpeg.ConvertBytes(ctx, data, ".gif", nil, gifOutputArgs, http.DetectContentType(data))
}

// Cache is a disk-backed sticker conversion cache.
type Cache struct {
	dir     string
	convert ConvertFunc
	log     zerolog.Logger
	group   singleflight.Group
}

// New creates a cache in dir that converts with convert, or with ffmpeg when
// convert is nil.
func New(dir string, convert ConvertFunc, log zerolog.Logger) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create sticker cache dir: %w", err)
	}
	if convert == nil {
		convert = FFmpegGIF
	}
	return &Cache{dir: dir, convert: convert, log: log}, nil
}

func (c *Cache) path(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(c.dir, hex.EncodeToString(sum[:16])+".gif")
}

// Convert returns the GIF for key. fetch is only called when the sticker has
// not been converted before. Concurrent calls for the same key share one
// conversion.
func (c *Cache) Convert(ctx context.Context, key string, fetch func(ctx context.Context) ([]byte, error)) ([]byte, error) {
	path := c.path(key)
	if data, err := os.ReadFile(path); err == nil {
		return data, nil
	}
	v, err, _ := c.group.Do(key, func() (any, error) {
		if data, err := os.ReadFile(path); err == nil {
			return data, nil
		}
		raw, err := fetch(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch sticker: %w", err)
		}
		out := raw
		if !isGIF(raw) {
			if out, err = c.convert(ctx, raw); err != nil {
				return nil, fmt.Errorf("failed to convert sticker: %w", err)
			}
		}
		if err = writeAtomic(path, out); err != nil {
			c.log.Warn().Err(err).Str("key", key).Msg("Failed to cache converted sticker")
		}
		c.log.Debug().Str("key", key).Int("size", len(out)).Msg("Converted sticker")
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func isGIF(data []byte) bool {
	return bytes.HasPrefix(data, []byte("GIF87a")) || bytes.HasPrefix(data, []byte("GIF89a"))
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".sticker-*")
	if err != nil {
		return err
	}
	if _, err = tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err = tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
