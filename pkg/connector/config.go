// Copyright 2024-2026 Aiku AI

package connector

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	up "go.mau.fi/util/configupgrade"
	"go.mau.fi/zeroconfig"
	"gopkg.in/yaml.v3"
)

//go:embed example-config.yaml
var ExampleConfig string

// LargeFileThreshold is the upload limit of the public Bot API. Payloads
// above it need a [LargeFileTransport].
const LargeFileThreshold = 50 * 1024 * 1024

// TelegramConfig configures the control network bot.
type TelegramConfig struct {
	BotToken string `yaml:"bot_token"`
	// OwnerID is the only user allowed to drive the bridge. When zero, the
	// first user to send /start claims the bridge.
	OwnerID int64 `yaml:"owner_id"`
	// ChatID overrides the default control chat. When zero, the chat where
	// the owner sent /start is used.
	ChatID int64  `yaml:"chat_id"`
	APIURL string `yaml:"api_url"`
	// LargeFileAPIURL points at a self-hosted Bot API server used for
	// uploads above LargeFileThreshold. Leave empty to disable.
	LargeFileAPIURL string `yaml:"large_file_api_url"`
	Proxy           string `yaml:"proxy"`
	// MessagesPerSecond throttles outgoing requests.
	MessagesPerSecond int `yaml:"messages_per_second"`
}

// OneBotConfig configures the source network gateway connection.
type OneBotConfig struct {
	URL         string `yaml:"url"`
	AccessToken string `yaml:"access_token"`
	// ReconnectInterval is in seconds.
	ReconnectInterval int `yaml:"reconnect_interval"`
	// RequestTimeout is in seconds.
	RequestTimeout int `yaml:"request_timeout"`
}

// StorageConfig lists the on-disk state locations.
type StorageConfig struct {
	Database     string `yaml:"database"`
	Settings     string `yaml:"settings"`
	StickerCache string `yaml:"sticker_cache"`
}

// Config is the bridge configuration file.
type Config struct {
	Telegram TelegramConfig `yaml:"telegram"`
	OneBot   OneBotConfig   `yaml:"onebot"`
	Storage  StorageConfig  `yaml:"storage"`

	CorrelationCacheSize int `yaml:"correlation_cache_size"`
	// UndoTTL is in seconds.
	UndoTTL int `yaml:"undo_ttl"`
	// RefreshInterval is in minutes. Zero disables periodic refresh.
	RefreshInterval int `yaml:"refresh_interval"`
	// AdminAPIAddr is the listen address for the admin HTTP API. Empty
	// disables it.
	AdminAPIAddr string `yaml:"admin_api_addr"`

	Logging zeroconfig.Config `yaml:"logging"`
}

func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	type rawConfig Config
	return node.Decode((*rawConfig)(c))
}

// PostProcess applies environment overrides, fills defaults and validates.
func (c *Config) PostProcess() error {
	if token := os.Getenv("BRIDGE_TELEGRAM_TOKEN"); token != "" {
		c.Telegram.BotToken = token
	}
	if owner := os.Getenv("BRIDGE_TELEGRAM_OWNER"); owner != "" {
		id, err := strconv.ParseInt(owner, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid BRIDGE_TELEGRAM_OWNER: %w", err)
		}
		c.Telegram.OwnerID = id
	}
	if url := os.Getenv("BRIDGE_ONEBOT_URL"); url != "" {
		c.OneBot.URL = url
	}
	if token := os.Getenv("BRIDGE_ONEBOT_TOKEN"); token != "" {
		c.OneBot.AccessToken = token
	}
	if addr := os.Getenv("BRIDGE_API_ADDR"); addr != "" {
		c.AdminAPIAddr = addr
	}

	if c.Telegram.BotToken == "" {
		return errors.New("telegram.bot_token is required")
	}
	if c.OneBot.URL == "" {
		return errors.New("onebot.url is required")
	}
	if c.Telegram.MessagesPerSecond <= 0 {
		c.Telegram.MessagesPerSecond = 20
	}
	if c.OneBot.ReconnectInterval <= 0 {
		c.OneBot.ReconnectInterval = 5
	}
	if c.OneBot.RequestTimeout <= 0 {
		c.OneBot.RequestTimeout = 30
	}
	if c.Storage.Database == "" {
		c.Storage.Database = "data/bridge.db"
	}
	if c.Storage.Settings == "" {
		c.Storage.Settings = "data/settings.yaml"
	}
	if c.Storage.StickerCache == "" {
		c.Storage.StickerCache = "data/stickers"
	}
	if c.CorrelationCacheSize <= 0 {
		c.CorrelationCacheSize = DefaultCorrelationSize
	}
	if c.UndoTTL <= 0 {
		c.UndoTTL = int(DefaultUndoTTL / time.Second)
	}
	return nil
}

func (c *Config) undoTTL() time.Duration {
	return time.Duration(c.UndoTTL) * time.Second
}

func (c *Config) refreshInterval() time.Duration {
	return time.Duration(c.RefreshInterval) * time.Minute
}

func upgradeConfig(helper up.Helper) {
	helper.Copy(up.Str, "telegram", "bot_token")
	helper.Copy(up.Int, "telegram", "owner_id")
	helper.Copy(up.Int, "telegram", "chat_id")
	helper.Copy(up.Str, "telegram", "api_url")
	helper.Copy(up.Str, "telegram", "large_file_api_url")
	helper.Copy(up.Str, "telegram", "proxy")
	helper.Copy(up.Int, "telegram", "messages_per_second")
	helper.Copy(up.Str, "onebot", "url")
	helper.Copy(up.Str, "onebot", "access_token")
	helper.Copy(up.Int, "onebot", "reconnect_interval")
	helper.Copy(up.Int, "onebot", "request_timeout")
	helper.Copy(up.Str, "storage", "database")
	helper.Copy(up.Str, "storage", "settings")
	helper.Copy(up.Str, "storage", "sticker_cache")
	helper.Copy(up.Int, "correlation_cache_size")
	helper.Copy(up.Int, "undo_ttl")
	helper.Copy(up.Int, "refresh_interval")
	helper.Copy(up.Str, "admin_api_addr")
	helper.Copy(up.Map, "logging")
}

// Upgrader returns the config upgrader with the embedded example as base.
func Upgrader() up.BaseUpgrader {
	return &up.StructUpgrader{
		SimpleUpgrader: up.SimpleUpgrader(upgradeConfig),
		Blocks: [][]string{
			{"onebot"},
			{"storage"},
			{"correlation_cache_size"},
			{"logging"},
		},
		Base: ExampleConfig,
	}
}

// LoadConfig upgrades the file at path against the example config, saving
// the result when save is set, and parses it.
func LoadConfig(path string, save bool) (*Config, error) {
	data, _, err := up.Do(path, save, Upgrader())
	if err != nil {
		return nil, fmt.Errorf("failed to upgrade config: %w", err)
	}
	var cfg Config
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err = cfg.PostProcess(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// NewLogger compiles the logging block of the config.
func (c *Config) NewLogger() (*zerolog.Logger, error) {
	log, err := c.Logging.Compile()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return log, nil
}
