// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Params are the collaborators of a [Bridge]. LargeFiles, Binds and Stickers
// are optional.
type Params struct {
	Config     *Config
	Source     SourceClient
	Control    ControlClient
	LargeFiles LargeFileTransport
	Settings   SettingsStore
	Binds      BindStore
	Stickers   StickerConverter
	Log        zerolog.Logger
}

// Bridge owns all routing state of one source session and one control bot.
type Bridge struct {
	Config *Config
	log    zerolog.Logger

	source   SourceClient
	control  ControlClient
	large    LargeFileTransport
	settings SettingsStore
	stickers StickerConverter

	Directory   *Directory
	Binds       *BindTable
	Selection   *Selection
	Recent      *RecentConversations
	Status      *StatusPin
	Correlation *CorrelationCache
	Undo        *UndoCache

	queue *orderedQueue

	largeFileThreshold int64

	// sessionMu makes a reset atomic with respect to relays in progress.
	sessionMu sync.RWMutex

	chatMu  sync.RWMutex
	ownerID int64
	chatID  int64

	// pendingSends counts operator sends in flight. Auto-switch is held
	// back while it is non-zero.
	pendingSends atomic.Int32
	loggedIn     atomic.Bool

	loginMu          sync.Mutex
	qrMessageID      int
	loadingMessageID int

	friendMu       sync.Mutex
	friendRequests map[string]string
}

var _ DirectorySource = (SourceClient)(nil)

// NewBridge wires the state objects around the given collaborators.
func NewBridge(p Params) (*Bridge, error) {
	if p.Config == nil || p.Source == nil || p.Control == nil || p.Settings == nil {
		return nil, errors.New("config, source, control and settings are required")
	}
	corr, err := NewCorrelationCache(p.Config.CorrelationCacheSize)
	if err != nil {
		return nil, err
	}
	b := &Bridge{
		Config:         p.Config,
		log:            p.Log,
		source:         p.Source,
		control:        p.Control,
		large:          p.LargeFiles,
		settings:       p.Settings,
		stickers:       p.Stickers,
		Directory:      NewDirectory(p.Log.With().Str("component", "directory").Logger()),
		Selection:      &Selection{},
		Recent:         &RecentConversations{},
		Status:         NewStatusPin(p.Control, p.Log.With().Str("component", "status").Logger()),
		Correlation:    corr,
		Undo:           NewUndoCache(p.Config.undoTTL()),
		queue:          newOrderedQueue(),
		ownerID:        p.Config.Telegram.OwnerID,
		chatID:         p.Config.Telegram.ChatID,
		friendRequests: make(map[string]string),

		largeFileThreshold: LargeFileThreshold,
	}
	b.Binds = NewBindTable(b.DefaultChat, p.Binds, p.Log.With().Str("component", "binds").Logger())
	return b, nil
}

// DefaultChat returns the control chat used when no bind entry applies.
func (b *Bridge) DefaultChat() int64 {
	b.chatMu.RLock()
	defer b.chatMu.RUnlock()
	return b.chatID
}

// Owner returns the operator's control network user ID, or 0 if unclaimed.
func (b *Bridge) Owner() int64 {
	b.chatMu.RLock()
	defer b.chatMu.RUnlock()
	return b.ownerID
}

// SetControlChat records the operator and the default chat.
func (b *Bridge) SetControlChat(ownerID, chatID int64) {
	b.chatMu.Lock()
	changed := b.chatID != chatID
	b.ownerID = ownerID
	b.chatID = chatID
	b.chatMu.Unlock()
	if changed {
		b.Status.Forget()
	}
	b.log.Info().Int64("owner_id", ownerID).Int64("chat_id", chatID).Msg("Control chat set")
}

func (b *Bridge) IsLoggedIn() bool {
	return b.loggedIn.Load()
}

// Settings returns the operator option store.
func (b *Bridge) Settings() SettingsStore {
	return b.settings
}

// Start loads persisted binds and launches the background loops. It returns
// once they are running.
func (b *Bridge) Start(ctx context.Context) error {
	if err := b.Binds.Load(ctx); err != nil {
		return err
	}
	if interval := b.Config.refreshInterval(); interval > 0 {
		go b.WatchDirectory(ctx, interval)
	}
	if addr := b.Config.AdminAPIAddr; addr != "" {
		server := &http.Server{
			Addr:         addr,
			Handler:      b.AdminHandler(),
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
		go func() {
			b.log.Info().Str("addr", addr).Msg("Starting bridge admin API")
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				b.log.Err(err).Msg("Bridge admin API error")
			}
		}()
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		}()
	}
	return nil
}

// Wait blocks until queued inbound events have been processed.
func (b *Bridge) Wait() {
	b.queue.Wait()
}

// RefreshDirectory re-enumerates the source network and reconciles binds.
func (b *Bridge) RefreshDirectory(ctx context.Context) error {
	candidates, err := b.Directory.Refresh(ctx, b.source)
	if err != nil {
		return err
	}
	if err = b.Binds.Load(ctx); err != nil {
		b.log.Err(err).Msg("Failed to reload binds before rebuild")
	}
	b.Binds.Rebuild(ctx, candidates)
	return nil
}

// WatchDirectory periodically refreshes the directory until ctx is done.
func (b *Bridge) WatchDirectory(ctx context.Context, interval time.Duration) {
	b.log.Info().Dur("interval", interval).Msg("Starting directory refresh loop")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			b.log.Info().Msg("Directory refresh loop stopped")
			return
		case <-ticker.C:
			if !b.IsLoggedIn() {
				continue
			}
			if err := b.RefreshDirectory(ctx); err != nil {
				b.log.Err(err).Msg("Periodic directory refresh failed")
			}
		}
	}
}

// Reset logs out of the source network and forgets the directory, the
// selection, the bind table and the recent list together.
func (b *Bridge) Reset(ctx context.Context) error {
	b.loggedIn.Store(false)
	err := b.source.Logout(ctx)
	b.clearSession(ctx)
	if err != nil {
		return fmt.Errorf("failed to log out: %w", err)
	}
	return nil
}

func (b *Bridge) clearSession(ctx context.Context) {
	b.sessionMu.Lock()
	_, selected := b.Selection.Current()
	b.Directory.Reset()
	b.Selection.Clear()
	b.Binds.Reset()
	b.Recent.Clear()
	b.Correlation.Purge()
	b.Undo.Purge()
	b.friendMu.Lock()
	clear(b.friendRequests)
	b.friendMu.Unlock()
	b.sessionMu.Unlock()
	b.log.Info().Msg("Session state cleared")
	if selected {
		b.showNoSelection(ctx)
	}
}

// forgetConversation drops a conversation that no longer exists from the
// selection and the recent list.
func (b *Bridge) forgetConversation(ctx context.Context, kind ConversationKind, networkID string) {
	b.Recent.Remove(kind, networkID)
	if b.Selection.ClearIf(kind, networkID) {
		b.log.Debug().Str("network_id", networkID).Msg("Selected conversation is gone")
		b.showNoSelection(ctx)
	}
}

func (b *Bridge) showNoSelection(ctx context.Context) {
	chatID := b.DefaultChat()
	if chatID == 0 {
		return
	}
	if err := b.Status.Show(ctx, chatID, NoSelectionStatus); err != nil {
		b.log.Warn().Err(err).Msg("Failed to update status message")
	}
}
