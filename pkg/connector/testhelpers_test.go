// Copyright 2024-2026 Aiku AI

package connector

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/aiku/wechat-tg-bridge/pkg/settings"
)

const testOwner int64 = 42

// sentMessage records one send to the source network.
type sentMessage struct {
	ConversationID string
	Text           string
	Media          *OutboundMedia
}

// fakeSource is an in-memory source network session.
type fakeSource struct {
	mu         sync.Mutex
	self       Entity
	contacts   []Entity
	groups     []Entity
	listErr    error
	syncs      map[string]int
	sent       []sentMessage
	sendErr    error
	nextID     int
	retracted  []SourceMessageRef
	retractErr error
	media      map[string][]byte
	fetches    int
	accepted   []string
	logouts    int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		self:  Entity{NetworkID: "wxid_me", Kind: KindIndividual, Name: "Me", Ready: true},
		syncs: make(map[string]int),
		media: make(map[string][]byte),
	}
}

func (f *fakeSource) Self() Entity {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.self
}

func (f *fakeSource) ListContacts(context.Context) ([]Entity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]Entity(nil), f.contacts...), nil
}

func (f *fakeSource) ListGroups(context.Context) ([]Entity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]Entity(nil), f.groups...), nil
}

func (f *fakeSource) SyncContact(_ context.Context, networkID string) (Entity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syncs[networkID]++
	for _, e := range slices.Concat(f.contacts, f.groups) {
		if e.NetworkID == networkID {
			return e, nil
		}
	}
	return Entity{}, fmt.Errorf("unknown entity %s", networkID)
}

func (f *fakeSource) syncCount(networkID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.syncs[networkID]
}

func (f *fakeSource) record(msg sentMessage) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.nextID++
	f.sent = append(f.sent, msg)
	return fmt.Sprintf("src-%d", f.nextID), nil
}

func (f *fakeSource) SendText(_ context.Context, conversationID, text string) (string, error) {
	return f.record(sentMessage{ConversationID: conversationID, Text: text})
}

func (f *fakeSource) SendMedia(_ context.Context, conversationID string, media OutboundMedia) (string, error) {
	return f.record(sentMessage{ConversationID: conversationID, Media: &media})
}

func (f *fakeSource) sentMessages() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sent...)
}

func (f *fakeSource) Retract(_ context.Context, ref SourceMessageRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.retractErr != nil {
		return f.retractErr
	}
	f.retracted = append(f.retracted, ref)
	return nil
}

func (f *fakeSource) FetchMedia(_ context.Context, handle MediaHandle) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	data, ok := f.media[handle.FileID]
	if !ok {
		return nil, fmt.Errorf("no media %s", handle.FileID)
	}
	return data, nil
}

func (f *fakeSource) AcceptFriend(_ context.Context, ticket string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accepted = append(f.accepted, ticket)
	return nil
}

func (f *fakeSource) Logout(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logouts++
	return nil
}

// controlCall records one control network request. Kind is one of send,
// media, edit, pin or delete.
type controlCall struct {
	Kind      string
	ChatID    int64
	Text      string
	HTML      bool
	ReplyTo   int
	Buttons   [][]Button
	Media     *OutgoingMedia
	MessageID int
	ResultID  int
}

// fakeControl is an in-memory control network bot.
type fakeControl struct {
	mu      sync.Mutex
	calls   []controlCall
	nextID  int
	pinned  map[int64]int
	editErr error
	// chatErr fails every send to the given chat.
	chatErr map[int64]error
	// failNext fails that many sends regardless of the chat.
	failNext int
}

var errTransient = errors.New("temporary failure")

func newFakeControl() *fakeControl {
	return &fakeControl{
		nextID:  1000,
		pinned:  make(map[int64]int),
		chatErr: make(map[int64]error),
	}
}

func (f *fakeControl) add(call controlCall) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if call.Kind == "send" || call.Kind == "media" {
		if f.failNext > 0 {
			f.failNext--
			return 0, errTransient
		}
		if err := f.chatErr[call.ChatID]; err != nil {
			return 0, err
		}
		f.nextID++
		call.ResultID = f.nextID
	}
	f.calls = append(f.calls, call)
	return call.ResultID, nil
}

func (f *fakeControl) SendText(_ context.Context, chatID int64, msg OutgoingText) (int, error) {
	return f.add(controlCall{Kind: "send", ChatID: chatID, Text: msg.Text, HTML: msg.HTML, ReplyTo: msg.ReplyTo, Buttons: msg.Buttons})
}

func (f *fakeControl) SendMedia(_ context.Context, chatID int64, media OutgoingMedia) (int, error) {
	return f.add(controlCall{Kind: "media", ChatID: chatID, Text: media.Caption, Media: &media})
}

func (f *fakeControl) EditMessageText(_ context.Context, chatID int64, messageID int, text string) error {
	f.mu.Lock()
	err := f.editErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	_, err = f.add(controlCall{Kind: "edit", ChatID: chatID, MessageID: messageID, Text: text})
	return err
}

func (f *fakeControl) PinMessage(_ context.Context, chatID int64, messageID int) error {
	f.mu.Lock()
	f.pinned[chatID] = messageID
	f.mu.Unlock()
	_, err := f.add(controlCall{Kind: "pin", ChatID: chatID, MessageID: messageID})
	return err
}

func (f *fakeControl) DeleteMessage(_ context.Context, chatID int64, messageID int) error {
	_, err := f.add(controlCall{Kind: "delete", ChatID: chatID, MessageID: messageID})
	return err
}

func (f *fakeControl) PinnedMessage(_ context.Context, chatID int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pinned[chatID], nil
}

func (f *fakeControl) callsOf(kind string) []controlCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []controlCall
	for _, c := range f.calls {
		if c.Kind == kind {
			out = append(out, c)
		}
	}
	return out
}

func (f *fakeControl) reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

// lastSend returns the most recent text message.
func (f *fakeControl) lastSend(t *testing.T) controlCall {
	t.Helper()
	sends := f.callsOf("send")
	if len(sends) == 0 {
		t.Fatal("no text message was sent")
	}
	return sends[len(sends)-1]
}

// memBindStore keeps bind entries in a map.
type memBindStore struct {
	mu    sync.Mutex
	binds map[string]BindEntry
}

func newMemBindStore() *memBindStore {
	return &memBindStore{binds: make(map[string]BindEntry)}
}

func (m *memBindStore) LoadBinds(context.Context) ([]BindEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]BindEntry, 0, len(m.binds))
	for _, e := range m.binds {
		out = append(out, e)
	}
	return out, nil
}

func (m *memBindStore) PutBind(_ context.Context, e BindEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.binds[e.NetworkID] = e
	return nil
}

func (m *memBindStore) DeleteBind(_ context.Context, networkID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.binds, networkID)
	return nil
}

func (m *memBindStore) DeleteBindsByChat(_ context.Context, chatID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, e := range m.binds {
		if e.ChatID == chatID {
			delete(m.binds, id)
		}
	}
	return nil
}

func (m *memBindStore) ReplaceBinds(_ context.Context, entries []BindEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.binds)
	for _, e := range entries {
		m.binds[e.NetworkID] = e
	}
	return nil
}

// memSettings is a [SettingsStore] without a backing file.
type memSettings struct {
	mu      sync.Mutex
	s       settings.Settings
	reloads int
}

func newMemSettings() *memSettings {
	return &memSettings{s: settings.Default()}
}

func (m *memSettings) Get() settings.Settings {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.s.Clone()
}

func (m *memSettings) Update(fn func(*settings.Settings)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(&m.s)
	return nil
}

func (m *memSettings) Reload() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reloads++
	return nil
}

// fakeStickers converts by prefixing a GIF header and counts conversions.
type fakeStickers struct {
	mu    sync.Mutex
	cache map[string][]byte
	fail  bool
}

func (f *fakeStickers) Convert(ctx context.Context, key string, fetch func(context.Context) ([]byte, error)) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, errors.New("converter unavailable")
	}
	if data, ok := f.cache[key]; ok {
		return data, nil
	}
	raw, err := fetch(ctx)
	if err != nil {
		return nil, err
	}
	data := append([]byte("GIF89a"), raw...)
	if f.cache == nil {
		f.cache = make(map[string][]byte)
	}
	f.cache[key] = data
	return data, nil
}

// testEnv is a bridge wired to fakes, with the operator claimed and the
// default chat set to testDefaultChat.
type testEnv struct {
	bridge   *Bridge
	source   *fakeSource
	control  *fakeControl
	large    *fakeControl
	settings *memSettings
	store    *memBindStore
	stickers *fakeStickers
}

type testOption func(*Params)

func withLargeFiles(large LargeFileTransport) testOption {
	return func(p *Params) { p.LargeFiles = large }
}

func newTestBridge(t *testing.T, opts ...testOption) *testEnv {
	t.Helper()
	env := &testEnv{
		source:   newFakeSource(),
		control:  newFakeControl(),
		settings: newMemSettings(),
		store:    newMemBindStore(),
		stickers: &fakeStickers{},
	}
	params := Params{
		Config:   &Config{},
		Source:   env.source,
		Control:  env.control,
		Settings: env.settings,
		Binds:    env.store,
		Stickers: env.stickers,
		Log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(&params)
	}
	if large, ok := params.LargeFiles.(*fakeControl); ok {
		env.large = large
	}
	b, err := NewBridge(params)
	if err != nil {
		t.Fatalf("NewBridge: %v", err)
	}
	b.SetControlChat(testOwner, testDefaultChat)
	env.bridge = b
	return env
}

// login runs the login handshake against the fake source, loading its
// contacts and groups into the directory.
func (e *testEnv) login(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	for _, evt := range []SourceEvent{LoginEvent{Self: e.source.Self()}, ReadyEvent{}} {
		if err := e.bridge.HandleSourceEvent(ctx, evt); err != nil {
			t.Fatalf("HandleSourceEvent(%T): %v", evt, err)
		}
	}
}

// conversation looks up a directory entry by network ID.
func (e *testEnv) conversation(t *testing.T, kind ConversationKind, networkID string) Conversation {
	t.Helper()
	conv, ok := e.bridge.Directory.FindByNetworkID(kind, networkID)
	if !ok {
		t.Fatalf("conversation %s not in directory", networkID)
	}
	return conv
}

func (e *testEnv) setOption(fn func(*settings.Settings)) {
	_ = e.settings.Update(fn)
}

var (
	aliceEntity = Entity{NetworkID: "wxid_alice", Kind: KindIndividual, Name: "Alice", Alias: "al", Ready: true}
	bobEntity   = Entity{NetworkID: "wxid_bob", Kind: KindIndividual, Name: "Bob", Ready: true}
	newsEntity  = Entity{NetworkID: "gh_news", Kind: KindOfficial, Name: "News", Ready: true}
	teamEntity  = Entity{NetworkID: "100@chatroom", Kind: KindGroup, Name: "Design Team", Ready: true}
	noisyEntity = Entity{NetworkID: "200@chatroom", Kind: KindGroup, Name: "Noisy", Ready: true}
)

// newLoggedInBridge returns a bridge that knows two contacts, an official
// account and two groups. Control calls made during login are discarded.
func newLoggedInBridge(t *testing.T, opts ...testOption) *testEnv {
	t.Helper()
	env := newTestBridge(t, opts...)
	env.source.contacts = []Entity{aliceEntity, bobEntity, newsEntity}
	env.source.groups = []Entity{teamEntity, noisyEntity}
	env.login(t)
	env.control.reset()
	return env
}
