// Copyright 2024-2026 Aiku AI

// Package onebot connects to a WeChat gateway speaking OneBot 12 over a
// websocket and exposes it as a source network client.
package onebot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/aiku/wechat-tg-bridge/pkg/connector"
)

// ErrNotConnected is returned by actions while the websocket is down.
var ErrNotConnected = errors.New("onebot websocket not connected")

// maxDownloadSize caps media fetched over HTTP.
const maxDownloadSize = 2 << 30

// systemAccounts are built-in WeChat accounts that are not conversations.
var systemAccounts = map[string]bool{
	"filehelper": true, "fmessage": true, "medianote": true, "floatbottle": true,
	"weixin": true, "newsapp": true, "qmessage": true, "qqmail": true, "tmessage": true,
}

// Config configures a [Client].
type Config struct {
	URL               string
	AccessToken       string
	ReconnectInterval time.Duration
	RequestTimeout    time.Duration
}

// Handler receives converted events in the order they arrived.
type Handler func(ctx context.Context, evt connector.SourceEvent)

// Client is a OneBot 12 websocket client. It implements
// [connector.SourceClient].
type Client struct {
	cfg  Config
	log  zerolog.Logger
	http *http.Client

	mu   sync.Mutex
	conn *websocket.Conn

	writeMu     sync.Mutex
	echoCounter atomic.Int64
	waitMu      sync.Mutex
	waiters     map[string]chan Response

	cacheMu  sync.RWMutex
	self     connector.Entity
	online   bool
	contacts map[string]connector.Entity
	groups   map[string]connector.Entity
}

var _ connector.SourceClient = (*Client)(nil)

func NewClient(cfg Config, log zerolog.Logger) *Client {
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = 5 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	return &Client{
		cfg:      cfg,
		log:      log,
		http:     &http.Client{Timeout: 5 * time.Minute},
		waiters:  make(map[string]chan Response),
		contacts: make(map[string]connector.Entity),
		groups:   make(map[string]connector.Entity),
	}
}

// Run connects to the gateway and delivers events to handle until ctx is
// done, reconnecting after failures.
func (c *Client) Run(ctx context.Context, handle Handler) error {
	for {
		if err := c.runOnce(ctx, handle); err != nil && ctx.Err() == nil {
			c.log.Warn().Err(err).Dur("retry_in", c.cfg.ReconnectInterval).Msg("OneBot connection lost")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.cfg.ReconnectInterval):
		}
	}
}

func (c *Client) runOnce(ctx context.Context, handle Handler) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	c.log.Info().Str("url", c.cfg.URL).Msg("OneBot websocket connected")

	// Conversion may call actions, so the read loop must never wait on it.
	events := newEventQueue()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			evt, ok := events.pop()
			if !ok {
				return
			}
			for _, converted := range c.convert(ctx, evt) {
				handle(ctx, converted)
			}
		}
	}()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	err = c.readLoop(conn, events)
	events.close()
	<-done

	c.mu.Lock()
	c.conn = nil
	c.mu.Unlock()
	conn.Close()
	return err
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second
	header := http.Header{}
	if c.cfg.AccessToken != "" {
		header.Set("Authorization", "Bearer "+c.cfg.AccessToken)
	}
	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		return nil, fmt.Errorf("failed to dial onebot gateway: %w", err)
	}
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	return conn, nil
}

func (c *Client) readLoop(conn *websocket.Conn, events *eventQueue) error {
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var frame struct {
			Echo string `json:"echo"`
			Type string `json:"type"`
		}
		if err = json.Unmarshal(payload, &frame); err != nil {
			c.log.Warn().Err(err).Msg("Failed to unmarshal onebot frame")
			continue
		}
		if frame.Echo != "" && frame.Type == "" {
			c.dispatchResponse(payload)
			continue
		}
		var evt Event
		if err = json.Unmarshal(payload, &evt); err != nil {
			c.log.Warn().Err(err).Msg("Failed to unmarshal onebot event")
			continue
		}
		if evt.Type == TypeMeta && evt.DetailType == DetailHeartbeat {
			continue
		}
		c.log.Trace().Str("type", evt.Type).Str("detail_type", evt.DetailType).Msg("OneBot event")
		events.push(evt)
	}
}

// eventQueue is an unbounded FIFO between the read loop and the converter.
type eventQueue struct {
	mu     sync.Mutex
	items  []Event
	closed bool
	ready  chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{ready: make(chan struct{}, 1)}
}

func (q *eventQueue) push(evt Event) {
	q.mu.Lock()
	q.items = append(q.items, evt)
	q.mu.Unlock()
	q.wake()
}

func (q *eventQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.wake()
}

func (q *eventQueue) wake() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// pop blocks until an event is queued. It returns false once the queue is
// closed and drained.
func (q *eventQueue) pop() (Event, bool) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			evt := q.items[0]
			q.items[0] = Event{}
			q.items = q.items[1:]
			q.mu.Unlock()
			return evt, true
		}
		closed := q.closed
		q.mu.Unlock()
		if closed {
			return Event{}, false
		}
		<-q.ready
	}
}

func (c *Client) dispatchResponse(payload []byte) {
	var resp Response
	if err := json.Unmarshal(payload, &resp); err != nil {
		c.log.Warn().Err(err).Msg("Failed to unmarshal onebot response")
		return
	}
	c.waitMu.Lock()
	waiter := c.waiters[resp.Echo]
	c.waitMu.Unlock()
	if waiter == nil {
		return
	}
	select {
	case waiter <- resp:
	default:
	}
}

// call runs an action and decodes its data into out, if non-nil.
func (c *Client) call(ctx context.Context, action string, params, out any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	echo := action + "_" + strconv.FormatInt(c.echoCounter.Add(1), 10)
	waiter := make(chan Response, 1)
	c.waitMu.Lock()
	c.waiters[echo] = waiter
	c.waitMu.Unlock()
	defer func() {
		c.waitMu.Lock()
		delete(c.waiters, echo)
		c.waitMu.Unlock()
	}()

	payload, err := json.Marshal(Request{Action: action, Params: params, Echo: echo})
	if err != nil {
		return fmt.Errorf("failed to marshal onebot request: %w", err)
	}
	c.writeMu.Lock()
	err = conn.WriteMessage(websocket.TextMessage, payload)
	c.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to write onebot request: %w", err)
	}

	timer := time.NewTimer(c.cfg.RequestTimeout)
	defer timer.Stop()
	var resp Response
	select {
	case resp = <-waiter:
	case <-timer.C:
		return fmt.Errorf("onebot action %s timed out", action)
	case <-ctx.Done():
		return ctx.Err()
	}
	if resp.Status != "ok" || resp.RetCode != 0 {
		return &APIError{Action: action, RetCode: resp.RetCode, Message: resp.Message}
	}
	if out != nil && len(resp.Data) > 0 {
		if err = json.Unmarshal(resp.Data, out); err != nil {
			return fmt.Errorf("failed to decode %s response: %w", action, err)
		}
	}
	return nil
}

func userEntity(info UserInfo) connector.Entity {
	kind := connector.KindIndividual
	if strings.HasPrefix(info.UserID, OfficialPrefix) {
		kind = connector.KindOfficial
	}
	name := info.UserName
	if name == "" {
		name = info.UserDisplayName
	}
	return connector.Entity{
		NetworkID: info.UserID,
		Kind:      kind,
		Name:      name,
		Alias:     info.UserRemark,
		AvatarURL: info.Avatar,
		Ready:     name != "",
	}
}

func groupEntity(info GroupInfo) connector.Entity {
	return connector.Entity{
		NetworkID: info.GroupID,
		Kind:      connector.KindGroup,
		Name:      info.GroupName,
		Ready:     info.GroupName != "",
	}
}

func (c *Client) Self() connector.Entity {
	c.cacheMu.RLock()
	defer c.cacheMu.RUnlock()
	return c.self
}

func (c *Client) selfID() string {
	return c.Self().NetworkID
}

func (c *Client) ListContacts(ctx context.Context) ([]connector.Entity, error) {
	var infos []UserInfo
	if err := c.call(ctx, "get_friend_list", struct{}{}, &infos); err != nil {
		return nil, err
	}
	self := c.selfID()
	out := make([]connector.Entity, 0, len(infos))
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	for _, info := range infos {
		if info.UserID == self || systemAccounts[info.UserID] || IsGroupID(info.UserID) {
			continue
		}
		e := userEntity(info)
		c.contacts[e.NetworkID] = e
		out = append(out, e)
	}
	return out, nil
}

func (c *Client) ListGroups(ctx context.Context) ([]connector.Entity, error) {
	var infos []GroupInfo
	if err := c.call(ctx, "get_group_list", struct{}{}, &infos); err != nil {
		return nil, err
	}
	out := make([]connector.Entity, 0, len(infos))
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	for _, info := range infos {
		e := groupEntity(info)
		c.groups[e.NetworkID] = e
		out = append(out, e)
	}
	return out, nil
}

func (c *Client) SyncContact(ctx context.Context, networkID string) (connector.Entity, error) {
	if IsGroupID(networkID) {
		var info GroupInfo
		if err := c.call(ctx, "get_group_info", map[string]string{"group_id": networkID}, &info); err != nil {
			return connector.Entity{}, err
		}
		e := groupEntity(info)
		c.cacheMu.Lock()
		c.groups[networkID] = e
		c.cacheMu.Unlock()
		return e, nil
	}
	var info UserInfo
	if err := c.call(ctx, "get_user_info", map[string]string{"user_id": networkID}, &info); err != nil {
		return connector.Entity{}, err
	}
	if info.UserID == "" {
		info.UserID = networkID
	}
	e := userEntity(info)
	c.cacheMu.Lock()
	c.contacts[networkID] = e
	c.cacheMu.Unlock()
	return e, nil
}

// lookupUser returns the cached contact, or a bare entity that the bridge
// will sync on demand.
func (c *Client) lookupUser(id string) connector.Entity {
	c.cacheMu.RLock()
	e, ok := c.contacts[id]
	c.cacheMu.RUnlock()
	if ok {
		return e
	}
	return userEntity(UserInfo{UserID: id})
}

// lookupGroup returns the cached group, asking the gateway once if needed.
func (c *Client) lookupGroup(ctx context.Context, id string) connector.Entity {
	c.cacheMu.RLock()
	e, ok := c.groups[id]
	c.cacheMu.RUnlock()
	if ok {
		return e
	}
	e, err := c.SyncContact(ctx, id)
	if err != nil {
		c.log.Debug().Err(err).Str("group_id", id).Msg("Failed to look up group")
		return groupEntity(GroupInfo{GroupID: id})
	}
	return e
}

func messageTarget(conversationID string) map[string]any {
	if IsGroupID(conversationID) {
		return map[string]any{"detail_type": DetailGroup, "group_id": conversationID}
	}
	return map[string]any{"detail_type": DetailPrivate, "user_id": conversationID}
}

func (c *Client) sendSegments(ctx context.Context, conversationID string, segments []Segment) (string, error) {
	params := messageTarget(conversationID)
	params["message"] = segments
	var resp struct {
		MessageID string `json:"message_id"`
	}
	if err := c.call(ctx, "send_message", params, &resp); err != nil {
		return "", err
	}
	return resp.MessageID, nil
}

func (c *Client) SendText(ctx context.Context, conversationID, text string) (string, error) {
	return c.sendSegments(ctx, conversationID, []Segment{TextSegment(text)})
}

func (c *Client) SendMedia(ctx context.Context, conversationID string, media connector.OutboundMedia) (string, error) {
	var upload struct {
		FileID string `json:"file_id"`
	}
	err := c.call(ctx, "upload_file", map[string]any{
		"type": "data",
		"name": media.Name,
		"data": media.Data,
	}, &upload)
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", media.Name, err)
	}
	segType := SegFile
	switch media.Kind {
	case connector.MsgImage, connector.MsgSticker:
		segType = SegImage
	case connector.MsgVideo:
		segType = SegVideo
	}
	return c.sendSegments(ctx, conversationID, []Segment{{
		Type: segType,
		Data: map[string]any{"file_id": upload.FileID},
	}})
}

func (c *Client) Retract(ctx context.Context, ref connector.SourceMessageRef) error {
	params := messageTarget(ref.ConversationID)
	params["message_id"] = ref.MessageID
	return c.call(ctx, "delete_message", params, nil)
}

func (c *Client) FetchMedia(ctx context.Context, handle connector.MediaHandle) ([]byte, error) {
	if strings.HasPrefix(handle.FileID, "http://") || strings.HasPrefix(handle.FileID, "https://") {
		return c.download(ctx, handle.FileID)
	}
	var file FileData
	err := c.call(ctx, "get_file", map[string]string{"file_id": handle.FileID, "type": "data"}, &file)
	if err != nil {
		return nil, err
	}
	return file.Data, nil
}

func (c *Client) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download media: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to download media: HTTP %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxDownloadSize))
}

// friendTicket packs the two verification tokens of a friend request.
func friendTicket(v3, v4 string) string {
	return v3 + "|" + v4
}

func (c *Client) AcceptFriend(ctx context.Context, ticket string) error {
	v3, v4, ok := strings.Cut(ticket, "|")
	if !ok {
		return fmt.Errorf("malformed friend request ticket")
	}
	return c.call(ctx, "wx.accept_friend", map[string]string{"v3": v3, "v4": v4}, nil)
}

func (c *Client) Logout(ctx context.Context) error {
	err := c.call(ctx, "wx.logout", struct{}{}, nil)
	c.cacheMu.Lock()
	c.online = false
	c.self = connector.Entity{}
	clear(c.contacts)
	clear(c.groups)
	c.cacheMu.Unlock()
	return err
}
