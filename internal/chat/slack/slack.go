// Package slack implements the chat Adapter for Slack using Socket Mode.
// Menus are rendered as Block Kit button rows; button presses arrive as
// block_actions interactions.
package slack

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	slackapi "github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
	"github.com/zulandar/breakdown/internal/chat"
)

const (
	// maxRetries is the max number of retries for rate-limited API calls.
	maxRetries = 3
	// baseBackoff is the initial backoff duration for reconnection.
	baseBackoff = 2 * time.Second
	// maxBackoff caps the exponential backoff for reconnection.
	maxBackoff = 2 * time.Minute
	// maxReconnectAttempts limits reconnection retries before giving up.
	maxReconnectAttempts = 10

	// Block Kit limits.
	maxBlocks          = 50
	maxButtonsPerBlock = 25
	maxButtonTextLen   = 75
)

// slackClient abstracts the Slack API methods we use, enabling test mocks.
type slackClient interface {
	AuthTest() (*slackapi.AuthTestResponse, error)
	PostMessage(channelID string, options ...slackapi.MsgOption) (string, string, error)
	DeleteMessage(channelID, messageTimestamp string) (string, string, error)
	GetUserInfo(userID string) (*slackapi.User, error)
	GetFile(downloadURL string, writer io.Writer) error
}

// socketClient abstracts the Socket Mode client methods we use.
type socketClient interface {
	Run() error
	EventsChan() chan socketmode.Event
	Ack(req socketmode.Request, payload ...interface{})
}

// realSocketClient wraps *socketmode.Client to implement socketClient.
type realSocketClient struct {
	client *socketmode.Client
}

func (r *realSocketClient) Run() error                        { return r.client.Run() }
func (r *realSocketClient) EventsChan() chan socketmode.Event { return r.client.Events }
func (r *realSocketClient) Ack(req socketmode.Request, payload ...interface{}) {
	r.client.Ack(req, payload...)
}

// Adapter implements chat.Adapter for Slack Socket Mode.
type Adapter struct {
	client       slackClient
	socket       socketClient
	botUserID    string
	appToken     string
	botToken     string
	mu           sync.Mutex
	connected    bool
	closed       bool
	inbound      chan chat.InboundEvent
	cancelFunc   context.CancelFunc
	baseBackoff  time.Duration // reconnection base backoff (default: baseBackoff const)
	maxBackoff   time.Duration // reconnection max backoff (default: maxBackoff const)
	maxReconnect int           // max reconnection attempts (default: maxReconnectAttempts)
}

// AdapterOpts holds parameters for creating a Slack Adapter.
type AdapterOpts struct {
	AppToken string // xapp-... Slack app-level token for Socket Mode
	BotToken string // xoxb-... Slack bot token
	// For testing: inject mock clients instead of real Slack API.
	Client slackClient
	Socket socketClient
}

// New creates a Slack Adapter.
func New(opts AdapterOpts) (*Adapter, error) {
	if opts.Client == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("slack: bot token is required")
	}
	if opts.Socket == nil && opts.AppToken == "" {
		return nil, fmt.Errorf("slack: app token is required for socket mode")
	}

	return &Adapter{
		appToken:     opts.AppToken,
		botToken:     opts.BotToken,
		client:       opts.Client,
		socket:       opts.Socket,
		inbound:      make(chan chat.InboundEvent, 256),
		baseBackoff:  baseBackoff,
		maxBackoff:   maxBackoff,
		maxReconnect: maxReconnectAttempts,
	}, nil
}

// Connect verifies the bot token and prepares the Socket Mode client.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return fmt.Errorf("slack: adapter already closed")
	}
	if a.connected {
		return nil
	}

	// Create real clients if not injected (production path).
	if a.client == nil {
		api := slackapi.New(a.botToken, slackapi.OptionAppLevelToken(a.appToken))
		a.client = api
		a.socket = &realSocketClient{client: socketmode.New(api)}
	}

	// Get bot user ID for self-message filtering.
	auth, err := a.client.AuthTest()
	if err != nil {
		return fmt.Errorf("slack: auth test: %w", err)
	}
	a.botUserID = auth.UserID

	a.connected = true
	return nil
}

// Listen returns the inbound event channel and starts the Socket Mode event
// pump in the background. Must be called after Connect.
func (a *Adapter) Listen(ctx context.Context) (<-chan chat.InboundEvent, error) {
	a.mu.Lock()
	if !a.connected {
		a.mu.Unlock()
		return nil, fmt.Errorf("slack: not connected")
	}
	listenCtx, cancel := context.WithCancel(ctx)
	a.cancelFunc = cancel
	a.mu.Unlock()

	go a.runWithReconnect(listenCtx)
	go a.pumpEvents(listenCtx)

	return a.inbound, nil
}

// Send posts a message and returns its timestamp, which Slack uses as the
// message identifier.
func (a *Adapter) Send(ctx context.Context, msg chat.OutboundMessage) (chat.MessageRef, error) {
	if err := a.requireConnected(); err != nil {
		return "", err
	}
	if msg.ChannelID == "" {
		return "", fmt.Errorf("slack: no channel specified")
	}

	options := []slackapi.MsgOption{
		slackapi.MsgOptionText(fallbackText(msg), false),
		slackapi.MsgOptionBlocks(buildBlocks(msg)...),
	}

	var ts string
	err := retryOnRateLimit(ctx, func() error {
		var postErr error
		_, ts, postErr = a.client.PostMessage(msg.ChannelID, options...)
		return postErr
	})
	if err != nil {
		return "", fmt.Errorf("slack: post message: %w", err)
	}
	return chat.MessageRef(ts), nil
}

// Retract deletes a previously posted message. A message that no longer
// exists is not an error.
func (a *Adapter) Retract(ctx context.Context, channelID string, ref chat.MessageRef) error {
	if err := a.requireConnected(); err != nil {
		return err
	}
	if ref == "" {
		return nil
	}

	err := retryOnRateLimit(ctx, func() error {
		_, _, delErr := a.client.DeleteMessage(channelID, string(ref))
		return delErr
	})
	if err == nil || strings.Contains(err.Error(), "message_not_found") {
		return nil
	}
	return fmt.Errorf("slack: delete message %s: %w", ref, err)
}

// FetchPhoto downloads a private file by its url_private_download URL.
func (a *Adapter) FetchPhoto(ctx context.Context, photoRef string) (io.ReadCloser, error) {
	if err := a.requireConnected(); err != nil {
		return nil, err
	}
	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(a.client.GetFile(photoRef, pw))
	}()
	return pr, nil
}

// Close shuts down the adapter and closes the inbound channel.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	a.connected = false
	if a.cancelFunc != nil {
		a.cancelFunc()
	}
	close(a.inbound)
	return nil
}

// BotUserID returns the bot's Slack user ID (available after Connect).
func (a *Adapter) BotUserID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.botUserID
}

func (a *Adapter) requireConnected() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return fmt.Errorf("slack: not connected")
	}
	return nil
}

// emit queues an event unless the adapter has been closed.
func (a *Adapter) emit(evt chat.InboundEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	select {
	case a.inbound <- evt:
	default:
		log.Printf("slack: inbound buffer full, dropping %s event from %s", evt.Kind, evt.UserID)
	}
}

// runWithReconnect runs the Socket Mode client and retries with exponential
// backoff when Run() returns an error (e.g., reconnection failure).
func (a *Adapter) runWithReconnect(ctx context.Context) {
	for attempt := 0; attempt < a.maxReconnect; attempt++ {
		err := a.socket.Run()
		if err == nil {
			return // clean shutdown
		}

		select {
		case <-ctx.Done():
			return
		default:
		}

		wait := time.Duration(math.Pow(2, float64(attempt))) * a.baseBackoff
		if wait > a.maxBackoff {
			wait = a.maxBackoff
		}

		log.Printf("slack: socket mode disconnected (attempt %d/%d): %v, reconnecting in %v",
			attempt+1, a.maxReconnect, err, wait)

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
	log.Printf("slack: socket mode exhausted %d reconnection attempts, giving up", a.maxReconnect)
}

// pumpEvents reads Socket Mode events and converts them to InboundEvents.
func (a *Adapter) pumpEvents(ctx context.Context) {
	events := a.socket.EventsChan()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			a.handleSocketEvent(evt)
		}
	}
}

// handleSocketEvent processes a single Socket Mode event.
func (a *Adapter) handleSocketEvent(evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeEventsAPI:
		eventsAPIEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		if evt.Request != nil {
			a.socket.Ack(*evt.Request)
		}
		a.handleEventsAPI(eventsAPIEvent)

	case socketmode.EventTypeInteractive:
		callback, ok := evt.Data.(slackapi.InteractionCallback)
		if !ok {
			return
		}
		if evt.Request != nil {
			a.socket.Ack(*evt.Request)
		}
		a.handleInteraction(callback)

	case socketmode.EventTypeConnecting:
		log.Printf("slack: connecting to Socket Mode...")

	case socketmode.EventTypeConnected:
		log.Printf("slack: connected to Socket Mode")

	case socketmode.EventTypeConnectionError:
		log.Printf("slack: connection error: %v", evt.Data)

	case socketmode.EventTypeDisconnect:
		log.Printf("slack: server requested disconnect, will reconnect")
	}
}

// handleEventsAPI processes Events API callbacks.
func (a *Adapter) handleEventsAPI(event slackevents.EventsAPIEvent) {
	if event.Type != slackevents.CallbackEvent {
		return
	}
	if ev, ok := event.InnerEvent.Data.(*slackevents.MessageEvent); ok {
		a.handleMessage(ev)
	}
}

// handleMessage converts a Slack message event to a text or photo event.
func (a *Adapter) handleMessage(ev *slackevents.MessageEvent) {
	if ev.User == a.BotUserID() {
		return
	}
	// Filter bot messages and subtypes (edits, deletes, etc.) other than
	// file uploads, which carry photos.
	if ev.BotID != "" || (ev.SubType != "" && ev.SubType != "file_share") {
		return
	}

	userName, displayName := a.resolveUser(ev.User)
	out := chat.InboundEvent{
		Platform:    "slack",
		ChannelID:   ev.Channel,
		UserID:      ev.User,
		UserName:    userName,
		DisplayName: displayName,
		Private:     ev.ChannelType == "im",
		Kind:        chat.EventText,
		Text:        ev.Text,
		Timestamp:   parseSlackTimestamp(ev.TimeStamp),
	}

	var files []slackapi.File
	if ev.Message != nil {
		files = ev.Message.Files
	}
	if photo := lastImage(files); photo != "" {
		out.Kind = chat.EventPhoto
		out.PhotoRef = photo
	}

	a.emit(out)
}

// handleInteraction converts a block_actions callback to a selection event.
func (a *Adapter) handleInteraction(cb slackapi.InteractionCallback) {
	if cb.Type != slackapi.InteractionTypeBlockActions {
		return
	}
	if len(cb.ActionCallback.BlockActions) == 0 {
		return
	}
	action := cb.ActionCallback.BlockActions[0]

	channelID := cb.Container.ChannelID
	if channelID == "" {
		channelID = cb.Channel.ID
	}

	userName, displayName := a.resolveUser(cb.User.ID)
	a.emit(chat.InboundEvent{
		Platform:    "slack",
		ChannelID:   channelID,
		UserID:      cb.User.ID,
		UserName:    userName,
		DisplayName: displayName,
		Private:     strings.HasPrefix(channelID, "D"),
		Kind:        chat.EventSelection,
		Selection:   action.Value,
		MessageRef:  chat.MessageRef(cb.Container.MessageTs),
		Timestamp:   time.Now(),
	})
}

// resolveUser looks up the handle and display name of a user. Both fall
// back to the user ID.
func (a *Adapter) resolveUser(userID string) (string, string) {
	if userID == "" {
		return "", ""
	}
	user, err := a.client.GetUserInfo(userID)
	if err != nil {
		return userID, userID
	}
	name := user.Name
	if name == "" {
		name = userID
	}
	display := user.Profile.DisplayName
	if display == "" {
		display = user.RealName
	}
	if display == "" {
		display = name
	}
	return name, display
}

// lastImage returns the download URL of the last image file, or "".
func lastImage(files []slackapi.File) string {
	url := ""
	for _, f := range files {
		if !strings.HasPrefix(f.Mimetype, "image/") {
			continue
		}
		if f.URLPrivateDownload != "" {
			url = f.URLPrivateDownload
		} else {
			url = f.URLPrivate
		}
	}
	return url
}

// fallbackText is the notification text shown where blocks are not rendered.
func fallbackText(msg chat.OutboundMessage) string {
	if msg.Text != "" {
		return msg.Text
	}
	return " "
}

// buildBlocks translates an OutboundMessage into Block Kit blocks. Private
// Slack files cannot be embedded in image blocks, so photos are linked.
func buildBlocks(msg chat.OutboundMessage) []slackapi.Block {
	text := msg.Text
	if msg.PhotoRef != "" {
		text += fmt.Sprintf("\n<%s|Фото>", msg.PhotoRef)
	}

	var blocks []slackapi.Block
	if strings.TrimSpace(text) != "" {
		blocks = append(blocks, slackapi.NewSectionBlock(
			slackapi.NewTextBlockObject(slackapi.MarkdownType, text, false, false), nil, nil))
	}

	for i, row := range menuRows(msg.Menu, maxBlocks-len(blocks)) {
		var elements []slackapi.BlockElement
		for _, opt := range row {
			label := slackapi.NewTextBlockObject(slackapi.PlainTextType, truncateText(opt.Label), false, false)
			elements = append(elements, slackapi.NewButtonBlockElement(opt.Value, opt.Value, label))
		}
		blocks = append(blocks, slackapi.NewActionBlock(fmt.Sprintf("menu_%d", i), elements...))
	}
	return blocks
}

// menuRows lays a menu out in at most budget action blocks. When the menu's
// own layout does not fit, the options are packed 25 per block and the footer
// keeps its own block.
func menuRows(menu *chat.Menu, budget int) [][]chat.MenuOption {
	rows := menu.Rows()
	fits := len(rows) <= budget
	for _, r := range rows {
		if len(r) > maxButtonsPerBlock {
			fits = false
		}
	}
	if fits {
		return rows
	}

	footer := menu.Footer
	if len(footer) > maxButtonsPerBlock {
		footer = footer[:maxButtonsPerBlock]
	}
	optionBlocks := budget
	if len(footer) > 0 {
		optionBlocks--
	}

	opts := menu.Options
	if limit := optionBlocks * maxButtonsPerBlock; len(opts) > limit {
		log.Printf("slack: menu has %d options, showing first %d", len(opts), limit)
		opts = opts[:limit]
	}

	var packed [][]chat.MenuOption
	for i := 0; i < len(opts); i += maxButtonsPerBlock {
		end := i + maxButtonsPerBlock
		if end > len(opts) {
			end = len(opts)
		}
		packed = append(packed, opts[i:end])
	}
	if len(footer) > 0 {
		packed = append(packed, footer)
	}
	return packed
}

// truncateText shortens a button label to Slack's limit.
func truncateText(s string) string {
	r := []rune(s)
	if len(r) <= maxButtonTextLen {
		return s
	}
	return string(r[:maxButtonTextLen-1]) + "…"
}

// retryOnRateLimit calls fn and retries with backoff on Slack rate limit errors.
// It respects context cancellation and the RetryAfter duration from Slack.
func retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		var rle *slackapi.RateLimitedError
		if !errors.As(err, &rle) {
			return err // not a rate limit error, don't retry
		}

		if attempt == maxRetries {
			return err
		}

		wait := rle.RetryAfter
		if wait <= 0 {
			wait = time.Duration(math.Pow(2, float64(attempt))) * time.Second
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil // unreachable
}

// parseSlackTimestamp converts a Slack timestamp (e.g., "1234567890.123456")
// to a time.Time.
func parseSlackTimestamp(ts string) time.Time {
	parts := strings.SplitN(ts, ".", 2)
	if len(parts) == 0 {
		return time.Time{}
	}
	sec, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(sec, 0)
}
