// Package discord implements the chat Adapter for Discord using the Gateway
// WebSocket. Menus are rendered as message buttons and button presses arrive
// as component interactions.
package discord

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/zulandar/breakdown/internal/chat"
)

const (
	// maxRetries is the max number of retries for rate-limited API calls.
	maxRetries = 3
	// baseBackoff is the initial backoff duration for retries.
	baseBackoff = 2 * time.Second
	// maxBackoff caps the exponential backoff.
	maxBackoff = 2 * time.Minute

	// Discord component limits.
	maxButtonsPerRow = 5
	maxRows          = 5
	maxSelectOptions = 25
	maxLabelLen      = 80
)

// session abstracts the discordgo.Session methods we use, enabling test mocks.
type session interface {
	Open() error
	Close() error
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageDelete(channelID, messageID string, options ...discordgo.RequestOption) error
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
	AddHandler(handler interface{}) func()
}

// realSession wraps *discordgo.Session to implement the session interface.
type realSession struct {
	s *discordgo.Session
}

func (r *realSession) Open() error  { return r.s.Open() }
func (r *realSession) Close() error { return r.s.Close() }
func (r *realSession) ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error) {
	return r.s.ChannelMessageSendComplex(channelID, data, options...)
}
func (r *realSession) ChannelMessageDelete(channelID, messageID string, options ...discordgo.RequestOption) error {
	return r.s.ChannelMessageDelete(channelID, messageID, options...)
}
func (r *realSession) InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error {
	return r.s.InteractionRespond(interaction, resp, options...)
}
func (r *realSession) AddHandler(handler interface{}) func() {
	return r.s.AddHandler(handler)
}

// Adapter implements chat.Adapter for Discord via the Gateway WebSocket.
type Adapter struct {
	sess        session
	botToken    string
	httpClient  *http.Client
	botUserID   string
	mu          sync.Mutex
	connected   bool
	closed      bool
	inbound     chan chat.InboundEvent
	removers    []func()
	baseBackoff time.Duration
	maxBackoff  time.Duration
}

// AdapterOpts holds parameters for creating a Discord Adapter.
type AdapterOpts struct {
	BotToken   string       // Discord bot token
	HTTPClient *http.Client // used to download photo attachments; defaults to a 30s-timeout client
	// For testing: inject a mock session instead of real Discord API.
	Session session
}

// New creates a Discord Adapter.
func New(opts AdapterOpts) (*Adapter, error) {
	if opts.Session == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("discord: bot token is required")
	}

	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	a := &Adapter{
		botToken:    opts.BotToken,
		httpClient:  client,
		inbound:     make(chan chat.InboundEvent, 256),
		baseBackoff: baseBackoff,
		maxBackoff:  maxBackoff,
	}
	if opts.Session != nil {
		a.sess = opts.Session
	}
	return a, nil
}

// Connect establishes the Discord Gateway WebSocket connection.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return fmt.Errorf("discord: adapter already closed")
	}
	if a.connected {
		return nil
	}

	// Create real session if not injected (production path).
	if a.sess == nil {
		dg, err := discordgo.New("Bot " + a.botToken)
		if err != nil {
			return fmt.Errorf("discord: create session: %w", err)
		}
		dg.Identify.Intents = discordgo.IntentsGuildMessages |
			discordgo.IntentsDirectMessages |
			discordgo.IntentsMessageContent
		a.sess = &realSession{s: dg}
	}

	// Capture bot user ID on connect/reconnect.
	a.sess.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		a.mu.Lock()
		a.botUserID = r.User.ID
		a.mu.Unlock()
		log.Printf("discord: connected as %s (ID: %s)", r.User.Username, r.User.ID)
	})

	// discordgo reconnects automatically; log for observability.
	a.sess.AddHandler(func(_ *discordgo.Session, d *discordgo.Disconnect) {
		log.Printf("discord: gateway disconnected, discordgo will auto-reconnect")
	})

	if err := a.sess.Open(); err != nil {
		return fmt.Errorf("discord: open gateway: %w", err)
	}

	a.connected = true
	return nil
}

// Listen registers message and interaction handlers and returns the inbound
// event channel. Must be called after Connect.
func (a *Adapter) Listen(ctx context.Context) (<-chan chat.InboundEvent, error) {
	a.mu.Lock()
	if !a.connected {
		a.mu.Unlock()
		return nil, fmt.Errorf("discord: not connected")
	}
	a.mu.Unlock()

	removeMsg := a.sess.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		a.handleMessage(m)
	})
	removeInteraction := a.sess.AddHandler(func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
		a.handleInteraction(i)
	})

	a.mu.Lock()
	a.removers = append(a.removers, removeMsg, removeInteraction)
	a.mu.Unlock()

	return a.inbound, nil
}

// Send delivers a message to Discord and returns its message ID.
func (a *Adapter) Send(ctx context.Context, msg chat.OutboundMessage) (chat.MessageRef, error) {
	if err := a.requireConnected(); err != nil {
		return "", err
	}
	if msg.ChannelID == "" {
		return "", fmt.Errorf("discord: no channel specified")
	}

	data := buildMessageSend(msg)

	var sent *discordgo.Message
	err := a.retryOnRateLimit(ctx, func() error {
		var sendErr error
		sent, sendErr = a.sess.ChannelMessageSendComplex(msg.ChannelID, data)
		return sendErr
	})
	if err != nil {
		return "", fmt.Errorf("discord: send message: %w", err)
	}
	if sent == nil {
		return "", nil
	}
	return chat.MessageRef(sent.ID), nil
}

// Retract deletes a message. Unknown or already-deleted messages are not an
// error.
func (a *Adapter) Retract(ctx context.Context, channelID string, ref chat.MessageRef) error {
	if err := a.requireConnected(); err != nil {
		return err
	}
	if ref == "" {
		return nil
	}

	err := a.retryOnRateLimit(ctx, func() error {
		return a.sess.ChannelMessageDelete(channelID, string(ref))
	})
	if err == nil || isNotFound(err) {
		return nil
	}
	return fmt.Errorf("discord: delete message %s: %w", ref, err)
}

// FetchPhoto downloads an attachment by URL (the PhotoRef of inbound photos).
func (a *Adapter) FetchPhoto(ctx context.Context, photoRef string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, photoRef, nil)
	if err != nil {
		return nil, fmt.Errorf("discord: fetch photo: %w", err)
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("discord: fetch photo: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("discord: fetch photo: status %d", resp.StatusCode)
	}
	return resp.Body, nil
}

// Close gracefully shuts down the adapter connection.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	a.connected = false
	for _, remove := range a.removers {
		remove()
	}
	close(a.inbound)
	if a.sess != nil {
		return a.sess.Close()
	}
	return nil
}

// BotUserID returns the bot's Discord user ID (available after Ready).
func (a *Adapter) BotUserID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.botUserID
}

// SetBotUserID sets the bot user ID (used for self-message filtering).
func (a *Adapter) SetBotUserID(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.botUserID = id
}

func (a *Adapter) requireConnected() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return fmt.Errorf("discord: not connected")
	}
	return nil
}

// emit queues an event unless the adapter has been closed. Events are
// dropped with a log line when the buffer is full.
func (a *Adapter) emit(evt chat.InboundEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	select {
	case a.inbound <- evt:
	default:
		log.Printf("discord: inbound buffer full, dropping %s event from %s", evt.Kind, evt.UserID)
	}
}

// handleMessage converts a Discord message to a text or photo event.
func (a *Adapter) handleMessage(m *discordgo.MessageCreate) {
	if m.Author == nil {
		return
	}

	a.mu.Lock()
	botID := a.botUserID
	a.mu.Unlock()
	if m.Author.ID == botID || m.Author.Bot {
		return
	}

	ts, _ := discordgo.SnowflakeTimestamp(m.ID)
	evt := chat.InboundEvent{
		Platform:    "discord",
		ChannelID:   m.ChannelID,
		UserID:      m.Author.ID,
		UserName:    m.Author.Username,
		DisplayName: displayName(m.Author),
		Private:     m.GuildID == "",
		Kind:        chat.EventText,
		Text:        m.Content,
		Timestamp:   ts,
	}

	if photo := lastImage(m.Attachments); photo != "" {
		evt.Kind = chat.EventPhoto
		evt.PhotoRef = photo
	}

	a.emit(evt)
}

// handleInteraction acknowledges a button press or select menu choice and
// converts it to a selection event.
func (a *Adapter) handleInteraction(i *discordgo.InteractionCreate) {
	if i.Interaction == nil || i.Type != discordgo.InteractionMessageComponent {
		return
	}

	// Deferred update: the user sees no "interaction failed" banner and the
	// menu message stays until the bot retracts it.
	if err := a.sess.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredMessageUpdate,
	}); err != nil {
		log.Printf("discord: acknowledge interaction: %v", err)
	}

	user := i.User
	if i.Member != nil && i.Member.User != nil {
		user = i.Member.User
	}
	if user == nil {
		return
	}

	var ref chat.MessageRef
	if i.Message != nil {
		ref = chat.MessageRef(i.Message.ID)
	}

	a.emit(chat.InboundEvent{
		Platform:    "discord",
		ChannelID:   i.ChannelID,
		UserID:      user.ID,
		UserName:    user.Username,
		DisplayName: displayName(user),
		Private:     i.GuildID == "",
		Kind:        chat.EventSelection,
		Selection:   selectionValue(i.MessageComponentData()),
		MessageRef:  ref,
		Timestamp:   time.Now(),
	})
}

// selectionValue returns the chosen option of a select menu, or the custom
// ID of a pressed button.
func selectionValue(data discordgo.MessageComponentInteractionData) string {
	if len(data.Values) > 0 {
		return data.Values[0]
	}
	return data.CustomID
}

// displayName prefers the user's global display name over the handle.
func displayName(u *discordgo.User) string {
	if u.GlobalName != "" {
		return u.GlobalName
	}
	return u.Username
}

// lastImage returns the URL of the last image attachment, or "".
func lastImage(atts []*discordgo.MessageAttachment) string {
	url := ""
	for _, att := range atts {
		if att == nil {
			continue
		}
		if strings.HasPrefix(att.ContentType, "image/") {
			url = att.URL
		}
	}
	return url
}

// buildMessageSend translates an OutboundMessage into a Discord MessageSend.
// A photo becomes an embed image with the text as its description.
func buildMessageSend(msg chat.OutboundMessage) *discordgo.MessageSend {
	data := &discordgo.MessageSend{}

	if msg.PhotoRef != "" {
		data.Embeds = []*discordgo.MessageEmbed{{
			Description: msg.Text,
			Image:       &discordgo.MessageEmbedImage{URL: msg.PhotoRef},
		}}
	} else {
		data.Content = msg.Text
	}

	data.Components = buildComponents(msg.Menu)
	return data
}

// buildComponents renders a menu as action rows of buttons. Discord allows
// five rows of five buttons. A menu that does not fit keeps its footer as a
// button row and moves the options into string select menus of 25 entries,
// one per remaining row.
func buildComponents(menu *chat.Menu) []discordgo.MessageComponent {
	rows := menu.Rows()
	if len(rows) == 0 {
		return nil
	}

	fits := len(rows) <= maxRows
	for _, r := range rows {
		if len(r) > maxButtonsPerRow {
			fits = false
		}
	}
	if fits {
		var components []discordgo.MessageComponent
		for _, r := range rows {
			components = append(components, buttonRow(r))
		}
		return components
	}

	footer := menu.Footer
	if len(footer) > maxButtonsPerRow {
		footer = footer[:maxButtonsPerRow]
	}
	selectRows := maxRows
	if len(footer) > 0 {
		selectRows--
	}

	opts := menu.Options
	if limit := selectRows * maxSelectOptions; len(opts) > limit {
		log.Printf("discord: menu has %d options, showing first %d", len(opts), limit)
		opts = opts[:limit]
	}

	var components []discordgo.MessageComponent
	for i := 0; i < len(opts); i += maxSelectOptions {
		end := i + maxSelectOptions
		if end > len(opts) {
			end = len(opts)
		}
		var options []discordgo.SelectMenuOption
		for _, opt := range opts[i:end] {
			options = append(options, discordgo.SelectMenuOption{
				Label: truncateLabel(opt.Label),
				Value: opt.Value,
			})
		}
		components = append(components, discordgo.ActionsRow{Components: []discordgo.MessageComponent{
			discordgo.SelectMenu{
				MenuType:    discordgo.StringSelectMenu,
				CustomID:    fmt.Sprintf("menu_%d", i/maxSelectOptions),
				Placeholder: fmt.Sprintf("%d-%d", i+1, end),
				Options:     options,
			},
		}})
	}
	if len(footer) > 0 {
		components = append(components, buttonRow(footer))
	}
	return components
}

func buttonRow(opts []chat.MenuOption) discordgo.ActionsRow {
	var buttons []discordgo.MessageComponent
	for _, opt := range opts {
		buttons = append(buttons, discordgo.Button{
			Label:    truncateLabel(opt.Label),
			Style:    discordgo.SecondaryButton,
			CustomID: opt.Value,
		})
	}
	return discordgo.ActionsRow{Components: buttons}
}

// truncateLabel shortens a button label to Discord's 80-character limit.
func truncateLabel(s string) string {
	r := []rune(s)
	if len(r) <= maxLabelLen {
		return s
	}
	return string(r[:maxLabelLen-1]) + "…"
}

// isNotFound reports whether err is a Discord 404 (unknown message).
func isNotFound(err error) bool {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) || restErr.Response == nil {
		return false
	}
	return restErr.Response.StatusCode == http.StatusNotFound
}

// retryOnRateLimit calls fn and retries with exponential backoff on Discord
// rate limit errors. It respects context cancellation.
func (a *Adapter) retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		var restErr *discordgo.RESTError
		if !errors.As(err, &restErr) || restErr.Response == nil || restErr.Response.StatusCode != http.StatusTooManyRequests {
			return err // not a rate limit error
		}

		if attempt == maxRetries {
			return err
		}

		wait := time.Duration(math.Pow(2, float64(attempt))) * a.baseBackoff
		if wait > a.maxBackoff {
			wait = a.maxBackoff
		}

		log.Printf("discord: rate limited (attempt %d/%d), retrying in %v",
			attempt+1, maxRetries, wait)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil // unreachable
}
