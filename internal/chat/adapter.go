// Package chat defines the transport contract between the breakdown bot and a
// chat platform (Discord, Slack, etc.): inbound user events, outbound
// messages with optional button menus, and retraction of stale messages.
package chat

import (
	"context"
	"io"
	"time"
)

// Adapter is the interface that platform-specific implementations must satisfy.
type Adapter interface {
	// Connect establishes a connection to the chat platform.
	Connect(ctx context.Context) error

	// Listen returns a channel of inbound events. The channel is closed when
	// the adapter is closed. Listen must only be called after Connect.
	Listen(ctx context.Context) (<-chan InboundEvent, error)

	// Send delivers a message and returns a handle that can later be passed
	// to Retract.
	Send(ctx context.Context, msg OutboundMessage) (MessageRef, error)

	// Retract deletes a previously sent message. A message that is already
	// gone counts as retracted and returns nil.
	Retract(ctx context.Context, channelID string, ref MessageRef) error

	// Close gracefully shuts down the adapter connection.
	Close() error
}

// PhotoFetcher is an optional interface for adapters that can download the
// photo behind an inbound PhotoRef (used by the photo archive).
type PhotoFetcher interface {
	FetchPhoto(ctx context.Context, photoRef string) (io.ReadCloser, error)
}

// BotUserIDer is an optional interface that adapters can implement to
// expose the bot's own user ID. This enables self-message filtering.
type BotUserIDer interface {
	BotUserID() string
}

// MessageRef is an opaque platform message handle.
type MessageRef string

// EventKind classifies an inbound event.
type EventKind int

const (
	// EventText is a plain text message (commands included).
	EventText EventKind = iota
	// EventPhoto is a message carrying an image.
	EventPhoto
	// EventSelection is a press on a menu button.
	EventSelection
)

func (k EventKind) String() string {
	switch k {
	case EventText:
		return "text"
	case EventPhoto:
		return "photo"
	case EventSelection:
		return "selection"
	default:
		return "unknown"
	}
}

// InboundEvent is a user action received from the chat platform.
type InboundEvent struct {
	Platform    string // e.g. "slack", "discord"
	ChannelID   string // chat the event happened in
	UserID      string // platform-specific user identifier
	UserName    string // handle, e.g. "ivan_p"
	DisplayName string // human-readable name, e.g. "Иван"
	Private     bool   // true for one-to-one chats with the bot
	Kind        EventKind
	Text        string     // EventText: raw message text
	PhotoRef    string     // EventPhoto: platform photo reference
	Selection   string     // EventSelection: value of the pressed option
	MessageRef  MessageRef // EventSelection: message carrying the menu
	Timestamp   time.Time
}

// OutboundMessage is a message to be sent to the chat platform.
type OutboundMessage struct {
	ChannelID string
	Text      string // message text or photo caption
	PhotoRef  string // optional image to attach
	Menu      *Menu  // optional button menu
}

// MenuOption is a single button. Value is echoed back in
// InboundEvent.Selection when the button is pressed.
type MenuOption struct {
	Label string
	Value string
}

// Menu is a grid of buttons laid out Columns per row, followed by an
// optional footer row (typically the cancel button).
type Menu struct {
	Options []MenuOption
	Columns int // defaults to 1
	Footer  []MenuOption
}

// Rows splits the options into rows of at most Columns buttons and appends
// the footer as its own row.
func (m *Menu) Rows() [][]MenuOption {
	if m == nil {
		return nil
	}
	cols := m.Columns
	if cols <= 0 {
		cols = 1
	}
	var rows [][]MenuOption
	for i := 0; i < len(m.Options); i += cols {
		end := i + cols
		if end > len(m.Options) {
			end = len(m.Options)
		}
		rows = append(rows, m.Options[i:end])
	}
	if len(m.Footer) > 0 {
		rows = append(rows, m.Footer)
	}
	return rows
}
