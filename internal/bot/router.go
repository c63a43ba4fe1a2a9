package bot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/zulandar/breakdown/internal/chat"
	"github.com/zulandar/breakdown/internal/session"
)

// Router classifies inbound chat events and routes them to the report or
// resolution controller: commands by name, menu selections by value prefix,
// and text or photos by the sender's current step.
type Router struct {
	reporter  *Reporter
	resolver  *Resolver
	sessions  *session.Store
	adapter   chat.Adapter
	allowed   map[string]bool // empty means everyone
	botUserID string
	out       io.Writer
}

// RouterOpts holds parameters for creating a Router.
type RouterOpts struct {
	Reporter     *Reporter
	Resolver     *Resolver
	Sessions     *session.Store
	Adapter      chat.Adapter
	AllowedUsers []string  // user ids or handles; empty allows everyone
	BotUserID    string    // bot's user ID for self-message filtering
	Out          io.Writer // defaults to os.Stdout
}

// NewRouter creates a Router.
func NewRouter(opts RouterOpts) (*Router, error) {
	if opts.Reporter == nil {
		return nil, fmt.Errorf("bot: router: reporter is required")
	}
	if opts.Resolver == nil {
		return nil, fmt.Errorf("bot: router: resolver is required")
	}
	if opts.Sessions == nil {
		return nil, fmt.Errorf("bot: router: session store is required")
	}
	if opts.Adapter == nil {
		return nil, fmt.Errorf("bot: router: adapter is required")
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	allowed := make(map[string]bool, len(opts.AllowedUsers))
	for _, u := range opts.AllowedUsers {
		if u = strings.TrimSpace(u); u != "" {
			allowed[u] = true
		}
	}
	return &Router{
		reporter:  opts.Reporter,
		resolver:  opts.Resolver,
		sessions:  opts.Sessions,
		adapter:   opts.Adapter,
		allowed:   allowed,
		botUserID: opts.BotUserID,
		out:       out,
	}, nil
}

// Handle routes a single inbound event. Step mismatches are logged and
// dropped; other failures are logged and answered with a generic notice.
func (r *Router) Handle(ctx context.Context, ev chat.InboundEvent) {
	if ev.UserID == "" || ev.UserID == r.botUserID {
		return
	}

	fmt.Fprintf(r.out, "bot: router: recv [ch=%s user=%s kind=%s] %q\n",
		ev.ChannelID, ev.UserID, ev.Kind, truncate(routeLabel(ev), 80))

	if !r.isAllowed(ev) {
		if ev.Private {
			r.reply(ctx, ev.ChannelID, textNotAllowed)
		}
		return
	}

	err := r.route(ctx, ev)
	switch {
	case err == nil:
	case errors.Is(err, ErrInvalidStep):
		log.Printf("bot: router: %s from %s: %v", ev.Kind, ev.UserID, err)
	default:
		log.Printf("bot: router: %s from %s: %v", ev.Kind, ev.UserID, err)
		r.reply(ctx, ev.ChannelID, textFailure)
	}
}

func (r *Router) route(ctx context.Context, ev chat.InboundEvent) error {
	switch ev.Kind {
	case chat.EventSelection:
		return r.routeSelection(ctx, ev)

	case chat.EventPhoto:
		if !r.inFlowChannel(ev) {
			return nil
		}
		return r.reporter.OnPhotoReceived(ctx, ev, ev.PhotoRef)

	case chat.EventText:
		if cmd, ok := parseCommand(ev.Text); ok {
			return r.command(ctx, ev, cmd)
		}
		s := r.sessions.Get(ev.UserID)
		if s.Step != session.StepAwaitingReason || !r.inFlowChannel(ev) {
			// Ordinary chatter.
			return nil
		}
		return r.reporter.OnReasonText(ctx, ev, ev.Text)
	}
	return nil
}

func (r *Router) routeSelection(ctx context.Context, ev chat.InboundEvent) error {
	switch {
	case strings.HasPrefix(ev.Selection, machinePrefix):
		return r.reporter.OnMachineChosen(ctx, ev, strings.TrimPrefix(ev.Selection, machinePrefix))
	case strings.HasPrefix(ev.Selection, fixPrefix):
		return r.resolver.OnSelection(ctx, ev, strings.TrimPrefix(ev.Selection, fixPrefix))
	}
	log.Printf("bot: router: unknown selection %q from %s", ev.Selection, ev.UserID)
	return nil
}

func (r *Router) command(ctx context.Context, ev chat.InboundEvent, cmd string) error {
	switch cmd {
	case "start":
		r.reply(ctx, ev.ChannelID, textGreeting)
	case "help":
		r.reply(ctx, ev.ChannelID, textHelp)
	case "report":
		if !ev.Private {
			r.reply(ctx, ev.ChannelID, textPrivateOnly)
			return nil
		}
		return r.reporter.Start(ctx, ev)
	case "fix":
		if !ev.Private {
			r.reply(ctx, ev.ChannelID, textPrivateOnly)
			return nil
		}
		return r.resolver.Start(ctx, ev)
	case "cancel":
		err := r.reporter.Cancel(ctx, ev)
		if errors.Is(err, ErrInvalidStep) {
			r.reply(ctx, ev.ChannelID, textNothingToCancel)
			return nil
		}
		return err
	}
	return nil
}

// inFlowChannel reports whether ev comes from the chat the user's active
// flow was started in, so group chatter never feeds a private flow.
func (r *Router) inFlowChannel(ev chat.InboundEvent) bool {
	s := r.sessions.Get(ev.UserID)
	return !s.Active() || s.ChannelID == "" || s.ChannelID == ev.ChannelID
}

func (r *Router) isAllowed(ev chat.InboundEvent) bool {
	if len(r.allowed) == 0 {
		return true
	}
	return r.allowed[ev.UserID] || (ev.UserName != "" && r.allowed[ev.UserName])
}

func (r *Router) reply(ctx context.Context, channelID, text string) {
	if _, err := r.adapter.Send(ctx, chat.OutboundMessage{ChannelID: channelID, Text: text}); err != nil {
		log.Printf("bot: router: reply to %s: %v", channelID, err)
	}
}

// parseCommand extracts the lower-cased command name from "/name args" or
// "/name@bot". Returns false for text that is not a command.
func parseCommand(text string) (string, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", false
	}
	fields := strings.Fields(text[1:])
	if len(fields) == 0 {
		return "", false
	}
	name := fields[0]
	if i := strings.IndexByte(name, '@'); i >= 0 {
		name = name[:i]
	}
	if name == "" {
		return "", false
	}
	return strings.ToLower(name), true
}

// routeLabel is what the recv log line shows for an event.
func routeLabel(ev chat.InboundEvent) string {
	switch ev.Kind {
	case chat.EventSelection:
		return ev.Selection
	case chat.EventPhoto:
		return ev.PhotoRef
	}
	return strings.TrimSpace(ev.Text)
}
