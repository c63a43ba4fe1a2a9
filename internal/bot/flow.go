package bot

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/zulandar/breakdown/internal/chat"
	"github.com/zulandar/breakdown/internal/metrics"
	"github.com/zulandar/breakdown/internal/session"
)

// flow holds what the report and resolution controllers share: the session
// store, the chat adapter used as notification sink, and the forward
// destination that receives a copy of every open and close notice.
type flow struct {
	sessions *session.Store
	adapter  chat.Adapter
	forward  string
	metrics  *metrics.Metrics
	now      func() time.Time
}

// send posts a plain or menu message and returns its handle. Failures are
// logged and counted; the handle is empty then.
func (f *flow) send(ctx context.Context, msg chat.OutboundMessage) chat.MessageRef {
	ref, err := f.adapter.Send(ctx, msg)
	if err != nil {
		log.Printf("bot: send to %s: %v", msg.ChannelID, err)
		f.metrics.RecordSyncFailure(metrics.OpNotify)
		return ""
	}
	return ref
}

// reply sends text to channelID.
func (f *flow) reply(ctx context.Context, channelID, text string) chat.MessageRef {
	return f.send(ctx, chat.OutboundMessage{ChannelID: channelID, Text: text})
}

// broadcast sends msg to the actor's chat and to the forward destination.
// Delivery to one does not depend on the other.
func (f *flow) broadcast(ctx context.Context, channelID string, msg chat.OutboundMessage) {
	msg.ChannelID = channelID
	f.send(ctx, msg)
	if f.forward != "" && f.forward != channelID {
		msg.ChannelID = f.forward
		f.send(ctx, msg)
	}
}

// retract removes a stale message, best-effort.
func (f *flow) retract(ctx context.Context, channelID, ref string) {
	if ref == "" {
		return
	}
	if err := f.adapter.Retract(ctx, channelID, chat.MessageRef(ref)); err != nil {
		log.Printf("bot: retract %s in %s: %v", ref, channelID, err)
	}
}

// retractAll removes every ephemeral message of s.
func (f *flow) retractAll(ctx context.Context, s *session.Session) {
	for _, slot := range []string{session.SlotMenu, session.SlotPrompt} {
		f.retract(ctx, s.ChannelID, s.Forget(slot))
	}
}

// begin replaces whatever the user had in progress with a fresh idle
// session bound to the event's chat and identity.
func (f *flow) begin(ctx context.Context, ev chat.InboundEvent) session.Session {
	prev := f.sessions.Get(ev.UserID)
	if prev.Active() {
		f.retractAll(ctx, &prev)
	}
	s := session.New()
	s.ChannelID = ev.ChannelID
	s.UserName = ev.UserName
	s.DisplayName = ev.DisplayName
	return s
}

// cancel ends any active flow of the user: retracts its ephemeral messages,
// confirms with "Отменено." and returns to Idle.
func (f *flow) cancel(ctx context.Context, ev chat.InboundEvent, s session.Session) error {
	if _, err := advance(s.Step, eventCancel); err != nil {
		return err
	}
	name := "report"
	if s.Step == session.StepAwaitingFixSelection {
		name = "fix"
	}
	f.retractAll(ctx, &s)
	f.sessions.Clear(ev.UserID)
	f.metrics.RecordCancel(name)
	f.reply(ctx, replyChannel(ev, s), textCancelled)
	return nil
}

// actorName returns the handle and display name to credit for an event.
func actorName(ev chat.InboundEvent) (string, string) {
	user := ev.UserName
	if user == "" {
		user = ev.UserID
	}
	display := ev.DisplayName
	if display == "" {
		display = user
	}
	return user, display
}

// replyChannel prefers the channel of the event, falling back to the one
// the flow started in.
func replyChannel(ev chat.InboundEvent, s session.Session) string {
	if ev.ChannelID != "" {
		return ev.ChannelID
	}
	return s.ChannelID
}

// closedBy is the identity stored with a closed record.
func closedBy(ev chat.InboundEvent) string {
	user, display := actorName(ev)
	if user == display {
		return user
	}
	return fmt.Sprintf("%s (%s)", display, user)
}
