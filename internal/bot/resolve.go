package bot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/zulandar/breakdown/internal/breakdown"
	"github.com/zulandar/breakdown/internal/chat"
	"github.com/zulandar/breakdown/internal/metrics"
	"github.com/zulandar/breakdown/internal/mirror"
	"github.com/zulandar/breakdown/internal/session"
)

// Resolver drives the resolution flow: open-breakdown menu, close, notices.
type Resolver struct {
	flow
	records *breakdown.Store
	sheet   mirror.Sheet
}

// Start lists open breakdowns as a menu and moves the user to
// AwaitingFixSelection. With nothing open the user stays Idle.
func (r *Resolver) Start(ctx context.Context, ev chat.InboundEvent) error {
	open, err := r.records.ListOpen(ctx)
	if err != nil {
		return fmt.Errorf("bot: fix: %w", err)
	}

	s := r.begin(ctx, ev)
	if len(open) == 0 {
		if _, err := advance(s.Step, eventNoneToFix); err != nil {
			return err
		}
		r.sessions.Set(ev.UserID, s)
		r.reply(ctx, ev.ChannelID, textNoOpen)
		return nil
	}

	next, err := advance(s.Step, eventFix)
	if err != nil {
		return err
	}
	ref := r.send(ctx, chat.OutboundMessage{
		ChannelID: ev.ChannelID,
		Text:      textChooseFix,
		Menu:      fixMenu(open),
	})
	if ref == "" {
		r.sessions.Clear(ev.UserID)
		return fmt.Errorf("bot: fix: breakdown menu was not delivered")
	}

	s.Step = next
	s.Remember(session.SlotMenu, string(ref))
	r.sessions.Set(ev.UserID, s)
	return nil
}

// OnSelection handles a pick from the open-breakdown menu. choice is a
// record id or cancelChoice. The user ends Idle in every outcome except a
// storage failure, which is returned.
func (r *Resolver) OnSelection(ctx context.Context, ev chat.InboundEvent, choice string) error {
	s := r.sessions.Get(ev.UserID)
	if err := expect(s, session.StepAwaitingFixSelection, eventFixChosen); err != nil {
		return err
	}
	if choice == cancelChoice {
		return r.cancel(ctx, ev, s)
	}

	id, err := strconv.ParseUint(choice, 10, 64)
	if err != nil {
		log.Printf("bot: fix: ignoring malformed selection %q from %s", choice, ev.UserID)
		return nil
	}
	if _, err := advance(s.Step, eventFixChosen); err != nil {
		return err
	}

	channel := replyChannel(ev, s)
	r.retract(ctx, s.ChannelID, s.Forget(session.SlotMenu))

	closedAt := r.now()
	rec, err := r.records.TryClose(ctx, uint(id), closedAt, closedBy(ev))
	switch {
	case errors.Is(err, breakdown.ErrAlreadyClosed):
		r.metrics.RecordClose(metrics.OutcomeAlreadyClosed)
		r.sessions.Clear(ev.UserID)
		r.reply(ctx, channel, textAlreadyClosed)
		return nil
	case errors.Is(err, breakdown.ErrNotFound):
		r.metrics.RecordClose(metrics.OutcomeNotFound)
		r.sessions.Clear(ev.UserID)
		r.reply(ctx, channel, textRecordNotFound)
		return nil
	case err != nil:
		r.metrics.RecordClose(metrics.OutcomeError)
		r.sessions.Clear(ev.UserID)
		return fmt.Errorf("bot: fix: %w", err)
	}
	r.metrics.RecordClose(metrics.OutcomeClosed)
	log.Printf("bot: fix: breakdown #%d on %s closed by %s", rec.ID, rec.MachineName, ev.UserID)

	user, display := actorName(ev)
	r.broadcast(ctx, channel, chat.OutboundMessage{
		Text:     closeCaption(rec, user, display, closedAt),
		PhotoRef: rec.PhotoRef,
	})

	r.sessions.Clear(ev.UserID)
	if notice := r.markSheetClosed(ctx, rec.ID, closedAt); notice != "" {
		r.reply(ctx, channel, notice)
	}
	return nil
}

// markSheetClosed writes the close time into the record's sheet row and
// returns the user notice to send, if any. The record stays closed
// whatever happens here.
func (r *Resolver) markSheetClosed(ctx context.Context, id uint, closedAt time.Time) string {
	if r.sheet == nil {
		return ""
	}
	row, found, err := r.sheet.FindRowByRecordID(ctx, id)
	if err != nil {
		log.Printf("bot: fix: sheet find #%d: %v", id, err)
		r.metrics.RecordSyncFailure(metrics.OpSheetFind)
		return textSheetError
	}
	if !found {
		return textSheetNotFound
	}
	if err := r.sheet.UpdateCell(ctx, row, mirror.ColumnClosedAt, mirror.FormatTime(closedAt)); err != nil {
		log.Printf("bot: fix: sheet update #%d row %d: %v", id, row, err)
		r.metrics.RecordSyncFailure(metrics.OpSheetClose)
		return textSheetError
	}
	return ""
}
