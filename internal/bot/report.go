package bot

import (
	"context"
	"fmt"
	"log"

	"github.com/zulandar/breakdown/internal/breakdown"
	"github.com/zulandar/breakdown/internal/chat"
	"github.com/zulandar/breakdown/internal/metrics"
	"github.com/zulandar/breakdown/internal/mirror"
	"github.com/zulandar/breakdown/internal/session"
)

// Reporter drives the report flow: machine menu, reason, photo, record.
type Reporter struct {
	flow
	records  *breakdown.Store
	archive  mirror.PhotoArchive
	sheet    mirror.Sheet
	machines []string
	known    map[string]bool
}

// Start begins a report: the machine menu is sent and the user moves to
// AwaitingMachine. Any flow in progress is replaced.
func (r *Reporter) Start(ctx context.Context, ev chat.InboundEvent) error {
	s := r.begin(ctx, ev)
	next, err := advance(s.Step, eventReport)
	if err != nil {
		return err
	}

	ref := r.send(ctx, chat.OutboundMessage{
		ChannelID: ev.ChannelID,
		Text:      textChooseMachine,
		Menu:      machineMenu(r.machines),
	})
	if ref == "" {
		r.sessions.Clear(ev.UserID)
		return fmt.Errorf("bot: report: machine menu was not delivered")
	}

	s.Step = next
	s.Remember(session.SlotMenu, string(ref))
	r.sessions.Set(ev.UserID, s)
	return nil
}

// OnMachineChosen handles a machine menu selection. choice is a machine name
// or cancelChoice. Names that are not configured are ignored.
func (r *Reporter) OnMachineChosen(ctx context.Context, ev chat.InboundEvent, choice string) error {
	s := r.sessions.Get(ev.UserID)
	if err := expect(s, session.StepAwaitingMachine, eventMachine); err != nil {
		return err
	}
	if choice == cancelChoice {
		return r.cancel(ctx, ev, s)
	}
	if !r.known[choice] {
		log.Printf("bot: report: ignoring unknown machine %q from %s", choice, ev.UserID)
		return nil
	}

	next, err := advance(s.Step, eventMachine)
	if err != nil {
		return err
	}
	r.retract(ctx, s.ChannelID, s.Ephemeral[session.SlotMenu])
	ref := r.reply(ctx, replyChannel(ev, s), askReasonText(choice))

	r.sessions.Update(ev.UserID, func(cur *session.Session) {
		cur.Forget(session.SlotMenu)
		cur.MachineName = choice
		cur.Step = next
		cur.Remember(session.SlotPrompt, string(ref))
	})
	return nil
}

// OnReasonText stores the reason verbatim and asks for a photo.
func (r *Reporter) OnReasonText(ctx context.Context, ev chat.InboundEvent, text string) error {
	s := r.sessions.Get(ev.UserID)
	if err := expect(s, session.StepAwaitingReason, eventReason); err != nil {
		return err
	}
	next, err := advance(s.Step, eventReason)
	if err != nil {
		return err
	}
	r.retract(ctx, s.ChannelID, s.Ephemeral[session.SlotPrompt])
	ref := r.reply(ctx, replyChannel(ev, s), textAskPhoto)

	r.sessions.Update(ev.UserID, func(cur *session.Session) {
		cur.Forget(session.SlotPrompt)
		cur.Reason = text
		cur.Step = next
		cur.Remember(session.SlotPrompt, string(ref))
	})
	return nil
}

// OnPhotoReceived completes the report. The record is created first; if
// that fails the session is left as it was so the user can resend the
// photo. Archive, sheet and notices afterwards are best-effort.
func (r *Reporter) OnPhotoReceived(ctx context.Context, ev chat.InboundEvent, photoRef string) error {
	s := r.sessions.Get(ev.UserID)
	if err := expect(s, session.StepAwaitingPhoto, eventPhoto); err != nil {
		return err
	}
	if _, err := advance(s.Step, eventPhoto); err != nil {
		return err
	}

	user, display := s.UserName, s.DisplayName
	if user == "" {
		user, display = actorName(ev)
	}

	rec, err := r.records.Create(ctx, breakdown.NewBreakdown{
		MachineName:  s.MachineName,
		Reason:       s.Reason,
		PhotoRef:     photoRef,
		ReporterID:   ev.UserID,
		ReporterName: display,
	})
	if err != nil {
		return fmt.Errorf("bot: report: %w", err)
	}
	r.metrics.RecordReport(rec.MachineName)
	log.Printf("bot: report: breakdown #%d on %s by %s", rec.ID, rec.MachineName, ev.UserID)

	channel := replyChannel(ev, s)
	r.retract(ctx, s.ChannelID, s.Forget(session.SlotPrompt))

	photoURL := r.archivePhoto(ctx, rec.ID, photoRef, rec.MachineName)
	if r.sheet != nil {
		if err := r.sheet.AppendRow(ctx, mirror.OpenRow(rec, photoURL)); err != nil {
			log.Printf("bot: report: sheet append #%d: %v", rec.ID, err)
			r.metrics.RecordSyncFailure(metrics.OpSheetAdd)
		}
	}

	r.broadcast(ctx, channel, chat.OutboundMessage{
		Text:     openCaption(rec, user, display),
		PhotoRef: photoRef,
	})

	r.sessions.Clear(ev.UserID)
	r.reply(ctx, channel, textSaved)
	return nil
}

// archivePhoto copies the photo to the archive and stores the link on the
// record. Returns "" when there is no archive or the copy failed.
func (r *Reporter) archivePhoto(ctx context.Context, id uint, photoRef, machine string) string {
	if r.archive == nil {
		return ""
	}
	url, err := r.archive.Archive(ctx, photoRef, machine)
	if err != nil {
		log.Printf("bot: report: archive photo #%d: %v", id, err)
		r.metrics.RecordSyncFailure(metrics.OpArchive)
		return ""
	}
	if err := r.records.SetPhotoURL(ctx, id, url); err != nil {
		log.Printf("bot: report: store photo url #%d: %v", id, err)
	}
	return url
}

// Cancel ends whichever flow the user has in progress.
func (r *Reporter) Cancel(ctx context.Context, ev chat.InboundEvent) error {
	return r.cancel(ctx, ev, r.sessions.Get(ev.UserID))
}
