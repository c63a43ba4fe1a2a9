package bot

import (
	"context"
	"errors"
	"fmt"

	"github.com/looplab/fsm"
	"github.com/zulandar/breakdown/internal/session"
)

// ErrInvalidStep is returned when an event arrives in a step that does not
// expect it. The router logs and otherwise ignores it.
var ErrInvalidStep = errors.New("bot: event not expected in current step")

// Flow events.
const (
	eventReport    = "report"      // /report
	eventMachine   = "machine"     // machine chosen
	eventReason    = "reason"      // reason text received
	eventPhoto     = "photo"       // photo received, record created
	eventFix       = "fix"         // /fix with open breakdowns
	eventFixChosen = "fix_chosen"  // breakdown picked for closing
	eventCancel    = "cancel"      // cancel button or /cancel
	eventNoneToFix = "none_to_fix" // /fix with nothing open
)

var (
	allSteps = []string{
		string(session.StepIdle),
		string(session.StepAwaitingMachine),
		string(session.StepAwaitingReason),
		string(session.StepAwaitingPhoto),
		string(session.StepAwaitingFixSelection),
	}
	awaitingSteps = allSteps[1:]
)

// flowEvents is the transition table shared by the report and resolution
// flows. Starting either flow is allowed from any step and replaces whatever
// was in progress.
var flowEvents = fsm.Events{
	{Name: eventReport, Src: allSteps, Dst: string(session.StepAwaitingMachine)},
	{Name: eventMachine, Src: []string{string(session.StepAwaitingMachine)}, Dst: string(session.StepAwaitingReason)},
	{Name: eventReason, Src: []string{string(session.StepAwaitingReason)}, Dst: string(session.StepAwaitingPhoto)},
	{Name: eventPhoto, Src: []string{string(session.StepAwaitingPhoto)}, Dst: string(session.StepIdle)},
	{Name: eventFix, Src: allSteps, Dst: string(session.StepAwaitingFixSelection)},
	{Name: eventNoneToFix, Src: allSteps, Dst: string(session.StepIdle)},
	{Name: eventFixChosen, Src: []string{string(session.StepAwaitingFixSelection)}, Dst: string(session.StepIdle)},
	{Name: eventCancel, Src: awaitingSteps, Dst: string(session.StepIdle)},
}

// advance returns the step reached from "from" by event, or ErrInvalidStep
// when the table has no such transition.
func advance(from session.Step, event string) (session.Step, error) {
	if from == "" {
		from = session.StepIdle
	}
	machine := fsm.NewFSM(string(from), flowEvents, nil)
	if !machine.Can(event) {
		return from, fmt.Errorf("%w: %s in %s", ErrInvalidStep, event, from)
	}
	if err := machine.Event(context.Background(), event); err != nil {
		var noTransition fsm.NoTransitionError
		if !errors.As(err, &noTransition) {
			return from, fmt.Errorf("bot: transition %s from %s: %w", event, from, err)
		}
	}
	return session.Step(machine.Current()), nil
}

// expect checks that a session is in step want before handling event.
func expect(s session.Session, want session.Step, event string) error {
	if s.Step != want {
		return fmt.Errorf("%w: %s in %s", ErrInvalidStep, event, s.Step)
	}
	return nil
}
