package bot

import (
	"fmt"
	"time"

	"github.com/zulandar/breakdown/internal/breakdown"
	"github.com/zulandar/breakdown/internal/chat"
	"github.com/zulandar/breakdown/internal/metrics"
	"github.com/zulandar/breakdown/internal/mirror"
	"github.com/zulandar/breakdown/internal/session"
)

// ControllerOpts holds the dependencies of the report and resolution
// controllers.
type ControllerOpts struct {
	Sessions *session.Store
	Records  *breakdown.Store
	Adapter  chat.Adapter
	Forward  string              // channel that receives a copy of every notice; optional
	Archive  mirror.PhotoArchive // optional
	Sheet    mirror.Sheet        // optional
	Machines []string            // reportable machines, in menu order
	Metrics  *metrics.Metrics    // optional
	Now      func() time.Time    // defaults to time.Now
}

func (o ControllerOpts) flow() (flow, error) {
	if o.Sessions == nil {
		return flow{}, fmt.Errorf("bot: session store is required")
	}
	if o.Records == nil {
		return flow{}, fmt.Errorf("bot: record store is required")
	}
	if o.Adapter == nil {
		return flow{}, fmt.Errorf("bot: adapter is required")
	}
	now := o.Now
	if now == nil {
		now = time.Now
	}
	return flow{
		sessions: o.Sessions,
		adapter:  o.Adapter,
		forward:  o.Forward,
		metrics:  o.Metrics,
		now:      now,
	}, nil
}

// NewReporter creates the report flow controller.
func NewReporter(opts ControllerOpts) (*Reporter, error) {
	f, err := opts.flow()
	if err != nil {
		return nil, err
	}
	if len(opts.Machines) == 0 {
		return nil, fmt.Errorf("bot: at least one machine is required")
	}
	known := make(map[string]bool, len(opts.Machines))
	for _, m := range opts.Machines {
		known[m] = true
	}
	return &Reporter{
		flow:     f,
		records:  opts.Records,
		archive:  opts.Archive,
		sheet:    opts.Sheet,
		machines: append([]string(nil), opts.Machines...),
		known:    known,
	}, nil
}

// NewResolver creates the resolution flow controller.
func NewResolver(opts ControllerOpts) (*Resolver, error) {
	f, err := opts.flow()
	if err != nil {
		return nil, err
	}
	return &Resolver{
		flow:    f,
		records: opts.Records,
		sheet:   opts.Sheet,
	}, nil
}
