// Package bot implements the breakdown reporting bot: the report and
// resolution conversation flows, the router that feeds them, the per-user
// dispatcher, and the daemon that ties them to a chat platform.
package bot

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/zulandar/breakdown/internal/breakdown"
	"github.com/zulandar/breakdown/internal/chat"
	"github.com/zulandar/breakdown/internal/config"
	"github.com/zulandar/breakdown/internal/metrics"
	"github.com/zulandar/breakdown/internal/mirror"
	"github.com/zulandar/breakdown/internal/session"
	"gorm.io/gorm"
)

// Daemon is the main bot process. It connects to a chat platform via an
// Adapter, pumps inbound events through the per-user dispatcher to the
// router, and optionally posts a scheduled digest of open breakdowns.
type Daemon struct {
	db      *gorm.DB
	cfg     *config.Config
	adapter chat.Adapter
	archive mirror.PhotoArchive
	sheet   mirror.Sheet
	metrics *metrics.Metrics
	out     io.Writer
}

// DaemonOpts holds parameters for creating a new Daemon.
type DaemonOpts struct {
	DB      *gorm.DB
	Config  *config.Config
	Adapter chat.Adapter
	Archive mirror.PhotoArchive // optional; photos are not archived when nil
	Sheet   mirror.Sheet        // optional; no spreadsheet mirror when nil
	Metrics *metrics.Metrics    // optional
	Out     io.Writer           // defaults to os.Stdout
}

// NewDaemon creates a Daemon with the given options.
func NewDaemon(opts DaemonOpts) (*Daemon, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("bot: db is required")
	}
	if opts.Config == nil {
		return nil, fmt.Errorf("bot: config is required")
	}
	if opts.Adapter == nil {
		return nil, fmt.Errorf("bot: adapter is required")
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	if opts.Sheet == nil {
		fmt.Fprintf(out, "bot: no spreadsheet configured; sheet mirror disabled\n")
	}
	return &Daemon{
		db:      opts.DB,
		cfg:     opts.Config,
		adapter: opts.Adapter,
		archive: opts.Archive,
		sheet:   opts.Sheet,
		metrics: opts.Metrics,
		out:     out,
	}, nil
}

// Run connects the adapter, builds the stores, controllers, router and
// dispatcher, and blocks until the context is cancelled or the adapter
// closes its inbound channel. On shutdown it drains queued events and
// closes the adapter.
func (d *Daemon) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	fmt.Fprintf(d.out, "Bot connecting to %s...\n", d.cfg.Chat.Platform)
	if err := d.adapter.Connect(ctx); err != nil {
		return fmt.Errorf("bot: connect: %w", err)
	}

	// Extract bot user ID if the adapter supports it.
	var botUserID string
	if bui, ok := d.adapter.(chat.BotUserIDer); ok {
		botUserID = bui.BotUserID()
	}

	records, err := breakdown.NewStore(d.db)
	if err != nil {
		d.adapter.Close()
		return fmt.Errorf("bot: build record store: %w", err)
	}
	sessions := session.NewStore()

	copts := ControllerOpts{
		Sessions: sessions,
		Records:  records,
		Adapter:  d.adapter,
		Forward:  d.cfg.Chat.ForwardChannel,
		Archive:  d.archive,
		Sheet:    d.sheet,
		Machines: d.cfg.Machines.List(),
		Metrics:  d.metrics,
	}
	reporter, err := NewReporter(copts)
	if err != nil {
		d.adapter.Close()
		return fmt.Errorf("bot: build reporter: %w", err)
	}
	resolver, err := NewResolver(copts)
	if err != nil {
		d.adapter.Close()
		return fmt.Errorf("bot: build resolver: %w", err)
	}

	router, err := NewRouter(RouterOpts{
		Reporter:     reporter,
		Resolver:     resolver,
		Sessions:     sessions,
		Adapter:      d.adapter,
		AllowedUsers: d.cfg.Chat.AllowedUsers,
		BotUserID:    botUserID,
		Out:          d.out,
	})
	if err != nil {
		d.adapter.Close()
		return fmt.Errorf("bot: build router: %w", err)
	}

	inbound, err := d.adapter.Listen(ctx)
	if err != nil {
		d.adapter.Close()
		return fmt.Errorf("bot: listen: %w", err)
	}

	// Handlers finish the event they are on even after shutdown starts.
	dispatcher := NewDispatcher(router, defaultQueueSize)
	handlerCtx := context.WithoutCancel(ctx)

	go d.runDigestScheduler(ctx, records)

	fmt.Fprintf(d.out, "Bot online (%d machines)\n", len(copts.Machines))

	for {
		select {
		case <-ctx.Done():
			fmt.Fprintf(d.out, "Bot shutting down...\n")
			dispatcher.Close()
			if err := d.adapter.Close(); err != nil {
				log.Printf("bot: close adapter: %v", err)
			}
			fmt.Fprintf(d.out, "Bot stopped\n")
			return nil

		case ev, ok := <-inbound:
			if !ok {
				fmt.Fprintf(d.out, "Bot inbound channel closed\n")
				dispatcher.Close()
				return nil
			}
			dispatcher.Dispatch(handlerCtx, ev)
		}
	}
}

// runDigestScheduler posts the open-breakdown digest to the forward channel
// on the configured cron schedule. It returns immediately when the digest
// is disabled or there is no forward channel.
func (d *Daemon) runDigestScheduler(ctx context.Context, records *breakdown.Store) {
	digest := d.cfg.Digest
	if !digest.Enabled || d.cfg.Chat.ForwardChannel == "" {
		return
	}

	wait := nextCronDuration(digest.Cron, time.Now())
	if wait <= 0 {
		log.Printf("bot: digest: invalid cron %q, digest disabled", digest.Cron)
		return
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			d.fireDigest(ctx, records)
			if wait := nextCronDuration(digest.Cron, time.Now()); wait > 0 {
				timer.Reset(wait)
			}
		}
	}
}

// fireDigest sends one digest. Nothing is sent when no breakdown is open.
func (d *Daemon) fireDigest(ctx context.Context, records *breakdown.Store) {
	open, err := records.ListOpen(ctx)
	if err != nil {
		log.Printf("bot: digest: %v", err)
		return
	}
	text := digestText(open, time.Now())
	if text == "" {
		return
	}
	if _, err := d.adapter.Send(ctx, chat.OutboundMessage{
		ChannelID: d.cfg.Chat.ForwardChannel,
		Text:      text,
	}); err != nil {
		log.Printf("bot: send digest: %v", err)
		d.metrics.RecordSyncFailure(metrics.OpNotify)
	}
}
