package bot

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/zulandar/breakdown/internal/breakdown"
	"github.com/zulandar/breakdown/internal/chat"
	"github.com/zulandar/breakdown/internal/db"
	"github.com/zulandar/breakdown/internal/mirror"
	"github.com/zulandar/breakdown/internal/session"
	"gorm.io/gorm"
)

const forwardChannel = "fwd"

var testNow = time.Date(2024, 3, 5, 14, 7, 9, 0, time.Local)

type testEnv struct {
	db       *gorm.DB
	adapter  *chat.MockAdapter
	sessions *session.Store
	records  *breakdown.Store
	sheet    *mirror.MemorySheet
	archive  *mirror.MemoryArchive
	reporter *Reporter
	resolver *Resolver
	router   *Router
}

type envOption func(*ControllerOpts, *RouterOpts)

func withAllowedUsers(users ...string) envOption {
	return func(_ *ControllerOpts, r *RouterOpts) { r.AllowedUsers = users }
}

func withoutMirrors() envOption {
	return func(c *ControllerOpts, _ *RouterOpts) {
		c.Sheet = nil
		c.Archive = nil
	}
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	gormDB, err := db.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	records, err := breakdown.NewStore(gormDB)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	adapter := chat.NewMockAdapter()
	if err := adapter.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}

	env := &testEnv{
		db:       gormDB,
		adapter:  adapter,
		sessions: session.NewStore(),
		records:  records,
		sheet:    mirror.NewMemorySheet(),
		archive:  mirror.NewMemoryArchive(),
	}

	copts := ControllerOpts{
		Sessions: env.sessions,
		Records:  records,
		Adapter:  adapter,
		Forward:  forwardChannel,
		Archive:  env.archive,
		Sheet:    env.sheet,
		Machines: []string{"Станок 1", "Станок 2", "Станок 3", "Станок 4"},
		Now:      func() time.Time { return testNow },
	}
	ropts := RouterOpts{
		Sessions:  env.sessions,
		Adapter:   adapter,
		BotUserID: "bot",
		Out:       io.Discard,
	}
	for _, o := range opts {
		o(&copts, &ropts)
	}

	if env.reporter, err = NewReporter(copts); err != nil {
		t.Fatalf("NewReporter: %v", err)
	}
	if env.resolver, err = NewResolver(copts); err != nil {
		t.Fatalf("NewResolver: %v", err)
	}
	ropts.Reporter = env.reporter
	ropts.Resolver = env.resolver
	if env.router, err = NewRouter(ropts); err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	return env
}

// dm builds a private-chat event from user.
func dm(user string) chat.InboundEvent {
	return chat.InboundEvent{
		Platform:    "mock",
		ChannelID:   "dm-" + user,
		UserID:      user,
		UserName:    user,
		DisplayName: strings.ToUpper(user),
		Private:     true,
		Kind:        chat.EventText,
	}
}

func textEv(user, text string) chat.InboundEvent {
	ev := dm(user)
	ev.Text = text
	return ev
}

func selectEv(user, value string) chat.InboundEvent {
	ev := dm(user)
	ev.Kind = chat.EventSelection
	ev.Selection = value
	return ev
}

func photoEv(user, ref string) chat.InboundEvent {
	ev := dm(user)
	ev.Kind = chat.EventPhoto
	ev.PhotoRef = ref
	return ev
}

// texts returns the texts sent to channel, in order.
func (e *testEnv) texts(channel string) []string {
	var out []string
	for _, m := range e.adapter.SentTo(channel) {
		out = append(out, m.Text)
	}
	return out
}

// lastText returns the last text sent to channel.
func (e *testEnv) lastText(t *testing.T, channel string) string {
	t.Helper()
	msgs := e.adapter.SentTo(channel)
	if len(msgs) == 0 {
		t.Fatalf("nothing sent to %s", channel)
	}
	return msgs[len(msgs)-1].Text
}

// report runs a full report for user through the controller.
func (e *testEnv) report(t *testing.T, user, machine, reason, photo string) {
	t.Helper()
	ctx := context.Background()
	if err := e.reporter.Start(ctx, dm(user)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := e.reporter.OnMachineChosen(ctx, dm(user), machine); err != nil {
		t.Fatalf("OnMachineChosen: %v", err)
	}
	if err := e.reporter.OnReasonText(ctx, dm(user), reason); err != nil {
		t.Fatalf("OnReasonText: %v", err)
	}
	if err := e.reporter.OnPhotoReceived(ctx, dm(user), photo); err != nil {
		t.Fatalf("OnPhotoReceived: %v", err)
	}
}

func (e *testEnv) openCount(t *testing.T) int {
	t.Helper()
	open, err := e.records.ListOpen(context.Background())
	if err != nil {
		t.Fatalf("ListOpen: %v", err)
	}
	return len(open)
}

// syncWriter serializes writes from the daemon and its workers.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

func (s *syncWriter) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.w.(interface{ String() string }); ok {
		return b.String()
	}
	return ""
}
