package breakdown

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/zulandar/breakdown/internal/db"
	"gorm.io/gorm"
)

func openStoreTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	gormDB, err := db.OpenSQLite(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return gormDB
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(openStoreTestDB(t))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

func mustCreate(t *testing.T, s *Store, machine, reason, photo string) uint {
	t.Helper()
	rec, err := s.Create(context.Background(), NewBreakdown{
		MachineName: machine,
		Reason:      reason,
		PhotoRef:    photo,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return rec.ID
}

func TestNewStore_NilDB(t *testing.T) {
	_, err := NewStore(nil)
	if err == nil {
		t.Fatal("expected error for nil db")
	}
}

func TestCreate_AssignsIDAndStartsOpen(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	rec, err := s.Create(ctx, NewBreakdown{
		MachineName:  "Станок 3",
		Reason:       "мотор",
		PhotoRef:     "photo-x",
		ReporterID:   "u1",
		ReporterName: "Иван",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if rec.ID == 0 {
		t.Fatal("expected id to be assigned")
	}
	if rec.FixedAt != nil {
		t.Errorf("FixedAt = %v, want nil", rec.FixedAt)
	}

	second := mustCreate(t, s, "Станок 4", "ремень", "photo-y")
	if second == rec.ID {
		t.Errorf("second id = %d, want distinct from %d", second, rec.ID)
	}

	got, err := s.Get(ctx, rec.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.MachineName != "Станок 3" || got.Reason != "мотор" || got.PhotoRef != "photo-x" {
		t.Errorf("Get = %+v, want fields matching create input", got)
	}
	if got.ReporterName != "Иван" {
		t.Errorf("ReporterName = %q, want %q", got.ReporterName, "Иван")
	}
}

func TestCreate_EmptyReasonAccepted(t *testing.T) {
	s := newTestStore(t)
	id := mustCreate(t, s, "Станок 1", "", "p")
	got, err := s.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Reason != "" {
		t.Errorf("Reason = %q, want empty", got.Reason)
	}
}

func TestGet_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(context.Background(), 42)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(42) error = %v, want ErrNotFound", err)
	}
}

func TestListOpen_CreationOrder(t *testing.T) {
	s := newTestStore(t)
	ids := []uint{
		mustCreate(t, s, "Станок 1", "a", "p1"),
		mustCreate(t, s, "Станок 2", "b", "p2"),
		mustCreate(t, s, "Станок 3", "c", "p3"),
	}

	open, err := s.ListOpen(context.Background())
	if err != nil {
		t.Fatalf("ListOpen: %v", err)
	}
	if len(open) != 3 {
		t.Fatalf("len(open) = %d, want 3", len(open))
	}
	for i, rec := range open {
		if rec.ID != ids[i] {
			t.Errorf("open[%d].ID = %d, want %d", i, rec.ID, ids[i])
		}
	}
}

func TestListOpen_ExcludesClosed(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := mustCreate(t, s, "Станок 1", "a", "p1")
	b := mustCreate(t, s, "Станок 2", "b", "p2")

	open, _ := s.ListOpen(ctx)
	if len(open) != 2 {
		t.Fatalf("before close: len(open) = %d, want 2", len(open))
	}

	if _, err := s.TryClose(ctx, a, time.Now(), "petr"); err != nil {
		t.Fatalf("TryClose: %v", err)
	}

	open, err := s.ListOpen(ctx)
	if err != nil {
		t.Fatalf("ListOpen: %v", err)
	}
	if len(open) != 1 || open[0].ID != b {
		t.Errorf("after close: open = %+v, want only %d", open, b)
	}

	all, err := s.List(ctx, true)
	if err != nil {
		t.Fatalf("List(all): %v", err)
	}
	if len(all) != 2 {
		t.Errorf("len(all) = %d, want 2", len(all))
	}
}

func TestTryClose_Success(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := mustCreate(t, s, "Станок 5", "подшипник", "p")

	closedAt := time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)
	rec, err := s.TryClose(ctx, id, closedAt, "petr")
	if err != nil {
		t.Fatalf("TryClose: %v", err)
	}
	if rec.FixedAt == nil || !rec.FixedAt.Equal(closedAt) {
		t.Errorf("FixedAt = %v, want %v", rec.FixedAt, closedAt)
	}
	if rec.FixedBy != "petr" {
		t.Errorf("FixedBy = %q, want %q", rec.FixedBy, "petr")
	}
	if rec.MachineName != "Станок 5" {
		t.Errorf("MachineName = %q, want %q", rec.MachineName, "Станок 5")
	}
}

func TestTryClose_AlreadyClosedDoesNotMutate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := mustCreate(t, s, "Станок 5", "x", "p")

	first := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	if _, err := s.TryClose(ctx, id, first, "petr"); err != nil {
		t.Fatalf("first TryClose: %v", err)
	}

	_, err := s.TryClose(ctx, id, first.Add(time.Hour), "anna")
	if !errors.Is(err, ErrAlreadyClosed) {
		t.Fatalf("second TryClose error = %v, want ErrAlreadyClosed", err)
	}

	got, err := s.Get(ctx, id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.FixedAt.Equal(first) {
		t.Errorf("FixedAt = %v, want unchanged %v", got.FixedAt, first)
	}
	if got.FixedBy != "petr" {
		t.Errorf("FixedBy = %q, want unchanged %q", got.FixedBy, "petr")
	}
}

func TestTryClose_NotFoundMutatesNothing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := mustCreate(t, s, "Станок 1", "a", "p1")

	_, err := s.TryClose(ctx, a+100, time.Now(), "petr")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("TryClose(missing) error = %v, want ErrNotFound", err)
	}

	got, _ := s.Get(ctx, a)
	if got.FixedAt != nil {
		t.Errorf("existing record was mutated: FixedAt = %v", got.FixedAt)
	}
}

func TestTryClose_ConcurrentSingleWinner(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := mustCreate(t, s, "Станок 1", "a", "p1")
	b := mustCreate(t, s, "Станок 2", "b", "p2")

	const callers = 16
	base := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes []time.Time
		conflicts int
		others    []error
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			at := base.Add(time.Duration(i) * time.Minute)
			_, err := s.TryClose(ctx, a, at, "closer")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes = append(successes, at)
			case errors.Is(err, ErrAlreadyClosed):
				conflicts++
			default:
				others = append(others, err)
			}
		}(i)
	}
	wg.Wait()

	if len(others) > 0 {
		t.Fatalf("unexpected errors: %v", others)
	}
	if len(successes) != 1 {
		t.Fatalf("successes = %d, want exactly 1", len(successes))
	}
	if conflicts != callers-1 {
		t.Errorf("conflicts = %d, want %d", conflicts, callers-1)
	}

	got, err := s.Get(ctx, a)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.FixedAt == nil || !got.FixedAt.Equal(successes[0]) {
		t.Errorf("FixedAt = %v, want winner's time %v", got.FixedAt, successes[0])
	}

	other, err := s.Get(ctx, b)
	if err != nil {
		t.Fatalf("Get(b): %v", err)
	}
	if other.FixedAt != nil {
		t.Errorf("record B was closed: FixedAt = %v", other.FixedAt)
	}
}

func TestSetPhotoURL_WritesOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	id := mustCreate(t, s, "Станок 1", "a", "p1")

	if err := s.SetPhotoURL(ctx, id, "https://drive/1"); err != nil {
		t.Fatalf("SetPhotoURL: %v", err)
	}
	if err := s.SetPhotoURL(ctx, id, "https://drive/2"); err != nil {
		t.Fatalf("second SetPhotoURL: %v", err)
	}

	got, _ := s.Get(ctx, id)
	if got.PhotoURL != "https://drive/1" {
		t.Errorf("PhotoURL = %q, want first value", got.PhotoURL)
	}
}
