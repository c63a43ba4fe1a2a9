// Package session keeps the transient per-user conversation state of the
// report and resolution flows. Sessions live in memory only; losing them on
// restart is acceptable.
package session

import "sync"

// Step is the position of a user within a flow.
type Step string

// Conversation steps. Idle is shared by both flows.
const (
	StepIdle                 Step = "idle"
	StepAwaitingMachine      Step = "awaiting_machine"
	StepAwaitingReason       Step = "awaiting_reason"
	StepAwaitingPhoto        Step = "awaiting_photo"
	StepAwaitingFixSelection Step = "awaiting_fix_selection"
)

// Ephemeral message slots.
const (
	SlotMenu   = "menu"
	SlotPrompt = "prompt"
)

// Session is one user's conversation state.
type Session struct {
	Step Step

	// Collected report answers.
	MachineName string
	Reason      string

	// Identity and chat of the event that started the flow.
	ChannelID   string
	UserName    string
	DisplayName string

	// Ephemeral maps a slot name to the transport handle of a message that
	// should be retracted once it is stale.
	Ephemeral map[string]string
}

// New returns an idle session.
func New() Session {
	return Session{Step: StepIdle}
}

// Active reports whether a flow is in progress.
func (s Session) Active() bool {
	return s.Step != "" && s.Step != StepIdle
}

// Clone returns a deep copy of s.
func (s Session) Clone() Session {
	if s.Ephemeral != nil {
		eph := make(map[string]string, len(s.Ephemeral))
		for k, v := range s.Ephemeral {
			eph[k] = v
		}
		s.Ephemeral = eph
	}
	return s
}

// Remember stores a message handle under slot.
func (s *Session) Remember(slot, ref string) {
	if ref == "" {
		return
	}
	if s.Ephemeral == nil {
		s.Ephemeral = make(map[string]string)
	}
	s.Ephemeral[slot] = ref
}

// Forget removes and returns the handle stored under slot.
func (s *Session) Forget(slot string) string {
	ref := s.Ephemeral[slot]
	delete(s.Ephemeral, slot)
	return ref
}

// Store holds sessions keyed by user id. Each user has its own lock; the map
// lock is held only to find or create the entry, so one user's operations
// never wait on another's.
type Store struct {
	mu      sync.Mutex
	entries map[string]*entry
}

type entry struct {
	mu   sync.Mutex
	sess Session
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{entries: make(map[string]*entry)}
}

func (s *Store) entry(userID string) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[userID]
	if !ok {
		e = &entry{sess: New()}
		s.entries[userID] = e
	}
	return e
}

// Get returns a copy of the user's session, creating an idle one if absent.
func (s *Store) Get(userID string) Session {
	e := s.entry(userID)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sess.Clone()
}

// Set replaces the user's session.
func (s *Store) Set(userID string, sess Session) {
	e := s.entry(userID)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sess = sess.Clone()
}

// Update applies fn to the user's session under the user's lock and returns
// the resulting copy.
func (s *Store) Update(userID string, fn func(*Session)) Session {
	e := s.entry(userID)
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(&e.sess)
	return e.sess.Clone()
}

// Clear resets the user's session to idle. The entry itself is kept so that
// a concurrent operation on the same user cannot race a fresh entry.
func (s *Store) Clear(userID string) {
	s.mu.Lock()
	e, ok := s.entries[userID]
	s.mu.Unlock()
	if !ok {
		return
	}
	e.mu.Lock()
	e.sess = New()
	e.mu.Unlock()
}
