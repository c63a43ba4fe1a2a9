package chat

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// SentMessage is an outbound message recorded by MockAdapter together with
// the handle it was assigned.
type SentMessage struct {
	Ref MessageRef
	OutboundMessage
}

// Retraction records a Retract call on MockAdapter.
type Retraction struct {
	ChannelID string
	Ref       MessageRef
}

// MockAdapter implements Adapter and PhotoFetcher for testing. It records
// sent and retracted messages and allows simulating inbound events via
// SimulateInbound.
type MockAdapter struct {
	mu        sync.Mutex
	connected bool
	closed    bool
	inbound   chan InboundEvent
	sent      []SentMessage
	retracted []Retraction
	counter   int
	sendErr   error
	fetchErr  error
	botUserID string
}

// NewMockAdapter creates a MockAdapter with a buffered inbound channel.
func NewMockAdapter() *MockAdapter {
	return &MockAdapter{
		inbound: make(chan InboundEvent, 100),
	}
}

// BotUserID returns the configured bot user ID (implements BotUserIDer).
func (m *MockAdapter) BotUserID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.botUserID
}

// SetBotUserID sets the bot user ID for testing.
func (m *MockAdapter) SetBotUserID(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.botUserID = id
}

// Connect marks the adapter as connected.
func (m *MockAdapter) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("mock adapter: already closed")
	}
	m.connected = true
	return nil
}

// Listen returns the inbound event channel. Must be called after Connect.
func (m *MockAdapter) Listen(ctx context.Context) (<-chan InboundEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return nil, fmt.Errorf("mock adapter: not connected")
	}
	return m.inbound, nil
}

// Send records the outbound message and returns a fresh handle.
func (m *MockAdapter) Send(ctx context.Context, msg OutboundMessage) (MessageRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return "", fmt.Errorf("mock adapter: not connected")
	}
	if m.sendErr != nil {
		return "", m.sendErr
	}
	m.counter++
	ref := MessageRef(fmt.Sprintf("msg-%d", m.counter))
	m.sent = append(m.sent, SentMessage{Ref: ref, OutboundMessage: msg})
	return ref, nil
}

// Retract records the retraction. Unknown handles succeed, matching the
// contract for messages that are already gone.
func (m *MockAdapter) Retract(ctx context.Context, channelID string, ref MessageRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.connected {
		return fmt.Errorf("mock adapter: not connected")
	}
	m.retracted = append(m.retracted, Retraction{ChannelID: channelID, Ref: ref})
	return nil
}

// FetchPhoto returns the photo reference itself as the photo content.
func (m *MockAdapter) FetchPhoto(ctx context.Context, photoRef string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}
	return io.NopCloser(strings.NewReader("photo:" + photoRef)), nil
}

// Close shuts down the mock adapter and closes the inbound channel.
func (m *MockAdapter) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	m.connected = false
	close(m.inbound)
	return nil
}

// --- Test helpers ---

// SimulateInbound sends an event into the inbound channel as if it came
// from the chat platform. Safe to call from any goroutine.
func (m *MockAdapter) SimulateInbound(evt InboundEvent) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	m.inbound <- evt
}

// SetSendError makes every subsequent Send fail with err (nil restores).
func (m *MockAdapter) SetSendError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendErr = err
}

// SetFetchError makes every subsequent FetchPhoto fail with err.
func (m *MockAdapter) SetFetchError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetchErr = err
}

// LastSent returns the most recently sent message.
// Returns zero value and false if no messages have been sent.
func (m *MockAdapter) LastSent() (SentMessage, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		return SentMessage{}, false
	}
	return m.sent[len(m.sent)-1], true
}

// SentCount returns the number of messages sent.
func (m *MockAdapter) SentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// AllSent returns a copy of all sent messages.
func (m *MockAdapter) AllSent() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]SentMessage, len(m.sent))
	copy(out, m.sent)
	return out
}

// SentTo returns the messages sent to channelID, in order.
func (m *MockAdapter) SentTo(channelID string) []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []SentMessage
	for _, s := range m.sent {
		if s.ChannelID == channelID {
			out = append(out, s)
		}
	}
	return out
}

// Retracted returns a copy of all recorded retractions.
func (m *MockAdapter) Retracted() []Retraction {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Retraction, len(m.retracted))
	copy(out, m.retracted)
	return out
}

// WasRetracted reports whether ref has been retracted.
func (m *MockAdapter) WasRetracted(ref MessageRef) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.retracted {
		if r.Ref == ref {
			return true
		}
	}
	return false
}
