package relay

import (
	"context"
	"sync"
	"testing"
	"time"
)

// memTransport is an in-memory transport: receive pops the queued inbound
// events and then blocks until the context is done, and send records.
type memTransport struct {
	mu      sync.Mutex
	inbound []Event
	sent    []Event
	sendErr error
}

func newTransport(inbound ...Event) *memTransport {
	return &memTransport{inbound: inbound}
}

func (m *memTransport) receive(ctx context.Context) (Event, error) {
	m.mu.Lock()
	if len(m.inbound) > 0 {
		ev := m.inbound[0]
		m.inbound = m.inbound[1:]
		m.mu.Unlock()
		return ev, nil
	}
	m.mu.Unlock()
	<-ctx.Done()
	return Event{}, ctx.Err()
}

func (m *memTransport) send(ctx context.Context, ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, ev)
	return nil
}

func (m *memTransport) Sent() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.sent...)
}

func (m *memTransport) Types() []string {
	var types []string
	for _, ev := range m.Sent() {
		types = append(types, ev.Type)
	}
	return types
}

// failingReceive fails the test if the gateway tries to receive anything.
func failingReceive(t *testing.T) ReceiveFunc {
	return func(ctx context.Context) (Event, error) {
		t.Error("receive should not have been called")
		return Event{}, context.Canceled
	}
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func requestEvent(body string, more bool) Event {
	return Event{Type: EventRequest, Body: []byte(body), MoreBody: more}
}
