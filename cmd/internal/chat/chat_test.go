package chat_test

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"batepapo/cmd/internal/chat"
	"batepapo/cmd/internal/docstore"
)

// fakeClock is a settable clock shared by the components under test.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 10, 14, 30, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// recorder collects published events.
type recorder struct {
	mu     sync.Mutex
	events []chat.Event
}

func (r *recorder) Publish(ev chat.Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) kinds() []chat.EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]chat.EventKind, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Kind)
	}
	return out
}

type room struct {
	store    *docstore.MemoryStore
	clock    *fakeClock
	events   *recorder
	registry *chat.Registry
	ledger   *chat.Ledger
	reaper   *chat.Reaper
}

func newRoom(t *testing.T, extra ...chat.Option) *room {
	t.Helper()

	r := &room{
		store:  docstore.NewMemoryStore(),
		clock:  newFakeClock(),
		events: &recorder{},
	}
	opts := append([]chat.Option{
		chat.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		chat.WithClock(r.clock.Now),
		chat.WithNotifier(r.events),
	}, extra...)

	var err error
	if r.registry, err = chat.NewRegistry(r.store, opts...); err != nil {
		t.Fatalf("new registry: %v", err)
	}
	if r.ledger, err = chat.NewLedger(r.store, r.store, opts...); err != nil {
		t.Fatalf("new ledger: %v", err)
	}
	if r.reaper, err = chat.NewReaper(r.store, r.store, opts...); err != nil {
		t.Fatalf("new reaper: %v", err)
	}
	return r
}

func (r *room) mustRegister(t *testing.T, names ...string) {
	t.Helper()
	for _, n := range names {
		if _, err := r.registry.Register(t.Context(), n); err != nil {
			t.Fatalf("register %q: %v", n, err)
		}
	}
}

func texts(msgs []chat.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.Text)
	}
	return out
}
