package chat_test

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"batepapo/cmd/internal/chat"
	"batepapo/cmd/internal/docstore"
)

func TestReaper_Sweep_RemovesOnlyStale(t *testing.T) {
	t.Parallel()

	r := newRoom(t)
	r.mustRegister(t, "ana", "bia")
	ctx := t.Context()

	r.clock.Advance(10 * time.Second)
	if err := r.registry.Heartbeat(ctx, "bia"); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}

	// ana is exactly at the boundary: not strictly older than the window.
	r.clock.Advance(5 * time.Second)
	res, err := r.reaper.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(res.Removed) != 0 {
		t.Fatalf("expected nobody removed at the boundary, got %v", res.Removed)
	}

	r.clock.Advance(time.Millisecond)
	res, err = r.reaper.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if !slices.Equal(res.Removed, []string{"ana"}) || res.Deleted != 1 {
		t.Fatalf("unexpected sweep result: %+v", res)
	}

	ps, _ := r.registry.List(ctx)
	if len(ps) != 1 || ps[0].Name != "bia" {
		t.Fatalf("unexpected survivors: %+v", ps)
	}

	msgs, _ := r.ledger.List(ctx, "bia", 1)
	if len(msgs) != 1 {
		t.Fatalf("expected a leave notice")
	}
	leave := msgs[0]
	if leave.From != "ana" || leave.To != chat.Broadcast || leave.Text != chat.LeaveText || leave.Type != chat.TypeStatus || leave.Time != "14:30:15" {
		t.Fatalf("unexpected leave notice: %+v", leave)
	}
}

func TestReaper_Sweep_OneNoticePerParticipant(t *testing.T) {
	t.Parallel()

	r := newRoom(t)
	r.mustRegister(t, "ana", "bia", "caio")
	ctx := t.Context()

	r.clock.Advance(16 * time.Second)
	res, err := r.reaper.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(res.Removed) != 3 || res.NoticeFailures != 0 {
		t.Fatalf("unexpected sweep result: %+v", res)
	}

	msgs, _ := r.ledger.List(ctx, "someone", 0)
	var leaves []string
	for _, m := range msgs {
		if m.Text == chat.LeaveText {
			leaves = append(leaves, m.From)
		}
	}
	slices.Sort(leaves)
	if !slices.Equal(leaves, []string{"ana", "bia", "caio"}) {
		t.Fatalf("unexpected leave notices: %v", leaves)
	}

	// A second sweep has nothing left to do.
	res, err = r.reaper.Sweep(ctx)
	if err != nil || len(res.Removed) != 0 {
		t.Fatalf("expected empty second sweep, got %+v %v", res, err)
	}
}

// flakyMessages fails AppendMessage for one sender.
type flakyMessages struct {
	*docstore.MemoryStore
	failFor string
}

func (f flakyMessages) AppendMessage(ctx context.Context, m chat.Message) (chat.Message, error) {
	if m.From == f.failFor && m.Text == chat.LeaveText {
		return chat.Message{}, errors.New("disk full")
	}
	return f.MemoryStore.AppendMessage(ctx, m)
}

type sweepLog struct {
	mu      sync.Mutex
	results []chat.SweepResult
}

func (s *sweepLog) ObserveSweep(res chat.SweepResult, _ time.Duration, _ error) {
	s.mu.Lock()
	s.results = append(s.results, res)
	s.mu.Unlock()
}

func TestReaper_Sweep_NoticeFailureDoesNotStopOthers(t *testing.T) {
	t.Parallel()

	r := newRoom(t)
	r.mustRegister(t, "ana", "bia")
	ctx := t.Context()

	obs := &sweepLog{}
	reaper, err := chat.NewReaper(r.store, flakyMessages{MemoryStore: r.store, failFor: "ana"},
		chat.WithClock(r.clock.Now), chat.WithSweepObserver(obs))
	if err != nil {
		t.Fatalf("new reaper: %v", err)
	}

	r.clock.Advance(20 * time.Second)
	res, err := reaper.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if res.NoticeFailures != 1 || len(res.Removed) != 2 {
		t.Fatalf("unexpected sweep result: %+v", res)
	}

	msgs, _ := r.ledger.List(ctx, "x", 0)
	last := msgs[len(msgs)-1]
	if last.From != "bia" || last.Text != chat.LeaveText {
		t.Fatalf("expected bia's leave notice, got %+v", last)
	}

	if len(obs.results) != 1 || obs.results[0].NoticeFailures != 1 {
		t.Fatalf("observer did not see the sweep: %+v", obs.results)
	}
}

// blockingParticipants parks ListStale until released.
type blockingParticipants struct {
	*docstore.MemoryStore
	entered chan struct{}
	release chan struct{}
}

func (b blockingParticipants) ListStale(ctx context.Context, cutoff int64) ([]chat.Participant, error) {
	b.entered <- struct{}{}
	<-b.release
	return b.MemoryStore.ListStale(ctx, cutoff)
}

func TestReaper_Sweep_SkipsWhileRunning(t *testing.T) {
	t.Parallel()

	store := docstore.NewMemoryStore()
	bp := blockingParticipants{MemoryStore: store, entered: make(chan struct{}), release: make(chan struct{})}
	reaper, err := chat.NewReaper(bp, store)
	if err != nil {
		t.Fatalf("new reaper: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = reaper.Sweep(context.Background())
	}()
	<-bp.entered

	res, err := reaper.Sweep(context.Background())
	if err != nil || !res.Skipped {
		t.Fatalf("expected skipped sweep, got %+v %v", res, err)
	}

	close(bp.release)
	<-done
}

func TestReaper_Run_StopsOnCancel(t *testing.T) {
	t.Parallel()

	r := newRoom(t, chat.WithInterval(5*time.Millisecond))
	if r.reaper.Interval() != 5*time.Millisecond {
		t.Fatalf("interval=%v", r.reaper.Interval())
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.reaper.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("reaper did not stop")
	}
}

// Two participants join, only one heartbeats, and the silent one is
// removed with a leave notice after the window passes.
func TestReaper_Scenario_SilentParticipantLeaves(t *testing.T) {
	t.Parallel()

	r := newRoom(t)
	r.mustRegister(t, "maria", "joao")
	ctx := t.Context()

	for range 3 {
		r.clock.Advance(5 * time.Second)
		if err := r.registry.Heartbeat(ctx, "joao"); err != nil {
			t.Fatalf("heartbeat: %v", err)
		}
		if _, err := r.reaper.Sweep(ctx); err != nil {
			t.Fatalf("sweep: %v", err)
		}
	}
	r.clock.Advance(5 * time.Second)
	if _, err := r.reaper.Sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	ps, _ := r.registry.List(ctx)
	if len(ps) != 1 || ps[0].Name != "joao" {
		t.Fatalf("expected only joao, got %+v", ps)
	}

	if _, err := r.ledger.Send(ctx, "maria", chat.MessageInput{To: chat.Broadcast, Text: "voltei", Type: chat.TypeMessage}); !errors.Is(err, chat.ErrUnknownSender) {
		t.Fatalf("expected ErrUnknownSender for expired participant, got %v", err)
	}
	if err := r.registry.Heartbeat(ctx, "maria"); !errors.Is(err, chat.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

// cancellingParticipants cancels the sweep context right after the delete.
type cancellingParticipants struct {
	*docstore.MemoryStore
	cancel context.CancelFunc
}

func (c cancellingParticipants) DeleteStale(ctx context.Context, cutoff int64) (int64, error) {
	n, err := c.MemoryStore.DeleteStale(ctx, cutoff)
	c.cancel()
	return n, err
}

func TestReaper_Sweep_NoticesSurviveCancelAfterDelete(t *testing.T) {
	t.Parallel()

	r := newRoom(t)
	r.mustRegister(t, "ana", "bia")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reaper, err := chat.NewReaper(cancellingParticipants{MemoryStore: r.store, cancel: cancel}, r.store,
		chat.WithClock(r.clock.Now))
	if err != nil {
		t.Fatalf("new reaper: %v", err)
	}

	r.clock.Advance(20 * time.Second)
	res, err := reaper.Sweep(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(res.Removed) != 2 || res.NoticeFailures != 0 {
		t.Fatalf("unexpected sweep result: %+v", res)
	}

	msgs, _ := r.ledger.List(t.Context(), "x", 2)
	if len(msgs) != 2 || msgs[0].Text != chat.LeaveText || msgs[1].Text != chat.LeaveText {
		t.Fatalf("expected both leave notices, got %+v", msgs)
	}
}
