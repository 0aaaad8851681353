package docstore

import (
	"context"
	"errors"
	"sync"
	"testing"

	"batepapo/cmd/internal/chat"
)

func notice(name string) chat.Message {
	return chat.Message{From: name, To: chat.Broadcast, Text: chat.JoinText, Type: chat.TypeStatus, Time: "10:00:00"}
}

func TestMemoryStore_CreateParticipant_Conflict(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	ctx := context.Background()

	if _, err := s.CreateParticipant(ctx, chat.Participant{Name: "ana", LastStatus: 1}, notice("ana")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := s.CreateParticipant(ctx, chat.Participant{Name: "ana", LastStatus: 2}, notice("ana")); !errors.Is(err, chat.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	msgs, err := s.ListVisible(ctx, "someone", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected one join notice, got %d", len(msgs))
	}
}

func TestMemoryStore_CreateParticipant_ConcurrentSameName(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	ctx := context.Background()

	const n = 16
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		oks int
	)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.CreateParticipant(ctx, chat.Participant{Name: "bia", LastStatus: 1}, notice("bia")); err == nil {
				mu.Lock()
				oks++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if oks != 1 {
		t.Fatalf("expected exactly one winner, got %d", oks)
	}
}

func TestMemoryStore_TouchParticipant_NeverDecreases(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	ctx := context.Background()

	if _, err := s.CreateParticipant(ctx, chat.Participant{Name: "caio", LastStatus: 100}, notice("caio")); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.TouchParticipant(ctx, "caio", 50); err != nil {
		t.Fatalf("touch: %v", err)
	}
	p, err := s.GetParticipant(ctx, "caio")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if p.LastStatus != 100 {
		t.Fatalf("lastStatus moved backwards: %d", p.LastStatus)
	}

	if err := s.TouchParticipant(ctx, "ghost", 1); !errors.Is(err, chat.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryStore_StaleBoundary(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	ctx := context.Background()

	for _, p := range []chat.Participant{{Name: "old", LastStatus: 999}, {Name: "edge", LastStatus: 1000}, {Name: "new", LastStatus: 2000}} {
		if _, err := s.CreateParticipant(ctx, p, notice(p.Name)); err != nil {
			t.Fatalf("create %s: %v", p.Name, err)
		}
	}

	stale, err := s.ListStale(ctx, 1000)
	if err != nil {
		t.Fatalf("list stale: %v", err)
	}
	if len(stale) != 1 || stale[0].Name != "old" {
		t.Fatalf("unexpected stale set: %+v", stale)
	}

	n, err := s.DeleteStale(ctx, 1000)
	if err != nil {
		t.Fatalf("delete stale: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 deleted, got %d", n)
	}

	left, _ := s.ListParticipants(ctx)
	if len(left) != 2 || left[0].Name != "edge" || left[1].Name != "new" {
		t.Fatalf("unexpected survivors: %+v", left)
	}
}

func TestMemoryStore_ListVisible_LimitKeepsNewest(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	ctx := context.Background()

	add := func(from, to, text, typ string) chat.Message {
		t.Helper()
		m, err := s.AppendMessage(ctx, chat.Message{From: from, To: to, Text: text, Type: typ, Time: "10:00:00"})
		if err != nil {
			t.Fatalf("append: %v", err)
		}
		return m
	}

	add("ana", chat.Broadcast, "1", chat.TypeMessage)
	add("ana", "bia", "2", chat.TypePrivateMessage)
	add("caio", "dani", "3", chat.TypePrivateMessage) // hidden from bia
	add("bia", "caio", "4", chat.TypePrivateMessage)
	add("caio", chat.Broadcast, "5", chat.TypeMessage)

	all, err := s.ListVisible(ctx, "bia", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if got := texts(all); got != "1245" {
		t.Fatalf("visible for bia: got %q want %q", got, "1245")
	}

	last, err := s.ListVisible(ctx, "bia", 2)
	if err != nil {
		t.Fatalf("list limited: %v", err)
	}
	if got := texts(last); got != "45" {
		t.Fatalf("limited for bia: got %q want %q", got, "45")
	}
}

func TestMemoryStore_UpdateDeleteMessage(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	ctx := context.Background()

	a, _ := s.AppendMessage(ctx, chat.Message{From: "ana", To: chat.Broadcast, Text: "a", Type: chat.TypeMessage})
	b, _ := s.AppendMessage(ctx, chat.Message{From: "ana", To: chat.Broadcast, Text: "b", Type: chat.TypeMessage})

	up, err := s.UpdateMessage(ctx, a.ID, chat.MessageInput{To: "bia", Text: "a2", Type: chat.TypePrivateMessage})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if up.ID != a.ID || up.From != "ana" || up.To != "bia" || up.Text != "a2" {
		t.Fatalf("unexpected update result: %+v", up)
	}

	if err := s.DeleteMessage(ctx, a.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetMessage(ctx, a.ID); !errors.Is(err, chat.ErrNotFound) {
		t.Fatalf("expected deleted message to be gone, got %v", err)
	}
	if got, err := s.GetMessage(ctx, b.ID); err != nil || got.Text != "b" {
		t.Fatalf("sibling lost after delete: %+v %v", got, err)
	}
	if err := s.DeleteMessage(ctx, a.ID); !errors.Is(err, chat.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
	if _, err := s.UpdateMessage(ctx, "nope", chat.MessageInput{}); !errors.Is(err, chat.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on update, got %v", err)
	}
}

func texts(msgs []chat.Message) string {
	var out string
	for _, m := range msgs {
		out += m.Text
	}
	return out
}

func TestMemoryStore_AppendMessage_KeepsHistory(t *testing.T) {
	if testing.Short() {
		t.Skip("appends a large history")
	}
	t.Parallel()

	s := NewMemoryStore()
	ctx := context.Background()

	first, err := s.AppendMessage(ctx, notice("ana"))
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	const n = 100_001
	for i := range n {
		if _, err := s.AppendMessage(ctx, notice("bia")); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	if got, err := s.GetMessage(ctx, first.ID); err != nil || got.From != "ana" {
		t.Fatalf("oldest message lost: %+v %v", got, err)
	}
	msgs, err := s.ListVisible(ctx, "ana", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(msgs) != n+1 || msgs[0].ID != first.ID {
		t.Fatalf("expected %d messages starting with the first, got %d", n+1, len(msgs))
	}
}
