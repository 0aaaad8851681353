package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
)

// Registry creates, lists and heartbeats participants.
type Registry struct {
	store    ParticipantStore
	log      *slog.Logger
	now      func() time.Time
	notifier Notifier
}

// NewRegistry constructs a Registry over store.
func NewRegistry(store ParticipantStore, opts ...Option) (*Registry, error) {
	if store == nil {
		return nil, errors.New("chat: nil participant store")
	}
	o, err := buildOptions(opts)
	if err != nil {
		return nil, err
	}
	return &Registry{store: store, log: o.log, now: o.now, notifier: o.notifier}, nil
}

// List returns every registered participant.
func (r *Registry) List(ctx context.Context) ([]Participant, error) {
	ps, err := r.store.ListParticipants(ctx)
	if err != nil {
		return nil, storeErr("chat.Registry.List", err)
	}
	if ps == nil {
		ps = []Participant{}
	}
	return ps, nil
}

// Register admits rawName to the room and posts its join notice.
func (r *Registry) Register(ctx context.Context, rawName string) (Participant, error) {
	const op = "chat.Registry.Register"

	name, err := NormalizeName(rawName)
	if err != nil {
		return Participant{}, err
	}

	_, err = r.store.GetParticipant(ctx, name)
	switch {
	case err == nil:
		return Participant{}, OpError{Op: op, Kind: ErrConflict, Msg: name}
	case !errors.Is(err, ErrNotFound):
		return Participant{}, storeErr(op, err)
	}

	now := r.now()
	p := Participant{Name: name, LastStatus: now.UnixMilli()}
	notice, err := r.store.CreateParticipant(ctx, p, statusNotice(name, JoinText, now))
	if err != nil {
		// A concurrent registration may win between the lookup and the insert;
		// the store's uniqueness constraint reports it as ErrConflict.
		return Participant{}, storeErr(op, err)
	}

	r.log.Info("participant.registered", "name", name)
	r.notifier.Publish(Event{Kind: EventMessageNew, Message: notice, At: now})
	return p, nil
}

// Heartbeat bumps lastStatus for name.
func (r *Registry) Heartbeat(ctx context.Context, name string) error {
	const op = "chat.Registry.Heartbeat"

	name = strings.TrimSpace(name)
	if name == "" {
		return OpError{Op: op, Kind: ErrMissingUser}
	}
	if err := r.store.TouchParticipant(ctx, name, r.now().UnixMilli()); err != nil {
		if errors.Is(err, ErrNotFound) {
			return OpError{Op: op, Kind: ErrNotFound, Msg: "participant " + name}
		}
		return storeErr(op, err)
	}
	r.log.Debug("participant.heartbeat", "name", name)
	return nil
}
