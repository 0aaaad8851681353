package chat

import (
	"context"
	"time"
)

// Broadcast is the reserved recipient meaning "everyone in the room".
const Broadcast = "Todos"

// Message types (wire-stable).
const (
	TypeMessage        = "message"
	TypePrivateMessage = "private_message"
	TypeStatus         = "status"
)

// Presence notice texts.
const (
	JoinText  = "entra na sala..."
	LeaveText = "sai da sala..."
)

// TimeLayout formats Message.Time.
const TimeLayout = "15:04:05"

// Participant is a named, heartbeating room member.
type Participant struct {
	Name       string `json:"name"`
	LastStatus int64  `json:"lastStatus"`
}

// Message is the canonical persisted message representation.
type Message struct {
	ID   string `json:"_id"`
	From string `json:"from"`
	To   string `json:"to"`
	Text string `json:"text"`
	Type string `json:"type"`
	Time string `json:"time"`
}

// MessageInput is the client-controlled part of a message (send and edit).
type MessageInput struct {
	To   string `json:"to" validate:"required,min=1,max=25"`
	Text string `json:"text" validate:"required"`
	Type string `json:"type" validate:"required,oneof=message private_message"`
}

// VisibleTo reports whether viewer may read m.
func (m Message) VisibleTo(viewer string) bool {
	return m.To == viewer || m.To == Broadcast || m.From == viewer
}

// OwnedBy reports whether name may edit or delete m.
func (m Message) OwnedBy(name string) bool {
	return m.From == name || m.To == name
}

// ParticipantStore persists participants.
//
// Requirements:
//   - Name is unique; Create reports a duplicate as ErrConflict.
//   - Create writes the participant and its join notice. Backends with
//     transactions do both atomically.
//   - Touch never moves LastStatus backwards.
type ParticipantStore interface {
	ListParticipants(ctx context.Context) ([]Participant, error)
	GetParticipant(ctx context.Context, name string) (Participant, error)
	CreateParticipant(ctx context.Context, p Participant, notice Message) (Message, error)
	TouchParticipant(ctx context.Context, name string, lastStatus int64) error
	ListStale(ctx context.Context, cutoff int64) ([]Participant, error)
	DeleteStale(ctx context.Context, cutoff int64) (int64, error)
}

// MessageStore persists messages in insertion order.
type MessageStore interface {
	AppendMessage(ctx context.Context, m Message) (Message, error)
	GetMessage(ctx context.Context, id string) (Message, error)
	// ListVisible returns the last limit messages visible to viewer, oldest
	// first. limit <= 0 means all.
	ListVisible(ctx context.Context, viewer string, limit int) ([]Message, error)
	UpdateMessage(ctx context.Context, id string, in MessageInput) (Message, error)
	DeleteMessage(ctx context.Context, id string) error
}

// Store bundles both collections of one backend.
type Store interface {
	ParticipantStore
	MessageStore
	Ping(ctx context.Context) error
}

// EventKind identifies a ledger change pushed to live subscribers.
type EventKind string

const (
	EventMessageNew     EventKind = "message_new"
	EventMessageUpdated EventKind = "message_updated"
	EventMessageDeleted EventKind = "message_deleted"
)

// Event is a ledger change.
type Event struct {
	Kind    EventKind
	Message Message
	At      time.Time
}

// Notifier receives ledger changes. Publish must not block.
type Notifier interface {
	Publish(ev Event)
}

type nopNotifier struct{}

func (nopNotifier) Publish(Event) {}

func statusNotice(name, text string, now time.Time) Message {
	return Message{
		From: name,
		To:   Broadcast,
		Text: text,
		Type: TypeStatus,
		Time: now.Format(TimeLayout),
	}
}
