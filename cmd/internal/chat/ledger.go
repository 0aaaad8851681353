package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"
)

// Ledger creates, lists, edits and deletes messages.
type Ledger struct {
	messages     MessageStore
	participants ParticipantStore
	log          *slog.Logger
	now          func() time.Time
	notifier     Notifier
}

// NewLedger constructs a Ledger. participants is used for sender and recipient checks.
func NewLedger(messages MessageStore, participants ParticipantStore, opts ...Option) (*Ledger, error) {
	if messages == nil {
		return nil, errors.New("chat: nil message store")
	}
	if participants == nil {
		return nil, errors.New("chat: nil participant store")
	}
	o, err := buildOptions(opts)
	if err != nil {
		return nil, err
	}
	return &Ledger{
		messages:     messages,
		participants: participants,
		log:          o.log,
		now:          o.now,
		notifier:     o.notifier,
	}, nil
}

// List returns the most recent limit messages visible to viewer, oldest first.
// The viewer does not have to be registered; departed users keep their history.
func (l *Ledger) List(ctx context.Context, viewer string, limit int) ([]Message, error) {
	const op = "chat.Ledger.List"

	viewer = strings.TrimSpace(viewer)
	if viewer == "" {
		return nil, OpError{Op: op, Kind: ErrMissingUser}
	}
	if limit < 0 {
		limit = 0
	}
	msgs, err := l.messages.ListVisible(ctx, viewer, limit)
	if err != nil {
		return nil, storeErr(op, err)
	}
	if msgs == nil {
		msgs = []Message{}
	}
	return msgs, nil
}

// Send appends a message from sender.
func (l *Ledger) Send(ctx context.Context, sender string, in MessageInput) (Message, error) {
	const op = "chat.Ledger.Send"

	sender = strings.TrimSpace(sender)
	if sender == "" {
		return Message{}, OpError{Op: op, Kind: ErrMissingUser}
	}
	in, err := NormalizeMessage(in)
	if err != nil {
		return Message{}, err
	}

	if in.Type == TypePrivateMessage {
		if err := l.requireParticipant(ctx, op, in.To, ErrRecipientNotFound); err != nil {
			return Message{}, err
		}
	}
	if err := l.requireParticipant(ctx, op, sender, ErrUnknownSender); err != nil {
		return Message{}, err
	}

	now := l.now()
	stored, err := l.messages.AppendMessage(ctx, Message{
		From: sender,
		To:   in.To,
		Text: in.Text,
		Type: in.Type,
		Time: now.Format(TimeLayout),
	})
	if err != nil {
		return Message{}, storeErr(op, err)
	}

	l.log.Info("message.sent", "id", stored.ID, "from", sender, "type", stored.Type)
	l.notifier.Publish(Event{Kind: EventMessageNew, Message: stored, At: now})
	return stored, nil
}

// Update replaces to, text and type of message id on behalf of editor.
func (l *Ledger) Update(ctx context.Context, id, editor string, in MessageInput) (Message, error) {
	const op = "chat.Ledger.Update"

	editor = strings.TrimSpace(editor)
	if editor == "" {
		return Message{}, OpError{Op: op, Kind: ErrMissingUser}
	}
	in, err := NormalizeMessage(in)
	if err != nil {
		return Message{}, err
	}

	current, err := l.owned(ctx, op, id, editor)
	if err != nil {
		return Message{}, err
	}
	if in.Type == TypePrivateMessage {
		if err := l.requireParticipant(ctx, op, in.To, ErrRecipientNotFound); err != nil {
			return Message{}, err
		}
	}

	updated, err := l.messages.UpdateMessage(ctx, current.ID, in)
	if err != nil {
		return Message{}, l.missingOr(op, id, err)
	}

	l.log.Info("message.updated", "id", updated.ID, "by", editor)
	l.notifier.Publish(Event{Kind: EventMessageUpdated, Message: updated, At: l.now()})
	return updated, nil
}

// Delete removes message id on behalf of requester.
func (l *Ledger) Delete(ctx context.Context, id, requester string) error {
	const op = "chat.Ledger.Delete"

	requester = strings.TrimSpace(requester)
	if requester == "" {
		return OpError{Op: op, Kind: ErrMissingUser}
	}

	current, err := l.owned(ctx, op, id, requester)
	if err != nil {
		return err
	}
	if err := l.messages.DeleteMessage(ctx, current.ID); err != nil {
		return l.missingOr(op, id, err)
	}

	l.log.Info("message.deleted", "id", current.ID, "by", requester)
	l.notifier.Publish(Event{Kind: EventMessageDeleted, Message: current, At: l.now()})
	return nil
}

// owned loads message id and checks that user is its sender or recipient.
func (l *Ledger) owned(ctx context.Context, op, id, user string) (Message, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Message{}, OpError{Op: op, Kind: ErrNotFound, Msg: "message"}
	}
	m, err := l.messages.GetMessage(ctx, id)
	if err != nil {
		return Message{}, l.missingOr(op, id, err)
	}
	if !m.OwnedBy(user) {
		return Message{}, OpError{Op: op, Kind: ErrNotOwner, Msg: "message " + id + " user " + user}
	}
	return m, nil
}

func (l *Ledger) requireParticipant(ctx context.Context, op, name string, missing error) error {
	_, err := l.participants.GetParticipant(ctx, name)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound):
		return OpError{Op: op, Kind: missing, Msg: name}
	default:
		return storeErr(op, err)
	}
}

func (l *Ledger) missingOr(op, id string, err error) error {
	if errors.Is(err, ErrNotFound) {
		return OpError{Op: op, Kind: ErrNotFound, Msg: "message " + id}
	}
	return storeErr(op, err)
}
