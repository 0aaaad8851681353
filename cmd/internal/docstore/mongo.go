package docstore

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"batepapo/cmd/internal/chat"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const (
	participantsCollection = "participants"
	messagesCollection     = "messages"

	compensateTimeout = 5 * time.Second
)

type participantDoc struct {
	ID         primitive.ObjectID `bson:"_id,omitempty"`
	Name       string             `bson:"name"`
	LastStatus int64              `bson:"lastStatus"`
}

type messageDoc struct {
	ID   primitive.ObjectID `bson:"_id,omitempty"`
	From string             `bson:"from"`
	To   string             `bson:"to"`
	Text string             `bson:"text"`
	Type string             `bson:"type"`
	Time string             `bson:"time"`
}

func (d messageDoc) toMessage() chat.Message {
	return chat.Message{
		ID:   d.ID.Hex(),
		From: d.From,
		To:   d.To,
		Text: d.Text,
		Type: d.Type,
		Time: d.Time,
	}
}

// MongoStore is a chat.Store backed by two MongoDB collections,
// participants and messages.
//
// Ownership model:
// - MongoStore does NOT own the client. The caller must disconnect it.
//
// Registration is not transactional (standalone servers have no
// transactions); a participant whose join notice cannot be written is removed again.
type MongoStore struct {
	db           *mongo.Database
	participants *mongo.Collection
	messages     *mongo.Collection
}

// NewMongoStore constructs a MongoStore over db.
func NewMongoStore(db *mongo.Database) (*MongoStore, error) {
	if db == nil {
		return nil, errors.New("docstore: nil mongo database")
	}
	return &MongoStore{
		db:           db,
		participants: db.Collection(participantsCollection),
		messages:     db.Collection(messagesCollection),
	}, nil
}

// EnsureIndexes creates the unique name index and the lastStatus index used by the reaper.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.participants.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "name", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("participants_name_unique"),
		},
		{
			Keys:    bson.D{{Key: "lastStatus", Value: 1}},
			Options: options.Index().SetName("participants_last_status"),
		},
	})
	if err != nil {
		return err
	}
	_, err = s.messages.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "to", Value: 1}, {Key: "_id", Value: -1}}, Options: options.Index().SetName("messages_to")},
		{Keys: bson.D{{Key: "from", Value: 1}, {Key: "_id", Value: -1}}, Options: options.Index().SetName("messages_from")},
	})
	return err
}

// Ping checks connectivity against the primary.
func (s *MongoStore) Ping(ctx context.Context) error {
	return s.db.Client().Ping(ctx, readpref.Primary())
}

// ListParticipants returns every participant document.
func (s *MongoStore) ListParticipants(ctx context.Context) ([]chat.Participant, error) {
	return s.findParticipants(ctx, bson.M{})
}

// GetParticipant returns the participant named name or chat.ErrNotFound.
func (s *MongoStore) GetParticipant(ctx context.Context, name string) (chat.Participant, error) {
	var d participantDoc
	err := s.participants.FindOne(ctx, bson.M{"name": name}).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return chat.Participant{}, chat.ErrNotFound
	}
	if err != nil {
		return chat.Participant{}, err
	}
	return chat.Participant{Name: d.Name, LastStatus: d.LastStatus}, nil
}

// CreateParticipant inserts p, then its join notice.
func (s *MongoStore) CreateParticipant(ctx context.Context, p chat.Participant, notice chat.Message) (chat.Message, error) {
	res, err := s.participants.InsertOne(ctx, participantDoc{Name: p.Name, LastStatus: p.LastStatus})
	if mongo.IsDuplicateKeyError(err) {
		return chat.Message{}, chat.ErrConflict
	}
	if err != nil {
		return chat.Message{}, err
	}

	stored, err := s.AppendMessage(ctx, notice)
	if err != nil {
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), compensateTimeout)
		defer cancel()
		if _, derr := s.participants.DeleteOne(cctx, bson.M{"_id": res.InsertedID}); derr != nil {
			return chat.Message{}, errors.Join(err, derr)
		}
		return chat.Message{}, err
	}
	return stored, nil
}

// TouchParticipant raises lastStatus with $max so it never moves backwards.
func (s *MongoStore) TouchParticipant(ctx context.Context, name string, lastStatus int64) error {
	res, err := s.participants.UpdateOne(ctx,
		bson.M{"name": name},
		bson.M{"$max": bson.M{"lastStatus": lastStatus}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return chat.ErrNotFound
	}
	return nil
}

// ListStale returns participants with lastStatus < cutoff.
func (s *MongoStore) ListStale(ctx context.Context, cutoff int64) ([]chat.Participant, error) {
	return s.findParticipants(ctx, staleFilter(cutoff))
}

// DeleteStale removes participants with lastStatus < cutoff in one DeleteMany.
func (s *MongoStore) DeleteStale(ctx context.Context, cutoff int64) (int64, error) {
	res, err := s.participants.DeleteMany(ctx, staleFilter(cutoff))
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func staleFilter(cutoff int64) bson.M {
	return bson.M{"lastStatus": bson.M{"$lt": cutoff}}
}

func (s *MongoStore) findParticipants(ctx context.Context, filter bson.M) ([]chat.Participant, error) {
	cur, err := s.participants.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	var docs []participantDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]chat.Participant, 0, len(docs))
	for _, d := range docs {
		out = append(out, chat.Participant{Name: d.Name, LastStatus: d.LastStatus})
	}
	return out, nil
}

// AppendMessage inserts m; the id is the generated ObjectID.
func (s *MongoStore) AppendMessage(ctx context.Context, m chat.Message) (chat.Message, error) {
	d := messageDoc{
		ID:   primitive.NewObjectID(),
		From: m.From,
		To:   m.To,
		Text: m.Text,
		Type: m.Type,
		Time: m.Time,
	}
	if _, err := s.messages.InsertOne(ctx, d); err != nil {
		return chat.Message{}, err
	}
	return d.toMessage(), nil
}

// GetMessage returns message id or chat.ErrNotFound (also for malformed ids).
func (s *MongoStore) GetMessage(ctx context.Context, id string) (chat.Message, error) {
	oid, ok := parseObjectID(id)
	if !ok {
		return chat.Message{}, chat.ErrNotFound
	}
	var d messageDoc
	err := s.messages.FindOne(ctx, bson.M{"_id": oid}).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return chat.Message{}, chat.ErrNotFound
	}
	if err != nil {
		return chat.Message{}, err
	}
	return d.toMessage(), nil
}

// ListVisible reads newest first with the limit pushed down, then restores insertion order.
func (s *MongoStore) ListVisible(ctx context.Context, viewer string, limit int) ([]chat.Message, error) {
	filter := bson.M{"$or": bson.A{
		bson.M{"to": viewer},
		bson.M{"to": chat.Broadcast},
		bson.M{"from": viewer},
	}}
	opts := options.Find().SetSort(bson.D{{Key: "_id", Value: -1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	cur, err := s.messages.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	var docs []messageDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]chat.Message, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toMessage())
	}
	slices.Reverse(out)
	return out, nil
}

// UpdateMessage replaces to, text and type and returns the updated document.
func (s *MongoStore) UpdateMessage(ctx context.Context, id string, in chat.MessageInput) (chat.Message, error) {
	oid, ok := parseObjectID(id)
	if !ok {
		return chat.Message{}, chat.ErrNotFound
	}
	var d messageDoc
	err := s.messages.FindOneAndUpdate(ctx,
		bson.M{"_id": oid},
		bson.M{"$set": bson.M{"to": in.To, "text": in.Text, "type": in.Type}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return chat.Message{}, chat.ErrNotFound
	}
	if err != nil {
		return chat.Message{}, err
	}
	return d.toMessage(), nil
}

// DeleteMessage removes message id.
func (s *MongoStore) DeleteMessage(ctx context.Context, id string) error {
	oid, ok := parseObjectID(id)
	if !ok {
		return chat.ErrNotFound
	}
	res, err := s.messages.DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return chat.ErrNotFound
	}
	return nil
}

func parseObjectID(id string) (primitive.ObjectID, bool) {
	oid, err := primitive.ObjectIDFromHex(strings.TrimSpace(id))
	if err != nil {
		return primitive.NilObjectID, false
	}
	return oid, true
}

var _ chat.Store = (*MongoStore)(nil)
