// Package mongo provides a MongoDB implementation of the bus store.
//
// Persists message envelopes to MongoDB for durability across restarts,
// suitable for production deployments.
package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/lesleslie/mahavishnu/kernel/bus/store"
)

// Store is a MongoDB implementation of store.Store.
type Store struct {
	collection *mongo.Collection
}

var _ store.Store = (*Store)(nil)

// envelopeDocument is the MongoDB document representation of an Envelope.
type envelopeDocument struct {
	MessageID  string            `bson:"_id"`
	From       string            `bson:"from"`
	To         string            `bson:"to"`
	Subject    string            `bson:"subject"`
	Body       []byte            `bson:"body"`
	Priority   int               `bson:"priority"`
	Timestamp  int64             `bson:"timestamp"`
	Context    map[string]string `bson:"context,omitempty"`
	Signature  string            `bson:"signature"`
	Status     string            `bson:"status"`
	InReplyTo  string            `bson:"in_reply_to,omitempty"`
	ThreadRoot string            `bson:"thread_root,omitempty"`
}

// New creates a new MongoDB store using the provided collection.
func New(collection *mongo.Collection) *Store {
	return &Store{collection: collection}
}

func (s *Store) Save(ctx context.Context, e *store.Envelope) error {
	doc := toDocument(e)
	opts := options.Replace().SetUpsert(true)
	_, err := s.collection.ReplaceOne(ctx, bson.M{"_id": e.MessageID}, doc, opts)
	if err != nil {
		return fmt.Errorf("mongodb save message %q: %w", e.MessageID, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, messageID string) (*store.Envelope, error) {
	var doc envelopeDocument
	err := s.collection.FindOne(ctx, bson.M{"_id": messageID}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("mongodb get message %q: %w", messageID, err)
	}
	return fromDocument(&doc), nil
}

func (s *Store) ListByRecipient(ctx context.Context, recipient string) ([]*store.Envelope, error) {
	opts := options.Find().SetSort(bson.D{{Key: "priority", Value: -1}, {Key: "timestamp", Value: -1}})
	cursor, err := s.collection.Find(ctx, bson.M{"to": recipient}, opts)
	if err != nil {
		return nil, fmt.Errorf("mongodb list messages for %q: %w", recipient, err)
	}
	defer func() { _ = cursor.Close(ctx) }()

	var docs []envelopeDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("mongodb list messages decode: %w", err)
	}

	out := make([]*store.Envelope, len(docs))
	for i, doc := range docs {
		out[i] = fromDocument(&doc)
	}
	return out, nil
}

func (s *Store) UpdateStatus(ctx context.Context, messageID, status string) error {
	result, err := s.collection.UpdateOne(ctx, bson.M{"_id": messageID}, bson.M{"$set": bson.M{"status": status}})
	if err != nil {
		return fmt.Errorf("mongodb update message %q: %w", messageID, err)
	}
	if result.MatchedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

func toDocument(e *store.Envelope) envelopeDocument {
	return envelopeDocument{
		MessageID:  e.MessageID,
		From:       e.From,
		To:         e.To,
		Subject:    e.Subject,
		Body:       e.Body,
		Priority:   e.Priority,
		Timestamp:  e.Timestamp,
		Context:    e.Context,
		Signature:  e.Signature,
		Status:     e.Status,
		InReplyTo:  e.InReplyTo,
		ThreadRoot: e.ThreadRoot,
	}
}

func fromDocument(doc *envelopeDocument) *store.Envelope {
	return &store.Envelope{
		MessageID:  doc.MessageID,
		From:       doc.From,
		To:         doc.To,
		Subject:    doc.Subject,
		Body:       doc.Body,
		Priority:   doc.Priority,
		Timestamp:  doc.Timestamp,
		Context:    doc.Context,
		Signature:  doc.Signature,
		Status:     doc.Status,
		InReplyTo:  doc.InReplyTo,
		ThreadRoot: doc.ThreadRoot,
	}
}
