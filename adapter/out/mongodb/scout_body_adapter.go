// Package mongodb implements MongoDB adapters for the application.
package mongodb

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"scout_server/core/port/out"
)

// =============================================================================
// MongoDB Message Body Adapter
// =============================================================================

const (
	collectionMessageBodies = "message_bodies"

	// Compression threshold - only compress if content is larger than this
	compressionThreshold = 1024 // 1KB

	defaultBodyTTLDays = 90
)

// BodyAdapter implements out.MessageBodyRepository using MongoDB. Bodies over
// the threshold are gzip-compressed; a TTL index evicts old documents.
type BodyAdapter struct {
	db         *mongo.Database
	collection *mongo.Collection
}

// NewBodyAdapter creates a new MongoDB message body adapter.
func NewBodyAdapter(db *mongo.Database) *BodyAdapter {
	collection := db.Collection(collectionMessageBodies)
	return &BodyAdapter{
		db:         db,
		collection: collection,
	}
}

// EnsureIndexes creates necessary indexes for the collection.
func (a *BodyAdapter) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "message_id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "user_id", Value: 1}},
		},
		{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0), // TTL index
		},
	}

	_, err := a.collection.Indexes().CreateMany(ctx, indexes)
	return err
}

// =============================================================================
// Document Model
// =============================================================================

type messageBodyDocument struct {
	MessageID int64  `bson:"message_id"`
	UserID    string `bson:"user_id"`

	// Content (potentially compressed)
	Text         []byte `bson:"text"`
	HTML         []byte `bson:"html"`
	IsCompressed bool   `bson:"is_compressed"`

	OriginalSize   int64 `bson:"original_size"`
	CompressedSize int64 `bson:"compressed_size"`

	StoredAt  time.Time `bson:"stored_at"`
	ExpiresAt time.Time `bson:"expires_at"`
	TTLDays   int       `bson:"ttl_days"`
}

// =============================================================================
// Operations
// =============================================================================

// SaveBody upserts the body document for one message.
func (a *BodyAdapter) SaveBody(ctx context.Context, body *out.MessageBody) error {
	doc, err := a.toDocument(body)
	if err != nil {
		return fmt.Errorf("failed to convert body to document: %w", err)
	}

	opts := options.Replace().SetUpsert(true)
	filter := bson.M{"message_id": body.MessageID}

	_, err = a.collection.ReplaceOne(ctx, filter, doc, opts)
	if err != nil {
		return fmt.Errorf("failed to save message body: %w", err)
	}
	return nil
}

// GetBody retrieves a message body, or nil when absent or expired.
func (a *BodyAdapter) GetBody(ctx context.Context, messageID int64) (*out.MessageBody, error) {
	var doc messageBodyDocument
	filter := bson.M{"message_id": messageID}

	err := a.collection.FindOne(ctx, filter).Decode(&doc)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get message body: %w", err)
	}

	return a.toEntity(&doc)
}

// =============================================================================
// Conversion Helpers
// =============================================================================

func (a *BodyAdapter) toDocument(body *out.MessageBody) (*messageBodyDocument, error) {
	textBytes := []byte(body.Text)
	htmlBytes := []byte(body.HTML)
	originalSize := int64(len(textBytes) + len(htmlBytes))

	compressed := originalSize > compressionThreshold
	if compressed {
		var err error
		textBytes, err = compress(textBytes)
		if err != nil {
			return nil, fmt.Errorf("failed to compress text: %w", err)
		}
		htmlBytes, err = compress(htmlBytes)
		if err != nil {
			return nil, fmt.Errorf("failed to compress html: %w", err)
		}
	}

	ttlDays := body.TTLDays
	if ttlDays <= 0 {
		ttlDays = defaultBodyTTLDays
	}

	now := time.Now()
	return &messageBodyDocument{
		MessageID:      body.MessageID,
		UserID:         body.UserID,
		Text:           textBytes,
		HTML:           htmlBytes,
		IsCompressed:   compressed,
		OriginalSize:   originalSize,
		CompressedSize: int64(len(textBytes) + len(htmlBytes)),
		StoredAt:       now,
		ExpiresAt:      now.AddDate(0, 0, ttlDays),
		TTLDays:        ttlDays,
	}, nil
}

func (a *BodyAdapter) toEntity(doc *messageBodyDocument) (*out.MessageBody, error) {
	textBytes := doc.Text
	htmlBytes := doc.HTML

	if doc.IsCompressed {
		var err error
		textBytes, err = decompress(textBytes)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress text: %w", err)
		}
		htmlBytes, err = decompress(htmlBytes)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress html: %w", err)
		}
	}

	return &out.MessageBody{
		MessageID: doc.MessageID,
		UserID:    doc.UserID,
		Text:      string(textBytes),
		HTML:      string(htmlBytes),
		TTLDays:   doc.TTLDays,
	}, nil
}

func compress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}
