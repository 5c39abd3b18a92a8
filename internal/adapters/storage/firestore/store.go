package firestore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/PabloGalante/twin-relay/internal/adapters/storage/record"
	"github.com/PabloGalante/twin-relay/internal/domain"
)

// Store keeps one Firestore document per session, holding the whole message
// array. Document writes are atomic and reads are strongly consistent.
type Store struct {
	client     *firestore.Client
	collection string
	now        func() time.Time
}

// NewStore creates a Firestore store.
// Uses the project passed (storage.project).
func NewStore(ctx context.Context, projectID, collection string) (*Store, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID is required for Firestore store")
	}
	if collection == "" {
		collection = "conversations"
	}

	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("creating firestore client: %w", err)
	}

	return &Store{client: client, collection: collection, now: time.Now}, nil
}

// ─────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────

func (s *Store) conversationDoc(key domain.SessionKey) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(string(key))
}

// validateDocID adds Firestore's own id rules on top of the domain ones.
func validateDocID(key domain.SessionKey) error {
	if err := domain.ValidateSessionKey(key); err != nil {
		return err
	}
	k := string(key)
	if len(k) > 4 && strings.HasPrefix(k, "__") && strings.HasSuffix(k, "__") {
		return fmt.Errorf("%w: %q is reserved in firestore", domain.ErrInvalidSessionKey, k)
	}
	return nil
}

// ─────────────────────────────────────────
// Firestore Types
// ─────────────────────────────────────────

type conversationDoc struct {
	Messages  []messageDoc `firestore:"messages"`
	UpdatedAt time.Time    `firestore:"updated_at"`
}

type messageDoc struct {
	Role      string `firestore:"role"`
	Content   string `firestore:"content"`
	Timestamp string `firestore:"timestamp"`
}

func toDoc(msgs []domain.Message, now time.Time) conversationDoc {
	doc := conversationDoc{
		Messages:  make([]messageDoc, 0, len(msgs)),
		UpdatedAt: now,
	}
	for _, m := range msgs {
		doc.Messages = append(doc.Messages, messageDoc{
			Role:      string(m.Role),
			Content:   m.Content,
			Timestamp: m.Timestamp,
		})
	}
	return doc
}

func fromDoc(doc conversationDoc) ([]domain.Message, error) {
	out := make([]domain.Message, 0, len(doc.Messages))
	for _, m := range doc.Messages {
		out = append(out, domain.Message{
			Role:      domain.Role(m.Role),
			Content:   m.Content,
			Timestamp: m.Timestamp,
		})
	}
	if err := record.Check(out); err != nil {
		return nil, err
	}
	return out, nil
}

// ─────────────────────────────────────────
// ConversationStore implementation
// ─────────────────────────────────────────

func (s *Store) Load(ctx context.Context, key domain.SessionKey) ([]domain.Message, error) {
	if err := validateDocID(key); err != nil {
		return nil, err
	}

	snap, err := s.conversationDoc(key).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return []domain.Message{}, nil
		}
		return nil, fmt.Errorf("%w: firestore Load: %v", domain.ErrStorageUnavailable, err)
	}

	var doc conversationDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("%w: firestore Load decode: %v", domain.ErrStorageCorrupt, err)
	}

	msgs, err := fromDoc(doc)
	if err != nil {
		return nil, fmt.Errorf("firestore Load %s: %w", key, err)
	}
	return msgs, nil
}

func (s *Store) Save(ctx context.Context, key domain.SessionKey, msgs []domain.Message) error {
	if err := validateDocID(key); err != nil {
		return err
	}
	if err := domain.ValidateMessages(msgs); err != nil {
		return err
	}

	// Set without merge options replaces the document wholesale
	_, err := s.conversationDoc(key).Set(ctx, toDoc(msgs, s.now()))
	if err != nil {
		return fmt.Errorf("%w: firestore Save: %v", domain.ErrStorageUnavailable, err)
	}
	return nil
}

func (s *Store) Capabilities() domain.StoreCapabilities {
	return domain.StoreCapabilities{Name: "firestore", ReadAfterWrite: true, Durable: true}
}

func (s *Store) Close() error {
	return s.client.Close()
}
