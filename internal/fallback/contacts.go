package fallback

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrContactNotFound is returned when a recipient has no stored contact details.
var ErrContactNotFound = errors.New("contact not found")

// Contact holds the out-of-band addresses of a recipient.
type Contact struct {
	RecipientID string `json:"recipient_id" firestore:"-"`
	Email       string `json:"email,omitempty" firestore:"email"`
	Phone       string `json:"phone,omitempty" firestore:"phone"`
	Locale      string `json:"locale,omitempty" firestore:"locale"`
}

// ContactResolver looks up a recipient's contact details.
type ContactResolver interface {
	Resolve(ctx context.Context, recipientID string) (Contact, error)
}

// FirestoreResolver reads contacts from the users/{id} documents.
type FirestoreResolver struct {
	client     *firestore.Client
	collection string
}

// NewFirestoreResolver creates a resolver reading the given collection, "users" by default.
func NewFirestoreResolver(client *firestore.Client, collection string) *FirestoreResolver {
	if collection == "" {
		collection = "users"
	}
	return &FirestoreResolver{client: client, collection: collection}
}

func (r *FirestoreResolver) Resolve(ctx context.Context, recipientID string) (Contact, error) {
	doc, err := r.client.Collection(r.collection).Doc(recipientID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return Contact{}, ErrContactNotFound
		}
		return Contact{}, fmt.Errorf("failed to get contact document: %w", err)
	}

	var contact Contact
	if err := doc.DataTo(&contact); err != nil {
		return Contact{}, fmt.Errorf("failed to parse contact document: %w", err)
	}
	contact.RecipientID = recipientID

	return contact, nil
}

// MemoryResolver serves contacts from memory. It backs local development.
type MemoryResolver struct {
	mu       sync.RWMutex
	contacts map[string]Contact
}

// NewMemoryResolver creates a resolver seeded with contacts.
func NewMemoryResolver(contacts ...Contact) *MemoryResolver {
	r := &MemoryResolver{contacts: make(map[string]Contact, len(contacts))}
	for _, c := range contacts {
		r.contacts[c.RecipientID] = c
	}
	return r
}

// Put adds or replaces a contact.
func (r *MemoryResolver) Put(c Contact) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.contacts[c.RecipientID] = c
}

func (r *MemoryResolver) Resolve(_ context.Context, recipientID string) (Contact, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.contacts[recipientID]
	if !ok {
		return Contact{}, ErrContactNotFound
	}
	return c, nil
}
