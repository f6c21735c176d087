package gateway

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"
)

// FirebaseClients holds the Firebase services the relay uses.
type FirebaseClients struct {
	Messaging *messaging.Client
	Firestore *firestore.Client
}

// NewFirebaseClients initializes a Firebase app and returns its messaging client.
// The Firestore client is only created when withFirestore is set.
func NewFirebaseClients(ctx context.Context, projectID, credJSON string, withFirestore bool) (*FirebaseClients, error) {
	config := &firebase.Config{
		ProjectID: projectID,
	}

	app, err := firebase.NewApp(ctx, config, clientOptions(credJSON)...)
	if err != nil {
		return nil, fmt.Errorf("error initializing firebase app: %w", err)
	}

	messagingClient, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get Messaging client: %w", err)
	}

	clients := &FirebaseClients{Messaging: messagingClient}
	if withFirestore {
		clients.Firestore, err = app.Firestore(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get Firestore client: %w", err)
		}
	}

	return clients, nil
}

// clientOptions returns the explicit credentials, or none so that the SDK falls back
// to Application Default Credentials.
func clientOptions(credJSON string) []option.ClientOption {
	if strings.TrimSpace(credJSON) == "" {
		return nil
	}
	return []option.ClientOption{option.WithCredentialsJSON([]byte(credJSON))}
}

// Close closes the Firestore client.
func (f *FirebaseClients) Close() error {
	if f.Firestore != nil {
		return f.Firestore.Close()
	}
	return nil
}
