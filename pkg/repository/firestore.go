package repository

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const firestoreCollection = "reagent_state"

// Firestore is a KeyValue backed by one Firestore document per key. The
// namespace keeps several users (or machines) apart inside one database.
type Firestore struct {
	client    *firestore.Client
	namespace string
}

var _ KeyValue = (*Firestore)(nil)

type firestoreEntry struct {
	Value     string    `firestore:"value"`
	UpdatedAt time.Time `firestore:"updated_at"`
}

// NewFirestore connects to the Firestore database databaseID in projectID.
func NewFirestore(ctx context.Context, projectID, databaseID, namespace string, opts ...option.ClientOption) (*Firestore, error) {
	if projectID == "" {
		return nil, goerr.New("firestore project ID is required")
	}
	if databaseID == "" {
		databaseID = firestore.DefaultDatabaseID
	}
	if namespace == "" {
		namespace = "default"
	}

	client, err := firestore.NewClientWithDatabase(ctx, projectID, databaseID, opts...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create firestore client",
			goerr.V("project_id", projectID),
			goerr.V("database_id", databaseID),
		)
	}

	return &Firestore{client: client, namespace: namespace}, nil
}

func (r *Firestore) doc(key string) *firestore.DocumentRef {
	return r.client.Collection(firestoreCollection).Doc(r.namespace + ":" + key)
}

func (r *Firestore) Get(ctx context.Context, key string) (string, bool, error) {
	snap, err := r.doc(key).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return "", false, nil
		}
		return "", false, goerr.Wrap(err, "failed to get state document", goerr.V("key", key))
	}

	var entry firestoreEntry
	if err := snap.DataTo(&entry); err != nil {
		return "", false, goerr.Wrap(err, "failed to decode state document", goerr.V("key", key))
	}
	return entry.Value, true, nil
}

func (r *Firestore) Set(ctx context.Context, key, value string) error {
	entry := firestoreEntry{Value: value, UpdatedAt: time.Now()}
	if _, err := r.doc(key).Set(ctx, entry); err != nil {
		return goerr.Wrap(err, "failed to put state document", goerr.V("key", key))
	}
	return nil
}

func (r *Firestore) Delete(ctx context.Context, key string) error {
	if _, err := r.doc(key).Delete(ctx); err != nil {
		if status.Code(err) == codes.NotFound {
			return nil
		}
		return goerr.Wrap(err, "failed to delete state document", goerr.V("key", key))
	}
	return nil
}

// Close releases the underlying client.
func (r *Firestore) Close() error {
	return r.client.Close()
}
