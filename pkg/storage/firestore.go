package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/growattmon/growattmon/pkg/log"
	"github.com/levenlabs/go-lflag"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreStore persists throttle records in Google Cloud Firestore for
// hosted deployments where local disk is ephemeral. Records are stored as a
// JSON string blob so the schema can evolve without Firestore migrations.
type FirestoreStore struct {
	client    *firestore.Client
	projectID string
	database  string
	docID     string
}

func configuredFirestore() *FirestoreStore {
	projectID := lflag.String("firestore-project-id", "", "Google Cloud Project ID for Firestore")
	database := lflag.String("firestore-database", "", "Google Cloud Firestore Database")
	emulator := lflag.String("firestore-emulator", "", "Use Firestore emulator")
	docID := lflag.String("firestore-doc", "default", "Document ID for the throttle state")

	f := &FirestoreStore{}

	lflag.Do(func() {
		f.projectID = *projectID
		f.database = *database
		f.docID = *docID

		// set this because that's how firestore client expects it
		if *emulator != "" {
			os.Setenv("FIRESTORE_EMULATOR_HOST", *emulator)
		}
	})

	return f
}

// Init initializes the Firestore client.
// This must be called before using the store methods.
func (f *FirestoreStore) Init(ctx context.Context) error {
	projectID := f.projectID
	if projectID == "" {
		projectID = firestore.DetectProjectID
	}
	database := f.database
	if database == "" {
		database = firestore.DefaultDatabaseID
	}
	client, err := firestore.NewClientWithDatabase(ctx, projectID, database)
	if err != nil {
		return fmt.Errorf("failed to create firestore client (project=%s, database=%s): %w", projectID, database, err)
	}
	f.client = client
	return nil
}

// Close closes the Firestore client connection.
func (f *FirestoreStore) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}

func (f *FirestoreStore) doc() *firestore.DocumentRef {
	return f.client.Collection("throttle").Doc(f.docID)
}

// LoadThrottle retrieves the throttle record document. A missing document is
// a cold start and returns an empty record set.
func (f *FirestoreStore) LoadThrottle(ctx context.Context) (ThrottleRecords, error) {
	doc, err := f.doc().Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return ThrottleRecords{Version: RecordVersion, Calls: map[string]string{}}, nil
		}
		return ThrottleRecords{}, fmt.Errorf("failed to fetch throttle doc: %w", err)
	}

	val, err := doc.DataAt("json")
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "throttle doc missing json", slog.String("docID", f.docID))
		return ThrottleRecords{}, fmt.Errorf("throttle document missing 'json' field: %w", err)
	}

	jsonStr, ok := val.(string)
	if !ok {
		log.Ctx(ctx).WarnContext(ctx, "throttle doc json not string", slog.String("docID", f.docID))
		return ThrottleRecords{}, fmt.Errorf("throttle 'json' field is not a string")
	}

	var records ThrottleRecords
	if err := json.Unmarshal([]byte(jsonStr), &records); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to unmarshal throttle json", slog.String("docID", f.docID), slog.Any("err", err))
		return ThrottleRecords{}, fmt.Errorf("failed to unmarshal throttle json: %w", err)
	}
	if records.Calls == nil {
		records.Calls = map[string]string{}
	}
	return records, nil
}

// SaveThrottle writes the throttle record document as a JSON string blob.
func (f *FirestoreStore) SaveThrottle(ctx context.Context, records ThrottleRecords) error {
	jsonBytes, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("failed to marshal throttle records: %w", err)
	}

	_, err = f.doc().Set(ctx, map[string]interface{}{
		"json":      string(jsonBytes),
		"timestamp": time.Now().UTC(),
		"version":   records.Version,
	})
	if err != nil {
		return fmt.Errorf("failed to save throttle records: %w", err)
	}
	return nil
}

// PurgeStale deletes throttle documents in the collection whose timestamp is
// older than the cutoff. Intended for periodic cleanup of abandoned state
// from since-removed accounts.
func (f *FirestoreStore) PurgeStale(ctx context.Context, cutoff time.Time) (int, error) {
	iter := f.client.Collection("throttle").
		Where("timestamp", "<", cutoff).
		Documents(ctx)
	defer iter.Stop()

	var deleted int
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return deleted, fmt.Errorf("error iterating stale throttle docs: %w", err)
		}
		if _, err := doc.Ref.Delete(ctx); err != nil {
			return deleted, fmt.Errorf("failed to delete stale throttle doc %s: %w", doc.Ref.ID, err)
		}
		deleted++
	}
	return deleted, nil
}
