package storage

import (
	"context"
	"fmt"

	"github.com/levenlabs/go-lflag"
)

// RecordVersion is the current schema version written with every record.
const RecordVersion = 1

// ThrottleRecords is the durable call-history record. Calls maps an operation
// name to the RFC3339 UTC timestamp of the last time it ran. Entries are
// never deleted, they just age out of relevance.
type ThrottleRecords struct {
	Version int               `json:"version"`
	Calls   map[string]string `json:"calls"`
}

// Store persists throttle records across restarts.
type Store interface {
	// LoadThrottle returns the persisted records. A store with nothing
	// persisted yet returns an empty record set, not an error.
	LoadThrottle(ctx context.Context) (ThrottleRecords, error)
	SaveThrottle(ctx context.Context, records ThrottleRecords) error

	Close() error
}

// Configured sets up the Store based on flags.
func Configured() Store {
	provider := lflag.String("storage-provider", "file", "Storage provider to use (available: file, firestore)")

	var p struct{ Store }

	file := configuredFile()
	fs := configuredFirestore()

	lflag.Do(func() {
		switch *provider {
		case "file":
			if err := file.Init(); err != nil {
				panic(fmt.Sprintf("file store init failed: %v", err))
			}
			p.Store = file
		case "firestore":
			if err := fs.Init(context.Background()); err != nil {
				panic(fmt.Sprintf("firestore init failed: %v", err))
			}
			p.Store = fs
		default:
			panic(fmt.Sprintf("unknown storage provider: %s", *provider))
		}
	})

	return &p
}
