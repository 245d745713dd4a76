package lastseen

import (
	"context"
	"fmt"
	"os"

	"cloud.google.com/go/firestore"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	// collectionName and documentID locate the single state document.
	collectionName = "state"
	documentID     = "lastEvent"
	fieldID        = "id"
)

// FirestoreConfig holds configuration for the Firestore backend
type FirestoreConfig struct {
	ProjectID   string // GCP Project ID (required)
	Database    string // Database name (optional, defaults to "(default)")
	Credentials string // Path to service account JSON file (optional)
}

// FirestoreBackend stores the id in the document state/lastEvent.
type FirestoreBackend struct {
	client   *firestore.Client
	database string
}

var _ Backend = (*FirestoreBackend)(nil)

// NewFirestoreBackend creates a Firestore client for the backend.
// If FIRESTORE_EMULATOR_HOST is set, the client connects to the emulator.
func NewFirestoreBackend(ctx context.Context, cfg FirestoreConfig, logger zerolog.Logger) (*FirestoreBackend, error) {
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("projectID is required")
	}

	emulatorHost := os.Getenv("FIRESTORE_EMULATOR_HOST")
	if emulatorHost != "" {
		logger.Info().Str("host", emulatorHost).Msg("using Firestore emulator")
	}

	var opts []option.ClientOption
	if cfg.Credentials != "" && emulatorHost == "" {
		opts = append(opts, option.WithCredentialsFile(cfg.Credentials))
	}

	database := cfg.Database
	if database == "" {
		database = "(default)"
	}

	client, err := firestore.NewClientWithDatabase(ctx, cfg.ProjectID, database, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}

	return &FirestoreBackend{client: client, database: database}, nil
}

// Database returns the Firestore database name
func (f *FirestoreBackend) Database() string {
	return f.database
}

// Load implements Backend. A missing document is not an error.
func (f *FirestoreBackend) Load(ctx context.Context) (string, error) {
	doc, err := f.client.Collection(collectionName).Doc(documentID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return "", nil
		}
		return "", fmt.Errorf("failed to get last-seen document: %w", err)
	}

	v, err := doc.DataAt(fieldID)
	if err != nil {
		return "", nil
	}
	id, _ := v.(string)
	return id, nil
}

// Save implements Backend.
func (f *FirestoreBackend) Save(ctx context.Context, id string) error {
	_, err := f.client.Collection(collectionName).Doc(documentID).Set(ctx, map[string]interface{}{
		fieldID:     id,
		"updatedAt": firestore.ServerTimestamp,
	})
	if err != nil {
		return fmt.Errorf("failed to save last-seen document: %w", err)
	}
	return nil
}

// Close releases resources held by the Firestore client
func (f *FirestoreBackend) Close() error {
	if f.client == nil {
		return nil
	}
	return f.client.Close()
}
