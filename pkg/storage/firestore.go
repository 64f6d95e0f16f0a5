package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/levenlabs/go-lflag"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/solarmind/solarmind/pkg/log"
	"github.com/solarmind/solarmind/pkg/types"
)

const (
	daySummariesCollection  = "day_summaries"
	statusHistoryCollection = "status_history"
)

// FirestoreProvider implements the Database interface using Google Cloud Firestore.
// Documents live under inverters/{serial}/... and carry the payload as a JSON
// string next to the fields used for ordering.
type FirestoreProvider struct {
	client    *firestore.Client
	projectID string
	database  string
}

// configuredFirestore sets up the Firestore provider.
// It registers flags for configuration.
func configuredFirestore() *FirestoreProvider {
	projectID := lflag.String("firestore-project-id", "", "Google Cloud Project ID for Firestore")
	database := lflag.String("firestore-database", "", "Google Cloud Firestore Database")
	emulator := lflag.String("firestore-emulator", "", "Use Firestore emulator")

	f := &FirestoreProvider{}

	lflag.Do(func() {
		f.projectID = *projectID
		f.database = *database

		// set this because that's how firestore client expects it
		if *emulator != "" {
			os.Setenv("FIRESTORE_EMULATOR_HOST", *emulator)
		}
	})

	return f
}

// Validate checks if the provider is properly configured.
func (f *FirestoreProvider) Validate() error {
	// an empty project id is detected from the environment
	return nil
}

// Init initializes the Firestore client.
// This must be called before using the provider methods.
func (f *FirestoreProvider) Init(ctx context.Context) error {
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
func (f *FirestoreProvider) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}

func (f *FirestoreProvider) getCollection(inverter, name string) (*firestore.CollectionRef, error) {
	if inverter == "" {
		return nil, fmt.Errorf("inverter cannot be empty")
	}
	return f.client.Collection("inverters").Doc(inverter).Collection(name), nil
}

func jsonField(doc *firestore.DocumentSnapshot) ([]byte, error) {
	val, err := doc.DataAt("json")
	if err != nil {
		return nil, fmt.Errorf("document %s missing 'json' field: %w", doc.Ref.ID, err)
	}
	jsonStr, ok := val.(string)
	if !ok {
		return nil, fmt.Errorf("document %s 'json' field is not string", doc.Ref.ID)
	}
	return []byte(jsonStr), nil
}

// UpsertDaySummary adds or updates a day summary. The document ID is the date
// so document ID ranges are date ranges.
func (f *FirestoreProvider) UpsertDaySummary(ctx context.Context, inverter string, day types.DaySummary) error {
	if _, err := time.Parse("2006-01-02", day.Date); err != nil {
		return fmt.Errorf("invalid day summary date %q: %w", day.Date, err)
	}
	jsonBytes, err := json.Marshal(day)
	if err != nil {
		return fmt.Errorf("failed to marshal day summary: %w", err)
	}

	coll, err := f.getCollection(inverter, daySummariesCollection)
	if err != nil {
		return err
	}
	_, err = coll.Doc(day.Date).Set(ctx, map[string]interface{}{
		"json":    string(jsonBytes),
		"date":    day.Date,
		"version": types.CurrentDaySummaryVersion,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert day summary: %w", err)
	}
	return nil
}

// GetDaySummaries retrieves the summaries between start and end inclusive.
func (f *FirestoreProvider) GetDaySummaries(ctx context.Context, inverter string, start, end string) ([]types.DaySummary, error) {
	coll, err := f.getCollection(inverter, daySummariesCollection)
	if err != nil {
		return nil, err
	}
	iter := coll.
		Where(firestore.DocumentID, ">=", coll.Doc(start)).
		Where(firestore.DocumentID, "<=", coll.Doc(end)).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	var days []types.DaySummary
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating day summaries: %w", err)
		}

		b, err := jsonField(doc)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "bad day summary doc", slog.String("docID", doc.Ref.ID), slog.String("inverter", inverter), slog.Any("err", err))
			return nil, err
		}
		var day types.DaySummary
		if err := json.Unmarshal(b, &day); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to unmarshal day summary", slog.String("docID", doc.Ref.ID), slog.String("inverter", inverter), slog.Any("err", err))
			return nil, fmt.Errorf("failed to unmarshal day summary (id=%s): %w", doc.Ref.ID, err)
		}
		days = append(days, day)
	}
	return days, nil
}

// InsertStatus adds a status snapshot. The document ID is the RFC3339
// timestamp of the snapshot.
func (f *FirestoreProvider) InsertStatus(ctx context.Context, inverter string, st types.Status) error {
	if st.UpdatedAt.IsZero() {
		return fmt.Errorf("status missing updatedAt")
	}
	jsonBytes, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}

	coll, err := f.getCollection(inverter, statusHistoryCollection)
	if err != nil {
		return err
	}
	docID := st.UpdatedAt.UTC().Format(time.RFC3339)
	_, err = coll.Doc(docID).Set(ctx, map[string]interface{}{
		"json":      string(jsonBytes),
		"timestamp": st.UpdatedAt,
		"online":    st.Online,
	})
	if err != nil {
		return fmt.Errorf("failed to insert status: %w", err)
	}
	return nil
}

// GetLatestStatus returns the newest status snapshot, or nil when there is none.
func (f *FirestoreProvider) GetLatestStatus(ctx context.Context, inverter string) (*types.Status, error) {
	coll, err := f.getCollection(inverter, statusHistoryCollection)
	if err != nil {
		return nil, err
	}
	iter := coll.
		OrderBy("timestamp", firestore.Desc).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	doc, err := iter.Next()
	if err == iterator.Done {
		return nil, nil
	}
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get latest status doc: %w", err)
	}

	b, err := jsonField(doc)
	if err != nil {
		return nil, err
	}
	var st types.Status
	if err := json.Unmarshal(b, &st); err != nil {
		return nil, fmt.Errorf("failed to unmarshal status (id=%s): %w", doc.Ref.ID, err)
	}
	return &st, nil
}
