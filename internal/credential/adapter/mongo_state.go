package adapter

import (
	"context"
	"fmt"
	"time"

	"antigravity2api-go/internal/credential"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// stateDocument is the BSON shape of a persisted credential state.
type stateDocument struct {
	CredID        string    `bson:"cred_id"`
	Disabled      bool      `bson:"disabled"`
	Healthy       bool      `bson:"is_healthy"`
	LastError     string    `bson:"last_error,omitempty"`
	LastRefresh   time.Time `bson:"last_refresh,omitempty"`
	RateLimitedAt time.Time `bson:"rate_limited_at,omitempty"`
	UsageCount    int64     `bson:"usage_count"`
	ErrorCount    int64     `bson:"error_count"`
	UpdatedAt     time.Time `bson:"updated_at"`
}

// MongoStateStore persists per-credential runtime state in a MongoDB
// collection, one document per credential keyed by cred_id.
type MongoStateStore struct {
	states *mongo.Collection
}

// NewMongoStateStore builds a state store on the given database. The
// collection name defaults to "credential_states".
func NewMongoStateStore(db *mongo.Database, collection string) *MongoStateStore {
	if collection == "" {
		collection = "credential_states"
	}
	return &MongoStateStore{states: db.Collection(collection)}
}

func (m *MongoStateStore) Persist(ctx context.Context, cred *credential.Credential, state *credential.CredentialState) error {
	if cred == nil || state == nil {
		return nil
	}
	doc := stateDocument{
		CredID:        cred.ID,
		Disabled:      state.Disabled,
		Healthy:       state.Healthy,
		LastError:     state.LastError,
		LastRefresh:   state.LastRefresh,
		RateLimitedAt: state.RateLimitedAt,
		UsageCount:    state.UsageCount,
		ErrorCount:    state.ErrorCount,
		UpdatedAt:     time.Now().UTC(),
	}

	_, err := m.states.UpdateOne(
		ctx,
		bson.M{"cred_id": cred.ID},
		bson.M{"$set": doc},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("persist state for %s: %w", cred.ID, err)
	}
	return nil
}

func (m *MongoStateStore) Restore(ctx context.Context, cred *credential.Credential) (*credential.CredentialState, error) {
	if cred == nil {
		return nil, nil
	}
	var doc stateDocument
	err := m.states.FindOne(ctx, bson.M{"cred_id": cred.ID}).Decode(&doc)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		return nil, fmt.Errorf("restore state for %s: %w", cred.ID, err)
	}

	return &credential.CredentialState{
		Disabled:      doc.Disabled,
		Healthy:       doc.Healthy,
		LastError:     doc.LastError,
		LastRefresh:   doc.LastRefresh,
		RateLimitedAt: doc.RateLimitedAt,
		UsageCount:    doc.UsageCount,
		ErrorCount:    doc.ErrorCount,
	}, nil
}

func (m *MongoStateStore) Delete(ctx context.Context, credID string) error {
	if credID == "" {
		return nil
	}
	if _, err := m.states.DeleteOne(ctx, bson.M{"cred_id": credID}); err != nil {
		return fmt.Errorf("delete state for %s: %w", credID, err)
	}
	return nil
}
