package mongodb

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/pilab-dev/oauthdirac/domain"
	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const reservedIndexName = "reserved_identity_unique"

// SessionRepositoryMongo implements domain.SessionRepository using MongoDB.
type SessionRepositoryMongo struct {
	collection *mongo.Collection
}

// NewSessionRepositoryMongo creates a new SessionRepositoryMongo.
// It also ensures that necessary indexes are created on the collection.
func NewSessionRepositoryMongo(ctx context.Context, db *mongo.Database) (*SessionRepositoryMongo, error) {
	repo := &SessionRepositoryMongo{
		collection: db.Collection(SessionsCollection),
	}

	indexModels := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "provider", Value: 1}},
		},
		{
			Keys: bson.D{{Key: "last_access", Value: 1}},
		},
		{
			Keys:    bson.D{{Key: "parent_session_id", Value: 1}},
			Options: options.Index().SetSparse(true),
		},
		{
			// At most one reserved session per identity and provider.
			Keys: bson.D{{Key: "external_user_id", Value: 1}, {Key: "provider", Value: 1}},
			Options: options.Index().
				SetName(reservedIndexName).
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"reserved": true}),
		},
	}

	if _, err := repo.collection.Indexes().CreateMany(ctx, indexModels); err != nil {
		log.Warn().Err(err).Msg("Issue creating indexes for sessions collection (might already exist or other error)")
	} else {
		log.Info().Msg("Indexes for sessions collection ensured.")
	}

	return repo, nil
}

var _ domain.SessionRepository = (*SessionRepositoryMongo)(nil)

// InsertSession stores a new session.
func (r *SessionRepositoryMongo) InsertSession(ctx context.Context, session *domain.Session) error {
	_, err := r.collection.InsertOne(ctx, session)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			if isReservationIndexError(err) {
				return domain.ErrReservationConflict
			}
			return domain.ErrSessionExists
		}
		log.Error().Err(err).Str("session", session.ID).Msg("Error storing session in MongoDB")
		return err
	}
	return nil
}

// GetSession retrieves a session by its ID.
func (r *SessionRepositoryMongo) GetSession(ctx context.Context, id string) (*domain.Session, error) {
	var session domain.Session
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&session)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrSessionNotFound
		}
		log.Error().Err(err).Str("session", id).Msg("Error getting session from MongoDB")
		return nil, err
	}
	return &session, nil
}

// UpdateSession replaces the session with the mutated copy. The replacement
// only matches while status and last_access are still what was read, so a
// writer that got in between is reported as ErrConcurrentUpdate.
func (r *SessionRepositoryMongo) UpdateSession(ctx context.Context, id string, mutate func(*domain.Session) error) (*domain.Session, error) {
	current, err := r.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	next := current.Clone()
	if err := mutate(next); err != nil {
		return nil, err
	}
	next.ID = id

	filter := bson.M{
		"_id":         id,
		"status":      current.Status.String(),
		"last_access": current.LastAccess,
	}
	result, err := r.collection.ReplaceOne(ctx, filter, next)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, domain.ErrReservationConflict
		}
		log.Error().Err(err).Str("session", id).Msg("Error updating session in MongoDB")
		return nil, err
	}
	if result.MatchedCount == 0 {
		return nil, domain.ErrConcurrentUpdate
	}
	return next, nil
}

// FindSessions pushes the filter down to a query.
func (r *SessionRepositoryMongo) FindSessions(ctx context.Context, filter domain.SessionFilter) ([]*domain.Session, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}})
	cursor, err := r.collection.Find(ctx, toQuery(filter), opts)
	if err != nil {
		log.Error().Err(err).Msg("Error finding sessions in MongoDB")
		return nil, err
	}
	defer cursor.Close(ctx)

	var sessions []*domain.Session
	if err := cursor.All(ctx, &sessions); err != nil {
		log.Error().Err(err).Msg("Error decoding sessions from MongoDB")
		return nil, err
	}
	return sessions, nil
}

// DeleteSession removes a session by its ID.
func (r *SessionRepositoryMongo) DeleteSession(ctx context.Context, id string) error {
	result, err := r.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		log.Error().Err(err).Str("session", id).Msg("Error deleting session from MongoDB")
		return err
	}
	if result.DeletedCount == 0 {
		return domain.ErrSessionNotFound
	}
	return nil
}

// DeleteStaleSessions removes idle sessions that are not reserved.
func (r *SessionRepositoryMongo) DeleteStaleSessions(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.collection.DeleteMany(ctx, bson.M{
		"reserved":    bson.M{"$ne": true},
		"last_access": bson.M{"$lt": before},
	})
	if err != nil {
		log.Error().Err(err).Msg("Error deleting stale sessions from MongoDB")
		return 0, err
	}
	return result.DeletedCount, nil
}

func toQuery(f domain.SessionFilter) bson.M {
	q := bson.M{}
	if f.Provider != "" {
		q["provider"] = f.Provider
	}
	if f.ExternalUserID != "" {
		q["external_user_id"] = f.ExternalUserID
	}
	if f.UserName != "" {
		q["user_name"] = f.UserName
	}
	if f.UserDN != "" {
		q["$or"] = bson.A{
			bson.M{"user_dn": f.UserDN},
			bson.M{"profile.dns": f.UserDN},
		}
	}
	if f.ParentSessionID != "" {
		q["parent_session_id"] = f.ParentSessionID
	}
	if len(f.Statuses) > 0 {
		names := make([]string, 0, len(f.Statuses))
		for _, s := range f.Statuses {
			names = append(names, s.String())
		}
		q["status"] = bson.M{"$in": names}
	}
	if f.Reserved != nil {
		if *f.Reserved {
			q["reserved"] = true
		} else {
			q["reserved"] = bson.M{"$ne": true}
		}
	}
	if !f.LastAccessBefore.IsZero() {
		q["last_access"] = bson.M{"$lt": f.LastAccessBefore}
	}
	return q
}

func isReservationIndexError(err error) bool {
	var we mongo.WriteException
	if errors.As(err, &we) {
		for _, e := range we.WriteErrors {
			if e.Code == 11000 && strings.Contains(e.Message, reservedIndexName) {
				return true
			}
		}
	}
	return false
}
