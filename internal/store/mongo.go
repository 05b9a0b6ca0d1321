// Package store provides storage backends for Amparo.
//
// This file implements the MongoDB-backed routine store.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/amparo-care/amparo/internal/models"
)

// Mongo connection defaults
const (
	// DefaultMongoDatabase is the database used when none is configured.
	DefaultMongoDatabase = "amparo"
	// routinesCollection is the collection holding one document per dependent.
	routinesCollection = "routines"
	// DefaultMongoConnectTimeout bounds the initial connect and ping.
	DefaultMongoConnectTimeout = 10 * time.Second
)

// MongoRoutineStore implements RoutineStore on a MongoDB collection.
type MongoRoutineStore struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// NewMongoRoutineStore connects to MongoDB, ensures the unique index on
// dependent_id, and returns the store.
func NewMongoRoutineStore(ctx context.Context, opts ...Option) (*MongoRoutineStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		slog.Error("MongoRoutineStore DSN not set")
		return nil, fmt.Errorf("mongo URI not set")
	}
	if cfg.Database == "" {
		cfg.Database = DefaultMongoDatabase
	}

	connectCtx, cancel := context.WithTimeout(ctx, DefaultMongoConnectTimeout)
	defer cancel()
	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.DSN))
	if err != nil {
		slog.Error("Failed to connect to MongoDB", "error", err)
		return nil, fmt.Errorf("failed to connect to mongo: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		slog.Error("MongoDB ping failed", "error", err)
		return nil, fmt.Errorf("mongo ping failed: %w", err)
	}
	slog.Debug("MongoDB connection established", "database", cfg.Database)

	coll := client.Database(cfg.Database).Collection(routinesCollection)

	// One routine document per dependent.
	_, err = coll.Indexes().CreateOne(connectCtx, mongo.IndexModel{
		Keys:    bson.D{{Key: "dependent_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		slog.Error("Failed to create routine index", "error", err)
		return nil, fmt.Errorf("failed to create dependent_id index: %w", err)
	}

	return &MongoRoutineStore{client: client, coll: coll}, nil
}

// Close disconnects the underlying Mongo client.
func (s *MongoRoutineStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *MongoRoutineStore) UpsertAppendActivity(ctx context.Context, dependentID, caregiverID string, activity models.Activity, entry models.LogEntry) error {
	update := bson.M{
		"$push": bson.M{
			"activities": activity,
			"log":        entry,
		},
	}
	if caregiverID != "" {
		update["$setOnInsert"] = bson.M{"caregiver_id": caregiverID}
	}
	_, err := s.coll.UpdateOne(ctx,
		bson.M{"dependent_id": dependentID},
		update,
		options.Update().SetUpsert(true),
	)
	if err != nil {
		slog.Error("MongoRoutineStore.UpsertAppendActivity failed", "error", err, "dependent_id", dependentID)
		return fmt.Errorf("failed to append activity for dependent %s: %w", dependentID, err)
	}
	slog.Debug("MongoRoutineStore.UpsertAppendActivity succeeded", "dependent_id", dependentID, "activity_id", activity.ID.Hex())
	return nil
}

func (s *MongoRoutineStore) FindByDependent(ctx context.Context, dependentID string) (*models.Routine, error) {
	var routine models.Routine
	err := s.coll.FindOne(ctx, bson.M{"dependent_id": dependentID}).Decode(&routine)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		slog.Error("MongoRoutineStore.FindByDependent failed", "error", err, "dependent_id", dependentID)
		return nil, fmt.Errorf("failed to find routine for dependent %s: %w", dependentID, err)
	}
	return &routine, nil
}

func (s *MongoRoutineStore) FindActivityByID(ctx context.Context, dependentID, activityID string) (*models.Activity, error) {
	oid, err := primitive.ObjectIDFromHex(activityID)
	if err != nil {
		// Malformed id can never match an activity.
		return nil, nil
	}
	var routine models.Routine
	err = s.coll.FindOne(ctx,
		bson.M{"dependent_id": dependentID},
		options.FindOne().SetProjection(bson.M{
			"activities": bson.M{"$elemMatch": bson.M{"_id": oid}},
		}),
	).Decode(&routine)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		slog.Error("MongoRoutineStore.FindActivityByID failed", "error", err, "dependent_id", dependentID, "activity_id", activityID)
		return nil, fmt.Errorf("failed to find activity %s: %w", activityID, err)
	}
	if len(routine.Activities) == 0 {
		return nil, nil
	}
	return &routine.Activities[0], nil
}

func (s *MongoRoutineStore) UpdateMatchedActivityFields(ctx context.Context, dependentID, activityID string, fields map[string]interface{}) (*models.Activity, error) {
	oid, err := primitive.ObjectIDFromHex(activityID)
	if err != nil {
		return nil, nil
	}
	set := bson.M{}
	for name, value := range fields {
		set["activities.$[elem]."+name] = value
	}
	var routine models.Routine
	err = s.coll.FindOneAndUpdate(ctx,
		bson.M{"dependent_id": dependentID, "activities._id": oid},
		bson.M{"$set": set},
		options.FindOneAndUpdate().
			SetArrayFilters(options.ArrayFilters{Filters: []interface{}{bson.M{"elem._id": oid}}}).
			SetReturnDocument(options.After),
	).Decode(&routine)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		slog.Error("MongoRoutineStore.UpdateMatchedActivityFields failed", "error", err, "dependent_id", dependentID, "activity_id", activityID)
		return nil, fmt.Errorf("failed to update activity %s: %w", activityID, err)
	}
	for i := range routine.Activities {
		if routine.Activities[i].ID == oid {
			return &routine.Activities[i], nil
		}
	}
	return nil, nil
}

func (s *MongoRoutineStore) AppendLog(ctx context.Context, dependentID string, entry models.LogEntry) error {
	_, err := s.coll.UpdateOne(ctx,
		bson.M{"dependent_id": dependentID},
		bson.M{"$push": bson.M{"log": entry}},
	)
	if err != nil {
		slog.Error("MongoRoutineStore.AppendLog failed", "error", err, "dependent_id", dependentID, "action", entry.Action)
		return fmt.Errorf("failed to append log for dependent %s: %w", dependentID, err)
	}
	return nil
}

func (s *MongoRoutineStore) RemoveActivity(ctx context.Context, dependentID, activityID string) (int64, error) {
	oid, err := primitive.ObjectIDFromHex(activityID)
	if err != nil {
		return 0, nil
	}
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"dependent_id": dependentID},
		bson.M{"$pull": bson.M{"activities": bson.M{"_id": oid}}},
	)
	if err != nil {
		slog.Error("MongoRoutineStore.RemoveActivity failed", "error", err, "dependent_id", dependentID, "activity_id", activityID)
		return 0, fmt.Errorf("failed to remove activity %s: %w", activityID, err)
	}
	return res.ModifiedCount, nil
}

func (s *MongoRoutineStore) ClearActivities(ctx context.Context, dependentID string) (int64, error) {
	res, err := s.coll.UpdateOne(ctx,
		bson.M{"dependent_id": dependentID},
		bson.M{"$set": bson.M{"activities": []models.Activity{}}},
	)
	if err != nil {
		slog.Error("MongoRoutineStore.ClearActivities failed", "error", err, "dependent_id", dependentID)
		return 0, fmt.Errorf("failed to clear activities for dependent %s: %w", dependentID, err)
	}
	return res.MatchedCount, nil
}

func (s *MongoRoutineStore) QueryByScheduleWindowAndFlag(ctx context.Context, lo, hi time.Time, status models.ActivityStatus, flag NotificationFlag) ([]models.Routine, error) {
	filter := bson.M{
		"activities": bson.M{"$elemMatch": bson.M{
			"schedule":   bson.M{"$gte": lo, "$lte": hi},
			"status":     status,
			string(flag): bson.M{"$ne": true},
		}},
	}
	cursor, err := s.coll.Find(ctx, filter)
	if err != nil {
		slog.Error("MongoRoutineStore.QueryByScheduleWindowAndFlag failed", "error", err, "flag", flag)
		return nil, fmt.Errorf("failed to query schedule window: %w", err)
	}
	defer cursor.Close(ctx)
	var routines []models.Routine
	if err := cursor.All(ctx, &routines); err != nil {
		slog.Error("MongoRoutineStore.QueryByScheduleWindowAndFlag decode failed", "error", err, "flag", flag)
		return nil, fmt.Errorf("failed to decode window query results: %w", err)
	}
	return routines, nil
}

func (s *MongoRoutineStore) SetActivityFlag(ctx context.Context, routineID, activityID string, flag NotificationFlag) error {
	rid, err := primitive.ObjectIDFromHex(routineID)
	if err != nil {
		return fmt.Errorf("invalid routine id %q: %w", routineID, err)
	}
	aid, err := primitive.ObjectIDFromHex(activityID)
	if err != nil {
		return fmt.Errorf("invalid activity id %q: %w", activityID, err)
	}
	_, err = s.coll.UpdateOne(ctx,
		bson.M{"_id": rid, "activities._id": aid},
		bson.M{"$set": bson.M{"activities.$." + string(flag): true}},
	)
	if err != nil {
		slog.Error("MongoRoutineStore.SetActivityFlag failed", "error", err, "routine_id", routineID, "activity_id", activityID, "flag", flag)
		return fmt.Errorf("failed to set %s on activity %s: %w", flag, activityID, err)
	}
	slog.Debug("MongoRoutineStore.SetActivityFlag succeeded", "routine_id", routineID, "activity_id", activityID, "flag", flag)
	return nil
}
