package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"chatcore/internal/domain/chat"
)

// MongoJobStore persists the task queue in a single collection. Claiming
// uses FindOneAndUpdate so concurrent dispatchers on separate instances
// never hand the same job to two workers.
type MongoJobStore struct {
	// Lease overrides DefaultJobLease when positive.
	Lease time.Duration

	col *mongo.Collection
}

func NewMongoJobStore(ctx context.Context, db *mongo.Database) (*MongoJobStore, error) {
	col := db.Collection("task_jobs")
	idx := mongo.IndexModel{Keys: bson.D{{Key: "status", Value: 1}, {Key: "next_attempt_at", Value: 1}}}
	if _, err := col.Indexes().CreateOne(ctx, idx); err != nil {
		return nil, fmt.Errorf("tasks: create index: %w", err)
	}
	return &MongoJobStore{col: col}, nil
}

func (s *MongoJobStore) Enqueue(ctx context.Context, job Job) error {
	_, err := s.col.InsertOne(ctx, job)
	if err != nil {
		return fmt.Errorf("tasks: enqueue job: %w", err)
	}
	return nil
}

func (s *MongoJobStore) Claim(ctx context.Context, now time.Time, limit int) ([]Job, error) {
	lease := s.Lease
	if lease <= 0 {
		lease = DefaultJobLease
	}
	filter := bson.M{"$or": bson.A{
		bson.M{
			"status":          bson.M{"$in": []Status{StatusQueued, StatusFailed}},
			"next_attempt_at": bson.M{"$lte": now},
		},
		// Running jobs whose lease expired: the claiming process died
		// before marking an outcome, so hand them to a live worker.
		bson.M{
			"status":     StatusRunning,
			"updated_at": bson.M{"$lte": now.Add(-lease)},
		},
	}}
	update := bson.M{"$set": bson.M{"status": StatusRunning, "updated_at": now}}
	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.After).
		SetSort(bson.D{{Key: "next_attempt_at", Value: 1}})

	var claimed []Job
	for limit <= 0 || len(claimed) < limit {
		var job Job
		err := s.col.FindOneAndUpdate(ctx, filter, update, opts).Decode(&job)
		if err != nil {
			if errors.Is(err, mongo.ErrNoDocuments) {
				break
			}
			return claimed, fmt.Errorf("tasks: claim job: %w", err)
		}
		claimed = append(claimed, job)
	}
	return claimed, nil
}

func (s *MongoJobStore) MarkSucceeded(ctx context.Context, id string) error {
	update := bson.M{
		"$set": bson.M{"status": StatusSucceeded, "last_error": "", "updated_at": time.Now().UTC()},
		"$inc": bson.M{"attempts": 1},
	}
	return s.updateByID(ctx, id, update)
}

func (s *MongoJobStore) MarkFailed(ctx context.Context, id string, attempts int, lastErr string, nextAttempt time.Time) error {
	job, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	set := bson.M{
		"attempts":   attempts,
		"last_error": lastErr,
		"updated_at": time.Now().UTC(),
	}
	if attempts >= job.MaxAttempts {
		set["status"] = StatusAbandoned
	} else {
		set["status"] = StatusFailed
		set["next_attempt_at"] = nextAttempt
	}
	return s.updateByID(ctx, id, bson.M{"$set": set})
}

func (s *MongoJobStore) Get(ctx context.Context, id string) (Job, error) {
	var job Job
	err := s.col.FindOne(ctx, bson.M{"_id": id}).Decode(&job)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return Job{}, fmt.Errorf("%w: job %s", chat.ErrNotFound, id)
		}
		return Job{}, fmt.Errorf("tasks: get job: %w", err)
	}
	return job, nil
}

func (s *MongoJobStore) updateByID(ctx context.Context, id string, update bson.M) error {
	res, err := s.col.UpdateByID(ctx, id, update)
	if err != nil {
		return fmt.Errorf("tasks: update job: %w", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%w: job %s", chat.ErrNotFound, id)
	}
	return nil
}

var _ JobStore = (*MongoJobStore)(nil)
