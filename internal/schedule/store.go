// Copyright 2025 Mech Services, Inc.
package schedule

import (
	"context"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// Store persists schedules. Advance is the multi-instance safety point: it
// must be conditional on the prior nextExecutionAt so two ticks never fire
// the same schedule twice.
type Store interface {
	Insert(ctx context.Context, s *Schedule) error
	Get(ctx context.Context, id string) (*Schedule, error)
	List(ctx context.Context) ([]*Schedule, error)
	Update(ctx context.Context, s *Schedule) error
	Delete(ctx context.Context, id string) error
	// ListDue returns enabled schedules whose nextExecutionAt <= now and
	// which are not past their end date or limit.
	ListDue(ctx context.Context, now time.Time) ([]*Schedule, error)
	// Advance atomically moves nextExecutionAt from prev to next (next nil
	// disables the schedule) and counts the firing against the limit.
	// Returns false when another instance won.
	Advance(ctx context.Context, id string, prev *time.Time, next *time.Time) (bool, error)
	// RecordExecution stores the outcome of one firing.
	RecordExecution(ctx context.Context, id string, status, errMsg string, at time.Time) error
}

type mongoStore struct {
	col *mongo.Collection
}

// NewMongoStore returns a Store over the schedules collection.
func NewMongoStore(db *mongo.Database) Store {
	return &mongoStore{col: db.Collection("schedules")}
}

func (s *mongoStore) Insert(ctx context.Context, sched *Schedule) error {
	_, err := s.col.InsertOne(ctx, sched)
	return err
}

func (s *mongoStore) Get(ctx context.Context, id string) (*Schedule, error) {
	var out Schedule
	err := s.col.FindOne(ctx, bson.M{"_id": id}).Decode(&out)
	if err == mongo.ErrNoDocuments {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *mongoStore) List(ctx context.Context) ([]*Schedule, error) {
	cur, err := s.col.Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var out []*Schedule
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *mongoStore) Update(ctx context.Context, sched *Schedule) error {
	res, err := s.col.ReplaceOne(ctx, bson.M{"_id": sched.ID}, sched)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *mongoStore) Delete(ctx context.Context, id string) error {
	res, err := s.col.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *mongoStore) ListDue(ctx context.Context, now time.Time) ([]*Schedule, error) {
	filter := bson.M{
		"enabled":         true,
		"nextExecutionAt": bson.M{"$ne": nil, "$lte": now},
		"$and": bson.A{
			bson.M{"$or": bson.A{
				bson.M{"schedule.endDate": nil},
				bson.M{"schedule.endDate": bson.M{"$gt": now}},
			}},
			bson.M{"$or": bson.A{
				bson.M{"schedule.limit": nil},
				bson.M{"$expr": bson.M{"$lt": bson.A{"$executionCount", "$schedule.limit"}}},
			}},
		},
	}
	cur, err := s.col.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var out []*Schedule
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *mongoStore) Advance(ctx context.Context, id string, prev *time.Time, next *time.Time) (bool, error) {
	update := bson.M{
		"$set": bson.M{"nextExecutionAt": next, "updatedAt": time.Now().UTC()},
		"$inc": bson.M{"executionCount": 1},
	}
	if next == nil {
		update = bson.M{
			"$set": bson.M{"nextExecutionAt": nil, "enabled": false, "updatedAt": time.Now().UTC()},
			"$inc": bson.M{"executionCount": 1},
		}
	}
	res, err := s.col.UpdateOne(ctx, bson.M{"_id": id, "nextExecutionAt": prev}, update)
	if err != nil {
		return false, err
	}
	return res.MatchedCount == 1, nil
}

func (s *mongoStore) RecordExecution(ctx context.Context, id string, status, errMsg string, at time.Time) error {
	_, err := s.col.UpdateOne(ctx, bson.M{"_id": id}, bson.M{
		"$set": bson.M{
			"lastExecutedAt":      at,
			"lastExecutionStatus": status,
			"lastExecutionError":  errMsg,
			"updatedAt":           time.Now().UTC(),
		},
	})
	return err
}

type memoryStore struct {
	mu    sync.RWMutex
	items map[string]*Schedule
}

// NewMemoryStore returns an in-memory Store.
func NewMemoryStore() Store {
	return &memoryStore{items: make(map[string]*Schedule)}
}

func (s *memoryStore) Insert(_ context.Context, sched *Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sched
	s.items[sched.ID] = &cp
	return nil
}

func (s *memoryStore) Get(_ context.Context, id string) (*Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sched, ok := s.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *sched
	return &cp, nil
}

func (s *memoryStore) List(_ context.Context) ([]*Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Schedule, 0, len(s.items))
	for _, sched := range s.items {
		cp := *sched
		out = append(out, &cp)
	}
	return out, nil
}

func (s *memoryStore) Update(_ context.Context, sched *Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[sched.ID]; !ok {
		return ErrNotFound
	}
	cp := *sched
	s.items[sched.ID] = &cp
	return nil
}

func (s *memoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		return ErrNotFound
	}
	delete(s.items, id)
	return nil
}

func (s *memoryStore) ListDue(_ context.Context, now time.Time) ([]*Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Schedule
	for _, sched := range s.items {
		if !sched.Enabled || sched.NextExecutionAt == nil || sched.NextExecutionAt.After(now) {
			continue
		}
		if sched.Exhausted(now) {
			continue
		}
		cp := *sched
		out = append(out, &cp)
	}
	return out, nil
}

func (s *memoryStore) Advance(_ context.Context, id string, prev *time.Time, next *time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sched, ok := s.items[id]
	if !ok {
		return false, nil
	}
	if !timePtrEqual(sched.NextExecutionAt, prev) {
		return false, nil
	}
	if next == nil {
		sched.NextExecutionAt = nil
		sched.Enabled = false
	} else {
		t := *next
		sched.NextExecutionAt = &t
	}
	sched.ExecutionCount++
	sched.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (s *memoryStore) RecordExecution(_ context.Context, id string, status, errMsg string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sched, ok := s.items[id]
	if !ok {
		return ErrNotFound
	}
	t := at
	sched.LastExecutedAt = &t
	sched.LastExecutionStatus = status
	sched.LastExecutionError = errMsg
	sched.UpdatedAt = time.Now().UTC()
	return nil
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
