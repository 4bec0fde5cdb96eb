// Copyright 2025 Mech Services, Inc.
package subscription

import (
	"context"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// Store persists subscriptions.
type Store interface {
	Insert(ctx context.Context, sub *Subscription) error
	Get(ctx context.Context, id string) (*Subscription, error)
	ListByApplication(ctx context.Context, applicationID string) ([]*Subscription, error)
	ListActive(ctx context.Context) ([]*Subscription, error)
	Update(ctx context.Context, sub *Subscription) error
	Delete(ctx context.Context, id string) error
	// RecordTrigger bumps the counter and trigger time after a successful
	// delivery; RecordFailure keeps the last delivery error visible.
	RecordTrigger(ctx context.Context, id string, at time.Time) error
	RecordFailure(ctx context.Context, id string, errMsg string) error
}

type mongoStore struct {
	col *mongo.Collection
}

// NewMongoStore returns a Store over the subscriptions collection.
func NewMongoStore(db *mongo.Database) Store {
	return &mongoStore{col: db.Collection("subscriptions")}
}

func (s *mongoStore) Insert(ctx context.Context, sub *Subscription) error {
	_, err := s.col.InsertOne(ctx, sub)
	return err
}

func (s *mongoStore) Get(ctx context.Context, id string) (*Subscription, error) {
	var sub Subscription
	err := s.col.FindOne(ctx, bson.M{"_id": id}).Decode(&sub)
	if err == mongo.ErrNoDocuments {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func (s *mongoStore) ListByApplication(ctx context.Context, applicationID string) ([]*Subscription, error) {
	return s.find(ctx, bson.M{"applicationId": applicationID})
}

func (s *mongoStore) ListActive(ctx context.Context) ([]*Subscription, error) {
	return s.find(ctx, bson.M{"active": true})
}

func (s *mongoStore) find(ctx context.Context, filter bson.M) ([]*Subscription, error) {
	cur, err := s.col.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var out []*Subscription
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *mongoStore) Update(ctx context.Context, sub *Subscription) error {
	res, err := s.col.ReplaceOne(ctx, bson.M{"_id": sub.ID}, sub)
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

func (s *mongoStore) RecordTrigger(ctx context.Context, id string, at time.Time) error {
	_, err := s.col.UpdateOne(ctx, bson.M{"_id": id}, bson.M{
		"$inc": bson.M{"triggerCount": 1},
		"$set": bson.M{"lastTriggeredAt": at, "lastError": ""},
	})
	return err
}

func (s *mongoStore) RecordFailure(ctx context.Context, id string, errMsg string) error {
	_, err := s.col.UpdateOne(ctx, bson.M{"_id": id}, bson.M{
		"$set": bson.M{"lastError": errMsg},
	})
	return err
}

type memoryStore struct {
	mu   sync.RWMutex
	subs map[string]*Subscription
}

// NewMemoryStore returns an in-memory Store.
func NewMemoryStore() Store {
	return &memoryStore{subs: make(map[string]*Subscription)}
}

func (s *memoryStore) Insert(_ context.Context, sub *Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *sub
	s.subs[sub.ID] = &cp
	return nil
}

func (s *memoryStore) Get(_ context.Context, id string) (*Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.subs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *sub
	return &cp, nil
}

func (s *memoryStore) ListByApplication(_ context.Context, applicationID string) ([]*Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Subscription
	for _, sub := range s.subs {
		if sub.ApplicationID == applicationID {
			cp := *sub
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memoryStore) ListActive(_ context.Context) ([]*Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Subscription
	for _, sub := range s.subs {
		if sub.Active {
			cp := *sub
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memoryStore) Update(_ context.Context, sub *Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[sub.ID]; !ok {
		return ErrNotFound
	}
	cp := *sub
	s.subs[sub.ID] = &cp
	return nil
}

func (s *memoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[id]; !ok {
		return ErrNotFound
	}
	delete(s.subs, id)
	return nil
}

func (s *memoryStore) RecordTrigger(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[id]
	if !ok {
		return ErrNotFound
	}
	sub.TriggerCount++
	t := at
	sub.LastTriggeredAt = &t
	sub.LastError = ""
	return nil
}

func (s *memoryStore) RecordFailure(_ context.Context, id string, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subs[id]
	if !ok {
		return ErrNotFound
	}
	sub.LastError = errMsg
	return nil
}
