// Copyright 2025 Mech Services, Inc.
package tenant

import (
	"context"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// Store persists application records. The Mongo implementation backs
// production; the memory implementation backs tests and single-node runs
// without a document store.
type Store interface {
	Insert(ctx context.Context, app *Application) error
	Get(ctx context.Context, id string) (*Application, error)
	GetByKeyHash(ctx context.Context, hash string) (*Application, error)
	List(ctx context.Context) ([]*Application, error)
	Update(ctx context.Context, app *Application) error
	Delete(ctx context.Context, id string) error
}

type mongoStore struct {
	col *mongo.Collection
}

// NewMongoStore returns a Store over the applications collection.
func NewMongoStore(db *mongo.Database) Store {
	return &mongoStore{col: db.Collection("applications")}
}

func (s *mongoStore) Insert(ctx context.Context, app *Application) error {
	_, err := s.col.InsertOne(ctx, app)
	if mongo.IsDuplicateKeyError(err) {
		return ErrAppExists
	}
	return err
}

func (s *mongoStore) Get(ctx context.Context, id string) (*Application, error) {
	var app Application
	err := s.col.FindOne(ctx, bson.M{"_id": id}).Decode(&app)
	if err == mongo.ErrNoDocuments {
		return nil, ErrAppNotFound
	}
	if err != nil {
		return nil, err
	}
	return &app, nil
}

func (s *mongoStore) GetByKeyHash(ctx context.Context, hash string) (*Application, error) {
	var app Application
	err := s.col.FindOne(ctx, bson.M{"apiKeyHash": hash}).Decode(&app)
	if err == mongo.ErrNoDocuments {
		return nil, ErrAppNotFound
	}
	if err != nil {
		return nil, err
	}
	return &app, nil
}

func (s *mongoStore) List(ctx context.Context) ([]*Application, error) {
	cur, err := s.col.Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var out []*Application
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *mongoStore) Update(ctx context.Context, app *Application) error {
	res, err := s.col.ReplaceOne(ctx, bson.M{"_id": app.ID}, app)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrAppNotFound
	}
	return nil
}

func (s *mongoStore) Delete(ctx context.Context, id string) error {
	res, err := s.col.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrAppNotFound
	}
	return nil
}

type memoryStore struct {
	mu   sync.RWMutex
	apps map[string]*Application
}

// NewMemoryStore returns an in-memory Store.
func NewMemoryStore() Store {
	return &memoryStore{apps: make(map[string]*Application)}
}

func (s *memoryStore) Insert(_ context.Context, app *Application) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.apps[app.ID]; ok {
		return ErrAppExists
	}
	cp := *app
	s.apps[app.ID] = &cp
	return nil
}

func (s *memoryStore) Get(_ context.Context, id string) (*Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	app, ok := s.apps[id]
	if !ok {
		return nil, ErrAppNotFound
	}
	cp := *app
	return &cp, nil
}

func (s *memoryStore) GetByKeyHash(_ context.Context, hash string) (*Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, app := range s.apps {
		if app.APIKeyHash == hash {
			cp := *app
			return &cp, nil
		}
	}
	return nil, ErrAppNotFound
}

func (s *memoryStore) List(_ context.Context) ([]*Application, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Application, 0, len(s.apps))
	for _, app := range s.apps {
		cp := *app
		out = append(out, &cp)
	}
	return out, nil
}

func (s *memoryStore) Update(_ context.Context, app *Application) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.apps[app.ID]; !ok {
		return ErrAppNotFound
	}
	cp := *app
	s.apps[app.ID] = &cp
	return nil
}

func (s *memoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.apps[id]; !ok {
		return ErrAppNotFound
	}
	delete(s.apps, id)
	return nil
}
