package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
}

var _ Store = (*MongoStore)(nil)

func NewMongoStore(ctx context.Context, uri, database string) (*MongoStore, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	s := &MongoStore{client: client, db: client.Database(database)}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	_, err := s.db.Collection(ColModels).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "visibility", Value: 1}, {Key: "createdAt", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("failed to create models index: %w", err)
	}
	return nil
}

func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) CreateModel(ctx context.Context, m *SharedModel) error {
	if m.Tags == nil {
		m.Tags = []string{}
	}
	m.ID = uuid.NewString()
	m.CreatedAt = time.Now().UTC()
	m.UpdatedAt = m.CreatedAt

	if _, err := s.db.Collection(ColModels).InsertOne(ctx, m); err != nil {
		return fmt.Errorf("failed to insert model: %w", err)
	}
	return nil
}

func (s *MongoStore) GetModel(ctx context.Context, id string) (*SharedModel, error) {
	var m SharedModel
	err := s.db.Collection(ColModels).FindOne(ctx, bson.M{"_id": id}).Decode(&m)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get model: %w", err)
	}
	return &m, nil
}

func (s *MongoStore) UpdateModel(ctx context.Context, id string, upd ModelUpdate) (*SharedModel, error) {
	set := bson.M{"updatedAt": time.Now().UTC()}
	if upd.Name != nil {
		set["name"] = *upd.Name
	}
	if upd.Description != nil {
		set["description"] = *upd.Description
	}
	if upd.Visibility != nil {
		set["visibility"] = string(*upd.Visibility)
	}
	if upd.Tags != nil {
		set["tags"] = *upd.Tags
	}

	res, err := s.db.Collection(ColModels).UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": set})
	if err != nil {
		return nil, fmt.Errorf("failed to update model: %w", err)
	}
	if res.MatchedCount == 0 {
		return nil, ErrNotFound
	}
	return s.GetModel(ctx, id)
}

func (s *MongoStore) DeleteModel(ctx context.Context, id string) error {
	res, err := s.db.Collection(ColModels).DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to delete model: %w", err)
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) ListPublicModels(ctx context.Context) ([]SharedModel, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	cursor, err := s.db.Collection(ColModels).Find(ctx, bson.M{"visibility": string(VisibilityPublic)}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query models: %w", err)
	}
	defer cursor.Close(ctx)

	models := []SharedModel{}
	if err := cursor.All(ctx, &models); err != nil {
		return nil, fmt.Errorf("failed to decode models: %w", err)
	}
	return models, nil
}

func (s *MongoStore) GetProfile(ctx context.Context, uid string) (*UserProfile, error) {
	var p UserProfile
	err := s.db.Collection(ColUsers).FindOne(ctx, bson.M{"_id": uid}).Decode(&p)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	return &p, nil
}

func (s *MongoStore) SaveProfile(ctx context.Context, p *UserProfile) error {
	if p.ConsentStatus == "" {
		p.ConsentStatus = ConsentPending
	}
	p.UpdatedAt = time.Now().UTC()
	_, err := s.db.Collection(ColUsers).ReplaceOne(ctx, bson.M{"_id": p.UID}, p, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}
	return nil
}

func (s *MongoStore) SetProfileConsent(ctx context.Context, uid string, status ConsentStatus, at time.Time) error {
	res, err := s.db.Collection(ColUsers).UpdateOne(ctx, bson.M{"_id": uid}, bson.M{"$set": bson.M{
		"consentStatus": string(status),
		"consentDate":   at,
		"updatedAt":     time.Now().UTC(),
	}})
	if err != nil {
		return fmt.Errorf("failed to update profile consent: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) SaveConsentForm(ctx context.Context, f *ConsentForm) error {
	now := time.Now().UTC()
	f.CreatedAt = now
	f.UpdatedAt = now
	_, err := s.db.Collection(ColConsentForms).ReplaceOne(ctx, bson.M{"_id": f.UserID}, f, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to save consent form: %w", err)
	}
	return nil
}

func (s *MongoStore) GetConsentForm(ctx context.Context, uid string) (*ConsentForm, error) {
	var f ConsentForm
	err := s.db.Collection(ColConsentForms).FindOne(ctx, bson.M{"_id": uid}).Decode(&f)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get consent form: %w", err)
	}
	return &f, nil
}

func (s *MongoStore) UpdateConsentForm(ctx context.Context, uid string, status ConsentStatus, surveyLink string, at time.Time) error {
	res, err := s.db.Collection(ColConsentForms).UpdateOne(ctx, bson.M{"_id": uid}, bson.M{"$set": bson.M{
		"status":      string(status),
		"consentDate": at,
		"surveyLink":  surveyLink,
		"updatedAt":   time.Now().UTC(),
	}})
	if err != nil {
		return fmt.Errorf("failed to update consent form: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}
