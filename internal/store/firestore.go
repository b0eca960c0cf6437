package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	firebase "firebase.google.com/go/v4"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreStore keeps documents in the collections used by the web client,
// so records written by either side stay readable by the other.
type FirestoreStore struct {
	client *firestore.Client
}

var _ Store = (*FirestoreStore)(nil)

func NewFirestoreStore(ctx context.Context, app *firebase.App) (*FirestoreStore, error) {
	client, err := app.Firestore(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get Firestore client: %w", err)
	}
	return &FirestoreStore{client: client}, nil
}

func (s *FirestoreStore) Close() error {
	return s.client.Close()
}

func notFound(err error) bool {
	return status.Code(err) == codes.NotFound
}

func (s *FirestoreStore) CreateModel(ctx context.Context, m *SharedModel) error {
	if m.Tags == nil {
		m.Tags = []string{}
	}
	ref, _, err := s.client.Collection(ColModels).Add(ctx, map[string]interface{}{
		"name":        m.Name,
		"description": m.Description,
		"ownerId":     m.OwnerID,
		"ownerName":   m.OwnerName,
		"visibility":  string(m.Visibility),
		"modelUrl":    m.ModelURL,
		"tags":        m.Tags,
		"createdAt":   firestore.ServerTimestamp,
		"updatedAt":   firestore.ServerTimestamp,
	})
	if err != nil {
		return fmt.Errorf("failed to add model: %w", err)
	}

	// Read back to pick up the server timestamps.
	created, err := s.GetModel(ctx, ref.ID)
	if err != nil {
		return err
	}
	*m = *created
	return nil
}

func (s *FirestoreStore) GetModel(ctx context.Context, id string) (*SharedModel, error) {
	snap, err := s.client.Collection(ColModels).Doc(id).Get(ctx)
	if err != nil {
		if notFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get model: %w", err)
	}
	return modelFromSnapshot(snap)
}

func modelFromSnapshot(snap *firestore.DocumentSnapshot) (*SharedModel, error) {
	var m SharedModel
	if err := snap.DataTo(&m); err != nil {
		return nil, fmt.Errorf("failed to decode model %s: %w", snap.Ref.ID, err)
	}
	m.ID = snap.Ref.ID
	if m.Tags == nil {
		m.Tags = []string{}
	}
	return &m, nil
}

func (s *FirestoreStore) UpdateModel(ctx context.Context, id string, upd ModelUpdate) (*SharedModel, error) {
	updates := []firestore.Update{{Path: "updatedAt", Value: firestore.ServerTimestamp}}
	if upd.Name != nil {
		updates = append(updates, firestore.Update{Path: "name", Value: *upd.Name})
	}
	if upd.Description != nil {
		updates = append(updates, firestore.Update{Path: "description", Value: *upd.Description})
	}
	if upd.Visibility != nil {
		updates = append(updates, firestore.Update{Path: "visibility", Value: string(*upd.Visibility)})
	}
	if upd.Tags != nil {
		updates = append(updates, firestore.Update{Path: "tags", Value: *upd.Tags})
	}

	if _, err := s.client.Collection(ColModels).Doc(id).Update(ctx, updates); err != nil {
		if notFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to update model: %w", err)
	}
	return s.GetModel(ctx, id)
}

func (s *FirestoreStore) DeleteModel(ctx context.Context, id string) error {
	_, err := s.client.Collection(ColModels).Doc(id).Delete(ctx, firestore.Exists)
	if err != nil {
		if notFound(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to delete model: %w", err)
	}
	return nil
}

func (s *FirestoreStore) ListPublicModels(ctx context.Context) ([]SharedModel, error) {
	iter := s.client.Collection(ColModels).
		Where("visibility", "==", string(VisibilityPublic)).
		OrderBy("createdAt", firestore.Desc).
		Documents(ctx)
	defer iter.Stop()

	models := []SharedModel{}
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to query models: %w", err)
		}
		m, err := modelFromSnapshot(snap)
		if err != nil {
			return nil, err
		}
		models = append(models, *m)
	}
	return models, nil
}

func (s *FirestoreStore) GetProfile(ctx context.Context, uid string) (*UserProfile, error) {
	snap, err := s.client.Collection(ColUsers).Doc(uid).Get(ctx)
	if err != nil {
		if notFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}
	var p UserProfile
	if err := snap.DataTo(&p); err != nil {
		return nil, fmt.Errorf("failed to decode profile %s: %w", uid, err)
	}
	p.UID = uid
	return &p, nil
}

func (s *FirestoreStore) SaveProfile(ctx context.Context, p *UserProfile) error {
	if p.ConsentStatus == "" {
		p.ConsentStatus = ConsentPending
	}
	p.UpdatedAt = time.Now().UTC()
	if _, err := s.client.Collection(ColUsers).Doc(p.UID).Set(ctx, p); err != nil {
		return fmt.Errorf("failed to save profile: %w", err)
	}
	return nil
}

func (s *FirestoreStore) SetProfileConsent(ctx context.Context, uid string, status ConsentStatus, at time.Time) error {
	_, err := s.client.Collection(ColUsers).Doc(uid).Update(ctx, []firestore.Update{
		{Path: "consentStatus", Value: string(status)},
		{Path: "consentDate", Value: at},
		{Path: "updatedAt", Value: firestore.ServerTimestamp},
	})
	if err != nil {
		if notFound(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to update profile consent: %w", err)
	}
	return nil
}

func (s *FirestoreStore) SaveConsentForm(ctx context.Context, f *ConsentForm) error {
	now := time.Now().UTC()
	f.CreatedAt = now
	f.UpdatedAt = now
	// A new document here fires the trigger-email extension configured on the project.
	if _, err := s.client.Collection(ColConsentForms).Doc(f.UserID).Set(ctx, f); err != nil {
		return fmt.Errorf("failed to save consent form: %w", err)
	}
	return nil
}

func (s *FirestoreStore) GetConsentForm(ctx context.Context, uid string) (*ConsentForm, error) {
	snap, err := s.client.Collection(ColConsentForms).Doc(uid).Get(ctx)
	if err != nil {
		if notFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get consent form: %w", err)
	}
	var f ConsentForm
	if err := snap.DataTo(&f); err != nil {
		return nil, fmt.Errorf("failed to decode consent form %s: %w", uid, err)
	}
	return &f, nil
}

func (s *FirestoreStore) UpdateConsentForm(ctx context.Context, uid string, status ConsentStatus, surveyLink string, at time.Time) error {
	_, err := s.client.Collection(ColConsentForms).Doc(uid).Update(ctx, []firestore.Update{
		{Path: "status", Value: string(status)},
		{Path: "consentDate", Value: at},
		{Path: "surveyLink", Value: surveyLink},
		{Path: "updatedAt", Value: firestore.ServerTimestamp},
	})
	if err != nil {
		if notFound(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to update consent form: %w", err)
	}
	return nil
}
