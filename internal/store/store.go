// Package store persists user profiles, shared models and consent forms.
// Three backends implement Store: SQLite for local use, Firestore and MongoDB
// for hosted deployments.
package store

import (
	"context"
	"errors"
	"time"
)

const (
	ColUsers        = "users"
	ColModels       = "models"
	ColConsentForms = "consentForms"
)

var (
	ErrNotFound = errors.New("document not found")
)

type Store interface {
	// CreateModel assigns ID, CreatedAt and UpdatedAt.
	CreateModel(ctx context.Context, m *SharedModel) error
	GetModel(ctx context.Context, id string) (*SharedModel, error)
	UpdateModel(ctx context.Context, id string, upd ModelUpdate) (*SharedModel, error)
	DeleteModel(ctx context.Context, id string) error
	// ListPublicModels returns public models, newest first.
	ListPublicModels(ctx context.Context) ([]SharedModel, error)

	GetProfile(ctx context.Context, uid string) (*UserProfile, error)
	// SaveProfile writes the whole profile, creating it if needed.
	SaveProfile(ctx context.Context, p *UserProfile) error
	SetProfileConsent(ctx context.Context, uid string, status ConsentStatus, at time.Time) error

	// SaveConsentForm writes the form keyed by its user id.
	SaveConsentForm(ctx context.Context, f *ConsentForm) error
	GetConsentForm(ctx context.Context, uid string) (*ConsentForm, error)
	UpdateConsentForm(ctx context.Context, uid string, status ConsentStatus, surveyLink string, at time.Time) error

	Close() error
}
