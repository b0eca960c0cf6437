package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"bloomxr.dev/meshstudio/internal/auth"
	"bloomxr.dev/meshstudio/internal/store"
)

var ErrConsentRequired = errors.New("consent must be given to participate")

type ProfileUpdate struct {
	DisplayName string
	Institution string
	Role        string
	Bio         string
}

// ProfileService owns user profiles and research consent forms.
type ProfileService struct {
	store   store.Store
	names   auth.DisplayNameUpdater
	logger  *zap.Logger
	nowFunc func() time.Time
}

// NewProfileService builds the service. names may be nil when the identity
// provider does not store display names.
func NewProfileService(s store.Store, names auth.DisplayNameUpdater, logger *zap.Logger) *ProfileService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProfileService{
		store:   s,
		names:   names,
		logger:  logger.With(zap.String("component", "profiles")),
		nowFunc: func() time.Time { return time.Now().UTC() },
	}
}

// GetOrCreate returns the caller's profile, creating a pending one from the
// identity on first access.
func (s *ProfileService) GetOrCreate(ctx context.Context, id *auth.Identity) (*store.UserProfile, error) {
	p, err := s.store.GetProfile(ctx, id.UID)
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}

	p = &store.UserProfile{
		UID:           id.UID,
		DisplayName:   id.DisplayName,
		Email:         id.Email,
		ConsentStatus: store.ConsentPending,
	}
	if err := s.store.SaveProfile(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to create profile: %w", err)
	}
	s.logger.Info("profile created", zap.String("uid", id.UID))
	return p, nil
}

// Update changes the editable profile fields. Email and consent state are
// not editable here.
func (s *ProfileService) Update(ctx context.Context, id *auth.Identity, upd ProfileUpdate) (*store.UserProfile, error) {
	p, err := s.GetOrCreate(ctx, id)
	if err != nil {
		return nil, err
	}

	p.DisplayName = strings.TrimSpace(upd.DisplayName)
	p.Institution = strings.TrimSpace(upd.Institution)
	p.Role = strings.TrimSpace(upd.Role)
	p.Bio = strings.TrimSpace(upd.Bio)

	if s.names != nil && p.DisplayName != id.DisplayName {
		if err := s.names.UpdateDisplayName(ctx, id.UID, p.DisplayName); err != nil {
			return nil, err
		}
	}
	if err := s.store.SaveProfile(ctx, p); err != nil {
		return nil, fmt.Errorf("failed to save profile: %w", err)
	}
	return p, nil
}

// SubmitConsent records a pending consent form for the caller.
func (s *ProfileService) SubmitConsent(ctx context.Context, id *auth.Identity, email string, consent bool) (*store.ConsentForm, error) {
	if !consent {
		return nil, ErrConsentRequired
	}
	p, err := s.GetOrCreate(ctx, id)
	if err != nil {
		return nil, err
	}

	f := &store.ConsentForm{
		UserID:      id.UID,
		Email:       strings.TrimSpace(email),
		DisplayName: p.DisplayName,
		Status:      store.ConsentPending,
	}
	if err := s.store.SaveConsentForm(ctx, f); err != nil {
		return nil, fmt.Errorf("failed to save consent form: %w", err)
	}
	s.logger.Info("consent form submitted", zap.String("uid", id.UID))
	return f, nil
}

func (s *ProfileService) Consent(ctx context.Context, uid string) (*store.ConsentForm, error) {
	f, err := s.store.GetConsentForm(ctx, uid)
	if err != nil {
		return nil, fmt.Errorf("failed to load consent form: %w", err)
	}
	return f, nil
}

// CompleteConsent records the survey outcome on the form and mirrors it onto
// the profile.
func (s *ProfileService) CompleteConsent(ctx context.Context, id *auth.Identity, status store.ConsentStatus, surveyLink string) (*store.ConsentForm, error) {
	if status != store.ConsentCompleted && status != store.ConsentDeclined {
		return nil, fmt.Errorf("unsupported consent status %q", status)
	}

	at := s.nowFunc()
	if err := s.store.UpdateConsentForm(ctx, id.UID, status, surveyLink, at); err != nil {
		return nil, fmt.Errorf("failed to update consent form: %w", err)
	}
	if _, err := s.GetOrCreate(ctx, id); err != nil {
		return nil, err
	}
	if err := s.store.SetProfileConsent(ctx, id.UID, status, at); err != nil {
		return nil, fmt.Errorf("failed to update profile consent: %w", err)
	}

	s.logger.Info("consent updated", zap.String("uid", id.UID), zap.String("status", string(status)))
	return s.Consent(ctx, id.UID)
}
