package core

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"go.uber.org/zap"

	"bloomxr.dev/meshstudio/internal/auth"
	"bloomxr.dev/meshstudio/internal/store"
)

var ErrForbidden = errors.New("only the owner can modify this model")

const (
	SortNewest = "newest"
	SortOldest = "oldest"
)

// GalleryQuery narrows the public gallery. Search is a case-insensitive
// substring match over name, description, owner name and tags.
type GalleryQuery struct {
	Search string
	Sort   string
}

type ShareModelInput struct {
	Name        string
	Description string
	ModelURL    string
	Visibility  store.Visibility
	Tags        []string
}

// ModelService manages models shared to the gallery.
type ModelService struct {
	store  store.Store
	tagger TagSuggester
	logger *zap.Logger
}

// NewModelService builds the service. tagger may be nil, in which case
// models shared without tags stay untagged.
func NewModelService(s store.Store, tagger TagSuggester, logger *zap.Logger) *ModelService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ModelService{
		store:  s,
		tagger: tagger,
		logger: logger.With(zap.String("component", "models")),
	}
}

func (s *ModelService) Gallery(ctx context.Context, q GalleryQuery) ([]store.SharedModel, error) {
	models, err := s.store.ListPublicModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list public models: %w", err)
	}
	return FilterGallery(models, q), nil
}

// FilterGallery applies q to models, which must already be ordered newest
// first.
func FilterGallery(models []store.SharedModel, q GalleryQuery) []store.SharedModel {
	term := strings.ToLower(strings.TrimSpace(q.Search))

	out := make([]store.SharedModel, 0, len(models))
	for _, m := range models {
		if term == "" || matchesSearch(m, term) {
			out = append(out, m)
		}
	}
	if q.Sort == SortOldest {
		slices.Reverse(out)
	}
	return out
}

func matchesSearch(m store.SharedModel, term string) bool {
	if strings.Contains(strings.ToLower(m.Name), term) ||
		strings.Contains(strings.ToLower(m.Description), term) ||
		strings.Contains(strings.ToLower(m.OwnerName), term) {
		return true
	}
	for _, tag := range m.Tags {
		if strings.Contains(strings.ToLower(tag), term) {
			return true
		}
	}
	return false
}

func (s *ModelService) Share(ctx context.Context, owner *auth.Identity, in ShareModelInput) (*store.SharedModel, error) {
	visibility := in.Visibility
	if visibility == "" {
		visibility = store.VisibilityPublic
	}

	tags := normalizeTags(in.Tags)
	if len(tags) == 0 && s.tagger != nil {
		suggested, err := s.tagger.SuggestTags(ctx, in.Name, in.Description)
		if err != nil {
			s.logger.Warn("tag suggestion failed", zap.String("name", in.Name), zap.Error(err))
		} else {
			tags = suggested
		}
	}

	m := &store.SharedModel{
		Name:        strings.TrimSpace(in.Name),
		Description: strings.TrimSpace(in.Description),
		OwnerID:     owner.UID,
		OwnerName:   ownerName(owner),
		Visibility:  visibility,
		ModelURL:    in.ModelURL,
		Tags:        tags,
	}
	if err := s.store.CreateModel(ctx, m); err != nil {
		return nil, fmt.Errorf("failed to share model: %w", err)
	}

	s.logger.Info("model shared",
		zap.String("model_id", m.ID),
		zap.String("owner_id", m.OwnerID),
		zap.String("visibility", string(m.Visibility)))
	return m, nil
}

func (s *ModelService) Update(ctx context.Context, caller *auth.Identity, id string, upd store.ModelUpdate) (*store.SharedModel, error) {
	existing, err := s.ownedModel(ctx, caller, id)
	if err != nil {
		return nil, err
	}
	if upd.Tags != nil {
		tags := normalizeTags(*upd.Tags)
		upd.Tags = &tags
	}
	if upd.Empty() {
		return existing, nil
	}

	m, err := s.store.UpdateModel(ctx, id, upd)
	if err != nil {
		return nil, fmt.Errorf("failed to update model %s: %w", id, err)
	}
	return m, nil
}

func (s *ModelService) Delete(ctx context.Context, caller *auth.Identity, id string) error {
	if _, err := s.ownedModel(ctx, caller, id); err != nil {
		return err
	}
	if err := s.store.DeleteModel(ctx, id); err != nil {
		return fmt.Errorf("failed to delete model %s: %w", id, err)
	}
	s.logger.Info("model deleted", zap.String("model_id", id), zap.String("owner_id", caller.UID))
	return nil
}

func (s *ModelService) ownedModel(ctx context.Context, caller *auth.Identity, id string) (*store.SharedModel, error) {
	m, err := s.store.GetModel(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load model %s: %w", id, err)
	}
	if m.OwnerID != caller.UID {
		return nil, ErrForbidden
	}
	return m, nil
}

func ownerName(id *auth.Identity) string {
	if id.DisplayName != "" {
		return id.DisplayName
	}
	return id.Email
}

func normalizeTags(in []string) []string {
	tags := make([]string, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, t := range in {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		tags = append(tags, t)
	}
	return tags
}
