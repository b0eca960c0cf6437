package store

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupMongoStore connects to MONGODB_TEST_URI and uses a throwaway database.
func setupMongoStore(t *testing.T) *MongoStore {
	t.Helper()
	uri := os.Getenv("MONGODB_TEST_URI")
	if uri == "" {
		t.Skip("MONGODB_TEST_URI not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s, err := NewMongoStore(ctx, uri, "meshstudio_test_"+uuid.NewString()[:8])
	require.NoError(t, err)
	t.Cleanup(func() {
		s.db.Drop(context.Background())
		s.Close()
	})
	return s
}

func TestMongoStore_ModelLifecycle(t *testing.T) {
	s := setupMongoStore(t)
	ctx := context.Background()

	m := &SharedModel{Name: "Incisor", OwnerID: "u1", Visibility: VisibilityPublic, ModelURL: "https://x/i.glb"}
	require.NoError(t, s.CreateModel(ctx, m))
	require.NotEmpty(t, m.ID)
	assert.Equal(t, []string{}, m.Tags)

	desc := "Upper central"
	updated, err := s.UpdateModel(ctx, m.ID, ModelUpdate{Description: &desc})
	require.NoError(t, err)
	assert.Equal(t, "Incisor", updated.Name)
	assert.Equal(t, desc, updated.Description)

	public, err := s.ListPublicModels(ctx)
	require.NoError(t, err)
	require.Len(t, public, 1)
	assert.Equal(t, m.ID, public[0].ID)

	require.NoError(t, s.DeleteModel(ctx, m.ID))
	_, err = s.GetModel(ctx, m.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMongoStore_ProfileAndConsent(t *testing.T) {
	s := setupMongoStore(t)
	ctx := context.Background()

	_, err := s.GetProfile(ctx, "u1")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.SaveProfile(ctx, &UserProfile{UID: "u1", DisplayName: "Ada", ConsentStatus: ConsentPending}))
	require.NoError(t, s.SaveConsentForm(ctx, &ConsentForm{UserID: "u1", Email: "ada@example.com", Status: ConsentPending}))

	at := time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, s.UpdateConsentForm(ctx, "u1", ConsentCompleted, "https://survey", at))
	require.NoError(t, s.SetProfileConsent(ctx, "u1", ConsentCompleted, at))

	form, err := s.GetConsentForm(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, ConsentCompleted, form.Status)
	assert.Equal(t, "https://survey", form.SurveyLink)

	p, err := s.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, ConsentCompleted, p.ConsentStatus)
	require.NotNil(t, p.ConsentDate)
	assert.True(t, at.Equal(*p.ConsentDate))
}
