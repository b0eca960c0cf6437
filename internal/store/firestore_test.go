package store

import (
	"context"
	"os"
	"testing"
	"time"

	firebase "firebase.google.com/go/v4"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

// setupFirestoreStore talks to the emulator at FIRESTORE_EMULATOR_HOST. The
// emulator database is shared, so tests key their documents by a fresh id.
func setupFirestoreStore(t *testing.T) *FirestoreStore {
	t.Helper()
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}

	ctx := context.Background()
	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: "meshstudio-test"}, option.WithoutAuthentication())
	require.NoError(t, err)
	s, err := NewFirestoreStore(ctx, app)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestFirestoreStore_ModelLifecycle(t *testing.T) {
	s := setupFirestoreStore(t)
	ctx := context.Background()
	owner := "owner-" + uuid.NewString()

	m := &SharedModel{Name: "Premolar", OwnerID: owner, Visibility: VisibilityPublic, ModelURL: "https://x/p.glb"}
	require.NoError(t, s.CreateModel(ctx, m))
	require.NotEmpty(t, m.ID)
	assert.False(t, m.CreatedAt.IsZero())
	assert.Equal(t, []string{}, m.Tags)

	tags := []string{"premolar"}
	updated, err := s.UpdateModel(ctx, m.ID, ModelUpdate{Tags: &tags})
	require.NoError(t, err)
	assert.Equal(t, "Premolar", updated.Name)
	assert.Equal(t, tags, updated.Tags)

	public, err := s.ListPublicModels(ctx)
	require.NoError(t, err)
	var found bool
	for _, pm := range public {
		found = found || pm.ID == m.ID
	}
	assert.True(t, found, "shared public model is listed")

	require.NoError(t, s.DeleteModel(ctx, m.ID))
	_, err = s.GetModel(ctx, m.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	name := "gone"
	_, err = s.UpdateModel(ctx, m.ID, ModelUpdate{Name: &name})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFirestoreStore_ProfileAndConsent(t *testing.T) {
	s := setupFirestoreStore(t)
	ctx := context.Background()
	uid := "user-" + uuid.NewString()

	_, err := s.GetProfile(ctx, uid)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.SaveProfile(ctx, &UserProfile{UID: uid, DisplayName: "Ada", ConsentStatus: ConsentPending}))
	require.NoError(t, s.SaveConsentForm(ctx, &ConsentForm{UserID: uid, Email: "ada@example.com", Status: ConsentPending}))

	at := time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, s.UpdateConsentForm(ctx, uid, ConsentDeclined, "", at))
	require.NoError(t, s.SetProfileConsent(ctx, uid, ConsentDeclined, at))

	form, err := s.GetConsentForm(ctx, uid)
	require.NoError(t, err)
	assert.Equal(t, uid, form.UserID)
	assert.Equal(t, ConsentDeclined, form.Status)

	p, err := s.GetProfile(ctx, uid)
	require.NoError(t, err)
	assert.Equal(t, uid, p.UID)
	assert.Equal(t, "Ada", p.DisplayName)
	assert.Equal(t, ConsentDeclined, p.ConsentStatus)
	require.NotNil(t, p.ConsentDate)
	assert.True(t, at.Equal(*p.ConsentDate))
}
