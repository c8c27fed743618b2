package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/KeshavSoni17/halo-backend/internal/models"
	"github.com/KeshavSoni17/halo-backend/pkg/cache"
	"github.com/KeshavSoni17/halo-backend/pkg/errors"
	"github.com/KeshavSoni17/halo-backend/pkg/fieldcrypt"
	"github.com/KeshavSoni17/halo-backend/pkg/logger"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:store_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	return db
}

func newTestStore(t *testing.T) (*Store, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	cipher, err := fieldcrypt.New("store-test-key")
	require.NoError(t, err)

	templates := cache.New[models.Template](cache.Options{TTL: time.Minute})
	t.Cleanup(templates.Close)

	s := New(db, cipher, templates, logger.Discard())
	require.NoError(t, s.Migrate(context.Background()))
	return s, db
}

func seedUser(t *testing.T, s *Store) *models.User {
	t.Helper()
	ctx := context.Background()
	tmpl := &models.Template{Name: "SOAP", Instructions: "Write a SOAP note."}
	require.NoError(t, s.CreateTemplate(ctx, tmpl))

	user := &models.User{
		Name:              "Dr. Example",
		Email:             uuid.NewString() + "@example.com",
		Specialty:         "cardiology",
		DefaultTemplateID: tmpl.ID,
		DefaultLanguage:   "en",
	}
	require.NoError(t, s.CreateUser(ctx, user))
	return user
}

func TestCreateVisitUsesUserDefaultsAndBackReference(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	user := seedUser(t, s)

	visit, err := s.CreateVisit(ctx, user.ID)
	require.NoError(t, err)

	assert.Equal(t, models.StatusNotStarted, visit.Status)
	assert.Equal(t, models.DefaultVisitName, visit.Name)
	assert.Equal(t, user.DefaultTemplateID, visit.TemplateID)
	assert.Equal(t, "en", visit.Language)

	reloaded, err := s.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{visit.ID}, reloaded.VisitIDs)

	got, err := s.GetVisit(ctx, visit.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DefaultVisitName, got.Name)
}

func TestDeleteVisitMaintainsBackReference(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	user := seedUser(t, s)

	v1, err := s.CreateVisit(ctx, user.ID)
	require.NoError(t, err)
	v2, err := s.CreateVisit(ctx, user.ID)
	require.NoError(t, err)

	require.NoError(t, s.DeleteVisit(ctx, v1.ID, user.ID))

	reloaded, err := s.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{v2.ID}, reloaded.VisitIDs)

	_, err = s.GetVisit(ctx, v1.ID)
	assert.ErrorIs(t, err, errors.ErrNotFound)

	err = s.DeleteVisit(ctx, v2.ID, "someone-else")
	assert.ErrorIs(t, err, errors.ErrNotFound)
}

func TestUpdateVisitDurationIsMonotonic(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	user := seedUser(t, s)
	visit, err := s.CreateVisit(ctx, user.ID)
	require.NoError(t, err)

	updated, err := s.UpdateVisit(ctx, visit.ID, models.VisitUpdate{RecordingDuration: models.Ptr(42.5)})
	require.NoError(t, err)
	assert.Equal(t, 42.5, updated.RecordingDuration)

	updated, err = s.UpdateVisit(ctx, visit.ID, models.VisitUpdate{RecordingDuration: models.Ptr(10.0)})
	require.NoError(t, err)
	assert.Equal(t, 42.5, updated.RecordingDuration)
}

func TestUpdateVisitEncryptsClinicalText(t *testing.T) {
	s, db := newTestStore(t)
	ctx := context.Background()
	user := seedUser(t, s)
	visit, err := s.CreateVisit(ctx, user.ID)
	require.NoError(t, err)

	started := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	updated, err := s.UpdateVisit(ctx, visit.ID, models.VisitUpdate{
		Status:             models.Ptr(models.StatusRecording),
		RecordingStartedAt: &started,
		Transcript:         models.Ptr("[09:00:01] patient has a cough"),
		Name:               models.Ptr("Jane Roe"),
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusRecording, updated.Status)
	assert.Equal(t, "[09:00:01] patient has a cough", updated.Transcript)
	assert.Equal(t, "Jane Roe", updated.Name)
	require.NotNil(t, updated.RecordingStartedAt)
	assert.True(t, started.Equal(*updated.RecordingStartedAt))

	var raw models.Visit
	require.NoError(t, db.First(&raw, "id = ?", visit.ID).Error)
	assert.NotContains(t, raw.Transcript, "cough")
	assert.NotContains(t, raw.Name, "Jane")
}

func TestUpdateVisitNotFound(t *testing.T) {
	s, _ := newTestStore(t)

	_, err := s.UpdateVisit(context.Background(), "missing", models.VisitUpdate{Note: models.Ptr("x")})
	assert.ErrorIs(t, err, errors.ErrNotFound)
	assert.Equal(t, errors.CodeNotFound, errors.GetErrorCode(err))
}

func TestGetTemplateDecryptsAndCaches(t *testing.T) {
	s, db := newTestStore(t)
	ctx := context.Background()
	user := seedUser(t, s)

	tmpl, err := s.GetTemplate(ctx, user.DefaultTemplateID)
	require.NoError(t, err)
	assert.Equal(t, "Write a SOAP note.", tmpl.Instructions)

	// served from cache once the row is gone
	require.NoError(t, db.Delete(&models.Template{}, "id = ?", user.DefaultTemplateID).Error)
	tmpl, err = s.GetTemplate(ctx, user.DefaultTemplateID)
	require.NoError(t, err)
	assert.Equal(t, "Write a SOAP note.", tmpl.Instructions)

	_, err = s.GetTemplate(ctx, "missing")
	assert.ErrorIs(t, err, errors.ErrNotFound)
}
