// Package store persists visits, users and templates with gorm. Clinical
// text columns are sealed with a fieldcrypt.Cipher before they are written.
package store

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/KeshavSoni17/halo-backend/internal/models"
	"github.com/KeshavSoni17/halo-backend/pkg/cache"
	"github.com/KeshavSoni17/halo-backend/pkg/errors"
	"github.com/KeshavSoni17/halo-backend/pkg/fieldcrypt"
	"github.com/KeshavSoni17/halo-backend/pkg/logger"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Store is the gorm-backed record store
type Store struct {
	db        *gorm.DB
	cipher    fieldcrypt.Cipher
	templates *cache.Cache[models.Template]
	log       *logger.Logger
	now       func() time.Time
}

// New creates a store. templates may be nil to disable template caching.
func New(db *gorm.DB, cipher fieldcrypt.Cipher, templates *cache.Cache[models.Template], log *logger.Logger) *Store {
	if cipher == nil {
		cipher = fieldcrypt.Noop{}
	}
	return &Store{
		db:        db,
		cipher:    cipher,
		templates: templates,
		log:       log.WithComponent("store"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Migrate creates or updates the schema
func (s *Store) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(
		&models.User{},
		&models.Template{},
		&models.Visit{},
		&models.DailyStatistic{},
	)
}

// Ping checks database connectivity
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// GetVisit loads a visit by ID
func (s *Store) GetVisit(ctx context.Context, id string) (*models.Visit, error) {
	var visit models.Visit
	if err := s.db.WithContext(ctx).First(&visit, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "visit", id)
	}
	if err := s.openVisit(&visit); err != nil {
		return nil, err
	}
	return &visit, nil
}

// UpdateVisit applies the non-nil fields of upd and returns the stored visit.
// RecordingDuration never decreases: a smaller value leaves the stored one.
func (s *Store) UpdateVisit(ctx context.Context, id string, upd models.VisitUpdate) (*models.Visit, error) {
	var visit models.Visit

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.First(&visit, "id = ?", id).Error; err != nil {
			return notFound(err, "visit", id)
		}

		changes, err := s.visitChanges(&visit, upd)
		if err != nil {
			return err
		}
		if len(changes) == 0 {
			return nil
		}
		changes["modified_at"] = s.now()

		return tx.Model(&models.Visit{}).Where("id = ?", id).Updates(changes).Error
	})
	if err != nil {
		return nil, err
	}

	return s.GetVisit(ctx, id)
}

func (s *Store) visitChanges(current *models.Visit, upd models.VisitUpdate) (map[string]any, error) {
	changes := make(map[string]any)

	if upd.Status != nil {
		changes["status"] = string(*upd.Status)
	}
	if upd.RecordingStartedAt != nil {
		changes["recording_started_at"] = upd.RecordingStartedAt.UTC()
	}
	if upd.RecordingFinishedAt != nil {
		changes["recording_finished_at"] = upd.RecordingFinishedAt.UTC()
	}
	if upd.TemplateModifiedAt != nil {
		changes["template_modified_at"] = upd.TemplateModifiedAt.UTC()
	}
	if upd.RecordingDuration != nil && *upd.RecordingDuration > current.RecordingDuration {
		changes["recording_duration"] = *upd.RecordingDuration
	}

	sealed := []struct {
		column string
		value  *string
	}{
		{"name", upd.Name},
		{"additional_context", upd.AdditionalContext},
		{"transcript", upd.Transcript},
		{"note", upd.Note},
	}
	for _, f := range sealed {
		if f.value == nil {
			continue
		}
		enc, err := s.cipher.Encrypt(*f.value)
		if err != nil {
			return nil, fmt.Errorf("encrypt %s: %w", f.column, err)
		}
		changes[f.column] = enc
	}

	return changes, nil
}

// CreateVisit creates a NOT_STARTED visit for the user with their default
// template and language, and records it in the user's visit list.
func (s *Store) CreateVisit(ctx context.Context, userID string) (*models.Visit, error) {
	var visit models.Visit

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var user models.User
		if err := tx.First(&user, "id = ?", userID).Error; err != nil {
			return notFound(err, "user", userID)
		}

		name, err := s.cipher.Encrypt(models.DefaultVisitName)
		if err != nil {
			return fmt.Errorf("encrypt name: %w", err)
		}

		now := s.now()
		visit = models.Visit{
			ID:         uuid.NewString(),
			UserID:     user.ID,
			CreatedAt:  now,
			ModifiedAt: now,
			Status:     models.StatusNotStarted,
			Name:       name,
			TemplateID: user.DefaultTemplateID,
			Language:   user.DefaultLanguage,
		}
		if err := tx.Create(&visit).Error; err != nil {
			return err
		}

		user.VisitIDs = append(user.VisitIDs, visit.ID)
		return tx.Save(&user).Error
	})
	if err != nil {
		return nil, err
	}

	visit.Name = models.DefaultVisitName
	return &visit, nil
}

// DeleteVisit removes a visit owned by userID and drops it from the user's visit list
func (s *Store) DeleteVisit(ctx context.Context, id, userID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var visit models.Visit
		if err := tx.First(&visit, "id = ? AND user_id = ?", id, userID).Error; err != nil {
			return notFound(err, "visit", id)
		}
		if err := tx.Delete(&visit).Error; err != nil {
			return err
		}

		var user models.User
		if err := tx.First(&user, "id = ?", userID).Error; err != nil {
			return notFound(err, "user", userID)
		}

		kept := user.VisitIDs[:0]
		for _, vid := range user.VisitIDs {
			if vid != id {
				kept = append(kept, vid)
			}
		}
		user.VisitIDs = kept
		return tx.Save(&user).Error
	})
}

// GetUser loads a user by ID
func (s *Store) GetUser(ctx context.Context, id string) (*models.User, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "user", id)
	}
	return &user, nil
}

// CreateUser inserts a user
func (s *Store) CreateUser(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	return s.db.WithContext(ctx).Create(user).Error
}

// GetTemplate loads a template, serving repeated lookups from the cache
func (s *Store) GetTemplate(ctx context.Context, id string) (*models.Template, error) {
	if s.templates != nil {
		if t, ok := s.templates.Get(id); ok {
			return &t, nil
		}
	}

	var tmpl models.Template
	if err := s.db.WithContext(ctx).First(&tmpl, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "template", id)
	}

	instructions, err := s.cipher.Decrypt(tmpl.Instructions)
	if err != nil {
		return nil, fmt.Errorf("decrypt template %s: %w", id, err)
	}
	tmpl.Instructions = instructions

	if s.templates != nil {
		s.templates.Set(id, tmpl)
	}
	return &tmpl, nil
}

// CreateTemplate inserts a template
func (s *Store) CreateTemplate(ctx context.Context, tmpl *models.Template) error {
	if tmpl.ID == "" {
		tmpl.ID = uuid.NewString()
	}
	row := *tmpl
	enc, err := s.cipher.Encrypt(tmpl.Instructions)
	if err != nil {
		return fmt.Errorf("encrypt instructions: %w", err)
	}
	row.Instructions = enc
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return err
	}
	if s.templates != nil {
		s.templates.Delete(tmpl.ID)
	}
	return nil
}

func (s *Store) openVisit(v *models.Visit) error {
	fields := []*string{&v.Name, &v.AdditionalContext, &v.Transcript, &v.Note}
	for _, f := range fields {
		plain, err := s.cipher.Decrypt(*f)
		if err != nil {
			return fmt.Errorf("decrypt visit %s: %w", v.ID, err)
		}
		*f = plain
	}
	return nil
}

func notFound(err error, entity, id string) error {
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return errors.NewNotFoundError(entity, id)
	}
	return err
}
