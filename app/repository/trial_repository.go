package repository

import (
	"strings"
	"time"

	"github.com/hexleylabs/keyhaven/app/models"
	"gorm.io/gorm"
)

// trialRepository implements the TrialRepository interface
type trialRepository struct {
	db *gorm.DB
}

// NewTrialRepository creates a new trial repository instance
func NewTrialRepository(db *gorm.DB) TrialRepository {
	return &trialRepository{db: db}
}

func (r *trialRepository) Create(trial *models.Trial) error {
	trial.Email = strings.ToLower(strings.TrimSpace(trial.Email))
	return r.db.Create(trial).Error
}

func (r *trialRepository) GetByEmail(email string) (*models.Trial, error) {
	var trial models.Trial
	err := r.db.Where("email = ?", strings.ToLower(strings.TrimSpace(email))).First(&trial).Error
	if err != nil {
		return nil, err
	}
	return &trial, nil
}

func (r *trialRepository) GetByKey(key string) (*models.Trial, error) {
	var trial models.Trial
	err := r.db.Where("`key` = ?", key).First(&trial).Error
	if err != nil {
		return nil, err
	}
	return &trial, nil
}

// MarkConverted flags the trial for an email as converted to a paid license.
// Missing trials are a no-op, not an error.
func (r *trialRepository) MarkConverted(email string, now time.Time) error {
	return r.db.Model(&models.Trial{}).
		Where("email = ? AND is_converted = ?", strings.ToLower(strings.TrimSpace(email)), false).
		Updates(map[string]interface{}{
			"is_converted": true,
			"converted_at": now,
		}).Error
}
