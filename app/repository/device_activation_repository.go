package repository

import (
	"time"

	"github.com/hexleylabs/keyhaven/app/models"
	"gorm.io/gorm"
)

// deviceActivationRepository implements the DeviceActivationRepository interface
type deviceActivationRepository struct {
	db *gorm.DB
}

// NewDeviceActivationRepository creates a new device activation repository instance
func NewDeviceActivationRepository(db *gorm.DB) DeviceActivationRepository {
	return &deviceActivationRepository{db: db}
}

func (r *deviceActivationRepository) Create(activation *models.DeviceActivation) error {
	return r.db.Create(activation).Error
}

// Get returns the row for a (license, device) pair regardless of active state.
func (r *deviceActivationRepository) Get(licenseID uint, deviceID string) (*models.DeviceActivation, error) {
	var activation models.DeviceActivation
	err := r.db.Where("license_id = ? AND device_id = ?", licenseID, deviceID).First(&activation).Error
	if err != nil {
		return nil, err
	}
	return &activation, nil
}

func (r *deviceActivationRepository) GetActive(licenseID uint, deviceID string) (*models.DeviceActivation, error) {
	var activation models.DeviceActivation
	err := r.db.Where("license_id = ? AND device_id = ? AND is_active = ?", licenseID, deviceID, true).
		First(&activation).Error
	if err != nil {
		return nil, err
	}
	return &activation, nil
}

func (r *deviceActivationRepository) CountActive(licenseID uint) (int64, error) {
	var count int64
	err := r.db.Model(&models.DeviceActivation{}).
		Where("license_id = ? AND is_active = ?", licenseID, true).
		Count(&count).Error
	return count, err
}

func (r *deviceActivationRepository) ListActive(licenseID uint) ([]models.DeviceActivation, error) {
	var activations []models.DeviceActivation
	err := r.db.Where("license_id = ? AND is_active = ?", licenseID, true).
		Order("activated_at ASC").
		Find(&activations).Error
	return activations, err
}

func (r *deviceActivationRepository) TouchLastSeen(id uint, now time.Time) error {
	return r.db.Model(&models.DeviceActivation{}).Where("id = ?", id).
		Update("last_seen_at", now).Error
}

// Reactivate re-enables a previously deactivated row for the same device.
// The unique (license_id, device_id) index means rebinding a known device
// reuses its row instead of inserting a duplicate.
func (r *deviceActivationRepository) Reactivate(id uint, label string, now time.Time) error {
	updates := map[string]interface{}{
		"is_active":    true,
		"activated_at": now,
		"last_seen_at": now,
	}
	if label != "" {
		updates["device_label"] = label
	}
	return r.db.Model(&models.DeviceActivation{}).Where("id = ?", id).Updates(updates).Error
}

// Deactivate soft-deletes the row; history is never removed.
func (r *deviceActivationRepository) Deactivate(licenseID uint, deviceID string) (bool, error) {
	tx := r.db.Model(&models.DeviceActivation{}).
		Where("license_id = ? AND device_id = ? AND is_active = ?", licenseID, deviceID, true).
		Update("is_active", false)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected == 1, nil
}
