package repository

import (
	"time"

	"github.com/hexleylabs/keyhaven/app/models"
	"gorm.io/gorm"
)

// licenseRepository implements the LicenseRepository interface
type licenseRepository struct {
	db *gorm.DB
}

// NewLicenseRepository creates a new license repository instance
func NewLicenseRepository(db *gorm.DB) LicenseRepository {
	return &licenseRepository{db: db}
}

// Create creates a new license in the database
func (r *licenseRepository) Create(license *models.License) error {
	return r.db.Create(license).Error
}

// GetByKey retrieves a license by its key
func (r *licenseRepository) GetByKey(key string) (*models.License, error) {
	var license models.License
	err := r.db.Where("`key` = ?", key).First(&license).Error
	if err != nil {
		return nil, err
	}
	return &license, nil
}

// GetByID retrieves a license by its ID
func (r *licenseRepository) GetByID(id uint) (*models.License, error) {
	var license models.License
	err := r.db.First(&license, id).Error
	if err != nil {
		return nil, err
	}
	return &license, nil
}

// Update saves all license fields
func (r *licenseRepository) Update(license *models.License) error {
	return r.db.Save(license).Error
}

// ListByEmail returns all licenses owned by a customer email
func (r *licenseRepository) ListByEmail(email string) ([]models.License, error) {
	var licenses []models.License
	err := r.db.Where("customer_email = ?", email).Find(&licenses).Error
	return licenses, err
}

// CountByPaymentSessionID counts licenses already minted for a checkout session
func (r *licenseRepository) CountByPaymentSessionID(sessionID string) (int64, error) {
	var count int64
	err := r.db.Model(&models.License{}).Where("payment_session_id = ?", sessionID).Count(&count).Error
	return count, err
}

// Revoke flips the license status. Rows are never deleted so the audit
// history stays intact.
func (r *licenseRepository) Revoke(id uint) error {
	return r.db.Model(&models.License{}).Where("id = ?", id).
		Update("status", models.LicenseStatusRevoked).Error
}

func (r *licenseRepository) BindFirstDevice(id uint, deviceID string, now time.Time) (bool, error) {
	tx := r.db.Model(&models.License{}).
		Where("id = ? AND is_activated = ? AND status = ?", id, false, models.LicenseStatusActive).
		Updates(map[string]interface{}{
			"is_activated":      true,
			"bound_device_id":   deviceID,
			"current_device_id": deviceID,
			"activated_at":      now,
			"activation_count":  gorm.Expr("activation_count + 1"),
		})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected == 1, nil
}

func (r *licenseRepository) IncrementActivationCount(id uint, expectedCount int) (bool, error) {
	tx := r.db.Model(&models.License{}).
		Where("id = ? AND activation_count = ?", id, expectedCount).
		Update("activation_count", gorm.Expr("activation_count + 1"))
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected == 1, nil
}

func (r *licenseRepository) ApplyTransfer(id uint, newDeviceID string, newTransferCount int, expectedTransferCount int, now time.Time) (bool, error) {
	tx := r.db.Model(&models.License{}).
		Where("id = ? AND transfer_count = ? AND status = ?", id, expectedTransferCount, models.LicenseStatusActive).
		Updates(map[string]interface{}{
			"bound_device_id":   newDeviceID,
			"current_device_id": newDeviceID,
			"transfer_count":    newTransferCount,
			"last_transfer_at":  now,
			"activation_count":  gorm.Expr("activation_count + 1"),
		})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected == 1, nil
}
