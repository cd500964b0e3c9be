package repository

import (
	"time"

	"github.com/hexleylabs/keyhaven/app/models"
	"gorm.io/gorm"
)

// LicenseRepository defines the database operations for license records.
// Counter mutations are conditional updates: they report false instead of
// writing when the stored state no longer matches what the caller decided on.
type LicenseRepository interface {
	Create(license *models.License) error
	GetByKey(key string) (*models.License, error)
	GetByID(id uint) (*models.License, error)
	Update(license *models.License) error
	ListByEmail(email string) ([]models.License, error)
	CountByPaymentSessionID(sessionID string) (int64, error)
	Revoke(id uint) error

	// BindFirstDevice flips the never-activated license to its first bound
	// device. The is_activated=false guard makes concurrent first
	// activations collapse into exactly one winner.
	BindFirstDevice(id uint, deviceID string, now time.Time) (bool, error)

	// IncrementActivationCount adds one bind event, guarded by the count the
	// caller read (compare-and-swap against lost updates).
	IncrementActivationCount(id uint, expectedCount int) (bool, error)

	// ApplyTransfer rebinds a personal license to newDeviceID and writes the
	// new transfer counter, guarded by the previously read counter value.
	ApplyTransfer(id uint, newDeviceID string, newTransferCount int, expectedTransferCount int, now time.Time) (bool, error)
}

// DeviceActivationRepository defines per-device row operations used by
// multi-device plans.
type DeviceActivationRepository interface {
	Create(activation *models.DeviceActivation) error
	Get(licenseID uint, deviceID string) (*models.DeviceActivation, error)
	GetActive(licenseID uint, deviceID string) (*models.DeviceActivation, error)
	CountActive(licenseID uint) (int64, error)
	ListActive(licenseID uint) ([]models.DeviceActivation, error)
	TouchLastSeen(id uint, now time.Time) error
	Reactivate(id uint, label string, now time.Time) error
	Deactivate(licenseID uint, deviceID string) (bool, error)
}

// TrialRepository defines trial entitlement operations.
type TrialRepository interface {
	Create(trial *models.Trial) error
	GetByEmail(email string) (*models.Trial, error)
	GetByKey(key string) (*models.Trial, error)
	MarkConverted(email string, now time.Time) error
}

// WebhookLedgerRepository defines the idempotency ledger operations for the
// provisioning pipeline.
type WebhookLedgerRepository interface {
	CreateIfNotExists(entry *models.WebhookLedgerEntry) (bool, *models.WebhookLedgerEntry, error)
	MarkProcessed(id uint, processingError string) error
}

// Repositories aggregates all repository instances
type Repositories struct {
	License          LicenseRepository
	DeviceActivation DeviceActivationRepository
	Trial            TrialRepository
	WebhookLedger    WebhookLedgerRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		License:          NewLicenseRepository(db),
		DeviceActivation: NewDeviceActivationRepository(db),
		Trial:            NewTrialRepository(db),
		WebhookLedger:    NewWebhookLedgerRepository(db),
	}
}
