package activation

import (
	"sync"
	"time"

	"github.com/hexleylabs/keyhaven/app/models"
	"gorm.io/gorm"
)

// In-memory repositories with the same conditional-update semantics as the
// GORM implementations, so the state machine is exercised against the exact
// guard behavior it relies on.

type memLicenseRepo struct {
	mu     sync.Mutex
	byID   map[uint]*models.License
	nextID uint
	reads  int
}

func newMemLicenseRepo() *memLicenseRepo {
	return &memLicenseRepo{byID: make(map[uint]*models.License)}
}

func (r *memLicenseRepo) Create(license *models.License) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	license.ID = r.nextID
	stored := *license
	r.byID[license.ID] = &stored
	return nil
}

func (r *memLicenseRepo) GetByKey(key string) (*models.License, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reads++
	for _, l := range r.byID {
		if l.Key == key {
			copied := *l
			return &copied, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memLicenseRepo) GetByID(id uint) (*models.License, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.byID[id]; ok {
		copied := *l
		return &copied, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memLicenseRepo) Update(license *models.License) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := *license
	r.byID[license.ID] = &stored
	return nil
}

func (r *memLicenseRepo) ListByEmail(email string) ([]models.License, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.License
	for _, l := range r.byID {
		if l.CustomerEmail == email {
			out = append(out, *l)
		}
	}
	return out, nil
}

func (r *memLicenseRepo) CountByPaymentSessionID(sessionID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for _, l := range r.byID {
		if l.PaymentSessionID == sessionID {
			count++
		}
	}
	return count, nil
}

func (r *memLicenseRepo) Revoke(id uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.byID[id]; ok {
		l.Status = models.LicenseStatusRevoked
	}
	return nil
}

func (r *memLicenseRepo) BindFirstDevice(id uint, deviceID string, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.byID[id]
	if !ok || l.IsActivated || l.Status != models.LicenseStatusActive {
		return false, nil
	}
	device := deviceID
	activatedAt := now
	l.IsActivated = true
	l.BoundDeviceID = &device
	l.CurrentDeviceID = &device
	l.ActivatedAt = &activatedAt
	l.ActivationCount++
	return true, nil
}

func (r *memLicenseRepo) IncrementActivationCount(id uint, expectedCount int) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.byID[id]
	if !ok || l.ActivationCount != expectedCount {
		return false, nil
	}
	l.ActivationCount++
	return true, nil
}

func (r *memLicenseRepo) ApplyTransfer(id uint, newDeviceID string, newTransferCount int, expectedTransferCount int, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.byID[id]
	if !ok || l.TransferCount != expectedTransferCount || l.Status != models.LicenseStatusActive {
		return false, nil
	}
	device := newDeviceID
	transferredAt := now
	l.BoundDeviceID = &device
	l.CurrentDeviceID = &device
	l.TransferCount = newTransferCount
	l.LastTransferAt = &transferredAt
	l.ActivationCount++
	return true, nil
}

type deviceKey struct {
	licenseID uint
	deviceID  string
}

type memDeviceRepo struct {
	mu     sync.Mutex
	rows   map[deviceKey]*models.DeviceActivation
	nextID uint
}

func newMemDeviceRepo() *memDeviceRepo {
	return &memDeviceRepo{rows: make(map[deviceKey]*models.DeviceActivation)}
}

func (r *memDeviceRepo) Create(activation *models.DeviceActivation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	activation.ID = r.nextID
	stored := *activation
	r.rows[deviceKey{activation.LicenseID, activation.DeviceID}] = &stored
	return nil
}

func (r *memDeviceRepo) Get(licenseID uint, deviceID string) (*models.DeviceActivation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if row, ok := r.rows[deviceKey{licenseID, deviceID}]; ok {
		copied := *row
		return &copied, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memDeviceRepo) GetActive(licenseID uint, deviceID string) (*models.DeviceActivation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if row, ok := r.rows[deviceKey{licenseID, deviceID}]; ok && row.IsActive {
		copied := *row
		return &copied, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memDeviceRepo) CountActive(licenseID uint) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for _, row := range r.rows {
		if row.LicenseID == licenseID && row.IsActive {
			count++
		}
	}
	return count, nil
}

func (r *memDeviceRepo) ListActive(licenseID uint) ([]models.DeviceActivation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.DeviceActivation
	for _, row := range r.rows {
		if row.LicenseID == licenseID && row.IsActive {
			out = append(out, *row)
		}
	}
	return out, nil
}

func (r *memDeviceRepo) TouchLastSeen(id uint, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.ID == id {
			row.LastSeenAt = now
		}
	}
	return nil
}

func (r *memDeviceRepo) Reactivate(id uint, label string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range r.rows {
		if row.ID == id {
			row.IsActive = true
			row.ActivatedAt = now
			row.LastSeenAt = now
			if label != "" {
				row.DeviceLabel = label
			}
		}
	}
	return nil
}

func (r *memDeviceRepo) Deactivate(licenseID uint, deviceID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[deviceKey{licenseID, deviceID}]
	if !ok || !row.IsActive {
		return false, nil
	}
	row.IsActive = false
	return true, nil
}
