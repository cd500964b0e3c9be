package provisioning

import (
	"strings"
	"sync"
	"time"

	"github.com/hexleylabs/keyhaven/app/models"
	"gorm.io/gorm"
)

type memLicenseRepo struct {
	mu     sync.Mutex
	byID   map[uint]*models.License
	nextID uint
}

func newMemLicenseRepo() *memLicenseRepo {
	return &memLicenseRepo{byID: make(map[uint]*models.License)}
}

func (r *memLicenseRepo) Create(license *models.License) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, l := range r.byID {
		if l.Key == license.Key {
			return gorm.ErrDuplicatedKey
		}
	}
	r.nextID++
	license.ID = r.nextID
	stored := *license
	r.byID[license.ID] = &stored
	return nil
}

func (r *memLicenseRepo) GetByKey(key string) (*models.License, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
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
	return false, nil
}

func (r *memLicenseRepo) IncrementActivationCount(id uint, expectedCount int) (bool, error) {
	return false, nil
}

func (r *memLicenseRepo) ApplyTransfer(id uint, newDeviceID string, newTransferCount int, expectedTransferCount int, now time.Time) (bool, error) {
	return false, nil
}

func (r *memLicenseRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

type memTrialRepo struct {
	mu      sync.Mutex
	byEmail map[string]*models.Trial
	nextID  uint
}

func newMemTrialRepo() *memTrialRepo {
	return &memTrialRepo{byEmail: make(map[string]*models.Trial)}
}

func (r *memTrialRepo) Create(trial *models.Trial) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	email := strings.ToLower(trial.Email)
	if _, ok := r.byEmail[email]; ok {
		return gorm.ErrDuplicatedKey
	}
	r.nextID++
	trial.ID = r.nextID
	stored := *trial
	r.byEmail[email] = &stored
	return nil
}

func (r *memTrialRepo) GetByEmail(email string) (*models.Trial, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.byEmail[strings.ToLower(email)]; ok {
		copied := *t
		return &copied, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memTrialRepo) GetByKey(key string) (*models.Trial, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.byEmail {
		if t.Key == key {
			copied := *t
			return &copied, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memTrialRepo) MarkConverted(email string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.byEmail[strings.ToLower(email)]; ok && !t.IsConverted {
		t.IsConverted = true
		converted := now
		t.ConvertedAt = &converted
	}
	return nil
}

type ledgerKey struct {
	provider string
	eventID  string
}

type memLedgerRepo struct {
	mu      sync.Mutex
	entries map[ledgerKey]*models.WebhookLedgerEntry
	nextID  uint
}

func newMemLedgerRepo() *memLedgerRepo {
	return &memLedgerRepo{entries: make(map[ledgerKey]*models.WebhookLedgerEntry)}
}

func (r *memLedgerRepo) CreateIfNotExists(entry *models.WebhookLedgerEntry) (bool, *models.WebhookLedgerEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := ledgerKey{entry.Provider, entry.ProviderEventID}
	if existing, ok := r.entries[k]; ok {
		copied := *existing
		return false, &copied, nil
	}
	r.nextID++
	entry.ID = r.nextID
	stored := *entry
	r.entries[k] = &stored
	copied := stored
	return true, &copied, nil
}

func (r *memLedgerRepo) MarkProcessed(id uint, processingError string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.ID == id {
			now := time.Now()
			e.ProcessedAt = &now
			e.ProcessingError = processingError
		}
	}
	return nil
}

func (r *memLedgerRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
