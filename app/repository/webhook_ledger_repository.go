package repository

import (
	"time"

	"github.com/hexleylabs/keyhaven/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// webhookLedgerRepository implements the WebhookLedgerRepository interface
type webhookLedgerRepository struct {
	db *gorm.DB
}

// NewWebhookLedgerRepository creates a new webhook ledger repository instance
func NewWebhookLedgerRepository(db *gorm.DB) WebhookLedgerRepository {
	return &webhookLedgerRepository{db: db}
}

// CreateIfNotExists inserts the ledger entry unless one already exists for
// the same (provider, event id). The unique index makes the check-then-insert
// atomic, so concurrent webhook retries cannot both win.
func (r *webhookLedgerRepository) CreateIfNotExists(entry *models.WebhookLedgerEntry) (bool, *models.WebhookLedgerEntry, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(entry)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.WebhookLedgerEntry
	if err := r.db.Where("provider = ? AND provider_event_id = ?", entry.Provider, entry.ProviderEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *webhookLedgerRepository) MarkProcessed(id uint, processingError string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
	}
	return r.db.Model(&models.WebhookLedgerEntry{}).Where("id = ?", id).Updates(updates).Error
}
