package provisioning

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/hexleylabs/keyhaven/app/models"
	"github.com/hexleylabs/keyhaven/app/repository"
	"github.com/hexleylabs/keyhaven/internal/pkg/keycodec"
	"github.com/hexleylabs/keyhaven/internal/pkg/mail"
	"gorm.io/gorm"
)

// mintAttempts bounds retries when a freshly generated key collides with an
// existing row. With 15 characters of keyspace per key this is effectively
// never hit.
const mintAttempts = 3

// Service is the webhook-driven provisioning pipeline. Every delivery is
// recorded in the webhook ledger first; only the delivery that wins the
// ledger insert mints licenses, so at-least-once providers cannot cause
// double issuance.
type Service struct {
	licenses repository.LicenseRepository
	trials   repository.TrialRepository
	ledger   repository.WebhookLedgerRepository
	sendMail func(to, subject, body string) error
	now      func() time.Time
}

// NewService creates a provisioning service from injected repositories.
func NewService(licenses repository.LicenseRepository, trials repository.TrialRepository, ledger repository.WebhookLedgerRepository) *Service {
	return &Service{
		licenses: licenses,
		trials:   trials,
		ledger:   ledger,
		sendMail: mail.SendMail,
		now:      time.Now,
	}
}

// NewServiceFromDB creates a provisioning service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB) *Service {
	repos := repository.NewRepositories(db)
	return NewService(repos.License, repos.Trial, repos.WebhookLedger)
}

// HandlePurchaseEvent processes one purchase-completed delivery end to end:
// ledger insert, session-id guard, key minting per line item, trial
// conversion, delivery email. Duplicate deliveries return Duplicate=true and
// touch nothing.
func (s *Service) HandlePurchaseEvent(in PurchaseEvent) (*Result, error) {
	provider := strings.ToLower(strings.TrimSpace(in.Provider))
	if provider == "" {
		return nil, errors.New("provisioning: provider is required")
	}

	created, entry, err := s.recordEvent(provider, in)
	if err != nil {
		return nil, err
	}
	if !created {
		return &Result{Duplicate: true, LedgerID: entry.ID}, nil
	}

	result, processErr := s.provision(provider, in)
	if markErr := s.markProcessed(entry.ID, processErr); markErr != nil {
		log.Printf("provisioning: marking ledger entry %d processed failed: %v", entry.ID, markErr)
	}
	if processErr != nil {
		return nil, processErr
	}
	result.LedgerID = entry.ID
	return result, nil
}

// RecordOnly stores a delivery in the ledger without provisioning anything.
// Used for rejected signatures and event types the pipeline ignores, so the
// ledger stays a complete delivery history.
func (s *Service) RecordOnly(in PurchaseEvent, processErr error) error {
	provider := strings.ToLower(strings.TrimSpace(in.Provider))
	if provider == "" {
		return errors.New("provisioning: provider is required")
	}
	created, entry, err := s.recordEvent(provider, in)
	if err != nil {
		return err
	}
	if !created {
		return nil
	}
	return s.markProcessed(entry.ID, processErr)
}

// recordEvent inserts the ledger row. The unique (provider, event id) index
// makes this the atomic check-then-insert the idempotency guarantee rests on.
func (s *Service) recordEvent(provider string, in PurchaseEvent) (bool, *models.WebhookLedgerEntry, error) {
	return s.ledger.CreateIfNotExists(&models.WebhookLedgerEntry{
		Provider:        provider,
		ProviderEventID: eventKey(in),
		EventType:       strings.TrimSpace(in.EventType),
		PayloadJSON:     in.RawPayloadJSON,
		SignatureValid:  in.SignatureValid,
	})
}

// eventKey is the ledger dedup key for a delivery. Signature-rejected
// deliveries live in their own namespace and never consume the provider's
// event id: providers retry under the same id, and a retry that passes the
// signature check (say, after a secret misconfiguration is fixed) still has
// to provision.
func eventKey(in PurchaseEvent) string {
	id := strings.TrimSpace(in.EventID)
	if id == "" {
		sum := sha256.Sum256([]byte(in.RawPayloadJSON))
		id = "hash:" + hex.EncodeToString(sum[:])
	}
	if !in.SignatureValid {
		return "rejected:" + id
	}
	return id
}

func (s *Service) provision(provider string, in PurchaseEvent) (*Result, error) {
	sessionID := strings.TrimSpace(in.SessionID)
	if sessionID == "" {
		return nil, errors.New("provisioning: session id is required")
	}
	email := strings.ToLower(strings.TrimSpace(in.CustomerEmail))

	// Second guard: a provider may resend the same purchase under a fresh
	// event id. Existing rows for this session mean issuance already happened.
	count, err := s.licenses.CountByPaymentSessionID(sessionID)
	if err != nil {
		return nil, err
	}
	if count > 0 {
		return &Result{Duplicate: true}, nil
	}

	var minted []string
	for _, item := range in.LineItems {
		sku := strings.ToLower(strings.TrimSpace(item.SKU))
		b, ok := skuTable[sku]
		if !ok {
			log.Printf("provisioning: skipping unknown sku %q in session %s", item.SKU, sessionID)
			continue
		}
		if item.AmountCents < 0 {
			// Discount position.
			continue
		}
		quantity := item.Quantity
		if quantity < 1 {
			quantity = 1
		}

		for i := 0; i < quantity*b.Seats; i++ {
			key, err := s.mintLicense(b.Prefix, email, sessionID, provider)
			if err != nil {
				return nil, err
			}
			minted = append(minted, key)
		}
	}

	if len(minted) > 0 && email != "" {
		s.convertTrial(email)
		s.deliverKeys(email, minted)
	}
	return &Result{MintedKeys: minted}, nil
}

// mintLicense creates one License row. Every minted key is single-device; a
// family bundle is a set of keys, each independently bindable.
func (s *Service) mintLicense(prefix, email, sessionID, provider string) (string, error) {
	info := keycodec.PlanFromPrefix(prefix)
	if info == keycodec.Unknown {
		return "", fmt.Errorf("provisioning: unknown key prefix %q", prefix)
	}

	var lastErr error
	for attempt := 0; attempt < mintAttempts; attempt++ {
		key, err := keycodec.Generate(prefix)
		if err != nil {
			return "", err
		}
		license := &models.License{
			Key:              key,
			ProductType:      info.ProductType,
			PlanType:         info.PlanType,
			Status:           models.LicenseStatusActive,
			MaxDevices:       1,
			CustomerEmail:    email,
			PaymentSessionID: sessionID,
			PaymentProvider:  provider,
		}
		if err := s.licenses.Create(license); err != nil {
			// A key collision trips the unique index; redraw and retry.
			lastErr = err
			continue
		}
		return key, nil
	}
	return "", fmt.Errorf("provisioning: minting %s license failed: %w", prefix, lastErr)
}

// convertTrial marks any trial on the purchasing email as converted. A
// missing trial is the normal case and not an error.
func (s *Service) convertTrial(email string) {
	if _, err := s.trials.GetByEmail(email); err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			log.Printf("provisioning: trial lookup for %s failed: %v", email, err)
		}
		return
	}
	if err := s.trials.MarkConverted(email, s.now()); err != nil {
		log.Printf("provisioning: converting trial for %s failed: %v", email, err)
	}
}

// deliverKeys emails the minted keys. Delivery is best effort: the licenses
// exist either way and support can resend.
func (s *Service) deliverKeys(email string, keys []string) {
	var b strings.Builder
	b.WriteString("<p>Thank you for your purchase. Your license key")
	if len(keys) > 1 {
		b.WriteString("s are")
	} else {
		b.WriteString(" is")
	}
	b.WriteString(":</p><ul>")
	for _, key := range keys {
		b.WriteString("<li><code>")
		b.WriteString(key)
		b.WriteString("</code></li>")
	}
	b.WriteString("</ul><p>Each key activates one device. Keep this email for your records.</p>")

	if err := s.sendMail(email, "Your Hexley Labs license keys", b.String()); err != nil {
		log.Printf("provisioning: delivery email to %s failed: %v", email, err)
	}
}

func (s *Service) markProcessed(ledgerID uint, processErr error) error {
	errMsg := ""
	if processErr != nil {
		errMsg = processErr.Error()
	}
	return s.ledger.MarkProcessed(ledgerID, errMsg)
}
