package activation

import (
	"errors"
	"log"
	"time"

	"github.com/hexleylabs/keyhaven/app/models"
	"github.com/hexleylabs/keyhaven/app/repository"
	"github.com/hexleylabs/keyhaven/internal/pkg/keycodec"
	"github.com/hexleylabs/keyhaven/internal/pkg/keylock"
	"github.com/hexleylabs/keyhaven/internal/pkg/signer"
	"gorm.io/gorm"
)

// retryAttempts bounds how often an operation re-reads after a conditional
// update lost against another instance. Within one process the key lock
// already serializes, so more than one retry is rare.
const retryAttempts = 3

// Service is the activation state machine plus the transfer limiter. It is
// request-scoped and stateless between calls; all durable state lives in the
// entitlement store.
type Service struct {
	licenses repository.LicenseRepository
	devices  repository.DeviceActivationRepository
	signer   *signer.Signer
	locks    *keylock.KeyLock
	now      func() time.Time
}

// NewService creates an activation service from injected repositories. The
// signer may be nil; activations then succeed without a license file.
func NewService(licenses repository.LicenseRepository, devices repository.DeviceActivationRepository, artifactSigner *signer.Signer) *Service {
	return &Service{
		licenses: licenses,
		devices:  devices,
		signer:   artifactSigner,
		locks:    keylock.New(),
		now:      time.Now,
	}
}

// NewServiceFromDB creates an activation service from a GORM DB handle.
func NewServiceFromDB(db *gorm.DB, artifactSigner *signer.Signer) *Service {
	repos := repository.NewRepositories(db)
	return NewService(repos.License, repos.DeviceActivation, artifactSigner)
}

// Activate runs the activation state machine for (licenseKey, deviceID).
// Evaluation order is fixed: malformed input, unknown key, revocation, first
// activation, then the plan-specific same/new-device decision. A personal
// license bound to a different device is never silently rebound here; the
// caller gets device_mismatch and must use Transfer.
func (s *Service) Activate(rawKey, deviceID, deviceLabel string) (*ActivateResult, error) {
	key := keycodec.Normalize(rawKey)
	if !keycodec.IsValidFormat(key) || keycodec.Resolve(key) == keycodec.Unknown {
		return &ActivateResult{Status: StatusInvalid}, nil
	}
	if !IsValidDeviceID(deviceID) {
		return &ActivateResult{Status: StatusInvalid}, nil
	}

	s.locks.Lock(key)
	defer s.locks.Unlock(key)

	for attempt := 0; attempt < retryAttempts; attempt++ {
		license, err := s.licenses.GetByKey(key)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return &ActivateResult{Status: StatusNotFound}, nil
			}
			return nil, err
		}
		if license.IsRevoked() {
			return &ActivateResult{Status: StatusRevoked}, nil
		}

		result, applied, err := s.evaluateActivation(license, deviceID, deviceLabel)
		if err != nil {
			return nil, err
		}
		if applied {
			return result, nil
		}
		// Conditional update lost against another writer; re-read and
		// run the state machine again on fresh state.
	}
	return nil, ErrConcurrentUpdate
}

// evaluateActivation decides and applies the outcome for an active license.
// The bool result reports whether the decision stuck; false means a guarded
// update found stale state.
func (s *Service) evaluateActivation(license *models.License, deviceID, deviceLabel string) (*ActivateResult, bool, error) {
	now := s.now()

	if !license.IsActivated {
		ok, err := s.licenses.BindFirstDevice(license.ID, deviceID, now)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			return nil, false, nil
		}
		if license.IsMultiDevice() {
			if err := s.registerDevice(license.ID, deviceID, deviceLabel, now); err != nil {
				return nil, false, err
			}
		}
		return s.activated(license.Key, deviceID, ModeFirstActivation), true, nil
	}

	if license.IsMultiDevice() {
		return s.evaluateFamilyActivation(license, deviceID, deviceLabel, now)
	}

	// Personal plan: idempotent reactivation on the bound device, explicit
	// transfer required for anything else. No mutation either way.
	if license.BoundTo(deviceID) {
		return s.buildResult(license, deviceID, ModeSameDevice), true, nil
	}
	return &ActivateResult{Status: StatusDeviceMismatch, RequiresTransfer: true}, true, nil
}

func (s *Service) evaluateFamilyActivation(license *models.License, deviceID, deviceLabel string, now time.Time) (*ActivateResult, bool, error) {
	active, err := s.devices.GetActive(license.ID, deviceID)
	if err == nil {
		// Known device checking in again; refresh last-seen, no counters.
		if err := s.devices.TouchLastSeen(active.ID, now); err != nil {
			return nil, false, err
		}
		return s.buildResult(license, deviceID, ModeSameDevice), true, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, err
	}

	count, err := s.devices.CountActive(license.ID)
	if err != nil {
		return nil, false, err
	}
	if count >= int64(license.MaxDevices) {
		return &ActivateResult{Status: StatusDeviceLimitReached}, true, nil
	}

	ok, err := s.licenses.IncrementActivationCount(license.ID, license.ActivationCount)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	if err := s.registerDevice(license.ID, deviceID, deviceLabel, now); err != nil {
		return nil, false, err
	}
	return s.activated(license.Key, deviceID, ModeNewDevice), true, nil
}

// registerDevice creates the per-device row, or re-enables the historical row
// when a previously deactivated device comes back.
func (s *Service) registerDevice(licenseID uint, deviceID, deviceLabel string, now time.Time) error {
	existing, err := s.devices.Get(licenseID, deviceID)
	if err == nil {
		return s.devices.Reactivate(existing.ID, deviceLabel, now)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	return s.devices.Create(&models.DeviceActivation{
		LicenseID:   licenseID,
		DeviceID:    deviceID,
		DeviceLabel: deviceLabel,
		IsActive:    true,
		ActivatedAt: now,
		LastSeenAt:  now,
	})
}

// activated reloads post-mutation state and wraps it in a success result.
func (s *Service) activated(key, deviceID string, mode Mode) *ActivateResult {
	license, err := s.licenses.GetByKey(key)
	if err != nil {
		// The mutation committed; losing the re-read only costs the
		// license file, not the activation.
		log.Printf("activation: reload of %s after %s failed: %v", key, mode, err)
		return &ActivateResult{Status: StatusActivated, Mode: mode}
	}
	return s.buildResult(license, deviceID, mode)
}

// buildResult signs the post-mutation state. Signing failure is non-fatal:
// the activation already succeeded, so the result just carries no license
// file and the failure is logged for operational follow-up.
func (s *Service) buildResult(license *models.License, deviceID string, mode Mode) *ActivateResult {
	return &ActivateResult{
		Status:      StatusActivated,
		Mode:        mode,
		LicenseFile: s.signLicense(license, deviceID),
	}
}

func (s *Service) signLicense(license *models.License, deviceID string) *signer.Artifact {
	if s.signer == nil {
		return nil
	}
	artifact, err := s.signer.Sign(signer.LicensePayload(license, deviceID))
	if err != nil {
		log.Printf("activation: signing license file for %s failed: %v", license.Key, err)
		return nil
	}
	return artifact
}

// Transfer rebinds a personal-plan license to a new device, subject to the
// rolling-window limit. This is the only path that moves a bound license.
func (s *Service) Transfer(rawKey, newDeviceID string) (*TransferResult, error) {
	key := keycodec.Normalize(rawKey)
	if !keycodec.IsValidFormat(key) || keycodec.Resolve(key) == keycodec.Unknown {
		return &TransferResult{Status: StatusInvalid}, nil
	}
	if !IsValidDeviceID(newDeviceID) {
		return &TransferResult{Status: StatusInvalid}, nil
	}

	s.locks.Lock(key)
	defer s.locks.Unlock(key)

	for attempt := 0; attempt < retryAttempts; attempt++ {
		license, err := s.licenses.GetByKey(key)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return &TransferResult{Status: StatusNotFound}, nil
			}
			return nil, err
		}
		if license.IsRevoked() {
			return &TransferResult{Status: StatusRevoked}, nil
		}
		if license.IsMultiDevice() || !license.IsActivated {
			// Family plans manage devices via deactivate/activate, and a
			// never-activated license has nothing to move.
			return &TransferResult{Status: StatusInvalid}, nil
		}
		if license.BoundTo(newDeviceID) {
			// Retried transfer to the already-bound device; idempotent.
			return &TransferResult{Status: StatusTransferred, LicenseFile: s.signLicense(license, newDeviceID)}, nil
		}

		now := s.now()
		newCount, allowed := nextTransferCount(license, now)
		if !allowed {
			return &TransferResult{Status: StatusTransferLimitReached}, nil
		}

		ok, err := s.licenses.ApplyTransfer(license.ID, newDeviceID, newCount, license.TransferCount, now)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}

		updated, err := s.licenses.GetByKey(key)
		if err != nil {
			log.Printf("activation: reload of %s after transfer failed: %v", key, err)
			return &TransferResult{Status: StatusTransferred}, nil
		}
		return &TransferResult{Status: StatusTransferred, LicenseFile: s.signLicense(updated, newDeviceID)}, nil
	}
	return nil, ErrConcurrentUpdate
}

// nextTransferCount applies the rolling-window policy. An expired window
// allows the transfer regardless of the stored count and starts a fresh
// window at 1; inside the window the count may grow up to MaxTransfers.
func nextTransferCount(license *models.License, now time.Time) (int, bool) {
	if license.LastTransferAt == nil || now.Sub(*license.LastTransferAt) > TransferWindow {
		return 1, true
	}
	if license.TransferCount < MaxTransfers {
		return license.TransferCount + 1, true
	}
	return 0, false
}

// Status returns a read-only snapshot for a license key.
func (s *Service) Status(rawKey string) (*StatusResult, error) {
	key := keycodec.Normalize(rawKey)
	if !keycodec.IsValidFormat(key) || keycodec.Resolve(key) == keycodec.Unknown {
		return &StatusResult{Valid: false}, nil
	}

	license, err := s.licenses.GetByKey(key)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return &StatusResult{Valid: false}, nil
		}
		return nil, err
	}

	return &StatusResult{
		Valid:           !license.IsRevoked(),
		ProductType:     license.ProductType,
		PlanType:        license.PlanType,
		IsActivated:     license.IsActivated,
		ActivationCount: license.ActivationCount,
		TransferCount:   license.TransferCount,
		MaxDevices:      license.MaxDevices,
	}, nil
}

// ListDevices returns the active device rows of a multi-device license.
func (s *Service) ListDevices(rawKey string) (*DeviceListResult, error) {
	license, err := s.loadForDeviceOps(rawKey)
	if err != nil {
		return nil, err
	}
	return s.deviceList(license)
}

// DeactivateDevice soft-removes one device, freeing a slot. The row stays
// around for history and is re-enabled if the device ever comes back.
func (s *Service) DeactivateDevice(rawKey, deviceID string) (*DeviceListResult, error) {
	if !IsValidDeviceID(deviceID) {
		return nil, ErrInvalidDeviceID
	}
	license, err := s.loadForDeviceOps(rawKey)
	if err != nil {
		return nil, err
	}

	s.locks.Lock(license.Key)
	defer s.locks.Unlock(license.Key)

	removed, err := s.devices.Deactivate(license.ID, deviceID)
	if err != nil {
		return nil, err
	}
	if !removed {
		return nil, ErrDeviceNotFound
	}
	return s.deviceList(license)
}

func (s *Service) loadForDeviceOps(rawKey string) (*models.License, error) {
	key := keycodec.Normalize(rawKey)
	if !keycodec.IsValidFormat(key) || keycodec.Resolve(key) == keycodec.Unknown {
		return nil, ErrInvalidKey
	}
	license, err := s.licenses.GetByKey(key)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrLicenseNotFound
		}
		return nil, err
	}
	if license.IsRevoked() {
		return nil, ErrLicenseRevoked
	}
	if !license.IsMultiDevice() {
		return nil, ErrNotFamilyPlan
	}
	return license, nil
}

func (s *Service) deviceList(license *models.License) (*DeviceListResult, error) {
	rows, err := s.devices.ListActive(license.ID)
	if err != nil {
		return nil, err
	}
	devices := make([]DeviceInfo, 0, len(rows))
	for _, row := range rows {
		devices = append(devices, DeviceInfo{
			DeviceID:    row.DeviceID,
			DeviceLabel: row.DeviceLabel,
			ActivatedAt: row.ActivatedAt,
			LastSeenAt:  row.LastSeenAt,
		})
	}
	return &DeviceListResult{
		Devices:     devices,
		DeviceCount: len(devices),
		MaxDevices:  license.MaxDevices,
	}, nil
}
