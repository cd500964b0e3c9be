package activation

import (
	"errors"
	"regexp"
	"time"

	"github.com/hexleylabs/keyhaven/internal/pkg/signer"
)

// Transfer policy: at most MaxTransfers rebinds within a trailing
// TransferWindow measured from the last transfer.
const (
	MaxTransfers   = 3
	TransferWindow = 365 * 24 * time.Hour
)

// Status is the top-level result of an activation or transfer request.
// Policy rejections are statuses, not errors: they are expected business
// outcomes and never mutate state.
type Status string

const (
	StatusActivated            Status = "activated"
	StatusTransferred          Status = "transferred"
	StatusDeviceMismatch       Status = "device_mismatch"
	StatusDeviceLimitReached   Status = "device_limit_reached"
	StatusTransferLimitReached Status = "transfer_limit_reached"
	StatusRevoked              Status = "revoked"
	StatusNotFound             Status = "not_found"
	StatusInvalid              Status = "invalid"
)

// Mode says how an activation succeeded.
type Mode string

const (
	ModeFirstActivation Mode = "first_activation"
	ModeSameDevice      Mode = "same_device"
	ModeNewDevice       Mode = "new_device"
)

// ActivateResult is the outcome of an Activate call.
type ActivateResult struct {
	Status           Status           `json:"status"`
	Mode             Mode             `json:"mode,omitempty"`
	RequiresTransfer bool             `json:"requires_transfer,omitempty"`
	LicenseFile      *signer.Artifact `json:"license_file,omitempty"`
}

// TransferResult is the outcome of a Transfer call.
type TransferResult struct {
	Status      Status           `json:"status"`
	LicenseFile *signer.Artifact `json:"license_file,omitempty"`
}

// StatusResult is a read-only snapshot of a license.
type StatusResult struct {
	Valid           bool   `json:"valid"`
	ProductType     string `json:"product_type,omitempty"`
	PlanType        string `json:"plan_type,omitempty"`
	IsActivated     bool   `json:"is_activated"`
	ActivationCount int    `json:"activation_count"`
	TransferCount   int    `json:"transfer_count"`
	MaxDevices      int    `json:"max_devices"`
}

// DeviceInfo is one registered device of a family-plan license.
type DeviceInfo struct {
	DeviceID    string    `json:"device_id"`
	DeviceLabel string    `json:"device_label,omitempty"`
	ActivatedAt time.Time `json:"activated_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`
}

// DeviceListResult is the outcome of ListDevices and DeactivateDevice.
type DeviceListResult struct {
	Devices     []DeviceInfo `json:"devices,omitempty"`
	DeviceCount int          `json:"device_count"`
	MaxDevices  int          `json:"max_devices"`
}

// Domain errors for the device-management operations.
var (
	ErrInvalidKey       = errors.New("activation: malformed license key")
	ErrInvalidDeviceID  = errors.New("activation: malformed device fingerprint")
	ErrLicenseNotFound  = errors.New("activation: license not found")
	ErrLicenseRevoked   = errors.New("activation: license revoked")
	ErrNotFamilyPlan    = errors.New("activation: operation requires a multi-device plan")
	ErrDeviceNotFound   = errors.New("activation: device is not registered on this license")
	ErrConcurrentUpdate = errors.New("activation: conflicting concurrent update, retry")
)

// Device fingerprints are 32 lowercase hex characters as produced by the
// desktop clients. Anything else is rejected before any store access.
var deviceIDPattern = regexp.MustCompile(`^[a-f0-9]{32}$`)

// IsValidDeviceID reports whether id has the client fingerprint shape.
func IsValidDeviceID(id string) bool {
	return deviceIDPattern.MatchString(id)
}
