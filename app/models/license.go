package models

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	ProductNote    = "note"
	ProductDraw    = "draw"
	ProductUnknown = "unknown"
)

const (
	PlanPersonal        = "personal"
	PlanFamily          = "family"
	PlanProductPersonal = "product_personal"
	PlanProductFamily   = "product_family"
	PlanTrial           = "trial"
	PlanUnknown         = "unknown"
)

const (
	LicenseStatusActive  = "active"
	LicenseStatusRevoked = "revoked"
)

// License is the persisted entitlement record for one purchased seat.
// Personal plans bind at most one device at a time (rebinding goes through
// the transfer path); family plans track per-device rows up to MaxDevices.
type License struct {
	ID               uint       `gorm:"primaryKey" json:"id"`
	UUID             string     `gorm:"type:varchar(36);not null;uniqueIndex:ux_licenses_uuid" json:"uuid"`
	Key              string     `gorm:"type:varchar(19);not null;uniqueIndex:ux_licenses_key" json:"key"`
	ProductType      string     `gorm:"type:varchar(20);not null;index" json:"product_type"`
	PlanType         string     `gorm:"type:varchar(32);not null;index" json:"plan_type"`
	Status           string     `gorm:"type:varchar(20);not null;default:'active';index" json:"status"`
	IsActivated      bool       `gorm:"not null;default:false" json:"is_activated"`
	BoundDeviceID    *string    `gorm:"type:varchar(64);default:null" json:"bound_device_id,omitempty"`
	CurrentDeviceID  *string    `gorm:"type:varchar(64);default:null" json:"current_device_id,omitempty"`
	MaxDevices       int        `gorm:"not null;default:1" json:"max_devices"`
	ActivationCount  int        `gorm:"not null;default:0" json:"activation_count"`
	TransferCount    int        `gorm:"not null;default:0" json:"transfer_count"`
	LastTransferAt   *time.Time `gorm:"type:timestamp;default:null" json:"last_transfer_at,omitempty"`
	ActivatedAt      *time.Time `gorm:"type:timestamp;default:null" json:"activated_at,omitempty"`
	CustomerEmail    string     `gorm:"type:varchar(200);index" json:"customer_email" validate:"omitempty,email,max=200"`
	PaymentSessionID string     `gorm:"type:varchar(191);index" json:"payment_session_id"`
	PaymentProvider  string     `gorm:"type:varchar(20)" json:"payment_provider"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// BeforeCreate assigns the public UUID support tooling references instead of
// the key itself.
func (l *License) BeforeCreate(tx *gorm.DB) error {
	if l.UUID == "" {
		l.UUID = uuid.New().String()
	}
	return nil
}

func (l *License) Validate() error {
	v := validator.New()

	return v.Struct(l)
}

// IsRevoked reports whether the license has been administratively disabled.
func (l *License) IsRevoked() bool {
	return l.Status == LicenseStatusRevoked
}

// IsMultiDevice reports whether the license tracks per-device rows instead of
// a single bound device.
func (l *License) IsMultiDevice() bool {
	return l.MaxDevices > 1
}

// BoundTo reports whether deviceID matches the currently bound device. Some
// older rows only populated CurrentDeviceID, so both fields are checked.
func (l *License) BoundTo(deviceID string) bool {
	if l.BoundDeviceID != nil && *l.BoundDeviceID == deviceID {
		return true
	}
	return l.CurrentDeviceID != nil && *l.CurrentDeviceID == deviceID
}
