package models

import "time"

// DeviceActivation is one (license, device) binding for multi-device plans.
// Rows are soft-deactivated, never deleted, so device history survives.
type DeviceActivation struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	LicenseID   uint      `gorm:"not null;index;uniqueIndex:ux_device_activations_license_device,priority:1" json:"license_id"`
	DeviceID    string    `gorm:"type:varchar(64);not null;uniqueIndex:ux_device_activations_license_device,priority:2" json:"device_id"`
	DeviceLabel string    `gorm:"type:varchar(150)" json:"device_label"`
	IsActive    bool      `gorm:"not null;default:true;index" json:"is_active"`
	ActivatedAt time.Time `gorm:"type:timestamp;not null" json:"activated_at"`
	LastSeenAt  time.Time `gorm:"type:timestamp;not null" json:"last_seen_at"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
