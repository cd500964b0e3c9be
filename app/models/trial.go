package models

import "time"

// TrialDuration is how long a trial entitlement stays valid.
const TrialDuration = 14 * 24 * time.Hour

// Trial is a time-boxed, single-use entitlement keyed by email. It converts
// into a real License when a paid purchase is later matched to the same email.
type Trial struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	Key         string     `gorm:"type:varchar(19);not null;uniqueIndex:ux_trials_key" json:"key"`
	Email       string     `gorm:"type:varchar(200);not null;uniqueIndex:ux_trials_email" json:"email"`
	ProductType string     `gorm:"type:varchar(20);not null" json:"product_type"`
	StartDate   time.Time  `gorm:"type:timestamp;not null" json:"start_date"`
	ExpiresAt   time.Time  `gorm:"type:timestamp;not null;index" json:"expires_at"`
	IsConverted bool       `gorm:"not null;default:false;index" json:"is_converted"`
	ConvertedAt *time.Time `gorm:"type:timestamp;default:null" json:"converted_at,omitempty"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsExpired reports whether the trial window has passed at the given time.
func (t *Trial) IsExpired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}
