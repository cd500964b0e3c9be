package signer

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hexleylabs/keyhaven/app/models"
	"github.com/hexleylabs/keyhaven/internal/pkg/env"
	"golang.org/x/crypto/pbkdf2"
)

// Payload is the field set embedded in an offline license file. The client
// verifies the signature with the public key and then trusts these fields
// without any server contact, so names and types are a compatibility
// surface and must not change without versioning.
type Payload struct {
	LicenseKey     string     `json:"license_key"`
	DeviceID       string     `json:"device_id"`
	PlanType       string     `json:"plan_type"`
	MaxDevices     int        `json:"max_devices"`
	ActivatedAt    *time.Time `json:"activated_at,omitempty"`
	ProductType    string     `json:"product_type"`
	TransferCount  int        `json:"transfer_count"`
	LastTransferAt *time.Time `json:"last_transfer_at,omitempty"`

	// Trial artifacts carry a validity window instead of an activation time.
	StartDate *time.Time `json:"start_date,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Artifact is a signed, self-contained license file.
type Artifact struct {
	Payload   Payload   `json:"payload"`
	Signature string    `json:"signature"`
	SignedAt  time.Time `json:"signed_at"`
}

// Signer signs license payloads with a server-held Ed25519 key. It never
// touches the entitlement store; signing is a pure function of payload + key.
type Signer struct {
	privateKey ed25519.PrivateKey
}

// New creates a signer from an Ed25519 private key.
func New(privateKey ed25519.PrivateKey) (*Signer, error) {
	if len(privateKey) != ed25519.PrivateKeySize {
		return nil, errors.New("signer: private key must be an ed25519 private key")
	}
	return &Signer{privateKey: privateKey}, nil
}

// NewFromEnv builds a signer from the base64-encoded 32-byte seed in
// LICENSE_SIGNING_KEY, or derives one from LICENSE_SIGNING_PASSPHRASE when no
// seed is configured (dev/test convenience; production sets the real seed).
func NewFromEnv() (*Signer, error) {
	if encoded := env.GetEnv("LICENSE_SIGNING_KEY", ""); encoded != "" {
		seed, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, fmt.Errorf("signer: decode LICENSE_SIGNING_KEY: %w", err)
		}
		if len(seed) != ed25519.SeedSize {
			return nil, fmt.Errorf("signer: LICENSE_SIGNING_KEY must decode to %d bytes", ed25519.SeedSize)
		}
		return New(ed25519.NewKeyFromSeed(seed))
	}
	if passphrase := env.GetEnv("LICENSE_SIGNING_PASSPHRASE", ""); passphrase != "" {
		return New(ed25519.NewKeyFromSeed(SeedFromPassphrase(passphrase)))
	}
	return nil, errors.New("signer: neither LICENSE_SIGNING_KEY nor LICENSE_SIGNING_PASSPHRASE is set")
}

// SeedFromPassphrase stretches a passphrase into a deterministic Ed25519
// seed. The salt is fixed so the same passphrase always yields the same
// verification key across restarts.
func SeedFromPassphrase(passphrase string) []byte {
	return pbkdf2.Key([]byte(passphrase), []byte("keyhaven/license-signing/v1"), 210_000, ed25519.SeedSize, sha256.New)
}

// PublicKey returns the verification key matching the signing key.
func (s *Signer) PublicKey() ed25519.PublicKey {
	return s.privateKey.Public().(ed25519.PublicKey)
}

// Sign serializes the payload canonically and signs it.
func (s *Signer) Sign(payload Payload) (*Artifact, error) {
	normalizePayloadTimes(&payload)
	canonical, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("signer: marshal payload: %w", err)
	}
	sig := ed25519.Sign(s.privateKey, canonical)
	return &Artifact{
		Payload:   payload,
		Signature: base64.StdEncoding.EncodeToString(sig),
		SignedAt:  time.Now().UTC(),
	}, nil
}

// Verify checks an artifact's signature against the given public key. This
// mirrors what the desktop client does offline.
func Verify(publicKey ed25519.PublicKey, artifact *Artifact) bool {
	if artifact == nil {
		return false
	}
	payload := artifact.Payload
	normalizePayloadTimes(&payload)
	canonical, err := json.Marshal(payload)
	if err != nil {
		return false
	}
	sig, err := base64.StdEncoding.DecodeString(artifact.Signature)
	if err != nil {
		return false
	}
	return ed25519.Verify(publicKey, canonical, sig)
}

// LicensePayload builds the payload for a paid license bound to deviceID.
func LicensePayload(license *models.License, deviceID string) Payload {
	return Payload{
		LicenseKey:     license.Key,
		DeviceID:       deviceID,
		PlanType:       license.PlanType,
		MaxDevices:     license.MaxDevices,
		ActivatedAt:    license.ActivatedAt,
		ProductType:    license.ProductType,
		TransferCount:  license.TransferCount,
		LastTransferAt: license.LastTransferAt,
	}
}

// TrialPayload builds the payload for a trial entitlement; the validity
// window replaces the activation timestamp.
func TrialPayload(trial *models.Trial, deviceID string) Payload {
	start := trial.StartDate
	expires := trial.ExpiresAt
	return Payload{
		LicenseKey:  trial.Key,
		DeviceID:    deviceID,
		PlanType:    models.PlanTrial,
		MaxDevices:  1,
		ProductType: trial.ProductType,
		StartDate:   &start,
		ExpiresAt:   &expires,
	}
}

// Timestamps are truncated to whole seconds in UTC so the canonical JSON a
// verifier rebuilds from the decoded payload is byte-identical to what was
// signed.
func normalizePayloadTimes(p *Payload) {
	p.ActivatedAt = normalizeTime(p.ActivatedAt)
	p.LastTransferAt = normalizeTime(p.LastTransferAt)
	p.StartDate = normalizeTime(p.StartDate)
	p.ExpiresAt = normalizeTime(p.ExpiresAt)
}

func normalizeTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	n := t.UTC().Truncate(time.Second)
	return &n
}
