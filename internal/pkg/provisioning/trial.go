package provisioning

import (
	"errors"
	"log"
	"strings"
	"time"

	"github.com/hexleylabs/keyhaven/app/models"
	"github.com/hexleylabs/keyhaven/app/repository"
	"github.com/hexleylabs/keyhaven/internal/pkg/keycodec"
	"github.com/hexleylabs/keyhaven/internal/pkg/signer"
	"gorm.io/gorm"
)

// ErrTrialExists is returned when an email already used its trial.
var ErrTrialExists = errors.New("provisioning: a trial for this email already exists")

// ErrInvalidEmail is returned for an empty or obviously unusable email.
var ErrInvalidEmail = errors.New("provisioning: a valid email is required")

// TrialResult carries the issued trial and its signed artifact for the
// requesting device.
type TrialResult struct {
	Key         string           `json:"key"`
	ExpiresAt   time.Time        `json:"expires_at"`
	LicenseFile *signer.Artifact `json:"license_file,omitempty"`
}

// TrialService issues time-boxed trial entitlements, one per email.
type TrialService struct {
	trials repository.TrialRepository
	signer *signer.Signer
	now    func() time.Time
}

// NewTrialService creates a trial service. The signer may be nil; trials are
// then issued without a license file.
func NewTrialService(trials repository.TrialRepository, artifactSigner *signer.Signer) *TrialService {
	return &TrialService{trials: trials, signer: artifactSigner, now: time.Now}
}

// NewTrialServiceFromDB creates a trial service from a GORM DB handle.
func NewTrialServiceFromDB(db *gorm.DB, artifactSigner *signer.Signer) *TrialService {
	return NewTrialService(repository.NewTrialRepository(db), artifactSigner)
}

// StartTrial issues a 14-day trial for email, signed for deviceID. The
// unique email index enforces one trial per email; a converted or expired
// trial does not reopen eligibility.
func (s *TrialService) StartTrial(email, deviceID string) (*TrialResult, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return nil, ErrInvalidEmail
	}

	if _, err := s.trials.GetByEmail(email); err == nil {
		return nil, ErrTrialExists
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	key, err := keycodec.Generate(keycodec.PrefixTrial)
	if err != nil {
		return nil, err
	}

	now := s.now()
	trial := &models.Trial{
		Key:         key,
		Email:       email,
		ProductType: keycodec.PlanFromPrefix(keycodec.PrefixTrial).ProductType,
		StartDate:   now,
		ExpiresAt:   now.Add(models.TrialDuration),
	}
	if err := s.trials.Create(trial); err != nil {
		// Lost a race on the unique email index.
		if _, lookupErr := s.trials.GetByEmail(email); lookupErr == nil {
			return nil, ErrTrialExists
		}
		return nil, err
	}

	return &TrialResult{
		Key:         trial.Key,
		ExpiresAt:   trial.ExpiresAt,
		LicenseFile: s.signTrial(trial, deviceID),
	}, nil
}

func (s *TrialService) signTrial(trial *models.Trial, deviceID string) *signer.Artifact {
	if s.signer == nil {
		return nil
	}
	artifact, err := s.signer.Sign(signer.TrialPayload(trial, deviceID))
	if err != nil {
		log.Printf("provisioning: signing trial file for %s failed: %v", trial.Key, err)
		return nil
	}
	return artifact
}
