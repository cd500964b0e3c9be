package activation

import (
	"testing"
	"time"

	"github.com/hexleylabs/keyhaven/app/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setClock pins the service clock to a fixed instant.
func (f *fixture) setClock(at time.Time) {
	f.service.now = func() time.Time { return at }
}

func TestTransferRollingWindow(t *testing.T) {
	f := newFixture(t)
	f.seedLicense(t, "HXPE-AB2C-DE3F-GH4J", models.PlanPersonal, 1)

	epoch := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	f.setClock(epoch)

	_, err := f.service.Activate("HXPE-AB2C-DE3F-GH4J", deviceA, "")
	require.NoError(t, err)

	// Three transfers inside the window use up the allowance.
	steps := []struct {
		day    int
		device string
		count  int
	}{
		{0, deviceB, 1},
		{10, deviceC, 2},
		{20, deviceD, 3},
	}
	for _, step := range steps {
		f.setClock(epoch.AddDate(0, 0, step.day))
		result, err := f.service.Transfer("HXPE-AB2C-DE3F-GH4J", step.device)
		require.NoError(t, err)
		assert.Equal(t, StatusTransferred, result.Status, "day %d", step.day)
		require.NotNil(t, result.LicenseFile)
		assert.Equal(t, step.count, result.LicenseFile.Payload.TransferCount)
	}

	// The fourth attempt inside the window is refused without mutation.
	f.setClock(epoch.AddDate(0, 0, 30))
	before, err := f.licenses.GetByKey("HXPE-AB2C-DE3F-GH4J")
	require.NoError(t, err)

	result, err := f.service.Transfer("HXPE-AB2C-DE3F-GH4J", deviceA)
	require.NoError(t, err)
	assert.Equal(t, StatusTransferLimitReached, result.Status)
	assert.Nil(t, result.LicenseFile)

	after, err := f.licenses.GetByKey("HXPE-AB2C-DE3F-GH4J")
	require.NoError(t, err)
	assert.Equal(t, before, after)

	// Day 400: more than a year since the last transfer on day 20, so the
	// window expired and the counter restarts at 1.
	f.setClock(epoch.AddDate(0, 0, 400))
	result, err = f.service.Transfer("HXPE-AB2C-DE3F-GH4J", deviceA)
	require.NoError(t, err)
	assert.Equal(t, StatusTransferred, result.Status)
	require.NotNil(t, result.LicenseFile)
	assert.Equal(t, 1, result.LicenseFile.Payload.TransferCount)

	stored, err := f.licenses.GetByKey("HXPE-AB2C-DE3F-GH4J")
	require.NoError(t, err)
	assert.Equal(t, 1, stored.TransferCount)
	require.NotNil(t, stored.BoundDeviceID)
	assert.Equal(t, deviceA, *stored.BoundDeviceID)
}

func TestTransferRebindsAndSigns(t *testing.T) {
	f := newFixture(t)
	f.seedLicense(t, "HNPE-AB2C-DE3F-GH4J", models.PlanProductPersonal, 1)

	_, err := f.service.Activate("HNPE-AB2C-DE3F-GH4J", deviceA, "")
	require.NoError(t, err)

	result, err := f.service.Transfer("HNPE-AB2C-DE3F-GH4J", deviceB)
	require.NoError(t, err)
	assert.Equal(t, StatusTransferred, result.Status)
	require.NotNil(t, result.LicenseFile)
	assert.Equal(t, deviceB, result.LicenseFile.Payload.DeviceID)
	assert.NotNil(t, result.LicenseFile.Payload.LastTransferAt)

	stored, err := f.licenses.GetByKey("HNPE-AB2C-DE3F-GH4J")
	require.NoError(t, err)
	require.NotNil(t, stored.BoundDeviceID)
	assert.Equal(t, deviceB, *stored.BoundDeviceID)
	assert.Equal(t, 2, stored.ActivationCount, "a transfer is a bind event")
}

func TestTransferToBoundDeviceIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.seedLicense(t, "HXPE-AB2C-DE3F-GH4J", models.PlanPersonal, 1)

	_, err := f.service.Activate("HXPE-AB2C-DE3F-GH4J", deviceA, "")
	require.NoError(t, err)
	_, err = f.service.Transfer("HXPE-AB2C-DE3F-GH4J", deviceB)
	require.NoError(t, err)

	before, err := f.licenses.GetByKey("HXPE-AB2C-DE3F-GH4J")
	require.NoError(t, err)

	// A retried transfer to the already-bound device must not burn a slot
	// from the allowance.
	result, err := f.service.Transfer("HXPE-AB2C-DE3F-GH4J", deviceB)
	require.NoError(t, err)
	assert.Equal(t, StatusTransferred, result.Status)
	assert.NotNil(t, result.LicenseFile)

	after, err := f.licenses.GetByKey("HXPE-AB2C-DE3F-GH4J")
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestTransferRejectsFamilyAndUnactivated(t *testing.T) {
	f := newFixture(t)
	f.seedLicense(t, "HXFA-AB2C-DE3F-GH4J", models.PlanFamily, 5)
	f.seedLicense(t, "HXPE-AB2C-DE3F-GH4J", models.PlanPersonal, 1)

	// Family plans manage devices through deactivation, never transfer.
	_, err := f.service.Activate("HXFA-AB2C-DE3F-GH4J", deviceA, "")
	require.NoError(t, err)
	result, err := f.service.Transfer("HXFA-AB2C-DE3F-GH4J", deviceB)
	require.NoError(t, err)
	assert.Equal(t, StatusInvalid, result.Status)

	// A never-activated license has nothing to move.
	result, err = f.service.Transfer("HXPE-AB2C-DE3F-GH4J", deviceB)
	require.NoError(t, err)
	assert.Equal(t, StatusInvalid, result.Status)
}

func TestTransferRejectsRevokedAndUnknown(t *testing.T) {
	f := newFixture(t)
	license := f.seedLicense(t, "HXPE-AB2C-DE3F-GH4J", models.PlanPersonal, 1)
	_, err := f.service.Activate("HXPE-AB2C-DE3F-GH4J", deviceA, "")
	require.NoError(t, err)
	require.NoError(t, f.licenses.Revoke(license.ID))

	result, err := f.service.Transfer("HXPE-AB2C-DE3F-GH4J", deviceB)
	require.NoError(t, err)
	assert.Equal(t, StatusRevoked, result.Status)

	result, err = f.service.Transfer("HXPE-ZZ9Z-ZZ9Z-ZZ9Z", deviceB)
	require.NoError(t, err)
	assert.Equal(t, StatusNotFound, result.Status)

	result, err = f.service.Transfer("not-a-key", deviceB)
	require.NoError(t, err)
	assert.Equal(t, StatusInvalid, result.Status)

	result, err = f.service.Transfer("HXPE-AB2C-DE3F-GH4J", "not-a-fingerprint")
	require.NoError(t, err)
	assert.Equal(t, StatusInvalid, result.Status)
}

func TestNextTransferCount(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	recent := now.Add(-30 * 24 * time.Hour)
	stale := now.Add(-366 * 24 * time.Hour)

	tests := []struct {
		name      string
		last      *time.Time
		count     int
		wantCount int
		wantOK    bool
	}{
		{"never transferred", nil, 0, 1, true},
		{"inside window below limit", &recent, 2, 3, true},
		{"inside window at limit", &recent, 3, 0, false},
		{"expired window resets", &stale, 3, 1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			license := &models.License{TransferCount: tt.count, LastTransferAt: tt.last}
			got, ok := nextTransferCount(license, now)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.wantCount, got)
		})
	}
}
