package controllers

import (
	"errors"
	"log"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/hexleylabs/keyhaven/internal/pkg/activation"
	"github.com/hexleylabs/keyhaven/internal/pkg/database"
	"github.com/hexleylabs/keyhaven/internal/pkg/signer"
)

var validate = validator.New()

var (
	signerOnce     sync.Once
	artifactSigner *signer.Signer
)

// licenseSigner loads the signing key once. A missing key is logged and the
// API keeps serving; activations then return no license file.
func licenseSigner() *signer.Signer {
	signerOnce.Do(func() {
		s, err := signer.NewFromEnv()
		if err != nil {
			log.Printf("license signer unavailable: %v", err)
			return
		}
		artifactSigner = s
	})
	return artifactSigner
}

var (
	activationOnce sync.Once
	activationSvc  *activation.Service
)

// activationService returns the process-wide activation service. A single
// instance serves every request so its per-key locks actually serialize
// concurrent work on the same license.
func activationService() *activation.Service {
	activationOnce.Do(func() {
		activationSvc = activation.NewServiceFromDB(database.GetDB(), licenseSigner())
	})
	return activationSvc
}

type activateRequest struct {
	LicenseKey  string `json:"license_key" validate:"required,max=40"`
	DeviceID    string `json:"device_id" validate:"required,len=32"`
	DeviceLabel string `json:"device_label" validate:"omitempty,max=100"`
}

type transferRequest struct {
	LicenseKey  string `json:"license_key" validate:"required,max=40"`
	NewDeviceID string `json:"new_device_id" validate:"required,len=32"`
}

type deactivateDeviceRequest struct {
	DeviceID string `json:"device_id" validate:"required,len=32"`
}

// HandleActivateLicense runs the activation state machine for one
// (key, device) pair and maps the outcome to an HTTP status.
func HandleActivateLicense(c *fiber.Ctx) error {
	var req activateRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid JSON body")
	}
	if err := validate.Struct(req); err != nil {
		return badRequest(c, "license_key and a 32-character device_id are required")
	}

	result, err := activationService().Activate(req.LicenseKey, req.DeviceID, req.DeviceLabel)
	if err != nil {
		return serviceError(c, "activation failed", err)
	}
	return c.Status(activateHTTPStatus(result.Status)).JSON(result)
}

// HandleTransferLicense rebinds a personal license to a new device.
func HandleTransferLicense(c *fiber.Ctx) error {
	var req transferRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid JSON body")
	}
	if err := validate.Struct(req); err != nil {
		return badRequest(c, "license_key and a 32-character new_device_id are required")
	}

	result, err := activationService().Transfer(req.LicenseKey, req.NewDeviceID)
	if err != nil {
		return serviceError(c, "transfer failed", err)
	}
	return c.Status(transferHTTPStatus(result.Status)).JSON(result)
}

// HandleLicenseStatus returns a read-only snapshot. Unknown, malformed, and
// revoked keys all come back valid=false with 200; the endpoint leaks
// nothing about which keys exist.
func HandleLicenseStatus(c *fiber.Ctx) error {
	result, err := activationService().Status(c.Params("key"))
	if err != nil {
		return serviceError(c, "status lookup failed", err)
	}
	return c.JSON(result)
}

// HandleListDevices lists the active devices of a family-plan license.
func HandleListDevices(c *fiber.Ctx) error {
	result, err := activationService().ListDevices(c.Params("key"))
	if err != nil {
		return deviceOpError(c, err)
	}
	return c.JSON(result)
}

// HandleDeactivateDevice frees one device slot on a family-plan license.
func HandleDeactivateDevice(c *fiber.Ctx) error {
	var req deactivateDeviceRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid JSON body")
	}
	if err := validate.Struct(req); err != nil {
		return badRequest(c, "a 32-character device_id is required")
	}

	result, err := activationService().DeactivateDevice(c.Params("key"), req.DeviceID)
	if err != nil {
		return deviceOpError(c, err)
	}
	return c.JSON(result)
}

func activateHTTPStatus(status activation.Status) int {
	switch status {
	case activation.StatusActivated:
		return fiber.StatusOK
	case activation.StatusDeviceMismatch, activation.StatusDeviceLimitReached:
		return fiber.StatusConflict
	case activation.StatusRevoked:
		return fiber.StatusForbidden
	case activation.StatusNotFound:
		return fiber.StatusNotFound
	default:
		return fiber.StatusBadRequest
	}
}

func transferHTTPStatus(status activation.Status) int {
	switch status {
	case activation.StatusTransferred:
		return fiber.StatusOK
	case activation.StatusTransferLimitReached:
		return fiber.StatusConflict
	case activation.StatusRevoked:
		return fiber.StatusForbidden
	case activation.StatusNotFound:
		return fiber.StatusNotFound
	default:
		return fiber.StatusBadRequest
	}
}

func deviceOpError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, activation.ErrInvalidKey), errors.Is(err, activation.ErrInvalidDeviceID), errors.Is(err, activation.ErrNotFamilyPlan):
		return badRequest(c, err.Error())
	case errors.Is(err, activation.ErrLicenseNotFound), errors.Is(err, activation.ErrDeviceNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": err.Error()})
	case errors.Is(err, activation.ErrLicenseRevoked):
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "revoked", "message": err.Error()})
	default:
		return serviceError(c, "device operation failed", err)
	}
}

func badRequest(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": message})
}

func serviceError(c *fiber.Ctx, message string, err error) error {
	if errors.Is(err, activation.ErrConcurrentUpdate) {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "conflict", "message": "Concurrent update, please retry"})
	}
	log.Printf("%s: %v", message, err)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": message})
}
