package controllers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/hexleylabs/keyhaven/internal/pkg/activation"
	"github.com/hexleylabs/keyhaven/internal/pkg/database"
	"github.com/hexleylabs/keyhaven/internal/pkg/provisioning"
)

type startTrialRequest struct {
	Email    string `json:"email" validate:"required,email,max=200"`
	DeviceID string `json:"device_id" validate:"omitempty,len=32"`
}

// HandleStartTrial issues a 14-day trial key, one per email. When the
// request carries a device fingerprint the response includes a signed trial
// file for that device.
func HandleStartTrial(c *fiber.Ctx) error {
	var req startTrialRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid JSON body")
	}
	if err := validate.Struct(req); err != nil {
		return badRequest(c, "a valid email is required")
	}
	if req.DeviceID != "" && !activation.IsValidDeviceID(req.DeviceID) {
		return badRequest(c, "device_id must be a 32-character lowercase hex fingerprint")
	}

	svc := provisioning.NewTrialServiceFromDB(database.GetDB(), licenseSigner())
	result, err := svc.StartTrial(req.Email, req.DeviceID)
	if err != nil {
		switch {
		case errors.Is(err, provisioning.ErrInvalidEmail):
			return badRequest(c, err.Error())
		case errors.Is(err, provisioning.ErrTrialExists):
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "trial_exists", "message": err.Error()})
		default:
			return serviceError(c, "trial creation failed", err)
		}
	}
	return c.Status(fiber.StatusCreated).JSON(result)
}
