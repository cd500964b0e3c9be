package controllers

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/hexleylabs/keyhaven/app/models"
	"github.com/hexleylabs/keyhaven/app/repository"
	"github.com/hexleylabs/keyhaven/internal/pkg/keycodec"
)

const maxAdminMintQuantity = 100

type adminMintRequest struct {
	Prefix   string `json:"prefix" validate:"required,len=4"`
	Quantity int    `json:"quantity" validate:"omitempty,min=1,max=100"`
	Email    string `json:"email" validate:"omitempty,email,max=200"`
}

type adminMintResponse struct {
	Keys        []string `json:"keys"`
	ProductType string   `json:"product_type"`
	PlanType    string   `json:"plan_type"`
	MaxDevices  int      `json:"max_devices"`
}

// HandleAdminMintLicenses mints license keys outside the payment flow, for
// support replacements and testing. Unlike webhook provisioning, an
// admin-minted family key keeps the prefix's full device capacity.
func HandleAdminMintLicenses(c *fiber.Ctx) error {
	var req adminMintRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "Invalid JSON body")
	}
	if err := validate.Struct(req); err != nil {
		return badRequest(c, "a 4-character prefix is required; quantity is capped at 100")
	}

	prefix := strings.ToUpper(strings.TrimSpace(req.Prefix))
	info := keycodec.PlanFromPrefix(prefix)
	if info == keycodec.Unknown {
		return badRequest(c, "unknown key prefix")
	}

	quantity := req.Quantity
	if quantity < 1 {
		quantity = 1
	}
	if quantity > maxAdminMintQuantity {
		quantity = maxAdminMintQuantity
	}

	repo := repository.GetGlobalFactory().GetLicenseRepository()
	keys := make([]string, 0, quantity)
	for i := 0; i < quantity; i++ {
		key, err := keycodec.Generate(prefix)
		if err != nil {
			return serviceError(c, "key generation failed", err)
		}
		license := &models.License{
			Key:           key,
			ProductType:   info.ProductType,
			PlanType:      info.PlanType,
			Status:        models.LicenseStatusActive,
			MaxDevices:    info.MaxDevices,
			CustomerEmail: strings.ToLower(strings.TrimSpace(req.Email)),
		}
		if err := repo.Create(license); err != nil {
			return serviceError(c, "license creation failed", err)
		}
		keys = append(keys, key)
	}

	return c.Status(fiber.StatusCreated).JSON(adminMintResponse{
		Keys:        keys,
		ProductType: info.ProductType,
		PlanType:    info.PlanType,
		MaxDevices:  info.MaxDevices,
	})
}

// HandleAdminRevokeLicense flips a license to revoked. Revocation is a
// status change, never a delete; the row stays for audit history.
func HandleAdminRevokeLicense(c *fiber.Ctx) error {
	key := keycodec.Normalize(c.Params("key"))
	if !keycodec.IsValidFormat(key) {
		return badRequest(c, "malformed license key")
	}

	repo := repository.GetGlobalFactory().GetLicenseRepository()
	license, err := repo.GetByKey(key)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not_found", "message": "unknown license key"})
		}
		return serviceError(c, "license lookup failed", err)
	}
	if license.IsRevoked() {
		return c.JSON(fiber.Map{"ok": true, "status": models.LicenseStatusRevoked, "already_revoked": true})
	}
	if err := repo.Revoke(license.ID); err != nil {
		return serviceError(c, "revocation failed", err)
	}
	return c.JSON(fiber.Map{"ok": true, "status": models.LicenseStatusRevoked})
}

// HandleAdminListLicenses looks up all licenses for a customer email, the
// main support entry point.
func HandleAdminListLicenses(c *fiber.Ctx) error {
	email := strings.ToLower(strings.TrimSpace(c.Query("email")))
	if email == "" {
		return badRequest(c, "email query parameter is required")
	}

	repo := repository.GetGlobalFactory().GetLicenseRepository()
	licenses, err := repo.ListByEmail(email)
	if err != nil {
		return serviceError(c, "license lookup failed", err)
	}
	return c.JSON(fiber.Map{"licenses": licenses, "count": len(licenses)})
}
