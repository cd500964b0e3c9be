package apiv1

import (
	"github.com/gofiber/fiber/v2"

	// Delegate to existing controllers to keep behavior consistent
	"github.com/hexleylabs/keyhaven/app/controllers"
)

// APIServer implements the public v1 licensing API
type APIServer struct{}

// NewAPIServer creates a new API server instance
func NewAPIServer() *APIServer {
	return &APIServer{}
}

// GetPing handles the ping endpoint
func (s *APIServer) GetPing(c *fiber.Ctx) error {
	response := Pong{
		Ping: "pong",
	}

	return c.Status(fiber.StatusOK).JSON(response)
}

// PostLicenseActivate activates a license for a device.
func (s *APIServer) PostLicenseActivate(c *fiber.Ctx) error {
	return controllers.HandleActivateLicense(c)
}

// PostLicenseTransfer moves a personal license to a new device.
func (s *APIServer) PostLicenseTransfer(c *fiber.Ctx) error {
	return controllers.HandleTransferLicense(c)
}

// GetLicenseStatus returns a read-only license snapshot.
func (s *APIServer) GetLicenseStatus(c *fiber.Ctx) error {
	return controllers.HandleLicenseStatus(c)
}

// GetLicenseDevices lists the active devices of a family-plan license.
func (s *APIServer) GetLicenseDevices(c *fiber.Ctx) error {
	return controllers.HandleListDevices(c)
}

// PostLicenseDeactivateDevice frees one device slot on a family-plan license.
func (s *APIServer) PostLicenseDeactivateDevice(c *fiber.Ctx) error {
	return controllers.HandleDeactivateDevice(c)
}

// PostTrial starts a trial for an email, one per email.
func (s *APIServer) PostTrial(c *fiber.Ctx) error {
	return controllers.HandleStartTrial(c)
}

// RegisterHandlers attaches the public v1 routes to the given router group.
func RegisterHandlers(router fiber.Router, s *APIServer) {
	router.Get("/ping", s.GetPing)
	router.Post("/licenses/activate", s.PostLicenseActivate)
	router.Post("/licenses/transfer", s.PostLicenseTransfer)
	router.Get("/licenses/:key/status", s.GetLicenseStatus)
	router.Get("/licenses/:key/devices", s.GetLicenseDevices)
	router.Post("/licenses/:key/devices/deactivate", s.PostLicenseDeactivateDevice)
	router.Post("/trials", s.PostTrial)
}
