package router

import (
	"github.com/hexleylabs/keyhaven/app/controllers"
	"github.com/hexleylabs/keyhaven/app/repository"
	"github.com/hexleylabs/keyhaven/internal/pkg/constants"
	"github.com/hexleylabs/keyhaven/internal/pkg/database"

	"github.com/gofiber/fiber/v2"
)

type HttpRouter struct {
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	// Repositories are shared singletons behind the global factory.
	repository.InitializeFactory(database.GetDB())

	app.Get(constants.HealthzRoute, handleHealthz)

	// The payment provider posts here; it is not part of the public API
	// surface and carries its own signature check instead of a rate limit.
	app.Post(constants.WebhookPaymentRoute, controllers.HandlePaymentWebhook)
}

func NewHttpRouter() *HttpRouter {
	return &HttpRouter{}
}

func handleHealthz(c *fiber.Ctx) error {
	sqlDB, err := database.GetDB().DB()
	if err != nil || sqlDB.Ping() != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "degraded"})
	}
	return c.JSON(fiber.Map{"status": "ok"})
}
