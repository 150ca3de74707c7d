// handlers/referral.go
package handlers

import (
	"errors"

	"referral-reward-system/middleware"
	"referral-reward-system/services"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// redeemRequest is what the registration flow forwards after account
// creation. IP falls back to the connection address when absent.
type redeemRequest struct {
	InvitedID   string                      `json:"invited_id"`
	Code        string                      `json:"code"`
	IPAddress   string                      `json:"ip_address"`
	Fingerprint string                      `json:"fingerprint"`
	Behavioral  *services.BehavioralPayload `json:"behavioral,omitempty"`
}

func SetupReferralRoutes(app *fiber.App, referralService *services.ReferralService, processor *services.DelayedRewardProcessor) {
	// 🔓 Registration trigger — called service-to-service by the registration
	// flow, so no user context; still behind Gateway auth.
	app.Post("/referral/redeem", func(c *fiber.Ctx) error {
		var req redeemRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
		}
		if req.InvitedID == "" || req.Code == "" {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invited_id and code are required"})
		}
		if req.IPAddress == "" {
			req.IPAddress = c.IP()
		}

		result := referralService.RedeemReferral(req.InvitedID, services.ValidationInput{
			Code:        req.Code,
			IPAddress:   req.IPAddress,
			Fingerprint: req.Fingerprint,
			UserAgent:   c.Get("User-Agent"),
			Behavioral:  req.Behavioral,
		})

		// Policy rejections are business outcomes, not HTTP errors.
		return c.JSON(fiber.Map{
			"valid":        result.Valid,
			"reason":       result.Reason,
			"user_message": result.UserMessage,
		})
	})

	// 🔐 Secured routes — require user context (userID, roles)
	secured := app.Group("/s", middleware.UserContextMiddleware())

	secured.Get("/user/referral/code", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)
		username := c.Get("X-User-Name")
		if username == "" {
			username = userID
		}

		code, err := referralService.EnsureCode(userID, username)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to issue referral code"})
		}
		return c.JSON(code)
	})

	secured.Get("/user/referral/summary", func(c *fiber.Ctx) error {
		userID := c.Locals("user_id").(string)
		summary, err := referralService.Summary(userID)
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to fetch referral summary"})
		}
		return c.JSON(summary)
	})

	// 🔐 Admin routes — role enforcement happens at the Gateway.
	admin := secured.Group("/admin/referrals")

	admin.Post("/run", func(c *fiber.Ctx) error {
		result, err := processor.ProcessDueReferrals(c.Context())
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Batch run failed", "cause": err.Error()})
		}
		if result == nil {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"message": "A run is already in progress"})
		}
		return c.JSON(result)
	})

	admin.Post("/:id/process", func(c *fiber.Ctx) error {
		id := c.Params("id")
		force := c.QueryBool("force")

		rec, err := processor.ProcessSingle(id, force)
		if err != nil {
			switch {
			case errors.Is(err, services.ErrNotPending):
				return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "Referral is not pending"})
			case errors.Is(err, gorm.ErrRecordNotFound):
				return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Referral not found"})
			default:
				return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Processing failed", "cause": err.Error()})
			}
		}
		return c.JSON(rec)
	})

	admin.Get("/health", func(c *fiber.Ctx) error {
		report, err := processor.Health()
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Health report failed", "cause": err.Error()})
		}
		return c.JSON(report)
	})

	admin.Get("/stats", func(c *fiber.Ctx) error {
		return c.JSON(processor.Stats())
	})
}
