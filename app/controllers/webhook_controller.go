package controllers

import (
	"encoding/json"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/hexleylabs/keyhaven/internal/pkg/cache"
	"github.com/hexleylabs/keyhaven/internal/pkg/database"
	"github.com/hexleylabs/keyhaven/internal/pkg/env"
	"github.com/hexleylabs/keyhaven/internal/pkg/provisioning"
)

// webhookDedupTTL is how long processed event ids stay in the cache
// fast path. The ledger's unique index is the authoritative guard; the
// cache only saves a DB round trip on hot retries.
const webhookDedupTTL = 24 * time.Hour

type webhookLineItem struct {
	SKU         string `json:"sku"`
	Quantity    int    `json:"quantity"`
	AmountCents int    `json:"amount_cents"`
}

type paymentWebhookPayload struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		SessionID     string            `json:"session_id"`
		CustomerEmail string            `json:"customer_email"`
		LineItems     []webhookLineItem `json:"line_items"`
	} `json:"data"`
}

// HandlePaymentWebhook receives purchase-completed events from the payment
// provider. Delivery is at-least-once; the provisioning ledger makes
// replays harmless.
func HandlePaymentWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	provider := env.GetEnv("PAYMENT_PROVIDER", "stripe")
	eventID := firstHeaderValue(c, "X-Webhook-Event-ID", "X-Webhook-Delivery")
	signature := strings.TrimSpace(c.Get("X-Webhook-Signature"))
	secret := env.GetEnv("PAYMENT_WEBHOOK_SECRET", "")

	if eventID != "" {
		if seen, err := cache.Exists(webhookCacheKey(provider, eventID)); err == nil && seen {
			return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "duplicate": true})
		}
	}

	svc := provisioning.NewServiceFromDB(database.GetDB())
	signatureValid := provisioning.VerifyWebhookSignature(rawBody, signature, secret)

	event := provisioning.PurchaseEvent{
		Provider:       provider,
		EventID:        eventID,
		RawPayloadJSON: string(rawBody),
		SignatureValid: signatureValid,
	}

	if !signatureValid {
		if err := svc.RecordOnly(event, errors.New("invalid webhook signature")); err != nil {
			log.Printf("webhook: recording rejected delivery failed: %v", err)
		}
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid_signature"})
	}

	var payload paymentWebhookPayload
	if err := json.Unmarshal(rawBody, &payload); err != nil {
		_ = svc.RecordOnly(event, err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
	}
	if event.EventID == "" {
		event.EventID = payload.ID
	}
	event.EventType = payload.Type

	if !isPurchaseCompletedEvent(payload.Type) {
		_ = svc.RecordOnly(event, nil)
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "ignored": true})
	}

	event.SessionID = payload.Data.SessionID
	event.CustomerEmail = payload.Data.CustomerEmail
	for _, item := range payload.Data.LineItems {
		event.LineItems = append(event.LineItems, provisioning.LineItem{
			SKU:         item.SKU,
			Quantity:    item.Quantity,
			AmountCents: item.AmountCents,
		})
	}

	result, err := svc.HandlePurchaseEvent(event)
	if err != nil {
		log.Printf("webhook: provisioning event %s failed: %v", event.EventID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "provisioning_failed"})
	}

	if event.EventID != "" {
		if err := cache.Set(webhookCacheKey(provider, event.EventID), 1, webhookDedupTTL); err != nil {
			log.Printf("webhook: caching processed event %s failed: %v", event.EventID, err)
		}
	}

	if result.Duplicate {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "duplicate": true})
	}
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "minted": len(result.MintedKeys)})
}

func isPurchaseCompletedEvent(eventType string) bool {
	switch strings.ToLower(strings.TrimSpace(eventType)) {
	case "checkout.session.completed", "order.completed", "purchase.completed":
		return true
	default:
		return false
	}
}

func webhookCacheKey(provider, eventID string) string {
	return "webhook:" + provider + ":" + eventID
}

func firstHeaderValue(c *fiber.Ctx, keys ...string) string {
	for _, k := range keys {
		v := strings.TrimSpace(c.Get(k))
		if v != "" {
			return v
		}
	}
	return ""
}
