package constants

// Static route constants
const (
	HealthzRoute        = "/healthz"
	MetricsRoute        = "/metrics"
	WebhookPaymentRoute = "/webhook/payment"
)
