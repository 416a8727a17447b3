package webhook

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/time/rate"

	"github.com/dkrish7/osprey/internal/logger"
	"github.com/dkrish7/osprey/internal/tracer"
	"github.com/dkrish7/osprey/model"
)

const (
	userAgent       = "OSINT-Webhook/1.0"
	requestTimeout  = 30 * time.Second
	maxAttempts     = 5
	maxResponseBody = 1000
)

// retrySchedule holds the delay before each re-attempt: schedule[0] after the
// first failure, and so on. Once Attempts reaches maxAttempts the delivery is
// terminally failed, so at maxAttempts 5 the fifth failure is terminal and
// the 15m rung is only reached if maxAttempts is raised.
var retrySchedule = []time.Duration{
	5 * time.Second,
	30 * time.Second,
	60 * time.Second,
	5 * time.Minute,
	15 * time.Minute,
}

// HookStore is the webhook-table surface the delivery path needs.
type HookStore interface {
	Get(ctx context.Context, id uuid.UUID) (*model.Webhook, error)
	ListActive(ctx context.Context, owner uuid.UUID, event string) ([]*model.Webhook, error)
	RecordOutcome(ctx context.Context, id uuid.UUID, success bool, lastError *string) error
}

// DeliveryStore persists attempt-cycle state.
type DeliveryStore interface {
	Create(ctx context.Context, d *model.WebhookDelivery) error
	Update(ctx context.Context, d *model.WebhookDelivery) error
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]*model.WebhookDelivery, error)
}

// Deliverer posts one signed payload per call and records the outcome. The
// shared limiter caps outbound request rate across all hooks so a burst of
// job completions cannot hammer subscriber endpoints.
type Deliverer struct {
	client     *resty.Client
	hooks      HookStore
	deliveries DeliveryStore
	limiter    *rate.Limiter
	attempts   metric.Int64Counter
	now        func() time.Time
}

func NewDeliverer(hooks HookStore, deliveries DeliveryStore) *Deliverer {
	client := resty.New().
		SetTimeout(requestTimeout).
		SetRetryCount(0).
		SetHeader("User-Agent", userAgent)

	attempts, err := tracer.GetMeter().Int64Counter("webhook.delivery.attempts")
	if err != nil {
		logger.Log.Warn().Err(err).Msg("delivery counter init failed")
	}

	return &Deliverer{
		client:     client,
		hooks:      hooks,
		deliveries: deliveries,
		limiter:    rate.NewLimiter(rate.Limit(50), 100),
		attempts:   attempts,
		now:        time.Now,
	}
}

func (d *Deliverer) count(ctx context.Context, outcome string) {
	if d.attempts == nil {
		return
	}
	d.attempts.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// Attempt runs exactly one delivery attempt and persists the result. A 2xx
// response is success; anything else, including transport errors, schedules
// the next retry or marks the delivery terminally failed.
func (d *Deliverer) Attempt(ctx context.Context, hook *model.Webhook, delivery *model.WebhookDelivery) error {
	if err := d.limiter.Wait(ctx); err != nil {
		return err
	}

	delivery.Attempts++

	resp, err := d.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("X-Webhook-Signature", Sign(hook.Secret, delivery.Payload)).
		SetHeader("X-Webhook-Event", delivery.Event).
		SetHeader("X-Webhook-Timestamp", d.now().UTC().Format(time.RFC3339)).
		SetBody([]byte(delivery.Payload)).
		Post(hook.URL)

	if err == nil && resp.StatusCode() >= 200 && resp.StatusCode() < 300 {
		d.count(ctx, "success")
		return d.succeed(ctx, hook, delivery, resp)
	}
	d.count(ctx, "failure")

	var cause string
	if err != nil {
		cause = err.Error()
	} else {
		cause = fmt.Sprintf("endpoint returned %d", resp.StatusCode())
		code := resp.StatusCode()
		delivery.HTTPStatus = &code
		body := truncate(resp.String(), maxResponseBody)
		delivery.ResponseBody = &body
	}
	return d.scheduleRetry(ctx, hook, delivery, cause)
}

func (d *Deliverer) succeed(ctx context.Context, hook *model.Webhook, delivery *model.WebhookDelivery, resp *resty.Response) error {
	now := d.now().UTC()
	code := resp.StatusCode()
	body := truncate(resp.String(), maxResponseBody)

	delivery.Status = model.DeliverySuccess
	delivery.HTTPStatus = &code
	delivery.ResponseBody = &body
	delivery.NextRetryAt = nil
	delivery.DeliveredAt = &now
	if err := d.deliveries.Update(ctx, delivery); err != nil {
		return err
	}
	return d.hooks.RecordOutcome(ctx, hook.ID, true, nil)
}

func (d *Deliverer) scheduleRetry(ctx context.Context, hook *model.Webhook, delivery *model.WebhookDelivery, cause string) error {
	log := logger.FromContext(ctx).With().
		Str("webhook_id", hook.ID.String()).
		Str("delivery_id", delivery.ID.String()).
		Int("attempts", delivery.Attempts).
		Logger()

	if delivery.Attempts >= maxAttempts {
		delivery.Status = model.DeliveryFailed
		delivery.NextRetryAt = nil
		log.Error().Str("cause", cause).Msg("webhook delivery exhausted")
	} else {
		next := d.now().UTC().Add(retrySchedule[delivery.Attempts-1])
		delivery.Status = model.DeliveryRetrying
		delivery.NextRetryAt = &next
		log.Warn().Str("cause", cause).Time("next_retry_at", next).Msg("webhook delivery failed, retry scheduled")
	}

	if err := d.deliveries.Update(ctx, delivery); err != nil {
		return err
	}
	return d.hooks.RecordOutcome(ctx, hook.ID, false, &cause)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
