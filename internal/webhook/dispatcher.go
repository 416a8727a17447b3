package webhook

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/dkrish7/osprey/internal/logger"
	"github.com/dkrish7/osprey/model"
)

// Payload is the wire format posted to subscriber endpoints.
type Payload struct {
	Event     string    `json:"event"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data"`
	UserID    string    `json:"user_id"`
	WebhookID string    `json:"webhook_id"`
}

// Dispatcher fans a lifecycle event out to every matching webhook. Each hook
// gets its own delivery record and its own goroutine, so one slow or dead
// endpoint never delays its siblings.
type Dispatcher struct {
	hooks      HookStore
	deliveries DeliveryStore
	deliverer  *Deliverer
}

func NewDispatcher(hooks HookStore, deliveries DeliveryStore, deliverer *Deliverer) *Dispatcher {
	return &Dispatcher{hooks: hooks, deliveries: deliveries, deliverer: deliverer}
}

func (d *Dispatcher) Notify(ctx context.Context, ownerID string, event string, data any) {
	log := logger.FromContext(ctx)

	owner, err := uuid.Parse(ownerID)
	if err != nil {
		log.Error().Err(err).Str("owner_id", ownerID).Msg("webhook dispatch: bad owner id")
		return
	}

	matched, err := d.hooks.ListActive(ctx, owner, event)
	if err != nil {
		log.Error().Err(err).Str("event", event).Msg("webhook dispatch: list failed")
		return
	}

	// Deliveries must survive the request that triggered them.
	ctx = context.WithoutCancel(ctx)

	for _, hook := range matched {
		delivery, err := d.record(ctx, hook, event, data)
		if err != nil {
			log.Error().Err(err).Str("webhook_id", hook.ID.String()).Msg("webhook dispatch: record failed")
			continue
		}
		go func(hook *model.Webhook, delivery *model.WebhookDelivery) {
			if err := d.deliverer.Attempt(ctx, hook, delivery); err != nil {
				log.Error().Err(err).Str("webhook_id", hook.ID.String()).Msg("webhook attempt bookkeeping failed")
			}
		}(hook, delivery)
	}
}

// Test posts a synthetic event to one webhook synchronously and returns the
// delivery record, attempted exactly once.
func (d *Dispatcher) Test(ctx context.Context, hook *model.Webhook) (*model.WebhookDelivery, error) {
	delivery, err := d.record(ctx, hook, "webhook.test", map[string]any{"message": "test delivery"})
	if err != nil {
		return nil, err
	}
	if err := d.deliverer.Attempt(ctx, hook, delivery); err != nil {
		return nil, err
	}
	return delivery, nil
}

func (d *Dispatcher) record(ctx context.Context, hook *model.Webhook, event string, data any) (*model.WebhookDelivery, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	body, err := json.Marshal(Payload{
		Event:     event,
		Timestamp: now,
		Data:      data,
		UserID:    hook.OwnerID.String(),
		WebhookID: hook.ID.String(),
	})
	if err != nil {
		return nil, err
	}

	delivery := &model.WebhookDelivery{
		ID:        id,
		WebhookID: hook.ID,
		Event:     event,
		Payload:   body,
		Status:    model.DeliveryPending,
		CreatedAt: &now,
	}
	if err := d.deliveries.Create(ctx, delivery); err != nil {
		return nil, err
	}
	return delivery, nil
}
