package webhook

import (
	"context"
	"time"

	"github.com/dkrish7/osprey/internal/logger"
	"github.com/dkrish7/osprey/model"
)

const (
	pollInterval = 10 * time.Second
	claimBatch   = 50
)

// Scheduler re-attempts deliveries whose retry time has come due. ClaimDue
// uses row locks, so multiple workers can poll the same table safely.
type Scheduler struct {
	hooks      HookStore
	deliveries DeliveryStore
	deliverer  *Deliverer
	interval   time.Duration
}

func NewScheduler(hooks HookStore, deliveries DeliveryStore, deliverer *Deliverer) *Scheduler {
	return &Scheduler{
		hooks:      hooks,
		deliveries: deliveries,
		deliverer:  deliverer,
		interval:   pollInterval,
	}
}

func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	log := logger.FromContext(ctx)

	due, err := s.deliveries.ClaimDue(ctx, time.Now().UTC(), claimBatch)
	if err != nil {
		log.Error().Err(err).Msg("retry claim failed")
		return
	}

	for _, delivery := range due {
		hook, err := s.hooks.Get(ctx, delivery.WebhookID)
		if err != nil {
			log.Error().Err(err).Str("delivery_id", delivery.ID.String()).Msg("retry: webhook lookup failed")
			continue
		}
		if !hook.Active {
			// Unsubscribed mid-cycle; stop retrying quietly.
			delivery.Status = model.DeliveryFailed
			delivery.NextRetryAt = nil
			if err := s.deliveries.Update(ctx, delivery); err != nil {
				log.Error().Err(err).Str("delivery_id", delivery.ID.String()).Msg("retry: delivery update failed")
			}
			continue
		}
		if err := s.deliverer.Attempt(ctx, hook, delivery); err != nil {
			log.Error().Err(err).Str("delivery_id", delivery.ID.String()).Msg("retry attempt bookkeeping failed")
		}
	}
}
