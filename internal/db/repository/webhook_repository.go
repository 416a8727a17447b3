package repository

import (
	"context"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/dkrish7/osprey/internal/db"
	"github.com/dkrish7/osprey/internal/tracer"
	"github.com/dkrish7/osprey/internal/util"
	"github.com/dkrish7/osprey/model"
)

type WebhookRepository struct {
	db *db.DB
}

func NewWebhookRepository(db *db.DB) *WebhookRepository {
	return &WebhookRepository{db: db}
}

const webhookColumns = `
	id,
	owner_id,
	url,
	secret,
	events,
	active,
	delivery_count,
	failure_count,
	last_error,
	created_at`

func scanWebhook(row interface{ Scan(...any) error }, w *model.Webhook) error {
	return row.Scan(
		&w.ID,
		&w.OwnerID,
		&w.URL,
		&w.Secret,
		&w.Events,
		&w.Active,
		&w.DeliveryCount,
		&w.FailureCount,
		&w.LastError,
		&w.CreatedAt,
	)
}

func (r *WebhookRepository) Create(ctx context.Context, w *model.Webhook) error {
	ctx, span := tracer.GetTracer().Start(ctx, "Postgres/CreateWebhook")
	defer span.End()

	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO webhooks (`+webhookColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`,
		w.ID,
		w.OwnerID,
		w.URL,
		w.Secret,
		w.Events,
		w.Active,
		w.DeliveryCount,
		w.FailureCount,
		w.LastError,
		w.CreatedAt,
	)
	if err != nil {
		util.RecordSpanError(span, err)
		return err
	}
	return nil
}

func (r *WebhookRepository) Get(ctx context.Context, id uuid.UUID) (*model.Webhook, error) {
	ctx, span := tracer.GetTracer().Start(ctx, "Postgres/GetWebhook")
	defer span.End()

	var w model.Webhook
	row := r.db.Pool.QueryRow(ctx, `SELECT `+webhookColumns+` FROM webhooks WHERE id = $1`, id)
	if err := scanWebhook(row, &w); err != nil {
		util.RecordSpanError(span, err)
		return nil, err
	}
	return &w, nil
}

// ListActive returns the owner's active webhooks whose event set contains event.
func (r *WebhookRepository) ListActive(ctx context.Context, owner uuid.UUID, event string) ([]*model.Webhook, error) {
	ctx, span := tracer.GetTracer().Start(ctx, "Postgres/ListActiveWebhooks")
	defer span.End()

	span.AddEvent("webhook.context",
		trace.WithAttributes(attribute.String("event", event)),
	)

	rows, err := r.db.Pool.Query(ctx, `
		SELECT `+webhookColumns+`
		FROM webhooks
		WHERE owner_id = $1
		  AND active = TRUE
		  AND $2 = ANY(events)
	`, owner, event)
	if err != nil {
		util.RecordSpanError(span, err)
		return nil, err
	}
	defer rows.Close()

	var hooks []*model.Webhook
	for rows.Next() {
		var w model.Webhook
		if err := scanWebhook(rows, &w); err != nil {
			util.RecordSpanError(span, err)
			return nil, err
		}
		hooks = append(hooks, &w)
	}
	if err := rows.Err(); err != nil {
		util.RecordSpanError(span, err)
		return nil, err
	}
	return hooks, nil
}

func (r *WebhookRepository) ListByOwner(ctx context.Context, owner uuid.UUID) ([]*model.Webhook, error) {
	ctx, span := tracer.GetTracer().Start(ctx, "Postgres/ListWebhooks")
	defer span.End()

	rows, err := r.db.Pool.Query(ctx,
		`SELECT `+webhookColumns+` FROM webhooks WHERE owner_id = $1 ORDER BY created_at DESC`, owner)
	if err != nil {
		util.RecordSpanError(span, err)
		return nil, err
	}
	defer rows.Close()

	var hooks []*model.Webhook
	for rows.Next() {
		var w model.Webhook
		if err := scanWebhook(rows, &w); err != nil {
			util.RecordSpanError(span, err)
			return nil, err
		}
		hooks = append(hooks, &w)
	}
	if err := rows.Err(); err != nil {
		util.RecordSpanError(span, err)
		return nil, err
	}
	return hooks, nil
}

func (r *WebhookRepository) Delete(ctx context.Context, id uuid.UUID) error {
	ctx, span := tracer.GetTracer().Start(ctx, "Postgres/DeleteWebhook")
	defer span.End()

	_, err := r.db.Pool.Exec(ctx, `DELETE FROM webhooks WHERE id = $1`, id)
	if err != nil {
		util.RecordSpanError(span, err)
	}
	return err
}

// RecordOutcome bumps the webhook's cumulative counters after an attempt cycle.
func (r *WebhookRepository) RecordOutcome(ctx context.Context, id uuid.UUID, success bool, lastError *string) error {
	ctx, span := tracer.GetTracer().Start(ctx, "Postgres/RecordWebhookOutcome")
	defer span.End()

	var err error
	if success {
		_, err = r.db.Pool.Exec(ctx, `
			UPDATE webhooks
			SET delivery_count = delivery_count + 1, last_error = NULL
			WHERE id = $1
		`, id)
	} else {
		_, err = r.db.Pool.Exec(ctx, `
			UPDATE webhooks
			SET failure_count = failure_count + 1, last_error = $2
			WHERE id = $1
		`, id, lastError)
	}
	if err != nil {
		util.RecordSpanError(span, err)
	}
	return err
}
