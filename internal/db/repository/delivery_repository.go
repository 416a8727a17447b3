package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/dkrish7/osprey/internal/db"
	"github.com/dkrish7/osprey/internal/tracer"
	"github.com/dkrish7/osprey/internal/util"
	"github.com/dkrish7/osprey/model"
)

type DeliveryRepository struct {
	db *db.DB
}

func NewDeliveryRepository(db *db.DB) *DeliveryRepository {
	return &DeliveryRepository{db: db}
}

const deliveryColumns = `
	id,
	webhook_id,
	event,
	payload,
	status,
	http_status,
	attempts,
	response_body,
	next_retry_at,
	delivered_at,
	created_at`

func scanDelivery(row interface{ Scan(...any) error }, d *model.WebhookDelivery) error {
	return row.Scan(
		&d.ID,
		&d.WebhookID,
		&d.Event,
		&d.Payload,
		&d.Status,
		&d.HTTPStatus,
		&d.Attempts,
		&d.ResponseBody,
		&d.NextRetryAt,
		&d.DeliveredAt,
		&d.CreatedAt,
	)
}

func (r *DeliveryRepository) Create(ctx context.Context, d *model.WebhookDelivery) error {
	ctx, span := tracer.GetTracer().Start(ctx, "Postgres/CreateDelivery")
	defer span.End()

	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO webhook_deliveries (`+deliveryColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`,
		d.ID,
		d.WebhookID,
		d.Event,
		d.Payload,
		d.Status,
		d.HTTPStatus,
		d.Attempts,
		d.ResponseBody,
		d.NextRetryAt,
		d.DeliveredAt,
		d.CreatedAt,
	)
	if err != nil {
		util.RecordSpanError(span, err)
		return err
	}
	return nil
}

func (r *DeliveryRepository) Update(ctx context.Context, d *model.WebhookDelivery) error {
	ctx, span := tracer.GetTracer().Start(ctx, "Postgres/UpdateDelivery")
	defer span.End()

	_, err := r.db.Pool.Exec(ctx, `
		UPDATE webhook_deliveries
		SET
			status        = $2,
			http_status   = $3,
			attempts      = $4,
			response_body = $5,
			next_retry_at = $6,
			delivered_at  = $7
		WHERE id = $1
	`,
		d.ID,
		d.Status,
		d.HTTPStatus,
		d.Attempts,
		d.ResponseBody,
		d.NextRetryAt,
		d.DeliveredAt,
	)
	if err != nil {
		util.RecordSpanError(span, err)
		return err
	}
	return nil
}

// ClaimDue locks and returns deliveries whose retry is due. SKIP LOCKED keeps
// concurrent schedulers from re-attempting the same record.
func (r *DeliveryRepository) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*model.WebhookDelivery, error) {
	ctx, span := tracer.GetTracer().Start(ctx, "Postgres/ClaimDueDeliveries")
	defer span.End()

	rows, err := r.db.Pool.Query(ctx, `
		UPDATE webhook_deliveries
		SET next_retry_at = NULL
		WHERE id IN (
			SELECT id
			FROM webhook_deliveries
			WHERE status = 'retrying'
			  AND next_retry_at IS NOT NULL
			  AND next_retry_at <= $1
			ORDER BY next_retry_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+deliveryColumns+`
	`, now, limit)
	if err != nil {
		util.RecordSpanError(span, err)
		return nil, fmt.Errorf("failed to claim due deliveries: %w", err)
	}
	defer rows.Close()

	deliveries := make([]*model.WebhookDelivery, 0, limit)
	for rows.Next() {
		var d model.WebhookDelivery
		if err := scanDelivery(rows, &d); err != nil {
			util.RecordSpanError(span, err)
			return nil, fmt.Errorf("failed to scan delivery: %w", err)
		}
		deliveries = append(deliveries, &d)
	}
	if err := rows.Err(); err != nil {
		util.RecordSpanError(span, err)
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return deliveries, nil
}

func (r *DeliveryRepository) ListByWebhook(ctx context.Context, webhookID string) ([]*model.WebhookDelivery, error) {
	ctx, span := tracer.GetTracer().Start(ctx, "Postgres/ListDeliveries")
	defer span.End()

	rows, err := r.db.Pool.Query(ctx, `
		SELECT `+deliveryColumns+`
		FROM webhook_deliveries
		WHERE webhook_id = $1
		ORDER BY created_at DESC
		LIMIT 100
	`, webhookID)
	if err != nil {
		util.RecordSpanError(span, err)
		return nil, err
	}
	defer rows.Close()

	var deliveries []*model.WebhookDelivery
	for rows.Next() {
		var d model.WebhookDelivery
		if err := scanDelivery(rows, &d); err != nil {
			util.RecordSpanError(span, err)
			return nil, err
		}
		deliveries = append(deliveries, &d)
	}
	if err := rows.Err(); err != nil {
		util.RecordSpanError(span, err)
		return nil, err
	}
	return deliveries, nil
}
