package webhook

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/dkrish7/osprey/model"
)

var ErrForbidden = errors.New("webhook does not belong to caller")

var knownEvents = map[string]bool{
	"job.created":   true,
	"job.completed": true,
	"job.failed":    true,
}

// RegisterRequest is the incoming subscription payload. Secret is optional;
// one is generated when absent and returned exactly once.
type RegisterRequest struct {
	URL    string   `json:"url"`
	Secret string   `json:"secret,omitempty"`
	Events []string `json:"events"`
}

// Repository is the full persistence surface behind the service.
type Repository interface {
	HookStore
	Create(ctx context.Context, w *model.Webhook) error
	ListByOwner(ctx context.Context, owner uuid.UUID) ([]*model.Webhook, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// DeliveryLister exposes per-webhook delivery history.
type DeliveryLister interface {
	ListByWebhook(ctx context.Context, webhookID string) ([]*model.WebhookDelivery, error)
}

func NewService(repo Repository, deliveries DeliveryLister) *Service {
	return &Service{repo: repo, deliveries: deliveries}
}

// Service owns webhook registration and inspection. Delivery runs elsewhere.
type Service struct {
	repo       Repository
	deliveries DeliveryLister
}

func (s *Service) Register(ctx context.Context, ownerID uuid.UUID, req RegisterRequest) (*model.Webhook, error) {
	u, err := url.Parse(req.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid webhook url %q", req.URL)
	}
	if len(req.Events) == 0 {
		return nil, errors.New("at least one event is required")
	}
	for _, e := range req.Events {
		if !knownEvents[e] {
			return nil, fmt.Errorf("unknown event %q", e)
		}
	}

	secret := req.Secret
	if secret == "" {
		secret, err = generateSecret()
		if err != nil {
			return nil, err
		}
	}

	id, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	hook := &model.Webhook{
		ID:        id,
		OwnerID:   ownerID,
		URL:       req.URL,
		Secret:    secret,
		Events:    req.Events,
		Active:    true,
		CreatedAt: &now,
	}
	if err := s.repo.Create(ctx, hook); err != nil {
		return nil, err
	}
	return hook, nil
}

func (s *Service) List(ctx context.Context, ownerID uuid.UUID) ([]*model.Webhook, error) {
	return s.repo.ListByOwner(ctx, ownerID)
}

func (s *Service) Get(ctx context.Context, ownerID, id uuid.UUID) (*model.Webhook, error) {
	hook, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if hook.OwnerID != ownerID {
		return nil, ErrForbidden
	}
	return hook, nil
}

func (s *Service) Delete(ctx context.Context, ownerID, id uuid.UUID) error {
	if _, err := s.Get(ctx, ownerID, id); err != nil {
		return err
	}
	return s.repo.Delete(ctx, id)
}

func (s *Service) Deliveries(ctx context.Context, ownerID, id uuid.UUID) ([]*model.WebhookDelivery, error) {
	if _, err := s.Get(ctx, ownerID, id); err != nil {
		return nil, err
	}
	return s.deliveries.ListByWebhook(ctx, id.String())
}

func generateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
