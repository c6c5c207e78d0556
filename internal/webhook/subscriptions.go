package webhook

import (
	"context"
	"strings"

	"github.com/ETAnderson/productimporter/internal/domain"
	"github.com/ETAnderson/productimporter/internal/state"
)

// SubscriptionInput carries create and update requests. Nil fields are left
// unchanged on update; on create a nil Active means active.
type SubscriptionInput struct {
	Name      *string `json:"name"`
	URL       *string `json:"url"`
	EventType *string `json:"event_type"`
	Active    *bool   `json:"active"`
	Secret    *string `json:"secret"`
}

type Subscriptions struct {
	Store state.SubscriptionStore
}

func (s Subscriptions) Create(ctx context.Context, in SubscriptionInput) (domain.Subscription, error) {
	sub := domain.Subscription{Active: true}
	apply(&sub, in)

	if err := domain.ValidateSubscription(sub); err != nil {
		return domain.Subscription{}, err
	}
	return s.Store.CreateSubscription(ctx, sub)
}

func (s Subscriptions) Update(ctx context.Context, id string, in SubscriptionInput) (domain.Subscription, error) {
	sub, err := s.Store.GetSubscription(ctx, id)
	if err != nil {
		return domain.Subscription{}, err
	}
	apply(&sub, in)

	if err := domain.ValidateSubscription(sub); err != nil {
		return domain.Subscription{}, err
	}
	return s.Store.UpdateSubscription(ctx, sub)
}

func (s Subscriptions) Delete(ctx context.Context, id string) error {
	return s.Store.DeleteSubscription(ctx, id)
}

func (s Subscriptions) Get(ctx context.Context, id string) (domain.Subscription, error) {
	return s.Store.GetSubscription(ctx, id)
}

func (s Subscriptions) List(ctx context.Context) ([]domain.Subscription, error) {
	return s.Store.ListSubscriptions(ctx)
}

func apply(sub *domain.Subscription, in SubscriptionInput) {
	if in.Name != nil {
		sub.Name = strings.TrimSpace(*in.Name)
	}
	if in.URL != nil {
		sub.URL = strings.TrimSpace(*in.URL)
	}
	if in.EventType != nil {
		// Unknown values are kept as given so validation can name them.
		if et, ok := domain.ParseEventType(*in.EventType); ok {
			sub.EventType = et
		} else {
			sub.EventType = domain.EventType(*in.EventType)
		}
	}
	if in.Active != nil {
		sub.Active = *in.Active
	}
	if in.Secret != nil {
		sub.Secret = *in.Secret
	}
}
