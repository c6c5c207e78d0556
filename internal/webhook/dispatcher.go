package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/ETAnderson/productimporter/internal/domain"
	"github.com/ETAnderson/productimporter/internal/events"
	"github.com/ETAnderson/productimporter/internal/logging"
	"github.com/ETAnderson/productimporter/internal/metrics"
	"github.com/ETAnderson/productimporter/internal/state"
)

const (
	DefaultTimeout     = 10 * time.Second
	DefaultBackoff     = 500 * time.Millisecond
	DefaultConcurrency = 8

	userAgent = "productimporter-webhooks/1.0"

	// maxResponseDrain bounds how much of a subscriber's response is read
	// before the connection is released.
	maxResponseDrain = 64 << 10
)

type Lister interface {
	ListActiveSubscriptions(ctx context.Context, eventType domain.EventType) ([]domain.Subscription, error)
}

type Tester interface {
	GetSubscription(ctx context.Context, id string) (domain.Subscription, error)
	RecordTestOutcome(ctx context.Context, id string, out domain.TestOutcome) error
}

type Store interface {
	Lister
	Tester
}

// Outcome is the result of delivering one event to one subscription.
type Outcome struct {
	SubscriptionID string           `json:"subscription_id"`
	URL            string           `json:"url"`
	EventType      domain.EventType `json:"event_type"`
	StatusCode     int              `json:"status_code"`
	Attempts       int              `json:"attempts"`
	Latency        time.Duration    `json:"-"`
	LatencyMs      int64            `json:"latency_ms"`
	Success        bool             `json:"success"`
	Error          string           `json:"error,omitempty"`
	DeliveredAt    time.Time        `json:"delivered_at"`
}

type envelope struct {
	EventType domain.EventType `json:"event_type"`
	Timestamp string           `json:"timestamp"`
	Data      map[string]any   `json:"data"`
}

type Config struct {
	Timeout     time.Duration
	MaxRetries  int // retries after the first attempt; 0 means a single attempt
	Backoff     time.Duration
	Concurrency int
	RatePerSec  float64 // 0 disables outbound rate limiting
}

// Dispatcher delivers events to every active subscription for the event
// type. Delivery is best effort: failures end up in the returned outcomes
// and are never returned as errors.
type Dispatcher struct {
	subs    Store
	client  *http.Client
	cfg     Config
	limiter *rate.Limiter
	metrics *metrics.Metrics
	log     *logrus.Entry
}

func NewDispatcher(subs Store, client *http.Client, cfg Config, m *metrics.Metrics, log *logrus.Entry) *Dispatcher {
	if client == nil {
		client = &http.Client{}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = DefaultBackoff
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}

	d := &Dispatcher{
		subs:    subs,
		client:  client,
		cfg:     cfg,
		metrics: m,
		log:     logging.OrDiscard(log).WithField("component", "webhook"),
	}
	if cfg.RatePerSec > 0 {
		burst := int(cfg.RatePerSec)
		if burst < 1 {
			burst = 1
		}
		d.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)
	}
	return d
}

// Handle implements events.Sink.
func (d *Dispatcher) Handle(ctx context.Context, ev events.Event) {
	d.Dispatch(ctx, ev)
}

func (d *Dispatcher) Dispatch(ctx context.Context, ev events.Event) []Outcome {
	log := d.log.WithFields(logrus.Fields{"event_type": ev.Type, "event_id": ev.ID})

	subs, err := d.subs.ListActiveSubscriptions(ctx, ev.Type)
	if err != nil {
		log.WithError(err).Error("failed to load webhook subscriptions")
		return nil
	}
	if len(subs) == 0 {
		return nil
	}

	outcomes := make([]Outcome, len(subs))

	var g errgroup.Group
	g.SetLimit(d.cfg.Concurrency)
	for i, sub := range subs {
		g.Go(func() error {
			outcomes[i] = d.deliver(ctx, sub, ev, d.cfg.MaxRetries)
			return nil
		})
	}
	_ = g.Wait()

	for _, o := range outcomes {
		fields := logrus.Fields{
			"subscription_id": o.SubscriptionID,
			"status_code":     o.StatusCode,
			"attempts":        o.Attempts,
			"latency_ms":      o.LatencyMs,
		}
		if o.Success {
			log.WithFields(fields).Info("webhook delivered")
		} else {
			log.WithFields(fields).WithField("error", o.Error).Warn("webhook delivery failed")
		}
	}
	return outcomes
}

// Test sends one sample event to a subscription regardless of its active
// flag and stores the outcome on the subscription.
func (d *Dispatcher) Test(ctx context.Context, id string) (Outcome, error) {
	sub, err := d.subs.GetSubscription(ctx, id)
	if err != nil {
		return Outcome{}, err
	}

	ev := events.New(sub.EventType, map[string]any{
		"test":            true,
		"subscription_id": sub.ID,
		"message":         "This is a test delivery.",
	})
	out := d.deliver(ctx, sub, ev, 0)

	err = d.subs.RecordTestOutcome(ctx, sub.ID, domain.TestOutcome{
		StatusCode: out.StatusCode,
		Latency:    out.Latency,
		Success:    out.Success,
		Error:      out.Error,
		TestedAt:   out.DeliveredAt,
	})
	if err != nil {
		return out, fmt.Errorf("record test outcome: %w", err)
	}
	return out, nil
}

func (d *Dispatcher) deliver(ctx context.Context, sub domain.Subscription, ev events.Event, retries int) Outcome {
	out := Outcome{SubscriptionID: sub.ID, URL: sub.URL, EventType: ev.Type}
	start := time.Now()

	body, err := json.Marshal(envelope{
		EventType: ev.Type,
		Timestamp: ev.OccurredAt.UTC().Format(time.RFC3339),
		Data:      ev.Data,
	})
	if err != nil {
		out.Error = fmt.Sprintf("encode payload: %v", err)
		out.DeliveredAt = time.Now().UTC()
		return out
	}

	op := func() error {
		out.Attempts++
		status, err := d.attempt(ctx, sub, ev, body)
		out.StatusCode = status
		return err
	}

	err = backoff.Retry(op, backoff.WithContext(d.policy(retries), ctx))

	out.Latency = time.Since(start)
	out.LatencyMs = out.Latency.Milliseconds()
	out.DeliveredAt = time.Now().UTC()
	out.Success = err == nil
	if err != nil {
		out.Error = err.Error()
	}

	d.metrics.WebhookDelivery(string(ev.Type), out.Success, out.Latency)
	return out
}

func (d *Dispatcher) policy(retries int) backoff.BackOff {
	if retries <= 0 {
		return &backoff.StopBackOff{}
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = d.cfg.Backoff
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0
	return backoff.WithMaxRetries(bo, uint64(retries))
}

// attempt makes one POST. Transport errors are returned for retry; a non-2xx
// response is a permanent failure.
func (d *Dispatcher) attempt(ctx context.Context, sub domain.Subscription, ev events.Event, body []byte) (int, error) {
	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return 0, backoff.Permanent(err)
		}
	}

	actx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(actx, http.MethodPost, sub.URL, bytes.NewReader(body))
	if err != nil {
		return 0, backoff.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set(EventHeader, string(ev.Type))
	req.Header.Set(DeliveryHeader, ev.ID)
	if sub.HasSecret() {
		req.Header.Set(SignatureHeader, Sign(sub.Secret, body))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return 0, backoff.Permanent(err)
		}
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseDrain))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, backoff.Permanent(fmt.Errorf("unexpected status %d", resp.StatusCode))
	}
	return resp.StatusCode, nil
}

var _ events.Sink = (*Dispatcher)(nil)

var _ Store = (state.SubscriptionStore)(nil)
