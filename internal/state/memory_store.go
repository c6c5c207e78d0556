package state

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ETAnderson/productimporter/internal/domain"
)

type MemoryStore struct {
	mu sync.RWMutex

	nextProductID int64
	products      map[int64]domain.Product
	bySKU         map[string]int64

	sessions map[string]domain.ImportSession
	subs     map[string]domain.Subscription

	idem map[string]map[string]IdempotencyRecord // endpoint -> keyhash -> record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		products: make(map[int64]domain.Product),
		bySKU:    make(map[string]int64),
		sessions: make(map[string]domain.ImportSession),
		subs:     make(map[string]domain.Subscription),
		idem:     make(map[string]map[string]IdempotencyRecord),
	}
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (s *MemoryStore) UpsertProducts(ctx context.Context, products []domain.Product) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ts := now()
	for _, p := range products {
		p = p.Normalize()
		if id, ok := s.bySKU[p.SKU]; ok {
			cur := s.products[id]
			cur.Name = p.Name
			cur.Price = p.Price
			cur.Description = p.Description
			cur.Active = p.Active
			cur.UpdatedAt = ts
			s.products[id] = cur
			continue
		}
		s.insertLocked(p, ts)
	}
	return nil
}

func (s *MemoryStore) insertLocked(p domain.Product, ts time.Time) domain.Product {
	s.nextProductID++
	p.ID = s.nextProductID
	p.CreatedAt = ts
	p.UpdatedAt = ts
	s.products[p.ID] = p
	s.bySKU[p.SKU] = p.ID
	return p
}

func (s *MemoryStore) CreateProduct(ctx context.Context, p domain.Product) (domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p = p.Normalize()
	if _, ok := s.bySKU[p.SKU]; ok {
		return domain.Product{}, ErrConflict
	}
	return s.insertLocked(p, now()), nil
}

func (s *MemoryStore) UpdateProduct(ctx context.Context, p domain.Product) (domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.products[p.ID]
	if !ok {
		return domain.Product{}, ErrNotFound
	}

	p = p.Normalize()
	if other, ok := s.bySKU[p.SKU]; ok && other != p.ID {
		return domain.Product{}, ErrConflict
	}

	delete(s.bySKU, cur.SKU)
	p.CreatedAt = cur.CreatedAt
	p.UpdatedAt = now()
	s.products[p.ID] = p
	s.bySKU[p.SKU] = p.ID
	return p, nil
}

func (s *MemoryStore) GetProduct(ctx context.Context, id int64) (domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[id]
	if !ok {
		return domain.Product{}, ErrNotFound
	}
	return p, nil
}

func (s *MemoryStore) GetProductBySKU(ctx context.Context, sku string) (domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.bySKU[domain.NormalizeSKU(sku)]
	if !ok {
		return domain.Product{}, ErrNotFound
	}
	return s.products[id], nil
}

func (s *MemoryStore) DeleteProduct(ctx context.Context, id int64) (domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[id]
	if !ok {
		return domain.Product{}, ErrNotFound
	}
	delete(s.products, id)
	delete(s.bySKU, p.SKU)
	return p, nil
}

func (s *MemoryStore) DeleteProducts(ctx context.Context, ids []int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, id := range ids {
		p, ok := s.products[id]
		if !ok {
			continue
		}
		delete(s.products, id)
		delete(s.bySKU, p.SKU)
		n++
	}
	return n, nil
}

func (s *MemoryStore) DeleteAllProducts(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.products)
	s.products = make(map[int64]domain.Product)
	s.bySKU = make(map[string]int64)
	return n, nil
}

func (s *MemoryStore) ListProducts(ctx context.Context, page Page) (ProductPage, error) {
	page = page.normalized()

	s.mu.RLock()
	all := make([]domain.Product, 0, len(s.products))
	for _, p := range s.products {
		all = append(all, p)
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if !all[i].UpdatedAt.Equal(all[j].UpdatedAt) {
			return all[i].UpdatedAt.After(all[j].UpdatedAt)
		}
		return all[i].ID > all[j].ID
	})

	out := ProductPage{Items: []domain.Product{}, Total: len(all), Page: page.Number, Size: page.Size}
	start := page.Offset()
	if start >= len(all) {
		return out, nil
	}
	end := start + page.Size
	if end > len(all) {
		end = len(all)
	}
	out.Items = all[start:end]
	return out, nil
}

func (s *MemoryStore) CountProducts(ctx context.Context) (domain.ProductCounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var c domain.ProductCounts
	for _, p := range s.products {
		c.Total++
		if p.Active {
			c.Active++
		}
	}
	c.Inactive = c.Total - c.Active
	return c, nil
}

func (s *MemoryStore) SaveSession(ctx context.Context, sess domain.ImportSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[sess.ID] = sess.Snapshot()
	return nil
}

func (s *MemoryStore) GetSession(ctx context.Context, id string) (domain.ImportSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok {
		return domain.ImportSession{}, ErrNotFound
	}
	return sess.Snapshot(), nil
}

func (s *MemoryStore) ListSessions(ctx context.Context, limit int) ([]domain.ImportSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.ImportSession, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess.Snapshot())
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	if limit <= 0 || limit > len(out) {
		return out, nil
	}
	return out[:limit], nil
}

func (s *MemoryStore) CreateSubscription(ctx context.Context, sub domain.Subscription) (domain.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	if _, ok := s.subs[sub.ID]; ok {
		return domain.Subscription{}, ErrConflict
	}

	ts := now()
	sub.CreatedAt = ts
	sub.UpdatedAt = ts
	s.subs[sub.ID] = sub
	return sub, nil
}

func (s *MemoryStore) UpdateSubscription(ctx context.Context, sub domain.Subscription) (domain.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.subs[sub.ID]
	if !ok {
		return domain.Subscription{}, ErrNotFound
	}

	cur.Name = sub.Name
	cur.URL = sub.URL
	cur.EventType = sub.EventType
	cur.Active = sub.Active
	cur.Secret = sub.Secret
	cur.UpdatedAt = now()
	s.subs[sub.ID] = cur
	return cur, nil
}

func (s *MemoryStore) DeleteSubscription(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subs[id]; !ok {
		return ErrNotFound
	}
	delete(s.subs, id)
	return nil
}

func (s *MemoryStore) GetSubscription(ctx context.Context, id string) (domain.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sub, ok := s.subs[id]
	if !ok {
		return domain.Subscription{}, ErrNotFound
	}
	return sub, nil
}

func (s *MemoryStore) ListSubscriptions(ctx context.Context) ([]domain.Subscription, error) {
	return s.listSubs(func(domain.Subscription) bool { return true }), nil
}

func (s *MemoryStore) ListActiveSubscriptions(ctx context.Context, eventType domain.EventType) ([]domain.Subscription, error) {
	return s.listSubs(func(sub domain.Subscription) bool {
		return sub.Active && sub.EventType == eventType
	}), nil
}

func (s *MemoryStore) listSubs(keep func(domain.Subscription) bool) []domain.Subscription {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Subscription, 0, len(s.subs))
	for _, sub := range s.subs {
		if keep(sub) {
			out = append(out, sub)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *MemoryStore) RecordTestOutcome(ctx context.Context, id string, out domain.TestOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subs[id]
	if !ok {
		return ErrNotFound
	}

	applyTestOutcome(&sub, out)
	s.subs[id] = sub
	return nil
}

func applyTestOutcome(sub *domain.Subscription, out domain.TestOutcome) {
	code := out.StatusCode
	latency := out.Latency.Milliseconds()
	success := out.Success
	tested := out.TestedAt.UTC()

	sub.LastStatusCode = &code
	sub.LastLatencyMs = &latency
	sub.LastSuccess = &success
	sub.LastTestedAt = &tested
	sub.LastError = nil
	if out.Error != "" {
		msg := out.Error
		sub.LastError = &msg
	}
}

func (s *MemoryStore) GetIdempotency(ctx context.Context, endpoint string, idemKeyHash string) (IdempotencyRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ep, ok := s.idem[endpoint]
	if !ok {
		return IdempotencyRecord{}, false, nil
	}
	rec, ok := ep[idemKeyHash]
	if !ok {
		return IdempotencyRecord{}, false, nil
	}

	if time.Now().UTC().After(rec.ExpiresAt) {
		return IdempotencyRecord{}, false, nil
	}

	return rec, true, nil
}

func (s *MemoryStore) PutIdempotency(ctx context.Context, endpoint string, idemKeyHash string, rec IdempotencyRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ep, ok := s.idem[endpoint]
	if !ok {
		ep = make(map[string]IdempotencyRecord)
		s.idem[endpoint] = ep
	}
	ep[idemKeyHash] = rec
	return nil
}
