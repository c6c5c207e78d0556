package catalog

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/ETAnderson/productimporter/internal/domain"
	"github.com/ETAnderson/productimporter/internal/events"
	"github.com/ETAnderson/productimporter/internal/logging"
	"github.com/ETAnderson/productimporter/internal/state"
)

const (
	ScopeAll      = "all"
	ScopeSelected = "selected"
)

type Emitter interface {
	Emit(ev events.Event)
}

// ProductInput carries create and update requests. Nil fields keep their
// current value on update.
type ProductInput struct {
	SKU         *string          `json:"sku"`
	Name        *string          `json:"name"`
	Price       *decimal.Decimal `json:"price"`
	Description *string          `json:"description"`
	Active      *bool            `json:"active"`
}

// Service is the single-record mutation path. Every successful mutation
// emits its record event; rejected input never reaches the store.
type Service struct {
	store  state.RecordStore
	events Emitter
	log    *logrus.Entry
}

func NewService(store state.RecordStore, ev Emitter, log *logrus.Entry) *Service {
	return &Service{
		store:  store,
		events: ev,
		log:    logging.OrDiscard(log).WithField("component", "catalog"),
	}
}

func (s *Service) Get(ctx context.Context, id int64) (domain.Product, error) {
	return s.store.GetProduct(ctx, id)
}

func (s *Service) List(ctx context.Context, page state.Page) (state.ProductPage, error) {
	return s.store.ListProducts(ctx, page)
}

func (s *Service) Counts(ctx context.Context) (domain.ProductCounts, error) {
	return s.store.CountProducts(ctx)
}

func (s *Service) Create(ctx context.Context, in ProductInput) (domain.Product, error) {
	p := domain.Product{Active: true}
	apply(&p, in)
	p = p.Normalize()

	if err := domain.ValidateProduct(p); err != nil {
		return domain.Product{}, err
	}

	created, err := s.store.CreateProduct(ctx, p)
	if err != nil {
		return domain.Product{}, err
	}

	s.emit(events.RecordChanged(domain.EventRecordCreated, created))
	return created, nil
}

func (s *Service) Update(ctx context.Context, id int64, in ProductInput) (domain.Product, error) {
	p, err := s.store.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	apply(&p, in)
	p = p.Normalize()

	if err := domain.ValidateProduct(p); err != nil {
		return domain.Product{}, err
	}

	updated, err := s.store.UpdateProduct(ctx, p)
	if err != nil {
		return domain.Product{}, err
	}

	s.emit(events.RecordChanged(domain.EventRecordUpdated, updated))
	return updated, nil
}

func (s *Service) Delete(ctx context.Context, id int64) (domain.Product, error) {
	deleted, err := s.store.DeleteProduct(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}

	s.emit(events.RecordChanged(domain.EventRecordDeleted, deleted))
	return deleted, nil
}

// BulkDelete removes every product.
func (s *Service) BulkDelete(ctx context.Context) (int, error) {
	n, err := s.store.DeleteAllProducts(ctx)
	if err != nil {
		return 0, fmt.Errorf("delete all products: %w", err)
	}

	s.log.WithField("deleted", n).Info("deleted all products")
	s.emit(events.BulkDeleteCompleted(n, ScopeAll))
	return n, nil
}

// DeleteSelected removes the given ids. Unknown ids are ignored; the count
// reflects rows actually removed.
func (s *Service) DeleteSelected(ctx context.Context, ids []int64) (int, error) {
	if len(ids) == 0 {
		return 0, domain.NewValidationError("ids", "is required")
	}

	n, err := s.store.DeleteProducts(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("delete products: %w", err)
	}

	s.log.WithFields(logrus.Fields{"requested": len(ids), "deleted": n}).Info("deleted selected products")
	s.emit(events.BulkDeleteCompleted(n, ScopeSelected))
	return n, nil
}

func (s *Service) emit(ev events.Event) {
	if s.events == nil {
		return
	}
	s.events.Emit(ev)
}

func apply(p *domain.Product, in ProductInput) {
	if in.SKU != nil {
		p.SKU = *in.SKU
	}
	if in.Name != nil {
		p.Name = *in.Name
	}
	if in.Price != nil {
		p.Price = *in.Price
	}
	if in.Description != nil {
		p.Description = *in.Description
	}
	if in.Active != nil {
		p.Active = *in.Active
	}
}
