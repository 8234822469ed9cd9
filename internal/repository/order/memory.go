package order

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/Additional-Code/pharmadesk/internal/entity"
)

// MemoryRepository keeps orders in process. It backs the "memory" storage
// driver for local runs and the service and transport tests.
type MemoryRepository struct {
	mu     sync.RWMutex
	orders map[string]entity.Order
}

var _ Repository = (*MemoryRepository)(nil)

// NewMemoryRepository returns an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{orders: make(map[string]entity.Order)}
}

func (m *MemoryRepository) List(ctx context.Context, q Query) ([]entity.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.filter(q), nil
}

func (m *MemoryRepository) Customers(ctx context.Context, q Query) ([]entity.CustomerSummary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return groupCustomers(m.filter(q)), nil
}

func (m *MemoryRepository) CollectionDays(ctx context.Context, q Query) ([]entity.CollectionDay, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	q.WithCollectionDate = true
	orders := m.filter(q)
	dates := make([]time.Time, 0, len(orders))
	for _, o := range orders {
		dates = append(dates, *o.CollectionDate)
	}
	return bucketCollectionDays(dates), nil
}

func (m *MemoryRepository) GetByID(ctx context.Context, id string) (*entity.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := cloneOrder(o)
	return &cp, nil
}

func (m *MemoryRepository) Update(ctx context.Context, id string, u Update) (*entity.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	if u.LogisticsStatus != nil {
		o.LogisticsStatus = *u.LogisticsStatus
	}
	if u.PharmacyStatus != nil {
		o.PharmacyStatus = *u.PharmacyStatus
	}
	if u.CollectionDate != nil {
		o.CollectionDate = *u.CollectionDate
	}
	if u.CollectionStatus != nil {
		o.CollectionStatus = *u.CollectionStatus
	}
	updatedAt := u.UpdatedAt
	o.UpdatedAt = &updatedAt
	m.orders[id] = o

	cp := cloneOrder(o)
	return &cp, nil
}

func (m *MemoryRepository) AppendLog(ctx context.Context, id string, entry entity.LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return ErrNotFound
	}
	entry.OrderID = id
	o.Logs = append(slices.Clone(o.Logs), entry)
	m.orders[id] = o
	return nil
}

func (m *MemoryRepository) AppendRemark(ctx context.Context, id string, remark entity.Remark) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return ErrNotFound
	}
	remark.OrderID = id
	o.Remarks = append(slices.Clone(o.Remarks), remark)
	m.orders[id] = o
	return nil
}

func (m *MemoryRepository) Insert(ctx context.Context, o *entity.Order) error {
	if o.ID == "" {
		o.ID = NewID()
	}
	o.Normalize()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.ID] = cloneOrder(*o)
	return nil
}

// filter must be called with the lock held.
func (m *MemoryRepository) filter(q Query) []entity.Order {
	out := make([]entity.Order, 0)
	if q.Visibility.Empty() {
		return out
	}
	for _, o := range m.orders {
		if q.matches(&o) {
			out = append(out, cloneOrder(o))
		}
	}
	sortOrders(out, q.Window)
	return out
}

func cloneOrder(o entity.Order) entity.Order {
	o.Logs = slices.Clone(o.Logs)
	o.Remarks = slices.Clone(o.Remarks)
	o.Extra = maps.Clone(o.Extra)
	o.Normalize()
	return o
}
