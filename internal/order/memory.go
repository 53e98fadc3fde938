package order

import (
	"context"
	"fmt"
	"sync"
)

// MemoryRepository is the in-process implementation used by tests. Its
// WithLock holds a per-order mutex for the whole unit of work, matching
// the exclusive row lock semantics of the SQL implementation.
type MemoryRepository struct {
	mu     sync.Mutex
	byTx   map[string]*Order
	byRef  map[string]string // serviceID+"/"+reference -> transaction id
	locks  map[string]*sync.Mutex
	nextID uint
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byTx:  make(map[string]*Order),
		byRef: make(map[string]string),
		locks: make(map[string]*sync.Mutex),
	}
}

func refKey(serviceID, reference string) string { return serviceID + "/" + reference }

func (r *MemoryRepository) Create(ctx context.Context, ord *Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := refKey(ord.ServiceID, ord.ServiceReference)
	if _, exists := r.byRef[key]; exists {
		return fmt.Errorf("%w: %s/%s", ErrDuplicateReference, ord.ServiceID, ord.ServiceReference)
	}
	r.nextID++
	ord.ID = r.nextID
	cpy := *ord
	r.byTx[ord.TransactionID] = &cpy
	r.byRef[key] = ord.TransactionID
	return nil
}

func (r *MemoryRepository) GetByReference(ctx context.Context, serviceID, reference string) (*Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	txID, ok := r.byRef[refKey(serviceID, reference)]
	if !ok {
		return nil, ErrNotFound
	}
	cpy := *r.byTx[txID]
	return &cpy, nil
}

func (r *MemoryRepository) GetByTransactionID(ctx context.Context, transactionID string) (*Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ord, ok := r.byTx[transactionID]
	if !ok {
		return nil, ErrNotFound
	}
	cpy := *ord
	return &cpy, nil
}

func (r *MemoryRepository) ListByService(ctx context.Context, serviceID string) ([]Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Order
	for _, ord := range r.byTx {
		if ord.ServiceID == serviceID {
			out = append(out, *ord)
		}
	}
	return out, nil
}

func (r *MemoryRepository) WithLock(ctx context.Context, transactionID string, fn func(ord *Order) error) error {
	r.mu.Lock()
	if _, ok := r.byTx[transactionID]; !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	rowLock, ok := r.locks[transactionID]
	if !ok {
		rowLock = &sync.Mutex{}
		r.locks[transactionID] = rowLock
	}
	r.mu.Unlock()

	rowLock.Lock()
	defer rowLock.Unlock()

	// Re-read under the row lock: an earlier holder may have replaced
	// the stored order.
	r.mu.Lock()
	work := *r.byTx[transactionID]
	r.mu.Unlock()

	if err := fn(&work); err != nil {
		return err
	}

	r.mu.Lock()
	r.byTx[transactionID] = &work
	r.mu.Unlock()
	return nil
}
