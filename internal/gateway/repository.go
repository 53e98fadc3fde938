package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"gorm.io/gorm"
)

// ErrInstanceNotFound is returned when no gateway instance matches.
var ErrInstanceNotFound = errors.New("gateway instance not found")

// Repository stores gateway instances. Save validates credentials against
// the kind's schema; Update is the runtime write path used by the token
// cache to persist refreshed token material.
type Repository interface {
	Save(ctx context.Context, inst *Instance) error
	Get(ctx context.Context, id string) (*Instance, error)
	ListForService(ctx context.Context, serviceID string) ([]Instance, error)
	Update(ctx context.Context, inst *Instance) error
}

type GormRepository struct {
	db *gorm.DB
}

func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

func (r *GormRepository) Save(ctx context.Context, inst *Instance) error {
	if err := ValidateProperties(inst.Kind, inst.Properties); err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Save(inst).Error; err != nil {
		return fmt.Errorf("saving gateway instance %s: %w", inst.ID, err)
	}
	return nil
}

func (r *GormRepository) Get(ctx context.Context, id string) (*Instance, error) {
	var inst Instance
	err := r.db.WithContext(ctx).First(&inst, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrInstanceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading gateway instance %s: %w", id, err)
	}
	return &inst, nil
}

func (r *GormRepository) ListForService(ctx context.Context, serviceID string) ([]Instance, error) {
	var out []Instance
	err := r.db.WithContext(ctx).
		Where("service_id = ?", serviceID).
		Order("priority asc").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("listing gateway instances for service %s: %w", serviceID, err)
	}
	return out, nil
}

func (r *GormRepository) Update(ctx context.Context, inst *Instance) error {
	if err := r.db.WithContext(ctx).Save(inst).Error; err != nil {
		return fmt.Errorf("updating gateway instance %s: %w", inst.ID, err)
	}
	return nil
}

// MemoryRepository is the in-process implementation used by tests.
type MemoryRepository struct {
	mu   sync.RWMutex
	data map[string]Instance
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{data: make(map[string]Instance)}
}

func (r *MemoryRepository) Save(ctx context.Context, inst *Instance) error {
	if err := ValidateProperties(inst.Kind, inst.Properties); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[inst.ID] = *inst
	return nil
}

func (r *MemoryRepository) Get(ctx context.Context, id string) (*Instance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.data[id]
	if !ok {
		return nil, ErrInstanceNotFound
	}
	cpy := inst
	return &cpy, nil
}

func (r *MemoryRepository) ListForService(ctx context.Context, serviceID string) ([]Instance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Instance
	for _, inst := range r.data {
		if inst.ServiceID == serviceID {
			out = append(out, inst)
		}
	}
	return out, nil
}

func (r *MemoryRepository) Update(ctx context.Context, inst *Instance) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.data[inst.ID]; !ok {
		return ErrInstanceNotFound
	}
	r.data[inst.ID] = *inst
	return nil
}
