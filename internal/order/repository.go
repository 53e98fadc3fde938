package order

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository stores orders. WithLock runs fn against the order row held
// under an exclusive lock for the duration of one atomic unit of work:
// every verification path (and the two-phase initiation path) goes
// through it so that no second caller can observe a pending status and
// race a second settlement. fn's mutations are persisted only when it
// returns nil; any error rolls the unit back, leaving the row untouched.
type Repository interface {
	Create(ctx context.Context, ord *Order) error
	GetByReference(ctx context.Context, serviceID, reference string) (*Order, error)
	GetByTransactionID(ctx context.Context, transactionID string) (*Order, error)
	ListByService(ctx context.Context, serviceID string) ([]Order, error)
	WithLock(ctx context.Context, transactionID string, fn func(ord *Order) error) error
}

type GormRepository struct {
	db *gorm.DB
}

func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

func (r *GormRepository) Create(ctx context.Context, ord *Order) error {
	err := r.db.WithContext(ctx).Create(ord).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: %s/%s", ErrDuplicateReference, ord.ServiceID, ord.ServiceReference)
	}
	if err != nil {
		return fmt.Errorf("creating order %s: %w", ord.ServiceReference, err)
	}
	return nil
}

func (r *GormRepository) GetByReference(ctx context.Context, serviceID, reference string) (*Order, error) {
	var ord Order
	err := r.db.WithContext(ctx).
		First(&ord, "service_id = ? AND service_reference = ?", serviceID, reference).Error
	return returned(&ord, err)
}

func (r *GormRepository) GetByTransactionID(ctx context.Context, transactionID string) (*Order, error) {
	var ord Order
	err := r.db.WithContext(ctx).First(&ord, "transaction_id = ?", transactionID).Error
	return returned(&ord, err)
}

func (r *GormRepository) ListByService(ctx context.Context, serviceID string) ([]Order, error) {
	var out []Order
	err := r.db.WithContext(ctx).
		Where("service_id = ?", serviceID).
		Order("created_at desc").
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("listing orders for service %s: %w", serviceID, err)
	}
	return out, nil
}

// WithLock acquires SELECT ... FOR UPDATE on the order row. The provider
// round-trip intentionally runs while the lock is held; concurrent
// callbacks for the same order block until the first unit completes.
func (r *GormRepository) WithLock(ctx context.Context, transactionID string, fn func(ord *Order) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ord Order
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&ord, "transaction_id = ?", transactionID).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("locking order %s: %w", transactionID, err)
		}
		if err := fn(&ord); err != nil {
			return err
		}
		return tx.Save(&ord).Error
	})
}

func returned(ord *Order, err error) (*Order, error) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return ord, nil
}
