package credits

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/parcelhq/trackwise-backend/pkg/db/models"
	"github.com/parcelhq/trackwise-backend/pkg/enums"
	"github.com/parcelhq/trackwise-backend/pkg/pagination"
)

// Repository handles the append-only usage ledger and the customer row lock
// that serializes consumption.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	// LockCustomer acquires the per-customer row lock. Every consumption
	// decision for a customer happens under this lock so derived balances
	// cannot race with ledger inserts.
	LockCustomer(ctx context.Context, id uuid.UUID) (*models.Customer, error)
	FindCustomer(ctx context.Context, id uuid.UUID) (*models.Customer, error)

	InsertUsageEvent(ctx context.Context, event *models.UsageEvent) error
	CountMonthlyUsage(ctx context.Context, customerID uuid.UUID, periodStart, periodEnd time.Time) (int64, error)
	CountPurchaseUsage(ctx context.Context, purchaseIDs []uuid.UUID) (map[uuid.UUID]int64, error)
	CountTotalUsage(ctx context.Context, customerID uuid.UUID) (int64, error)
	ListUsageEvents(ctx context.Context, params ListUsageQuery) ([]models.UsageEvent, *pagination.Cursor, error)
}

// ListUsageQuery configures usage history queries.
type ListUsageQuery struct {
	CustomerID uuid.UUID
	Limit      int
	Cursor     *pagination.Cursor
	Source     *enums.UsageSource
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) LockCustomer(ctx context.Context, id uuid.UUID) (*models.Customer, error) {
	query := r.db.WithContext(ctx)
	// sqlite (tests) has no row locks; its writes are serialized anyway.
	if query.Dialector.Name() != "sqlite" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var customer models.Customer
	if err := query.Where("id = ?", id).First(&customer).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &customer, nil
}

func (r *repository) FindCustomer(ctx context.Context, id uuid.UUID) (*models.Customer, error) {
	var customer models.Customer
	if err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&customer).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &customer, nil
}

func (r *repository) InsertUsageEvent(ctx context.Context, event *models.UsageEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

// CountMonthlyUsage counts monthly-attributed events stamped with exactly the
// provided period boundaries. Events from previous periods never match, which
// is what resets the allowance on renewal.
func (r *repository) CountMonthlyUsage(ctx context.Context, customerID uuid.UUID, periodStart, periodEnd time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.UsageEvent{}).
		Where("customer_id = ? AND source_type = ?", customerID, enums.UsageSourceMonthly).
		Where("subscription_period_start = ? AND subscription_period_end = ?", periodStart, periodEnd).
		Count(&count).Error
	return count, err
}

func (r *repository) CountPurchaseUsage(ctx context.Context, purchaseIDs []uuid.UUID) (map[uuid.UUID]int64, error) {
	counts := make(map[uuid.UUID]int64, len(purchaseIDs))
	if len(purchaseIDs) == 0 {
		return counts, nil
	}

	type row struct {
		PurchaseID uuid.UUID
		Total      int64
	}
	var rows []row
	err := r.db.WithContext(ctx).
		Model(&models.UsageEvent{}).
		Select("purchase_id, COUNT(*) AS total").
		Where("purchase_id IN (?)", purchaseIDs).
		Group("purchase_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		counts[r.PurchaseID] = r.Total
	}
	return counts, nil
}

func (r *repository) CountTotalUsage(ctx context.Context, customerID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&models.UsageEvent{}).
		Where("customer_id = ?", customerID).
		Count(&count).Error
	return count, err
}

func (r *repository) ListUsageEvents(ctx context.Context, params ListUsageQuery) ([]models.UsageEvent, *pagination.Cursor, error) {
	limit := pagination.NormalizeLimit(params.Limit)
	query := r.db.WithContext(ctx).Model(&models.UsageEvent{}).Where("customer_id = ?", params.CustomerID)
	if params.Source != nil {
		query = query.Where("source_type = ?", *params.Source)
	}
	if params.Cursor != nil {
		query = query.Where(
			"created_at < ? OR (created_at = ? AND id < ?)",
			params.Cursor.CreatedAt, params.Cursor.CreatedAt, params.Cursor.ID,
		)
	}

	var events []models.UsageEvent
	if err := query.Order("created_at DESC, id DESC").Limit(pagination.LimitWithBuffer(limit)).Find(&events).Error; err != nil {
		return nil, nil, err
	}

	if len(events) > limit {
		next := events[limit]
		events = events[:limit]
		return events, &pagination.Cursor{
			CreatedAt: next.CreatedAt,
			ID:        next.ID,
		}, nil
	}

	return events, nil, nil
}
