package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/parcelhq/trackwise-backend/pkg/db/models"
	"github.com/parcelhq/trackwise-backend/pkg/enums"
	"github.com/parcelhq/trackwise-backend/pkg/pagination"
)

// Repository handles billing persistence: customers, plans, subscriptions,
// credit purchases, payment methods, auto-recharge settings and transactions.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	FindCustomer(ctx context.Context, id uuid.UUID) (*models.Customer, error)
	FindCustomerByStripeID(ctx context.Context, stripeCustomerID string) (*models.Customer, error)
	UpdateCustomer(ctx context.Context, customer *models.Customer) error

	FindPlanByID(ctx context.Context, id string) (*models.Plan, error)

	CreateSubscription(ctx context.Context, subscription *models.Subscription) error
	UpdateSubscription(ctx context.Context, subscription *models.Subscription) error
	FindActiveSubscription(ctx context.Context, customerID uuid.UUID) (*models.Subscription, error)
	FindSubscriptionByStripeID(ctx context.Context, stripeSubscriptionID string) (*models.Subscription, error)

	CreatePurchase(ctx context.Context, purchase *models.CreditPurchase) error
	UpdatePurchase(ctx context.Context, purchase *models.CreditPurchase) error
	FindPurchaseByCheckoutSessionID(ctx context.Context, sessionID string) (*models.CreditPurchase, error)
	ListSpendablePurchases(ctx context.Context, customerID uuid.UUID, now time.Time) ([]models.CreditPurchase, error)

	CreatePaymentMethod(ctx context.Context, method *models.PaymentMethod) error
	UpdatePaymentMethod(ctx context.Context, method *models.PaymentMethod) error
	FindPaymentMethod(ctx context.Context, id uuid.UUID) (*models.PaymentMethod, error)
	FindDefaultPaymentMethod(ctx context.Context, customerID uuid.UUID) (*models.PaymentMethod, error)
	FindPaymentMethodByStripeID(ctx context.Context, stripePaymentMethodID string) (*models.PaymentMethod, error)
	ListPaymentMethods(ctx context.Context, customerID uuid.UUID) ([]models.PaymentMethod, error)
	ClearDefaultPaymentMethod(ctx context.Context, customerID uuid.UUID) error
	DeletePaymentMethod(ctx context.Context, id uuid.UUID) error

	FindAutoRechargeSettings(ctx context.Context, customerID uuid.UUID) (*models.AutoRechargeSettings, error)
	SaveAutoRechargeSettings(ctx context.Context, settings *models.AutoRechargeSettings) error
	ListEnabledAutoRechargeSettings(ctx context.Context, limit int) ([]models.AutoRechargeSettings, error)

	CreateTransaction(ctx context.Context, transaction *models.BillingTransaction) error
	ListTransactions(ctx context.Context, params ListTransactionsQuery) ([]models.BillingTransaction, *pagination.Cursor, error)
}

type repository struct {
	db *gorm.DB
}

// ListTransactionsQuery configures billing history queries.
type ListTransactionsQuery struct {
	CustomerID uuid.UUID
	Limit      int
	Cursor     *pagination.Cursor
	Type       *enums.TransactionType
	Status     *enums.TransactionStatus
}

// NewRepository returns a billing repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
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

func (r *repository) FindCustomerByStripeID(ctx context.Context, stripeCustomerID string) (*models.Customer, error) {
	if stripeCustomerID == "" {
		return nil, nil
	}
	var customer models.Customer
	if err := r.db.WithContext(ctx).
		Where("stripe_customer_id = ?", stripeCustomerID).
		First(&customer).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &customer, nil
}

func (r *repository) UpdateCustomer(ctx context.Context, customer *models.Customer) error {
	return r.db.WithContext(ctx).Save(customer).Error
}

func (r *repository) FindPlanByID(ctx context.Context, id string) (*models.Plan, error) {
	if id == "" {
		return nil, nil
	}
	var plan models.Plan
	if err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&plan).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &plan, nil
}

func (r *repository) CreateSubscription(ctx context.Context, subscription *models.Subscription) error {
	return r.db.WithContext(ctx).Create(subscription).Error
}

func (r *repository) UpdateSubscription(ctx context.Context, subscription *models.Subscription) error {
	return r.db.WithContext(ctx).Save(subscription).Error
}

func (r *repository) FindActiveSubscription(ctx context.Context, customerID uuid.UUID) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.WithContext(ctx).
		Where("customer_id = ? AND status = ?", customerID, enums.SubscriptionStatusActive).
		Order("created_at DESC").
		First(&sub).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (r *repository) FindSubscriptionByStripeID(ctx context.Context, stripeSubscriptionID string) (*models.Subscription, error) {
	if stripeSubscriptionID == "" {
		return nil, nil
	}
	var sub models.Subscription
	if err := r.db.WithContext(ctx).
		Where("stripe_subscription_id = ?", stripeSubscriptionID).
		First(&sub).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (r *repository) CreatePurchase(ctx context.Context, purchase *models.CreditPurchase) error {
	return r.db.WithContext(ctx).Create(purchase).Error
}

func (r *repository) UpdatePurchase(ctx context.Context, purchase *models.CreditPurchase) error {
	return r.db.WithContext(ctx).Save(purchase).Error
}

func (r *repository) FindPurchaseByCheckoutSessionID(ctx context.Context, sessionID string) (*models.CreditPurchase, error) {
	if sessionID == "" {
		return nil, nil
	}
	var purchase models.CreditPurchase
	if err := r.db.WithContext(ctx).
		Where("stripe_checkout_session_id = ?", sessionID).
		First(&purchase).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &purchase, nil
}

// ListSpendablePurchases returns completed, non-expired packs ordered so the
// earliest-expiring pack is attributed first. Packs without an expiry sort last.
func (r *repository) ListSpendablePurchases(ctx context.Context, customerID uuid.UUID, now time.Time) ([]models.CreditPurchase, error) {
	var purchases []models.CreditPurchase
	if err := r.db.WithContext(ctx).
		Where("customer_id = ? AND status = ?", customerID, enums.PurchaseStatusCompleted).
		Where("expires_at IS NULL OR expires_at > ?", now).
		Order("expires_at IS NULL, expires_at ASC, created_at ASC").
		Find(&purchases).Error; err != nil {
		return nil, err
	}
	return purchases, nil
}

func (r *repository) CreatePaymentMethod(ctx context.Context, method *models.PaymentMethod) error {
	return r.db.WithContext(ctx).Create(method).Error
}

func (r *repository) UpdatePaymentMethod(ctx context.Context, method *models.PaymentMethod) error {
	return r.db.WithContext(ctx).Save(method).Error
}

func (r *repository) FindPaymentMethod(ctx context.Context, id uuid.UUID) (*models.PaymentMethod, error) {
	var method models.PaymentMethod
	if err := r.db.WithContext(ctx).First(&method, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &method, nil
}

func (r *repository) FindDefaultPaymentMethod(ctx context.Context, customerID uuid.UUID) (*models.PaymentMethod, error) {
	var method models.PaymentMethod
	if err := r.db.WithContext(ctx).
		Where("customer_id = ? AND is_default", customerID).
		Order("created_at DESC").
		First(&method).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &method, nil
}

func (r *repository) FindPaymentMethodByStripeID(ctx context.Context, stripePaymentMethodID string) (*models.PaymentMethod, error) {
	if stripePaymentMethodID == "" {
		return nil, nil
	}
	var method models.PaymentMethod
	if err := r.db.WithContext(ctx).
		Where("stripe_payment_method_id = ?", stripePaymentMethodID).
		First(&method).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &method, nil
}

func (r *repository) ListPaymentMethods(ctx context.Context, customerID uuid.UUID) ([]models.PaymentMethod, error) {
	var methods []models.PaymentMethod
	if err := r.db.WithContext(ctx).
		Where("customer_id = ?", customerID).
		Order("created_at DESC").
		Find(&methods).Error; err != nil {
		return nil, err
	}
	return methods, nil
}

func (r *repository) ClearDefaultPaymentMethod(ctx context.Context, customerID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.PaymentMethod{}).
		Where("customer_id = ? AND is_default", customerID).
		Update("is_default", false).Error
}

func (r *repository) DeletePaymentMethod(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).
		Where("id = ?", id).
		Delete(&models.PaymentMethod{}).Error
}

func (r *repository) FindAutoRechargeSettings(ctx context.Context, customerID uuid.UUID) (*models.AutoRechargeSettings, error) {
	var settings models.AutoRechargeSettings
	if err := r.db.WithContext(ctx).
		Where("customer_id = ?", customerID).
		First(&settings).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &settings, nil
}

func (r *repository) SaveAutoRechargeSettings(ctx context.Context, settings *models.AutoRechargeSettings) error {
	return r.db.WithContext(ctx).Save(settings).Error
}

func (r *repository) ListEnabledAutoRechargeSettings(ctx context.Context, limit int) ([]models.AutoRechargeSettings, error) {
	if limit <= 0 {
		limit = 250
	}
	var settings []models.AutoRechargeSettings
	if err := r.db.WithContext(ctx).
		Where("enabled AND payment_method_id IS NOT NULL").
		Order("updated_at ASC").
		Limit(limit).
		Find(&settings).Error; err != nil {
		return nil, err
	}
	return settings, nil
}

func (r *repository) CreateTransaction(ctx context.Context, transaction *models.BillingTransaction) error {
	return r.db.WithContext(ctx).Create(transaction).Error
}

func (r *repository) ListTransactions(ctx context.Context, params ListTransactionsQuery) ([]models.BillingTransaction, *pagination.Cursor, error) {
	limit := pagination.NormalizeLimit(params.Limit)
	query := r.db.WithContext(ctx).Model(&models.BillingTransaction{}).Where("customer_id = ?", params.CustomerID)
	if params.Type != nil {
		query = query.Where("type = ?", *params.Type)
	}
	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}
	if params.Cursor != nil {
		query = query.Where(
			"created_at < ? OR (created_at = ? AND id < ?)",
			params.Cursor.CreatedAt, params.Cursor.CreatedAt, params.Cursor.ID,
		)
	}

	var transactions []models.BillingTransaction
	if err := query.Order("created_at DESC, id DESC").Limit(pagination.LimitWithBuffer(limit)).Find(&transactions).Error; err != nil {
		return nil, nil, err
	}

	if len(transactions) > limit {
		next := transactions[limit]
		transactions = transactions[:limit]
		return transactions, &pagination.Cursor{
			CreatedAt: next.CreatedAt,
			ID:        next.ID,
		}, nil
	}

	return transactions, nil, nil
}
