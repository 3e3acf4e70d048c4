package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/frahmantamala/autoservice-payments/internal"
	paymentmodel "github.com/frahmantamala/autoservice-payments/internal/core/datamodel/payment"
	paymentpkg "github.com/frahmantamala/autoservice-payments/internal/payment"
)

type PaymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) paymentpkg.RepositoryAPI {
	return &PaymentRepository{
		db: db,
	}
}

func (r *PaymentRepository) CreateIntent(ctx context.Context, intent *paymentmodel.PaymentIntent) error {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "code"}}, DoNothing: true}).
		Create(intent)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return internal.ErrIntentExists
	}
	return nil
}

func (r *PaymentRepository) GetIntentByCode(ctx context.Context, code string) (*paymentmodel.PaymentIntent, error) {
	var intent paymentmodel.PaymentIntent
	err := r.db.WithContext(ctx).Where("code = ?", code).First(&intent).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, internal.ErrIntentNotFound
		}
		return nil, err
	}
	return &intent, nil
}

func (r *PaymentRepository) CompleteIntent(ctx context.Context, intentID int64, p *paymentmodel.Payment, now time.Time) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&paymentmodel.PaymentIntent{}).
			Where("id = ? AND status = ? AND expires_at > ?", intentID, paymentmodel.IntentStatusPending, now).
			Updates(map[string]interface{}{
				"status":       paymentmodel.IntentStatusCompleted,
				"completed_at": now,
				"updated_at":   now,
			})
		if res.Error != nil {
			return fmt.Errorf("update intent: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return internal.ErrIntentNotPending
		}

		res = tx.Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "external_ref"}}, DoNothing: true}).
			Create(p)
		if res.Error != nil {
			return fmt.Errorf("insert payment: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return internal.ErrExternalRefConflict
		}
		return nil
	})
}

func (r *PaymentRepository) TransitionIntent(ctx context.Context, intentID int64, to paymentmodel.IntentStatus, now time.Time) (bool, error) {
	if !to.IsTerminal() {
		return false, fmt.Errorf("cannot transition intent to %s", to)
	}

	res := r.db.WithContext(ctx).Model(&paymentmodel.PaymentIntent{}).
		Where("id = ? AND status = ?", intentID, paymentmodel.IntentStatusPending).
		Updates(map[string]interface{}{
			"status":     to,
			"updated_at": now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *PaymentRepository) FindExpiredPendingIntents(ctx context.Context, now time.Time, limit int) ([]*paymentmodel.PaymentIntent, error) {
	var intents []*paymentmodel.PaymentIntent
	q := r.db.WithContext(ctx).
		Where("status = ? AND expires_at <= ?", paymentmodel.IntentStatusPending, now).
		Order("expires_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&intents).Error
	return intents, err
}

func (r *PaymentRepository) FindPendingIntentsByBooking(ctx context.Context, bookingID int64) ([]*paymentmodel.PaymentIntent, error) {
	var intents []*paymentmodel.PaymentIntent
	err := r.db.WithContext(ctx).
		Where("booking_id = ? AND status = ?", bookingID, paymentmodel.IntentStatusPending).
		Order("id ASC").
		Find(&intents).Error
	return intents, err
}

func (r *PaymentRepository) GetPaymentByIntentID(ctx context.Context, intentID int64) (*paymentmodel.Payment, error) {
	var payments []*paymentmodel.Payment
	err := r.db.WithContext(ctx).Where("intent_id = ?", intentID).Order("id ASC").Limit(1).Find(&payments).Error
	if err != nil {
		return nil, err
	}
	if len(payments) == 0 {
		return nil, nil
	}
	return payments[0], nil
}

func (r *PaymentRepository) CountPaymentsByIntent(ctx context.Context, intentID int64) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&paymentmodel.Payment{}).Where("intent_id = ?", intentID).Count(&count).Error
	return count, err
}

func (r *PaymentRepository) LogCallback(ctx context.Context, entry *paymentmodel.CallbackLog) error {
	return r.db.WithContext(ctx).Create(entry).Error
}
