package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/example/mandir/internal/models"
)

// invoiceLockKey is the advisory lock id guarding invoice sequencing.
const invoiceLockKey = 874221

// GormStore is the Postgres-backed ledger implementation.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore constructs a GormStore.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Create(ctx context.Context, rec *models.DonationRecord) error {
	return s.db.WithContext(ctx).Create(rec).Error
}

func (s *GormStore) ByPaymentID(ctx context.Context, paymentID string) (*models.DonationRecord, error) {
	var rec models.DonationRecord
	if err := s.db.WithContext(ctx).
		Where("payment_id = ?", paymentID).
		First(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

func (s *GormStore) ByID(ctx context.Context, id uuid.UUID) (*models.DonationRecord, error) {
	var rec models.DonationRecord
	if err := s.db.WithContext(ctx).
		First(&rec, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

func (s *GormStore) Transition(ctx context.Context, paymentID string, from []string, to string, updates map[string]any) (bool, error) {
	values := map[string]any{"status": to}
	for k, v := range updates {
		values[k] = v
	}

	res := s.db.WithContext(ctx).
		Model(&models.DonationRecord{}).
		Where("payment_id = ? AND status IN ?", paymentID, from).
		Updates(values)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *GormStore) Complete(ctx context.Context, paymentID string, from []string, to string, gatewayResponse []byte) (string, bool, error) {
	var invoice string
	var applied bool

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("SELECT pg_advisory_xact_lock(?)", invoiceLockKey).Error; err != nil {
			return err
		}

		now := time.Now()
		monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())

		var seq int64
		if err := tx.Model(&models.DonationRecord{}).
			Where("invoice_number <> '' AND updated_at >= ?", monthStart).
			Count(&seq).Error; err != nil {
			return err
		}
		invoice = fmt.Sprintf("INV-%s-%04d", now.Format("0601"), seq+1)

		values := map[string]any{
			"status":         to,
			"invoice_number": invoice,
		}
		if gatewayResponse != nil {
			values["gateway_response"] = gatewayResponse
		}

		res := tx.Model(&models.DonationRecord{}).
			Where("payment_id = ? AND status IN ?", paymentID, from).
			Updates(values)
		if res.Error != nil {
			return res.Error
		}
		applied = res.RowsAffected > 0
		return nil
	})
	if err != nil {
		return "", false, err
	}
	if !applied {
		return "", false, nil
	}
	return invoice, true, nil
}

func (s *GormStore) MarkReceiptSent(ctx context.Context, paymentID string) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&models.DonationRecord{}).
		Where("payment_id = ? AND receipt_sent = false", paymentID).
		Update("receipt_sent", true)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *GormStore) MarkNotificationSent(ctx context.Context, paymentID string) (bool, error) {
	res := s.db.WithContext(ctx).
		Model(&models.DonationRecord{}).
		Where("payment_id = ? AND notification_sent = false", paymentID).
		Update("notification_sent", true)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *GormStore) CategoryName(ctx context.Context, id uuid.UUID) (string, error) {
	var category models.DonationCategory
	if err := s.db.WithContext(ctx).First(&category, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrNotFound
		}
		return "", err
	}
	return category.Name, nil
}

func (s *GormStore) EventTitle(ctx context.Context, id uuid.UUID) (string, error) {
	var event models.Event
	if err := s.db.WithContext(ctx).First(&event, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrNotFound
		}
		return "", err
	}
	return event.Title, nil
}
