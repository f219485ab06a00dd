package ledger

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/example/mandir/internal/models"
)

// ErrNotFound is returned when no donation matches the given key.
var ErrNotFound = errors.New("ledger: donation not found")

// Store is the donation ledger. It is the single source of truth for
// donation state; callers never cache status across invocations.
//
// Transition and the Mark* methods are compare-and-set: they apply a
// single conditional update and report whether this call changed the
// row. Under concurrent duplicate callbacks only one caller observes
// applied=true, which is what makes dispatch exactly-once.
type Store interface {
	Create(ctx context.Context, rec *models.DonationRecord) error
	ByPaymentID(ctx context.Context, paymentID string) (*models.DonationRecord, error)
	ByID(ctx context.Context, id uuid.UUID) (*models.DonationRecord, error)

	// Transition sets status to `to` only if the current status is one
	// of `from`. Extra column updates ride in the same statement.
	Transition(ctx context.Context, paymentID string, from []string, to string, updates map[string]any) (bool, error)

	// Complete is Transition plus invoice-number assignment in one
	// transaction. The invoice number is generated under a lock so two
	// donations completing concurrently cannot share a number.
	Complete(ctx context.Context, paymentID string, from []string, to string, gatewayResponse []byte) (invoice string, applied bool, err error)

	MarkReceiptSent(ctx context.Context, paymentID string) (bool, error)
	MarkNotificationSent(ctx context.Context, paymentID string) (bool, error)

	CategoryName(ctx context.Context, id uuid.UUID) (string, error)
	EventTitle(ctx context.Context, id uuid.UUID) (string, error)
}
