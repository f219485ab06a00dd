package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/example/mandir/internal/ledger"
	"github.com/example/mandir/internal/models"
)

// memStore is an in-memory ledger.Store for exercising the reconciler
// without a database. Compare-and-set semantics match the Postgres
// implementation.
type memStore struct {
	mu         sync.Mutex
	records    map[string]*models.DonationRecord
	categories map[uuid.UUID]string
	events     map[uuid.UUID]string
	invoiceSeq int
}

func newMemStore() *memStore {
	return &memStore{
		records:    make(map[string]*models.DonationRecord),
		categories: make(map[uuid.UUID]string),
		events:     make(map[uuid.UUID]string),
	}
}

func (s *memStore) Create(_ context.Context, rec *models.DonationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if _, exists := s.records[rec.PaymentID]; exists {
		return fmt.Errorf("duplicate payment id %s", rec.PaymentID)
	}
	s.records[rec.PaymentID] = rec
	return nil
}

func (s *memStore) ByPaymentID(_ context.Context, paymentID string) (*models.DonationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[paymentID]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	clone := *rec
	return &clone, nil
}

func (s *memStore) ByID(_ context.Context, id uuid.UUID) (*models.DonationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.records {
		if rec.ID == id {
			clone := *rec
			return &clone, nil
		}
	}
	return nil, ledger.ErrNotFound
}

func (s *memStore) Transition(_ context.Context, paymentID string, from []string, to string, updates map[string]any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[paymentID]
	if !ok || !statusIn(rec.Status, from) {
		return false, nil
	}
	rec.Status = to
	if payload, ok := updates["gateway_response"].([]byte); ok {
		rec.GatewayResponse = payload
	}
	return true, nil
}

func (s *memStore) Complete(_ context.Context, paymentID string, from []string, to string, gatewayResponse []byte) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[paymentID]
	if !ok || !statusIn(rec.Status, from) {
		return "", false, nil
	}
	s.invoiceSeq++
	invoice := fmt.Sprintf("INV-TEST-%04d", s.invoiceSeq)
	rec.Status = to
	rec.InvoiceNumber = invoice
	if gatewayResponse != nil {
		rec.GatewayResponse = gatewayResponse
	}
	return invoice, true, nil
}

func (s *memStore) MarkReceiptSent(_ context.Context, paymentID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[paymentID]
	if !ok || rec.ReceiptSent {
		return false, nil
	}
	rec.ReceiptSent = true
	return true, nil
}

func (s *memStore) MarkNotificationSent(_ context.Context, paymentID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[paymentID]
	if !ok || rec.NotificationSent {
		return false, nil
	}
	rec.NotificationSent = true
	return true, nil
}

func (s *memStore) CategoryName(_ context.Context, id uuid.UUID) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	name, ok := s.categories[id]
	if !ok {
		return "", ledger.ErrNotFound
	}
	return name, nil
}

func (s *memStore) EventTitle(_ context.Context, id uuid.UUID) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	title, ok := s.events[id]
	if !ok {
		return "", ledger.ErrNotFound
	}
	return title, nil
}

func statusIn(status string, set []string) bool {
	for _, s := range set {
		if s == status {
			return true
		}
	}
	return false
}

type fakeMailer struct {
	sent int
	fail bool
}

func (f *fakeMailer) SendReceipt(*models.DonationRecord, string, []byte) bool {
	if f.fail {
		return false
	}
	f.sent++
	return true
}

type fakeMessenger struct {
	receipts       int
	failureNotices int
	fail           bool
	lastMediaURL   string
}

func (f *fakeMessenger) SendReceipt(_ *models.DonationRecord, _ string, mediaURL string) bool {
	if f.fail {
		return false
	}
	f.receipts++
	f.lastMediaURL = mediaURL
	return true
}

func (f *fakeMessenger) SendFailureNotice(*models.DonationRecord, string) bool {
	if f.fail {
		return false
	}
	f.failureNotices++
	return true
}

type fakeNotifier struct {
	completed int
	failed    int
}

func (f *fakeNotifier) NotifyDonationCompleted(*models.DonationRecord, string) { f.completed++ }
func (f *fakeNotifier) NotifyDonationFailed(*models.DonationRecord, string)    { f.failed++ }

type fakeVerifier struct {
	result *VerificationResult
	err    error
	calls  int
}

func (f *fakeVerifier) Verify(context.Context, string) (*VerificationResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}
