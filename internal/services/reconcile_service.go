package services

import (
	"context"
	"encoding/json"
	"errors"
	"log"

	"github.com/example/mandir/internal/config"
	"github.com/example/mandir/internal/ledger"
	"github.com/example/mandir/internal/models"
	"github.com/example/mandir/internal/payu"
)

// ErrNotCompleted is returned when a receipt is requested for a
// donation that never reached a completed state.
var ErrNotCompleted = errors.New("donation is not completed")

// CallbackOutcome classifies how a callback was handled. Everything but
// OutcomeRejected is answered success-shaped to the gateway so it does
// not retry indefinitely.
type CallbackOutcome int

const (
	// OutcomeApplied means this invocation performed the transition.
	OutcomeApplied CallbackOutcome = iota
	// OutcomeDuplicate means the record was already terminal.
	OutcomeDuplicate
	// OutcomeOrphan means no record matched the txnid.
	OutcomeOrphan
	// OutcomeRejected means the callback failed hash verification.
	OutcomeRejected
)

// SuccessCallback is the field set of a gateway success POST.
type SuccessCallback struct {
	TxnID       string
	Amount      string
	ProductInfo string
	FirstName   string
	Email       string
	Status      string
	Hash        string
	MihPayID    string
}

// FailureCallback is the field set of a gateway failure POST. The
// gateway does not sign failure posts; no funds have moved.
type FailureCallback struct {
	TxnID        string
	Status       string
	ErrorMessage string
	MihPayID     string
}

// UPIVerifyResponse is the wire shape of the UPI verification endpoint.
type UPIVerifyResponse struct {
	Success bool   `json:"success"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// ReceiptMailer delivers a rendered receipt by email. Best effort.
type ReceiptMailer interface {
	SendReceipt(rec *models.DonationRecord, purpose string, pdf []byte) bool
}

// ReceiptMessenger delivers a receipt summary over a messaging channel.
type ReceiptMessenger interface {
	SendReceipt(rec *models.DonationRecord, purpose, mediaURL string) bool
	SendFailureNotice(rec *models.DonationRecord, reason string) bool
}

// AdminNotifier pushes donation events to the temple admin channel.
type AdminNotifier interface {
	NotifyDonationCompleted(rec *models.DonationRecord, purpose string)
	NotifyDonationFailed(rec *models.DonationRecord, reason string)
}

// UPIVerifier confirms UPI intent payments against the gateway.
type UPIVerifier interface {
	Verify(ctx context.Context, txnid string) (*VerificationResult, error)
}

// ReconcileService is the payment state machine. It consumes gateway
// callbacks and UPI verification results, performs at most one status
// transition per donation and triggers downstream dispatch at most
// once. All transitions go through the ledger's compare-and-set
// primitives; a duplicate or racing callback loses the CAS and skips
// dispatch entirely.
type ReconcileService struct {
	store    ledger.Store
	cfg      *config.Config
	receipts *ReceiptService
	upi      UPIVerifier
	mailer   ReceiptMailer
	msgr     ReceiptMessenger
	admin    AdminNotifier
}

// NewReconcileService constructs a ReconcileService.
func NewReconcileService(store ledger.Store, cfg *config.Config, receipts *ReceiptService, upi UPIVerifier, mailer ReceiptMailer, msgr ReceiptMessenger, admin AdminNotifier) *ReconcileService {
	return &ReconcileService{
		store:    store,
		cfg:      cfg,
		receipts: receipts,
		upi:      upi,
		mailer:   mailer,
		msgr:     msgr,
		admin:    admin,
	}
}

// HandleSuccess processes a gateway success callback. The hash is
// verified before anything else; an unverifiable callback is never
// trusted, whatever status it claims.
func (s *ReconcileService) HandleSuccess(ctx context.Context, cb SuccessCallback) (CallbackOutcome, error) {
	fields := payu.ResponseFields{
		Key:         s.cfg.PayUKey,
		TxnID:       cb.TxnID,
		Amount:      cb.Amount,
		ProductInfo: cb.ProductInfo,
		FirstName:   cb.FirstName,
		Email:       cb.Email,
		Status:      cb.Status,
	}

	ok, err := payu.VerifyResponseHash(fields, s.cfg.PayUSalt, cb.Hash)
	if err != nil {
		return OutcomeRejected, err
	}
	if !ok {
		log.Printf("[Reconcile] hash mismatch on success callback for txnid %s, ignoring", cb.TxnID)
		return OutcomeRejected, nil
	}

	rec, err := s.store.ByPaymentID(ctx, cb.TxnID)
	if err != nil {
		if err == ledger.ErrNotFound {
			log.Printf("[Reconcile] orphan success callback for unknown txnid %s", cb.TxnID)
			return OutcomeOrphan, nil
		}
		return OutcomeOrphan, err
	}

	payload := marshalCallback(map[string]string{
		"txnid":       cb.TxnID,
		"amount":      cb.Amount,
		"productinfo": cb.ProductInfo,
		"firstname":   cb.FirstName,
		"email":       cb.Email,
		"status":      cb.Status,
		"mihpayid":    cb.MihPayID,
	})

	invoice, applied, err := s.store.Complete(ctx, cb.TxnID,
		[]string{models.StatusPending, models.StatusPendingUPI},
		models.StatusCompleted, payload)
	if err != nil {
		return OutcomeOrphan, err
	}
	if !applied {
		log.Printf("[Reconcile] duplicate success callback for txnid %s (status %s), skipping", cb.TxnID, rec.Status)
		return OutcomeDuplicate, nil
	}

	rec.Status = models.StatusCompleted
	rec.InvoiceNumber = invoice
	rec.GatewayResponse = payload
	log.Printf("[Reconcile] txnid %s completed, invoice %s", cb.TxnID, invoice)

	// Transition is durable at this point; dispatch failures leave a
	// completed-but-undelivered record that can be re-sent manually.
	s.dispatchReceipt(ctx, rec)

	return OutcomeApplied, nil
}

// HandleFailure processes a gateway failure callback. The gateway does
// not sign these, so only the ledger guards apply.
func (s *ReconcileService) HandleFailure(ctx context.Context, cb FailureCallback) (CallbackOutcome, error) {
	rec, err := s.store.ByPaymentID(ctx, cb.TxnID)
	if err != nil {
		if err == ledger.ErrNotFound {
			log.Printf("[Reconcile] orphan failure callback for unknown txnid %s", cb.TxnID)
			return OutcomeOrphan, nil
		}
		return OutcomeOrphan, err
	}

	payload := marshalCallback(map[string]string{
		"txnid":         cb.TxnID,
		"status":        cb.Status,
		"error_Message": cb.ErrorMessage,
		"mihpayid":      cb.MihPayID,
	})

	applied, err := s.store.Transition(ctx, cb.TxnID,
		[]string{models.StatusPending, models.StatusPendingUPI},
		models.StatusFailed,
		map[string]any{"gateway_response": payload})
	if err != nil {
		return OutcomeOrphan, err
	}
	if !applied {
		log.Printf("[Reconcile] duplicate failure callback for txnid %s (status %s), skipping", cb.TxnID, rec.Status)
		return OutcomeDuplicate, nil
	}

	rec.Status = models.StatusFailed
	log.Printf("[Reconcile] txnid %s failed: %s", cb.TxnID, cb.ErrorMessage)
	s.dispatchFailureNotice(ctx, rec, cb.ErrorMessage)

	return OutcomeApplied, nil
}

// VerifyUPI polls the gateway verification API for a UPI donation and
// applies the corresponding transition. The verification call itself is
// trusted; there is no hash on this path, but the idempotency guards
// still apply.
func (s *ReconcileService) VerifyUPI(ctx context.Context, txnid string) (UPIVerifyResponse, error) {
	rec, err := s.store.ByPaymentID(ctx, txnid)
	if err != nil {
		if err == ledger.ErrNotFound {
			return UPIVerifyResponse{Success: false, Status: "not_found", Message: "transaction not found"}, nil
		}
		return UPIVerifyResponse{}, err
	}

	// Terminal records answer from the ledger without touching the
	// gateway; a repeated poll must not re-dispatch.
	if rec.IsTerminal() {
		return UPIVerifyResponse{
			Success: rec.IsCompleted(),
			Status:  rec.Status,
		}, nil
	}

	result, err := s.upi.Verify(ctx, txnid)
	if err != nil {
		return UPIVerifyResponse{}, err
	}

	switch result.State {
	case VerificationSuccess:
		invoice, applied, err := s.store.Complete(ctx, txnid,
			[]string{models.StatusPending, models.StatusPendingUPI},
			models.StatusCompletedUPI, result.Raw)
		if err != nil {
			return UPIVerifyResponse{}, err
		}
		if applied {
			rec.Status = models.StatusCompletedUPI
			rec.InvoiceNumber = invoice
			rec.GatewayResponse = result.Raw
			log.Printf("[Reconcile] txnid %s completed via UPI, invoice %s", txnid, invoice)
			s.dispatchReceipt(ctx, rec)
		}
		return UPIVerifyResponse{Success: true, Status: models.StatusCompletedUPI}, nil

	case VerificationFailed:
		applied, err := s.store.Transition(ctx, txnid,
			[]string{models.StatusPending, models.StatusPendingUPI},
			models.StatusFailedUPI,
			map[string]any{"gateway_response": result.Raw})
		if err != nil {
			return UPIVerifyResponse{}, err
		}
		if applied {
			rec.Status = models.StatusFailedUPI
			s.dispatchFailureNotice(ctx, rec, result.Message)
		}
		return UPIVerifyResponse{Success: false, Status: models.StatusFailedUPI, Message: result.Message}, nil

	default:
		return UPIVerifyResponse{Success: false, Status: models.StatusPendingUPI, Message: "payment not yet confirmed"}, nil
	}
}

// ResendReceipt re-runs dispatch for a completed record whose receipt
// never went out, the degraded state a crash between transition and
// dispatch leaves behind.
func (s *ReconcileService) ResendReceipt(ctx context.Context, paymentID string) error {
	rec, err := s.store.ByPaymentID(ctx, paymentID)
	if err != nil {
		return err
	}
	if !rec.IsCompleted() {
		return ErrNotCompleted
	}
	s.dispatchReceipt(ctx, rec)
	return nil
}

// dispatchReceipt renders the receipt and delivers it over each
// configured channel. The ledger flags are the authoritative guard: a
// flag already set means another invocation delivered, so skip. Each
// channel fails independently; a failure leaves its flag false for a
// later manual re-send and never propagates to the caller.
func (s *ReconcileService) dispatchReceipt(ctx context.Context, rec *models.DonationRecord) {
	purpose := s.purposeFor(ctx, rec)

	s.admin.NotifyDonationCompleted(rec, purpose)

	var pdf []byte
	if !rec.ReceiptSent || !rec.NotificationSent {
		var err error
		pdf, err = s.receipts.Render(rec, purpose)
		if err != nil {
			log.Printf("[Dispatch] receipt render failed for txnid %s: %v", rec.PaymentID, err)
			return
		}
	}

	if !rec.ReceiptSent {
		if s.mailer.SendReceipt(rec, purpose, pdf) {
			if ok, err := s.store.MarkReceiptSent(ctx, rec.PaymentID); err != nil {
				log.Printf("[Dispatch] failed to mark receipt sent for txnid %s: %v", rec.PaymentID, err)
			} else if ok {
				rec.ReceiptSent = true
				log.Printf("[Dispatch] receipt emailed for txnid %s", rec.PaymentID)
			}
		} else {
			log.Printf("[Dispatch] email receipt not sent for txnid %s", rec.PaymentID)
		}
	}

	if !rec.NotificationSent {
		mediaURL := s.cfg.PublicBaseURL + "/api/donations/" + rec.PaymentID + "/receipt"
		if s.msgr.SendReceipt(rec, purpose, mediaURL) {
			if ok, err := s.store.MarkNotificationSent(ctx, rec.PaymentID); err != nil {
				log.Printf("[Dispatch] failed to mark notification sent for txnid %s: %v", rec.PaymentID, err)
			} else if ok {
				rec.NotificationSent = true
				log.Printf("[Dispatch] WhatsApp receipt sent for txnid %s", rec.PaymentID)
			}
		} else {
			log.Printf("[Dispatch] WhatsApp receipt not sent for txnid %s", rec.PaymentID)
		}
	}
}

func (s *ReconcileService) dispatchFailureNotice(ctx context.Context, rec *models.DonationRecord, reason string) {
	s.admin.NotifyDonationFailed(rec, reason)
	s.msgr.SendFailureNotice(rec, reason)
}

// purposeFor resolves the human-readable donation purpose from the
// record's category or event reference.
func (s *ReconcileService) purposeFor(ctx context.Context, rec *models.DonationRecord) string {
	if rec.CategoryID != nil {
		if name, err := s.store.CategoryName(ctx, *rec.CategoryID); err == nil && name != "" {
			return name
		}
	}
	if rec.EventID != nil {
		if title, err := s.store.EventTitle(ctx, *rec.EventID); err == nil && title != "" {
			return title
		}
	}
	return defaultPurpose
}

func marshalCallback(fields map[string]string) []byte {
	payload, err := json.Marshal(fields)
	if err != nil {
		return nil
	}
	return payload
}
