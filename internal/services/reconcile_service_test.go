package services

import (
	"context"
	"crypto/sha512"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/example/mandir/internal/config"
	"github.com/example/mandir/internal/models"
)

func testConfig() *config.Config {
	return &config.Config{
		PayUKey:       "merchantkey",
		PayUSalt:      "testsalt",
		PublicBaseURL: "http://localhost:8080",
		TempleName:    "Sri Mandir",
	}
}

type reconcileFixture struct {
	store     *memStore
	mailer    *fakeMailer
	messenger *fakeMessenger
	notifier  *fakeNotifier
	verifier  *fakeVerifier
	service   *ReconcileService
}

func newReconcileFixture() *reconcileFixture {
	f := &reconcileFixture{
		store:     newMemStore(),
		mailer:    &fakeMailer{},
		messenger: &fakeMessenger{},
		notifier:  &fakeNotifier{},
		verifier:  &fakeVerifier{},
	}
	cfg := testConfig()
	f.service = NewReconcileService(f.store, cfg, NewReceiptService(cfg.TempleName), f.verifier, f.mailer, f.messenger, f.notifier)
	return f
}

func (f *reconcileFixture) seedPending(t *testing.T, txnid, status string) *models.DonationRecord {
	t.Helper()
	rec := &models.DonationRecord{
		PaymentID: txnid,
		Amount:    501,
		Name:      "Asha Rao",
		Email:     "asha@example.com",
		Phone:     "9876543210",
		Status:    status,
	}
	if err := f.store.Create(context.Background(), rec); err != nil {
		t.Fatalf("seed record: %v", err)
	}
	return rec
}

// callbackHash computes the response checksum the way the gateway does.
func callbackHash(cb SuccessCallback, key, salt string) string {
	input := strings.Join([]string{
		salt, cb.Status,
		"", "", "", "", "",
		cb.Email, cb.FirstName, cb.ProductInfo, cb.Amount, cb.TxnID, key,
	}, "|")
	sum := sha512.Sum512([]byte(input))
	return hex.EncodeToString(sum[:])
}

func validSuccessCallback(txnid string) SuccessCallback {
	cb := SuccessCallback{
		TxnID:       txnid,
		Amount:      "501",
		ProductInfo: "Temple Maintenance",
		FirstName:   "Asha",
		Email:       "asha@example.com",
		Status:      "success",
		MihPayID:    "403993715531",
	}
	cb.Hash = callbackHash(cb, "merchantkey", "testsalt")
	return cb
}

func TestHandleSuccessCompletesAndDispatchesOnce(t *testing.T) {
	f := newReconcileFixture()
	f.seedPending(t, "MANDIR_ab12cd34", models.StatusPending)

	outcome, err := f.service.HandleSuccess(context.Background(), validSuccessCallback("MANDIR_ab12cd34"))
	if err != nil {
		t.Fatalf("HandleSuccess() error = %v", err)
	}
	if outcome != OutcomeApplied {
		t.Fatalf("outcome = %v, want OutcomeApplied", outcome)
	}

	rec, _ := f.store.ByPaymentID(context.Background(), "MANDIR_ab12cd34")
	if rec.Status != models.StatusCompleted {
		t.Errorf("status = %s, want %s", rec.Status, models.StatusCompleted)
	}
	if rec.InvoiceNumber == "" {
		t.Error("invoice number was not assigned")
	}
	if len(rec.GatewayResponse) == 0 {
		t.Error("gateway payload was not captured")
	}
	if f.mailer.sent != 1 {
		t.Errorf("email receipts sent = %d, want 1", f.mailer.sent)
	}
	if f.messenger.receipts != 1 {
		t.Errorf("whatsapp receipts sent = %d, want 1", f.messenger.receipts)
	}
	if !rec.ReceiptSent || !rec.NotificationSent {
		t.Errorf("dispatch flags = (%v, %v), want (true, true)", rec.ReceiptSent, rec.NotificationSent)
	}
	if f.notifier.completed != 1 {
		t.Errorf("admin notifications = %d, want 1", f.notifier.completed)
	}
	wantMedia := "http://localhost:8080/api/donations/MANDIR_ab12cd34/receipt"
	if f.messenger.lastMediaURL != wantMedia {
		t.Errorf("media url = %s, want %s", f.messenger.lastMediaURL, wantMedia)
	}
}

func TestHandleSuccessDuplicateIsNoOp(t *testing.T) {
	f := newReconcileFixture()
	f.seedPending(t, "MANDIR_ab12cd34", models.StatusPending)
	cb := validSuccessCallback("MANDIR_ab12cd34")

	if _, err := f.service.HandleSuccess(context.Background(), cb); err != nil {
		t.Fatalf("first HandleSuccess() error = %v", err)
	}
	rec, _ := f.store.ByPaymentID(context.Background(), "MANDIR_ab12cd34")
	invoice := rec.InvoiceNumber

	outcome, err := f.service.HandleSuccess(context.Background(), cb)
	if err != nil {
		t.Fatalf("second HandleSuccess() error = %v", err)
	}
	if outcome != OutcomeDuplicate {
		t.Errorf("outcome = %v, want OutcomeDuplicate", outcome)
	}

	rec, _ = f.store.ByPaymentID(context.Background(), "MANDIR_ab12cd34")
	if rec.InvoiceNumber != invoice {
		t.Errorf("invoice changed on duplicate: %s -> %s", invoice, rec.InvoiceNumber)
	}
	if f.mailer.sent != 1 {
		t.Errorf("email receipts sent = %d, want 1 after duplicate", f.mailer.sent)
	}
	if f.messenger.receipts != 1 {
		t.Errorf("whatsapp receipts sent = %d, want 1 after duplicate", f.messenger.receipts)
	}
}

func TestHandleSuccessTamperedHashLeavesRecordUnchanged(t *testing.T) {
	f := newReconcileFixture()
	f.seedPending(t, "MANDIR_ab12cd34", models.StatusPending)

	cb := validSuccessCallback("MANDIR_ab12cd34")
	cb.Hash = strings.Repeat("0", 128)

	outcome, err := f.service.HandleSuccess(context.Background(), cb)
	if err != nil {
		t.Fatalf("HandleSuccess() error = %v", err)
	}
	if outcome != OutcomeRejected {
		t.Errorf("outcome = %v, want OutcomeRejected", outcome)
	}

	rec, _ := f.store.ByPaymentID(context.Background(), "MANDIR_ab12cd34")
	if rec.Status != models.StatusPending {
		t.Errorf("status = %s, want pending after tampered callback", rec.Status)
	}
	if f.mailer.sent != 0 || f.messenger.receipts != 0 {
		t.Error("dispatch occurred for a tampered callback")
	}
}

func TestHandleSuccessTamperedAmountRejected(t *testing.T) {
	f := newReconcileFixture()
	f.seedPending(t, "MANDIR_ab12cd34", models.StatusPending)

	cb := validSuccessCallback("MANDIR_ab12cd34")
	cb.Amount = "1" // claimed amount no longer matches the signed one

	outcome, err := f.service.HandleSuccess(context.Background(), cb)
	if err != nil {
		t.Fatalf("HandleSuccess() error = %v", err)
	}
	if outcome != OutcomeRejected {
		t.Errorf("outcome = %v, want OutcomeRejected", outcome)
	}
}

func TestHandleSuccessOrphanCallback(t *testing.T) {
	f := newReconcileFixture()

	outcome, err := f.service.HandleSuccess(context.Background(), validSuccessCallback("MANDIR_unknown1"))
	if err != nil {
		t.Fatalf("HandleSuccess() error = %v", err)
	}
	if outcome != OutcomeOrphan {
		t.Errorf("outcome = %v, want OutcomeOrphan", outcome)
	}
	if f.mailer.sent != 0 {
		t.Error("dispatch occurred for an orphan callback")
	}
}

func TestHandleSuccessMissingSaltFailsClosed(t *testing.T) {
	f := newReconcileFixture()
	f.service.cfg.PayUSalt = ""
	f.seedPending(t, "MANDIR_ab12cd34", models.StatusPending)

	outcome, err := f.service.HandleSuccess(context.Background(), validSuccessCallback("MANDIR_ab12cd34"))
	if err == nil {
		t.Fatal("expected configuration error with missing salt")
	}
	if outcome != OutcomeRejected {
		t.Errorf("outcome = %v, want OutcomeRejected", outcome)
	}

	rec, _ := f.store.ByPaymentID(context.Background(), "MANDIR_ab12cd34")
	if rec.Status != models.StatusPending {
		t.Errorf("status = %s, want pending", rec.Status)
	}
}

func TestHandleFailureTransitionsAndNotifiesOnce(t *testing.T) {
	f := newReconcileFixture()
	f.seedPending(t, "MANDIR_ab12cd34", models.StatusPending)

	cb := FailureCallback{TxnID: "MANDIR_ab12cd34", Status: "failure", ErrorMessage: "Transaction declined by bank"}

	outcome, err := f.service.HandleFailure(context.Background(), cb)
	if err != nil {
		t.Fatalf("HandleFailure() error = %v", err)
	}
	if outcome != OutcomeApplied {
		t.Fatalf("outcome = %v, want OutcomeApplied", outcome)
	}

	rec, _ := f.store.ByPaymentID(context.Background(), "MANDIR_ab12cd34")
	if rec.Status != models.StatusFailed {
		t.Errorf("status = %s, want %s", rec.Status, models.StatusFailed)
	}
	if rec.InvoiceNumber != "" {
		t.Error("invoice assigned on failure")
	}
	if f.mailer.sent != 0 {
		t.Error("receipt dispatched for a failed donation")
	}
	if f.messenger.failureNotices != 1 {
		t.Errorf("failure notices = %d, want 1", f.messenger.failureNotices)
	}
	if f.notifier.failed != 1 {
		t.Errorf("admin failure notifications = %d, want 1", f.notifier.failed)
	}

	// Retry of the same failure callback is a no-op.
	outcome, err = f.service.HandleFailure(context.Background(), cb)
	if err != nil {
		t.Fatalf("second HandleFailure() error = %v", err)
	}
	if outcome != OutcomeDuplicate {
		t.Errorf("second outcome = %v, want OutcomeDuplicate", outcome)
	}
	if f.messenger.failureNotices != 1 {
		t.Errorf("failure notices after retry = %d, want 1", f.messenger.failureNotices)
	}
}

func TestHandleFailureDoesNotTouchCompletedRecord(t *testing.T) {
	f := newReconcileFixture()
	rec := f.seedPending(t, "MANDIR_ab12cd34", models.StatusCompleted)
	rec.InvoiceNumber = "INV-TEST-0001"

	outcome, err := f.service.HandleFailure(context.Background(), FailureCallback{TxnID: "MANDIR_ab12cd34", Status: "failure"})
	if err != nil {
		t.Fatalf("HandleFailure() error = %v", err)
	}
	if outcome != OutcomeDuplicate {
		t.Errorf("outcome = %v, want OutcomeDuplicate", outcome)
	}

	got, _ := f.store.ByPaymentID(context.Background(), "MANDIR_ab12cd34")
	if got.Status != models.StatusCompleted {
		t.Errorf("status = %s, terminal state was mutated", got.Status)
	}
}

func TestVerifyUPISuccess(t *testing.T) {
	f := newReconcileFixture()
	f.seedPending(t, "MANDIR_upi00001", models.StatusPendingUPI)
	f.verifier.result = &VerificationResult{State: VerificationSuccess, GatewayStatus: "success", Raw: []byte(`{"status":1}`)}

	resp, err := f.service.VerifyUPI(context.Background(), "MANDIR_upi00001")
	if err != nil {
		t.Fatalf("VerifyUPI() error = %v", err)
	}
	if !resp.Success || resp.Status != models.StatusCompletedUPI {
		t.Errorf("response = %+v, want success with status %s", resp, models.StatusCompletedUPI)
	}

	rec, _ := f.store.ByPaymentID(context.Background(), "MANDIR_upi00001")
	if rec.Status != models.StatusCompletedUPI {
		t.Errorf("status = %s, want %s", rec.Status, models.StatusCompletedUPI)
	}
	if rec.InvoiceNumber == "" {
		t.Error("invoice number was not assigned on UPI completion")
	}
	if f.mailer.sent != 1 {
		t.Errorf("email receipts sent = %d, want 1", f.mailer.sent)
	}
}

func TestVerifyUPIFailed(t *testing.T) {
	f := newReconcileFixture()
	f.seedPending(t, "MANDIR_upi00001", models.StatusPendingUPI)
	f.verifier.result = &VerificationResult{State: VerificationFailed, GatewayStatus: "failure", Message: "payment bounced"}

	resp, err := f.service.VerifyUPI(context.Background(), "MANDIR_upi00001")
	if err != nil {
		t.Fatalf("VerifyUPI() error = %v", err)
	}
	if resp.Success || resp.Status != models.StatusFailedUPI {
		t.Errorf("response = %+v, want failure with status %s", resp, models.StatusFailedUPI)
	}

	rec, _ := f.store.ByPaymentID(context.Background(), "MANDIR_upi00001")
	if rec.Status != models.StatusFailedUPI {
		t.Errorf("status = %s, want %s", rec.Status, models.StatusFailedUPI)
	}
	if f.messenger.failureNotices != 1 {
		t.Errorf("failure notices = %d, want 1", f.messenger.failureNotices)
	}
	if f.mailer.sent != 0 {
		t.Error("receipt dispatched for a failed UPI donation")
	}
}

func TestVerifyUPIPendingLeavesRecordUntouched(t *testing.T) {
	f := newReconcileFixture()
	f.seedPending(t, "MANDIR_upi00001", models.StatusPendingUPI)
	f.verifier.result = &VerificationResult{State: VerificationPending, GatewayStatus: "in progress"}

	resp, err := f.service.VerifyUPI(context.Background(), "MANDIR_upi00001")
	if err != nil {
		t.Fatalf("VerifyUPI() error = %v", err)
	}
	if resp.Success {
		t.Error("pending verification reported success")
	}

	rec, _ := f.store.ByPaymentID(context.Background(), "MANDIR_upi00001")
	if rec.Status != models.StatusPendingUPI {
		t.Errorf("status = %s, want %s", rec.Status, models.StatusPendingUPI)
	}
}

func TestVerifyUPITerminalRecordSkipsGateway(t *testing.T) {
	f := newReconcileFixture()
	f.seedPending(t, "MANDIR_upi00001", models.StatusCompletedUPI)
	f.verifier.err = context.DeadlineExceeded // would fail if called

	resp, err := f.service.VerifyUPI(context.Background(), "MANDIR_upi00001")
	if err != nil {
		t.Fatalf("VerifyUPI() error = %v", err)
	}
	if !resp.Success {
		t.Error("completed record should answer success from the ledger")
	}
	if f.verifier.calls != 0 {
		t.Errorf("gateway verify calls = %d, want 0 for a terminal record", f.verifier.calls)
	}
	if f.mailer.sent != 0 {
		t.Error("re-dispatch occurred on repeated poll of a terminal record")
	}
}

func TestVerifyUPIUnknownTxnid(t *testing.T) {
	f := newReconcileFixture()

	resp, err := f.service.VerifyUPI(context.Background(), "MANDIR_missing0")
	if err != nil {
		t.Fatalf("VerifyUPI() error = %v", err)
	}
	if resp.Success || resp.Status != "not_found" {
		t.Errorf("response = %+v, want not_found", resp)
	}
}

func TestDispatchFailureLeavesFlagForRetry(t *testing.T) {
	f := newReconcileFixture()
	f.seedPending(t, "MANDIR_ab12cd34", models.StatusPending)
	f.mailer.fail = true

	if _, err := f.service.HandleSuccess(context.Background(), validSuccessCallback("MANDIR_ab12cd34")); err != nil {
		t.Fatalf("HandleSuccess() error = %v", err)
	}

	rec, _ := f.store.ByPaymentID(context.Background(), "MANDIR_ab12cd34")
	if rec.Status != models.StatusCompleted {
		t.Errorf("status = %s, dispatch failure must not roll back the transition", rec.Status)
	}
	if rec.ReceiptSent {
		t.Error("receipt flag set even though the email failed")
	}
	// Other channel still got its attempt.
	if f.messenger.receipts != 1 {
		t.Errorf("whatsapp receipts = %d, want 1 despite email failure", f.messenger.receipts)
	}

	// Manual re-send once the channel recovers.
	f.mailer.fail = false
	if err := f.service.ResendReceipt(context.Background(), "MANDIR_ab12cd34"); err != nil {
		t.Fatalf("ResendReceipt() error = %v", err)
	}
	rec, _ = f.store.ByPaymentID(context.Background(), "MANDIR_ab12cd34")
	if !rec.ReceiptSent {
		t.Error("receipt flag still unset after successful re-send")
	}
	if f.mailer.sent != 1 {
		t.Errorf("email receipts = %d, want exactly 1 successful send", f.mailer.sent)
	}
	if f.messenger.receipts != 1 {
		t.Errorf("whatsapp receipts = %d, resend must not repeat a delivered channel", f.messenger.receipts)
	}
}

func TestResendReceiptRejectsPendingRecord(t *testing.T) {
	f := newReconcileFixture()
	f.seedPending(t, "MANDIR_ab12cd34", models.StatusPending)

	if err := f.service.ResendReceipt(context.Background(), "MANDIR_ab12cd34"); err != ErrNotCompleted {
		t.Errorf("ResendReceipt() error = %v, want ErrNotCompleted", err)
	}
}
