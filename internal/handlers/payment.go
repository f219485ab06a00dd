package handlers

import (
	"log"
	"net/url"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/example/mandir/internal/config"
	"github.com/example/mandir/internal/services"
)

// PaymentHandler exposes the gateway callback endpoints and the UPI
// verification endpoint.
type PaymentHandler struct {
	cfg       *config.Config
	reconcile *services.ReconcileService
}

// NewPaymentHandler constructs a PaymentHandler.
func NewPaymentHandler(cfg *config.Config, reconcile *services.ReconcileService) *PaymentHandler {
	return &PaymentHandler{cfg: cfg, reconcile: reconcile}
}

// Success handles the gateway's server-to-server success POST and
// redirects the donor's browser to the thank-you page. Orphan and
// duplicate callbacks still get the success-shaped redirect so the
// gateway does not retry; only a hash mismatch is turned away.
func (h *PaymentHandler) Success(c *fiber.Ctx) error {
	cb := services.SuccessCallback{
		TxnID:       c.FormValue("txnid"),
		Amount:      c.FormValue("amount"),
		ProductInfo: c.FormValue("productinfo"),
		FirstName:   c.FormValue("firstname"),
		Email:       c.FormValue("email"),
		Status:      c.FormValue("status"),
		Hash:        c.FormValue("hash"),
		MihPayID:    c.FormValue("mihpayid"),
	}

	outcome, err := h.reconcile.HandleSuccess(c.Context(), cb)
	if err != nil {
		log.Printf("[Payment] success callback error for txnid %s: %v", cb.TxnID, err)
		return c.Redirect(h.failureRedirect(cb.TxnID, "payment processing error"), fiber.StatusSeeOther)
	}

	if outcome == services.OutcomeRejected {
		return c.Redirect(h.failureRedirect(cb.TxnID, "payment verification failed"), fiber.StatusSeeOther)
	}

	q := url.Values{}
	q.Set("txnid", cb.TxnID)
	q.Set("amount", cb.Amount)
	return c.Redirect(h.cfg.SuccessRedirectURL+"?"+q.Encode(), fiber.StatusSeeOther)
}

// Failure handles the gateway's failure POST. The gateway does not sign
// failure callbacks, so none is verified here.
func (h *PaymentHandler) Failure(c *fiber.Ctx) error {
	cb := services.FailureCallback{
		TxnID:        c.FormValue("txnid"),
		Status:       c.FormValue("status"),
		ErrorMessage: c.FormValue("error_Message"),
		MihPayID:     c.FormValue("mihpayid"),
	}

	if _, err := h.reconcile.HandleFailure(c.Context(), cb); err != nil {
		log.Printf("[Payment] failure callback error for txnid %s: %v", cb.TxnID, err)
	}

	msg := cb.ErrorMessage
	if strings.TrimSpace(msg) == "" {
		msg = "payment failed"
	}
	return c.Redirect(h.failureRedirect(cb.TxnID, msg), fiber.StatusSeeOther)
}

type upiVerifyRequest struct {
	TxnID string `json:"txnid"`
}

// VerifyUPI polls the gateway for a UPI intent payment's outcome.
func (h *PaymentHandler) VerifyUPI(c *fiber.Ctx) error {
	var req upiVerifyRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.TxnID) == "" {
		return fiber.NewError(fiber.StatusBadRequest, "txnid is required")
	}

	result, err := h.reconcile.VerifyUPI(c.Context(), req.TxnID)
	if err != nil {
		log.Printf("[Payment] UPI verification error for txnid %s: %v", req.TxnID, err)
		return fiber.NewError(fiber.StatusBadGateway, "verification unavailable")
	}

	return c.JSON(result)
}

func (h *PaymentHandler) failureRedirect(txnid, msg string) string {
	q := url.Values{}
	q.Set("txnid", txnid)
	q.Set("error", msg)
	return h.cfg.FailureRedirectURL + "?" + q.Encode()
}
