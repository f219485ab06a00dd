package handlers

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/example/mandir/internal/config"
	"github.com/example/mandir/internal/ledger"
	"github.com/example/mandir/internal/models"
	"github.com/example/mandir/internal/payu"
	"github.com/example/mandir/internal/services"
	"github.com/example/mandir/internal/utils"
)

// DonationHandler manages donation endpoints.
type DonationHandler struct {
	db        *gorm.DB
	cfg       *config.Config
	store     ledger.Store
	donations *services.DonationService
	reconcile *services.ReconcileService
	receipts  *services.ReceiptService
}

// NewDonationHandler constructs DonationHandler.
func NewDonationHandler(db *gorm.DB, cfg *config.Config, store ledger.Store, donations *services.DonationService, reconcile *services.ReconcileService, receipts *services.ReceiptService) *DonationHandler {
	return &DonationHandler{
		db:        db,
		cfg:       cfg,
		store:     store,
		donations: donations,
		reconcile: reconcile,
		receipts:  receipts,
	}
}

type initiateDonationRequest struct {
	Amount     int64  `json:"amount"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	Phone      string `json:"phone"`
	Message    string `json:"message"`
	PANCard    string `json:"pan_card"`
	CategoryID string `json:"category_id"`
	EventID    string `json:"event_id"`
	Channel    string `json:"channel"`
	SuccessURL string `json:"surl"`
	FailureURL string `json:"furl"`
}

// Initiate creates a pending donation and returns the signed gateway
// checkout form (or a UPI intent link for the UPI channel).
func (h *DonationHandler) Initiate(c *fiber.Ctx) error {
	var req initiateDonationRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	intent := services.DonationIntent{
		Amount:  req.Amount,
		Name:    req.Name,
		Email:   req.Email,
		Phone:   req.Phone,
		Message: req.Message,
		PANCard: req.PANCard,
		Channel: req.Channel,
	}

	if req.CategoryID != "" {
		id, err := uuid.Parse(req.CategoryID)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid category_id")
		}
		intent.CategoryID = &id
	}
	if req.EventID != "" {
		id, err := uuid.Parse(req.EventID)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid event_id")
		}
		intent.EventID = &id
	}

	surl := req.SuccessURL
	if surl == "" {
		surl = h.cfg.PublicBaseURL + "/api/payment/success"
	}
	furl := req.FailureURL
	if furl == "" {
		furl = h.cfg.PublicBaseURL + "/api/payment/failure"
	}

	form, err := h.donations.Initiate(c.Context(), intent, surl, furl)
	if err != nil {
		if errors.Is(err, services.ErrInvalidIntent) {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if errors.Is(err, payu.ErrMissingCredentials) {
			return fiber.NewError(fiber.StatusServiceUnavailable, "live payments are disabled")
		}
		return err
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success":     true,
		"txnid":       form.PaymentID,
		"payment_url": form.PaymentURL,
		"params":      form.Params,
	})
}

// List returns donation history for the admin panel.
func (h *DonationHandler) List(c *fiber.Ctx) error {
	pg := utils.ParsePagination(c)
	query := h.db.Model(&models.DonationRecord{})

	if status := strings.TrimSpace(c.Query("status")); status != "" {
		query = query.Where("status = ?", status)
	}
	if categoryID := strings.TrimSpace(c.Query("category_id")); categoryID != "" {
		parsed, err := uuid.Parse(categoryID)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid category_id")
		}
		query = query.Where("category_id = ?", parsed)
	}
	if email := strings.TrimSpace(c.Query("email")); email != "" {
		query = query.Where("email = ?", email)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return err
	}

	var donations []models.DonationRecord
	if err := query.
		Order("created_at desc").
		Limit(pg.Limit).
		Offset(pg.Offset).
		Find(&donations).Error; err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    donations,
		"pagination": fiber.Map{
			"current_page":   pg.Page,
			"items_per_page": pg.Limit,
			"total_items":    total,
		},
	})
}

// Receipt serves the rendered receipt PDF. The id parameter accepts
// either the donation uuid or the txnid.
func (h *DonationHandler) Receipt(c *fiber.Ctx) error {
	rec, err := h.findRecord(c.Params("id"))
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "donation not found")
		}
		return err
	}

	if !rec.IsCompleted() || rec.InvoiceNumber == "" {
		return fiber.NewError(fiber.StatusConflict, "receipt is only available for completed donations")
	}

	purpose := h.resolvePurpose(c, rec)
	pdf, err := h.receipts.Render(rec, purpose)
	if err != nil {
		return err
	}

	c.Set(fiber.HeaderContentType, "application/pdf")
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="receipt-%s.pdf"`, rec.InvoiceNumber))
	return c.Send(pdf)
}

type overrideStatusRequest struct {
	Status string `json:"status"`
}

// OverrideStatus lets an operator force a donation status. This is an
// administrative escape hatch outside the reconciliation contract and
// is always logged.
func (h *DonationHandler) OverrideStatus(c *fiber.Ctx) error {
	rec, err := h.findRecord(c.Params("id"))
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "donation not found")
		}
		return err
	}

	var req overrideStatusRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	switch req.Status {
	case models.StatusPending, models.StatusCompleted, models.StatusFailed, models.StatusRefunded,
		models.StatusPendingUPI, models.StatusCompletedUPI, models.StatusFailedUPI:
	default:
		return fiber.NewError(fiber.StatusBadRequest, "unknown status")
	}

	log.Printf("[Admin] status override for txnid %s: %s -> %s", rec.PaymentID, rec.Status, req.Status)

	if err := h.db.Model(&models.DonationRecord{}).
		Where("id = ?", rec.ID).
		Update("status", req.Status).Error; err != nil {
		return err
	}

	rec.Status = req.Status
	return c.JSON(fiber.Map{"success": true, "data": rec})
}

// ResendReceipt re-dispatches the receipt for a completed donation
// whose delivery flags are still unset.
func (h *DonationHandler) ResendReceipt(c *fiber.Ctx) error {
	rec, err := h.findRecord(c.Params("id"))
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			return fiber.NewError(fiber.StatusNotFound, "donation not found")
		}
		return err
	}

	if err := h.reconcile.ResendReceipt(c.Context(), rec.PaymentID); err != nil {
		if errors.Is(err, services.ErrNotCompleted) {
			return fiber.NewError(fiber.StatusConflict, "donation is not completed")
		}
		return err
	}

	return c.JSON(fiber.Map{"success": true})
}

func (h *DonationHandler) findRecord(param string) (*models.DonationRecord, error) {
	ctx := context.Background()
	if id, err := uuid.Parse(param); err == nil {
		return h.store.ByID(ctx, id)
	}
	return h.store.ByPaymentID(ctx, param)
}

func (h *DonationHandler) resolvePurpose(c *fiber.Ctx, rec *models.DonationRecord) string {
	if rec.CategoryID != nil {
		if name, err := h.store.CategoryName(c.Context(), *rec.CategoryID); err == nil && name != "" {
			return name
		}
	}
	if rec.EventID != nil {
		if title, err := h.store.EventTitle(c.Context(), *rec.EventID); err == nil && title != "" {
			return title
		}
	}
	return "General Donation"
}
