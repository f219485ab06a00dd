package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/example/mandir/internal/config"
	"github.com/example/mandir/internal/ledger"
	"github.com/example/mandir/internal/models"
	"github.com/example/mandir/internal/payu"
)

// ErrInvalidIntent marks donor input rejected before any persistence.
var ErrInvalidIntent = errors.New("invalid donation intent")

// paymentIDPrefix namespaces merchant transaction ids.
const paymentIDPrefix = "MANDIR_"

// defaultPurpose is the productinfo fallback when the intent references
// neither a category nor an event.
const defaultPurpose = "General Donation"

// DonationIntent is the payer-submitted form data, immutable once
// submitted.
type DonationIntent struct {
	Amount     int64
	Name       string
	Email      string
	Phone      string
	Message    string
	PANCard    string
	CategoryID *uuid.UUID
	EventID    *uuid.UUID
	UserID     *uuid.UUID
	Channel    string
}

// CheckoutForm is what the caller presents to the donor's browser: the
// gateway endpoint plus the complete signed field set.
type CheckoutForm struct {
	PaymentID  string            `json:"txnid"`
	PaymentURL string            `json:"payment_url"`
	Params     map[string]string `json:"params"`
}

// DonationService turns donation intents into pending ledger records
// and signed gateway requests.
type DonationService struct {
	store ledger.Store
	cfg   *config.Config
}

// NewDonationService constructs a DonationService.
func NewDonationService(store ledger.Store, cfg *config.Config) *DonationService {
	return &DonationService{store: store, cfg: cfg}
}

// Initiate validates the intent, persists a pending DonationRecord and
// returns the signed checkout form. The record is persisted before this
// returns so a callback racing ahead of the HTTP response can find it.
func (s *DonationService) Initiate(ctx context.Context, intent DonationIntent, successURL, failureURL string) (*CheckoutForm, error) {
	if err := validateIntent(intent); err != nil {
		return nil, err
	}
	if !s.cfg.PaymentsEnabled() {
		return nil, payu.ErrMissingCredentials
	}

	paymentID, err := generatePaymentID()
	if err != nil {
		return nil, fmt.Errorf("generate payment id: %w", err)
	}

	channel := intent.Channel
	if channel == "" {
		channel = models.ChannelGateway
	}
	status := models.StatusPending
	if channel == models.ChannelUPI {
		status = models.StatusPendingUPI
	}

	purpose := s.resolvePurpose(ctx, intent.CategoryID, intent.EventID)

	rec := models.DonationRecord{
		PaymentID:  paymentID,
		Amount:     intent.Amount,
		Name:       strings.TrimSpace(intent.Name),
		Email:      strings.TrimSpace(intent.Email),
		Phone:      strings.TrimSpace(intent.Phone),
		Message:    intent.Message,
		PANCard:    strings.ToUpper(strings.TrimSpace(intent.PANCard)),
		CategoryID: intent.CategoryID,
		EventID:    intent.EventID,
		UserID:     intent.UserID,
		Channel:    channel,
		Status:     status,
	}

	if err := s.store.Create(ctx, &rec); err != nil {
		return nil, fmt.Errorf("persist donation: %w", err)
	}

	if channel == models.ChannelUPI {
		return s.upiIntentForm(&rec, purpose), nil
	}

	return s.gatewayForm(&rec, purpose, successURL, failureURL)
}

func (s *DonationService) gatewayForm(rec *models.DonationRecord, purpose, successURL, failureURL string) (*CheckoutForm, error) {
	fields := payu.RequestFields{
		Key:         s.cfg.PayUKey,
		TxnID:       rec.PaymentID,
		Amount:      strconv.FormatInt(rec.Amount, 10),
		ProductInfo: purpose,
		FirstName:   firstName(rec.Name),
		Email:       rec.Email,
	}

	hash, err := payu.ComputeRequestHash(fields, s.cfg.PayUSalt)
	if err != nil {
		return nil, err
	}

	params := map[string]string{
		"key":         fields.Key,
		"txnid":       fields.TxnID,
		"amount":      fields.Amount,
		"productinfo": fields.ProductInfo,
		"firstname":   fields.FirstName,
		"email":       fields.Email,
		"phone":       rec.Phone,
		"surl":        successURL,
		"furl":        failureURL,
		"hash":        hash,
	}

	return &CheckoutForm{
		PaymentID:  rec.PaymentID,
		PaymentURL: s.cfg.PayUBaseURL,
		Params:     params,
	}, nil
}

// upiIntentForm builds a upi:// deep link the donor's UPI app can open.
// The donation is confirmed later through the polling verification
// path, not a gateway callback.
func (s *DonationService) upiIntentForm(rec *models.DonationRecord, purpose string) *CheckoutForm {
	q := url.Values{}
	q.Set("pa", s.cfg.TempleVPA)
	q.Set("pn", s.cfg.TempleName)
	q.Set("am", strconv.FormatInt(rec.Amount, 10))
	q.Set("cu", "INR")
	q.Set("tn", purpose)
	q.Set("tr", rec.PaymentID)

	return &CheckoutForm{
		PaymentID:  rec.PaymentID,
		PaymentURL: "upi://pay?" + q.Encode(),
		Params: map[string]string{
			"pa": s.cfg.TempleVPA,
			"pn": s.cfg.TempleName,
			"am": strconv.FormatInt(rec.Amount, 10),
			"tn": purpose,
			"tr": rec.PaymentID,
		},
	}
}

func (s *DonationService) resolvePurpose(ctx context.Context, categoryID, eventID *uuid.UUID) string {
	if categoryID != nil {
		if name, err := s.store.CategoryName(ctx, *categoryID); err == nil && name != "" {
			return name
		}
	}
	if eventID != nil {
		if title, err := s.store.EventTitle(ctx, *eventID); err == nil && title != "" {
			return title
		}
	}
	return defaultPurpose
}

func validateIntent(intent DonationIntent) error {
	if intent.Amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidIntent)
	}
	if strings.TrimSpace(intent.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidIntent)
	}
	if strings.TrimSpace(intent.Email) == "" {
		return fmt.Errorf("%w: email is required", ErrInvalidIntent)
	}
	if strings.TrimSpace(intent.Phone) == "" {
		return fmt.Errorf("%w: phone is required", ErrInvalidIntent)
	}
	switch intent.Channel {
	case "", models.ChannelGateway, models.ChannelUPI:
	default:
		return fmt.Errorf("%w: unknown channel %q", ErrInvalidIntent, intent.Channel)
	}
	return nil
}

func generatePaymentID() (string, error) {
	buf := make([]byte, 5)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return paymentIDPrefix + hex.EncodeToString(buf), nil
}

func firstName(name string) string {
	parts := strings.Fields(name)
	if len(parts) == 0 {
		return name
	}
	return parts[0]
}
