package services

import (
	"fmt"
	"log"

	"github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/example/mandir/internal/config"
	"github.com/example/mandir/internal/models"
)

// WhatsAppService delivers receipt summaries over WhatsApp via Twilio.
// Without credentials it is an explicit disabled variant: every send is
// a no-op returning false, not an error.
type WhatsAppService struct {
	cfg    *config.Config
	client *twilio.RestClient
}

// NewWhatsAppService constructs a WhatsAppService.
func NewWhatsAppService(cfg *config.Config) *WhatsAppService {
	s := &WhatsAppService{cfg: cfg}
	if cfg.WhatsAppEnabled() {
		s.client = twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: cfg.TwilioAccountSID,
			Password: cfg.TwilioAuthToken,
		})
	}
	return s
}

// SendReceipt sends a short confirmation plus the receipt PDF as a
// media attachment.
func (s *WhatsAppService) SendReceipt(rec *models.DonationRecord, purpose, mediaURL string) bool {
	body := fmt.Sprintf(
		"Hare Krishna %s! Your donation of Rs. %d/- towards %s has been received. Receipt no: %s. Transaction id: %s.",
		rec.Name, rec.Amount, purpose, rec.InvoiceNumber, rec.PaymentID,
	)
	return s.send(rec, body, mediaURL)
}

// SendFailureNotice informs the donor that a payment attempt failed.
func (s *WhatsAppService) SendFailureNotice(rec *models.DonationRecord, reason string) bool {
	if reason == "" {
		reason = "the payment could not be completed"
	}
	body := fmt.Sprintf(
		"Namaste %s, your donation attempt %s was not successful: %s. No amount has been deducted; please try again.",
		rec.Name, rec.PaymentID, reason,
	)
	return s.send(rec, body, "")
}

func (s *WhatsAppService) send(rec *models.DonationRecord, body, mediaURL string) bool {
	if s.client == nil {
		log.Println("[WhatsApp] Twilio not configured, skipping message")
		return false
	}
	if rec.Phone == "" {
		return false
	}

	params := &openapi.CreateMessageParams{}
	params.SetFrom("whatsapp:" + s.cfg.TwilioWhatsAppFrom)
	params.SetTo("whatsapp:" + normalizePhone(rec.Phone))
	params.SetBody(body)
	if mediaURL != "" {
		params.SetMediaUrl([]string{mediaURL})
	}

	if _, err := s.client.Api.CreateMessage(params); err != nil {
		log.Printf("[WhatsApp] message failed for txnid %s: %v", rec.PaymentID, err)
		return false
	}
	return true
}

// normalizePhone prefixes the Indian country code when the number is a
// bare 10-digit mobile number.
func normalizePhone(phone string) string {
	if len(phone) == 10 {
		return "+91" + phone
	}
	if phone[0] != '+' {
		return "+" + phone
	}
	return phone
}
