package services

import (
	"fmt"
	"io"
	"log"

	"gopkg.in/gomail.v2"

	"github.com/example/mandir/internal/config"
	"github.com/example/mandir/internal/models"
)

// MailService delivers receipts as email attachments. Delivery is best
// effort: failures are logged and reported as false, never raised.
type MailService struct {
	cfg    *config.Config
	dialer *gomail.Dialer
}

// NewMailService constructs a MailService. Without SMTP configuration
// the service stays up but every send is a no-op returning false.
func NewMailService(cfg *config.Config) *MailService {
	s := &MailService{cfg: cfg}
	if cfg.MailEnabled() {
		s.dialer = gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword)
	}
	return s
}

// SendReceipt emails the rendered receipt to the donor.
func (s *MailService) SendReceipt(rec *models.DonationRecord, purpose string, pdf []byte) bool {
	if s.dialer == nil {
		log.Println("[Mail] SMTP not configured, skipping receipt email")
		return false
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.cfg.SMTPFrom)
	m.SetHeader("To", rec.Email)
	m.SetHeader("Subject", fmt.Sprintf("Donation Receipt %s - %s", rec.InvoiceNumber, s.cfg.TempleName))
	m.SetBody("text/plain", fmt.Sprintf(
		"Dear %s,\n\nThank you for your donation of Rs. %d/- towards %s.\nYour receipt %s is attached.\n\n%s",
		rec.Name, rec.Amount, purpose, rec.InvoiceNumber, s.cfg.TempleName,
	))
	m.Attach(
		fmt.Sprintf("receipt-%s.pdf", rec.InvoiceNumber),
		gomail.SetCopyFunc(func(w io.Writer) error {
			_, err := w.Write(pdf)
			return err
		}),
	)

	if err := s.dialer.DialAndSend(m); err != nil {
		log.Printf("[Mail] receipt email failed for txnid %s: %v", rec.PaymentID, err)
		return false
	}
	return true
}
