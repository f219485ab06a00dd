package services

import (
	"bytes"
	"fmt"

	"github.com/go-pdf/fpdf"

	"github.com/example/mandir/internal/models"
)

// taxNotice is the fixed 80G boilerplate printed on every receipt.
const taxNotice = "Donations to the temple are eligible for deduction under Section 80G of the Income Tax Act, 1961. This receipt is computer generated and does not require a signature."

// ReceiptService renders the durable proof-of-donation artifact. Given
// the same record and purpose it always produces the same content.
type ReceiptService struct {
	templeName string
}

// NewReceiptService constructs a ReceiptService.
func NewReceiptService(templeName string) *ReceiptService {
	return &ReceiptService{templeName: templeName}
}

// Render produces the PDF receipt for a completed donation.
func (s *ReceiptService) Render(rec *models.DonationRecord, purpose string) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 18)
	pdf.CellFormat(0, 12, s.templeName, "", 1, "C", false, 0, "")

	pdf.SetFont("Helvetica", "", 12)
	pdf.CellFormat(0, 8, "Donation Receipt", "", 1, "C", false, 0, "")
	pdf.Ln(6)

	pdf.SetFont("Helvetica", "", 11)
	for _, line := range receiptLines(rec, purpose) {
		pdf.CellFormat(50, 8, line.label, "", 0, "L", false, 0, "")
		pdf.SetFont("Helvetica", "B", 11)
		pdf.CellFormat(0, 8, line.value, "", 1, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 11)
	}

	pdf.Ln(8)
	pdf.SetFont("Helvetica", "I", 9)
	pdf.MultiCell(0, 5, taxNotice, "", "L", false)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render receipt: %w", err)
	}
	return buf.Bytes(), nil
}

type receiptLine struct {
	label string
	value string
}

// receiptLines is the ordered receipt content. Kept separate from the
// PDF layout so the content contract is testable.
func receiptLines(rec *models.DonationRecord, purpose string) []receiptLine {
	lines := []receiptLine{
		{"Invoice Number", rec.InvoiceNumber},
		{"Transaction ID", rec.PaymentID},
		{"Date", rec.CreatedAt.Format("02 Jan 2006")},
		{"Donor Name", rec.Name},
		{"Email", rec.Email},
		{"Phone", rec.Phone},
		{"Purpose", purpose},
		{"Amount", fmt.Sprintf("Rs. %d/-", rec.Amount)},
	}
	if rec.PANCard != "" {
		lines = append(lines, receiptLine{"PAN", rec.PANCard})
	}
	return lines
}
