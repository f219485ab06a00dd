package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/example/mandir/internal/models"
)

// TelegramService pushes donation events to the temple admin chat.
type TelegramService struct {
	botToken    string
	adminChatID string
}

// NewTelegramService creates a new TelegramService.
func NewTelegramService(botToken, adminChatID string) *TelegramService {
	return &TelegramService{
		botToken:    botToken,
		adminChatID: adminChatID,
	}
}

type telegramMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

// SendMessage sends a message to the specified chat.
func (s *TelegramService) SendMessage(chatID, text string) error {
	if s.botToken == "" {
		log.Println("[Telegram] Bot token not configured")
		return nil
	}

	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", s.botToken)

	msg := telegramMessage{
		ChatID:    chatID,
		Text:      text,
		ParseMode: "HTML",
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	resp, err := http.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		log.Printf("[Telegram] Failed to send message: %v", err)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Printf("[Telegram] Unexpected status: %d", resp.StatusCode)
		return fmt.Errorf("telegram returned status %d", resp.StatusCode)
	}

	return nil
}

// SendToAdmin sends a message to the admin chat.
func (s *TelegramService) SendToAdmin(text string) error {
	if s.adminChatID == "" {
		log.Println("[Telegram] Admin chat ID not configured")
		return nil
	}
	return s.SendMessage(s.adminChatID, text)
}

// FormatAmount formats a rupee amount with thousand separators.
func FormatAmount(amount int64) string {
	str := fmt.Sprintf("%d", amount)

	var result strings.Builder
	length := len(str)
	for i, digit := range str {
		if i > 0 && (length-i)%3 == 0 {
			result.WriteString(",")
		}
		result.WriteRune(digit)
	}

	return "Rs. " + result.String()
}

// NotifyDonationCompleted informs the admin chat about a completed
// donation. Failures are logged and swallowed; admin notifications must
// never block reconciliation.
func (s *TelegramService) NotifyDonationCompleted(rec *models.DonationRecord, purpose string) {
	if s.adminChatID == "" {
		return
	}

	message := fmt.Sprintf(`<b>🙏 DONATION RECEIVED</b>
<b>📋 Receipt:</b> %s
<b>🧾 Txn:</b> %s
<b>👤 Donor:</b> %s
<b>📞 Phone:</b> %s
<b>🎯 Purpose:</b> %s
<b>💰 Amount:</b> %s
━━━━━━━━━━━━━━━━━━`,
		rec.InvoiceNumber,
		rec.PaymentID,
		rec.Name,
		rec.Phone,
		purpose,
		FormatAmount(rec.Amount),
	)

	if err := s.SendToAdmin(strings.TrimSpace(message)); err != nil {
		log.Printf("[Telegram] donation notification failed for txnid %s: %v", rec.PaymentID, err)
	}
}

// NotifyDonationFailed informs the admin chat about a failed attempt.
func (s *TelegramService) NotifyDonationFailed(rec *models.DonationRecord, reason string) {
	if s.adminChatID == "" {
		return
	}
	if reason == "" {
		reason = "unknown"
	}

	message := fmt.Sprintf(`<b>⚠️ DONATION FAILED</b>
<b>🧾 Txn:</b> %s
<b>👤 Donor:</b> %s
<b>💰 Amount:</b> %s
<b>❌ Reason:</b> %s`,
		rec.PaymentID,
		rec.Name,
		FormatAmount(rec.Amount),
		reason,
	)

	if err := s.SendToAdmin(strings.TrimSpace(message)); err != nil {
		log.Printf("[Telegram] failure notification failed for txnid %s: %v", rec.PaymentID, err)
	}
}
