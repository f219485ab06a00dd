package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/example/mandir/internal/config"
	"github.com/example/mandir/internal/payu"
)

// VerificationState is the tri-state outcome of a verify_payment call.
type VerificationState int

const (
	// VerificationPending means the gateway has not confirmed the
	// payment yet; the caller may poll again.
	VerificationPending VerificationState = iota
	// VerificationSuccess means the gateway confirmed the payment.
	VerificationSuccess
	// VerificationFailed means the gateway reported the payment failed.
	VerificationFailed
)

// VerificationResult carries the mapped state plus the raw gateway
// payload for the audit trail.
type VerificationResult struct {
	State         VerificationState
	GatewayStatus string
	Message       string
	Raw           []byte
}

// UPIService queries the gateway's merchant web-service API to confirm
// UPI intent payments that have no server-to-server callback.
type UPIService struct {
	cfg    *config.Config
	client *http.Client
}

// NewUPIService constructs a UPIService.
func NewUPIService(cfg *config.Config) *UPIService {
	return &UPIService{
		cfg:    cfg,
		client: &http.Client{Timeout: 15 * time.Second},
	}
}

type verifyPaymentResponse struct {
	Status             int                           `json:"status"`
	TransactionDetails map[string]transactionDetail `json:"transaction_details"`
}

type transactionDetail struct {
	Status       string `json:"status"`
	MihPayID     string `json:"mihpayid"`
	ErrorMessage string `json:"error_Message"`
}

// Verify calls verify_payment for the given txnid.
func (s *UPIService) Verify(ctx context.Context, txnid string) (*VerificationResult, error) {
	if !s.cfg.PaymentsEnabled() {
		return nil, payu.ErrMissingCredentials
	}

	hash, err := payu.ComputeCommandHash(s.cfg.PayUKey, "verify_payment", txnid, s.cfg.PayUSalt)
	if err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("key", s.cfg.PayUKey)
	form.Set("command", "verify_payment")
	form.Set("var1", txnid)
	form.Set("hash", hash)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.PayUVerifyURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("verify request build: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("verify request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("verify failed: status %d, body: %s", resp.StatusCode, string(body))
	}

	var parsed verifyPaymentResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("verify unmarshal: %w", err)
	}

	detail, ok := parsed.TransactionDetails[txnid]
	if parsed.Status != 1 || !ok {
		return nil, errors.New("verify: transaction not reported by gateway")
	}

	result := &VerificationResult{
		GatewayStatus: detail.Status,
		Message:       detail.ErrorMessage,
		Raw:           body,
	}
	result.State = mapVerificationState(detail.Status)
	return result, nil
}

// mapVerificationState folds the gateway's status vocabulary into the
// tri-state contract.
func mapVerificationState(status string) VerificationState {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "success", "captured":
		return VerificationSuccess
	case "pending", "in progress", "initiated", "auth":
		return VerificationPending
	default:
		return VerificationFailed
	}
}
