package payu

import (
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strings"
)

// ErrMissingCredentials is returned when the merchant key or salt is not
// configured. Requests must never go out unsigned and callbacks must
// never be accepted unverified.
var ErrMissingCredentials = errors.New("payu: merchant key or salt not configured")

// RequestFields is the ordered field set the gateway expects in the
// outbound payment request checksum. The five UDF slots are part of the
// protocol even when unused; empty strings keep their pipe positions.
type RequestFields struct {
	Key         string
	TxnID       string
	Amount      string
	ProductInfo string
	FirstName   string
	Email       string
	UDF1        string
	UDF2        string
	UDF3        string
	UDF4        string
	UDF5        string
}

func (f RequestFields) checksumInput(salt string) string {
	return strings.Join([]string{
		f.Key, f.TxnID, f.Amount, f.ProductInfo, f.FirstName, f.Email,
		f.UDF1, f.UDF2, f.UDF3, f.UDF4, f.UDF5,
		salt,
	}, "|")
}

// ComputeRequestHash returns the hex-encoded SHA-512 checksum over the
// request fields joined with the merchant salt.
func ComputeRequestHash(f RequestFields, salt string) (string, error) {
	if f.Key == "" || salt == "" {
		return "", ErrMissingCredentials
	}
	sum := sha512.Sum512([]byte(f.checksumInput(salt)))
	return hex.EncodeToString(sum[:]), nil
}

// ResponseFields is the field set echoed back by the gateway on a
// success callback. The response checksum uses the reverse order with
// the salt first and the status inserted between salt and UDF5.
type ResponseFields struct {
	Key         string
	TxnID       string
	Amount      string
	ProductInfo string
	FirstName   string
	Email       string
	Status      string
	UDF1        string
	UDF2        string
	UDF3        string
	UDF4        string
	UDF5        string
}

func (f ResponseFields) checksumInput(salt string) string {
	return strings.Join([]string{
		salt, f.Status,
		f.UDF5, f.UDF4, f.UDF3, f.UDF2, f.UDF1,
		f.Email, f.FirstName, f.ProductInfo, f.Amount, f.TxnID, f.Key,
	}, "|")
}

// VerifyResponseHash recomputes the response checksum and compares it to
// the hash supplied in the callback. The comparison is constant-time.
func VerifyResponseHash(f ResponseFields, salt, provided string) (bool, error) {
	if f.Key == "" || salt == "" {
		return false, ErrMissingCredentials
	}
	if provided == "" {
		return false, nil
	}
	sum := sha512.Sum512([]byte(f.checksumInput(salt)))
	want := hex.EncodeToString(sum[:])
	got := strings.ToLower(strings.TrimSpace(provided))
	return subtle.ConstantTimeCompare([]byte(want), []byte(got)) == 1, nil
}

// ComputeCommandHash returns the checksum for the merchant web-service
// API (key|command|var1|salt), used by the verify_payment call.
func ComputeCommandHash(key, command, var1, salt string) (string, error) {
	if key == "" || salt == "" {
		return "", ErrMissingCredentials
	}
	sum := sha512.Sum512([]byte(strings.Join([]string{key, command, var1, salt}, "|")))
	return hex.EncodeToString(sum[:]), nil
}
