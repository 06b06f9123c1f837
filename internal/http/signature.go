package http

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// signatureTolerance bounds how old a signed webhook payload may be.
// 防止重放攻击
const signatureTolerance = 5 * time.Minute

var (
	errSignatureFormat  = errors.New("malformed signature header")
	errSignatureExpired = errors.New("signature timestamp outside tolerance")
	errSignatureInvalid = errors.New("signature mismatch")
)

// VerifyWebhookSignature checks the payment provider's webhook signature
// header: "t=<unix>,v1=<hex hmac>", where the HMAC-SHA256 input is
// "<unix>.<raw body>" keyed with the endpoint's signing secret.
func VerifyWebhookSignature(payload []byte, header, secret string) error {
	return verifyWebhookSignatureAt(payload, header, secret, time.Now())
}

func verifyWebhookSignatureAt(payload []byte, header, secret string, now time.Time) error {
	var timestamp string
	var signatures []string
	for _, part := range strings.Split(header, ",") {
		key, value, found := strings.Cut(strings.TrimSpace(part), "=")
		if !found {
			continue
		}
		switch key {
		case "t":
			timestamp = value
		case "v1":
			signatures = append(signatures, value)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return errSignatureFormat
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return errSignatureFormat
	}
	age := now.Sub(time.Unix(ts, 0))
	if age > signatureTolerance || age < -signatureTolerance {
		return errSignatureExpired
	}

	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%s.%s", timestamp, payload)
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, sig := range signatures {
		if hmac.Equal([]byte(sig), []byte(expected)) {
			return nil
		}
	}
	return errSignatureInvalid
}
