package mux

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

// SignatureHeader carries the webhook signature.
const SignatureHeader = "Mux-Signature"

// SignatureTolerance is the maximum accepted age of a signed webhook.
const SignatureTolerance = 5 * time.Minute

var (
	ErrMissingSignature = errors.New("missing webhook signature")
	ErrMalformedHeader  = errors.New("malformed webhook signature header")
	ErrStaleSignature   = errors.New("webhook signature timestamp outside tolerance")
	ErrBadSignature     = errors.New("webhook signature mismatch")
)

// VerifySignature checks a "t=<unix>,v1=<hex>" header against the raw body.
// The signed payload is "<t>.<body>" under HMAC-SHA256.
func VerifySignature(payload []byte, header, secret string, now time.Time) error {
	if header == "" {
		return ErrMissingSignature
	}

	var timestamp string
	var signatures []string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			timestamp = v
		case "v1":
			signatures = append(signatures, v)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return ErrMalformedHeader
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ErrMalformedHeader
	}
	age := now.Sub(time.Unix(ts, 0))
	if age > SignatureTolerance || age < -SignatureTolerance {
		return ErrStaleSignature
	}

	expected := Sign(payload, secret, ts)
	for _, sig := range signatures {
		if hmac.Equal([]byte(expected), []byte(sig)) {
			return nil
		}
	}
	return ErrBadSignature
}

// Sign computes the hex signature for payload at unix time ts.
func Sign(payload []byte, secret string, ts int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(ts, 10)))
	mac.Write([]byte("."))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// SignatureHeaderValue formats a header value for payload, for clients and
// tests that need to produce signed requests.
func SignatureHeaderValue(payload []byte, secret string, now time.Time) string {
	ts := now.Unix()
	return "t=" + strconv.FormatInt(ts, 10) + ",v1=" + Sign(payload, secret, ts)
}
