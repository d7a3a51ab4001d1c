package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Headers set by the webhook transport.
const (
	HeaderSignature = "X-Reactor-Signature"
	HeaderTimestamp = "X-Reactor-Timestamp"
)

// verifySignature checks an HMAC-SHA256 body signature in the form
// "sha256=<hex>". An empty secret always fails: callers decide whether
// verification is required at all.
func verifySignature(secret string, body []byte, headerSig string) bool {
	if secret == "" {
		return false
	}
	headerSig = strings.TrimSpace(headerSig)
	if !strings.HasPrefix(headerSig, "sha256=") {
		return false
	}
	got := strings.TrimPrefix(headerSig, "sha256=")
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(got), []byte(expected))
}

// SignBody produces the signature header value for a body, used by the CLI
// and by tests.
func SignBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// verifyTimestamp accepts unix seconds or RFC 3339 and rejects values
// outside the allowed skew in either direction.
func verifyTimestamp(tsHeader string, skew time.Duration) error {
	if tsHeader == "" {
		return errors.New("missing timestamp")
	}
	var ts time.Time
	if n, err := strconv.ParseInt(tsHeader, 10, 64); err == nil {
		ts = time.Unix(n, 0)
	} else {
		t, err2 := time.Parse(time.RFC3339, tsHeader)
		if err2 != nil {
			return errors.New("bad timestamp format")
		}
		ts = t
	}
	diff := time.Since(ts)
	if diff < 0 {
		diff = -diff
	}
	if diff > skew {
		return errors.New("timestamp skew too large")
	}
	return nil
}
