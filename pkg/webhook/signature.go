package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	SignatureHeader = "X-Tierkit-Signature"
	DeliveryHeader  = "X-Tierkit-Delivery"
)

// Sign returns the signature header value for payload sent at ts.
func Sign(secret string, ts time.Time, payload []byte) string {
	unix := ts.Unix()
	return fmt.Sprintf("t=%d,v1=%s", unix, digest(secret, unix, payload))
}

// Verify checks a signature header produced by Sign. A positive tolerance
// rejects signatures whose timestamp is further than that from now.
func Verify(secret, header string, payload []byte, tolerance time.Duration, now time.Time) error {
	if secret == "" {
		return fmt.Errorf("%w: secret is required", ErrInvalidConfiguration)
	}

	var unix int64
	var sig string
	for part := range strings.SplitSeq(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return fmt.Errorf("%w: bad timestamp", ErrInvalidSignature)
			}
			unix = n
		case "v1":
			sig = v
		}
	}
	if unix == 0 || sig == "" {
		return fmt.Errorf("%w: malformed header", ErrInvalidSignature)
	}

	if tolerance > 0 {
		skew := now.Sub(time.Unix(unix, 0))
		if skew > tolerance || skew < -tolerance {
			return fmt.Errorf("%w: timestamp outside tolerance", ErrInvalidSignature)
		}
	}

	if !hmac.Equal([]byte(sig), []byte(digest(secret, unix, payload))) {
		return fmt.Errorf("%w: mismatch", ErrInvalidSignature)
	}
	return nil
}

func digest(secret string, unix int64, payload []byte) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(strconv.AppendInt(nil, unix, 10))
	h.Write([]byte{'.'})
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}
