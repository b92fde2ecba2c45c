package paddle

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strconv"
)

// SignatureHeader is the request header carrying the webhook signature.
const SignatureHeader = "Paddle-Signature"

var (
	timestampPattern = regexp.MustCompile(`ts=(\d+)`)
	digestPattern    = regexp.MustCompile(`h1=([a-f0-9]+)`)
)

// Signature is a parsed Paddle-Signature header: "ts=<unix>;h1=<hex>".
type Signature struct {
	Timestamp string
	Digest    string

	// Partial marks a header missing its timestamp or digest. Parsing is lenient:
	// an absent timestamp is signed as the empty string, an absent digest never matches.
	Partial bool
}

// ParseSignature extracts ts and h1 independently. Segment order, delimiters
// and unknown segments are ignored.
func ParseSignature(header string) Signature {
	var sig Signature
	if m := timestampPattern.FindStringSubmatch(header); m != nil {
		sig.Timestamp = m[1]
	}
	if m := digestPattern.FindStringSubmatch(header); m != nil {
		sig.Digest = m[1]
	}
	sig.Partial = sig.Timestamp == "" || sig.Digest == ""
	return sig
}

// Verify reports whether the header signs body with secret.
func Verify(header string, body []byte, secret string) bool {
	return ParseSignature(header).Verify(body, secret)
}

// Verify reports whether s signs body with secret. The digest comparison is constant time.
func (s Signature) Verify(body []byte, secret string) bool {
	expected := digest(s.Timestamp, body, secret)
	return hmac.Equal([]byte(expected), []byte(s.Digest))
}

// Sign returns a Paddle-Signature header value for body.
func Sign(timestamp int64, body []byte, secret string) string {
	ts := strconv.FormatInt(timestamp, 10)
	return "ts=" + ts + ";h1=" + digest(ts, body, secret)
}

func digest(timestamp string, body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte(":"))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
