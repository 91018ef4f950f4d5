// Package payment handles payment-gateway callbacks: signature verification,
// payment-session resolution, and feeding the result into the order state
// machine as first-class transitions.
package payment

import (
	"crypto/hmac"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"net/url"
	"sort"
	"strings"

	"github.com/go-faster/errors"
)

// ErrBadSignature is returned when the callback signature does not match.
var ErrBadSignature = errors.New("callback signature mismatch")

// SignatureParam is the query parameter carrying the gateway signature.
const SignatureParam = "signature"

// Verifier checks gateway callback signatures: HMAC-SHA512 over the sorted
// key=value pairs of every parameter except the signature itself.
type Verifier struct {
	secret []byte
}

// NewVerifier creates a Verifier with the shared gateway secret.
func NewVerifier(secret []byte) *Verifier {
	return &Verifier{secret: secret}
}

// Sign computes the hex-encoded signature for the given parameters.
func (v *Verifier) Sign(params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k == SignatureParam {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params.Get(k))
	}

	mac := hmac.New(sha512.New, v.secret)
	mac.Write([]byte(b.String()))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks the signature parameter against the other parameters using a
// constant-time comparison.
func (v *Verifier) Verify(params url.Values) bool {
	provided := params.Get(SignatureParam)
	if provided == "" {
		return false
	}
	expected := v.Sign(params)
	return subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) == 1
}
