package inbound

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-dispatch/core"
)

const SignatureVersion = "v1="

// Authorizer accepts a request carrying the shared token (bearer or header)
// or a v1 HMAC-SHA256 signature over "{timestamp}.{body}". With no secret
// configured every request is accepted.
type Authorizer struct {
	Token           string
	HMACSecret      string
	MaxSkew         time.Duration
	TokenHeader     string
	SignatureHeader string
	TimestampHeader string
	Now             func() time.Time
}

func NewAuthorizer(cfg core.AuthConfig) *Authorizer {
	defaults := core.DefaultConfig().Auth
	return &Authorizer{
		Token:           strings.TrimSpace(cfg.Token),
		HMACSecret:      strings.TrimSpace(cfg.HMACSecret),
		MaxSkew:         cfg.MaxSkew(),
		TokenHeader:     firstNonEmpty(cfg.TokenHeader, defaults.TokenHeader),
		SignatureHeader: firstNonEmpty(cfg.SignatureHeader, defaults.SignatureHeader),
		TimestampHeader: firstNonEmpty(cfg.TimestampHeader, defaults.TimestampHeader),
		Now:             func() time.Time { return time.Now().UTC() },
	}
}

func (a *Authorizer) Open() bool {
	return a == nil || (a.Token == "" && a.HMACSecret == "")
}

func (a *Authorizer) Authorize(headers map[string]string, body []byte) error {
	if a.Open() {
		return nil
	}
	if a.Token != "" && a.tokenMatches(headers) {
		return nil
	}
	signature := headerValue(headers, a.SignatureHeader)
	if signature == "" {
		if a.Token != "" {
			return fmt.Errorf("inbound: missing or invalid token")
		}
		return fmt.Errorf("inbound: %s signature header is required", a.SignatureHeader)
	}
	return a.verifySignature(signature, headerValue(headers, a.TimestampHeader), body)
}

func (a *Authorizer) tokenMatches(headers map[string]string) bool {
	candidates := []string{headerValue(headers, a.TokenHeader)}
	if auth := headerValue(headers, "Authorization"); len(auth) > len("bearer ") && strings.EqualFold(auth[:len("bearer ")], "bearer ") {
		candidates = append(candidates, strings.TrimSpace(auth[len("bearer "):]))
	}
	for _, candidate := range candidates {
		if candidate != "" && subtle.ConstantTimeCompare([]byte(candidate), []byte(a.Token)) == 1 {
			return true
		}
	}
	return false
}

func (a *Authorizer) verifySignature(signature string, timestamp string, body []byte) error {
	secret := a.HMACSecret
	if secret == "" {
		secret = a.Token
	}
	if !strings.HasPrefix(signature, SignatureVersion) {
		return fmt.Errorf("inbound: unsupported signature version")
	}
	decoded, err := hex.DecodeString(strings.TrimSpace(strings.TrimPrefix(signature, SignatureVersion)))
	if err != nil {
		return fmt.Errorf("inbound: decode hex signature: %w", err)
	}
	if timestamp == "" {
		return fmt.Errorf("inbound: %s header is required", a.TimestampHeader)
	}
	unix, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("inbound: invalid signature timestamp")
	}
	if a.MaxSkew > 0 {
		skew := math.Abs(float64(a.now().Unix() - unix))
		if skew > a.MaxSkew.Seconds() {
			return fmt.Errorf("inbound: signature timestamp outside allowed skew")
		}
	}
	expected := Sign(secret, unix, body)
	if subtle.ConstantTimeCompare(decoded, expected) != 1 {
		return fmt.Errorf("inbound: signature verification failed")
	}
	return nil
}

func (a *Authorizer) now() time.Time {
	if a.Now != nil {
		return a.Now().UTC()
	}
	return time.Now().UTC()
}

// Sign returns the raw HMAC-SHA256 of "{timestamp}.{body}".
func Sign(secret string, timestamp int64, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(strconv.FormatInt(timestamp, 10)))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write(body)
	return mac.Sum(nil)
}

// SignatureHeaderValue renders the versioned signature header for a body.
func SignatureHeaderValue(secret string, timestamp int64, body []byte) string {
	return SignatureVersion + hex.EncodeToString(Sign(secret, timestamp, body))
}

func headerValue(headers map[string]string, key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return ""
	}
	for existing, value := range headers {
		if strings.EqualFold(strings.TrimSpace(existing), key) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
