// Package signedurl issues and verifies short-lived HMAC tokens that authorize
// direct file downloads without the gateway's primary API-key auth.
//
// A token is base64url(JSON payload) + "." + base64url(HMAC-SHA256(secret,
// payload segment)). Tokens are self-contained; there is no server-side token
// store, so revocation is only by secret rotation or natural expiry.
package signedurl

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"

	customerrors "github.com/sheikhshariarnehal/cloudvault-sub001/internal/errors"
)

// DefaultTTL is the token lifetime used when the caller does not override it.
const DefaultTTL = 15 * time.Minute

const tokenSegments = 2 // payload "." signature

// Payload carries the file metadata a signed download needs. Immutable once
// minted; verified, never mutated.
type Payload struct {
	RemoteFileID string `json:"file_id"`
	MessageID    int64  `json:"message_id,omitempty"`
	ContentType  string `json:"content_type"`
	FileName     string `json:"file_name"`
	Size         int64  `json:"size,omitempty"`
	ExpiresAt    int64  `json:"exp"`
}

// Expired reports whether the payload's expiry has passed.
func (p *Payload) Expired(now time.Time) bool {
	return now.Unix() > p.ExpiresAt
}

// Codec signs and verifies download tokens with a shared secret.
type Codec struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// Option customizes a Codec.
type Option func(*Codec)

// WithTTL overrides the default token lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(c *Codec) {
		c.ttl = ttl
	}
}

// WithClock overrides the time source (for testing).
func WithClock(now func() time.Time) Option {
	return func(c *Codec) {
		c.now = now
	}
}

// NewCodec creates a codec with the given signing secret.
func NewCodec(secret string, opts ...Option) *Codec {
	c := &Codec{
		secret: []byte(secret),
		ttl:    DefaultTTL,
		now:    time.Now,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Sign mints a token for the payload. The payload's ExpiresAt is set from the
// codec's TTL; a pre-set expiry is preserved.
func (c *Codec) Sign(payload Payload) (string, error) {
	if payload.ExpiresAt == 0 {
		payload.ExpiresAt = c.now().Add(c.ttl).Unix()
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return "", customerrors.Wrap(err, "failed to encode token payload").
			WithComponent("signedurl")
	}

	payloadB64 := base64.RawURLEncoding.EncodeToString(raw)

	return payloadB64 + "." + c.signature(payloadB64), nil
}

// Verify checks a token's signature and expiry and returns the payload.
// Signature comparison is constant-time.
func (c *Codec) Verify(token string) (*Payload, error) {
	parts := strings.Split(token, ".")
	if len(parts) != tokenSegments {
		return nil, customerrors.NewForbiddenError("malformed download token").
			WithComponent("signedurl")
	}

	expected := c.signature(parts[0])
	if !hmac.Equal([]byte(expected), []byte(parts[1])) {
		return nil, customerrors.NewForbiddenError("invalid download token signature").
			WithComponent("signedurl")
	}

	raw, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, customerrors.NewForbiddenError("malformed download token payload").
			WithComponent("signedurl")
	}

	var payload Payload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, customerrors.NewForbiddenError("invalid download token payload").
			WithComponent("signedurl")
	}

	if payload.Expired(c.now()) {
		return nil, customerrors.NewForbiddenError("download token expired").
			WithComponent("signedurl").
			WithContext("expired_at", payload.ExpiresAt)
	}

	return &payload, nil
}

func (c *Codec) signature(payloadB64 string) string {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(payloadB64))

	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
