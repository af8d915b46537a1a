// Package auth authenticates inbound requests with either the pre-shared API
// key or a signed download token, and carries the resulting principal through
// the request context.
package auth

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	customerrors "github.com/sheikhshariarnehal/cloudvault-sub001/internal/errors"
	"github.com/sheikhshariarnehal/cloudvault-sub001/internal/signedurl"
)

// APIKeyHeader is the primary authentication header.
const APIKeyHeader = "X-API-Key"

// SignatureParam is the query parameter carrying a signed download token.
const SignatureParam = "sig"

// Mode records how a request authenticated.
type Mode string

const (
	// ModeAPIKey means the request presented the pre-shared key.
	ModeAPIKey Mode = "api_key"
	// ModeSignedToken means the request presented a valid download token.
	ModeSignedToken Mode = "signed_token"
)

// Principal is the authenticated identity attached to a request.
type Principal struct {
	Mode Mode
	// Token is set for signed-token principals. The download handler trusts
	// its metadata over anything else in the request.
	Token *signedurl.Payload
}

type principalContextKey struct{}

// ContextWithPrincipal attaches the principal to the context.
func ContextWithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFrom extracts the request principal, if any.
func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(*Principal)

	return p, ok
}

// Authenticator validates API keys and signed tokens.
type Authenticator struct {
	apiKey []byte
	codec  *signedurl.Codec
}

// NewAuthenticator creates an authenticator for the pre-shared key and the
// signed-URL codec.
func NewAuthenticator(apiKey string, codec *signedurl.Codec) *Authenticator {
	return &Authenticator{
		apiKey: []byte(apiKey),
		codec:  codec,
	}
}

// AuthenticateAPIKey checks the pre-shared key in the request header. A
// bearer Authorization header is accepted as an alias for clients that cannot
// set custom headers.
func (a *Authenticator) AuthenticateAPIKey(r *http.Request) (*Principal, error) {
	presented := r.Header.Get(APIKeyHeader)
	if presented == "" {
		if bearer := r.Header.Get("Authorization"); strings.HasPrefix(bearer, "Bearer ") {
			presented = strings.TrimPrefix(bearer, "Bearer ")
		}
	}

	if presented == "" {
		return nil, customerrors.NewUnauthorizedError("missing API key").
			WithComponent("auth")
	}

	if subtle.ConstantTimeCompare(a.apiKey, []byte(presented)) != 1 {
		return nil, customerrors.NewUnauthorizedError("invalid API key").
			WithComponent("auth")
	}

	return &Principal{Mode: ModeAPIKey}, nil
}

// AuthenticateDownload authorizes a download request. A signed token in the
// query string wins; otherwise the pre-shared key applies. This lets one
// handler serve both traffic classes uniformly.
func (a *Authenticator) AuthenticateDownload(r *http.Request) (*Principal, error) {
	if token := r.URL.Query().Get(SignatureParam); token != "" {
		payload, err := a.codec.Verify(token)
		if err != nil {
			return nil, err
		}

		return &Principal{Mode: ModeSignedToken, Token: payload}, nil
	}

	return a.AuthenticateAPIKey(r)
}
