package httphandler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ericfisherdev/keyvault/internal/domain/model"
)

type principalKey struct{}

type principalSlotKey struct{}

// principalSlot lets outer middleware observe the principal established
// further down the chain.
type principalSlot struct {
	principal model.Principal
}

func withPrincipalSlot(ctx context.Context, slot *principalSlot) context.Context {
	return context.WithValue(ctx, principalSlotKey{}, slot)
}

// PrincipalFrom returns the authenticated principal stored in ctx.
func PrincipalFrom(ctx context.Context) (model.Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(model.Principal)
	return p, ok
}

func withPrincipal(ctx context.Context, p model.Principal) context.Context {
	if slot, ok := ctx.Value(principalSlotKey{}).(*principalSlot); ok {
		slot.principal = p
	}
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalClaims is the token payload: the standard subject carries the
// principal id, role is optional.
type PrincipalClaims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Authenticator turns a bearer token into a model.Principal. Tokens are
// HS256-signed by the identity service sharing secret.
type Authenticator struct {
	secret []byte
}

// NewAuthenticator creates an Authenticator that verifies tokens with secret.
func NewAuthenticator(secret []byte) *Authenticator {
	return &Authenticator{secret: secret}
}

// Authenticate verifies a raw token and returns the principal it names.
func (a *Authenticator) Authenticate(raw string) (model.Principal, error) {
	var claims PrincipalClaims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return model.Principal{}, err
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return model.Principal{}, errors.New("token has no subject")
	}
	return model.Principal{ID: claims.Subject, Role: claims.Role}, nil
}

// Require rejects requests without a valid bearer token and stores the
// principal in the request context otherwise.
func (a *Authenticator) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := bearerToken(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, model.KindUnauthorized, "Not authorized, no token")
			return
		}

		principal, err := a.Authenticate(raw)
		if err != nil {
			writeError(w, http.StatusUnauthorized, model.KindUnauthorized, "Not authorized, token failed")
			return
		}

		next.ServeHTTP(w, r.WithContext(withPrincipal(r.Context(), principal)))
	})
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
