package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/golang-jwt/jwt/v5"

	"github.com/zliveze/yumin-voucher/internal/domain/voucher"
)

// Claims is the shopper token payload. The subject is the user id.
type Claims struct {
	CustomerLevel string `json:"customer_level,omitempty"`
	jwt.RegisteredClaims
}

// ErrUnauthorized is returned for tokens that fail verification.
var ErrUnauthorized = errors.New("unauthorized")

// Authenticator resolves the shopper from an HS256 bearer token.
type Authenticator struct {
	secret []byte
	parser *jwt.Parser
}

// NewAuthenticator returns an Authenticator verifying tokens with secret.
func NewAuthenticator(secret []byte) *Authenticator {
	return &Authenticator{
		secret: secret,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
		),
	}
}

// Issue signs a token for s that expires after ttl.
func (a *Authenticator) Issue(s voucher.Shopper, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		CustomerLevel: s.CustomerLevel,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   s.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", errors.Wrap(err, "sign token")
	}
	return token, nil
}

// Parse verifies raw and returns the shopper it identifies.
func (a *Authenticator) Parse(raw string) (voucher.Shopper, error) {
	if len(a.secret) == 0 {
		return voucher.Shopper{}, ErrUnauthorized
	}
	var claims Claims
	_, err := a.parser.ParseWithClaims(raw, &claims, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	})
	if err != nil {
		return voucher.Shopper{}, errors.Wrap(ErrUnauthorized, err.Error())
	}
	return voucher.Shopper{ID: claims.Subject, CustomerLevel: claims.CustomerLevel}, nil
}

// Middleware attaches the shopper to the request context. Requests without
// an Authorization header continue as an anonymous shopper; a header that
// does not carry a valid bearer token is rejected.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			next.ServeHTTP(w, r)
			return
		}

		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			writeUnauthorized(w, "expected a bearer token")
			return
		}
		shopper, err := a.Parse(strings.TrimSpace(raw))
		if err != nil {
			writeUnauthorized(w, "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithShopper(r.Context(), shopper)))
	})
}

type shopperKey struct{}

// WithShopper returns a copy of ctx carrying s.
func WithShopper(ctx context.Context, s voucher.Shopper) context.Context {
	return context.WithValue(ctx, shopperKey{}, s)
}

// ShopperFrom returns the shopper stored in ctx, or the anonymous shopper.
func ShopperFrom(ctx context.Context) voucher.Shopper {
	s, _ := ctx.Value(shopperKey{}).(voucher.Shopper)
	return s
}
