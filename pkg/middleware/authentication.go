package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/labstack/echo/v4"

	appctx "github.com/fartrucking/far-warehousing/pkg/context"
	"github.com/fartrucking/far-warehousing/pkg/tracing"
)

// Claims are the token claims the trigger cares about.
type Claims struct {
	Sub   string `json:"sub"`
	Email string `json:"email"`
}

// TokenVerifier validates a raw bearer token.
type TokenVerifier interface {
	Verify(ctx context.Context, raw string) (Claims, error)
}

type oidcVerifier struct {
	verifier *oidc.IDTokenVerifier
}

// NewOIDCVerifier discovers issuer and verifies tokens issued for clientID.
func NewOIDCVerifier(ctx context.Context, issuer, clientID string) (TokenVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc provider: %w", err)
	}
	return &oidcVerifier{verifier: provider.Verifier(&oidc.Config{ClientID: clientID})}, nil
}

func (v *oidcVerifier) Verify(ctx context.Context, raw string) (Claims, error) {
	idToken, err := v.verifier.Verify(ctx, raw)
	if err != nil {
		return Claims{}, err
	}
	var claims Claims
	if err := idToken.Claims(&claims); err != nil {
		return Claims{}, fmt.Errorf("cannot parse claims: %w", err)
	}
	return claims, nil
}

// Authentication rejects requests without a valid bearer token and records the caller.
func Authentication(logger ectologger.Logger, verifier TokenVerifier) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx, span := tracing.StartSpan(c.Request().Context(), "middleware.Authentication")
			defer span.End()

			auth := c.Request().Header.Get(echo.HeaderAuthorization)
			if !strings.HasPrefix(auth, "Bearer ") {
				logger.WithContext(ctx).Warn("request is missing bearer token")
				return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer")
			}

			verifyCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()

			claims, err := verifier.Verify(verifyCtx, strings.TrimPrefix(auth, "Bearer "))
			if err != nil {
				logger.WithContext(ctx).WithError(err).Warn("token is invalid")
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}

			caller := claims.Email
			if caller == "" {
				caller = claims.Sub
			}
			ctx = appctx.SetCaller(ctx, caller)
			c.SetRequest(c.Request().WithContext(ctx))

			return next(c)
		}
	}
}
