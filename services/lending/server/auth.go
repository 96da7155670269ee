package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"lendpool/crypto"
	"lendpool/observability/logging"
	"lendpool/services/lendingd/config"
)

type contextKey string

const callerContextKey contextKey = "lendpool.caller"

// Authenticator resolves the caller address of a request from either a
// static API token or an HS256 JWT whose subject is the address.
type Authenticator struct {
	tokens   map[string]crypto.Address
	secret   []byte
	issuer   string
	audience string
	skew     time.Duration
	logger   *slog.Logger
}

// NewAuthenticator validates cfg and builds the token table.
func NewAuthenticator(cfg config.AuthConfig, logger *slog.Logger) (*Authenticator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	auth := &Authenticator{
		tokens:   make(map[string]crypto.Address, len(cfg.APITokens)),
		secret:   []byte(strings.TrimSpace(cfg.JWT.HMACSecret)),
		issuer:   strings.TrimSpace(cfg.JWT.Issuer),
		audience: strings.TrimSpace(cfg.JWT.Audience),
		skew:     cfg.JWT.ClockSkew,
		logger:   logger,
	}
	if auth.skew <= 0 {
		auth.skew = 2 * time.Minute
	}
	for i, binding := range cfg.APITokens {
		token := strings.TrimSpace(binding.Token)
		if token == "" {
			continue
		}
		addr, err := crypto.DecodeAddress(strings.TrimSpace(binding.Address))
		if err != nil {
			return nil, fmt.Errorf("api token %d: %w", i, err)
		}
		auth.tokens[token] = addr
	}
	if len(auth.tokens) == 0 && len(auth.secret) == 0 {
		return nil, errors.New("auth: no api tokens or jwt secret configured")
	}
	return auth, nil
}

// Middleware rejects requests without a valid credential and stores the
// resolved caller on the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractBearer(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, fmt.Errorf("%w: missing bearer token", errUnauthenticated))
			return
		}
		caller, err := a.resolve(token)
		if err != nil {
			a.logger.Info("lending api authentication failed",
				slog.String("path", r.URL.Path),
				slog.String("token", logging.MaskToken(token)),
				slog.Any("error", err))
			writeError(w, fmt.Errorf("%w: invalid token", errUnauthenticated))
			return
		}
		ctx := context.WithValue(r.Context(), callerContextKey, caller)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *Authenticator) resolve(token string) (crypto.Address, error) {
	for candidate, addr := range a.tokens {
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(token)) == 1 {
			return addr, nil
		}
	}
	if len(a.secret) == 0 {
		return crypto.Address{}, errors.New("unknown api token")
	}
	claims, err := a.parseToken(token)
	if err != nil {
		return crypto.Address{}, err
	}
	subject, err := claims.GetSubject()
	if err != nil {
		return crypto.Address{}, err
	}
	addr, err := crypto.DecodeAddress(strings.TrimSpace(subject))
	if err != nil {
		return crypto.Address{}, fmt.Errorf("subject: %w", err)
	}
	return addr, nil
}

func (a *Authenticator) parseToken(tokenString string) (jwt.MapClaims, error) {
	opts := []jwt.ParserOption{jwt.WithLeeway(a.skew), jwt.WithExpirationRequired()}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}
	if a.audience != "" {
		opts = append(opts, jwt.WithAudience(a.audience))
	}
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("token invalid")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("claims not map")
	}
	return claims, nil
}

func extractBearer(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// callerFrom returns the authenticated address stored by Middleware.
func callerFrom(ctx context.Context) (crypto.Address, bool) {
	addr, ok := ctx.Value(callerContextKey).(crypto.Address)
	return addr, ok
}
