package http

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/complyhub/guidance-core/pkg/logger"
)

const devUserHeader = "X-User-ID"

var (
	// ErrMissingToken means no bearer token was sent.
	ErrMissingToken = errors.New("auth: missing bearer token")

	// ErrInvalidToken means the token failed verification.
	ErrInvalidToken = errors.New("auth: invalid or expired token")
)

// AuthConfig configures access-token verification.
type AuthConfig struct {
	// Secret - HS256 key shared with the auth provider.
	Secret string

	// Issuer - expected "iss". Empty skips the check.
	Issuer string

	// Audience - expected "aud". Empty skips the check.
	Audience string

	// Disabled - trust the X-User-ID header instead of a token. Development only.
	Disabled bool

	// Leeway - tolerated clock skew for exp/nbf.
	Leeway time.Duration
}

// Claims are the access-token claims we read. The user id is the subject.
type Claims struct {
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Authenticator resolves the calling user from a request.
type Authenticator struct {
	cfg    AuthConfig
	parser *jwt.Parser
	log    *logger.Logger
}

// NewAuthenticator creates an Authenticator. A missing secret is an error
// unless verification is disabled.
func NewAuthenticator(cfg AuthConfig, log *logger.Logger) (*Authenticator, error) {
	if !cfg.Disabled && cfg.Secret == "" {
		return nil, fmt.Errorf("auth: secret is required")
	}
	if log == nil {
		log = logger.Nop()
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(cfg.Leeway),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}

	if cfg.Disabled {
		log.Warn("access-token verification disabled; trusting " + devUserHeader)
	}
	return &Authenticator{
		cfg:    cfg,
		parser: jwt.NewParser(opts...),
		log:    log.With(logger.Component("auth")),
	}, nil
}

// UserFromToken verifies tokenString and returns its subject.
func (a *Authenticator) UserFromToken(tokenString string) (string, error) {
	if tokenString == "" {
		return "", ErrMissingToken
	}
	claims := &Claims{}
	token, err := a.parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return []byte(a.cfg.Secret), nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !token.Valid {
		return "", ErrInvalidToken
	}
	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return "", fmt.Errorf("%w: empty subject", ErrInvalidToken)
	}
	return subject, nil
}

// RequireUser rejects requests without a resolvable user and stores the
// user id on the gin context.
func (a *Authenticator) RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		var (
			userID string
			err    error
		)
		if a.cfg.Disabled {
			userID = strings.TrimSpace(c.GetHeader(devUserHeader))
			if userID == "" {
				err = ErrMissingToken
			}
		} else {
			userID, err = a.UserFromToken(bearerToken(c))
		}

		if err != nil {
			a.log.Debug("request rejected", logger.Err(err), logger.RequestID(getRequestID(c)))
			message := "missing or invalid token"
			if errors.Is(err, ErrMissingToken) {
				message = "authentication required"
			}
			abortJSONError(c, http.StatusUnauthorized, "unauthorized", message)
			return
		}

		c.Set(userIDKey, userID)
		ctx := logger.WithContext(c.Request.Context(), logger.FromContext(c.Request.Context()).With(logger.UserID(userID)))
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	header := c.GetHeader("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "Bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}
