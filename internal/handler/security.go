package handler

import (
	"strconv"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/cartstream/storefront/internal/domain/auth"
)

// SecurityHandler authenticates API requests with HS256 bearer tokens whose
// subject is the user id. The stored user row, not the token, decides the
// caller's role.
type SecurityHandler struct {
	users  auth.UserStore
	secret []byte
	parser *jwt.Parser
}

// NewSecurityHandler creates a SecurityHandler verifying tokens with secret
// and loading principals from users.
func NewSecurityHandler(users auth.UserStore, secret []byte) *SecurityHandler {
	return &SecurityHandler{
		users:  users,
		secret: secret,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
		),
	}
}

// Authenticate is echo middleware rejecting requests without a valid token
// with 401 and storing the caller's principal in the request context.
func (s *SecurityHandler) Authenticate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		raw, ok := bearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
		if !ok {
			return errUnauthorized
		}
		userID, err := s.subject(raw)
		if err != nil {
			zctx.From(ctx).Debug("Rejected token", zap.Error(err))
			return errUnauthorized
		}
		u, err := s.users.GetUser(ctx, userID)
		if err != nil {
			if errors.Is(err, auth.ErrUserNotFound) {
				return errUnauthorized
			}
			return errors.Wrap(err, "load user")
		}

		ctx = auth.WithPrincipal(ctx, auth.PrincipalOf(u))
		ctx = zctx.With(ctx, zap.Int64("user_id", u.ID))
		c.SetRequest(c.Request().WithContext(ctx))
		return next(c)
	}
}

func (s *SecurityHandler) subject(raw string) (int64, error) {
	tok, err := s.parser.Parse(raw, func(*jwt.Token) (any, error) {
		return s.secret, nil
	})
	if err != nil {
		return 0, err
	}
	sub, err := tok.Claims.GetSubject()
	if err != nil {
		return 0, err
	}
	id, err := strconv.ParseInt(sub, 10, 64)
	if err != nil {
		return 0, errors.Wrap(err, "parse subject")
	}
	return id, nil
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// principal returns the authenticated caller set by Authenticate.
func principal(c echo.Context) (auth.Principal, error) {
	p, ok := auth.FromContext(c.Request().Context())
	if !ok {
		return auth.Principal{}, errUnauthorized
	}
	return p, nil
}
