package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/abdusco/shortly/internal"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

const identityKey = "identity"

var ErrUnauthorized = errors.New("unauthorized")

type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// NewCredentials parses "username:password".
func NewCredentials(s string) (Credentials, error) {
	username, password, ok := strings.Cut(s, ":")
	if !ok || username == "" || password == "" {
		return Credentials{}, fmt.Errorf("invalid credentials format")
	}
	return Credentials{Username: username, Password: password}, nil
}

func (c Credentials) validate() error {
	verr := internal.NewValidationError()
	switch n := len(c.Username); {
	case n == 0:
		verr.Add("username", "is required")
	case n < 3 || n > 32:
		verr.Add("username", "must be between 3 and 32 characters")
	}
	switch n := len(c.Password); {
	case n == 0:
		verr.Add("password", "is required")
	case n < 8:
		verr.Add("password", "must be at least 8 characters")
	case n > 72:
		verr.Add("password", "must be at most 72 characters")
	}
	if verr.Empty() {
		return nil
	}
	return verr
}

// Identity is the authenticated user attached to a request.
type Identity struct {
	ID       int64
	Username string
}

type UserStore interface {
	Create(ctx context.Context, username, passwordHash string) (*internal.User, error)
	GetByUsername(ctx context.Context, username string) (*internal.User, error)
	GetByID(ctx context.Context, id int64) (*internal.User, error)
}

type Authenticator struct {
	users     UserStore
	jwtSecret string
	now       func() time.Time
}

func NewAuthenticator(users UserStore, jwtSecret string) *Authenticator {
	return &Authenticator{users: users, jwtSecret: jwtSecret, now: time.Now}
}

// Register creates an account and returns a session cookie for it.
func (a *Authenticator) Register(ctx context.Context, creds Credentials) (*internal.User, *http.Cookie, error) {
	if err := creds.validate(); err != nil {
		return nil, nil, err
	}

	user, err := a.createUser(ctx, creds)
	if err != nil {
		return nil, nil, err
	}

	cookie, err := a.generateCookie(user)
	if err != nil {
		return nil, nil, err
	}
	return user, cookie, nil
}

func (a *Authenticator) Authenticate(ctx context.Context, creds Credentials) (*internal.User, *http.Cookie, error) {
	user, err := a.users.GetByUsername(ctx, creds.Username)
	if err != nil {
		if errors.Is(err, internal.ErrUserNotFound) {
			return nil, nil, ErrUnauthorized
		}
		return nil, nil, err
	}
	if !CheckPassword(user.PasswordHash, creds.Password) {
		return nil, nil, ErrUnauthorized
	}

	cookie, err := a.generateCookie(user)
	if err != nil {
		return nil, nil, err
	}
	return user, cookie, nil
}

// EnsureUser creates the account if it does not exist yet. Used to seed the
// admin user from configuration.
func (a *Authenticator) EnsureUser(ctx context.Context, creds Credentials) (*internal.User, error) {
	user, err := a.users.GetByUsername(ctx, creds.Username)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, internal.ErrUserNotFound) {
		return nil, err
	}

	user, err = a.createUser(ctx, creds)
	if errors.Is(err, internal.ErrUserExists) {
		return a.users.GetByUsername(ctx, creds.Username)
	}
	if err != nil {
		return nil, err
	}
	log.Info().Str("username", user.Username).Msg("seeded user")
	return user, nil
}

func (a *Authenticator) createUser(ctx context.Context, creds Credentials) (*internal.User, error) {
	hash, err := HashPassword(creds.Password)
	if err != nil {
		return nil, err
	}
	return a.users.Create(ctx, creds.Username, hash)
}

func (a *Authenticator) generateCookie(user *internal.User) (*http.Cookie, error) {
	token, err := SignToken(user.ID, user.Username, a.jwtSecret, a.now())
	if err != nil {
		return nil, err
	}

	return &http.Cookie{
		Name:     cookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(tokenExpiry.Seconds()),
	}, nil
}

func NewAuthMiddleware(auther *Authenticator) echo.MiddlewareFunc {
	type authStrategy func(c echo.Context) (*Identity, error)
	strategies := []authStrategy{
		auther.authWithCookie,
		auther.authWithBasicAuth,
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			for _, strategy := range strategies {
				id, err := strategy(c)
				if err != nil {
					log.Debug().Err(err).Msg("auth strategy failed")
					continue
				}
				if id != nil {
					c.Set(identityKey, id)
					return next(c)
				}
			}
			return echo.ErrUnauthorized
		}
	}
}

// CurrentUser returns the identity the auth middleware attached.
func CurrentUser(c echo.Context) (*Identity, bool) {
	id, ok := c.Get(identityKey).(*Identity)
	return id, ok && id != nil
}

func (a *Authenticator) authWithCookie(c echo.Context) (*Identity, error) {
	cookie, err := c.Cookie(cookieName)
	if err != nil || cookie == nil || cookie.Value == "" {
		return nil, nil
	}

	claims, err := ValidateToken(cookie.Value, a.jwtSecret)
	if err != nil {
		return nil, err
	}
	userID, err := claims.UserID()
	if err != nil {
		return nil, err
	}

	// the account may have been removed since the token was issued
	user, err := a.users.GetByID(c.Request().Context(), userID)
	if err != nil {
		return nil, err
	}

	refreshed, err := a.generateCookie(user)
	if err != nil {
		return nil, fmt.Errorf("failed to generate cookie: %w", err)
	}
	refreshed.Secure = c.IsTLS()
	c.SetCookie(refreshed)

	return &Identity{ID: user.ID, Username: user.Username}, nil
}

func (a *Authenticator) authWithBasicAuth(c echo.Context) (*Identity, error) {
	username, password, ok := c.Request().BasicAuth()
	if !ok {
		return nil, nil
	}

	user, cookie, err := a.Authenticate(c.Request().Context(), Credentials{Username: username, Password: password})
	if err != nil {
		return nil, err
	}
	cookie.Secure = c.IsTLS()
	c.SetCookie(cookie)

	return &Identity{ID: user.ID, Username: user.Username}, nil
}

func ExpireCookie() *http.Cookie {
	return &http.Cookie{
		Name:     cookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
	}
}
