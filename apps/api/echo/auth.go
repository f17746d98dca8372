package echoapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/davidsalinasvmlyr/CASH-FOR-ENGLISH-BACK/core"
	"github.com/davidsalinasvmlyr/CASH-FOR-ENGLISH-BACK/core/user"
)

// claimsContextKey is where the JWT middleware stores the parsed token.
const claimsContextKey = "user"

type Claims struct {
	jwt.StandardClaims
	// OrigIssuedAt survives refreshes, bounding the total lifetime of a
	// token chain.
	OrigIssuedAt int64    `json:"orig_iat"`
	Username     string   `json:"username"`
	Roles        []string `json:"roles"`
}

func (c Claims) isAdmin() bool   { return roleStartsWith(c.Roles, user.RoleAdmin) }
func (c Claims) isTeacher() bool { return roleStartsWith(c.Roles, user.RoleTeacher) }

func roleStartsWith(roles []string, prefix string) bool {
	for _, role := range roles {
		if strings.HasPrefix(role, prefix) {
			return true
		}
	}
	return false
}

// GenerateToken returns a signed JWT for the given user.
func GenerateToken(usr user.User) (string, error) {
	now := time.Now()
	return generateTokenAt(usr, now, now)
}

func generateTokenAt(usr user.User, now, origIat time.Time) (string, error) {
	claims := Claims{
		StandardClaims: jwt.StandardClaims{
			Subject:   usr.ID,
			IssuedAt:  now.Unix(),
			ExpiresAt: now.Add(core.Conf.Server.JWTExpirationDelta).Unix(),
		},
		OrigIssuedAt: origIat.Unix(),
		Username:     usr.Username,
		Roles:        usr.Roles,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(core.Conf.SecretKey))
}

func jwtMiddleware(svc user.ServiceInterface) echo.MiddlewareFunc {
	jwtMW := middleware.JWTWithConfig(middleware.JWTConfig{
		Claims:     &Claims{},
		SigningKey: []byte(core.Conf.SecretKey),
		ContextKey: claimsContextKey,
	})
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return jwtMW(rejectBlacklisted(svc)(next))
	}
}

// rejectBlacklisted turns away tokens invalidated by logout.
func rejectBlacklisted(svc user.ServiceInterface) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token, ok := c.Get(claimsContextKey).(*jwt.Token)
			if !ok {
				return errAuthenticationRequired
			}
			blacklisted, err := svc.IsTokenBlacklisted(c.Request().Context(), tokenSignature(token.Raw))
			if err != nil {
				return err
			}
			if blacklisted {
				return errAuthenticationRequired
			}
			return next(c)
		}
	}
}

func tokenSignature(raw string) string {
	if i := strings.LastIndex(raw, "."); i >= 0 {
		return raw[i+1:]
	}
	return raw
}

func getContextClaims(c echo.Context) (Claims, error) {
	token, ok := c.Get(claimsContextKey).(*jwt.Token)
	if !ok {
		return Claims{}, errAuthenticationRequired
	}
	claims, ok := token.Claims.(*Claims)
	if !ok {
		return Claims{}, errAuthenticationRequired
	}
	return *claims, nil
}

type authAPI struct {
	svc user.ServiceInterface
}

func registerAuthAPI(g *echo.Group, jwt echo.MiddlewareFunc, svc user.ServiceInterface) {
	api := authAPI{svc: svc}

	ag := g.Group("/auth")
	ag.POST("/register", api.register)
	ag.POST("/login", api.login)
	ag.POST("/token-refresh", api.refreshToken)
	ag.POST("/password-reset", api.requestPasswordReset)
	ag.POST("/password-reset-confirm", api.resetPassword)

	ag.POST("/logout", api.logout, jwt)
	ag.GET("/me", api.me, jwt)
}

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type loginResponse struct {
	Token string    `json:"token"`
	User  user.User `json:"user"`
}

// register creates a student account.
func (api *authAPI) register(c echo.Context) error {
	var nu user.NewUser
	if err := c.Bind(&nu); err != nil {
		return err
	}
	nu.Roles = []string{user.RoleStudent} // self-registration is student-only
	if err := nu.Validate(c.Request().Context(), api.svc); err != nil {
		return err
	}

	usr, err := api.svc.Create(c.Request().Context(), nu)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, usr)
}

func (api *authAPI) login(c echo.Context) error {
	var req loginRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if err := core.Validate.Struct(req); err != nil {
		return err
	}

	ctx := c.Request().Context()
	usr, err := api.svc.GetByUsernameOrEmail(ctx, req.Username)
	if err != nil || usr.CheckPassword(req.Password) != nil {
		return errInvalidCredentials
	}
	if !usr.Active() {
		return errAccountDeactivated
	}

	token, err := GenerateToken(usr)
	if err != nil {
		return err
	}
	if usr, err = api.svc.SetLastLogin(ctx, usr); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, loginResponse{Token: token, User: usr})
}

type refreshRequest struct {
	Token string `json:"token" validate:"required"`
}

func (api *authAPI) refreshToken(c echo.Context) error {
	var req refreshRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if err := core.Validate.Struct(req); err != nil {
		return err
	}

	claims := new(Claims)
	_, err := jwt.ParseWithClaims(req.Token, claims, func(t *jwt.Token) (interface{}, error) {
		return []byte(core.Conf.SecretKey), nil
	})
	if err != nil {
		// expired tokens may still be refreshed within the refresh window
		vErr, ok := err.(*jwt.ValidationError)
		if !ok || vErr.Errors != jwt.ValidationErrorExpired {
			return errInvalidToken
		}
	}

	origIat := time.Unix(claims.OrigIssuedAt, 0)
	if time.Now().After(origIat.Add(core.Conf.Server.JWTRefreshExpirationDelta)) {
		return errRefreshExpired
	}

	ctx := c.Request().Context()
	blacklisted, err := api.svc.IsTokenBlacklisted(ctx, tokenSignature(req.Token))
	if err != nil {
		return err
	}
	if blacklisted {
		return errInvalidToken
	}

	usr, err := api.svc.GetByID(ctx, claims.Subject)
	if err != nil || !usr.Active() {
		return errInvalidToken
	}

	token, err := generateTokenAt(usr, time.Now(), origIat)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, loginResponse{Token: token, User: usr})
}

// logout blacklists the presented token until its natural expiry.
func (api *authAPI) logout(c echo.Context) error {
	token, ok := c.Get(claimsContextKey).(*jwt.Token)
	if !ok {
		return errAuthenticationRequired
	}
	claims, err := getContextClaims(c)
	if err != nil {
		return err
	}

	expiresAt := time.Unix(claims.ExpiresAt, 0)
	if err = api.svc.BlacklistToken(c.Request().Context(), tokenSignature(token.Raw), expiresAt); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (api *authAPI) me(c echo.Context) error {
	claims, err := getContextClaims(c)
	if err != nil {
		return err
	}
	usr, err := api.svc.GetByID(c.Request().Context(), claims.Subject)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, usr)
}

type passwordResetRequest struct {
	Email string `json:"email" validate:"required,email"`
}

func (api *authAPI) requestPasswordReset(c echo.Context) error {
	var req passwordResetRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	if err := core.Validate.Struct(req); err != nil {
		return err
	}

	// do not leak account existence
	if err := api.svc.RequestPasswordReset(c.Request().Context(), req.Email); err != nil && errors.Cause(err) != user.ErrNotFound {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{
		"detail": "If the email exists, a password reset link has been sent.",
	})
}

func (api *authAPI) resetPassword(c echo.Context) error {
	var rp user.ResetUserPassword
	if err := c.Bind(&rp); err != nil {
		return err
	}
	if err := rp.Validate(); err != nil {
		return err
	}
	if err := api.svc.ResetPassword(c.Request().Context(), rp); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"detail": "Password has been reset."})
}
