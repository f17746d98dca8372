package echoapi

import (
	"github.com/labstack/echo/v4"

	"github.com/davidsalinasvmlyr/CASH-FOR-ENGLISH-BACK/core/user"
)

// rolePrefixMiddleware allows only users holding a role with one of the
// given prefixes.
func rolePrefixMiddleware(prefixes ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			claims, err := getContextClaims(c)
			if err != nil {
				return err
			}
			for _, prefix := range prefixes {
				if roleStartsWith(claims.Roles, prefix) {
					return next(c)
				}
			}
			return errPermissionDenied
		}
	}
}

func adminMiddleware() echo.MiddlewareFunc {
	return rolePrefixMiddleware(user.RoleAdmin)
}

func teacherMiddleware() echo.MiddlewareFunc {
	return rolePrefixMiddleware(user.RoleTeacher, user.RoleAdmin)
}

func studentMiddleware() echo.MiddlewareFunc {
	return rolePrefixMiddleware(user.RoleStudent)
}
