package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/davidsalinasvmlyr/CASH-FOR-ENGLISH-BACK/core"
	"github.com/davidsalinasvmlyr/CASH-FOR-ENGLISH-BACK/core/course"
	"github.com/davidsalinasvmlyr/CASH-FOR-ENGLISH-BACK/core/reward"
	"github.com/davidsalinasvmlyr/CASH-FOR-ENGLISH-BACK/core/user"
)

var (
	errAuthenticationRequired = echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
	errInvalidCredentials     = echo.NewHTTPError(http.StatusUnauthorized, "invalid username/email or password")
	errAccountDeactivated     = echo.NewHTTPError(http.StatusUnauthorized, "account deactivated")
	errInvalidToken           = echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
	errRefreshExpired         = echo.NewHTTPError(http.StatusUnauthorized, "refresh window has expired")
	errPermissionDenied       = echo.NewHTTPError(http.StatusForbidden, "permission denied")
)

type errorResponse struct {
	Error  string            `json:"error"`
	Fields []core.FieldError `json:"fields,omitempty"`
}

// newAppHTTPErrorHandler maps domain and validation errors to JSON responses.
// signalShutdown is called whenever a core shutdown error surfaces, so the
// process can stop gracefully instead of serving from corrupted state.
func newAppHTTPErrorHandler(logger core.Logger, signalShutdown func()) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		var (
			code = http.StatusInternalServerError
			resp errorResponse
		)

		switch cause := errors.Cause(err).(type) {
		case *echo.HTTPError:
			code = cause.Code
			resp.Error = http.StatusText(code)
			if msg, ok := cause.Message.(string); ok {
				resp.Error = msg
			}
		case *core.ValidationError:
			code = http.StatusBadRequest
			resp.Error = "invalid input"
			resp.Fields = cause.Fields
		case validator.ValidationErrors:
			code = http.StatusBadRequest
			resp.Error = "invalid input"
			for _, fe := range cause {
				resp.Fields = append(resp.Fields, core.FieldError{
					Field: fe.Field(),
					Error: fe.Translate(core.Translator),
				})
			}
		default:
			switch errors.Cause(err) {
			case user.ErrNotFound, course.ErrNotFound, reward.ErrNotFound:
				code = http.StatusNotFound
				resp.Error = errors.Cause(err).Error()
			case course.ErrAlreadyEnrolled, course.ErrNotEnrolled, course.ErrEnrollmentClosed,
				course.ErrAttemptsExhausted,
				reward.ErrInvalidAmount, reward.ErrInsufficientBalance, reward.ErrOutOfStock,
				reward.ErrRedemptionLimit, reward.ErrRewardUnavailable,
				reward.ErrAlreadyClaimed, reward.ErrNothingToClaim, reward.ErrNotCancellable:
				code = http.StatusBadRequest
				resp.Error = errors.Cause(err).Error()
			default:
				resp.Error = http.StatusText(code)
				logger.Error("api: unhandled error", "method", c.Request().Method,
					"path", c.Path(), "error", err)

				if core.IsShutdown(err) {
					signalShutdown()
				}
			}
		}

		var respErr error
		if c.Request().Method == http.MethodHead {
			respErr = c.NoContent(code)
		} else {
			respErr = c.JSON(code, resp)
		}
		if respErr != nil {
			logger.Error("api: writing error response", "error", respErr)
		}
	}
}
