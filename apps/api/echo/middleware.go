package echoapi

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
)

func adminMiddleware(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			claims, err := getContextClaims(ctx)
			if err != nil {
				return errors.Wrap(err, "getting context claims")
			}
			if claims.IsAdmin && contextHasAnyRole(ctx, roles) {
				return next(ctx)
			}
			return errHttpForbidden
		}
	}
}

// callbackTokenParam authorizes hosted checkout callbacks without a user session.
const callbackTokenParam = "token"

// jwtOrCallbackToken lets requests carrying a callback token through without a JWT.
func jwtOrCallbackToken(conf middleware.JWTConfig) echo.MiddlewareFunc {
	conf.Skipper = func(ctx echo.Context) bool {
		return ctx.QueryParam(callbackTokenParam) != ""
	}
	return middleware.JWTWithConfig(conf)
}
