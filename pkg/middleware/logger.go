package middleware

import (
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	appctx "github.com/fartrucking/far-warehousing/pkg/context"
)

// Logger writes one structured line per request.
func Logger(logger ectologger.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) (err error) {
			req := c.Request()
			res := c.Response()
			start := time.Now()
			if err = next(c); err != nil {
				c.Error(err)
			}

			ctx := c.Request().Context()
			logger.WithContext(ctx).WithFields(map[string]any{
				"request_id":    appctx.GetRequestID(ctx),
				"caller":        appctx.GetCaller(ctx),
				"method":        req.Method,
				"uri":           req.RequestURI,
				"status":        res.Status,
				"route":         c.Path(),
				"path":          appctx.GetRoute(ctx),
				"remote_ip":     appctx.GetRemoteIP(ctx),
				"user_agent":    req.UserAgent(),
				"response_time": time.Since(start).String(),
				"response_size": res.Size,
			}).Info("Request")

			return nil
		}
	}
}
