package api

import (
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/kimhsiao/pagesync/backend/internal/logging"
)

// RequestLogger logs every handled request after it completes.
func RequestLogger() func(huma.Context, func(huma.Context)) {
	return func(ctx huma.Context, next func(huma.Context)) {
		start := time.Now()
		method := ctx.Method()
		path := ctx.URL().Path
		remoteAddr := ctx.RemoteAddr()

		next(ctx)

		logging.Info("HTTP request",
			map[string]interface{}{
				"method":      method,
				"path":        path,
				"status":      ctx.Status(),
				"duration_ms": time.Since(start).Milliseconds(),
				"remote_addr": remoteAddr,
			})
	}
}
