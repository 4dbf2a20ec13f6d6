package handlers

import (
	"context"

	"github.com/valyala/fasthttp"

	"pageflux/internal/config"
	"pageflux/internal/flusher"
)

// TriggerFlush runs one flush pipeline synchronously and returns its
// result. Meant for the external scheduler (cron/serverless trigger);
// overlapping triggers are absorbed by the flush lease, reported as
// skipped.
func TriggerFlush(f *flusher.Flusher, cfg *config.Config) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		runCtx, cancel := context.WithTimeout(ctx, cfg.FlushLockTTL)
		defer cancel()

		res, err := f.Flush(runCtx)
		if err != nil {
			ctx.SetStatusCode(fasthttp.StatusInternalServerError)
			jsonResponse(ctx, res)
			return
		}
		jsonResponse(ctx, res)
	}
}
