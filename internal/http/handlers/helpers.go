package handlers

import (
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
	"github.com/valyala/fasthttp"
)

func jsonResponse(ctx *fasthttp.RequestCtx, data any) {
	ctx.SetContentType("application/json")
	body, _ := json.Marshal(data)
	ctx.SetBody(body)
}

func errResponse(ctx *fasthttp.RequestCtx, code int, msg string) {
	ctx.SetStatusCode(code)
	ctx.SetBodyString(msg)
}

// RequestLogger returns fasthttp middleware that logs method, path, status, duration.
func RequestLogger(log zerolog.Logger, next fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		start := time.Now()
		next(ctx)
		log.Info().
			Bytes("method", ctx.Method()).
			Bytes("path", ctx.Path()).
			Int("status", ctx.Response.StatusCode()).
			Dur("elapsed", time.Since(start)).
			Str("ip", ctx.RemoteIP().String()).
			Msg("request")
	}
}
