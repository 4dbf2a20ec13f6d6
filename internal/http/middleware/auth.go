package middleware

import (
	"bytes"
	"crypto/subtle"
	"strings"

	"github.com/valyala/fasthttp"
)

// BearerAuth validates a static bearer token in constant time. With an
// empty configured token the guarded endpoint is disabled outright.
func BearerAuth(token string) func(fasthttp.RequestHandler) fasthttp.RequestHandler {
	return func(next fasthttp.RequestHandler) fasthttp.RequestHandler {
		return func(ctx *fasthttp.RequestCtx) {
			if token == "" {
				ctx.SetStatusCode(fasthttp.StatusNotFound)
				ctx.SetBodyString("endpoint disabled")
				return
			}

			auth := ctx.Request.Header.Peek("Authorization")
			if len(auth) == 0 {
				ctx.SetStatusCode(fasthttp.StatusUnauthorized)
				ctx.SetBodyString("missing Authorization header")
				return
			}

			const prefix = "Bearer "
			if !bytes.HasPrefix(auth, []byte(prefix)) {
				ctx.SetStatusCode(fasthttp.StatusUnauthorized)
				ctx.SetBodyString("invalid Authorization header")
				return
			}

			got := strings.TrimSpace(string(auth[len(prefix):]))
			if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
				ctx.SetStatusCode(fasthttp.StatusUnauthorized)
				ctx.SetBodyString("invalid token")
				return
			}

			next(ctx)
		}
	}
}
