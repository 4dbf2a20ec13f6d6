package handlers

import (
	"encoding/json"
	"time"

	"github.com/valyala/fasthttp"

	"pageflux/internal/analytics"
	"pageflux/internal/queue"
)

// Track is the producer side: the site posts one visit per page load.
// The event is enqueued raw for the next flush and the fast view
// counter for its path is bumped immediately.
func Track(q *queue.Queue) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		var ev analytics.QueuedEvent
		if err := json.Unmarshal(ctx.PostBody(), &ev); err != nil {
			errResponse(ctx, fasthttp.StatusBadRequest, "invalid JSON body")
			return
		}
		if ev.Path == "" {
			errResponse(ctx, fasthttp.StatusBadRequest, "path is required")
			return
		}
		if ev.VisitorID == "" {
			errResponse(ctx, fasthttp.StatusBadRequest, "visitorId is required")
			return
		}
		if ev.IPAddress == "" {
			ev.IPAddress = ctx.RemoteIP().String()
		}
		if ev.Timestamp == nil {
			ev.Timestamp = time.Now().UnixMilli()
		}

		payload, err := json.Marshal(ev)
		if err != nil {
			errResponse(ctx, fasthttp.StatusBadRequest, "unencodable event")
			return
		}
		if err := q.Push(ctx, payload); err != nil {
			errResponse(ctx, fasthttp.StatusInternalServerError, "failed to enqueue event")
			return
		}
		if err := q.IncrCounter(ctx, ev.Path); err != nil {
			errResponse(ctx, fasthttp.StatusInternalServerError, "failed to bump view counter")
			return
		}

		ctx.SetStatusCode(fasthttp.StatusAccepted)
		ctx.SetContentType("application/json")
		ctx.SetBodyString(`{"status":"accepted"}`)
	}
}
