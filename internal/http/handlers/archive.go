package handlers

import (
	"github.com/valyala/fasthttp"

	"pageflux/internal/db"
)

// ArchiveRange serves the daily aggregates between ?from= and ?to=
// (inclusive, "2006-01-02", either side may be omitted).
func ArchiveRange(store *db.Store) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		from := string(ctx.QueryArgs().Peek("from"))
		to := string(ctx.QueryArgs().Peek("to"))

		days, err := store.ArchivesBetween(ctx, from, to)
		if err != nil {
			errResponse(ctx, fasthttp.StatusInternalServerError, "failed to query archives")
			return
		}
		jsonResponse(ctx, map[string]any{"days": days, "count": len(days)})
	}
}

// ViewCount serves the durable view counter for ?path=, 0 when the path
// has never been synced.
func ViewCount(store *db.Store) fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		path := string(ctx.QueryArgs().Peek("path"))
		if path == "" {
			errResponse(ctx, fasthttp.StatusBadRequest, "path query parameter is required")
			return
		}

		vc, err := store.ViewCounterByPath(ctx, path)
		if err != nil {
			errResponse(ctx, fasthttp.StatusInternalServerError, "failed to query view counter")
			return
		}
		if vc == nil {
			jsonResponse(ctx, map[string]any{"path": path, "views": 0})
			return
		}
		jsonResponse(ctx, map[string]any{"path": vc.Path, "views": vc.Views, "postId": vc.PostID})
	}
}
