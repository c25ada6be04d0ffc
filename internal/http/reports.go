package http

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	echo "github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/jmehdipour/asset-lifecycle/internal/http/middleware"
	"github.com/jmehdipour/asset-lifecycle/internal/model"
	"github.com/jmehdipour/asset-lifecycle/internal/repository"
)

func listEventsHandler(chRepo repository.CHEventsRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		if chRepo == nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "event log disabled"})
		}

		limit, offset := pageParams(c)
		f := repository.EventLogFilter{Limit: limit, Offset: offset}

		if v := c.QueryParam("assetId"); v != "" {
			if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
				f.AssetID = n
			}
		}

		if raw := strings.TrimSpace(c.QueryParam("outcome")); raw != "" {
			tmp := model.Outcome(raw)
			if tmp.Valid() {
				f.Outcome = tmp
			}
		}

		if raw := c.QueryParam("since"); raw != "" {
			if ts, err := time.Parse(time.RFC3339, raw); err == nil {
				f.Since = ts.UTC()
			}
		}

		recs, err := chRepo.List(c.Request().Context(), f)
		if err != nil {
			middleware.Logger(c).Error("clickhouse list failed", zap.Error(err))

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
		}

		return c.JSON(http.StatusOK, map[string]any{
			"limit":   limit,
			"offset":  offset,
			"count":   len(recs),
			"results": recs,
		})
	}
}
