package http

import (
	"net/http"
	"strconv"
	"strings"

	echo "github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/jmehdipour/asset-lifecycle/internal/http/middleware"
	"github.com/jmehdipour/asset-lifecycle/internal/repository"
	"github.com/jmehdipour/asset-lifecycle/internal/service/checkout"
)

// pageParams reads limit (1..1000, default 50) and offset (>= 0).
func pageParams(c echo.Context) (limit, offset int) {
	limit = 50
	if v := c.QueryParam("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}
	if v := c.QueryParam("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}

func listFailedHandler(outbox repository.OutboxRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		limit, _ := pageParams(c)

		rows, err := outbox.ListFailed(c.Request().Context(), limit)
		if err != nil {
			middleware.Logger(c).Error("list failed outbox rows", zap.Error(err))

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}

		return c.JSON(http.StatusOK, map[string]any{
			"limit":   limit,
			"count":   len(rows),
			"results": rows,
		})
	}
}

func requeueHandler(outbox repository.OutboxRepository, notifier checkout.Notifier) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := strings.TrimSpace(c.Param("eventId"))
		if id == "" {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "missing eventId"})
		}

		ok, err := outbox.Requeue(c.Request().Context(), id)
		if err != nil {
			middleware.Logger(c).Error("requeue failed", zap.String("event_id", id), zap.Error(err))

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}
		if !ok {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "no exhausted outbox row with this eventId"})
		}

		if notifier != nil {
			notifier.Notify(c.Request().Context())
		}

		return c.JSON(http.StatusOK, map[string]string{"eventId": id, "status": "requeued"})
	}
}

func listRejectionsHandler(rejections repository.RejectionsRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		limit, offset := pageParams(c)

		var assetID int64
		if v := c.QueryParam("assetId"); v != "" {
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil || n <= 0 {
				return c.JSON(http.StatusBadRequest, map[string]string{"error": "assetId must be a positive integer"})
			}
			assetID = n
		}

		rows, err := rejections.List(c.Request().Context(), assetID, limit, offset)
		if err != nil {
			middleware.Logger(c).Error("list rejections", zap.Error(err))

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}

		return c.JSON(http.StatusOK, map[string]any{
			"limit":   limit,
			"offset":  offset,
			"count":   len(rows),
			"results": rows,
		})
	}
}
