package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/jmehdipour/asset-lifecycle/internal/http/middleware"
	"github.com/jmehdipour/asset-lifecycle/internal/metrics"
	"github.com/jmehdipour/asset-lifecycle/internal/model"
	"github.com/jmehdipour/asset-lifecycle/internal/service/checkout"
)

type checkoutService interface {
	Checkout(ctx context.Context, assetID, employeeID int64) (model.Envelope, error)
}

type checkoutReq struct {
	AssetID    *int64 `json:"assetId"`
	EmployeeID *int64 `json:"employeeId"`
}

func checkoutHandler(svc checkoutService) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req checkoutReq
		if err := c.Bind(&req); err != nil {
			metrics.IntakeTotal.WithLabelValues("invalid").Inc()
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "body must be {\"assetId\": int, \"employeeId\": int}"})
		}

		var assetID, employeeID int64
		if req.AssetID != nil {
			assetID = *req.AssetID
		}
		if req.EmployeeID != nil {
			employeeID = *req.EmployeeID
		}

		// envelope + outbox row in one TX; the broker is never on this path
		env, err := svc.Checkout(c.Request().Context(), assetID, employeeID)
		if err != nil {
			switch {
			case errors.Is(err, model.ErrInvalidEventData):
				metrics.IntakeTotal.WithLabelValues("invalid").Inc()
				return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
			case errors.Is(err, checkout.ErrDirectoryUnavailable):
				metrics.IntakeTotal.WithLabelValues("unavailable").Inc()
				middleware.Logger(c).Warn("employee lookup failed", zap.Error(err))
				return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "employee directory unavailable"})
			}

			metrics.IntakeTotal.WithLabelValues("error").Inc()
			middleware.Logger(c).Error("checkout enqueue failed",
				zap.Int64("asset_id", assetID),
				zap.Int64("employee_id", employeeID),
				zap.Error(err),
			)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "db error"})
		}

		metrics.IntakeTotal.WithLabelValues("accepted").Inc()
		return c.JSON(http.StatusAccepted, map[string]any{
			"eventId": env.EventID,
			"status":  "accepted",
		})
	}
}
