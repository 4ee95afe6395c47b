package api

import (
	"errors"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/aris-ai/aris/pkg/events"
	"github.com/aris-ai/aris/pkg/store"
)

// getSessionHandler handles GET /api/v1/sessions/:id.
func (s *Server) getSessionHandler(c *echo.Context) error {
	if _, err := s.verifyBearer(c); err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid or missing token")
	}

	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	sess, err := s.sessions.Get(c.Request().Context(), sessionID)
	if err != nil {
		return mapStoreError(err)
	}

	return c.JSON(http.StatusOK, sess)
}

// getSessionPlanHandler handles GET /api/v1/sessions/:id/plan.
// Returns the session's active plan, or the most recent one when every plan
// is terminal, in the same shape plan frames use so dashboards render live
// and fetched state with one component.
func (s *Server) getSessionPlanHandler(c *echo.Context) error {
	if _, err := s.verifyBearer(c); err != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid or missing token")
	}

	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	ctx := c.Request().Context()
	plan, err := s.plans.ActivePlan(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		plan, err = s.plans.LatestPlan(ctx, sessionID)
	}
	if err != nil {
		return mapStoreError(err)
	}

	return c.JSON(http.StatusOK, events.NewPlanSnapshot(plan))
}
