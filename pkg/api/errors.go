package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/aris-ai/aris/pkg/store"
)

// mapStoreError maps store-layer errors to HTTP error responses.
func mapStoreError(err error) *echo.HTTPError {
	var validErr *store.ValidationError
	if errors.As(err, &validErr) {
		return echo.NewHTTPError(http.StatusBadRequest, validErr.Error())
	}
	if errors.Is(err, store.ErrInvalidInput) {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "resource not found")
	}
	if errors.Is(err, store.ErrAlreadyExists) {
		return echo.NewHTTPError(http.StatusConflict, "resource already exists")
	}

	var transErr *store.InvalidTransitionError
	if errors.As(err, &transErr) {
		return echo.NewHTTPError(http.StatusConflict, transErr.Error())
	}

	// Unexpected error
	slog.Error("Unexpected store error", "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}
