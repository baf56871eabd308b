package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/k-shibuki/lyra/pkg/store"
)

// mapStoreError maps store-layer sentinel errors to HTTP error responses.
func mapStoreError(err error) *echo.HTTPError {
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "resource not found")
	}
	if errors.Is(err, store.ErrAlreadyExists) {
		return echo.NewHTTPError(http.StatusConflict, "resource already exists")
	}
	if errors.Is(err, store.ErrNotCancellable) {
		return echo.NewHTTPError(http.StatusConflict, "not in a cancellable state")
	}
	if errors.Is(err, store.ErrNoJobAvailable) {
		return echo.NewHTTPError(http.StatusConflict, "no claimable job")
	}
	if errors.Is(err, store.ErrStaleClaim) {
		return echo.NewHTTPError(http.StatusConflict, "claim token mismatch")
	}

	slog.Error("unexpected store error", "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}
