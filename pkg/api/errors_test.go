package api

import (
	"fmt"
	"net/http"
	"testing"

	echo "github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"

	"github.com/k-shibuki/lyra/pkg/store"
)

func TestMapStoreError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		expectCode int
		expectMsg  string
	}{
		{
			name:       "not found maps to 404",
			err:        fmt.Errorf("wrapped: %w", store.ErrNotFound),
			expectCode: http.StatusNotFound,
			expectMsg:  "resource not found",
		},
		{
			name:       "already exists maps to 409",
			err:        fmt.Errorf("wrapped: %w", store.ErrAlreadyExists),
			expectCode: http.StatusConflict,
			expectMsg:  "resource already exists",
		},
		{
			name:       "not cancellable maps to 409",
			err:        store.ErrNotCancellable,
			expectCode: http.StatusConflict,
			expectMsg:  "not in a cancellable state",
		},
		{
			name:       "no job available maps to 409",
			err:        store.ErrNoJobAvailable,
			expectCode: http.StatusConflict,
			expectMsg:  "no claimable job",
		},
		{
			name:       "stale claim maps to 409",
			err:        store.ErrStaleClaim,
			expectCode: http.StatusConflict,
			expectMsg:  "claim token mismatch",
		},
		{
			name:       "unknown error maps to 500",
			err:        fmt.Errorf("something unexpected happened"),
			expectCode: http.StatusInternalServerError,
			expectMsg:  "internal server error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			he := mapStoreError(tt.err)
			assert.IsType(t, &echo.HTTPError{}, he)
			assert.Equal(t, tt.expectCode, he.Code)
			assert.Contains(t, he.Error(), tt.expectMsg)
		})
	}
}
