// internal/handler/helpers.go
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/Gazprom100/TAPDEL-sub000/internal/domain"
	"github.com/Gazprom100/TAPDEL-sub000/pkg/response"

	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 16

// decodeJSON reads a single JSON object, rejecting unknown fields
func decodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
	}
	return nil
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// pagination reads page / page_size query params (1-based pages, default 20 per page).
// page_size is capped before the offset is derived so pages never overlap.
func pagination(r *http.Request) (limit, offset int) {
	limit = defaultPageSize
	if v, err := strconv.Atoi(r.URL.Query().Get("page_size")); err == nil && v > 0 {
		limit = min(v, maxPageSize)
	}
	page := 1
	if v, err := strconv.Atoi(r.URL.Query().Get("page")); err == nil && v > 0 {
		page = v
	}
	return limit, (page - 1) * limit
}

// statusFor maps domain errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidRequest),
		errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrInvalidAddress):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrDuplicateUniqueAmount),
		errors.Is(err, domain.ErrNotCancellable),
		errors.Is(err, domain.ErrStaleState):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrChainUnavailable),
		errors.Is(err, domain.ErrSignerHalted):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err in the response envelope. Internal failures are
// logged and hidden from the caller.
func writeError(w http.ResponseWriter, logger *zap.Logger, msg string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.Error(msg, zap.Error(err))
		response.Error(w, status, msg)
		return
	}
	response.Error(w, status, err.Error())
}
