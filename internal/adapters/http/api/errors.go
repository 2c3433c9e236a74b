package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/okian/goalboard/internal/adapters/http/client"
	"github.com/okian/goalboard/internal/adapters/repository"
	service "github.com/okian/goalboard/internal/app"
	"github.com/okian/goalboard/internal/domain/model"
)

// Sentinel kinds for API errors.
var (
	ErrBadRequest = errors.New("bad request")
	ErrUpstream   = errors.New("goal service unavailable")
)

// statusFor maps controller errors to a status code and error code. Errors
// that fall through to 502 are wrapped with ErrUpstream.
func statusFor(err error) (int, string, error) {
	var se *client.StatusError
	switch {
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, model.ErrInvalidGoal),
		errors.Is(err, model.ErrInvalidUpdate):
		return http.StatusBadRequest, "bad_request", err
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound, "not_found", err
	case errors.Is(err, service.ErrNotStarted), errors.Is(err, service.ErrStopped):
		return http.StatusServiceUnavailable, "unavailable", err
	case errors.As(err, &se) && se.Code >= 400 && se.Code < 500:
		return se.Code, "upstream_rejected", err
	default:
		if errors.Is(err, ErrUpstream) {
			return http.StatusBadGateway, "upstream_error", err
		}
		return http.StatusBadGateway, "upstream_error", fmt.Errorf("%w: %w", ErrUpstream, err)
	}
}
