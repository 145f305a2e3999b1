// Package apierr defines the small closed taxonomy of error kinds that
// cross the adapter/manager/API boundary. Callers use errors.Is against
// these sentinels; the API layer maps them to HTTP status codes.
package apierr

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrUnsupported   = errors.New("unsupported")
	ErrAuthFailed    = errors.New("auth failed")
	ErrBackend       = errors.New("backend error")
	ErrStore         = errors.New("store error")
	ErrFS            = errors.New("filesystem error")
	ErrConfig        = errors.New("config error")
	ErrTimeout       = errors.New("timeout")
	ErrInternal      = errors.New("internal error")
)

// HTTPStatus maps an error kind to the HTTP status the API layer should
// respond with. Unmapped/unknown errors default to 500.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return 200
	case errors.Is(err, ErrNotFound):
		return 404
	case errors.Is(err, ErrAlreadyExists):
		return 409
	case errors.Is(err, ErrUnsupported), errors.Is(err, ErrConfig):
		return 400
	case errors.Is(err, ErrAuthFailed):
		return 401
	default:
		return 500
	}
}
