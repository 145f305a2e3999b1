package apierr

import (
	"fmt"
	"testing"
)

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, 200},
		{ErrNotFound, 404},
		{fmt.Errorf("get host: %w", ErrNotFound), 404},
		{ErrAlreadyExists, 409},
		{ErrUnsupported, 400},
		{ErrConfig, 400},
		{ErrAuthFailed, 401},
		{ErrBackend, 500},
		{ErrInternal, 500},
		{fmt.Errorf("unwrapped"), 500},
	}

	for _, c := range cases {
		got := HTTPStatus(c.err)
		if got != c.want {
			t.Errorf("HTTPStatus(%v) = %d, want %d", c.err, got, c.want)
		}
	}
}
